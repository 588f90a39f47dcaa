// Package events carries change signals from the sync engine to whatever
// presents the task list: an in-process Hub fan-out and a loopback
// WebSocket broadcaster for out-of-process UIs.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Type names an event.
type Type string

// Event types.
const (
	TypeHello          Type = "hello"
	TypeTasksChanged   Type = "tasks_changed"
	TypeSyncError      Type = "sync_error"
	TypeSessionChanged Type = "session_changed"
)

// Event carries no task data; consumers re-read the profile on receipt.
type Event struct {
	Type       Type      `json:"type"`
	ProfileKey string    `json:"profileKey,omitempty"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Notifier receives the engine's signals.
type Notifier interface {
	TasksChanged(profileKey string)
	SyncError(profileKey string, err error)
	SessionChanged(profileKey string)
}

// Nop discards every signal.
type Nop struct{}

func (Nop) TasksChanged(string)     {}
func (Nop) SyncError(string, error) {}
func (Nop) SessionChanged(string)   {}

// Hub fans events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{subs: make(map[int]chan Event), logger: logger, nowFunc: time.Now}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// function unsubscribes and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++

	ch := make(chan Event, buffer)
	h.subs[id] = ch

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()

			delete(h.subs, id)
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.nowFunc().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("event subscriber full, dropping event",
				slog.Int("subscriber", id),
				slog.String("type", string(ev.Type)),
			)
		}
	}
}

// TasksChanged implements Notifier.
func (h *Hub) TasksChanged(profileKey string) {
	h.Publish(Event{Type: TypeTasksChanged, ProfileKey: profileKey})
}

// SyncError implements Notifier.
func (h *Hub) SyncError(profileKey string, err error) {
	h.Publish(Event{Type: TypeSyncError, ProfileKey: profileKey, Message: err.Error()})
}

// SessionChanged implements Notifier.
func (h *Hub) SessionChanged(profileKey string) {
	h.Publish(Event{Type: TypeSessionChanged, ProfileKey: profileKey})
}
