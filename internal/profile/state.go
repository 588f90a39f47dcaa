// Package profile holds the per-profile local replicas of the task list.
// Every profile ("local" or a signed-in uid) owns an isolated State; the
// Store reads and writes one profile at a time so no operation on one
// profile ever touches another.
package profile

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/tonimelisma/tasksync/internal/state"
	"github.com/tonimelisma/tasksync/internal/task"
)

// LocalKey identifies the unauthenticated profile.
const LocalKey = state.LocalProfileKey

// IsLocal reports whether key names the unauthenticated profile, which is
// never synced.
func IsLocal(key string) bool {
	return key == LocalKey
}

// ErrTaskNotFound is returned by mutations that reference an unknown task.
var ErrTaskNotFound = errors.New("profile: task not found")

// State is the local replica of one profile.
type State struct {
	Tasks          []task.Task          `json:"tasks"`
	TaskOrder      []string             `json:"taskOrder"`
	ManualOrder    bool                 `json:"manualOrder"`
	TaskMeta       map[string]task.Meta `json:"taskMeta"`
	OrderUpdatedAt time.Time            `json:"orderUpdatedAt"`
	Oplog          []task.Op            `json:"oplog"`
	SyncCursor     *time.Time           `json:"syncCursor"`
}

// Empty returns the state of a never-used profile.
func Empty() State {
	return State{
		Tasks:          []task.Task{},
		TaskOrder:      []string{},
		TaskMeta:       map[string]task.Meta{},
		OrderUpdatedAt: time.Unix(0, 0).UTC(),
		Oplog:          []task.Op{},
	}
}

// Clone returns a deep copy.
func (s *State) Clone() State {
	c := State{
		Tasks:          slices.Clone(s.Tasks),
		TaskOrder:      slices.Clone(s.TaskOrder),
		ManualOrder:    s.ManualOrder,
		TaskMeta:       make(map[string]task.Meta, len(s.TaskMeta)),
		OrderUpdatedAt: s.OrderUpdatedAt,
		Oplog:          make([]task.Op, len(s.Oplog)),
	}

	for id, m := range s.TaskMeta {
		if m.DeletedAt != nil {
			d := *m.DeletedAt
			m.DeletedAt = &d
		}

		c.TaskMeta[id] = m
	}

	for i := range s.Oplog {
		c.Oplog[i] = s.Oplog[i].Clone()
	}

	if s.SyncCursor != nil {
		cur := *s.SyncCursor
		c.SyncCursor = &cur
	}

	c.normalize()

	return c
}

// normalize replaces nil collections so the persisted JSON always carries
// arrays and objects rather than nulls.
func (s *State) normalize() {
	if s.Tasks == nil {
		s.Tasks = []task.Task{}
	}

	if s.TaskOrder == nil {
		s.TaskOrder = []string{}
	}

	if s.TaskMeta == nil {
		s.TaskMeta = map[string]task.Meta{}
	}

	if s.Oplog == nil {
		s.Oplog = []task.Op{}
	}
}

// Task looks up a task by id.
func (s *State) Task(id string) (task.Task, bool) {
	i := s.indexOf(id)
	if i < 0 {
		return task.Task{}, false
	}

	return s.Tasks[i], true
}

// PutTask inserts t or replaces the task with the same id in place.
func (s *State) PutTask(t task.Task) {
	if i := s.indexOf(t.ID); i >= 0 {
		s.Tasks[i] = t
		return
	}

	s.Tasks = append(s.Tasks, t)
}

// RemoveTask drops the task and its position in the manual order. Metadata
// is kept so tombstones keep winning against older remote versions.
func (s *State) RemoveTask(id string) bool {
	i := s.indexOf(id)
	if i < 0 {
		return false
	}

	s.Tasks = slices.Delete(s.Tasks, i, i+1)
	s.TaskOrder = slices.DeleteFunc(s.TaskOrder, func(o string) bool { return o == id })

	return true
}

func (s *State) indexOf(id string) int {
	return slices.IndexFunc(s.Tasks, func(t task.Task) bool { return t.ID == id })
}

// Cursor returns the pull watermark, the Unix epoch when never pulled.
func (s *State) Cursor() time.Time {
	if s.SyncCursor == nil {
		return time.Unix(0, 0).UTC()
	}

	return *s.SyncCursor
}

// RemoveOps deletes exactly the ops whose ids are listed. Ops appended after
// the ids were captured are left for the next push.
func (s *State) RemoveOps(ids []string) int {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	before := len(s.Oplog)
	s.Oplog = slices.DeleteFunc(s.Oplog, func(op task.Op) bool {
		_, ok := drop[op.ID]
		return ok
	})

	return before - len(s.Oplog)
}

// Ordered returns the tasks in display order: the manual order when one is
// set (tasks missing from it follow, sorted by mode), otherwise sorted by mode.
func (s *State) Ordered(mode task.SortMode) []task.Task {
	out := make([]task.Task, 0, len(s.Tasks))

	if !s.ManualOrder {
		out = append(out, s.Tasks...)
		task.Sort(out, mode)

		return out
	}

	placed := make(map[string]struct{}, len(s.TaskOrder))

	for _, id := range s.TaskOrder {
		if t, ok := s.Task(id); ok {
			if _, dup := placed[id]; !dup {
				out = append(out, t)
				placed[id] = struct{}{}
			}
		}
	}

	var rest []task.Task

	for _, t := range s.Tasks {
		if _, ok := placed[t.ID]; !ok {
			rest = append(rest, t)
		}
	}

	task.Sort(rest, mode)

	return append(out, rest...)
}

// Validate checks the structural invariants of a stored profile.
func (s *State) Validate() error {
	seen := make(map[string]struct{}, len(s.Tasks))

	for i := range s.Tasks {
		t := &s.Tasks[i]
		if err := t.Validate(); err != nil {
			return err
		}

		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("profile: duplicate task id %s", t.ID)
		}

		seen[t.ID] = struct{}{}
	}

	for id, m := range s.TaskMeta {
		if m.DeletedAt != nil && m.DeletedAt.Before(m.UpdatedAt) {
			return fmt.Errorf("profile: task %s deleted before its last update", id)
		}
	}

	ops := make(map[string]struct{}, len(s.Oplog))

	for i := range s.Oplog {
		op := &s.Oplog[i]
		if err := op.Validate(); err != nil {
			return err
		}

		if _, dup := ops[op.ID]; dup {
			return fmt.Errorf("profile: duplicate op id %s", op.ID)
		}

		ops[op.ID] = struct{}{}
	}

	return nil
}
