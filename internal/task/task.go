// Package task defines the task data model shared by the profile store,
// the sync engine, and the document store client.
package task

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Status is the lifecycle state of a task.
type Status string

// Task statuses. The string values are part of the persisted and remote schema.
const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusOnHold    Status = "on-hold"
)

// ErrInvalidStatus is returned by ParseStatus for unknown status strings.
var ErrInvalidStatus = errors.New("task: invalid status")

// ParseStatus converts a string into a Status. Matching is case-insensitive
// and tolerates surrounding whitespace.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusActive:
		return StatusActive, nil
	case StatusCompleted:
		return StatusCompleted, nil
	case StatusOnHold:
		return StatusOnHold, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusOnHold:
		return true
	default:
		return false
	}
}

// Task is a single to-do item. Identity is ID; every other field is mutable.
type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Deadline  time.Time `json:"deadline"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks the structural invariants of a task.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("task: empty id")
	}

	if !t.Status.Valid() {
		return fmt.Errorf("%w: %q (task %s)", ErrInvalidStatus, t.Status, t.ID)
	}

	if t.CreatedAt.IsZero() {
		return fmt.Errorf("task: missing createdAt (task %s)", t.ID)
	}

	if t.Deadline.IsZero() {
		return fmt.Errorf("task: missing deadline (task %s)", t.ID)
	}

	return nil
}

// Equal reports whether a and b carry the same content. Titles are compared
// after NFC normalization so that composed and decomposed forms of the same
// text do not produce spurious upserts.
func Equal(a, b Task) bool {
	return a.ID == b.ID &&
		normalizeTitle(a.Title) == normalizeTitle(b.Title) &&
		a.Deadline.Equal(b.Deadline) &&
		a.Status == b.Status &&
		a.CreatedAt.Equal(b.CreatedAt)
}

// NormalizeTitle trims and NFC-normalizes a user-entered title.
func NormalizeTitle(title string) string {
	return normalizeTitle(strings.TrimSpace(title))
}

func normalizeTitle(title string) string {
	return norm.NFC.String(title)
}

// Meta is the per-task sync metadata. DeletedAt marks a tombstone.
type Meta struct {
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// Deleted reports whether the metadata carries a tombstone.
func (m Meta) Deleted() bool {
	return m.DeletedAt != nil
}

// Tombstone returns metadata recording a deletion at ts.
func Tombstone(ts time.Time) Meta {
	deleted := ts

	return Meta{UpdatedAt: ts, DeletedAt: &deleted}
}

// SortMode selects the timestamp used for automatic ordering.
type SortMode string

// Sort modes.
const (
	SortByDeadline SortMode = "deadline"
	SortByCreated  SortMode = "created"
)

// Sort orders tasks by the timestamp selected by mode, falling back to
// creation time and then id so the result is deterministic.
func Sort(tasks []Task, mode SortMode) {
	key := func(t Task) time.Time {
		if mode == SortByCreated {
			return t.CreatedAt
		}

		return t.Deadline
	}

	slices.SortStableFunc(tasks, func(a, b Task) int {
		if c := key(a).Compare(key(b)); c != 0 {
			return c
		}

		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})
}
