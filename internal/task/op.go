package task

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// OpType identifies the kind of a logged mutation.
type OpType string

// Oplog entry types. The string values are part of the persisted schema.
const (
	OpUpsertTask OpType = "upsert-task"
	OpDeleteTask OpType = "delete-task"
	OpSetOrder   OpType = "set-order"
)

// Op is a logged local mutation awaiting remote replication. Exactly one of
// Task (upsert), TaskID (delete), or Order (set-order) is meaningful,
// selected by Type.
type Op struct {
	ID          string    `json:"id"`
	Type        OpType    `json:"type"`
	CreatedAt   time.Time `json:"createdAt"`
	Task        *Task     `json:"task,omitempty"`
	TaskID      string    `json:"taskId,omitempty"`
	Order       []string  `json:"order,omitempty"`
	ManualOrder bool      `json:"manualOrder,omitempty"`
}

// NewUpsertOp logs an insert or replacement of t.
func NewUpsertOp(t Task, now time.Time) Op {
	return Op{ID: uuid.NewString(), Type: OpUpsertTask, CreatedAt: now, Task: &t}
}

// NewDeleteOp logs a deletion of the task with the given id.
func NewDeleteOp(taskID string, now time.Time) Op {
	return Op{ID: uuid.NewString(), Type: OpDeleteTask, CreatedAt: now, TaskID: taskID}
}

// NewSetOrderOp logs a replacement of the display order.
func NewSetOrderOp(order []string, manual bool, now time.Time) Op {
	return Op{
		ID:          uuid.NewString(),
		Type:        OpSetOrder,
		CreatedAt:   now,
		Order:       slices.Clone(order),
		ManualOrder: manual,
	}
}

// IsTaskOp reports whether the op writes a task document (as opposed to the
// order document).
func (o *Op) IsTaskOp() bool {
	return o.Type == OpUpsertTask || o.Type == OpDeleteTask
}

// TargetID returns the task id an upsert or delete op refers to.
func (o *Op) TargetID() string {
	switch o.Type {
	case OpUpsertTask:
		if o.Task != nil {
			return o.Task.ID
		}
	case OpDeleteTask:
		return o.TaskID
	}

	return ""
}

// Validate checks that the op is well formed for its type.
func (o *Op) Validate() error {
	if o.ID == "" {
		return errors.New("task: op with empty id")
	}

	switch o.Type {
	case OpUpsertTask:
		if o.Task == nil {
			return fmt.Errorf("task: upsert op %s has no task", o.ID)
		}

		return o.Task.Validate()
	case OpDeleteTask:
		if o.TaskID == "" {
			return fmt.Errorf("task: delete op %s has no task id", o.ID)
		}
	case OpSetOrder:
		// An empty order is valid: it clears the manual arrangement.
	default:
		return fmt.Errorf("task: op %s has unknown type %q", o.ID, o.Type)
	}

	return nil
}

// Clone returns a deep copy of the op.
func (o *Op) Clone() Op {
	c := *o
	if o.Task != nil {
		t := *o.Task
		c.Task = &t
	}

	c.Order = slices.Clone(o.Order)

	return c
}
