package profile

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/tasksync/internal/task"
)

// The handlers below are the user-facing mutation surface. They change the
// profile's replica and, for signed-in profiles, append the matching ops to
// the oplog. They never remove ops; only a confirmed push does.

// AddTask creates an active task.
func (s *Store) AddTask(ctx context.Context, key, title string, deadline time.Time) (task.Task, error) {
	title = task.NormalizeTitle(title)
	if title == "" {
		return task.Task{}, fmt.Errorf("profile: empty task title")
	}

	now := s.Now()
	t := task.Task{
		ID:        uuid.NewString(),
		Title:     title,
		Deadline:  deadline.UTC(),
		Status:    task.StatusActive,
		CreatedAt: now,
	}

	if err := t.Validate(); err != nil {
		return task.Task{}, err
	}

	_, err := s.Update(ctx, key, func(st *State) error {
		st.PutTask(t)
		s.appendOp(key, st, task.NewUpsertOp(t, now))

		if st.ManualOrder {
			st.TaskOrder = append(st.TaskOrder, t.ID)
			s.appendOp(key, st, task.NewSetOrderOp(st.TaskOrder, true, now))
		}

		return nil
	})
	if err != nil {
		return task.Task{}, err
	}

	s.logger.Info("task added", slog.String("profile", key), slog.String("task_id", t.ID))

	return t, nil
}

// EditTask applies edit to the task with the given id. An edit that leaves
// the task unchanged logs nothing.
func (s *Store) EditTask(ctx context.Context, key, id string, edit func(t *task.Task)) (task.Task, error) {
	var out task.Task

	_, err := s.Update(ctx, key, func(st *State) error {
		before, ok := st.Task(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}

		after := before
		edit(&after)
		after.ID = before.ID
		after.Title = task.NormalizeTitle(after.Title)

		if err := after.Validate(); err != nil {
			return err
		}

		out = after
		if task.Equal(before, after) {
			return nil
		}

		st.PutTask(after)
		s.appendOp(key, st, task.NewUpsertOp(after, s.Now()))

		return nil
	})
	if err != nil {
		return task.Task{}, err
	}

	return out, nil
}

// SetStatus moves a task to status.
func (s *Store) SetStatus(ctx context.Context, key, id string, status task.Status) (task.Task, error) {
	if !status.Valid() {
		return task.Task{}, fmt.Errorf("%w: %q", task.ErrInvalidStatus, status)
	}

	return s.EditTask(ctx, key, id, func(t *task.Task) { t.Status = status })
}

// RemoveTask deletes a task. Signed-in profiles log a delete op; the
// tombstone is written to metadata when the op is pushed.
func (s *Store) RemoveTask(ctx context.Context, key, id string) error {
	_, err := s.Update(ctx, key, func(st *State) error {
		if !st.RemoveTask(id) {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}

		s.appendOp(key, st, task.NewDeleteOp(id, s.Now()))

		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("task removed", slog.String("profile", key), slog.String("task_id", id))

	return nil
}

// SetOrder stores a manual display order. Every id must name an existing
// task; tasks left out are listed after the ordered ones.
func (s *Store) SetOrder(ctx context.Context, key string, order []string, manual bool) error {
	_, err := s.Update(ctx, key, func(st *State) error {
		seen := make(map[string]struct{}, len(order))

		for _, id := range order {
			if _, ok := st.Task(id); !ok {
				return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
			}

			if _, dup := seen[id]; dup {
				return fmt.Errorf("profile: task %s listed twice in order", id)
			}

			seen[id] = struct{}{}
		}

		if manual == st.ManualOrder && slices.Equal(order, st.TaskOrder) {
			return nil
		}

		st.TaskOrder = slices.Clone(order)
		st.ManualOrder = manual
		s.appendOp(key, st, task.NewSetOrderOp(order, manual, s.Now()))

		return nil
	})

	return err
}

// ResetOrder returns the profile to automatic ordering.
func (s *Store) ResetOrder(ctx context.Context, key string) error {
	return s.SetOrder(ctx, key, nil, false)
}

// ReplaceTasks swaps in a whole new task set, logging the diff against the
// current set as ops.
func (s *Store) ReplaceTasks(ctx context.Context, key string, next []task.Task) (int, error) {
	for i := range next {
		next[i].Title = task.NormalizeTitle(next[i].Title)
		if err := next[i].Validate(); err != nil {
			return 0, err
		}
	}

	var n int

	_, err := s.Update(ctx, key, func(st *State) error {
		ops := BuildOpsFromTaskSet(st.Tasks, next, s.Now())
		n = len(ops)

		st.Tasks = slices.Clone(next)
		st.TaskOrder = slices.DeleteFunc(st.TaskOrder, func(id string) bool {
			_, ok := st.Task(id)
			return !ok
		})

		for _, op := range ops {
			s.appendOp(key, st, op)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return n, nil
}

// FindTask resolves a task by full id, unique id prefix, or exact
// (case-insensitive) title.
func (st *State) FindTask(ref string) (task.Task, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return task.Task{}, fmt.Errorf("%w: empty reference", ErrTaskNotFound)
	}

	if t, ok := st.Task(ref); ok {
		return t, nil
	}

	var matches []task.Task

	for _, t := range st.Tasks {
		if strings.HasPrefix(t.ID, ref) || strings.EqualFold(t.Title, ref) {
			matches = append(matches, t)
		}
	}

	switch len(matches) {
	case 0:
		return task.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return task.Task{}, fmt.Errorf("profile: %q matches %d tasks", ref, len(matches))
	}
}

func (s *Store) appendOp(key string, st *State, op task.Op) {
	if IsLocal(key) {
		return
	}

	st.Oplog = append(st.Oplog, op)
}
