package profile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/tasksync/internal/task"
)

var deadline = time.Date(2026, 2, 14, 18, 0, 0, 0, time.UTC)

func TestMutations_LocalProfileLogsNothing(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	added, err := s.AddTask(ctx, LocalKey, "  write report ", deadline)
	require.NoError(t, err)
	assert.Equal(t, "write report", added.Title)

	_, err = s.SetStatus(ctx, LocalKey, added.ID, task.StatusOnHold)
	require.NoError(t, err)
	require.NoError(t, s.SetOrder(ctx, LocalKey, []string{added.ID}, true))
	require.NoError(t, s.RemoveTask(ctx, LocalKey, added.ID))

	st, err := s.Get(ctx, LocalKey)
	require.NoError(t, err)
	assert.Empty(t, st.Tasks)
	assert.Empty(t, st.Oplog)
	assert.Empty(t, st.TaskOrder)
}

func TestMutations_CloudProfileAppendsOps(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	key := "uid-1"

	added, err := s.AddTask(ctx, key, "write report", deadline)
	require.NoError(t, err)

	_, err = s.SetStatus(ctx, key, added.ID, task.StatusCompleted)
	require.NoError(t, err)

	// No-op edit logs nothing.
	_, err = s.SetStatus(ctx, key, added.ID, task.StatusCompleted)
	require.NoError(t, err)

	require.NoError(t, s.SetOrder(ctx, key, []string{added.ID}, true))
	require.NoError(t, s.RemoveTask(ctx, key, added.ID))

	st, err := s.Get(ctx, key)
	require.NoError(t, err)

	types := make([]task.OpType, 0, len(st.Oplog))
	for _, op := range st.Oplog {
		types = append(types, op.Type)
	}

	assert.Equal(t, []task.OpType{
		task.OpUpsertTask,
		task.OpUpsertTask,
		task.OpSetOrder,
		task.OpDeleteTask,
	}, types)

	assert.Equal(t, task.StatusCompleted, st.Oplog[1].Task.Status)
	assert.Equal(t, added.ID, st.Oplog[3].TaskID)
	assert.Empty(t, st.TaskOrder, "removed task must leave the manual order")
}

func TestAddTask_ManualOrderAppends(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	key := "uid-1"

	first, err := s.AddTask(ctx, key, "first", deadline)
	require.NoError(t, err)
	require.NoError(t, s.SetOrder(ctx, key, []string{first.ID}, true))

	second, err := s.AddTask(ctx, key, "second", deadline)
	require.NoError(t, err)

	st, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID}, st.TaskOrder)

	last := st.Oplog[len(st.Oplog)-1]
	assert.Equal(t, task.OpSetOrder, last.Type)
	assert.Equal(t, []string{first.ID, second.ID}, last.Order)
}

func TestMutations_Errors(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.AddTask(ctx, "uid-1", "   ", deadline)
	assert.Error(t, err)

	_, err = s.SetStatus(ctx, "uid-1", "missing", task.StatusActive)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = s.SetStatus(ctx, "uid-1", "missing", "bogus")
	assert.ErrorIs(t, err, task.ErrInvalidStatus)

	assert.ErrorIs(t, s.RemoveTask(ctx, "uid-1", "missing"), ErrTaskNotFound)
	assert.ErrorIs(t, s.SetOrder(ctx, "uid-1", []string{"missing"}, true), ErrTaskNotFound)

	st, err := s.Get(ctx, "uid-1")
	require.NoError(t, err)
	assert.Empty(t, st.Oplog, "failed mutations must not log ops")
}

func TestReplaceTasks(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	key := "uid-1"

	_, err := s.Update(ctx, key, func(st *State) error {
		st.Tasks = []task.Task{newTask("a"), newTask("b")}
		st.TaskOrder = []string{"b", "a"}
		st.ManualOrder = true

		return nil
	})
	require.NoError(t, err)

	n, err := s.ReplaceTasks(ctx, key, []task.Task{newTask("a"), newTask("c")})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, st.TaskOrder)
	require.Len(t, st.Oplog, 2)
	assert.Equal(t, "c", st.Oplog[0].Task.ID)
	assert.Equal(t, "b", st.Oplog[1].TaskID)
}

func TestFindTask(t *testing.T) {
	st := Empty()
	st.Tasks = []task.Task{newTask("abc-1"), newTask("abd-2")}
	st.Tasks[1].Title = "Call mom"

	got, err := st.FindTask("abc")
	require.NoError(t, err)
	assert.Equal(t, "abc-1", got.ID)

	got, err = st.FindTask("call MOM")
	require.NoError(t, err)
	assert.Equal(t, "abd-2", got.ID)

	_, err = st.FindTask("ab")
	assert.Error(t, err)

	_, err = st.FindTask("zzz")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = st.FindTask("")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
