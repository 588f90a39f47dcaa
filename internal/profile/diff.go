package profile

import (
	"slices"
	"time"

	"github.com/tonimelisma/tasksync/internal/task"
)

// BuildOpsFromTaskSet diffs a wholesale replacement of the task set. Tasks
// in next that are new or changed become upserts, in next's order; tasks in
// prev that are absent from next become deletes, in prev's order.
func BuildOpsFromTaskSet(prev, next []task.Task, now time.Time) []task.Op {
	prevByID := make(map[string]task.Task, len(prev))
	for _, t := range prev {
		prevByID[t.ID] = t
	}

	nextIDs := make(map[string]struct{}, len(next))

	var ops []task.Op

	for _, t := range next {
		nextIDs[t.ID] = struct{}{}

		before, ok := prevByID[t.ID]
		if !ok || !task.Equal(before, t) {
			ops = append(ops, task.NewUpsertOp(t, now))
		}
	}

	for _, t := range prev {
		if _, ok := nextIDs[t.ID]; !ok {
			ops = append(ops, task.NewDeleteOp(t.ID, now))
		}
	}

	return ops
}

// ApplyTaskOps replays upsert and delete ops against a task list: an upsert
// replaces or appends, a delete removes. Order ops are ignored.
func ApplyTaskOps(tasks []task.Task, ops []task.Op) []task.Task {
	out := slices.Clone(tasks)

	for i := range ops {
		op := &ops[i]

		switch op.Type {
		case task.OpUpsertTask:
			j := slices.IndexFunc(out, func(t task.Task) bool { return t.ID == op.Task.ID })
			if j >= 0 {
				out[j] = *op.Task
			} else {
				out = append(out, *op.Task)
			}
		case task.OpDeleteTask:
			out = slices.DeleteFunc(out, func(t task.Task) bool { return t.ID == op.TaskID })
		case task.OpSetOrder:
		}
	}

	return out
}
