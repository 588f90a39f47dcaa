package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/tasksync/internal/task"
)

func newTaskImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace every task with the tasks in a JSON file",
		Long: `Replace the active profile's task set with the JSON array in <file>, in
the format written by "task list --json". Use "-" to read stdin.

Tasks missing from the file are deleted. Entries without an id get a new
one; a missing status means active and a missing createdAt means now.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := readTaskFile(cmd.InOrStdin(), args[0], nowFunc())
			if err != nil {
				return err
			}

			return withActiveProfile(cmd, true, func(ctx context.Context, cc *CLIContext, a *app, key string) error {
				n, err := a.profiles.ReplaceTasks(ctx, key, tasks)
				if err != nil {
					return err
				}

				cc.Statusf("Imported %d task(s), %d change(s).\n", len(tasks), n)

				return nil
			})
		},
	}
}

// readTaskFile decodes a task array from path ("-" = r) and fills in the
// fields a hand-written file may leave out.
func readTaskFile(r io.Reader, path string, now time.Time) ([]task.Task, error) {
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening task file: %w", err)
		}
		defer f.Close()

		r = f
	}

	var tasks []task.Task

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&tasks); err != nil {
		return nil, fmt.Errorf("decoding task file: %w", err)
	}

	seen := make(map[string]struct{}, len(tasks))

	for i := range tasks {
		t := &tasks[i]

		if t.ID == "" {
			t.ID = uuid.NewString()
		}

		if _, dup := seen[t.ID]; dup {
			return nil, fmt.Errorf("task file: duplicate id %s", t.ID)
		}

		seen[t.ID] = struct{}{}

		if t.Status == "" {
			t.Status = task.StatusActive
		}

		if t.CreatedAt.IsZero() {
			t.CreatedAt = now.UTC()
		}

		t.Deadline = t.Deadline.UTC()
	}

	return tasks, nil
}
