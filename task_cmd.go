package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tasksync/internal/profile"
	"github.com/tonimelisma/tasksync/internal/task"
)

// defaultDeadlineOffset is used by "task add" without --due.
const defaultDeadlineOffset = 24 * time.Hour

// nowFunc is the CLI clock; tests pin it.
var nowFunc = time.Now

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks in the active profile",
		Long: `Add, list, edit, and remove tasks in the active profile.

Tasks are referenced by id, by any unique id prefix shown in "task list",
or by exact title.`,
	}

	cmd.AddCommand(newTaskAddCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskEditCmd())
	cmd.AddCommand(newTaskStatusCmd("done", "Mark a task completed", task.StatusCompleted))
	cmd.AddCommand(newTaskStatusCmd("hold", "Put a task on hold", task.StatusOnHold))
	cmd.AddCommand(newTaskStatusCmd("activate", "Mark a task active again", task.StatusActive))
	cmd.AddCommand(newTaskRmCmd())
	cmd.AddCommand(newTaskOrderCmd())
	cmd.AddCommand(newTaskUnorderCmd())
	cmd.AddCommand(newTaskImportCmd())

	return cmd
}

// withActiveProfile opens the app and runs fn against the active profile.
// Changes to a signed-in profile nudge a running daemon to push them.
func withActiveProfile(cmd *cobra.Command, mutates bool, fn func(ctx context.Context, cc *CLIContext, a *app, key string) error) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	a, err := openApp(ctx, cc, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	key := a.activeKey()

	if err := fn(ctx, cc, a, key); err != nil {
		return err
	}

	if mutates && !profile.IsLocal(key) {
		notifyDaemon(cc)
	}

	return nil
}

// resolveTask finds a task in the profile by id, id prefix, or title.
func resolveTask(ctx context.Context, a *app, key, ref string) (task.Task, error) {
	st, err := a.profiles.Get(ctx, key)
	if err != nil {
		return task.Task{}, err
	}

	return st.FindTask(ref)
}

func newTaskAddCmd() *cobra.Command {
	var due string

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task",
		Long: `Add an active task. --due accepts "2026-03-01 17:00", "2026-03-01",
RFC 3339, or phrases like "tomorrow 5pm". The default is 24 hours from now.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActiveProfile(cmd, true, func(ctx context.Context, cc *CLIContext, a *app, key string) error {
				now := nowFunc()
				deadline := now.Add(defaultDeadlineOffset)

				if due != "" {
					d, err := parseDeadline(due, now)
					if err != nil {
						return err
					}

					deadline = d
				}

				t, err := a.profiles.AddTask(ctx, key, args[0], deadline)
				if err != nil {
					return err
				}

				if cc.Flags.JSON {
					return printJSON(cc.out, t)
				}

				fmt.Fprintf(cc.out, "Added %s  %s (due %s)\n", shortID(t.ID), t.Title, formatDeadline(t.Deadline, time.Local))

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&due, "due", "", "deadline")

	return cmd
}

func newTaskListCmd() *cobra.Command {
	var (
		sortBy string
		status string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in display order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode := task.SortMode(sortBy)
			if mode != task.SortByDeadline && mode != task.SortByCreated {
				return fmt.Errorf("--sort must be %q or %q", task.SortByDeadline, task.SortByCreated)
			}

			var filter task.Status

			if status != "" {
				s, err := task.ParseStatus(status)
				if err != nil {
					return err
				}

				filter = s
			}

			return withActiveProfile(cmd, false, func(ctx context.Context, cc *CLIContext, a *app, key string) error {
				st, err := a.profiles.Get(ctx, key)
				if err != nil {
					return err
				}

				tasks := st.Ordered(mode)
				if filter != "" {
					kept := tasks[:0]

					for _, t := range tasks {
						if t.Status == filter {
							kept = append(kept, t)
						}
					}

					tasks = kept
				}

				if cc.Flags.JSON {
					if tasks == nil {
						tasks = []task.Task{}
					}

					return printJSON(cc.out, tasks)
				}

				if len(tasks) == 0 {
					cc.Statusf("No tasks.\n")
					return nil
				}

				taskTable{styled: stdoutStyled(cc.out), now: nowFunc(), loc: time.Local}.render(cc.out, tasks)

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&sortBy, "sort", string(task.SortByDeadline), "automatic order: deadline or created")
	cmd.Flags().StringVar(&status, "status", "", "only show tasks with this status (active, completed, on-hold)")

	return cmd
}

func newTaskEditCmd() *cobra.Command {
	var (
		title string
		due   string
	)

	cmd := &cobra.Command{
		Use:   "edit <task>",
		Short: "Change a task's title or deadline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" && due == "" {
				return fmt.Errorf("nothing to change: pass --title and/or --due")
			}

			return withActiveProfile(cmd, true, func(ctx context.Context, cc *CLIContext, a *app, key string) error {
				ref, err := resolveTask(ctx, a, key, args[0])
				if err != nil {
					return err
				}

				var deadline time.Time

				if due != "" {
					deadline, err = parseDeadline(due, nowFunc())
					if err != nil {
						return err
					}
				}

				t, err := a.profiles.EditTask(ctx, key, ref.ID, func(t *task.Task) {
					if title != "" {
						t.Title = title
					}

					if !deadline.IsZero() {
						t.Deadline = deadline.UTC()
					}
				})
				if err != nil {
					return err
				}

				cc.Logger.Debug("task edited", slog.String("task_id", t.ID))
				fmt.Fprintf(cc.out, "Updated %s  %s (due %s)\n", shortID(t.ID), t.Title, formatDeadline(t.Deadline, time.Local))

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&due, "due", "", "new deadline")

	return cmd
}

func newTaskStatusCmd(use, short string, status task.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <task>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActiveProfile(cmd, true, func(ctx context.Context, cc *CLIContext, a *app, key string) error {
				ref, err := resolveTask(ctx, a, key, args[0])
				if err != nil {
					return err
				}

				t, err := a.profiles.SetStatus(ctx, key, ref.ID, status)
				if err != nil {
					return err
				}

				fmt.Fprintf(cc.out, "%s  %s is now %s\n", shortID(t.ID), t.Title, t.Status)

				return nil
			})
		},
	}
}

func newTaskRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <task>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActiveProfile(cmd, true, func(ctx context.Context, cc *CLIContext, a *app, key string) error {
				ref, err := resolveTask(ctx, a, key, args[0])
				if err != nil {
					return err
				}

				if err := a.profiles.RemoveTask(ctx, key, ref.ID); err != nil {
					return err
				}

				fmt.Fprintf(cc.out, "Deleted %s  %s\n", shortID(ref.ID), ref.Title)

				return nil
			})
		},
	}
}

func newTaskOrderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "order <task>...",
		Short: "Set a manual display order",
		Long: `Put the given tasks first, in the given order. Tasks not listed follow in
automatic order. Use "task unorder" to return to automatic ordering.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActiveProfile(cmd, true, func(ctx context.Context, cc *CLIContext, a *app, key string) error {
				st, err := a.profiles.Get(ctx, key)
				if err != nil {
					return err
				}

				ids := make([]string, 0, len(args))

				for _, ref := range args {
					t, err := st.FindTask(ref)
					if err != nil {
						return err
					}

					ids = append(ids, t.ID)
				}

				if err := a.profiles.SetOrder(ctx, key, ids, true); err != nil {
					return err
				}

				cc.Statusf("Manual order set for %d task(s).\n", len(ids))

				return nil
			})
		},
	}
}

func newTaskUnorderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unorder",
		Short: "Return to automatic ordering",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withActiveProfile(cmd, true, func(ctx context.Context, cc *CLIContext, a *app, key string) error {
				if err := a.profiles.ResetOrder(ctx, key); err != nil {
					return err
				}

				cc.Statusf("Automatic ordering restored.\n")

				return nil
			})
		},
	}
}
