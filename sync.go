package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tasksync/internal/profile"
)

func newSyncCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push local changes and pull remote ones",
		Long: `Run one sync tick for the active profile: pending local changes are
uploaded, then remote changes since the last sync are downloaded.

With --watch, keep running and sync every [sync] interval. A running daemon
reloads and syncs immediately on SIGHUP, which the other tasksync commands
send after changing tasks, profiles, or cloud settings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if watch {
				return runWatch(cmd.Context(), mustCLIContext(cmd.Context()))
			}

			return runSyncOnce(cmd.Context(), mustCLIContext(cmd.Context()))
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and sync continuously")

	return cmd
}

// syncOutput is the JSON schema for `sync --json`.
type syncOutput struct {
	Profile      string    `json:"profile"`
	Pushed       int       `json:"pushed"`
	Pulled       int       `json:"pulled"`
	Applied      int       `json:"applied"`
	Discarded    int       `json:"discarded"`
	OrderApplied bool      `json:"order_applied"`
	Cursor       time.Time `json:"cursor"`
	DurationMS   int64     `json:"duration_ms"`
}

func runSyncOnce(ctx context.Context, cc *CLIContext) error {
	a, err := openApp(ctx, cc, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	key := a.activeKey()
	if profile.IsLocal(key) {
		cc.Statusf("The local profile is not synced; run 'tasksync login' first.\n")
		return nil
	}

	report, err := a.engine.Tick(ctx, key)
	if err != nil {
		return describeSyncError(err)
	}

	if cc.Flags.JSON {
		return printJSON(cc.out, syncOutput{
			Profile:      report.Key,
			Pushed:       report.Pushed,
			Pulled:       report.Pulled,
			Applied:      report.Applied,
			Discarded:    report.Discarded,
			OrderApplied: report.OrderApplied,
			Cursor:       report.Cursor,
			DurationMS:   report.Duration.Milliseconds(),
		})
	}

	if !report.Changed() {
		cc.Statusf("Already up to date.\n")
		return nil
	}

	cc.Statusf("Synced: %d change(s) uploaded, %d remote update(s) applied.\n", report.Pushed, report.Applied)

	return nil
}
