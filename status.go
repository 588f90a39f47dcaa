package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tasksync/internal/config"
	"github.com/tonimelisma/tasksync/internal/profile"
)

// Sync state labels for status output.
const (
	syncStateLocal     = "local only"
	syncStateNotReady  = "cloud not configured"
	syncStateSignedOut = "signed out"
	syncStatePending   = "changes pending"
	syncStateUpToDate  = "up to date"
	daemonStateRunning = "running"
	daemonStateStopped = "not running"
	neverSynced        = "never"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active profile and sync state",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	Profile    string     `json:"profile"`
	Email      string     `json:"email,omitempty"`
	Tasks      int        `json:"tasks"`
	PendingOps int        `json:"pending_ops"`
	LastPulled *time.Time `json:"last_pulled,omitempty"`
	SyncState  string     `json:"sync_state"`
	Daemon     string     `json:"daemon"`
	DeviceID   string     `json:"device_id"`
	DataDir    string     `json:"data_dir"`
	ConfigPath string     `json:"config_path"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return withActiveProfile(cmd, false, func(ctx context.Context, cc *CLIContext, a *app, key string) error {
		out, err := buildStatus(ctx, cc, a, key)
		if err != nil {
			return err
		}

		if cc.Flags.JSON {
			return printJSON(cc.out, out)
		}

		printStatusText(cc.out, out)

		return nil
	})
}

func buildStatus(ctx context.Context, cc *CLIContext, a *app, key string) (statusOutput, error) {
	st, err := a.profiles.Get(ctx, key)
	if err != nil {
		return statusOutput{}, err
	}

	deviceID, err := a.kv.DeviceID(ctx)
	if err != nil {
		return statusOutput{}, err
	}

	out := statusOutput{
		Profile:    key,
		Tasks:      len(st.Tasks),
		PendingOps: len(st.Oplog),
		LastPulled: st.SyncCursor,
		Daemon:     daemonStateStopped,
		DeviceID:   deviceID,
		DataDir:    cc.Cfg.DataDir,
		ConfigPath: cc.CfgPath,
	}

	if daemonRunning(config.PIDPath(cc.Cfg.DataDir)) {
		out.Daemon = daemonStateRunning
	}

	if profile.IsLocal(key) {
		out.SyncState = syncStateLocal
		return out, nil
	}

	sums, err := a.profiles.Summaries(ctx)
	if err != nil {
		return statusOutput{}, err
	}

	out.Email = sums[key].Email

	_, signedIn, err := a.kv.RefreshToken(ctx, key)
	if err != nil {
		return statusOutput{}, err
	}

	switch {
	case a.cloud().Ready() != nil:
		out.SyncState = syncStateNotReady
	case !signedIn:
		out.SyncState = syncStateSignedOut
	case out.PendingOps > 0:
		out.SyncState = syncStatePending
	default:
		out.SyncState = syncStateUpToDate
	}

	return out, nil
}

func printStatusText(w io.Writer, out statusOutput) {
	account := out.Profile
	if out.Email != "" {
		account = fmt.Sprintf("%s (%s)", out.Email, out.Profile)
	}

	lastPulled := neverSynced
	if out.LastPulled != nil {
		lastPulled = formatDeadline(*out.LastPulled, time.Local)
	}

	fmt.Fprintf(w, "Profile:     %s\n", account)
	fmt.Fprintf(w, "Tasks:       %d\n", out.Tasks)
	fmt.Fprintf(w, "Pending:     %d change(s)\n", out.PendingOps)
	fmt.Fprintf(w, "Sync:        %s\n", out.SyncState)
	fmt.Fprintf(w, "Last pulled: %s\n", lastPulled)
	fmt.Fprintf(w, "Daemon:      %s\n", out.Daemon)
	fmt.Fprintf(w, "Device:      %s\n", out.DeviceID)
}
