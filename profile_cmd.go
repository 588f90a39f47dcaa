package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tasksync/internal/profile"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "List, switch, and reset profiles",
		Long: `Each signed-in account has its own profile on this device; "local" holds
tasks created while signed out. Exactly one profile is active.`,
	}

	cmd.AddCommand(newProfileListCmd())
	cmd.AddCommand(newProfileSwitchCmd())
	cmd.AddCommand(newProfileResetCmd())

	return cmd
}

// profileRow is one line of "profile list", also its JSON schema.
type profileRow struct {
	Key        string `json:"key"`
	Email      string `json:"email,omitempty"`
	Active     bool   `json:"active"`
	Tasks      int    `json:"tasks"`
	PendingOps int    `json:"pending_ops"`
	SignedIn   bool   `json:"signed_in"`
}

func newProfileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List profiles on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withActiveProfile(cmd, false, func(ctx context.Context, cc *CLIContext, a *app, active string) error {
				rows, err := buildProfileRows(ctx, a, active)
				if err != nil {
					return err
				}

				if cc.Flags.JSON {
					return printJSON(cc.out, rows)
				}

				table := make([][]string, 0, len(rows))

				for _, r := range rows {
					marker := ""
					if r.Active {
						marker = "*"
					}

					account := r.Email
					if !r.SignedIn && !profile.IsLocal(r.Key) {
						account += " (signed out)"
					}

					table = append(table, []string{
						marker, r.Key, account, strconv.Itoa(r.Tasks), strconv.Itoa(r.PendingOps),
					})
				}

				printTable(cc.out, []string{"", "PROFILE", "ACCOUNT", "TASKS", "PENDING"}, table)

				return nil
			})
		},
	}
}

// buildProfileRows lists "local" first, then stored profiles by key.
func buildProfileRows(ctx context.Context, a *app, active string) ([]profileRow, error) {
	keys, err := a.profiles.Keys(ctx)
	if err != nil {
		return nil, err
	}

	if !slices.Contains(keys, profile.LocalKey) {
		keys = append(keys, profile.LocalKey)
	}

	if !slices.Contains(keys, active) {
		keys = append(keys, active)
	}

	slices.SortFunc(keys, func(x, y string) int {
		switch {
		case x == y:
			return 0
		case profile.IsLocal(x):
			return -1
		case profile.IsLocal(y):
			return 1
		default:
			return strings.Compare(x, y)
		}
	})

	sums, err := a.profiles.Summaries(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]profileRow, 0, len(keys))

	for _, key := range keys {
		st, err := a.profiles.Get(ctx, key)
		if err != nil {
			return nil, err
		}

		row := profileRow{
			Key:        key,
			Email:      sums[key].Email,
			Active:     key == active,
			Tasks:      len(st.Tasks),
			PendingOps: len(st.Oplog),
		}

		if !profile.IsLocal(key) {
			_, row.SignedIn, err = a.kv.RefreshToken(ctx, key)
			if err != nil {
				return nil, err
			}
		}

		rows = append(rows, row)
	}

	return rows, nil
}

// findProfileKey accepts a profile key or the email recorded for it.
func findProfileKey(ctx context.Context, a *app, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if profile.IsLocal(ref) {
		return profile.LocalKey, nil
	}

	sums, err := a.profiles.Summaries(ctx)
	if err != nil {
		return "", err
	}

	if _, ok := sums[ref]; ok {
		return ref, nil
	}

	for key, sum := range sums {
		if sum.Email != "" && strings.EqualFold(sum.Email, ref) {
			return key, nil
		}
	}

	return "", fmt.Errorf("no profile %q on this device (run 'tasksync profile list')", ref)
}

func newProfileSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <profile|email>",
		Short: "Make another profile active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActiveProfile(cmd, false, func(ctx context.Context, cc *CLIContext, a *app, active string) error {
				key, err := findProfileKey(ctx, a, args[0])
				if err != nil {
					return err
				}

				if key == active {
					cc.Statusf("Profile %s is already active.\n", key)
					return nil
				}

				if err := a.engine.Activate(ctx, key); err != nil {
					return err
				}

				notifyDaemon(cc)
				cc.Statusf("Switched to profile %s.\n", key)

				if profile.IsLocal(key) {
					return nil
				}

				if _, ok, err := a.kv.RefreshToken(ctx, key); err == nil && !ok {
					cc.Statusf("This account is signed out; run 'tasksync login' to resume syncing.\n")
				}

				return nil
			})
		},
	}
}

func newProfileResetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset [profile|email]",
		Short: "Discard a profile's local copy and pending changes",
		Long: `Empty the profile on this device, pending changes included. A signed-in
profile is then downloaded again from the cloud. Defaults to the active
profile.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActiveProfile(cmd, false, func(ctx context.Context, cc *CLIContext, a *app, active string) error {
				key := active

				if len(args) == 1 {
					k, err := findProfileKey(ctx, a, args[0])
					if err != nil {
						return err
					}

					key = k
				}

				if !yes {
					return fmt.Errorf("resetting %s discards its pending changes; pass --yes to confirm", key)
				}

				if err := a.engine.Reset(ctx, key); err != nil {
					return err
				}

				notifyDaemon(cc)
				cc.Statusf("Profile %s reset.\n", key)

				if key != active || profile.IsLocal(key) {
					return nil
				}

				report, err := a.engine.Tick(ctx, key)
				if err != nil {
					cc.Logger.Warn("sync after reset failed", slog.String("error", err.Error()))
					cc.Statusf("Warning: download failed: %v\n", describeSyncError(err))

					return nil
				}

				cc.Statusf("Downloaded %d task(s).\n", report.Applied)

				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm discarding pending changes")

	return cmd
}

func newUndeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undelete",
		Short: "Restore every task deleted from the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withActiveProfile(cmd, true, func(ctx context.Context, cc *CLIContext, a *app, key string) error {
				n, err := a.engine.UndeleteAll(ctx, key)
				if err != nil {
					return describeSyncError(err)
				}

				if n == 0 {
					cc.Statusf("Nothing to restore.\n")
					return nil
				}

				if _, err := a.engine.Tick(ctx, key); err != nil {
					cc.Statusf("Restored %d task(s); they will upload on the next sync (%v).\n", n, describeSyncError(err))
					return nil
				}

				cc.Statusf("Restored %d task(s).\n", n)

				return nil
			})
		},
	}
}
