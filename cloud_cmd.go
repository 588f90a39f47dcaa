package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tasksync/internal/config"
	"github.com/tonimelisma/tasksync/internal/state"
)

func newCloudCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cloud",
		Short: "Configure the Firebase project used for sync",
		Long: `Store or show the Firebase and Google OAuth client settings.

Stored values are the lowest layer: the [cloud] section of the config file
and the TASKSYNC_* environment variables override them field by field.`,
	}

	cmd.AddCommand(newCloudSetCmd())
	cmd.AddCommand(newCloudShowCmd())

	return cmd
}

// cloudFlag binds one "cloud set" flag to a CloudConfig field.
type cloudFlag struct {
	name  string
	usage string
	field func(c *config.CloudConfig) *string
}

var cloudFlags = []cloudFlag{
	{"api-key", "Firebase web API key", func(c *config.CloudConfig) *string { return &c.FirebaseWebAPIKey }},
	{"project-id", "Firebase project id", func(c *config.CloudConfig) *string { return &c.FirebaseProjectID }},
	{"database-id", "Firestore database id", func(c *config.CloudConfig) *string { return &c.FirestoreDatabaseID }},
	{"client-id", "Google OAuth client id", func(c *config.CloudConfig) *string { return &c.GoogleOAuthClientID }},
	{"client-secret", "Google OAuth client secret", func(c *config.CloudConfig) *string { return &c.GoogleOAuthClientSecret }},
}

func newCloudSetCmd() *cobra.Command {
	var in config.CloudConfig

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store cloud settings on this device",
		Long: `Store cloud settings. Only the flags given are changed; pass an empty
value (--client-secret "") to clear a field.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			changed := false
			for _, f := range cloudFlags {
				changed = changed || cmd.Flags().Changed(f.name)
			}

			if !changed {
				return fmt.Errorf("nothing to set; see 'tasksync cloud set --help'")
			}

			return withActiveProfile(cmd, false, func(ctx context.Context, cc *CLIContext, a *app, _ string) error {
				err := state.UpdateJSON(ctx, a.kv, state.KeyCloudConfig, func(stored *config.CloudConfig) error {
					for _, f := range cloudFlags {
						if cmd.Flags().Changed(f.name) {
							*f.field(stored) = *f.field(&in)
						}
					}

					*stored = stored.Clamp()

					return nil
				})
				if err != nil {
					return fmt.Errorf("storing cloud config: %w", err)
				}

				if err := a.reloadStoredCloud(ctx); err != nil {
					return err
				}

				notifyDaemon(cc)

				if err := a.cloud().Ready(); err != nil {
					cc.Statusf("Saved. Still incomplete: %v\n", err)
					return nil
				}

				cc.Statusf("Saved. Cloud sync is configured; run 'tasksync login'.\n")

				return nil
			})
		},
	}

	for _, f := range cloudFlags {
		cmd.Flags().StringVar(f.field(&in), f.name, "", f.usage)
	}

	return cmd
}

// cloudShowOutput is the JSON schema for `cloud show --json`. Secrets are
// redacted.
type cloudShowOutput struct {
	Effective config.CloudConfig `json:"effective"`
	Stored    config.CloudConfig `json:"stored"`
	Ready     bool               `json:"ready"`
	Missing   []string           `json:"missing,omitempty"`
}

func newCloudShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective cloud settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withActiveProfile(cmd, false, func(_ context.Context, cc *CLIContext, a *app, _ string) error {
				a.mu.Lock()
				stored := a.stored
				a.mu.Unlock()

				eff := a.cloud()
				out := cloudShowOutput{
					Effective: eff.Redacted(),
					Stored:    stored.Redacted(),
					Missing:   eff.Missing(),
				}
				out.Ready = len(out.Missing) == 0

				if cc.Flags.JSON {
					return printJSON(cc.out, out)
				}

				printCloudText(cc.out, out)

				return nil
			})
		},
	}
}

func printCloudText(w io.Writer, out cloudShowOutput) {
	c := out.Effective
	rows := [][]string{
		{"firebase_web_api_key", c.FirebaseWebAPIKey},
		{"firebase_project_id", c.FirebaseProjectID},
		{"firestore_database_id", c.FirestoreDatabaseID},
		{"google_oauth_client_id", c.GoogleOAuthClientID},
		{"google_oauth_client_secret", c.GoogleOAuthClientSecret},
	}

	for i := range rows {
		if rows[i][1] == "" {
			rows[i][1] = "(not set)"
		}
	}

	printTable(w, []string{"KEY", "VALUE"}, rows)

	if out.Ready {
		fmt.Fprintln(w, "\nReady for sync.")
	} else {
		fmt.Fprintf(w, "\nNot ready: missing %s\n", strings.Join(out.Missing, ", "))
	}
}
