package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tasksync/internal/profile"
	"github.com/tonimelisma/tasksync/internal/sync"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in with Google and start syncing",
		Long: `Open the browser to sign in with Google (authorization code + PKCE).

On the first sign-in on this device the current local tasks are merged with
the tasks already in the cloud. Tasks that exist in both places keep the
cloud version.`,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and switch back to the local profile",
		Long: `Forget the stored sign-in for the active account and switch to the local
profile. The account's tasks stay on this device and come back on the next
sign-in.`,
		RunE: runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	a, err := openApp(ctx, cc, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	login, err := a.newLogin()
	if err != nil {
		return err
	}

	cc.Logger.Info("login started")

	sess, err := login.Run(ctx)
	if err != nil {
		return err
	}

	report, err := a.engine.CompleteLogin(ctx, sess)
	if err != nil {
		return describeSyncError(err)
	}

	if _, err := a.engine.Tick(ctx, sess.UID); err != nil {
		cc.Logger.Warn("initial sync failed", slog.String("error", err.Error()))
		cc.Statusf("Warning: initial sync failed: %v\n", describeSyncError(err))
	}

	notifyDaemon(cc)

	who := sess.Email
	if who == "" {
		who = sess.UID
	}

	cc.Statusf("Signed in as %s. %d task(s) in the cloud, %d local task(s) added.\n",
		who, report.Remote, report.LocalAdded)

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	a, err := openApp(ctx, cc, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	uid, err := a.engine.SignOut(ctx)
	if errors.Is(err, sync.ErrLocalProfile) {
		cc.Statusf("Not signed in.\n")
		return nil
	}

	if err != nil {
		return err
	}

	notifyDaemon(cc)
	cc.Logger.Info("logout complete", slog.String("uid", uid))
	cc.Statusf("Signed out. Using the local profile.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	SignedIn    bool   `json:"signed_in"`
	Profile     string `json:"profile"`
	UID         string `json:"uid,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	a, err := openApp(ctx, cc, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	key := a.activeKey()
	out := whoamiOutput{Profile: key}

	if !profile.IsLocal(key) {
		sums, err := a.profiles.Summaries(ctx)
		if err != nil {
			return err
		}

		sum := sums[key]
		out.SignedIn = true
		out.UID = key
		out.Email = sum.Email
		out.DisplayName = sum.DisplayName
	}

	if cc.Flags.JSON {
		return printJSON(cc.out, out)
	}

	printWhoamiText(cc.out, out)

	return nil
}

func printWhoamiText(w io.Writer, out whoamiOutput) {
	if !out.SignedIn {
		fmt.Fprintln(w, "Not signed in (local profile).")
		return
	}

	if out.DisplayName != "" {
		fmt.Fprintf(w, "User:  %s (%s)\n", out.DisplayName, out.Email)
	} else {
		fmt.Fprintf(w, "User:  %s\n", out.Email)
	}

	fmt.Fprintf(w, "UID:   %s\n", out.UID)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

// openBrowser launches the platform URL opener.
func openBrowser(url string) error {
	var c *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		c = exec.Command("open", url)
	case "windows":
		c = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		c = exec.Command("xdg-open", url)
	}

	if err := c.Start(); err != nil {
		return fmt.Errorf("launching browser: %w", err)
	}

	go c.Wait() //nolint:errcheck // reaps the opener; its exit status is irrelevant

	return nil
}
