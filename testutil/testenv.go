// Package testutil provides shared test environment helpers for the E2E
// tests. It depends only on stdlib so that E2E tests (which drive the
// built binary and cannot import internal/) can use it.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables read by the cloud E2E tests.
const (
	EnvAllowedProjects = "TASKSYNC_ALLOWED_TEST_PROJECTS"
	EnvTestProject     = "TASKSYNC_FIREBASE_PROJECT_ID"
)

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// ValidateAllowlist crashes the process unless the Firebase project the
// tests would write to is listed in TASKSYNC_ALLOWED_TEST_PROJECTS. Cloud
// tests create and delete tasks, so they must never reach a real user's
// project.
func ValidateAllowlist() string {
	allowlist := os.Getenv(EnvAllowedProjects)
	if allowlist == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", EnvAllowedProjects)
		fmt.Fprintln(os.Stderr, "Set it in .env or as an environment variable.")
		fmt.Fprintf(os.Stderr, "Example: %s=tasksync-e2e\n", EnvAllowedProjects)
		os.Exit(1)
	}

	project := os.Getenv(EnvTestProject)
	if project == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", EnvTestProject)
		os.Exit(1)
	}

	for _, p := range strings.Split(allowlist, ",") {
		if strings.TrimSpace(p) == project {
			return project
		}
	}

	fmt.Fprintf(os.Stderr, "FATAL: %s=%q is not in %s=%q\n",
		EnvTestProject, project, EnvAllowedProjects, allowlist)
	os.Exit(1)

	return ""
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// FindTestDataDir locates .testdata/ relative to the module root: a
// tasksync data directory signed in to the test account with
// "tasksync --data-dir .testdata login". Crashes if it does not exist.
func FindTestDataDir(moduleRoot string) string {
	dir := filepath.Join(moduleRoot, ".testdata")

	if _, err := os.Stat(filepath.Join(dir, "state.db")); err != nil {
		fmt.Fprintln(os.Stderr, "FATAL: signed-in state not found at "+dir)
		fmt.Fprintln(os.Stderr, "Run: go run . --data-dir .testdata login")
		os.Exit(1)
	}

	return dir
}

// CopyStateDir copies a data directory's state database (and its WAL
// sidecars, when present) into dst. Crashes on failure because tests
// cannot proceed without it.
func CopyStateDir(src, dst string) {
	if err := os.MkdirAll(dst, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: creating %s: %v\n", dst, err)
		os.Exit(1)
	}

	for _, name := range []string{"state.db", "state.db-wal", "state.db-shm"} {
		data, err := os.ReadFile(filepath.Join(src, name))
		if os.IsNotExist(err) && name != "state.db" {
			continue
		}

		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: cannot read %s: %v\n", name, err)
			os.Exit(1)
		}

		if err := os.WriteFile(filepath.Join(dst, name), data, 0o600); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: writing %s: %v\n", name, err)
			os.Exit(1)
		}
	}
}
