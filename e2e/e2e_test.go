//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/tasksync/testutil"
)

var binaryPath string

func TestMain(m *testing.M) {
	// Build binary to temp dir.
	tmpDir, err := os.MkdirTemp("", "tasksync-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath = filepath.Join(tmpDir, "tasksync")

	moduleRoot := testutil.FindModuleRoot("..")
	testutil.LoadDotEnv(filepath.Join(moduleRoot, ".env"))

	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	cmd.Dir = moduleRoot
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "building binary: %v\n", err)
		os.Exit(1)
	}

	cleanup := setupIsolation()
	code := m.Run()

	cleanup()
	os.RemoveAll(tmpDir)
	os.Exit(code)
}

// statusJSON mirrors the fields of `status --json` the tests read. E2E
// tests cannot import package main.
type statusJSON struct {
	Profile    string `json:"profile"`
	Email      string `json:"email"`
	Tasks      int    `json:"tasks"`
	PendingOps int    `json:"pending_ops"`
	SyncState  string `json:"sync_state"`
	Daemon     string `json:"daemon"`
	DataDir    string `json:"data_dir"`
}

type taskJSON struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Status   string    `json:"status"`
	Deadline time.Time `json:"deadline"`
}

type eventJSON struct {
	Type       string `json:"type"`
	ProfileKey string `json:"profileKey"`
}

// device is one isolated tasksync installation: a data dir and a config
// file path.
type device struct {
	dataDir string
	cfgPath string
}

func newDevice(t *testing.T) *device {
	t.Helper()

	dir := t.TempDir()

	return &device{
		dataDir: filepath.Join(dir, "data"),
		cfgPath: filepath.Join(dir, "config.toml"),
	}
}

func (d *device) writeConfig(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(d.cfgPath, []byte(content), 0o600))
}

func cliCommand(args ...string) *exec.Cmd {
	return exec.Command(binaryPath, args...)
}

func (d *device) command(args ...string) *exec.Cmd {
	return cliCommand(append([]string{"--data-dir", d.dataDir, "--config", d.cfgPath}, args...)...)
}

func runCmd(t *testing.T, cmd *exec.Cmd) string {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		t.Fatalf("CLI command %v failed: %v\nstdout: %s\nstderr: %s", cmd.Args[1:], err, stdout.String(), stderr.String())
	}

	return stdout.String()
}

// run executes the binary against the device and fails the test on error.
func (d *device) run(t *testing.T, args ...string) string {
	t.Helper()
	return runCmd(t, d.command(args...))
}

// runErr executes the binary and returns its stderr and exit error.
func (d *device) runErr(args ...string) (string, error) {
	cmd := d.command(args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stderr.String(), err
}

func decodeJSON(t *testing.T, data string, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(data), v), "output: %s", data)
}

func (d *device) status(t *testing.T) statusJSON {
	t.Helper()

	var st statusJSON
	decodeJSON(t, d.run(t, "status", "--json"), &st)

	return st
}

func (d *device) tasks(t *testing.T) []taskJSON {
	t.Helper()

	var tasks []taskJSON
	decodeJSON(t, d.run(t, "task", "list", "--json"), &tasks)

	return tasks
}

func titles(tasks []taskJSON) []string {
	out := make([]string, len(tasks))
	for i := range tasks {
		out[i] = tasks[i].Title
	}

	return out
}

func TestE2E_LocalRoundTrip(t *testing.T) {
	d := newDevice(t)

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, d.tasks(t))

		st := d.status(t)
		assert.Equal(t, "local", st.Profile)
		assert.Equal(t, "local only", st.SyncState)
	})

	t.Run("add", func(t *testing.T) {
		d.run(t, "task", "add", "Renew passport", "--due", "2026-04-10")
		d.run(t, "task", "add", "Write report", "--due", "2026-03-01 17:00")
		d.run(t, "task", "add", "日本語のタスク", "--due", "2026-05-01T12:00:00Z")

		assert.Equal(t, []string{"Write report", "Renew passport", "日本語のタスク"}, titles(d.tasks(t)))
	})

	t.Run("list_table", func(t *testing.T) {
		out := d.run(t, "task", "list")
		assert.Contains(t, out, "DEADLINE")
		assert.Contains(t, out, "Write report")
	})

	t.Run("status_changes", func(t *testing.T) {
		d.run(t, "task", "done", "Write report")
		d.run(t, "task", "hold", "Renew passport")

		got := map[string]string{}
		for _, tk := range d.tasks(t) {
			got[tk.Title] = tk.Status
		}

		assert.Equal(t, "completed", got["Write report"])
		assert.Equal(t, "on-hold", got["Renew passport"])
	})

	t.Run("manual_order", func(t *testing.T) {
		d.run(t, "task", "order", "日本語のタスク")
		assert.Equal(t, "日本語のタスク", d.tasks(t)[0].Title)

		d.run(t, "task", "unorder")
		assert.Equal(t, "Write report", d.tasks(t)[0].Title)
	})

	t.Run("rm", func(t *testing.T) {
		d.run(t, "task", "rm", "Write report")
		assert.Len(t, d.tasks(t), 2)
	})

	t.Run("state_survives_restart", func(t *testing.T) {
		assert.Equal(t, 2, d.status(t).Tasks)
	})
}

func TestE2E_CommandErrors(t *testing.T) {
	d := newDevice(t)

	stderr, err := d.runErr("task", "done", "no-such-task")
	require.Error(t, err)
	assert.Contains(t, stderr, "not found")

	stderr, err = d.runErr("login")
	require.Error(t, err)
	assert.Contains(t, stderr, "cloud set")

	d.writeConfig(t, "[sync]\nintervall = \"5s\"\n")

	stderr, err = d.runErr("status")
	require.Error(t, err)
	assert.Contains(t, stderr, "did you mean")
}

func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	return ln.Addr().(*net.TCPAddr).Port
}

// startDaemon launches "sync --watch" for the device and stops it with
// SIGTERM at cleanup.
func (d *device) startDaemon(t *testing.T) *exec.Cmd {
	t.Helper()

	cmd := d.command("sync", "--watch")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	require.NoError(t, cmd.Start())

	t.Cleanup(func() {
		if cmd.ProcessState == nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}

		if t.Failed() {
			t.Logf("daemon stderr:\n%s", stderr.String())
		}
	})

	// Eventually polls from another goroutine, so the check must not
	// call t.Fatal.
	require.Eventually(t, func() bool {
		out, err := d.command("status", "--json").Output()
		if err != nil {
			return false
		}

		var st statusJSON

		return json.Unmarshal(out, &st) == nil && st.Daemon == "running"
	}, 10*time.Second, 100*time.Millisecond, "daemon did not write its pid file")

	return cmd
}

func TestE2E_DaemonLifecycle(t *testing.T) {
	d := newDevice(t)
	addr := fmt.Sprintf("127.0.0.1:%d", freePort(t))
	d.writeConfig(t, fmt.Sprintf("[sync]\ninterval = \"1h\"\n\n[events]\nlisten_addr = %q\n", addr))

	daemon := d.startDaemon(t)

	t.Run("single_instance", func(t *testing.T) {
		stderr, err := d.runErr("sync", "--watch")
		require.Error(t, err)
		assert.Contains(t, stderr, "already running")
	})

	t.Run("events_on_hangup", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var conn *websocket.Conn

		require.Eventually(t, func() bool {
			c, _, err := websocket.Dial(ctx, "ws://"+addr+"/events", nil)
			if err != nil {
				return false
			}

			conn = c

			return true
		}, 5*time.Second, 50*time.Millisecond)

		defer conn.Close(websocket.StatusNormalClosure, "")

		read := func() eventJSON {
			_, data, err := conn.Read(ctx)
			require.NoError(t, err)

			var ev eventJSON
			require.NoError(t, json.Unmarshal(data, &ev))

			return ev
		}

		assert.Equal(t, "hello", read().Type)

		// "cloud set" nudges the daemon with SIGHUP.
		d.run(t, "cloud", "set", "--project-id", "e2e-nudge")

		ev := read()
		assert.Equal(t, "tasks_changed", ev.Type)
		assert.Equal(t, "local", ev.ProfileKey)
	})

	t.Run("graceful_stop", func(t *testing.T) {
		require.NoError(t, daemon.Process.Signal(syscall.SIGTERM))
		require.NoError(t, daemon.Wait())

		assert.Equal(t, "not running", d.status(t).Daemon)
	})
}
