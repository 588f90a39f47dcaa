package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigDir_XDG(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("XDG paths apply on Linux only")
	}

	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	assert.Equal(t, "/xdg/config/tasksync", DefaultConfigDir())
	assert.Equal(t, "/xdg/config/tasksync/config.toml", DefaultConfigPath())

	t.Setenv("XDG_DATA_HOME", "/xdg/data")
	assert.Equal(t, "/xdg/data/tasksync", DefaultDataDir())
}

func TestDataPaths(t *testing.T) {
	assert.Equal(t, filepath.Join("/d", "state.db"), StatePath("/d"))
	assert.Equal(t, filepath.Join("/d", "tasksync.pid"), PIDPath("/d"))
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	assert.Equal(t, filepath.Join(home, "tasks"), ExpandHome("~/tasks"))
	assert.Equal(t, "/abs", ExpandHome("/abs"))
	assert.Equal(t, "~", ExpandHome("~"))
}
