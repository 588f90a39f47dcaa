package config

import "sync"

// Holder is the live config of a tasksync process. Commands read it once;
// the sync daemon swaps in a freshly loaded file on SIGHUP or on a config
// file write while ticks keep reading the old snapshot.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewHolder wraps the startup config loaded from path.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{cfg: cfg, path: path}
}

// Config returns the current snapshot. Callers must not mutate it.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path returns the file the config was loaded from, empty when none.
func (h *Holder) Path() string {
	return h.path
}

// Reload installs cfg and returns the snapshot it replaced. The data
// directory is pinned to the startup value: the open state database
// lives there.
func (h *Holder) Reload(cfg *Config) (prev *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev = h.cfg
	if prev != nil {
		cfg.DataDir = prev.DataDir
	}

	h.cfg = cfg

	return prev
}
