package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	stdsync "sync"

	"github.com/tonimelisma/tasksync/internal/config"
	"github.com/tonimelisma/tasksync/internal/events"
	"github.com/tonimelisma/tasksync/internal/firestore"
	"github.com/tonimelisma/tasksync/internal/identity"
	"github.com/tonimelisma/tasksync/internal/profile"
	"github.com/tonimelisma/tasksync/internal/state"
	"github.com/tonimelisma/tasksync/internal/sync"
	"github.com/tonimelisma/tasksync/internal/vault"
)

// dataDirPermissions keeps the state database private to the user.
const dataDirPermissions = 0o700

// app wires the durable store, profile store, vault, and sync engine for one
// command invocation. The engine's factories read the cloud config on every
// tick, so a daemon picks up "cloud set" and config file edits on reload.
type app struct {
	holder     *config.Holder
	env        config.EnvOverrides
	kv         *state.Store
	profiles   *profile.Store
	cipher     vault.Cipher
	session    *sync.Session
	engine     *sync.Engine
	httpClient *http.Client
	logger     *slog.Logger

	mu     stdsync.Mutex
	stored config.CloudConfig
}

// openApp opens the state database under the configured data directory and
// builds the engine around it. notifier may be nil.
func openApp(ctx context.Context, cc *CLIContext, notifier events.Notifier) (*app, error) {
	cfg := cc.Cfg
	logger := cc.Logger

	if err := os.MkdirAll(cfg.DataDir, dataDirPermissions); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	kv, err := state.Open(ctx, config.StatePath(cfg.DataDir), logger)
	if err != nil {
		return nil, err
	}

	profiles := profile.NewStore(kv, logger)
	profiles.OnLoadIssue(func(issue profile.LoadIssue) {
		fmt.Fprintf(cc.errOut, "Warning: %v; showing it as empty, the record is quarantined on the next change\n", issue)
	})

	active, err := profiles.ActiveKey(ctx)
	if err != nil {
		kv.Close()
		return nil, err
	}

	a := &app{
		holder:     config.NewHolder(cfg, cc.CfgPath),
		env:        cc.Env,
		kv:         kv,
		profiles:   profiles,
		cipher:     vault.New(vault.DefaultService, vault.DefaultAccount, logger),
		session:    sync.NewSession(active),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout()},
		logger:     logger,
	}

	if err := a.reloadStoredCloud(ctx); err != nil {
		kv.Close()
		return nil, err
	}

	a.engine = sync.NewEngine(sync.EngineConfig{
		Profiles:         profiles,
		Tokens:           kv,
		Cipher:           a.cipher,
		NewRefresher:     a.newRefresher,
		NewDocumentStore: a.newDocumentStore,
		Session:          a.session,
		Notifier:         notifier,
		Logger:           logger,
		PullBatchSize:    cfg.Sync.PullBatchSize,
		MaxPullPages:     cfg.Sync.MaxQueryPages,
		RefreshMargin:    cfg.TokenRefreshMargin(),
	})

	return a, nil
}

// Close releases the state database.
func (a *app) Close() {
	if err := a.kv.Close(); err != nil {
		a.logger.Warn("closing state store", slog.String("error", err.Error()))
	}
}

// reloadStoredCloud re-reads the cloud settings written by "cloud set".
func (a *app) reloadStoredCloud(ctx context.Context) error {
	var stored config.CloudConfig

	if _, err := a.kv.GetJSON(ctx, state.KeyCloudConfig, &stored); err != nil {
		return fmt.Errorf("reading stored cloud config: %w", err)
	}

	a.mu.Lock()
	a.stored = stored
	a.mu.Unlock()

	return nil
}

// cloud resolves the effective cloud settings: stored, then file, then env.
func (a *app) cloud() config.CloudConfig {
	a.mu.Lock()
	stored := a.stored
	a.mu.Unlock()

	return config.ResolveCloud(stored, a.holder.Config().Cloud, a.env.Cloud)
}

func (a *app) newRefresher() (sync.Refresher, error) {
	cloud := a.cloud()
	if err := cloud.Ready(); err != nil {
		return nil, err
	}

	return identity.NewFederated(cloud.FirebaseWebAPIKey, a.httpClient, a.logger), nil
}

func (a *app) newDocumentStore(tokens firestore.TokenSource) (sync.DocumentStore, error) {
	cloud := a.cloud()
	if err := cloud.Ready(); err != nil {
		return nil, err
	}

	cfg := a.holder.Config()

	return firestore.NewClient(firestore.Config{
		ProjectID:  cloud.FirebaseProjectID,
		DatabaseID: cloud.FirestoreDatabaseID,
		UserAgent:  cfg.Network.UserAgent,
		PageSize:   cfg.Sync.PullBatchSize,
		MaxPages:   cfg.Sync.MaxQueryPages,
	}, a.httpClient, tokens, a.logger), nil
}

// newLogin assembles the browser sign-in flow from the current cloud config.
func (a *app) newLogin() (*identity.Login, error) {
	cloud := a.cloud()
	if err := cloud.Ready(); err != nil {
		return nil, fmt.Errorf("%w (run 'tasksync cloud set' or edit the [cloud] section)", err)
	}

	return &identity.Login{
		Provider: identity.NewProvider(identity.ProviderConfig{
			ClientID:     cloud.GoogleOAuthClientID,
			ClientSecret: cloud.GoogleOAuthClientSecret,
		}, a.httpClient, a.logger),
		Federated: identity.NewFederated(cloud.FirebaseWebAPIKey, a.httpClient, a.logger),
		Manager:   identity.NewManager(a.logger),
		OpenURL:   openBrowser,
		Logger:    a.logger,
	}, nil
}

// activeKey returns the profile the session considers active.
func (a *app) activeKey() string {
	return a.session.Active()
}

// describeSyncError turns engine errors into short user-facing hints.
func describeSyncError(err error) error {
	switch {
	case errors.Is(err, config.ErrCloudNotReady):
		return fmt.Errorf("%w (run 'tasksync cloud set')", err)
	case errors.Is(err, sync.ErrReloginRequired):
		return fmt.Errorf("%w: run 'tasksync login'", err)
	case errors.Is(err, vault.ErrEncryptionUnavailable):
		return fmt.Errorf("%w: an OS keyring (secret service or keychain) is required to store sign-in tokens", err)
	default:
		return err
	}
}
