package sync

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/tonimelisma/tasksync/internal/firestore"
	"github.com/tonimelisma/tasksync/internal/identity"
	"github.com/tonimelisma/tasksync/internal/profile"
	"github.com/tonimelisma/tasksync/internal/task"
)

// LoginReport summarizes a first-login merge.
type LoginReport struct {
	UID        string
	FromKey    string
	Remote     int // live remote tasks adopted
	LocalAdded int // local-only tasks queued for upload
}

// MergeFirstLogin builds the initial state of a signed-in profile from the
// complete remote task set and the tasks of the profile the user signed in
// from. Remote tasks win over local tasks with the same id and tombstoned
// remote tasks stay deleted. Remote documents failing TaskDoc.Validate are
// ignored apart from the cursor. Local-only tasks are appended, stamped with
// now, and queued as upserts. The result depends only on the inputs.
func MergeFirstLogin(local profile.State, remote []firestore.TaskDoc, order *firestore.OrderDoc, now time.Time) profile.State {
	st := profile.Empty()
	present := make(map[string]struct{}, len(remote))

	var cursor time.Time

	for i := range remote {
		doc := &remote[i]

		if doc.Meta.UpdatedAt.After(cursor) {
			cursor = doc.Meta.UpdatedAt
		}

		if doc.Validate() != nil {
			continue
		}

		present[doc.Task.ID] = struct{}{}
		st.TaskMeta[doc.Task.ID] = doc.Meta

		if !doc.Meta.Deleted() {
			st.PutTask(doc.Task)
		}
	}

	now = now.UTC()

	for _, t := range local.Tasks {
		if _, ok := present[t.ID]; ok {
			continue
		}

		st.PutTask(t)
		st.TaskMeta[t.ID] = task.Meta{UpdatedAt: now}
		st.Oplog = append(st.Oplog, task.NewUpsertOp(t, now))
	}

	switch {
	case order != nil:
		MergeOrder(&st, *order)
	case local.ManualOrder:
		st.TaskOrder = slices.DeleteFunc(slices.Clone(local.TaskOrder), func(id string) bool {
			_, ok := st.Task(id)
			return !ok
		})
		st.ManualOrder = true
		st.OrderUpdatedAt = now
		st.Oplog = append(st.Oplog, task.NewSetOrderOp(st.TaskOrder, true, now))
	}

	if len(remote) > 0 {
		cursor = cursor.UTC()
		st.SyncCursor = &cursor
	}

	return st
}

// CompleteLogin turns a fresh session into the active profile: it stores
// the encrypted refresh token, caches the ID token, merges the remote task
// set with the tasks of the currently active profile, and activates the
// uid profile. The profile signed in from is left untouched.
func (e *Engine) CompleteLogin(ctx context.Context, sess identity.Session) (*LoginReport, error) {
	uid := sess.UID
	fromKey := e.cfg.Session.Active()

	encrypted, err := e.cfg.Cipher.Encrypt(sess.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("sync: encrypting refresh token: %w", err)
	}

	if err := e.cfg.Tokens.SetRefreshToken(ctx, uid, encrypted); err != nil {
		return nil, err
	}

	e.cfg.Session.SetToken(uid, sess.IDToken, sess.ExpiresAt)

	now := e.cfg.Now().UTC()

	if err := e.cfg.Profiles.SetSummary(ctx, profile.Summary{
		Key:         uid,
		UID:         uid,
		Email:       sess.Email,
		DisplayName: sess.DisplayName,
		SignedInAt:  now,
	}); err != nil {
		return nil, err
	}

	store, err := e.documentStore(uid)
	if err != nil {
		return nil, err
	}

	remote, err := store.QueryAllTasks(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("sync: fetching remote tasks: %w", err)
	}

	order, err := store.GetOrder(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("sync: fetching remote order: %w", err)
	}

	source, err := e.cfg.Profiles.Get(ctx, fromKey)
	if err != nil {
		return nil, err
	}

	merged := MergeFirstLogin(source, remote, order, now.Truncate(time.Millisecond))
	report := &LoginReport{UID: uid, FromKey: fromKey}

	for i := range merged.Oplog {
		if merged.Oplog[i].Type == task.OpUpsertTask {
			report.LocalAdded++
		}
	}

	for i := range remote {
		if !remote[i].Meta.Deleted() {
			report.Remote++
		}
	}

	// Ops still pending from an earlier session of the same uid go first.
	_, err = e.cfg.Profiles.Update(ctx, uid, func(st *profile.State) error {
		pending := st.Oplog
		*st = merged.Clone()
		st.Oplog = append(pending, st.Oplog...)

		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.Activate(ctx, uid); err != nil {
		return nil, err
	}

	e.logger.Info("signed in",
		slog.String("uid", uid),
		slog.String("from_profile", fromKey),
		slog.Int("remote_tasks", report.Remote),
		slog.Int("local_tasks_queued", report.LocalAdded),
	)

	e.cfg.Notifier.TasksChanged(uid)

	return report, nil
}

// Activate switches the active profile. Ticks in flight for the previous
// profile are discarded when they finish.
func (e *Engine) Activate(ctx context.Context, key string) error {
	if err := e.cfg.Profiles.SetActiveKey(ctx, key); err != nil {
		return err
	}

	e.cfg.Session.Activate(key)
	e.cfg.Notifier.SessionChanged(key)

	e.logger.Info("activated profile", slog.String("profile", key))

	return nil
}

// SignOut forgets the active profile's refresh token and cached ID token
// and switches to the local profile. The profile's data is kept.
func (e *Engine) SignOut(ctx context.Context) (string, error) {
	uid := e.cfg.Session.Active()
	if profile.IsLocal(uid) {
		return "", ErrLocalProfile
	}

	if err := e.cfg.Tokens.DeleteRefreshToken(ctx, uid); err != nil {
		return "", err
	}

	e.cfg.Session.ClearToken(uid)

	if err := e.Activate(ctx, profile.LocalKey); err != nil {
		return "", err
	}

	e.logger.Info("signed out", slog.String("uid", uid))

	return uid, nil
}

// Reset empties the profile, cursor included, and invalidates any tick in
// flight for it. The next tick pulls the complete remote set again.
func (e *Engine) Reset(ctx context.Context, key string) error {
	e.cfg.Session.Invalidate(key)

	if err := e.cfg.Profiles.Reset(ctx, key); err != nil {
		return err
	}

	e.cfg.Notifier.TasksChanged(key)

	return nil
}

// UndeleteAll restores every task tombstoned remotely for a signed-in
// profile and queues upserts so the restore reaches other devices. Returns
// the number of tasks restored.
func (e *Engine) UndeleteAll(ctx context.Context, key string) (int, error) {
	if profile.IsLocal(key) {
		return 0, ErrLocalProfile
	}

	store, err := e.documentStore(key)
	if err != nil {
		return 0, err
	}

	docs, err := store.QueryAllTasks(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("sync: fetching remote tasks: %w", err)
	}

	now := e.cfg.Now().UTC()

	var restored int

	_, err = e.cfg.Profiles.Update(ctx, key, func(st *profile.State) error {
		restored = 0

		for i := range docs {
			doc := &docs[i]
			if !doc.Meta.Deleted() || doc.Validate() != nil {
				continue
			}

			if _, ok := st.Task(doc.Task.ID); ok {
				continue
			}

			st.PutTask(doc.Task)
			st.TaskMeta[doc.Task.ID] = task.Meta{UpdatedAt: doc.Meta.UpdatedAt}
			st.Oplog = append(st.Oplog, task.NewUpsertOp(doc.Task, now))
			restored++
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	if restored > 0 {
		e.logger.Info("restored deleted tasks", slog.String("profile", key), slog.Int("count", restored))
		e.cfg.Notifier.TasksChanged(key)
	}

	return restored, nil
}
