// Package sync replicates signed-in profiles to Firestore. A tick pushes
// the profile's oplog as document writes and then pulls documents changed
// since the profile's cursor, resolving conflicts last-write-wins on
// updatedAt with ties going to the local copy.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/tasksync/internal/events"
	"github.com/tonimelisma/tasksync/internal/firestore"
	"github.com/tonimelisma/tasksync/internal/identity"
	"github.com/tonimelisma/tasksync/internal/profile"
	"github.com/tonimelisma/tasksync/internal/task"
	"github.com/tonimelisma/tasksync/internal/vault"
)

// Defaults for EngineConfig zero values.
const (
	DefaultPullBatchSize = 200
	DefaultMaxPullPages  = 50
	DefaultRefreshMargin = 60 * time.Second
)

var (
	// ErrReloginRequired means the profile has no usable refresh token; the
	// user must sign in again.
	ErrReloginRequired = errors.New("sync: sign-in required")

	// ErrStaleTick means the profile was switched away from or reset while
	// the tick ran. Nothing computed by the tick was applied locally.
	ErrStaleTick = errors.New("sync: profile changed during tick")

	// ErrLocalProfile is returned by operations that need a signed-in profile.
	ErrLocalProfile = errors.New("sync: operation requires a signed-in profile")
)

// DocumentStore is the remote side of sync. Satisfied by *firestore.Client.
type DocumentStore interface {
	UpsertTask(ctx context.Context, uid string, t task.Task, meta task.Meta) error
	TombstoneTask(ctx context.Context, uid, taskID string, deletedAt time.Time) error
	SetOrder(ctx context.Context, uid string, o firestore.OrderDoc) error
	GetOrder(ctx context.Context, uid string) (*firestore.OrderDoc, error)
	QueryTaskDeltas(ctx context.Context, uid string, since time.Time, limit int) (firestore.DeltaPage, error)
	QueryAllTasks(ctx context.Context, uid string) ([]firestore.TaskDoc, error)
}

// Refresher exchanges a refresh token for a new session. Satisfied by
// *identity.Federated.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (identity.Session, error)
}

// TokenStore persists encrypted refresh tokens by uid. Satisfied by
// *state.Store.
type TokenStore interface {
	RefreshToken(ctx context.Context, uid string) (string, bool, error)
	SetRefreshToken(ctx context.Context, uid, encrypted string) error
	DeleteRefreshToken(ctx context.Context, uid string) error
}

// EngineConfig holds the collaborators of an Engine. The factories are
// called per tick so cloud configuration changes take effect without a
// restart; they return config.ErrCloudNotReady while credentials are
// missing, before any network call is made.
type EngineConfig struct {
	Profiles         *profile.Store
	Tokens           TokenStore
	Cipher           vault.Cipher
	NewRefresher     func() (Refresher, error)
	NewDocumentStore func(tokens firestore.TokenSource) (DocumentStore, error)
	Session          *Session
	Notifier         events.Notifier
	Logger           *slog.Logger

	PullBatchSize int
	MaxPullPages  int
	RefreshMargin time.Duration

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// TickReport summarizes one tick.
type TickReport struct {
	Key          string
	Skipped      bool // local profile, never synced
	Pushed       int
	Pulled       int
	Applied      int
	Discarded    int
	OrderApplied bool
	Cursor       time.Time
	Duration     time.Duration
}

// Changed reports whether the tick changed anything observable.
func (r *TickReport) Changed() bool {
	return r.Pushed > 0 || r.Applied > 0 || r.OrderApplied
}

// Engine runs sync ticks. Ticks for the same profile never overlap:
// concurrent callers share the in-flight tick's result.
type Engine struct {
	cfg      EngineConfig
	logger   *slog.Logger
	ticks    singleflight.Group
	refreshs singleflight.Group
}

// NewEngine creates an Engine, filling defaults for zero-valued options.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.Notifier == nil {
		cfg.Notifier = events.Nop{}
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.PullBatchSize <= 0 {
		cfg.PullBatchSize = DefaultPullBatchSize
	}

	if cfg.MaxPullPages <= 0 {
		cfg.MaxPullPages = DefaultMaxPullPages
	}

	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = DefaultRefreshMargin
	}

	return &Engine{cfg: cfg, logger: cfg.Logger}
}

// Session returns the engine's session context.
func (e *Engine) Session() *Session {
	return e.cfg.Session
}

// Tick pushes and then pulls the given profile. The local profile is
// skipped. A tick whose profile is switched away from or reset before it
// finishes returns ErrStaleTick and applies nothing further.
func (e *Engine) Tick(ctx context.Context, key string) (*TickReport, error) {
	if profile.IsLocal(key) {
		return &TickReport{Key: key, Skipped: true}, nil
	}

	v, err, shared := e.ticks.Do(key, func() (any, error) {
		return e.tick(ctx, key)
	})
	if shared {
		e.logger.Debug("joined in-flight tick", slog.String("profile", key))
	}

	report, _ := v.(*TickReport)

	return report, err
}

func (e *Engine) tick(ctx context.Context, key string) (*TickReport, error) {
	start := e.cfg.Now()
	report := &TickReport{Key: key}

	ticket := e.cfg.Session.Ticket(key)
	if !e.cfg.Session.Valid(ticket) {
		return report, ErrStaleTick
	}

	store, err := e.documentStore(key)
	if err != nil {
		return report, err
	}

	if err := e.push(ctx, ticket, store, report); err != nil {
		return report, err
	}

	if err := e.pull(ctx, ticket, store, report); err != nil {
		return report, err
	}

	report.Duration = e.cfg.Now().Sub(start)

	e.logger.Info("sync tick complete",
		slog.String("profile", key),
		slog.Int("pushed", report.Pushed),
		slog.Int("pulled", report.Pulled),
		slog.Int("applied", report.Applied),
		slog.Int("discarded", report.Discarded),
		slog.Bool("order_applied", report.OrderApplied),
		slog.Duration("duration", report.Duration),
	)

	if report.Changed() {
		e.cfg.Notifier.TasksChanged(key)
	}

	return report, nil
}

// documentStore builds a document store whose requests authenticate as uid.
func (e *Engine) documentStore(uid string) (DocumentStore, error) {
	return e.cfg.NewDocumentStore(firestore.TokenFunc(func(ctx context.Context) (string, error) {
		return e.idToken(ctx, uid)
	}))
}

// commit applies fn to the profile unless the ticket went stale.
func (e *Engine) commit(ctx context.Context, t Ticket, fn func(st *profile.State) error) error {
	_, err := e.cfg.Profiles.Update(ctx, t.Key, func(st *profile.State) error {
		if !e.cfg.Session.Valid(t) {
			return ErrStaleTick
		}

		return fn(st)
	})

	return err
}

// pushPlan returns the ops to replay: task ops first, then order ops, each
// in oplog order. An order write therefore never lands remotely before the
// task writes it refers to.
func pushPlan(oplog []task.Op) []task.Op {
	plan := make([]task.Op, 0, len(oplog))

	for i := range oplog {
		if oplog[i].IsTaskOp() {
			plan = append(plan, oplog[i].Clone())
		}
	}

	for i := range oplog {
		if !oplog[i].IsTaskOp() {
			plan = append(plan, oplog[i].Clone())
		}
	}

	return plan
}

// push replays the captured oplog. Every write of one push carries the same
// timestamp. On failure nothing is removed from the oplog; already-applied
// writes are repeated on the next tick, which is harmless because each
// write sets absolute values.
func (e *Engine) push(ctx context.Context, t Ticket, store DocumentStore, report *TickReport) error {
	st, err := e.cfg.Profiles.Get(ctx, t.Key)
	if err != nil {
		return err
	}

	if len(st.Oplog) == 0 {
		return nil
	}

	plan := pushPlan(st.Oplog)

	// Firestore keeps microseconds but the wire format we write carries
	// milliseconds; truncating keeps pushed and pulled timestamps equal.
	now := e.cfg.Now().UTC().Truncate(time.Millisecond)

	for i := range plan {
		if err := e.replay(ctx, t.Key, store, &plan[i], now); err != nil {
			return fmt.Errorf("sync: pushing %s op %s: %w", plan[i].Type, plan[i].ID, err)
		}
	}

	ids := make([]string, len(plan))
	for i := range plan {
		ids[i] = plan[i].ID
	}

	err = e.commit(ctx, t, func(st *profile.State) error {
		for i := range plan {
			op := &plan[i]

			switch op.Type {
			case task.OpUpsertTask:
				st.TaskMeta[op.Task.ID] = task.Meta{UpdatedAt: now}
			case task.OpDeleteTask:
				st.TaskMeta[op.TaskID] = task.Tombstone(now)
			case task.OpSetOrder:
				st.OrderUpdatedAt = now
			}
		}

		report.Pushed = st.RemoveOps(ids)

		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Debug("pushed oplog",
		slog.String("profile", t.Key),
		slog.Int("ops", report.Pushed),
		slog.Time("stamp", now),
	)

	return nil
}

func (e *Engine) replay(ctx context.Context, uid string, store DocumentStore, op *task.Op, now time.Time) error {
	switch op.Type {
	case task.OpUpsertTask:
		return store.UpsertTask(ctx, uid, *op.Task, task.Meta{UpdatedAt: now})
	case task.OpDeleteTask:
		return store.TombstoneTask(ctx, uid, op.TaskID, now)
	case task.OpSetOrder:
		return store.SetOrder(ctx, uid, firestore.OrderDoc{
			Order:       op.Order,
			ManualOrder: op.ManualOrder,
			UpdatedAt:   now,
		})
	default:
		return fmt.Errorf("unknown op type %q", op.Type)
	}
}

// pull fetches task deltas page by page, committing each page, and then the
// order document.
func (e *Engine) pull(ctx context.Context, t Ticket, store DocumentStore, report *TickReport) error {
	st, err := e.cfg.Profiles.Get(ctx, t.Key)
	if err != nil {
		return err
	}

	cursor := st.Cursor()
	report.Cursor = cursor

	for page := 0; page < e.cfg.MaxPullPages; page++ {
		batch, err := store.QueryTaskDeltas(ctx, t.Key, cursor, e.cfg.PullBatchSize)
		if err != nil {
			return fmt.Errorf("sync: pulling deltas: %w", err)
		}

		if batch.Rows == 0 {
			break
		}

		if skipped := batch.Rows - len(batch.Docs); skipped > 0 {
			e.logger.Warn("skipped undecodable task documents",
				slog.String("profile", t.Key),
				slog.Int("count", skipped),
			)
		}

		err = e.commit(ctx, t, func(st *profile.State) error {
			res := MergeDeltas(st, batch.Docs)
			report.Applied += res.Applied
			report.Discarded += res.Discarded

			if batch.Newest.After(st.Cursor()) {
				newest := batch.Newest.UTC()
				st.SyncCursor = &newest
			}

			cursor = st.Cursor()

			return nil
		})
		if err != nil {
			return err
		}

		report.Pulled += len(batch.Docs)
		report.Cursor = cursor

		if batch.Rows < e.cfg.PullBatchSize {
			break
		}

		if page == e.cfg.MaxPullPages-1 {
			e.logger.Warn("pull stopped at page ceiling, continuing next tick",
				slog.String("profile", t.Key),
				slog.Int("pages", e.cfg.MaxPullPages),
			)
		}
	}

	order, err := store.GetOrder(ctx, t.Key)
	if err != nil {
		return fmt.Errorf("sync: pulling order: %w", err)
	}

	if order == nil {
		return nil
	}

	return e.commit(ctx, t, func(st *profile.State) error {
		report.OrderApplied = MergeOrder(st, *order)
		return nil
	})
}

// MergeResult counts the outcome of MergeDeltas.
type MergeResult struct {
	Applied   int
	Discarded int
}

// MergeDeltas applies remote task documents to st last-write-wins. A delta
// not newer than the local updatedAt is discarded; a newer one replaces the
// local task, or removes it when tombstoned. Documents that fail
// TaskDoc.Validate are discarded. The cursor advances to the newest
// updatedAt seen, discarded deltas included.
func MergeDeltas(st *profile.State, docs []firestore.TaskDoc) MergeResult {
	var res MergeResult

	cursor := st.Cursor()

	for i := range docs {
		doc := &docs[i]
		id := doc.Task.ID

		if doc.Meta.UpdatedAt.After(cursor) {
			cursor = doc.Meta.UpdatedAt
		}

		if doc.Validate() != nil {
			res.Discarded++
			continue
		}

		if local, ok := st.TaskMeta[id]; ok && !doc.Meta.UpdatedAt.After(local.UpdatedAt) {
			res.Discarded++
			continue
		}

		st.TaskMeta[id] = doc.Meta

		if doc.Meta.Deleted() {
			if st.RemoveTask(id) {
				res.Applied++
			}

			continue
		}

		st.PutTask(doc.Task)
		res.Applied++
	}

	cursor = cursor.UTC()
	st.SyncCursor = &cursor

	return res
}

// MergeOrder applies the remote order document when it is newer than the
// local order. Ties keep the local order.
func MergeOrder(st *profile.State, o firestore.OrderDoc) bool {
	if !o.UpdatedAt.After(st.OrderUpdatedAt) {
		return false
	}

	st.TaskOrder = append([]string{}, o.Order...)
	st.ManualOrder = o.ManualOrder
	st.OrderUpdatedAt = o.UpdatedAt

	return true
}
