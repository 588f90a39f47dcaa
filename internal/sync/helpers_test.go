package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/tasksync/internal/firestore"
	"github.com/tonimelisma/tasksync/internal/identity"
	"github.com/tonimelisma/tasksync/internal/profile"
	"github.com/tonimelisma/tasksync/internal/state"
	"github.com/tonimelisma/tasksync/internal/task"
)

// testLogger returns a debug-level logger that writes to t.Log.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))

	return len(p), nil
}

// ---------------------------------------------------------------------------
// fakeRemote: in-memory document store with Firestore write semantics
// ---------------------------------------------------------------------------

type remoteDoc struct {
	doc firestore.TaskDoc
	// partial marks a document created by a tombstone write alone; it lacks
	// the required task fields and fails to decode.
	partial bool
}

type fakeRemote struct {
	mu     stdsync.Mutex
	docs   map[string]map[string]remoteDoc
	orders map[string]firestore.OrderDoc
	writes []string

	// beforeWrite runs before each write and may fail it.
	beforeWrite func(op string) error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		docs:   make(map[string]map[string]remoteDoc),
		orders: make(map[string]firestore.OrderDoc),
	}
}

func (r *fakeRemote) hook(op string) error {
	r.mu.Lock()
	fn := r.beforeWrite
	r.mu.Unlock()

	if fn == nil {
		return nil
	}

	return fn(op)
}

func (r *fakeRemote) userDocs(uid string) map[string]remoteDoc {
	m, ok := r.docs[uid]
	if !ok {
		m = make(map[string]remoteDoc)
		r.docs[uid] = m
	}

	return m
}

func (r *fakeRemote) seed(uid string, t task.Task, meta task.Meta) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.userDocs(uid)[t.ID] = remoteDoc{doc: firestore.TaskDoc{Task: t, Meta: meta}}
}

func (r *fakeRemote) get(uid, id string) (firestore.TaskDoc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.docs[uid][id]

	return d.doc, ok && !d.partial
}

func (r *fakeRemote) writeLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.writes)
}

func (r *fakeRemote) UpsertTask(_ context.Context, uid string, t task.Task, meta task.Meta) error {
	if err := r.hook("upsert:" + t.ID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// A full update replaces the document, dropping any deletedAt.
	r.userDocs(uid)[t.ID] = remoteDoc{doc: firestore.TaskDoc{Task: t, Meta: task.Meta{UpdatedAt: meta.UpdatedAt}}}
	r.writes = append(r.writes, "upsert:"+t.ID)

	return nil
}

func (r *fakeRemote) TombstoneTask(_ context.Context, uid, taskID string, deletedAt time.Time) error {
	if err := r.hook("delete:" + taskID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	docs := r.userDocs(uid)
	d, ok := docs[taskID]

	if !ok {
		d = remoteDoc{doc: firestore.TaskDoc{Task: task.Task{ID: taskID}}, partial: true}
	}

	d.doc.Meta = task.Tombstone(deletedAt)
	docs[taskID] = d
	r.writes = append(r.writes, "delete:"+taskID)

	return nil
}

func (r *fakeRemote) SetOrder(_ context.Context, uid string, o firestore.OrderDoc) error {
	if err := r.hook("order"); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	o.Order = slices.Clone(o.Order)
	r.orders[uid] = o
	r.writes = append(r.writes, "order")

	return nil
}

func (r *fakeRemote) GetOrder(_ context.Context, uid string) (*firestore.OrderDoc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[uid]
	if !ok {
		return nil, nil
	}

	o.Order = slices.Clone(o.Order)

	return &o, nil
}

func (r *fakeRemote) sorted(uid string, since time.Time) []remoteDoc {
	var out []remoteDoc

	for _, d := range r.docs[uid] {
		if !d.doc.Meta.UpdatedAt.After(since) {
			continue
		}

		out = append(out, d)
	}

	slices.SortFunc(out, func(a, b remoteDoc) int {
		if c := a.doc.Meta.UpdatedAt.Compare(b.doc.Meta.UpdatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.doc.Task.ID, b.doc.Task.ID)
	})

	return out
}

// decodable mirrors the client: partial documents and documents breaking
// the task invariants never decode.
func (d remoteDoc) decodable() bool {
	return !d.partial && d.doc.Validate() == nil
}

func (r *fakeRemote) QueryTaskDeltas(_ context.Context, uid string, since time.Time, limit int) (firestore.DeltaPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.sorted(uid, since)
	if len(rows) > limit {
		rows = rows[:limit]
	}

	page := firestore.DeltaPage{Rows: len(rows)}

	for _, d := range rows {
		if d.doc.Meta.UpdatedAt.After(page.Newest) {
			page.Newest = d.doc.Meta.UpdatedAt
		}

		if d.decodable() {
			page.Docs = append(page.Docs, d.doc)
		}
	}

	return page, nil
}

func (r *fakeRemote) QueryAllTasks(_ context.Context, uid string) ([]firestore.TaskDoc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []firestore.TaskDoc

	for _, d := range r.sorted(uid, time.Time{}) {
		if d.decodable() {
			out = append(out, d.doc)
		}
	}

	return out, nil
}

// authedRemote asks for a token before every call, as the real client does.
type authedRemote struct {
	*fakeRemote
	tokens firestore.TokenSource
	seen   *[]string
	mu     *stdsync.Mutex
}

func (a authedRemote) auth(ctx context.Context) error {
	tok, err := a.tokens.Token(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	*a.seen = append(*a.seen, tok)
	a.mu.Unlock()

	return nil
}

func (a authedRemote) UpsertTask(ctx context.Context, uid string, t task.Task, meta task.Meta) error {
	if err := a.auth(ctx); err != nil {
		return err
	}

	return a.fakeRemote.UpsertTask(ctx, uid, t, meta)
}

func (a authedRemote) TombstoneTask(ctx context.Context, uid, taskID string, deletedAt time.Time) error {
	if err := a.auth(ctx); err != nil {
		return err
	}

	return a.fakeRemote.TombstoneTask(ctx, uid, taskID, deletedAt)
}

func (a authedRemote) SetOrder(ctx context.Context, uid string, o firestore.OrderDoc) error {
	if err := a.auth(ctx); err != nil {
		return err
	}

	return a.fakeRemote.SetOrder(ctx, uid, o)
}

func (a authedRemote) GetOrder(ctx context.Context, uid string) (*firestore.OrderDoc, error) {
	if err := a.auth(ctx); err != nil {
		return nil, err
	}

	return a.fakeRemote.GetOrder(ctx, uid)
}

func (a authedRemote) QueryTaskDeltas(ctx context.Context, uid string, since time.Time, limit int) (firestore.DeltaPage, error) {
	if err := a.auth(ctx); err != nil {
		return firestore.DeltaPage{}, err
	}

	return a.fakeRemote.QueryTaskDeltas(ctx, uid, since, limit)
}

func (a authedRemote) QueryAllTasks(ctx context.Context, uid string) ([]firestore.TaskDoc, error) {
	if err := a.auth(ctx); err != nil {
		return nil, err
	}

	return a.fakeRemote.QueryAllTasks(ctx, uid)
}

// ---------------------------------------------------------------------------
// other fakes
// ---------------------------------------------------------------------------

type fakeCipher struct{}

func (fakeCipher) Encrypt(s string) (string, error) { return "enc:" + s, nil }

func (fakeCipher) Decrypt(s string) (string, error) {
	plain, ok := strings.CutPrefix(s, "enc:")
	if !ok {
		return "", errors.New("not encrypted")
	}

	return plain, nil
}

type fakeRefresher struct {
	mu    stdsync.Mutex
	uid   string
	calls []string
	err   error
	ttl   time.Duration
	now   func() time.Time
}

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken string) (identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, refreshToken)
	if f.err != nil {
		return identity.Session{}, f.err
	}

	n := len(f.calls)

	return identity.Session{
		UID:          f.uid,
		IDToken:      fmt.Sprintf("id-%d", n),
		RefreshToken: fmt.Sprintf("rt-%d", n),
		ExpiresAt:    f.now().Add(f.ttl),
	}, nil
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

type recordingNotifier struct {
	mu      stdsync.Mutex
	changed []string
	errs    []error
	session []string
}

func (n *recordingNotifier) TasksChanged(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changed = append(n.changed, key)
}

func (n *recordingNotifier) SyncError(_ string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, err)
}

func (n *recordingNotifier) SessionChanged(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.session = append(n.session, key)
}

func (n *recordingNotifier) changedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.changed)
}

type testClock struct {
	mu  stdsync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// ---------------------------------------------------------------------------
// harness
// ---------------------------------------------------------------------------

var errCloudNotReady = errors.New("cloud not ready")

type harness struct {
	engine    *Engine
	kv        *state.Store
	profiles  *profile.Store
	session   *Session
	remote    *fakeRemote
	refresher *fakeRefresher
	notifier  *recordingNotifier
	clock     *testClock

	tokensMu   stdsync.Mutex
	tokensSeen []string
	notReady   bool
}

const testUID = "uid-1"

var testEpoch = time.Date(2026, 1, 30, 12, 0, 0, 123456789, time.UTC)

func newHarness(t *testing.T, remote *fakeRemote) *harness {
	t.Helper()

	ctx := context.Background()
	logger := testLogger(t)

	kv, err := state.Open(ctx, filepath.Join(t.TempDir(), "state.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	if remote == nil {
		remote = newFakeRemote()
	}

	h := &harness{
		kv:       kv,
		profiles: profile.NewStore(kv, logger),
		session:  NewSession(profile.LocalKey),
		remote:   remote,
		notifier: &recordingNotifier{},
		clock:    &testClock{now: testEpoch},
	}

	h.refresher = &fakeRefresher{uid: testUID, ttl: time.Hour, now: h.clock.Now}

	h.engine = NewEngine(EngineConfig{
		Profiles: h.profiles,
		Tokens:   kv,
		Cipher:   fakeCipher{},
		NewRefresher: func() (Refresher, error) {
			if h.notReady {
				return nil, errCloudNotReady
			}

			return h.refresher, nil
		},
		NewDocumentStore: func(tokens firestore.TokenSource) (DocumentStore, error) {
			if h.notReady {
				return nil, errCloudNotReady
			}

			return authedRemote{fakeRemote: h.remote, tokens: tokens, seen: &h.tokensSeen, mu: &h.tokensMu}, nil
		},
		Session:  h.session,
		Notifier: h.notifier,
		Logger:   logger,
		Now:      h.clock.Now,
	})

	return h
}

// signIn activates uid with a cached ID token valid for an hour.
func (h *harness) signIn(t *testing.T, uid string) {
	t.Helper()

	require.NoError(t, h.profiles.SetActiveKey(context.Background(), uid))
	h.session.Activate(uid)
	h.session.SetToken(uid, "cached-token", h.clock.Now().Add(time.Hour))
}

func (h *harness) put(t *testing.T, key string, st profile.State) {
	t.Helper()
	require.NoError(t, h.profiles.Put(context.Background(), key, st))
}

func (h *harness) get(t *testing.T, key string) profile.State {
	t.Helper()

	st, err := h.profiles.Get(context.Background(), key)
	require.NoError(t, err)

	return st
}

func mkTask(id, title string, created time.Time) task.Task {
	return task.Task{
		ID:        id,
		Title:     title,
		Deadline:  created.Add(24 * time.Hour),
		Status:    task.StatusActive,
		CreatedAt: created,
	}
}

func ms(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// sessionFor returns a freshly signed-in session for uid.
func sessionFor(h *harness, uid string) identity.Session {
	return identity.Session{
		UID:          uid,
		IDToken:      "login-id-token",
		RefreshToken: "login-refresh-token",
		ExpiresAt:    h.clock.Now().Add(time.Hour),
		Email:        "user@example.com",
		DisplayName:  "Test User",
	}
}
