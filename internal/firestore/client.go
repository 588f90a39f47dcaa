package firestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tonimelisma/tasksync/internal/task"
)

// Defaults for the REST endpoint and pagination.
const (
	DefaultBaseURL    = "https://firestore.googleapis.com/v1"
	DefaultDatabaseID = "(default)"
	DefaultPageSize   = 200
	DefaultMaxPages   = 50
	defaultUserAgent  = "tasksync/0.1"

	tasksCollection = "tasks"
)

// TokenSource provides bearer tokens for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// Token implements TokenSource.
func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Config locates the database.
type Config struct {
	ProjectID  string
	DatabaseID string
	BaseURL    string
	UserAgent  string

	// PageSize and MaxPages bound QueryAllTasks.
	PageSize int
	MaxPages int
}

// Client is a Firestore REST client. It does not retry: a failed call
// fails the caller's attempt, and the next sync tick tries again.
type Client struct {
	cfg        Config
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
}

// NewClient creates a Firestore client.
func NewClient(cfg Config, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if cfg.DatabaseID == "" {
		cfg.DatabaseID = DefaultDatabaseID
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}

	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}

	return &Client{cfg: cfg, httpClient: httpClient, token: token, logger: logger}
}

func (c *Client) databaseRoot() string {
	return fmt.Sprintf("projects/%s/databases/%s", c.cfg.ProjectID, c.cfg.DatabaseID)
}

func (c *Client) documentsRoot() string {
	return c.databaseRoot() + "/documents"
}

// TaskDocName is the resource name of a task document.
func (c *Client) TaskDocName(uid, taskID string) string {
	return fmt.Sprintf("%s/users/%s/%s/%s", c.documentsRoot(), uid, tasksCollection, taskID)
}

// OrderDocName is the resource name of the user's order document.
func (c *Client) OrderDocName(uid string) string {
	return fmt.Sprintf("%s/users/%s/meta/order", c.documentsRoot(), uid)
}

// Write is one entry of a commit request.
type Write struct {
	Update     *Document     `json:"update,omitempty"`
	UpdateMask *DocumentMask `json:"updateMask,omitempty"`
}

// DocumentMask limits an update to the listed fields.
type DocumentMask struct {
	FieldPaths []string `json:"fieldPaths"`
}

// Commit applies writes atomically.
func (c *Client) Commit(ctx context.Context, writes []Write) error {
	body := struct {
		Writes []Write `json:"writes"`
	}{Writes: writes}

	return c.do(ctx, http.MethodPost, c.databaseRoot()+"/documents:commit", body, nil)
}

// UpsertTask writes every task field plus metadata, replacing the document.
func (c *Client) UpsertTask(ctx context.Context, uid string, t task.Task, meta task.Meta) error {
	return c.Commit(ctx, []Write{{
		Update: &Document{Name: c.TaskDocName(uid, t.ID), Fields: EncodeTaskFields(t, meta)},
	}})
}

// TombstoneTask sets deletedAt and updatedAt only. The field mask leaves
// the rest of the document intact.
func (c *Client) TombstoneTask(ctx context.Context, uid, taskID string, deletedAt time.Time) error {
	return c.Commit(ctx, []Write{{
		Update: &Document{
			Name: c.TaskDocName(uid, taskID),
			Fields: map[string]Value{
				fieldDeletedAt: Timestamp(deletedAt),
				fieldUpdatedAt: Timestamp(deletedAt),
			},
		},
		UpdateMask: &DocumentMask{FieldPaths: []string{fieldDeletedAt, fieldUpdatedAt}},
	}})
}

// SetOrder replaces the order document.
func (c *Client) SetOrder(ctx context.Context, uid string, o OrderDoc) error {
	return c.Commit(ctx, []Write{{
		Update: &Document{Name: c.OrderDocName(uid), Fields: EncodeOrderFields(o)},
	}})
}

// GetOrder reads the order document. It returns nil when none exists.
func (c *Client) GetOrder(ctx context.Context, uid string) (*OrderDoc, error) {
	var doc Document

	err := c.do(ctx, http.MethodGet, c.OrderDocName(uid), nil, &doc)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	o, err := DecodeOrderDocument(doc)
	if err != nil {
		c.logger.Warn("ignoring undecodable order document",
			slog.String("uid", uid),
			slog.String("error", err.Error()),
		)

		return nil, nil
	}

	return &o, nil
}

type fieldRef struct {
	FieldPath string `json:"fieldPath"`
}

type collectionSelector struct {
	CollectionID string `json:"collectionId"`
}

type fieldFilter struct {
	Field fieldRef `json:"field"`
	Op    string   `json:"op"`
	Value Value    `json:"value"`
}

type filter struct {
	FieldFilter fieldFilter `json:"fieldFilter"`
}

type queryOrder struct {
	Field     fieldRef `json:"field"`
	Direction string   `json:"direction"`
}

type structuredQuery struct {
	From    []collectionSelector `json:"from"`
	Where   filter               `json:"where"`
	OrderBy []queryOrder         `json:"orderBy"`
	Limit   int                  `json:"limit"`
}

type runQueryRow struct {
	Document       *Document `json:"document,omitempty"`
	ReadTime       string    `json:"readTime,omitempty"`
	SkippedResults int       `json:"skippedResults,omitempty"`
	Done           bool      `json:"done,omitempty"`
}

// QueryTaskDeltas returns up to limit task documents with updatedAt
// strictly after since, ascending by updatedAt. Undecodable documents are
// left out of Docs but still counted in Rows and Newest.
func (c *Client) QueryTaskDeltas(ctx context.Context, uid string, since time.Time, limit int) (DeltaPage, error) {
	q := structuredQuery{
		From: []collectionSelector{{CollectionID: tasksCollection}},
		Where: filter{FieldFilter: fieldFilter{
			Field: fieldRef{FieldPath: fieldUpdatedAt},
			Op:    "GREATER_THAN",
			// Full precision, so rows written with sub-millisecond timestamps are not refetched.
			Value: Value{Kind: KindTimestamp, Str: since.UTC().Format(time.RFC3339Nano)},
		}},
		OrderBy: []queryOrder{{Field: fieldRef{FieldPath: fieldUpdatedAt}, Direction: "ASCENDING"}},
		Limit:   limit,
	}

	body := struct {
		StructuredQuery structuredQuery `json:"structuredQuery"`
	}{StructuredQuery: q}

	var rows []runQueryRow

	parent := fmt.Sprintf("%s/users/%s", c.documentsRoot(), uid)
	if err := c.do(ctx, http.MethodPost, parent+":runQuery", body, &rows); err != nil {
		return DeltaPage{}, err
	}

	page := DeltaPage{Docs: make([]TaskDoc, 0, len(rows))}

	for _, row := range rows {
		if row.Document == nil {
			continue
		}

		page.Rows++

		if ts, ok := row.Document.Fields[fieldUpdatedAt].AsTime(); ok && ts.After(page.Newest) {
			page.Newest = ts
		}

		td, err := DecodeTaskDocument(*row.Document)
		if err != nil {
			c.logger.Debug("skipping undecodable task document",
				slog.String("name", row.Document.Name),
				slog.String("error", err.Error()),
			)

			continue
		}

		page.Docs = append(page.Docs, td)
	}

	return page, nil
}

// QueryAllTasks pages through every decodable task document of uid,
// including tombstoned ones. Paging follows the raw rows, so a page of
// undecodable documents does not end it early. Paging stops at an empty
// page or after MaxPages pages.
func (c *Client) QueryAllTasks(ctx context.Context, uid string) ([]TaskDoc, error) {
	var out []TaskDoc

	cursor := time.Unix(0, 0).UTC()

	for page := range c.cfg.MaxPages {
		batch, err := c.QueryTaskDeltas(ctx, uid, cursor, c.cfg.PageSize)
		if err != nil {
			return nil, err
		}

		if batch.Rows == 0 || !batch.Newest.After(cursor) {
			break
		}

		out = append(out, batch.Docs...)
		cursor = batch.Newest

		if page == c.cfg.MaxPages-1 {
			c.logger.Warn("task query reached page ceiling",
				slog.String("uid", uid),
				slog.Int("pages", c.cfg.MaxPages),
			)
		}
	}

	c.logger.Debug("queried all tasks", slog.String("uid", uid), slog.Int("count", len(out)))

	return out, nil
}

// do sends one authenticated request. For non-nil bodies, Content-Type is
// set to application/json; for non-nil out, the response is decoded into it.
func (c *Client) do(ctx context.Context, method, resource string, in, out any) error {
	var body io.Reader

	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("firestore: encoding request: %w", err)
		}

		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+"/"+resource, body)
	if err != nil {
		return fmt.Errorf("firestore: creating request: %w", err)
	}

	tok, err := c.token.Token(ctx)
	if err != nil {
		return fmt.Errorf("firestore: obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("firestore: request canceled: %w", ctx.Err())
		}

		return fmt.Errorf("firestore: %s %s: %w", method, resource, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("firestore: reading response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &APIError{
			Method:     method,
			Path:       resource,
			StatusCode: resp.StatusCode,
			Body:       truncateBody(data),
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	c.logger.Debug("request succeeded",
		slog.String("method", method),
		slog.String("resource", resource),
		slog.Int("status", resp.StatusCode),
	)

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("firestore: decoding response: %w", err)
	}

	return nil
}
