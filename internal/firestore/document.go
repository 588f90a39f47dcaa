package firestore

import (
	"fmt"
	"path"
	"time"

	"github.com/tonimelisma/tasksync/internal/task"
)

// Document is a Firestore document as returned by the REST API.
type Document struct {
	Name       string           `json:"name"`
	Fields     map[string]Value `json:"fields,omitempty"`
	CreateTime string           `json:"createTime,omitempty"`
	UpdateTime string           `json:"updateTime,omitempty"`
}

// TaskDoc is a decoded task document.
type TaskDoc struct {
	Task task.Task
	Meta task.Meta
}

// DeltaPage is one page of a task delta query. Rows counts every document
// the query returned and Newest is the highest updatedAt among them, so
// undecodable rows still move a pull cursor forward.
type DeltaPage struct {
	Docs   []TaskDoc
	Rows   int
	Newest time.Time
}

// OrderDoc is the decoded per-user order document.
type OrderDoc struct {
	Order       []string
	ManualOrder bool
	UpdatedAt   time.Time
}

// Task document field names.
const (
	fieldTitle       = "title"
	fieldStatus      = "status"
	fieldDeadline    = "deadline"
	fieldCreatedAt   = "createdAt"
	fieldUpdatedAt   = "updatedAt"
	fieldDeletedAt   = "deletedAt"
	fieldOrder       = "order"
	fieldManualOrder = "manualOrder"
)

// EncodeTaskFields maps a task and its metadata onto document fields.
func EncodeTaskFields(t task.Task, meta task.Meta) map[string]Value {
	fields := map[string]Value{
		fieldTitle:     String(t.Title),
		fieldStatus:    String(string(t.Status)),
		fieldDeadline:  Timestamp(t.Deadline),
		fieldCreatedAt: Timestamp(t.CreatedAt),
		fieldUpdatedAt: Timestamp(meta.UpdatedAt),
	}

	if meta.DeletedAt != nil {
		fields[fieldDeletedAt] = Timestamp(*meta.DeletedAt)
	}

	return fields
}

// DecodeTaskDocument reads a task document. The id is the last segment of
// the document name. Title, status, deadline, createdAt, and updatedAt are
// required; anything missing, ill-typed, zero, or a tombstone older than
// updatedAt yields ErrDecode.
func DecodeTaskDocument(doc Document) (TaskDoc, error) {
	id := path.Base(doc.Name)
	if doc.Name == "" || id == "." || id == "/" {
		return TaskDoc{}, fmt.Errorf("%w: no document name", ErrDecode)
	}

	f := doc.Fields

	title, ok := f[fieldTitle].AsString()
	if !ok || title == "" {
		return TaskDoc{}, fmt.Errorf("%w: %s: missing title", ErrDecode, id)
	}

	rawStatus, ok := f[fieldStatus].AsString()
	if !ok {
		return TaskDoc{}, fmt.Errorf("%w: %s: missing status", ErrDecode, id)
	}

	status, err := task.ParseStatus(rawStatus)
	if err != nil {
		return TaskDoc{}, fmt.Errorf("%w: %s: %w", ErrDecode, id, err)
	}

	times := make(map[string]time.Time, 3)

	for _, name := range []string{fieldDeadline, fieldCreatedAt, fieldUpdatedAt} {
		v, present := f[name]
		if !present {
			return TaskDoc{}, fmt.Errorf("%w: %s: missing %s", ErrDecode, id, name)
		}

		ts, ok := v.AsTime()
		if !ok {
			return TaskDoc{}, fmt.Errorf("%w: %s: ill-typed %s", ErrDecode, id, name)
		}

		times[name] = ts
	}

	meta := task.Meta{UpdatedAt: times[fieldUpdatedAt]}

	if v, present := f[fieldDeletedAt]; present {
		if ts, ok := v.AsTime(); ok {
			meta.DeletedAt = &ts
		}
	}

	td := TaskDoc{
		Task: task.Task{
			ID:        id,
			Title:     title,
			Deadline:  times[fieldDeadline],
			Status:    status,
			CreatedAt: times[fieldCreatedAt],
		},
		Meta: meta,
	}

	if err := td.Validate(); err != nil {
		return TaskDoc{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return td, nil
}

// Validate checks the invariants a stored profile enforces on a task and
// its metadata, so a document that passes can be merged without making the
// profile unloadable.
func (d *TaskDoc) Validate() error {
	if err := d.Task.Validate(); err != nil {
		return err
	}

	if d.Meta.UpdatedAt.IsZero() {
		return fmt.Errorf("firestore: zero updatedAt (task %s)", d.Task.ID)
	}

	if d.Meta.DeletedAt != nil && d.Meta.DeletedAt.Before(d.Meta.UpdatedAt) {
		return fmt.Errorf("firestore: task %s deleted before its last update", d.Task.ID)
	}

	return nil
}

// EncodeOrderFields maps the order document onto fields.
func EncodeOrderFields(o OrderDoc) map[string]Value {
	return map[string]Value{
		fieldOrder:       StringArray(o.Order),
		fieldManualOrder: Bool(o.ManualOrder),
		fieldUpdatedAt:   Timestamp(o.UpdatedAt),
	}
}

// DecodeOrderDocument reads the order document. An absent order array is
// treated as empty; updatedAt is required.
func DecodeOrderDocument(doc Document) (OrderDoc, error) {
	updatedAt, ok := doc.Fields[fieldUpdatedAt].AsTime()
	if !ok {
		return OrderDoc{}, fmt.Errorf("%w: order: missing updatedAt", ErrDecode)
	}

	out := OrderDoc{UpdatedAt: updatedAt, Order: []string{}}

	if v, present := doc.Fields[fieldOrder]; present {
		order, ok := v.AsStringArray()
		if !ok {
			return OrderDoc{}, fmt.Errorf("%w: order: ill-typed order", ErrDecode)
		}

		out.Order = order
	}

	out.ManualOrder, _ = doc.Fields[fieldManualOrder].AsBool()

	return out, nil
}
