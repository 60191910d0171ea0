package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

/*
Document store contract used by the sync engine:
- collections addressed by slash path, e.g. `chatThreads` or
  `chatThreads/<threadId>/messages`
- documents are loosely typed field maps; readers default missing fields
- filtered watch delivers one full snapshot and then incremental diffs,
  in remote write order for a single watch
- atomic commits with version preconditions; readers build optimistic
  transactions on top and retry on conflict
*/

var (
	ErrNotFound = errors.New("document not found")
	ErrConflict = errors.New("write conflict")
	ErrClosed   = errors.New("store closed")
)

// Fields is the loosely typed document body. Values are restricted to
// what survives a JSON round trip plus time.Time; field readers in the
// engine accept both forms.
type Fields map[string]any

// Document is a committed document with its store version. Version
// increases by 1 on every committed write to the document.
type Document struct {
	Id      string
	Fields  Fields
	Version int64
}

// Where is an equality predicate on a single field.
type Where struct {
	Field string
	Value any
}

func Eq(field string, value any) Where {
	return Where{Field: field, Value: value}
}

type OpKind int

const (
	OpSet OpKind = iota
	OpCreate
	OpDelete
)

// Op is one write in an atomic commit.
type Op struct {
	Kind   OpKind
	Path   string
	Id     string
	Fields Fields
}

// Precond pins a document version for an atomic commit.
// Version 0 means the document must not exist.
type Precond struct {
	Path    string
	Id      string
	Version int64
}

// Event is one watch delivery. The first event for a watch is always a
// snapshot. Exactly one of Snapshot or the diff fields is populated,
// unless Err is set, in which case the rest is empty.
type Event struct {
	Snapshot bool
	Docs     []Document

	Added    []Document
	Modified []Document
	Removed  []string

	Err error
}

// Store is implemented by the in-memory store and by the websocket
// remote store. All methods are safe for concurrent use.
type Store interface {
	Get(ctx context.Context, path string, id string) (Document, error)
	List(ctx context.Context, path string, wheres ...Where) ([]Document, error)

	// Commit atomically applies ops if all preconds hold.
	// Returns ErrConflict if any precond fails.
	Commit(ctx context.Context, preconds []Precond, ops []Op) error

	// Watch subscribes to the documents in path matching all wheres.
	// The subscription stays open across store errors; errors are
	// delivered as events.
	Watch(ctx context.Context, path string, wheres ...Where) (*Subscription, error)
}

// Set is a single unconditional upsert.
func Set(ctx context.Context, s Store, path string, id string, fields Fields) error {
	return s.Commit(ctx, nil, []Op{{Kind: OpSet, Path: path, Id: id, Fields: fields}})
}

// Create inserts the document only if it does not exist yet.
// Returns created=false with no error when the document already exists,
// so concurrent create-if-absent races settle on exactly one document.
func Create(ctx context.Context, s Store, path string, id string, fields Fields) (bool, error) {
	err := s.Commit(
		ctx,
		[]Precond{{Path: path, Id: id, Version: 0}},
		[]Op{{Kind: OpCreate, Path: path, Id: id, Fields: fields}},
	)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrConflict) {
		return false, nil
	}
	return false, err
}

// Delete removes the document. Deleting an absent document is a no-op.
func Delete(ctx context.Context, s Store, path string, id string) error {
	return s.Commit(ctx, nil, []Op{{Kind: OpDelete, Path: path, Id: id}})
}

func matches(fields Fields, wheres []Where) bool {
	for _, w := range wheres {
		v, ok := fields[w.Field]
		if !ok {
			return false
		}
		if !valuesEqual(v, w.Value) {
			return false
		}
	}
	return true
}

// valuesEqual compares field values across the json/native boundary.
// Numbers compare by value so that int64(1) from the memory store and
// float64(1) from a json decode are the same predicate target.
func valuesEqual(a any, b any) bool {
	if ta, ok := toTime(a); ok {
		tb, ok := toTime(b)
		return ok && ta.Equal(tb)
	}
	if na, ok := toFloat(a); ok {
		nb, ok := toFloat(b)
		return ok && na == nb
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

func (self Fields) Clone() Fields {
	out := make(Fields, len(self))
	for k, v := range self {
		out[k] = v
	}
	return out
}

func (self *Document) Clone() Document {
	return Document{
		Id:      self.Id,
		Fields:  self.Fields.Clone(),
		Version: self.Version,
	}
}

func (self Op) String() string {
	switch self.Kind {
	case OpCreate:
		return fmt.Sprintf("create %s/%s", self.Path, self.Id)
	case OpDelete:
		return fmt.Sprintf("delete %s/%s", self.Path, self.Id)
	default:
		return fmt.Sprintf("set %s/%s", self.Path, self.Id)
	}
}
