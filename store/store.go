// Package store keeps typed document collections in badger and delivers
// change notifications for them.
//
// Each document is the JSON encoding of its entity under the key
// "<collection>/<id>". A collection's change feed reports whether each
// write added, modified, or removed a document.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
	"github.com/go-json-experiment/json"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Op is the kind of change to a document.
type Op int

const (
	Added Op = iota
	Modified
	Removed
)

func (op Op) String() string {
	switch op {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("Op(%d)", int(op))
	}
}

// Event is a change to a document.
type Event[T any] struct {
	Op Op
	ID string
	// Value is the new document. It is nil for removals.
	Value *T
}

// Collection is a typed collection of documents.
type Collection[T any] struct {
	db     *badger.DB
	prefix []byte
}

// New opens a collection in a badger database.
func New[T any](db *badger.DB, name string) *Collection[T] {
	return &Collection[T]{db: db, prefix: []byte(name + "/")}
}

func (c *Collection[T]) key(id string) []byte {
	k := make([]byte, 0, len(c.prefix)+len(id))
	k = append(k, c.prefix...)
	return append(k, id...)
}

// Get retrieves a document.
func (c *Collection[T]) Get(ctx context.Context, id string) (*T, error) {
	var v T
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.key(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(b []byte) error { return json.Unmarshal(b, &v) })
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't get %s%s: %w", c.prefix, id, err)
	}
	return &v, nil
}

// Set writes a document, replacing any existing one.
func (c *Collection[T]) Set(ctx context.Context, id string, v *T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("couldn't encode %s%s: %w", c.prefix, id, err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(c.key(id), b)
	})
	if err != nil {
		return fmt.Errorf("couldn't set %s%s: %w", c.prefix, id, err)
	}
	return nil
}

// Delete removes a document. Deleting a document which does not exist is
// not an error.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(c.key(id))
	})
	if err != nil {
		return fmt.Errorf("couldn't delete %s%s: %w", c.prefix, id, err)
	}
	return nil
}

// Doc is a document with its ID.
type Doc[T any] struct {
	ID    string
	Value *T
}

// All retrieves every document in the collection, ordered by ID.
func (c *Collection[T]) All(ctx context.Context) ([]Doc[T], error) {
	return c.Scan(ctx, "")
}

// Scan retrieves every document whose ID begins with a prefix, ordered by ID.
func (c *Collection[T]) Scan(ctx context.Context, prefix string) ([]Doc[T], error) {
	var r []Doc[T]
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = c.key(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id := string(bytes.TrimPrefix(item.Key(), c.prefix))
			var v T
			if err := item.Value(func(b []byte) error { return json.Unmarshal(b, &v) }); err != nil {
				return fmt.Errorf("couldn't decode %s: %w", id, err)
			}
			r = append(r, Doc[T]{ID: id, Value: &v})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't list %s: %w", c.prefix, err)
	}
	return r, nil
}

// Watch calls fn for each change to the collection until ctx is canceled.
// Documents existing when Watch starts are known, so their first change is
// reported as a modification. Watch returns the context error on
// cancellation.
// Documents which fail to decode are logged and skipped.
func (c *Collection[T]) Watch(ctx context.Context, fn func(context.Context, Event[T])) error {
	known := make(map[string]bool)
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = c.prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			known[string(bytes.TrimPrefix(it.Item().Key(), c.prefix))] = true
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("couldn't scan %s: %w", c.prefix, err)
	}
	cb := func(kvs *badger.KVList) error {
		for _, kv := range kvs.GetKv() {
			id := string(bytes.TrimPrefix(kv.GetKey(), c.prefix))
			// Deletions are published with no value. Documents are never
			// empty because they are JSON.
			if len(kv.GetValue()) == 0 {
				if !known[id] {
					continue
				}
				delete(known, id)
				fn(ctx, Event[T]{Op: Removed, ID: id})
				continue
			}
			var v T
			if err := json.Unmarshal(kv.GetValue(), &v); err != nil {
				slog.ErrorContext(ctx, "couldn't decode document", slog.String("key", string(kv.GetKey())), slog.Any("err", err))
				continue
			}
			op := Modified
			if !known[id] {
				op = Added
				known[id] = true
			}
			fn(ctx, Event[T]{Op: op, ID: id, Value: &v})
		}
		return nil
	}
	return c.db.Subscribe(ctx, cb, []pb.Match{{Prefix: c.prefix}})
}
