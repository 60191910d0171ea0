package docstore

import (
	"context"
	"errors"
	"fmt"
)

// Tx is an optimistic transaction. Reads record the versions they saw;
// writes are buffered. The commit applies the writes only if every read
// document (and every read query's thread of documents) is unchanged.
type Tx struct {
	ctx   context.Context
	store Store

	preconds []Precond
	pinned   map[string]bool
	ops      []Op
}

func (self *Tx) pin(path string, id string, version int64) {
	key := path + "/" + id
	if self.pinned[key] {
		return
	}
	self.pinned[key] = true
	self.preconds = append(self.preconds, Precond{Path: path, Id: id, Version: version})
}

// Get reads through to the store and pins the document version.
// A missing document is pinned at version 0 so a concurrent create
// conflicts this transaction.
func (self *Tx) Get(path string, id string) (Document, error) {
	doc, err := self.store.Get(self.ctx, path, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			self.pin(path, id, 0)
		}
		return doc, err
	}
	self.pin(path, id, doc.Version)
	return doc, nil
}

// List reads through to the store and pins every returned document.
// Inserts into the listed collection are not detected; pair List with a
// Get on a parent document that every writer bumps when phantom
// protection matters.
func (self *Tx) List(path string, wheres ...Where) ([]Document, error) {
	docs, err := self.store.List(self.ctx, path, wheres...)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		self.pin(path, doc.Id, doc.Version)
	}
	return docs, nil
}

func (self *Tx) Set(path string, id string, fields Fields) {
	self.ops = append(self.ops, Op{Kind: OpSet, Path: path, Id: id, Fields: fields})
}

func (self *Tx) Create(path string, id string, fields Fields) {
	self.pin(path, id, 0)
	self.ops = append(self.ops, Op{Kind: OpCreate, Path: path, Id: id, Fields: fields})
}

func (self *Tx) Delete(path string, id string) {
	self.ops = append(self.ops, Op{Kind: OpDelete, Path: path, Id: id})
}

// RunTransaction runs fn up to attempts times, retrying on ErrConflict.
// Any other error from fn or from the commit aborts immediately.
func RunTransaction(ctx context.Context, store Store, attempts int, fn func(tx *Tx) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i += 1 {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &Tx{
			ctx:    ctx,
			store:  store,
			pinned: map[string]bool{},
		}
		if err := fn(tx); err != nil {
			if errors.Is(err, ErrConflict) {
				lastErr = err
				continue
			}
			return err
		}
		err := store.Commit(ctx, tx.preconds, tx.ops)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("transaction retries exhausted: %w", lastErr)
}
