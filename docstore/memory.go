package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/exp/maps"
)

// MemoryStore is the in-process Store. It backs tests and the gateway
// server. Commits and watch registration serialize on one lock, so each
// watch observes events in commit order.
type MemoryStore struct {
	stateLock   sync.Mutex
	collections map[string]map[string]*memoryDoc
	watchers    map[string][]*memoryWatcher
}

type memoryDoc struct {
	fields  Fields
	version int64
}

type memoryWatcher struct {
	sub    *Subscription
	wheres []Where
	// ids currently matching the predicate, as seen by this watch
	matched map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: map[string]map[string]*memoryDoc{},
		watchers:    map[string][]*memoryWatcher{},
	}
}

func (self *MemoryStore) Get(ctx context.Context, path string, id string) (Document, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	doc, ok := self.collections[path][id]
	if !ok {
		return Document{}, fmt.Errorf("%s/%s: %w", path, id, ErrNotFound)
	}
	return Document{Id: id, Fields: doc.fields.Clone(), Version: doc.version}, nil
}

func (self *MemoryStore) List(ctx context.Context, path string, wheres ...Where) ([]Document, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.listLocked(path, wheres), nil
}

func (self *MemoryStore) listLocked(path string, wheres []Where) []Document {
	docs := []Document{}
	for id, doc := range self.collections[path] {
		if matches(doc.fields, wheres) {
			docs = append(docs, Document{Id: id, Fields: doc.fields.Clone(), Version: doc.version})
		}
	}
	// map order is not delivery order; keep output stable
	sort.Slice(docs, func(i int, j int) bool {
		return docs[i].Id < docs[j].Id
	})
	return docs
}

func (self *MemoryStore) Commit(ctx context.Context, preconds []Precond, ops []Op) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for _, precond := range preconds {
		doc, ok := self.collections[precond.Path][precond.Id]
		if precond.Version == 0 {
			if ok {
				return fmt.Errorf("%s/%s exists: %w", precond.Path, precond.Id, ErrConflict)
			}
			continue
		}
		if !ok || doc.version != precond.Version {
			return fmt.Errorf("%s/%s version changed: %w", precond.Path, precond.Id, ErrConflict)
		}
	}

	// all preconds hold. apply every op, then fan one event per watch.
	diffs := map[*memoryWatcher]*Event{}
	for _, op := range ops {
		self.applyLocked(op, diffs)
	}
	for watcher, event := range diffs {
		watcher.sub.Publish(*event)
	}
	return nil
}

func (self *MemoryStore) applyLocked(op Op, diffs map[*memoryWatcher]*Event) {
	collection, ok := self.collections[op.Path]
	if !ok {
		collection = map[string]*memoryDoc{}
		self.collections[op.Path] = collection
	}

	existing, exists := collection[op.Id]

	switch op.Kind {
	case OpDelete:
		if !exists {
			return
		}
		delete(collection, op.Id)
		for _, watcher := range self.watchers[op.Path] {
			if watcher.matched[op.Id] {
				delete(watcher.matched, op.Id)
				diffFor(diffs, watcher).Removed = append(diffFor(diffs, watcher).Removed, op.Id)
			}
		}
	default:
		version := int64(1)
		if exists {
			version = existing.version + 1
		}
		doc := &memoryDoc{fields: op.Fields.Clone(), version: version}
		collection[op.Id] = doc
		out := Document{Id: op.Id, Fields: doc.fields.Clone(), Version: doc.version}
		for _, watcher := range self.watchers[op.Path] {
			wasMatched := watcher.matched[op.Id]
			isMatched := matches(doc.fields, watcher.wheres)
			diff := diffFor(diffs, watcher)
			switch {
			case isMatched && !wasMatched:
				watcher.matched[op.Id] = true
				diff.Added = append(diff.Added, out)
			case isMatched && wasMatched:
				diff.Modified = append(diff.Modified, out)
			case !isMatched && wasMatched:
				delete(watcher.matched, op.Id)
				diff.Removed = append(diff.Removed, op.Id)
			}
		}
	}
}

func diffFor(diffs map[*memoryWatcher]*Event, watcher *memoryWatcher) *Event {
	event, ok := diffs[watcher]
	if !ok {
		event = &Event{}
		diffs[watcher] = event
	}
	return event
}

func (self *MemoryStore) Watch(ctx context.Context, path string, wheres ...Where) (*Subscription, error) {
	sub := NewSubscription(ctx)

	self.stateLock.Lock()
	snapshot := self.listLocked(path, wheres)
	watcher := &memoryWatcher{
		sub:     sub,
		wheres:  wheres,
		matched: map[string]bool{},
	}
	for _, doc := range snapshot {
		watcher.matched[doc.Id] = true
	}
	self.watchers[path] = append(self.watchers[path], watcher)
	// enqueue under the lock so no commit diff can outrun the snapshot
	sub.Publish(Event{Snapshot: true, Docs: snapshot})
	self.stateLock.Unlock()

	go func() {
		<-sub.Done()
		self.removeWatcher(path, watcher)
	}()

	return sub, nil
}

func (self *MemoryStore) removeWatcher(path string, watcher *memoryWatcher) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	watchers := self.watchers[path]
	for i, w := range watchers {
		if w == watcher {
			self.watchers[path] = append(watchers[0:i], watchers[i+1:]...)
			break
		}
	}
	if len(self.watchers[path]) == 0 {
		delete(self.watchers, path)
	}
}

// Paths lists the collections that currently hold documents.
func (self *MemoryStore) Paths() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	paths := maps.Keys(self.collections)
	sort.Strings(paths)
	return paths
}
