package petsync

import (
	"context"
	"sync"

	"github.com/golang/glog"

	"pawmatch.app/petsync/docstore"
)

// StreamEvent is one delivery from a change stream. The first delivery
// for a stream is always a full snapshot; every later delivery is an
// incremental diff keyed by entity id.
type StreamEvent[E any] struct {
	Snapshot bool
	Entities []E

	Added    []E
	Modified []E
	Removed  []string
}

type StreamFunc[E any] func(event StreamEvent[E])

// StreamAdapter subscribes to one filtered collection and converts raw
// documents into typed entities at the boundary. Delivery order matches
// remote write order for the one predicate; there is no ordering across
// adapters. A store error degrades the delivered view to an empty
// snapshot and keeps the subscription open.
type StreamAdapter[E any] struct {
	ctx    context.Context
	cancel context.CancelFunc

	sub      *docstore.Subscription
	decode   func(docstore.Document) E
	callback StreamFunc[E]

	// held while dispatching so Close can guarantee no callback runs
	// after it returns
	dispatchLock sync.Mutex
	closed       bool
}

// NewStreamAdapter opens the subscription and starts delivery. callback
// runs on a single goroutine, one event at a time.
func NewStreamAdapter[E any](
	ctx context.Context,
	store docstore.Store,
	path string,
	wheres []docstore.Where,
	decode func(docstore.Document) E,
	callback StreamFunc[E],
) (*StreamAdapter[E], error) {
	cancelCtx, cancel := context.WithCancel(ctx)
	sub, err := store.Watch(cancelCtx, path, wheres...)
	if err != nil {
		cancel()
		return nil, err
	}
	adapter := &StreamAdapter[E]{
		ctx:      cancelCtx,
		cancel:   cancel,
		sub:      sub,
		decode:   decode,
		callback: callback,
	}
	go adapter.run()
	return adapter, nil
}

func (self *StreamAdapter[E]) run() {
	defer self.sub.Close()

	for {
		select {
		case <-self.ctx.Done():
			return
		case event, ok := <-self.sub.Events():
			if !ok {
				return
			}
			self.dispatch(event)
		}
	}
}

func (self *StreamAdapter[E]) dispatch(event docstore.Event) {
	out := StreamEvent[E]{}
	switch {
	case event.Err != nil:
		// degrade to empty rather than tearing down. future events on
		// the same subscription repopulate the view.
		glog.Infof("[stream]degrade to empty = %s\n", event.Err)
		out.Snapshot = true
		out.Entities = []E{}
	case event.Snapshot:
		out.Snapshot = true
		out.Entities = self.decodeAll(event.Docs)
	default:
		out.Added = self.decodeAll(event.Added)
		out.Modified = self.decodeAll(event.Modified)
		out.Removed = event.Removed
	}

	self.dispatchLock.Lock()
	defer self.dispatchLock.Unlock()
	if self.closed {
		return
	}
	HandleError(func() {
		self.callback(out)
	})
}

func (self *StreamAdapter[E]) decodeAll(docs []docstore.Document) []E {
	entities := make([]E, 0, len(docs))
	for _, doc := range docs {
		entities = append(entities, self.decode(doc))
	}
	return entities
}

// Close unsubscribes. Idempotent. When Close returns no further
// callback will run; an in-flight callback is waited for. Must not be
// called from inside the adapter's own callback.
func (self *StreamAdapter[E]) Close() {
	self.dispatchLock.Lock()
	self.closed = true
	self.dispatchLock.Unlock()
	self.cancel()
}
