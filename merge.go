package petsync

import (
	"context"
	"sort"
	"sync"

	"github.com/golang/glog"

	"pawmatch.app/petsync/docstore"
)

type mergeSide int

const (
	mergeSideA mergeSide = 0
	mergeSideB mergeSide = 1
)

type mergeEvent[E any] struct {
	side  mergeSide
	event StreamEvent[E]
}

// DualMerge folds two role-keyed change streams over the same
// collection into one consistent keyed view. A single event loop owns
// the merged map exclusively; the two stream adapters communicate with
// it only by message passing, so interleaving between the two
// subscriptions cannot corrupt the map.
//
// Merge rules:
//   - a snapshot from side P removes every held entry owned by P that
//     is absent from the snapshot, then upserts the snapshot
//   - a diff applies removed by deletion and added/modified by upsert
//   - a given id should only ever satisfy one side's predicate; if both
//     sides deliver the same id, the most recently processed event wins
//
// Replaying an identical event sequence twice yields an identical map.
// After every event the full view is resorted and published.
type DualMerge[E any] struct {
	ctx    context.Context
	cancel context.CancelFunc

	key  func(E) string
	less func(E, E) bool

	events   chan mergeEvent[E]
	adapters [2]*StreamAdapter[E]

	listeners *CallbackList[func([]E)]
	monitor   *Monitor

	stateLock sync.Mutex
	current   []E
	seeded    [2]bool

	closeOnce sync.Once
}

func NewDualMerge[E any](
	ctx context.Context,
	store docstore.Store,
	path string,
	wheresA []docstore.Where,
	wheresB []docstore.Where,
	decode func(docstore.Document) E,
	key func(E) string,
	less func(E, E) bool,
) (*DualMerge[E], error) {
	cancelCtx, cancel := context.WithCancel(ctx)
	merge := &DualMerge[E]{
		ctx:       cancelCtx,
		cancel:    cancel,
		key:       key,
		less:      less,
		events:    make(chan mergeEvent[E]),
		listeners: NewCallbackList[func([]E)](),
		monitor:   NewMonitor(),
		current:   []E{},
	}

	forSide := func(side mergeSide) StreamFunc[E] {
		return func(event StreamEvent[E]) {
			select {
			case merge.events <- mergeEvent[E]{side: side, event: event}:
			case <-cancelCtx.Done():
			}
		}
	}

	adapterA, err := NewStreamAdapter(cancelCtx, store, path, wheresA, decode, forSide(mergeSideA))
	if err != nil {
		cancel()
		return nil, err
	}
	adapterB, err := NewStreamAdapter(cancelCtx, store, path, wheresB, decode, forSide(mergeSideB))
	if err != nil {
		adapterA.Close()
		cancel()
		return nil, err
	}
	merge.adapters = [2]*StreamAdapter[E]{adapterA, adapterB}

	go merge.run()
	return merge, nil
}

func (self *DualMerge[E]) run() {
	// owned by this goroutine only
	entities := map[string]E{}
	sideOf := map[string]mergeSide{}

	for {
		select {
		case <-self.ctx.Done():
			return
		case next := <-self.events:
			self.apply(entities, sideOf, next)
			self.publish(entities)
		}
	}
}

func (self *DualMerge[E]) apply(entities map[string]E, sideOf map[string]mergeSide, next mergeEvent[E]) {
	event := next.event
	if event.Snapshot {
		// reseed this side: entries owned by the side that stopped
		// matching its predicate are dropped
		inSnapshot := map[string]bool{}
		for _, entity := range event.Entities {
			inSnapshot[self.key(entity)] = true
		}
		for id, side := range sideOf {
			if side == next.side && !inSnapshot[id] {
				delete(entities, id)
				delete(sideOf, id)
			}
		}
		for _, entity := range event.Entities {
			id := self.key(entity)
			entities[id] = entity
			sideOf[id] = next.side
		}

		self.stateLock.Lock()
		self.seeded[next.side] = true
		self.stateLock.Unlock()
		return
	}

	for _, id := range event.Removed {
		delete(entities, id)
		delete(sideOf, id)
	}
	for _, entity := range append(event.Added, event.Modified...) {
		id := self.key(entity)
		if side, ok := sideOf[id]; ok && side != next.side {
			// same id delivered by both predicates. should not happen
			// for a fixed local profile; tolerate with last event wins.
			glog.Infof("[merge]cross predicate id %s\n", id)
		}
		entities[id] = entity
		sideOf[id] = next.side
	}
}

func (self *DualMerge[E]) publish(entities map[string]E) {
	view := make([]E, 0, len(entities))
	for _, entity := range entities {
		view = append(view, entity)
	}
	sort.SliceStable(view, func(i int, j int) bool {
		return self.less(view[i], view[j])
	})

	self.stateLock.Lock()
	self.current = view
	self.stateLock.Unlock()
	self.monitor.NotifyAll()

	for _, listener := range self.listeners.Get() {
		func(listener func([]E)) {
			HandleError(func() {
				listener(view)
			})
		}(listener)
	}
}

// Current returns the last published view.
func (self *DualMerge[E]) Current() []E {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.current
}

// UpdateChannel returns a channel that closes on the next published
// view, to await changes without registering a callback. Pair with
// Current in a loop.
func (self *DualMerge[E]) UpdateChannel() <-chan struct{} {
	return self.monitor.NotifyChannel()
}

// Seeded reports whether both predicates have delivered their first
// snapshot.
func (self *DualMerge[E]) Seeded() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.seeded[mergeSideA] && self.seeded[mergeSideB]
}

// AddListener registers an observer and immediately delivers the
// current view to it. Returns the unregister func.
func (self *DualMerge[E]) AddListener(listener func([]E)) func() {
	unsub := self.listeners.Add(listener)
	HandleError(func() {
		listener(self.Current())
	})
	return unsub
}

// Close unsubscribes both streams and stops the loop. Idempotent.
func (self *DualMerge[E]) Close() {
	self.closeOnce.Do(func() {
		self.adapters[0].Close()
		self.adapters[1].Close()
		self.cancel()
	})
}
