package petsync

import (
	"sync"
	"time"

	"github.com/golang/glog"
)

const DefaultOverlayTimeout = 5 * time.Second

// OverlayStore holds locally created, not yet confirmed entities keyed
// by a temporary id. An entry stays visible until it is reconciled
// against a confirmed counterpart, removed on mutation failure, or
// dropped by the reconciliation timeout. Both the local action path and
// the stream delivery path mutate the store; every update is a single
// read-modify-write under one lock so neither path clobbers the other.
//
// Observers register with AddListener/AddTimeoutListener and are
// published to on every change, replacing the shared-mutable-cell
// bridge this store supersedes.
type OverlayStore[E any] struct {
	timeout time.Duration

	stateLock sync.Mutex
	entries   map[Id]*overlayEntry[E]
	order     []Id

	listeners        *CallbackList[func(pending []E)]
	timeoutListeners *CallbackList[func(tempId Id, entity E)]
}

type overlayEntry[E any] struct {
	entity E
	timer  *time.Timer
}

func NewOverlayStore[E any](timeout time.Duration) *OverlayStore[E] {
	if timeout <= 0 {
		timeout = DefaultOverlayTimeout
	}
	return &OverlayStore[E]{
		timeout:          timeout,
		entries:          map[Id]*overlayEntry[E]{},
		listeners:        NewCallbackList[func(pending []E)](),
		timeoutListeners: NewCallbackList[func(tempId Id, entity E)](),
	}
}

// Add inserts a locally originated entity immediately, independent of
// network completion. The reconciliation timeout starts now: if the
// entry is neither reconciled nor removed in time, it is dropped and
// surfaced to the timeout listeners as delivery-uncertain.
func (self *OverlayStore[E]) Add(tempId Id, entity E) {
	self.stateLock.Lock()
	if _, ok := self.entries[tempId]; ok {
		self.stateLock.Unlock()
		return
	}
	entry := &overlayEntry[E]{entity: entity}
	entry.timer = time.AfterFunc(self.timeout, func() {
		self.expire(tempId)
	})
	self.entries[tempId] = entry
	self.order = append(self.order, tempId)
	pending := self.pendingLocked()
	self.stateLock.Unlock()

	self.publish(pending)
}

// Remove drops the entry, used on mutation failure. Returns the entity
// so the caller can restore the user's input.
func (self *OverlayStore[E]) Remove(tempId Id) (entity E, ok bool) {
	self.stateLock.Lock()
	entry, ok := self.entries[tempId]
	if !ok {
		self.stateLock.Unlock()
		return
	}
	entry.timer.Stop()
	self.deleteLocked(tempId)
	entity = entry.entity
	pending := self.pendingLocked()
	self.stateLock.Unlock()

	self.publish(pending)
	return entity, true
}

// Reconcile matches confirmed entities against pending ones and drops
// the superseded pending entries. Each confirmed entity consumes at
// most one pending entry, and each pending entry is consumed by at
// most one confirmed entity. Unmatched entries survive.
func (self *OverlayStore[E]) Reconcile(confirmed []E, match func(pending E, confirmed E) bool) {
	self.stateLock.Lock()
	dropped := 0
	for _, confirmedEntity := range confirmed {
		for _, tempId := range self.order {
			entry, ok := self.entries[tempId]
			if !ok {
				continue
			}
			if match(entry.entity, confirmedEntity) {
				entry.timer.Stop()
				self.deleteLocked(tempId)
				dropped += 1
				break
			}
		}
	}
	if dropped == 0 {
		self.stateLock.Unlock()
		return
	}
	pending := self.pendingLocked()
	self.stateLock.Unlock()

	if glog.V(2) {
		glog.Infof("[overlay]reconciled %d, %d pending\n", dropped, len(pending))
	}
	self.publish(pending)
}

// Pending returns the surviving entries in insertion order.
func (self *OverlayStore[E]) Pending() []E {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.pendingLocked()
}

func (self *OverlayStore[E]) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.entries)
}

// AddListener observes the pending set. Returns the unregister func.
func (self *OverlayStore[E]) AddListener(listener func(pending []E)) func() {
	return self.listeners.Add(listener)
}

// AddTimeoutListener observes reconciliation-timeout drops.
func (self *OverlayStore[E]) AddTimeoutListener(listener func(tempId Id, entity E)) func() {
	return self.timeoutListeners.Add(listener)
}

// Close stops all timers. Entries are kept; in-flight mutations can
// still reconcile or roll back after the originating view closed.
func (self *OverlayStore[E]) Close() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for _, entry := range self.entries {
		entry.timer.Stop()
	}
}

func (self *OverlayStore[E]) expire(tempId Id) {
	self.stateLock.Lock()
	entry, ok := self.entries[tempId]
	if !ok {
		self.stateLock.Unlock()
		return
	}
	self.deleteLocked(tempId)
	pending := self.pendingLocked()
	self.stateLock.Unlock()

	glog.Infof("[overlay]timeout %s\n", tempId)
	self.publish(pending)
	for _, listener := range self.timeoutListeners.Get() {
		listener := listener
		HandleError(func() {
			listener(tempId, entry.entity)
		})
	}
}

func (self *OverlayStore[E]) deleteLocked(tempId Id) {
	delete(self.entries, tempId)
	for i, id := range self.order {
		if id == tempId {
			self.order = append(self.order[0:i], self.order[i+1:]...)
			break
		}
	}
}

func (self *OverlayStore[E]) pendingLocked() []E {
	pending := make([]E, 0, len(self.order))
	for _, tempId := range self.order {
		if entry, ok := self.entries[tempId]; ok {
			pending = append(pending, entry.entity)
		}
	}
	return pending
}

func (self *OverlayStore[E]) publish(pending []E) {
	for _, listener := range self.listeners.Get() {
		listener := listener
		HandleError(func() {
			listener(pending)
		})
	}
}
