package petsync

import (
	"sync"
	"time"
)

// CallbackList is an observer registry. Callbacks are keyed so that
// add returns an unsubscribe func; the list is copied on read so
// callbacks can add/remove during dispatch.
type CallbackList[T any] struct {
	stateLock   sync.Mutex
	callbacks   map[int]T
	nextOrder   []int
	callbackSeq int
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbacks: map[int]T{},
	}
}

func (self *CallbackList[T]) Add(callback T) func() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callbackId := self.callbackSeq
	self.callbackSeq += 1
	self.callbacks[callbackId] = callback
	self.nextOrder = append(self.nextOrder, callbackId)

	return func() {
		self.remove(callbackId)
	}
}

func (self *CallbackList[T]) remove(callbackId int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	delete(self.callbacks, callbackId)
	for i, id := range self.nextOrder {
		if id == callbackId {
			self.nextOrder = append(self.nextOrder[0:i], self.nextOrder[i+1:]...)
			break
		}
	}
}

// Get returns the callbacks in registration order.
func (self *CallbackList[T]) Get() []T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callbacks := make([]T, 0, len(self.callbacks))
	for _, callbackId := range self.nextOrder {
		if callback, ok := self.callbacks[callbackId]; ok {
			callbacks = append(callbacks, callback)
		}
	}
	return callbacks
}

func (self *CallbackList[T]) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.callbacks)
}

// Monitor broadcasts state changes. NotifyChannel returns a channel
// that closes on the next notifyAll.
type Monitor struct {
	stateLock sync.Mutex
	update    chan struct{}
}

func NewMonitor() *Monitor {
	return &Monitor{
		update: make(chan struct{}),
	}
}

func (self *Monitor) NotifyChannel() <-chan struct{} {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.update
}

func (self *Monitor) NotifyAll() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	close(self.update)
	self.update = make(chan struct{})
}

// Reconnect spaces reconnect attempts by a fixed timeout measured from
// the start of the attempt.
type Reconnect struct {
	start   time.Time
	timeout time.Duration
}

func NewReconnect(timeout time.Duration) *Reconnect {
	return &Reconnect{
		start:   time.Now(),
		timeout: timeout,
	}
}

func (self *Reconnect) After() <-chan time.Time {
	remaining := self.timeout - time.Since(self.start)
	if remaining <= 0 {
		out := make(chan time.Time, 1)
		out <- time.Now()
		return out
	}
	return time.After(remaining)
}
