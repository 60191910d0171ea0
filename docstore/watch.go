package docstore

import (
	"context"
	"sync"

	"github.com/golang/glog"
)

// Subscription delivers watch events in order on a single channel.
// Writers enqueue without blocking; a pump goroutine drains the queue
// so a slow consumer never stalls the store. Close is idempotent.
type Subscription struct {
	ctx    context.Context
	cancel context.CancelFunc

	stateLock sync.Mutex
	queue     []Event
	notify    chan struct{}

	events chan Event

	closeOnce sync.Once
}

// NewSubscription creates an unattached subscription. Store
// implementations publish events into it.
func NewSubscription(ctx context.Context) *Subscription {
	cancelCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		ctx:    cancelCtx,
		cancel: cancel,
		notify: make(chan struct{}, 1),
		events: make(chan Event),
	}
	go sub.pump()
	return sub
}

// Events returns the delivery channel. The channel is closed after the
// subscription is closed and the queue has drained.
func (self *Subscription) Events() <-chan Event {
	return self.events
}

// Close stops delivery. Events already handed to the consumer are
// unaffected; queued undelivered events are dropped.
func (self *Subscription) Close() {
	self.closeOnce.Do(func() {
		self.cancel()
	})
}

func (self *Subscription) Done() <-chan struct{} {
	return self.ctx.Done()
}

// Publish appends one event for delivery. Events published after
// Close are dropped.
func (self *Subscription) Publish(event Event) {
	select {
	case <-self.ctx.Done():
		return
	default:
	}

	self.stateLock.Lock()
	self.queue = append(self.queue, event)
	self.stateLock.Unlock()

	select {
	case self.notify <- struct{}{}:
	default:
	}
}

func (self *Subscription) pump() {
	defer close(self.events)

	for {
		self.stateLock.Lock()
		var next Event
		hasNext := false
		if 0 < len(self.queue) {
			next = self.queue[0]
			self.queue = self.queue[1:]
			hasNext = true
		}
		self.stateLock.Unlock()

		if hasNext {
			select {
			case self.events <- next:
			case <-self.ctx.Done():
				return
			}
			continue
		}

		select {
		case <-self.notify:
		case <-self.ctx.Done():
			return
		}
	}
}

// Fail degrades the watch without tearing it down. The subscription
// stays open for future events per the stream error policy.
func (self *Subscription) Fail(err error) {
	glog.Infof("[docstore]watch error = %s\n", err)
	self.Publish(Event{Err: err})
}
