package petsync

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"pawmatch.app/petsync/docstore"
)

// ThreadView is the live message view for one chat thread: the
// authoritative message stream folded with the optimistic overlay. The
// published list is sorted ascending by timestamp with every pending
// entry either matched to its confirmed echo or surviving alone, never
// both.
type ThreadView struct {
	ctx    context.Context
	cancel context.CancelFunc

	client   *Client
	thread   ChatThread
	threadId string
	otherId  string

	adapter *StreamAdapter[Message]
	overlay *OverlayStore[Message]

	stateLock sync.Mutex
	confirmed map[string]Message
	merged    []Message

	listeners      *CallbackList[func(messages []Message)]
	errorListeners *CallbackList[func(err error)]

	leavePresence func()
	unsubOverlay  func()
	unsubTimeout  func()

	closeOnce sync.Once
}

func newThreadView(client *Client, thread ChatThread) (*ThreadView, error) {
	cancelCtx, cancel := context.WithCancel(client.ctx)

	me := client.identity.ProfileId()
	view := &ThreadView{
		ctx:            cancelCtx,
		cancel:         cancel,
		client:         client,
		thread:         thread,
		threadId:       thread.Id,
		otherId:        thread.Other(me),
		overlay:        NewOverlayStore[Message](client.settings.OverlayTimeout),
		confirmed:      map[string]Message{},
		merged:         []Message{},
		listeners:      NewCallbackList[func(messages []Message)](),
		errorListeners: NewCallbackList[func(err error)](),
	}

	view.unsubOverlay = view.overlay.AddListener(func(pending []Message) {
		view.republish()
	})
	view.unsubTimeout = view.overlay.AddTimeoutListener(func(tempId Id, message Message) {
		view.publishError(&DeliveryUncertainError{TempId: tempId, Text: message.Text})
	})

	adapter, err := NewStreamAdapter(
		cancelCtx,
		client.store,
		MessagesPath(thread.Id),
		nil,
		func(doc docstore.Document) Message {
			return MessageFromDoc(thread.Id, doc)
		},
		view.applyStream,
	)
	if err != nil {
		cancel()
		return nil, err
	}
	view.adapter = adapter

	view.leavePresence = client.presence.Enter(me, thread.Id)
	return view, nil
}

// applyStream folds one authoritative delivery into the view. Every
// event is a self-contained delta applied to current state; nothing is
// assumed about ordering against the overlay path beyond the lock.
func (self *ThreadView) applyStream(event StreamEvent[Message]) {
	self.stateLock.Lock()
	var newlyConfirmed []Message
	if event.Snapshot {
		self.confirmed = map[string]Message{}
		for _, message := range event.Entities {
			self.confirmed[message.Id] = message
		}
		newlyConfirmed = event.Entities
	} else {
		for _, message := range event.Added {
			self.confirmed[message.Id] = message
			newlyConfirmed = append(newlyConfirmed, message)
		}
		// modified messages are read flips, not echoes of pending sends
		for _, message := range event.Modified {
			self.confirmed[message.Id] = message
		}
		for _, id := range event.Removed {
			delete(self.confirmed, id)
		}
	}
	self.stateLock.Unlock()

	if 0 < len(newlyConfirmed) {
		self.overlay.Reconcile(newlyConfirmed, MessagesMatch)
	}
	self.republish()
}

func (self *ThreadView) republish() {
	self.stateLock.Lock()
	confirmed := make([]Message, 0, len(self.confirmed))
	for _, message := range self.confirmed {
		confirmed = append(confirmed, message)
	}
	merged := MergeMessages(confirmed, self.overlay.Pending())
	self.merged = merged
	self.stateLock.Unlock()

	for _, listener := range self.listeners.Get() {
		listener := listener
		HandleError(func() {
			listener(merged)
		})
	}
}

func (self *ThreadView) publishError(err error) {
	glog.Infof("[thread]%s error = %s\n", self.threadId, err)
	for _, listener := range self.errorListeners.Get() {
		listener := listener
		HandleError(func() {
			listener(err)
		})
	}
}

// Send writes the message optimistically, then commits it through the
// ledger. On failure the optimistic entry is rolled back and the error
// returned with the caller still holding the input text; nothing is
// auto-retried. On success the stream echo reconciles the entry.
func (self *ThreadView) Send(ctx context.Context, text string) error {
	if text == "" {
		return &ValidationError{Field: "text", Reason: "empty message"}
	}

	me := self.client.identity.ProfileId()
	tempId := NewId()
	optimistic := Message{
		Id:         tempId.String(),
		ThreadId:   self.threadId,
		SenderId:   me,
		ReceiverId: self.otherId,
		Text:       text,
		CreateTime: time.Now().UTC(),
	}
	self.overlay.Add(tempId, optimistic)

	message, err := self.client.ledger.Send(ctx, self.threadId, me, self.otherId, text)
	if err != nil {
		// a failed send always removes its pending entry
		self.overlay.Remove(tempId)
		return err
	}

	if !self.client.presence.Viewing(message.ReceiverId, self.threadId) {
		self.client.notifier.Notify(ctx, message.ReceiverId, self.client.displayName(), message.Text, self.threadId)
	}
	return nil
}

// MarkRead flips every unread message addressed to the local profile
// and resets the local unread counter.
func (self *ThreadView) MarkRead(ctx context.Context) error {
	return self.client.ledger.MarkRead(ctx, self.threadId, self.client.identity.ProfileId())
}

// Messages returns the last published merged list.
func (self *ThreadView) Messages() []Message {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.merged
}

func (self *ThreadView) ThreadId() string {
	return self.threadId
}

func (self *ThreadView) OtherProfileId() string {
	return self.otherId
}

// AddListener observes the merged message list and immediately
// receives the current list. Returns the unregister func.
func (self *ThreadView) AddListener(listener func(messages []Message)) func() {
	unsub := self.listeners.Add(listener)
	HandleError(func() {
		listener(self.Messages())
	})
	return unsub
}

// AddErrorListener observes non-fatal view errors, including
// delivery-uncertain timeouts of optimistic sends.
func (self *ThreadView) AddErrorListener(listener func(err error)) func() {
	return self.errorListeners.Add(listener)
}

// Close unsubscribes the stream and leaves the thread presence.
// In-flight sends are not cancelled; their completion still reconciles
// or rolls back their overlay entries.
func (self *ThreadView) Close() {
	self.closeOnce.Do(func() {
		self.leavePresence()
		self.adapter.Close()
		self.unsubOverlay()
		self.unsubTimeout()
		self.cancel()
	})
}
