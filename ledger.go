package petsync

import (
	"context"
	"time"

	"github.com/golang/glog"

	"pawmatch.app/petsync/docstore"
)

// DefaultLedgerAttempts bounds the internal retry on write conflicts.
const DefaultLedgerAttempts = 5

// Ledger owns the transactional chat writes: message append with the
// thread's last-message fields and unread counters, and the read flip
// with the counter reset. Each operation commits all of its effects or
// none, retrying internally on write conflicts up to the bound.
//
// Every ledger write bumps the thread document version, which is what
// lets markRead pin the thread and detect a racing send.
type Ledger struct {
	store    docstore.Store
	attempts int
}

func NewLedger(store docstore.Store) *Ledger {
	return NewLedgerWithAttempts(store, DefaultLedgerAttempts)
}

func NewLedgerWithAttempts(store docstore.Store, attempts int) *Ledger {
	return &Ledger{
		store:    store,
		attempts: attempts,
	}
}

// Send atomically appends the message unread, updates the thread's
// last message text/time, and increments the receiver-side unread
// counter by exactly 1. The thread is created on demand if absent.
// Returns the message as committed.
func (self *Ledger) Send(ctx context.Context, threadId string, senderId string, receiverId string, text string) (Message, error) {
	if text == "" {
		return Message{}, &ValidationError{Field: "text", Reason: "empty message"}
	}

	// the id and timestamp are assigned once so conflict retries
	// re-commit the same message instead of minting a new one
	message := Message{
		Id:         NewId().String(),
		ThreadId:   threadId,
		SenderId:   senderId,
		ReceiverId: receiverId,
		Text:       text,
		CreateTime: time.Now().UTC(),
		Read:       false,
	}

	err := docstore.RunTransaction(ctx, self.store, self.attempts, func(tx *docstore.Tx) error {
		thread, err := self.threadForUpdate(tx, threadId, senderId, receiverId)
		if err != nil {
			return err
		}

		thread.LastMessageText = message.Text
		thread.LastMessageTime = message.CreateTime
		if thread.ProfileIdA == receiverId {
			thread.UnreadA += 1
		} else {
			thread.UnreadB += 1
		}

		tx.Create(MessagesPath(threadId), message.Id, message.Fields())
		tx.Set(CollectionThreads, threadId, thread.Fields())
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	if glog.V(2) {
		glog.Infof("[ledger]send %s -> %s in %s\n", senderId, receiverId, threadId)
	}
	return message, nil
}

// MarkRead atomically flips read on every unread message addressed to
// the reader in the thread and resets the reader-side counter to 0.
// After the commit no unread message for that reader remains until a
// new message arrives. Marking an absent thread read is a no-op.
func (self *Ledger) MarkRead(ctx context.Context, threadId string, readerId string) error {
	return docstore.RunTransaction(ctx, self.store, self.attempts, func(tx *docstore.Tx) error {
		threadDoc, err := tx.Get(CollectionThreads, threadId)
		if err != nil {
			if IsNotFound(err) {
				return nil
			}
			return err
		}
		thread := ThreadFromDoc(threadDoc)

		unreadDocs, err := tx.List(
			MessagesPath(threadId),
			docstore.Eq("receiverId", readerId),
			docstore.Eq("read", false),
		)
		if err != nil {
			return err
		}
		for _, doc := range unreadDocs {
			message := MessageFromDoc(threadId, doc)
			message.Read = true
			tx.Set(MessagesPath(threadId), message.Id, message.Fields())
		}

		// reset, never decrement, so the counter cannot go negative
		if thread.ProfileIdA == readerId {
			thread.UnreadA = 0
		} else {
			thread.UnreadB = 0
		}
		tx.Set(CollectionThreads, threadId, thread.Fields())
		return nil
	})
}

// OpenThread creates the thread for the profile pair if it does not
// exist yet and returns it. The deterministic id makes creation from
// either side land on the same document.
func (self *Ledger) OpenThread(ctx context.Context, profileIdA string, profileIdB string) (ChatThread, error) {
	threadId := ThreadId(profileIdA, profileIdB)
	a, b := SortPair(profileIdA, profileIdB)

	doc, err := self.store.Get(ctx, CollectionThreads, threadId)
	if err == nil {
		return ThreadFromDoc(doc), nil
	}
	if !IsNotFound(err) {
		return ChatThread{}, err
	}

	thread := ChatThread{
		Id:         threadId,
		ProfileIdA: a,
		ProfileIdB: b,
	}
	if _, err := docstore.Create(ctx, self.store, CollectionThreads, threadId, thread.Fields()); err != nil {
		return ChatThread{}, err
	}
	// a concurrent open may have won the create; either way the
	// document now exists with the same participants
	doc, err = self.store.Get(ctx, CollectionThreads, threadId)
	if err != nil {
		return ChatThread{}, err
	}
	return ThreadFromDoc(doc), nil
}

func (self *Ledger) threadForUpdate(tx *docstore.Tx, threadId string, senderId string, receiverId string) (ChatThread, error) {
	doc, err := tx.Get(CollectionThreads, threadId)
	if err == nil {
		return ThreadFromDoc(doc), nil
	}
	if !IsNotFound(err) {
		return ChatThread{}, err
	}
	// thread absent: create it in the same commit. the tx pinned the
	// document at version 0, so a racing create conflicts and retries.
	a, b := SortPair(senderId, receiverId)
	return ChatThread{
		Id:         threadId,
		ProfileIdA: a,
		ProfileIdB: b,
	}, nil
}
