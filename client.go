package petsync

import (
	"context"
	"sync"
	"time"

	"pawmatch.app/petsync/docstore"
)

type ClientSettings struct {
	// how long an optimistic entry may wait for its confirmed echo
	OverlayTimeout time.Duration
	// bounded internal retry on ledger write conflicts
	LedgerAttempts int
}

func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		OverlayTimeout: DefaultOverlayTimeout,
		LedgerAttempts: DefaultLedgerAttempts,
	}
}

// Client is the engine facade for one local profile. It owns the
// ledger, the matcher, and the live views, all running against one
// Store (in-memory or remote over the gateway).
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	store    docstore.Store
	identity Identity
	notifier Notifier
	presence *LocalPresence

	ledger  *Ledger
	matcher *Matcher

	settings *ClientSettings

	stateLock        sync.Mutex
	cachedName       string
	cachedNameLoaded bool
}

func NewClientWithDefaults(
	ctx context.Context,
	store docstore.Store,
	identity Identity,
	notifier Notifier,
) *Client {
	return NewClient(ctx, store, identity, notifier, DefaultClientSettings())
}

func NewClient(
	ctx context.Context,
	store docstore.Store,
	identity Identity,
	notifier Notifier,
	settings *ClientSettings,
) *Client {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Client{
		ctx:      cancelCtx,
		cancel:   cancel,
		store:    store,
		identity: identity,
		notifier: notifier,
		presence: NewLocalPresence(),
		ledger:   NewLedgerWithAttempts(store, settings.LedgerAttempts),
		matcher:  NewMatcher(store),
		settings: settings,
	}
}

func (self *Client) ProfileId() string {
	return self.identity.ProfileId()
}

func (self *Client) Store() docstore.Store {
	return self.store
}

func (self *Client) Presence() *LocalPresence {
	return self.presence
}

// OpenThreadList merges the two role-keyed thread subscriptions for
// the local profile into one list, newest activity first. Threads that
// never had a message sort last.
func (self *Client) OpenThreadList() (*DualMerge[ChatThread], error) {
	me := self.identity.ProfileId()
	return NewDualMerge(
		self.ctx,
		self.store,
		CollectionThreads,
		[]docstore.Where{docstore.Eq("profileIdA", me)},
		[]docstore.Where{docstore.Eq("profileIdB", me)},
		ThreadFromDoc,
		func(thread ChatThread) string {
			return thread.Id
		},
		func(a ChatThread, b ChatThread) bool {
			if !a.LastMessageTime.Equal(b.LastMessageTime) {
				return a.LastMessageTime.After(b.LastMessageTime)
			}
			return a.Id < b.Id
		},
	)
}

// OpenMatchList merges the two role-keyed match subscriptions, newest
// match first.
func (self *Client) OpenMatchList() (*DualMerge[MatchEdge], error) {
	me := self.identity.ProfileId()
	return NewDualMerge(
		self.ctx,
		self.store,
		CollectionMatchEdges,
		[]docstore.Where{docstore.Eq("profileIdA", me)},
		[]docstore.Where{docstore.Eq("profileIdB", me)},
		MatchEdgeFromDoc,
		func(match MatchEdge) string {
			return match.Id
		},
		func(a MatchEdge, b MatchEdge) bool {
			if !a.CreateTime.Equal(b.CreateTime) {
				return a.CreateTime.After(b.CreateTime)
			}
			return a.Id < b.Id
		},
	)
}

// OpenThread opens (creating on demand) the thread with the other
// profile and returns its live view.
func (self *Client) OpenThread(ctx context.Context, otherProfileId string) (*ThreadView, error) {
	if otherProfileId == "" || otherProfileId == self.identity.ProfileId() {
		return nil, &ValidationError{Field: "profile", Reason: "invalid chat counterpart"}
	}
	thread, err := self.ledger.OpenThread(ctx, self.identity.ProfileId(), otherProfileId)
	if err != nil {
		return nil, err
	}
	return newThreadView(self, thread)
}

// Like records a like of the pet by the local profile and returns the
// match if the pair is now (or was already) matched.
func (self *Client) Like(ctx context.Context, petId string) (*MatchEdge, error) {
	doc, err := self.store.Get(ctx, CollectionPets, petId)
	if err != nil {
		if IsNotFound(err) {
			// absent pets surface as unknown-pet, not a crash
			return nil, &ValidationError{Field: "pet", Reason: "unknown pet"}
		}
		return nil, err
	}
	return self.matcher.Like(ctx, self.identity.ProfileId(), PetFromDoc(doc))
}

// displayName resolves the local profile's display name for
// notifications, falling back when the profile document is absent.
func (self *Client) displayName() string {
	self.stateLock.Lock()
	if self.cachedNameLoaded {
		name := self.cachedName
		self.stateLock.Unlock()
		return name
	}
	self.stateLock.Unlock()

	name := "someone"
	doc, err := self.store.Get(self.ctx, CollectionProfiles, self.identity.ProfileId())
	if err == nil {
		profile := ProfileFromDoc(doc)
		if profile.DisplayName != "" {
			name = profile.DisplayName
		}
	} else if !IsNotFound(err) {
		// transient; retry on the next send
		return name
	}

	self.stateLock.Lock()
	self.cachedName = name
	self.cachedNameLoaded = true
	self.stateLock.Unlock()
	return name
}

// Close cancels every view opened from this client.
func (self *Client) Close() {
	self.cancel()
}
