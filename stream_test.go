package petsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"pawmatch.app/petsync/docstore"
)

func TestStreamSnapshotThenDiffs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := docstore.NewMemoryStore()
	err := docstore.Set(ctx, store, CollectionPets, "p1", docstore.Fields{"ownerProfileId": "alice", "name": "rex"})
	assert.Equal(t, nil, err)

	var stateLock sync.Mutex
	events := []StreamEvent[Pet]{}

	adapter, err := NewStreamAdapter(
		ctx,
		store,
		CollectionPets,
		[]docstore.Where{docstore.Eq("ownerProfileId", "alice")},
		PetFromDoc,
		func(event StreamEvent[Pet]) {
			stateLock.Lock()
			defer stateLock.Unlock()
			events = append(events, event)
		},
	)
	assert.Equal(t, nil, err)
	defer adapter.Close()

	waitFor(t, time.Second, func() bool {
		stateLock.Lock()
		defer stateLock.Unlock()
		return 1 <= len(events)
	})

	stateLock.Lock()
	assert.Equal(t, true, events[0].Snapshot)
	assert.Equal(t, 1, len(events[0].Entities))
	assert.Equal(t, "rex", events[0].Entities[0].Name)
	stateLock.Unlock()

	// an add and a non-matching add: only the first is delivered
	err = docstore.Set(ctx, store, CollectionPets, "p2", docstore.Fields{"ownerProfileId": "alice", "name": "milo"})
	assert.Equal(t, nil, err)
	err = docstore.Set(ctx, store, CollectionPets, "p3", docstore.Fields{"ownerProfileId": "bob", "name": "ziggy"})
	assert.Equal(t, nil, err)

	waitFor(t, time.Second, func() bool {
		stateLock.Lock()
		defer stateLock.Unlock()
		return 2 <= len(events)
	})

	stateLock.Lock()
	assert.Equal(t, false, events[1].Snapshot)
	assert.Equal(t, 1, len(events[1].Added))
	assert.Equal(t, "milo", events[1].Added[0].Name)
	count := len(events)
	stateLock.Unlock()

	// deleting the non-matching pet produces nothing for this stream
	err = docstore.Delete(ctx, store, CollectionPets, "p3")
	assert.Equal(t, nil, err)
	time.Sleep(50 * time.Millisecond)

	stateLock.Lock()
	assert.Equal(t, count, len(events))
	stateLock.Unlock()
}

func TestStreamCloseStopsCallbacks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := docstore.NewMemoryStore()

	var stateLock sync.Mutex
	delivered := 0

	adapter, err := NewStreamAdapter(
		ctx,
		store,
		CollectionPets,
		nil,
		PetFromDoc,
		func(event StreamEvent[Pet]) {
			stateLock.Lock()
			defer stateLock.Unlock()
			delivered += 1
		},
	)
	assert.Equal(t, nil, err)

	waitFor(t, time.Second, func() bool {
		stateLock.Lock()
		defer stateLock.Unlock()
		return 1 == delivered
	})

	adapter.Close()
	// idempotent
	adapter.Close()

	err = docstore.Set(ctx, store, CollectionPets, "p1", docstore.Fields{"name": "rex"})
	assert.Equal(t, nil, err)
	time.Sleep(50 * time.Millisecond)

	stateLock.Lock()
	assert.Equal(t, 1, delivered)
	stateLock.Unlock()
}

// errorStore delivers a watch that fails immediately.
type errorStore struct {
	*docstore.MemoryStore
}

func (self *errorStore) Watch(ctx context.Context, path string, wheres ...docstore.Where) (*docstore.Subscription, error) {
	sub := docstore.NewSubscription(ctx)
	sub.Fail(errors.New("stream broke"))
	return sub, nil
}

func TestStreamErrorDegradesToEmpty(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &errorStore{MemoryStore: docstore.NewMemoryStore()}

	var stateLock sync.Mutex
	events := []StreamEvent[Pet]{}

	adapter, err := NewStreamAdapter(
		ctx,
		store,
		CollectionPets,
		nil,
		PetFromDoc,
		func(event StreamEvent[Pet]) {
			stateLock.Lock()
			defer stateLock.Unlock()
			events = append(events, event)
		},
	)
	assert.Equal(t, nil, err)
	defer adapter.Close()

	waitFor(t, time.Second, func() bool {
		stateLock.Lock()
		defer stateLock.Unlock()
		return 1 <= len(events)
	})

	// the error is delivered as an empty view, not a teardown
	stateLock.Lock()
	assert.Equal(t, true, events[0].Snapshot)
	assert.Equal(t, 0, len(events[0].Entities))
	stateLock.Unlock()
}
