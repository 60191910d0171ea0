package petsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"pawmatch.app/petsync/docstore"
)

func storeWithPets(t *testing.T, ctx context.Context) (*docstore.MemoryStore, Pet, Pet) {
	t.Helper()

	store := docstore.NewMemoryStore()
	rex := Pet{Id: "pet-rex", OwnerProfileId: "alice", Name: "rex", CreateTime: time.Now().UTC()}
	milo := Pet{Id: "pet-milo", OwnerProfileId: "bob", Name: "milo", CreateTime: time.Now().UTC()}
	for _, pet := range []Pet{rex, milo} {
		err := docstore.Set(ctx, store, CollectionPets, pet.Id, pet.Fields())
		assert.Equal(t, nil, err)
	}
	return store, rex, milo
}

func TestLikeStaysOneSided(t *testing.T) {
	ctx := context.Background()
	store, _, milo := storeWithPets(t, ctx)
	matcher := NewMatcher(store)

	match, err := matcher.Like(ctx, "alice", milo)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, match == nil)

	docs, err := store.List(ctx, CollectionMatchEdges)
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(docs))
}

// Scenario: bob already liked a pet of alice; alice now likes a pet of
// bob. Exactly one MatchEdge (alice, bob) results.
func TestReciprocalLikeMatches(t *testing.T) {
	ctx := context.Background()
	store, rex, milo := storeWithPets(t, ctx)
	matcher := NewMatcher(store)

	match, err := matcher.Like(ctx, "bob", rex)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, match == nil)

	match, err = matcher.Like(ctx, "alice", milo)
	assert.Equal(t, nil, err)
	assert.NotEqual(t, match, nil)
	assert.Equal(t, "alice", match.ProfileIdA)
	assert.Equal(t, "bob", match.ProfileIdB)
	// each side's own pet is recorded: alice's rex, bob's milo
	assert.Equal(t, rex.Id, match.PetIdA)
	assert.Equal(t, milo.Id, match.PetIdB)

	docs, err := store.List(ctx, CollectionMatchEdges)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(docs))
}

func TestConcurrentMutualLikesCreateOneMatch(t *testing.T) {
	for round := 0; round < 20; round += 1 {
		ctx := context.Background()
		store, rex, milo := storeWithPets(t, ctx)
		matcher := NewMatcher(store)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := matcher.Like(ctx, "bob", rex)
			assert.Equal(t, nil, err)
		}()
		go func() {
			defer wg.Done()
			_, err := matcher.Like(ctx, "alice", milo)
			assert.Equal(t, nil, err)
		}()
		wg.Wait()

		// whichever like landed second runs its detection after both
		// edges are durable, so a match always exists, and the sorted
		// pair id collapses the race to one document
		docs, err := store.List(ctx, CollectionMatchEdges)
		assert.Equal(t, nil, err)
		assert.Equal(t, 1, len(docs))
		assert.Equal(t, MatchId("alice", "bob"), docs[0].Id)
	}
}

func TestRelikeDoesNotCrash(t *testing.T) {
	ctx := context.Background()
	store, _, milo := storeWithPets(t, ctx)
	matcher := NewMatcher(store)

	for i := 0; i < 3; i += 1 {
		_, err := matcher.Like(ctx, "alice", milo)
		assert.Equal(t, nil, err)
	}
	docs, err := store.List(ctx, CollectionLikeEdges)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(docs))
}

func TestLikeOwnPetRejected(t *testing.T) {
	ctx := context.Background()
	store, rex, _ := storeWithPets(t, ctx)
	matcher := NewMatcher(store)

	_, err := matcher.Like(ctx, "alice", rex)
	assert.Equal(t, true, IsValidationError(err))
}

func TestMatchedIsTerminal(t *testing.T) {
	ctx := context.Background()
	store, rex, milo := storeWithPets(t, ctx)
	matcher := NewMatcher(store)

	_, err := matcher.Like(ctx, "bob", rex)
	assert.Equal(t, nil, err)
	first, err := matcher.Like(ctx, "alice", milo)
	assert.Equal(t, nil, err)
	assert.NotEqual(t, first, nil)

	// a third pet and another like do not create a second edge
	spot := Pet{Id: "pet-spot", OwnerProfileId: "bob", Name: "spot"}
	err = docstore.Set(ctx, store, CollectionPets, spot.Id, spot.Fields())
	assert.Equal(t, nil, err)

	again, err := matcher.Like(ctx, "alice", spot)
	assert.Equal(t, nil, err)
	assert.NotEqual(t, again, nil)
	assert.Equal(t, first.CreateTime, again.CreateTime)

	docs, err := store.List(ctx, CollectionMatchEdges)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(docs))
}
