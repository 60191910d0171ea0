package petsync

import (
	"context"
	"time"

	"github.com/golang/glog"

	"pawmatch.app/petsync/docstore"
)

// Matcher derives matches from one-sided likes. A like is first made
// durable, then the reciprocal direction is checked; when both
// directions exist the matcher creates the MatchEdge for the unordered
// profile pair. The match is profile level: any pet-to-pet reciprocal
// like between the two profiles counts.
//
// The edge id is the canonical sorted pair, and creation is
// create-if-absent, so two profiles liking each other at nearly the
// same time race both matcher runs onto the same document and exactly
// one MatchEdge ever exists per pair. Matched is terminal.
type Matcher struct {
	store docstore.Store
}

func NewMatcher(store docstore.Store) *Matcher {
	return &Matcher{
		store: store,
	}
}

// Like records that liker liked the pet, then runs match detection.
// Returns the match when the pair is (now or already) matched, nil
// when the like stays one sided.
func (self *Matcher) Like(ctx context.Context, likerProfileId string, pet Pet) (*MatchEdge, error) {
	if pet.Id == "" {
		return nil, &ValidationError{Field: "pet", Reason: "unknown pet"}
	}
	if likerProfileId == pet.OwnerProfileId {
		return nil, &ValidationError{Field: "pet", Reason: "cannot like own pet"}
	}

	edge := LikeEdge{
		LikerProfileId:  likerProfileId,
		LikedPetId:      pet.Id,
		LikedPetOwnerId: pet.OwnerProfileId,
		CreateTime:      time.Now().UTC(),
	}
	// re-liking the same pet lands on the same document and is a no-op
	edgeId := LikeEdgeId(likerProfileId, pet.Id)
	if _, err := docstore.Create(ctx, self.store, CollectionLikeEdges, edgeId, edge.Fields()); err != nil {
		return nil, err
	}

	return self.detect(ctx, edge)
}

// detect runs after the like is durable: fetch the owner's outgoing
// likes and look for one aimed back at the liker.
func (self *Matcher) detect(ctx context.Context, edge LikeEdge) (*MatchEdge, error) {
	reciprocalDocs, err := self.store.List(
		ctx,
		CollectionLikeEdges,
		docstore.Eq("likerProfileId", edge.LikedPetOwnerId),
	)
	if err != nil {
		return nil, err
	}

	for _, doc := range reciprocalDocs {
		reciprocal := LikeEdgeFromDoc(doc)
		if reciprocal.LikedPetOwnerId == edge.LikerProfileId {
			return self.createMatch(ctx, edge, reciprocal)
		}
	}
	// one sided for now. the reciprocal like, if it ever arrives, runs
	// its own detection and creates the match.
	return nil, nil
}

func (self *Matcher) createMatch(ctx context.Context, edge LikeEdge, reciprocal LikeEdge) (*MatchEdge, error) {
	matchId := MatchId(edge.LikerProfileId, edge.LikedPetOwnerId)
	a, b := SortPair(edge.LikerProfileId, edge.LikedPetOwnerId)

	// the pet recorded for a side is that side's own pet: the one the
	// other profile liked
	match := MatchEdge{
		Id:         matchId,
		ProfileIdA: a,
		ProfileIdB: b,
		CreateTime: time.Now().UTC(),
	}
	if a == edge.LikerProfileId {
		match.PetIdA = reciprocal.LikedPetId
		match.PetIdB = edge.LikedPetId
	} else {
		match.PetIdA = edge.LikedPetId
		match.PetIdB = reciprocal.LikedPetId
	}

	created, err := docstore.Create(ctx, self.store, CollectionMatchEdges, matchId, match.Fields())
	if err != nil {
		return nil, err
	}
	if !created {
		// the other side's matcher won the race; the pair is matched
		// either way
		doc, err := self.store.Get(ctx, CollectionMatchEdges, matchId)
		if err != nil {
			return nil, err
		}
		existing := MatchEdgeFromDoc(doc)
		return &existing, nil
	}
	glog.Infof("[matcher]matched %s\n", matchId)
	return &match, nil
}
