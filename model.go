package petsync

import (
	"strings"
	"time"

	"pawmatch.app/petsync/docstore"
)

// Collection paths in the document store.
const (
	CollectionProfiles   = "profiles"
	CollectionPets       = "pets"
	CollectionLikeEdges  = "likeEdges"
	CollectionMatchEdges = "matchEdges"
	CollectionThreads    = "chatThreads"
)

// PlaceholderImageUrl substitutes for a failed image upload so the
// record is written with a usable value instead of a broken reference.
const PlaceholderImageUrl = "https://static.pawmatch.app/placeholder.png"

// MessagesPath is the per-thread messages sub-collection.
func MessagesPath(threadId string) string {
	return CollectionThreads + "/" + threadId + "/messages"
}

// ThreadId is the deterministic thread key for a profile pair:
// participant ids sorted lexicographically, joined with an underscore.
// ThreadId(a, b) == ThreadId(b, a) for all pairs.
func ThreadId(profileIdA string, profileIdB string) string {
	a, b := SortPair(profileIdA, profileIdB)
	return a + "_" + b
}

// MatchId is the canonical match key for an unordered profile pair.
// Using the sorted pair makes concurrent match creation from both sides
// target the same document.
func MatchId(profileIdA string, profileIdB string) string {
	a, b := SortPair(profileIdA, profileIdB)
	return a + "_" + b
}

// LikeEdgeId keys a like by (liker, pet), so re-liking the same pet
// lands on the same document instead of accumulating duplicates.
func LikeEdgeId(likerProfileId string, likedPetId string) string {
	return likerProfileId + "_" + likedPetId
}

func SortPair(a string, b string) (string, string) {
	if strings.Compare(a, b) <= 0 {
		return a, b
	}
	return b, a
}

type Profile struct {
	Id          string
	DisplayName string
	AvatarUrl   string
	CreateTime  time.Time
}

type Pet struct {
	Id             string
	OwnerProfileId string
	Name           string
	Species        string
	PhotoUrl       string
	CreateTime     time.Time
}

// LikeEdge is a directed one-sided like: liker liked someone's pet.
// Append-only; never mutated or deleted by the engine.
type LikeEdge struct {
	LikerProfileId  string
	LikedPetId      string
	LikedPetOwnerId string
	CreateTime      time.Time
}

// MatchEdge records a confirmed mutual like for an unordered profile
// pair. ProfileIdA < ProfileIdB always. At most one per pair, ever.
type MatchEdge struct {
	Id         string
	ProfileIdA string
	ProfileIdB string
	PetIdA     string
	PetIdB     string
	CreateTime time.Time
}

// Other returns the counterpart profile in the match.
func (self *MatchEdge) Other(profileId string) string {
	if self.ProfileIdA == profileId {
		return self.ProfileIdB
	}
	return self.ProfileIdA
}

type ChatThread struct {
	Id              string
	ProfileIdA      string
	ProfileIdB      string
	LastMessageText string
	LastMessageTime time.Time
	UnreadA         int64
	UnreadB         int64
}

func (self *ChatThread) Other(profileId string) string {
	if self.ProfileIdA == profileId {
		return self.ProfileIdB
	}
	return self.ProfileIdA
}

// UnreadFor returns the unread counter for one participant side.
func (self ChatThread) UnreadFor(profileId string) int64 {
	if self.ProfileIdA == profileId {
		return self.UnreadA
	}
	return self.UnreadB
}

type Message struct {
	Id         string
	ThreadId   string
	SenderId   string
	ReceiverId string
	Text       string
	CreateTime time.Time
	Read       bool
}

/*
Boundary decoding. Remote documents are loosely typed: fields can be
absent, and values arrive either native (memory store) or as their json
forms (remote store). Every entity is converted here into a fully
defaulted struct so the merge and reconciliation logic never branches
on a missing field.
*/

func stringField(fields docstore.Fields, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func boolField(fields docstore.Fields, key string) bool {
	if v, ok := fields[key].(bool); ok {
		return v
	}
	return false
}

func intField(fields docstore.Fields, key string) int64 {
	switch v := fields[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func timeField(fields docstore.Fields, key string) time.Time {
	switch v := fields[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func ProfileFromDoc(doc docstore.Document) Profile {
	return Profile{
		Id:          doc.Id,
		DisplayName: stringField(doc.Fields, "displayName"),
		AvatarUrl:   stringField(doc.Fields, "avatarUrl"),
		CreateTime:  timeField(doc.Fields, "createTime"),
	}
}

func (self *Profile) Fields() docstore.Fields {
	return docstore.Fields{
		"displayName": self.DisplayName,
		"avatarUrl":   self.AvatarUrl,
		"createTime":  self.CreateTime,
	}
}

func PetFromDoc(doc docstore.Document) Pet {
	return Pet{
		Id:             doc.Id,
		OwnerProfileId: stringField(doc.Fields, "ownerProfileId"),
		Name:           stringField(doc.Fields, "name"),
		Species:        stringField(doc.Fields, "species"),
		PhotoUrl:       stringField(doc.Fields, "photoUrl"),
		CreateTime:     timeField(doc.Fields, "createTime"),
	}
}

func (self *Pet) Fields() docstore.Fields {
	return docstore.Fields{
		"ownerProfileId": self.OwnerProfileId,
		"name":           self.Name,
		"species":        self.Species,
		"photoUrl":       self.PhotoUrl,
		"createTime":     self.CreateTime,
	}
}

func LikeEdgeFromDoc(doc docstore.Document) LikeEdge {
	return LikeEdge{
		LikerProfileId:  stringField(doc.Fields, "likerProfileId"),
		LikedPetId:      stringField(doc.Fields, "likedPetId"),
		LikedPetOwnerId: stringField(doc.Fields, "likedPetOwnerId"),
		CreateTime:      timeField(doc.Fields, "createTime"),
	}
}

func (self *LikeEdge) Fields() docstore.Fields {
	return docstore.Fields{
		"likerProfileId":  self.LikerProfileId,
		"likedPetId":      self.LikedPetId,
		"likedPetOwnerId": self.LikedPetOwnerId,
		"createTime":      self.CreateTime,
	}
}

func MatchEdgeFromDoc(doc docstore.Document) MatchEdge {
	return MatchEdge{
		Id:         doc.Id,
		ProfileIdA: stringField(doc.Fields, "profileIdA"),
		ProfileIdB: stringField(doc.Fields, "profileIdB"),
		PetIdA:     stringField(doc.Fields, "petIdA"),
		PetIdB:     stringField(doc.Fields, "petIdB"),
		CreateTime: timeField(doc.Fields, "createTime"),
	}
}

func (self *MatchEdge) Fields() docstore.Fields {
	return docstore.Fields{
		"profileIdA": self.ProfileIdA,
		"profileIdB": self.ProfileIdB,
		"petIdA":     self.PetIdA,
		"petIdB":     self.PetIdB,
		"createTime": self.CreateTime,
	}
}

func ThreadFromDoc(doc docstore.Document) ChatThread {
	return ChatThread{
		Id:              doc.Id,
		ProfileIdA:      stringField(doc.Fields, "profileIdA"),
		ProfileIdB:      stringField(doc.Fields, "profileIdB"),
		LastMessageText: stringField(doc.Fields, "lastMessageText"),
		LastMessageTime: timeField(doc.Fields, "lastMessageTime"),
		UnreadA:         intField(doc.Fields, "unreadA"),
		UnreadB:         intField(doc.Fields, "unreadB"),
	}
}

func (self *ChatThread) Fields() docstore.Fields {
	return docstore.Fields{
		"profileIdA":      self.ProfileIdA,
		"profileIdB":      self.ProfileIdB,
		"lastMessageText": self.LastMessageText,
		"lastMessageTime": self.LastMessageTime,
		"unreadA":         self.UnreadA,
		"unreadB":         self.UnreadB,
	}
}

func MessageFromDoc(threadId string, doc docstore.Document) Message {
	return Message{
		Id:         doc.Id,
		ThreadId:   threadId,
		SenderId:   stringField(doc.Fields, "senderId"),
		ReceiverId: stringField(doc.Fields, "receiverId"),
		Text:       stringField(doc.Fields, "text"),
		CreateTime: timeField(doc.Fields, "createTime"),
		Read:       boolField(doc.Fields, "read"),
	}
}

func (self *Message) Fields() docstore.Fields {
	return docstore.Fields{
		"senderId":   self.SenderId,
		"receiverId": self.ReceiverId,
		"text":       self.Text,
		"createTime": self.CreateTime,
		"read":       self.Read,
	}
}
