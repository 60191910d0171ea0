package petsync

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestMessagesMatchRule(t *testing.T) {
	now := time.Now().UTC()
	pending := Message{SenderId: "alice", Text: "hi", CreateTime: now}

	assert.Equal(t, true, MessagesMatch(pending, Message{SenderId: "alice", Text: "hi", CreateTime: now.Add(200 * time.Millisecond)}))
	// the window is symmetric: server clock may lag the local clock
	assert.Equal(t, true, MessagesMatch(pending, Message{SenderId: "alice", Text: "hi", CreateTime: now.Add(-2 * time.Second)}))
	assert.Equal(t, false, MessagesMatch(pending, Message{SenderId: "bob", Text: "hi", CreateTime: now}))
	assert.Equal(t, false, MessagesMatch(pending, Message{SenderId: "alice", Text: "hi there", CreateTime: now}))
	assert.Equal(t, false, MessagesMatch(pending, Message{SenderId: "alice", Text: "hi", CreateTime: now.Add(5 * time.Second)}))
}

func TestMergeMessagesSorted(t *testing.T) {
	now := time.Now().UTC()
	confirmed := []Message{
		{Id: "m2", Text: "second", CreateTime: now.Add(time.Second)},
		{Id: "m1", Text: "first", CreateTime: now},
	}
	pending := []Message{
		{Id: "p1", Text: "third", CreateTime: now.Add(2 * time.Second)},
	}

	merged := MergeMessages(confirmed, pending)
	assert.Equal(t, 3, len(merged))
	assert.Equal(t, "first", merged[0].Text)
	assert.Equal(t, "second", merged[1].Text)
	assert.Equal(t, "third", merged[2].Text)
}

func TestMergeMessagesStable(t *testing.T) {
	now := time.Now().UTC()
	confirmed := []Message{
		{Id: "b", CreateTime: now},
		{Id: "a", CreateTime: now},
	}
	first := MergeMessages(confirmed, nil)
	second := MergeMessages(confirmed, nil)
	assert.Equal(t, first, second)
	assert.Equal(t, "a", first[0].Id)
}
