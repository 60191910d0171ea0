package petsync

import (
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestOverlayAddRemove(t *testing.T) {
	overlay := NewOverlayStore[Message](time.Minute)
	defer overlay.Close()

	var stateLock sync.Mutex
	published := [][]Message{}
	unsub := overlay.AddListener(func(pending []Message) {
		stateLock.Lock()
		defer stateLock.Unlock()
		published = append(published, pending)
	})
	defer unsub()

	tempId := NewId()
	overlay.Add(tempId, Message{Id: tempId.String(), Text: "hi"})
	assert.Equal(t, 1, overlay.Len())

	// adding the same temp id twice is a no-op
	overlay.Add(tempId, Message{Id: tempId.String(), Text: "hi"})
	assert.Equal(t, 1, overlay.Len())

	entity, ok := overlay.Remove(tempId)
	assert.Equal(t, true, ok)
	assert.Equal(t, "hi", entity.Text)
	assert.Equal(t, 0, overlay.Len())

	_, ok = overlay.Remove(tempId)
	assert.Equal(t, false, ok)

	stateLock.Lock()
	assert.Equal(t, 2, len(published))
	stateLock.Unlock()
}

func TestOverlayReconcileOneToOne(t *testing.T) {
	overlay := NewOverlayStore[Message](time.Minute)
	defer overlay.Close()

	now := time.Now().UTC()
	// two pending with identical sender and text
	tempId1 := NewId()
	tempId2 := NewId()
	overlay.Add(tempId1, Message{Id: tempId1.String(), SenderId: "alice", Text: "hi", CreateTime: now})
	overlay.Add(tempId2, Message{Id: tempId2.String(), SenderId: "alice", Text: "hi", CreateTime: now})

	// one confirmed echo consumes exactly one pending entry
	confirmed := Message{Id: "m1", SenderId: "alice", Text: "hi", CreateTime: now.Add(200 * time.Millisecond)}
	overlay.Reconcile([]Message{confirmed}, MessagesMatch)
	assert.Equal(t, 1, overlay.Len())

	// the second echo consumes the second
	confirmed2 := Message{Id: "m2", SenderId: "alice", Text: "hi", CreateTime: now.Add(400 * time.Millisecond)}
	overlay.Reconcile([]Message{confirmed2}, MessagesMatch)
	assert.Equal(t, 0, overlay.Len())
}

func TestOverlayReconcileNoMatchSurvives(t *testing.T) {
	overlay := NewOverlayStore[Message](time.Minute)
	defer overlay.Close()

	now := time.Now().UTC()
	tempId := NewId()
	overlay.Add(tempId, Message{Id: tempId.String(), SenderId: "alice", Text: "hi", CreateTime: now})

	// different sender, different text, and out-of-window timestamps
	// all fail the match rule
	overlay.Reconcile([]Message{
		{Id: "m1", SenderId: "bob", Text: "hi", CreateTime: now},
		{Id: "m2", SenderId: "alice", Text: "hello", CreateTime: now},
		{Id: "m3", SenderId: "alice", Text: "hi", CreateTime: now.Add(6 * time.Second)},
	}, MessagesMatch)
	assert.Equal(t, 1, overlay.Len())
}

func TestOverlayTimeout(t *testing.T) {
	overlay := NewOverlayStore[Message](50 * time.Millisecond)
	defer overlay.Close()

	var stateLock sync.Mutex
	timedOut := []Id{}
	unsub := overlay.AddTimeoutListener(func(tempId Id, message Message) {
		stateLock.Lock()
		defer stateLock.Unlock()
		timedOut = append(timedOut, tempId)
	})
	defer unsub()

	tempId := NewId()
	overlay.Add(tempId, Message{Id: tempId.String(), Text: "hi"})

	waitFor(t, time.Second, func() bool {
		stateLock.Lock()
		defer stateLock.Unlock()
		return 1 == len(timedOut)
	})
	assert.Equal(t, tempId, timedOut[0])
	assert.Equal(t, 0, overlay.Len())
}

func TestOverlayRemoveBeatsTimeout(t *testing.T) {
	overlay := NewOverlayStore[Message](50 * time.Millisecond)
	defer overlay.Close()

	var stateLock sync.Mutex
	timedOut := 0
	unsub := overlay.AddTimeoutListener(func(tempId Id, message Message) {
		stateLock.Lock()
		defer stateLock.Unlock()
		timedOut += 1
	})
	defer unsub()

	tempId := NewId()
	overlay.Add(tempId, Message{Id: tempId.String(), Text: "hi"})
	_, ok := overlay.Remove(tempId)
	assert.Equal(t, true, ok)

	time.Sleep(100 * time.Millisecond)
	stateLock.Lock()
	assert.Equal(t, 0, timedOut)
	stateLock.Unlock()
}
