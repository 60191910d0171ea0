package petsync

import (
	"sort"
	"time"
)

// ReconcileWindow bounds the clock skew tolerated between a local
// optimistic timestamp and the server-assigned timestamp of its echo.
const ReconcileWindow = 5 * time.Second

// MessagesMatch is the fuzzy rule for recognizing a confirmed message
// as the echo of a pending one: same sender, same text, timestamps
// within the window. The client cannot see a server-assigned id for its
// own pending write before the stream echoes it back, so identity has
// to be inferred.
//
// Known limitation: two identical texts sent by the same sender within
// the window can be attributed to each other. The effect is benign (one
// pending entry is dropped for one confirmed echo either way) and no
// stronger id scheme is layered on.
func MessagesMatch(pending Message, confirmed Message) bool {
	if pending.SenderId != confirmed.SenderId {
		return false
	}
	if pending.Text != confirmed.Text {
		return false
	}
	delta := confirmed.CreateTime.Sub(pending.CreateTime)
	if delta < 0 {
		delta = -delta
	}
	return delta < ReconcileWindow
}

// MergeMessages folds the confirmed set and the surviving pending set
// into the display list, ascending by timestamp. Ties order pending
// after confirmed, then by id, so repeated merges are stable.
func MergeMessages(confirmed []Message, pending []Message) []Message {
	merged := make([]Message, 0, len(confirmed)+len(pending))
	merged = append(merged, confirmed...)
	merged = append(merged, pending...)
	sort.SliceStable(merged, func(i int, j int) bool {
		if !merged[i].CreateTime.Equal(merged[j].CreateTime) {
			return merged[i].CreateTime.Before(merged[j].CreateTime)
		}
		return merged[i].Id < merged[j].Id
	})
	return merged
}
