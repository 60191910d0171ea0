package petsync

import (
	"testing"
	"time"
)

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	end := time.Now().Add(timeout)
	for time.Now().Before(end) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !condition() {
		t.Fatal("condition not reached in time")
	}
}

type testIdentity struct {
	profileId string
}

func (self *testIdentity) ProfileId() string {
	return self.profileId
}

func (self *testIdentity) ByJwt() string {
	return ""
}

type recordedNotification struct {
	receiverProfileId string
	senderDisplayName string
	messageText       string
	threadId          string
}
