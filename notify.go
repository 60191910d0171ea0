package petsync

import (
	"context"
	"io"
	"sync"

	"github.com/golang/glog"
)

// Notifier is the push/local notification dispatcher. Delivery and
// display are entirely its responsibility; the engine invokes it only
// after a message write is durable and only when the receiver is not
// currently viewing the thread.
type Notifier interface {
	Notify(ctx context.Context, receiverProfileId string, senderDisplayName string, messageText string, threadId string)
}

// Presence answers whether a profile is currently viewing a thread.
// Thread views register themselves; remote deployments can back this
// with gateway-reported presence.
type Presence interface {
	Viewing(profileId string, threadId string) bool
}

// ImageHost uploads a local image and returns its public url. On
// failure the caller substitutes PlaceholderImageUrl so the record is
// never corrupted.
type ImageHost interface {
	Upload(ctx context.Context, name string, r io.Reader) (string, error)
}

type noopNotifier struct{}

func (self *noopNotifier) Notify(ctx context.Context, receiverProfileId string, senderDisplayName string, messageText string, threadId string) {
}

func NewNoopNotifier() Notifier {
	return &noopNotifier{}
}

type logNotifier struct{}

func (self *logNotifier) Notify(ctx context.Context, receiverProfileId string, senderDisplayName string, messageText string, threadId string) {
	glog.Infof("[notify]%s <- %s: %s (%s)\n", receiverProfileId, senderDisplayName, messageText, threadId)
}

// NewLogNotifier logs instead of dispatching, for the ctl demo.
func NewLogNotifier() Notifier {
	return &logNotifier{}
}

// LocalPresence is the in-process Presence registry.
type LocalPresence struct {
	stateLock sync.Mutex
	viewing   map[string]map[string]int
}

func NewLocalPresence() *LocalPresence {
	return &LocalPresence{
		viewing: map[string]map[string]int{},
	}
}

// Enter records that the profile is viewing the thread. Returns the
// leave func. Nested views of the same thread refcount.
func (self *LocalPresence) Enter(profileId string, threadId string) func() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	threads, ok := self.viewing[profileId]
	if !ok {
		threads = map[string]int{}
		self.viewing[profileId] = threads
	}
	threads[threadId] += 1

	leaveOnce := sync.Once{}
	return func() {
		leaveOnce.Do(func() {
			self.leave(profileId, threadId)
		})
	}
}

func (self *LocalPresence) leave(profileId string, threadId string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	threads, ok := self.viewing[profileId]
	if !ok {
		return
	}
	threads[threadId] -= 1
	if threads[threadId] <= 0 {
		delete(threads, threadId)
	}
	if len(threads) == 0 {
		delete(self.viewing, profileId)
	}
}

func (self *LocalPresence) Viewing(profileId string, threadId string) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return 0 < self.viewing[profileId][threadId]
}
