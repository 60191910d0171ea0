package gateway

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"

	"pawmatch.app/petsync"
	"pawmatch.app/petsync/docstore"
)

var testSecret = []byte("gateway-test-secret")

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

func testGateway(t *testing.T, ctx context.Context) (*httptest.Server, string, *docstore.MemoryStore) {
	t.Helper()

	backing := docstore.NewMemoryStore()
	gateway := NewGatewayWithDefaults(ctx, backing, testSecret)
	server := httptest.NewServer(gateway)
	t.Cleanup(server.Close)
	t.Cleanup(gateway.Close)

	wsUrl := "ws" + strings.TrimPrefix(server.URL, "http")
	return server, wsUrl, backing
}

func mintTestJwt(t *testing.T, profileId string) string {
	t.Helper()

	jwtStr, err := petsync.MintByJwt(testSecret, &petsync.ByJwt{
		ProfileId:   profileId,
		DisplayName: profileId,
	})
	assert.Equal(t, nil, err)
	return jwtStr
}

func testRemoteStore(t *testing.T, ctx context.Context, wsUrl string, profileId string) *RemoteStore {
	t.Helper()

	settings := DefaultRemoteStoreSettings()
	settings.ReconnectTimeout = 100 * time.Millisecond
	store := NewRemoteStore(ctx, wsUrl, mintTestJwt(t, profileId), settings)
	t.Cleanup(store.Close)

	// the connect loop runs in the background; wait for the first
	// request to go through
	waitFor(t, 5*time.Second, func() bool {
		_, err := store.List(ctx, "warmup")
		return err == nil
	})
	return store
}

func TestGatewayRejectsBadToken(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, wsUrl, _ := testGateway(t, ctx)

	ws, _, err := websocket.DefaultDialer.Dial(wsUrl, nil)
	assert.Equal(t, nil, err)
	defer ws.Close()

	err = ws.WriteJSON(&Frame{Type: FrameAuth, ByJwt: "garbage"})
	assert.Equal(t, nil, err)

	// no authOk; the gateway drops the connection
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	err = ws.ReadJSON(&frame)
	assert.NotEqual(t, err, nil)
}

func TestRemoteStoreRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, wsUrl, _ := testGateway(t, ctx)
	store := testRemoteStore(t, ctx, wsUrl, "alice")

	err := docstore.Set(ctx, store, "pets", "rex", docstore.Fields{
		"ownerProfileId": "alice",
		"name":           "rex",
	})
	assert.Equal(t, nil, err)

	doc, err := store.Get(ctx, "pets", "rex")
	assert.Equal(t, nil, err)
	assert.Equal(t, "rex", doc.Id)
	assert.Equal(t, int64(1), doc.Version)
	assert.Equal(t, "rex", doc.Fields["name"])

	docs, err := store.List(ctx, "pets", docstore.Eq("ownerProfileId", "alice"))
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(docs))

	_, err = store.Get(ctx, "pets", "missing")
	assert.Equal(t, true, errors.Is(err, docstore.ErrNotFound))
}

func TestRemoteStoreConflictCrossesWire(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, wsUrl, _ := testGateway(t, ctx)
	store := testRemoteStore(t, ctx, wsUrl, "alice")

	created, err := docstore.Create(ctx, store, "things", "a", docstore.Fields{"n": 1})
	assert.Equal(t, nil, err)
	assert.Equal(t, true, created)

	created, err = docstore.Create(ctx, store, "things", "a", docstore.Fields{"n": 2})
	assert.Equal(t, nil, err)
	assert.Equal(t, false, created)
}

func TestRemoteStoreWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, wsUrl, backing := testGateway(t, ctx)
	store := testRemoteStore(t, ctx, wsUrl, "alice")

	err := docstore.Set(ctx, backing, "pets", "rex", docstore.Fields{"ownerProfileId": "alice"})
	assert.Equal(t, nil, err)

	sub, err := store.Watch(ctx, "pets", docstore.Eq("ownerProfileId", "alice"))
	assert.Equal(t, nil, err)
	defer sub.Close()

	select {
	case event := <-sub.Events():
		assert.Equal(t, true, event.Snapshot)
		assert.Equal(t, 1, len(event.Docs))
		assert.Equal(t, "rex", event.Docs[0].Id)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot in time")
	}

	// a write by another party on the backing store reaches the watch
	err = docstore.Set(ctx, backing, "pets", "spot", docstore.Fields{"ownerProfileId": "alice"})
	assert.Equal(t, nil, err)

	select {
	case event := <-sub.Events():
		assert.Equal(t, false, event.Snapshot)
		assert.Equal(t, 1, len(event.Added))
		assert.Equal(t, "spot", event.Added[0].Id)
	case <-time.After(2 * time.Second):
		t.Fatal("no diff in time")
	}
}

// A dropped connection degrades the watch with an error event, then the
// reconnect loop re-issues it and a fresh snapshot arrives.
func TestRemoteStoreWatchSurvivesReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server, wsUrl, backing := testGateway(t, ctx)
	store := testRemoteStore(t, ctx, wsUrl, "alice")

	err := docstore.Set(ctx, backing, "pets", "rex", docstore.Fields{"ownerProfileId": "alice"})
	assert.Equal(t, nil, err)

	sub, err := store.Watch(ctx, "pets")
	assert.Equal(t, nil, err)
	defer sub.Close()

	select {
	case event := <-sub.Events():
		assert.Equal(t, true, event.Snapshot)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot in time")
	}

	server.CloseClientConnections()

	sawError := false
	deadline := time.After(5 * time.Second)
	for {
		select {
		case event := <-sub.Events():
			if event.Err != nil {
				sawError = true
				continue
			}
			if event.Snapshot {
				// reseeded after reconnect
				assert.Equal(t, true, sawError)
				assert.Equal(t, 1, len(event.Docs))
				return
			}
		case <-deadline:
			t.Fatal("no reseed after reconnect")
		}
	}
}

// The whole engine over the wire: a client against the remote store
// sends a message and sees its authoritative echo.
func TestClientOverGateway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, wsUrl, backing := testGateway(t, ctx)
	store := testRemoteStore(t, ctx, wsUrl, "alice")

	identity, err := petsync.NewJwtIdentity(mintTestJwt(t, "alice"))
	assert.Equal(t, nil, err)
	client := petsync.NewClientWithDefaults(ctx, store, identity, petsync.NewNoopNotifier())
	defer client.Close()

	view, err := client.OpenThread(ctx, "bob")
	assert.Equal(t, nil, err)
	defer view.Close()

	err = view.Send(ctx, "hello over the wire")
	assert.Equal(t, nil, err)

	waitFor(t, 5*time.Second, func() bool {
		messages := view.Messages()
		return len(messages) == 1 && messages[0].Text == "hello over the wire"
	})

	// the write is durable on the backing store
	docs, err := backing.List(ctx, petsync.MessagesPath(view.ThreadId()))
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(docs))
}
