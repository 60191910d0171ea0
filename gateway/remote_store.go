package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"pawmatch.app/petsync"
	"pawmatch.app/petsync/docstore"
)

type RemoteStoreSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	RequestTimeout     time.Duration
}

func DefaultRemoteStoreSettings() *RemoteStoreSettings {
	return &RemoteStoreSettings{
		WsHandshakeTimeout: 2 * time.Second,
		AuthTimeout:        2 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		PingTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
		RequestTimeout:     10 * time.Second,
	}
}

// RemoteStore implements docstore.Store over a gateway websocket, so
// the engine runs against a remote store exactly the way it runs
// against the in-memory one.
//
// Connection loss fails in-flight requests with NetworkError and
// degrades open watches; the reconnect loop then re-issues every watch,
// whose fresh snapshot reseeds the downstream merge.
type RemoteStore struct {
	ctx    context.Context
	cancel context.CancelFunc

	url   string
	byJwt string

	settings *RemoteStoreSettings

	stateLock sync.Mutex
	send      chan *Frame // nil while disconnected
	requests  map[int64]chan *Frame
	watches   map[int64]*remoteWatch
	seq       int64
}

type remoteWatch struct {
	watchId int64
	path    string
	wheres  []docstore.Where
	sub     *docstore.Subscription
}

func NewRemoteStoreWithDefaults(ctx context.Context, url string, byJwt string) *RemoteStore {
	return NewRemoteStore(ctx, url, byJwt, DefaultRemoteStoreSettings())
}

func NewRemoteStore(ctx context.Context, url string, byJwt string, settings *RemoteStoreSettings) *RemoteStore {
	cancelCtx, cancel := context.WithCancel(ctx)
	store := &RemoteStore{
		ctx:      cancelCtx,
		cancel:   cancel,
		url:      url,
		byJwt:    byJwt,
		settings: settings,
		requests: map[int64]chan *Frame{},
		watches:  map[int64]*remoteWatch{},
	}
	go store.run()
	return store
}

func (self *RemoteStore) Close() {
	self.cancel()
}

func (self *RemoteStore) run() {
	for {
		reconnect := petsync.NewReconnect(self.settings.ReconnectTimeout)

		ws, err := self.connect()
		if err != nil {
			glog.Infof("[remote]connect error = %s\n", err)
			select {
			case <-self.ctx.Done():
				return
			case <-reconnect.After():
				continue
			}
		}

		self.serve(ws)

		select {
		case <-self.ctx.Done():
			return
		case <-reconnect.After():
		}
	}
}

func (self *RemoteStore) connect() (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(self.ctx, self.url, nil)
	if err != nil {
		return nil, err
	}

	success := false
	defer func() {
		if !success {
			ws.Close()
		}
	}()

	ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
	if err := ws.WriteJSON(&Frame{Type: FrameAuth, ByJwt: self.byJwt}); err != nil {
		return nil, err
	}
	ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
	var authOk Frame
	if err := ws.ReadJSON(&authOk); err != nil {
		return nil, err
	}
	if authOk.Type != FrameAuthOk {
		return nil, fmt.Errorf("auth response error")
	}

	success = true
	return ws, nil
}

// serve runs one connection until it breaks.
func (self *RemoteStore) serve(ws *websocket.Conn) {
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	send := make(chan *Frame, sendBufferSize)

	self.stateLock.Lock()
	self.send = send
	rewatch := make([]*remoteWatch, 0, len(self.watches))
	for _, watch := range self.watches {
		rewatch = append(rewatch, watch)
	}
	self.stateLock.Unlock()

	defer self.disconnect()

	// write pump
	go func() {
		defer handleCancel()
		for {
			select {
			case <-handleCtx.Done():
				return
			case frame := <-send:
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteJSON(frame); err != nil {
					glog.Infof("[remote]write error = %s\n", err)
					return
				}
			}
		}
	}()

	// ping loop keeps the gateway read deadline fresh
	go func() {
		defer handleCancel()
		for {
			select {
			case <-handleCtx.Done():
				return
			case <-time.After(self.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// re-issue every open watch; its fresh snapshot reseeds consumers
	for _, watch := range rewatch {
		self.deliver(handleCtx, send, &Frame{
			Type:    FrameWatch,
			WatchId: watch.watchId,
			Path:    watch.path,
			Wheres:  watch.wheres,
		})
	}

	ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
	ws.SetPongHandler(func(appData string) error {
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		return nil
	})

	for {
		var frame Frame
		if err := ws.ReadJSON(&frame); err != nil {
			if self.ctx.Err() == nil {
				glog.Infof("[remote]read closed = %s\n", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		self.route(&frame)
	}
}

// disconnect fails pending requests and degrades open watches. The
// watches stay registered for the next connection.
func (self *RemoteStore) disconnect() {
	self.stateLock.Lock()
	self.send = nil
	requests := self.requests
	self.requests = map[int64]chan *Frame{}
	watches := make([]*remoteWatch, 0, len(self.watches))
	for _, watch := range self.watches {
		watches = append(watches, watch)
	}
	self.stateLock.Unlock()

	for _, out := range requests {
		close(out)
	}
	for _, watch := range watches {
		watch.sub.Fail(&petsync.NetworkError{Op: "watch", Err: fmt.Errorf("connection lost")})
	}
}

func (self *RemoteStore) route(frame *Frame) {
	switch frame.Type {
	case FrameResult:
		self.stateLock.Lock()
		out, ok := self.requests[frame.RequestId]
		if ok {
			delete(self.requests, frame.RequestId)
		}
		self.stateLock.Unlock()
		if ok {
			out <- frame
			close(out)
		}
	case FrameEvent:
		self.stateLock.Lock()
		watch, ok := self.watches[frame.WatchId]
		self.stateLock.Unlock()
		if !ok {
			return
		}
		if err := decodeError(frame.ErrorKind, frame.Error); err != nil {
			watch.sub.Fail(err)
			return
		}
		watch.sub.Publish(docstore.Event{
			Snapshot: frame.Snapshot,
			Docs:     frame.Docs,
			Added:    frame.Added,
			Modified: frame.Modified,
			Removed:  frame.Removed,
		})
	default:
		glog.Infof("[remote]unknown frame %s\n", frame.Type)
	}
}

func (self *RemoteStore) nextSeq() int64 {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.seq += 1
	return self.seq
}

// request sends one frame and waits for its result.
func (self *RemoteStore) request(ctx context.Context, op string, frame *Frame) (*Frame, error) {
	frame.RequestId = self.nextSeq()
	out := make(chan *Frame, 1)

	self.stateLock.Lock()
	send := self.send
	if send == nil {
		self.stateLock.Unlock()
		return nil, &petsync.NetworkError{Op: op, Err: fmt.Errorf("not connected")}
	}
	self.requests[frame.RequestId] = out
	self.stateLock.Unlock()

	cleanup := func() {
		self.stateLock.Lock()
		delete(self.requests, frame.RequestId)
		self.stateLock.Unlock()
	}

	select {
	case send <- frame:
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	case <-self.ctx.Done():
		cleanup()
		return nil, &petsync.NetworkError{Op: op, Err: fmt.Errorf("store closed")}
	}

	select {
	case result, ok := <-out:
		if !ok {
			return nil, &petsync.NetworkError{Op: op, Err: fmt.Errorf("connection lost")}
		}
		return result, nil
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	case <-time.After(self.settings.RequestTimeout):
		cleanup()
		return nil, &petsync.NetworkError{Op: op, Err: fmt.Errorf("request timeout")}
	}
}

func (self *RemoteStore) Get(ctx context.Context, path string, id string) (docstore.Document, error) {
	result, err := self.request(ctx, "get", &Frame{Type: FrameGet, Path: path, Id: id})
	if err != nil {
		return docstore.Document{}, err
	}
	if err := decodeError(result.ErrorKind, result.Error); err != nil {
		return docstore.Document{}, err
	}
	if result.Doc == nil {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return *result.Doc, nil
}

func (self *RemoteStore) List(ctx context.Context, path string, wheres ...docstore.Where) ([]docstore.Document, error) {
	result, err := self.request(ctx, "list", &Frame{Type: FrameList, Path: path, Wheres: wheres})
	if err != nil {
		return nil, err
	}
	if err := decodeError(result.ErrorKind, result.Error); err != nil {
		return nil, err
	}
	return result.Docs, nil
}

func (self *RemoteStore) Commit(ctx context.Context, preconds []docstore.Precond, ops []docstore.Op) error {
	result, err := self.request(ctx, "commit", &Frame{Type: FrameCommit, Preconds: preconds, Ops: ops})
	if err != nil {
		return err
	}
	return decodeError(result.ErrorKind, result.Error)
}

func (self *RemoteStore) Watch(ctx context.Context, path string, wheres ...docstore.Where) (*docstore.Subscription, error) {
	sub := docstore.NewSubscription(ctx)
	watch := &remoteWatch{
		watchId: self.nextSeq(),
		path:    path,
		wheres:  wheres,
		sub:     sub,
	}

	self.stateLock.Lock()
	self.watches[watch.watchId] = watch
	send := self.send
	self.stateLock.Unlock()

	if send != nil {
		self.deliver(self.ctx, send, &Frame{
			Type:    FrameWatch,
			WatchId: watch.watchId,
			Path:    watch.path,
			Wheres:  watch.wheres,
		})
	} else {
		// degraded until the reconnect loop re-issues the watch
		sub.Fail(&petsync.NetworkError{Op: "watch", Err: fmt.Errorf("not connected")})
	}

	go func() {
		<-sub.Done()
		self.stateLock.Lock()
		delete(self.watches, watch.watchId)
		send := self.send
		self.stateLock.Unlock()
		if send != nil {
			self.deliver(self.ctx, send, &Frame{Type: FrameUnwatch, WatchId: watch.watchId})
		}
	}()

	return sub, nil
}

func (self *RemoteStore) deliver(ctx context.Context, send chan *Frame, frame *Frame) {
	select {
	case send <- frame:
	case <-ctx.Done():
	}
}
