package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"pawmatch.app/petsync"
	"pawmatch.app/petsync/docstore"
)

const sendBufferSize = 32

type GatewaySettings struct {
	AuthTimeout  time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

func DefaultGatewaySettings() *GatewaySettings {
	return &GatewaySettings{
		AuthTimeout:  2 * time.Second,
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  15 * time.Second,
	}
}

// Gateway serves the document store surface over websockets. Each
// connection authenticates with a jwt first frame, then multiplexes
// get/list/commit requests and any number of watches.
type Gateway struct {
	ctx    context.Context
	cancel context.CancelFunc

	store  docstore.Store
	secret []byte

	upgrader websocket.Upgrader

	settings *GatewaySettings
}

func NewGatewayWithDefaults(ctx context.Context, store docstore.Store, secret []byte) *Gateway {
	return NewGateway(ctx, store, secret, DefaultGatewaySettings())
}

func NewGateway(ctx context.Context, store docstore.Store, secret []byte, settings *GatewaySettings) *Gateway {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Gateway{
		ctx:    cancelCtx,
		cancel: cancel,
		store:  store,
		secret: secret,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		settings: settings,
	}
}

func (self *Gateway) Close() {
	self.cancel()
}

func (self *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[gateway]upgrade error = %s\n", err)
		return
	}

	byJwt, err := self.authenticate(ws)
	if err != nil {
		glog.Infof("[gateway]auth error = %s\n", err)
		ws.Close()
		return
	}

	glog.Infof("[gateway]connected %s\n", byJwt.ProfileId)
	client := &gatewayClient{
		gateway: self,
		byJwt:   byJwt,
		ws:      ws,
		send:    make(chan *Frame, sendBufferSize),
		watches: map[int64]*docstore.Subscription{},
	}
	client.run(self.ctx)
}

func (self *Gateway) authenticate(ws *websocket.Conn) (*petsync.ByJwt, error) {
	ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
	var auth Frame
	if err := ws.ReadJSON(&auth); err != nil {
		return nil, err
	}
	byJwt, err := petsync.ParseByJwt(self.secret, auth.ByJwt)
	if err != nil {
		return nil, err
	}

	ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
	if err := ws.WriteJSON(&Frame{Type: FrameAuthOk}); err != nil {
		return nil, err
	}
	return byJwt, nil
}

type gatewayClient struct {
	gateway *Gateway
	byJwt   *petsync.ByJwt
	ws      *websocket.Conn
	send    chan *Frame

	stateLock sync.Mutex
	watches   map[int64]*docstore.Subscription
}

func (self *gatewayClient) run(ctx context.Context) {
	handleCtx, handleCancel := context.WithCancel(ctx)
	defer handleCancel()
	defer self.ws.Close()
	defer self.closeWatches()

	settings := self.gateway.settings

	self.ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
	self.ws.SetPingHandler(func(appData string) error {
		self.ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
		self.ws.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
		return self.ws.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	// write pump
	go func() {
		defer handleCancel()
		for {
			select {
			case <-handleCtx.Done():
				return
			case frame := <-self.send:
				self.ws.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
				if err := self.ws.WriteJSON(frame); err != nil {
					glog.Infof("[gateway]write error = %s\n", err)
					return
				}
			}
		}
	}()

	// read pump
	for {
		var frame Frame
		if err := self.ws.ReadJSON(&frame); err != nil {
			if handleCtx.Err() == nil {
				glog.Infof("[gateway]read closed = %s\n", err)
			}
			return
		}
		self.ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
		self.handle(handleCtx, &frame)
	}
}

func (self *gatewayClient) handle(ctx context.Context, frame *Frame) {
	switch frame.Type {
	case FrameGet:
		doc, err := self.gateway.store.Get(ctx, frame.Path, frame.Id)
		result := &Frame{Type: FrameResult, RequestId: frame.RequestId}
		if err == nil {
			result.Doc = &doc
		}
		result.ErrorKind, result.Error = encodeError(err)
		self.deliver(ctx, result)
	case FrameList:
		docs, err := self.gateway.store.List(ctx, frame.Path, frame.Wheres...)
		result := &Frame{Type: FrameResult, RequestId: frame.RequestId, Docs: docs}
		result.ErrorKind, result.Error = encodeError(err)
		self.deliver(ctx, result)
	case FrameCommit:
		err := self.gateway.store.Commit(ctx, frame.Preconds, frame.Ops)
		result := &Frame{Type: FrameResult, RequestId: frame.RequestId}
		result.ErrorKind, result.Error = encodeError(err)
		self.deliver(ctx, result)
	case FrameWatch:
		self.watch(ctx, frame)
	case FrameUnwatch:
		self.unwatch(frame.WatchId)
	default:
		glog.Infof("[gateway]unknown frame %s\n", frame.Type)
	}
}

func (self *gatewayClient) watch(ctx context.Context, frame *Frame) {
	sub, err := self.gateway.store.Watch(ctx, frame.Path, frame.Wheres...)
	if err != nil {
		kind, message := encodeError(err)
		self.deliver(ctx, &Frame{Type: FrameEvent, WatchId: frame.WatchId, ErrorKind: kind, Error: message})
		return
	}

	self.stateLock.Lock()
	if existing, ok := self.watches[frame.WatchId]; ok {
		existing.Close()
	}
	self.watches[frame.WatchId] = sub
	self.stateLock.Unlock()

	watchId := frame.WatchId
	go func() {
		for event := range sub.Events() {
			out := &Frame{
				Type:     FrameEvent,
				WatchId:  watchId,
				Snapshot: event.Snapshot,
				Docs:     event.Docs,
				Added:    event.Added,
				Modified: event.Modified,
				Removed:  event.Removed,
			}
			out.ErrorKind, out.Error = encodeError(event.Err)
			self.deliver(ctx, out)
		}
	}()
}

func (self *gatewayClient) unwatch(watchId int64) {
	self.stateLock.Lock()
	sub, ok := self.watches[watchId]
	if ok {
		delete(self.watches, watchId)
	}
	self.stateLock.Unlock()

	if ok {
		sub.Close()
	}
}

func (self *gatewayClient) deliver(ctx context.Context, frame *Frame) {
	select {
	case self.send <- frame:
	case <-ctx.Done():
	}
}

func (self *gatewayClient) closeWatches() {
	self.stateLock.Lock()
	watches := self.watches
	self.watches = map[int64]*docstore.Subscription{}
	self.stateLock.Unlock()

	for _, sub := range watches {
		sub.Close()
	}
}
