package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// reason reported for a local close
const CloseReasonClosed = "Closed"

type WebSocketTransportSettings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// extended by each frame and pong
	ReadTimeout time.Duration
	PingTimeout time.Duration

	ReconnectInitialInterval time.Duration
	ReconnectMaxInterval     time.Duration

	SendBufferSize  int
	EventBufferSize int

	// frames are binary (see `ProtoFrameCodec`) instead of json text
	BinaryFrames           bool
	CanSendWhileConnecting bool
}

func DefaultWebSocketTransportSettings() *WebSocketTransportSettings {
	return &WebSocketTransportSettings{
		HandshakeTimeout:         5 * time.Second,
		WriteTimeout:             5 * time.Second,
		ReadTimeout:              30 * time.Second,
		PingTimeout:              10 * time.Second,
		ReconnectInitialInterval: 500 * time.Millisecond,
		ReconnectMaxInterval:     30 * time.Second,
		SendBufferSize:           32,
		EventBufferSize:          32,
	}
}

type transportSession struct {
	ctx  context.Context
	send chan []byte
}

// WebSocketTransport is a reconnecting websocket `Socket` and the `Scheduler` for its
// connection. All handlers and scheduled work run on one event loop goroutine.
// Use `Do` or `DoSync` to call into the connection from other goroutines.
//
// Dialing starts when handlers are first installed.
type WebSocketTransport struct {
	// lives with the event loop
	ctx context.Context
	// dial and session lifetime. Canceled by `Close`.
	runCtx    context.Context
	runCancel context.CancelFunc

	url      string
	auth     *ClientAuth
	settings *WebSocketTransportSettings

	events chan func()

	stateLock  sync.Mutex
	readyState ReadyState
	handlers   *SocketHandlers
	session    *transportSession

	startOnce sync.Once
}

func NewWebSocketTransportWithDefaults(ctx context.Context, url string, auth *ClientAuth) *WebSocketTransport {
	return NewWebSocketTransport(ctx, url, auth, DefaultWebSocketTransportSettings())
}

func NewWebSocketTransport(
	ctx context.Context,
	url string,
	auth *ClientAuth,
	settings *WebSocketTransportSettings,
) *WebSocketTransport {
	runCtx, runCancel := context.WithCancel(ctx)
	transport := &WebSocketTransport{
		ctx:        ctx,
		runCtx:     runCtx,
		runCancel:  runCancel,
		url:        url,
		auth:       auth,
		settings:   settings,
		events:     make(chan func(), settings.EventBufferSize),
		readyState: ReadyStateConnecting,
	}
	go transport.loop()
	return transport
}

func (self *WebSocketTransport) loop() {
	for {
		select {
		case <-self.ctx.Done():
			return
		case f := <-self.events:
			HandleError(f)
		}
	}
}

// Do runs `f` on the event loop. Returns false if the loop has stopped.
func (self *WebSocketTransport) Do(f func()) bool {
	select {
	case <-self.ctx.Done():
		return false
	case self.events <- f:
		return true
	}
}

// DoSync runs `f` on the event loop and waits for it to finish.
// Must not be called from the event loop.
func (self *WebSocketTransport) DoSync(f func()) bool {
	done := make(chan struct{})
	if !self.Do(func() {
		defer close(done)
		f()
	}) {
		return false
	}
	select {
	case <-self.ctx.Done():
		return false
	case <-done:
		return true
	}
}

// Scheduler

func (self *WebSocketTransport) Now() time.Time {
	return time.Now()
}

func (self *WebSocketTransport) Every(period time.Duration, f func()) func() {
	stop := make(chan struct{})
	var stopOnce sync.Once
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-self.ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				self.Do(func() {
					select {
					case <-stop:
					default:
						f()
					}
				})
			}
		}
	}()
	return func() {
		stopOnce.Do(func() {
			close(stop)
		})
	}
}

// Socket

func (self *WebSocketTransport) ReadyState() ReadyState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.readyState
}

func (self *WebSocketTransport) Capabilities() SocketCapabilities {
	return SocketCapabilities{
		CanSendWhileConnecting: self.settings.CanSendWhileConnecting,
		CanSendJSON:            false,
	}
}

func (self *WebSocketTransport) SetHandlers(handlers *SocketHandlers) {
	self.stateLock.Lock()
	self.handlers = handlers
	self.stateLock.Unlock()

	if handlers != nil {
		self.startOnce.Do(func() {
			go self.run()
		})
	}
}

func (self *WebSocketTransport) getHandlers() *SocketHandlers {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.handlers == nil {
		return &SocketHandlers{}
	}
	return self.handlers
}

func (self *WebSocketTransport) Send(frame Frame) error {
	self.stateLock.Lock()
	session := self.session
	self.stateLock.Unlock()
	if session == nil {
		return ErrSocketNotOpen
	}

	data := frame.Data
	if frame.Message != nil {
		var err error
		data, err = json.Marshal(frame.Message)
		if err != nil {
			return err
		}
	}

	select {
	case <-session.ctx.Done():
		return ErrSocketNotOpen
	case session.send <- data:
		return nil
	}
}

// Close closes the current session and stops reconnecting.
func (self *WebSocketTransport) Close() error {
	self.runCancel()
	return nil
}

func (self *WebSocketTransport) setReadyState(readyState ReadyState) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.readyState = readyState
}

func (self *WebSocketTransport) postOpen() {
	self.Do(func() {
		if onOpen := self.getHandlers().OnOpen; onOpen != nil {
			onOpen()
		}
	})
}

func (self *WebSocketTransport) postClose(reason string) {
	self.Do(func() {
		if onClose := self.getHandlers().OnClose; onClose != nil {
			onClose(reason)
		}
	})
}

func (self *WebSocketTransport) postError(err error) {
	self.Do(func() {
		if onError := self.getHandlers().OnError; onError != nil {
			onError(err)
		}
	})
}

func (self *WebSocketTransport) postMessage(data []byte) {
	self.Do(func() {
		if onMessage := self.getHandlers().OnMessage; onMessage != nil {
			if err := onMessage(Frame{Data: data}); err != nil {
				glog.V(LogLevelTrace).Infof("[t]frame error = %s\n", err)
			}
		}
	})
}

func (self *WebSocketTransport) dial() (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: self.settings.HandshakeTimeout,
	}
	header := http.Header{}
	if self.auth != nil {
		if self.auth.ByJwt != "" {
			header.Set("Authorization", fmt.Sprintf("Bearer %s", self.auth.ByJwt))
		}
		if self.auth.AppVersion != "" {
			header.Set("X-App-Version", self.auth.AppVersion)
		}
		if self.auth.InstanceId != (Id{}) {
			header.Set("X-Instance-Id", self.auth.InstanceId.String())
		}
	}
	ws, _, err := dialer.DialContext(self.runCtx, self.url, header)
	return ws, err
}

func (self *WebSocketTransport) run() {
	defer func() {
		self.setReadyState(ReadyStateClosed)
		self.postClose(CloseReasonClosed)
	}()

	reconnect := backoff.NewExponentialBackOff()
	reconnect.InitialInterval = self.settings.ReconnectInitialInterval
	reconnect.MaxInterval = self.settings.ReconnectMaxInterval
	// retry forever
	reconnect.MaxElapsedTime = 0
	reconnectWithContext := backoff.WithContext(reconnect, self.runCtx)

	for i := 0; ; i += 1 {
		if 0 < i {
			transportReconnects.Inc()
		}
		self.setReadyState(ReadyStateConnecting)

		var ws *websocket.Conn
		var err error
		if glog.V(LogLevelTrace) {
			ws, err = TraceWithReturnError(fmt.Sprintf("[t]dial %s", self.url), self.dial)
		} else {
			ws, err = self.dial()
		}
		if err == nil {
			reconnectWithContext.Reset()
			reason := self.handleSession(ws)
			glog.V(LogLevelLifecycle).Infof("[t]session closed (%s)\n", reason)
			self.setReadyState(ReadyStateClosed)
			if self.runCtx.Err() != nil {
				return
			}
			self.postClose(reason)
		} else {
			if self.runCtx.Err() != nil {
				return
			}
			glog.Infof("[t]dial error = %s\n", err)
			self.setReadyState(ReadyStateClosed)
			self.postError(err)
			self.postClose(err.Error())
		}

		wait := reconnectWithContext.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		select {
		case <-self.runCtx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// handleSession runs one open websocket until it closes, and returns the close reason.
func (self *WebSocketTransport) handleSession(ws *websocket.Conn) string {
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(self.runCtx)
	defer handleCancel()

	var reasonOnce sync.Once
	var reason string
	setReason := func(r string) {
		reasonOnce.Do(func() {
			reason = r
		})
	}

	session := &transportSession{
		ctx:  handleCtx,
		send: make(chan []byte, self.settings.SendBufferSize),
	}
	self.stateLock.Lock()
	self.session = session
	self.readyState = ReadyStateOpen
	self.stateLock.Unlock()
	defer func() {
		self.stateLock.Lock()
		if self.session == session {
			self.session = nil
		}
		self.stateLock.Unlock()
	}()

	self.postOpen()

	messageType := websocket.TextMessage
	if self.settings.BinaryFrames {
		messageType = websocket.BinaryMessage
	}

	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		return nil
	})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer handleCancel()

		pingTicker := time.NewTicker(self.settings.PingTimeout)
		defer pingTicker.Stop()

		for {
			select {
			case <-handleCtx.Done():
				if self.runCtx.Err() != nil {
					setReason(CloseReasonClosed)
					ws.WriteControl(
						websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, CloseReasonClosed),
						time.Now().Add(self.settings.WriteTimeout),
					)
				}
				return
			case data := <-session.send:
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(messageType, data); err != nil {
					// a write deadline cannot be recovered
					glog.Infof("[t]-> error = %s\n", err)
					setReason(err.Error())
					return
				}
				glog.V(LogLevelTrace).Infof("[t]-> %d\n", len(data))
			case <-pingTicker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(self.settings.WriteTimeout)); err != nil {
					setReason(err.Error())
					return
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer handleCancel()

		for {
			ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
			_, data, err := ws.ReadMessage()
			if err != nil {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) && closeErr.Text != "" {
					setReason(closeErr.Text)
				} else if self.runCtx.Err() != nil {
					setReason(CloseReasonClosed)
				} else {
					setReason(err.Error())
				}
				glog.V(LogLevelLifecycle).Infof("[t]<- error = %s\n", err)
				return
			}
			glog.V(LogLevelTrace).Infof("[t]<- %d\n", len(data))
			self.postMessage(data)
		}
	}()

	<-handleCtx.Done()
	// unblock the reader
	ws.Close()
	wg.Wait()
	return reason
}
