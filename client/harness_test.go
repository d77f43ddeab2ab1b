package client

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

// manual time. Tickers fire only in `Advance`.
type testScheduler struct {
	now     time.Time
	nextId  int
	tickers map[int]*testTicker
}

type testTicker struct {
	period time.Duration
	next   time.Time
	f      func()
}

func newTestScheduler() *testScheduler {
	return &testScheduler{
		now:     time.Unix(1700000000, 0),
		tickers: map[int]*testTicker{},
	}
}

func (self *testScheduler) Now() time.Time {
	return self.now
}

func (self *testScheduler) Every(period time.Duration, f func()) func() {
	self.nextId += 1
	id := self.nextId
	self.tickers[id] = &testTicker{
		period: period,
		next:   self.now.Add(period),
		f:      f,
	}
	return func() {
		delete(self.tickers, id)
	}
}

// fires due tickers in time order
func (self *testScheduler) Advance(d time.Duration) {
	end := self.now.Add(d)
	for {
		var next *testTicker
		for _, id := range sortedKeys(self.tickers) {
			ticker := self.tickers[id]
			if ticker.next.After(end) {
				continue
			}
			if next == nil || ticker.next.Before(next.next) {
				next = ticker
			}
		}
		if next == nil {
			break
		}
		self.now = next.next
		next.next = next.next.Add(next.period)
		next.f()
	}
	self.now = end
}

func (self *testScheduler) ActiveCount() int {
	return len(self.tickers)
}

// records sent messages. Open and close are driven by the test.
type testSocket struct {
	readyState   ReadyState
	capabilities SocketCapabilities
	handlers     *SocketHandlers
	codec        FrameCodec

	sent   []*Message
	closed int
}

func newTestSocket(readyState ReadyState) *testSocket {
	return &testSocket{
		readyState: readyState,
		capabilities: SocketCapabilities{
			CanSendJSON: true,
		},
		codec: NewJsonFrameCodec(),
	}
}

func (self *testSocket) ReadyState() ReadyState {
	return self.readyState
}

func (self *testSocket) Capabilities() SocketCapabilities {
	return self.capabilities
}

func (self *testSocket) Send(frame Frame) error {
	if self.readyState == ReadyStateClosing || self.readyState == ReadyStateClosed {
		return ErrSocketNotOpen
	}
	message := frame.Message
	if message == nil {
		var err error
		message, err = self.codec.Decode(frame.Data)
		if err != nil {
			return err
		}
	}
	self.sent = append(self.sent, message)
	return nil
}

func (self *testSocket) Close() error {
	self.closed += 1
	self.readyState = ReadyStateClosed
	return nil
}

func (self *testSocket) SetHandlers(handlers *SocketHandlers) {
	self.handlers = handlers
}

func (self *testSocket) open() {
	self.readyState = ReadyStateOpen
	self.handlers.OnOpen()
}

func (self *testSocket) closeWith(reason string) {
	self.readyState = ReadyStateClosed
	self.handlers.OnClose(reason)
}

func (self *testSocket) receive(data string) error {
	return self.handlers.OnMessage(Frame{Data: []byte(data)})
}

// returns and clears the sent messages
func (self *testSocket) takeSent() []*Message {
	sent := self.sent
	self.sent = nil
	return sent
}

func actions(messages []*Message) []string {
	out := []string{}
	for _, message := range messages {
		out = append(out, message.Action)
	}
	return out
}

func newTestConnection(settings *ConnectionSettings) (*Connection, *testSocket, *testScheduler) {
	if settings == nil {
		settings = DefaultConnectionSettings()
	}
	socket := newTestSocket(ReadyStateConnecting)
	scheduler := newTestScheduler()
	connection := NewConnection(socket, scheduler, nil, settings)
	return connection, socket, scheduler
}

func connectTest(t *testing.T, socket *testSocket, clientId string) {
	socket.open()
	err := socket.receive(`{"a":"init","protocol":0,"id":"` + clientId + `"}`)
	assert.Equal(t, nil, err)
}

// a connected connection with one ready text doc
func newTestTextDoc(t *testing.T, version int64, text string) (*Connection, *testSocket, *testScheduler, *Doc) {
	connection, socket, scheduler := newTestConnection(nil)
	connectTest(t, socket, "client1")
	doc, err := connection.GetWithData("x", "a", &SnapshotData{
		Version: int64Ptr(version),
		Type:    "text",
		Data:    text,
	})
	assert.Equal(t, nil, err)
	socket.takeSent()
	return connection, socket, scheduler, doc
}
