package client

import (
	"errors"
	"time"
)

var ErrSocketNotOpen = errors.New("Socket is not open.")

// websocket ready states
type ReadyState int

const (
	ReadyStateConnecting ReadyState = 0
	ReadyStateOpen       ReadyState = 1
	ReadyStateClosing    ReadyState = 2
	ReadyStateClosed     ReadyState = 3
)

type SocketCapabilities struct {
	// the server accepts messages before the `init` message arrives
	CanSendWhileConnecting bool
	// frames are passed as `*Message` without encoding
	CanSendJSON bool
}

// Frame is either encoded bytes or an already decoded message.
type Frame struct {
	Data    []byte
	Message *Message
}

// all handlers are called from the event loop
type SocketHandlers struct {
	OnOpen func()
	// `reason` is the close reason reported by the server or the transport
	OnClose   func(reason string)
	OnMessage func(frame Frame) error
	OnError   func(err error)
}

// Socket delivers ordered, reliable frames once open.
type Socket interface {
	ReadyState() ReadyState
	Capabilities() SocketCapabilities
	Send(frame Frame) error
	Close() error
	SetHandlers(handlers *SocketHandlers)
}

// Scheduler runs periodic work on the event loop.
type Scheduler interface {
	Now() time.Time
	// calls `f` every `period` until canceled
	Every(period time.Duration, f func()) (cancel func())
}
