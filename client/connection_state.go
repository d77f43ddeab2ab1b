package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
)

var ErrInvalidTransition = errors.New("Invalid connection state transition.")

type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateStopped      ConnectionState = "stopped"
)

// can send on the socket without the socket buffering
func (self ConnectionState) IsOpen() bool {
	switch self {
	case ConnectionStateConnecting, ConnectionStateConnected:
		return true
	default:
		return false
	}
}

// connectionStateMachine restricts transitions to:
//
//	disconnected|stopped -> connecting -> connected
//	connecting|connected|stopped -> disconnected
//	disconnected -> stopped
//
// Events are named by their destination state.
type connectionStateMachine struct {
	fsm *fsm.FSM
}

func newConnectionStateMachine(initial ConnectionState) *connectionStateMachine {
	events := fsm.Events{
		{
			Name: string(ConnectionStateConnecting),
			Src:  []string{string(ConnectionStateDisconnected), string(ConnectionStateStopped)},
			Dst:  string(ConnectionStateConnecting),
		},
		{
			Name: string(ConnectionStateConnected),
			Src:  []string{string(ConnectionStateConnecting)},
			Dst:  string(ConnectionStateConnected),
		},
		{
			Name: string(ConnectionStateDisconnected),
			Src: []string{
				string(ConnectionStateConnecting),
				string(ConnectionStateConnected),
				string(ConnectionStateStopped),
			},
			Dst: string(ConnectionStateDisconnected),
		},
		{
			Name: string(ConnectionStateStopped),
			Src:  []string{string(ConnectionStateDisconnected)},
			Dst:  string(ConnectionStateStopped),
		},
	}
	// side effects of a transition run in the connection after `Event` returns,
	// so that callbacks never re-enter the state machine
	return &connectionStateMachine{
		fsm: fsm.NewFSM(string(initial), events, fsm.Callbacks{}),
	}
}

func (self *connectionStateMachine) Current() ConnectionState {
	return ConnectionState(self.fsm.Current())
}

func (self *connectionStateMachine) Transition(state ConnectionState) error {
	from := self.Current()
	err := self.fsm.Event(context.Background(), string(state))
	if err != nil {
		return fmt.Errorf("%w from %s to %s (%s)", ErrInvalidTransition, from, state, err)
	}
	return nil
}
