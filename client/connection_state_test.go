package client

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestConnectionStateMachine(t *testing.T) {
	state := newConnectionStateMachine(ConnectionStateDisconnected)
	assert.Equal(t, ConnectionStateDisconnected, state.Current())

	for _, next := range []ConnectionState{
		ConnectionStateConnecting,
		ConnectionStateConnected,
		ConnectionStateDisconnected,
		ConnectionStateStopped,
		ConnectionStateConnecting,
		ConnectionStateDisconnected,
	} {
		assert.Equal(t, nil, state.Transition(next))
		assert.Equal(t, next, state.Current())
	}

	err := state.Transition(ConnectionStateConnected)
	assert.Equal(t, true, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, ConnectionStateDisconnected, state.Current())

	state = newConnectionStateMachine(ConnectionStateConnected)
	err = state.Transition(ConnectionStateStopped)
	assert.Equal(t, true, errors.Is(err, ErrInvalidTransition))
}

func TestConnectionStateIsOpen(t *testing.T) {
	assert.Equal(t, true, ConnectionStateConnecting.IsOpen())
	assert.Equal(t, true, ConnectionStateConnected.IsOpen())
	assert.Equal(t, false, ConnectionStateDisconnected.IsOpen())
	assert.Equal(t, false, ConnectionStateStopped.IsOpen())
}
