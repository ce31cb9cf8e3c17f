package session

import (
	"fmt"
	"sync"
)

// State is the link lifecycle position.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateLeaving:
		return "leaving"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// listening reports whether the receiver reads the port in s.
func (s State) listening() bool {
	return s == StateConnecting || s == StateConnected
}

type trigger uint8

const (
	triggerConnect trigger = iota
	triggerPeerJoin
	triggerLeaveBegin
	triggerLeaveDone
	triggerPeerLeave
)

func (t trigger) String() string {
	switch t {
	case triggerConnect:
		return "connect"
	case triggerPeerJoin:
		return "peer_join"
	case triggerLeaveBegin:
		return "leave_begin"
	case triggerLeaveDone:
		return "leave_done"
	case triggerPeerLeave:
		return "peer_leave"
	default:
		return fmt.Sprintf("trigger(%d)", uint8(t))
	}
}

// next is the whole transition table. ok is false when t is not legal in s.
func next(s State, t trigger) (State, bool) {
	switch s {
	case StateDisconnected:
		switch t {
		case triggerConnect:
			return StateConnecting, true
		}
	case StateConnecting:
		switch t {
		case triggerConnect:
			return StateConnecting, true
		case triggerPeerJoin:
			return StateConnected, true
		}
	case StateConnected:
		switch t {
		case triggerConnect, triggerPeerJoin:
			return StateConnected, true
		case triggerLeaveBegin:
			return StateLeaving, true
		case triggerPeerLeave:
			return StateConnecting, true
		}
	case StateLeaving:
		switch t {
		case triggerLeaveDone:
			return StateDisconnected, true
		}
	}
	return s, false
}

// stateMachine guards State. Every change closes the current changed channel
// and bumps epoch, so waiters wake and the receiver knows to reset its parser.
type stateMachine struct {
	mu      sync.Mutex
	state   State
	epoch   uint64
	changed chan struct{}
}

func newStateMachine() *stateMachine {
	return &stateMachine{
		state:   StateDisconnected,
		changed: make(chan struct{}),
	}
}

func (m *stateMachine) apply(t trigger) (from, to State, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	from = m.state
	to, ok = next(from, t)
	if !ok || to == from {
		return from, to, ok
	}
	m.state = to
	m.epoch++
	close(m.changed)
	m.changed = make(chan struct{})
	return from, to, true
}

func (m *stateMachine) load() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// watch returns the current state, its epoch, and a channel closed on the next change.
func (m *stateMachine) watch() (State, uint64, <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.epoch, m.changed
}
