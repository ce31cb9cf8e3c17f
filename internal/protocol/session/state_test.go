package session

import (
	"testing"
	"time"

	"github.com/danmuck/linkctl/internal/testutil/testlog"
)

func TestNextTransitions(t *testing.T) {
	cases := []struct {
		from State
		t    trigger
		to   State
		ok   bool
	}{
		{StateDisconnected, triggerConnect, StateConnecting, true},
		{StateDisconnected, triggerPeerJoin, StateDisconnected, false},
		{StateDisconnected, triggerLeaveBegin, StateDisconnected, false},
		{StateConnecting, triggerConnect, StateConnecting, true},
		{StateConnecting, triggerPeerJoin, StateConnected, true},
		{StateConnecting, triggerLeaveBegin, StateConnecting, false},
		{StateConnecting, triggerPeerLeave, StateConnecting, false},
		{StateConnected, triggerConnect, StateConnected, true},
		{StateConnected, triggerPeerJoin, StateConnected, true},
		{StateConnected, triggerLeaveBegin, StateLeaving, true},
		{StateConnected, triggerPeerLeave, StateConnecting, true},
		{StateLeaving, triggerConnect, StateLeaving, false},
		{StateLeaving, triggerPeerJoin, StateLeaving, false},
		{StateLeaving, triggerLeaveDone, StateDisconnected, true},
	}
	for _, tc := range cases {
		to, ok := next(tc.from, tc.t)
		if to != tc.to || ok != tc.ok {
			t.Fatalf("next(%s, %s) = (%s, %v), want (%s, %v)", tc.from, tc.t, to, ok, tc.to, tc.ok)
		}
	}
}

func TestStateMachineSignalsChanges(t *testing.T) {
	testlog.Start(t)
	m := newStateMachine()
	state, epoch, changed := m.watch()
	if state != StateDisconnected || epoch != 0 {
		t.Fatalf("unexpected start: %s epoch=%d", state, epoch)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		m.apply(triggerConnect)
	}()
	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatalf("change not signalled")
	}
	state, epoch, changed = m.watch()
	if state != StateConnecting || epoch != 1 {
		t.Fatalf("after connect: %s epoch=%d", state, epoch)
	}

	// a self-transition is legal but not a change
	if _, _, ok := m.apply(triggerConnect); !ok {
		t.Fatalf("connect while connecting should be legal")
	}
	select {
	case <-changed:
		t.Fatalf("self-transition must not signal")
	default:
	}
	if _, e, _ := m.watch(); e != 1 {
		t.Fatalf("epoch moved on self-transition: %d", e)
	}
}

func TestStateString(t *testing.T) {
	if StateLeaving.String() != "leaving" {
		t.Fatalf("unexpected name %q", StateLeaving.String())
	}
	if State(9).String() != "state(9)" {
		t.Fatalf("unexpected fallback %q", State(9).String())
	}
}
