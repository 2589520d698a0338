package status

import (
	"testing"

	"github.com/matheus3301/casechat/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine("h1", nil)
	if m.Current() != Connecting {
		t.Errorf("initial state = %s, want CONNECTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Connecting, Authenticated},
		{Connecting, Closed},
		{Authenticated, Joined},
		{Authenticated, Closed},
		{Joined, Joined},
		{Joined, Authenticated},
		{Joined, Closed},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine("h1", nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	m := NewMachine("h1", nil)
	if err := m.Transition(Joined); err == nil {
		t.Error("Transition(CONNECTING -> JOINED) should fail")
	}
	if err := m.Join(42); err == nil {
		t.Error("Join() before authentication should fail")
	}

	_ = m.Transition(Closed)
	if err := m.Authenticate("a"); err == nil {
		t.Error("Authenticate() after CLOSED should fail")
	}
}

func TestJoinLeaveTracksRooms(t *testing.T) {
	m := NewMachine("h1", nil)
	if err := m.Authenticate("a"); err != nil {
		t.Fatal(err)
	}

	for _, id := range []int64{42, 7, 42} {
		if err := m.Join(id); err != nil {
			t.Fatalf("Join(%d): %v", id, err)
		}
	}
	if got := m.JoinedCases(); len(got) != 2 || got[0] != 7 || got[1] != 42 {
		t.Errorf("JoinedCases() = %v, want [7 42]", got)
	}

	left, err := m.Leave(7)
	if err != nil || !left {
		t.Fatalf("Leave(7) = %v, %v", left, err)
	}
	if m.Current() != Joined {
		t.Errorf("state = %s, want JOINED while a room remains", m.Current())
	}

	if left, _ := m.Leave(99); left {
		t.Error("Leave(99) reported a room that was never joined")
	}

	if _, err := m.Leave(42); err != nil {
		t.Fatal(err)
	}
	if m.Current() != Authenticated {
		t.Errorf("state = %s, want AUTHENTICATED after last leave", m.Current())
	}
}

func TestCloseReturnsJoinedCases(t *testing.T) {
	m := NewMachine("h1", nil)
	walkTo(t, m, Authenticated)
	_ = m.Join(42)
	_ = m.Join(3)

	got := m.Close()
	if len(got) != 2 || got[0] != 3 || got[1] != 42 {
		t.Errorf("Close() = %v, want [3 42]", got)
	}
	if m.Current() != Closed {
		t.Errorf("state = %s, want CLOSED", m.Current())
	}
	if m.IsJoined(42) {
		t.Error("IsJoined(42) after close")
	}
	if again := m.Close(); again != nil {
		t.Errorf("second Close() = %v, want nil", again)
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("connection.", 10)
	defer unsub()

	m := NewMachine("h1", b)
	if err := m.Authenticate("lawyer-1"); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindConnectionState {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindConnectionState)
	}
	change, ok := evt.Payload.(StateChange)
	if !ok {
		t.Fatalf("payload type = %T, want StateChange", evt.Payload)
	}
	if change.From != Connecting || change.To != Authenticated || change.Handle != "h1" {
		t.Errorf("change = %+v", change)
	}
}

// TestRepeatedJoinDoesNotEmit verifies JOINED -> JOINED stays silent on the bus.
func TestRepeatedJoinDoesNotEmit(t *testing.T) {
	b := bus.New()
	m := NewMachine("h1", b)
	walkTo(t, m, Joined)

	ch, unsub := b.Subscribe("connection.", 10)
	defer unsub()
	if err := m.Join(100); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected event %+v", evt)
	default:
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Connecting:    {},
		Authenticated: {Authenticated},
		Joined:        {Authenticated, Joined},
		Closed:        {Closed},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
