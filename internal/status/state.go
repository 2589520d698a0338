package status

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/casechat/internal/bus"
)

// State represents a realtime connection's lifecycle state.
type State string

const (
	Connecting    State = "CONNECTING"
	Authenticated State = "AUTHENTICATED"
	Joined        State = "JOINED"
	Closed        State = "CLOSED"
)

// validTransitions defines allowed state transitions. JOINED loops on
// itself for every additional room and falls back to AUTHENTICATED when the
// last room is left.
var validTransitions = map[State][]State{
	Connecting:    {Authenticated, Closed},
	Authenticated: {Joined, Closed},
	Joined:        {Joined, Authenticated, Closed},
	Closed:        {},
}

// Machine tracks one connection's state and the cases it has joined.
type Machine struct {
	mu      sync.RWMutex
	handle  string
	userID  string
	current State
	joined  map[int64]struct{}
	bus     *bus.Bus
}

// NewMachine creates a state machine for a connection starting in CONNECTING.
func NewMachine(handle string, b *bus.Bus) *Machine {
	return &Machine{
		handle:  handle,
		current: Connecting,
		joined:  make(map[int64]struct{}),
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Authenticate binds the user and moves CONNECTING to AUTHENTICATED.
func (m *Machine) Authenticate(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transitionLocked(Authenticated); err != nil {
		return err
	}
	m.userID = userID
	return nil
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

// Join records a joined case. Joining a case twice is a no-op.
func (m *Machine) Join(caseID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.joined[caseID]; ok {
		return nil
	}
	if err := m.transitionLocked(Joined); err != nil {
		return err
	}
	m.joined[caseID] = struct{}{}
	return nil
}

// Leave forgets a joined case and reports whether it was joined.
func (m *Machine) Leave(caseID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.joined[caseID]; !ok {
		return false, nil
	}
	delete(m.joined, caseID)
	if len(m.joined) == 0 {
		if err := m.transitionLocked(Authenticated); err != nil {
			return true, err
		}
	}
	return true, nil
}

// IsJoined reports whether the connection has joined caseID.
func (m *Machine) IsJoined(caseID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.joined[caseID]
	return ok
}

// JoinedCases returns the joined case ids in ascending order.
func (m *Machine) JoinedCases() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.joinedLocked()
}

// Close moves to CLOSED and returns the cases that were joined. Closing an
// already closed machine returns nil.
func (m *Machine) Close() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == Closed {
		return nil
	}
	cases := m.joinedLocked()
	m.joined = make(map[int64]struct{})
	_ = m.transitionLocked(Closed)
	return cases
}

func (m *Machine) joinedLocked() []int64 {
	cases := make([]int64, 0, len(m.joined))
	for id := range m.joined {
		cases = append(cases, id)
	}
	sort.Slice(cases, func(i, j int) bool { return cases[i] < cases[j] })
	return cases
}

func (m *Machine) transitionLocked(to State) error {
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil && from != to {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindConnectionState,
			Timestamp: time.Now(),
			Payload: StateChange{
				Handle: m.handle,
				UserID: m.userID,
				From:   from,
				To:     to,
			},
		})
	}
	return nil
}

// StateChange is the payload for connection state events.
type StateChange struct {
	Handle string
	UserID string
	From   State
	To     State
}
