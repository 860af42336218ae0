package transport

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"chatcore/internal/bus"
)

// ConnState represents the transport connection state.
type ConnState string

const (
	Disconnected ConnState = "DISCONNECTED"
	Connecting   ConnState = "CONNECTING"
	Connected    ConnState = "CONNECTED"
	Reconnecting ConnState = "RECONNECTING"
	Closed       ConnState = "CLOSED"
)

// validTransitions defines allowed connection state transitions.
var validTransitions = map[ConnState][]ConnState{
	Disconnected: {Connecting, Closed},
	Connecting:   {Connected, Disconnected, Closed},
	Connected:    {Reconnecting, Disconnected, Closed},
	Reconnecting: {Connecting, Disconnected, Closed},
	Closed:       {},
}

// StateMachine tracks and enforces connection state transitions, and
// publishes a connection event on the bus for every change.
type StateMachine struct {
	mu      sync.RWMutex
	current ConnState
	bus     *bus.Bus
}

// NewStateMachine creates a state machine starting in Disconnected.
func NewStateMachine(b *bus.Bus) *StateMachine {
	return &StateMachine{current: Disconnected, bus: b}
}

// Current returns the current state.
func (m *StateMachine) Current() ConnState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid.
func (m *StateMachine) Transition(to ConnState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindTransportConnection,
			Timestamp: time.Now(),
			Payload: Event{
				Type:      EventConnection,
				Connected: to == Connected,
				Timestamp: time.Now().UnixMilli(),
			},
		})
	}
	return nil
}
