package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/zerohunger/zhchat/internal/bus"
)

// State is the connection state of a conversation socket.
type State string

const (
	Uninstantiated State = "UNINSTANTIATED"
	Connecting     State = "CONNECTING"
	Open           State = "OPEN"
	Reconnecting   State = "RECONNECTING"
	Closing        State = "CLOSING"
	Closed         State = "CLOSED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Uninstantiated: {Connecting, Closed},
	Connecting:     {Open, Reconnecting, Closing, Closed},
	Open:           {Reconnecting, Closing, Closed},
	Reconnecting:   {Connecting, Closing, Closed},
	Closing:        {Closed},
	Closed:         {},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu           sync.RWMutex
	current      State
	conversation string
	bus          *bus.Bus
}

// NewMachine creates a machine in the Uninstantiated state. Changes are
// published on b as "transport.status_changed" when b is non-nil.
func NewMachine(conversation string, b *bus.Bus) *Machine {
	return &Machine{
		current:      Uninstantiated,
		conversation: conversation,
		bus:          b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsOpen reports whether frames can be written.
func (m *Machine) IsOpen() bool {
	return m.Current() == Open
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindTransportStatus,
			Timestamp: time.Now(),
			Payload: StatusChange{
				Conversation: m.conversation,
				From:         from,
				To:           to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	Conversation string
	From         State
	To           State
}
