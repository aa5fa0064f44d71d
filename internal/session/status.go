package session

import (
	"fmt"
	"time"
)

// State is the connection state of the controller
type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a consistent snapshot of the session state.
// PortID is set if and only if State is Connected; ActuatorOn is always false while disconnected.
type Status struct {
	State        State  `json:"state"`
	PortID       string `json:"portId,omitempty"`
	ActuatorOn   bool   `json:"actuatorOn"`
	SessionID    int64  `json:"sessionId,omitempty"`    // Storage session of the current connection
	LastError    string `json:"lastError,omitempty"`    // Last transport failure
	Reconnecting bool   `json:"reconnecting,omitempty"` // A reconnect loop is pending
}

// EventType identifies a lifecycle notification
type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventTransportClosed
	EventTransportFailed
	EventReconnecting
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventTransportClosed:
		return "transport_closed"
	case EventTransportFailed:
		return "transport_failed"
	case EventReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is a lifecycle notification emitted by the Controller
type Event struct {
	Type   EventType
	PortID string
	Err    error // Cause of a transport failure or a failed reconnect attempt
	At     time.Time
}
