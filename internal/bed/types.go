package bed

import "time"

// SessionState represents the connection lifecycle of a bed session.
type SessionState string

// Session lifecycle states. There is no terminal state: a session that
// fails simply returns to Disconnected and may be connected again.
const (
	// StateDisconnected means no BLE link is held.
	StateDisconnected SessionState = "disconnected"

	// StateConnecting means a dial is in flight.
	StateConnecting SessionState = "connecting"

	// StateConnected means a live link is held and writes are possible.
	StateConnected SessionState = "connected"

	// StateReconnecting means the keep-alive monitor detected a dead link
	// and is attempting to restore it.
	StateReconnecting SessionState = "reconnecting"
)

// EventType identifies the kind of a registry event.
type EventType string

// Event types emitted by sessions and the movement manager.
const (
	EventSessionState    EventType = "session.state_changed"
	EventReconnect       EventType = "session.reconnect"
	EventCommandSent     EventType = "command.sent"
	EventCommandFailed   EventType = "command.failed"
	EventMovementStarted EventType = "movement.started"
	EventMovementStopped EventType = "movement.stopped"
)

// Event describes a state change or command outcome on one bed.
// Events are fanned out to the WebSocket hub and the MQTT bridge.
type Event struct {
	Type    EventType    `json:"type"`
	Address string       `json:"address"`
	State   SessionState `json:"state,omitempty"`
	Command string       `json:"command,omitempty"`
	Error   string       `json:"error,omitempty"`

	// Attempt numbers the reconnection attempt on session.reconnect
	// events; Error is empty when the attempt succeeded.
	Attempt int `json:"attempt,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// EventHandler receives registry events. Handlers must not block;
// they are invoked synchronously from session and movement goroutines.
type EventHandler func(Event)

// SessionStats is a snapshot of one session's counters.
type SessionStats struct {
	Address        string       `json:"address"`
	State          SessionState `json:"state"`
	CommandsSent   uint64       `json:"commands_sent"`
	CommandsFailed uint64       `json:"commands_failed"`
	Reconnects     uint64       `json:"reconnects"`
	ConnectedAt    time.Time    `json:"connected_at,omitzero"`
	LastActivity   time.Time    `json:"last_activity,omitzero"`
}

// Stats is an aggregate snapshot across the registry.
type Stats struct {
	Sessions        int            `json:"sessions"`
	Connected       int            `json:"connected"`
	ActiveMovements int            `json:"active_movements"`
	PerSession      []SessionStats `json:"per_session"`
}

// Config contains the tunables shared by every session the registry
// creates. Values are mapped from the service configuration at startup.
type Config struct {
	// ConnectTimeout is the per-attempt BLE connection timeout.
	ConnectTimeout time.Duration

	// CommandDelay is the minimum spacing between writes to one bed.
	// The send lock is held for this long after each write.
	CommandDelay time.Duration

	// MovementInterval is the repeat period for press-and-hold movements.
	MovementInterval time.Duration

	// KeepAliveInterval is the monitor loop period.
	KeepAliveInterval time.Duration

	// ReconnectInitialDelay is the backoff before the first reconnection
	// attempt after a link drops.
	ReconnectInitialDelay time.Duration

	// ReconnectMaxDelay caps the exponential backoff.
	ReconnectMaxDelay time.Duration

	// ReconnectMaxAttempts limits consecutive attempts. 0 means unlimited.
	ReconnectMaxAttempts int
}

// DefaultConfig returns the timings used when none are supplied.
// These match the OKIN controller's observed behaviour.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:        30 * time.Second,
		CommandDelay:          100 * time.Millisecond,
		MovementInterval:      500 * time.Millisecond,
		KeepAliveInterval:     30 * time.Second,
		ReconnectInitialDelay: 5 * time.Second,
		ReconnectMaxDelay:     2 * time.Minute,
		ReconnectMaxAttempts:  0,
	}
}

// withDefaults fills in zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.CommandDelay < 0 {
		c.CommandDelay = def.CommandDelay
	}
	if c.MovementInterval <= 0 {
		c.MovementInterval = def.MovementInterval
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = def.KeepAliveInterval
	}
	if c.ReconnectInitialDelay <= 0 {
		c.ReconnectInitialDelay = def.ReconnectInitialDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	return c
}
