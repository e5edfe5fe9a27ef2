package bed

import (
	"context"
	"time"
)

// Transport dials BLE links to beds. The production implementation lives
// in internal/ble; tests substitute an in-memory fake.
type Transport interface {
	// Open connects to the bed at the given MAC address and discovers its
	// write characteristic. It blocks until the link is usable, the
	// timeout elapses, or ctx is cancelled.
	Open(ctx context.Context, address string, timeout time.Duration) (Handle, error)
}

// Handle is one live link to a bed.
//
// Handles are not safe for concurrent writes; the owning session
// serialises access through its send lock.
type Handle interface {
	// Write sends one command frame to the bed's write characteristic.
	Write(payload []byte) error

	// Connected reports whether the underlying link is still up.
	// Used by the keep-alive monitor; beds send no application-level
	// feedback, so link state is the only liveness signal available.
	Connected() bool

	// Close tears down the link. Safe to call more than once.
	Close() error
}

// Logger defines the logging interface used by this package.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
