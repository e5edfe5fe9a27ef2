package bed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// reconnectBackoffFactor grows the retry delay after each failed
// reconnection attempt, capped at Config.ReconnectMaxDelay.
const reconnectBackoffFactor = 1.5

// Session owns the single BLE link to one bed.
//
// A session serialises every write through its send lock, enforces the
// inter-command spacing the controller needs, and survives link drops:
// a failed write invalidates the link and the next send reconnects
// transparently.
//
// All public methods are thread-safe.
type Session struct {
	address   string
	transport Transport
	cfg       Config

	logger  Logger
	onEvent EventHandler

	// mu guards state transitions and the handle.
	mu       sync.Mutex
	state    SessionState
	handle   Handle
	closed   bool
	inflight chan struct{}
	dialErr  error

	// Reconnect backoff, advanced by the keep-alive monitor.
	retryDelay time.Duration
	retryAt    time.Time
	retryCount int

	// sendMu serialises writes. Held across the write and the
	// inter-command spacing window.
	sendMu sync.Mutex

	commandsSent   atomic.Uint64
	commandsFailed atomic.Uint64
	reconnects     atomic.Uint64
	connectedAt    atomic.Int64 // unix nanos, 0 = never
	lastActivity   atomic.Int64 // unix nanos, 0 = never
}

// NewSession creates a session for one bed address.
//
// The session starts Disconnected; the first SendCommand or an explicit
// Connect establishes the link.
func NewSession(address string, transport Transport, cfg Config) *Session {
	return &Session{
		address:   address,
		transport: transport,
		cfg:       cfg.withDefaults(),
		state:     StateDisconnected,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the session.
func (s *Session) SetLogger(logger Logger) {
	s.logger = logger
}

// SetOnEvent sets the event callback. Must be called before the session
// is used; the callback is invoked from session goroutines.
func (s *Session) SetOnEvent(handler EventHandler) {
	s.onEvent = handler
}

// Address returns the bed's MAC address.
func (s *Session) Address() string {
	return s.address
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect establishes the BLE link.
//
// Connecting an already-Connected session is a no-op. Concurrent calls
// collapse into a single in-flight dial: later callers block until the
// first dial resolves and share its result. On failure the session
// returns to Disconnected and the error wraps ErrConnectionFailed.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	if s.inflight != nil {
		// Another goroutine is dialling; await its result.
		ch := s.inflight
		s.mu.Unlock()
		select {
		case <-ch:
			s.mu.Lock()
			err := s.dialErr
			s.mu.Unlock()
			return err
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
		}
	}

	ch := make(chan struct{})
	s.inflight = ch
	// Keep Reconnecting visible while the monitor drives the dial;
	// everything else shows Connecting.
	if s.state != StateReconnecting {
		s.state = StateConnecting
		s.mu.Unlock()
		s.emitState(StateConnecting)
	} else {
		s.mu.Unlock()
	}

	handle, err := s.transport.Open(ctx, s.address, s.cfg.ConnectTimeout)

	s.mu.Lock()
	s.inflight = nil
	if err != nil {
		s.dialErr = fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		s.state = StateDisconnected
		result := s.dialErr
		s.mu.Unlock()
		close(ch)
		s.logger.Warn("connection failed", "address", s.address, "error", err)
		s.emitState(StateDisconnected)
		return result
	}
	if s.closed {
		// Closed while dialling; do not keep the link.
		s.dialErr = ErrClosed
		s.state = StateDisconnected
		s.mu.Unlock()
		close(ch)
		_ = handle.Close()
		return ErrClosed
	}
	s.handle = handle
	s.dialErr = nil
	s.state = StateConnected
	s.retryDelay = 0
	s.retryAt = time.Time{}
	s.retryCount = 0
	s.mu.Unlock()
	close(ch)

	now := time.Now()
	s.connectedAt.Store(now.UnixNano())
	s.lastActivity.Store(now.UnixNano())
	s.logger.Info("connected", "address", s.address)
	s.emitState(StateConnected)
	return nil
}

// SendCommand resolves a command name and writes its frame to the bed.
//
// The codec lookup happens before any I/O: unknown names fail with
// ErrUnknownCommand without touching the link. The session auto-connects
// when needed, holds the send lock for the whole write plus the
// inter-command spacing window, and invalidates the link on a failed
// write so the next send reconnects.
func (s *Session) SendCommand(ctx context.Context, name string) error {
	payload, err := LookupCommand(name)
	if err != nil {
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := s.Connect(ctx); err != nil {
		s.commandsFailed.Add(1)
		s.emitCommand(name, err)
		return err
	}

	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	if handle == nil {
		// Disconnected between Connect and here (e.g. explicit Disconnect).
		s.commandsFailed.Add(1)
		s.emitCommand(name, ErrNotConnected)
		return ErrNotConnected
	}

	if werr := handle.Write(payload); werr != nil {
		s.invalidate()
		s.commandsFailed.Add(1)
		wrapped := fmt.Errorf("%w: %w", ErrWriteFailed, werr)
		s.logger.Warn("write failed, session invalidated", "address", s.address, "command", name, "error", werr)
		s.emitCommand(name, wrapped)
		return wrapped
	}

	s.commandsSent.Add(1)
	s.lastActivity.Store(time.Now().UnixNano())
	s.logger.Debug("command sent", "address", s.address, "command", name)
	s.emitCommand(name, nil)

	// Spacing window: the controller drops frames that arrive faster
	// than it can process them.
	if s.cfg.CommandDelay > 0 {
		select {
		case <-time.After(s.cfg.CommandDelay):
		case <-ctx.Done():
		}
	}
	return nil
}

// Disconnect tears down the link.
//
// A Disconnected session is a no-op. The session transitions to
// Disconnected unconditionally, even if closing the transport errs;
// the close error is returned for logging.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state == StateDisconnected && s.handle == nil {
		s.mu.Unlock()
		return nil
	}
	handle := s.handle
	s.handle = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	var err error
	if handle != nil {
		if cerr := handle.Close(); cerr != nil {
			err = fmt.Errorf("closing link: %w", cerr)
		}
	}
	s.logger.Info("disconnected", "address", s.address)
	s.emitState(StateDisconnected)
	return err
}

// Close disconnects and marks the session unusable.
// Further Connect and SendCommand calls return ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Disconnect()
}

// Alive reports whether the session holds a link the transport still
// considers up. Used by the keep-alive monitor.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected && s.handle != nil && s.handle.Connected()
}

// Stats returns a snapshot of the session's counters.
func (s *Session) Stats() SessionStats {
	stats := SessionStats{
		Address:        s.address,
		State:          s.State(),
		CommandsSent:   s.commandsSent.Load(),
		CommandsFailed: s.commandsFailed.Load(),
		Reconnects:     s.reconnects.Load(),
	}
	if ns := s.connectedAt.Load(); ns != 0 {
		stats.ConnectedAt = time.Unix(0, ns)
	}
	if ns := s.lastActivity.Load(); ns != 0 {
		stats.LastActivity = time.Unix(0, ns)
	}
	return stats
}

// invalidate drops the handle after a failed write. The next send
// reconnects transparently.
func (s *Session) invalidate() {
	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	changed := s.state != StateDisconnected
	s.state = StateDisconnected
	s.mu.Unlock()

	if handle != nil {
		_ = handle.Close()
	}
	if changed {
		s.emitState(StateDisconnected)
	}
}

// markReconnecting transitions a session with a dead link toward
// reconnection. Called by the keep-alive monitor.
func (s *Session) markReconnecting() {
	s.mu.Lock()
	if s.closed || s.state == StateReconnecting {
		s.mu.Unlock()
		return
	}
	handle := s.handle
	s.handle = nil
	s.state = StateReconnecting
	s.mu.Unlock()

	if handle != nil {
		_ = handle.Close()
	}
	s.emitState(StateReconnecting)
}

// scheduleRetry advances the reconnect backoff and returns the delay
// before the next attempt. First failure waits ReconnectInitialDelay;
// each further failure multiplies by reconnectBackoffFactor up to
// ReconnectMaxDelay.
func (s *Session) scheduleRetry() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retryDelay == 0 {
		s.retryDelay = s.cfg.ReconnectInitialDelay
	} else {
		s.retryDelay = time.Duration(float64(s.retryDelay) * reconnectBackoffFactor)
		if s.retryDelay > s.cfg.ReconnectMaxDelay {
			s.retryDelay = s.cfg.ReconnectMaxDelay
		}
	}
	s.retryCount++
	s.retryAt = time.Now().Add(s.retryDelay)
	return s.retryDelay
}

// retryDue reports whether the backoff window has elapsed.
func (s *Session) retryDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !time.Now().Before(s.retryAt)
}

// retryAttempts returns the consecutive failed attempts for this outage.
func (s *Session) retryAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryCount
}

// emitState publishes a session state change event.
func (s *Session) emitState(state SessionState) {
	if s.onEvent == nil {
		return
	}
	s.onEvent(Event{
		Type:      EventSessionState,
		Address:   s.address,
		State:     state,
		Timestamp: time.Now().UTC(),
	})
}

// emitCommand publishes a command outcome event.
func (s *Session) emitCommand(name string, err error) {
	if s.onEvent == nil {
		return
	}
	evt := Event{
		Type:      EventCommandSent,
		Address:   s.address,
		Command:   name,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		evt.Type = EventCommandFailed
		evt.Error = err.Error()
	}
	s.onEvent(evt)
}
