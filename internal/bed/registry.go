package bed

import (
	"context"
	"sync"
	"time"
)

// Registry owns every bed session in the process.
//
// Sessions are created lazily on first use and never removed:
// disconnection changes a session's state, not its membership. The
// registry also runs the keep-alive monitor that detects dead links and
// restores them with exponential backoff.
//
// All public methods are thread-safe.
type Registry struct {
	cfg       Config
	transport Transport

	logger Logger

	eventMu sync.RWMutex
	onEvent EventHandler

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	movements *MovementManager

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewRegistry creates a registry backed by the given transport.
func NewRegistry(transport Transport, cfg Config) *Registry {
	cfg = cfg.withDefaults()
	r := &Registry{
		cfg:       cfg,
		transport: transport,
		logger:    noopLogger{},
		sessions:  make(map[string]*Session),
		movements: NewMovementManager(cfg),
		done:      make(chan struct{}),
	}
	r.movements.SetOnEvent(r.emit)
	return r
}

// SetLogger sets the logger for the registry and its movement manager.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
	r.movements.SetLogger(logger)
}

// SetOnEvent sets the callback that receives all session and movement
// events. Safe to call at any time; nil disables fan-out.
func (r *Registry) SetOnEvent(handler EventHandler) {
	r.eventMu.Lock()
	r.onEvent = handler
	r.eventMu.Unlock()
}

// emit forwards an event to the registered handler, if any.
func (r *Registry) emit(evt Event) {
	r.eventMu.RLock()
	handler := r.onEvent
	r.eventMu.RUnlock()
	if handler != nil {
		handler(evt)
	}
}

// Resolve returns the session for an address, creating it atomically on
// first use. Concurrent first use never creates duplicates.
func (r *Registry) Resolve(address string) (*Session, error) {
	normalised, err := NormaliseAddress(address)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	session, ok := r.sessions[normalised]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return session, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	// Double-check: another goroutine may have created it.
	if session, ok := r.sessions[normalised]; ok {
		return session, nil
	}

	session = NewSession(normalised, r.transport, r.cfg)
	session.SetLogger(r.logger)
	session.SetOnEvent(r.emit)
	r.sessions[normalised] = session

	r.logger.Info("session created", "address", normalised)
	return session, nil
}

// Lookup returns an existing session without creating one.
func (r *Registry) Lookup(address string) (*Session, bool) {
	normalised, err := NormaliseAddress(address)
	if err != nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[normalised]
	return session, ok
}

// Sessions returns a snapshot of all sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Connect resolves the session for an address and establishes its link.
func (r *Registry) Connect(ctx context.Context, address string) error {
	session, err := r.Resolve(address)
	if err != nil {
		return err
	}
	return session.Connect(ctx)
}

// Disconnect tears down the link for an address. Movements for the bed
// are stopped first so nothing keeps writing to a closing link.
func (r *Registry) Disconnect(address string) error {
	session, ok := r.Lookup(address)
	if !ok {
		return nil
	}
	for _, id := range r.movements.Active(session.Address()) {
		r.movements.Stop(session.Address(), id)
	}
	return session.Disconnect()
}

// SendCommand sends a one-shot command to a bed, connecting if needed.
func (r *Registry) SendCommand(ctx context.Context, address, name string) error {
	session, err := r.Resolve(address)
	if err != nil {
		return err
	}
	return session.SendCommand(ctx, name)
}

// StartHold begins a press-and-hold movement. The command doubles as
// the movement id, so holding the same direction twice restarts the
// loop rather than stacking a second one.
func (r *Registry) StartHold(address, command string) error {
	if !IsHoldable(command) {
		if _, err := LookupCommand(command); err != nil {
			return err
		}
		return ErrNotHoldable
	}
	session, err := r.Resolve(address)
	if err != nil {
		return err
	}
	return r.movements.Start(session, command, command)
}

// StopHold cancels a press-and-hold movement and joins it.
func (r *Registry) StopHold(address, command string) error {
	normalised, err := NormaliseAddress(address)
	if err != nil {
		return err
	}
	r.movements.Stop(normalised, command)
	return nil
}

// StopAllHolds cancels every movement for a bed, then sends one
// explicit stop command regardless of whether anything was active.
func (r *Registry) StopAllHolds(ctx context.Context, address string) error {
	session, err := r.Resolve(address)
	if err != nil {
		return err
	}
	return r.movements.StopAll(ctx, session)
}

// ActiveMovements returns the movement ids running for a bed.
func (r *Registry) ActiveMovements(address string) []string {
	normalised, err := NormaliseAddress(address)
	if err != nil {
		return nil
	}
	return r.movements.Active(normalised)
}

// ConnectAll proactively connects the given addresses, in parallel.
// Failures are logged, never fatal: a bed that is out of range simply
// stays Disconnected and the keep-alive path picks it up on next use.
func (r *Registry) ConnectAll(ctx context.Context, addresses []string) {
	var wg sync.WaitGroup
	for _, address := range addresses {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			if err := r.Connect(ctx, addr); err != nil {
				r.logger.Warn("startup connect failed", "address", addr, "error", err)
			}
		}(address)
	}
	wg.Wait()
}

// StartKeepAlive launches the monitor loop. Subsequent calls are no-ops.
func (r *Registry) StartKeepAlive() {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.monitorLoop()
		r.logger.Info("keep-alive monitor started", "interval", r.cfg.KeepAliveInterval)
	})
}

// monitorLoop periodically checks every session's link.
func (r *Registry) monitorLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			for _, session := range r.Sessions() {
				r.checkSession(session)
			}
		}
	}
}

// checkSession runs one keep-alive pass for one session. Panics and
// failures are contained here so one misbehaving device can never take
// down the monitor or affect its neighbours.
func (r *Registry) checkSession(s *Session) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("keep-alive panic recovered", "address", s.Address(), "panic", rec)
		}
	}()

	switch s.State() {
	case StateConnected:
		if s.Alive() {
			return
		}
		r.logger.Warn("link lost", "address", s.Address())
		s.markReconnecting()
		r.attemptReconnect(s)
	case StateReconnecting:
		if s.retryDue() {
			r.attemptReconnect(s)
		}
	case StateDisconnected, StateConnecting:
		// Nothing to do: explicit disconnects stay down, and the next
		// send reconnects lazily.
	}
}

// attemptReconnect tries to restore a dead link once, advancing the
// session's backoff on failure. Each attempt's outcome is published as
// a session.reconnect event.
func (r *Registry) attemptReconnect(s *Session) {
	attempt := s.retryAttempts() + 1

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ConnectTimeout+movementSendMargin)
	defer cancel()

	if err := s.Connect(ctx); err != nil {
		delay := s.scheduleRetry()
		r.emitReconnect(s.Address(), attempt, err)
		if r.cfg.ReconnectMaxAttempts > 0 && s.retryAttempts() >= r.cfg.ReconnectMaxAttempts {
			r.logger.Error("reconnect attempts exhausted, giving up",
				"address", s.Address(), "attempts", s.retryAttempts())
			return
		}
		// Keep the session visible to the monitor for the next pass.
		s.markReconnecting()
		r.logger.Warn("reconnect failed",
			"address", s.Address(), "attempt", s.retryAttempts(), "retry_in", delay)
		return
	}

	s.reconnects.Add(1)
	r.emitReconnect(s.Address(), attempt, nil)
	r.logger.Info("reconnected", "address", s.Address())
}

// emitReconnect publishes one reconnection attempt outcome.
func (r *Registry) emitReconnect(address string, attempt int, err error) {
	evt := Event{
		Type:      EventReconnect,
		Address:   address,
		Attempt:   attempt,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		evt.Error = err.Error()
	}
	r.emit(evt)
}

// Stats returns an aggregate snapshot across all sessions.
func (r *Registry) Stats() Stats {
	sessions := r.Sessions()

	stats := Stats{
		Sessions:        len(sessions),
		ActiveMovements: r.movements.ActiveCount(),
		PerSession:      make([]SessionStats, 0, len(sessions)),
	}
	for _, s := range sessions {
		snap := s.Stats()
		if snap.State == StateConnected {
			stats.Connected++
		}
		stats.PerSession = append(stats.PerSession, snap)
	}
	return stats
}

// Close shuts the registry down: the monitor stops, every movement is
// cancelled and joined, and every session is disconnected. Safe to call
// more than once.
func (r *Registry) Close() error {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()

		r.movements.Close()

		r.mu.Lock()
		r.closed = true
		sessions := make([]*Session, 0, len(r.sessions))
		for _, s := range r.sessions {
			sessions = append(sessions, s)
		}
		r.mu.Unlock()

		for _, s := range sessions {
			if err := s.Close(); err != nil {
				r.logger.Warn("session close failed", "address", s.Address(), "error", err)
			}
		}
		r.logger.Info("registry closed", "sessions", len(sessions))
	})
	return nil
}
