package bed

import (
	"context"
	"sync"
	"time"
)

// movementSendMargin pads the per-send timeout beyond the connect
// timeout, so an auto-reconnecting send is never cut off mid-dial.
const movementSendMargin = 5 * time.Second

// movementKey identifies one movement: a bed address plus a movement id.
type movementKey struct {
	address string
	id      string
}

// movementTask is one running press-and-hold loop.
type movementTask struct {
	command  string
	cancel   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// signal requests cancellation. Safe to call more than once.
func (t *movementTask) signal() {
	t.stopOnce.Do(func() {
		close(t.cancel)
	})
}

// MovementManager emulates press-and-hold by repeating a command on a
// timer until the movement is stopped. The bed's controller moves only
// while frames keep arriving, so a crashed client fails safe: the motor
// stops as soon as the repeats do.
//
// All public methods are thread-safe.
type MovementManager struct {
	interval    time.Duration
	sendTimeout time.Duration

	logger  Logger
	onEvent EventHandler

	mu     sync.Mutex
	tasks  map[movementKey]*movementTask
	closed bool
}

// NewMovementManager creates a movement manager using the shared
// session configuration for its repeat interval and send timeout.
func NewMovementManager(cfg Config) *MovementManager {
	cfg = cfg.withDefaults()
	return &MovementManager{
		interval:    cfg.MovementInterval,
		sendTimeout: cfg.ConnectTimeout + movementSendMargin,
		logger:      noopLogger{},
		tasks:       make(map[movementKey]*movementTask),
	}
}

// SetLogger sets the logger for the manager.
func (m *MovementManager) SetLogger(logger Logger) {
	m.logger = logger
}

// SetOnEvent sets the event callback. Must be set before first use.
func (m *MovementManager) SetOnEvent(handler EventHandler) {
	m.onEvent = handler
}

// Start begins repeating a command against the session until stopped.
//
// An existing movement with the same (address, id) is displaced in the
// same critical section that registers the replacement, then cancelled
// and fully joined before the new loop is scheduled, so two loops never
// drive the same movement - even when Starts race each other. Start
// returns once the loop is scheduled; send failures terminate the loop
// silently (logged, not propagated).
func (m *MovementManager) Start(session *Session, id, command string) error {
	if _, err := LookupCommand(command); err != nil {
		return err
	}

	key := movementKey{address: session.Address(), id: id}
	task := &movementTask{
		command: command,
		cancel:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	// Swap under one lock: whichever task is in the map owns the key,
	// and the displaced task is ours alone to join.
	prev := m.tasks[key]
	m.tasks[key] = task
	m.mu.Unlock()

	if prev != nil {
		prev.signal()
		<-prev.done
		m.emit(EventMovementStopped, key.address, prev.command)
	}

	m.logger.Debug("movement started", "address", key.address, "movement", id, "command", command)
	m.emit(EventMovementStarted, key.address, command)

	go m.run(session, key, command, task)
	return nil
}

// run is the repeat loop for one movement. It checks cancellation
// before every send and terminates on the first failed send.
func (m *MovementManager) run(session *Session, key movementKey, command string, task *movementTask) {
	defer close(task.done)
	defer m.remove(key, task)

	for {
		select {
		case <-task.cancel:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.sendTimeout)
		err := session.SendCommand(ctx, command)
		cancel()
		if err != nil {
			m.logger.Warn("movement send failed, stopping",
				"address", key.address, "movement", key.id, "error", err)
			m.emit(EventMovementStopped, key.address, command)
			return
		}

		select {
		case <-task.cancel:
			return
		case <-time.After(m.interval):
		}
	}
}

// remove deletes the task entry unless a replacement has already been
// registered under the same key.
func (m *MovementManager) remove(key movementKey, task *movementTask) {
	m.mu.Lock()
	if current, ok := m.tasks[key]; ok && current == task {
		delete(m.tasks, key)
	}
	m.mu.Unlock()
}

// Stop cancels a movement and waits for its loop to fully terminate.
// After Stop returns, no send attributable to the movement will occur.
// Stopping an unknown movement is a no-op.
func (m *MovementManager) Stop(address, id string) {
	key := movementKey{address: address, id: id}

	m.mu.Lock()
	task, ok := m.tasks[key]
	if ok {
		delete(m.tasks, key)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	task.signal()
	<-task.done

	m.logger.Debug("movement stopped", "address", address, "movement", id)
	m.emit(EventMovementStopped, address, task.command)
}

// StopAll cancels every movement for one bed, joins them, then sends a
// single explicit stop command - even when no movement was active, in
// case the motor is still moving from a loop that died uncleanly.
func (m *MovementManager) StopAll(ctx context.Context, session *Session) error {
	address := session.Address()

	m.mu.Lock()
	var stopping []*movementTask
	for key, task := range m.tasks {
		if key.address == address {
			stopping = append(stopping, task)
			delete(m.tasks, key)
		}
	}
	m.mu.Unlock()

	for _, task := range stopping {
		task.signal()
		<-task.done
		m.emit(EventMovementStopped, address, task.command)
	}

	if err := session.SendCommand(ctx, CmdStop); err != nil {
		m.logger.Warn("stop command failed", "address", address, "error", err)
		return err
	}
	return nil
}

// Active returns the movement ids currently running for one bed.
func (m *MovementManager) Active(address string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for key := range m.tasks {
		if key.address == address {
			ids = append(ids, key.id)
		}
	}
	return ids
}

// ActiveCount returns the number of running movements across all beds.
func (m *MovementManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Close cancels and joins every movement. Further Start calls fail
// with ErrClosed. No stop command is sent; registry shutdown
// disconnects the sessions anyway.
func (m *MovementManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	tasks := make([]*movementTask, 0, len(m.tasks))
	for key, task := range m.tasks {
		tasks = append(tasks, task)
		delete(m.tasks, key)
	}
	m.mu.Unlock()

	for _, task := range tasks {
		task.signal()
		<-task.done
	}
}

// emit publishes a movement lifecycle event.
func (m *MovementManager) emit(typ EventType, address, command string) {
	if m.onEvent == nil {
		return
	}
	m.onEvent(Event{
		Type:      typ,
		Address:   address,
		Command:   command,
		Timestamp: time.Now().UTC(),
	})
}
