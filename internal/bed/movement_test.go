package bed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestMovementManager() *MovementManager {
	m := NewMovementManager(testConfig())
	return m
}

func TestMovementStart_Repeats(t *testing.T) {
	transport := &fakeTransport{}
	session := NewSession(testAddr, transport, testConfig())
	manager := newTestMovementManager()
	defer manager.Close()

	if err := manager.Start(session, CmdHeadUp, CmdHeadUp); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// The loop should keep writing head_up frames on its own.
	waitFor(t, 2*time.Second, func() bool {
		h := transport.handle(0)
		return h != nil && h.writeCount() >= 3
	}, "repeated movement sends")

	if got := manager.Active(testAddr); len(got) != 1 || got[0] != CmdHeadUp {
		t.Errorf("Active() = %v, want [%q]", got, CmdHeadUp)
	}

	manager.Stop(testAddr, CmdHeadUp)
}

func TestMovementStart_UnknownCommand(t *testing.T) {
	session := NewSession(testAddr, &fakeTransport{}, testConfig())
	manager := newTestMovementManager()
	defer manager.Close()

	err := manager.Start(session, "bogus", "bogus")
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Start() error = %v, want ErrUnknownCommand", err)
	}
	if got := manager.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount() = %d, want 0", got)
	}
}

func TestMovementStop_JoinsLoop(t *testing.T) {
	transport := &fakeTransport{}
	session := NewSession(testAddr, transport, testConfig())
	manager := newTestMovementManager()
	defer manager.Close()

	if err := manager.Start(session, CmdFootDown, CmdFootDown); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		h := transport.handle(0)
		return h != nil && h.writeCount() >= 1
	}, "first movement send")

	manager.Stop(testAddr, CmdFootDown)

	// After Stop returns, the loop is fully joined: no further sends.
	count := transport.handle(0).writeCount()
	time.Sleep(5 * testConfig().MovementInterval)
	if got := transport.handle(0).writeCount(); got != count {
		t.Errorf("writes after Stop = %d, want %d (loop must be joined)", got, count)
	}
	if got := manager.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount() = %d, want 0", got)
	}

	// Stopping an unknown movement is a no-op.
	manager.Stop(testAddr, CmdFootDown)
	manager.Stop("11:22:33:44:55:66", CmdHeadUp)
}

func TestMovementStart_ReplacesSameID(t *testing.T) {
	transport := &fakeTransport{}
	session := NewSession(testAddr, transport, testConfig())
	manager := newTestMovementManager()
	defer manager.Close()

	if err := manager.Start(session, CmdHeadUp, CmdHeadUp); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	if err := manager.Start(session, CmdHeadUp, CmdHeadUp); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	// Restarting the same movement must never stack a second loop.
	if got := manager.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount() = %d, want 1", got)
	}
	manager.Stop(testAddr, CmdHeadUp)
}

func TestMovementStart_ConcurrentSameID(t *testing.T) {
	transport := &fakeTransport{}
	session := NewSession(testAddr, transport, testConfig())
	manager := newTestMovementManager()
	defer manager.Close()

	// Racing Starts for one movement must leave exactly one loop, and
	// that loop must be the one Stop joins. An orphaned loop would keep
	// driving the motor after Stop returns.
	for round := 0; round < 50; round++ {
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := manager.Start(session, CmdHeadUp, CmdHeadUp); err != nil {
					t.Errorf("Start() error = %v", err)
				}
			}()
		}
		wg.Wait()

		if got := manager.ActiveCount(); got != 1 {
			t.Fatalf("round %d: ActiveCount() = %d, want 1", round, got)
		}
		manager.Stop(testAddr, CmdHeadUp)

		count := transport.handle(0).writeCount()
		time.Sleep(3 * testConfig().MovementInterval)
		if got := transport.handle(0).writeCount(); got != count {
			t.Fatalf("round %d: writes after Stop = %d, want %d (orphaned loop still sending)",
				round, got, count)
		}
		if got := manager.ActiveCount(); got != 0 {
			t.Fatalf("round %d: ActiveCount() after Stop = %d, want 0", round, got)
		}
	}
}

func TestMovementStopAll(t *testing.T) {
	transport := &fakeTransport{}
	session := NewSession(testAddr, transport, testConfig())
	manager := newTestMovementManager()
	defer manager.Close()

	if err := manager.Start(session, CmdHeadUp, CmdHeadUp); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := manager.Start(session, CmdFootUp, CmdFootUp); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		h := transport.handle(0)
		return h != nil && h.writeCount() >= 2
	}, "movement sends")

	if err := manager.StopAll(context.Background(), session); err != nil {
		t.Fatalf("StopAll() error = %v", err)
	}
	if got := manager.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount() = %d, want 0", got)
	}

	// The final frame must be the explicit stop command.
	if got := transport.handle(0).lastWrite(); len(got) != 1 || got[0] != 0x06 {
		t.Errorf("last write = %#v, want [0x06] (stop)", got)
	}
}

func TestMovementStopAll_NoActiveMovements(t *testing.T) {
	transport := &fakeTransport{}
	session := NewSession(testAddr, transport, testConfig())
	manager := newTestMovementManager()
	defer manager.Close()

	// Even with nothing running, StopAll sends a stop frame in case the
	// motor is still moving from an uncleanly terminated loop.
	if err := manager.StopAll(context.Background(), session); err != nil {
		t.Fatalf("StopAll() error = %v", err)
	}
	if got := transport.handle(0).lastWrite(); len(got) != 1 || got[0] != 0x06 {
		t.Errorf("last write = %#v, want [0x06] (stop)", got)
	}
}

func TestMovementSendFailure_TerminatesLoop(t *testing.T) {
	transport := &fakeTransport{}
	session := NewSession(testAddr, transport, testConfig())
	manager := newTestMovementManager()
	defer manager.Close()

	// Connect first so we can inject the write failure, then make every
	// reconnect attempt fail too.
	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	transport.handle(0).setWriteErr(errors.New("att error"))
	transport.setOpenErr(errors.New("device unreachable"))

	if err := manager.Start(session, CmdLumbarUp, CmdLumbarUp); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// The failed send must end the loop on its own.
	waitFor(t, 2*time.Second, func() bool {
		return manager.ActiveCount() == 0
	}, "loop to terminate after send failure")
}

func TestMovementClose(t *testing.T) {
	transport := &fakeTransport{}
	session := NewSession(testAddr, transport, testConfig())
	manager := newTestMovementManager()

	if err := manager.Start(session, CmdHeadDown, CmdHeadDown); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	manager.Close()

	if got := manager.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount() after Close = %d, want 0", got)
	}
	if err := manager.Start(session, CmdHeadUp, CmdHeadUp); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Close error = %v, want ErrClosed", err)
	}
}

func TestMovementEvents(t *testing.T) {
	transport := &fakeTransport{}
	session := NewSession(testAddr, transport, testConfig())
	manager := newTestMovementManager()
	defer manager.Close()

	var mu sync.Mutex
	var events []Event
	manager.SetOnEvent(func(evt Event) {
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	})

	if err := manager.Start(session, CmdHeadUp, CmdHeadUp); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	manager.Stop(testAddr, CmdHeadUp)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != EventMovementStarted || events[1].Type != EventMovementStopped {
		t.Errorf("event types = %q, %q; want started, stopped", events[0].Type, events[1].Type)
	}
}

func TestMovementEvents_StoppedCarriesCommand(t *testing.T) {
	transport := &fakeTransport{}
	session := NewSession(testAddr, transport, testConfig())
	manager := newTestMovementManager()
	defer manager.Close()

	var mu sync.Mutex
	var stopped []string
	manager.SetOnEvent(func(evt Event) {
		if evt.Type != EventMovementStopped {
			return
		}
		mu.Lock()
		stopped = append(stopped, evt.Command)
		mu.Unlock()
	})

	// The movement id and the command differ here; stopped events must
	// carry the command name on every path, same as started events.
	if err := manager.Start(session, "remote-1", CmdHeadUp); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	manager.Stop(testAddr, "remote-1")

	if err := manager.Start(session, "remote-2", CmdFootDown); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := manager.StopAll(context.Background(), session); err != nil {
		t.Fatalf("StopAll() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{CmdHeadUp, CmdFootDown}
	if len(stopped) != len(want) {
		t.Fatalf("got %d stopped events (%v), want %d", len(stopped), stopped, len(want))
	}
	for i := range want {
		if stopped[i] != want[i] {
			t.Errorf("stopped[%d].Command = %q, want %q", i, stopped[i], want[i])
		}
	}
}
