package mqttctl

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/bedlink/internal/audit"
	"github.com/nerrad567/bedlink/internal/bed"
	"github.com/nerrad567/bedlink/internal/infrastructure/mqtt"
)

const testAddr = "AA:BB:CC:DD:EE:FF"

// publishRecord captures one Publish call.
type publishRecord struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// mockClient is an in-memory MQTT client for bridge tests.
type mockClient struct {
	mu        sync.Mutex
	publishes []publishRecord
	handlers  map[string]mqtt.MessageHandler
	subQoS    map[string]byte
	connected bool
}

func newMockClient() *mockClient {
	return &mockClient{
		handlers:  make(map[string]mqtt.MessageHandler),
		subQoS:    make(map[string]byte),
		connected: true,
	}
}

func (m *mockClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	m.publishes = append(m.publishes, publishRecord{topic, buf, qos, retained})
	return nil
}

func (m *mockClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	m.subQoS[topic] = qos
	return nil
}

func (m *mockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// inject delivers a message to the handler whose wildcard pattern
// matches the topic's category segment.
func (m *mockClient) inject(t *testing.T, topic string, payload []byte) error {
	t.Helper()

	m.mu.Lock()
	var handler mqtt.MessageHandler
	for pattern, h := range m.handlers {
		prefix := strings.TrimSuffix(pattern, "+")
		if strings.HasPrefix(topic, prefix) {
			handler = h
			break
		}
	}
	m.mu.Unlock()

	if handler == nil {
		t.Fatalf("no handler registered for topic %s", topic)
	}
	return handler(topic, payload)
}

func (m *mockClient) published(topic string) []publishRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishRecord
	for _, p := range m.publishes {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// coordinatorCall captures one registry invocation.
type coordinatorCall struct {
	op      string
	address string
	command string
}

// mockCoordinator records calls and returns a configurable error.
type mockCoordinator struct {
	mu    sync.Mutex
	calls []coordinatorCall
	err   error
}

func (m *mockCoordinator) SendCommand(_ context.Context, address, name string) error {
	return m.recordCall("send", address, name)
}

func (m *mockCoordinator) StartHold(address, command string) error {
	return m.recordCall("start_hold", address, command)
}

func (m *mockCoordinator) StopHold(address, command string) error {
	return m.recordCall("stop_hold", address, command)
}

func (m *mockCoordinator) StopAllHolds(_ context.Context, address string) error {
	return m.recordCall("stop_all", address, "")
}

func (m *mockCoordinator) Stats() bed.Stats {
	return bed.Stats{Sessions: 2, Connected: 1, ActiveMovements: 1}
}

func (m *mockCoordinator) recordCall(op, address, command string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, coordinatorCall{op, address, command})
	return m.err
}

func (m *mockCoordinator) lastCall() (coordinatorCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return coordinatorCall{}, false
	}
	return m.calls[len(m.calls)-1], true
}

func (m *mockCoordinator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// captureSink records audit entries.
type captureSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (c *captureSink) Record(entry audit.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *captureSink) last() (audit.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return audit.Entry{}, false
	}
	return c.entries[len(c.entries)-1], true
}

// testBridge wires a bridge with mocks and starts it.
func testBridge(t *testing.T) (*Bridge, *mockClient, *mockCoordinator, *captureSink) {
	t.Helper()

	client := newMockClient()
	coord := &mockCoordinator{}
	sink := &captureSink{}

	bridge, err := NewBridge(Options{
		Client:      client,
		Coordinator: coord,
		QoS:         1,
		ServiceID:   "bedlink-test",
		Version:     "test",
		Recorder:    sink,
	})
	if err != nil {
		t.Fatalf("NewBridge() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := bridge.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(bridge.Stop)

	return bridge, client, coord, sink
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// =============================================================================
// Bridge lifecycle
// =============================================================================

func TestBridgeStart_Subscribes(t *testing.T) {
	_, client, _, _ := testBridge(t)

	client.mu.Lock()
	defer client.mu.Unlock()
	if _, ok := client.handlers["bedlink/command/+"]; !ok {
		t.Error("not subscribed to command topic")
	}
	if _, ok := client.handlers["bedlink/hold/+"]; !ok {
		t.Error("not subscribed to hold topic")
	}
}

func TestBridge_QoSZeroRespected(t *testing.T) {
	client := newMockClient()
	bridge, err := NewBridge(Options{
		Client:      client,
		Coordinator: &mockCoordinator{},
		QoS:         0,
		ServiceID:   "bedlink-test",
	})
	if err != nil {
		t.Fatalf("NewBridge() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := bridge.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer bridge.Stop()

	// QoS 0 is a deliberate choice, not an unset default; the bridge
	// must not silently upgrade it.
	client.mu.Lock()
	for _, topic := range []string{"bedlink/command/+", "bedlink/hold/+"} {
		if got, ok := client.subQoS[topic]; !ok || got != 0 {
			t.Errorf("subscribe qos for %s = %d (present=%v), want 0", topic, got, ok)
		}
	}
	client.mu.Unlock()

	bridge.HandleEvent(bed.Event{
		Type:      bed.EventSessionState,
		Address:   testAddr,
		State:     bed.StateConnected,
		Timestamp: time.Now().UTC(),
	})
	waitFor(t, 2*time.Second, func() bool {
		return len(client.published("bedlink/state/"+testAddr)) > 0
	})
	if records := client.published("bedlink/state/" + testAddr); records[0].qos != 0 {
		t.Errorf("state publish qos = %d, want 0", records[0].qos)
	}
}

func TestNewBridge_RequiresDependencies(t *testing.T) {
	if _, err := NewBridge(Options{Coordinator: &mockCoordinator{}}); err == nil {
		t.Error("expected error without client")
	}
	if _, err := NewBridge(Options{Client: newMockClient()}); err == nil {
		t.Error("expected error without coordinator")
	}
}

// =============================================================================
// Command messages
// =============================================================================

func TestCommandMessage(t *testing.T) {
	_, client, coord, sink := testBridge(t)
	topic := "bedlink/command/" + testAddr

	t.Run("JSON payload", func(t *testing.T) {
		if err := client.inject(t, topic, []byte(`{"command": "flat"}`)); err != nil {
			t.Fatalf("inject: %v", err)
		}
		call, ok := coord.lastCall()
		if !ok || call.op != "send" || call.address != testAddr || call.command != "flat" {
			t.Errorf("call = %+v", call)
		}
		entry, ok := sink.last()
		if !ok || !entry.Success || entry.Source != "mqtt" || entry.Command != "flat" {
			t.Errorf("audit entry = %+v", entry)
		}
	})

	t.Run("bare payload", func(t *testing.T) {
		if err := client.inject(t, topic, []byte("zero_gravity")); err != nil {
			t.Fatalf("inject: %v", err)
		}
		call, _ := coord.lastCall()
		if call.command != "zero_gravity" {
			t.Errorf("command = %q", call.command)
		}
	})

	t.Run("empty payload dropped", func(t *testing.T) {
		before := coord.callCount()
		if err := client.inject(t, topic, []byte("  ")); err == nil {
			t.Error("expected error for empty payload")
		}
		if coord.callCount() != before {
			t.Error("coordinator called for empty payload")
		}
	})

	t.Run("invalid JSON dropped", func(t *testing.T) {
		before := coord.callCount()
		if err := client.inject(t, topic, []byte(`{"command": `)); err == nil {
			t.Error("expected error for invalid JSON")
		}
		if coord.callCount() != before {
			t.Error("coordinator called for invalid JSON")
		}
	})
}

func TestCommandMessage_FailureAudited(t *testing.T) {
	_, client, coord, sink := testBridge(t)
	coord.err = bed.ErrConnectionFailed

	err := client.inject(t, "bedlink/command/"+testAddr, []byte("flat"))
	if err == nil {
		t.Fatal("expected error from handler")
	}

	entry, ok := sink.last()
	if !ok {
		t.Fatal("no audit entry recorded")
	}
	if entry.Success {
		t.Error("Success = true for failed command")
	}
	if entry.Error == "" {
		t.Error("Error not populated")
	}
}

// =============================================================================
// Hold messages
// =============================================================================

func TestHoldMessage(t *testing.T) {
	_, client, coord, _ := testBridge(t)
	topic := "bedlink/hold/" + testAddr

	t.Run("bare payload starts hold", func(t *testing.T) {
		if err := client.inject(t, topic, []byte("head_up")); err != nil {
			t.Fatalf("inject: %v", err)
		}
		call, _ := coord.lastCall()
		if call.op != "start_hold" || call.command != "head_up" {
			t.Errorf("call = %+v", call)
		}
	})

	t.Run("explicit start action", func(t *testing.T) {
		if err := client.inject(t, topic, []byte(`{"command": "foot_up", "action": "start"}`)); err != nil {
			t.Fatalf("inject: %v", err)
		}
		call, _ := coord.lastCall()
		if call.op != "start_hold" || call.command != "foot_up" {
			t.Errorf("call = %+v", call)
		}
	})

	t.Run("stop action", func(t *testing.T) {
		if err := client.inject(t, topic, []byte(`{"command": "head_up", "action": "stop"}`)); err != nil {
			t.Fatalf("inject: %v", err)
		}
		call, _ := coord.lastCall()
		if call.op != "stop_hold" || call.command != "head_up" {
			t.Errorf("call = %+v", call)
		}
	})

	t.Run("stop_all action", func(t *testing.T) {
		if err := client.inject(t, topic, []byte(`{"action": "stop_all"}`)); err != nil {
			t.Fatalf("inject: %v", err)
		}
		call, _ := coord.lastCall()
		if call.op != "stop_all" || call.address != testAddr {
			t.Errorf("call = %+v", call)
		}
	})

	t.Run("unknown action dropped", func(t *testing.T) {
		before := coord.callCount()
		if err := client.inject(t, topic, []byte(`{"command": "head_up", "action": "wiggle"}`)); err == nil {
			t.Error("expected error for unknown action")
		}
		if coord.callCount() != before {
			t.Error("coordinator called for unknown action")
		}
	})
}

// =============================================================================
// State publishing
// =============================================================================

func TestHandleEvent_PublishesState(t *testing.T) {
	bridge, client, _, _ := testBridge(t)
	stateTopic := "bedlink/state/" + testAddr

	bridge.HandleEvent(bed.Event{
		Type:      bed.EventSessionState,
		Address:   testAddr,
		State:     bed.StateConnected,
		Timestamp: time.Now().UTC(),
	})

	waitFor(t, 2*time.Second, func() bool {
		return len(client.published(stateTopic)) > 0
	})

	records := client.published(stateTopic)
	if !records[0].retained {
		t.Error("state message not retained")
	}
	var state statePayload
	if err := json.Unmarshal(records[0].payload, &state); err != nil {
		t.Fatalf("decoding state payload: %v", err)
	}
	if state.Address != testAddr || state.State != bed.StateConnected {
		t.Errorf("state = %+v", state)
	}
}

func TestHandleEvent_IgnoresCommandEvents(t *testing.T) {
	bridge, client, _, _ := testBridge(t)

	bridge.HandleEvent(bed.Event{
		Type:    bed.EventCommandSent,
		Address: testAddr,
		Command: "flat",
	})

	time.Sleep(50 * time.Millisecond)
	if got := client.published("bedlink/state/" + testAddr); len(got) != 0 {
		t.Errorf("published %d state messages for a command event", len(got))
	}
}

// =============================================================================
// Health reporting
// =============================================================================

func TestHealthReporter_Publish(t *testing.T) {
	client := newMockClient()
	reporter := NewHealthReporter(HealthReporterConfig{
		ServiceID: "bedlink-test",
		Version:   "1.2.3",
		Interval:  time.Hour,
		Publisher: client,
		Stats:     &mockCoordinator{},
	})

	if err := reporter.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error: %v", err)
	}

	records := client.published("bedlink/health")
	if len(records) != 1 {
		t.Fatalf("published %d health messages, want 1", len(records))
	}
	if !records[0].retained || records[0].qos != 1 {
		t.Errorf("qos = %d, retained = %v", records[0].qos, records[0].retained)
	}

	var msg HealthMessage
	if err := json.Unmarshal(records[0].payload, &msg); err != nil {
		t.Fatalf("decoding health message: %v", err)
	}
	if msg.Status != HealthHealthy {
		t.Errorf("Status = %q, want %q", msg.Status, HealthHealthy)
	}
	if msg.Service != "bedlink-test" || msg.Version != "1.2.3" {
		t.Errorf("identity = %s/%s", msg.Service, msg.Version)
	}
	if msg.Sessions != 2 || msg.Connected != 1 || msg.Movements != 1 {
		t.Errorf("stats = %d/%d/%d", msg.Sessions, msg.Connected, msg.Movements)
	}
}

func TestHealthReporter_DegradedWhenDisconnected(t *testing.T) {
	client := newMockClient()
	client.connected = false

	reporter := NewHealthReporter(HealthReporterConfig{
		ServiceID: "bedlink-test",
		Interval:  time.Hour,
		Publisher: client,
	})
	if err := reporter.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error: %v", err)
	}

	records := client.published("bedlink/health")
	if len(records) != 1 {
		t.Fatalf("published %d health messages, want 1", len(records))
	}
	var msg HealthMessage
	if err := json.Unmarshal(records[0].payload, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Status != HealthDegraded || msg.Reason == "" {
		t.Errorf("status = %q reason = %q", msg.Status, msg.Reason)
	}
}

func TestHealthReporter_StopPublishesStopping(t *testing.T) {
	client := newMockClient()
	reporter := NewHealthReporter(HealthReporterConfig{
		ServiceID: "bedlink-test",
		Interval:  time.Hour,
		Publisher: client,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reporter.Start(ctx)

	waitFor(t, 2*time.Second, func() bool {
		return len(client.published("bedlink/health")) > 0
	})

	reporter.Stop()
	reporter.Stop() // idempotent

	records := client.published("bedlink/health")
	var last HealthMessage
	if err := json.Unmarshal(records[len(records)-1].payload, &last); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if last.Status != HealthStopping {
		t.Errorf("final status = %q, want %q", last.Status, HealthStopping)
	}
}

// =============================================================================
// Topic and payload parsing
// =============================================================================

func TestAddressFromTopic(t *testing.T) {
	tests := []struct {
		topic   string
		address string
		ok      bool
	}{
		{"bedlink/command/AA:BB:CC:DD:EE:FF", "AA:BB:CC:DD:EE:FF", true},
		{"bedlink/hold/AA:BB:CC:DD:EE:FF", "AA:BB:CC:DD:EE:FF", true},
		{"bedlink/command/", "", false},
		{"bedlink", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		addr, ok := addressFromTopic(tt.topic)
		if addr != tt.address || ok != tt.ok {
			t.Errorf("addressFromTopic(%q) = (%q, %v), want (%q, %v)",
				tt.topic, addr, ok, tt.address, tt.ok)
		}
	}
}

func TestParsePayload(t *testing.T) {
	t.Run("bare command", func(t *testing.T) {
		req, err := parsePayload([]byte(" flat \n"))
		if err != nil {
			t.Fatalf("error: %v", err)
		}
		if req.Command != "flat" {
			t.Errorf("Command = %q", req.Command)
		}
	})

	t.Run("JSON missing command", func(t *testing.T) {
		if _, err := parsePayload([]byte(`{"action": "start"}`)); err == nil {
			t.Error("expected error for JSON without command")
		}
	})

	t.Run("stop_all needs no command", func(t *testing.T) {
		req, err := parsePayload([]byte(`{"action": "stop_all"}`))
		if err != nil {
			t.Fatalf("error: %v", err)
		}
		if req.Action != actionStopAll {
			t.Errorf("Action = %q", req.Action)
		}
	})
}
