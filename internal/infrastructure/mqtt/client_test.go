package mqtt

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// Tests in this file run without a broker. Broker-dependent tests live in
// integration_test.go behind the integration build tag.

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestCloseNil(t *testing.T) {
	client := &Client{}
	err := client.Close()
	if err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	client := &Client{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	err := client.HealthCheck(ctx)
	if err == nil {
		t.Error("HealthCheck() expected error for cancelled context")
	}
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestPublishValidation(t *testing.T) {
	client := &Client{}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{
			name:    "empty topic",
			topic:   "",
			payload: []byte("{}"),
			qos:     1,
			wantErr: ErrInvalidTopic,
		},
		{
			name:    "invalid qos",
			topic:   "bedlink/test",
			payload: []byte("{}"),
			qos:     3,
			wantErr: ErrInvalidQoS,
		},
		{
			name:    "not connected",
			topic:   "bedlink/test",
			payload: []byte("{}"),
			qos:     1,
			wantErr: ErrNotConnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishOversizedPayload(t *testing.T) {
	client := &Client{}

	payload := make([]byte, maxPayloadSize+1)
	err := client.Publish("bedlink/test", payload, 1, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	handler := func(_ string, _ []byte) error { return nil }

	if err := client.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty topic) error = %v, want ErrInvalidTopic", err)
	}

	if err := client.Subscribe("bedlink/test", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}

	if err := client.Subscribe("bedlink/test", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}

	if err := client.Subscribe("bedlink/test", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty topic) error = %v, want ErrInvalidTopic", err)
	}

	if err := client.Unsubscribe("bedlink/test"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
}

func TestSubscriptionTracking(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}

	if client.HasSubscription("bedlink/command/+") {
		t.Error("HasSubscription() = true for untracked topic")
	}
}

// =============================================================================
// Callback Registration Tests
// =============================================================================

func TestSetCallbacks(t *testing.T) {
	client := &Client{}

	client.SetOnConnect(func() {})
	client.SetOnDisconnect(func(_ error) {})

	client.callbackMu.RLock()
	defer client.callbackMu.RUnlock()

	if client.onConnect == nil {
		t.Error("SetOnConnect() did not store callback")
	}
	if client.onDisconnect == nil {
		t.Error("SetOnDisconnect() did not store callback")
	}
}

type captureLogger struct {
	errors []string
	warns  []string
}

func (l *captureLogger) Error(msg string, _ ...any) { l.errors = append(l.errors, msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.warns = append(l.warns, msg) }

func TestSetLogger(t *testing.T) {
	client := &Client{}
	logger := &captureLogger{}

	client.SetLogger(logger)

	if client.getLogger() != logger {
		t.Error("SetLogger() did not store logger")
	}
}

// =============================================================================
// Topic Builder Tests
// =============================================================================

func TestTopics(t *testing.T) {
	tests := []struct {
		name     string
		build    func() string
		expected string
	}{
		{
			name: "BedCommand",
			build: func() string {
				return Topics{}.BedCommand("AA:BB:CC:DD:EE:FF")
			},
			expected: "bedlink/command/AA:BB:CC:DD:EE:FF",
		},
		{
			name: "BedHold",
			build: func() string {
				return Topics{}.BedHold("AA:BB:CC:DD:EE:FF")
			},
			expected: "bedlink/hold/AA:BB:CC:DD:EE:FF",
		},
		{
			name: "BedState",
			build: func() string {
				return Topics{}.BedState("AA:BB:CC:DD:EE:FF")
			},
			expected: "bedlink/state/AA:BB:CC:DD:EE:FF",
		},
		{
			name:     "Health",
			build:    func() string { return Topics{}.Health() },
			expected: "bedlink/health",
		},
		{
			name:     "SystemStatus",
			build:    func() string { return Topics{}.SystemStatus() },
			expected: "bedlink/system/status",
		},
		{
			name:     "AllBedCommands",
			build:    func() string { return Topics{}.AllBedCommands() },
			expected: "bedlink/command/+",
		},
		{
			name:     "AllBedHolds",
			build:    func() string { return Topics{}.AllBedHolds() },
			expected: "bedlink/hold/+",
		},
		{
			name:     "AllTopics",
			build:    func() string { return Topics{}.AllTopics() },
			expected: "bedlink/#",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.build()
			if got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, got, tt.expected)
			}
		})
	}
}

// =============================================================================
// Payload Builder Tests
// =============================================================================

func TestStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("bedlink-test")
	if !strings.Contains(online, `"status":"online"`) {
		t.Errorf("online payload missing status: %s", online)
	}
	if !strings.Contains(online, "bedlink-test") {
		t.Errorf("online payload missing client ID: %s", online)
	}

	offline := buildOfflinePayload("bedlink-test")
	if !strings.Contains(offline, `"status":"offline"`) {
		t.Errorf("offline payload missing status: %s", offline)
	}
	if !strings.Contains(offline, "graceful_shutdown") {
		t.Errorf("offline payload missing reason: %s", offline)
	}
}
