package mqttctl

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/bedlink/internal/audit"
	"github.com/nerrad567/bedlink/internal/bed"
	"github.com/nerrad567/bedlink/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of segments in a valid bed topic.
	minTopicParts = 3

	// commandTimeout bounds a single command attempt, including any lazy
	// reconnect the session performs.
	commandTimeout = 45 * time.Second

	// auditSourceMQTT tags audit entries created by this bridge.
	auditSourceMQTT = "mqtt"
)

// Hold payload actions.
const (
	actionStart   = "start"
	actionStop    = "stop"
	actionStopAll = "stop_all"
)

// MQTTClient is the broker interface the bridge needs.
// Satisfied by *mqtt.Client; kept narrow so tests can supply a mock.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Coordinator is the slice of the bed registry the bridge drives.
type Coordinator interface {
	SendCommand(ctx context.Context, address, name string) error
	StartHold(address, command string) error
	StopHold(address, command string) error
	StopAllHolds(ctx context.Context, address string) error
	Stats() bed.Stats
}

// AuditSink receives command audit entries. Satisfied by *audit.Recorder.
type AuditSink interface {
	Record(entry audit.Entry)
}

// Logger is the structured logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options holds configuration for creating a bridge.
type Options struct {
	// Client is the MQTT broker connection.
	Client MQTTClient

	// Coordinator executes commands and holds.
	Coordinator Coordinator

	// QoS is the quality-of-service level for subscriptions and state
	// publishes, used as given; QoS 0 is a valid choice. The config
	// layer supplies the default (1).
	QoS byte

	// ServiceID identifies this instance in health messages.
	ServiceID string

	// Version is the service version reported in health messages.
	Version string

	// HealthInterval is how often health snapshots are published.
	// Default: 30 seconds.
	HealthInterval time.Duration

	// Recorder is optional; if set, every command attempt is recorded.
	Recorder AuditSink

	// Logger is optional structured logging.
	Logger Logger
}

// Bridge translates MQTT control messages into registry operations and
// mirrors session state back to the broker.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	client      MQTTClient
	coordinator Coordinator
	qos         byte
	recorder    AuditSink
	health      *HealthReporter
	topics      mqtt.Topics

	logger   Logger
	loggerMu sync.RWMutex

	// ctx bounds in-flight command attempts; cancelled on Stop().
	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// commandPayload is the JSON body accepted on command and hold topics.
// Bare (non-JSON) payloads are treated as a command name.
type commandPayload struct {
	Command string `json:"command"`
	Action  string `json:"action,omitempty"`
}

// statePayload is published retained to the per-bed state topic.
type statePayload struct {
	Address   string           `json:"address"`
	State     bed.SessionState `json:"state"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewBridge creates a new MQTT control bridge.
// Call Start() to begin operation.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		client:      opts.Client,
		coordinator: opts.Coordinator,
		qos:         opts.QoS,
		recorder:    opts.Recorder,
		logger:      opts.Logger,
		ctx:         ctx,
		ctxCancel:   ctxCancel,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		ServiceID: opts.ServiceID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.Client,
		Stats:     opts.Coordinator,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to the command and hold topics and begins health
// reporting. The context cancels health reporting but not the
// subscriptions; call Stop() for a full shutdown.
func (b *Bridge) Start(ctx context.Context) error {
	commandTopic := b.topics.AllBedCommands()
	if err := b.client.Subscribe(commandTopic, b.qos, b.handleCommandMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	holdTopic := b.topics.AllBedHolds()
	if err := b.client.Subscribe(holdTopic, b.qos, b.handleHoldMessage); err != nil {
		return fmt.Errorf("subscribe to holds: %w", err)
	}
	b.logInfo("subscribed to holds", "topic", holdTopic)

	b.health.Start(ctx)

	b.logInfo("mqtt bridge started")
	return nil
}

// Stop gracefully shuts down the bridge. In-flight commands are
// cancelled and a final "stopping" health message is published.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()
		b.health.Stop()
		b.wg.Wait()
		b.logInfo("mqtt bridge stopped")
	})
}

// HandleEvent mirrors registry events onto the broker. Wire it as (part
// of) the registry's event handler. Session state is published retained
// so integrations see the current state immediately on subscribe.
//
// It must never block: publishing is handed to a goroutine because the
// paho publish path can wait on the broker.
func (b *Bridge) HandleEvent(evt bed.Event) {
	if evt.Type != bed.EventSessionState {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.publishState(evt)
	}()
}

// publishState publishes one retained state message for a bed.
func (b *Bridge) publishState(evt bed.Event) {
	payload, err := json.Marshal(statePayload{
		Address:   evt.Address,
		State:     evt.State,
		Timestamp: evt.Timestamp,
	})
	if err != nil {
		b.logError("marshalling state payload", err)
		return
	}

	topic := b.topics.BedState(evt.Address)
	if err := b.client.Publish(topic, payload, b.qos, true); err != nil {
		b.logError("publishing state", err, "topic", topic)
	}
}

// handleCommandMessage processes a message on bedlink/command/{address}.
func (b *Bridge) handleCommandMessage(topic string, payload []byte) error {
	address, ok := addressFromTopic(topic)
	if !ok {
		return fmt.Errorf("malformed command topic: %s", topic)
	}

	req, err := parsePayload(payload)
	if err != nil {
		b.logWarn("dropping malformed command payload", "topic", topic, "error", err)
		return err
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	sendErr := b.coordinator.SendCommand(ctx, address, req.Command)
	b.record(address, req.Command, sendErr)

	if sendErr != nil {
		b.logWarn("mqtt command failed", "address", address, "command", req.Command, "error", sendErr)
		return sendErr
	}

	b.logDebug("mqtt command sent", "address", address, "command", req.Command)
	return nil
}

// handleHoldMessage processes a message on bedlink/hold/{address}.
// A bare payload or action "start" begins a hold; "stop" ends one
// movement; "stop_all" ends every movement and sends an explicit stop.
func (b *Bridge) handleHoldMessage(topic string, payload []byte) error {
	address, ok := addressFromTopic(topic)
	if !ok {
		return fmt.Errorf("malformed hold topic: %s", topic)
	}

	req, err := parsePayload(payload)
	if err != nil {
		b.logWarn("dropping malformed hold payload", "topic", topic, "error", err)
		return err
	}

	switch req.Action {
	case "", actionStart:
		if err := b.coordinator.StartHold(address, req.Command); err != nil {
			b.logWarn("mqtt hold start failed", "address", address, "command", req.Command, "error", err)
			return err
		}
		b.logDebug("mqtt hold started", "address", address, "command", req.Command)
		return nil

	case actionStop:
		if err := b.coordinator.StopHold(address, req.Command); err != nil {
			b.logWarn("mqtt hold stop failed", "address", address, "command", req.Command, "error", err)
			return err
		}
		b.logDebug("mqtt hold stopped", "address", address, "command", req.Command)
		return nil

	case actionStopAll:
		ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
		defer cancel()

		stopErr := b.coordinator.StopAllHolds(ctx, address)
		b.record(address, bed.CmdStop, stopErr)
		if stopErr != nil {
			b.logWarn("mqtt stop all failed", "address", address, "error", stopErr)
			return stopErr
		}
		return nil

	default:
		err := fmt.Errorf("unknown hold action: %s", req.Action)
		b.logWarn("dropping hold message", "topic", topic, "error", err)
		return err
	}
}

// record writes one audit entry if a sink is wired.
func (b *Bridge) record(address, command string, err error) {
	if b.recorder == nil {
		return
	}
	entry := audit.Entry{
		Address: address,
		Command: command,
		Source:  auditSourceMQTT,
		Success: err == nil,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	b.recorder.Record(entry)
}

// parsePayload decodes a command payload. JSON objects use the
// commandPayload shape; anything else is treated as a bare command name.
func parsePayload(payload []byte) (commandPayload, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return commandPayload{}, fmt.Errorf("empty payload")
	}

	if strings.HasPrefix(trimmed, "{") {
		var req commandPayload
		if err := json.Unmarshal([]byte(trimmed), &req); err != nil {
			return commandPayload{}, fmt.Errorf("decoding payload: %w", err)
		}
		if req.Command == "" && req.Action != actionStopAll {
			return commandPayload{}, fmt.Errorf("payload missing command")
		}
		return req, nil
	}

	return commandPayload{Command: trimmed}, nil
}

// addressFromTopic extracts the bed address from a command or hold
// topic. Topics are bedlink/{category}/{address}.
func addressFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		return "", false
	}
	address := parts[len(parts)-1]
	if address == "" {
		return "", false
	}
	return address, true
}

// Logging helpers; the logger is optional.

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// SetLogger sets the logger for this bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) logDebug(msg string, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Debug(msg, args...)
	}
}

func (b *Bridge) logInfo(msg string, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Info(msg, args...)
	}
}

func (b *Bridge) logWarn(msg string, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Warn(msg, args...)
	}
}

func (b *Bridge) logError(msg string, err error, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Error(msg, append([]any{"error", err}, args...)...)
	}
}
