package mqttctl

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/bedlink/internal/bed"
	"github.com/nerrad567/bedlink/internal/infrastructure/mqtt"
)

// Health status values published to the health topic.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthStopping = "stopping"
)

// defaultHealthInterval is used when no interval is configured.
const defaultHealthInterval = 30 * time.Second

// HealthPublisher is the interface for publishing health messages.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// StatsSource provides registry counters for health snapshots.
// Satisfied by *bed.Registry.
type StatsSource interface {
	Stats() bed.Stats
}

// HealthMessage is the JSON body published to the health topic.
type HealthMessage struct {
	Service       string `json:"service"`
	Version       string `json:"version"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Sessions      int    `json:"sessions"`
	Connected     int    `json:"connected"`
	Movements     int    `json:"active_movements"`
	Timestamp     string `json:"timestamp"`
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// ServiceID identifies this instance in health messages.
	ServiceID string

	// Version is the service version.
	Version string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Stats provides registry counters.
	Stats StatsSource
}

// HealthReporter publishes periodic service health snapshots to MQTT.
// Integrations use the retained health message for availability
// detection alongside the broker-level LWT.
type HealthReporter struct {
	serviceID string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	stats     StatsSource
	topics    mqtt.Topics

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a new health reporter.
// Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		serviceID: cfg.ServiceID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		stats:     cfg.Stats,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops health reporting and publishes a final
// "stopping" status. Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "service stopping")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// reportLoop runs the periodic health reporting.
func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current service status.
func (h *HealthReporter) determineStatus() (string, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	return HealthHealthy, ""
}

// publishStatus publishes one health message (QoS 1, retained).
func (h *HealthReporter) publishStatus(status, reason string) error {
	if h.publisher == nil {
		return nil
	}

	msg := HealthMessage{
		Service:       h.serviceID,
		Version:       h.version,
		Status:        status,
		Reason:        reason,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	if h.stats != nil {
		stats := h.stats.Stats()
		msg.Sessions = stats.Sessions
		msg.Connected = stats.Connected
		msg.Movements = stats.ActiveMovements
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return h.publisher.Publish(h.topics.Health(), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
