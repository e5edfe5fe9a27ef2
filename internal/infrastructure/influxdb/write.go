package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteCommandMetric records a single command attempt against a bed.
//
// This is the primary method for recording control activity.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - address: Bed MAC address (e.g., "AA:BB:CC:DD:EE:FF")
//   - command: Command name (e.g., "head_up", "flat")
//   - success: Whether the write reached the bed
//   - durationMs: Time from request to write completion in milliseconds
//
// Example:
//
//	client.WriteCommandMetric("AA:BB:CC:DD:EE:FF", "head_up", true, 42.0)
func (c *Client) WriteCommandMetric(address string, command string, success bool, durationMs float64) {
	if !c.IsConnected() {
		return
	}

	successVal := 0
	if success {
		successVal = 1
	}

	point := write.NewPoint(
		"bed_commands",
		map[string]string{
			"address": address,
			"command": command,
		},
		map[string]interface{}{
			"success":     successVal,
			"duration_ms": durationMs,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSessionMetric records a session state transition.
//
// Used for tracking link stability per bed over time.
//
// Parameters:
//   - address: Bed MAC address
//   - state: New session state (e.g., "connected", "disconnected")
func (c *Client) WriteSessionMetric(address string, state string) {
	if !c.IsConnected() {
		return
	}

	connectedVal := 0
	if state == "connected" {
		connectedVal = 1
	}

	point := write.NewPoint(
		"bed_sessions",
		map[string]string{
			"address": address,
			"state":   state,
		},
		map[string]interface{}{
			"connected": connectedVal,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteReconnectMetric records a keep-alive reconnection attempt.
//
// Parameters:
//   - address: Bed MAC address
//   - success: Whether the reconnect succeeded
//   - attempt: Consecutive attempt number for this outage
func (c *Client) WriteReconnectMetric(address string, success bool, attempt int) {
	if !c.IsConnected() {
		return
	}

	successVal := 0
	if success {
		successVal = 1
	}

	point := write.NewPoint(
		"bed_reconnects",
		map[string]string{
			"address": address,
		},
		map[string]interface{}{
			"success": successVal,
			"attempt": attempt,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "bedlink-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
