package mqtt

import "fmt"

// Topic scheme: bedlink/{category}/{address}
//
// Commands and holds flow inbound from integrations (Home Assistant,
// Node-RED); state and health flow outbound from the service.
const (
	// TopicPrefix is the base for all bedlink topics.
	TopicPrefix = "bedlink"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "bedlink/system"
)

// Topics provides builders for bedlink MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.BedState("AA:BB:CC:DD:EE:FF")
//	// Returns: "bedlink/state/AA:BB:CC:DD:EE:FF"
type Topics struct{}

// BedCommand returns the topic for one-shot commands to a bed.
//
// Example: bedlink/command/AA:BB:CC:DD:EE:FF
func (Topics) BedCommand(address string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, address)
}

// BedHold returns the topic for press-and-hold movement control of a bed.
//
// Example: bedlink/hold/AA:BB:CC:DD:EE:FF
func (Topics) BedHold(address string) string {
	return fmt.Sprintf("%s/hold/%s", TopicPrefix, address)
}

// BedState returns the topic for per-bed session state, published retained.
//
// Example: bedlink/state/AA:BB:CC:DD:EE:FF
func (Topics) BedState(address string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, address)
}

// Health returns the topic for periodic service health snapshots.
//
// Example: bedlink/health
func (Topics) Health() string {
	return fmt.Sprintf("%s/health", TopicPrefix)
}

// SystemStatus returns the service availability topic (also used for LWT).
//
// Example: bedlink/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllBedCommands returns a pattern matching all bed command topics.
//
// Pattern: bedlink/command/+
func (Topics) AllBedCommands() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}

// AllBedHolds returns a pattern matching all bed hold topics.
//
// Pattern: bedlink/hold/+
func (Topics) AllBedHolds() string {
	return fmt.Sprintf("%s/hold/+", TopicPrefix)
}

// AllTopics returns a pattern matching all bedlink topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: bedlink/#
func (Topics) AllTopics() string {
	return "bedlink/#"
}
