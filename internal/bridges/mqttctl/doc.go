// Package mqttctl implements the MQTT control bridge for bedlink.
//
// The bridge lets home-automation systems (Home Assistant, Node-RED,
// openHAB) drive beds over MQTT without touching the REST API, and
// mirrors live session state back onto the broker.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐          ┌──────────┐
//	│ Home Assistant  │   MQTT   │   MQTT Bridge   │          │   Bed    │
//	│   / Node-RED    │◄────────►│   (this pkg)    │◄────────►│ Registry │
//	└─────────────────┘          └─────────────────┘          └──────────┘
//
// # Topic Scheme
//
// Inbound (subscribed by the bridge):
//
//	bedlink/command/{address}   one-shot commands
//	bedlink/hold/{address}      press-and-hold start/stop
//
// Outbound (published by the bridge):
//
//	bedlink/state/{address}     session state, retained
//	bedlink/health              periodic service health, retained
//
// Command payloads are either a bare command name ("flat") or JSON
// ({"command": "flat"}). Hold payloads carry an action:
// {"command": "head_up", "action": "start"}.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package mqttctl
