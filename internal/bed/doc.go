// Package bed provides the session registry and command pipeline for
// OKIN-controlled adjustable beds.
//
// A bed is a write-only BLE peripheral: it accepts single-byte command
// frames and sends nothing back. This package owns everything between
// "a caller wants head_up on bed X" and "a frame is written to X's
// characteristic": session lifecycle, command encoding, write
// serialisation, press-and-hold emulation, and link recovery.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────────┐
//	│                              Registry                                │
//	│                                                                      │
//	│  ┌────────────────┐   ┌────────────────┐   ┌─────────────────────┐  │
//	│  │    Session     │   │ MovementManager│   │  Keep-alive monitor │  │
//	│  │  (session.go)  │   │ (movement.go)  │   │    (registry.go)    │  │
//	│  │                │   │                │   │                     │  │
//	│  │ • one BLE link │   │ • hold loops   │   │ • dead link detect  │  │
//	│  │ • send lock    │   │ • repeat sends │   │ • backoff reconnect │  │
//	│  │ • lazy connect │   │ • join on stop │   │ • panic isolation   │  │
//	│  └───────┬────────┘   └────────────────┘   └─────────────────────┘  │
//	└──────────│───────────────────────────────────────────────────────────┘
//	           │
//	           ▼
//	┌──────────────────────┐
//	│  Transport (ble pkg) │
//	│  • dial + discovery  │
//	│  • characteristic    │
//	│    writes            │
//	└──────────────────────┘
//
// # Key Types
//
//   - Registry: per-process owner of all sessions, one per address
//   - Session: the single serialised write path to one bed
//   - MovementManager: press-and-hold emulation via repeated sends
//   - Repository: SQLite persistence for registered beds
//   - Event: state change and command outcome notifications
//
// # Usage
//
//	registry := bed.NewRegistry(transport, bed.DefaultConfig())
//	registry.SetLogger(log)
//	registry.SetOnEvent(hub.Broadcast)
//	registry.StartKeepAlive()
//
//	// One-shot command; connects on demand.
//	err := registry.SendCommand(ctx, "AA:BB:CC:DD:EE:FF", bed.CmdFlat)
//
//	// Press-and-hold: repeats head_up until stopped.
//	registry.StartHold("AA:BB:CC:DD:EE:FF", bed.CmdHeadUp)
//	registry.StopHold("AA:BB:CC:DD:EE:FF", bed.CmdHeadUp)
//
// # Thread Safety
//
// Registry, Session and MovementManager are all safe for concurrent
// use. Writes to one bed are serialised through the session's send
// lock, which is also held for the inter-command spacing window the
// OKIN controller requires.
package bed
