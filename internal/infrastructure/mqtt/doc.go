// Package mqtt provides MQTT client connectivity for bedlink.
//
// This package manages:
//   - Connection to Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// bedlink uses MQTT as its integration bus: home automation systems
// (Home Assistant, Node-RED) publish commands and hold requests, and the
// service publishes per-bed state and health. The broker (Mosquitto)
// decouples integrations from the BLE layer.
//
//	Integrations ↔ MQTT Broker ↔ bedlink ↔ BLE beds
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s with jitter
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all bed commands
//	err = client.Subscribe(mqtt.Topics{}.AllBedCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish state
//	topic := mqtt.Topics{}.BedState("AA:BB:CC:DD:EE:FF")
//	client.Publish(topic, []byte(`{"state":"connected"}`), 1, true)
package mqtt
