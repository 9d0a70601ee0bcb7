// Package mqtt provides MQTT client connectivity for the shadow agent.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS
//   - Topic subscriptions, restored after reconnect
//   - Last Will and Testament (LWT) on the device status topic
//   - Topic builders for the shadow and device channels
//
// # Architecture
//
// The broker carries the device shadow in both directions:
//
//	shadow service ──update/accepted──▶ agent ──update──▶ shadow service
//	alert service  ──alerts──────────▶ agent ──telemetry──▶ consumers
//	GPS bridge     ──position────────▶ agent
//
// Paho delivers messages on its own goroutine. The agent forwards every
// payload into its control loop, so handlers here never touch device state.
//
// # Security Considerations
//
//   - Set cfg.Broker.TLS=true for anything beyond a local broker
//   - Credentials come from config or SHADOWAGENT_MQTT_* variables
//
// # Usage
//
//	topics := mqtt.NewTopics(cfg.Device.ThingName, cfg.MQTT.Topics)
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.Alerts(), 1,
//	    func(topic string, payload []byte) error {
//	        return agent.Deliver(ctx, topic, payload)
//	    })
package mqtt
