package mqtt

import (
	"fmt"

	"github.com/nerrad567/shadow-agent/internal/infrastructure/config"
)

// Topic prefixes.
const (
	// TopicPrefixShadow is the base for device shadow topics.
	// Scheme: $aws/things/{thing}/shadow/{operation}
	TopicPrefixShadow = "$aws/things"

	// TopicPrefixDevice is the base for the agent's own topics.
	// Scheme: devices/{thing}/{channel}
	TopicPrefixDevice = "devices"
)

// Topics builds the MQTT topics used by one agent instance.
//
// Every topic can be overridden from config; unset entries fall back to the
// built-in scheme:
//
//	topics := mqtt.NewTopics(cfg.Device.ThingName, cfg.MQTT.Topics)
//	topics.ShadowAccepted() // "$aws/things/ESP32_BIKEASSIST/shadow/update/accepted"
type Topics struct {
	thing     string
	overrides config.MQTTTopicsConfig
}

// NewTopics returns topic builders for the given shadow thing.
func NewTopics(thing string, overrides config.MQTTTopicsConfig) Topics {
	return Topics{thing: thing, overrides: overrides}
}

// Thing returns the shadow thing name the topics are built for.
func (t Topics) Thing() string {
	return t.thing
}

// ShadowAccepted returns the topic the broker publishes accepted shadow
// documents on.
//
// Example: $aws/things/ESP32_BIKEASSIST/shadow/update/accepted
func (t Topics) ShadowAccepted() string {
	return t.pick(t.overrides.ShadowAccepted, fmt.Sprintf("%s/%s/shadow/update/accepted", TopicPrefixShadow, t.thing))
}

// ShadowUpdate returns the topic reported state is published to.
//
// Example: $aws/things/ESP32_BIKEASSIST/shadow/update
func (t Topics) ShadowUpdate() string {
	return t.pick(t.overrides.ShadowUpdate, fmt.Sprintf("%s/%s/shadow/update", TopicPrefixShadow, t.thing))
}

// Alerts returns the inbound alert topic.
//
// Example: devices/ESP32_BIKEASSIST/alerts
func (t Topics) Alerts() string {
	return t.pick(t.overrides.Alerts, t.device("alerts"))
}

// Telemetry returns the outbound combined telemetry topic.
//
// Example: devices/ESP32_BIKEASSIST/telemetry
func (t Topics) Telemetry() string {
	return t.pick(t.overrides.Telemetry, t.device("telemetry"))
}

// Position returns the inbound position-fix topic fed by the GPS bridge.
//
// Example: devices/ESP32_BIKEASSIST/position
func (t Topics) Position() string {
	return t.pick(t.overrides.Position, t.device("position"))
}

// Actuator returns the topic the alert output level is mirrored to when the
// MQTT signal driver is selected.
//
// Example: devices/ESP32_BIKEASSIST/actuator
func (t Topics) Actuator() string {
	return t.pick(t.overrides.Actuator, t.device("actuator"))
}

// Status returns the retained online/offline status topic (also the LWT topic).
//
// Example: devices/ESP32_BIKEASSIST/status
func (t Topics) Status() string {
	return t.pick(t.overrides.Status, t.device("status"))
}

// Inbound returns every topic whose payloads feed the shadow reassembly path.
func (t Topics) Inbound() []string {
	return []string{t.ShadowAccepted(), t.Alerts()}
}

func (t Topics) device(channel string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixDevice, t.thing, channel)
}

func (Topics) pick(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}
