// Package alert drives the physical hazard signal from alert events.
//
// The Actuator is a saturating one-shot timer with two states:
//
//	IDLE ──(hazard event)──▶ ACTIVE ──(now - start > duration)──▶ IDLE
//
// A trigger while ACTIVE is ignored: the window is neither restarted nor
// stacked. Only events whose message equals the configured hazard signature
// fire the output. Other alerts are still shown to the query layer, but that
// is the state store's concern, not this package's.
//
// The output itself is a Signal. Implementations are provided for logging
// only, a sysfs GPIO value file, and an MQTT actuator topic.
package alert
