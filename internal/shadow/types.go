package shadow

import "encoding/json"

// ActuatorCommand is the desired state of the device actuator.
type ActuatorCommand string

// Actuator commands accepted under state.desired.
const (
	ActuatorOn  ActuatorCommand = "ON"
	ActuatorOff ActuatorCommand = "OFF"
)

// AlertEvent is a complete alert received from the broker.
type AlertEvent struct {
	Message     string `json:"alert"`
	Description string `json:"description"`
}

// Delta is a set of optional field updates. A nil field means "no change",
// never "clear".
type Delta struct {
	Speed    *float64
	Status   *string
	Actuator *ActuatorCommand
	Alert    *AlertEvent

	// Address is filled by address resolution, never by Parse.
	Address *string
}

// IsEmpty reports whether the delta changes nothing.
func (d Delta) IsEmpty() bool {
	return d.Speed == nil && d.Status == nil && d.Actuator == nil && d.Alert == nil && d.Address == nil
}

// AddressDelta returns a delta that only sets the address.
func AddressDelta(address string) Delta {
	return Delta{Address: &address}
}

// ParseWarning represents a non-fatal issue found while parsing.
type ParseWarning struct {
	// Code is a machine-readable warning code (Warn* constants).
	Code string `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`
}

// ParseResult is the outcome of parsing one complete document.
type ParseResult struct {
	// Delta holds the extracted field updates.
	Delta Delta

	// PublishRequested is set when the desired actuator command is ON.
	// The caller publishes the current reported state in response.
	PublishRequested bool

	// Warnings contains non-fatal issues. They never change state.
	Warnings []ParseWarning
}

// ReportedState is the reported section published back to the shadow.
type ReportedState struct {
	Speed    float64 `json:"speed"`
	Status   string  `json:"status"`
	Actuator string  `json:"-"`
}

// ShadowUpdate wraps a reported state for the shadow update topic:
//
//	{"state":{"reported":{"speed":12.5,"status":"riding","led":"ON"}}}
//
// The actuator key is configurable, so the reported object is assembled
// by MarshalJSON.
type ShadowUpdate struct {
	Reported    ReportedState
	ActuatorKey string
}

// MarshalJSON implements json.Marshaler.
func (u ShadowUpdate) MarshalJSON() ([]byte, error) {
	reported := map[string]any{
		"speed":  u.Reported.Speed,
		"status": u.Reported.Status,
	}
	if u.ActuatorKey != "" && u.Reported.Actuator != "" {
		reported[u.ActuatorKey] = u.Reported.Actuator
	}
	return json.Marshal(map[string]any{
		"state": map[string]any{
			"reported": reported,
		},
	})
}
