// Package query renders read-only views of the device state for the HTTP layer.
//
// Views are pure functions of a state.Snapshot. Whether pending inbound
// messages are processed before the snapshot is taken is decided by the
// agent (query.pump_before_snapshot), not here.
package query

import "github.com/nerrad567/shadow-agent/internal/state"

// Placeholders returned when there is nothing to show.
const (
	// SentinelNoFix is the address reported while there is no valid position fix.
	SentinelNoFix = "No GPS data"

	// IdleAlert is the alert text reported before any alert has arrived.
	IdleAlert = "Notice: standing by"
)

// StateResponse is the position/speed view served at /gps-data.
type StateResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
	Speed     float64 `json:"aws_speed"`
}

// AlertResponse is the alert view served at /alerts.
type AlertResponse struct {
	Alert       string `json:"alert"`
	Description string `json:"description"`
}

// StateView builds the state view. Without a valid fix every number is zero
// and the address is SentinelNoFix.
func StateView(snap state.Snapshot) StateResponse {
	if !snap.Fix.Valid {
		return StateResponse{Address: SentinelNoFix}
	}
	return StateResponse{
		Latitude:  snap.Fix.Latitude,
		Longitude: snap.Fix.Longitude,
		Address:   snap.Address,
		Speed:     snap.Speed,
	}
}

// AlertView builds the alert view from the most recent alert event, or the
// idle placeholder if none has arrived.
func AlertView(snap state.Snapshot) AlertResponse {
	if snap.Alert == nil {
		return AlertResponse{Alert: IdleAlert}
	}
	return AlertResponse{
		Alert:       snap.Alert.Message,
		Description: snap.Alert.Description,
	}
}

// DetailResponse is the full device view served at /api/v1/state.
type DetailResponse struct {
	StateResponse
	Status      string        `json:"status"`
	Actuator    string        `json:"actuator"`
	Fix         state.Fix     `json:"fix"`
	Alert       AlertResponse `json:"alert"`
	AlertActive bool          `json:"alert_active"`
}

// DetailView combines the state and alert views with the raw fix, status
// and actuator fields. alertActive is the actuator output level, which
// lives outside the state store.
func DetailView(snap state.Snapshot, alertActive bool) DetailResponse {
	return DetailResponse{
		StateResponse: StateView(snap),
		Status:        snap.Status,
		Actuator:      string(snap.Actuator),
		Fix:           snap.Fix,
		Alert:         AlertView(snap),
		AlertActive:   alertActive,
	}
}
