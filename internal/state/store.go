package state

import "github.com/nerrad567/shadow-agent/internal/shadow"

// Fix is a position fix from the GPS bridge.
type Fix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Valid     bool    `json:"valid"`
}

// Snapshot is a point-in-time copy of the device state.
type Snapshot struct {
	Speed    float64
	Status   string
	Actuator shadow.ActuatorCommand

	// Address is the last resolved address. It may be a geocoder sentinel.
	Address string

	// Alert is the most recent complete alert event, nil if none arrived yet.
	Alert *shadow.AlertEvent

	// Fix is the latest position fix.
	Fix Fix
}

// HasAddress reports whether an address has been resolved at least once.
func (s Snapshot) HasAddress() bool {
	return s.Address != ""
}

// Store is the canonical device state.
type Store struct {
	speed    float64
	status   string
	actuator shadow.ActuatorCommand
	address  string
	alert    *shadow.AlertEvent

	fix      Fix
	fixFresh bool
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Apply merges the present fields of delta into the state.
// Absent fields are left untouched.
func (s *Store) Apply(delta shadow.Delta) {
	if delta.Speed != nil {
		s.speed = *delta.Speed
	}
	if delta.Status != nil {
		s.status = *delta.Status
	}
	if delta.Actuator != nil {
		s.actuator = *delta.Actuator
	}
	if delta.Address != nil {
		s.address = *delta.Address
	}
	if delta.Alert != nil {
		ev := *delta.Alert
		s.alert = &ev
	}
}

// SetFix records the latest position fix. A valid fix is marked fresh so the
// next control cycle resolves its address.
func (s *Store) SetFix(fix Fix) {
	s.fix = fix
	s.fixFresh = fix.Valid
}

// TakeFreshFix returns the latest fix if it has not been consumed yet.
func (s *Store) TakeFreshFix() (Fix, bool) {
	if !s.fixFresh {
		return Fix{}, false
	}
	s.fixFresh = false
	return s.fix, true
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Speed:    s.speed,
		Status:   s.status,
		Actuator: s.actuator,
		Address:  s.address,
		Fix:      s.fix,
	}
	if s.alert != nil {
		ev := *s.alert
		snap.Alert = &ev
	}
	return snap
}
