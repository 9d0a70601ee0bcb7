// Package state holds the canonical in-memory device state.
//
// The Store is the single owner of DeviceState. It is created once by the
// agent and passed by reference to every component that reads it. Writes
// happen only through Apply (parsed deltas and resolved addresses) and
// SetFix (position fixes).
//
// Merge semantics are field-granular last-write-wins: a delta only touches the
// fields it carries and never replaces the whole state. Applying the same
// delta twice leaves the state exactly as applying it once.
//
// Thread Safety: Store is not safe for concurrent use. It is owned by the
// control-loop goroutine; other goroutines read Snapshot copies handed out
// by that loop.
package state
