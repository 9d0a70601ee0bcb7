// Package agent runs the single-threaded control loop that owns device state.
//
// Every cycle (Step) does, in order:
//
//  1. Pump: drain the inbox of MQTT fragments into the assembler, parse each
//     completed document and apply it to the store and alert actuator.
//  2. Close the alert window if it has expired.
//  3. Resolve the address when a fresh position fix is waiting.
//  4. Publish telemetry.
//  5. Answer pending queries.
//
// MQTT callbacks run on client goroutines. They never touch state; they hand
// fragments to Deliver, which blocks until the loop's inbox accepts them.
// HTTP handlers likewise read state only through QueryState/QueryAlert,
// which round-trip a request through the loop.
//
// Address resolution is synchronous by default: while a lookup runs nothing
// else on the loop progresses. With an AsyncResolver the lookup runs on its
// own goroutine and the address is applied on a later cycle.
package agent
