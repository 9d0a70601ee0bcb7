// Package shadow turns raw inbound MQTT payloads into typed shadow deltas.
//
// Two stages run back to back on the control loop:
//
//	fragments ──▶ Assembler ──(complete document)──▶ Parser ──▶ Delta
//
// The Assembler accumulates fragments per topic and declares a document
// complete when the trimmed buffer starts with '{' and ends with '}'. That
// heuristic has a known gap: a string value containing braces, or a nested
// document split right after an inner '}', can complete a document early,
// and the parser then rejects it as malformed. The orphaned tail that follows
// cannot start a document, so the Assembler drops it (ErrStrayData) and the
// topic recovers on the next message.
//
// The Parser extracts each recognised field independently. Missing fields are
// never an error; only a payload that is not a JSON object is rejected.
//
// Thread Safety: neither type is safe for concurrent use. Both are owned by
// the single control-loop goroutine.
package shadow
