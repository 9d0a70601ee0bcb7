// Package geocode resolves a position fix to a human-readable address.
//
// Resolve never returns an error. Every failure is reported as one of four
// sentinel strings which callers store and display as the address:
//
//	SentinelNoNetwork    no usable network interface, no request sent
//	SentinelHTTPFailure  transport error or non-200 response
//	SentinelParseFailure response body is not the expected JSON
//	SentinelNoResults    the lookup succeeded but matched nothing
//
// Use IsSentinel when a caller needs to tell them apart from real addresses.
//
// Resolver is synchronous and, unless a timeout is configured, unbounded. On
// the control loop that blocks every other responsibility until it returns.
// AsyncResolver moves the call onto its own goroutine and hands the result
// back over a channel, with at most one request in flight.
package geocode
