// Package api implements the HTTP query API and WebSocket server for the
// shadow agent.
//
// This package provides:
//   - The legacy dashboard endpoints GET /gps-data and GET /alerts
//   - Versioned endpoints under /api/v1 for state, alert, journal history,
//     health and metrics
//   - A WebSocket hub that pushes telemetry, alert and actuator events
//   - Optional JWT authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// Every read goes through the agent's query channel, so device state is only
// touched by the control loop goroutine. The hub is fed by the loop (alert and
// actuator events) and by the telemetry publisher through HubSink.
//
// # Security
//
// When security.jwt.secret is empty the API is open. Otherwise every route
// except /api/v1/health requires a bearer token minted with
// "shadow-agent token". WebSocket connections use single-use tickets to keep
// tokens out of URLs.
package api
