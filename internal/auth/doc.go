// Package auth issues and validates the bearer tokens that guard the shadow
// agent's HTTP surface.
//
// There are no user accounts on the device. An operator mints a token with
// the shadow-agent CLI using the configured JWT secret and hands it to a
// dashboard or fleet tool. Two roles exist:
//   - viewer: read-only query endpoints and the WebSocket stream
//   - operator: viewer plus the journal history endpoints
//
// Tokens are HS256 JWTs validated by signature and expiry only.
package auth
