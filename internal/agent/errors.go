package agent

import "errors"

var (
	// ErrAlreadyRunning is returned by Run when the loop is already active.
	ErrAlreadyRunning = errors.New("agent: control loop already running")

	// ErrInvalidFix is reported when a position message cannot be decoded.
	ErrInvalidFix = errors.New("agent: invalid position fix")
)
