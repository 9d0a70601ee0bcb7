package alert

import "errors"

var (
	// ErrSignalFailed is returned when the output cannot be driven.
	ErrSignalFailed = errors.New("alert: signal failed")

	// ErrUnknownSignal is returned by NewSignal for an unsupported type.
	ErrUnknownSignal = errors.New("alert: unknown signal type")
)
