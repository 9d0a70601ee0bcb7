package shadow

import "errors"

// Sentinel errors for shadow document handling.
var (
	// ErrMalformed is returned when a completed document is not a JSON object.
	// The document is discarded and no state changes.
	ErrMalformed = errors.New("shadow: malformed document")

	// ErrBufferOverflow is reported when a stream grows past the assembler
	// limit without completing. The buffer is discarded.
	ErrBufferOverflow = errors.New("shadow: assembly buffer overflow")

	// ErrStrayData is reported when a buffer holds text that cannot start a
	// document, typically the tail left behind by an early completion. The
	// buffer is discarded so the next document on the topic can complete.
	ErrStrayData = errors.New("shadow: stray data in assembly buffer")
)

// Warning codes for non-fatal parse issues.
const (
	// WarnPartialAlert means exactly one of alert/description was present.
	// The alert event is dropped.
	WarnPartialAlert = "PARTIAL_ALERT"

	// WarnFieldType means a recognised key carried a value of the wrong type.
	// The field is dropped.
	WarnFieldType = "FIELD_TYPE"

	// WarnActuatorValue means the desired actuator value was neither ON nor OFF.
	WarnActuatorValue = "ACTUATOR_VALUE"
)
