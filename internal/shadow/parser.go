package shadow

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document keys recognised by the parser.
const (
	keyState       = "state"
	keyReported    = "reported"
	keyDesired     = "desired"
	keySpeed       = "speed"
	keyStatus      = "status"
	keyAlert       = "alert"
	keyDescription = "description"
)

// Parser extracts typed optional fields from complete shadow documents.
type Parser struct {
	actuatorKey string
	speedScale  float64
}

// NewParser creates a Parser.
//
// Parameters:
//   - actuatorKey: Key under state.desired carrying the ON/OFF command
//   - speedScale: Factor applied to state.reported.speed (<= 0 means 1)
func NewParser(actuatorKey string, speedScale float64) *Parser {
	if speedScale <= 0 {
		speedScale = 1
	}
	return &Parser{actuatorKey: actuatorKey, speedScale: speedScale}
}

// ActuatorKey returns the desired-state key this parser reads.
func (p *Parser) ActuatorKey() string {
	return p.actuatorKey
}

// Parse decodes one complete document.
//
// Extraction rules, each independent:
//   - state.reported.speed (number) → Delta.Speed, scaled
//   - state.reported.status (string) → Delta.Status
//   - state.desired.<actuatorKey> ("ON"/"OFF") → Delta.Actuator; ON also sets PublishRequested
//   - top-level alert + description (strings, both required) → Delta.Alert
//
// A document with none of these keys yields an empty delta. Keys with the
// wrong type are dropped with a warning. JSON null counts as absent.
//
// Returns:
//   - *ParseResult: Extracted delta and warnings
//   - error: ErrMalformed if doc is not a JSON object
func (p *Parser) Parse(doc []byte) (*ParseResult, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(doc, &top); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if top == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	result := &ParseResult{}

	if raw, ok := present(top, keyState); ok {
		p.parseState(raw, result)
	}

	p.parseAlert(top, result)

	return result, nil
}

// parseState handles the state.reported and state.desired sections.
func (p *Parser) parseState(raw json.RawMessage, result *ParseResult) {
	state, ok := decodeObject(raw, keyState, result)
	if !ok {
		return
	}

	if rawReported, ok := present(state, keyReported); ok {
		if reported, ok := decodeObject(rawReported, "state.reported", result); ok {
			p.parseReported(reported, result)
		}
	}

	if rawDesired, ok := present(state, keyDesired); ok {
		if desired, ok := decodeObject(rawDesired, "state.desired", result); ok {
			p.parseDesired(desired, result)
		}
	}
}

func (p *Parser) parseReported(reported map[string]json.RawMessage, result *ParseResult) {
	if raw, ok := present(reported, keySpeed); ok {
		var speed float64
		if err := json.Unmarshal(raw, &speed); err != nil {
			result.warn(WarnFieldType, "state.reported.speed is not a number")
		} else {
			scaled := speed * p.speedScale
			result.Delta.Speed = &scaled
		}
	}

	if raw, ok := present(reported, keyStatus); ok {
		var status string
		if err := json.Unmarshal(raw, &status); err != nil {
			result.warn(WarnFieldType, "state.reported.status is not a string")
		} else {
			result.Delta.Status = &status
		}
	}
}

func (p *Parser) parseDesired(desired map[string]json.RawMessage, result *ParseResult) {
	if p.actuatorKey == "" {
		return
	}
	raw, ok := present(desired, p.actuatorKey)
	if !ok {
		return
	}

	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		result.warn(WarnFieldType, fmt.Sprintf("state.desired.%s is not a string", p.actuatorKey))
		return
	}

	cmd := ActuatorCommand(value)
	switch cmd {
	case ActuatorOn:
		result.PublishRequested = true
	case ActuatorOff:
	default:
		result.warn(WarnActuatorValue, fmt.Sprintf("state.desired.%s = %q, want ON or OFF", p.actuatorKey, value))
		return
	}
	result.Delta.Actuator = &cmd
}

// parseAlert extracts the top-level alert pair. Both keys are required.
func (p *Parser) parseAlert(top map[string]json.RawMessage, result *ParseResult) {
	rawAlert, hasAlert := present(top, keyAlert)
	rawDesc, hasDesc := present(top, keyDescription)

	switch {
	case !hasAlert && !hasDesc:
		return
	case hasAlert != hasDesc:
		missing := keyDescription
		if !hasAlert {
			missing = keyAlert
		}
		result.warn(WarnPartialAlert, fmt.Sprintf("alert dropped: %q is missing", missing))
		return
	}

	var ev AlertEvent
	if err := json.Unmarshal(rawAlert, &ev.Message); err != nil {
		result.warn(WarnFieldType, "alert is not a string")
		return
	}
	if err := json.Unmarshal(rawDesc, &ev.Description); err != nil {
		result.warn(WarnFieldType, "description is not a string")
		return
	}
	result.Delta.Alert = &ev
}

func (r *ParseResult) warn(code, message string) {
	r.Warnings = append(r.Warnings, ParseWarning{Code: code, Message: message})
}

// present returns the raw value for key, treating JSON null as absent.
func present(m map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := m[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}

// decodeObject decodes raw as a JSON object, recording a warning otherwise.
func decodeObject(raw json.RawMessage, path string, result *ParseResult) (map[string]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		result.warn(WarnFieldType, path+" is not an object")
		return nil, false
	}
	return obj, true
}
