package alert

import (
	"fmt"
	"os"
	"strings"
)

// Signal is a binary physical output.
type Signal interface {
	// Set asserts (true) or deasserts (false) the output.
	Set(on bool) error

	// Name identifies the output in logs.
	Name() string
}

// Publisher is the MQTT publish primitive used by MQTTSignal.
// Satisfied by *mqtt.Client.
type Publisher interface {
	PublishDefault(topic string, payload []byte) error
}

// Signal types accepted by NewSignal.
const (
	SignalLog  = "log"
	SignalGPIO = "gpio"
	SignalMQTT = "mqtt"
)

// NewSignal builds a Signal from its configured type.
//
// Parameters:
//   - kind: One of SignalLog, SignalGPIO, SignalMQTT
//   - gpioPath: sysfs value file for SignalGPIO
//   - pub, topic: Publisher and actuator topic for SignalMQTT
//   - logger: Used by SignalLog
func NewSignal(kind, gpioPath string, pub Publisher, topic string, logger Logger) (Signal, error) {
	switch strings.ToLower(kind) {
	case SignalLog, "":
		return NewLogSignal(logger), nil
	case SignalGPIO:
		return NewGPIOSignal(gpioPath), nil
	case SignalMQTT:
		if pub == nil || topic == "" {
			return nil, fmt.Errorf("%w: mqtt signal needs a publisher and topic", ErrUnknownSignal)
		}
		return NewMQTTSignal(pub, topic), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignal, kind)
	}
}

// LogSignal only logs transitions. Used when no hardware is attached.
type LogSignal struct {
	logger Logger
}

// NewLogSignal creates a LogSignal.
func NewLogSignal(logger Logger) *LogSignal {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LogSignal{logger: logger}
}

// Set implements Signal.
func (s *LogSignal) Set(on bool) error {
	s.logger.Info("alert signal", "on", on)
	return nil
}

// Name implements Signal.
func (s *LogSignal) Name() string { return SignalLog }

// GPIOSignal writes "1"/"0" to a sysfs GPIO value file. The pin must
// already be exported and configured as an output.
type GPIOSignal struct {
	path string
}

// NewGPIOSignal creates a GPIOSignal for the value file at path
// (e.g. /sys/class/gpio/gpio23/value).
func NewGPIOSignal(path string) *GPIOSignal {
	return &GPIOSignal{path: path}
}

// Set implements Signal.
func (s *GPIOSignal) Set(on bool) error {
	value := []byte("0")
	if on {
		value = []byte("1")
	}
	if err := os.WriteFile(s.path, value, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrSignalFailed, err)
	}
	return nil
}

// Name implements Signal.
func (s *GPIOSignal) Name() string { return "gpio:" + s.path }

// MQTTSignal publishes ON/OFF to an actuator topic for a remote relay.
type MQTTSignal struct {
	pub   Publisher
	topic string
}

// NewMQTTSignal creates an MQTTSignal.
func NewMQTTSignal(pub Publisher, topic string) *MQTTSignal {
	return &MQTTSignal{pub: pub, topic: topic}
}

// Set implements Signal.
func (s *MQTTSignal) Set(on bool) error {
	payload := []byte(`{"state":"OFF"}`)
	if on {
		payload = []byte(`{"state":"ON"}`)
	}
	if err := s.pub.PublishDefault(s.topic, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrSignalFailed, err)
	}
	return nil
}

// Name implements Signal.
func (s *MQTTSignal) Name() string { return "mqtt:" + s.topic }
