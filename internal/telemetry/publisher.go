// Package telemetry publishes the combined device record every control cycle.
//
// Publishing is fire-and-forget: nothing is acknowledged, retried or queued.
// A failed publish is logged, counted and dropped. The next cycle publishes
// fresh state anyway.
package telemetry

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/nerrad567/shadow-agent/internal/shadow"
	"github.com/nerrad567/shadow-agent/internal/state"
)

// Record is the outbound telemetry message.
type Record struct {
	Address string  `json:"address"`
	Speed   float64 `json:"speed"`
	Status  string  `json:"status"`
}

// RecordFrom builds a Record from a snapshot.
func RecordFrom(snap state.Snapshot) Record {
	return Record{
		Address: snap.Address,
		Speed:   snap.Speed,
		Status:  snap.Status,
	}
}

// Sender is the outbound MQTT publish primitive. Satisfied by *mqtt.Client.
type Sender interface {
	PublishDefault(topic string, payload []byte) error
}

// Sink receives a copy of every record handed to the sender. Sinks are best
// effort and must not block. Satisfied by *influxdb.Client.
type Sink interface {
	WriteTelemetry(address string, speed float64, status string)
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Topics names the outbound topics the publisher writes to.
type Topics struct {
	Telemetry    string
	ShadowUpdate string
}

// Publisher sends telemetry and shadow reports.
type Publisher struct {
	sender      Sender
	topics      Topics
	actuatorKey string
	sinks       []Sink
	logger      Logger

	published atomic.Int64
	failed    atomic.Int64
}

// NewPublisher creates a Publisher.
//
// Parameters:
//   - sender: MQTT publish primitive
//   - topics: Telemetry and shadow update topics
//   - actuatorKey: Key the actuator command is reported under
//   - logger: Logger (nil means no logging)
//   - sinks: Optional extra consumers of each record
func NewPublisher(sender Sender, topics Topics, actuatorKey string, logger Logger, sinks ...Sink) *Publisher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Publisher{
		sender:      sender,
		topics:      topics,
		actuatorKey: actuatorKey,
		sinks:       sinks,
		logger:      logger,
	}
}

// AddSink registers another sink. Not safe to call while publishing.
func (p *Publisher) AddSink(sink Sink) {
	p.sinks = append(p.sinks, sink)
}

// Publish sends the telemetry record for snap.
//
// Nothing is sent until an address has been resolved at least once;
// a sentinel address counts as resolved.
//
// Returns true if the record was handed to the sender successfully.
func (p *Publisher) Publish(snap state.Snapshot) bool {
	if !snap.HasAddress() {
		return false
	}

	rec := RecordFrom(snap)
	for _, sink := range p.sinks {
		sink.WriteTelemetry(rec.Address, rec.Speed, rec.Status)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("encoding telemetry", "error", err)
		return false
	}

	if err := p.sender.PublishDefault(p.topics.Telemetry, payload); err != nil {
		p.failed.Add(1)
		p.logger.Warn("telemetry publish failed, dropped", "topic", p.topics.Telemetry, "error", err)
		return false
	}

	p.published.Add(1)
	p.logger.Debug("telemetry published", "topic", p.topics.Telemetry, "speed", rec.Speed, "status", rec.Status)
	return true
}

// PublishShadowReport publishes the current reported state to the shadow
// update topic. Sent in response to a desired actuator ON.
func (p *Publisher) PublishShadowReport(snap state.Snapshot) error {
	update := shadow.ShadowUpdate{
		Reported: shadow.ReportedState{
			Speed:    snap.Speed,
			Status:   snap.Status,
			Actuator: string(snap.Actuator),
		},
		ActuatorKey: p.actuatorKey,
	}

	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encoding shadow report: %w", err)
	}

	if err := p.sender.PublishDefault(p.topics.ShadowUpdate, payload); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("publishing shadow report: %w", err)
	}
	p.published.Add(1)
	return nil
}

// Published returns the number of successful publishes.
func (p *Publisher) Published() int64 {
	return p.published.Load()
}

// Failed returns the number of dropped publishes.
func (p *Publisher) Failed() int64 {
	return p.failed.Load()
}
