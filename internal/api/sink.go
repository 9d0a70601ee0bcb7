package api

import (
	"github.com/nerrad567/shadow-agent/internal/agent"
	"github.com/nerrad567/shadow-agent/internal/telemetry"
)

// HubSink forwards published telemetry records to WebSocket clients
// subscribed to the telemetry channel. It satisfies telemetry.Sink.
type HubSink struct {
	hub *Hub
}

// NewHubSink wraps hub as a telemetry sink.
func NewHubSink(hub *Hub) *HubSink {
	return &HubSink{hub: hub}
}

// WriteTelemetry broadcasts one record. Slow clients drop messages.
func (s *HubSink) WriteTelemetry(address string, speed float64, status string) {
	s.hub.Broadcast(agent.ChannelTelemetry, telemetry.Record{
		Address: address,
		Speed:   speed,
		Status:  status,
	})
}
