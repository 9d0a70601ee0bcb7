package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the agent.
const (
	measurementTelemetry = "telemetry"
	measurementAlert     = "alert_window"
)

// WriteTelemetry records one published telemetry record. Sentinel addresses
// are written as-is so gaps in resolution stay visible.
func (c *Client) WriteTelemetry(address string, speed float64, status string) {
	c.write(telemetryPoint(c.thing, address, speed, status, time.Now()))
}

// WriteAlertWindow records an alert window opening (active=true, with the
// triggering message) or closing.
func (c *Client) WriteAlertWindow(message string, active bool) {
	c.write(alertPoint(c.thing, message, active, time.Now()))
}

// write queues p unless the client is closed.
func (c *Client) write(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
	c.queued.Add(1)
}

func telemetryPoint(thing, address string, speed float64, status string, at time.Time) *write.Point {
	return write.NewPointWithMeasurement(measurementTelemetry).
		AddTag("thing", thing).
		AddField("speed", speed).
		AddField("status", status).
		AddField("address", address).
		SetTime(at)
}

func alertPoint(thing, message string, active bool, at time.Time) *write.Point {
	p := write.NewPointWithMeasurement(measurementAlert).
		AddTag("thing", thing).
		AddField("active", active).
		SetTime(at)
	if message != "" {
		p.AddField("message", message)
	}
	return p
}
