package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/shadow-agent/internal/agent"
	"github.com/nerrad567/shadow-agent/internal/gpsbridge"
	"github.com/nerrad567/shadow-agent/internal/infrastructure/influxdb"
	"github.com/nerrad567/shadow-agent/internal/infrastructure/mqtt"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	Thing         string           `json:"thing"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	Agent         AgentMetrics     `json:"agent"`
	WebSocket     WSMetrics        `json:"websocket"`
	MQTT          *mqtt.Stats      `json:"mqtt,omitempty"`
	GPSBridge     *gpsbridge.Stats `json:"gps_bridge,omitempty"`
	History       *influxdb.Stats  `json:"history,omitempty"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// AgentMetrics contains control loop counters.
type AgentMetrics struct {
	Running     bool        `json:"running"`
	Pending     int         `json:"pending"`
	AlertActive bool        `json:"alert_active"`
	Counters    agent.Stats `json:"counters"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int   `json:"connected_clients"`
	PendingTickets   int   `json:"pending_tickets"`
	EventsDelivered  int64 `json:"events_delivered"`
	EventsDropped    int64 `json:"events_dropped"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns runtime, agent and connection metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		Thing:         s.thing,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Agent: AgentMetrics{
			Running:     s.agent.Running(),
			Pending:     s.agent.Pending(),
			AlertActive: s.agent.AlertActive(),
			Counters:    s.agent.Stats(),
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			PendingTickets:   s.tickets.len(),
			EventsDelivered:  s.hub.Delivered(),
			EventsDropped:    s.hub.Dropped(),
		},
	}

	if s.mqtt != nil {
		st := s.mqtt.Stats()
		metrics.MQTT = &st
	}

	if s.bridge != nil {
		st := s.bridge.Stats()
		metrics.GPSBridge = &st
	}

	if s.history != nil {
		st := s.history.Stats()
		metrics.History = &st
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
