package agent

import (
	"bytes"
	"context"
	"sync/atomic"
	"time"

	"github.com/nerrad567/shadow-agent/internal/alert"
	"github.com/nerrad567/shadow-agent/internal/geocode"
	"github.com/nerrad567/shadow-agent/internal/journal"
	"github.com/nerrad567/shadow-agent/internal/shadow"
	"github.com/nerrad567/shadow-agent/internal/state"
	"github.com/nerrad567/shadow-agent/internal/telemetry"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultTickInterval = time.Second
	DefaultInboxSize    = 64

	// journalTimeout bounds a single journal write on the loop.
	journalTimeout = 2 * time.Second
)

// WebSocket channels events are broadcast on.
const (
	ChannelTelemetry = "telemetry"
	ChannelAlert     = "alert"
	ChannelActuator  = "actuator"
)

// InboundFragment is one raw MQTT payload awaiting assembly.
type InboundFragment struct {
	Topic   string
	Payload []byte
}

// Logger defines the logging interface used by the agent.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// WSHub is the interface for broadcasting WebSocket events.
type WSHub interface {
	Broadcast(channel string, payload any)
}

// AlertHistory records alert window transitions. Satisfied by *influxdb.Client.
type AlertHistory interface {
	WriteAlertWindow(message string, active bool)
}

// Config holds loop settings.
type Config struct {
	// TickInterval is the control-loop period.
	TickInterval time.Duration

	// InboxSize is the buffer of the fragment channel.
	InboxSize int

	// PumpBeforeQuery drains pending fragments before answering a query.
	PumpBeforeQuery bool

	// PositionTopic carries position fixes. Fixes are whole JSON messages and
	// bypass the assembler.
	PositionTopic string

	// ActuatorKey and SpeedScale configure the shadow parser.
	ActuatorKey string
	SpeedScale  float64

	// MaxDocumentBytes caps one assembly buffer.
	MaxDocumentBytes int
}

// Deps are the collaborators the loop drives. Actuator and Publisher are
// required; the rest may be nil.
type Deps struct {
	Actuator  *alert.Actuator
	Publisher *telemetry.Publisher

	// Resolver resolves addresses synchronously on the loop. Nil uses
	// geocode.CoordinateResolver.
	Resolver geocode.AddressResolver

	// Async, when set, replaces synchronous resolution.
	Async *geocode.AsyncResolver

	Journal journal.Repository
	Hub     WSHub
	History AlertHistory
	Logger  Logger

	// Clock returns the current time. Nil uses time.Now.
	Clock func() time.Time
}

// Stats is a snapshot of loop counters.
type Stats struct {
	Fragments          int64 `json:"fragments"`
	Documents          int64 `json:"documents"`
	Malformed          int64 `json:"malformed"`
	Overflows          int64 `json:"overflows"`
	StrayDiscards      int64 `json:"stray_discards"`
	PartialAlerts      int64 `json:"partial_alerts"`
	ParseWarnings      int64 `json:"parse_warnings"`
	AlertsReceived     int64 `json:"alerts_received"`
	AlertsTriggered    int64 `json:"alerts_triggered"`
	PositionFixes      int64 `json:"position_fixes"`
	AddressLookups     int64 `json:"address_lookups"`
	TelemetryPublished int64 `json:"telemetry_published"`
	TelemetryFailed    int64 `json:"telemetry_failed"`
	Queries            int64 `json:"queries"`
	Cycles             int64 `json:"cycles"`
}

type counters struct {
	fragments      atomic.Int64
	documents      atomic.Int64
	malformed      atomic.Int64
	overflows      atomic.Int64
	strayDiscards  atomic.Int64
	partialAlerts  atomic.Int64
	parseWarnings  atomic.Int64
	alertsReceived atomic.Int64
	positionFixes  atomic.Int64
	addressLookups atomic.Int64
	queries        atomic.Int64
	cycles         atomic.Int64
}

// Agent is the control loop.
//
// Thread Safety: Deliver, QueryState, QueryAlert, Snapshot and Stats are
// safe for concurrent use. Step and Run must be called from one goroutine.
type Agent struct {
	cfg Config

	store     *state.Store
	assembler *shadow.Assembler
	parser    *shadow.Parser
	actuator  *alert.Actuator
	publisher *telemetry.Publisher
	resolver  geocode.AddressResolver
	async     *geocode.AsyncResolver
	journal   journal.Repository
	hub       WSHub
	history   AlertHistory
	logger    Logger
	now       func() time.Time

	inbox   chan InboundFragment
	queries chan queryRequest
	running atomic.Bool

	stats counters
}

// New creates an Agent with an empty state store.
func New(cfg Config, deps Deps) *Agent {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	resolver := deps.Resolver
	if resolver == nil {
		resolver = geocode.CoordinateResolver{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Agent{
		cfg:       cfg,
		store:     state.NewStore(),
		assembler: shadow.NewAssembler(cfg.MaxDocumentBytes),
		parser:    shadow.NewParser(cfg.ActuatorKey, cfg.SpeedScale),
		actuator:  deps.Actuator,
		publisher: deps.Publisher,
		resolver:  resolver,
		async:     deps.Async,
		journal:   deps.Journal,
		hub:       deps.Hub,
		history:   deps.History,
		logger:    logger,
		now:       clock,
		inbox:     make(chan InboundFragment, cfg.InboxSize),
		queries:   make(chan queryRequest),
	}
}

// Deliver hands an inbound fragment to the loop. It blocks until the inbox
// accepts the fragment or ctx is done. Safe to call from MQTT callbacks.
func (a *Agent) Deliver(ctx context.Context, topic string, payload []byte) error {
	frag := InboundFragment{Topic: topic, Payload: bytes.Clone(payload)}
	select {
	case a.inbox <- frag:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of fragments waiting in the inbox.
func (a *Agent) Pending() int {
	return len(a.inbox)
}

// Running reports whether Run is active.
func (a *Agent) Running() bool {
	return a.running.Load()
}

// Stats returns a snapshot of the loop counters.
func (a *Agent) Stats() Stats {
	s := Stats{
		Fragments:       a.stats.fragments.Load(),
		Documents:       a.stats.documents.Load(),
		Malformed:       a.stats.malformed.Load(),
		Overflows:       a.stats.overflows.Load(),
		StrayDiscards:   a.stats.strayDiscards.Load(),
		PartialAlerts:   a.stats.partialAlerts.Load(),
		ParseWarnings:   a.stats.parseWarnings.Load(),
		AlertsReceived:  a.stats.alertsReceived.Load(),
		AlertsTriggered: a.actuator.Triggered(),
		PositionFixes:   a.stats.positionFixes.Load(),
		AddressLookups:  a.stats.addressLookups.Load(),
		Queries:         a.stats.queries.Load(),
		Cycles:          a.stats.cycles.Load(),
	}
	if a.publisher != nil {
		s.TelemetryPublished = a.publisher.Published()
		s.TelemetryFailed = a.publisher.Failed()
	}
	return s
}

// AlertActive reports whether the alert window is open.
func (a *Agent) AlertActive() bool {
	return a.actuator.Active()
}
