package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/shadow-agent/internal/agent"
	"github.com/nerrad567/shadow-agent/internal/auth"
	"github.com/nerrad567/shadow-agent/internal/gpsbridge"
	"github.com/nerrad567/shadow-agent/internal/infrastructure/config"
	"github.com/nerrad567/shadow-agent/internal/infrastructure/influxdb"
	"github.com/nerrad567/shadow-agent/internal/infrastructure/logging"
	"github.com/nerrad567/shadow-agent/internal/infrastructure/mqtt"
	"github.com/nerrad567/shadow-agent/internal/journal"
	"github.com/nerrad567/shadow-agent/internal/query"
	"github.com/nerrad567/shadow-agent/internal/shadow"
	"github.com/nerrad567/shadow-agent/internal/state"
)

const testJWTSecret = "test-secret-key-at-least-32-characters-long"

// fakeAgent answers queries from a fixed snapshot.
type fakeAgent struct {
	running bool
	active  bool
	stall   bool
	snap    state.Snapshot
	stats   agent.Stats
}

func (f *fakeAgent) Snapshot(ctx context.Context) (state.Snapshot, error) {
	if f.stall {
		<-ctx.Done()
		return state.Snapshot{}, ctx.Err()
	}
	return f.snap, nil
}

func (f *fakeAgent) QueryState(ctx context.Context) (query.StateResponse, error) {
	snap, err := f.Snapshot(ctx)
	if err != nil {
		return query.StateResponse{}, err
	}
	return query.StateView(snap), nil
}

func (f *fakeAgent) QueryAlert(ctx context.Context) (query.AlertResponse, error) {
	snap, err := f.Snapshot(ctx)
	if err != nil {
		return query.AlertResponse{}, err
	}
	return query.AlertView(snap), nil
}

func (f *fakeAgent) Stats() agent.Stats { return f.stats }
func (f *fakeAgent) AlertActive() bool  { return f.active }
func (f *fakeAgent) Running() bool      { return f.running }
func (f *fakeAgent) Pending() int       { return 0 }

// fakeJournal records the last filter it was asked for.
type fakeJournal struct {
	lastFilter journal.Filter
	alerts     []journal.AlertEntry
}

func (j *fakeJournal) RecordAlert(context.Context, *journal.AlertEntry) error     { return nil }
func (j *fakeJournal) RecordCommand(context.Context, *journal.CommandEntry) error { return nil }
func (j *fakeJournal) Prune(context.Context, time.Time) (int64, error)            { return 0, nil }

func (j *fakeJournal) ListAlerts(_ context.Context, f journal.Filter) (*journal.AlertList, error) {
	j.lastFilter = f
	return &journal.AlertList{Alerts: j.alerts, Total: len(j.alerts), Limit: f.Limit, Offset: f.Offset}, nil
}

func (j *fakeJournal) ListCommands(_ context.Context, f journal.Filter) (*journal.CommandList, error) {
	j.lastFilter = f
	return &journal.CommandList{Commands: []journal.CommandEntry{}, Limit: f.Limit, Offset: f.Offset}, nil
}

type fakeBroker struct{ connected bool }

func (b fakeBroker) IsConnected() bool { return b.connected }

func (b fakeBroker) Stats() mqtt.Stats {
	return mqtt.Stats{Connected: b.connected, Subscriptions: []string{"alerts"}, Received: 3}
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

// testServer builds a Server around fake dependencies. secret may be empty.
func testServer(t *testing.T, fa *fakeAgent, j journal.Repository, secret string) *Server {
	t.Helper()

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: secret, AccessTokenTTL: 15},
		},
		Logger:  testLogger(),
		Agent:   fa,
		Journal: j,
		MQTT:    fakeBroker{connected: true},
		Thing:   "TEST_THING",
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

func doRequest(t *testing.T, h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Agent: &fakeAgent{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without agent should fail")
	}
}

func TestGPSData_NoFix(t *testing.T) {
	srv := testServer(t, &fakeAgent{running: true}, nil, "")

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/gps-data", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	got := decode[map[string]any](t, rec)
	if got["address"] != query.SentinelNoFix {
		t.Errorf("address = %v, want %q", got["address"], query.SentinelNoFix)
	}
	for _, k := range []string{"latitude", "longitude", "aws_speed"} {
		if got[k] != float64(0) {
			t.Errorf("%s = %v, want 0", k, got[k])
		}
	}
}

func TestGPSData_WithFix(t *testing.T) {
	fa := &fakeAgent{running: true, snap: state.Snapshot{
		Speed:   42,
		Address: "1 Harbour Road",
		Fix:     state.Fix{Latitude: 51.5, Longitude: -0.12, Valid: true},
	}}
	srv := testServer(t, fa, nil, "")

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/gps-data", "")
	got := decode[query.StateResponse](t, rec)

	want := query.StateResponse{Latitude: 51.5, Longitude: -0.12, Address: "1 Harbour Road", Speed: 42}
	if got != want {
		t.Errorf("response = %+v, want %+v", got, want)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestAlerts(t *testing.T) {
	tests := []struct {
		name string
		snap state.Snapshot
		want query.AlertResponse
	}{
		{
			name: "idle placeholder",
			want: query.AlertResponse{Alert: query.IdleAlert},
		},
		{
			name: "latest alert",
			snap: state.Snapshot{Alert: &shadow.AlertEvent{Message: "hazard ahead", Description: "debris"}},
			want: query.AlertResponse{Alert: "hazard ahead", Description: "debris"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, &fakeAgent{running: true, snap: tt.snap}, nil, "")
			rec := doRequest(t, srv.Handler(), http.MethodGet, "/alerts", "")
			if got := decode[query.AlertResponse](t, rec); got != tt.want {
				t.Errorf("response = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestStateDetail(t *testing.T) {
	fa := &fakeAgent{running: true, active: true, snap: state.Snapshot{
		Status:   "parked",
		Actuator: shadow.ActuatorOn,
	}}
	srv := testServer(t, fa, nil, "")

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/state", "")
	got := decode[query.DetailResponse](t, rec)
	if got.Status != "parked" || got.Actuator != "ON" || !got.AlertActive {
		t.Errorf("detail = %+v", got)
	}
	if got.Address != query.SentinelNoFix {
		t.Errorf("address = %q, want %q", got.Address, query.SentinelNoFix)
	}
}

func TestAlertVersioned(t *testing.T) {
	srv := testServer(t, &fakeAgent{running: true, active: true}, nil, "")

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/alert", "")
	got := decode[map[string]any](t, rec)
	if got["active"] != true {
		t.Errorf("active = %v, want true", got["active"])
	}
	if got["alert"] != query.IdleAlert {
		t.Errorf("alert = %v, want %q", got["alert"], query.IdleAlert)
	}
}

func TestQuery_LoopNotRunning(t *testing.T) {
	srv := testServer(t, &fakeAgent{running: false}, nil, "")

	for _, path := range []string{"/gps-data", "/alerts", "/api/v1/state", "/api/v1/alert"} {
		rec := doRequest(t, srv.Handler(), http.MethodGet, path, "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, rec.Code)
		}
	}
}

func TestQuery_LoopStalled(t *testing.T) {
	srv := testServer(t, &fakeAgent{running: true, stall: true}, nil, "")

	req := httptest.NewRequest(http.MethodGet, "/gps-data", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 50*time.Millisecond)
	defer cancel()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req.WithContext(ctx))

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(t, &fakeAgent{running: true}, nil, testJWTSecret)

	// Health is public even with auth enabled.
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decode[map[string]any](t, rec)
	if got["status"] != "ok" || got["thing"] != "TEST_THING" || got["mqtt"] != true {
		t.Errorf("health = %v", got)
	}

	srv = testServer(t, &fakeAgent{running: false}, nil, "")
	rec = doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("stopped loop status = %d, want 503", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	fa := &fakeAgent{running: true, stats: agent.Stats{Documents: 7, AlertsTriggered: 2}}
	srv := testServer(t, fa, nil, "")

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decode[SystemMetrics](t, rec)
	if got.Agent.Counters.Documents != 7 || got.Agent.Counters.AlertsTriggered != 2 {
		t.Errorf("counters = %+v", got.Agent.Counters)
	}
	if got.MQTT == nil || !got.MQTT.Connected {
		t.Errorf("mqtt = %+v, want connected", got.MQTT)
	}
	if got.Database != nil {
		t.Errorf("database = %+v, want nil without db", got.Database)
	}
	if got.Runtime.Goroutines == 0 {
		t.Error("goroutines should be non-zero")
	}
}

func TestAlertHistory(t *testing.T) {
	j := &fakeJournal{alerts: []journal.AlertEntry{{ID: "alr-1", Message: "hazard ahead", Triggered: true}}}
	srv := testServer(t, &fakeAgent{running: true}, j, "")

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/alerts/history?limit=10&offset=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if j.lastFilter.Limit != 10 || j.lastFilter.Offset != 5 {
		t.Errorf("filter = %+v, want limit 10 offset 5", j.lastFilter)
	}
	got := decode[journal.AlertList](t, rec)
	if len(got.Alerts) != 1 || got.Alerts[0].ID != "alr-1" {
		t.Errorf("alerts = %+v", got.Alerts)
	}
}

func TestHistory_BadParams(t *testing.T) {
	srv := testServer(t, &fakeAgent{running: true}, &fakeJournal{}, "")

	for _, path := range []string{
		"/api/v1/alerts/history?limit=abc",
		"/api/v1/commands/history?offset=-1",
	} {
		rec := doRequest(t, srv.Handler(), http.MethodGet, path, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", path, rec.Code)
		}
	}
}

func TestHistory_JournalDisabled(t *testing.T) {
	srv := testServer(t, &fakeAgent{running: true}, nil, "")

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/commands/history", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	j := &fakeJournal{}
	srv := testServer(t, &fakeAgent{running: true}, j, testJWTSecret)
	h := srv.Handler()

	viewer, err := auth.GenerateToken("dashboard", auth.RoleViewer, "", testJWTSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	operator, err := auth.GenerateToken("fleet", auth.RoleOperator, "", testJWTSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	forged, err := auth.GenerateToken("fleet", auth.RoleOperator, "", "another-secret-that-is-long-enough!", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"no token", "/gps-data", "", http.StatusUnauthorized},
		{"forged token", "/gps-data", forged, http.StatusUnauthorized},
		{"viewer reads state", "/gps-data", viewer, http.StatusOK},
		{"viewer reads metrics", "/api/v1/metrics", viewer, http.StatusOK},
		{"viewer denied history", "/api/v1/alerts/history", viewer, http.StatusForbidden},
		{"operator reads history", "/api/v1/alerts/history", operator, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodGet, tt.path, tt.token)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestMiddleware_RequestID(t *testing.T) {
	srv := testServer(t, &fakeAgent{running: true}, nil, "")

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/health", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID should be generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestMiddleware_CORS(t *testing.T) {
	srv := testServer(t, &fakeAgent{running: true}, nil, "")
	srv.cfg.CORS.AllowedOrigins = []string{"https://fleet.example"}

	req := httptest.NewRequest(http.MethodOptions, "/gps-data", nil)
	req.Header.Set("Origin", "https://fleet.example")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://fleet.example" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want empty for disallowed origin", got)
	}
}

func TestMiddleware_Recovery(t *testing.T) {
	srv := testServer(t, &fakeAgent{running: true}, nil, "")
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := doRequest(t, h, http.MethodGet, "/", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), ErrCodeInternal) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestStartClose(t *testing.T) {
	srv := testServer(t, &fakeAgent{running: true}, nil, "")

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck before Start should fail")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck after Start: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

type fakeBridge struct{}

func (fakeBridge) Stats() gpsbridge.Stats {
	return gpsbridge.Stats{Status: gpsbridge.StatusRunning, PID: 42, Lines: 9}
}

func TestMetrics_GPSBridge(t *testing.T) {
	srv := testServer(t, &fakeAgent{running: true}, nil, "")
	srv.bridge = fakeBridge{}

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/metrics", "")
	got := decode[SystemMetrics](t, rec)
	if got.GPSBridge == nil || got.GPSBridge.Lines != 9 || got.GPSBridge.Status != gpsbridge.StatusRunning {
		t.Errorf("gps_bridge = %+v", got.GPSBridge)
	}
}

type fakeHistory struct{}

func (fakeHistory) Stats() influxdb.Stats {
	return influxdb.Stats{Connected: true, Bucket: "telemetry", Queued: 12, Failures: 1}
}

func TestMetrics_History(t *testing.T) {
	srv := testServer(t, &fakeAgent{running: true}, nil, "")

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/metrics", "")
	if got := decode[SystemMetrics](t, rec); got.History != nil {
		t.Errorf("history = %+v, want omitted without a history writer", got.History)
	}

	srv.history = fakeHistory{}
	rec = doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/metrics", "")
	got := decode[SystemMetrics](t, rec)
	if got.History == nil || got.History.Queued != 12 || got.History.Failures != 1 {
		t.Errorf("history = %+v", got.History)
	}
}
