package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/shadow-agent/internal/alert"
	"github.com/nerrad567/shadow-agent/internal/geocode"
	"github.com/nerrad567/shadow-agent/internal/journal"
	"github.com/nerrad567/shadow-agent/internal/query"
	"github.com/nerrad567/shadow-agent/internal/telemetry"
)

const (
	topicShadow   = "$aws/things/T/shadow/update/accepted"
	topicAlerts   = "esp32/alerts"
	topicPosition = "devices/T/position"
	hazard        = "hazard ahead"
)

var testTopics = telemetry.Topics{Telemetry: "esp32/telemetry", ShadowUpdate: "$aws/things/T/shadow/update"}

type published struct {
	topic   string
	payload string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []published
}

func (f *fakeSender) PublishDefault(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, published{topic: topic, payload: string(payload)})
	return nil
}

func (f *fakeSender) on(topic string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.sent {
		if p.topic == topic {
			out = append(out, p.payload)
		}
	}
	return out
}

type fakeSignal struct {
	mu    sync.Mutex
	calls []bool
}

func (s *fakeSignal) Set(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, on)
	return nil
}

func (s *fakeSignal) Name() string { return "fake" }

type fakeResolver struct {
	address string
	calls   int
}

func (r *fakeResolver) Resolve(_ context.Context, _, _ float64) string {
	r.calls++
	return r.address
}

type fakeJournal struct {
	alerts   []journal.AlertEntry
	commands []journal.CommandEntry
}

func (j *fakeJournal) RecordAlert(_ context.Context, e *journal.AlertEntry) error {
	j.alerts = append(j.alerts, *e)
	return nil
}

func (j *fakeJournal) RecordCommand(_ context.Context, e *journal.CommandEntry) error {
	j.commands = append(j.commands, *e)
	return nil
}

func (j *fakeJournal) ListAlerts(context.Context, journal.Filter) (*journal.AlertList, error) {
	return &journal.AlertList{}, nil
}

func (j *fakeJournal) ListCommands(context.Context, journal.Filter) (*journal.CommandList, error) {
	return &journal.CommandList{}, nil
}

func (j *fakeJournal) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

type broadcast struct {
	channel string
	payload any
}

type fakeHub struct {
	events []broadcast
}

func (h *fakeHub) Broadcast(channel string, payload any) {
	h.events = append(h.events, broadcast{channel: channel, payload: payload})
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	agent    *Agent
	sender   *fakeSender
	signal   *fakeSignal
	resolver *fakeResolver
	journal  *fakeJournal
	hub      *fakeHub
	clock    *fakeClock
}

func newHarness(t *testing.T, mutate func(*Config, *Deps)) *harness {
	t.Helper()
	h := &harness{
		sender:   &fakeSender{},
		signal:   &fakeSignal{},
		resolver: &fakeResolver{address: "1 Main St"},
		journal:  &fakeJournal{},
		hub:      &fakeHub{},
		clock:    &fakeClock{t: time.Unix(1_700_000_000, 0)},
	}

	cfg := Config{
		TickInterval:    time.Hour,
		PumpBeforeQuery: true,
		PositionTopic:   topicPosition,
		ActuatorKey:     "led",
		SpeedScale:      1,
	}
	deps := Deps{
		Actuator:  alert.NewActuator(hazard, 3000*time.Millisecond, h.signal, nil),
		Publisher: telemetry.NewPublisher(h.sender, testTopics, "led", nil),
		Resolver:  h.resolver,
		Journal:   h.journal,
		Hub:       h.hub,
		Clock:     h.clock.Now,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	h.agent = New(cfg, deps)
	return h
}

func (h *harness) deliver(t *testing.T, topic string, fragments ...string) {
	t.Helper()
	for _, f := range fragments {
		require.NoError(t, h.agent.Deliver(context.Background(), topic, []byte(f)))
	}
}

// runLoop starts Run and stops it when the test ends.
func (h *harness) runLoop(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.agent.Run(ctx) }()
	require.Eventually(t, h.agent.Running, time.Second, time.Millisecond)
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestStep_FragmentedShadowDocument(t *testing.T) {
	h := newHarness(t, nil)

	h.deliver(t, topicShadow, `{"state":{"rep`, `orted":{"speed":12.5,`, `"status":"riding"`, `}}}`)
	h.agent.Step(context.Background())

	snap := h.agent.store.Snapshot()
	assert.Equal(t, 12.5, snap.Speed)
	assert.Equal(t, "riding", snap.Status)

	stats := h.agent.Stats()
	assert.Equal(t, int64(4), stats.Fragments)
	assert.Equal(t, int64(1), stats.Documents)

	// No address yet, so no telemetry.
	assert.Empty(t, h.sender.on(testTopics.Telemetry))
}

func TestStep_ResolvesAndPublishesTelemetry(t *testing.T) {
	h := newHarness(t, nil)

	h.deliver(t, topicShadow, `{"state":{"reported":{"speed":3,"status":"idle"}}}`)
	h.deliver(t, topicPosition, `{"latitude":37.5,"longitude":127.0}`)
	h.agent.Step(context.Background())

	require.Equal(t, 1, h.resolver.calls)
	msgs := h.sender.on(testTopics.Telemetry)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"address":"1 Main St","speed":3,"status":"idle"}`, msgs[0])

	// Telemetry repeats every cycle; the fix is only resolved once.
	h.agent.Step(context.Background())
	assert.Equal(t, 1, h.resolver.calls)
	assert.Len(t, h.sender.on(testTopics.Telemetry), 2)
}

func TestStep_InvalidFixNotResolved(t *testing.T) {
	h := newHarness(t, nil)

	h.deliver(t, topicPosition, `{"latitude":0,"longitude":0,"valid":false}`, `not json`, `{"latitude":1}`)
	h.agent.Step(context.Background())

	assert.Zero(t, h.resolver.calls)
	assert.Equal(t, int64(1), h.agent.Stats().PositionFixes)
}

func TestStep_AlertWindow(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.deliver(t, topicAlerts, `{"alert":"hazard ahead","description":"sharp bend"}`)
	h.agent.Step(ctx)

	assert.True(t, h.agent.AlertActive())
	require.Len(t, h.journal.alerts, 1)
	assert.True(t, h.journal.alerts[0].Triggered)
	require.NotEmpty(t, h.hub.events)
	assert.Equal(t, ChannelAlert, h.hub.events[0].channel)

	// A second hazard one second later does not restart the window.
	h.clock.Advance(1000 * time.Millisecond)
	h.deliver(t, topicAlerts, `{"alert":"hazard ahead","description":"again"}`)
	h.agent.Step(ctx)
	require.Len(t, h.journal.alerts, 2)
	assert.False(t, h.journal.alerts[1].Triggered)

	h.clock.Advance(2000 * time.Millisecond) // t = 3000ms
	h.agent.Step(ctx)
	assert.True(t, h.agent.AlertActive())

	h.clock.Advance(1 * time.Millisecond) // t = 3001ms
	h.agent.Step(ctx)
	assert.False(t, h.agent.AlertActive())
	assert.Equal(t, []bool{true, false}, h.signal.calls)
	assert.Equal(t, int64(1), h.agent.Stats().AlertsTriggered)
}

func TestStep_NonHazardAlertUpdatesTextOnly(t *testing.T) {
	h := newHarness(t, nil)

	h.deliver(t, topicAlerts, `{"alert":"road works","description":"lane closed"}`)
	h.agent.Step(context.Background())

	assert.False(t, h.agent.AlertActive())
	assert.Equal(t, "road works", h.agent.store.Snapshot().Alert.Message)
	assert.Equal(t, int64(1), h.agent.Stats().AlertsReceived)
}

func TestStep_DesiredOnPublishesShadowReport(t *testing.T) {
	h := newHarness(t, nil)

	h.deliver(t, topicShadow, `{"state":{"reported":{"speed":5,"status":"riding"},"desired":{"led":"ON"}}}`)
	h.agent.Step(context.Background())

	reports := h.sender.on(testTopics.ShadowUpdate)
	require.Len(t, reports, 1)
	assert.JSONEq(t, `{"state":{"reported":{"speed":5,"status":"riding","led":"ON"}}}`, reports[0])
	require.Len(t, h.journal.commands, 1)
}

func TestStep_DesiredOffNoReport(t *testing.T) {
	h := newHarness(t, nil)

	h.deliver(t, topicShadow, `{"state":{"desired":{"led":"OFF"}}}`)
	h.agent.Step(context.Background())

	assert.Empty(t, h.sender.on(testTopics.ShadowUpdate))
	require.Len(t, h.journal.commands, 1)
}

func TestStep_MalformedAndPartial(t *testing.T) {
	h := newHarness(t, nil)

	h.deliver(t, topicShadow, `{"status":"a}`)
	h.deliver(t, topicAlerts, `{"alert":"only"}`)
	h.agent.Step(context.Background())

	stats := h.agent.Stats()
	assert.Equal(t, int64(1), stats.Malformed)
	assert.Equal(t, int64(1), stats.PartialAlerts)
	assert.Nil(t, h.agent.store.Snapshot().Alert)
	assert.Empty(t, h.journal.alerts)
}

func TestStep_Overflow(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) { c.MaxDocumentBytes = 8 })

	h.deliver(t, topicShadow, `{"state":{"reported"`)
	h.agent.Step(context.Background())

	assert.Equal(t, int64(1), h.agent.Stats().Overflows)
}

func TestStep_NestedSplitDoesNotStallTopic(t *testing.T) {
	h := newHarness(t, nil)
	doc := `{"state":{"reported":{"speed":3,"status":"parked"}}}`
	cut := len(doc) - 2

	h.deliver(t, topicShadow, doc[:cut])
	h.deliver(t, topicShadow, doc[cut:])
	h.deliver(t, topicShadow, doc)
	h.agent.Step(context.Background())

	stats := h.agent.Stats()
	assert.Equal(t, int64(1), stats.Malformed)
	assert.Equal(t, int64(1), stats.StrayDiscards)
	assert.Zero(t, stats.Overflows)
	assert.Equal(t, "parked", h.agent.store.Snapshot().Status)
}

func TestQuery_SentinelAddress(t *testing.T) {
	offline := geocode.NewResolver(geocode.Options{
		URL:     "http://127.0.0.1:1/geocode",
		Checker: geocode.NetworkCheckerFunc(func() bool { return false }),
	})
	h := newHarness(t, func(_ *Config, d *Deps) { d.Resolver = offline })

	h.deliver(t, topicPosition, `{"latitude":37.5,"longitude":127.0,"valid":true}`)
	h.agent.Step(context.Background())
	h.runLoop(t)

	got, err := h.agent.QueryState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, geocode.SentinelNoNetwork, got.Address)
	assert.Equal(t, 37.5, got.Latitude)
}

func TestQuery_NoFix(t *testing.T) {
	h := newHarness(t, nil)
	h.runLoop(t)

	got, err := h.agent.QueryState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, query.StateResponse{Address: query.SentinelNoFix}, got)
}

func TestQuery_PumpBeforeSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	h.runLoop(t)

	h.deliver(t, topicAlerts, `{"alert":"X","description":"Y"}`)

	got, err := h.agent.QueryAlert(context.Background())
	require.NoError(t, err)
	assert.Equal(t, query.AlertResponse{Alert: "X", Description: "Y"}, got)
}

func TestQuery_NoPumpBeforeSnapshot(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) { c.PumpBeforeQuery = false })
	h.runLoop(t)

	h.deliver(t, topicAlerts, `{"alert":"X","description":"Y"}`)

	got, err := h.agent.QueryAlert(context.Background())
	require.NoError(t, err)
	assert.Equal(t, query.IdleAlert, got.Alert)
	assert.Equal(t, 1, h.agent.Pending())
}

func TestQuery_ContextCancelled(t *testing.T) {
	h := newHarness(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.agent.QueryState(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStep_ServesWaitingQueries(t *testing.T) {
	h := newHarness(t, nil)

	result := make(chan query.AlertResponse, 1)
	go func() {
		resp, _ := h.agent.QueryAlert(context.Background())
		result <- resp
	}()

	// Step answers queries already waiting; retry until the goroutine is queued.
	require.Eventually(t, func() bool {
		h.agent.Step(context.Background())
		return h.agent.Stats().Queries == 1
	}, time.Second, time.Millisecond)

	assert.Equal(t, query.IdleAlert, (<-result).Alert)
}

func TestStep_AsyncResolution(t *testing.T) {
	async := geocode.NewAsyncResolver(&fakeResolver{address: "async street"})
	h := newHarness(t, func(_ *Config, d *Deps) { d.Async = async })
	ctx := context.Background()

	h.deliver(t, topicPosition, `{"latitude":1,"longitude":2}`)
	h.agent.Step(ctx)

	require.Eventually(t, func() bool {
		h.agent.Step(ctx)
		return h.agent.store.Snapshot().Address == "async street"
	}, time.Second, time.Millisecond)

	assert.Zero(t, h.resolver.calls, "synchronous resolver must not be used")
}

func TestRun_AlreadyRunning(t *testing.T) {
	h := newHarness(t, nil)
	h.runLoop(t)

	assert.ErrorIs(t, h.agent.Run(context.Background()), ErrAlreadyRunning)
}

func TestRun_ReleasesAlertOnStop(t *testing.T) {
	h := newHarness(t, nil)
	h.deliver(t, topicAlerts, `{"alert":"hazard ahead","description":"d"}`)
	h.agent.Step(context.Background())
	require.True(t, h.agent.AlertActive())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.agent.Run(ctx) }()
	require.Eventually(t, h.agent.Running, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.False(t, h.agent.AlertActive())
}

func TestDeliver_BlocksUntilContextDone(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) { c.InboxSize = 1 })
	h.deliver(t, topicShadow, `{`)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := h.agent.Deliver(ctx, topicShadow, []byte(`}`))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
