package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/shadow-agent/internal/geocode"
	"github.com/nerrad567/shadow-agent/internal/journal"
	"github.com/nerrad567/shadow-agent/internal/shadow"
	"github.com/nerrad567/shadow-agent/internal/state"
)

// Run drives Step on every tick until ctx is cancelled. Queries arriving
// between ticks are answered immediately. On return the alert output is
// released.
func (a *Agent) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer a.running.Store(false)
	defer a.actuator.Release()

	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()

	var results <-chan geocode.Result
	if a.async != nil {
		results = a.async.Results()
	}

	a.logger.Info("control loop started", "tick", a.cfg.TickInterval, "async_geocode", a.async != nil)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("control loop stopped")
			return nil

		case <-ticker.C:
			a.Step(ctx)

		case req := <-a.queries:
			a.answer(ctx, req)

		case res := <-results:
			a.applyAddress(res.Address)
		}
	}
}

// Step runs one control cycle.
func (a *Agent) Step(ctx context.Context) {
	a.stats.cycles.Add(1)

	a.pump(ctx)

	if a.actuator.Check(a.now()) {
		a.onWindowClosed()
	}

	a.resolveAddress(ctx)

	a.publisher.Publish(a.store.Snapshot())

	a.serveQueries(ctx)
}

// pump processes every fragment currently in the inbox.
func (a *Agent) pump(ctx context.Context) {
	for {
		select {
		case frag := <-a.inbox:
			a.handleFragment(ctx, frag)
		default:
			return
		}
	}
}

func (a *Agent) handleFragment(ctx context.Context, frag InboundFragment) {
	a.stats.fragments.Add(1)

	if a.cfg.PositionTopic != "" && frag.Topic == a.cfg.PositionTopic {
		if err := a.handlePosition(frag.Payload); err != nil {
			a.logger.Warn("position fix dropped", "error", err)
		}
		return
	}

	doc, complete, err := a.assembler.Append(frag.Topic, frag.Payload)
	if err != nil {
		if errors.Is(err, shadow.ErrStrayData) {
			a.stats.strayDiscards.Add(1)
		} else {
			a.stats.overflows.Add(1)
		}
		a.logger.Warn("assembly buffer discarded", "topic", frag.Topic, "error", err)
		return
	}
	if !complete {
		return
	}

	a.handleDocument(ctx, frag.Topic, doc)
}

func (a *Agent) handleDocument(ctx context.Context, topic string, doc []byte) {
	a.stats.documents.Add(1)

	res, err := a.parser.Parse(doc)
	if err != nil {
		a.stats.malformed.Add(1)
		a.logger.Warn("shadow document discarded", "topic", topic, "error", err, "bytes", len(doc))
		return
	}

	for _, w := range res.Warnings {
		a.stats.parseWarnings.Add(1)
		if w.Code == shadow.WarnPartialAlert {
			a.stats.partialAlerts.Add(1)
		}
		a.logger.Warn("shadow document warning", "topic", topic, "code", w.Code, "message", w.Message)
	}

	a.store.Apply(res.Delta)

	if res.Delta.Alert != nil {
		a.onAlert(ctx, *res.Delta.Alert)
	}
	if res.Delta.Actuator != nil {
		a.onActuator(ctx, *res.Delta.Actuator)
	}
	if res.PublishRequested {
		if err := a.publisher.PublishShadowReport(a.store.Snapshot()); err != nil {
			a.logger.Warn("shadow report dropped", "error", err)
		}
	}
}

func (a *Agent) onAlert(ctx context.Context, ev shadow.AlertEvent) {
	a.stats.alertsReceived.Add(1)

	triggered := a.actuator.Trigger(ev, a.now())
	if triggered && a.history != nil {
		a.history.WriteAlertWindow(ev.Message, true)
	}

	if a.journal != nil {
		jctx, cancel := context.WithTimeout(ctx, journalTimeout)
		err := a.journal.RecordAlert(jctx, &journal.AlertEntry{
			Message:     ev.Message,
			Description: ev.Description,
			Triggered:   triggered,
			CreatedAt:   a.now(),
		})
		cancel()
		if err != nil {
			a.logger.Warn("journal alert write failed", "error", err)
		}
	}

	if a.hub != nil {
		a.hub.Broadcast(ChannelAlert, map[string]any{
			"alert":       ev.Message,
			"description": ev.Description,
			"active":      a.actuator.Active(),
			"triggered":   triggered,
		})
	}
}

func (a *Agent) onWindowClosed() {
	if a.history != nil {
		a.history.WriteAlertWindow("", false)
	}
	if a.hub != nil {
		a.hub.Broadcast(ChannelAlert, map[string]any{"active": false})
	}
}

func (a *Agent) onActuator(ctx context.Context, cmd shadow.ActuatorCommand) {
	if a.journal != nil {
		jctx, cancel := context.WithTimeout(ctx, journalTimeout)
		err := a.journal.RecordCommand(jctx, &journal.CommandEntry{Actuator: cmd, CreatedAt: a.now()})
		cancel()
		if err != nil {
			a.logger.Warn("journal command write failed", "error", err)
		}
	}
	if a.hub != nil {
		a.hub.Broadcast(ChannelActuator, map[string]any{"actuator": string(cmd)})
	}
}

// positionMessage is the wire form of a position fix. Valid defaults to true.
type positionMessage struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Valid     *bool    `json:"valid"`
}

func (a *Agent) handlePosition(payload []byte) error {
	var msg positionMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFix, err)
	}
	if msg.Latitude == nil || msg.Longitude == nil {
		return fmt.Errorf("%w: latitude and longitude are required", ErrInvalidFix)
	}

	fix := state.Fix{Latitude: *msg.Latitude, Longitude: *msg.Longitude, Valid: true}
	if msg.Valid != nil {
		fix.Valid = *msg.Valid
	}

	a.stats.positionFixes.Add(1)
	a.store.SetFix(fix)
	return nil
}

// resolveAddress looks up the address for a fresh fix. Synchronously by
// default, in which case the whole loop waits for the lookup.
func (a *Agent) resolveAddress(ctx context.Context) {
	if a.async != nil {
		a.drainAsyncResults()
	}

	fix, ok := a.store.TakeFreshFix()
	if !ok {
		return
	}
	a.stats.addressLookups.Add(1)

	if a.async != nil {
		a.async.Submit(ctx, fix.Latitude, fix.Longitude)
		return
	}

	a.applyAddress(a.resolver.Resolve(ctx, fix.Latitude, fix.Longitude))
}

func (a *Agent) drainAsyncResults() {
	for {
		select {
		case res := <-a.async.Results():
			a.applyAddress(res.Address)
		default:
			return
		}
	}
}

func (a *Agent) applyAddress(address string) {
	if geocode.IsSentinel(address) {
		a.logger.Warn("address resolution failed", "sentinel", address)
	} else {
		a.logger.Debug("address resolved", "address", address)
	}
	a.store.Apply(shadow.AddressDelta(address))
}
