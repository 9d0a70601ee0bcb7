package agent

import (
	"context"

	"github.com/nerrad567/shadow-agent/internal/query"
	"github.com/nerrad567/shadow-agent/internal/state"
)

type queryRequest struct {
	reply chan state.Snapshot
}

// Snapshot asks the loop for a copy of the current state. It blocks until
// the loop answers or ctx is done. When PumpBeforeQuery is set, fragments
// already in the inbox are processed first.
func (a *Agent) Snapshot(ctx context.Context) (state.Snapshot, error) {
	req := queryRequest{reply: make(chan state.Snapshot, 1)}

	select {
	case a.queries <- req:
	case <-ctx.Done():
		return state.Snapshot{}, ctx.Err()
	}

	select {
	case snap := <-req.reply:
		return snap, nil
	case <-ctx.Done():
		return state.Snapshot{}, ctx.Err()
	}
}

// QueryState returns the position/speed view.
func (a *Agent) QueryState(ctx context.Context) (query.StateResponse, error) {
	snap, err := a.Snapshot(ctx)
	if err != nil {
		return query.StateResponse{}, err
	}
	return query.StateView(snap), nil
}

// QueryAlert returns the alert view.
func (a *Agent) QueryAlert(ctx context.Context) (query.AlertResponse, error) {
	snap, err := a.Snapshot(ctx)
	if err != nil {
		return query.AlertResponse{}, err
	}
	return query.AlertView(snap), nil
}

// serveQueries answers every query already waiting.
func (a *Agent) serveQueries(ctx context.Context) {
	for {
		select {
		case req := <-a.queries:
			a.answer(ctx, req)
		default:
			return
		}
	}
}

func (a *Agent) answer(ctx context.Context, req queryRequest) {
	a.stats.queries.Add(1)
	if a.cfg.PumpBeforeQuery {
		a.pump(ctx)
	}
	req.reply <- a.store.Snapshot()
}
