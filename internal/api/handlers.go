package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/shadow-agent/internal/journal"
	"github.com/nerrad567/shadow-agent/internal/query"
)

// queryTimeout bounds one round trip to the control loop.
const queryTimeout = 3 * time.Second

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	code := http.StatusOK
	if !s.agent.Running() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	body := map[string]any{
		"status":  status,
		"version": s.version,
		"thing":   s.thing,
		"loop":    s.agent.Running(),
	}
	if s.mqtt != nil {
		body["mqtt"] = s.mqtt.IsConnected()
	}
	writeJSON(w, code, body)
}

// handleGPSData serves the position/speed view at its historical path.
func (s *Server) handleGPSData(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, ok := s.loopContext(w, r)
	if !ok {
		return
	}
	defer cancel()

	resp, err := s.agent.QueryState(ctx)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAlerts serves the alert view at its historical path.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, ok := s.loopContext(w, r)
	if !ok {
		return
	}
	defer cancel()

	resp, err := s.agent.QueryAlert(ctx)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleState returns the full device view.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, ok := s.loopContext(w, r)
	if !ok {
		return
	}
	defer cancel()

	snap, err := s.agent.Snapshot(ctx)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, query.DetailView(snap, s.agent.AlertActive()))
}

// handleAlert is the versioned alias of /alerts with the output level added.
func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	ctx, cancel, ok := s.loopContext(w, r)
	if !ok {
		return
	}
	defer cancel()

	resp, err := s.agent.QueryAlert(ctx)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alert":       resp.Alert,
		"description": resp.Description,
		"active":      s.agent.AlertActive(),
	})
}

// handleAlertHistory returns journaled alert events, newest first.
//
// Query parameters:
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "journal is disabled")
		return
	}
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}

	list, err := s.journal.ListAlerts(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing alert history", "error", err)
		writeInternalError(w, "failed to list alert history")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleCommandHistory returns journaled actuator commands, newest first.
func (s *Server) handleCommandHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "journal is disabled")
		return
	}
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}

	list, err := s.journal.ListCommands(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing command history", "error", err)
		writeInternalError(w, "failed to list command history")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// loopContext checks the control loop is running and derives a bounded
// context for the query round trip. It writes the error response itself.
func (s *Server) loopContext(w http.ResponseWriter, r *http.Request) (context.Context, context.CancelFunc, bool) {
	if !s.agent.Running() {
		writeUnavailable(w, "control loop is not running")
		return nil, nil, false
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	return ctx, cancel, true
}

func (s *Server) writeQueryError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		writeTimeout(w, "control loop did not answer in time")
		return
	}
	s.logger.Warn("state query failed", "error", err)
	writeUnavailable(w, "state query failed")
}

// parseFilter reads limit/offset. Bounds are applied by the journal.
func parseFilter(w http.ResponseWriter, r *http.Request) (journal.Filter, bool) {
	var f journal.Filter
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return f, false
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return f, false
		}
		f.Offset = n
	}
	return f, true
}
