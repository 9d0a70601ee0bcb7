// Package journal records alert events and shadow commands in SQLite for
// later inspection through the API.
//
// The journal is an event log, not state persistence: the agent never
// rebuilds device state from it.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/shadow-agent/internal/shadow"
)

// Page size limits for List queries.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// timeFormat keeps created_at lexically sortable at sub-second resolution.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// AlertEntry is one received alert event.
type AlertEntry struct {
	ID          string    `json:"id"`
	Message     string    `json:"alert"`
	Description string    `json:"description"`
	Triggered   bool      `json:"triggered"`
	CreatedAt   time.Time `json:"created_at"`
}

// CommandEntry is one accepted desired actuator command.
type CommandEntry struct {
	ID        string                 `json:"id"`
	Actuator  shadow.ActuatorCommand `json:"actuator"`
	CreatedAt time.Time              `json:"created_at"`
}

// Filter controls paging. Limit defaults to 50 and is capped at 200.
type Filter struct {
	Limit  int
	Offset int
}

func (f Filter) clamp() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// AlertList is a page of alert entries, newest first.
type AlertList struct {
	Alerts []AlertEntry `json:"alerts"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// CommandList is a page of command entries, newest first.
type CommandList struct {
	Commands []CommandEntry `json:"commands"`
	Total    int            `json:"total"`
	Limit    int            `json:"limit"`
	Offset   int            `json:"offset"`
}

// Repository defines the journal operations.
type Repository interface {
	RecordAlert(ctx context.Context, entry *AlertEntry) error
	RecordCommand(ctx context.Context, entry *CommandEntry) error
	ListAlerts(ctx context.Context, filter Filter) (*AlertList, error)
	ListCommands(ctx context.Context, filter Filter) (*CommandList, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository stores the journal in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a journal repository. The schema must already
// be migrated.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordAlert inserts an alert entry. ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) RecordAlert(ctx context.Context, entry *AlertEntry) error {
	if entry.ID == "" {
		entry.ID = "alr-" + uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	triggered := 0
	if entry.Triggered {
		triggered = 1
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO alert_events (id, message, description, triggered, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.Message, entry.Description, triggered,
		entry.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting alert event: %w", err)
	}
	return nil
}

// RecordCommand inserts a command entry. ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) RecordCommand(ctx context.Context, entry *CommandEntry) error {
	if entry.ID == "" {
		entry.ID = "cmd-" + uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO shadow_commands (id, actuator, created_at) VALUES (?, ?, ?)`,
		entry.ID, string(entry.Actuator), entry.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting shadow command: %w", err)
	}
	return nil
}

// ListAlerts returns alert entries, newest first.
func (r *SQLiteRepository) ListAlerts(ctx context.Context, filter Filter) (*AlertList, error) {
	filter = filter.clamp()

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_events").Scan(&total); err != nil {
		return nil, fmt.Errorf("counting alert events: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, message, description, triggered, created_at FROM alert_events
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying alert events: %w", err)
	}
	defer rows.Close()

	alerts := []AlertEntry{}
	for rows.Next() {
		var e AlertEntry
		var triggered int
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Message, &e.Description, &triggered, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning alert event: %w", err)
		}
		e.Triggered = triggered == 1
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alert events: %w", err)
	}

	return &AlertList{Alerts: alerts, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// ListCommands returns command entries, newest first.
func (r *SQLiteRepository) ListCommands(ctx context.Context, filter Filter) (*CommandList, error) {
	filter = filter.clamp()

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM shadow_commands").Scan(&total); err != nil {
		return nil, fmt.Errorf("counting shadow commands: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, actuator, created_at FROM shadow_commands
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying shadow commands: %w", err)
	}
	defer rows.Close()

	commands := []CommandEntry{}
	for rows.Next() {
		var e CommandEntry
		var actuator, createdAt string
		if err := rows.Scan(&e.ID, &actuator, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning shadow command: %w", err)
		}
		e.Actuator = shadow.ActuatorCommand(actuator)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		commands = append(commands, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating shadow commands: %w", err)
	}

	return &CommandList{Commands: commands, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Prune deletes entries older than before from both tables.
//
// Returns the number of rows removed.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UTC().Format(timeFormat)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting prune: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	var removed int64
	for _, table := range []string{"alert_events", "shadow_commands"} {
		res, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE created_at < ?", cutoff) //nolint:gosec // table names are constants
		if err != nil {
			return 0, fmt.Errorf("pruning %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("pruning %s: %w", table, err)
		}
		removed += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}
	return removed, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing journal timestamp %q: %w", s, err)
		}
	}
	return t, nil
}
