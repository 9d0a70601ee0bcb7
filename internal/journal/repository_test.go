package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/shadow-agent/internal/infrastructure/config"
	"github.com/nerrad567/shadow-agent/internal/infrastructure/database"
	"github.com/nerrad567/shadow-agent/internal/shadow"
	"github.com/nerrad567/shadow-agent/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Enabled:     true,
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	require.NoError(t, db.Migrate(context.Background(), migrations.FS))
	return NewSQLiteRepository(db.DB)
}

func TestRecordAndListAlerts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, msg := range []string{"first", "second", "third"} {
		require.NoError(t, repo.RecordAlert(ctx, &AlertEntry{
			Message:     msg,
			Description: "d",
			Triggered:   i == 1,
			CreatedAt:   base.Add(time.Duration(i) * time.Millisecond),
		}))
	}

	list, err := repo.ListAlerts(ctx, Filter{})
	require.NoError(t, err)

	assert.Equal(t, 3, list.Total)
	assert.Equal(t, DefaultLimit, list.Limit)
	require.Len(t, list.Alerts, 3)
	assert.Equal(t, "third", list.Alerts[0].Message)
	assert.Equal(t, "first", list.Alerts[2].Message)
	assert.True(t, list.Alerts[1].Triggered)
	assert.False(t, list.Alerts[0].Triggered)
	assert.True(t, list.Alerts[2].CreatedAt.Equal(base))
}

func TestRecordAlert_GeneratesIDAndTime(t *testing.T) {
	repo := newTestRepo(t)

	entry := &AlertEntry{Message: "m", Description: "d"}
	require.NoError(t, repo.RecordAlert(context.Background(), entry))

	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestListAlerts_Paging(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Now()

	for i := range 5 {
		require.NoError(t, repo.RecordAlert(ctx, &AlertEntry{Message: "m", CreatedAt: base.Add(time.Duration(i) * time.Second)}))
	}

	list, err := repo.ListAlerts(ctx, Filter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, list.Total)
	assert.Len(t, list.Alerts, 2)
	assert.Equal(t, 1, list.Offset)

	list, err = repo.ListAlerts(ctx, Filter{Limit: 1000, Offset: -4})
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, list.Limit)
	assert.Zero(t, list.Offset)
}

func TestListAlerts_Empty(t *testing.T) {
	list, err := newTestRepo(t).ListAlerts(context.Background(), Filter{})
	require.NoError(t, err)
	assert.NotNil(t, list.Alerts)
	assert.Empty(t, list.Alerts)
}

func TestRecordAndListCommands(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, repo.RecordCommand(ctx, &CommandEntry{Actuator: shadow.ActuatorOn, CreatedAt: base}))
	require.NoError(t, repo.RecordCommand(ctx, &CommandEntry{Actuator: shadow.ActuatorOff, CreatedAt: base.Add(time.Second)}))

	list, err := repo.ListCommands(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, list.Commands, 2)
	assert.Equal(t, shadow.ActuatorOff, list.Commands[0].Actuator)
	assert.Equal(t, shadow.ActuatorOn, list.Commands[1].Actuator)
}

func TestRecordCommand_RejectsUnknownValue(t *testing.T) {
	repo := newTestRepo(t)
	err := repo.RecordCommand(context.Background(), &CommandEntry{Actuator: "BLINK"})
	assert.Error(t, err)
}

func TestPrune(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()
	old := now.Add(-48 * time.Hour)

	require.NoError(t, repo.RecordAlert(ctx, &AlertEntry{Message: "old", CreatedAt: old}))
	require.NoError(t, repo.RecordAlert(ctx, &AlertEntry{Message: "new", CreatedAt: now}))
	require.NoError(t, repo.RecordCommand(ctx, &CommandEntry{Actuator: shadow.ActuatorOn, CreatedAt: old}))

	removed, err := repo.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	alerts, err := repo.ListAlerts(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, alerts.Alerts, 1)
	assert.Equal(t, "new", alerts.Alerts[0].Message)
}

func TestMigrationsRoundTrip(t *testing.T) {
	db, err := database.Open(config.DatabaseConfig{
		Enabled: true,
		Path:    filepath.Join(t.TempDir(), "journal.db"),
	})
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx, migrations.FS))
	require.NoError(t, db.MigrateDown(ctx, migrations.FS))

	_, pending, err := db.MigrationStatus(ctx, migrations.FS)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
