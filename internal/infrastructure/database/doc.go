// Package database provides SQLite connectivity for the agent's event journal.
//
// This package manages:
//   - Database connection with WAL mode
//   - Embedded schema migrations (see the migrations package)
//   - Connection lifecycle and health checks
//
// The database holds an append-only journal of alert events and shadow
// commands. Device state is never persisted or restored from it.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Migrations are additive-only. Each file pair is named
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql.
package database
