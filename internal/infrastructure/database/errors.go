package database

import "errors"

var (
	// ErrDisabled indicates the journal database is disabled in config.
	ErrDisabled = errors.New("database: disabled in configuration")

	// ErrNoDownMigration is returned when rolling back a migration that has
	// no .down.sql file.
	ErrNoDownMigration = errors.New("database: migration has no down SQL")
)
