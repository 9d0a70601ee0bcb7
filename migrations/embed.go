// Package migrations embeds the journal schema into the binary so the agent
// can migrate its database without SQL files on disk.
package migrations

import "embed"

// FS holds every *.sql migration at its root. Pass it to database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
