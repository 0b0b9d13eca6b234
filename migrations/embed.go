// Package migrations holds the SQL files that build the history schema.
// They are compiled into the binary and applied by database.DB.Migrate.
package migrations

import "embed"

// FS contains every migration file at its root.
//
//go:embed *.sql
var FS embed.FS
