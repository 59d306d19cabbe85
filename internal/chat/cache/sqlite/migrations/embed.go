package migrations

import "embed"

// FS contains embedded SQLite migrations for the message cache.
//
//go:embed *.sql
var FS embed.FS
