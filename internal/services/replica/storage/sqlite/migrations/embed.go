package migrations

import "embed"

// FS contains embedded SQLite migrations for replica storage.
//
//go:embed *.sql
var FS embed.FS
