// Package migrations embeds the per-dialect schema migrations applied by the
// SQL-backed stores on startup.
package migrations

import "embed"

// FS holds the migration sources, one directory per dialect.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
