// Package migrations holds the schema of each supported SQL dialect
package migrations

import "embed"

// FS contains one directory per database driver: sqlite3/ and postgres/
//
//go:embed sqlite3/*.sql postgres/*.sql
var FS embed.FS
