// Package migrations embeds the SQL migration files for each storage backend
// so that the binary carries its own schema management.
package migrations

import "embed"

// FS holds one directory of golang-migrate files per backend: "sqlite" and
// "postgres".
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
