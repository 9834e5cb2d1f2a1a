// Package migrations holds the embedded SQL schema migrations.
package migrations

import "embed"

// Files contains all .sql files in this directory (order matters: 001, 002, ...).
//go:embed *.sql
var Files embed.FS
