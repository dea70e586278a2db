// Package dbmigrations exposes embedded SQL migrations for perpgate binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into perpgate binaries.
//
//go:embed *.sql
var Files embed.FS
