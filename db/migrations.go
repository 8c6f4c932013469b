// Package db embeds the SQL migrations so binaries can migrate without the source tree.
package db

import "embed"

// Migrations holds migrations/*.sql in golang-migrate naming
//
//go:embed migrations/*.sql
var Migrations embed.FS
