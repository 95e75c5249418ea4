// Package migrations embeds the SQL schema migrations for the archive
// database, consumed by golang-migrate through an iofs source.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
