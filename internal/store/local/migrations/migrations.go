// Package migrations embeds the goose migration scripts for the on-device
// database. The schema history is additive only: a new index or collection
// never rewrites existing rows, so opening an older database upgrades it in
// place.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
