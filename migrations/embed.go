// Package migrations embeds the integrator's SQL schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
