// Package migrations embeds the goose SQL migrations so the binary can
// apply them regardless of its working directory.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
