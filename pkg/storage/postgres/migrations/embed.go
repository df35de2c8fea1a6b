// Package migrations embeds the key-value schema so the CLI can migrate
// without files on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
