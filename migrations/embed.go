// Package migrations embeds the versioned SQL schema so the server and the
// migrate command can apply it without a checkout on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
