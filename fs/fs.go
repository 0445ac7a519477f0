// Package appfs embeds the static files shipped with the binary.
package appfs

import "embed"

// templates/email/* also picks up the `_base` layouts
//go:embed migrations templates/email/* assets
var FS embed.FS

const (
	MigrationsDir     = "migrations"
	EmailTemplatesDir = "templates/email"
	CommonPasswords   = "assets/common-passwords.txt.gz"
)
