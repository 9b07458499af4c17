// Package migrations embeds the SQL schema migrations for every supported database driver.
package migrations

import "embed"

//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
