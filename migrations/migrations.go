// Package migrations embeds the schema so tools and tests apply the same SQL.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS

// Init is the schema applied by 0001_init.sql.
const Init = "0001_init.sql"
