// Package migrations embeds the SQL schema for zhchat.db.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
