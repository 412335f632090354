// Package migrations embeds the relayd SQL schema into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/relay-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
