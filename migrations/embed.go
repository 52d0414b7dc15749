// Package migrations embeds SQL migration files into the binary.
//
// Importing this package for its side effect registers the files with the
// database package, so the service can migrate without SQL on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/espleds-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
