package db

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DevMode reads migrations from the source tree instead of the embedded
// copy, so new migrations can be iterated on without rebuilding the binary.
var DevMode = false

// getMigrationsFS returns the filesystem containing the migration files.
func getMigrationsFS() (fs.FS, error) {
	if DevMode {
		dir := "internal/db/migrations"
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("dev mode migrations directory not found: %w", err)
		}
		return os.DirFS(dir), nil
	}

	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	return sub, nil
}
