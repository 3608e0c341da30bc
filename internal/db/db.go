package db

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// ErrNotFound is wrapped by lookup methods when no row matches, so callers
// can distinguish a missing record from a query failure with errors.Is.
var ErrNotFound = errors.New("not found")

// sqlitePragmas is appended to every DSN so the driver applies the pragmas
// on each pooled connection, not just the first one.
const sqlitePragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)"

// OpenDB opens the database without touching the schema. Most callers want
// NewDB, which also applies migrations.
func OpenDB(path string) (*DB, error) {
	dsn := path
	if !strings.Contains(path, "?") {
		dsn = fmt.Sprintf("file:%s?%s", path, sqlitePragmas)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{db}, nil
}

// NewDB opens the database and applies any pending migrations.
func NewDB(path string) (*DB, error) {
	return NewDBWithMigrationCheck(path, true)
}

// NewDBWithMigrationCheck opens the database and either applies pending
// migrations (autoMigrate true) or refuses to start when the schema is
// behind the latest migration.
func NewDBWithMigrationCheck(path string, autoMigrate bool) (*DB, error) {
	database, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to get migrations filesystem: %w", err)
	}

	if err := database.adoptLegacySchema(migrationsFS); err != nil {
		database.Close()
		return nil, err
	}

	if autoMigrate {
		if err := database.MigrateUp(migrationsFS); err != nil {
			database.Close()
			return nil, err
		}
		return database, nil
	}

	shouldExit, err := database.CheckAndPromptMigrations(migrationsFS)
	if shouldExit {
		database.Close()
		return nil, err
	}

	return database, nil
}

// adoptLegacySchema baselines databases created before migration tracking
// existed. A database with tables but no schema_migrations is compared
// against the known migration points: a perfect match at the latest version
// is baselined silently, anything else requires manual intervention via
// 'plate-report migrate detect'.
func (db *DB) adoptLegacySchema(migrationsFS fs.FS) error {
	var hasMigrations bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_migrations'
	`).Scan(&hasMigrations)
	if err != nil {
		return fmt.Errorf("failed to check schema_migrations table: %w", err)
	}
	if hasMigrations {
		return nil
	}

	schema, err := db.GetDatabaseSchema()
	if err != nil {
		return err
	}
	if len(schema) == 0 {
		// Fresh database, nothing to adopt.
		return nil
	}

	version, matchScore, _, err := db.DetectSchemaVersion(migrationsFS)
	if err != nil {
		return fmt.Errorf("failed to detect schema version: %w", err)
	}

	latest, err := GetLatestMigrationVersion(migrationsFS)
	if err != nil {
		return err
	}

	if matchScore == 100 && version == latest {
		log.Printf("Legacy database matches migration version %d, baselining", version)
		return db.BaselineAtVersion(version)
	}

	return fmt.Errorf("database has no migration history (best schema match: version %d at %d%%). Run 'plate-report migrate detect' to diagnose", version, matchScore)
}
