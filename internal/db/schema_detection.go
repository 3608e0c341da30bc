package db

import (
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
)

// GetDatabaseSchema returns the schema objects in this database keyed by
// name. SQL definitions are whitespace-normalized so formatting differences
// between databases created at different times do not affect comparison.
// Internal bookkeeping objects (sqlite_*, schema_migrations) are excluded.
func (db *DB) GetDatabaseSchema() (map[string]string, error) {
	rows, err := db.Query(`
		SELECT name, sql
		FROM sqlite_master
		WHERE sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%'
		  AND name NOT IN ('schema_migrations', 'version_unique')
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schema: %w", err)
	}
	defer rows.Close()

	schema := make(map[string]string)
	for rows.Next() {
		var name, sqlText string
		if err := rows.Scan(&name, &sqlText); err != nil {
			return nil, fmt.Errorf("failed to scan schema row: %w", err)
		}
		schema[name] = strings.Join(strings.Fields(sqlText), " ")
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schema rows: %w", err)
	}

	return schema, nil
}

// CompareSchemas returns a similarity score (0-100) between two schemas and
// a list of human-readable differences. Objects match when both the name and
// the normalized SQL definition are identical.
func CompareSchemas(a, b map[string]string) (int, []string) {
	union := make(map[string]bool)
	for name := range a {
		union[name] = true
	}
	for name := range b {
		union[name] = true
	}

	if len(union) == 0 {
		return 100, nil
	}

	names := make([]string, 0, len(union))
	for name := range union {
		names = append(names, name)
	}
	sort.Strings(names)

	matches := 0
	var diffs []string
	for _, name := range names {
		sqlA, okA := a[name]
		sqlB, okB := b[name]
		switch {
		case okA && !okB:
			diffs = append(diffs, fmt.Sprintf("extra object: %s", name))
		case !okA && okB:
			diffs = append(diffs, fmt.Sprintf("missing object: %s", name))
		case sqlA != sqlB:
			diffs = append(diffs, fmt.Sprintf("definition mismatch: %s", name))
		default:
			matches++
		}
	}

	return matches * 100 / len(union), diffs
}

// GetSchemaAtMigration reconstructs the schema as it looks after migrating a
// fresh database to the given version. The work happens in a throwaway
// database file so the receiver is never modified.
func (db *DB) GetSchemaAtMigration(migrationsFS fs.FS, version uint) (map[string]string, error) {
	tmpFile, err := os.CreateTemp("", "plate-schema-*.db")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary database: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer func() {
		os.Remove(tmpPath)
		os.Remove(tmpPath + "-wal")
		os.Remove(tmpPath + "-shm")
	}()

	tmpDB, err := OpenDB(tmpPath)
	if err != nil {
		return nil, err
	}
	defer tmpDB.Close()

	if err := tmpDB.MigrateTo(migrationsFS, version); err != nil {
		return nil, fmt.Errorf("failed to migrate temporary database to version %d: %w", version, err)
	}

	return tmpDB.GetDatabaseSchema()
}

// DetectSchemaVersion compares this database's schema against every known
// migration point and returns the best match. Used for databases that
// predate migration tracking. Ties go to the newest version so a fully
// up-to-date legacy database detects as the latest.
func (db *DB) DetectSchemaVersion(migrationsFS fs.FS) (version uint, matchScore int, differences []string, err error) {
	current, err := db.GetDatabaseSchema()
	if err != nil {
		return 0, 0, nil, err
	}

	latest, err := GetLatestMigrationVersion(migrationsFS)
	if err != nil {
		return 0, 0, nil, err
	}

	bestVersion := uint(0)
	bestScore := -1
	var bestDiffs []string

	for v := uint(1); v <= latest; v++ {
		candidate, err := db.GetSchemaAtMigration(migrationsFS, v)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("failed to build schema for version %d: %w", v, err)
		}

		score, diffs := CompareSchemas(current, candidate)
		if score >= bestScore {
			bestVersion = v
			bestScore = score
			bestDiffs = diffs
		}
	}

	return bestVersion, bestScore, bestDiffs, nil
}
