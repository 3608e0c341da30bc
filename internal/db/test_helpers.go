package db

import (
	"path/filepath"
	"testing"
)

// Helper functions for creating pointer values
func strPtr(s string) *string {
	return &s
}

func floatPtr(f float64) *float64 {
	return &f
}

// setupTestDB creates a fully migrated database in a temp directory.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	database, err := NewDB(path)
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return database
}

// setupEmptyTestDB opens a database in a temp directory without applying
// any migrations.
func setupEmptyTestDB(t *testing.T) *DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "empty.db")
	database, err := OpenDB(path)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return database
}

// testUpsert builds a PlateUpsert with sensible defaults for tests to tweak.
func testUpsert(plateID, text string, clarity float64) PlateUpsert {
	return PlateUpsert{
		PlateID:     plateID,
		Text:        text,
		Image:       []byte("png-" + plateID),
		Clarity:     clarity,
		Confidence:  0.9,
		Rotation:    0,
		CaptureUnix: 1700000000,
	}
}
