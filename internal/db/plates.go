package db

import (
	"database/sql"
	"fmt"
	"strings"
)

// PlateRecord is one stored license plate. Image holds the PNG crop of the
// sharpest capture seen so far; list queries leave it nil, use GetPlateImage.
type PlateRecord struct {
	ID          int64    `json:"id"`
	PlateID     string   `json:"plate_id"`
	Image       []byte   `json:"-"`
	Clarity     float64  `json:"clarity"`
	Confidence  float64  `json:"confidence"`
	Rotation    int      `json:"rotation"`
	CaptureUnix float64  `json:"capture_unix"`
	FilePath    *string  `json:"file_path"`
	PlateText   *string  `json:"plate_text"`
	Speed       *float64 `json:"speed"`
}

// PlateUpsert carries one detection's worth of data into UpsertPlate.
// Speed is deliberately absent: it is written through UpdatePlateSpeed so a
// stale estimate never rides along with an image refresh.
type PlateUpsert struct {
	PlateID     string
	Text        string
	Image       []byte
	Clarity     float64
	Confidence  float64
	Rotation    int
	FilePath    string
	CaptureUnix float64
}

// UpsertOutcome reports what UpsertPlate did with the record.
type UpsertOutcome int

const (
	// UpsertInserted means a new row was created.
	UpsertInserted UpsertOutcome = iota
	// UpsertReplaced means an existing row was refreshed with a sharper capture.
	UpsertReplaced
	// UpsertUnchanged means an existing row already held a sharper capture.
	UpsertUnchanged
)

// UpsertPlate stores a plate capture, keyed by plate text when known and by
// the identity id otherwise. An existing row is only rewritten when the new
// capture has strictly higher clarity.
func (db *DB) UpsertPlate(p PlateUpsert) (UpsertOutcome, error) {
	tx, err := db.Begin()
	if err != nil {
		return UpsertUnchanged, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var rowID int64
	var existingClarity float64

	if p.Text != "" {
		err = tx.QueryRow("SELECT id, clarity FROM plates WHERE plate_text = ?", p.Text).Scan(&rowID, &existingClarity)
	} else {
		err = tx.QueryRow("SELECT id, clarity FROM plates WHERE plate_id = ?", p.PlateID).Scan(&rowID, &existingClarity)
	}

	if err == sql.ErrNoRows {
		insertErr := insertPlate(tx, p)
		if insertErr == nil {
			if err := tx.Commit(); err != nil {
				return UpsertUnchanged, fmt.Errorf("failed to commit plate insert: %w", err)
			}
			return UpsertInserted, nil
		}

		// Another row may already hold this plate text. Fall back to
		// updating that row instead of failing the frame.
		if p.Text == "" || !isUniqueViolation(insertErr) {
			return UpsertUnchanged, fmt.Errorf("failed to insert plate: %w", insertErr)
		}
		err = tx.QueryRow("SELECT id, clarity FROM plates WHERE plate_text = ?", p.Text).Scan(&rowID, &existingClarity)
		if err != nil {
			return UpsertUnchanged, fmt.Errorf("failed to resolve plate text conflict: %w", insertErr)
		}
	} else if err != nil {
		return UpsertUnchanged, fmt.Errorf("failed to look up plate: %w", err)
	}

	if p.Clarity <= existingClarity {
		return UpsertUnchanged, nil
	}

	if err := updatePlate(tx, rowID, p); err != nil {
		return UpsertUnchanged, fmt.Errorf("failed to update plate: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return UpsertUnchanged, fmt.Errorf("failed to commit plate update: %w", err)
	}

	return UpsertReplaced, nil
}

func insertPlate(tx *sql.Tx, p PlateUpsert) error {
	query := `
		INSERT INTO plates (
			plate_id, image, clarity, confidence, rotation,
			capture_unix, file_path, plate_text
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := tx.Exec(
		query,
		p.PlateID,
		p.Image,
		p.Clarity,
		p.Confidence,
		p.Rotation,
		p.CaptureUnix,
		nullableString(p.FilePath),
		nullableString(p.Text),
	)
	return err
}

func updatePlate(tx *sql.Tx, rowID int64, p PlateUpsert) error {
	query := `
		UPDATE plates SET
			plate_id = ?,
			image = ?,
			clarity = ?,
			confidence = ?,
			rotation = ?,
			capture_unix = ?,
			file_path = ?
		WHERE id = ?
	`

	_, err := tx.Exec(
		query,
		p.PlateID,
		p.Image,
		p.Clarity,
		p.Confidence,
		p.Rotation,
		p.CaptureUnix,
		nullableString(p.FilePath),
		rowID,
	)
	return err
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// UpdatePlateSpeed records a speed estimate for a plate. The reference is
// tried as an identity id first and as plate text second, since records may
// be keyed either way. Returns true when a row was updated.
func (db *DB) UpdatePlateSpeed(ref string, speed float64) (bool, error) {
	result, err := db.Exec("UPDATE plates SET speed = ? WHERE plate_id = ?", speed, ref)
	if err != nil {
		return false, fmt.Errorf("failed to update plate speed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return true, nil
	}

	result, err = db.Exec("UPDATE plates SET speed = ? WHERE plate_text = ?", speed, ref)
	if err != nil {
		return false, fmt.Errorf("failed to update plate speed by text: %w", err)
	}

	rowsAffected, err = result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// ListPlates retrieves the most recent plate records, newest first.
func (db *DB) ListPlates(limit int) ([]PlateRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT
			id, plate_id, clarity, confidence, rotation,
			capture_unix, file_path, plate_text, speed
		FROM plates
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query plates: %w", err)
	}
	defer rows.Close()

	return scanPlateRows(rows)
}

// ListPlatesAbove retrieves plates at or above a confidence floor, newest first.
func (db *DB) ListPlatesAbove(minConfidence float64, limit int) ([]PlateRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT
			id, plate_id, clarity, confidence, rotation,
			capture_unix, file_path, plate_text, speed
		FROM plates
		WHERE confidence >= ?
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := db.Query(query, minConfidence, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query plates: %w", err)
	}
	defer rows.Close()

	return scanPlateRows(rows)
}

func scanPlateRows(rows *sql.Rows) ([]PlateRecord, error) {
	var plates []PlateRecord
	for rows.Next() {
		var plate PlateRecord
		err := rows.Scan(
			&plate.ID,
			&plate.PlateID,
			&plate.Clarity,
			&plate.Confidence,
			&plate.Rotation,
			&plate.CaptureUnix,
			&plate.FilePath,
			&plate.PlateText,
			&plate.Speed,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plate: %w", err)
		}
		plates = append(plates, plate)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plates: %w", err)
	}

	return plates, nil
}

// GetPlate retrieves a plate record by row id. The image blob is not loaded.
func (db *DB) GetPlate(id int64) (*PlateRecord, error) {
	query := `
		SELECT
			id, plate_id, clarity, confidence, rotation,
			capture_unix, file_path, plate_text, speed
		FROM plates
		WHERE id = ?
	`

	var plate PlateRecord
	err := db.QueryRow(query, id).Scan(
		&plate.ID,
		&plate.PlateID,
		&plate.Clarity,
		&plate.Confidence,
		&plate.Rotation,
		&plate.CaptureUnix,
		&plate.FilePath,
		&plate.PlateText,
		&plate.Speed,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("plate %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plate: %w", err)
	}

	return &plate, nil
}

// GetPlateByText retrieves a plate record by its recognized text.
func (db *DB) GetPlateByText(text string) (*PlateRecord, error) {
	query := `
		SELECT
			id, plate_id, clarity, confidence, rotation,
			capture_unix, file_path, plate_text, speed
		FROM plates
		WHERE plate_text = ?
	`

	var plate PlateRecord
	err := db.QueryRow(query, text).Scan(
		&plate.ID,
		&plate.PlateID,
		&plate.Clarity,
		&plate.Confidence,
		&plate.Rotation,
		&plate.CaptureUnix,
		&plate.FilePath,
		&plate.PlateText,
		&plate.Speed,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("plate %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plate: %w", err)
	}

	return &plate, nil
}

// GetPlateImage retrieves the stored PNG crop for a plate.
func (db *DB) GetPlateImage(id int64) ([]byte, error) {
	var image []byte
	err := db.QueryRow("SELECT image FROM plates WHERE id = ?", id).Scan(&image)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("plate %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plate image: %w", err)
	}

	return image, nil
}

// DeletePlate removes a plate record. Returns true when a row was deleted.
func (db *DB) DeletePlate(id int64) (bool, error) {
	result, err := db.Exec("DELETE FROM plates WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete plate: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// PlateStats summarizes the plates table.
type PlateStats struct {
	Total      int64    `json:"total"`
	WithText   int64    `json:"with_text"`
	WithSpeed  int64    `json:"with_speed"`
	AvgClarity float64  `json:"avg_clarity"`
	MaxSpeed   *float64 `json:"max_speed"`
}

// GetPlateStats returns aggregate counts over all stored plates.
func (db *DB) GetPlateStats() (*PlateStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(plate_text),
			COUNT(speed),
			COALESCE(AVG(clarity), 0),
			MAX(speed)
		FROM plates
	`

	var stats PlateStats
	err := db.QueryRow(query).Scan(
		&stats.Total,
		&stats.WithText,
		&stats.WithSpeed,
		&stats.AvgClarity,
		&stats.MaxSpeed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get plate stats: %w", err)
	}

	return &stats, nil
}
