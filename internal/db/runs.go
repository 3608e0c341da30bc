package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	RunStatusRunning  = "running"
	RunStatusFinished = "finished"
	RunStatusFailed   = "failed"
)

// Run records one processing pass over a video source.
type Run struct {
	ID           string   `json:"id"`
	Source       string   `json:"source"`
	ConfigJSON   *string  `json:"config_json"`
	StartedUnix  float64  `json:"started_unix"`
	FinishedUnix *float64 `json:"finished_unix"`
	Frames       int64    `json:"frames"`
	Detections   int64    `json:"detections"`
	Plates       int64    `json:"plates"`
	Status       string   `json:"status"`
	Error        *string  `json:"error"`
}

// CreateRun records the start of a processing run. configJSON carries the
// serialized pipeline options for later inspection; empty stores NULL.
func (db *DB) CreateRun(source, configJSON string) (*Run, error) {
	run := &Run{
		ID:          uuid.New().String(),
		Source:      source,
		ConfigJSON:  nullableString(configJSON),
		StartedUnix: float64(time.Now().Unix()),
		Status:      RunStatusRunning,
	}

	query := `
		INSERT INTO runs (id, source, config_json, started_unix, status)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query, run.ID, run.Source, run.ConfigJSON, run.StartedUnix, run.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return run, nil
}

// FinishRun records the end of a run with its final counters. A non-nil
// runErr marks the run as failed and stores the error text.
func (db *DB) FinishRun(id string, frames, detections, plates int64, runErr error) error {
	status := RunStatusFinished
	var errText *string
	if runErr != nil {
		status = RunStatusFailed
		s := runErr.Error()
		errText = &s
	}

	query := `
		UPDATE runs SET
			finished_unix = ?,
			frames = ?,
			detections = ?,
			plates = ?,
			status = ?,
			error = ?
		WHERE id = ?
	`

	result, err := db.Exec(query, float64(time.Now().Unix()), frames, detections, plates, status, errText, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("run %w", ErrNotFound)
	}

	return nil
}

// GetRun retrieves a run by id.
func (db *DB) GetRun(id string) (*Run, error) {
	query := `
		SELECT id, source, config_json, started_unix, finished_unix, frames, detections, plates, status, error
		FROM runs
		WHERE id = ?
	`

	var run Run
	err := db.QueryRow(query, id).Scan(
		&run.ID,
		&run.Source,
		&run.ConfigJSON,
		&run.StartedUnix,
		&run.FinishedUnix,
		&run.Frames,
		&run.Detections,
		&run.Plates,
		&run.Status,
		&run.Error,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}

// ListRuns retrieves the most recent runs, newest first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, source, config_json, started_unix, finished_unix, frames, detections, plates, status, error
		FROM runs
		ORDER BY started_unix DESC, id DESC
		LIMIT ?
	`

	rows, err := db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		err := rows.Scan(
			&run.ID,
			&run.Source,
			&run.ConfigJSON,
			&run.StartedUnix,
			&run.FinishedUnix,
			&run.Frames,
			&run.Detections,
			&run.Plates,
			&run.Status,
			&run.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}
