package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Scan run statuses
const (
	RunIdle      = "idle"
	RunRunning   = "running"
	RunPaused    = "paused"
	RunCompleted = "completed"
	RunStopped   = "stopped"
	RunFailed    = "failed"
)

// ScanRun is one execution of the scan pipeline and its counters
type ScanRun struct {
	ScanID           string
	Status           string
	StartedAt        time.Time
	EndedAt          time.Time
	AlbumsTotal      int
	AlbumsScanned    int
	ArtistsTotal     int
	ArtistsProcessed int
	ScanErrors       int
	GroupsFound      int
	AlbumsMoved      int
	SpaceSavedMB     float64
	AIFailed         int
	AIRecovered      int
	AIUnresolved     int
	LastError        string
}

// RunCounters are the progress counters flushed from a live session
type RunCounters struct {
	AlbumsTotal      int
	AlbumsScanned    int
	ArtistsTotal     int
	ArtistsProcessed int
	ScanErrors       int
	GroupsFound      int
	LastError        string
}

const runColumns = `scan_id, status, started_at, ended_at, albums_total, albums_scanned,
	artists_total, artists_processed, scan_errors, groups_found, albums_moved,
	space_saved_mb, ai_failed, ai_recovered, ai_unresolved, last_error`

// CreateScanRun inserts a new run in the running state
func (s *Store) CreateScanRun(scanID string, startedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO scan_runs (scan_id, status, started_at)
		VALUES (?, ?, ?)
	`, scanID, RunRunning, formatTime(startedAt))
	if err != nil {
		return fmt.Errorf("failed to create scan run: %w", err)
	}
	return nil
}

// UpdateScanRunStatus records a state transition. Terminal states set ended_at.
func (s *Store) UpdateScanRunStatus(scanID, status string, endedAt time.Time) error {
	var ended interface{}
	if !endedAt.IsZero() {
		ended = formatTime(endedAt)
	}
	_, err := s.db.Exec(`
		UPDATE scan_runs SET status = ?, ended_at = COALESCE(?, ended_at)
		WHERE scan_id = ?
	`, status, ended, scanID)
	if err != nil {
		return fmt.Errorf("failed to update scan run status: %w", err)
	}
	return nil
}

// UpdateScanRunCounters flushes the session's progress counters
func (s *Store) UpdateScanRunCounters(scanID string, c RunCounters) error {
	_, err := s.db.Exec(`
		UPDATE scan_runs SET
			albums_total = ?, albums_scanned = ?, artists_total = ?, artists_processed = ?,
			scan_errors = ?, groups_found = ?, last_error = ?
		WHERE scan_id = ?
	`, c.AlbumsTotal, c.AlbumsScanned, c.ArtistsTotal, c.ArtistsProcessed,
		c.ScanErrors, c.GroupsFound, c.LastError, scanID)
	if err != nil {
		return fmt.Errorf("failed to update scan run counters: %w", err)
	}
	return nil
}

// GetScanRun returns a run by id, or nil if it does not exist
func (s *Store) GetScanRun(scanID string) (*ScanRun, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM scan_runs WHERE scan_id = ?`, scanID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan run: %w", err)
	}
	return run, nil
}

// LatestScanRun returns the most recently started run, or nil
func (s *Store) LatestScanRun() (*ScanRun, error) {
	row := s.db.QueryRow(`SELECT ` + runColumns + ` FROM scan_runs ORDER BY started_at DESC, rowid DESC LIMIT 1`)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest scan run: %w", err)
	}
	return run, nil
}

// ListScanRuns returns all runs, newest first
func (s *Store) ListScanRuns() ([]*ScanRun, error) {
	rows, err := s.db.Query(`SELECT ` + runColumns + ` FROM scan_runs ORDER BY started_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scan runs: %w", err)
	}
	defer rows.Close()

	var runs []*ScanRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// InterruptRunningRuns marks runs left running or paused by a crashed process as failed
func (s *Store) InterruptRunningRuns(reason string) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE scan_runs SET status = ?, ended_at = ?, last_error = ?
		WHERE status IN (?, ?)
	`, RunFailed, formatTime(time.Now()), reason, RunRunning, RunPaused)
	if err != nil {
		return 0, fmt.Errorf("failed to interrupt stale runs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*ScanRun, error) {
	var r ScanRun
	var started, ended, lastError sql.NullString
	err := row.Scan(&r.ScanID, &r.Status, &started, &ended, &r.AlbumsTotal, &r.AlbumsScanned,
		&r.ArtistsTotal, &r.ArtistsProcessed, &r.ScanErrors, &r.GroupsFound, &r.AlbumsMoved,
		&r.SpaceSavedMB, &r.AIFailed, &r.AIRecovered, &r.AIUnresolved, &lastError)
	if err != nil {
		return nil, err
	}
	r.StartedAt = parseTime(started)
	r.EndedAt = parseTime(ended)
	r.LastError = lastError.String
	return &r, nil
}
