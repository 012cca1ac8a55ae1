package store

import (
	"database/sql"
	"fmt"
)

// AI failure statuses
const (
	AIFailurePending    = "pending"
	AIFailureRecovered  = "recovered"
	AIFailureUnresolved = "unresolved"
)

// AIFailure is a per-group record of a failed tie-breaker call
type AIFailure struct {
	ID          int64
	ScanID      string
	GroupKey    string
	Kind        string
	Recoverable bool
	Status      string
	Error       string
}

// RecordAIFailure stores a failure and bumps the run's failed counter.
// Non-recoverable failures are unresolved from the start.
func (s *Store) RecordAIFailure(f *AIFailure) error {
	status := AIFailurePending
	unresolved := 0
	if !f.Recoverable {
		status = AIFailureUnresolved
		unresolved = 1
	}
	return s.Transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO ai_failures (scan_id, group_key, kind, recoverable, status, error)
			VALUES (?, ?, ?, ?, ?, ?)
		`, f.ScanID, f.GroupKey, f.Kind, boolToInt(f.Recoverable), status, f.Error)
		if err != nil {
			return fmt.Errorf("failed to record ai failure: %w", err)
		}
		f.ID, _ = res.LastInsertId()
		f.Status = status
		_, err = tx.Exec(`
			UPDATE scan_runs SET ai_failed = ai_failed + 1, ai_unresolved = ai_unresolved + ?
			WHERE scan_id = ?
		`, unresolved, f.ScanID)
		return err
	})
}

// ListPendingAIFailures returns the recoverable failures still awaiting a retry
func (s *Store) ListPendingAIFailures(scanID string) ([]*AIFailure, error) {
	return s.listAIFailures(`WHERE scan_id = ? AND status = ? ORDER BY id`, scanID, AIFailurePending)
}

// ListAIFailures returns every failure of a scan
func (s *Store) ListAIFailures(scanID string) ([]*AIFailure, error) {
	return s.listAIFailures(`WHERE scan_id = ? ORDER BY id`, scanID)
}

func (s *Store) listAIFailures(where string, args ...interface{}) ([]*AIFailure, error) {
	rows, err := s.db.Query(`
		SELECT id, scan_id, group_key, kind, recoverable, status, error
		FROM ai_failures `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ai failures: %w", err)
	}
	defer rows.Close()

	var out []*AIFailure
	for rows.Next() {
		var f AIFailure
		var recoverable int
		var errMsg sql.NullString
		if err := rows.Scan(&f.ID, &f.ScanID, &f.GroupKey, &f.Kind, &recoverable, &f.Status, &errMsg); err != nil {
			return nil, err
		}
		f.Recoverable = recoverable == 1
		f.Error = errMsg.String
		out = append(out, &f)
	}
	return out, rows.Err()
}

// ResolveAIFailure closes a pending failure as recovered or unresolved and
// updates the run's counters
func (s *Store) ResolveAIFailure(id int64, recovered bool) error {
	status := AIFailureUnresolved
	recoveredN, unresolvedN := 0, 1
	if recovered {
		status = AIFailureRecovered
		recoveredN, unresolvedN = 1, 0
	}
	return s.Transaction(func(tx *sql.Tx) error {
		var scanID string
		if err := tx.QueryRow(`SELECT scan_id FROM ai_failures WHERE id = ? AND status = ?`, id, AIFailurePending).
			Scan(&scanID); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		if _, err := tx.Exec(`UPDATE ai_failures SET status = ? WHERE id = ?`, status, id); err != nil {
			return err
		}
		_, err := tx.Exec(`
			UPDATE scan_runs SET ai_recovered = ai_recovered + ?, ai_unresolved = ai_unresolved + ?
			WHERE scan_id = ?
		`, recoveredN, unresolvedN, scanID)
		return err
	})
}
