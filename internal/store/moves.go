package store

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Move reasons
const (
	ReasonDedupe     = "dedupe"
	ReasonIncomplete = "incomplete"
	ReasonMerge      = "merge"
)

// Move statuses. A row starts pending (tentative) and is committed once the
// filesystem move succeeded. Rows are never deleted.
const (
	MovePending   = "pending"
	MoveCommitted = "committed"
	MoveFailed    = "failed"
	MoveDiscarded = "discarded"
)

// Move is one ledger entry
type Move struct {
	MoveID       string
	ScanID       string
	Reason       string
	Status       string
	Artist       string
	AlbumID      int64
	GroupKey     string
	TrackIndex   int // source track index for merges, 0 otherwise
	OriginalPath string
	MovedToPath  string
	SizeMB       float64
	Restored     bool
	Error        string
	CreatedAt    time.Time
	CommittedAt  time.Time
	RestoredAt   time.Time
}

// MoveFilter selects ledger rows. Zero fields do not filter.
type MoveFilter struct {
	ScanID   string
	MoveIDs  []string
	Reason   string
	Status   string
	Restored *bool
}

var moveColumns = []string{
	"move_id", "scan_id", "move_reason", "status", "artist", "album_id", "group_key",
	"track_index", "original_path", "moved_to_path", "size_mb", "restored", "error",
	"created_at", "committed_at", "restored_at",
}

// InsertPendingMove writes the tentative ledger row before the filesystem move
func (s *Store) InsertPendingMove(m *Move) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.Status = MovePending

	var trackIndex interface{}
	if m.TrackIndex > 0 {
		trackIndex = m.TrackIndex
	}

	_, err := s.db.Exec(`
		INSERT INTO moves (move_id, scan_id, move_reason, status, artist, album_id, group_key,
			track_index, original_path, moved_to_path, size_mb, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.MoveID, m.ScanID, m.Reason, m.Status, m.Artist, m.AlbumID, m.GroupKey,
		trackIndex, m.OriginalPath, m.MovedToPath, m.SizeMB, formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert pending move: %w", err)
	}
	return nil
}

// CommitMove marks a pending row committed and, for dedupe moves, updates the
// run's moved and space-saved counters in the same transaction. extra runs
// inside that transaction too, for bookkeeping tied to the move.
func (s *Store) CommitMove(moveID string, extra func(*sql.Tx) error) error {
	return s.Transaction(func(tx *sql.Tx) error {
		var scanID, reason, status string
		var sizeMB float64
		err := tx.QueryRow(`SELECT scan_id, move_reason, status, size_mb FROM moves WHERE move_id = ?`, moveID).
			Scan(&scanID, &reason, &status, &sizeMB)
		if err != nil {
			return fmt.Errorf("failed to load move %s: %w", moveID, err)
		}
		if status != MovePending {
			return fmt.Errorf("move %s is %s, not pending", moveID, status)
		}

		if _, err := tx.Exec(`
			UPDATE moves SET status = ?, committed_at = ? WHERE move_id = ?
		`, MoveCommitted, formatTime(time.Now()), moveID); err != nil {
			return fmt.Errorf("failed to commit move: %w", err)
		}

		if reason == ReasonDedupe {
			if _, err := tx.Exec(`
				UPDATE scan_runs SET albums_moved = albums_moved + 1, space_saved_mb = space_saved_mb + ?
				WHERE scan_id = ?
			`, sizeMB, scanID); err != nil {
				return fmt.Errorf("failed to update run counters: %w", err)
			}
		}

		if extra != nil {
			return extra(tx)
		}
		return nil
	})
}

// FailMove marks a pending row failed with the surfaced error
func (s *Store) FailMove(moveID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.Exec(`
		UPDATE moves SET status = ?, error = ? WHERE move_id = ? AND status = ?
	`, MoveFailed, msg, moveID, MovePending)
	return err
}

// DiscardMove marks a pending row as abandoned after crash recovery
func (s *Store) DiscardMove(moveID string) error {
	_, err := s.db.Exec(`
		UPDATE moves SET status = ? WHERE move_id = ? AND status = ?
	`, MoveDiscarded, moveID, MovePending)
	return err
}

// MarkRestored flips restored false->true and, for dedupe moves, takes the
// move back out of the run's counters. It reports false when the move was
// already restored. extra runs in the same transaction.
func (s *Store) MarkRestored(moveID string, extra func(*sql.Tx) error) (bool, error) {
	changed := false
	err := s.Transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE moves SET restored = 1, restored_at = ?
			WHERE move_id = ? AND restored = 0 AND status = ?
		`, formatTime(time.Now()), moveID, MoveCommitted)
		if err != nil {
			return fmt.Errorf("failed to mark restored: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return nil
		}
		changed = true

		var scanID, reason string
		var sizeMB float64
		if err := tx.QueryRow(`SELECT scan_id, move_reason, size_mb FROM moves WHERE move_id = ?`, moveID).
			Scan(&scanID, &reason, &sizeMB); err != nil {
			return err
		}
		if reason == ReasonDedupe {
			if _, err := tx.Exec(`
				UPDATE scan_runs SET albums_moved = MAX(albums_moved - 1, 0), space_saved_mb = space_saved_mb - ?
				WHERE scan_id = ?
			`, sizeMB, scanID); err != nil {
				return fmt.Errorf("failed to update run counters: %w", err)
			}
		}

		if extra != nil {
			return extra(tx)
		}
		return nil
	})
	return changed, err
}

// GetMove returns a ledger row, or nil
func (s *Store) GetMove(moveID string) (*Move, error) {
	moves, err := s.ListMoves(MoveFilter{MoveIDs: []string{moveID}})
	if err != nil {
		return nil, err
	}
	if len(moves) == 0 {
		return nil, nil
	}
	return moves[0], nil
}

// ListMoves returns ledger rows matching the filter, oldest first
func (s *Store) ListMoves(f MoveFilter) ([]*Move, error) {
	q := sq.Select(moveColumns...).From("moves").OrderBy("created_at", "move_id")
	if f.ScanID != "" {
		q = q.Where(sq.Eq{"scan_id": f.ScanID})
	}
	if len(f.MoveIDs) > 0 {
		q = q.Where(sq.Eq{"move_id": f.MoveIDs})
	}
	if f.Reason != "" {
		q = q.Where(sq.Eq{"move_reason": f.Reason})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": f.Status})
	}
	if f.Restored != nil {
		q = q.Where(sq.Eq{"restored": boolToInt(*f.Restored)})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build move query: %w", err)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list moves: %w", err)
	}
	defer rows.Close()

	var moves []*Move
	for rows.Next() {
		m, err := scanMove(rows)
		if err != nil {
			return nil, err
		}
		moves = append(moves, m)
	}
	return moves, rows.Err()
}

// ActiveMoveFrom returns a committed, unrestored or still pending move whose
// original path is path, or nil
func (s *Store) ActiveMoveFrom(path string) (*Move, error) {
	query, args, err := sq.Select(moveColumns...).From("moves").
		Where(sq.Eq{"original_path": path, "restored": 0, "status": []string{MovePending, MoveCommitted}}).
		OrderBy("created_at DESC").Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	m, err := scanMove(s.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active move: %w", err)
	}
	return m, nil
}

// SpaceSavedMB recomputes space saved for a run from the ledger
func (s *Store) SpaceSavedMB(scanID string) (float64, error) {
	var total float64
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(size_mb), 0) FROM moves
		WHERE scan_id = ? AND move_reason = ? AND status = ? AND restored = 0
	`, scanID, ReasonDedupe, MoveCommitted).Scan(&total)
	return total, err
}

func scanMove(row rowScanner) (*Move, error) {
	var m Move
	var artist, groupKey, errMsg, created, committed, restoredAt sql.NullString
	var trackIndex sql.NullInt64
	var restored int
	err := row.Scan(&m.MoveID, &m.ScanID, &m.Reason, &m.Status, &artist, &m.AlbumID, &groupKey,
		&trackIndex, &m.OriginalPath, &m.MovedToPath, &m.SizeMB, &restored, &errMsg,
		&created, &committed, &restoredAt)
	if err != nil {
		return nil, err
	}
	m.Artist = artist.String
	m.GroupKey = groupKey.String
	m.TrackIndex = int(trackIndex.Int64)
	m.Restored = restored == 1
	m.Error = errMsg.String
	m.CreatedAt = parseTime(created)
	m.CommittedAt = parseTime(committed)
	m.RestoredAt = parseTime(restoredAt)
	return &m, nil
}
