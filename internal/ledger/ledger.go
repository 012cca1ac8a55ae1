package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/franz/edition-janitor/internal/execute"
	"github.com/franz/edition-janitor/internal/metrics"
	"github.com/franz/edition-janitor/internal/report"
	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
)

// Ledger restores and recovers ledger moves
type Ledger struct {
	store       *store.Store
	exec        *execute.Executor
	retryConfig *util.RetryConfig
	logger      *report.EventLogger
}

// Config holds ledger configuration
type Config struct {
	Store       *store.Store
	Executor    *execute.Executor // shares directory locks with live moves
	RetryConfig *util.RetryConfig
	Logger      *report.EventLogger
}

// New creates a new Ledger
func New(cfg *Config) *Ledger {
	if cfg.RetryConfig == nil {
		cfg.RetryConfig = util.MoveRetryConfig()
	}
	if cfg.Executor == nil {
		cfg.Executor = execute.New(&execute.Config{Store: cfg.Store, RetryConfig: cfg.RetryConfig, Logger: cfg.Logger})
	}
	return &Ledger{
		store:       cfg.Store,
		exec:        cfg.Executor,
		retryConfig: cfg.RetryConfig,
		logger:      cfg.Logger,
	}
}

// RestoreResult reports what a restore did, per move
type RestoreResult struct {
	Restored        []string
	AlreadyRestored []string
	Conflicts       []*util.RestoreConflict
}

// Restore moves files back for the selected moves of a scan: the given ids,
// or every committed move when all is set. Each move is restored on its own;
// a conflict on one is reported and the rest carry on. Restoring a move
// twice is a no-op. Moves are undone newest first.
func (l *Ledger) Restore(ctx context.Context, scanID string, moveIDs []string, all bool) (*RestoreResult, error) {
	if !all && len(moveIDs) == 0 {
		return nil, fmt.Errorf("%w: no moves selected", util.ErrInvalidConfig)
	}

	f := store.MoveFilter{ScanID: scanID}
	if !all {
		f.MoveIDs = moveIDs
	}
	moves, err := l.store.ListMoves(f)
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{}

	found := make(map[string]bool, len(moves))
	for _, m := range moves {
		found[m.MoveID] = true
	}
	for _, id := range moveIDs {
		if !all && !found[id] {
			result.Conflicts = append(result.Conflicts, &util.RestoreConflict{MoveID: id, Reason: "move not found in this scan"})
		}
	}

	sort.SliceStable(moves, func(i, j int) bool { return moves[i].MoveID > moves[j].MoveID })

	for _, m := range moves {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if m.Restored {
			result.AlreadyRestored = append(result.AlreadyRestored, m.MoveID)
			continue
		}
		if m.Status != store.MoveCommitted {
			// Pending, failed and discarded rows never moved anything
			if !all {
				result.Conflicts = append(result.Conflicts, &util.RestoreConflict{
					MoveID: m.MoveID, Path: m.OriginalPath, Reason: "move is " + m.Status + ", not committed"})
			}
			continue
		}

		restored, conflict, err := l.restoreOne(ctx, m)
		if err != nil {
			return result, util.Fatal(err)
		}
		switch {
		case conflict != nil:
			result.Conflicts = append(result.Conflicts, conflict)
			util.WarnLog("%v", conflict)
			l.logger.LogRestore(scanID, m.MoveID, conflict.Path, conflict.Reason)
			metrics.IncRestore("conflict")
		case restored:
			result.Restored = append(result.Restored, m.MoveID)
			l.logger.LogRestore(scanID, m.MoveID, m.OriginalPath, "")
			metrics.IncRestore("restored")
		default:
			result.AlreadyRestored = append(result.AlreadyRestored, m.MoveID)
		}
	}

	if saved, err := l.store.SpaceSavedMB(scanID); err == nil {
		metrics.SetSpaceSaved(saved)
	}
	return result, nil
}

// restoreOne undoes a single committed move. The error is non-nil only when
// the ledger cannot be written.
func (l *Ledger) restoreOne(ctx context.Context, m *store.Move) (bool, *util.RestoreConflict, error) {
	unlock := l.exec.LockDir(filepath.Dir(m.OriginalPath))
	defer unlock()

	conflict := func(path, reason string) *util.RestoreConflict {
		return &util.RestoreConflict{MoveID: m.MoveID, Path: path, Reason: reason}
	}

	if !util.PathExists(m.MovedToPath) {
		return false, conflict(m.MovedToPath, "moved file is missing"), nil
	}
	if util.PathExists(m.OriginalPath) {
		return false, conflict(m.OriginalPath, "original path is occupied"), nil
	}

	// Merged tracks now belong to another edition; find it before moving
	var owner *store.Track
	if m.Reason == store.ReasonMerge {
		var err error
		if owner, err = l.store.GetTrackByPath(m.MovedToPath); err != nil {
			return false, nil, err
		}
	}

	err := util.Retry(ctx, l.retryConfig, util.IsMoveRetryableError, func() error {
		return util.MovePath(m.MovedToPath, m.OriginalPath)
	}, fmt.Sprintf("restore(%s)", m.MoveID))
	if err != nil {
		return false, conflict(m.OriginalPath, err.Error()), nil
	}

	changed, err := l.store.MarkRestored(m.MoveID, l.restoreExtra(m, owner))
	if err != nil {
		// Put the file back where the ledger says it is
		if rerr := util.MovePath(m.OriginalPath, m.MovedToPath); rerr != nil {
			util.ErrorLog("Restore of %s left the file at %s: %v", m.MoveID, m.OriginalPath, rerr)
		}
		return false, nil, fmt.Errorf("failed to mark %s restored: %w", m.MoveID, err)
	}
	return changed, nil, nil
}

// restoreExtra reverses the bookkeeping of the original commit
func (l *Ledger) restoreExtra(m *store.Move, owner *store.Track) func(*sql.Tx) error {
	switch m.Reason {
	case store.ReasonDedupe:
		return func(tx *sql.Tx) error {
			return l.store.MarkEditionMoved(tx, m.AlbumID, false)
		}
	case store.ReasonIncomplete:
		return func(tx *sql.Tx) error {
			if err := l.store.MarkEditionMoved(tx, m.AlbumID, false); err != nil {
				return err
			}
			return l.store.SetIncompleteMoved(tx, m.ScanID, m.AlbumID, false)
		}
	case store.ReasonMerge:
		if owner == nil {
			return nil
		}
		return func(tx *sql.Tx) error {
			return l.store.ReassignTrack(tx, owner.EditionID, m.MovedToPath, m.AlbumID, m.OriginalPath, m.TrackIndex, false)
		}
	}
	return nil
}

// RecoverResult reports what crash recovery did
type RecoverResult struct {
	Committed []string
	Discarded []string
}

// Recover settles pending rows left behind by an interrupted process. A row
// whose destination exists and whose source is gone moved successfully and
// is committed; every other pending row is discarded. Rows are never deleted.
func (l *Ledger) Recover() (*RecoverResult, error) {
	pending, err := l.store.ListMoves(store.MoveFilter{Status: store.MovePending})
	if err != nil {
		return nil, err
	}

	result := &RecoverResult{}
	for _, m := range pending {
		if util.PathExists(m.MovedToPath) && !util.PathExists(m.OriginalPath) {
			if err := l.exec.Reconcile(m); err != nil {
				return result, fmt.Errorf("failed to commit recovered move %s: %w", m.MoveID, err)
			}
			result.Committed = append(result.Committed, m.MoveID)
			util.InfoLog("Recovered move %s: %s -> %s", m.MoveID, m.OriginalPath, m.MovedToPath)
			continue
		}
		if err := l.store.DiscardMove(m.MoveID); err != nil {
			return result, fmt.Errorf("failed to discard move %s: %w", m.MoveID, err)
		}
		result.Discarded = append(result.Discarded, m.MoveID)
		util.WarnLog("Discarded unfinished move %s (%s)", m.MoveID, m.OriginalPath)
	}
	return result, nil
}
