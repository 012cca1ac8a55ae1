package execute

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc/pool"

	"github.com/franz/edition-janitor/internal/metrics"
	"github.com/franz/edition-janitor/internal/plan"
	"github.com/franz/edition-janitor/internal/report"
	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
)

// Outcome statuses
const (
	StatusPlanned = "planned" // dry run, nothing touched
	StatusMoved   = "moved"
	StatusSkipped = "skipped" // source already gone or already moved
	StatusFailed  = "failed"
)

// Executor performs planned moves. Every move writes a pending ledger row,
// moves the file, then commits the row. Moves into the same directory are
// serialized; moves into different directories run in parallel.
type Executor struct {
	store       *store.Store
	concurrency int
	dryRun      bool
	retryConfig *util.RetryConfig
	logger      *report.EventLogger

	dirLocks sync.Map // destination directory -> *sync.Mutex
}

// Config holds executor configuration
type Config struct {
	Store       *store.Store
	Concurrency int
	DryRun      bool
	RetryConfig *util.RetryConfig // nil = util.MoveRetryConfig()
	Logger      *report.EventLogger
}

// New creates a new Executor
func New(cfg *Config) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.RetryConfig == nil {
		cfg.RetryConfig = util.MoveRetryConfig()
	}

	return &Executor{
		store:       cfg.Store,
		concurrency: cfg.Concurrency,
		dryRun:      cfg.DryRun,
		retryConfig: cfg.RetryConfig,
		logger:      cfg.Logger,
	}
}

// Outcome is the result of one planned item
type Outcome struct {
	Item   *plan.Item
	MoveID string
	Status string
	Err    error
}

// Result represents execution results
type Result struct {
	Outcomes []*Outcome
	Moved    int
	Skipped  int
	Failed   int
	Planned  int
	SizeMB   float64 // committed dedupe moves only
}

// Errors returns the per-item errors
func (r *Result) Errors() []error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errs
}

// LockDir serializes mutations of one directory. The returned func unlocks.
func (e *Executor) LockDir(dir string) func() {
	v, _ := e.dirLocks.LoadOrStore(filepath.Clean(dir), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// ExecuteAll runs items with bounded parallelism. Cancellation is checked
// between items, never during a move. A ledger write failure is run-fatal
// and returned as the error; per-item failures are in the outcomes.
func (e *Executor) ExecuteAll(ctx context.Context, scanID string, items []*plan.Item) (*Result, error) {
	outcomes := make([]*Outcome, len(items))

	var fatalMu sync.Mutex
	var fatal error

	p := pool.New().WithMaxGoroutines(e.concurrency)
	for i, item := range items {
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			fatalMu.Lock()
			stop := fatal != nil
			fatalMu.Unlock()
			if stop {
				return
			}

			o, err := e.Execute(ctx, scanID, item)
			outcomes[i] = o
			if err != nil {
				fatalMu.Lock()
				if fatal == nil {
					fatal = err
				}
				fatalMu.Unlock()
			}
		})
	}
	p.Wait()

	result := &Result{}
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		result.Outcomes = append(result.Outcomes, o)
		switch o.Status {
		case StatusMoved:
			result.Moved++
			if o.Item.Reason == store.ReasonDedupe {
				result.SizeMB += o.Item.SizeMB()
			}
		case StatusSkipped:
			result.Skipped++
		case StatusFailed:
			result.Failed++
		case StatusPlanned:
			result.Planned++
		}
	}

	if fatal != nil {
		return result, fatal
	}
	return result, ctx.Err()
}

// Execute performs one item. The returned error is non-nil only for
// run-fatal ledger failures; item failures are reported in the outcome.
func (e *Executor) Execute(ctx context.Context, scanID string, item *plan.Item) (*Outcome, error) {
	o := &Outcome{Item: item}

	if e.dryRun {
		o.Status = StatusPlanned
		e.logger.LogMove(scanID, "", item.Reason, item.Source, item.Dest, StatusPlanned, item.SizeMB(), 0, nil)
		return o, nil
	}

	unlock := e.LockDir(filepath.Dir(item.Dest))
	defer unlock()

	// Already handled by an earlier call: nothing to do, no new ledger row
	if !util.PathExists(item.Source) {
		o.Status = StatusSkipped
		util.DebugLog("Source already gone, skipping: %s", item.Source)
		return o, nil
	}
	active, err := e.store.ActiveMoveFrom(item.Source)
	if err != nil {
		return o, util.Fatal(err)
	}
	if active != nil {
		o.Status = StatusSkipped
		o.MoveID = active.MoveID
		return o, nil
	}

	// Merges need the target index before the commit transaction opens
	toIndex := 0
	if item.Reason == store.ReasonMerge {
		if toIndex, err = e.store.NextTrackIndex(item.TargetEditionID); err != nil {
			return o, util.Fatal(fmt.Errorf("failed to get next track index: %w", err))
		}
	}

	o.MoveID = ulid.Make().String()
	move := &store.Move{
		MoveID:       o.MoveID,
		ScanID:       scanID,
		Reason:       item.Reason,
		Artist:       item.Artist,
		AlbumID:      item.EditionID,
		GroupKey:     item.GroupKey,
		TrackIndex:   item.TrackIndex,
		OriginalPath: item.Source,
		MovedToPath:  item.Dest,
		SizeMB:       item.SizeMB(),
	}
	if err := e.store.InsertPendingMove(move); err != nil {
		return o, util.Fatal(err)
	}

	start := time.Now()
	err = util.Retry(ctx, e.retryConfig, util.IsMoveRetryableError, func() error {
		return util.MovePath(item.Source, item.Dest)
	}, fmt.Sprintf("move(%s)", item.Source))
	elapsed := time.Since(start)
	metrics.ObserveMoveDuration(item.Reason, elapsed)

	if err != nil {
		// Stopped while waiting to retry: the move never happened
		if ctx.Err() != nil && !util.PathExists(item.Dest) {
			if derr := e.store.DiscardMove(o.MoveID); derr != nil {
				return o, util.Fatal(derr)
			}
			o.Status = StatusSkipped
			o.Err = ctx.Err()
			return o, nil
		}

		merr := &util.MoveError{MoveID: o.MoveID, Source: item.Source, Dest: item.Dest, Err: err}
		if ferr := e.store.FailMove(o.MoveID, err); ferr != nil {
			return o, util.Fatal(ferr)
		}
		o.Status = StatusFailed
		o.Err = merr
		util.ErrorLog("%v", merr)
		e.logger.LogMove(scanID, o.MoveID, item.Reason, item.Source, item.Dest, StatusFailed, item.SizeMB(), elapsed, err)
		metrics.IncMove(item.Reason, StatusFailed)
		return o, nil
	}

	if err := e.store.CommitMove(o.MoveID, e.commitExtra(scanID, item, toIndex)); err != nil {
		// The file moved but the ledger did not follow. Recovery commits the
		// pending row on next startup since the destination exists.
		return o, util.Fatal(fmt.Errorf("failed to commit move %s: %w", o.MoveID, err))
	}

	o.Status = StatusMoved
	util.DebugLog("Moved %s -> %s", item.Source, item.Dest)
	e.logger.LogMove(scanID, o.MoveID, item.Reason, item.Source, item.Dest, StatusMoved, item.SizeMB(), elapsed, nil)
	metrics.IncMove(item.Reason, StatusMoved)
	return o, nil
}

// commitExtra returns the bookkeeping that must land with the commit
func (e *Executor) commitExtra(scanID string, item *plan.Item, toIndex int) func(*sql.Tx) error {
	switch item.Reason {
	case store.ReasonDedupe:
		return func(tx *sql.Tx) error {
			return e.store.MarkEditionMoved(tx, item.EditionID, true)
		}
	case store.ReasonIncomplete:
		return func(tx *sql.Tx) error {
			if err := e.store.MarkEditionMoved(tx, item.EditionID, true); err != nil {
				return err
			}
			return e.store.SetIncompleteMoved(tx, scanID, item.EditionID, true)
		}
	case store.ReasonMerge:
		return func(tx *sql.Tx) error {
			return e.store.ReassignTrack(tx, item.EditionID, item.Source, item.TargetEditionID, item.Dest, toIndex, true)
		}
	}
	return nil
}

// Reconcile commits a pending ledger row whose filesystem move completed
// before the process died, applying the same bookkeeping as a live commit
func (e *Executor) Reconcile(m *store.Move) error {
	item := &plan.Item{
		Reason:     m.Reason,
		GroupKey:   m.GroupKey,
		EditionID:  m.AlbumID,
		TrackIndex: m.TrackIndex,
		Artist:     m.Artist,
		Source:     m.OriginalPath,
		Dest:       m.MovedToPath,
	}

	toIndex := 0
	if m.Reason == store.ReasonMerge {
		target, err := e.store.GetEditionByPath(filepath.Dir(m.MovedToPath))
		if err != nil {
			return err
		}
		if target == nil {
			return fmt.Errorf("merge target for %s is not a known edition", m.MovedToPath)
		}
		item.TargetEditionID = target.ID
		if toIndex, err = e.store.NextTrackIndex(target.ID); err != nil {
			return err
		}
	}
	return e.store.CommitMove(m.MoveID, e.commitExtra(m.ScanID, item, toIndex))
}

// IsFatal reports whether an executor error must abort the run
func IsFatal(err error) bool {
	return errors.Is(err, util.ErrRunFatal)
}
