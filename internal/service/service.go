package service

import (
	"context"
	"fmt"
	"io"

	"github.com/franz/edition-janitor/internal/execute"
	"github.com/franz/edition-janitor/internal/incomplete"
	"github.com/franz/edition-janitor/internal/ledger"
	"github.com/franz/edition-janitor/internal/meta"
	"github.com/franz/edition-janitor/internal/metrics"
	"github.com/franz/edition-janitor/internal/plan"
	"github.com/franz/edition-janitor/internal/report"
	"github.com/franz/edition-janitor/internal/score"
	"github.com/franz/edition-janitor/internal/session"
	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
)

// Service exposes the library operations used by the CLI and the HTTP API
type Service struct {
	store      *store.Store
	logger     *report.EventLogger
	manager    *session.Manager
	exec       *execute.Executor
	dryExec    *execute.Executor
	ledger     *ledger.Ledger
	planner    *plan.Planner
	classifier *incomplete.Classifier
}

// Config holds service dependencies
type Config struct {
	Store          *store.Store
	Logger         *report.EventLogger
	DupesRoot      string
	QuarantineRoot string
	LockPath       string
	Concurrency    int
	MoveRetry      *util.RetryConfig
	Releases       meta.ReleaseProvider
}

// New wires the components around one store
func New(cfg *Config) *Service {
	exec := execute.New(&execute.Config{
		Store:       cfg.Store,
		Concurrency: cfg.Concurrency,
		RetryConfig: cfg.MoveRetry,
		Logger:      cfg.Logger,
	})
	lockPath := cfg.LockPath
	if lockPath == "" {
		lockPath = cfg.Store.Path() + ".lock"
	}

	return &Service{
		store:  cfg.Store,
		logger: cfg.Logger,
		manager: session.NewManager(&session.ManagerConfig{
			Store:    cfg.Store,
			Logger:   cfg.Logger,
			Executor: exec,
			LockPath: lockPath,
		}),
		exec:    exec,
		dryExec: execute.New(&execute.Config{Store: cfg.Store, DryRun: true, Logger: cfg.Logger}),
		ledger: ledger.New(&ledger.Config{
			Store:       cfg.Store,
			Executor:    exec,
			RetryConfig: cfg.MoveRetry,
			Logger:      cfg.Logger,
		}),
		planner:    plan.New(&plan.Config{DupesRoot: cfg.DupesRoot, QuarantineRoot: cfg.QuarantineRoot}),
		classifier: incomplete.New(&incomplete.Config{Store: cfg.Store, Releases: cfg.Releases, Logger: cfg.Logger}),
	}
}

// GroupView is a group with its editions, in rank order
type GroupView struct {
	*store.AlbumGroup
	Editions []*store.Edition
}

// resolveScanID defaults an empty id to the latest run
func (s *Service) resolveScanID(scanID string) (string, error) {
	if scanID != "" {
		return scanID, nil
	}
	run, err := s.store.LatestScanRun()
	if err != nil {
		return "", err
	}
	if run == nil {
		return "", fmt.Errorf("%w: no scan runs yet", util.ErrNotFound)
	}
	return run.ScanID, nil
}

func (s *Service) group(groupKey string) (*store.AlbumGroup, error) {
	g, err := s.store.GetGroup(groupKey)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, fmt.Errorf("group %s: %w", groupKey, util.ErrNotFound)
	}
	return g, nil
}

func (s *Service) view(g *store.AlbumGroup) (*GroupView, error) {
	v := &GroupView{AlbumGroup: g}
	for _, id := range g.EditionIDs {
		e, err := s.store.GetEdition(id)
		if err != nil {
			return nil, err
		}
		if e != nil {
			v.Editions = append(v.Editions, e)
		}
	}
	return v, nil
}

// ListDuplicateGroups returns the groups of a run that hold two or more
// editions. An empty scanID means the latest run.
func (s *Service) ListDuplicateGroups(scanID string) ([]*GroupView, error) {
	scanID, err := s.resolveScanID(scanID)
	if err != nil {
		return nil, err
	}
	groups, err := s.store.ListGroups(scanID, 2)
	if err != nil {
		return nil, err
	}
	views := make([]*GroupView, 0, len(groups))
	for _, g := range groups {
		v, err := s.view(g)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// GetEditionDetails returns one group with every edition and its tracks
func (s *Service) GetEditionDetails(groupKey string) (*GroupView, error) {
	g, err := s.group(groupKey)
	if err != nil {
		return nil, err
	}
	return s.view(g)
}

// StartScan starts a session in the background
func (s *Service) StartScan(ctx context.Context, cfg *session.Config) (*session.Session, error) {
	return s.manager.Start(ctx, cfg)
}

// PauseScan pauses the active session
func (s *Service) PauseScan() error { return s.manager.Pause() }

// ResumeScan resumes the active session
func (s *Service) ResumeScan() error { return s.manager.Resume() }

// StopScan stops the active session
func (s *Service) StopScan() error { return s.manager.Stop() }

// GetScanProgress returns the live or last known progress
func (s *Service) GetScanProgress() (*session.Progress, error) { return s.manager.Progress() }

// Shutdown stops any running session and waits for it
func (s *Service) Shutdown(ctx context.Context) error { return s.manager.Shutdown(ctx) }

// DedupeGroup moves the losers of one resolved group. Calling it again once
// the losers are gone does nothing.
func (s *Service) DedupeGroup(ctx context.Context, groupKey string) (*execute.Result, error) {
	g, err := s.group(groupKey)
	if err != nil {
		return nil, err
	}
	res, err := s.exec.DedupeGroup(ctx, g.ScanID, s.planner, g)
	s.publishSpaceSaved(g.ScanID)
	return res, err
}

// DedupeAll dedupes every resolved group of a run. Groups awaiting manual
// review are left alone.
func (s *Service) DedupeAll(ctx context.Context, scanID string) (*execute.Result, error) {
	scanID, err := s.resolveScanID(scanID)
	if err != nil {
		return nil, err
	}
	groups, err := s.store.ListGroups(scanID, 2)
	if err != nil {
		return nil, err
	}

	total := &execute.Result{}
	defer s.publishSpaceSaved(scanID)
	for _, g := range groups {
		if g.NoMove || g.Status != store.GroupResolved {
			continue
		}
		res, err := s.exec.DedupeGroup(ctx, scanID, s.planner, g)
		total.Merge(res)
		if err != nil {
			if execute.IsFatal(err) || ctx.Err() != nil {
				return total, err
			}
			util.WarnLog("Skipping group %s: %v", g.GroupKey, err)
		}
	}
	return total, nil
}

// DryRun returns what DedupeGroup would do without touching disk or the ledger
func (s *Service) DryRun(ctx context.Context, groupKey string) (*execute.Result, error) {
	g, err := s.group(groupKey)
	if err != nil {
		return nil, err
	}
	return s.dryExec.DedupeGroup(ctx, g.ScanID, s.planner, g)
}

// MoveBonusTrack moves one track of a group's edition into another edition
// of the same group
func (s *Service) MoveBonusTrack(ctx context.Context, groupKey string, editionIndex int, trackPath string, targetIndex int) (*execute.Outcome, error) {
	g, err := s.group(groupKey)
	if err != nil {
		return nil, err
	}
	if editionIndex == targetIndex {
		return nil, fmt.Errorf("%w: source and target edition are the same", util.ErrInvalidConfig)
	}
	from, err := s.editionAt(g, editionIndex)
	if err != nil {
		return nil, err
	}
	target, err := s.editionAt(g, targetIndex)
	if err != nil {
		return nil, err
	}

	var track *store.Track
	for _, t := range from.Tracks {
		if t.Path == trackPath {
			track = t
			break
		}
	}
	if track == nil {
		return nil, fmt.Errorf("track %s in edition %d: %w", trackPath, editionIndex, util.ErrNotFound)
	}

	item := s.planner.Merge(groupKey, target, track)
	o, err := s.exec.Execute(ctx, g.ScanID, item)
	s.planner.Release(item.Dest)
	return o, err
}

func (s *Service) editionAt(g *store.AlbumGroup, index int) (*store.Edition, error) {
	if index < 0 || index >= len(g.EditionIDs) {
		return nil, fmt.Errorf("edition index %d of group %s: %w", index, g.GroupKey, util.ErrNotFound)
	}
	e, err := s.store.GetEdition(g.EditionIDs[index])
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("edition %d: %w", g.EditionIDs[index], util.ErrNotFound)
	}
	return e, nil
}

// ChooseEdition sets the kept edition of a group by hand. It is how groups
// flagged for manual review get resolved.
func (s *Service) ChooseEdition(groupKey string, editionIndex int) (*GroupView, error) {
	g, err := s.group(groupKey)
	if err != nil {
		return nil, err
	}
	if g.Status == store.GroupDeduped {
		return nil, fmt.Errorf("%w: group %s is already deduped", util.ErrInvalidTransition, groupKey)
	}
	kept, err := s.editionAt(g, editionIndex)
	if err != nil {
		return nil, err
	}

	g.KeptEditionID = kept.ID
	g.NoMove = false
	g.NoMoveReason = ""
	g.Status = store.GroupResolved

	v, err := s.view(g)
	if err != nil {
		return nil, err
	}
	for _, e := range v.Editions {
		var bonus []string
		if e.ID != kept.ID {
			for _, t := range score.MissingFrom(kept, e) {
				bonus = append(bonus, t.Path)
			}
		}
		if err := s.store.MarkBonusTracks(e.ID, bonus); err != nil {
			return nil, err
		}
	}
	if err := s.store.SaveGroup(g); err != nil {
		return nil, err
	}
	util.InfoLog("Group %s - %s: keeping %s", g.Artist, g.Title, kept.Path)
	return v, nil
}

// GetScanHistory lists every run, newest first
func (s *Service) GetScanHistory() ([]*store.ScanRun, error) {
	return s.store.ListScanRuns()
}

// GetScanRun returns one run
func (s *Service) GetScanRun(scanID string) (*store.ScanRun, error) {
	scanID, err := s.resolveScanID(scanID)
	if err != nil {
		return nil, err
	}
	run, err := s.store.GetScanRun(scanID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("scan %s: %w", scanID, util.ErrNotFound)
	}
	return run, nil
}

// GetScanMoves lists the ledger of one run
func (s *Service) GetScanMoves(scanID string) ([]*store.Move, error) {
	scanID, err := s.resolveScanID(scanID)
	if err != nil {
		return nil, err
	}
	return s.store.ListMoves(store.MoveFilter{ScanID: scanID})
}

// RestoreMoves undoes the given moves, or all moves of the run when all is set
func (s *Service) RestoreMoves(ctx context.Context, scanID string, moveIDs []string, all bool) (*ledger.RestoreResult, error) {
	scanID, err := s.resolveScanID(scanID)
	if err != nil {
		return nil, err
	}
	if !all && len(moveIDs) == 0 {
		return nil, fmt.Errorf("%w: no moves selected", util.ErrInvalidConfig)
	}
	return s.ledger.Restore(ctx, scanID, moveIDs, all)
}

// GetIncompleteAlbums lists the incomplete editions found by a run
func (s *Service) GetIncompleteAlbums(scanID string) ([]*store.IncompleteItem, error) {
	scanID, err := s.resolveScanID(scanID)
	if err != nil {
		return nil, err
	}
	return s.store.ListIncompleteItems(scanID)
}

// MoveIncompleteAlbums quarantines the selected incomplete editions
func (s *Service) MoveIncompleteAlbums(ctx context.Context, scanID string, albumIDs []int64) (*execute.Result, error) {
	scanID, err := s.resolveScanID(scanID)
	if err != nil {
		return nil, err
	}
	return s.classifier.Quarantine(ctx, scanID, albumIDs, s.planner, s.exec)
}

// ExportIncomplete writes the incomplete editions of a run as JSON or CSV
func (s *Service) ExportIncomplete(w io.Writer, scanID, format string) error {
	items, err := s.GetIncompleteAlbums(scanID)
	if err != nil {
		return err
	}
	return incomplete.Export(w, items, format)
}

// Recovery is what startup recovery settled
type Recovery struct {
	*ledger.RecoverResult
	InterruptedRuns int64
}

// Recover settles tentative ledger rows left by an interrupted process and
// fails runs a crashed process left running or paused. While a session holds
// the lock its pending rows are in flight, so nothing is touched and the
// error wraps util.ErrScanActive.
func (s *Service) Recover() (*Recovery, error) {
	rec := &Recovery{}
	ok, err := s.manager.WhileIdle(func() error {
		res, err := s.ledger.Recover()
		if err != nil {
			return err
		}
		rec.RecoverResult = res
		rec.InterruptedRuns, err = s.store.InterruptRunningRuns("interrupted: process exited during the run")
		return err
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: leaving pending moves to it", util.ErrScanActive)
	}
	return rec, nil
}

// Summary builds the run summary
func (s *Service) Summary(scanID string) (*report.RunSummary, error) {
	scanID, err := s.resolveScanID(scanID)
	if err != nil {
		return nil, err
	}
	return report.BuildRunSummary(s.store, scanID, s.logger.Path())
}

func (s *Service) publishSpaceSaved(scanID string) {
	if saved, err := s.store.SpaceSavedMB(scanID); err == nil {
		metrics.SetSpaceSaved(saved)
	}
}
