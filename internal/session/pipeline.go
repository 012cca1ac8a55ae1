package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/franz/edition-janitor/internal/ai"
	"github.com/franz/edition-janitor/internal/cluster"
	"github.com/franz/edition-janitor/internal/execute"
	"github.com/franz/edition-janitor/internal/incomplete"
	"github.com/franz/edition-janitor/internal/meta"
	"github.com/franz/edition-janitor/internal/metrics"
	"github.com/franz/edition-janitor/internal/plan"
	"github.com/franz/edition-janitor/internal/probe"
	"github.com/franz/edition-janitor/internal/report"
	"github.com/franz/edition-janitor/internal/scan"
	"github.com/franz/edition-janitor/internal/score"
	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
)

// Config holds the settings of one scan run
type Config struct {
	Roots           []string
	DupesRoot       string
	QuarantineRoot  string
	Concurrency     int
	AdditionalExts  []string
	StripQualifiers bool

	SimilarityThreshold float64
	WeakOverlap         float64
	FormatPreference    []string
	Epsilon             float64

	// AutoMove dedupes every resolved group once grouping and the AI
	// retry pass are done
	AutoMove bool

	TieBreaker          ai.TieBreaker // nil never asks
	AITimeout           time.Duration
	AIRequestsPerMinute int

	Tags     meta.TagReader
	Prober   probe.Prober
	Releases meta.ReleaseProvider
}

// pipeline runs the phases of one session
type pipeline struct {
	sess       *Session
	cfg        *Config
	store      *store.Store
	logger     *report.EventLogger
	scanner    *scan.Scanner
	grouper    *cluster.Grouper
	scorer     *score.Scorer
	guard      *ai.Guard
	planner    *plan.Planner
	exec       *execute.Executor
	classifier *incomplete.Classifier
}

func newPipeline(sess *Session, cfg *Config, st *store.Store, logger *report.EventLogger, exec *execute.Executor) *pipeline {
	exclude := []string{cfg.DupesRoot, cfg.QuarantineRoot}
	return &pipeline{
		sess:   sess,
		cfg:    cfg,
		store:  st,
		logger: logger,
		scanner: scan.New(&scan.Config{
			Store:           st,
			Tags:            cfg.Tags,
			Prober:          cfg.Prober,
			Releases:        cfg.Releases,
			AdditionalExts:  cfg.AdditionalExts,
			Exclude:         exclude,
			Concurrency:     cfg.Concurrency,
			StripQualifiers: cfg.StripQualifiers,
			Logger:          logger,
		}),
		grouper: cluster.New(&cluster.Config{Threshold: cfg.SimilarityThreshold, WeakOverlap: cfg.WeakOverlap}),
		scorer:  score.New(&score.Config{FormatPreference: cfg.FormatPreference, Epsilon: cfg.Epsilon}),
		guard:   ai.NewGuard(cfg.TieBreaker, cfg.AITimeout, cfg.AIRequestsPerMinute),
		planner: plan.New(&plan.Config{DupesRoot: cfg.DupesRoot, QuarantineRoot: cfg.QuarantineRoot}),
		exec:    exec,
		classifier: incomplete.New(&incomplete.Config{
			Store:    st,
			Releases: cfg.Releases,
			Logger:   logger,
		}),
	}
}

// run executes every phase in order. The returned error is nil on
// completion, the context error when stopped, and anything else is fatal.
func (p *pipeline) run(ctx context.Context) error {
	s := p.sess

	if err := p.store.Ping(); err != nil {
		return util.Fatal(fmt.Errorf("ledger store is not writable: %w", err))
	}

	s.setPhase(PhaseDiscover)
	albums, err := p.scanner.Discover(ctx, p.cfg.Roots)
	if err != nil {
		return err
	}
	s.update(func(pr *Progress) { pr.AlbumsTotal = len(albums) })
	s.flush()

	s.setPhase(PhaseScan)
	events := make(chan scan.Event, 64)
	consumed := make(chan struct{})
	go func() {
		s.consume(events)
		close(consumed)
	}()
	p.scanner.ScanAlbums(ctx, s.id, albums, s, events)
	close(events)
	<-consumed
	if err := p.stopped(ctx); err != nil {
		return err
	}

	s.setPhase(PhaseGroup)
	if err := p.groupAll(ctx); err != nil {
		return err
	}

	s.setPhase(PhaseAIRetry)
	if err := p.retryAI(ctx); err != nil {
		return err
	}

	if p.cfg.AutoMove {
		s.setPhase(PhaseMove)
		if err := p.autoMove(ctx); err != nil {
			return err
		}
	}

	s.setPhase(PhaseIncomplete)
	if _, err := p.classifier.Classify(ctx, s.id); err != nil {
		return err
	}

	// A pause requested during the last phase still holds the session
	if err := s.Wait(ctx); err != nil {
		return context.Canceled
	}
	s.setPhase(PhaseDone)
	return nil
}

// stopped returns the reason the run should end, if any
func (p *pipeline) stopped(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if IsTerminal(p.sess.State()) {
		return context.Canceled
	}
	return nil
}

// groupAll groups, ranks and resolves each artist as one unit of work
func (p *pipeline) groupAll(ctx context.Context) error {
	editions, err := p.store.ListEditionsSeenIn(p.sess.id)
	if err != nil {
		return util.Fatal(err)
	}

	byArtist := make(map[string][]*store.Edition)
	for _, e := range editions {
		byArtist[e.ArtistKey] = append(byArtist[e.ArtistKey], e)
	}
	artists := make([]string, 0, len(byArtist))
	for k := range byArtist {
		artists = append(artists, k)
	}
	sort.Strings(artists)
	p.sess.update(func(pr *Progress) { pr.ArtistsTotal = len(artists) })

	workers := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError().
		WithMaxGoroutines(max(p.cfg.Concurrency, 1))
	for _, artistKey := range artists {
		eds := byArtist[artistKey]
		workers.Go(func(ctx context.Context) error {
			if err := p.sess.Wait(ctx); err != nil {
				return err
			}
			return p.resolveArtist(ctx, artistKey, eds)
		})
	}
	err = workers.Wait()
	p.sess.flush()
	if err != nil {
		if errors.Is(err, errEnded) {
			return context.Canceled
		}
		return err
	}
	return p.stopped(ctx)
}

// resolveArtist replaces the stored groups of one artist
func (p *pipeline) resolveArtist(ctx context.Context, artistKey string, editions []*store.Edition) error {
	var records []*store.AlbumGroup
	var failures []*util.AIError
	found := 0

	for _, g := range p.grouper.GroupArtist(editions) {
		rec, aiErr, err := p.resolveGroup(ctx, g)
		if err != nil {
			return err
		}
		records = append(records, rec)
		if aiErr != nil {
			failures = append(failures, aiErr)
		}
		if len(rec.EditionIDs) > 1 {
			found++
		}
	}

	if err := p.store.ReplaceArtistGroups(p.sess.id, artistKey, records); err != nil {
		return util.Fatal(err)
	}
	for _, ae := range failures {
		if err := p.recordAIFailure(ae); err != nil {
			return err
		}
	}

	p.sess.update(func(pr *Progress) {
		pr.GroupsFound += found
		pr.ArtistsProcessed++
	})
	return nil
}

// resolveGroup ranks a group and picks its kept edition. A near tie asks
// the tie-breaker; when that fails the deterministic ranking stands and the
// failure is returned for recording.
func (p *pipeline) resolveGroup(ctx context.Context, g *cluster.Group) (*store.AlbumGroup, *util.AIError, error) {
	rec := g.Record(p.sess.id)
	metrics.IncGroups(g.NoMove)
	p.logger.LogGroup(p.sess.id, rec.GroupKey, rec.Title, len(g.Editions), g.NoMove)

	ranking := p.scorer.Rank(g.Editions)
	applyRanking(rec, ranking)
	if g.NoMove {
		util.WarnLog("Group %s - %s needs manual review (%s)", rec.Artist, rec.Title, rec.NoMoveReason)
		return rec, nil, nil
	}

	winner := 0
	var aiErr *util.AIError
	if p.scorer.NeedsTieBreak(ranking) {
		d, ae, err := p.tieBreak(ctx, rec.GroupKey, ranking)
		if err != nil {
			return nil, nil, err
		}
		aiErr = ae
		if d != nil {
			winner = d.WinnerIndex
			p.applyDecision(rec, ranking, d)
		}
	}

	if err := p.keep(rec, ranking, winner); err != nil {
		return nil, nil, err
	}
	return rec, aiErr, nil
}

func applyRanking(rec *store.AlbumGroup, r *score.Ranking) {
	rec.EditionIDs = make([]int64, len(r.Entries))
	rec.Scores = make([]float64, len(r.Entries))
	for i, e := range r.Entries {
		rec.EditionIDs[i] = e.Edition.ID
		rec.Scores[i] = e.Score
	}
	rec.Margin = r.Margin
}

// tieBreak returns a decision, a recordable failure, or a run-level error
func (p *pipeline) tieBreak(ctx context.Context, groupKey string, r *score.Ranking) (*ai.Decision, *util.AIError, error) {
	start := time.Now()
	d, err := p.guard.Evaluate(ctx, groupKey, ai.Candidates(r))
	elapsed := time.Since(start)

	var ae *util.AIError
	switch {
	case err == nil:
		metrics.IncAI("decided")
		p.logger.LogAI(p.sess.id, groupKey, "decided", elapsed, nil)
		return d, nil, nil
	case errors.Is(err, util.ErrAIDeferred):
		metrics.IncAI("deferred")
		p.logger.LogAI(p.sess.id, groupKey, "deferred", elapsed, nil)
		return nil, nil, nil
	case errors.As(err, &ae):
		metrics.IncAI("failed")
		p.logger.LogAI(p.sess.id, groupKey, "failed", elapsed, err)
		util.WarnLog("Tie-breaker failed for %s, keeping the score ranking: %v", groupKey, err)
		return nil, ae, nil
	}
	return nil, nil, err
}

// applyDecision records the rationale and the bonus tracks the tie-breaker
// wants merged into the winner
func (p *pipeline) applyDecision(rec *store.AlbumGroup, r *score.Ranking, d *ai.Decision) {
	rec.AIRationale = d.Rationale
	rec.MergeList = nil

	winner := r.Entries[d.WinnerIndex].Edition
	var candidates []*store.Track
	for i, e := range r.Entries {
		if i != d.WinnerIndex {
			candidates = append(candidates, score.MissingFrom(winner, e.Edition)...)
		}
	}
	resolved, unmatched := ai.ResolveMergeList(d.MergeList, candidates)
	for _, t := range resolved {
		rec.MergeList = append(rec.MergeList, t.Path)
	}
	for _, name := range unmatched {
		util.WarnLog("Group %s: merge candidate %q matches no bonus track", rec.GroupKey, name)
	}

	if err := p.store.SetEditionFlags(winner.ID, true, winner.NoMove); err != nil {
		util.WarnLog("Failed to flag %s as verified: %v", winner.Path, err)
	}
}

// keep marks the winner as kept and flags the bonus tracks of every loser
func (p *pipeline) keep(rec *store.AlbumGroup, r *score.Ranking, winner int) error {
	kept := r.Entries[winner]
	rec.KeptEditionID = kept.Edition.ID
	rec.Status = store.GroupResolved

	if len(r.Entries) > 1 {
		for i, e := range r.Entries {
			var bonus []string
			if i != winner {
				for _, t := range score.MissingFrom(kept.Edition, e.Edition) {
					bonus = append(bonus, t.Path)
				}
			}
			if err := p.store.MarkBonusTracks(e.Edition.ID, bonus); err != nil {
				return util.Fatal(err)
			}
		}
	}

	p.logger.LogScore(p.sess.id, rec.GroupKey, kept.Edition.Path, kept.Score, r.Margin)
	return nil
}

func (p *pipeline) recordAIFailure(ae *util.AIError) error {
	err := p.store.RecordAIFailure(&store.AIFailure{
		ScanID:      p.sess.id,
		GroupKey:    ae.GroupKey,
		Kind:        string(ae.Kind),
		Recoverable: ae.Recoverable,
		Error:       ae.Error(),
	})
	if err != nil {
		return util.Fatal(err)
	}
	p.sess.update(func(pr *Progress) {
		pr.AIFailed++
		if !ae.Recoverable {
			pr.AIUnresolved++
		}
		pr.LastError = ae.Error()
	})
	return nil
}

// retryAI gives every recoverable failure one more attempt. A success
// replaces the score-based pick; anything else leaves it standing.
func (p *pipeline) retryAI(ctx context.Context) error {
	failures, err := p.store.ListPendingAIFailures(p.sess.id)
	if err != nil {
		return util.Fatal(err)
	}
	if len(failures) > 0 {
		util.InfoLog("Retrying %d tie-breaker failures", len(failures))
	}

	for _, f := range failures {
		if err := p.sess.Wait(ctx); err != nil {
			return context.Canceled
		}
		recovered, err := p.retryGroup(ctx, f.GroupKey)
		if err != nil {
			return err
		}
		if err := p.store.ResolveAIFailure(f.ID, recovered); err != nil {
			return util.Fatal(err)
		}
		if recovered {
			metrics.IncAI("recovered")
		} else {
			metrics.IncAI("unresolved")
		}
		p.sess.update(func(pr *Progress) {
			if recovered {
				pr.AIRecovered++
			} else {
				pr.AIUnresolved++
			}
		})
	}
	return nil
}

func (p *pipeline) retryGroup(ctx context.Context, groupKey string) (bool, error) {
	rec, err := p.store.GetGroup(groupKey)
	if err != nil {
		return false, util.Fatal(err)
	}
	if rec == nil || rec.NoMove {
		return false, nil
	}

	editions := make([]*store.Edition, 0, len(rec.EditionIDs))
	for _, id := range rec.EditionIDs {
		e, err := p.store.GetEdition(id)
		if err != nil {
			return false, util.Fatal(err)
		}
		if e != nil && !e.Moved {
			editions = append(editions, e)
		}
	}
	if len(editions) < 2 {
		return false, nil
	}

	ranking := p.scorer.Rank(editions)
	d, _, err := p.tieBreak(ctx, groupKey, ranking)
	if err != nil || d == nil {
		return false, err
	}

	applyRanking(rec, ranking)
	p.applyDecision(rec, ranking, d)
	if err := p.keep(rec, ranking, d.WinnerIndex); err != nil {
		return false, err
	}
	if err := p.store.SaveGroup(rec); err != nil {
		return false, util.Fatal(err)
	}
	return true, nil
}

// autoMove dedupes every resolved group of the run
func (p *pipeline) autoMove(ctx context.Context) error {
	groups, err := p.store.ListGroups(p.sess.id, 2)
	if err != nil {
		return util.Fatal(err)
	}

	for _, g := range groups {
		if g.NoMove || g.Status != store.GroupResolved {
			continue
		}
		if err := p.sess.Wait(ctx); err != nil {
			return context.Canceled
		}

		res, err := p.exec.DedupeGroup(ctx, p.sess.id, p.planner, g)
		if res != nil {
			moved, saved := dedupeTotals(res)
			p.sess.update(func(pr *Progress) {
				pr.AlbumsMoved += moved
				pr.SpaceSavedMB += saved
			})
			for _, e := range res.Errors() {
				p.sess.update(func(pr *Progress) { pr.LastError = e.Error() })
			}
		}
		if err != nil {
			if execute.IsFatal(err) || ctx.Err() != nil {
				return err
			}
			util.WarnLog("Skipping group %s: %v", g.GroupKey, err)
		}
	}
	return nil
}

func dedupeTotals(res *execute.Result) (moved int, saved float64) {
	for _, o := range res.Outcomes {
		if o.Status == execute.StatusMoved && o.Item.Reason == store.ReasonDedupe {
			moved++
		}
	}
	return moved, res.SizeMB
}
