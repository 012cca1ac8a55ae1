package incomplete

import (
	"context"
	"fmt"

	"github.com/franz/edition-janitor/internal/execute"
	"github.com/franz/edition-janitor/internal/meta"
	"github.com/franz/edition-janitor/internal/plan"
	"github.com/franz/edition-janitor/internal/report"
	"github.com/franz/edition-janitor/internal/score"
	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
)

// Classification tags
const (
	TagGaps      = "gaps"      // indexes missing between present tracks
	TagTruncated = "truncated" // tracks missing after the last present one
	TagFragment  = "fragment"  // a single track of a longer album
)

// Where the expected track count came from
const (
	SourceProvider = "provider"
	SourceTags     = "tags"
	SourceIndex    = "index"
)

// Classifier finds editions with missing tracks
type Classifier struct {
	store    *store.Store
	releases meta.ReleaseProvider
	logger   *report.EventLogger
}

// Config holds classifier configuration
type Config struct {
	Store    *store.Store
	Releases meta.ReleaseProvider // nil disables provider lookups
	Logger   *report.EventLogger
}

// New creates a new Classifier
func New(cfg *Config) *Classifier {
	if cfg.Releases == nil {
		cfg.Releases = meta.NoReleases{}
	}
	return &Classifier{store: cfg.Store, releases: cfg.Releases, logger: cfg.Logger}
}

// Classify computes the incomplete editions of a scan and stores them,
// replacing earlier results for items not yet quarantined
func (c *Classifier) Classify(ctx context.Context, scanID string) ([]*store.IncompleteItem, error) {
	editions, err := c.store.ListEditionsSeenIn(scanID)
	if err != nil {
		return nil, err
	}

	var items []*store.IncompleteItem
	for _, e := range editions {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		expected, source := c.expectedTracks(ctx, e)
		item := Evaluate(e, expected, source)
		if item == nil {
			continue
		}
		item.ScanID = scanID
		items = append(items, item)
		c.logger.LogIncomplete(scanID, e.Path, item.ExpectedTracks, item.ActualTracks)
	}

	if err := c.store.ReplaceIncompleteItems(scanID, items); err != nil {
		return nil, util.Fatal(err)
	}
	util.InfoLog("Incomplete albums: %d of %d editions", len(items), len(editions))
	return items, nil
}

// expectedTracks asks the provider first and falls back to the tag total
func (c *Classifier) expectedTracks(ctx context.Context, e *store.Edition) (int, string) {
	info, err := c.releases.LookupRelease(ctx, meta.ReleaseQuery{
		ReleaseID: e.ReleaseID,
		Artist:    e.Artist,
		Album:     e.Title,
		Tracks:    len(e.Tracks),
	})
	if err != nil {
		util.DebugLog("Release lookup failed for %s: %v", e.Path, err)
	}
	if info != nil && info.TrackCount > 0 {
		return info.TrackCount, SourceProvider
	}
	if e.ExpectedTracks > 0 {
		return e.ExpectedTracks, SourceTags
	}
	return 0, SourceIndex
}

// Evaluate classifies one edition against an expected track count. With no
// expected count the highest present index stands in. It returns nil for a
// complete edition.
func Evaluate(e *store.Edition, expected int, source string) *store.IncompleteItem {
	indices := make([]int, 0, len(e.Tracks))
	maxIdx := 0
	for _, t := range e.Tracks {
		indices = append(indices, t.Index)
		if t.Index > maxIdx {
			maxIdx = t.Index
		}
	}

	ranges := score.MissingRanges(indices, expected)
	actual := len(e.Tracks)
	if expected == 0 {
		expected = maxIdx
		source = SourceIndex
	}
	if len(ranges) == 0 && actual >= expected {
		return nil
	}

	var tags []string
	for _, r := range ranges {
		if r.End < maxIdx {
			tags = appendOnce(tags, TagGaps)
		} else {
			tags = appendOnce(tags, TagTruncated)
		}
	}
	if actual == 1 && expected > 1 {
		tags = append(tags, TagFragment)
	}

	return &store.IncompleteItem{
		AlbumID:        e.ID,
		Artist:         e.Artist,
		Album:          e.Title,
		Path:           e.Path,
		Tags:           tags,
		ExpectedTracks: expected,
		ActualTracks:   actual,
		ExpectedSource: source,
		MissingRanges:  ranges,
	}
}

func appendOnce(tags []string, tag string) []string {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(tags, tag)
}

// Quarantine moves the selected incomplete editions of a scan to the
// quarantine root through the ledger, so they restore like any other move.
// Items already quarantined are skipped.
func (c *Classifier) Quarantine(ctx context.Context, scanID string, albumIDs []int64, p *plan.Planner, ex *execute.Executor) (*execute.Result, error) {
	items, err := c.store.ListIncompleteItems(scanID)
	if err != nil {
		return nil, err
	}

	wanted := make(map[int64]bool, len(albumIDs))
	for _, id := range albumIDs {
		wanted[id] = true
	}

	var planned []*plan.Item
	for _, it := range items {
		if !wanted[it.AlbumID] {
			continue
		}
		delete(wanted, it.AlbumID)
		if it.Moved {
			continue
		}

		e, err := c.store.GetEdition(it.AlbumID)
		if err != nil {
			return nil, err
		}
		if e == nil || e.Moved {
			continue
		}
		item, err := p.Quarantine(e)
		if err != nil {
			p.ReleaseAll(planned)
			return nil, err
		}
		planned = append(planned, item)
	}
	for id := range wanted {
		util.WarnLog("Album %d is not an incomplete item of scan %s", id, scanID)
	}
	if len(planned) == 0 {
		return &execute.Result{}, nil
	}

	res, err := ex.ExecuteAll(ctx, scanID, planned)
	p.ReleaseAll(planned)
	if err != nil {
		return res, fmt.Errorf("quarantine interrupted: %w", err)
	}
	return res, nil
}
