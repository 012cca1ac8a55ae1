package execute

import (
	"context"
	"fmt"

	"github.com/franz/edition-janitor/internal/plan"
	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
)

// DedupeGroup carries out a resolved group: tracks on the merge list move
// into the kept edition first, then every other edition moves to the dupes
// root. Running it again after success is a no-op.
func (e *Executor) DedupeGroup(ctx context.Context, scanID string, p *plan.Planner, g *store.AlbumGroup) (*Result, error) {
	if g.NoMove {
		return nil, fmt.Errorf("%s: %w (%s)", g.GroupKey, util.ErrGroupNoMove, g.NoMoveReason)
	}

	editions := make([]*store.Edition, 0, len(g.EditionIDs))
	var kept *store.Edition
	for _, id := range g.EditionIDs {
		ed, err := e.store.GetEdition(id)
		if err != nil {
			return nil, err
		}
		if ed == nil {
			return nil, fmt.Errorf("edition %d of group %s: %w", id, g.GroupKey, util.ErrNotFound)
		}
		if id == g.KeptEditionID {
			kept = ed
		}
		editions = append(editions, ed)
	}
	if kept == nil {
		return nil, fmt.Errorf("group %s has no kept edition", g.GroupKey)
	}

	var mergeTracks []*store.Track
	for _, path := range g.MergeList {
		t, err := e.store.GetTrackByPath(path)
		if err != nil {
			return nil, err
		}
		// Already merged, or gone since the group was resolved
		if t == nil || t.EditionID == kept.ID {
			continue
		}
		mergeTracks = append(mergeTracks, t)
	}
	merges := p.Merges(g.GroupKey, kept, mergeTracks)

	losers, err := p.Losers(g, editions)
	if err != nil {
		p.ReleaseAll(merges)
		return nil, err
	}
	defer p.ReleaseAll(losers)
	defer p.ReleaseAll(merges)

	result := &Result{}
	for _, batch := range [][]*plan.Item{merges, losers} {
		if len(batch) == 0 {
			continue
		}
		res, err := e.ExecuteAll(ctx, scanID, batch)
		result.add(res)
		if err != nil {
			return result, err
		}
	}

	if !e.dryRun && result.Failed == 0 {
		if err := e.store.SetGroupStatus(g.GroupKey, store.GroupDeduped); err != nil {
			return result, util.Fatal(err)
		}
	}
	return result, nil
}

func (r *Result) add(other *Result) {
	if other == nil {
		return
	}
	r.Outcomes = append(r.Outcomes, other.Outcomes...)
	r.Moved += other.Moved
	r.Skipped += other.Skipped
	r.Failed += other.Failed
	r.Planned += other.Planned
	r.SizeMB += other.SizeMB
}

// Merge adds other into r
func (r *Result) Merge(other *Result) {
	r.add(other)
}
