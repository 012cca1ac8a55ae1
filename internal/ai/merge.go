package ai

import (
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/franz/edition-janitor/internal/meta"
	"github.com/franz/edition-janitor/internal/store"
)

// ResolveMergeList maps the track names of a decision onto concrete tracks
// from the candidate pool. Names are matched by normalized title first, then
// by fuzzy search; the closest unused track wins. Names that match nothing
// are returned separately.
func ResolveMergeList(names []string, pool []*store.Track) (resolved []*store.Track, unmatched []string) {
	used := make(map[int]bool, len(pool))

	titles := make([]string, len(pool))
	normalized := make([]string, len(pool))
	for i, t := range pool {
		titles[i] = t.Title
		normalized[i] = meta.NormalizeTrackTitle(t.Title)
	}

	for _, name := range names {
		idx := -1

		want := meta.NormalizeTrackTitle(name)
		for i, n := range normalized {
			if !used[i] && n != "" && n == want {
				idx = i
				break
			}
		}

		if idx < 0 {
			ranks := fuzzy.RankFindNormalizedFold(name, titles)
			sort.Sort(ranks)
			for _, r := range ranks {
				if !used[r.OriginalIndex] {
					idx = r.OriginalIndex
					break
				}
			}
		}

		if idx < 0 {
			unmatched = append(unmatched, name)
			continue
		}
		used[idx] = true
		resolved = append(resolved, pool[idx])
	}
	return resolved, unmatched
}
