package cluster

import (
	"github.com/hbollon/go-edlib"

	"github.com/franz/edition-janitor/internal/meta"
	"github.com/franz/edition-janitor/internal/store"
)

// TitleSimilarity is the normalized Levenshtein similarity of two track
// titles after case, diacritics, punctuation and qualifier folding, in [0, 1]
func TitleSimilarity(a, b string) float64 {
	return normalizedSimilarity(meta.NormalizeTrackTitle(a), meta.NormalizeTrackTitle(b))
}

func normalizedSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	sim, err := edlib.StringsSimilarity(a, b, edlib.Levenshtein)
	if err != nil {
		return 0
	}
	return float64(sim)
}

// Match is the verdict of comparing two editions' track lists
type Match struct {
	Same  bool
	Ratio float64 // average similarity (equal counts) or overlap ratio
	Weak  bool    // same, but on a thin overlap that needs a human look
}

// Compare decides whether two editions are copies of the same work.
//
// Equal release ids read from both editions' tags always match. Ids found by
// a provider search come from the same artist and title as the bucket, so
// they never decide a match on their own. With equal track counts the
// average positional title similarity must reach threshold. With different
// counts a majority of the shorter list must find a partner whose similarity
// reaches threshold; an overlap below weakOverlap is a weak match.
func Compare(a, b *store.Edition, threshold, weakOverlap float64) Match {
	if a.ReleaseTagged && b.ReleaseTagged && a.ReleaseID != "" && a.ReleaseID == b.ReleaseID {
		return Match{Same: true, Ratio: 1}
	}

	ta, tb := normalizedTitles(a.Tracks), normalizedTitles(b.Tracks)
	if len(ta) == 0 || len(tb) == 0 {
		return Match{}
	}

	if len(ta) == len(tb) {
		sum := 0.0
		for i := range ta {
			sum += normalizedSimilarity(ta[i], tb[i])
		}
		avg := sum / float64(len(ta))
		return Match{Same: avg >= threshold, Ratio: avg}
	}

	short, long := ta, tb
	if len(short) > len(long) {
		short, long = long, short
	}
	used := make([]bool, len(long))
	matched := 0
	for _, s := range short {
		best, bestSim := -1, threshold
		for j, l := range long {
			if used[j] {
				continue
			}
			if sim := normalizedSimilarity(s, l); sim >= bestSim {
				best, bestSim = j, sim
				if sim == 1 {
					break
				}
			}
		}
		if best >= 0 {
			used[best] = true
			matched++
		}
	}

	ratio := float64(matched) / float64(len(short))
	same := ratio > 0.5
	return Match{Same: same, Ratio: ratio, Weak: same && ratio < weakOverlap}
}

func normalizedTitles(tracks []*store.Track) []string {
	out := make([]string, len(tracks))
	for i, t := range tracks {
		out[i] = meta.NormalizeTrackTitle(t.Title)
	}
	return out
}
