package score

import (
	"sort"
	"strings"

	"github.com/franz/edition-janitor/internal/meta"
	"github.com/franz/edition-janitor/internal/store"
)

const (
	// formatStep separates adjacent formats in the preference list. It is
	// larger than every other contribution combined, so no mix of bitrate,
	// completeness or bonus tracks can overturn a format advantage.
	formatStep = 100.0

	completeBonus = 50.0
	maxBonus      = 5

	// DefaultEpsilon is the margin below which a ranking counts as a near tie
	DefaultEpsilon = 5.0
)

// DefaultFormatPreference orders formats best first
var DefaultFormatPreference = []string{
	"flac", "alac", "wavpack", "ape", "aiff", "wav", "aac", "opus", "vorbis", "mp3", "wma",
}

// Scorer ranks the editions of a group
type Scorer struct {
	formats map[string]int // format -> rank, 0 is best
	epsilon float64
}

// Config holds scorer configuration
type Config struct {
	FormatPreference []string
	Epsilon          float64
}

// New creates a new Scorer
func New(cfg *Config) *Scorer {
	prefs := DefaultFormatPreference
	epsilon := DefaultEpsilon
	if cfg != nil {
		if len(cfg.FormatPreference) > 0 {
			prefs = cfg.FormatPreference
		}
		if cfg.Epsilon > 0 {
			epsilon = cfg.Epsilon
		}
	}

	formats := make(map[string]int, len(prefs))
	for i, f := range prefs {
		f = strings.ToLower(strings.TrimSpace(f))
		if _, dup := formats[f]; !dup {
			formats[f] = i
		}
	}
	return &Scorer{formats: formats, epsilon: epsilon}
}

// Ranked is one edition with its score
type Ranked struct {
	Edition  *store.Edition
	Score    float64
	Complete bool
	Bonus    int // tracks beyond the shortest edition of the group, capped
}

// Ranking is the ordered result for a group, best first
type Ranking struct {
	Entries []Ranked
	Margin  float64 // score of #1 minus score of #2; 0 for a single edition
}

// Winner returns the top edition
func (r *Ranking) Winner() *store.Edition {
	if len(r.Entries) == 0 {
		return nil
	}
	return r.Entries[0].Edition
}

// Rank scores every edition and orders them by score, then larger total
// size, then path. The same input always produces the same order.
func (s *Scorer) Rank(editions []*store.Edition) *Ranking {
	minTracks := -1
	for _, e := range editions {
		if minTracks < 0 || len(e.Tracks) < minTracks {
			minTracks = len(e.Tracks)
		}
	}

	entries := make([]Ranked, 0, len(editions))
	for _, e := range editions {
		bonus := len(e.Tracks) - minTracks
		if bonus > maxBonus {
			bonus = maxBonus
		}
		complete := IsComplete(e)
		entries = append(entries, Ranked{
			Edition:  e,
			Score:    s.Score(e, complete, bonus),
			Complete: complete,
			Bonus:    bonus,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Edition.TotalSize != b.Edition.TotalSize {
			return a.Edition.TotalSize > b.Edition.TotalSize
		}
		return a.Edition.Path < b.Edition.Path
	})

	r := &Ranking{Entries: entries}
	if len(entries) >= 2 {
		r.Margin = entries[0].Score - entries[1].Score
	}
	return r
}

// Score is the quality score of one edition
func (s *Scorer) Score(e *store.Edition, complete bool, bonus int) float64 {
	score := 0.0

	// 1. Format preference (largest weight)
	if rank, ok := s.formats[strings.ToLower(e.Format)]; ok {
		score += float64(len(s.formats)-rank) * formatStep
	}

	// 2. Completeness
	if complete {
		score += completeBonus
	}

	// 3. Resolution: bit depth and sample rate for lossless, bitrate for lossy
	if isLossless(e.Format) {
		score += getBitDepthScore(e.BitDepth)
		score += getSampleRateScore(e.SampleRate)
	} else {
		score += getBitrateScore(e.BitrateKbps)
	}

	// 4. Bonus tracks
	score += float64(bonus)

	return score
}

// NeedsTieBreak reports whether a ranking is close enough, or its bonus
// tracks uneven enough, that a second opinion should be asked for
func (s *Scorer) NeedsTieBreak(r *Ranking) bool {
	if len(r.Entries) < 2 {
		return false
	}
	if r.Margin < s.epsilon {
		return true
	}
	winner := r.Entries[0].Edition
	for _, loser := range r.Entries[1:] {
		if len(MissingFrom(winner, loser.Edition)) > 0 {
			return true
		}
	}
	return false
}

// Epsilon returns the near-tie margin
func (s *Scorer) Epsilon() float64 {
	return s.epsilon
}

// MissingFrom returns the tracks of other whose titles do not appear in kept
func MissingFrom(kept, other *store.Edition) []*store.Track {
	have := make(map[string]bool, len(kept.Tracks))
	for _, t := range kept.Tracks {
		have[meta.NormalizeTrackTitle(t.Title)] = true
	}
	var missing []*store.Track
	for _, t := range other.Tracks {
		if !have[meta.NormalizeTrackTitle(t.Title)] {
			missing = append(missing, t)
		}
	}
	return missing
}

// IsComplete reports whether an edition has no index gaps and, when the
// expected count is known, at least that many tracks
func IsComplete(e *store.Edition) bool {
	if len(e.Tracks) == 0 {
		return false
	}
	indices := make([]int, len(e.Tracks))
	for i, t := range e.Tracks {
		indices[i] = t.Index
	}
	if len(MissingRanges(indices, e.ExpectedTracks)) > 0 {
		return false
	}
	return e.ExpectedTracks == 0 || len(e.Tracks) >= e.ExpectedTracks
}

// MissingRanges returns the contiguous runs of indices absent from 1..n,
// where n is the larger of expected and the highest index present
func MissingRanges(indices []int, expected int) []store.IndexRange {
	present := make(map[int]bool, len(indices))
	maxIdx := expected
	for _, i := range indices {
		present[i] = true
		if i > maxIdx {
			maxIdx = i
		}
	}

	var ranges []store.IndexRange
	for i := 1; i <= maxIdx; i++ {
		if present[i] {
			continue
		}
		if n := len(ranges); n > 0 && ranges[n-1].End == i-1 {
			ranges[n-1].End = i
		} else {
			ranges = append(ranges, store.IndexRange{Start: i, End: i})
		}
	}
	return ranges
}

func isLossless(format string) bool {
	switch strings.ToLower(format) {
	case "flac", "alac", "wav", "aiff", "ape", "wavpack", "tta":
		return true
	}
	return false
}

// getBitDepthScore returns bonus for higher bit depth
func getBitDepthScore(bitDepth int) float64 {
	switch {
	case bitDepth == 0:
		return 0.0 // Unknown
	case bitDepth >= 24:
		return 5.0
	case bitDepth >= 20:
		return 3.0
	case bitDepth >= 16:
		return 0.0 // Baseline
	default:
		return -2.0 // Penalty for low bit depth
	}
}

// getSampleRateScore returns bonus for higher sample rate
func getSampleRateScore(sampleRate int) float64 {
	switch {
	case sampleRate == 0:
		return 0.0 // Unknown
	case sampleRate >= 96000:
		return 5.0 // Hi-res (96kHz, 192kHz)
	case sampleRate >= 48000:
		return 2.0 // 48kHz
	case sampleRate >= 44100:
		return 0.0 // CD quality baseline
	case sampleRate >= 32000:
		return -1.0
	default:
		return -3.0 // Low quality
	}
}

// getBitrateScore scales lossy bitrate into 0..10, saturating at 320 kbps
func getBitrateScore(kbps int) float64 {
	if kbps <= 0 {
		return 0
	}
	if kbps > 320 {
		kbps = 320
	}
	return float64(kbps) / 32.0
}
