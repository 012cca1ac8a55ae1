package ai

import (
	"context"
	"fmt"

	"github.com/franz/edition-janitor/internal/score"
	"github.com/franz/edition-janitor/internal/util"
)

// TrackSummary is what the tie-breaker sees of one track
type TrackSummary struct {
	Index      int    `json:"index"`
	Title      string `json:"title"`
	DurationMs int    `json:"duration_ms,omitempty"`
}

// Candidate is a structured summary of one edition of a group
type Candidate struct {
	Index       int            `json:"index"`
	Path        string         `json:"path"`
	Format      string         `json:"format"`
	BitrateKbps int            `json:"bitrate_kbps,omitempty"`
	SampleRate  int            `json:"sample_rate,omitempty"`
	BitDepth    int            `json:"bit_depth,omitempty"`
	SizeMB      float64        `json:"size_mb"`
	Score       float64        `json:"score"`
	Complete    bool           `json:"complete"`
	Tracks      []TrackSummary `json:"tracks"`
}

// Decision is the tie-breaker's verdict. MergeList names tracks of losing
// editions worth merging into the winner.
type Decision struct {
	WinnerIndex int      `json:"winner_index"`
	Rationale   string   `json:"rationale"`
	MergeList   []string `json:"merge_list"`
}

// TieBreaker picks a winner among near-tied editions
type TieBreaker interface {
	Evaluate(ctx context.Context, candidates []Candidate) (*Decision, error)
}

// Null always defers to the deterministic ranking
type Null struct{}

// Evaluate implements TieBreaker
func (Null) Evaluate(context.Context, []Candidate) (*Decision, error) {
	return nil, util.ErrAIDeferred
}

// Candidates summarizes a ranking in rank order
func Candidates(r *score.Ranking) []Candidate {
	out := make([]Candidate, len(r.Entries))
	for i, entry := range r.Entries {
		e := entry.Edition
		c := Candidate{
			Index:       i,
			Path:        e.Path,
			Format:      e.Format,
			BitrateKbps: e.BitrateKbps,
			SampleRate:  e.SampleRate,
			BitDepth:    e.BitDepth,
			SizeMB:      e.SizeMB(),
			Score:       entry.Score,
			Complete:    entry.Complete,
		}
		for _, t := range e.Tracks {
			c.Tracks = append(c.Tracks, TrackSummary{Index: t.Index, Title: t.Title, DurationMs: t.DurationMs})
		}
		out[i] = c
	}
	return out
}

// validate rejects decisions that do not refer to a candidate
func validate(d *Decision, n int) error {
	if d == nil {
		return fmt.Errorf("%w: empty decision", util.ErrAIMalformed)
	}
	if d.WinnerIndex < 0 || d.WinnerIndex >= n {
		return fmt.Errorf("%w: winner_index %d out of range [0,%d)", util.ErrAIMalformed, d.WinnerIndex, n)
	}
	return nil
}
