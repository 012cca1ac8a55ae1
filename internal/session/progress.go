package session

import (
	"time"

	"github.com/franz/edition-janitor/internal/metrics"
	"github.com/franz/edition-janitor/internal/scan"
	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
)

// Pipeline phases
const (
	PhaseDiscover   = "discover"
	PhaseScan       = "scan"
	PhaseGroup      = "group"
	PhaseAIRetry    = "ai_retry"
	PhaseMove       = "move"
	PhaseIncomplete = "incomplete"
	PhaseDone       = "done"
)

// flushEvery is how many scan events pass between counter flushes
const flushEvery = 25

// Progress is a point-in-time view of a session
type Progress struct {
	ScanID           string    `json:"scan_id"`
	State            string    `json:"state"`
	Phase            string    `json:"phase,omitempty"`
	AlbumsTotal      int       `json:"albums_total"`
	AlbumsScanned    int       `json:"albums_scanned"`
	AlbumsCached     int       `json:"albums_cached"`
	ArtistsTotal     int       `json:"artists_total"`
	ArtistsProcessed int       `json:"artists_processed"`
	ScanErrors       int       `json:"scan_errors"`
	GroupsFound      int       `json:"groups_found"`
	AlbumsMoved      int       `json:"albums_moved"`
	SpaceSavedMB     float64   `json:"space_saved_mb"`
	AIFailed         int       `json:"ai_failed"`
	AIRecovered      int       `json:"ai_recovered"`
	AIUnresolved     int       `json:"ai_unresolved"`
	LastError        string    `json:"last_error,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	EndedAt          time.Time `json:"ended_at,omitzero"`
}

// FromRun builds a progress view of a persisted run
func FromRun(run *store.ScanRun) *Progress {
	return &Progress{
		ScanID:           run.ScanID,
		State:            run.Status,
		AlbumsTotal:      run.AlbumsTotal,
		AlbumsScanned:    run.AlbumsScanned,
		ArtistsTotal:     run.ArtistsTotal,
		ArtistsProcessed: run.ArtistsProcessed,
		ScanErrors:       run.ScanErrors,
		GroupsFound:      run.GroupsFound,
		AlbumsMoved:      run.AlbumsMoved,
		SpaceSavedMB:     run.SpaceSavedMB,
		AIFailed:         run.AIFailed,
		AIRecovered:      run.AIRecovered,
		AIUnresolved:     run.AIUnresolved,
		LastError:        run.LastError,
		StartedAt:        run.StartedAt,
		UpdatedAt:        run.EndedAt,
		EndedAt:          run.EndedAt,
	}
}

// Percent is the share of albums processed, 0-100
func (p *Progress) Percent() float64 {
	if p.AlbumsTotal == 0 {
		return 0
	}
	return float64(p.AlbumsScanned) / float64(p.AlbumsTotal) * 100
}

// Snapshot returns a copy of the live progress
func (s *Session) Snapshot() *Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.progress
	return &p
}

func (s *Session) update(fn func(p *Progress)) {
	s.mu.Lock()
	fn(&s.progress)
	s.progress.UpdatedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) setPhase(phase string) {
	s.update(func(p *Progress) { p.Phase = phase })
	util.DebugLog("Scan %s: phase %s", s.id, phase)
}

// consume folds scanner events into the snapshot until events is closed.
// Workers never wait on readers of the snapshot.
func (s *Session) consume(events <-chan scan.Event) {
	n := 0
	for ev := range events {
		s.update(func(p *Progress) {
			switch {
			case ev.Interrupted:
				return
			case ev.Err != nil:
				p.ScanErrors++
				p.LastError = ev.Err.Error()
			case ev.Cached:
				p.AlbumsCached++
			}
			p.AlbumsScanned++
		})

		switch {
		case ev.Interrupted:
		case ev.Err != nil:
			metrics.IncScanErrors()
		default:
			metrics.IncAlbumsScanned(ev.Cached)
		}

		n++
		if n%flushEvery == 0 {
			s.flush()
		}
	}
	s.flush()
}

// flush persists the progress counters to the run row
func (s *Session) flush() {
	p := s.Snapshot()
	err := s.store.UpdateScanRunCounters(s.id, store.RunCounters{
		AlbumsTotal:      p.AlbumsTotal,
		AlbumsScanned:    p.AlbumsScanned,
		ArtistsTotal:     p.ArtistsTotal,
		ArtistsProcessed: p.ArtistsProcessed,
		ScanErrors:       p.ScanErrors,
		GroupsFound:      p.GroupsFound,
		LastError:        p.LastError,
	})
	if err != nil {
		util.WarnLog("Failed to flush scan counters: %v", err)
	}
}
