package plan

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/franz/edition-janitor/internal/meta"
	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
)

// Item is one planned relocation
type Item struct {
	Reason          string // store.ReasonDedupe, ReasonMerge or ReasonIncomplete
	GroupKey        string
	EditionID       int64 // edition owning the source
	TargetEditionID int64 // merges only: edition receiving the track
	TrackIndex      int   // merges only: index of the source track
	Artist          string
	Source          string
	Dest            string
	SizeBytes       int64
}

// SizeMB returns the planned size in megabytes
func (i *Item) SizeMB() float64 {
	return float64(i.SizeBytes) / (1024 * 1024)
}

// Planner computes destinations. Paths handed out by one planner are
// reserved, so two items never target the same place.
type Planner struct {
	dupesRoot      string
	quarantineRoot string

	mu       sync.Mutex
	reserved map[string]bool
}

// Config holds planner configuration
type Config struct {
	DupesRoot      string
	QuarantineRoot string
}

// New creates a new Planner
func New(cfg *Config) *Planner {
	return &Planner{
		dupesRoot:      filepath.Clean(cfg.DupesRoot),
		quarantineRoot: filepath.Clean(cfg.QuarantineRoot),
		reserved:       make(map[string]bool),
	}
}

// Losers plans a move to the dupes root for every edition of a resolved
// group except the kept one. Editions already moved are skipped.
func (p *Planner) Losers(g *store.AlbumGroup, editions []*store.Edition) ([]*Item, error) {
	if g.NoMove {
		return nil, fmt.Errorf("%s: %w (%s)", g.GroupKey, util.ErrGroupNoMove, g.NoMoveReason)
	}
	if g.KeptEditionID == 0 {
		return nil, fmt.Errorf("group %s has no kept edition", g.GroupKey)
	}
	if p.dupesRoot == "." || p.dupesRoot == "" {
		return nil, fmt.Errorf("%w: dupes root not set", util.ErrInvalidConfig)
	}

	var items []*Item
	for _, e := range editions {
		if e.ID == g.KeptEditionID || e.Moved {
			continue
		}
		title := meta.SanitizePathComponent(e.Title)
		if title == "" {
			title = meta.SanitizePathComponent(filepath.Base(e.Path))
		}
		base := filepath.Join(p.dupesRoot, relativeParent(e), title)
		items = append(items, &Item{
			Reason:    store.ReasonDedupe,
			GroupKey:  g.GroupKey,
			EditionID: e.ID,
			Artist:    e.Artist,
			Source:    e.Path,
			Dest:      p.reserve(base, true, false),
			SizeBytes: e.TotalSize,
		})
	}
	return items, nil
}

// Merges plans moving tracks of losing editions into the kept edition's folder
func (p *Planner) Merges(groupKey string, kept *store.Edition, tracks []*store.Track) []*Item {
	items := make([]*Item, 0, len(tracks))
	for _, t := range tracks {
		items = append(items, p.Merge(groupKey, kept, t))
	}
	return items
}

// Merge plans moving a single track into the kept edition's folder
func (p *Planner) Merge(groupKey string, kept *store.Edition, t *store.Track) *Item {
	return &Item{
		Reason:          store.ReasonMerge,
		GroupKey:        groupKey,
		EditionID:       t.EditionID,
		TargetEditionID: kept.ID,
		TrackIndex:      t.Index,
		Artist:          kept.Artist,
		Source:          t.Path,
		Dest:            p.reserve(filepath.Join(kept.Path, filepath.Base(t.Path)), false, true),
		SizeBytes:       t.SizeBytes,
	}
}

// Quarantine plans moving an incomplete edition to the quarantine root
func (p *Planner) Quarantine(e *store.Edition) (*Item, error) {
	if p.quarantineRoot == "." || p.quarantineRoot == "" {
		return nil, fmt.Errorf("%w: quarantine root not set", util.ErrInvalidConfig)
	}
	base := filepath.Join(p.quarantineRoot, relativeParent(e), filepath.Base(e.Path))
	return &Item{
		Reason:    store.ReasonIncomplete,
		EditionID: e.ID,
		Artist:    e.Artist,
		Source:    e.Path,
		Dest:      p.reserve(base, false, false),
		SizeBytes: e.TotalSize,
	}, nil
}

// Release gives a reserved destination back. Call it once an item has been
// executed or abandoned; a destination that was filled stays taken on disk.
func (p *Planner) Release(dest string) {
	p.mu.Lock()
	delete(p.reserved, dest)
	p.mu.Unlock()
}

// ReleaseAll releases the destinations of every item
func (p *Planner) ReleaseAll(items []*Item) {
	p.mu.Lock()
	for _, it := range items {
		delete(p.reserved, it.Dest)
	}
	p.mu.Unlock()
}

// reserve returns the first free variant of base. Numbered variants are
// "name (n)" with n from 2; files keep their extension after the suffix.
// With alwaysNumber the bare name is never used.
func (p *Planner) reserve(base string, alwaysNumber, isFile bool) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !alwaysNumber && !p.taken(base) {
		p.reserved[base] = true
		return base
	}

	ext := ""
	stem := base
	if isFile {
		ext = filepath.Ext(base)
		stem = strings.TrimSuffix(base, ext)
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if !p.taken(candidate) {
			p.reserved[candidate] = true
			return candidate
		}
	}
}

func (p *Planner) taken(path string) bool {
	return p.reserved[path] || util.PathExists(path)
}

// relativeParent mirrors the edition's parent folder below its library
// root. Editions sitting directly in the root, or outside it, fall back to
// the artist name.
func relativeParent(e *store.Edition) string {
	artist := meta.SanitizePathComponent(e.Artist)
	if artist == "" {
		artist = "Unknown Artist"
	}
	if e.Root == "" {
		return artist
	}
	rel, err := filepath.Rel(e.Root, filepath.Dir(e.Path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return artist
	}
	return rel
}
