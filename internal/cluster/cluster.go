package cluster

import (
	"crypto/sha1"
	"fmt"
	"sort"

	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
)

const (
	// DefaultThreshold is the average track-title similarity two editions
	// with equal track counts need to be grouped
	DefaultThreshold = 0.85

	// DefaultWeakOverlap is the overlap ratio below which a group of editions
	// with different track counts is held for manual review
	DefaultWeakOverlap = 0.75

	ReasonWeakOverlap    = "weak_overlap"
	ReasonAmbiguousSplit = "ambiguous_split"
)

// Grouper clusters one artist's editions into album groups
type Grouper struct {
	threshold   float64
	weakOverlap float64
}

// Config holds grouper configuration
type Config struct {
	Threshold   float64
	WeakOverlap float64
}

// New creates a new Grouper
func New(cfg *Config) *Grouper {
	g := &Grouper{threshold: DefaultThreshold, weakOverlap: DefaultWeakOverlap}
	if cfg != nil {
		if cfg.Threshold > 0 {
			g.threshold = cfg.Threshold
		}
		if cfg.WeakOverlap > 0 {
			g.weakOverlap = cfg.WeakOverlap
		}
	}
	return g
}

// Group is one album group: editions of the same work, in path order
type Group struct {
	Key          string
	ArtistKey    string
	TitleKey     string
	Artist       string
	Title        string
	Editions     []*store.Edition
	NoMove       bool
	NoMoveReason string
}

// Record converts the group into its persisted form for scanID
func (g *Group) Record(scanID string) *store.AlbumGroup {
	ids := make([]int64, len(g.Editions))
	for i, e := range g.Editions {
		ids[i] = e.ID
	}
	return &store.AlbumGroup{
		GroupKey:     g.Key,
		ScanID:       scanID,
		ArtistKey:    g.ArtistKey,
		TitleKey:     g.TitleKey,
		Artist:       g.Artist,
		Title:        g.Title,
		EditionIDs:   ids,
		NoMove:       g.NoMove,
		NoMoveReason: g.NoMoveReason,
		Status:       store.GroupPending,
	}
}

// GroupKey is the stable identity of the n-th group of a bucket
func GroupKey(artistKey, titleKey string, n int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s\x00%s\x00%d", artistKey, titleKey, n)))
	return fmt.Sprintf("g-%x", sum[:8])
}

// cluster is a group under construction
type cluster struct {
	members []*store.Edition
	weak    bool
	partial bool
}

// GroupArtist buckets editions by normalized artist and title, then splits
// every bucket into groups whose members all match each other. Every edition
// ends up in exactly one group; singletons are groups too. Buckets where an
// edition matched only part of a group are flagged for manual review.
func (g *Grouper) GroupArtist(editions []*store.Edition) []*Group {
	buckets := make(map[string][]*store.Edition)
	var bucketKeys []string
	for _, e := range editions {
		key := e.ArtistKey + "\x00" + e.TitleKey
		if _, ok := buckets[key]; !ok {
			bucketKeys = append(bucketKeys, key)
		}
		buckets[key] = append(buckets[key], e)
	}
	sort.Strings(bucketKeys)

	var groups []*Group
	for _, key := range bucketKeys {
		bucket := buckets[key]
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].Path < bucket[j].Path })
		groups = append(groups, g.splitBucket(bucket)...)
	}
	return groups
}

func (g *Grouper) splitBucket(bucket []*store.Edition) []*Group {
	var clusters []*cluster

	for _, e := range bucket {
		var home *cluster
		var partials []*cluster
		homeWeak := false

		for _, c := range clusters {
			matches, weak := 0, false
			for _, m := range c.members {
				r := Compare(e, m, g.threshold, g.weakOverlap)
				if r.Same {
					matches++
					weak = weak || r.Weak
				}
			}
			switch {
			case matches == len(c.members) && home == nil:
				home, homeWeak = c, weak
			case matches > 0 && matches < len(c.members):
				partials = append(partials, c)
			}
		}

		if home == nil {
			home = &cluster{}
			clusters = append(clusters, home)
		}
		home.members = append(home.members, e)
		home.weak = home.weak || homeWeak

		// Matching some members of another group means the split is a guess
		if len(partials) > 0 {
			home.partial = true
			for _, c := range partials {
				c.partial = true
			}
		}
	}

	first := bucket[0]
	groups := make([]*Group, 0, len(clusters))
	for n, c := range clusters {
		grp := &Group{
			Key:       GroupKey(first.ArtistKey, first.TitleKey, n),
			ArtistKey: first.ArtistKey,
			TitleKey:  first.TitleKey,
			Artist:    c.members[0].Artist,
			Title:     c.members[0].Title,
			Editions:  c.members,
		}
		switch {
		case c.partial:
			grp.NoMove, grp.NoMoveReason = true, ReasonAmbiguousSplit
		case c.weak:
			grp.NoMove, grp.NoMoveReason = true, ReasonWeakOverlap
		}
		if grp.NoMove && len(grp.Editions) > 1 {
			util.WarnLog("Group %q by %s needs manual review (%s)", grp.Title, grp.Artist, grp.NoMoveReason)
		}
		groups = append(groups, grp)
	}
	return groups
}
