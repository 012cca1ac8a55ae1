package cluster

import (
	"fmt"
	"testing"

	"github.com/franz/edition-janitor/internal/store"
)

func edition(id int64, path string, titles ...string) *store.Edition {
	e := &store.Edition{
		ID:        id,
		Path:      path,
		Artist:    "Radiohead",
		ArtistKey: "radiohead",
		Title:     "OK Computer",
		TitleKey:  "ok computer",
	}
	for i, t := range titles {
		e.Tracks = append(e.Tracks, &store.Track{Index: i + 1, Title: t})
	}
	return e
}

var okComputer = []string{
	"Airbag", "Paranoid Android", "Subterranean Homesick Alien", "Exit Music (For a Film)",
	"Let Down", "Karma Police", "Fitter Happier", "Electioneering",
	"Climbing Up the Walls", "No Surprises", "Lucky", "The Tourist",
}

func TestTitleSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"Karma Police", "karma police", 1, 1},
		{"Karma Police", "Karma Police (Remastered 2009)", 1, 1},
		{"Don't Stop", "Dont Stop!", 1, 1},
		{"abcdefghij", "abcdefghix", 0.9, 0.9},
		{"Airbag", "Lucky", 0, 0.5},
	}
	for _, tt := range tests {
		got := TitleSimilarity(tt.a, tt.b)
		if got < tt.min-1e-6 || got > tt.max+1e-6 {
			t.Errorf("TitleSimilarity(%q, %q) = %.3f, expected in [%.2f, %.2f]", tt.a, tt.b, got, tt.min, tt.max)
		}
	}
}

func TestCompareThreshold(t *testing.T) {
	// One-track editions make the average equal to the single similarity
	a := edition(1, "/a", "abcdefghij")
	above := edition(2, "/b", "abcdefghix") // 0.9
	below := edition(3, "/c", "abcdefghxy") // 0.8

	if m := Compare(a, above, DefaultThreshold, DefaultWeakOverlap); !m.Same {
		t.Errorf("similarity %.2f should group at threshold 0.85", m.Ratio)
	}
	if m := Compare(a, below, DefaultThreshold, DefaultWeakOverlap); m.Same {
		t.Errorf("similarity %.2f should not group at threshold 0.85", m.Ratio)
	}
	if m := Compare(a, below, 0.75, DefaultWeakOverlap); !m.Same {
		t.Errorf("threshold must be configurable")
	}
}

func TestCompareOverlap(t *testing.T) {
	standard := edition(1, "/std", okComputer...)
	deluxe := edition(2, "/dlx", append(append([]string{}, okComputer...), "Polyethylene (Parts 1 & 2)", "Pearly*", "Meeting in the Aisle")...)

	m := Compare(standard, deluxe, DefaultThreshold, DefaultWeakOverlap)
	if !m.Same || m.Weak || m.Ratio != 1 {
		t.Errorf("deluxe superset should match cleanly, got %+v", m)
	}

	// 7 of 12 shared: a majority, but a thin one
	thin := edition(3, "/thin", append(append([]string{}, okComputer[:7]...), "A", "B", "C", "D", "E", "F")...)
	m = Compare(standard, thin, DefaultThreshold, DefaultWeakOverlap)
	if !m.Same || !m.Weak {
		t.Errorf("7/12 overlap should be a weak match, got %+v", m)
	}

	// 5 of 12 shared: not a majority
	minority := edition(4, "/min", append(append([]string{}, okComputer[:5]...), "A", "B", "C", "D", "E", "F", "G", "H")...)
	if m := Compare(standard, minority, DefaultThreshold, DefaultWeakOverlap); m.Same {
		t.Errorf("minority overlap should not match, got %+v", m)
	}
}

func TestCompareReleaseID(t *testing.T) {
	tests := []struct {
		name             string
		taggedA, taggedB bool
		want             bool
	}{
		{"both tagged", true, true, true},
		{"one searched", true, false, false},
		{"both searched", false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := edition(1, "/a", "x")
			b := edition(2, "/b", "completely different", "track list")
			a.ReleaseID, b.ReleaseID = "mbid", "mbid"
			a.ReleaseTagged, b.ReleaseTagged = tt.taggedA, tt.taggedB
			if got := Compare(a, b, DefaultThreshold, DefaultWeakOverlap).Same; got != tt.want {
				t.Errorf("Same = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGroupArtistSplitsSameTitle(t *testing.T) {
	g := New(nil)
	flac := edition(1, "/music/Radiohead/OK Computer", okComputer...)
	mp3 := edition(2, "/music/Radiohead/OK Computer [MP3]", okComputer...)
	other := edition(3, "/music/Radiohead/OK Computer (Live)", "Intro", "Banter", "Encore")
	kid := edition(4, "/music/Radiohead/Kid A", "Everything in Its Right Place")
	kid.Title, kid.TitleKey = "Kid A", "kid a"

	groups := g.GroupArtist([]*store.Edition{other, kid, mp3, flac})
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}

	seen := make(map[int64]int)
	var dup *Group
	for _, grp := range groups {
		for _, e := range grp.Editions {
			seen[e.ID]++
		}
		if len(grp.Editions) == 2 {
			dup = grp
		}
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("edition %d is in %d groups", id, n)
		}
	}
	if len(seen) != 4 {
		t.Errorf("every edition must be grouped, got %d", len(seen))
	}
	if dup == nil || dup.Editions[0].ID != 1 || dup.NoMove {
		t.Fatalf("expected clean FLAC+MP3 group in path order, got %+v", dup)
	}
}

func TestGroupArtistDeterministic(t *testing.T) {
	g := New(nil)
	build := func() []*store.Edition {
		return []*store.Edition{
			edition(3, "/c", okComputer...),
			edition(1, "/a", okComputer...),
			edition(2, "/b", "Intro", "Banter"),
		}
	}
	first := g.GroupArtist(build())
	for i := 0; i < 5; i++ {
		again := g.GroupArtist(build())
		if fmt.Sprint(keys(first)) != fmt.Sprint(keys(again)) {
			t.Fatalf("grouping changed between runs: %v vs %v", keys(first), keys(again))
		}
	}
}

func keys(groups []*Group) []string {
	var out []string
	for _, grp := range groups {
		ids := ""
		for _, e := range grp.Editions {
			ids += fmt.Sprintf("%d,", e.ID)
		}
		out = append(out, grp.Key+":"+ids)
	}
	return out
}

func TestGroupArtistAmbiguity(t *testing.T) {
	g := New(nil)

	// B matches A and C, but A and C do not match each other
	a := edition(1, "/a", "One", "Two", "Three", "Four")
	b := edition(2, "/b", "One", "Two", "Three", "Four", "Five", "Six", "Seven", "Eight")
	c := edition(3, "/c", "Five", "Six", "Seven", "Eight")

	groups := g.GroupArtist([]*store.Edition{a, b, c})
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	for _, grp := range groups {
		if !grp.NoMove || grp.NoMoveReason != ReasonAmbiguousSplit {
			t.Errorf("group %v should be held for review, got no_move=%v reason=%q", keys([]*Group{grp}), grp.NoMove, grp.NoMoveReason)
		}
	}

	// A thin overlap is grouped but held
	x := edition(4, "/x", "One", "Two", "Three", "Four", "Five")
	y := edition(5, "/y", "One", "Two", "Three", "Nine", "Ten", "Eleven")
	groups = g.GroupArtist([]*store.Edition{x, y})
	if len(groups) != 1 || !groups[0].NoMove || groups[0].NoMoveReason != ReasonWeakOverlap {
		t.Errorf("expected one weak group, got %+v", groups)
	}
}

func TestGroupRecord(t *testing.T) {
	grp := &Group{Key: GroupKey("a", "b", 0), ArtistKey: "a", TitleKey: "b",
		Editions: []*store.Edition{{ID: 7}, {ID: 9}}}
	rec := grp.Record("scan-1")
	if rec.ScanID != "scan-1" || len(rec.EditionIDs) != 2 || rec.EditionIDs[1] != 9 || rec.Status != store.GroupPending {
		t.Errorf("record = %+v", rec)
	}
	if len(grp.Key) != 18 {
		t.Errorf("group key %q should be g- plus 16 hex digits", grp.Key)
	}
}
