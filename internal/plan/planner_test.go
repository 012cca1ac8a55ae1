package plan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
)

func TestLoserDestinations(t *testing.T) {
	dupes := t.TempDir()
	p := New(&Config{DupesRoot: dupes})

	flac := &store.Edition{ID: 1, Root: "/music", Path: "/music/Radiohead/OK Computer", Artist: "Radiohead", Title: "OK Computer"}
	mp3 := &store.Edition{ID: 2, Root: "/music", Path: "/music/Radiohead/OK Computer [MP3]", Artist: "Radiohead", Title: "OK Computer", TotalSize: 120 << 20}
	aac := &store.Edition{ID: 3, Root: "/music", Path: "/music/Radiohead/OK Computer (AAC)", Artist: "Radiohead", Title: "OK Computer"}
	g := &store.AlbumGroup{GroupKey: "g-1", EditionIDs: []int64{1, 2, 3}, KeptEditionID: 1}

	items, err := p.Losers(g, []*store.Edition{flac, mp3, aac})
	if err != nil {
		t.Fatalf("Losers failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	expected := []string{
		filepath.Join(dupes, "Radiohead", "OK Computer (2)"),
		filepath.Join(dupes, "Radiohead", "OK Computer (3)"),
	}
	for i, item := range items {
		if item.Dest != expected[i] {
			t.Errorf("item %d dest = %s, expected %s", i, item.Dest, expected[i])
		}
		if item.Reason != store.ReasonDedupe || item.GroupKey != "g-1" {
			t.Errorf("item %d = %+v", i, item)
		}
	}
	if items[0].SizeMB() != 120 {
		t.Errorf("size = %.2f MB", items[0].SizeMB())
	}
}

func TestLoserDestinationSkipsExisting(t *testing.T) {
	dupes := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dupes, "Artist", "Album (2)"), 0755); err != nil {
		t.Fatal(err)
	}
	p := New(&Config{DupesRoot: dupes})

	e := &store.Edition{ID: 2, Root: "/music", Path: "/music/Artist/Album copy", Artist: "Artist", Title: "Album"}
	items, err := p.Losers(&store.AlbumGroup{GroupKey: "g", KeptEditionID: 1}, []*store.Edition{e})
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dupes, "Artist", "Album (3)"); items[0].Dest != want {
		t.Errorf("dest = %s, expected %s", items[0].Dest, want)
	}
}

func TestLosersRefusesUnresolved(t *testing.T) {
	p := New(&Config{DupesRoot: t.TempDir()})

	_, err := p.Losers(&store.AlbumGroup{GroupKey: "g", KeptEditionID: 1, NoMove: true}, nil)
	if !errors.Is(err, util.ErrGroupNoMove) {
		t.Errorf("expected ErrGroupNoMove, got %v", err)
	}
	if _, err := p.Losers(&store.AlbumGroup{GroupKey: "g"}, nil); err == nil {
		t.Error("expected error for a group without a kept edition")
	}
	if _, err := New(&Config{}).Losers(&store.AlbumGroup{GroupKey: "g", KeptEditionID: 1}, nil); !errors.Is(err, util.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestRelativeParent(t *testing.T) {
	tests := []struct {
		name     string
		edition  *store.Edition
		expected string
	}{
		{"nested", &store.Edition{Root: "/m", Path: "/m/Rock/Artist/Album", Artist: "Artist"}, filepath.Join("Rock", "Artist")},
		{"directly in root", &store.Edition{Root: "/m", Path: "/m/Album", Artist: "AC/DC"}, "AC-DC"},
		{"outside root", &store.Edition{Root: "/m", Path: "/other/Artist/Album", Artist: "Artist"}, "Artist"},
		{"no artist", &store.Edition{Path: "/x/Album"}, "Unknown Artist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := relativeParent(tt.edition); got != tt.expected {
				t.Errorf("relativeParent = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestMergeDestinations(t *testing.T) {
	keptDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(keptDir, "13 Polyethylene.flac"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	p := New(&Config{DupesRoot: t.TempDir()})
	kept := &store.Edition{ID: 1, Path: keptDir, Artist: "Radiohead"}

	items := p.Merges("g-1", kept, []*store.Track{
		{EditionID: 2, Index: 13, Path: "/other/13 Polyethylene.flac", SizeBytes: 10},
		{EditionID: 2, Index: 14, Path: "/other/14 Pearly.flac"},
	})

	if items[0].Dest != filepath.Join(keptDir, "13 Polyethylene (2).flac") {
		t.Errorf("collision should be suffixed before the extension, got %s", items[0].Dest)
	}
	if items[1].Dest != filepath.Join(keptDir, "14 Pearly.flac") {
		t.Errorf("dest = %s", items[1].Dest)
	}
	if items[1].Reason != store.ReasonMerge || items[1].TargetEditionID != 1 || items[1].EditionID != 2 || items[1].TrackIndex != 14 {
		t.Errorf("merge item = %+v", items[1])
	}
}

func TestQuarantine(t *testing.T) {
	q := t.TempDir()
	p := New(&Config{QuarantineRoot: q})

	e := &store.Edition{ID: 5, Root: "/music", Path: "/music/Artist/Live vol.2", Artist: "Artist"}
	first, err := p.Quarantine(e)
	if err != nil {
		t.Fatal(err)
	}
	if first.Dest != filepath.Join(q, "Artist", "Live vol.2") || first.Reason != store.ReasonIncomplete {
		t.Errorf("first = %+v", first)
	}

	// A second plan for the same folder must not reuse the reserved path
	second, _ := p.Quarantine(e)
	if second.Dest != filepath.Join(q, "Artist", "Live vol.2 (2)") {
		t.Errorf("second dest = %s", second.Dest)
	}

	p.Release(first.Dest)
	third, _ := p.Quarantine(e)
	if third.Dest != first.Dest {
		t.Errorf("released path should be reusable, got %s", third.Dest)
	}
}
