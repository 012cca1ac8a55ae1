package report

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/franz/edition-janitor/internal/store"
)

const summaryScan = "scan-1"

func setupTestData(t *testing.T, db *store.Store) {
	t.Helper()
	if err := db.CreateScanRun(summaryScan, time.Now().Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}

	flac := &store.Edition{Path: "/music/Artist/Album", Root: "/music", Artist: "Artist", ArtistKey: "artist",
		Title: "Album", TitleKey: "album", Format: "flac", SampleRate: 44100, BitDepth: 16,
		TotalSize: 300 * 1024 * 1024, LastScanID: summaryScan}
	mp3 := &store.Edition{Path: "/music/Artist/Album (MP3)", Root: "/music", Artist: "Artist", ArtistKey: "artist",
		Title: "Album", TitleKey: "album", Format: "mp3", BitrateKbps: 320,
		TotalSize: 100 * 1024 * 1024, LastScanID: summaryScan}
	for _, e := range []*store.Edition{flac, mp3} {
		if _, err := db.SaveEdition(e, nil); err != nil {
			t.Fatal(err)
		}
	}

	groups := []*store.AlbumGroup{{
		GroupKey: "g-1", ArtistKey: "artist", TitleKey: "album", Artist: "Artist", Title: "Album",
		EditionIDs: []int64{flac.ID, mp3.ID}, Scores: []float64{131, 67}, KeptEditionID: flac.ID,
		AIRationale: "Lossless wins", Status: store.GroupDeduped,
	}}
	if err := db.ReplaceArtistGroups(summaryScan, "artist", groups); err != nil {
		t.Fatal(err)
	}

	if err := db.InsertPendingMove(&store.Move{MoveID: "01A", ScanID: summaryScan, Reason: store.ReasonDedupe,
		AlbumID: mp3.ID, OriginalPath: mp3.Path, MovedToPath: "/dupes/Artist/Album (2)", SizeMB: 100}); err != nil {
		t.Fatal(err)
	}
	if err := db.CommitMove("01A", nil); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertPendingMove(&store.Move{MoveID: "01B", ScanID: summaryScan, Reason: store.ReasonDedupe,
		OriginalPath: "/music/Other", MovedToPath: "/dupes/Other (2)", SizeMB: 5}); err != nil {
		t.Fatal(err)
	}
	if err := db.FailMove("01B", errors.New("permission denied")); err != nil {
		t.Fatal(err)
	}

	if err := db.RecordAIFailure(&store.AIFailure{ScanID: summaryScan, GroupKey: "g-1", Kind: "timeout",
		Recoverable: true, Error: "deadline exceeded"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateScanRunStatus(summaryScan, store.RunCompleted, time.Now()); err != nil {
		t.Fatal(err)
	}
}

func TestBuildRunSummary(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := store.Open(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	setupTestData(t, db)

	logger, err := NewEventLogger(tmpDir, LevelDebug)
	if err != nil {
		t.Fatal(err)
	}
	scanErr := errors.New("failed to read tags")
	logger.LogScanError(summaryScan, "/music/A", scanErr)
	logger.LogScanError(summaryScan, "/music/B", scanErr)
	logger.LogScanError("other-scan", "/music/C", errors.New("unrelated"))
	logger.Close()

	s, err := BuildRunSummary(db, summaryScan, logger.Path())
	if err != nil {
		t.Fatalf("BuildRunSummary failed: %v", err)
	}

	if s.Groups != 1 || s.DedupedGroups != 1 {
		t.Errorf("groups = %d, deduped = %d", s.Groups, s.DedupedGroups)
	}
	if s.MovesByReason[store.ReasonDedupe] != 1 || len(s.FailedMoves) != 1 {
		t.Errorf("moves = %v, failed = %v", s.MovesByReason, s.FailedMoves)
	}
	if s.AIFailuresByKind["timeout"] != 1 {
		t.Errorf("ai failures = %v", s.AIFailuresByKind)
	}
	if len(s.TopErrors) != 1 || s.TopErrors[0].Count != 2 {
		t.Errorf("top errors = %+v", s.TopErrors)
	}
	if len(s.DuplicateSets) != 1 || s.DuplicateSets[0].Kept.Format != "flac" || len(s.DuplicateSets[0].Others) != 1 {
		t.Errorf("duplicate sets = %+v", s.DuplicateSets)
	}

	if _, err := BuildRunSummary(db, "missing", ""); err == nil {
		t.Error("expected an error for an unknown run")
	}
}

func TestWriteMarkdownReport(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := store.Open(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	setupTestData(t, db)

	s, err := BuildRunSummary(db, summaryScan, "")
	if err != nil {
		t.Fatal(err)
	}
	outputPath := filepath.Join(tmpDir, "reports", "summary.md")
	if err := WriteMarkdownReport(s, outputPath); err != nil {
		t.Fatalf("WriteMarkdownReport failed: %v", err)
	}

	content, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("Failed to read report file: %v", err)
	}
	md := string(content)

	for _, want := range []string{
		"# Edition Janitor - Run Summary",
		"## 📊 Overview",
		"## 🔗 Duplicate Groups",
		"## 📦 Moves",
		"| Space Saved | 100 MiB |",
		"## 🤖 AI Tie-Breaker",
		"| Kind: timeout | 1 |",
		"### 1. Artist - Album",
		"✅ Kept",
		"16-bit/44.1 kHz",
		"> Lossless wins",
		"320 kbps",
		"## 🚨 Failed Moves",
		"permission denied",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestTruncatePath(t *testing.T) {
	tests := []struct {
		path   string
		maxLen int
		want   string
	}{
		{"/short/path", 80, "/short/path"},
		{"/a/very/long/path/to/some/album/folder", 20, "/a/very/...m/folder"},
	}
	for _, tt := range tests {
		got := truncatePath(tt.path, tt.maxLen)
		if got != tt.want {
			t.Errorf("truncatePath(%q, %d) = %q, want %q", tt.path, tt.maxLen, got, tt.want)
		}
	}
}
