package execute

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/franz/edition-janitor/internal/plan"
	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
)

const scanID = "scan-1"

func setupTestDB(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.CreateScanRun(scanID, time.Now()); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	return st
}

func createTestFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
}

// saveEdition writes an album folder with one track per title and stores it
func saveEdition(t *testing.T, st *store.Store, root, rel string, titles ...string) *store.Edition {
	t.Helper()
	dir := filepath.Join(root, rel)
	e := &store.Edition{Path: dir, Root: root, Artist: "Artist", ArtistKey: "artist",
		Title: filepath.Base(dir), TitleKey: filepath.Base(dir), Format: "flac", LastScanID: scanID}
	var tracks []*store.Track
	for i, title := range titles {
		p := filepath.Join(dir, title+".flac")
		content := bytes.Repeat([]byte{byte(i + 1)}, 1024)
		createTestFile(t, p, content)
		tracks = append(tracks, &store.Track{Index: i + 1, Title: title, Path: p, Format: "flac", SizeBytes: 1024})
		e.TotalSize += 1024
	}
	if _, err := st.SaveEdition(e, tracks); err != nil {
		t.Fatalf("failed to save edition: %v", err)
	}
	return e
}

func noRetry() *util.RetryConfig {
	return &util.RetryConfig{MaxAttempts: 1}
}

func TestDedupeMoveCommits(t *testing.T) {
	st := setupTestDB(t)
	root, dupes := t.TempDir(), t.TempDir()
	kept := saveEdition(t, st, root, "Artist/Album", "One", "Two")
	loser := saveEdition(t, st, root, "Artist/Album [MP3]", "One", "Two")

	items, err := plan.New(&plan.Config{DupesRoot: dupes}).Losers(
		&store.AlbumGroup{GroupKey: "g-1", KeptEditionID: kept.ID}, []*store.Edition{kept, loser})
	if err != nil {
		t.Fatal(err)
	}

	ex := New(&Config{Store: st, RetryConfig: noRetry()})
	res, err := ex.ExecuteAll(context.Background(), scanID, items)
	if err != nil {
		t.Fatalf("ExecuteAll failed: %v", err)
	}
	if res.Moved != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}

	dest := filepath.Join(dupes, "Artist", "Album [MP3] (2)")
	if !util.PathExists(filepath.Join(dest, "One.flac")) || util.PathExists(loser.Path) {
		t.Errorf("loser should be at %s", dest)
	}

	moves, _ := st.ListMoves(store.MoveFilter{ScanID: scanID})
	if len(moves) != 1 || moves[0].Status != store.MoveCommitted || moves[0].MovedToPath != dest {
		t.Fatalf("ledger = %+v", moves)
	}
	if len(moves[0].MoveID) != 26 {
		t.Errorf("move id %q should be a ULID", moves[0].MoveID)
	}

	run, _ := st.GetScanRun(scanID)
	if run.AlbumsMoved != 1 || run.SpaceSavedMB != loser.SizeMB() {
		t.Errorf("run counters = moved %d, saved %.4f", run.AlbumsMoved, run.SpaceSavedMB)
	}
	if e, _ := st.GetEdition(loser.ID); !e.Moved {
		t.Error("loser edition should be flagged moved")
	}
}

func TestExecuteIsIdempotent(t *testing.T) {
	st := setupTestDB(t)
	root, dupes := t.TempDir(), t.TempDir()
	loser := saveEdition(t, st, root, "Artist/Copy", "One")

	item := &plan.Item{Reason: store.ReasonDedupe, EditionID: loser.ID, Source: loser.Path,
		Dest: filepath.Join(dupes, "Artist", "Copy (2)"), SizeBytes: loser.TotalSize}
	ex := New(&Config{Store: st, RetryConfig: noRetry()})

	first, err := ex.Execute(context.Background(), scanID, item)
	if err != nil || first.Status != StatusMoved {
		t.Fatalf("first = %+v, %v", first, err)
	}
	second, err := ex.Execute(context.Background(), scanID, item)
	if err != nil || second.Status != StatusSkipped {
		t.Fatalf("second = %+v, %v", second, err)
	}

	moves, _ := st.ListMoves(store.MoveFilter{ScanID: scanID})
	if len(moves) != 1 {
		t.Errorf("expected 1 ledger row, got %d", len(moves))
	}
}

func TestDryRun(t *testing.T) {
	st := setupTestDB(t)
	root, dupes := t.TempDir(), t.TempDir()
	loser := saveEdition(t, st, root, "Artist/Copy", "One")

	item := &plan.Item{Reason: store.ReasonDedupe, EditionID: loser.ID, Source: loser.Path,
		Dest: filepath.Join(dupes, "Artist", "Copy (2)")}
	ex := New(&Config{Store: st, DryRun: true})

	res, err := ex.ExecuteAll(context.Background(), scanID, []*plan.Item{item})
	if err != nil || res.Planned != 1 {
		t.Fatalf("res = %+v, %v", res, err)
	}
	if !util.PathExists(loser.Path) || util.PathExists(item.Dest) {
		t.Error("dry run must not touch the filesystem")
	}
	if moves, _ := st.ListMoves(store.MoveFilter{}); len(moves) != 0 {
		t.Errorf("dry run must not write ledger rows, got %d", len(moves))
	}
}

func TestMoveFailureIsPerItem(t *testing.T) {
	st := setupTestDB(t)
	root, dupes := t.TempDir(), t.TempDir()
	bad := saveEdition(t, st, root, "Artist/Bad", "One")
	good := saveEdition(t, st, root, "Artist/Good", "One")

	// A file where the destination's parent directory should be
	blocker := filepath.Join(dupes, "blocked")
	createTestFile(t, blocker, []byte("x"))

	items := []*plan.Item{
		{Reason: store.ReasonDedupe, EditionID: bad.ID, Source: bad.Path, Dest: filepath.Join(blocker, "Bad (2)")},
		{Reason: store.ReasonDedupe, EditionID: good.ID, Source: good.Path, Dest: filepath.Join(dupes, "Artist", "Good (2)")},
	}
	ex := New(&Config{Store: st, RetryConfig: noRetry(), Concurrency: 1})
	res, err := ex.ExecuteAll(context.Background(), scanID, items)
	if err != nil {
		t.Fatalf("item failures must not be fatal: %v", err)
	}
	if res.Failed != 1 || res.Moved != 1 {
		t.Fatalf("result = %+v", res)
	}

	var merr *util.MoveError
	if errs := res.Errors(); len(errs) != 1 || !errors.As(errs[0], &merr) || !errors.Is(errs[0], util.ErrMove) {
		t.Errorf("expected one MoveError, got %v", res.Errors())
	}

	failed, _ := st.ListMoves(store.MoveFilter{Status: store.MoveFailed})
	if len(failed) != 1 || failed[0].OriginalPath != bad.Path || failed[0].Error == "" {
		t.Errorf("failed rows = %+v", failed)
	}
	if !util.PathExists(bad.Path) {
		t.Error("failed source must stay in place")
	}
}

func TestMergeReassignsTrack(t *testing.T) {
	st := setupTestDB(t)
	root := t.TempDir()
	kept := saveEdition(t, st, root, "Artist/Album", "One", "Two")
	deluxe := saveEdition(t, st, root, "Artist/Album Deluxe", "One", "Two", "Bonus")

	tracks, _ := st.GetTracks(deluxe.ID)
	p := plan.New(&plan.Config{DupesRoot: t.TempDir()})
	item := p.Merge("g-1", kept, tracks[2])

	ex := New(&Config{Store: st, RetryConfig: noRetry()})
	o, err := ex.Execute(context.Background(), scanID, item)
	if err != nil || o.Status != StatusMoved {
		t.Fatalf("merge = %+v, %v", o, err)
	}

	keptTracks, _ := st.GetTracks(kept.ID)
	if len(keptTracks) != 3 {
		t.Fatalf("kept edition should have 3 tracks, got %d", len(keptTracks))
	}
	bonus := keptTracks[2]
	if bonus.Index != 3 || !bonus.IsBonus || bonus.Path != filepath.Join(kept.Path, "Bonus.flac") {
		t.Errorf("merged track = %+v", bonus)
	}
	if !util.PathExists(bonus.Path) {
		t.Error("merged file should be inside the kept edition")
	}

	run, _ := st.GetScanRun(scanID)
	if run.SpaceSavedMB != 0 || run.AlbumsMoved != 0 {
		t.Error("merges must not count as space saved")
	}
}

func TestLockDirSerializes(t *testing.T) {
	ex := New(&Config{})
	unlock := ex.LockDir("/dupes/a")

	acquired := make(chan struct{})
	go func() {
		u := ex.LockDir("/dupes/a/")
		close(acquired)
		u()
	}()

	// A different directory is independent
	ex.LockDir("/dupes/b")()

	select {
	case <-acquired:
		t.Fatal("same directory lock acquired twice")
	case <-time.After(30 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock not released")
	}
}
