package incomplete

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/franz/edition-janitor/internal/execute"
	"github.com/franz/edition-janitor/internal/meta"
	"github.com/franz/edition-janitor/internal/plan"
	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
)

const scanID = "scan-1"

func withIndices(indices ...int) *store.Edition {
	e := &store.Edition{ID: 1, Artist: "Artist", Title: "Album", Path: "/m/Artist/Album"}
	for _, i := range indices {
		e.Tracks = append(e.Tracks, &store.Track{Index: i})
	}
	return e
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		edition  *store.Edition
		expected int
		ranges   []store.IndexRange
		actual   int
		total    int
		tags     []string
	}{
		{"missing middle", withIndices(1, 2, 4, 5), 5, []store.IndexRange{{Start: 3, End: 3}}, 4, 5, []string{TagGaps}},
		{"missing middle, no expected count", withIndices(1, 2, 4, 5), 0, []store.IndexRange{{Start: 3, End: 3}}, 4, 5, []string{TagGaps}},
		{"missing tail", withIndices(1, 2, 3), 6, []store.IndexRange{{Start: 4, End: 6}}, 3, 6, []string{TagTruncated}},
		{"single track", withIndices(1), 10, []store.IndexRange{{Start: 2, End: 10}}, 1, 10, []string{TagTruncated, TagFragment}},
		{"gaps and tail", withIndices(2, 3, 5), 7, []store.IndexRange{{Start: 1, End: 1}, {Start: 4, End: 4}, {Start: 6, End: 7}}, 3, 7, []string{TagGaps, TagTruncated}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := Evaluate(tt.edition, tt.expected, SourceTags)
			if item == nil {
				t.Fatal("expected an incomplete item")
			}
			if !reflect.DeepEqual(item.MissingRanges, tt.ranges) {
				t.Errorf("ranges = %v, expected %v", item.MissingRanges, tt.ranges)
			}
			if item.ActualTracks != tt.actual || item.ExpectedTracks != tt.total {
				t.Errorf("actual/expected = %d/%d, expected %d/%d", item.ActualTracks, item.ExpectedTracks, tt.actual, tt.total)
			}
			if !reflect.DeepEqual(item.Tags, tt.tags) {
				t.Errorf("tags = %v, expected %v", item.Tags, tt.tags)
			}
		})
	}

	if Evaluate(withIndices(1, 2, 3), 3, SourceTags) != nil {
		t.Error("complete edition should not be reported")
	}
	if Evaluate(withIndices(1, 2, 3), 0, SourceIndex) != nil {
		t.Error("contiguous edition without expected count should not be reported")
	}
}

type fakeReleases struct {
	counts map[string]int
}

func (f fakeReleases) LookupRelease(_ context.Context, q meta.ReleaseQuery) (*meta.ReleaseInfo, error) {
	if n, ok := f.counts[q.Album]; ok {
		return &meta.ReleaseInfo{ReleaseID: "mbid-" + q.Album, TrackCount: n}, nil
	}
	return nil, nil
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.CreateScanRun(scanID, time.Now()); err != nil {
		t.Fatal(err)
	}
	return st
}

func saveEdition(t *testing.T, st *store.Store, root, title string, expected int, indices ...int) *store.Edition {
	t.Helper()
	dir := filepath.Join(root, "Artist", title)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	e := &store.Edition{Path: dir, Root: root, Artist: "Artist", ArtistKey: "artist", Title: title,
		TitleKey: strings.ToLower(title), Format: "flac", ExpectedTracks: expected, LastScanID: scanID}
	var tracks []*store.Track
	for _, i := range indices {
		p := filepath.Join(dir, fmt.Sprintf("%02d.flac", i))
		if err := os.WriteFile(p, []byte("audio"), 0644); err != nil {
			t.Fatal(err)
		}
		tracks = append(tracks, &store.Track{Index: i, Path: p, SizeBytes: 5})
		e.TotalSize += 5
	}
	if _, err := st.SaveEdition(e, tracks); err != nil {
		t.Fatal(err)
	}
	return e
}

func TestClassifyUsesProviderFirst(t *testing.T) {
	st := openStore(t)
	root := t.TempDir()
	saveEdition(t, st, root, "Gappy", 0, 1, 2, 4, 5)
	saveEdition(t, st, root, "Short", 3, 1, 2)
	saveEdition(t, st, root, "Known", 2, 1, 2)
	saveEdition(t, st, root, "Whole", 0, 1, 2, 3)

	c := New(&Config{Store: st, Releases: fakeReleases{counts: map[string]int{"Known": 4}}})
	items, err := c.Classify(context.Background(), scanID)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 incomplete albums, got %d", len(items))
	}

	byAlbum := make(map[string]*store.IncompleteItem)
	for _, it := range items {
		byAlbum[it.Album] = it
	}
	if it := byAlbum["Gappy"]; it.ExpectedSource != SourceIndex || it.ActualTracks != 4 || it.ExpectedTracks != 5 {
		t.Errorf("Gappy = %+v", it)
	}
	if it := byAlbum["Short"]; it.ExpectedSource != SourceTags || it.ExpectedTracks != 3 {
		t.Errorf("Short = %+v", it)
	}
	if it := byAlbum["Known"]; it.ExpectedSource != SourceProvider || it.ExpectedTracks != 4 {
		t.Errorf("Known = %+v", it)
	}

	stored, _ := st.ListIncompleteItems(scanID)
	if len(stored) != 3 {
		t.Errorf("expected 3 stored items, got %d", len(stored))
	}
}

func TestQuarantineGoesThroughLedger(t *testing.T) {
	st := openStore(t)
	root, quarantine := t.TempDir(), t.TempDir()
	gappy := saveEdition(t, st, root, "Gappy", 5, 1, 2, 4, 5)
	saveEdition(t, st, root, "Short", 3, 1, 2)

	c := New(&Config{Store: st})
	if _, err := c.Classify(context.Background(), scanID); err != nil {
		t.Fatal(err)
	}

	ex := execute.New(&execute.Config{Store: st, RetryConfig: &util.RetryConfig{MaxAttempts: 1}})
	p := plan.New(&plan.Config{QuarantineRoot: quarantine})
	res, err := c.Quarantine(context.Background(), scanID, []int64{gappy.ID}, p, ex)
	if err != nil {
		t.Fatalf("Quarantine failed: %v", err)
	}
	if res.Moved != 1 || res.SizeMB != 0 {
		t.Fatalf("result = %+v", res)
	}
	if !util.PathExists(filepath.Join(quarantine, "Artist", "Gappy")) || util.PathExists(gappy.Path) {
		t.Error("edition should be in quarantine")
	}

	moves, _ := st.ListMoves(store.MoveFilter{ScanID: scanID, Reason: store.ReasonIncomplete})
	if len(moves) != 1 || moves[0].AlbumID != gappy.ID {
		t.Fatalf("ledger = %+v", moves)
	}

	items, _ := st.ListIncompleteItems(scanID)
	for _, it := range items {
		if it.Moved != (it.AlbumID == gappy.ID) {
			t.Errorf("item %s moved=%v", it.Album, it.Moved)
		}
	}

	// Quarantining again finds nothing left to do
	res, err = c.Quarantine(context.Background(), scanID, []int64{gappy.ID}, p, ex)
	if err != nil || res.Moved != 0 {
		t.Errorf("second quarantine = %+v, %v", res, err)
	}
}

func TestExport(t *testing.T) {
	items := []*store.IncompleteItem{{
		AlbumID: 7, Artist: "Artist", Album: "Album, Vol. 1", Path: "/m/a",
		Tags: []string{TagGaps}, ExpectedTracks: 5, ActualTracks: 4, ExpectedSource: SourceTags,
		MissingRanges: []store.IndexRange{{Start: 3, End: 3}},
	}}

	var buf bytes.Buffer
	if err := Export(&buf, items, "json"); err != nil {
		t.Fatal(err)
	}
	var decoded []map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded[0]["expected_track_count"].(float64) != 5 || decoded[0]["actual_track_count"].(float64) != 4 {
		t.Errorf("json = %v", decoded[0])
	}

	buf.Reset()
	if err := Export(&buf, items, "CSV"); err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(rows) != 2 || rows[1][2] != "Album, Vol. 1" || rows[1][8] != "3" {
		t.Errorf("csv = %v", rows)
	}

	if err := Export(&buf, items, "xml"); err == nil {
		t.Error("unknown format should fail")
	}
}

func TestFormatRanges(t *testing.T) {
	got := FormatRanges([]store.IndexRange{{Start: 3, End: 3}, {Start: 7, End: 9}})
	if got != "3;7-9" {
		t.Errorf("FormatRanges = %q", got)
	}
}
