package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/franz/edition-janitor/internal/service"
	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
)

func TestFlexDecoding(t *testing.T) {
	var req struct {
		N     FlexInt     `json:"n"`
		B     FlexBool    `json:"b"`
		Roots FlexStrings `json:"roots"`
	}

	tests := []struct {
		body  string
		n     FlexInt
		b     FlexBool
		roots []string
	}{
		{`{"n": 3, "b": true, "roots": ["/a", "/b"]}`, 3, true, []string{"/a", "/b"}},
		{`{"n": "7", "b": "1", "roots": "/a, /b"}`, 7, true, []string{"/a", "/b"}},
		{`{"n": "", "b": "no", "roots": null}`, 0, false, nil},
		{`{"n": null, "b": 0}`, 0, false, nil},
	}
	for _, tt := range tests {
		req.N, req.B, req.Roots = 0, false, nil
		if err := json.Unmarshal([]byte(tt.body), &req); err != nil {
			t.Errorf("%s: %v", tt.body, err)
			continue
		}
		if req.N != tt.n || req.B != tt.b || fmt.Sprint([]string(req.Roots)) != fmt.Sprint(tt.roots) {
			t.Errorf("%s: got %d %v %v", tt.body, req.N, req.B, req.Roots)
		}
	}

	for _, bad := range []string{`{"n": "three"}`, `{"n": 1.5}`, `{"b": "maybe"}`} {
		if err := json.Unmarshal([]byte(bad), &req); err == nil {
			t.Errorf("%s: expected an error", bad)
		}
	}
}

func TestWriteErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("group x: %w", util.ErrNotFound), http.StatusNotFound},
		{util.ErrInvalidConfig, http.StatusBadRequest},
		{util.ErrScanActive, http.StatusConflict},
		{util.ErrNoActiveScan, http.StatusConflict},
		{fmt.Errorf("g: %w", util.ErrGroupNoMove), http.StatusConflict},
		{util.Fatal(errors.New("disk gone")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeError(rec, tt.err)
		if rec.Code != tt.want {
			t.Errorf("%v: status %d, expected %d", tt.err, rec.Code, tt.want)
		}
		var body APIErrorResponse
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || len(body.Errors) != 1 {
			t.Errorf("%v: body %v, %v", tt.err, body, err)
		}
	}
}

type fixture struct {
	srv   *httptest.Server
	st    *store.Store
	kept  *store.Edition
	loser *store.Edition
}

// newFixture seeds one run with a group flagged for manual review
func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "edj.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	const scanID = "scan-1"
	if err := st.CreateScanRun(scanID, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := st.UpdateScanRunStatus(scanID, store.RunCompleted, time.Now()); err != nil {
		t.Fatal(err)
	}

	root := t.TempDir()
	edition := func(folder string) *store.Edition {
		path := filepath.Join(root, "Artist", folder)
		if err := os.MkdirAll(path, 0755); err != nil {
			t.Fatal(err)
		}
		track := filepath.Join(path, "01 - One.flac")
		if err := os.WriteFile(track, []byte("audio:"+folder), 0644); err != nil {
			t.Fatal(err)
		}
		e := &store.Edition{Path: path, Root: root, Artist: "Artist", ArtistKey: "artist", Title: "Album",
			TitleKey: "album", Format: "flac", TotalSize: 1024, LastScanID: scanID}
		if _, err := st.SaveEdition(e, []*store.Track{{Index: 1, Title: "One", Path: track, SizeBytes: 1024}}); err != nil {
			t.Fatal(err)
		}
		return e
	}
	a, b := edition("Album"), edition("Album (Copy)")
	g := &store.AlbumGroup{GroupKey: "g-1", ArtistKey: "artist", TitleKey: "album", Artist: "Artist", Title: "Album",
		EditionIDs: []int64{a.ID, b.ID}, Scores: []float64{100, 100}, NoMove: true, NoMoveReason: "weak_overlap"}
	if err := st.ReplaceArtistGroups(scanID, "artist", []*store.AlbumGroup{g}); err != nil {
		t.Fatal(err)
	}

	svc := service.New(&service.Config{Store: st, DupesRoot: t.TempDir(), MoveRetry: &util.RetryConfig{MaxAttempts: 1}})
	srv := httptest.NewServer(New(&Config{Service: svc}))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, st: st, kept: b, loser: a}
}

func (f *fixture) do(t *testing.T, method, path, body string, out interface{}) int {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestManualResolutionFlow(t *testing.T) {
	f := newFixture(t)

	var groups []groupDTO
	if code := f.do(t, "GET", "/api/groups", "", &groups); code != http.StatusOK {
		t.Fatalf("list groups: %d", code)
	}
	if len(groups) != 1 || !groups[0].NoMove || groups[0].KeptIndex != -1 || len(groups[0].Editions) != 2 {
		t.Fatalf("groups = %+v", groups)
	}

	if code := f.do(t, "GET", "/api/groups/nope", "", nil); code != http.StatusNotFound {
		t.Errorf("unknown group: %d", code)
	}
	if code := f.do(t, "POST", "/api/groups/g-1/dedupe", "", nil); code != http.StatusConflict {
		t.Errorf("dedupe of flagged group: %d", code)
	}
	if code := f.do(t, "POST", "/api/groups/g-1/choose", `{}`, nil); code != http.StatusBadRequest {
		t.Errorf("choose without index: %d", code)
	}

	var chosen groupDTO
	if code := f.do(t, "POST", "/api/groups/g-1/choose", `{"edition_index": "1"}`, &chosen); code != http.StatusOK {
		t.Fatalf("choose: %d", code)
	}
	if chosen.NoMove || chosen.KeptIndex != 1 || chosen.Status != store.GroupResolved {
		t.Errorf("chosen = %+v", chosen)
	}

	var plan resultDTO
	if code := f.do(t, "POST", "/api/groups/g-1/dry-run", "", &plan); code != http.StatusOK || plan.Planned != 1 {
		t.Fatalf("dry run: %d %+v", code, plan)
	}

	var res resultDTO
	if code := f.do(t, "POST", "/api/groups/g-1/dedupe", "", &res); code != http.StatusOK || res.Moved != 1 {
		t.Fatalf("dedupe: %d %+v", code, res)
	}
	if util.PathExists(f.loser.Path) {
		t.Error("loser should have moved")
	}

	var moves []moveDTO
	f.do(t, "GET", "/api/scans/latest/moves", "", &moves)
	if len(moves) != 1 || moves[0].Reason != store.ReasonDedupe || moves[0].OriginalPath != f.loser.Path {
		t.Fatalf("moves = %+v", moves)
	}

	if code := f.do(t, "POST", "/api/scans/scan-1/restore", `{}`, nil); code != http.StatusBadRequest {
		t.Errorf("restore without selection: %d", code)
	}
	var restored restoreResponse
	if code := f.do(t, "POST", "/api/scans/scan-1/restore", `{"move_ids": "`+moves[0].MoveID+`"}`, &restored); code != http.StatusOK {
		t.Fatalf("restore: %d", code)
	}
	if len(restored.Restored) != 1 || !util.PathExists(f.loser.Path) {
		t.Errorf("restore = %+v", restored)
	}
}

func TestScanControlWithoutSession(t *testing.T) {
	f := newFixture(t)

	if code := f.do(t, "POST", "/api/scan", `{"threads": "2"}`, nil); code != http.StatusBadRequest {
		t.Errorf("start without roots: %d", code)
	}
	if code := f.do(t, "POST", "/api/scan", `{"roots": ["/x"], "threads": "many"}`, nil); code != http.StatusBadRequest {
		t.Errorf("start with bad threads: %d", code)
	}
	for _, op := range []string{"pause", "resume", "stop"} {
		if code := f.do(t, "POST", "/api/scan/"+op, "", nil); code != http.StatusConflict {
			t.Errorf("%s without session: %d", op, code)
		}
	}

	var progress map[string]interface{}
	if code := f.do(t, "GET", "/api/scan/progress", "", &progress); code != http.StatusOK {
		t.Fatalf("progress: %d", code)
	}
	if progress["scan_id"] != "scan-1" || progress["state"] != store.RunCompleted {
		t.Errorf("progress = %v", progress)
	}

	var runs []runDTO
	f.do(t, "GET", "/api/scans", "", &runs)
	if len(runs) != 1 || runs[0].EndedAt == nil {
		t.Errorf("history = %+v", runs)
	}
}

func TestIncompleteExportFormats(t *testing.T) {
	f := newFixture(t)
	if code := f.do(t, "GET", "/api/scans/latest/incomplete/export?format=xml", "", nil); code != http.StatusBadRequest {
		t.Errorf("xml export: %d", code)
	}

	resp, err := http.Get(f.srv.URL + "/api/scans/latest/incomplete/export?format=csv")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/csv") {
		t.Errorf("csv export: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	if code := f.do(t, "POST", "/api/scans/latest/incomplete/move", `{"album_ids": []}`, nil); code != http.StatusBadRequest {
		t.Errorf("move without ids: %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics: %d", resp.StatusCode)
	}
}
