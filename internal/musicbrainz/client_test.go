package musicbrainz

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/franz/edition-janitor/internal/meta"
	"github.com/franz/edition-janitor/internal/store"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClientWithBaseURL(srv.URL)
	c.SetRateLimit(time.Millisecond)
	return c
}

func TestSearchReleasePrefersTrackCount(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing User-Agent header")
		}
		q := r.URL.Query().Get("query")
		if !strings.Contains(q, `release:"OK Computer"`) || !strings.Contains(q, `artist:"Radiohead"`) {
			t.Errorf("unexpected query %q", q)
		}
		fmt.Fprint(w, `{"releases": [
			{"id": "a", "title": "OK Computer", "score": 100, "track-count": 12},
			{"id": "b", "title": "OK Computer OKNOTOK", "score": 95, "track-count": 23},
			{"id": "c", "title": "OK Computer", "score": 40, "track-count": 23}
		]}`)
	})

	rel, err := c.SearchRelease(context.Background(), "Radiohead", "OK Computer", 23)
	if err != nil {
		t.Fatalf("SearchRelease: %v", err)
	}
	if rel == nil || rel.ID != "b" {
		t.Fatalf("expected release b, got %+v", rel)
	}

	rel, err = c.SearchRelease(context.Background(), "Radiohead", "OK Computer", 0)
	if err != nil || rel == nil || rel.ID != "a" {
		t.Fatalf("expected top score release a, got %+v, %v", rel, err)
	}
}

func TestLookupReleaseCountsMedia(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing") {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"id": "x", "title": "Double", "media": [{"track-count": 9}, {"track-count": 8}]}`)
	})

	rel, err := c.LookupRelease(context.Background(), "x")
	if err != nil {
		t.Fatalf("LookupRelease: %v", err)
	}
	if rel.Tracks() != 17 {
		t.Errorf("expected 17 tracks, got %d", rel.Tracks())
	}

	rel, err = c.LookupRelease(context.Background(), "missing")
	if err != nil || rel != nil {
		t.Errorf("expected nil release for 404, got %+v, %v", rel, err)
	}
}

func TestClientRateLimiting(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"releases": []}`)
	})
	c.SetRateLimit(50 * time.Millisecond)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.SearchRelease(context.Background(), "a", "b", 0); err != nil {
			t.Fatalf("SearchRelease: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("3 requests took only %v, expected at least 90ms", elapsed)
	}
}

type fakeSource struct {
	calls   atomic.Int32
	release *Release
	err     error
}

func (f *fakeSource) LookupRelease(ctx context.Context, mbid string) (*Release, error) {
	f.calls.Add(1)
	return f.release, f.err
}

func (f *fakeSource) SearchRelease(ctx context.Context, artist, album string, tracks int) (*Release, error) {
	f.calls.Add(1)
	return f.release, f.err
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCachePersistsMisses(t *testing.T) {
	st := openStore(t)
	src := &fakeSource{}
	q := meta.ReleaseQuery{Artist: "Nobody", Album: "Nothing"}

	info, err := newCache(st, src).LookupRelease(context.Background(), q)
	if err != nil || info != nil {
		t.Fatalf("expected unknown release, got %+v, %v", info, err)
	}

	// A fresh cache over the same database must not hit the API again
	info, err = newCache(st, src).LookupRelease(context.Background(), q)
	if err != nil || info != nil {
		t.Fatalf("expected cached miss, got %+v, %v", info, err)
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("source called %d times, expected 1", n)
	}
}

func TestCacheHitsAndFailures(t *testing.T) {
	st := openStore(t)
	src := &fakeSource{err: errors.New("connection reset")}
	cache := newCache(st, src)
	q := meta.ReleaseQuery{Artist: "Radiohead", Album: "OK Computer (Deluxe)", Tracks: 12}

	if _, err := cache.LookupRelease(context.Background(), q); err == nil {
		t.Fatal("expected transport error")
	}

	src.err = nil
	src.release = &Release{ID: "mbid-1", Title: "OK Computer", TrackCount: 12}
	for i := 0; i < 3; i++ {
		info, err := cache.LookupRelease(context.Background(), q)
		if err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
		if info.ReleaseID != "mbid-1" || info.TrackCount != 12 {
			t.Errorf("lookup %d got %+v", i, info)
		}
	}
	if n := src.calls.Load(); n != 2 {
		t.Errorf("source called %d times, expected 2 (failure was not cached)", n)
	}

	releases, misses, _, err := st.ReleaseCacheStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if releases != 1 || misses != 0 {
		t.Errorf("expected 1 release and 0 misses, got %d and %d", releases, misses)
	}
}

func TestQueryKey(t *testing.T) {
	a := queryKey(meta.ReleaseQuery{Artist: "Björk", Album: "Homogenic [Remaster]"})
	b := queryKey(meta.ReleaseQuery{Artist: "bjork", Album: "Homogenic"})
	if a != b {
		t.Errorf("expected equal keys, got %q and %q", a, b)
	}
	if k := queryKey(meta.ReleaseQuery{ReleaseID: "abc", Album: "x"}); k != "id:abc" {
		t.Errorf("expected id key, got %q", k)
	}
}
