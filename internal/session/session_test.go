package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/franz/edition-janitor/internal/ai"
	"github.com/franz/edition-janitor/internal/meta"
	"github.com/franz/edition-janitor/internal/probe"
	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
)

// pathTags takes the artist from the grandparent folder and the album from
// the parent
type pathTags struct{}

func (pathTags) ReadTags(path string) (*meta.TrackTags, error) {
	dir := filepath.Dir(path)
	t := &meta.TrackTags{
		Artist: filepath.Base(filepath.Dir(dir)),
		Album:  filepath.Base(dir),
	}
	meta.FillFromPath(t, path)
	return t, nil
}

// extProber reports FLAC as 16/44.1 lossless and MP3 as 320k. It can hold
// the first call until release is closed.
type extProber struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (p *extProber) Probe(_ context.Context, path string) (*probe.AudioProps, error) {
	if p.entered != nil {
		p.once.Do(func() {
			close(p.entered)
			<-p.release
		})
	}
	format := probe.FormatFromExtension(path)
	if format == "mp3" {
		return &probe.AudioProps{Format: format, BitrateKbps: 320, SampleRate: 44100, DurationMs: 200000}, nil
	}
	return &probe.AudioProps{Format: format, BitrateKbps: 900, SampleRate: 44100, BitDepth: 16, DurationMs: 200000, Lossless: true}, nil
}

type blockingTieBreaker struct{}

func (blockingTieBreaker) Evaluate(ctx context.Context, _ []ai.Candidate) (*ai.Decision, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// flakyTieBreaker times out on its first call and picks the runner-up after
type flakyTieBreaker struct {
	mu    sync.Mutex
	calls int
}

func (f *flakyTieBreaker) Evaluate(ctx context.Context, _ []ai.Candidate) (*ai.Decision, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if n == 1 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &ai.Decision{WinnerIndex: 1, Rationale: "runner-up has the cleaner rip"}, nil
}

func writeFiles(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(root, p)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("audio:"+p), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func newManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "edj.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	m := NewManager(&ManagerConfig{Store: st, LockPath: filepath.Join(dir, "edj.db.lock")})
	return m, st
}

func waitDone(t *testing.T, sess *Session) {
	t.Helper()
	select {
	case <-sess.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		ok       bool
	}{
		{store.RunIdle, store.RunRunning, true},
		{store.RunRunning, store.RunPaused, true},
		{store.RunPaused, store.RunRunning, true},
		{store.RunPaused, store.RunStopped, true},
		{store.RunRunning, store.RunCompleted, true},
		{store.RunIdle, store.RunPaused, false},
		{store.RunPaused, store.RunCompleted, false},
		{store.RunCompleted, store.RunRunning, false},
		{store.RunStopped, store.RunRunning, false},
		{store.RunFailed, store.RunPaused, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("CanTransition(%s, %s) = %v, expected %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestScanDedupesLossyCopy(t *testing.T) {
	m, st := newManager(t)
	flacRoot, mp3Root, dupes := t.TempDir(), t.TempDir(), t.TempDir()
	writeFiles(t, flacRoot, "Artist/Album/01 - One.flac", "Artist/Album/02 - Two.flac")
	writeFiles(t, mp3Root, "Artist/Album/01 - One.mp3", "Artist/Album/02 - Two.mp3")

	sess, err := m.Start(context.Background(), &Config{
		Roots:       []string{flacRoot, mp3Root},
		DupesRoot:   dupes,
		Concurrency: 2,
		AutoMove:    true,
		Tags:        pathTags{},
		Prober:      &extProber{},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitDone(t, sess)

	p := sess.Snapshot()
	if p.State != store.RunCompleted {
		t.Fatalf("state = %s (%s)", p.State, p.LastError)
	}
	if p.AlbumsTotal != 2 || p.AlbumsScanned != 2 || p.GroupsFound != 1 || p.AlbumsMoved != 1 {
		t.Errorf("progress = %+v", p)
	}

	moved := filepath.Join(dupes, "Artist", "Album (2)")
	if !util.PathExists(filepath.Join(moved, "01 - One.mp3")) {
		t.Errorf("lossy edition should be at %s", moved)
	}
	if !util.PathExists(filepath.Join(flacRoot, "Artist", "Album", "01 - One.flac")) {
		t.Error("lossless edition should stay in place")
	}

	groups, _ := st.ListGroups(sess.ID(), 2)
	if len(groups) != 1 || groups[0].Status != store.GroupDeduped {
		t.Fatalf("groups = %+v", groups)
	}
	kept, _ := st.GetEdition(groups[0].KeptEditionID)
	if kept.Format != "flac" {
		t.Errorf("kept %s edition", kept.Format)
	}

	run, _ := st.GetScanRun(sess.ID())
	if run.Status != store.RunCompleted || run.AlbumsMoved != 1 || run.GroupsFound != 1 {
		t.Errorf("run = %+v", run)
	}
}

func TestTieBreakerTimeoutFallsBackToScore(t *testing.T) {
	m, st := newManager(t)
	a, b := t.TempDir(), t.TempDir()
	writeFiles(t, a, "Artist/Album/01 - One.flac", "Artist/Album/02 - Two.flac")
	writeFiles(t, b, "Artist/Album/01 - One.flac", "Artist/Album/02 - Two.flac")

	sess, err := m.Start(context.Background(), &Config{
		Roots:               []string{a, b},
		DupesRoot:           t.TempDir(),
		Tags:                pathTags{},
		Prober:              &extProber{},
		TieBreaker:          blockingTieBreaker{},
		AITimeout:           20 * time.Millisecond,
		AIRequestsPerMinute: 6000,
	})
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, sess)

	if s := sess.State(); s != store.RunCompleted {
		t.Fatalf("state = %s", s)
	}
	groups, _ := st.ListGroups(sess.ID(), 2)
	if len(groups) != 1 || groups[0].Status != store.GroupResolved || groups[0].KeptEditionID != groups[0].EditionIDs[0] {
		t.Fatalf("group should resolve by score, got %+v", groups)
	}

	failures, _ := st.ListAIFailures(sess.ID())
	if len(failures) != 1 || !failures[0].Recoverable || failures[0].Kind != string(util.AIKindTimeout) {
		t.Fatalf("failures = %+v", failures)
	}
	if failures[0].Status != store.AIFailureUnresolved {
		t.Errorf("retry should also time out, status = %s", failures[0].Status)
	}

	run, _ := st.GetScanRun(sess.ID())
	if run.AIFailed != 1 || run.AIUnresolved != 1 || run.AIRecovered != 0 {
		t.Errorf("ai counters = %d/%d/%d", run.AIFailed, run.AIRecovered, run.AIUnresolved)
	}
}

func TestTieBreakerRetryReplacesScorePick(t *testing.T) {
	m, st := newManager(t)
	a, b, dupes := t.TempDir(), t.TempDir(), t.TempDir()
	writeFiles(t, a, "Artist/Album/01 - One.flac", "Artist/Album/02 - Two.flac")
	writeFiles(t, b, "Artist/Album/01 - One.flac", "Artist/Album/02 - Two.flac")

	tb := &flakyTieBreaker{}
	sess, err := m.Start(context.Background(), &Config{
		Roots:               []string{a, b},
		DupesRoot:           dupes,
		AutoMove:            true,
		Tags:                pathTags{},
		Prober:              &extProber{},
		TieBreaker:          tb,
		AITimeout:           50 * time.Millisecond,
		AIRequestsPerMinute: 60000,
	})
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, sess)

	p := sess.Snapshot()
	if p.State != store.RunCompleted {
		t.Fatalf("state = %s (%s)", p.State, p.LastError)
	}
	if p.AIFailed != 1 || p.AIRecovered != 1 || p.AIUnresolved != 0 || p.AlbumsMoved != 1 {
		t.Errorf("progress = %+v", p)
	}
	if tb.calls != 2 {
		t.Errorf("tie-breaker called %d times", tb.calls)
	}

	failures, _ := st.ListAIFailures(sess.ID())
	if len(failures) != 1 || failures[0].Status != store.AIFailureRecovered {
		t.Fatalf("failures = %+v", failures)
	}

	groups, _ := st.ListGroups(sess.ID(), 2)
	if len(groups) != 1 {
		t.Fatalf("groups = %+v", groups)
	}
	g := groups[0]
	if g.KeptEditionID != g.EditionIDs[1] || g.AIRationale == "" || g.Status != store.GroupDeduped {
		t.Fatalf("group should keep the tie-breaker's pick, got %+v", g)
	}

	// The score pick moved; the tie-breaker's pick stayed
	kept, _ := st.GetEdition(g.EditionIDs[1])
	scorePick, _ := st.GetEdition(g.EditionIDs[0])
	if !util.PathExists(kept.Path) || kept.Moved || !kept.AIVerified {
		t.Errorf("kept edition = %+v", kept)
	}
	if util.PathExists(scorePick.Path) || !scorePick.Moved {
		t.Errorf("score pick should have moved: %+v", scorePick)
	}

	run, _ := st.GetScanRun(sess.ID())
	if run.AIFailed != 1 || run.AIRecovered != 1 || run.AIUnresolved != 0 {
		t.Errorf("ai counters = %d/%d/%d", run.AIFailed, run.AIRecovered, run.AIUnresolved)
	}
}

func TestPauseResumeStop(t *testing.T) {
	m, st := newManager(t)
	root := t.TempDir()
	writeFiles(t, root,
		"A/First/01 - One.flac",
		"B/Second/01 - One.flac",
		"C/Third/01 - One.flac",
	)

	prober := &extProber{entered: make(chan struct{}), release: make(chan struct{})}
	sess, err := m.Start(context.Background(), &Config{
		Roots:       []string{root},
		DupesRoot:   t.TempDir(),
		Concurrency: 1,
		Tags:        pathTags{},
		Prober:      prober,
	})
	if err != nil {
		t.Fatal(err)
	}
	<-prober.entered

	if _, err := m.Start(context.Background(), &Config{Roots: []string{root}}); !errors.Is(err, util.ErrScanActive) {
		t.Errorf("second start = %v, expected ErrScanActive", err)
	}
	if err := m.Resume(); !errors.Is(err, util.ErrInvalidTransition) {
		t.Errorf("resume while running = %v", err)
	}

	if err := m.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if run, _ := st.GetScanRun(sess.ID()); run.Status != store.RunPaused {
		t.Errorf("persisted state = %s", run.Status)
	}
	close(prober.release)

	// The in-flight album completes; the next one waits at the gate
	deadline := time.Now().Add(5 * time.Second)
	for sess.Snapshot().AlbumsScanned < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if n := sess.Snapshot().AlbumsScanned; n != 1 {
		t.Fatalf("albums scanned while paused = %d", n)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	waitDone(t, sess)

	p := sess.Snapshot()
	if p.State != store.RunStopped || p.AlbumsScanned != 1 || p.AlbumsTotal != 3 {
		t.Errorf("progress = %+v", p)
	}
	if err := m.Stop(); !errors.Is(err, util.ErrNoActiveScan) {
		t.Errorf("stop after stop = %v", err)
	}
	if err := sess.Resume(); !errors.Is(err, util.ErrInvalidTransition) {
		t.Errorf("resume after stop = %v", err)
	}

	run, _ := st.GetScanRun(sess.ID())
	if run.Status != store.RunStopped || run.AlbumsScanned != 1 || run.EndedAt.IsZero() {
		t.Errorf("run = %+v", run)
	}

	// The lock is free again
	next, err := m.Start(context.Background(), &Config{Roots: []string{root}, DupesRoot: t.TempDir(), Tags: pathTags{}, Prober: &extProber{}})
	if err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	waitDone(t, next)
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		scanned, total int
		want           float64
	}{
		{0, 0, 0},
		{1, 4, 25},
		{3, 3, 100},
	}
	for _, tt := range tests {
		p := &Progress{AlbumsScanned: tt.scanned, AlbumsTotal: tt.total}
		if got := p.Percent(); got != tt.want {
			t.Errorf("Percent(%d/%d) = %v, expected %v", tt.scanned, tt.total, got, tt.want)
		}
	}
}

func TestProgressWithoutSession(t *testing.T) {
	m, _ := newManager(t)
	p, err := m.Progress()
	if err != nil || p.State != store.RunIdle {
		t.Errorf("progress = %+v, %v", p, err)
	}
	if err := m.Pause(); !errors.Is(err, util.ErrNoActiveScan) {
		t.Errorf("pause without session = %v", err)
	}
}
