package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/facette/natsort"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"github.com/franz/edition-janitor/internal/meta"
	"github.com/franz/edition-janitor/internal/probe"
	"github.com/franz/edition-janitor/internal/report"
	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
)

// AudioExtensions are the default supported audio file extensions
var AudioExtensions = []string{
	".mp3",
	".flac",
	".m4a",
	".aac",
	".ogg",
	".opus",
	".wav",
	".aiff",
	".aif",
	".wma",
	".ape",
	".wv",  // WavPack
	".mpc", // Musepack
}

// Scanner turns album folders into editions and tracks
type Scanner struct {
	store           *store.Store
	tags            meta.TagReader
	prober          probe.Prober
	releases        meta.ReleaseProvider
	extensions      map[string]bool
	exclude         []string
	concurrency     int
	stripQualifiers bool
	logger          *report.EventLogger
}

// Config holds scanner configuration
type Config struct {
	Store           *store.Store
	Tags            meta.TagReader
	Prober          probe.Prober
	Releases        meta.ReleaseProvider
	AdditionalExts  []string
	Exclude         []string // folders never scanned, e.g. the dupes root
	Concurrency     int
	StripQualifiers bool
	Logger          *report.EventLogger
}

// New creates a new Scanner
func New(cfg *Config) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Tags == nil {
		cfg.Tags = meta.FileTagReader{}
	}
	if cfg.Prober == nil {
		cfg.Prober = probe.NewCachedProber(probe.NewDefaultProber())
	}
	if cfg.Releases == nil {
		cfg.Releases = meta.NoReleases{}
	}

	extMap := make(map[string]bool)
	for _, ext := range AudioExtensions {
		extMap[strings.ToLower(ext)] = true
	}
	for _, ext := range cfg.AdditionalExts {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extMap[strings.ToLower(ext)] = true
	}

	exclude := make([]string, 0, len(cfg.Exclude))
	for _, dir := range cfg.Exclude {
		if dir == "" {
			continue
		}
		if abs, err := filepath.Abs(dir); err == nil {
			exclude = append(exclude, filepath.Clean(abs))
		}
	}

	return &Scanner{
		store:           cfg.Store,
		tags:            cfg.Tags,
		prober:          cfg.Prober,
		releases:        cfg.Releases,
		extensions:      extMap,
		exclude:         exclude,
		concurrency:     cfg.Concurrency,
		stripQualifiers: cfg.StripQualifiers,
		logger:          cfg.Logger,
	}
}

// Discover walks the roots and returns album folders in path order. An
// unreachable root is run-fatal; unreadable subfolders are skipped.
func (s *Scanner) Discover(ctx context.Context, roots []string) ([]*Album, error) {
	albums := make(map[string]*Album)

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, util.Fatal(fmt.Errorf("invalid source root %s: %w", root, err))
		}
		abs = filepath.Clean(abs)
		info, err := os.Stat(abs)
		if err != nil {
			return nil, util.Fatal(fmt.Errorf("source root unreachable: %w", err))
		}
		if !info.IsDir() {
			return nil, util.Fatal(fmt.Errorf("source root %s is not a directory", abs))
		}

		util.InfoLog("Discovering albums under: %s", abs)
		walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				util.WarnLog("Error accessing path %s: %v", path, err)
				if d != nil && d.IsDir() && path != abs {
					return fs.SkipDir
				}
				return nil
			}

			if d.IsDir() {
				if path != abs && (strings.HasPrefix(d.Name(), ".") || s.isExcluded(path)) {
					return fs.SkipDir
				}
				return nil
			}

			if !s.isAudioFile(path) {
				return nil
			}

			dir := filepath.Dir(path)
			if dir != abs && meta.IsDiscFolder(filepath.Base(dir)) {
				dir = filepath.Dir(dir)
			}
			a, ok := albums[dir]
			if !ok {
				a = &Album{Key: dir, Root: abs}
				albums[dir] = a
			}
			a.Files = append(a.Files, path)
			return nil
		})
		if walkErr != nil {
			if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
				return nil, walkErr
			}
			return nil, util.Fatal(fmt.Errorf("walk error: %w", walkErr))
		}
	}

	result := make([]*Album, 0, len(albums))
	for _, a := range albums {
		natsort.Sort(a.Files)
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })

	util.InfoLog("Discovered %d album folders", len(result))
	return result, nil
}

// Gate is consulted before every album; it blocks while the run is paused
// and returns an error once the run should stop
type Gate interface {
	Wait(ctx context.Context) error
}

type openGate struct{}

func (openGate) Wait(ctx context.Context) error { return ctx.Err() }

// Event reports the outcome of one album unit
type Event struct {
	AlbumKey  string
	ArtistKey string
	EditionID int64
	Cached    bool // unchanged since its checkpoint
	Err       error

	// Interrupted is set when the run was cancelled while the album was in
	// flight; nothing of it was committed
	Interrupted bool
}

// Result summarizes a scan pass
type Result struct {
	Scanned int
	Cached  int
	Errors  []error
	Skipped int // not started because the run was stopped
}

// ScanAlbums scans every album with a pool of workers. Each album is one unit:
// the gate is consulted before it starts, a failure or panic inside it becomes
// a ScanError, and its outcome is sent to events when events is non-nil.
func (s *Scanner) ScanAlbums(ctx context.Context, scanID string, albums []*Album, gate Gate, events chan<- Event) *Result {
	if gate == nil {
		gate = openGate{}
	}

	outcomes := make([]Event, len(albums))
	started := make([]bool, len(albums))

	p := pool.New().WithMaxGoroutines(s.concurrency)
	for i, a := range albums {
		i, a := i, a
		p.Go(func() {
			if err := gate.Wait(ctx); err != nil {
				return
			}
			started[i] = true

			ev := s.scanUnit(ctx, scanID, a)
			outcomes[i] = ev
			if events != nil {
				events <- ev
			}
		})
	}
	p.Wait()

	result := &Result{}
	for i, ev := range outcomes {
		switch {
		case !started[i], ev.Interrupted:
			result.Skipped++
		case ev.Err != nil:
			result.Errors = append(result.Errors, ev.Err)
		case ev.Cached:
			result.Cached++
		default:
			result.Scanned++
		}
	}

	util.SuccessLog("Scan pass complete: %d scanned, %d unchanged, %d errors, %d not started",
		result.Scanned, result.Cached, len(result.Errors), result.Skipped)
	return result
}

// scanUnit isolates one album: errors and panics are turned into a ScanError
func (s *Scanner) scanUnit(ctx context.Context, scanID string, a *Album) Event {
	ev := Event{AlbumKey: a.Key}

	var pc panics.Catcher
	pc.Try(func() {
		ev.EditionID, ev.ArtistKey, ev.Cached, ev.Err = s.scanAlbum(ctx, scanID, a)
	})
	if r := pc.Recovered(); r != nil {
		ev.Err = r.AsError()
	}

	if ev.Err != nil && ctx.Err() != nil && errors.Is(ev.Err, ctx.Err()) {
		ev.Err = nil
		ev.Interrupted = true
		return ev
	}

	if ev.Err != nil {
		ev.Err = &util.ScanError{AlbumKey: a.Key, Path: a.Key, Err: ev.Err}
		util.ErrorLog("Failed to scan %s: %v", a.Key, ev.Err)
		s.logger.LogScanError(scanID, a.Key, ev.Err)
		return ev
	}

	s.logger.LogAlbumScanned(scanID, a.Key, len(a.Files), ev.Cached)
	return ev
}

func (s *Scanner) scanAlbum(ctx context.Context, scanID string, a *Album) (editionID int64, artistKey string, cached bool, err error) {
	stamps := make([]util.FileStamp, 0, len(a.Files))
	sizes := make([]int64, len(a.Files))
	for i, path := range a.Files {
		rel, relErr := filepath.Rel(a.Key, path)
		if relErr != nil {
			rel = filepath.Base(path)
		}
		stamp, err := util.StampFile(path, rel)
		if err != nil {
			return 0, "", false, err
		}
		stamps = append(stamps, stamp)
		sizes[i] = stamp.Size
	}
	signature := util.AlbumSignature(stamps)

	cp, err := s.store.GetCheckpoint(a.Key)
	if err != nil {
		return 0, "", false, err
	}
	if cp != nil && cp.Signature == signature {
		e, err := s.store.GetEditionByPath(a.Key)
		if err != nil {
			return 0, "", false, err
		}
		if e != nil && e.ID == cp.EditionID {
			if err := s.store.TouchEdition(e.ID, scanID); err != nil {
				return 0, "", false, err
			}
			util.DebugLog("Unchanged since checkpoint: %s", a.Key)
			return e.ID, e.ArtistKey, true, nil
		}
	}

	files := make([]*fileInfo, 0, len(a.Files))
	for i, path := range a.Files {
		if err := ctx.Err(); err != nil {
			return 0, "", false, err
		}

		tags, err := s.tags.ReadTags(path)
		if err != nil {
			util.DebugLog("No readable tags in %s: %v", path, err)
			tags = &meta.TrackTags{}
			meta.FillFromPath(tags, path)
		}

		props, err := s.prober.Probe(ctx, path)
		if err != nil {
			return 0, "", false, fmt.Errorf("failed to probe %s: %w", filepath.Base(path), err)
		}

		files = append(files, &fileInfo{
			path:  path,
			rel:   stamps[i].Name,
			size:  sizes[i],
			tags:  tags,
			props: props,
		})
	}

	e, tracks := buildEdition(a, files, s.stripQualifiers)
	e.Signature = signature
	e.LastScanID = scanID

	s.resolveRelease(ctx, e, len(tracks))

	id, err := s.store.SaveEdition(e, tracks)
	if err != nil {
		return 0, "", false, err
	}

	if err := s.store.PutCheckpoint(&store.Checkpoint{
		AlbumKey:  a.Key,
		Signature: signature,
		EditionID: id,
		ScanID:    scanID,
	}); err != nil {
		return 0, "", false, err
	}

	util.DebugLog("Scanned %s: %d tracks, %s", a.Key, len(tracks), e.Format)
	return id, e.ArtistKey, false, nil
}

// resolveRelease fills the release id and expected track count from the
// metadata provider. Provider failures leave the tag values in place. An id
// found by searching artist and title stays untagged.
func (s *Scanner) resolveRelease(ctx context.Context, e *store.Edition, tracks int) {
	if e.ReleaseID != "" && e.ExpectedTracks > 0 {
		return
	}
	info, err := s.releases.LookupRelease(ctx, meta.ReleaseQuery{
		ReleaseID: e.ReleaseID,
		Artist:    e.Artist,
		Album:     e.Title,
		Tracks:    tracks,
	})
	if err != nil {
		util.WarnLog("Release lookup failed for %s: %v", e.Path, err)
		return
	}
	if info == nil {
		return
	}
	if e.ReleaseID == "" {
		e.ReleaseID = info.ReleaseID
	}
	if e.ExpectedTracks == 0 {
		e.ExpectedTracks = info.TrackCount
	}
}

func (s *Scanner) isExcluded(path string) bool {
	for _, dir := range s.exclude {
		if path == dir {
			return true
		}
	}
	return false
}

// isAudioFile checks if a file has a supported audio extension
func (s *Scanner) isAudioFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return s.extensions[ext]
}

// SupportedExtensions returns the configured extensions, sorted
func (s *Scanner) SupportedExtensions() []string {
	exts := make([]string, 0, len(s.extensions))
	for ext := range s.extensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
