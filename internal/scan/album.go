package scan

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/facette/natsort"

	"github.com/franz/edition-janitor/internal/meta"
	"github.com/franz/edition-janitor/internal/probe"
	"github.com/franz/edition-janitor/internal/store"
)

// Album is one candidate edition on disk: a folder and the audio files under
// it, including files in disc subfolders
type Album struct {
	Key   string // clean absolute folder path
	Root  string
	Files []string
}

// fileInfo is what the scanner learned about one audio file
type fileInfo struct {
	path  string
	rel   string
	size  int64
	tags  *meta.TrackTags
	props *probe.AudioProps
}

// buildEdition turns the files of an album into an edition and its tracks.
// Track indices come from the track tags; discs are laid end to end, files
// without a number follow in natural filename order, and a repeated index is
// moved to the next free slot so indices stay unique.
func buildEdition(a *Album, files []*fileInfo, stripQualifiers bool) (*store.Edition, []*store.Track) {
	sort.Slice(files, func(i, j int) bool { return natsort.Compare(files[i].rel, files[j].rel) })

	e := &store.Edition{
		Path: a.Key,
		Root: a.Root,
	}

	e.Artist = albumArtist(a, files)
	e.Title = albumTitle(a, files)
	e.ArtistKey = meta.NormalizeArtist(e.Artist)
	e.TitleKey = meta.NormalizeAlbumTitle(e.Title, stripQualifiers)

	tracks := assignIndices(files)

	var formats []string
	var bitrates, sampleRates, bitDepths []int
	for _, t := range tracks {
		e.TotalSize += t.SizeBytes
		formats = append(formats, t.Format)
		bitrates = append(bitrates, t.BitrateKbps)
		sampleRates = append(sampleRates, t.SampleRate)
		bitDepths = append(bitDepths, t.BitDepth)
	}
	e.Format = modeString(formats)
	e.BitrateKbps = average(bitrates)
	e.SampleRate = modeInt(sampleRates)
	e.BitDepth = modeInt(bitDepths)

	for _, f := range files {
		if f.tags.ReleaseID != "" && e.ReleaseID == "" {
			e.ReleaseID = f.tags.ReleaseID
			e.ReleaseTagged = true
		}
		total := f.tags.TrackTotal
		if f.tags.DiscTotal > 1 {
			// Per-disc totals do not describe the whole release
			total = 0
		}
		if total > e.ExpectedTracks {
			e.ExpectedTracks = total
		}
	}

	return e, tracks
}

func assignIndices(files []*fileInfo) []*store.Track {
	// Highest track number seen on each disc, to lay discs end to end
	discMax := make(map[int]int)
	for _, f := range files {
		d := discOf(f)
		if f.tags.Track > discMax[d] {
			discMax[d] = f.tags.Track
		}
	}
	discs := make([]int, 0, len(discMax))
	for d := range discMax {
		discs = append(discs, d)
	}
	sort.Ints(discs)
	offset := make(map[int]int, len(discs))
	running := 0
	for _, d := range discs {
		offset[d] = running
		running += discMax[d]
	}

	used := make(map[int]bool)
	tracks := make([]*store.Track, 0, len(files))
	var unnumbered []*fileInfo
	for _, f := range files {
		if f.tags.Track <= 0 {
			unnumbered = append(unnumbered, f)
			continue
		}
		idx := offset[discOf(f)] + f.tags.Track
		for used[idx] {
			idx++
		}
		used[idx] = true
		tracks = append(tracks, newTrack(f, idx))
	}

	next := 1
	for idx := range used {
		if idx >= next {
			next = idx + 1
		}
	}
	for _, f := range unnumbered {
		tracks = append(tracks, newTrack(f, next))
		next++
	}

	sort.Slice(tracks, func(i, j int) bool { return tracks[i].Index < tracks[j].Index })
	return tracks
}

func discOf(f *fileInfo) int {
	if f.tags.Disc > 0 {
		return f.tags.Disc
	}
	return 1
}

func newTrack(f *fileInfo, idx int) *store.Track {
	t := &store.Track{
		Index:     idx,
		Disc:      discOf(f),
		Title:     f.tags.Title,
		Path:      f.path,
		SizeBytes: f.size,
	}
	if f.props != nil {
		t.DurationMs = f.props.DurationMs
		t.BitrateKbps = f.props.BitrateKbps
		t.SampleRate = f.props.SampleRate
		t.BitDepth = f.props.BitDepth
		t.Format = f.props.Format
	}
	if t.Format == "" {
		t.Format = probe.FormatFromExtension(f.path)
	}
	return t
}

// albumArtist prefers the album artist tag, then the most common track
// artist, then the parent folder name
func albumArtist(a *Album, files []*fileInfo) string {
	var names []string
	for _, f := range files {
		if f.tags.AlbumArtist != "" {
			names = append(names, f.tags.AlbumArtist)
		}
	}
	if len(names) == 0 {
		for _, f := range files {
			if f.tags.Artist != "" {
				names = append(names, f.tags.Artist)
			}
		}
	}
	if len(names) > 0 {
		return modeString(names)
	}

	parent := filepath.Dir(a.Key)
	if parent == a.Root || parent == filepath.Dir(parent) {
		return "Unknown Artist"
	}
	return filepath.Base(parent)
}

// albumTitle prefers the most common album tag, then the folder name
func albumTitle(a *Album, files []*fileInfo) string {
	var titles []string
	for _, f := range files {
		if f.tags.Album != "" {
			titles = append(titles, f.tags.Album)
		}
	}
	if len(titles) > 0 {
		return modeString(titles)
	}
	title, _ := meta.ParseFolderAlbum(filepath.Base(a.Key))
	return title
}

// modeString returns the most common non-empty value; ties go to the
// lexically smallest so the result is stable
func modeString(values []string) string {
	counts := make(map[string]int)
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			counts[v]++
		}
	}
	best, bestN := "", 0
	for v, n := range counts {
		if n > bestN || (n == bestN && v < best) {
			best, bestN = v, n
		}
	}
	return best
}

// modeInt returns the most common positive value; ties go to the larger
func modeInt(values []int) int {
	counts := make(map[int]int)
	for _, v := range values {
		if v > 0 {
			counts[v]++
		}
	}
	best, bestN := 0, 0
	for v, n := range counts {
		if n > bestN || (n == bestN && v > best) {
			best, bestN = v, n
		}
	}
	return best
}

func average(values []int) int {
	sum, n := 0, 0
	for _, v := range values {
		if v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / n
}
