package meta

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
)

// TrackTags are the tag fields the scanner needs from one audio file
type TrackTags struct {
	Artist      string
	AlbumArtist string
	Album       string
	Title       string
	Track       int
	TrackTotal  int
	Disc        int
	DiscTotal   int
	Year        int
	ReleaseID   string // MusicBrainz album id when tagged
}

// TagReader reads tags from an audio file
type TagReader interface {
	ReadTags(path string) (*TrackTags, error)
}

// FileTagReader reads ID3, MP4, FLAC and Ogg tags
type FileTagReader struct{}

// ReadTags reads the tags of path. Missing track and disc numbers are filled
// from the file and folder names.
func (FileTagReader) ReadTags(path string) (*TrackTags, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read tags: %w", err)
	}

	t := &TrackTags{
		Artist:      strings.TrimSpace(m.Artist()),
		AlbumArtist: strings.TrimSpace(m.AlbumArtist()),
		Album:       strings.TrimSpace(m.Album()),
		Title:       strings.TrimSpace(m.Title()),
		Year:        m.Year(),
	}
	t.Track, t.TrackTotal = m.Track()
	t.Disc, t.DiscTotal = m.Disc()
	t.ReleaseID = releaseIDFromRaw(m.Raw())

	FillFromPath(t, path)
	return t, nil
}

// FillFromPath completes missing tag fields from the file and folder names
func FillFromPath(t *TrackTags, path string) {
	if t.Track == 0 || t.Title == "" {
		track, title := ParseTrackFilename(filepath.Base(path))
		if t.Track == 0 {
			t.Track = track
		}
		if t.Title == "" {
			t.Title = title
		}
	}
	if t.Title == "" {
		t.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if t.Disc == 0 {
		t.Disc = ExtractDiscNumber(filepath.Base(filepath.Dir(path)))
	}
}

// releaseIDFromRaw digs the MusicBrainz album id out of format-specific raw
// tags: Vorbis comments and MP4 atoms by key, ID3 by TXXX description
func releaseIDFromRaw(raw map[string]interface{}) string {
	for key, value := range raw {
		if c, ok := value.(*tag.Comm); ok {
			if strings.EqualFold(c.Description, "MusicBrainz Album Id") {
				return strings.TrimSpace(c.Text)
			}
			continue
		}
		if !isReleaseIDKey(key) {
			continue
		}
		switch v := value.(type) {
		case string:
			return strings.TrimSpace(v)
		case []byte:
			return strings.TrimSpace(string(v))
		}
	}
	return ""
}

func isReleaseIDKey(key string) bool {
	k := strings.ToLower(key)
	if !strings.Contains(k, "musicbrainz") || strings.Contains(k, "artist") {
		return false
	}
	return strings.Contains(k, "albumid") || strings.Contains(k, "album id")
}
