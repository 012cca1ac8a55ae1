package incomplete

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
)

// Export formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

type exportItem struct {
	AlbumID        int64              `json:"album_id"`
	Artist         string             `json:"artist"`
	Album          string             `json:"album"`
	Path           string             `json:"path"`
	Tags           []string           `json:"tags"`
	ExpectedTracks int                `json:"expected_track_count"`
	ActualTracks   int                `json:"actual_track_count"`
	ExpectedSource string             `json:"expected_source"`
	MissingRanges  []store.IndexRange `json:"missing_ranges"`
	Moved          bool               `json:"moved"`
}

// Export writes items as JSON or CSV
func Export(w io.Writer, items []*store.IncompleteItem, format string) error {
	switch strings.ToLower(format) {
	case FormatJSON:
		out := make([]exportItem, 0, len(items))
		for _, it := range items {
			out = append(out, exportItem{
				AlbumID:        it.AlbumID,
				Artist:         it.Artist,
				Album:          it.Album,
				Path:           it.Path,
				Tags:           it.Tags,
				ExpectedTracks: it.ExpectedTracks,
				ActualTracks:   it.ActualTracks,
				ExpectedSource: it.ExpectedSource,
				MissingRanges:  it.MissingRanges,
				Moved:          it.Moved,
			})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)

	case FormatCSV:
		cw := csv.NewWriter(w)
		header := []string{"album_id", "artist", "album", "path", "tags", "expected", "actual", "expected_source", "missing", "moved"}
		if err := cw.Write(header); err != nil {
			return err
		}
		for _, it := range items {
			row := []string{
				strconv.FormatInt(it.AlbumID, 10),
				it.Artist,
				it.Album,
				it.Path,
				strings.Join(it.Tags, ";"),
				strconv.Itoa(it.ExpectedTracks),
				strconv.Itoa(it.ActualTracks),
				it.ExpectedSource,
				FormatRanges(it.MissingRanges),
				strconv.FormatBool(it.Moved),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	}
	return fmt.Errorf("%w: unknown export format %q", util.ErrInvalidConfig, format)
}

// FormatRanges renders ranges as "3;7-9"
func FormatRanges(ranges []store.IndexRange) string {
	parts := make([]string, 0, len(ranges))
	for _, r := range ranges {
		if r.Start == r.End {
			parts = append(parts, strconv.Itoa(r.Start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", r.Start, r.End))
		}
	}
	return strings.Join(parts, ";")
}
