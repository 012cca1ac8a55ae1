package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/franz/edition-janitor/internal/execute"
	"github.com/franz/edition-janitor/internal/service"
	"github.com/franz/edition-janitor/internal/store"
)

// FlexInt accepts a JSON number or a numeric string
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("not an integer: %q", s)
		}
		*f = FlexInt(n)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	v, err := n.Int64()
	if err != nil {
		return fmt.Errorf("not an integer: %s", n)
	}
	*f = FlexInt(v)
	return nil
}

// FlexBool accepts true/false, 0/1 and their string forms
type FlexBool bool

func (f *FlexBool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	switch strings.ToLower(s) {
	case "", "null":
		return nil
	case "true", "1", "yes", "on":
		*f = true
	case "false", "0", "no", "off":
		*f = false
	default:
		return fmt.Errorf("not a boolean: %s", b)
	}
	return nil
}

// FlexStrings accepts a list of strings or a single comma separated string
type FlexStrings []string

func (f *FlexStrings) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	var list []string
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		list = strings.Split(s, ",")
	} else if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*f = out
	return nil
}

type startScanRequest struct {
	Roots          FlexStrings `json:"roots"`
	DupesRoot      string      `json:"dupes_root"`
	QuarantineRoot string      `json:"quarantine_root"`
	Threads        FlexInt     `json:"threads"`
	Extensions     FlexStrings `json:"extensions"`
	AutoMove       *FlexBool   `json:"auto_move"`
}

type chooseRequest struct {
	EditionIndex *FlexInt `json:"edition_index"`
}

type mergeRequest struct {
	EditionIndex       *FlexInt `json:"edition_index"`
	TrackPath          string   `json:"track_path"`
	TargetEditionIndex *FlexInt `json:"target_edition_index"`
}

type restoreRequest struct {
	MoveIDs FlexStrings `json:"move_ids"`
	All     FlexBool    `json:"all"`
}

type moveIncompleteRequest struct {
	AlbumIDs []FlexInt `json:"album_ids"`
}

type dedupeAllRequest struct {
	ScanID string `json:"scan_id"`
}

type trackDTO struct {
	Index      int    `json:"index"`
	Disc       int    `json:"disc,omitempty"`
	Title      string `json:"title"`
	Path       string `json:"path"`
	Format     string `json:"format"`
	DurationMs int    `json:"duration_ms"`
	SizeBytes  int64  `json:"size_bytes"`
	IsBonus    bool   `json:"is_bonus"`
}

type editionDTO struct {
	ID          int64      `json:"id"`
	Path        string     `json:"path"`
	Artist      string     `json:"artist"`
	Title       string     `json:"title"`
	Format      string     `json:"format"`
	BitrateKbps int        `json:"bitrate_kbps"`
	SampleRate  int        `json:"sample_rate"`
	BitDepth    int        `json:"bit_depth"`
	SizeMB      float64    `json:"size_mb"`
	TrackCount  int        `json:"track_count"`
	Score       float64    `json:"score"`
	Kept        bool       `json:"kept"`
	Moved       bool       `json:"moved"`
	Tracks      []trackDTO `json:"tracks,omitempty"`
}

type groupDTO struct {
	GroupKey     string       `json:"group_key"`
	ScanID       string       `json:"scan_id"`
	Artist       string       `json:"artist"`
	Title        string       `json:"title"`
	Status       string       `json:"status"`
	NoMove       bool         `json:"no_move"`
	NoMoveReason string       `json:"no_move_reason,omitempty"`
	KeptIndex    int          `json:"kept_index"`
	Margin       float64      `json:"margin"`
	AIRationale  string       `json:"ai_rationale,omitempty"`
	MergeList    []string     `json:"merge_list,omitempty"`
	Editions     []editionDTO `json:"editions"`
}

func newGroupDTO(v *service.GroupView, withTracks bool) groupDTO {
	g := groupDTO{
		GroupKey:     v.GroupKey,
		ScanID:       v.ScanID,
		Artist:       v.Artist,
		Title:        v.Title,
		Status:       v.Status,
		NoMove:       v.NoMove,
		NoMoveReason: v.NoMoveReason,
		KeptIndex:    v.KeptIndex(),
		Margin:       v.Margin,
		AIRationale:  v.AIRationale,
		MergeList:    v.MergeList,
		Editions:     make([]editionDTO, 0, len(v.Editions)),
	}
	for i, e := range v.Editions {
		d := editionDTO{
			ID:          e.ID,
			Path:        e.Path,
			Artist:      e.Artist,
			Title:       e.Title,
			Format:      e.Format,
			BitrateKbps: e.BitrateKbps,
			SampleRate:  e.SampleRate,
			BitDepth:    e.BitDepth,
			SizeMB:      e.SizeMB(),
			TrackCount:  len(e.Tracks),
			Kept:        e.ID == v.KeptEditionID,
			Moved:       e.Moved,
		}
		if i < len(v.Scores) {
			d.Score = v.Scores[i]
		}
		if withTracks {
			for _, t := range e.Tracks {
				d.Tracks = append(d.Tracks, trackDTO{
					Index:      t.Index,
					Disc:       t.Disc,
					Title:      t.Title,
					Path:       t.Path,
					Format:     t.Format,
					DurationMs: t.DurationMs,
					SizeBytes:  t.SizeBytes,
					IsBonus:    t.IsBonus,
				})
			}
		}
		g.Editions = append(g.Editions, d)
	}
	return g
}

type outcomeDTO struct {
	MoveID string `json:"move_id,omitempty"`
	Reason string `json:"reason"`
	Source string `json:"source"`
	Dest   string `json:"dest"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func newOutcomeDTO(o *execute.Outcome) outcomeDTO {
	d := outcomeDTO{MoveID: o.MoveID, Status: o.Status}
	if o.Item != nil {
		d.Reason = o.Item.Reason
		d.Source = o.Item.Source
		d.Dest = o.Item.Dest
	}
	if o.Err != nil {
		d.Error = o.Err.Error()
	}
	return d
}

type resultDTO struct {
	Moved    int          `json:"moved"`
	Skipped  int          `json:"skipped"`
	Failed   int          `json:"failed"`
	Planned  int          `json:"planned"`
	SizeMB   float64      `json:"size_mb"`
	Outcomes []outcomeDTO `json:"outcomes"`
}

func newResultDTO(r *execute.Result) resultDTO {
	d := resultDTO{Outcomes: []outcomeDTO{}}
	if r == nil {
		return d
	}
	d.Moved, d.Skipped, d.Failed, d.Planned, d.SizeMB = r.Moved, r.Skipped, r.Failed, r.Planned, r.SizeMB
	for _, o := range r.Outcomes {
		d.Outcomes = append(d.Outcomes, newOutcomeDTO(o))
	}
	return d
}

type runDTO struct {
	ScanID        string     `json:"scan_id"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	AlbumsTotal   int        `json:"albums_total"`
	AlbumsScanned int        `json:"albums_scanned"`
	ScanErrors    int        `json:"scan_errors"`
	GroupsFound   int        `json:"groups_found"`
	AlbumsMoved   int        `json:"albums_moved"`
	SpaceSavedMB  float64    `json:"space_saved_mb"`
	AIFailed      int        `json:"ai_failed"`
	AIRecovered   int        `json:"ai_recovered"`
	AIUnresolved  int        `json:"ai_unresolved"`
	LastError     string     `json:"last_error,omitempty"`
}

func newRunDTO(r *store.ScanRun) runDTO {
	d := runDTO{
		ScanID:        r.ScanID,
		Status:        r.Status,
		StartedAt:     r.StartedAt,
		AlbumsTotal:   r.AlbumsTotal,
		AlbumsScanned: r.AlbumsScanned,
		ScanErrors:    r.ScanErrors,
		GroupsFound:   r.GroupsFound,
		AlbumsMoved:   r.AlbumsMoved,
		SpaceSavedMB:  r.SpaceSavedMB,
		AIFailed:      r.AIFailed,
		AIRecovered:   r.AIRecovered,
		AIUnresolved:  r.AIUnresolved,
		LastError:     r.LastError,
	}
	if !r.EndedAt.IsZero() {
		ended := r.EndedAt
		d.EndedAt = &ended
	}
	return d
}

type moveDTO struct {
	MoveID       string    `json:"move_id"`
	Reason       string    `json:"move_reason"`
	Status       string    `json:"status"`
	Artist       string    `json:"artist"`
	AlbumID      int64     `json:"album_id"`
	GroupKey     string    `json:"group_key,omitempty"`
	OriginalPath string    `json:"original_path"`
	MovedToPath  string    `json:"moved_to_path"`
	SizeMB       float64   `json:"size_mb"`
	Restored     bool      `json:"restored"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func newMoveDTO(m *store.Move) moveDTO {
	return moveDTO{
		MoveID:       m.MoveID,
		Reason:       m.Reason,
		Status:       m.Status,
		Artist:       m.Artist,
		AlbumID:      m.AlbumID,
		GroupKey:     m.GroupKey,
		OriginalPath: m.OriginalPath,
		MovedToPath:  m.MovedToPath,
		SizeMB:       m.SizeMB,
		Restored:     m.Restored,
		Error:        m.Error,
		CreatedAt:    m.CreatedAt,
	}
}
