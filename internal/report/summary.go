package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/franz/edition-janitor/internal/store"
)

// RunSummary describes one scan run and what was done with its results
type RunSummary struct {
	GeneratedAt  time.Time
	Run          *store.ScanRun
	DatabasePath string
	EventLogPath string

	// Grouping
	Groups        int
	NoMoveGroups  int
	DedupedGroups int

	// Ledger
	MovesByReason map[string]int
	Restored      int
	FailedMoves   []ConflictInfo

	// AI outcomes by failure kind
	AIFailuresByKind map[string]int

	Incomplete int

	DuplicateSets []DuplicateSet
	TopErrors     []ErrorSummary
}

// ErrorSummary represents an error with its count
type ErrorSummary struct {
	Error string
	Count int
}

// ConflictInfo represents a move that did not happen
type ConflictInfo struct {
	SrcPath  string
	DestPath string
	Reason   string
}

// DuplicateSet is one group with its kept and other editions
type DuplicateSet struct {
	GroupKey  string
	Hint      string
	NoMove    bool
	Rationale string
	Kept      DuplicateEdition
	Others    []DuplicateEdition
}

// DuplicateEdition is an edition as shown in the summary
type DuplicateEdition struct {
	Path        string
	Score       float64
	Format      string
	BitrateKbps int
	SampleRate  int
	BitDepth    int
	SizeBytes   int64
	Moved       bool
}

// BuildRunSummary collects the summary of scanID from the database and,
// when present, the event log
func BuildRunSummary(db *store.Store, scanID, eventLogPath string) (*RunSummary, error) {
	run, err := db.GetScanRun(scanID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("scan run %s not found", scanID)
	}

	s := &RunSummary{
		GeneratedAt:      time.Now(),
		Run:              run,
		DatabasePath:     db.Path(),
		EventLogPath:     eventLogPath,
		MovesByReason:    make(map[string]int),
		AIFailuresByKind: make(map[string]int),
	}

	groups, err := db.ListGroups(scanID, 2)
	if err != nil {
		return nil, err
	}
	s.Groups = len(groups)
	for _, g := range groups {
		if g.NoMove {
			s.NoMoveGroups++
		}
		if g.Status == store.GroupDeduped {
			s.DedupedGroups++
		}
	}
	s.DuplicateSets = gatherDuplicateSets(db, groups, 20)

	moves, err := db.ListMoves(store.MoveFilter{ScanID: scanID})
	if err != nil {
		return nil, err
	}
	for _, m := range moves {
		switch {
		case m.Status == store.MoveFailed:
			s.FailedMoves = append(s.FailedMoves, ConflictInfo{SrcPath: m.OriginalPath, DestPath: m.MovedToPath, Reason: m.Error})
		case m.Status != store.MoveCommitted:
		case m.Restored:
			s.Restored++
		default:
			s.MovesByReason[m.Reason]++
		}
	}

	failures, err := db.ListAIFailures(scanID)
	if err != nil {
		return nil, err
	}
	for _, f := range failures {
		s.AIFailuresByKind[f.Kind]++
	}

	items, err := db.ListIncompleteItems(scanID)
	if err != nil {
		return nil, err
	}
	s.Incomplete = len(items)

	s.TopErrors = gatherTopErrors(eventLogPath, scanID, 10)
	return s, nil
}

// gatherDuplicateSets lists the groups with the most editions first
func gatherDuplicateSets(db *store.Store, groups []*store.AlbumGroup, limit int) []DuplicateSet {
	sorted := make([]*store.AlbumGroup, len(groups))
	copy(sorted, groups)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].EditionIDs) > len(sorted[j].EditionIDs)
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}

	sets := make([]DuplicateSet, 0, len(sorted))
	for _, g := range sorted {
		set := DuplicateSet{
			GroupKey:  g.GroupKey,
			Hint:      g.Artist + " - " + g.Title,
			NoMove:    g.NoMove,
			Rationale: g.AIRationale,
		}
		for i, id := range g.EditionIDs {
			e, _ := db.GetEdition(id)
			if e == nil {
				continue
			}
			de := DuplicateEdition{
				Path:        e.Path,
				Format:      e.Format,
				BitrateKbps: e.BitrateKbps,
				SampleRate:  e.SampleRate,
				BitDepth:    e.BitDepth,
				SizeBytes:   e.TotalSize,
				Moved:       e.Moved,
			}
			if i < len(g.Scores) {
				de.Score = g.Scores[i]
			}
			if id == g.KeptEditionID {
				set.Kept = de
			} else {
				set.Others = append(set.Others, de)
			}
		}
		sets = append(sets, set)
	}
	return sets
}

// gatherTopErrors counts the error events of a run in the event log
func gatherTopErrors(eventLogPath, scanID string, limit int) []ErrorSummary {
	if eventLogPath == "" {
		return nil
	}
	f, err := os.Open(eventLogPath)
	if err != nil {
		return nil
	}
	defer f.Close()

	counts := make(map[string]int)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if json.Unmarshal(scanner.Bytes(), &ev) != nil {
			continue
		}
		if ev.Error == "" || (ev.ScanID != "" && ev.ScanID != scanID) {
			continue
		}
		counts[ev.Error]++
	}

	errors := make([]ErrorSummary, 0, len(counts))
	for msg, count := range counts {
		errors = append(errors, ErrorSummary{Error: msg, Count: count})
	}
	sort.Slice(errors, func(i, j int) bool {
		if errors[i].Count != errors[j].Count {
			return errors[i].Count > errors[j].Count
		}
		return errors[i].Error < errors[j].Error
	})
	if len(errors) > limit {
		errors = errors[:limit]
	}
	return errors
}

// Markdown renders the summary
func (s *RunSummary) Markdown() string {
	var md strings.Builder
	run := s.Run

	md.WriteString("# Edition Janitor - Run Summary\n\n")
	md.WriteString(fmt.Sprintf("**Scan:** `%s` (%s)\n\n", run.ScanID, run.Status))
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", s.GeneratedAt.Format("2006-01-02 15:04:05")))
	if s.DatabasePath != "" {
		md.WriteString(fmt.Sprintf("**Database:** `%s`\n\n", s.DatabasePath))
	}
	if s.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", s.EventLogPath))
	}
	md.WriteString("---\n\n")

	md.WriteString("## 📊 Overview\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	md.WriteString(fmt.Sprintf("| Started | %s |\n", run.StartedAt.Format("2006-01-02 15:04:05")))
	if !run.EndedAt.IsZero() {
		md.WriteString(fmt.Sprintf("| Duration | %s |\n", run.EndedAt.Sub(run.StartedAt).Round(time.Second)))
	}
	md.WriteString(fmt.Sprintf("| Albums Scanned | %s / %s |\n", humanize.Comma(int64(run.AlbumsScanned)), humanize.Comma(int64(run.AlbumsTotal))))
	md.WriteString(fmt.Sprintf("| Artists | %s |\n", humanize.Comma(int64(run.ArtistsTotal))))
	if run.ScanErrors > 0 {
		md.WriteString(fmt.Sprintf("| Scan Errors | %d |\n", run.ScanErrors))
	}
	if run.LastError != "" {
		md.WriteString(fmt.Sprintf("| Last Error | %s |\n", run.LastError))
	}
	md.WriteString("\n")

	if s.Groups > 0 {
		md.WriteString("## 🔗 Duplicate Groups\n\n")
		md.WriteString("| Metric | Value |\n")
		md.WriteString("|--------|-------|\n")
		md.WriteString(fmt.Sprintf("| Groups | %d |\n", s.Groups))
		md.WriteString(fmt.Sprintf("| Deduped | %d |\n", s.DedupedGroups))
		if s.NoMoveGroups > 0 {
			md.WriteString(fmt.Sprintf("| Manual Review | %d |\n", s.NoMoveGroups))
		}
		md.WriteString("\n")
	}

	if len(s.MovesByReason) > 0 || s.Restored > 0 || len(s.FailedMoves) > 0 {
		md.WriteString("## 📦 Moves\n\n")
		md.WriteString("| Metric | Value |\n")
		md.WriteString("|--------|-------|\n")
		for _, reason := range []string{store.ReasonDedupe, store.ReasonMerge, store.ReasonIncomplete} {
			if n := s.MovesByReason[reason]; n > 0 {
				md.WriteString(fmt.Sprintf("| Moved (%s) | %d |\n", reason, n))
			}
		}
		if s.Restored > 0 {
			md.WriteString(fmt.Sprintf("| Restored | %d |\n", s.Restored))
		}
		if len(s.FailedMoves) > 0 {
			md.WriteString(fmt.Sprintf("| Failed | %d |\n", len(s.FailedMoves)))
		}
		md.WriteString(fmt.Sprintf("| Space Saved | %s |\n", humanize.IBytes(uint64(run.SpaceSavedMB*1024*1024))))
		md.WriteString("\n")
	}

	if run.AIFailed > 0 {
		md.WriteString("## 🤖 AI Tie-Breaker\n\n")
		md.WriteString("| Metric | Value |\n")
		md.WriteString("|--------|-------|\n")
		md.WriteString(fmt.Sprintf("| Failed | %d |\n", run.AIFailed))
		md.WriteString(fmt.Sprintf("| Recovered | %d |\n", run.AIRecovered))
		md.WriteString(fmt.Sprintf("| Unresolved | %d |\n", run.AIUnresolved))
		kinds := make([]string, 0, len(s.AIFailuresByKind))
		for k := range s.AIFailuresByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			md.WriteString(fmt.Sprintf("| Kind: %s | %d |\n", k, s.AIFailuresByKind[k]))
		}
		md.WriteString("\n")
	}

	if s.Incomplete > 0 {
		md.WriteString("## 🧩 Incomplete Albums\n\n")
		md.WriteString(fmt.Sprintf("%d editions are missing tracks. Run `edj incomplete list` for details.\n\n", s.Incomplete))
	}

	if len(s.DuplicateSets) > 0 {
		md.WriteString("## 🔍 Largest Groups\n\n")
		for i, set := range s.DuplicateSets {
			md.WriteString(fmt.Sprintf("### %d. %s\n\n", i+1, set.Hint))
			if set.NoMove {
				md.WriteString("**Needs manual review.**\n\n")
			} else {
				md.WriteString("**✅ Kept:**\n")
				writeEdition(&md, "- ", set.Kept)
				md.WriteString("\n")
			}
			if set.Rationale != "" {
				md.WriteString(fmt.Sprintf("> %s\n\n", set.Rationale))
			}
			if len(set.Others) > 0 {
				md.WriteString("**❌ Other editions:**\n\n")
				for j, e := range set.Others {
					writeEdition(&md, fmt.Sprintf("%d. ", j+1), e)
				}
				md.WriteString("\n")
			}
		}
	}

	if len(s.TopErrors) > 0 {
		md.WriteString("## ⚠️ Top Errors\n\n")
		md.WriteString("| Count | Error |\n")
		md.WriteString("|-------|-------|\n")
		for _, e := range s.TopErrors {
			md.WriteString(fmt.Sprintf("| %d | %s |\n", e.Count, e.Error))
		}
		md.WriteString("\n")
	}

	if len(s.FailedMoves) > 0 {
		md.WriteString("## 🚨 Failed Moves\n\n")
		md.WriteString("| Source | Destination | Reason |\n")
		md.WriteString("|--------|-------------|--------|\n")
		for _, c := range s.FailedMoves {
			md.WriteString(fmt.Sprintf("| `%s` | `%s` | %s |\n",
				truncatePath(c.SrcPath, 40),
				truncatePath(c.DestPath, 40),
				c.Reason))
		}
		md.WriteString("\n")
	}

	return md.String()
}

func writeEdition(md *strings.Builder, prefix string, e DuplicateEdition) {
	md.WriteString(fmt.Sprintf("%sScore: %.1f | %s", prefix, e.Score, e.Format))
	if e.BitDepth > 0 && e.SampleRate > 0 {
		md.WriteString(fmt.Sprintf(" | %d-bit/%.1f kHz", e.BitDepth, float64(e.SampleRate)/1000))
	} else if e.BitrateKbps > 0 {
		md.WriteString(fmt.Sprintf(" | %d kbps", e.BitrateKbps))
	}
	md.WriteString(fmt.Sprintf(" | %s", humanize.IBytes(uint64(e.SizeBytes))))
	if e.Moved {
		md.WriteString(" | moved")
	}
	md.WriteString(fmt.Sprintf("\n   - `%s`\n", truncatePath(e.Path, 80)))
}

// WriteMarkdownReport writes the summary as Markdown to outputPath
func WriteMarkdownReport(s *RunSummary, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(outputPath, []byte(s.Markdown()), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// truncatePath truncates a file path to a maximum length
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	// Truncate from the middle, keeping start and end
	start := maxLen/2 - 2
	end := len(path) - (maxLen/2 - 2)
	return path[:start] + "..." + path[end:]
}
