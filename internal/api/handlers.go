package api

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/franz/edition-janitor/internal/execute"
	"github.com/franz/edition-janitor/internal/incomplete"
	"github.com/franz/edition-janitor/internal/util"
)

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	views, err := s.svc.ListDuplicateGroups(r.URL.Query().Get("scan_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]groupDTO, 0, len(views))
	for _, v := range views {
		out = append(out, newGroupDTO(v, false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.GetEditionDetails(chi.URLParam(r, "group_key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newGroupDTO(v, true))
}

func (s *Server) dedupeGroup(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.DedupeGroup(r.Context(), chi.URLParam(r, "group_key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultDTO(res))
}

func (s *Server) dryRun(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.DryRun(r.Context(), chi.URLParam(r, "group_key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultDTO(res))
}

func (s *Server) dedupeAll(w http.ResponseWriter, r *http.Request) {
	var req dedupeAllRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	res, err := s.svc.DedupeAll(r.Context(), req.ScanID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultDTO(res))
}

func (s *Server) chooseEdition(w http.ResponseWriter, r *http.Request) {
	var req chooseRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.EditionIndex == nil {
		badRequest(w, "edition_index is required")
		return
	}
	v, err := s.svc.ChooseEdition(chi.URLParam(r, "group_key"), int(*req.EditionIndex))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newGroupDTO(v, false))
}

func (s *Server) moveBonusTrack(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.EditionIndex == nil || req.TargetEditionIndex == nil || strings.TrimSpace(req.TrackPath) == "" {
		badRequest(w, "edition_index, track_path and target_edition_index are required")
		return
	}
	o, err := s.svc.MoveBonusTrack(r.Context(), chi.URLParam(r, "group_key"),
		int(*req.EditionIndex), req.TrackPath, int(*req.TargetEditionIndex))
	// A failed move is reported in the outcome
	if err != nil && (o == nil || o.Status != execute.StatusFailed || execute.IsFatal(err)) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOutcomeDTO(o))
}

func (s *Server) startScan(w http.ResponseWriter, r *http.Request) {
	var req startScanRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	cfg := s.scanDefaults
	if len(req.Roots) > 0 {
		cfg.Roots = req.Roots
	}
	if len(cfg.Roots) == 0 {
		badRequest(w, "roots is required")
		return
	}
	if req.DupesRoot != "" {
		cfg.DupesRoot = req.DupesRoot
	}
	if req.QuarantineRoot != "" {
		cfg.QuarantineRoot = req.QuarantineRoot
	}
	if req.Threads < 0 {
		badRequest(w, "threads must not be negative")
		return
	}
	if req.Threads > 0 {
		cfg.Concurrency = int(req.Threads)
	}
	if len(req.Extensions) > 0 {
		cfg.AdditionalExts = req.Extensions
	}
	if req.AutoMove != nil {
		cfg.AutoMove = bool(*req.AutoMove)
	}

	sess, err := s.svc.StartScan(r.Context(), &cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess.Snapshot())
}

func (s *Server) scanProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.GetScanProgress()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) pauseScan(w http.ResponseWriter, r *http.Request) {
	s.control(w, s.svc.PauseScan)
}

func (s *Server) resumeScan(w http.ResponseWriter, r *http.Request) {
	s.control(w, s.svc.ResumeScan)
}

func (s *Server) stopScan(w http.ResponseWriter, r *http.Request) {
	s.control(w, s.svc.StopScan)
}

func (s *Server) control(w http.ResponseWriter, op func() error) {
	if err := op(); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.svc.GetScanProgress()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) scanHistory(w http.ResponseWriter, r *http.Request) {
	runs, err := s.svc.GetScanHistory()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]runDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, newRunDTO(run))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getScanRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.svc.GetScanRun(scanIDParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRunDTO(run))
}

func (s *Server) scanMoves(w http.ResponseWriter, r *http.Request) {
	moves, err := s.svc.GetScanMoves(scanIDParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]moveDTO, 0, len(moves))
	for _, m := range moves {
		out = append(out, newMoveDTO(m))
	}
	writeJSON(w, http.StatusOK, out)
}

type restoreResponse struct {
	Restored        []string       `json:"restored"`
	AlreadyRestored []string       `json:"already_restored"`
	Conflicts       []conflictInfo `json:"conflicts"`
}

type conflictInfo struct {
	MoveID string `json:"move_id"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (s *Server) restoreMoves(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	res, err := s.svc.RestoreMoves(r.Context(), scanIDParam(r), req.MoveIDs, bool(req.All))
	if err != nil {
		writeError(w, err)
		return
	}
	out := restoreResponse{
		Restored:        nonNil(res.Restored),
		AlreadyRestored: nonNil(res.AlreadyRestored),
		Conflicts:       []conflictInfo{},
	}
	for _, c := range res.Conflicts {
		out.Conflicts = append(out.Conflicts, conflictInfo{MoveID: c.MoveID, Path: c.Path, Reason: c.Reason})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.svc.Summary(scanIDParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sum.Markdown()))
}

func (s *Server) incompleteAlbums(w http.ResponseWriter, r *http.Request) {
	s.writeIncomplete(w, scanIDParam(r), incomplete.FormatJSON)
}

func (s *Server) exportIncomplete(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = incomplete.FormatJSON
	}
	if format != incomplete.FormatJSON && format != incomplete.FormatCSV {
		badRequest(w, "format must be json or csv")
		return
	}
	if format == incomplete.FormatCSV {
		w.Header().Set("Content-Disposition", `attachment; filename="incomplete.csv"`)
	}
	s.writeIncomplete(w, scanIDParam(r), format)
}

// writeIncomplete renders into a buffer first so a failure still gets a
// proper error response
func (s *Server) writeIncomplete(w http.ResponseWriter, scanID, format string) {
	var buf bytes.Buffer
	if err := s.svc.ExportIncomplete(&buf, scanID, format); err != nil {
		writeError(w, err)
		return
	}
	contentType := "application/json"
	if format == incomplete.FormatCSV {
		contentType = "text/csv; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) moveIncomplete(w http.ResponseWriter, r *http.Request) {
	var req moveIncompleteRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if len(req.AlbumIDs) == 0 {
		badRequest(w, "album_ids is required")
		return
	}
	ids := make([]int64, 0, len(req.AlbumIDs))
	for _, id := range req.AlbumIDs {
		ids = append(ids, int64(id))
	}
	res, err := s.svc.MoveIncompleteAlbums(r.Context(), scanIDParam(r), ids)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultDTO(res))
}

func (s *Server) recoverMoves(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Recover()
	if err != nil {
		writeError(w, err)
		return
	}
	util.InfoLog("Recovery: %d committed, %d discarded", len(res.Committed), len(res.Discarded))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"committed":        nonNil(res.Committed),
		"discarded":        nonNil(res.Discarded),
		"interrupted_runs": res.InterruptedRuns,
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
