package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/franz/edition-janitor/internal/util"
)

// APIErrorDetail is a single error in an error response
type APIErrorDetail struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// APIErrorResponse is the body of every error response
type APIErrorResponse struct {
	Errors []APIErrorDetail `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			util.WarnLog("Failed to encode response: %v", err)
		}
	}
}

func writeAPIError(w http.ResponseWriter, httpStatus int, code, detail string) {
	writeJSON(w, httpStatus, APIErrorResponse{Errors: []APIErrorDetail{{
		Code:   code,
		Status: strconv.Itoa(httpStatus),
		Detail: detail,
	}}})
}

// writeError maps the error taxonomy onto HTTP statuses
func writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, util.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, util.ErrInvalidConfig):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, util.ErrScanActive):
		status, code = http.StatusConflict, "scan_active"
	case errors.Is(err, util.ErrNoActiveScan):
		status, code = http.StatusConflict, "no_active_scan"
	case errors.Is(err, util.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, util.ErrGroupNoMove):
		status, code = http.StatusConflict, "manual_resolution_required"
	case errors.Is(err, util.ErrRunFatal):
		status, code = http.StatusServiceUnavailable, "run_fatal"
	}
	if status == http.StatusInternalServerError {
		util.ErrorLog("API request failed: %v", err)
	}
	writeAPIError(w, status, code, err.Error())
}

func badRequest(w http.ResponseWriter, detail string) {
	writeAPIError(w, http.StatusBadRequest, "invalid_request", detail)
}
