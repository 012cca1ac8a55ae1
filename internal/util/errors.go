package util

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Item-scoped errors wrap one of
// these so callers can classify with errors.Is.
var (
	// ErrScan indicates a single album could not be scanned
	ErrScan = errors.New("scan error")

	// ErrGroupingAmbiguous indicates a group needs manual resolution
	ErrGroupingAmbiguous = errors.New("grouping ambiguous")

	// ErrAI indicates the tie-breaker failed
	ErrAI = errors.New("ai tie-breaker error")

	// ErrAITimeout indicates the tie-breaker did not answer in time
	ErrAITimeout = errors.New("ai tie-breaker timeout")

	// ErrAIMalformed indicates the tie-breaker answered with something unusable
	ErrAIMalformed = errors.New("ai tie-breaker malformed response")

	// ErrAIDeferred is returned by a tie-breaker that declines to decide
	ErrAIDeferred = errors.New("ai tie-breaker deferred")

	// ErrMove indicates a filesystem move failed after retries
	ErrMove = errors.New("move error")

	// ErrRestoreConflict indicates a move could not be undone
	ErrRestoreConflict = errors.New("restore conflict")

	// ErrRunFatal aborts the whole scan run
	ErrRunFatal = errors.New("run fatal")

	// ErrScanActive indicates a session is already running or paused
	ErrScanActive = errors.New("scan already active")

	// ErrNoActiveScan indicates there is no session to act on
	ErrNoActiveScan = errors.New("no active scan")

	// ErrInvalidTransition indicates a state machine transition that is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrGroupNoMove indicates a group flagged for manual review
	ErrGroupNoMove = errors.New("group requires manual resolution")

	// ErrNotFound indicates a required resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ScanError is a per-album failure. The album is skipped and the run continues.
type ScanError struct {
	AlbumKey string
	Path     string
	Err      error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s (%s): %v", e.AlbumKey, e.Path, e.Err)
}

func (e *ScanError) Unwrap() []error { return []error{ErrScan, e.Err} }

// AIErrorKind classifies tie-breaker failures
type AIErrorKind string

const (
	AIKindTimeout   AIErrorKind = "timeout"
	AIKindMalformed AIErrorKind = "malformed"
	AIKindQuota     AIErrorKind = "quota"
	AIKindProvider  AIErrorKind = "provider"
)

// AIError records a failed tie-breaker call for one group.
// Recoverable failures are retried once more before the run ends.
type AIError struct {
	GroupKey    string
	Kind        AIErrorKind
	Recoverable bool
	Err         error
}

func (e *AIError) Error() string {
	return fmt.Sprintf("ai %s for group %s: %v", e.Kind, e.GroupKey, e.Err)
}

func (e *AIError) Unwrap() []error { return []error{ErrAI, e.Err} }

// MoveError is a per-item move failure surfaced after bounded retries
type MoveError struct {
	MoveID string
	Source string
	Dest   string
	Err    error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("move %s -> %s: %v", e.Source, e.Dest, e.Err)
}

func (e *MoveError) Unwrap() []error { return []error{ErrMove, e.Err} }

// RestoreConflict is a per-move restore failure. It is never retried automatically.
type RestoreConflict struct {
	MoveID string
	Path   string
	Reason string
}

func (e *RestoreConflict) Error() string {
	return fmt.Sprintf("restore %s: %s (%s)", e.MoveID, e.Reason, e.Path)
}

func (e *RestoreConflict) Unwrap() error { return ErrRestoreConflict }

// Fatal wraps err so that it aborts the run
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrRunFatal, err)
}
