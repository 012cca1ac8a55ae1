package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/franz/edition-janitor/internal/metrics"
	"github.com/franz/edition-janitor/internal/report"
	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
)

// States lists every session state
var States = []string{
	store.RunIdle,
	store.RunRunning,
	store.RunPaused,
	store.RunCompleted,
	store.RunStopped,
	store.RunFailed,
}

var transitions = map[string][]string{
	store.RunIdle:    {store.RunRunning},
	store.RunRunning: {store.RunPaused, store.RunCompleted, store.RunStopped, store.RunFailed},
	store.RunPaused:  {store.RunRunning, store.RunStopped, store.RunFailed},
}

// errEnded is returned by the gate once a session has left running/paused
var errEnded = errors.New("session ended")

// CanTransition reports whether from -> to is allowed
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state can never be left
func IsTerminal(state string) bool {
	switch state {
	case store.RunCompleted, store.RunStopped, store.RunFailed:
		return true
	}
	return false
}

// Session is one scan run. It owns the state machine, the pause gate the
// workers consult between units, and the live progress snapshot.
type Session struct {
	id     string
	store  *store.Store
	logger *report.EventLogger

	mu       sync.Mutex
	state    string
	resumeCh chan struct{} // closed when a pause ends
	progress Progress
	cancel   context.CancelFunc
	done     chan struct{}
}

func newSession(id string, st *store.Store, logger *report.EventLogger) *Session {
	now := time.Now()
	return &Session{
		id:     id,
		store:  st,
		logger: logger,
		state:  store.RunIdle,
		done:   make(chan struct{}),
		progress: Progress{
			ScanID:    id,
			State:     store.RunIdle,
			StartedAt: now,
			UpdatedAt: now,
		},
	}
}

// ID returns the scan id
func (s *Session) ID() string {
	return s.id
}

// State returns the current state
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the pipeline has finished and the lock is released
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Pause holds workers at their next unit boundary
func (s *Session) Pause() error {
	return s.transition(store.RunPaused)
}

// Resume releases paused workers
func (s *Session) Resume() error {
	return s.transition(store.RunRunning)
}

// Stop ends the session. Work already committed stays; units not yet
// started are abandoned.
func (s *Session) Stop() error {
	if err := s.transition(store.RunStopped); err != nil {
		return err
	}
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// Wait blocks while the session is paused. It returns an error once the
// session is stopped or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		state, ch := s.state, s.resumeCh
		s.mu.Unlock()

		switch state {
		case store.RunRunning:
			return ctx.Err()
		case store.RunPaused:
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			return errEnded
		}
	}
}

func (s *Session) transition(to string) error {
	s.mu.Lock()
	from := s.state
	if !CanTransition(from, to) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", util.ErrInvalidTransition, from, to)
	}
	s.state = to
	switch {
	case to == store.RunPaused:
		s.resumeCh = make(chan struct{})
	case from == store.RunPaused:
		close(s.resumeCh)
	}

	now := time.Now()
	var endedAt time.Time
	s.progress.State = to
	s.progress.UpdatedAt = now
	if IsTerminal(to) {
		endedAt = now
		s.progress.EndedAt = now
	}
	s.mu.Unlock()

	metrics.SetSessionState(to, States)
	s.logger.LogSession(s.id, from, to)
	util.InfoLog("Scan %s: %s -> %s", s.id, from, to)

	if err := s.store.UpdateScanRunStatus(s.id, to, endedAt); err != nil {
		util.WarnLog("Failed to persist scan state: %v", err)
	}
	return nil
}
