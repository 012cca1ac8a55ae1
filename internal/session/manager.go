package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/franz/edition-janitor/internal/execute"
	"github.com/franz/edition-janitor/internal/report"
	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
)

// Manager runs at most one session at a time. The lock file keeps a second
// process on the same database from starting its own.
type Manager struct {
	store    *store.Store
	logger   *report.EventLogger
	exec     *execute.Executor
	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	current *Session
}

// ManagerConfig holds manager dependencies
type ManagerConfig struct {
	Store    *store.Store
	Logger   *report.EventLogger
	Executor *execute.Executor // shared so moves from every caller serialize per directory
	LockPath string
}

// NewManager creates a manager
func NewManager(cfg *ManagerConfig) *Manager {
	if cfg.Executor == nil {
		cfg.Executor = execute.New(&execute.Config{Store: cfg.Store, Logger: cfg.Logger})
	}
	return &Manager{
		store:    cfg.Store,
		logger:   cfg.Logger,
		exec:     cfg.Executor,
		lockPath: cfg.LockPath,
		lock:     flock.New(cfg.LockPath),
	}
}

// Start begins a new session in the background. It fails with
// util.ErrScanActive while another session is running or paused.
func (m *Manager) Start(ctx context.Context, cfg *Config) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		if !IsTerminal(m.current.State()) {
			return nil, fmt.Errorf("%w: %s", util.ErrScanActive, m.current.ID())
		}
		// The previous pipeline releases the lock just before Done closes
		<-m.current.Done()
	}
	if len(cfg.Roots) == 0 {
		return nil, fmt.Errorf("%w: no library roots", util.ErrInvalidConfig)
	}

	ok, err := m.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", m.lockPath, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: another process holds %s", util.ErrScanActive, m.lockPath)
	}

	id := uuid.NewString()
	if err := m.store.CreateScanRun(id, time.Now()); err != nil {
		_ = m.lock.Unlock()
		return nil, fmt.Errorf("create scan run: %w", err)
	}

	sess := newSession(id, m.store, m.logger)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess.cancel = cancel
	p := newPipeline(sess, cfg, m.store, m.logger, m.exec)

	if err := sess.transition(store.RunRunning); err != nil {
		cancel()
		_ = m.lock.Unlock()
		return nil, err
	}
	m.current = sess

	go func() {
		defer close(sess.done)
		defer cancel()

		err := p.run(runCtx)
		sess.finish(err)
		if uerr := m.lock.Unlock(); uerr != nil {
			util.WarnLog("Failed to release %s: %v", m.lockPath, uerr)
		}
	}()

	util.InfoLog("Scan %s started on %d root(s)", id, len(cfg.Roots))
	return sess, nil
}

// WhileIdle runs fn holding the session lock, so no session of this or any
// other process can start meanwhile. It returns false without running fn
// when a session already holds the lock.
func (m *Manager) WhileIdle(fn func() error) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		if !IsTerminal(m.current.State()) {
			return false, nil
		}
		<-m.current.Done()
	}
	ok, err := m.lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", m.lockPath, err)
	}
	if !ok {
		return false, nil
	}
	defer func() {
		if uerr := m.lock.Unlock(); uerr != nil {
			util.WarnLog("Failed to release %s: %v", m.lockPath, uerr)
		}
	}()
	return true, fn()
}

// finish moves the session to its terminal state and flushes counters
func (s *Session) finish(err error) {
	s.flush()

	stoppedEarly := errors.Is(err, context.Canceled) || errors.Is(err, errEnded)
	switch {
	case err == nil:
		err = s.transition(store.RunCompleted)
	case IsTerminal(s.State()):
		// Stop already recorded the outcome
		err = nil
	case stoppedEarly:
		err = s.transition(store.RunStopped)
	default:
		util.ErrorLog("Scan %s failed: %v", s.id, err)
		s.update(func(p *Progress) { p.LastError = err.Error() })
		s.flush()
		err = s.transition(store.RunFailed)
	}
	if err != nil {
		util.WarnLog("Scan %s: %v", s.id, err)
	}
}

// Current returns the latest session started by this manager, or nil
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) active() (*Session, error) {
	sess := m.Current()
	if sess == nil || IsTerminal(sess.State()) {
		return nil, util.ErrNoActiveScan
	}
	return sess, nil
}

// Pause pauses the active session
func (m *Manager) Pause() error {
	sess, err := m.active()
	if err != nil {
		return err
	}
	return sess.Pause()
}

// Resume resumes the active session
func (m *Manager) Resume() error {
	sess, err := m.active()
	if err != nil {
		return err
	}
	return sess.Resume()
}

// Stop stops the active session
func (m *Manager) Stop() error {
	sess, err := m.active()
	if err != nil {
		return err
	}
	return sess.Stop()
}

// Progress returns the live snapshot of the current session, falling back
// to the most recent persisted run, then to idle
func (m *Manager) Progress() (*Progress, error) {
	if sess := m.Current(); sess != nil {
		return sess.Snapshot(), nil
	}
	run, err := m.store.LatestScanRun()
	if err != nil {
		return nil, err
	}
	if run == nil {
		return &Progress{State: store.RunIdle}, nil
	}
	return FromRun(run), nil
}

// Shutdown stops the active session, if any, and waits for it to finish
func (m *Manager) Shutdown(ctx context.Context) error {
	sess := m.Current()
	if sess == nil {
		return nil
	}
	if !IsTerminal(sess.State()) {
		if err := sess.Stop(); err != nil && !errors.Is(err, util.ErrInvalidTransition) {
			return err
		}
	}
	select {
	case <-sess.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
