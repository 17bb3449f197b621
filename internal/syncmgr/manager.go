// Package syncmgr owns the scheduled encrypted bulk reconciliation
// against the remote sync endpoint. One Manager runs per active sync
// profile. A single mutex serializes the reconciliation operation, so a
// manual trigger and a scheduled tick can never run it concurrently.
package syncmgr

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/halcyon-dev/aura-sync/internal/config"
)

// Status is the sync state surfaces display. Transient; owned by the
// Manager.
type Status int

// Sync statuses.
const (
	StatusIdle Status = iota
	StatusSyncing
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSyncing:
		return "syncing"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// ErrSyncDisabled is returned by TriggerNow when the profile is
// disabled or has no encryption key.
var ErrSyncDisabled = errors.New("sync is disabled")

// Reconciler performs one bulk reconciliation exchange. The production
// implementation is [Exchange]; tests inject instrumented stubs.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// Manager drives the sync schedule. Per-tick failures are recorded as
// StatusError and the loop continues; nothing here is fatal.
type Manager struct {
	profile    config.SyncConfig
	reconciler Reconciler
	logger     *slog.Logger

	// syncMu serializes the reconciliation operation between the
	// scheduled loop and TriggerNow.
	syncMu sync.Mutex

	mu       sync.Mutex
	status   Status
	lastSync time.Time
	lastErr  error

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	skipLogged bool
}

// New creates a Manager for the given profile. Call Start to begin the
// schedule; TriggerNow works without Start for one-shot use.
func New(profile config.SyncConfig, r Reconciler, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		profile:    profile,
		reconciler: r,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Status returns the current sync status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LastSync returns the completion time of the most recent successful
// reconciliation, or the zero time if none has succeeded.
func (m *Manager) LastSync() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSync
}

// LastError returns the most recent reconciliation error, or nil.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Start launches the scheduled loop in a background goroutine. The
// first tick runs immediately; subsequent ticks follow the profile
// interval (default 30 minutes for non-positive values).
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		m.cancel = cancel
		go m.run(runCtx)
	})
}

// Stop cancels the loop and any in-flight reconciliation, then waits
// for the goroutine to exit. Safe to call without Start.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// TriggerNow performs one reconciliation outside the schedule, using
// the same operation and the same mutual exclusion as scheduled ticks.
// Returns ErrSyncDisabled when the profile cannot sync.
func (m *Manager) TriggerNow(ctx context.Context) error {
	if !m.enabled() {
		return ErrSyncDisabled
	}
	return m.runExchange(ctx, "manual")
}

func (m *Manager) enabled() bool {
	return m.profile.Enabled && m.profile.EncryptionKey != ""
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	interval := m.profile.Interval()
	m.logger.Info("sync schedule started",
		"interval", interval.String(),
		"enabled", m.profile.Enabled,
	)

	for {
		m.tick(ctx)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// tick runs one scheduled pass. Disabled profiles and missing keys
// skip the exchange entirely — status stays Idle and there is no retry
// storm, just the next scheduled wake-up.
func (m *Manager) tick(ctx context.Context) {
	if !m.enabled() {
		if !m.skipLogged {
			m.logger.Info("sync tick skipped",
				"enabled", m.profile.Enabled,
				"has_key", m.profile.EncryptionKey != "",
			)
			m.skipLogged = true
		}
		return
	}
	m.skipLogged = false

	if err := m.runExchange(ctx, "scheduled"); err != nil && ctx.Err() == nil {
		m.logger.Warn("scheduled sync failed", "error", err)
	}
}

// runExchange performs the reconciliation under the sync mutex and
// updates status. Cancellation mid-exchange leaves status Idle rather
// than Error; shutdown is not a sync failure.
func (m *Manager) runExchange(ctx context.Context, reason string) error {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.setStatus(StatusSyncing, nil)
	m.logger.Debug("reconciliation started", "reason", reason)

	start := time.Now()
	err := m.reconciler.Reconcile(ctx)
	switch {
	case err == nil:
		m.mu.Lock()
		m.status = StatusIdle
		m.lastErr = nil
		m.lastSync = time.Now()
		m.mu.Unlock()
		m.logger.Info("reconciliation complete",
			"reason", reason,
			"duration", time.Since(start).Truncate(time.Millisecond).String(),
		)
	case ctx.Err() != nil:
		m.setStatus(StatusIdle, nil)
	default:
		m.setStatus(StatusError, err)
	}
	return err
}

func (m *Manager) setStatus(s Status, err error) {
	m.mu.Lock()
	m.status = s
	m.lastErr = err
	m.mu.Unlock()
}
