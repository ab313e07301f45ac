package usage

import (
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays is how long session rows are kept by default.
const DefaultRetentionDays = 60

// MaintenanceStore is the bulk-operation surface maintenance jobs need.
// Implemented by internal/store.
type MaintenanceStore interface {
	DeleteSessionsBefore(date string) (int64, error)
	DeleteTimersBefore(date string) (int64, error)
	// AllSessions returns every stored session, ordered by package name
	// then start time.
	AllSessions() ([]*Session, error)
	DeleteSessionsByIDs(ids []int64) error
	DeleteSessionsByPackage(pkg string) (int64, error)
}

// Maintenance runs batch cleanup over the session tables. Every job takes
// the reconciliation engine's guard so a purge cannot interleave with a
// live read-decide-write cascade.
type Maintenance struct {
	store  MaintenanceStore
	engine *Engine
	logger *slog.Logger

	now func() time.Time // test hook
}

// NewMaintenance creates a Maintenance bound to the given engine's guard.
func NewMaintenance(store MaintenanceStore, engine *Engine, logger *slog.Logger) *Maintenance {
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintenance{
		store:  store,
		engine: engine,
		logger: logger,
		now:    time.Now,
	}
}

// PurgeOld deletes all sessions and timer sessions whose date is older than
// the retention window. days <= 0 falls back to DefaultRetentionDays.
func (m *Maintenance) PurgeOld(days int) error {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	cutoff := m.now().AddDate(0, 0, -days).Format(DayKeyFormat)

	m.engine.mu.Lock()
	defer m.engine.mu.Unlock()

	sessions, err := m.store.DeleteSessionsBefore(cutoff)
	if err != nil {
		return fmt.Errorf("maintenance: purge sessions: %w", err)
	}
	timers, err := m.store.DeleteTimersBefore(cutoff)
	if err != nil {
		return fmt.Errorf("maintenance: purge timers: %w", err)
	}
	if sessions > 0 || timers > 0 {
		m.logger.Info("Purged expired rows", "cutoff", cutoff, "sessions", sessions, "timers", timers)
	}
	return nil
}

// CleanupDuplicates scans all sessions, groups them by (package, startTime)
// and keeps only the longest row of each group. It also purges any sessions
// recorded for our own package; self-tracking is contamination. Returns the
// number of deleted rows.
func (m *Maintenance) CleanupDuplicates() (int64, error) {
	m.engine.mu.Lock()
	defer m.engine.mu.Unlock()

	sessions, err := m.store.AllSessions()
	if err != nil {
		return 0, fmt.Errorf("maintenance: dedup scan: %w", err)
	}

	type groupKey struct {
		pkg   string
		start int64
	}
	best := make(map[groupKey]*Session)
	var doomed []int64

	for _, s := range sessions {
		key := groupKey{s.PackageName, s.StartTime}
		kept, ok := best[key]
		if !ok {
			best[key] = s
			continue
		}
		// On equal durations the lowest id survives, so the outcome does
		// not depend on scan order.
		if s.DurationSec > kept.DurationSec ||
			(s.DurationSec == kept.DurationSec && s.ID < kept.ID) {
			doomed = append(doomed, kept.ID)
			best[key] = s
		} else {
			doomed = append(doomed, s.ID)
		}
	}

	var deleted int64
	if len(doomed) > 0 {
		if err := m.store.DeleteSessionsByIDs(doomed); err != nil {
			return 0, fmt.Errorf("maintenance: dedup delete: %w", err)
		}
		deleted += int64(len(doomed))
	}

	selfRows, err := m.store.DeleteSessionsByPackage(SelfPackage)
	if err != nil {
		return deleted, fmt.Errorf("maintenance: self purge: %w", err)
	}
	deleted += selfRows

	if deleted > 0 {
		m.logger.Info("Duplicate cleanup complete", "deleted", deleted, "selfRows", selfRows)
	}
	return deleted, nil
}
