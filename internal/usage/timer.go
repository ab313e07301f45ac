package usage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TimerHeartbeatInterval is how often an active timer's end time is pushed
// forward while it runs.
const TimerHeartbeatInterval = 30 * time.Second

// TimerStore is the storage surface for manually started offline-activity
// timers. Implemented by internal/store.
type TimerStore interface {
	InsertTimer(t *TimerSession) error
	// UpdateTimer extends an active timer's end time and duration.
	UpdateTimer(id string, end, durationSec int64) error
	// CloseTimer finalizes a timer's end time and marks it inactive.
	CloseTimer(id string, end, durationSec int64) error
}

// TimerManager runs manually started activity timers: explicit start,
// periodic end-time extension, explicit stop. A timer that runs across
// local midnight is closed at 23:59:59.999 and a fresh row is opened at
// 00:00:00.000 of the next day, keeping the one-day-per-row invariant.
type TimerManager struct {
	mu     sync.Mutex
	store  TimerStore
	logger *slog.Logger

	active *TimerSession // nil when no timer is running

	now func() time.Time // test hook
}

// NewTimerManager creates a TimerManager.
func NewTimerManager(store TimerStore, logger *slog.Logger) *TimerManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimerManager{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Start begins a new activity timer. Only one timer may run at a time.
func (m *TimerManager) Start(activity string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return "", fmt.Errorf("timer: %q already running", m.active.Activity)
	}
	if activity == "" {
		return "", fmt.Errorf("timer: activity must not be empty")
	}

	nowMs := m.now().UnixMilli()
	t := &TimerSession{
		ID:          uuid.New().String(),
		Activity:    activity,
		StartTime:   nowMs,
		EndTime:     nowMs,
		DurationSec: 0,
		Date:        DayKeyOf(nowMs),
		Active:      true,
	}
	if err := m.store.InsertTimer(t); err != nil {
		return "", fmt.Errorf("timer: start: %w", err)
	}
	m.active = t
	m.logger.Info("Timer started", "activity", activity, "id", t.ID)
	return t.ID, nil
}

// Stop ends the running timer and finalizes its row. A stop landing on a
// later calendar day first rolls the timer over each midnight it slept
// through, so every finalized row stays inside its own date.
func (m *TimerManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return fmt.Errorf("timer: no timer running")
	}
	return m.stopLocked(m.now().UnixMilli())
}

// Heartbeat extends the running timer's end time to now, rolling the row
// over at midnight. No-op when no timer is running.
func (m *TimerManager) Heartbeat() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil
	}
	nowMs := m.now().UnixMilli()

	for nowMs > DayEndMillis(m.active.StartTime) {
		if err := m.rolloverLocked(); err != nil {
			return err
		}
	}

	m.active.EndTime = nowMs
	m.active.DurationSec = DurationSec(m.active.StartTime, nowMs)
	if err := m.store.UpdateTimer(m.active.ID, m.active.EndTime, m.active.DurationSec); err != nil {
		return fmt.Errorf("timer: heartbeat: %w", err)
	}
	return nil
}

// Running reports whether a timer is active and, if so, its activity name.
func (m *TimerManager) Running() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return "", false
	}
	return m.active.Activity, true
}

// Run drives periodic heartbeats until the context is cancelled, then stops
// any timer still running.
func (m *TimerManager) Run(ctx context.Context) {
	ticker := time.NewTicker(TimerHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			if m.active != nil {
				if err := m.stopLocked(m.now().UnixMilli()); err != nil {
					m.logger.Error("Failed to close timer on shutdown", "error", err)
				}
			}
			m.mu.Unlock()
			return
		case <-ticker.C:
			if err := m.Heartbeat(); err != nil {
				m.logger.Error("Timer heartbeat failed", "error", err)
			}
		}
	}
}

// stopLocked finalizes the active timer at endMs, rolling over any midnight
// boundaries between the row's day and endMs first.
func (m *TimerManager) stopLocked(endMs int64) error {
	for endMs > DayEndMillis(m.active.StartTime) {
		if err := m.rolloverLocked(); err != nil {
			return err
		}
	}
	return m.closeActiveLocked(endMs)
}

// rolloverLocked closes the active row at its day's last millisecond and
// reopens the timer at the first millisecond of the following day.
func (m *TimerManager) rolloverLocked() error {
	dayEnd := DayEndMillis(m.active.StartTime)
	activity := m.active.Activity
	if err := m.closeActiveLocked(dayEnd); err != nil {
		return err
	}
	nextStart := dayEnd + 1
	t := &TimerSession{
		ID:          uuid.New().String(),
		Activity:    activity,
		StartTime:   nextStart,
		EndTime:     nextStart,
		DurationSec: 0,
		Date:        DayKeyOf(nextStart),
		Active:      true,
	}
	if err := m.store.InsertTimer(t); err != nil {
		return fmt.Errorf("timer: rollover: %w", err)
	}
	m.active = t
	m.logger.Info("Timer rolled over midnight", "activity", activity, "id", t.ID, "date", t.Date)
	return nil
}

func (m *TimerManager) closeActiveLocked(endMs int64) error {
	t := m.active
	if endMs < t.StartTime {
		endMs = t.StartTime
	}
	if err := m.store.CloseTimer(t.ID, endMs, DurationSec(t.StartTime, endMs)); err != nil {
		return fmt.Errorf("timer: close: %w", err)
	}
	m.logger.Info("Timer stopped", "activity", t.Activity, "id", t.ID, "durationSec", DurationSec(t.StartTime, endMs))
	m.active = nil
	return nil
}
