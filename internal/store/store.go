// Package store provides SQLite persistence for OffTimes: reconciled usage
// sessions, offline-activity timers, the app registry and settings.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shuifeng1988/OffTimes-sub002/internal/usage"
	_ "modernc.org/sqlite"
)

// Store owns the SQLite database.
type Store struct {
	db *sql.DB
}

// App is a registry row describing a tracked application.
type App struct {
	PackageName      string
	Label            string
	CategoryID       int
	Excluded         bool
	IsSystem         bool
	VersionName      string
	VersionCode      int64
	FirstInstallTime int64
	LastUpdateTime   int64
	Enabled          bool
}

// PackageTotal aggregates one package's usage on a single day.
type PackageTotal struct {
	PackageName string
	Label       string
	CategoryID  int
	TotalSec    int64
	Sessions    int
}

// CategoryTotal aggregates one category's usage on a single day.
type CategoryTotal struct {
	CategoryID int
	TotalSec   int64
	Sessions   int
}

// New opens (creating if necessary) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite is single-writer; keeping connections low bounds the page
	// cache while busy_timeout absorbs contention.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
		CREATE TABLE IF NOT EXISTS usage_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			package_name TEXT NOT NULL,
			category_id INTEGER NOT NULL DEFAULT 0,
			start_time INTEGER NOT NULL,
			end_time INTEGER NOT NULL,
			duration_sec INTEGER NOT NULL DEFAULT 0,
			date TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS timer_sessions (
			id TEXT PRIMARY KEY,
			activity TEXT NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER NOT NULL,
			duration_sec INTEGER NOT NULL DEFAULT 0,
			date TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS apps (
			package_name TEXT PRIMARY KEY,
			label TEXT NOT NULL DEFAULT '',
			category_id INTEGER NOT NULL DEFAULT 0,
			excluded INTEGER NOT NULL DEFAULT 0,
			is_system INTEGER NOT NULL DEFAULT 0,
			version_name TEXT NOT NULL DEFAULT '',
			version_code INTEGER NOT NULL DEFAULT 0,
			first_install_time INTEGER NOT NULL DEFAULT 0,
			last_update_time INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_pkg_date ON usage_sessions(package_name, date);
		CREATE INDEX IF NOT EXISTS idx_sessions_date ON usage_sessions(date);
		CREATE INDEX IF NOT EXISTS idx_sessions_pkg_start ON usage_sessions(package_name, start_time);
		CREATE INDEX IF NOT EXISTS idx_timers_date ON timer_sessions(date);
		CREATE INDEX IF NOT EXISTS idx_timers_active ON timer_sessions(active) WHERE active = 1;
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if err := s.migrateSchema(); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// migrateSchema brings pre-existing databases up to the current layout.
func (s *Store) migrateSchema() error {
	// enabled column arrived after the first release
	if _, err := s.db.Exec(`ALTER TABLE apps ADD COLUMN enabled INTEGER NOT NULL DEFAULT 1`); err != nil {
		if !strings.Contains(err.Error(), "duplicate column name") {
			return fmt.Errorf("failed to add enabled to apps: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- usage sessions ---

// InsertSession inserts a session row and returns its generated id.
func (s *Store) InsertSession(sess *usage.Session) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO usage_sessions (package_name, category_id, start_time, end_time, duration_sec, date)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.PackageName, sess.CategoryID, sess.StartTime, sess.EndTime, sess.DurationSec, sess.Date,
	)
	if err != nil {
		return 0, fmt.Errorf("store.InsertSession: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store.InsertSession: %w", err)
	}
	sess.ID = id
	return id, nil
}

// UpdateSessionEnd moves a session's end time forward and stores the
// recomputed duration.
func (s *Store) UpdateSessionEnd(id int64, end, durationSec int64) error {
	_, err := s.db.Exec(
		`UPDATE usage_sessions SET end_time = ?, duration_sec = ? WHERE id = ?`,
		end, durationSec, id,
	)
	if err != nil {
		return fmt.Errorf("store.UpdateSessionEnd: %w", err)
	}
	return nil
}

// UpdateSessionRange replaces a session's full time range.
func (s *Store) UpdateSessionRange(id int64, start, end, durationSec int64) error {
	_, err := s.db.Exec(
		`UPDATE usage_sessions SET start_time = ?, end_time = ?, duration_sec = ? WHERE id = ?`,
		start, end, durationSec, id,
	)
	if err != nil {
		return fmt.Errorf("store.UpdateSessionRange: %w", err)
	}
	return nil
}

// FindRecentSession returns the session on (pkg, date) with the latest end
// time inside [windowStart, windowEnd], or nil.
func (s *Store) FindRecentSession(pkg, date string, windowStart, windowEnd int64) (*usage.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, package_name, category_id, start_time, end_time, duration_sec, date
		FROM usage_sessions
		WHERE package_name = ? AND date = ? AND end_time BETWEEN ? AND ?
		ORDER BY end_time DESC LIMIT 1`,
		pkg, date, windowStart, windowEnd,
	)
	return scanSession(row)
}

// FindSessionByStart returns the session on (pkg, date) with an identical
// start time, or nil.
func (s *Store) FindSessionByStart(pkg, date string, start int64) (*usage.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, package_name, category_id, start_time, end_time, duration_sec, date
		FROM usage_sessions
		WHERE package_name = ? AND date = ? AND start_time = ? LIMIT 1`,
		pkg, date, start,
	)
	return scanSession(row)
}

// FindSessionByEnd returns the session on (pkg, date) with an identical end
// time, or nil.
func (s *Store) FindSessionByEnd(pkg, date string, end int64) (*usage.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, package_name, category_id, start_time, end_time, duration_sec, date
		FROM usage_sessions
		WHERE package_name = ? AND date = ? AND end_time = ? LIMIT 1`,
		pkg, date, end,
	)
	return scanSession(row)
}

// FindOverlappingSession returns a session on (pkg, date) whose interval
// overlaps or touches [start, end], or nil.
func (s *Store) FindOverlappingSession(pkg, date string, start, end int64) (*usage.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, package_name, category_id, start_time, end_time, duration_sec, date
		FROM usage_sessions
		WHERE package_name = ? AND date = ? AND end_time >= ? AND start_time <= ?
		ORDER BY start_time ASC LIMIT 1`,
		pkg, date, start, end,
	)
	return scanSession(row)
}

// SessionsInRange returns every session on (pkg, date) whose interval
// overlaps or touches [start, end], ordered by start time.
func (s *Store) SessionsInRange(pkg, date string, start, end int64) ([]*usage.Session, error) {
	rows, err := s.db.Query(
		`SELECT id, package_name, category_id, start_time, end_time, duration_sec, date
		FROM usage_sessions
		WHERE package_name = ? AND date = ? AND end_time >= ? AND start_time <= ?
		ORDER BY start_time ASC`,
		pkg, date, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("store.SessionsInRange: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// SessionsByDate returns all sessions on a calendar day, ordered by start
// time. pkg narrows to one package when non-empty.
func (s *Store) SessionsByDate(date, pkg string) ([]*usage.Session, error) {
	query := `SELECT id, package_name, category_id, start_time, end_time, duration_sec, date
		FROM usage_sessions WHERE date = ?`
	args := []interface{}{date}
	if pkg != "" {
		query += ` AND package_name = ?`
		args = append(args, pkg)
	}
	query += ` ORDER BY start_time ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store.SessionsByDate: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// AllSessions returns every session row, ordered by package then start time.
func (s *Store) AllSessions() ([]*usage.Session, error) {
	rows, err := s.db.Query(
		`SELECT id, package_name, category_id, start_time, end_time, duration_sec, date
		FROM usage_sessions ORDER BY package_name ASC, start_time ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("store.AllSessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// DeleteSessionsBefore deletes all sessions with a date strictly older than
// cutoff and returns the number of deleted rows.
func (s *Store) DeleteSessionsBefore(cutoff string) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM usage_sessions WHERE date < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store.DeleteSessionsBefore: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// DeleteSessionsByIDs deletes the given session rows.
func (s *Store) DeleteSessionsByIDs(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.Exec(`DELETE FROM usage_sessions WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("store.DeleteSessionsByIDs: %w", err)
	}
	return nil
}

// DeleteSessionsByPackage deletes every session of one package and returns
// the number of deleted rows.
func (s *Store) DeleteSessionsByPackage(pkg string) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM usage_sessions WHERE package_name = ?`, pkg)
	if err != nil {
		return 0, fmt.Errorf("store.DeleteSessionsByPackage: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// DailyPackageTotals aggregates usage per package for one day, largest
// first.
func (s *Store) DailyPackageTotals(date string) ([]PackageTotal, error) {
	rows, err := s.db.Query(
		`SELECT u.package_name, COALESCE(a.label, ''), u.category_id,
			SUM(u.duration_sec), COUNT(*)
		FROM usage_sessions u
		LEFT JOIN apps a ON a.package_name = u.package_name
		WHERE u.date = ?
		GROUP BY u.package_name, u.category_id
		ORDER BY SUM(u.duration_sec) DESC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("store.DailyPackageTotals: %w", err)
	}
	defer rows.Close()

	var totals []PackageTotal
	for rows.Next() {
		var t PackageTotal
		if err := rows.Scan(&t.PackageName, &t.Label, &t.CategoryID, &t.TotalSec, &t.Sessions); err != nil {
			return nil, fmt.Errorf("store.DailyPackageTotals: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// DailyCategoryTotals aggregates usage per category for one day, largest
// first.
func (s *Store) DailyCategoryTotals(date string) ([]CategoryTotal, error) {
	rows, err := s.db.Query(
		`SELECT category_id, SUM(duration_sec), COUNT(*)
		FROM usage_sessions WHERE date = ?
		GROUP BY category_id ORDER BY SUM(duration_sec) DESC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("store.DailyCategoryTotals: %w", err)
	}
	defer rows.Close()

	var totals []CategoryTotal
	for rows.Next() {
		var t CategoryTotal
		if err := rows.Scan(&t.CategoryID, &t.TotalSec, &t.Sessions); err != nil {
			return nil, fmt.Errorf("store.DailyCategoryTotals: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// --- timer sessions ---

// InsertTimer inserts a timer-session row.
func (s *Store) InsertTimer(t *usage.TimerSession) error {
	_, err := s.db.Exec(
		`INSERT INTO timer_sessions (id, activity, start_time, end_time, duration_sec, date, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Activity, t.StartTime, t.EndTime, t.DurationSec, t.Date, boolToInt(t.Active),
	)
	if err != nil {
		return fmt.Errorf("store.InsertTimer: %w", err)
	}
	return nil
}

// UpdateTimer extends an active timer's end time.
func (s *Store) UpdateTimer(id string, end, durationSec int64) error {
	_, err := s.db.Exec(
		`UPDATE timer_sessions SET end_time = ?, duration_sec = ? WHERE id = ?`,
		end, durationSec, id,
	)
	if err != nil {
		return fmt.Errorf("store.UpdateTimer: %w", err)
	}
	return nil
}

// CloseTimer finalizes a timer and marks it inactive.
func (s *Store) CloseTimer(id string, end, durationSec int64) error {
	_, err := s.db.Exec(
		`UPDATE timer_sessions SET end_time = ?, duration_sec = ?, active = 0 WHERE id = ?`,
		end, durationSec, id,
	)
	if err != nil {
		return fmt.Errorf("store.CloseTimer: %w", err)
	}
	return nil
}

// CloseOrphanedTimers marks any timer left active by a previous run as
// closed, keeping its last recorded end time. Returns the number of rows
// closed.
func (s *Store) CloseOrphanedTimers() (int64, error) {
	result, err := s.db.Exec(`UPDATE timer_sessions SET active = 0 WHERE active = 1`)
	if err != nil {
		return 0, fmt.Errorf("store.CloseOrphanedTimers: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// TimersByDate returns all timer sessions on a calendar day, ordered by
// start time.
func (s *Store) TimersByDate(date string) ([]*usage.TimerSession, error) {
	rows, err := s.db.Query(
		`SELECT id, activity, start_time, end_time, duration_sec, date, active
		FROM timer_sessions WHERE date = ? ORDER BY start_time ASC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("store.TimersByDate: %w", err)
	}
	defer rows.Close()

	var timers []*usage.TimerSession
	for rows.Next() {
		var t usage.TimerSession
		var active int
		if err := rows.Scan(&t.ID, &t.Activity, &t.StartTime, &t.EndTime, &t.DurationSec, &t.Date, &active); err != nil {
			return nil, fmt.Errorf("store.TimersByDate: %w", err)
		}
		t.Active = active != 0
		timers = append(timers, &t)
	}
	return timers, rows.Err()
}

// DeleteTimersBefore deletes timer sessions older than cutoff and returns
// the number of deleted rows.
func (s *Store) DeleteTimersBefore(cutoff string) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM timer_sessions WHERE date < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store.DeleteTimersBefore: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// --- app registry ---

// GetApp returns the registry row for a package, or nil when unknown.
func (s *Store) GetApp(pkg string) (*App, error) {
	var a App
	var excluded, isSystem, enabled int
	err := s.db.QueryRow(
		`SELECT package_name, label, category_id, excluded, is_system,
			version_name, version_code, first_install_time, last_update_time, enabled
		FROM apps WHERE package_name = ?`,
		pkg,
	).Scan(
		&a.PackageName, &a.Label, &a.CategoryID, &excluded, &isSystem,
		&a.VersionName, &a.VersionCode, &a.FirstInstallTime, &a.LastUpdateTime, &enabled,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store.GetApp: %w", err)
	}
	a.Excluded = excluded != 0
	a.IsSystem = isSystem != 0
	a.Enabled = enabled != 0
	return &a, nil
}

// UpsertApp inserts or updates a registry row. The user's exclusion flag is
// preserved on update.
func (s *Store) UpsertApp(a *App) error {
	_, err := s.db.Exec(
		`INSERT INTO apps (package_name, label, category_id, excluded, is_system,
			version_name, version_code, first_install_time, last_update_time, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(package_name) DO UPDATE SET
			label = excluded.label,
			category_id = excluded.category_id,
			is_system = excluded.is_system,
			version_name = excluded.version_name,
			version_code = excluded.version_code,
			first_install_time = excluded.first_install_time,
			last_update_time = excluded.last_update_time,
			enabled = excluded.enabled`,
		a.PackageName, a.Label, a.CategoryID, boolToInt(a.Excluded), boolToInt(a.IsSystem),
		a.VersionName, a.VersionCode, a.FirstInstallTime, a.LastUpdateTime, boolToInt(a.Enabled),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store.UpsertApp: %w", err)
	}
	return nil
}

// SetAppExcluded flips the user exclusion flag for a package.
func (s *Store) SetAppExcluded(pkg string, excluded bool) error {
	_, err := s.db.Exec(`UPDATE apps SET excluded = ? WHERE package_name = ?`, boolToInt(excluded), pkg)
	if err != nil {
		return fmt.Errorf("store.SetAppExcluded: %w", err)
	}
	return nil
}

// ListApps returns every registry row, ordered by label then package.
func (s *Store) ListApps() ([]*App, error) {
	rows, err := s.db.Query(
		`SELECT package_name, label, category_id, excluded, is_system,
			version_name, version_code, first_install_time, last_update_time, enabled
		FROM apps ORDER BY label ASC, package_name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("store.ListApps: %w", err)
	}
	defer rows.Close()

	var apps []*App
	for rows.Next() {
		var a App
		var excluded, isSystem, enabled int
		if err := rows.Scan(
			&a.PackageName, &a.Label, &a.CategoryID, &excluded, &isSystem,
			&a.VersionName, &a.VersionCode, &a.FirstInstallTime, &a.LastUpdateTime, &enabled,
		); err != nil {
			return nil, fmt.Errorf("store.ListApps: %w", err)
		}
		a.Excluded = excluded != 0
		a.IsSystem = isSystem != 0
		a.Enabled = enabled != 0
		apps = append(apps, &a)
	}
	return apps, rows.Err()
}

// --- settings ---

// GetSetting returns the value for a setting key, or "" when unset.
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store.GetSetting: %w", err)
	}
	return value, nil
}

// SetSetting inserts or replaces a setting value.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("store.SetSetting: %w", err)
	}
	return nil
}

// --- helpers ---

func scanSession(row *sql.Row) (*usage.Session, error) {
	var sess usage.Session
	err := row.Scan(
		&sess.ID, &sess.PackageName, &sess.CategoryID,
		&sess.StartTime, &sess.EndTime, &sess.DurationSec, &sess.Date,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan session: %w", err)
	}
	return &sess, nil
}

func scanSessions(rows *sql.Rows) ([]*usage.Session, error) {
	var sessions []*usage.Session
	for rows.Next() {
		var sess usage.Session
		if err := rows.Scan(
			&sess.ID, &sess.PackageName, &sess.CategoryID,
			&sess.StartTime, &sess.EndTime, &sess.DurationSec, &sess.Date,
		); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
