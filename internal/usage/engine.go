package usage

import (
	"log/slog"
	"sync"
)

// SessionStore is the durable storage the engine reconciles against.
// Implemented by internal/store; kept as an interface so the engine can be
// exercised against fakes.
type SessionStore interface {
	InsertSession(s *Session) (int64, error)
	UpdateSessionEnd(id int64, end, durationSec int64) error
	UpdateSessionRange(id int64, start, end, durationSec int64) error
	// FindRecentSession returns the session on (pkg, date) with the latest
	// end time inside [windowStart, windowEnd], or nil.
	FindRecentSession(pkg, date string, windowStart, windowEnd int64) (*Session, error)
	FindSessionByStart(pkg, date string, start int64) (*Session, error)
	FindSessionByEnd(pkg, date string, end int64) (*Session, error)
	// FindOverlappingSession returns any session on (pkg, date) whose range
	// overlaps or is immediately adjacent to [start, end], or nil.
	FindOverlappingSession(pkg, date string, start, end int64) (*Session, error)
	// SessionsInRange returns every session on (pkg, date) overlapping or
	// immediately adjacent to [start, end], ordered by start time.
	SessionsInRange(pkg, date string, start, end int64) ([]*Session, error)
	DeleteSessionsByIDs(ids []int64) error
}

// AppResolver resolves a package to its registry metadata, synthesizing a
// minimal entry when the package has never been seen before.
type AppResolver interface {
	Resolve(packageName string) (categoryID int, err error)
}

// Engine reconciles raw (package, start, end) observations into per-day
// session rows. A single mutex serializes every reconciliation: the
// read-decide-write cascade is not atomic at the store level, so two
// concurrent deliveries for the same package could otherwise both insert.
type Engine struct {
	mu       sync.Mutex
	store    SessionStore
	registry AppResolver
	filter   *Filter
	logger   *slog.Logger
}

// NewEngine creates a reconciliation engine.
func NewEngine(store SessionStore, registry AppResolver, filter *Filter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if filter == nil {
		filter = NewFilter(nil)
	}
	return &Engine{
		store:    store,
		registry: registry,
		filter:   filter,
		logger:   logger,
	}
}

// Reconcile processes one raw observation. It never returns an error: the
// caller (the event collector) has no recovery beyond its own redelivery on
// the next poll, which the duplicate handling below makes safe. Failures
// are logged and the observation is dropped.
func (e *Engine) Reconcile(packageName string, startTime, endTime int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reconcileLocked(packageName, startTime, endTime)
}

func (e *Engine) reconcileLocked(pkg string, start, end int64) {
	if end <= start {
		e.logger.Debug("Dropped observation with non-positive range", "package", pkg, "start", start, "end", end)
		return
	}
	if e.filter.ShouldFilter(pkg) {
		e.logger.Debug("Filtered observation", "package", pkg)
		return
	}
	if DurationSec(start, end) < MinSessionSeconds {
		e.logger.Debug("Dropped sub-threshold observation", "package", pkg, "durationMs", end-start)
		return
	}

	categoryID, err := e.registry.Resolve(pkg)
	if err != nil {
		// Data loss: the observation is gone, make sure the log says so.
		e.logger.Error("Registry resolution failed, observation dropped", "package", pkg, "error", err)
		return
	}

	if !SameDay(start, end) {
		e.splitAcrossDays(pkg, categoryID, start, end)
		return
	}
	e.upsertSameDay(pkg, categoryID, start, end, DayKeyOf(start))
}

// splitAcrossDays cuts an observation that straddles local midnight into a
// half ending at 23:59:59.999 and a half starting at 00:00:00.000, then
// routes each half through the same-day upsert. Redelivered cross-day
// events are detected by their unchanged outer boundaries and skipped
// whole, so a replay cannot re-grow either day.
func (e *Engine) splitAcrossDays(pkg string, categoryID int, start, end int64) {
	firstDate := DayKeyOf(start)
	secondDate := DayKeyOf(end)

	firstDup, err := e.store.FindSessionByStart(pkg, firstDate, start)
	if err != nil {
		e.logger.Error("Store lookup failed during cross-day split", "package", pkg, "error", err)
		return
	}
	secondDup, err := e.store.FindSessionByEnd(pkg, secondDate, end)
	if err != nil {
		e.logger.Error("Store lookup failed during cross-day split", "package", pkg, "error", err)
		return
	}
	if firstDup != nil && secondDup != nil {
		e.logger.Warn("Duplicate cross-day observation suppressed",
			"package", pkg, "start", start, "end", end)
		return
	}

	dayEnd := DayEndMillis(start)
	nextStart := NextDayStartMillis(start)

	if DurationSec(start, dayEnd) >= MinSessionSeconds {
		e.upsertSameDay(pkg, categoryID, start, dayEnd, firstDate)
	}
	if DurationSec(nextStart, end) >= MinSessionSeconds {
		if !SameDay(nextStart, end) {
			// Observation spans more than one midnight; keep splitting.
			e.splitAcrossDays(pkg, categoryID, nextStart, end)
			return
		}
		e.upsertSameDay(pkg, categoryID, nextStart, end, secondDate)
	}
}

// upsertSameDay runs the four-step cascade for an observation confined to
// one calendar day: proximity merge, exact-duplicate extension,
// overlap/adjacency widening, fresh insert. Candidate queries are evaluated
// lazily in cascade order; the decision itself is pure (DecideUpsert).
func (e *Engine) upsertSameDay(pkg string, categoryID int, start, end int64, date string) {
	var c Candidates
	var err error

	c.Recent, err = e.store.FindRecentSession(pkg, date, start-MergeGapMillis, start)
	if err != nil {
		e.logger.Error("Store lookup failed, observation dropped", "package", pkg, "step", "recent", "error", err)
		return
	}
	if c.Recent == nil {
		c.ExactStart, err = e.store.FindSessionByStart(pkg, date, start)
		if err != nil {
			e.logger.Error("Store lookup failed, observation dropped", "package", pkg, "step", "exactStart", "error", err)
			return
		}
	}
	if c.Recent == nil && c.ExactStart == nil {
		c.Overlapping, err = e.store.FindOverlappingSession(pkg, date, start, end)
		if err != nil {
			e.logger.Error("Store lookup failed, observation dropped", "package", pkg, "step", "overlap", "error", err)
			return
		}
	}

	e.apply(pkg, categoryID, date, DecideUpsert(c, start, end))
}

// apply performs the store mutation for a decided action.
func (e *Engine) apply(pkg string, categoryID int, date string, a Action) {
	switch a.Kind {
	case ActionInsert:
		s := &Session{
			PackageName: pkg,
			CategoryID:  categoryID,
			StartTime:   a.Start,
			EndTime:     a.End,
			DurationSec: DurationSec(a.Start, a.End),
			Date:        date,
		}
		id, err := e.store.InsertSession(s)
		if err != nil {
			e.logger.Error("Session insert failed, observation dropped", "package", pkg, "error", err)
			return
		}
		e.logger.Debug("Session inserted", "package", pkg, "id", id, "date", date, "durationSec", s.DurationSec)

	case ActionExtend:
		dur := DurationSec(a.Target.StartTime, a.End)
		if err := e.store.UpdateSessionEnd(a.Target.ID, a.End, dur); err != nil {
			e.logger.Error("Session extend failed, observation dropped", "package", pkg, "id", a.Target.ID, "error", err)
			return
		}
		e.logger.Debug("Session extended", "package", pkg, "id", a.Target.ID, "end", a.End, "durationSec", dur)
		e.absorbBridged(pkg, date, a.Target.ID, a.Target.StartTime, a.End)

	case ActionWiden:
		dur := DurationSec(a.Start, a.End)
		if err := e.store.UpdateSessionRange(a.Target.ID, a.Start, a.End, dur); err != nil {
			e.logger.Error("Session widen failed, observation dropped", "package", pkg, "id", a.Target.ID, "error", err)
			return
		}
		e.logger.Debug("Session widened", "package", pkg, "id", a.Target.ID, "start", a.Start, "end", a.End)
		e.absorbBridged(pkg, date, a.Target.ID, a.Start, a.End)

	case ActionNoop:
		e.logger.Debug("Observation already covered", "package", pkg, "id", a.Target.ID)
	}
}

// absorbBridged folds any stored sessions the grown row now overlaps into
// it. Extending or widening one row can bridge it into neighbours that were
// disjoint when they were stored; the target takes the union of the ranges
// and the absorbed rows are removed. Repeats until the range stabilizes,
// since the union itself can reach further neighbours.
func (e *Engine) absorbBridged(pkg, date string, id, start, end int64) {
	for {
		neighbours, err := e.store.SessionsInRange(pkg, date, start, end)
		if err != nil {
			e.logger.Error("Store lookup failed during bridge absorption", "package", pkg, "id", id, "error", err)
			return
		}
		var doomed []int64
		for _, s := range neighbours {
			if s.ID == id {
				continue
			}
			doomed = append(doomed, s.ID)
			if s.StartTime < start {
				start = s.StartTime
			}
			if s.EndTime > end {
				end = s.EndTime
			}
		}
		if len(doomed) == 0 {
			return
		}
		if err := e.store.DeleteSessionsByIDs(doomed); err != nil {
			e.logger.Error("Failed to remove absorbed sessions", "package", pkg, "id", id, "error", err)
			return
		}
		if err := e.store.UpdateSessionRange(id, start, end, DurationSec(start, end)); err != nil {
			e.logger.Error("Failed to grow session over absorbed range", "package", pkg, "id", id, "error", err)
			return
		}
		e.logger.Debug("Absorbed bridged sessions", "package", pkg, "id", id, "absorbed", len(doomed), "start", start, "end", end)
	}
}
