package usage

// ActionKind identifies what the upsert cascade decided to do with an
// observation.
type ActionKind int

const (
	// ActionInsert stores the observation as a fresh session row.
	ActionInsert ActionKind = iota
	// ActionExtend pushes an existing session's end time forward.
	ActionExtend
	// ActionWiden replaces an existing session's range with the union of
	// its own range and the observation's.
	ActionWiden
	// ActionNoop means the observation is already fully covered by a
	// stored session; a redelivery with nothing new.
	ActionNoop
)

func (k ActionKind) String() string {
	switch k {
	case ActionInsert:
		return "insert"
	case ActionExtend:
		return "extend"
	case ActionWiden:
		return "widen"
	case ActionNoop:
		return "noop"
	}
	return "unknown"
}

// Action is the decided mutation. Target is nil for ActionInsert and the
// session to mutate otherwise. Start/End are the resulting time range.
type Action struct {
	Kind   ActionKind
	Target *Session
	Start  int64
	End    int64
}

// Candidates holds the store query results the same-day upsert cascade
// inspects. Each field may be nil; queries are evaluated lazily by the
// engine, in cascade order.
type Candidates struct {
	// Recent is the most recent session on this day whose end falls within
	// MergeGapMillis before the observation's start.
	Recent *Session
	// ExactStart is a session with an identical start time (redelivery).
	ExactStart *Session
	// Overlapping is any session overlapping or immediately adjacent to
	// the observation's range.
	Overlapping *Session
}

// DecideUpsert is the pure decision procedure behind the same-day upsert.
// Given candidate sessions and an observed [start, end] range it picks one
// of four actions, in priority order: proximity merge, duplicate extension,
// overlap widening, fresh insert. It never shrinks an existing session.
func DecideUpsert(c Candidates, start, end int64) Action {
	if c.Recent != nil {
		if end > c.Recent.EndTime {
			return Action{Kind: ActionExtend, Target: c.Recent, Start: c.Recent.StartTime, End: end}
		}
		return Action{Kind: ActionNoop, Target: c.Recent, Start: c.Recent.StartTime, End: c.Recent.EndTime}
	}
	if c.ExactStart != nil {
		// Same event delivered again, possibly with more elapsed time.
		if end > c.ExactStart.EndTime {
			return Action{Kind: ActionExtend, Target: c.ExactStart, Start: c.ExactStart.StartTime, End: end}
		}
		return Action{Kind: ActionNoop, Target: c.ExactStart, Start: c.ExactStart.StartTime, End: c.ExactStart.EndTime}
	}
	if c.Overlapping != nil {
		newStart := min(c.Overlapping.StartTime, start)
		newEnd := max(c.Overlapping.EndTime, end)
		if newStart == c.Overlapping.StartTime && newEnd == c.Overlapping.EndTime {
			return Action{Kind: ActionNoop, Target: c.Overlapping, Start: newStart, End: newEnd}
		}
		return Action{Kind: ActionWiden, Target: c.Overlapping, Start: newStart, End: newEnd}
	}
	return Action{Kind: ActionInsert, Start: start, End: end}
}
