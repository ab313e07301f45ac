package usage

import "testing"

func TestDecideUpsert_Insert(t *testing.T) {
	a := DecideUpsert(Candidates{}, 1000, 5000)
	if a.Kind != ActionInsert {
		t.Fatalf("Kind = %v, want insert", a.Kind)
	}
	if a.Start != 1000 || a.End != 5000 {
		t.Errorf("range = [%d, %d], want [1000, 5000]", a.Start, a.End)
	}
	if a.Target != nil {
		t.Error("Expected nil target for insert")
	}
}

func TestDecideUpsert_MergeRecent(t *testing.T) {
	recent := &Session{ID: 7, StartTime: 1000, EndTime: 5000}
	a := DecideUpsert(Candidates{Recent: recent}, 8000, 12000)
	if a.Kind != ActionExtend {
		t.Fatalf("Kind = %v, want extend", a.Kind)
	}
	if a.Target != recent {
		t.Error("Expected the recent session as target")
	}
	if a.Start != 1000 || a.End != 12000 {
		t.Errorf("range = [%d, %d], want [1000, 12000]", a.Start, a.End)
	}
}

func TestDecideUpsert_RecentAlreadyCovers(t *testing.T) {
	recent := &Session{ID: 7, StartTime: 1000, EndTime: 20000}
	a := DecideUpsert(Candidates{Recent: recent}, 8000, 12000)
	if a.Kind != ActionNoop {
		t.Fatalf("Kind = %v, want noop", a.Kind)
	}
}

func TestDecideUpsert_ExactStartExtends(t *testing.T) {
	dup := &Session{ID: 3, StartTime: 1000, EndTime: 5000}
	a := DecideUpsert(Candidates{ExactStart: dup}, 1000, 9000)
	if a.Kind != ActionExtend {
		t.Fatalf("Kind = %v, want extend", a.Kind)
	}
	if a.End != 9000 {
		t.Errorf("End = %d, want 9000", a.End)
	}
}

func TestDecideUpsert_ExactStartRedelivery(t *testing.T) {
	dup := &Session{ID: 3, StartTime: 1000, EndTime: 5000}
	a := DecideUpsert(Candidates{ExactStart: dup}, 1000, 5000)
	if a.Kind != ActionNoop {
		t.Fatalf("Kind = %v, want noop", a.Kind)
	}
	// A shorter redelivery must never shrink the stored session.
	a = DecideUpsert(Candidates{ExactStart: dup}, 1000, 3000)
	if a.Kind != ActionNoop {
		t.Fatalf("Kind = %v, want noop for shorter redelivery", a.Kind)
	}
}

func TestDecideUpsert_OverlapWidens(t *testing.T) {
	existing := &Session{ID: 5, StartTime: 5000, EndTime: 10000}
	a := DecideUpsert(Candidates{Overlapping: existing}, 3000, 8000)
	if a.Kind != ActionWiden {
		t.Fatalf("Kind = %v, want widen", a.Kind)
	}
	if a.Start != 3000 || a.End != 10000 {
		t.Errorf("range = [%d, %d], want [3000, 10000]", a.Start, a.End)
	}
}

func TestDecideUpsert_OverlapBothSides(t *testing.T) {
	existing := &Session{ID: 5, StartTime: 5000, EndTime: 10000}
	a := DecideUpsert(Candidates{Overlapping: existing}, 3000, 12000)
	if a.Kind != ActionWiden {
		t.Fatalf("Kind = %v, want widen", a.Kind)
	}
	if a.Start != 3000 || a.End != 12000 {
		t.Errorf("range = [%d, %d], want [3000, 12000]", a.Start, a.End)
	}
}

func TestDecideUpsert_OverlapFullyCovered(t *testing.T) {
	existing := &Session{ID: 5, StartTime: 5000, EndTime: 10000}
	a := DecideUpsert(Candidates{Overlapping: existing}, 6000, 9000)
	if a.Kind != ActionNoop {
		t.Fatalf("Kind = %v, want noop", a.Kind)
	}
}

func TestDecideUpsert_RecentWinsOverOverlap(t *testing.T) {
	recent := &Session{ID: 1, StartTime: 1000, EndTime: 5000}
	overlap := &Session{ID: 2, StartTime: 9000, EndTime: 11000}
	a := DecideUpsert(Candidates{Recent: recent, Overlapping: overlap}, 8000, 12000)
	if a.Kind != ActionExtend || a.Target != recent {
		t.Fatalf("Expected extend of the recent session, got %v on id %d", a.Kind, a.Target.ID)
	}
}

func TestActionKind_String(t *testing.T) {
	cases := map[ActionKind]string{
		ActionInsert:   "insert",
		ActionExtend:   "extend",
		ActionWiden:    "widen",
		ActionNoop:     "noop",
		ActionKind(99): "unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("ActionKind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
