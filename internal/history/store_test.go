package history

import (
	"path/filepath"
	"testing"
	"time"
)

func TestHousekeepingRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	run := HousekeepingRun{
		RanAt:         time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC),
		DirsReclaimed: 3,
		BytesFreed:    1 << 30,
		FreeBeforeGB:  10,
		FreeAfterGB:   11,
	}
	if err := s.RecordHousekeeping(run); err != nil {
		t.Fatalf("RecordHousekeeping: %v", err)
	}

	recent, err := s.RecentHousekeeping(5)
	if err != nil {
		t.Fatalf("RecentHousekeeping: %v", err)
	}
	if len(recent) != 1 || recent[0].DirsReclaimed != 3 {
		t.Fatalf("recent = %+v", recent)
	}
}

func TestFocusSessionLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	id, err := s.BeginFocusSession(time.Now())
	if err != nil {
		t.Fatalf("BeginFocusSession: %v", err)
	}
	if err := s.RecordFocusStep(id); err != nil {
		t.Fatalf("RecordFocusStep: %v", err)
	}
	if err := s.EndFocusSession(id, time.Now(), true, 3.2); err != nil {
		t.Fatalf("EndFocusSession: %v", err)
	}
}
