package envmonitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/salmingo/wemon-public/internal/config"
	"github.com/salmingo/wemon-public/internal/history"
	"github.com/salmingo/wemon-public/internal/obslog"
)

func newTestMonitor(t *testing.T, rawRoot string) *Monitor {
	t.Helper()
	log, err := obslog.New(obslog.DefaultConfig(filepath.Join(t.TempDir(), "logs")))
	if err != nil {
		t.Fatalf("obslog.New: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.EnvMonitorConfig{TwilightElevDeg: -10, MinDiskFreeGB: 1 << 20, HousekeepAtLocalHour: 12}
	m, err := New(cfg, config.Site{Latitude: 30, Longitude: 100}, time.UTC, rawRoot, "C", "", log, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestSiblingDirsOldestFirst(t *testing.T) {
	root := t.TempDir()
	names := []string{"C260101", "C260103", "C260102", "other"}
	for i, n := range names {
		dir := filepath.Join(root, n)
		if err := os.Mkdir(dir, 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		mt := time.Now().Add(time.Duration(i) * time.Hour)
		if err := os.Chtimes(dir, mt, mt); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	dirs, err := siblingDirsOldestFirst(root, "C")
	if err != nil {
		t.Fatalf("siblingDirsOldestFirst: %v", err)
	}
	if len(dirs) != 3 {
		t.Fatalf("got %d dirs, want 3 (non-prefixed dir excluded)", len(dirs))
	}
	want := []string{"C260101", "C260103", "C260102"}
	for i, d := range dirs {
		if filepath.Base(d) != want[i] {
			t.Errorf("dirs[%d] = %s, want %s", i, filepath.Base(d), want[i])
		}
	}
}

func TestRunHousekeeperRecordsRunEvenWithNothingToReclaim(t *testing.T) {
	root := t.TempDir()
	m := newTestMonitor(t, root)
	m.runHousekeeper()

	runs, err := m.history.RecentHousekeeping(1)
	if err != nil {
		t.Fatalf("RecentHousekeeping: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 recorded run, got %d", len(runs))
	}
	if runs[0].DirsReclaimed != 0 {
		t.Errorf("DirsReclaimed = %d, want 0 (MinDiskFreeGB set unreachably high but no dirs to reclaim)", runs[0].DirsReclaimed)
	}
}

func TestTickTwilightTransitionsOnce(t *testing.T) {
	m := newTestMonitor(t, t.TempDir())
	var started, stopped int
	m.NewSQM = func() NightRunner {
		started++
		return runnerFunc(func(ctx context.Context) error { <-ctx.Done(); stopped++; return nil })
	}

	// Force NIGHT by pretending twilight elevation is +90 (always night).
	m.cfg.TwilightElevDeg = 90
	m.tickTwilight()
	if started != 1 {
		t.Fatalf("expected night components started once, got %d", started)
	}

	// A second tick with the same NIGHT verdict must not restart anything.
	m.tickTwilight()
	if started != 1 {
		t.Errorf("expected no restart on repeated NIGHT tick, got %d starts", started)
	}
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }
