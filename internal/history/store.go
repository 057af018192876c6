// Package history persists housekeeping and focus-session records to a
// local sqlite database, giving the noon disk housekeeper a queryable
// record beyond the daily log files (SPEC_FULL.md §4.12). The
// focus-session methods have no caller in the daemon.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a *sql.DB opened against the modernc pure-Go sqlite
// driver (no cgo).
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and
// applies pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid pool contention
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// HousekeepingRun is one noon disk-reclaim cycle.
type HousekeepingRun struct {
	RanAt         time.Time
	DirsReclaimed int
	BytesFreed    int64
	FreeBeforeGB  float64
	FreeAfterGB   float64
}

func (s *Store) RecordHousekeeping(r HousekeepingRun) error {
	_, err := s.db.Exec(`
		INSERT INTO housekeeping_runs (ran_at, dirs_reclaimed, bytes_freed, free_before_gb, free_after_gb)
		VALUES (?, ?, ?, ?, ?)
	`, r.RanAt, r.DirsReclaimed, r.BytesFreed, r.FreeBeforeGB, r.FreeAfterGB)
	return err
}

func (s *Store) RecentHousekeeping(limit int) ([]HousekeepingRun, error) {
	rows, err := s.db.Query(`
		SELECT ran_at, dirs_reclaimed, bytes_freed, free_before_gb, free_after_gb
		FROM housekeeping_runs ORDER BY ran_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HousekeepingRun
	for rows.Next() {
		var r HousekeepingRun
		if err := rows.Scan(&r.RanAt, &r.DirsReclaimed, &r.BytesFreed, &r.FreeBeforeGB, &r.FreeAfterGB); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FocusSession is one autofocus attempt.
type FocusSession struct {
	ID          int64
	StartedAt   time.Time
	EndedAt     sql.NullTime
	Success     sql.NullBool
	FinalFWHM   sql.NullFloat64
	StepsTaken  int
}

func (s *Store) BeginFocusSession(startedAt time.Time) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO focus_sessions (started_at, steps_taken) VALUES (?, 0)`, startedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) RecordFocusStep(sessionID int64) error {
	_, err := s.db.Exec(`UPDATE focus_sessions SET steps_taken = steps_taken + 1 WHERE id = ?`, sessionID)
	return err
}

func (s *Store) EndFocusSession(sessionID int64, endedAt time.Time, success bool, finalFWHM float64) error {
	_, err := s.db.Exec(`
		UPDATE focus_sessions SET ended_at = ?, success = ?, final_fwhm_px = ? WHERE id = ?
	`, endedAt, success, finalFWHM, sessionID)
	return err
}
