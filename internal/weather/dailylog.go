package weather

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/salmingo/wemon-public/internal/models"
)

// dailyLog appends one line per successful cycle to
// <sampleRoot>/Weather/Y<YYYY>/Weather_YYYYMMDD.log, reopening the file
// whenever the UTC day rolls over (spec.md §4.4, §6.8).
type dailyLog struct {
	root string

	mu      sync.Mutex
	day     string
	f       *os.File
}

func newDailyLog(sampleRoot string) *dailyLog {
	return &dailyLog{root: sampleRoot}
}

func (d *dailyLog) path(now time.Time) string {
	y := now.Format("2006")
	ymd := now.Format("20060102")
	return filepath.Join(d.root, "Weather", "Y"+y, fmt.Sprintf("Weather_%s.log", ymd))
}

func (d *dailyLog) ensureOpen(now time.Time) error {
	day := now.Format("20060102")
	if d.f != nil && d.day == day {
		return nil
	}
	if d.f != nil {
		d.f.Close()
	}
	p := d.path(now)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("weather: mkdir log dir: %w", err)
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("weather: open log file: %w", err)
	}
	d.f = f
	d.day = day
	return nil
}

func (p *Poller) appendDailyLog(s models.WeatherSample) {
	if p.logFile == nil {
		p.logFile = newDailyLog(p.dailyLogDir)
	}
	now := time.Now().UTC()
	p.logFile.mu.Lock()
	defer p.logFile.mu.Unlock()
	if err := p.logFile.ensureOpen(now); err != nil {
		p.log.Error("weather", "%v", err)
		return
	}
	line := fmt.Sprintf("%s %d %d %d %d %d %d\n",
		s.TS, s.TenthC, s.TenthRH, s.TenthHPa, s.WindSpeed, s.WindDir, s.Rain)
	if _, err := p.logFile.f.WriteString(line); err != nil {
		p.log.Error("weather", "write log line: %v", err)
	}
}

func (d *dailyLog) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f != nil {
		d.f.Close()
		d.f = nil
	}
}
