package sqm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/salmingo/wemon-public/internal/models"
	"github.com/salmingo/wemon-public/internal/obslog"
)

// dailyLog appends one line per reading to
// <sampleRoot>/SQM/Y<YYYY>/SQM_YYYYMMDD.log (spec.md §4.5, §6.8).
type dailyLog struct {
	root string
	mu   sync.Mutex
	day  string
	f    *os.File
}

func (p *Poller) appendDailyLog(s models.SkySample) {
	if p.logFile == nil {
		p.logFile = &dailyLog{root: p.dailyDir}
	}
	now := time.Now().UTC()
	p.logFile.mu.Lock()
	defer p.logFile.mu.Unlock()

	day := now.Format("20060102")
	if p.logFile.f == nil || p.logFile.day != day {
		if p.logFile.f != nil {
			p.logFile.f.Close()
		}
		dir := filepath.Join(p.logFile.root, "SQM", "Y"+now.Format("2006"))
		if err := os.MkdirAll(dir, 0755); err != nil {
			p.log.Error(obslog.SQM, "mkdir SQM log dir: %v", err)
			return
		}
		path := filepath.Join(dir, fmt.Sprintf("SQM_%s.log", day))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			p.log.Error(obslog.SQM, "open SQM log file: %v", err)
			return
		}
		p.logFile.f = f
		p.logFile.day = day
	}

	line := fmt.Sprintf("%s %d\n", s.TS, s.MPSAS)
	if _, err := p.logFile.f.WriteString(line); err != nil {
		p.log.Error(obslog.SQM, "write SQM log line: %v", err)
	}
}
