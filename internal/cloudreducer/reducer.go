// Package cloudreducer watches the external classifier's exchange file
// by mtime, reparses on change, and marks the cloud map STALE after no
// update for a configurable window (spec.md §4.6, default 300s).
package cloudreducer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/salmingo/wemon-public/internal/models"
	"github.com/salmingo/wemon-public/internal/obslog"
)

// Reader polls the exchange file and holds the latest parsed CloudMap.
type Reader struct {
	path         string
	pollInterval time.Duration
	staleAfter   time.Duration
	sampleRoot   string
	log          *obslog.Logger

	mu      sync.RWMutex
	latest  models.CloudMap
	lastMod time.Time
}

func NewReader(exchangeFile, sampleRoot string, pollIntervalSec, staleAfterSec float64, log *obslog.Logger) *Reader {
	return &Reader{
		path:         exchangeFile,
		pollInterval: time.Duration(pollIntervalSec * float64(time.Second)),
		staleAfter:   time.Duration(staleAfterSec * float64(time.Second)),
		sampleRoot:   sampleRoot,
		log:          log,
		latest:       models.CloudMap{State: models.StateNotConnected},
	}
}

// Latest returns a copy-snapshot of the most recent cloud map, with
// State recomputed against the staleness window at call time.
func (r *Reader) Latest() models.CloudMap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.latest
	if !r.lastMod.IsZero() && time.Since(r.lastMod) > r.staleAfter {
		m.State = models.StateStale
	}
	return m
}

// Run polls the exchange file's mtime every pollInterval until ctx is
// cancelled.
func (r *Reader) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.poll()
		}
	}
}

func (r *Reader) poll() {
	info, err := os.Stat(r.path)
	if err != nil {
		return // transient-I/O: file not present this cycle, try again next tick
	}
	r.mu.RLock()
	unchanged := info.ModTime().Equal(r.lastMod)
	r.mu.RUnlock()
	if unchanged {
		return
	}

	m, err := ParseFile(r.path)
	if err != nil {
		r.log.Warn(obslog.Reducer, "parse %s: %v", r.path, err)
		return
	}
	m.State = models.StateOK

	r.mu.Lock()
	r.latest = m
	r.lastMod = info.ModTime()
	r.mu.Unlock()

	r.mirrorJSON(m)
}

// ParseFile parses the reducer exchange file per spec.md §4.6/§6.4:
// comment lines beginning with '#' carry ID/SITE/STEP; the first
// non-comment line is a state integer, the second a UTC timestamp, and
// subsequent lines are "az el level".
func ParseFile(path string) (models.CloudMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.CloudMap{}, fmt.Errorf("cloudreducer: open: %w", err)
	}
	defer f.Close()

	var m models.CloudMap
	sc := bufio.NewScanner(f)
	stage := 0 // 0=state int, 1=timestamp, 2=zones

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			parseComment(line, &m)
			continue
		}
		switch stage {
		case 0:
			// reducer state integer, informational only here
			stage = 1
		case 1:
			m.TS = line
			stage = 2
		case 2:
			z, ok := parseZoneLine(line)
			if ok {
				m.Zones = append(m.Zones, z)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return models.CloudMap{}, fmt.Errorf("cloudreducer: scan: %w", err)
	}

	sort.Slice(m.Zones, func(i, j int) bool {
		if m.Zones[i].El != m.Zones[j].El {
			return m.Zones[i].El > m.Zones[j].El // descending elevation
		}
		return m.Zones[i].Az < m.Zones[j].Az // ascending azimuth
	})

	return m, nil
}

func parseComment(line string, m *models.CloudMap) {
	body := strings.TrimSpace(strings.TrimPrefix(line, "#"))
	switch {
	case strings.HasPrefix(body, "STEP"):
		fields := strings.Fields(strings.TrimPrefix(body, "STEP"))
		fields = strings.Fields(strings.TrimPrefix(strings.Join(fields, " "), "="))
		if len(fields) >= 2 {
			m.AzStep, _ = strconv.ParseFloat(fields[0], 64)
			m.ElStep, _ = strconv.ParseFloat(fields[1], 64)
		}
	}
}

func parseZoneLine(line string) (models.Zone, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return models.Zone{}, false
	}
	az, err1 := strconv.ParseFloat(fields[0], 64)
	el, err2 := strconv.ParseFloat(fields[1], 64)
	level, err3 := strconv.Atoi(fields[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return models.Zone{}, false
	}
	return models.Zone{Az: az, El: el, Level: level}, true
}

// mirrorJSON writes the best-effort JSON diagnostic mirror at
// <sampleRoot>/CloudAge/Y<YYYY>/CA<YYYYMMDD>/CA<YYYYMMDD>T<HHMMSS>.json,
// spec.md §4.6/§6.8. Failures here are logged and otherwise ignored;
// this is a diagnostic sink, never a state source.
func (r *Reader) mirrorJSON(m models.CloudMap) {
	now := time.Now().UTC()
	dir := filepath.Join(r.sampleRoot, "CloudAge", "Y"+now.Format("2006"), "CA"+now.Format("20060102"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		r.log.Warn(obslog.Reducer, "mkdir CloudAge dir: %v", err)
		return
	}
	name := fmt.Sprintf("CA%sT%s.json", now.Format("20060102"), now.Format("150405"))
	path := filepath.Join(dir, name)
	b, err := json.Marshal(m)
	if err != nil {
		r.log.Warn(obslog.Reducer, "marshal cloud map: %v", err)
		return
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		r.log.Warn(obslog.Reducer, "write CloudAge mirror: %v", err)
	}
}
