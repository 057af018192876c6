// Package envmonitor drives the nightly twilight lifecycle of the
// night-only sensors, the noon disk housekeeper, and the focus-control
// command-ingress endpoint of spec.md §4.8.
package envmonitor

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sys/unix"

	"github.com/salmingo/wemon-public/internal/config"
	"github.com/salmingo/wemon-public/internal/focus"
	"github.com/salmingo/wemon-public/internal/history"
	"github.com/salmingo/wemon-public/internal/obslog"
	"github.com/salmingo/wemon-public/internal/solar"
	"github.com/salmingo/wemon-public/internal/transport"
)

// NightRunner is anything the monitor starts at sunset and cancels at
// sunrise: the SQM poller and the camera pipeline both satisfy this.
type NightRunner interface {
	Run(ctx context.Context) error
}

// FocusDispatcher is the camera pipeline's inbound side of the §6.3
// protocol.
type FocusDispatcher interface {
	HandleFocusMessage(m focus.Message)
}

// Monitor owns the twilight schedule, the noon housekeeper, and the
// command UDP endpoint. NewSQM/NewCamera are factories rather than
// live instances because each night's components are torn down at
// sunrise and rebuilt fresh at the next sunset.
type Monitor struct {
	cfg  config.EnvMonitorConfig
	site config.Site
	loc  *time.Location

	rawImageRoot string
	rawPrefix    string
	minDiskFree  float64

	log     *obslog.Logger
	history *history.Store

	NewSQM    func() NightRunner
	NewCamera func() (NightRunner, FocusDispatcher)

	cmdSock *transport.Datagram

	mu       sync.Mutex
	night    bool
	cancel   context.CancelFunc
	pipeline FocusDispatcher
}

func New(cfg config.EnvMonitorConfig, site config.Site, loc *time.Location, rawImageRoot, rawPrefix, cmdListenAddr string, log *obslog.Logger, store *history.Store) (*Monitor, error) {
	m := &Monitor{
		cfg:          cfg,
		site:         site,
		loc:          loc,
		rawImageRoot: rawImageRoot,
		rawPrefix:    rawPrefix,
		minDiskFree:  cfg.MinDiskFreeGB,
		log:          log,
		history:      store,
	}
	if cmdListenAddr != "" {
		sock, err := transport.Listen(cmdListenAddr, nil)
		if err != nil {
			return nil, fmt.Errorf("envmonitor: command endpoint: %w", err)
		}
		sock.OnReceive = m.handleCommand
		m.cmdSock = sock
	}
	return m, nil
}

// Run starts the cron schedule and blocks until ctx is cancelled:
// twilight re-evaluation every minute and the noon disk housekeeper
// once a day (spec.md §4.8, wall-clock-anchored per SPEC_FULL.md §5).
func (m *Monitor) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(m.loc))
	if _, err := c.AddFunc("* * * * *", m.tickTwilight); err != nil {
		return fmt.Errorf("envmonitor: schedule twilight tick: %w", err)
	}
	housekeepSpec := fmt.Sprintf("0 %d * * *", m.cfg.HousekeepAtLocalHour)
	if _, err := c.AddFunc(housekeepSpec, m.runHousekeeper); err != nil {
		return fmt.Errorf("envmonitor: schedule housekeeper: %w", err)
	}

	m.tickTwilight() // establish tonight's state immediately, don't wait for the next minute mark
	c.Start()
	defer c.Stop()

	<-ctx.Done()
	// Shutdown order per spec.md §5: command endpoint first, then the
	// night components it dispatches to.
	if m.cmdSock != nil {
		m.cmdSock.Close()
	}
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()
	return nil
}

func (m *Monitor) tickTwilight() {
	now := time.Now().In(m.loc)
	win := solar.Compute(now, m.site.Latitude, m.site.Longitude, m.cfg.TwilightElevDeg, m.loc)
	shouldBeNight := win.Contains(now) == solar.Night

	m.mu.Lock()
	defer m.mu.Unlock()
	if shouldBeNight == m.night {
		return
	}
	m.night = shouldBeNight

	if shouldBeNight {
		m.log.Info(obslog.System, "twilight: entering NIGHT (sunset %s)", win.SunsetLocal.Format("15:04:05"))
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel

		if m.NewSQM != nil {
			sqmRunner := m.NewSQM()
			go func() {
				if err := sqmRunner.Run(ctx); err != nil {
					m.log.Error(obslog.SQM, "night run exited: %v", err)
				}
			}()
		}
		if m.NewCamera != nil {
			cam, dispatcher := m.NewCamera()
			m.pipeline = dispatcher
			go func() {
				if err := cam.Run(ctx); err != nil {
					m.log.Error(obslog.Camera, "night run exited: %v", err)
				}
			}()
		}
	} else {
		m.log.Info(obslog.System, "twilight: entering DAY (sunrise %s)", win.SunriseLocal.Format("15:04:05"))
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		m.pipeline = nil
	}
}

func (m *Monitor) handleCommand(data []byte, from *net.UDPAddr) {
	msg, ok := focus.Decode(data)
	if !ok {
		return
	}
	m.mu.Lock()
	p := m.pipeline
	m.mu.Unlock()
	if p == nil {
		m.log.Warn(obslog.Focus, "focus command %s received with no active camera pipeline", msg.String())
		return
	}
	p.HandleFocusMessage(msg)
}

// runHousekeeper reclaims the oldest prefix-matching sibling
// directories under the raw-image root while free space stays below
// minDiskFree (spec.md §4.8 line 108).
func (m *Monitor) runHousekeeper() {
	before, err := freeGB(m.rawImageRoot)
	if err != nil {
		m.log.Error(obslog.System, "housekeeper: statfs %s: %v", m.rawImageRoot, err)
		return
	}

	dirs, err := siblingDirsOldestFirst(m.rawImageRoot, m.rawPrefix)
	if err != nil {
		m.log.Error(obslog.System, "housekeeper: list %s: %v", m.rawImageRoot, err)
		return
	}

	free := before
	var reclaimed int
	var bytesFreed int64
	for free < m.minDiskFree && len(dirs) > 0 {
		victim := dirs[0]
		dirs = dirs[1:]
		size, _ := dirSize(victim)
		if err := os.RemoveAll(victim); err != nil {
			m.log.Error(obslog.System, "housekeeper: remove %s: %v", victim, err)
			continue
		}
		reclaimed++
		bytesFreed += size
		m.log.Info(obslog.System, "housekeeper: reclaimed %s (%d bytes)", victim, size)
		free, err = freeGB(m.rawImageRoot)
		if err != nil {
			break
		}
	}

	after, err := freeGB(m.rawImageRoot)
	if err != nil {
		after = free
	}
	if m.history != nil {
		run := history.HousekeepingRun{
			RanAt:         time.Now(),
			DirsReclaimed: reclaimed,
			BytesFreed:    bytesFreed,
			FreeBeforeGB:  before,
			FreeAfterGB:   after,
		}
		if err := m.history.RecordHousekeeping(run); err != nil {
			m.log.Warn(obslog.System, "housekeeper: record run: %v", err)
		}
	}
}

func siblingDirsOldestFirst(root, prefix string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	type dirInfo struct {
		path    string
		modTime time.Time
	}
	var dirs []dirInfo
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, dirInfo{path: filepath.Join(root, e.Name()), modTime: info.ModTime()})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].modTime.Before(dirs[j].modTime) })
	out := make([]string, len(dirs))
	for i, d := range dirs {
		out[i] = d.path
	}
	return out, nil
}

func freeGB(path string) (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	bytesFree := float64(st.Bavail) * float64(st.Bsize)
	return bytesFree / (1 << 30), nil
}

func dirSize(path string) (int64, error) {
	var total int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
