// Package diagnostics runs a loopback-bound websocket hub that mirrors
// the JSON-decoded frame behind every telemetry cycle to connected
// observers, for live inspection without a second UDP listener
// (SPEC_FULL.md §4.10, wire frame at §6.9).
package diagnostics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/salmingo/wemon-public/internal/models"
	"github.com/salmingo/wemon-public/internal/obslog"
	"github.com/salmingo/wemon-public/internal/telemetry"
)

// Hub fans out the diagnostics JSON frame to every connected websocket
// client. It never blocks the publish loop: StoreSnapshot drops the
// frame when the hub's shared broadcast queue is full. Run writes each
// frame to the clients one after another, so a slow client delays
// delivery to the others.
type Hub struct {
	log *obslog.Logger

	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func NewHub(log *obslog.Logger) *Hub {
	return &Hub{
		log:        log,
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan []byte, 16),
		clients:    make(map[*websocket.Conn]bool),
	}
}

// Run drives the register/unregister/broadcast loop until stopCh closes.
func (h *Hub) Run(stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			h.mu.Lock()
			for c := range h.clients {
				c.Close()
			}
			h.clients = make(map[*websocket.Conn]bool)
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			h.log.Info(obslog.Network, "diagnostics client connected, total=%d", len(h.clients))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case frame := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
					h.log.Warn(obslog.Network, "diagnostics write failed: %v", err)
					c.Close()
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// diagnosticsFrame is the wire shape of SPEC_FULL.md §6.9: a small,
// explicitly non-normative JSON view of the same logical frame the
// PDXP datagram carries. No consumer may treat it as authoritative.
type diagnosticsFrame struct {
	TS           string               `json:"ts"`
	Weather      models.WeatherSample `json:"weather"`
	SQM          models.SkySample     `json:"sqm"`
	Cloud        models.CloudMap      `json:"cloud"`
	CloudPercent float64              `json:"cloud_percent"`
	PackCount    int                  `json:"pack_count"`
}

// StoreSnapshot implements telemetry.SnapshotSink: it encodes the
// decoded snapshot as the diagnostics JSON frame of §6.9 and hands it
// to the broadcast loop, dropping it rather than blocking the
// publisher if the broadcast queue (16 frames) is full.
func (h *Hub) StoreSnapshot(snap telemetry.Snapshot, packCount int) {
	ts := snap.SnapshotAt
	if ts.IsZero() {
		ts = time.Now()
	}
	frame := diagnosticsFrame{
		TS:           ts.UTC().Format("2006-01-02T15:04:05.000Z"),
		Weather:      snap.Weather,
		SQM:          snap.Sky,
		Cloud:        snap.Cloud,
		CloudPercent: float64(snap.Cloud.CloudPercentTenths()) / 10,
		PackCount:    packCount,
	}
	b, err := json.Marshal(frame)
	if err != nil {
		h.log.Warn(obslog.Network, "diagnostics frame marshal failed: %v", err)
		return
	}
	select {
	case h.broadcast <- b:
	default:
		// hub congested; drop this frame rather than block the publisher
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // loopback-bound; see ListenAndServe caller
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(obslog.Network, "diagnostics upgrade failed: %v", err)
		return
	}
	h.register <- conn

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.unregister <- conn
				return
			}
		}
	}()
}

// ListenAndServe binds addr (expected loopback, e.g. "127.0.0.1:8090")
// and serves the /telemetry websocket endpoint until the process exits
// or the listener errors. Runs in its own goroutine from the caller.
func (h *Hub) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/telemetry", h.HandleWebSocket)
	return http.ListenAndServe(addr, mux)
}
