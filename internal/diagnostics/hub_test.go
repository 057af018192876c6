package diagnostics

import (
	"testing"
	"time"

	"github.com/salmingo/wemon-public/internal/obslog"
	"github.com/salmingo/wemon-public/internal/telemetry"
)

func TestStoreSnapshotDoesNotBlockWhenCongested(t *testing.T) {
	cfg := obslog.DefaultConfig(t.TempDir())
	cfg.ConsoleOutput = false
	logger, err := obslog.New(cfg)
	if err != nil {
		t.Fatalf("obslog.New: %v", err)
	}
	defer logger.Close()

	h := NewHub(logger)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			h.StoreSnapshot(telemetry.Snapshot{}, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StoreSnapshot blocked with no consumer draining the hub")
	}
}
