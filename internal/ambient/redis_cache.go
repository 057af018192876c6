package ambient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/salmingo/wemon-public/internal/obslog"
	"github.com/salmingo/wemon-public/internal/telemetry"
)

// SnapshotCache mirrors the most recent decoded telemetry snapshot into
// Redis under a fixed key, so a dashboard process can read current
// conditions without joining the UDP multicast/mirror path. The
// dependency is declared but unexercised in the teacher's own tree;
// this is the concrete use SPEC_FULL.md gives it.
type SnapshotCache struct {
	client *redis.Client
	key    string
	log    *obslog.Logger
}

func NewSnapshotCache(addr, key string, log *obslog.Logger) *SnapshotCache {
	return &SnapshotCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		key:    key,
		log:    log,
	}
}

// Ping verifies connectivity at startup; a failure here is logged, not
// fatal. The cache degrades to a no-op sink.
func (c *SnapshotCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ambient: redis ping: %w", err)
	}
	return nil
}

// Store snapshots any JSON-marshalable value under the fixed key, with
// a TTL slightly longer than the telemetry cadence so a stalled
// publisher makes the cached value expire rather than go stale forever.
func (c *SnapshotCache) Store(ctx context.Context, v interface{}, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		c.log.Warn(obslog.Telemetry, "redis snapshot marshal failed: %v", err)
		return
	}
	if err := c.client.Set(ctx, c.key, b, ttl).Err(); err != nil {
		c.log.Warn(obslog.Telemetry, "redis snapshot store failed: %v", err)
	}
}

func (c *SnapshotCache) Close() error { return c.client.Close() }

// cachedSnapshot is the value stored under c.key: the decoded snapshot
// plus the pack_count of the cycle that produced it.
type cachedSnapshot struct {
	telemetry.Snapshot
	PackCount int `json:"pack_count"`
}

// StoreSnapshot implements telemetry.SnapshotSink with a fixed 30s TTL,
// generous relative to the publisher's minimum 10s cadence.
func (c *SnapshotCache) StoreSnapshot(snap telemetry.Snapshot, packCount int) {
	c.Store(context.Background(), cachedSnapshot{Snapshot: snap, PackCount: packCount}, 30*time.Second)
}
