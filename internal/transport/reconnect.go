package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Reconnector wraps an exponential backoff schedule around a connect
// function, used by the weather and SQM pollers' reopen paths so
// repeated failed reconnect attempts space themselves out instead of
// hammering a device that is still down. The schedule is capped at
// maxInterval so a long outage still retries at a bounded cadence.
type Reconnector struct {
	b backoff.BackOff
}

// NewReconnector builds a reconnector with the given base/backoff
// bounds. initial is the first retry delay, maxInterval caps the delay
// exponential backoff grows to.
func NewReconnector(initial, maxInterval time.Duration) *Reconnector {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initial
	eb.MaxInterval = maxInterval
	eb.MaxElapsedTime = 0 // retry forever; the caller's context governs lifetime
	return &Reconnector{b: eb}
}

// Run calls connect until it succeeds or ctx is cancelled, sleeping the
// backoff-scheduled delay between attempts. It returns ctx.Err() if
// cancelled, or nil once connect succeeds.
func (r *Reconnector) Run(ctx context.Context, connect func() error) error {
	r.b.Reset()
	for {
		if err := connect(); err == nil {
			return nil
		}
		d := r.b.NextBackOff()
		if d == backoff.Stop {
			return connect()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}
