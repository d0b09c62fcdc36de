// Package reaper runs a background sweep converging stream state when a
// transcoder process dies without a matching Stop call: the one genuinely
// open design gap production deployments of this orchestrator must close.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const defaultInterval = 30 * time.Second

// Supervisor is the narrow slice of transcoder.Supervisor the reaper needs.
type Supervisor interface {
	TrackedStreamIDs() []string
	IsActive(streamID string) bool
	Cleanup(streamID string) error
}

// StreamEnder is the narrow slice of streammgr.Manager the reaper needs.
type StreamEnder interface {
	EndStream(ctx context.Context, streamID string) (bool, error)
}

// Config wires a Reaper to its dependencies and sweep interval.
type Config struct {
	Supervisor Supervisor
	Ender      StreamEnder
	Logger     *slog.Logger
	Interval   time.Duration
}

// Reaper periodically probes every locally tracked transcoder process and
// converges stream state when a probe reveals the process has died.
type Reaper struct {
	supervisor Supervisor
	ender      StreamEnder
	logger     *slog.Logger
	interval   time.Duration
}

// New constructs a Reaper. Supervisor and Ender must not be nil.
func New(cfg Config) (*Reaper, error) {
	if cfg.Supervisor == nil {
		return nil, fmt.Errorf("reaper: supervisor is required")
	}
	if cfg.Ender == nil {
		return nil, fmt.Errorf("reaper: ender is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Reaper{supervisor: cfg.Supervisor, ender: cfg.Ender, logger: logger, interval: interval}, nil
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs a single pass over every locally tracked stream.
func (r *Reaper) Sweep(ctx context.Context) {
	for _, streamID := range r.supervisor.TrackedStreamIDs() {
		if r.supervisor.IsActive(streamID) {
			continue
		}
		r.logger.Warn("reaper detected dead transcoder process", "stream_id", streamID)
		if _, err := r.ender.EndStream(ctx, streamID); err != nil {
			r.logger.Error("reaper failed to end stream", "stream_id", streamID, "error", err)
		}
		if err := r.supervisor.Cleanup(streamID); err != nil {
			r.logger.Error("reaper failed to clean up stream directory", "stream_id", streamID, "error", err)
		}
	}
}
