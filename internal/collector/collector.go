// Package collector feeds raw foreground observations from a pluggable
// source into the reconciliation engine on a polling cadence.
package collector

import (
	"context"
	"log/slog"
	"time"

	"github.com/shuifeng1988/OffTimes-sub002/internal/usage"
)

// Observation is one raw (package, start, end) interval as reported by the
// platform's usage collector. Intervals may arrive late, duplicated,
// overlapping or chopped into small chunks; the engine sorts that out.
type Observation struct {
	PackageName string `json:"package"`
	StartTime   int64  `json:"start"`
	EndTime     int64  `json:"end"`
}

// Source delivers batches of raw observations. Poll may return the same
// observation more than once across calls; delivery order is not
// guaranteed to be chronological.
type Source interface {
	Poll(ctx context.Context) ([]Observation, error)
}

// Collector runs the polling loop between a Source and the engine.
type Collector struct {
	source   Source
	engine   *usage.Engine
	interval time.Duration
	logger   *slog.Logger
}

// New creates a Collector.
func New(source Source, engine *usage.Engine, interval time.Duration, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		source:   source,
		engine:   engine,
		interval: interval,
		logger:   logger,
	}
}

// Run polls immediately, then at the configured interval until the context
// is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Info("Collector started", "interval", c.interval)
	defer c.logger.Info("Collector stopped")

	c.poll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.poll(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// poll performs one poll cycle. Source errors are logged, never fatal: the
// next tick retries, and the engine's duplicate handling makes redelivery
// of previously seen intervals safe.
func (c *Collector) poll(ctx context.Context) {
	observations, err := c.source.Poll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.Error("Failed to poll observation source", "error", err)
		return
	}
	if len(observations) == 0 {
		return
	}

	for _, obs := range observations {
		c.engine.Reconcile(obs.PackageName, obs.StartTime, obs.EndTime)
	}
	c.logger.Debug("Poll complete", "observations", len(observations))
}
