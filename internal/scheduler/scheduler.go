// Package scheduler drives the collect-and-export cycle on a fixed
// interval, publishes the latest snapshot for readers, and serializes
// manual triggers against the ticker so no two cycles ever overlap.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/HerbHall/hostvantage/internal/export"
	"github.com/HerbHall/hostvantage/internal/metrics"
	"github.com/HerbHall/hostvantage/internal/registry"
	"github.com/HerbHall/hostvantage/internal/telemetry"
	"go.uber.org/zap"
)

// Status is the immutable published view of the most recent cycle.
// A fresh value is swapped in after every cycle; readers never observe
// partial updates.
type Status struct {
	// Snapshot is the most recent collection result, nil before the
	// first cycle completes.
	Snapshot *metrics.Snapshot

	// LastCycle is when the most recent cycle finished.
	LastCycle time.Time

	// LastExportSuccess is when an export last succeeded.
	LastExportSuccess time.Time

	// ExportHealthy is false after the export channel last failed.
	ExportHealthy bool

	// LastExportError holds the most recent export failure message.
	LastExportError string

	// ConsecutiveFailures counts back-to-back failed cycles per
	// collector; zero entries are omitted.
	ConsecutiveFailures map[string]int
}

// Scheduler runs the cycle loop. All cycles, scheduled or manually
// triggered, execute on the single Run goroutine.
type Scheduler struct {
	logger   *zap.Logger
	reg      *registry.Registry
	exporter export.Exporter
	interval time.Duration

	trigger chan triggerRequest
	status  atomic.Pointer[Status]
}

type triggerRequest struct {
	reply chan triggerReply
}

type triggerReply struct {
	snapshot *metrics.Snapshot
	err      error
}

// New creates a scheduler over the registry and the single configured
// exporter.
func New(reg *registry.Registry, exporter export.Exporter, interval time.Duration, logger *zap.Logger) *Scheduler {
	s := &Scheduler{
		logger:   logger,
		reg:      reg,
		exporter: exporter,
		interval: interval,
		trigger:  make(chan triggerRequest),
	}
	s.status.Store(&Status{ExportHealthy: true})
	return s
}

// Status returns the most recently published cycle state.
func (s *Scheduler) Status() *Status {
	return s.status.Load()
}

// Run executes the cycle loop until the context is cancelled. One cycle
// runs immediately at startup. A cycle that overruns the interval does
// not overlap the next: the ticker simply drops overdue ticks while the
// loop is busy.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting", zap.Duration("interval", s.interval))

	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return nil
		case <-ticker.C:
			s.runCycle(ctx)
		case req := <-s.trigger:
			snapshot, err := s.runCycle(ctx)
			req.reply <- triggerReply{snapshot: snapshot, err: err}
			// A manual cycle restarts the clock for the next tick.
			ticker.Reset(s.interval)
		}
	}
}

// Trigger requests an out-of-band cycle and waits for its result. The
// request is served by the Run goroutine, so it can never race with a
// scheduled cycle; it waits for any in-flight cycle to finish first.
func (s *Scheduler) Trigger(ctx context.Context) (*metrics.Snapshot, error) {
	req := triggerRequest{reply: make(chan triggerReply, 1)}
	select {
	case s.trigger <- req:
	case <-ctx.Done():
		return nil, fmt.Errorf("trigger: %w", ctx.Err())
	}
	select {
	case reply := <-req.reply:
		return reply.snapshot, reply.err
	case <-ctx.Done():
		return nil, fmt.Errorf("trigger: %w", ctx.Err())
	}
}

// runCycle performs one collect+export pass and publishes the new
// status. Export failure degrades the channel's health flag; it never
// terminates the loop.
func (s *Scheduler) runCycle(ctx context.Context) (*metrics.Snapshot, error) {
	start := time.Now()
	snapshot := s.reg.Collect(ctx)
	exportErr := s.exporter.Export(ctx, snapshot)

	telemetry.CycleDuration.Observe(time.Since(start).Seconds())

	prev := s.status.Load()
	next := &Status{
		Snapshot:            snapshot,
		LastCycle:           time.Now().UTC(),
		LastExportSuccess:   prev.LastExportSuccess,
		ExportHealthy:       exportErr == nil,
		ConsecutiveFailures: nextFailureCounts(prev.ConsecutiveFailures, snapshot),
	}

	degraded := false
	for _, r := range snapshot.Results {
		if !r.Success {
			degraded = true
		}
	}

	switch {
	case exportErr != nil:
		next.LastExportError = exportErr.Error()
		telemetry.Cycles.WithLabelValues("export_failed").Inc()
		s.logger.Error("export failed",
			zap.String("channel", s.exporter.Name()),
			zap.Error(exportErr),
		)
	case degraded:
		next.LastExportSuccess = next.LastCycle
		telemetry.Cycles.WithLabelValues("degraded").Inc()
	default:
		next.LastExportSuccess = next.LastCycle
		telemetry.Cycles.WithLabelValues("ok").Inc()
	}

	s.status.Store(next)

	s.logger.Debug("cycle complete",
		zap.Int("samples", len(snapshot.Samples)),
		zap.Duration("duration", time.Since(start)),
		zap.Bool("export_healthy", next.ExportHealthy),
	)
	return snapshot, exportErr
}

// nextFailureCounts advances the per-collector consecutive-failure
// counters: failures increment, successes reset.
func nextFailureCounts(prev map[string]int, snapshot *metrics.Snapshot) map[string]int {
	next := make(map[string]int)
	for _, r := range snapshot.Results {
		if r.Success {
			continue
		}
		next[r.Collector] = prev[r.Collector] + 1
	}
	return next
}
