// Package registry owns the set of enabled collectors and runs them,
// isolating per-collector failures so one broken source degrades a
// cycle instead of aborting it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/hostvantage/internal/collector"
	"github.com/HerbHall/hostvantage/internal/envctx"
	"github.com/HerbHall/hostvantage/internal/metrics"
	"github.com/HerbHall/hostvantage/internal/telemetry"
	"go.uber.org/zap"
)

// Registry holds the enabled collectors in registration order. The set
// is fixed after startup; Collect may be called repeatedly but never
// concurrently (the scheduler serializes cycles).
type Registry struct {
	logger     *zap.Logger
	env        *envctx.Context
	timeout    time.Duration
	collectors []collector.Collector
	names      map[string]bool

	// pending tracks abandoned timed-out runs per collector. A collector
	// is never re-invoked while its previous goroutine is still live:
	// collectors own cross-cycle bookkeeping state exclusively, and two
	// concurrent Collect calls on one instance would race on it.
	pending map[string]chan runResult
}

type runResult struct {
	samples []metrics.Sample
	err     error
}

// New creates an empty registry. timeout bounds each collector's run.
func New(logger *zap.Logger, env *envctx.Context, timeout time.Duration) *Registry {
	return &Registry{
		logger:  logger,
		env:     env,
		timeout: timeout,
		names:   make(map[string]bool),
		pending: make(map[string]chan runResult),
	}
}

// Register adds a collector. Duplicate names are a configuration error.
func (r *Registry) Register(c collector.Collector) error {
	name := c.Name()
	if name == "" {
		return fmt.Errorf("collector has empty name")
	}
	if r.names[name] {
		return fmt.Errorf("collector %q already registered", name)
	}
	r.names[name] = true
	r.collectors = append(r.collectors, c)
	r.logger.Info("collector registered",
		zap.String("name", name),
		zap.Bool("applicable", c.IsApplicable(r.env)),
	)
	return nil
}

// Names returns registered collector names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.collectors))
	for _, c := range r.collectors {
		names = append(names, c.Name())
	}
	return names
}

// Collect runs every registered, applicable collector and assembles
// the cycle's snapshot. A collector failure, timeout, or panic is
// recorded in the snapshot's results and never aborts the remaining
// collectors. Default environment labels are merged into every sample
// with collector labels winning on collision, and duplicate series are
// dropped to preserve the unique-(name, labels) invariant.
func (r *Registry) Collect(ctx context.Context) *metrics.Snapshot {
	snapshot := &metrics.Snapshot{Timestamp: time.Now().UTC()}
	defaults := r.env.DefaultLabels()
	seen := make(map[string]string)

	for _, c := range r.collectors {
		if !c.IsApplicable(r.env) {
			continue
		}
		if !r.drainPending(c.Name()) {
			telemetry.CollectorFailures.WithLabelValues(c.Name(), "overrun").Inc()
			r.logger.Error("collector still running from a previous cycle, skipping",
				zap.String("collector", c.Name()),
			)
			snapshot.Results = append(snapshot.Results, metrics.CollectorResult{
				Collector: c.Name(),
				TimedOut:  true,
				Error:     "previous run still in progress",
			})
			continue
		}

		start := time.Now()
		samples, err := r.runOne(ctx, c)
		result := metrics.CollectorResult{
			Collector: c.Name(),
			Duration:  time.Since(start),
		}

		switch {
		case err == nil:
			result.Success = true
		case errors.Is(err, context.DeadlineExceeded):
			result.TimedOut = true
			result.Error = err.Error()
			telemetry.CollectorFailures.WithLabelValues(c.Name(), "timeout").Inc()
			r.logger.Error("collector timed out",
				zap.String("collector", c.Name()),
				zap.Duration("timeout", r.timeout),
			)
		default:
			result.Error = err.Error()
			telemetry.CollectorFailures.WithLabelValues(c.Name(), "error").Inc()
			r.logger.Error("collector failed",
				zap.String("collector", c.Name()),
				zap.Error(err),
			)
		}

		for _, s := range samples {
			merged := s.WithLabels(defaults)
			key := merged.SeriesKey()
			if owner, dup := seen[key]; dup {
				// Two collectors claiming one series is a wiring
				// mistake; keep the first and flag the config.
				r.logger.Error("duplicate series dropped",
					zap.String("series", key),
					zap.String("kept", owner),
					zap.String("dropped", c.Name()),
				)
				continue
			}
			seen[key] = c.Name()
			snapshot.Samples = append(snapshot.Samples, merged)
			result.Samples++
		}

		snapshot.Results = append(snapshot.Results, result)
	}

	telemetry.SamplesCollected.Set(float64(len(snapshot.Samples)))
	return snapshot
}

// drainPending reports whether the named collector may run. A previous
// timed-out run that has since finished is discarded and cleared; one
// that is still live blocks this cycle's invocation.
func (r *Registry) drainPending(name string) bool {
	ch, ok := r.pending[name]
	if !ok {
		return true
	}
	select {
	case <-ch:
		delete(r.pending, name)
		return true
	default:
		return false
	}
}

// runOne executes a single collector under the registry timeout,
// converting panics into errors so one misbehaving source cannot take
// down the agent.
func (r *Registry) runOne(ctx context.Context, c collector.Collector) (samples []metrics.Sample, err error) {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan runResult, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- runResult{err: fmt.Errorf("collector panic: %v", rec)}
			}
		}()
		s, err := c.Collect(runCtx, r.env)
		done <- runResult{samples: s, err: err}
	}()

	select {
	case out := <-done:
		return out.samples, out.err
	case <-runCtx.Done():
		// The goroutine is abandoned but may still be running; remember
		// it so the collector is not re-invoked until it exits. Its late
		// result is discarded when the channel drains.
		r.pending[c.Name()] = done
		return nil, fmt.Errorf("collect %s: %w", c.Name(), runCtx.Err())
	}
}
