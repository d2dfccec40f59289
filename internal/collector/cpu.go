package collector

import (
	"context"
	"fmt"

	"github.com/HerbHall/hostvantage/internal/envctx"
	"github.com/HerbHall/hostvantage/internal/metrics"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"go.uber.org/zap"
)

func init() {
	register("cpu", func(opts Options) Collector {
		return &cpuCollector{
			logger:  opts.Logger,
			times:   cpu.TimesWithContext,
			counts:  cpu.CountsWithContext,
			loadAvg: load.AvgWithContext,
		}
	})
}

// cpuCollector samples cumulative CPU time by state, logical CPU count,
// load averages, and a between-cycles utilization ratio.
type cpuCollector struct {
	logger  *zap.Logger
	times   func(ctx context.Context, percpu bool) ([]cpu.TimesStat, error)
	counts  func(ctx context.Context, logical bool) (int, error)
	loadAvg func(ctx context.Context) (*load.AvgStat, error)

	// prevBusy/prevTotal hold the previous cycle's cumulative CPU time
	// for utilization computation. Exclusively owned by this instance;
	// cycles never run concurrently.
	prevBusy  float64
	prevTotal float64
	hasPrev   bool
}

func (c *cpuCollector) Name() string { return "cpu" }

func (c *cpuCollector) IsApplicable(*envctx.Context) bool { return true }

func (c *cpuCollector) Collect(ctx context.Context, _ *envctx.Context) ([]metrics.Sample, error) {
	stats, err := c.times(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("read cpu times: %w", err)
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("no aggregate cpu times reported")
	}
	t := stats[0]

	const timeHelp = "Cumulative CPU time in seconds by state."
	timeSample := func(state string, seconds float64) metrics.Sample {
		return metrics.Sample{
			Name:   "system.cpu.time",
			Value:  seconds,
			Kind:   metrics.Counter,
			Labels: map[string]string{"state": state},
			Unit:   "seconds",
			Help:   timeHelp,
		}
	}
	samples := []metrics.Sample{
		timeSample("user", t.User),
		timeSample("system", t.System),
		timeSample("idle", t.Idle),
		timeSample("iowait", t.Iowait),
	}

	busy := t.User + t.System + t.Nice + t.Irq + t.Softirq + t.Steal
	total := busy + t.Idle + t.Iowait
	if c.hasPrev && total > c.prevTotal {
		samples = append(samples, metrics.Sample{
			Name:  "system.cpu.utilization",
			Value: (busy - c.prevBusy) / (total - c.prevTotal),
			Kind:  metrics.Gauge,
			Unit:  "ratio",
			Help:  "Fraction of CPU time spent non-idle since the previous cycle.",
		})
	}
	c.prevBusy, c.prevTotal, c.hasPrev = busy, total, true

	if n, err := c.counts(ctx, true); err == nil {
		samples = append(samples, metrics.Sample{
			Name:  "system.cpu.logical.count",
			Value: float64(n),
			Kind:  metrics.Gauge,
			Unit:  "count",
			Help:  "Number of logical CPUs.",
		})
	} else {
		c.logger.Debug("cpu count read failed", zap.Error(err))
	}

	if avg, err := c.loadAvg(ctx); err == nil {
		loadSample := func(window string, value float64) metrics.Sample {
			return metrics.Sample{
				Name:  "system.cpu.load_average." + window,
				Value: value,
				Kind:  metrics.Gauge,
				Unit:  "count",
				Help:  "System load average over " + window + ".",
			}
		}
		samples = append(samples,
			loadSample("1m", avg.Load1),
			loadSample("5m", avg.Load5),
			loadSample("15m", avg.Load15),
		)
	} else {
		c.logger.Debug("load average read failed", zap.Error(err))
	}

	return samples, nil
}
