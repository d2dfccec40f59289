package collector

import (
	"context"
	"fmt"

	"github.com/HerbHall/hostvantage/internal/envctx"
	"github.com/HerbHall/hostvantage/internal/metrics"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

func init() {
	register("process", func(opts Options) Collector {
		return &processCollector{
			logger: opts.Logger,
			pids:   process.PidsWithContext,
		}
	})
}

// processCollector samples the number of live processes.
type processCollector struct {
	logger *zap.Logger
	pids   func(ctx context.Context) ([]int32, error)
}

func (c *processCollector) Name() string { return "process" }

func (c *processCollector) IsApplicable(*envctx.Context) bool { return true }

func (c *processCollector) Collect(ctx context.Context, _ *envctx.Context) ([]metrics.Sample, error) {
	pids, err := c.pids(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pids: %w", err)
	}
	return []metrics.Sample{
		{
			Name:  "system.process.count",
			Value: float64(len(pids)),
			Kind:  metrics.Gauge,
			Unit:  "count",
			Help:  "Number of live processes.",
		},
	}, nil
}
