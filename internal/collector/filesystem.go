package collector

import (
	"context"
	"fmt"

	"github.com/HerbHall/hostvantage/internal/envctx"
	"github.com/HerbHall/hostvantage/internal/metrics"
	"github.com/shirou/gopsutil/v4/disk"
	"go.uber.org/zap"
)

func init() {
	register("filesystem", func(opts Options) Collector {
		return &filesystemCollector{
			logger:     opts.Logger,
			partitions: disk.PartitionsWithContext,
			usage:      disk.UsageWithContext,
		}
	})
}

// filesystemCollector samples size and usage for every mounted
// physical filesystem.
type filesystemCollector struct {
	logger     *zap.Logger
	partitions func(ctx context.Context, all bool) ([]disk.PartitionStat, error)
	usage      func(ctx context.Context, path string) (*disk.UsageStat, error)
}

func (c *filesystemCollector) Name() string { return "filesystem" }

func (c *filesystemCollector) IsApplicable(*envctx.Context) bool { return true }

func (c *filesystemCollector) Collect(ctx context.Context, _ *envctx.Context) ([]metrics.Sample, error) {
	parts, err := c.partitions(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	var samples []metrics.Sample
	seen := make(map[string]bool, len(parts))
	for _, part := range parts {
		// A device can appear under several mountpoints (bind mounts);
		// report each device once.
		if seen[part.Device] {
			continue
		}
		seen[part.Device] = true

		u, err := c.usage(ctx, part.Mountpoint)
		if err != nil {
			c.logger.Debug("filesystem usage read failed",
				zap.String("mountpoint", part.Mountpoint), zap.Error(err))
			continue
		}
		if u.Total == 0 {
			continue
		}

		labels := map[string]string{
			"device":     part.Device,
			"fstype":     part.Fstype,
			"mountpoint": part.Mountpoint,
		}
		samples = append(samples,
			metrics.Sample{
				Name:   "system.filesystem.size",
				Value:  float64(u.Total),
				Kind:   metrics.Gauge,
				Labels: labels,
				Unit:   "bytes",
				Help:   "Filesystem capacity in bytes.",
			},
			metrics.Sample{
				Name:   "system.filesystem.usage",
				Value:  float64(u.Used),
				Kind:   metrics.Gauge,
				Labels: labels,
				Unit:   "bytes",
				Help:   "Filesystem space in use in bytes.",
			},
			metrics.Sample{
				Name:   "system.filesystem.utilization",
				Value:  float64(u.Used) / float64(u.Total),
				Kind:   metrics.Gauge,
				Labels: labels,
				Unit:   "ratio",
				Help:   "Fraction of filesystem capacity in use.",
			},
		)
	}
	return samples, nil
}
