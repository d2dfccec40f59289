package collector

import (
	"context"
	"fmt"

	"github.com/HerbHall/hostvantage/internal/envctx"
	"github.com/HerbHall/hostvantage/internal/metrics"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"
)

func init() {
	register("memory", func(opts Options) Collector {
		return &memoryCollector{
			logger:       opts.Logger,
			assumedLimit: opts.Memory.AssumedLimitBytes,
			readVirtual:  mem.VirtualMemoryWithContext,
			readSwap:     mem.SwapMemoryWithContext,
		}
	})
}

// memoryCollector samples physical and swap memory usage.
type memoryCollector struct {
	logger       *zap.Logger
	assumedLimit uint64
	readVirtual  func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	readSwap     func(ctx context.Context) (*mem.SwapMemoryStat, error)
}

func (c *memoryCollector) Name() string { return "memory" }

func (c *memoryCollector) IsApplicable(*envctx.Context) bool { return true }

func (c *memoryCollector) Collect(ctx context.Context, env *envctx.Context) ([]metrics.Sample, error) {
	vm, err := c.readVirtual(ctx)
	if err != nil {
		return nil, fmt.Errorf("read virtual memory: %w", err)
	}

	total := vm.Total
	used := vm.Used
	assumed := false

	// Containers whose cgroup memory limit is unreadable report a zero
	// total. Substitute the configured assumption and say so, rather
	// than silently presenting it as ground truth.
	if total == 0 && env.Kind == envctx.Container && c.assumedLimit > 0 {
		total = c.assumedLimit
		if used > total {
			used = total
		}
		assumed = true
		c.logger.Warn("container memory limit unreadable, using assumed limit",
			zap.Uint64("assumed_limit_bytes", c.assumedLimit))
	}
	if total == 0 {
		return nil, fmt.Errorf("memory total reported as zero")
	}

	usageLabels := func(state string) map[string]string {
		labels := map[string]string{"state": state}
		if assumed {
			labels["limit_assumed"] = "true"
		}
		return labels
	}

	const usageHelp = "Physical memory usage in bytes by state."
	samples := []metrics.Sample{
		{
			Name:   "system.memory.usage",
			Value:  float64(used),
			Kind:   metrics.Gauge,
			Labels: usageLabels("used"),
			Unit:   "bytes",
			Help:   usageHelp,
		},
		{
			Name:   "system.memory.usage",
			Value:  float64(total - used),
			Kind:   metrics.Gauge,
			Labels: usageLabels("free"),
			Unit:   "bytes",
			Help:   usageHelp,
		},
		{
			Name:   "system.memory.utilization",
			Value:  float64(used) / float64(total),
			Kind:   metrics.Gauge,
			Labels: usageLabels("used"),
			Unit:   "ratio",
			Help:   "Fraction of physical memory in use.",
		},
	}

	swap, err := c.readSwap(ctx)
	if err != nil {
		// Swap is optional; degrade to physical memory only.
		c.logger.Debug("swap read failed", zap.Error(err))
		return samples, nil
	}
	if swap.Total > 0 {
		const swapHelp = "Swap usage in bytes by state."
		samples = append(samples,
			metrics.Sample{
				Name:   "system.memory.swap.usage",
				Value:  float64(swap.Used),
				Kind:   metrics.Gauge,
				Labels: map[string]string{"state": "used"},
				Unit:   "bytes",
				Help:   swapHelp,
			},
			metrics.Sample{
				Name:   "system.memory.swap.usage",
				Value:  float64(swap.Free),
				Kind:   metrics.Gauge,
				Labels: map[string]string{"state": "free"},
				Unit:   "bytes",
				Help:   swapHelp,
			},
			metrics.Sample{
				Name:   "system.memory.swap.utilization",
				Value:  float64(swap.Used) / float64(swap.Total),
				Kind:   metrics.Gauge,
				Labels: map[string]string{"state": "used"},
				Unit:   "ratio",
				Help:   "Fraction of swap space in use.",
			},
		)
	}
	return samples, nil
}
