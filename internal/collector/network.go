package collector

import (
	"context"
	"fmt"

	"github.com/HerbHall/hostvantage/internal/envctx"
	"github.com/HerbHall/hostvantage/internal/metrics"
	"github.com/shirou/gopsutil/v4/net"
	"go.uber.org/zap"
)

func init() {
	register("network", func(opts Options) Collector {
		return &networkCollector{
			logger:     opts.Logger,
			ioCounters: net.IOCountersWithContext,
		}
	})
}

// networkCollector samples per-interface traffic counters.
type networkCollector struct {
	logger     *zap.Logger
	ioCounters func(ctx context.Context, pernic bool) ([]net.IOCountersStat, error)
}

func (c *networkCollector) Name() string { return "network" }

func (c *networkCollector) IsApplicable(*envctx.Context) bool { return true }

func (c *networkCollector) Collect(ctx context.Context, _ *envctx.Context) ([]metrics.Sample, error) {
	counters, err := c.ioCounters(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("read interface counters: %w", err)
	}

	var samples []metrics.Sample
	for _, nic := range counters {
		if nic.Name == "lo" {
			continue
		}
		dir := func(direction string) map[string]string {
			return map[string]string{"device": nic.Name, "direction": direction}
		}
		samples = append(samples,
			metrics.Sample{
				Name:   "system.network.io",
				Value:  float64(nic.BytesRecv),
				Kind:   metrics.Counter,
				Labels: dir("receive"),
				Unit:   "bytes",
				Help:   "Cumulative network traffic in bytes.",
			},
			metrics.Sample{
				Name:   "system.network.io",
				Value:  float64(nic.BytesSent),
				Kind:   metrics.Counter,
				Labels: dir("transmit"),
				Unit:   "bytes",
				Help:   "Cumulative network traffic in bytes.",
			},
			metrics.Sample{
				Name:   "system.network.packets",
				Value:  float64(nic.PacketsRecv),
				Kind:   metrics.Counter,
				Labels: dir("receive"),
				Unit:   "count",
				Help:   "Cumulative network packets.",
			},
			metrics.Sample{
				Name:   "system.network.packets",
				Value:  float64(nic.PacketsSent),
				Kind:   metrics.Counter,
				Labels: dir("transmit"),
				Unit:   "count",
				Help:   "Cumulative network packets.",
			},
			metrics.Sample{
				Name:   "system.network.errors",
				Value:  float64(nic.Errin),
				Kind:   metrics.Counter,
				Labels: dir("receive"),
				Unit:   "count",
				Help:   "Cumulative network errors.",
			},
			metrics.Sample{
				Name:   "system.network.errors",
				Value:  float64(nic.Errout),
				Kind:   metrics.Counter,
				Labels: dir("transmit"),
				Unit:   "count",
				Help:   "Cumulative network errors.",
			},
		)
	}
	return samples, nil
}
