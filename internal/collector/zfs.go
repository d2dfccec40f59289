package collector

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/HerbHall/hostvantage/internal/envctx"
	"github.com/HerbHall/hostvantage/internal/metrics"
	"go.uber.org/zap"
)

func init() {
	register("zfs", func(opts Options) Collector {
		return &zfsCollector{
			logger: opts.Logger,
			zpoolList: func(ctx context.Context) ([]byte, error) {
				return exec.CommandContext(ctx, "zpool", "list", "-Hp",
					"-o", "name,size,alloc,free,health").Output()
			},
		}
	})
}

// zfsCollector samples per-pool capacity and health from zpool output.
// Only applicable when the zfs capability was detected at startup.
type zfsCollector struct {
	logger    *zap.Logger
	zpoolList func(ctx context.Context) ([]byte, error)
}

func (c *zfsCollector) Name() string { return "zfs" }

func (c *zfsCollector) IsApplicable(env *envctx.Context) bool {
	return env.Has(envctx.CapZFS)
}

func (c *zfsCollector) Collect(ctx context.Context, _ *envctx.Context) ([]metrics.Sample, error) {
	out, err := c.zpoolList(ctx)
	if err != nil {
		return nil, fmt.Errorf("zpool list: %w", err)
	}

	var samples []metrics.Sample
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			c.logger.Debug("skipping malformed zpool line", zap.String("line", line))
			continue
		}
		pool := fields[0]
		labels := map[string]string{"pool": pool}

		byteSample := func(name, raw, help string) (metrics.Sample, bool) {
			v, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				c.logger.Debug("unparseable zpool value",
					zap.String("pool", pool), zap.String("value", raw))
				return metrics.Sample{}, false
			}
			return metrics.Sample{
				Name:   name,
				Value:  float64(v),
				Kind:   metrics.Gauge,
				Labels: labels,
				Unit:   "bytes",
				Help:   help,
			}, true
		}

		if s, ok := byteSample("system.zfs.pool.size", fields[1], "ZFS pool capacity in bytes."); ok {
			samples = append(samples, s)
		}
		if s, ok := byteSample("system.zfs.pool.allocated", fields[2], "ZFS pool space allocated in bytes."); ok {
			samples = append(samples, s)
		}
		if s, ok := byteSample("system.zfs.pool.free", fields[3], "ZFS pool space free in bytes."); ok {
			samples = append(samples, s)
		}

		healthy := 0.0
		if fields[4] == "ONLINE" {
			healthy = 1.0
		}
		samples = append(samples, metrics.Sample{
			Name:   "system.zfs.pool.health",
			Value:  healthy,
			Kind:   metrics.Gauge,
			Labels: labels,
			Unit:   "bool",
			Help:   "1 when the ZFS pool state is ONLINE, 0 otherwise.",
		})
	}
	return samples, nil
}
