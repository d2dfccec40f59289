package collector

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/HerbHall/hostvantage/internal/envctx"
	"github.com/HerbHall/hostvantage/internal/metrics"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

func init() {
	register("smart", func(opts Options) Collector {
		return &smartCollector{
			logger:  opts.Logger,
			devices: opts.SMART.Devices,
			query: func(ctx context.Context, device string) ([]byte, error) {
				// smartctl exits non-zero for some benign conditions;
				// the JSON document is still usable when present.
				out, err := exec.CommandContext(ctx, "smartctl", "--json=c", "-iHA", device).Output()
				if len(out) > 0 {
					return out, nil
				}
				return out, err
			},
		}
	})
}

// smartCollector samples disk health attributes from smartctl JSON
// output for the configured devices. Only applicable when smartctl was
// found at startup.
type smartCollector struct {
	logger  *zap.Logger
	devices []string
	query   func(ctx context.Context, device string) ([]byte, error)
}

func (c *smartCollector) Name() string { return "smart" }

func (c *smartCollector) IsApplicable(env *envctx.Context) bool {
	return env.Has(envctx.CapSMART) && len(c.devices) > 0
}

func (c *smartCollector) Collect(ctx context.Context, _ *envctx.Context) ([]metrics.Sample, error) {
	var samples []metrics.Sample
	var lastErr error
	for _, device := range c.devices {
		out, err := c.query(ctx, device)
		if err != nil {
			c.logger.Warn("smartctl query failed",
				zap.String("device", device), zap.Error(err))
			lastErr = fmt.Errorf("smartctl %s: %w", device, err)
			continue
		}
		samples = append(samples, c.parse(device, out)...)
	}
	if len(samples) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return samples, nil
}

func (c *smartCollector) parse(device string, out []byte) []metrics.Sample {
	doc := string(out)
	if !gjson.Valid(doc) {
		c.logger.Warn("smartctl returned invalid JSON", zap.String("device", device))
		return nil
	}
	labels := map[string]string{"device": device}
	var samples []metrics.Sample

	if passed := gjson.Get(doc, "smart_status.passed"); passed.Exists() {
		healthy := 0.0
		if passed.Bool() {
			healthy = 1.0
		}
		samples = append(samples, metrics.Sample{
			Name:   "system.smart.healthy",
			Value:  healthy,
			Kind:   metrics.Gauge,
			Labels: labels,
			Unit:   "bool",
			Help:   "1 when the device reports a passing SMART status, 0 otherwise.",
		})
	}

	if temp := gjson.Get(doc, "temperature.current"); temp.Exists() {
		samples = append(samples, metrics.Sample{
			Name:   "system.smart.temperature",
			Value:  temp.Float(),
			Kind:   metrics.Gauge,
			Labels: labels,
			Unit:   "celsius",
			Help:   "Device temperature in degrees Celsius.",
		})
	}

	if hours := gjson.Get(doc, "power_on_time.hours"); hours.Exists() {
		samples = append(samples, metrics.Sample{
			Name:   "system.smart.power_on_time",
			Value:  hours.Float() * 3600,
			Kind:   metrics.Counter,
			Labels: labels,
			Unit:   "seconds",
			Help:   "Cumulative powered-on time in seconds.",
		})
	}

	// NVMe wear indicator; absent on SATA devices.
	if used := gjson.Get(doc, "nvme_smart_health_information_log.percentage_used"); used.Exists() {
		samples = append(samples, metrics.Sample{
			Name:   "system.smart.wear",
			Value:  used.Float() / 100.0,
			Kind:   metrics.Gauge,
			Labels: labels,
			Unit:   "ratio",
			Help:   "Fraction of rated device endurance consumed.",
		})
	}
	return samples
}
