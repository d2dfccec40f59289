package collector

import (
	"context"
	"fmt"

	"github.com/HerbHall/hostvantage/internal/envctx"
	"github.com/HerbHall/hostvantage/internal/metrics"
	"github.com/shirou/gopsutil/v4/sensors"
	"go.uber.org/zap"
)

func init() {
	register("sensors", func(opts Options) Collector {
		return &sensorsCollector{
			logger:       opts.Logger,
			temperatures: sensors.TemperaturesWithContext,
		}
	})
}

// sensorsCollector samples hardware temperature readings. Only
// applicable when the sensors capability was detected at startup.
type sensorsCollector struct {
	logger       *zap.Logger
	temperatures func(ctx context.Context) ([]sensors.TemperatureStat, error)
}

func (c *sensorsCollector) Name() string { return "sensors" }

func (c *sensorsCollector) IsApplicable(env *envctx.Context) bool {
	return env.Has(envctx.CapSensors)
}

func (c *sensorsCollector) Collect(ctx context.Context, _ *envctx.Context) ([]metrics.Sample, error) {
	readings, err := c.temperatures(ctx)
	if err != nil {
		return nil, fmt.Errorf("read temperatures: %w", err)
	}

	var samples []metrics.Sample
	// Some platforms report the same sensor key more than once; keep
	// the first reading to preserve the unique-series invariant.
	seen := make(map[string]bool, len(readings))
	for _, r := range readings {
		if r.SensorKey == "" || seen[r.SensorKey] {
			continue
		}
		seen[r.SensorKey] = true
		samples = append(samples, metrics.Sample{
			Name:   "system.sensors.temperature",
			Value:  r.Temperature,
			Kind:   metrics.Gauge,
			Labels: map[string]string{"sensor": r.SensorKey},
			Unit:   "celsius",
			Help:   "Hardware sensor temperature in degrees Celsius.",
		})
	}
	return samples, nil
}
