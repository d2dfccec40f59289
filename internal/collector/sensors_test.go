package collector

import (
	"context"
	"errors"
	"testing"

	"github.com/HerbHall/hostvantage/internal/envctx"
	"github.com/shirou/gopsutil/v4/sensors"
	"go.uber.org/zap"
)

func testSensorsCollector(readings []sensors.TemperatureStat, err error) *sensorsCollector {
	return &sensorsCollector{
		logger: zap.NewNop(),
		temperatures: func(context.Context) ([]sensors.TemperatureStat, error) {
			return readings, err
		},
	}
}

func TestSensorsCollect_Temperatures(t *testing.T) {
	c := testSensorsCollector([]sensors.TemperatureStat{
		{SensorKey: "coretemp_core_0", Temperature: 42.5},
		{SensorKey: "nvme_composite", Temperature: 38.0},
	}, nil)

	samples, err := c.Collect(context.Background(), &envctx.Context{})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("len(samples) = %d, want 2", len(samples))
	}

	core := findSample(t, samples, "system.sensors.temperature",
		map[string]string{"sensor": "coretemp_core_0"})
	if core.Value != 42.5 {
		t.Errorf("core temperature = %v, want 42.5", core.Value)
	}
	if core.Unit != "celsius" {
		t.Errorf("unit = %q, want celsius", core.Unit)
	}
}

func TestSensorsCollect_DeduplicatesSensorKeys(t *testing.T) {
	c := testSensorsCollector([]sensors.TemperatureStat{
		{SensorKey: "acpitz", Temperature: 40},
		{SensorKey: "acpitz", Temperature: 41},
		{SensorKey: "", Temperature: 50},
	}, nil)

	samples, err := c.Collect(context.Background(), &envctx.Context{})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("len(samples) = %d, want 1 (duplicate and unnamed keys dropped)", len(samples))
	}
	if samples[0].Value != 40 {
		t.Errorf("value = %v, want 40 (first reading wins)", samples[0].Value)
	}
}

func TestSensorsCollect_Failure(t *testing.T) {
	c := testSensorsCollector(nil, errors.New("hwmon unreadable"))

	if _, err := c.Collect(context.Background(), &envctx.Context{}); err == nil {
		t.Fatal("expected error when temperature read fails")
	}
}
