package collector

import (
	"context"
	"errors"
	"testing"

	"github.com/HerbHall/hostvantage/internal/envctx"
	"github.com/HerbHall/hostvantage/internal/metrics"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"go.uber.org/zap"
)

func testCPUCollector(times cpu.TimesStat) *cpuCollector {
	return &cpuCollector{
		logger: zap.NewNop(),
		times: func(context.Context, bool) ([]cpu.TimesStat, error) {
			return []cpu.TimesStat{times}, nil
		},
		counts: func(context.Context, bool) (int, error) { return 8, nil },
		loadAvg: func(context.Context) (*load.AvgStat, error) {
			return &load.AvgStat{Load1: 0.5, Load5: 0.4, Load15: 0.3}, nil
		},
	}
}

func TestCPUCollect_TimeCounters(t *testing.T) {
	c := testCPUCollector(cpu.TimesStat{User: 100, System: 50, Idle: 800, Iowait: 10})

	samples, err := c.Collect(context.Background(), &envctx.Context{})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	user := findSample(t, samples, "system.cpu.time", map[string]string{"state": "user"})
	if user.Value != 100 {
		t.Errorf("user time = %v, want 100", user.Value)
	}
	if user.Kind != metrics.Counter {
		t.Errorf("user kind = %v, want Counter", user.Kind)
	}

	count := findSample(t, samples, "system.cpu.logical.count", nil)
	if count.Value != 8 {
		t.Errorf("logical count = %v, want 8", count.Value)
	}

	load1 := findSample(t, samples, "system.cpu.load_average.1m", nil)
	if load1.Value != 0.5 {
		t.Errorf("load1 = %v, want 0.5", load1.Value)
	}
}

// Utilization needs a previous cycle to delta against, so it appears
// from the second collect onward.
func TestCPUCollect_UtilizationNeedsTwoCycles(t *testing.T) {
	c := testCPUCollector(cpu.TimesStat{User: 100, System: 50, Idle: 800, Iowait: 10})

	first, err := c.Collect(context.Background(), &envctx.Context{})
	if err != nil {
		t.Fatalf("first Collect() error = %v", err)
	}
	for _, s := range first {
		if s.Name == "system.cpu.utilization" {
			t.Fatal("utilization should be absent on the first cycle")
		}
	}

	// Second cycle: 30s of busy and 70s of idle elapsed.
	c.times = func(context.Context, bool) ([]cpu.TimesStat, error) {
		return []cpu.TimesStat{{User: 120, System: 60, Idle: 870, Iowait: 10}}, nil
	}
	second, err := c.Collect(context.Background(), &envctx.Context{})
	if err != nil {
		t.Fatalf("second Collect() error = %v", err)
	}

	util := findSample(t, second, "system.cpu.utilization", nil)
	if got, want := util.Value, 0.3; got < want-1e-9 || got > want+1e-9 {
		t.Errorf("utilization = %v, want %v", got, want)
	}
}

func TestCPUCollect_DegradesWithoutLoadAndCount(t *testing.T) {
	c := testCPUCollector(cpu.TimesStat{User: 1, Idle: 9})
	c.counts = func(context.Context, bool) (int, error) { return 0, errors.New("unsupported") }
	c.loadAvg = func(context.Context) (*load.AvgStat, error) { return nil, errors.New("unsupported") }

	samples, err := c.Collect(context.Background(), &envctx.Context{})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	// user, system, idle, iowait counters only.
	if len(samples) != 4 {
		t.Errorf("len(samples) = %d, want 4", len(samples))
	}
}

func TestCPUCollect_TimesFailure(t *testing.T) {
	c := testCPUCollector(cpu.TimesStat{})
	c.times = func(context.Context, bool) ([]cpu.TimesStat, error) {
		return nil, errors.New("stat unreadable")
	}

	if _, err := c.Collect(context.Background(), &envctx.Context{}); err == nil {
		t.Fatal("expected error when cpu times read fails")
	}
}
