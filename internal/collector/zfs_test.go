package collector

import (
	"context"
	"errors"
	"testing"

	"github.com/HerbHall/hostvantage/internal/envctx"
	"go.uber.org/zap"
)

const zpoolFixture = "tank\t1099511627776\t439804651110\t659706976666\tONLINE\n" +
	"backup\t2199023255552\t109951162777\t2089072092775\tDEGRADED\n"

func testZFSCollector(out string, err error) *zfsCollector {
	return &zfsCollector{
		logger: zap.NewNop(),
		zpoolList: func(context.Context) ([]byte, error) {
			return []byte(out), err
		},
	}
}

func TestZFSCollect_PoolCapacityAndHealth(t *testing.T) {
	c := testZFSCollector(zpoolFixture, nil)

	samples, err := c.Collect(context.Background(), &envctx.Context{})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(samples) != 8 {
		t.Fatalf("len(samples) = %d, want 8 (4 per pool)", len(samples))
	}

	size := findSample(t, samples, "system.zfs.pool.size", map[string]string{"pool": "tank"})
	if size.Value != 1099511627776 {
		t.Errorf("tank size = %v, want 1099511627776", size.Value)
	}
	alloc := findSample(t, samples, "system.zfs.pool.allocated", map[string]string{"pool": "tank"})
	if alloc.Value != 439804651110 {
		t.Errorf("tank allocated = %v, want 439804651110", alloc.Value)
	}

	tankHealth := findSample(t, samples, "system.zfs.pool.health", map[string]string{"pool": "tank"})
	if tankHealth.Value != 1 {
		t.Errorf("tank health = %v, want 1 (ONLINE)", tankHealth.Value)
	}
	backupHealth := findSample(t, samples, "system.zfs.pool.health", map[string]string{"pool": "backup"})
	if backupHealth.Value != 0 {
		t.Errorf("backup health = %v, want 0 (DEGRADED)", backupHealth.Value)
	}
}

func TestZFSCollect_SkipsMalformedLines(t *testing.T) {
	c := testZFSCollector("tank\t100\t40\t60\tONLINE\ngarbage line\n", nil)

	samples, err := c.Collect(context.Background(), &envctx.Context{})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(samples) != 4 {
		t.Errorf("len(samples) = %d, want 4 (malformed line skipped)", len(samples))
	}
}

func TestZFSCollect_CommandFailure(t *testing.T) {
	c := testZFSCollector("", errors.New("zpool not responding"))

	if _, err := c.Collect(context.Background(), &envctx.Context{}); err == nil {
		t.Fatal("expected error when zpool list fails")
	}
}

func TestZFSIsApplicable(t *testing.T) {
	c := testZFSCollector("", nil)
	if c.IsApplicable(&envctx.Context{}) {
		t.Error("zfs collector should not be applicable without the zfs capability")
	}
}
