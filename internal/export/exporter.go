// Package export renders or transmits snapshots to the single
// configured sink. Export is the only operation in the pipeline that
// performs network or filesystem writes.
package export

import (
	"context"
	"fmt"

	"github.com/HerbHall/hostvantage/internal/metrics"
)

// Exporter consumes one snapshot per cycle. Implementations are chosen
// once at startup and never swapped mid-run.
type Exporter interface {
	// Name identifies the export channel ("file" or "otlp").
	Name() string

	// Export renders or transmits the snapshot. It must be bounded by
	// the passed context so a hung sink cannot starve later cycles.
	Export(ctx context.Context, snapshot *metrics.Snapshot) error

	// Close releases the channel's resources at shutdown.
	Close() error
}

// Error wraps a transmission or write failure with the channel name.
type Error struct {
	Channel string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("export via %s: %v", e.Channel, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
