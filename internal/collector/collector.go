// Package collector holds the pluggable metric sources. Each family
// lives in its own file and registers a builder at its definition site;
// the composition root instantiates only the configured ones.
package collector

import (
	"context"
	"fmt"
	"sort"

	"github.com/HerbHall/hostvantage/internal/config"
	"github.com/HerbHall/hostvantage/internal/envctx"
	"github.com/HerbHall/hostvantage/internal/metrics"
	"go.uber.org/zap"
)

// Collector is a single metric family's sampling unit.
type Collector interface {
	// Name returns the stable identifier used for configuration and
	// failure attribution.
	Name() string

	// IsApplicable reports whether the collector can run in the given
	// environment. A collector is never invoked when this is false.
	IsApplicable(env *envctx.Context) bool

	// Collect reads the family's current state and returns its samples.
	// Collectors may read files and subprocess output but must not
	// mutate anything outside their own instance.
	Collect(ctx context.Context, env *envctx.Context) ([]metrics.Sample, error)
}

// Options carries the dependencies a builder may need.
type Options struct {
	Logger *zap.Logger
	Memory config.MemorySettings
	SMART  config.SMARTSettings
}

// Builder constructs a collector instance from options.
type Builder func(opts Options) Collector

var builders = make(map[string]Builder)

// register adds a builder to the table. Called from init() at each
// collector's definition site; duplicate names are a programming error.
func register(name string, b Builder) {
	if _, exists := builders[name]; exists {
		panic(fmt.Sprintf("collector: duplicate builder %q", name))
	}
	builders[name] = b
}

// Lookup returns the builder for the named collector.
func Lookup(name string) (Builder, bool) {
	b, ok := builders[name]
	return b, ok
}

// Names returns all registered collector names, sorted.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
