// Package metrics defines the value types that flow through the
// collection pipeline: individual samples, the per-cycle snapshot, and
// per-collector outcome records.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind classifies a sample's value semantics.
type Kind int

const (
	// Gauge is a point-in-time value that may move in either direction.
	Gauge Kind = iota
	// Counter is a cumulative value that never decreases over the
	// process lifetime.
	Counter
)

// String returns the exposition-format type keyword for the kind.
func (k Kind) String() string {
	switch k {
	case Counter:
		return "counter"
	default:
		return "gauge"
	}
}

// Sample is a single measured value produced by a collector. Samples are
// treated as immutable once handed to the registry.
type Sample struct {
	Name   string
	Value  float64
	Kind   Kind
	Labels map[string]string
	Unit   string
	Help   string
}

// SeriesKey returns the canonical identity of the sample's series:
// name plus sorted label pairs. Values are quoted so a value containing
// a separator cannot collide with a different label set. Two samples
// with equal keys within one snapshot violate the duplicate-series
// invariant.
func (s Sample) SeriesKey() string {
	if len(s.Labels) == 0 {
		return s.Name
	}
	keys := make([]string, 0, len(s.Labels))
	for k := range s.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, s.Labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

// WithLabels returns a copy of the sample with defaults merged in.
// Labels already present on the sample win on key collision.
func (s Sample) WithLabels(defaults map[string]string) Sample {
	if len(defaults) == 0 {
		return s
	}
	merged := make(map[string]string, len(defaults)+len(s.Labels))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range s.Labels {
		merged[k] = v
	}
	s.Labels = merged
	return s
}

// CollectorResult records the outcome of one collector's run within a
// single collection cycle.
type CollectorResult struct {
	Collector string        `json:"collector"`
	Success   bool          `json:"success"`
	Samples   int           `json:"samples"`
	Duration  time.Duration `json:"duration_ns"`
	TimedOut  bool          `json:"timed_out,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Snapshot is the complete output of one collection cycle. It is built
// once by the registry, published by the scheduler, and never mutated
// afterwards. Sample order follows collector registration order.
type Snapshot struct {
	Timestamp time.Time
	Samples   []Sample
	Results   []CollectorResult
}

// Result returns the outcome record for the named collector, if present.
func (s *Snapshot) Result(collector string) (CollectorResult, bool) {
	for _, r := range s.Results {
		if r.Collector == collector {
			return r, true
		}
	}
	return CollectorResult{}, false
}
