package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/HerbHall/hostvantage/internal/metrics"
	"github.com/HerbHall/hostvantage/internal/telemetry"
	"go.uber.org/zap"
)

// FileExporter renders snapshots into the Prometheus text exposition
// format and writes them atomically, so an external scraper never
// observes a partially written file. A failed write leaves the previous
// file intact: stale-but-valid beats missing.
type FileExporter struct {
	logger *zap.Logger
	path   string
}

// NewFileExporter creates the exposition-file exporter targeting path.
func NewFileExporter(path string, logger *zap.Logger) *FileExporter {
	return &FileExporter{logger: logger, path: path}
}

// Compile-time guard.
var _ Exporter = (*FileExporter)(nil)

func (e *FileExporter) Name() string { return "file" }

// Export renders the snapshot and replaces the target file via a
// temp-file rename.
func (e *FileExporter) Export(_ context.Context, snapshot *metrics.Snapshot) error {
	doc := Render(snapshot)

	dir := filepath.Dir(e.path)
	tmp, err := os.CreateTemp(dir, ".metrics-*.prom")
	if err != nil {
		telemetry.ExportFailures.WithLabelValues(e.Name()).Inc()
		return &Error{Channel: e.Name(), Err: fmt.Errorf("create temp file: %w", err)}
	}
	tmpPath := tmp.Name()

	cleanup := func(cause error) error {
		tmp.Close()
		os.Remove(tmpPath)
		telemetry.ExportFailures.WithLabelValues(e.Name()).Inc()
		return &Error{Channel: e.Name(), Err: cause}
	}

	if _, err := tmp.Write(doc); err != nil {
		return cleanup(fmt.Errorf("write temp file: %w", err))
	}
	if err := tmp.Chmod(0o644); err != nil {
		return cleanup(fmt.Errorf("chmod temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		telemetry.ExportFailures.WithLabelValues(e.Name()).Inc()
		return &Error{Channel: e.Name(), Err: fmt.Errorf("close temp file: %w", err)}
	}
	if err := os.Rename(tmpPath, e.path); err != nil {
		os.Remove(tmpPath)
		telemetry.ExportFailures.WithLabelValues(e.Name()).Inc()
		return &Error{Channel: e.Name(), Err: fmt.Errorf("rename into place: %w", err)}
	}

	e.logger.Debug("exposition file written",
		zap.String("path", e.path),
		zap.Int("samples", len(snapshot.Samples)),
		zap.Int("bytes", len(doc)),
	)
	return nil
}

func (e *FileExporter) Close() error { return nil }

// Render produces the exposition document for a snapshot. Rendering is
// deterministic: sample order follows the snapshot, label keys are
// sorted, and re-rendering the same snapshot is byte-identical.
func Render(snapshot *metrics.Snapshot) []byte {
	var b strings.Builder
	headerDone := make(map[string]bool)

	for _, s := range snapshot.Samples {
		name := ExpositionName(s.Name)
		if !headerDone[name] {
			headerDone[name] = true
			fmt.Fprintf(&b, "# HELP %s %s\n", name, escapeHelp(s.Help))
			fmt.Fprintf(&b, "# TYPE %s %s\n", name, s.Kind)
		}
		b.WriteString(name)
		writeLabels(&b, s.Labels)
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(s.Value, 'g', -1, 64))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// ExpositionName converts a dotted metric name into the exposition
// format's underscore convention.
func ExpositionName(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

func writeLabels(b *strings.Builder, labels map[string]string) {
	if len(labels) == 0 {
		return
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(escapeLabelValue(labels[k]))
		b.WriteByte('"')
	}
	b.WriteByte('}')
}

// escapeLabelValue applies the exposition format's quoting rules for
// label values: backslash, double quote, and newline.
func escapeLabelValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	return v
}

// escapeHelp applies the exposition format's quoting rules for HELP
// text: backslash and newline only.
func escapeHelp(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	return v
}
