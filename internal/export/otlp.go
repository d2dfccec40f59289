package export

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"time"

	"github.com/HerbHall/hostvantage/internal/config"
	"github.com/HerbHall/hostvantage/internal/envctx"
	"github.com/HerbHall/hostvantage/internal/metrics"
	"github.com/HerbHall/hostvantage/internal/telemetry"
	"github.com/HerbHall/hostvantage/internal/version"
	colmetricpb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricpb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// resourceLabelKeys are the environment default labels lifted off the
// individual datapoints and onto the OTLP resource instead.
var resourceLabelKeys = map[string]bool{
	"host_name":    true,
	"instance":     true,
	"container_id": true,
}

const (
	backoffBase = 500 * time.Millisecond
	backoffMax  = 8 * time.Second
)

// OTLPExporter pushes snapshots to an OTLP/gRPC metrics endpoint over a
// persistent connection, batching samples and retrying each batch with
// bounded exponential backoff. Batches that exhaust their retries are
// dropped, not re-queued; the failure surfaces through the scheduler's
// export-health state.
type OTLPExporter struct {
	logger       *zap.Logger
	client       colmetricpb.MetricsServiceClient
	conn         *grpc.ClientConn
	resource     *resourcepb.Resource
	batchSize    int
	rpcTimeout   time.Duration
	flushTimeout time.Duration
	maxRetries   int
	backoff      time.Duration
}

// Compile-time guard.
var _ Exporter = (*OTLPExporter)(nil)

// NewOTLPExporter dials the configured endpoint and returns the push
// exporter. The connection is lazy; dialing errors surface on the
// first export.
func NewOTLPExporter(cfg config.OTLPSettings, env *envctx.Context, logger *zap.Logger) (*OTLPExporter, error) {
	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(cfg.Endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dial otlp endpoint %q: %w", cfg.Endpoint, err)
	}

	e := newOTLPExporter(colmetricpb.NewMetricsServiceClient(conn), cfg, env, logger)
	e.conn = conn
	return e, nil
}

// newOTLPExporter wires an exporter onto an existing client. Split out
// so tests can substitute the transport.
func newOTLPExporter(client colmetricpb.MetricsServiceClient, cfg config.OTLPSettings, env *envctx.Context, logger *zap.Logger) *OTLPExporter {
	return &OTLPExporter{
		logger:       logger,
		client:       client,
		resource:     buildResource(env),
		batchSize:    cfg.BatchSize,
		rpcTimeout:   cfg.Timeout,
		flushTimeout: cfg.FlushTimeout,
		maxRetries:   cfg.MaxRetries,
		backoff:      backoffBase,
	}
}

func (e *OTLPExporter) Name() string { return "otlp" }

// Export converts the snapshot into OTLP metric points and transmits
// them in batches of at most batchSize samples. Each batch is sent,
// acknowledged, and retried independently; the whole snapshot must
// flush within flushTimeout so a slow endpoint cannot starve later
// cycles.
func (e *OTLPExporter) Export(ctx context.Context, snapshot *metrics.Snapshot) error {
	samples := snapshot.Samples
	if len(samples) == 0 {
		return nil
	}

	if e.flushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.flushTimeout)
		defer cancel()
	}

	var firstErr error
	for start := 0; start < len(samples); start += e.batchSize {
		end := start + e.batchSize
		if end > len(samples) {
			end = len(samples)
		}
		batch := samples[start:end]

		req := &colmetricpb.ExportMetricsServiceRequest{
			ResourceMetrics: []*metricpb.ResourceMetrics{
				{
					Resource: e.resource,
					ScopeMetrics: []*metricpb.ScopeMetrics{
						{
							Scope: &commonpb.InstrumentationScope{
								Name:    "hostvantage",
								Version: version.Short(),
							},
							Metrics: convertBatch(batch, snapshot.Timestamp),
						},
					},
				},
			},
		}

		if err := e.sendWithRetry(ctx, req); err != nil {
			telemetry.ExportFailures.WithLabelValues(e.Name()).Inc()
			e.logger.Error("otlp batch dropped after retries",
				zap.Int("batch_samples", len(batch)),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		return &Error{Channel: e.Name(), Err: firstErr}
	}
	return nil
}

// sendWithRetry transmits one batch, retrying with exponential backoff
// up to maxRetries additional attempts.
func (e *OTLPExporter) sendWithRetry(ctx context.Context, req *colmetricpb.ExportMetricsServiceRequest) error {
	delay := e.backoff
	var lastErr error

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			telemetry.ExportRetries.Inc()
			select {
			case <-ctx.Done():
				return fmt.Errorf("export cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
			if delay > backoffMax {
				delay = backoffMax
			}
		}

		rpcCtx, cancel := context.WithTimeout(ctx, e.rpcTimeout)
		_, err := e.client.Export(rpcCtx, req)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		e.logger.Warn("otlp export attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return fmt.Errorf("after %d attempts: %w", e.maxRetries+1, lastErr)
}

// Close tears down the gRPC connection.
func (e *OTLPExporter) Close() error {
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

// convertBatch turns samples into OTLP metric entries, grouping data
// points under one metric per name in first-appearance order.
func convertBatch(batch []metrics.Sample, ts time.Time) []*metricpb.Metric {
	nanos := uint64(ts.UnixNano())
	byName := make(map[string]*metricpb.Metric)
	var order []string

	for _, s := range batch {
		point := &metricpb.NumberDataPoint{
			Attributes:   pointAttributes(s.Labels),
			TimeUnixNano: nanos,
			Value:        &metricpb.NumberDataPoint_AsDouble{AsDouble: s.Value},
		}

		m, ok := byName[s.Name]
		if !ok {
			m = &metricpb.Metric{
				Name:        s.Name,
				Description: s.Help,
				Unit:        s.Unit,
			}
			if s.Kind == metrics.Counter {
				m.Data = &metricpb.Metric_Sum{Sum: &metricpb.Sum{
					AggregationTemporality: metricpb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE,
					IsMonotonic:            true,
				}}
			} else {
				m.Data = &metricpb.Metric_Gauge{Gauge: &metricpb.Gauge{}}
			}
			byName[s.Name] = m
			order = append(order, s.Name)
		}

		switch data := m.Data.(type) {
		case *metricpb.Metric_Sum:
			data.Sum.DataPoints = append(data.Sum.DataPoints, point)
		case *metricpb.Metric_Gauge:
			data.Gauge.DataPoints = append(data.Gauge.DataPoints, point)
		}
	}

	result := make([]*metricpb.Metric, 0, len(order))
	for _, name := range order {
		result = append(result, byName[name])
	}
	return result
}

// pointAttributes converts sample labels into OTLP attributes, minus
// the environment labels carried on the resource.
func pointAttributes(labels map[string]string) []*commonpb.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		if resourceLabelKeys[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]*commonpb.KeyValue, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, stringAttribute(k, labels[k]))
	}
	return attrs
}

func buildResource(env *envctx.Context) *resourcepb.Resource {
	attrs := env.ResourceAttributes()
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	resource := &resourcepb.Resource{}
	resource.Attributes = append(resource.Attributes,
		stringAttribute("service.name", "hostvantage"))
	for _, k := range keys {
		resource.Attributes = append(resource.Attributes, stringAttribute(k, attrs[k]))
	}
	return resource
}

func stringAttribute(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}},
	}
}
