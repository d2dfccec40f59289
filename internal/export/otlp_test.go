package export

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HerbHall/hostvantage/internal/config"
	"github.com/HerbHall/hostvantage/internal/envctx"
	"github.com/HerbHall/hostvantage/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	colmetricpb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	metricpb "go.opentelemetry.io/proto/otlp/metrics/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// fakeMetricsClient records export requests and fails the first failures
// calls.
type fakeMetricsClient struct {
	requests []*colmetricpb.ExportMetricsServiceRequest
	failures int
	calls    int
}

func (f *fakeMetricsClient) Export(_ context.Context, req *colmetricpb.ExportMetricsServiceRequest, _ ...grpc.CallOption) (*colmetricpb.ExportMetricsServiceResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("endpoint unavailable")
	}
	f.requests = append(f.requests, req)
	return &colmetricpb.ExportMetricsServiceResponse{}, nil
}

var _ colmetricpb.MetricsServiceClient = (*fakeMetricsClient)(nil)

func otlpSettings(batchSize, maxRetries int) config.OTLPSettings {
	return config.OTLPSettings{
		Endpoint:     "localhost:4317",
		BatchSize:    batchSize,
		FlushTimeout: 5 * time.Second,
		Timeout:      time.Second,
		MaxRetries:   maxRetries,
		Insecure:     true,
	}
}

func otlpTestExporter(client colmetricpb.MetricsServiceClient, batchSize, maxRetries int) *OTLPExporter {
	env := &envctx.Context{
		Kind:       envctx.Container,
		HostName:   "web1",
		InstanceID: "8b6f0d3e-0000-5000-8000-000000000000",
	}
	e := newOTLPExporter(client, otlpSettings(batchSize, maxRetries), env, zap.NewNop())
	e.backoff = time.Millisecond
	return e
}

func pushSnapshot(n int) *metrics.Snapshot {
	snap := &metrics.Snapshot{Timestamp: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	states := []string{"used", "free", "cached", "buffered", "shared"}
	for i := 0; i < n; i++ {
		snap.Samples = append(snap.Samples, metrics.Sample{
			Name:   "system.memory.usage",
			Value:  float64(i + 1),
			Kind:   metrics.Gauge,
			Labels: map[string]string{"state": states[i%len(states)], "host_name": "web1"},
			Unit:   "bytes",
		})
	}
	return snap
}

// Five samples with a batch size of two must go out as exactly three
// requests of 2, 2, and 1 samples.
func TestOTLPExport_Batching(t *testing.T) {
	client := &fakeMetricsClient{}
	e := otlpTestExporter(client, 2, 0)

	err := e.Export(context.Background(), pushSnapshot(5))
	require.NoError(t, err)
	require.Len(t, client.requests, 3)

	sizes := make([]int, 0, len(client.requests))
	for _, req := range client.requests {
		points := 0
		for _, m := range req.ResourceMetrics[0].ScopeMetrics[0].Metrics {
			points += len(m.GetGauge().GetDataPoints())
		}
		sizes = append(sizes, points)
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestOTLPExport_RetryThenSuccess(t *testing.T) {
	client := &fakeMetricsClient{failures: 2}
	e := otlpTestExporter(client, 100, 3)

	err := e.Export(context.Background(), pushSnapshot(3))
	require.NoError(t, err)
	assert.Equal(t, 3, client.calls, "two failed attempts plus one success")
	require.Len(t, client.requests, 1)
}

func TestOTLPExport_ExhaustedRetries(t *testing.T) {
	client := &fakeMetricsClient{failures: 100}
	e := otlpTestExporter(client, 100, 2)

	err := e.Export(context.Background(), pushSnapshot(1))
	require.Error(t, err)

	var exportErr *Error
	require.ErrorAs(t, err, &exportErr)
	assert.Equal(t, "otlp", exportErr.Channel)
	assert.Equal(t, 3, client.calls, "initial attempt plus two retries")
}

func TestOTLPExport_EmptySnapshotSendsNothing(t *testing.T) {
	client := &fakeMetricsClient{}
	e := otlpTestExporter(client, 100, 0)

	err := e.Export(context.Background(), &metrics.Snapshot{Timestamp: time.Now()})
	require.NoError(t, err)
	assert.Zero(t, client.calls)
}

func TestOTLPExport_ResourceAttributesAndStrippedLabels(t *testing.T) {
	client := &fakeMetricsClient{}
	e := otlpTestExporter(client, 100, 0)

	snap := &metrics.Snapshot{
		Timestamp: time.Now(),
		Samples: []metrics.Sample{{
			Name: "system.memory.usage",
			Kind: metrics.Gauge,
			Labels: map[string]string{
				"state":     "used",
				"host_name": "web1",
				"instance":  "web1:ct101",
			},
		}},
	}
	require.NoError(t, e.Export(context.Background(), snap))
	require.Len(t, client.requests, 1)

	rm := client.requests[0].ResourceMetrics[0]

	resourceKeys := make(map[string]string)
	for _, attr := range rm.Resource.Attributes {
		resourceKeys[attr.Key] = attr.Value.GetStringValue()
	}
	assert.Equal(t, "hostvantage", resourceKeys["service.name"])
	assert.Equal(t, "web1", resourceKeys["host.name"])
	assert.Equal(t, "container", resourceKeys["hostvantage.env"])

	points := rm.ScopeMetrics[0].Metrics[0].GetGauge().GetDataPoints()
	require.Len(t, points, 1)
	require.Len(t, points[0].Attributes, 1, "environment labels belong on the resource, not the point")
	assert.Equal(t, "state", points[0].Attributes[0].Key)
	assert.Equal(t, "used", points[0].Attributes[0].Value.GetStringValue())
}

func TestOTLPExport_CounterBecomesMonotonicSum(t *testing.T) {
	client := &fakeMetricsClient{}
	e := otlpTestExporter(client, 100, 0)

	snap := &metrics.Snapshot{
		Timestamp: time.Now(),
		Samples: []metrics.Sample{{
			Name:  "system.network.io",
			Value: 1000,
			Kind:  metrics.Counter,
			Labels: map[string]string{
				"device": "eth0", "direction": "receive",
			},
		}},
	}
	require.NoError(t, e.Export(context.Background(), snap))
	require.Len(t, client.requests, 1)

	m := client.requests[0].ResourceMetrics[0].ScopeMetrics[0].Metrics[0]
	sum := m.GetSum()
	require.NotNil(t, sum, "counter samples must convert to a Sum")
	assert.True(t, sum.IsMonotonic)
	assert.Equal(t, metricpb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE, sum.AggregationTemporality)
}

// The flush timeout bounds the whole snapshot's export, cutting the
// retry loop short well before the retry budget is spent.
func TestOTLPExport_FlushTimeoutBoundsRetries(t *testing.T) {
	client := &fakeMetricsClient{failures: 100}
	e := otlpTestExporter(client, 100, 50)
	e.flushTimeout = 10 * time.Millisecond
	e.backoff = 20 * time.Millisecond

	start := time.Now()
	err := e.Export(context.Background(), pushSnapshot(1))
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.LessOrEqual(t, client.calls, 2, "flush deadline must stop the retry loop")
}

func TestOTLPExport_CancelledContextStopsRetrying(t *testing.T) {
	client := &fakeMetricsClient{failures: 100}
	e := otlpTestExporter(client, 100, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Export(ctx, pushSnapshot(1))
	require.Error(t, err)
	assert.LessOrEqual(t, client.calls, 2, "cancelled context must cut retries short")
}
