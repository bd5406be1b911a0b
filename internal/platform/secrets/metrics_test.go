package secrets

import (
	"context"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type latencySample struct {
	value float64
	attrs attribute.Set
}

type recordingMeter struct {
	noop.Meter

	mu        sync.Mutex
	latencies []latencySample
	cacheHits int64
}

func (m *recordingMeter) Float64Histogram(string, ...metric.Float64HistogramOption) (metric.Float64Histogram, error) {
	return recordingHistogram{meter: m}, nil
}

func (m *recordingMeter) Int64Counter(string, ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	return recordingCounter{meter: m}, nil
}

type recordingHistogram struct {
	noop.Float64Histogram
	meter *recordingMeter
}

func (h recordingHistogram) Record(_ context.Context, value float64, opts ...metric.RecordOption) {
	cfg := metric.NewRecordConfig(opts)
	h.meter.mu.Lock()
	defer h.meter.mu.Unlock()
	h.meter.latencies = append(h.meter.latencies, latencySample{value: value, attrs: cfg.Attributes()})
}

type recordingCounter struct {
	noop.Int64Counter
	meter *recordingMeter
}

func (c recordingCounter) Add(_ context.Context, incr int64, _ ...metric.AddOption) {
	c.meter.mu.Lock()
	defer c.meter.mu.Unlock()
	c.meter.cacheHits += incr
}

func TestResolveRecordsLatencyAndCacheHits(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/test/secrets/renderer_token/versions/latest"] = "remote-secret"
	meter := &recordingMeter{}

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("test"), WithMeter(meter))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := fetcher.Resolve(ctx, "sm://renderer_token"); err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
	}

	meter.mu.Lock()
	defer meter.mu.Unlock()
	if len(meter.latencies) != 1 {
		t.Fatalf("expected one remote latency sample, got %d", len(meter.latencies))
	}
	source, ok := meter.latencies[0].attrs.Value("source")
	if !ok || source.AsString() != sourceSecretManager {
		t.Fatalf("expected secret manager source attribute, got %v", meter.latencies[0].attrs)
	}
	if failed, _ := meter.latencies[0].attrs.Value("error"); failed.AsBool() {
		t.Fatalf("expected successful fetch to be recorded without error")
	}
	if meter.cacheHits != 2 {
		t.Fatalf("expected 2 cache hits, got %d", meter.cacheHits)
	}
}
