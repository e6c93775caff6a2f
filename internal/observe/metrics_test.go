package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// counterValue returns the value of the data point whose attribute key has the
// given string value, or -1 when no such point exists.
func counterValue(met *metricdata.Metrics, key, value string) int64 {
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		return -1
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	return -1
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"intent.classification.duration", m.ClassificationDuration},
		{"intent.vote.duration", m.VoteDuration},
		{"intent.embedding.duration", m.EmbeddingDuration},
		{"intent.tool_execution.duration", m.ToolExecutionDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestClassificationCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordClassification(ctx, "encender_luz", 0)
	m.RecordClassification(ctx, "encender_luz", 0)
	m.RecordClassification(ctx, "ayuda", 5)

	rm := collect(t, reader)
	met := findMetric(rm, "intent.classifications")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got := counterValue(met, "intent", "encender_luz"); got != 2 {
		t.Errorf("encender_luz count = %d, want 2", got)
	}
	if got := counterValue(met, "fallback_level", "5"); got != 1 {
		t.Errorf("fallback level 5 count = %d, want 1", got)
	}
}

func TestVoteAndConsensusCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordVote(ctx, "expert-general", "success")
	m.RecordVote(ctx, "expert-critic", "timeout")
	m.RecordConsensus(ctx, "majority")

	rm := collect(t, reader)

	votes := findMetric(rm, "intent.votes")
	if votes == nil {
		t.Fatal("votes metric not found")
	}
	if got := counterValue(votes, "status", "timeout"); got != 1 {
		t.Errorf("timeout votes = %d, want 1", got)
	}

	cons := findMetric(rm, "intent.consensus.rounds")
	if cons == nil {
		t.Fatal("consensus metric not found")
	}
	if got := counterValue(cons, "agreement", "majority"); got != 1 {
		t.Errorf("majority consensus = %d, want 1", got)
	}
}

func TestSubtaskCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSubtask(ctx, "smarthome_light_on", "completed")
	m.RecordSubtask(ctx, "smarthome_light_on", "failed")

	rm := collect(t, reader)
	met := findMetric(rm, "intent.subtasks")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got := counterValue(met, "status", "completed"); got != 1 {
		t.Errorf("completed subtasks = %d, want 1", got)
	}
}

func TestProviderCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderError(ctx, "openai", "embeddings")

	rm := collect(t, reader)

	reqs := findMetric(rm, "intent.provider.requests")
	if reqs == nil {
		t.Fatal("requests metric not found")
	}
	if got := counterValue(reqs, "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}

	errs := findMetric(rm, "intent.provider.errors")
	if errs == nil {
		t.Fatal("errors metric not found")
	}
	if got := counterValue(errs, "kind", "embeddings"); got != 1 {
		t.Errorf("embedding errors = %d, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 3)
	m.ActiveSessions.Add(ctx, -1)
	m.RunningExecutions.Add(ctx, 2)

	rm := collect(t, reader)

	gauges := []struct {
		name string
		want int64
	}{
		{"intent.active_sessions", 2},
		{"intent.running_executions", 2},
	}

	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("gauge value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
