package observe

import (
	"context"
	"testing"

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

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordFrame_CountsByResult(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrame(ctx, true)
	m.RecordFrame(ctx, true)
	m.RecordFrame(ctx, false)

	rm := collect(t, reader)
	md := findMetric(rm, "tacet.frames.processed")
	if md == nil {
		t.Fatal("metric tacet.frames.processed not found")
	}
	sum, ok := md.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", md.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("total frames = %d, want 3", total)
	}
	if len(sum.DataPoints) != 2 {
		t.Errorf("expected 2 attribute sets (voice, silence), got %d", len(sum.DataPoints))
	}
}

func TestRecordSegment_RecordsCountAndDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSegment(ctx, 1.2)
	m.RecordSegment(ctx, 0.4)

	rm := collect(t, reader)

	segs := findMetric(rm, "tacet.speech.segments")
	if segs == nil {
		t.Fatal("metric tacet.speech.segments not found")
	}
	sum, ok := segs.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", segs.Data)
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 2 {
		t.Errorf("segment count = %+v, want single data point of 2", sum.DataPoints)
	}

	dur := findMetric(rm, "tacet.segment.duration")
	if dur == nil {
		t.Fatal("metric tacet.segment.duration not found")
	}
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", dur.Data)
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("expected 1 histogram data point, got %d", len(hist.DataPoints))
	}
	if hist.DataPoints[0].Count != 2 {
		t.Errorf("histogram count = %d, want 2", hist.DataPoints[0].Count)
	}
	if got := hist.DataPoints[0].Sum; got != 1.6 {
		t.Errorf("histogram sum = %v, want 1.6", got)
	}
}

func TestRecordCalibration_TracksOutcome(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCalibration(ctx, "completed", 2.0)
	m.RecordCalibration(ctx, "timeout", 3.0)

	rm := collect(t, reader)
	md := findMetric(rm, "tacet.calibrations")
	if md == nil {
		t.Fatal("metric tacet.calibrations not found")
	}
	sum, ok := md.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", md.Data)
	}
	if len(sum.DataPoints) != 2 {
		t.Errorf("expected 2 outcome attribute sets, got %d", len(sum.DataPoints))
	}
}

func TestRecordThreshold_KeepsLatestPerSource(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordThreshold(ctx, "calibration", 0.004)
	m.RecordThreshold(ctx, "calibration", 0.006)
	m.RecordThreshold(ctx, "manual", 0.01)

	rm := collect(t, reader)
	md := findMetric(rm, "tacet.threshold")
	if md == nil {
		t.Fatal("metric tacet.threshold not found")
	}
	g, ok := md.Data.(metricdata.Gauge[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", md.Data)
	}
	if len(g.DataPoints) != 2 {
		t.Fatalf("expected 2 source attribute sets, got %d", len(g.DataPoints))
	}
	for _, dp := range g.DataPoints {
		if dp.Value != 0.006 && dp.Value != 0.01 {
			t.Errorf("unexpected gauge value %v", dp.Value)
		}
	}
}

func TestActiveSessions_UpDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	md := findMetric(rm, "tacet.active_sessions")
	if md == nil {
		t.Fatal("metric tacet.active_sessions not found")
	}
	sum, ok := md.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", md.Data)
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("active sessions = %+v, want single data point of 1", sum.DataPoints)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics should return the same instance")
	}
}
