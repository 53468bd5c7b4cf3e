package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case m.Counter != nil:
		return m.GetCounter().GetValue()
	case m.Gauge != nil:
		return m.GetGauge().GetValue()
	case m.Histogram != nil:
		return float64(m.GetHistogram().GetSampleCount())
	}
	t.Fatalf("unsupported metric type")
	return 0
}

func TestRecordTransition(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTransition("IDLE", "GREETING", "start")
	m.RecordTransition("GREETING", "LISTENING", "clip_finished")

	if got := value(t, m.TransitionsTotal.WithLabelValues("IDLE", "GREETING", "start")); got != 1 {
		t.Errorf("expected 1 transition, got %v", got)
	}
	if got := value(t, m.CurrentState.WithLabelValues("LISTENING")); got != 1 {
		t.Errorf("expected LISTENING gauge 1, got %v", got)
	}
	if got := value(t, m.CurrentState.WithLabelValues("GREETING")); got != 0 {
		t.Errorf("expected GREETING gauge 0, got %v", got)
	}
}

func TestRecordCrossfade(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordCrossfade("completed", 0.4)
	m.RecordCrossfade("failed", 0)

	if got := value(t, m.CrossfadesTotal.WithLabelValues("completed")); got != 1 {
		t.Errorf("expected 1 completed crossfade, got %v", got)
	}
	if got := value(t, m.CrossfadeDuration); got != 1 {
		t.Errorf("expected 1 duration sample, got %v", got)
	}
}

func TestRecordKafkaPublish(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordKafkaPublish("topic", "state", nil, 0.01)
	m.RecordKafkaPublish("topic", "state", errors.New("broker down"), 0.02)

	if got := value(t, m.KafkaPublishTotal.WithLabelValues("topic", "state")); got != 2 {
		t.Errorf("expected 2 publishes, got %v", got)
	}
	if got := value(t, m.KafkaPublishErrors.WithLabelValues("topic", "state")); got != 1 {
		t.Errorf("expected 1 error, got %v", got)
	}
}

func TestRecordStream(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordStreamStart()
	m.RecordAudioReceived(320)
	m.RecordStreamEnd(true, 1.5)

	if got := value(t, m.StreamsActive); got != 0 {
		t.Errorf("expected no active streams, got %v", got)
	}
	if got := value(t, m.AudioBytesReceived); got != 320 {
		t.Errorf("expected 320 bytes, got %v", got)
	}
	if got := value(t, m.StreamsSuccess); got != 1 {
		t.Errorf("expected 1 successful stream, got %v", got)
	}
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	// Two instances on separate registries must not panic on registration.
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}
