package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordChunk(t *testing.T) {
	m := DefaultMetrics
	total := testutil.ToFloat64(m.ChunksTotal)
	empty := testutil.ToFloat64(m.EmptyDeltas)

	m.RecordChunk(false)
	m.RecordChunk(true)

	if got := testutil.ToFloat64(m.ChunksTotal) - total; got != 2 {
		t.Errorf("expected 2 chunks, got %v", got)
	}
	if got := testutil.ToFloat64(m.EmptyDeltas) - empty; got != 1 {
		t.Errorf("expected 1 empty delta, got %v", got)
	}
}

func TestRecordConversationLifecycle(t *testing.T) {
	m := DefaultMetrics
	active := testutil.ToFloat64(m.ConversationsActive)

	m.RecordConversationStart()
	if got := testutil.ToFloat64(m.ConversationsActive) - active; got != 1 {
		t.Errorf("expected active +1, got %v", got)
	}
	m.RecordConversationEnd("idle")
	if got := testutil.ToFloat64(m.ConversationsActive); got != active {
		t.Errorf("expected active back to %v, got %v", active, got)
	}
	if got := testutil.ToFloat64(m.ConversationsEnded.WithLabelValues("idle")); got < 1 {
		t.Errorf("expected idle end recorded, got %v", got)
	}
}

func TestRecordCaptureCompleted_Mode(t *testing.T) {
	m := DefaultMetrics
	before := testutil.ToFloat64(m.CapturesCompleted.WithLabelValues("one_shot"))

	m.RecordCaptureCompleted(true, 0)

	if got := testutil.ToFloat64(m.CapturesCompleted.WithLabelValues("one_shot")) - before; got != 1 {
		t.Errorf("expected one_shot +1, got %v", got)
	}
}

func TestRecordKafkaPublish_Error(t *testing.T) {
	m := DefaultMetrics
	before := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("t", "e"))

	m.RecordKafkaPublish("t", "e", nil, 0.01)
	m.RecordKafkaPublish("t", "e", errors.New("broker down"), 0.01)

	if got := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("t", "e")) - before; got != 1 {
		t.Errorf("expected 1 publish error, got %v", got)
	}
}
