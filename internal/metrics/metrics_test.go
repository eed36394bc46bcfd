package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStreamGauges(t *testing.T) {
	m := New(nil)

	m.StreamUp(StreamMessages)
	m.StreamUp(StreamMessages)
	m.StreamDown(StreamMessages)

	if got := testutil.ToFloat64(m.StreamSetups.WithLabelValues(StreamMessages)); got != 2 {
		t.Fatalf("setups = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.StreamTeardowns.WithLabelValues(StreamMessages)); got != 1 {
		t.Fatalf("teardowns = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StreamsActive.WithLabelValues(StreamMessages)); got != 1 {
		t.Fatalf("active = %v, want 1", got)
	}
}

func TestReadMarkResults(t *testing.T) {
	m := New(nil)
	m.ReadMark(nil)
	m.ReadMark(nil)
	m.ReadMark(errors.New("boom"))

	if got := testutil.ToFloat64(m.ReadMarks.WithLabelValues("ok")); got != 2 {
		t.Fatalf("ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ReadMarks.WithLabelValues("error")); got != 1 {
		t.Fatalf("error = %v, want 1", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.StreamUp(StreamUnread)
	m.StreamDown(StreamUnread)
	m.Fallback(StreamMessages)
	m.StreamError(StreamMessages)
	m.Sent()
	m.SendFailed()
	m.PartialFailure(StageNotification)
	m.ReadMark(nil)
	m.ConversationCreated()
	m.Duplicates(2)
	m.NotificationRead()
	m.NoticeDropped()
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Sent()

	count, err := testutil.GatherAndCount(reg, "courier_messages_sent_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 1 {
		t.Fatalf("series = %d, want 1", count)
	}
}
