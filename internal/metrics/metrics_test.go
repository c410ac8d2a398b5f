package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fixedQueue struct{ n, c int }

func (q fixedQueue) Len() int { return q.n }
func (q fixedQueue) Cap() int { return q.c }

func TestInboundCounter(t *testing.T) {
	m := New()
	m.Inbound("discord", OutcomeAccepted)
	m.Inbound("discord", OutcomeAccepted)
	m.Inbound("slack", OutcomeRejected)

	if got := testutil.ToFloat64(m.InboundTotal.WithLabelValues("discord", OutcomeAccepted)); got != 2 {
		t.Errorf("discord accepted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.InboundTotal.WithLabelValues("slack", OutcomeRejected)); got != 1 {
		t.Errorf("slack rejected = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Inbound("discord", OutcomeAccepted)
	m.Event("message.received")
}

func TestHandlerExposesQueueGauges(t *testing.T) {
	m := New()
	m.TrackQueue(fixedQueue{n: 3, c: 1000})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{"clawgate_queue_depth 3", "clawgate_queue_capacity 1000"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
