package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.RecordCycle("ok", 0.2)
	r.RecordCycle("ok", 0.3)
	r.RecordCycle("error", 0.1)
	r.RecordFired("ABOVE")
	r.RecordQuoteMissing("XXXX3")
	r.RecordAlarmsEvaluated(7)
	r.RecordLastPrice("PETR4", 36.5)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.cycles.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cycles.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fired.WithLabelValues("ABOVE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.quotesMissing.WithLabelValues("XXXX3")))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.alarmsEvaluated))
	assert.Equal(t, 36.5, testutil.ToFloat64(r.lastPrice.WithLabelValues("PETR4")))
}

func TestNew_IsShared(t *testing.T) {
	assert.Same(t, New(), New())
}
