package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	alarmsEvaluated prometheus.Gauge
	fired          *prometheus.CounterVec
	quotesMissing  *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	latency        *prometheus.HistogramVec
}

var (
	defaultOnce     sync.Once
	defaultRecorder *Recorder
)

// New returns the process-wide recorder registered on the default registry.
// Collectors can only be registered once, so repeated calls share one instance.
func New() *Recorder {
	defaultOnce.Do(func() {
		defaultRecorder = NewWithRegistry(prometheus.DefaultRegisterer)
	})
	return defaultRecorder
}

// NewWithRegistry creates a recorder on the given registerer. Tests pass a
// fresh prometheus.NewRegistry().
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricealarm_cycles_total",
				Help: "Total number of check cycles by result",
			},
			[]string{"result"},
		),
		cycleDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pricealarm_cycle_duration_seconds",
				Help:    "Duration of a full check cycle in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		alarmsEvaluated: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricealarm_alarms_evaluated",
				Help: "Number of alarms evaluated in the last cycle",
			},
		),
		fired: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricealarm_alarms_fired_total",
				Help: "Total number of alarms whose condition held",
			},
			[]string{"direction"},
		),
		quotesMissing: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricealarm_quotes_missing_total",
				Help: "Alarms skipped because the quote source returned no price",
			},
			[]string{"ticker"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricealarm_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pricealarm_last_price",
				Help: "Last observed price for a ticker",
			},
			[]string{"ticker"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricealarm_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordCycle counts a finished cycle and observes its duration.
func (r *Recorder) RecordCycle(result string, seconds float64) {
	r.cycles.WithLabelValues(result).Inc()
	r.cycleDuration.Observe(seconds)
}

func (r *Recorder) RecordAlarmsEvaluated(n int) {
	r.alarmsEvaluated.Set(float64(n))
}

func (r *Recorder) RecordFired(direction string) {
	r.fired.WithLabelValues(direction).Inc()
}

func (r *Recorder) RecordQuoteMissing(ticker string) {
	r.quotesMissing.WithLabelValues(ticker).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a ticker.
func (r *Recorder) RecordLastPrice(ticker string, price float64) {
	r.lastPrice.WithLabelValues(ticker).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
