package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
	OutcomeError  = "error"
)

type Metrics struct {
	deliveries *prometheus.CounterVec
	duration   prometheus.Histogram
	duplicates prometheus.Counter
}

// NewMetrics registers the delivery collectors with reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marmot_hook_deliveries_total",
				Help: "Number of notifications handed to the on-message handler, by outcome",
			},
			[]string{"result"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "marmot_hook_delivery_duration_seconds",
				Help:    "Wall time of one handler process",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		duplicates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marmot_hook_duplicates_total",
				Help: "Number of notifications dropped because their message id was already delivered",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.deliveries, m.duration, m.duplicates)
	}

	return m
}

func (m *Metrics) ObserveDelivery(res Result) {
	if m == nil {
		return
	}

	m.deliveries.WithLabelValues(res.Outcome()).Inc()
	m.duration.Observe(res.Duration.Seconds())
}

func (m *Metrics) IncDuplicate() {
	if m == nil {
		return
	}

	m.duplicates.Inc()
}
