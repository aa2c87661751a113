package wordpress

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wordpress_api",
			Name:      "requests_total",
			Help:      "Requests performed, by method and outcome",
		}, []string{"method", "outcome"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wordpress_api",
			Name:      "request_duration_seconds",
			Help:      "Time from sending a request to classifying its outcome",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	registerer.MustRegister(m.requests, m.duration)

	return m
}

func (m *metrics) observe(method, outcome string, elapsed time.Duration) {
	m.requests.WithLabelValues(method, outcome).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}
