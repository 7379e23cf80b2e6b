package proxy

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

func (s *Server) initMetrics() {
	s.metricsOnce.Do(func() {
		s.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subfold",
			Subsystem: "proxy",
			Name:      "http_requests_total",
			Help:      "Count of proxied HTTP requests",
		}, []string{"method", "status"})

		s.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "subfold",
			Subsystem: "proxy",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of proxied requests",
			Buckets:   histogramBuckets,
		}, []string{"method", "status"})

		collectors := []prometheus.Collector{s.requestTotal, s.requestLatency}
		for _, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch v := are.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						s.requestTotal = v
					case *prometheus.HistogramVec:
						s.requestLatency = v
					}
				}
			}
		}
		s.metricsInitialized = true
	})
}

func (s *Server) recordRequestMetrics(method string, status int, duration time.Duration) {
	if !s.metricsInitialized {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"status": strconv.Itoa(status),
	}
	s.requestTotal.With(labels).Inc()
	s.requestLatency.With(labels).Observe(duration.Seconds())
}
