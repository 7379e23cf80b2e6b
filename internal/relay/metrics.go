package relay

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	clientsConnected prometheus.Gauge
	messagesRelayed  prometheus.Counter
	decisionsTotal   *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		clientsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "subfold",
			Subsystem: "relay",
			Name:      "websocket_clients",
			Help:      "Number of connected dashboard clients",
		})
		messagesRelayed = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "subfold",
			Subsystem: "relay",
			Name:      "messages_relayed_total",
			Help:      "Count of telemetry messages fanned out to the hub",
		})
		decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subfold",
			Subsystem: "relay",
			Name:      "remediation_decisions_total",
			Help:      "Count of recorded remediation decisions",
		}, []string{"action"})

		collectors := []prometheus.Collector{clientsConnected, messagesRelayed, decisionsTotal}
		for _, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch v := are.ExistingCollector.(type) {
					case prometheus.Gauge:
						clientsConnected = v
					case prometheus.Counter:
						messagesRelayed = v
					case *prometheus.CounterVec:
						decisionsTotal = v
					}
				}
			}
		}
	})
}

func recordClientConnected() {
	if clientsConnected != nil {
		clientsConnected.Inc()
	}
}

func recordClientDisconnected() {
	if clientsConnected != nil {
		clientsConnected.Dec()
	}
}

func recordMessageRelayed() {
	if messagesRelayed != nil {
		messagesRelayed.Inc()
	}
}

func recordDecisionMetric(action string) {
	if decisionsTotal != nil {
		decisionsTotal.With(prometheus.Labels{"action": action}).Inc()
	}
}
