package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtc_connections_active",
		Help: "Number of live realtime connections.",
	})

	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calls_active",
		Help: "Number of non-terminal call sessions.",
	})

	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calls_total",
		Help: "Terminated call sessions by end reason.",
	}, []string{"reason"})

	SignalsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signals_forwarded_total",
		Help: "Signaling payloads relayed between call participants.",
	})

	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtc_auth_failures_total",
		Help: "Realtime connection attempts rejected for bad credentials.",
	})
)
