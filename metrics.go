package eapi

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	calls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eapi",
			Subsystem: "client",
			Name:      "calls_total",
			Help:      "Gateway operations by outcome.",
		},
		[]string{"operation", "outcome"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eapi",
			Subsystem: "client",
			Name:      "call_duration_seconds",
			Help:      "Gateway round trip latency including signing and verification.",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.2, 2, 3, 5, 10, 30},
		},
		[]string{"operation"},
	)
	return &metrics{
		calls:    register(reg, calls),
		duration: register(reg, duration),
	}
}

// register reuses an identical collector registered by an earlier client.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *metrics) observe(op Operation, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(TypeOf(err))
		if outcome == "" {
			outcome = string(InternalError)
		}
	}
	m.calls.WithLabelValues(string(op), outcome).Inc()
	m.duration.WithLabelValues(string(op)).Observe(elapsed.Seconds())
}
