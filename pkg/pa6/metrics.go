package pa6

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "pa6_client"

// metrics holds the client's collectors. A nil *metrics is valid and records
// nothing.
type metrics struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	polls         *prometheus.CounterVec
	busy          *prometheus.CounterVec
	uploadedBytes prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}

	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "API requests by endpoint, method and HTTP status (0 for transport errors).",
		}, []string{"endpoint", "method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "request_duration_seconds",
			Help:      "API request latency by endpoint.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operation_polls_total",
			Help:      "Status fetches issued while waiting for async operations.",
		}, []string{"kind"}),
		busy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "busy_responses_total",
			Help:      "Busy responses tolerated while waiting for async operations.",
		}, []string{"kind"}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes acknowledged by the upload endpoint.",
		}),
	}

	m.requests = register(reg, m.requests)
	m.duration = register(reg, m.duration)
	m.polls = register(reg, m.polls)
	m.busy = register(reg, m.busy)
	m.uploadedBytes = register(reg, m.uploadedBytes)

	return m
}

// register adds c to reg, reusing the existing collector when several
// clients share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}

	return c
}

func (m *metrics) observeRequest(endpoint, method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.requests.WithLabelValues(endpoint, method, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func (m *metrics) observePoll(kind string, busy bool) {
	if m == nil {
		return
	}

	m.polls.WithLabelValues(kind).Inc()

	if busy {
		m.busy.WithLabelValues(kind).Inc()
	}
}

func (m *metrics) addUploaded(n int64) {
	if m == nil || n <= 0 {
		return
	}

	m.uploadedBytes.Add(float64(n))
}
