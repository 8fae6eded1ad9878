// Package observability turns connector events and HTTP traffic into
// Prometheus metrics and request logs.
package observability

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seandlg/protoframe/internal/protoframe"
)

const metricsNamespace = "protoframe"

// Metrics implements protoframe.Observer on its own collectors.
type Metrics struct {
	sent            *prometheus.CounterVec
	handled         *prometheus.CounterVec
	asks            *prometheus.CounterVec
	askDuration     *prometheus.HistogramVec
	handlerFailures *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

var _ protoframe.Observer = (*Metrics)(nil)

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "records",
			Name:      "sent_total",
			Help:      "Records handed to the transport.",
		}, []string{"namespace", "action", "type"}),
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "records",
			Name:      "handled_total",
			Help:      "Inbound records that matched a registered handler.",
		}, []string{"namespace", "action", "type"}),
		asks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ask",
			Name:      "completed_total",
			Help:      "Finished asks by outcome.",
		}, []string{"namespace", "type", "outcome"}),
		askDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "ask",
			Name:      "duration_seconds",
			Help:      "Time from sending an ask to its outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"namespace", "type", "outcome"}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ask",
			Name:      "handler_failures_total",
			Help:      "Ask handlers that returned an error and sent no response.",
		}, []string{"namespace", "type"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
	for _, c := range []prometheus.Collector{
		m.sent, m.handled, m.asks, m.askDuration, m.handlerFailures, m.httpRequests, m.httpDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) RecordSent(ns string, action protoframe.Action, msgType string) {
	m.sent.WithLabelValues(ns, string(action), msgType).Inc()
}

func (m *Metrics) RecordHandled(ns string, action protoframe.Action, msgType string) {
	m.handled.WithLabelValues(ns, string(action), msgType).Inc()
}

func (m *Metrics) RecordAsk(ns, msgType string, elapsed time.Duration, err error) {
	outcome := askOutcome(err)
	m.asks.WithLabelValues(ns, msgType, outcome).Inc()
	m.askDuration.WithLabelValues(ns, msgType, outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordHandlerFailure(ns, msgType string) {
	m.handlerFailures.WithLabelValues(ns, msgType).Inc()
}

func askOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, protoframe.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
