package metrics

import (
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

const namespace = "model_ranker"

// ClientMetrics instruments the HTTP requests sent to a ranking service.
type ClientMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewClientMetrics creates the client collectors and registers them with reg.
func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	m := &ClientMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Requests sent to the ranking service.",
		}, []string{"code", "method"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Latency of requests sent to the ranking service.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "requests_in_flight",
			Help:      "Requests to the ranking service currently in flight.",
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.inFlight)
	return m
}

// RoundTripper wraps next so that every request is counted and timed. A nil
// next uses http.DefaultTransport.
func (m *ClientMetrics) RoundTripper(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return promhttp.InstrumentRoundTripperInFlight(m.inFlight,
		promhttp.InstrumentRoundTripperCounter(m.requests,
			promhttp.InstrumentRoundTripperDuration(m.duration, next)))
}

// ServiceMetrics instruments the handlers of the local ranking service.
type ServiceMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	// Rankers tracks the number of stored rankers per status.
	Rankers *prometheus.GaugeVec
	// Rankings counts answered rank requests.
	Rankings prometheus.Counter
}

// NewServiceMetrics creates the service collectors and registers them with reg.
func NewServiceMetrics(reg prometheus.Registerer) *ServiceMetrics {
	m := &ServiceMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "http_requests_total",
			Help:      "Requests handled by the ranking service.",
		}, []string{"handler", "code", "method"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "http_request_duration_seconds",
			Help:      "Latency of requests handled by the ranking service.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler", "method"}),
		Rankers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "rankers",
			Help:      "Stored rankers by status.",
		}, []string{"status"}),
		Rankings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "rankings_total",
			Help:      "Rank requests answered.",
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.Rankers, m.Rankings)
	return m
}

// Handler wraps next so that its requests are counted and timed under the
// given handler label.
func (m *ServiceMetrics) Handler(name string, next http.Handler) http.Handler {
	labels := prometheus.Labels{"handler": name}
	return promhttp.InstrumentHandlerCounter(m.requests.MustCurryWith(labels),
		promhttp.InstrumentHandlerDuration(m.duration.MustCurryWith(labels), next))
}

// HTTPHandler serves the metrics gathered by g in the Prometheus exposition
// format.
func HTTPHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// WriteText writes the metrics gathered by g to w in the Prometheus text
// format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encoding metric family %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
