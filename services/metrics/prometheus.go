package metricsvc

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/shule/core"
)

const namespace = "shule"

// PrometheusRecorder records the domain metrics in its own prometheus registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	propagations      *prometheus.CounterVec
	propagatedMembers prometheus.Histogram
	permissionChecks  *prometheus.CounterVec
	requests          *prometheus.CounterVec
}

var _ core.Metrics = (*PrometheusRecorder)(nil) // interface compliance check

func NewPrometheusRecorder() *PrometheusRecorder {
	r := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		propagations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "role_propagations_total",
				Help:      "Role permission propagation batches by result.",
			},
			[]string{"result"},
		),
		propagatedMembers: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "role_propagation_members",
				Help:      "Number of users written by a committed propagation batch.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 7),
			},
		),
		permissionChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "permission_checks_total",
				Help:      "API permission checks by permission and result.",
			},
			[]string{"permission", "result"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total requests by route, method and status code.",
			},
			[]string{"route", "method", "code"},
		),
	}
	r.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		r.propagations,
		r.propagatedMembers,
		r.permissionChecks,
		r.requests,
	)
	return r
}

func (r *PrometheusRecorder) ObservePropagation(members int, err error) {
	if err != nil {
		r.propagations.WithLabelValues("failed").Inc()
		return
	}
	r.propagations.WithLabelValues("committed").Inc()
	r.propagatedMembers.Observe(float64(members))
}

func (r *PrometheusRecorder) ObservePermissionCheck(permission string, granted bool) {
	result := "denied"
	if granted {
		result = "granted"
	}
	r.permissionChecks.WithLabelValues(permission, result).Inc()
}

// ObserveRequest counts a served HTTP request.
func (r *PrometheusRecorder) ObserveRequest(route, method string, code int) {
	r.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
}

// Handler exposes the registry in the prometheus text format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}
