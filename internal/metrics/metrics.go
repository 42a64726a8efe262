package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ViewCounted   = "counted"
	ViewThrottled = "throttled"
	ViewFailed    = "failed"

	LikeAdded   = "like"
	LikeRemoved = "unlike"

	MutationCreate = "create"
	MutationUpdate = "update"
	MutationDelete = "delete"
)

// Metrics holds the marketplace collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	views              *prometheus.CounterVec
	likes              *prometheus.CounterVec
	mutations          *prometheus.CounterVec
	blobDeleteFailures prometheus.Counter
	httpDuration       *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		views: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_product_views_total",
			Help: "Product detail reads by view counting outcome.",
		}, []string{"outcome"}),
		likes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_product_likes_total",
			Help: "Successful like and unlike operations.",
		}, []string{"action"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_product_mutations_total",
			Help: "Committed product create, update and delete operations.",
		}, []string{"operation"}),
		blobDeleteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketplace_blob_delete_failures_total",
			Help: "Image blobs that could not be removed after their rows were deleted.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketplace_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern and status code.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(m.views, m.likes, m.mutations, m.blobDeleteFailures, m.httpDuration)
	return m
}

func (m *Metrics) ObserveView(outcome string) {
	if m == nil {
		return
	}
	m.views.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveLike(action string) {
	if m == nil {
		return
	}
	m.likes.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveMutation(operation string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveBlobDeleteFailure() {
	if m == nil {
		return
	}
	m.blobDeleteFailures.Inc()
}

func (m *Metrics) ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
