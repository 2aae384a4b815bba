package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives generation lifecycle events.
type Recorder interface {
	RecordSubmission(outcome string)
	RecordPoll(outcome string)
	RecordGeneration(outcome string, elapsed time.Duration)
	RecordPersistence(outcome string, elapsed time.Duration)
	RecordRollback(deleted, orphaned int)
}

// Noop discards every event.
type Noop struct{}

func (Noop) RecordSubmission(string)                 {}
func (Noop) RecordPoll(string)                       {}
func (Noop) RecordGeneration(string, time.Duration)  {}
func (Noop) RecordPersistence(string, time.Duration) {}
func (Noop) RecordRollback(int, int)                 {}

// PrometheusRecorder exports generation metrics on its own registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	submissions        *prometheus.CounterVec
	polls              *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	persistDuration    *prometheus.HistogramVec
	rollbackObjects    *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder with Go runtime and process collectors registered.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tryon",
			Name:      "submissions_total",
			Help:      "Provider submissions by outcome.",
		}, []string{"outcome"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tryon",
			Name:      "status_polls_total",
			Help:      "Provider status polls by outcome.",
		}, []string{"outcome"}),
		generationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tryon",
			Name:      "generation_duration_seconds",
			Help:      "Time from submission to a terminal state.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90, 120, 180},
		}, []string{"outcome"}),
		persistDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tryon",
			Name:      "persistence_duration_seconds",
			Help:      "Time spent re-hosting artifacts and writing the metadata row.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		rollbackObjects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tryon",
			Name:      "rollback_objects_total",
			Help:      "Blobs removed or orphaned by persistence rollbacks.",
		}, []string{"result"}),
	}

	registry.MustRegister(r.submissions)
	registry.MustRegister(r.polls)
	registry.MustRegister(r.generationDuration)
	registry.MustRegister(r.persistDuration)
	registry.MustRegister(r.rollbackObjects)

	return r
}

// Registry returns the underlying Prometheus registry.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *PrometheusRecorder) RecordSubmission(outcome string) {
	r.submissions.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRecorder) RecordPoll(outcome string) {
	r.polls.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRecorder) RecordGeneration(outcome string, elapsed time.Duration) {
	r.generationDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (r *PrometheusRecorder) RecordPersistence(outcome string, elapsed time.Duration) {
	r.persistDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (r *PrometheusRecorder) RecordRollback(deleted, orphaned int) {
	if deleted > 0 {
		r.rollbackObjects.WithLabelValues("deleted").Add(float64(deleted))
	}
	if orphaned > 0 {
		r.rollbackObjects.WithLabelValues("orphaned").Add(float64(orphaned))
	}
}

var (
	_ Recorder = Noop{}
	_ Recorder = (*PrometheusRecorder)(nil)
)
