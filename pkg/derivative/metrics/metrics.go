// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/simple-derivative/pkg/derivative"
)

const namespace = "derivative"

// Recorder implements derivative.MetricsRecorder on its own registry.
type Recorder struct {
	registry  *prometheus.Registry
	jobs      *prometheus.CounterVec
	callbacks *prometheus.CounterVec
}

// New creates a Recorder. The registry also carries the Go runtime and
// process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dispatched_total",
			Help:      "Messages published to the broker, by queue and result.",
		}, []string{"queue", "result"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_ingested_total",
			Help:      "Worker callbacks handled, by result.",
		}, []string{"result"}),
	}
	r.registry.MustRegister(
		r.jobs,
		r.callbacks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// JobDispatched counts one derivative job dispatch.
func (r *Recorder) JobDispatched(queue string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case derivative.IsRetryable(err):
		result = "retryable_error"
	default:
		result = "error"
	}
	r.jobs.WithLabelValues(queue, result).Inc()
}

// CallbackIngested counts one callback outcome.
func (r *Recorder) CallbackIngested(result string) {
	r.callbacks.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

var _ derivative.MetricsRecorder = (*Recorder)(nil)
