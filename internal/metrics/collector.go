// Package metrics exposes Prometheus collectors for inference calls, the
// learning loop and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nidhogg/tutor/internal/provider"
)

// Collector holds every metric of the process on its own registry.
type Collector struct {
	registry *prometheus.Registry

	inferenceTotal    *prometheus.CounterVec
	inferenceDuration *prometheus.HistogramVec
	tokensUsed        *prometheus.CounterVec

	iterationsTotal    *prometheus.CounterVec
	accuracy           *prometheus.GaugeVec
	errorsFound        *prometheus.GaugeVec
	instructionUpdates *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector creates a collector whose metrics are prefixed by namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.inferenceTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_requests_total",
			Help:      "Total number of inference calls by role and outcome",
		},
		[]string{"role", "status"},
	)
	c.inferenceDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Inference call duration in seconds, cache hits excluded",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"role"},
	)
	c.tokensUsed = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_tokens_total",
			Help:      "Total number of tokens used",
		},
		[]string{"role", "type"},
	)

	c.iterationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "learn_iterations_total",
			Help:      "Total number of learning iterations run per skill",
		},
		[]string{"skill"},
	)
	c.accuracy = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "skill_accuracy",
			Help:      "Accuracy of the latest evaluation per skill",
		},
		[]string{"skill"},
	)
	c.errorsFound = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "skill_errors",
			Help:      "Number of mispredictions in the latest evaluation per skill",
		},
		[]string{"skill"},
	)
	c.instructionUpdates = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instruction_updates_total",
			Help:      "Total number of committed instruction rewrites per skill",
		},
		[]string{"skill"},
	)

	c.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	c.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	return c
}

// ObserveInference records one inference call. It satisfies runtime.Observer.
func (c *Collector) ObserveInference(role string, d time.Duration, usage provider.Usage, cached bool, err error) {
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case cached:
		status = "cached"
	}
	c.inferenceTotal.WithLabelValues(role, status).Inc()
	if cached {
		return
	}
	c.inferenceDuration.WithLabelValues(role).Observe(d.Seconds())
	c.tokensUsed.WithLabelValues(role, "prompt").Add(float64(usage.PromptTokens))
	c.tokensUsed.WithLabelValues(role, "completion").Add(float64(usage.CompletionTokens))
}

// RecordEvaluation records the outcome of evaluating a skill.
func (c *Collector) RecordEvaluation(skill string, accuracy float64, errors int) {
	c.accuracy.WithLabelValues(skill).Set(accuracy)
	c.errorsFound.WithLabelValues(skill).Set(float64(errors))
}

// RecordIteration counts one learning iteration.
func (c *Collector) RecordIteration(skill string, improved bool) {
	c.iterationsTotal.WithLabelValues(skill).Inc()
	if improved {
		c.instructionUpdates.WithLabelValues(skill).Inc()
	}
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }
