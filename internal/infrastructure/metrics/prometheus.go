// Package metrics implements the pipeline metrics port on Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eidolabs/forge/internal/application/port/output"
)

// Recorder implements output.MetricsRecorder with Prometheus collectors
type Recorder struct {
	mvpsCreated      prometheus.Counter
	pipelinesActive  prometheus.Gauge
	pipelinesDone    *prometheus.CounterVec
	pipelineFailures *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec
	pipelineCost     *prometheus.HistogramVec
	pipelineTokens   *prometheus.HistogramVec
	stageDuration    *prometheus.HistogramVec
	stageCost        *prometheus.HistogramVec
	stageTokens      *prometheus.HistogramVec
	guardrailTrips   *prometheus.CounterVec
}

// NewRecorder creates a Recorder and registers its collectors
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		mvpsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forge_mvps_created_total",
			Help: "Total MVPs registered.",
		}),
		pipelinesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forge_pipelines_active",
			Help: "Pipelines currently executing.",
		}),
		pipelinesDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_pipelines_finished_total",
			Help: "Pipelines finished, by outcome.",
		}, []string{"outcome"}),
		pipelineFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_pipeline_failures_total",
			Help: "Failed pipelines, by reason.",
		}, []string{"reason"}),
		pipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forge_pipeline_duration_seconds",
			Help:    "Wall-clock pipeline duration.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"status"}),
		pipelineCost: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forge_pipeline_cost_usd",
			Help:    "Total pipeline cost in USD.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"status"}),
		pipelineTokens: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forge_pipeline_tokens",
			Help:    "Total pipeline token usage.",
			Buckets: prometheus.ExponentialBuckets(100, 2, 12),
		}, []string{"status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forge_stage_duration_seconds",
			Help:    "Stage execution duration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage", "status"}),
		stageCost: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forge_stage_cost_usd",
			Help:    "Stage cost in USD.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"stage", "status"}),
		stageTokens: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forge_stage_tokens",
			Help:    "Stage token usage.",
			Buckets: prometheus.ExponentialBuckets(50, 2, 12),
		}, []string{"stage", "status"}),
		guardrailTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_guardrail_trips_total",
			Help: "Guardrail violations, by guardrail.",
		}, []string{"guardrail"}),
	}

	reg.MustRegister(
		r.mvpsCreated, r.pipelinesActive, r.pipelinesDone, r.pipelineFailures,
		r.pipelineDuration, r.pipelineCost, r.pipelineTokens,
		r.stageDuration, r.stageCost, r.stageTokens, r.guardrailTrips,
	)
	return r
}

var _ output.MetricsRecorder = (*Recorder)(nil)

// MVPCreated counts a registered MVP
func (r *Recorder) MVPCreated() { r.mvpsCreated.Inc() }

// PipelineActiveInc marks a pipeline as running
func (r *Recorder) PipelineActiveInc() { r.pipelinesActive.Inc() }

// PipelineActiveDec marks a pipeline as no longer running
func (r *Recorder) PipelineActiveDec() { r.pipelinesActive.Dec() }

// PipelineSucceeded counts a completed pipeline
func (r *Recorder) PipelineSucceeded() {
	r.pipelinesDone.WithLabelValues("completed").Inc()
}

// PipelineFailed counts a failed pipeline with its reason
func (r *Recorder) PipelineFailed(reason string) {
	r.pipelinesDone.WithLabelValues("failed").Inc()
	r.pipelineFailures.WithLabelValues(reason).Inc()
}

// PipelineObserved records the terminal observation of a run
func (r *Recorder) PipelineObserved(status string, duration time.Duration, cost float64, tokens int) {
	r.pipelineDuration.WithLabelValues(status).Observe(duration.Seconds())
	r.pipelineCost.WithLabelValues(status).Observe(cost)
	r.pipelineTokens.WithLabelValues(status).Observe(float64(tokens))
}

// StageObserved records one stage attempt
func (r *Recorder) StageObserved(stage, status string, duration time.Duration, cost float64, tokens int) {
	r.stageDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
	r.stageCost.WithLabelValues(stage, status).Observe(cost)
	r.stageTokens.WithLabelValues(stage, status).Observe(float64(tokens))
}

// CostLimitExceeded counts a cost guardrail trip
func (r *Recorder) CostLimitExceeded() {
	r.guardrailTrips.WithLabelValues("cost").Inc()
}

// RuntimeLimitExceeded counts a runtime guardrail trip
func (r *Recorder) RuntimeLimitExceeded() {
	r.guardrailTrips.WithLabelValues("runtime").Inc()
}

// NopRecorder discards all observations. Used when metrics are disabled and
// in tests.
type NopRecorder struct{}

var _ output.MetricsRecorder = (*NopRecorder)(nil)

func (NopRecorder) MVPCreated()                                          {}
func (NopRecorder) PipelineActiveInc()                                   {}
func (NopRecorder) PipelineActiveDec()                                   {}
func (NopRecorder) PipelineSucceeded()                                   {}
func (NopRecorder) PipelineFailed(string)                                {}
func (NopRecorder) PipelineObserved(string, time.Duration, float64, int) {}
func (NopRecorder) StageObserved(string, string, time.Duration, float64, int) {}
func (NopRecorder) CostLimitExceeded()    {}
func (NopRecorder) RuntimeLimitExceeded() {}
