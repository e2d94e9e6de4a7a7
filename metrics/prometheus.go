package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"leveler/session"
)

const namespace = "leveler"

// PrometheusRecorder exports generation stats as Prometheus series.
type PrometheusRecorder struct {
	requests        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	ttft            prometheus.Histogram
	tokensPerSecond prometheus.Histogram
	generated       prometheus.Histogram
	promptTokens    prometheus.Histogram
	modelLoaded     prometheus.Gauge
	modelMemory     prometheus.Gauge
}

// NewPrometheusRecorder creates the series and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &PrometheusRecorder{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "requests_total",
				Help:      "Total number of simplification requests by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "duration_seconds",
				Help:      "Wall time of simplification requests in seconds",
				Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"tier"},
		),
		ttft: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "time_to_first_token_seconds",
			Help:      "Time from request start to the first streamed fragment",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}),
		tokensPerSecond: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "tokens_per_second",
			Help:      "Generation throughput of successful requests",
			Buckets:   []float64{1, 2, 5, 10, 20, 35, 50, 75, 100},
		}),
		generated: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "generated_tokens",
			Help:      "Tokens generated per request",
			Buckets:   prometheus.LinearBuckets(50, 50, 10),
		}),
		promptTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "prompt_tokens",
			Help:      "Prompt tokens ingested per request",
			Buckets:   prometheus.LinearBuckets(100, 100, 12),
		}),
		modelLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "loaded",
			Help:      "1 while a model is loaded",
		}),
		modelMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "memory_bytes",
			Help:      "Estimated memory held by the model and its context",
		}),
	}

	reg.MustRegister(r.requests, r.duration, r.ttft, r.tokensPerSecond,
		r.generated, r.promptTokens, r.modelLoaded, r.modelMemory)
	return r
}

// ReportGeneration implements session.StatsReporter.
func (r *PrometheusRecorder) ReportGeneration(stats session.GenerationStats) {
	tier := TierLabel(stats)
	if tier == "" {
		tier = "none"
	}
	r.requests.WithLabelValues(tier, stats.Outcome.String()).Inc()
	r.duration.WithLabelValues(tier).Observe(stats.Duration.Seconds())

	if stats.PromptTokens > 0 {
		r.promptTokens.Observe(float64(stats.PromptTokens))
	}
	if !stats.FirstTokenAt.IsZero() {
		r.ttft.Observe(stats.TimeToFirstToken.Seconds())
	}
	if stats.Outcome == session.KindNone {
		r.generated.Observe(float64(stats.GeneratedTokens))
		r.tokensPerSecond.Observe(stats.TokensPerSecond)
	}
}

// UpdateModelStatus sets the model gauges.
func (r *PrometheusRecorder) UpdateModelStatus(status ModelStatus) {
	if status.Loaded {
		r.modelLoaded.Set(1)
	} else {
		r.modelLoaded.Set(0)
	}
	r.modelMemory.Set(float64(status.MemoryBytes))
}

var _ session.StatsReporter = (*PrometheusRecorder)(nil)
