// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and records the Prometheus metrics of the research
// assistant. Metrics are registered through promauto on the default
// registerer and isolated by namespace.
type Collector struct {
	// Run metrics
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	researchCycles prometheus.Histogram

	// Stage metrics
	stageExecutionsTotal *prometheus.CounterVec
	stageDuration        *prometheus.HistogramVec

	// Tool metrics
	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec

	// LLM metrics
	llmRequestsTotal *prometheus.CounterVec
	llmTokensUsed    *prometheus.CounterVec
	tokensStreamed   prometheus.Counter

	logger *zap.Logger
}

// NewCollector creates a collector with all metrics registered under the
// given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of workflow runs by terminal status",
		},
		[]string{"status"},
	)

	c.runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "End-to-end workflow run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	c.researchCycles = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "research_cycles",
			Help:      "Number of research cycles per run",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 7, 10},
		},
	)

	c.stageExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_executions_total",
			Help:      "Total number of stage executions",
		},
		[]string{"stage"},
	)

	c.stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Stage execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	c.toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls",
		},
		[]string{"tool", "status"},
	)

	c.toolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"tool"},
	)

	c.llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"provider", "model", "status"},
	)

	c.llmTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	c.tokensStreamed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_streamed_total",
			Help:      "Total number of streamed token increments",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordRun records a finished workflow run.
func (c *Collector) RecordRun(status string, duration time.Duration, researchCycles int) {
	c.runsTotal.WithLabelValues(status).Inc()
	c.runDuration.Observe(duration.Seconds())
	c.researchCycles.Observe(float64(researchCycles))
}

// RecordStage records one stage execution.
func (c *Collector) RecordStage(stage string, duration time.Duration) {
	c.stageExecutionsTotal.WithLabelValues(stage).Inc()
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordToolCall records one tool call.
func (c *Collector) RecordToolCall(tool, status string, duration time.Duration) {
	c.toolCallsTotal.WithLabelValues(tool, status).Inc()
	c.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordLLMRequest records one model call.
func (c *Collector) RecordLLMRequest(provider, model, status string, promptTokens, completionTokens int) {
	c.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.llmTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
}

// RecordStreamedToken records one streamed token increment.
func (c *Collector) RecordStreamedToken() {
	c.tokensStreamed.Inc()
}
