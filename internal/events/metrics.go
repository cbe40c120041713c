package events

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink folds an Event stream into Prometheus counters/histograms,
// mirroring the StatsCollector pattern the teacher folds RuntimeEvents into
// a RunStats snapshot with, but published for scraping instead of returned
// as a struct.
type MetricsSink struct {
	assistantChunks prometheus.Counter
	reasoningChunks prometheus.Counter
	toolCalls       *prometheus.CounterVec
	toolResults     *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	compactions     prometheus.Counter
	compactBefore   prometheus.Histogram
	compactAfter    prometheus.Histogram
	stops           *prometheus.CounterVec
}

// NewMetricsSink registers its collectors against reg (pass
// prometheus.DefaultRegisterer for the global registry).
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	s := &MetricsSink{
		assistantChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentcore_assistant_chunks_total",
			Help: "Assistant-text chunks emitted.",
		}),
		reasoningChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentcore_reasoning_chunks_total",
			Help: "Reasoning-content chunks emitted.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_tool_calls_total",
			Help: "Tool calls dispatched, by tool name.",
		}, []string{"tool"}),
		toolResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_tool_results_total",
			Help: "Tool call outcomes, by tool name and status.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcore_tool_duration_seconds",
			Help:    "Tool call duration in seconds, by tool name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentcore_compactions_total",
			Help: "Context compactions performed.",
		}),
		compactBefore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentcore_compact_before_tokens",
			Help:    "Estimated token count immediately before a compaction.",
			Buckets: prometheus.ExponentialBuckets(1000, 2, 10),
		}),
		compactAfter: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentcore_compact_after_tokens",
			Help:    "Estimated token count immediately after a compaction.",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10),
		}),
		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_middleware_stops_total",
			Help: "Turns aborted by a middleware, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		s.assistantChunks, s.reasoningChunks, s.toolCalls, s.toolResults,
		s.toolDuration, s.compactions, s.compactBefore, s.compactAfter, s.stops,
	)
	return s
}

// Emit implements Sink.
func (s *MetricsSink) Emit(ctx context.Context, ev Event) {
	switch ev.Kind {
	case KindAssistant:
		s.assistantChunks.Inc()
	case KindReasoning:
		s.reasoningChunks.Inc()
	case KindToolCall:
		s.toolCalls.WithLabelValues(ev.ToolName).Inc()
	case KindToolResult:
		s.toolResults.WithLabelValues(ev.ToolName, string(ev.ToolResultStatus)).Inc()
		s.toolDuration.WithLabelValues(ev.ToolName).Observe(ev.ToolDuration.Seconds())
	case KindCompactEnd:
		s.compactions.Inc()
		s.compactBefore.Observe(float64(ev.CompactBeforeTokens))
		s.compactAfter.Observe(float64(ev.CompactAfterTokens))
	}
	if ev.Kind == KindAssistant && ev.StoppedByMiddleware {
		s.stops.WithLabelValues(ev.Reason).Inc()
	}
}
