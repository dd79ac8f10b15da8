package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the prometheus collectors for the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	tasksSubmitted prometheus.Counter
	tasksFinished  *prometheus.CounterVec
	taskDuration   prometheus.Histogram
	pipelineSteps  *prometheus.CounterVec
	toolCalls      *prometheus.CounterVec
	llmTokens      *prometheus.CounterVec
	queueDepth     prometheus.Gauge
}

// New registers all collectors on a fresh registry together with the
// go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		tasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autostrat_tasks_submitted_total",
			Help: "Report tasks accepted by the API.",
		}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autostrat_tasks_finished_total",
			Help: "Report tasks that reached a terminal status.",
		}, []string{"status"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "autostrat_task_duration_seconds",
			Help:    "Wall time from task start to terminal status.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		pipelineSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autostrat_pipeline_steps_total",
			Help: "Pipeline node executions.",
		}, []string{"node"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autostrat_tool_calls_total",
			Help: "Tool invocations requested by the researcher.",
		}, []string{"tool", "outcome"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autostrat_llm_tokens_total",
			Help: "Tokens reported by the LLM provider.",
		}, []string{"direction"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autostrat_executor_queue_depth",
			Help: "Tasks waiting for a free worker.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.tasksSubmitted, m.tasksFinished, m.taskDuration,
		m.pipelineSteps, m.toolCalls, m.llmTokens, m.queueDepth,
	)
	return m
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TaskSubmitted() {
	if m == nil {
		return
	}
	m.tasksSubmitted.Inc()
}

func (m *Metrics) TaskFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(status).Inc()
	m.taskDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) PipelineStep(node string) {
	if m == nil {
		return
	}
	m.pipelineSteps.WithLabelValues(node).Inc()
}

func (m *Metrics) ToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) LLMTokens(in, out int64) {
	if m == nil {
		return
	}
	if in > 0 {
		m.llmTokens.WithLabelValues("input").Add(float64(in))
	}
	if out > 0 {
		m.llmTokens.WithLabelValues("output").Add(float64(out))
	}
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
