// Package metrics exports Prometheus instrumentation for the run
// orchestrator: HTTP surface, run/task/step lifecycle, judge calls, and
// budget consumption.
//
// Grounded on internal/apiserver/server/metrics.go's promauto-based
// Metrics struct and HTTP middleware shape, with the teacher's
// node/scheduler/websocket-admin-console metric groups replaced by the
// run/task/step/judge/budget groups this domain actually produces.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter, gauge, and histogram this service
// exports.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	RunsTotal       *prometheus.CounterVec
	RunsActive      prometheus.Gauge
	RunDuration     *prometheus.HistogramVec
	RunCostUSD      *prometheus.HistogramVec
	TasksTotal      *prometheus.CounterVec
	TaskStepsTotal  *prometheus.HistogramVec
	JudgeCallsTotal *prometheus.CounterVec
	JudgeLatency    prometheus.Histogram
	ModelCallsTotal *prometheus.CounterVec
	ModelTokens     *prometheus.CounterVec
	BudgetStopsTotal *prometheus.CounterVec

	WSConnectionsActive prometheus.Gauge
	WSMessagesTotal     *prometheus.CounterVec
}

// New constructs every metric under the given namespace.
func New(namespace string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests"},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "http_requests_in_flight", Help: "Current number of HTTP requests being processed"},
		),
		RunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "runs_total", Help: "Total runs by terminal status"},
			[]string{"status"},
		),
		RunsActive: promauto.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "runs_active", Help: "Runs currently being driven by this process"},
		),
		RunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace, Name: "run_duration_seconds", Help: "End-to-end run duration in seconds",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200},
			},
			[]string{"status"},
		),
		RunCostUSD: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace, Name: "run_cost_usd", Help: "Total model cost spent per run, in dollars",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 50},
			},
			[]string{"status"},
		),
		TasksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "tasks_total", Help: "Total task evaluations by phase and outcome"},
			[]string{"phase", "outcome"},
		),
		TaskStepsTotal: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace, Name: "task_steps_total", Help: "Agent loop steps consumed per task attempt",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
			},
			[]string{"phase", "stop_reason"},
		),
		JudgeCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "judge_calls_total", Help: "Total rubric judge calls"},
			[]string{"outcome"},
		),
		JudgeLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace, Name: "judge_latency_seconds", Help: "Judge model call latency in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
			},
		),
		ModelCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "model_calls_total", Help: "Total model client calls by phase"},
			[]string{"phase"},
		),
		ModelTokens: promauto.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "model_tokens_total", Help: "Total tokens consumed by direction"},
			[]string{"direction"},
		),
		BudgetStopsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "budget_stops_total", Help: "Total terminations caused by a budget limit"},
			[]string{"limit"},
		),
		WSConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "websocket_connections_active", Help: "Active WebSocket connections"},
		),
		WSMessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "websocket_messages_total", Help: "Total WebSocket messages"},
			[]string{"direction"},
		),
	}
}

// Middleware wraps an HTTP handler with request counters and latency
// histograms, path-normalized to avoid per-ID label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := normalizePath(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/runs/"):
		rest := strings.TrimPrefix(path, "/api/v1/runs/")
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return "/api/v1/runs/{id}" + rest[i:]
		}
		return "/api/v1/runs/{id}"
	default:
		return path
	}
}

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRunFinished records a completed run's terminal status, total
// duration, and total cost.
func (m *Metrics) RecordRunFinished(status string, duration time.Duration, costUSD float64) {
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.RunCostUSD.WithLabelValues(status).Observe(costUSD)
}

// RecordTaskEvaluation records one finished task attempt.
func (m *Metrics) RecordTaskEvaluation(phase, outcome, stopReason string, steps int) {
	m.TasksTotal.WithLabelValues(phase, outcome).Inc()
	m.TaskStepsTotal.WithLabelValues(phase, stopReason).Observe(float64(steps))
}

// RecordJudgeCall records one rubric judge invocation.
func (m *Metrics) RecordJudgeCall(outcome string, latency time.Duration) {
	m.JudgeCallsTotal.WithLabelValues(outcome).Inc()
	m.JudgeLatency.Observe(latency.Seconds())
}

// RecordModelCall records one model client call's token usage.
func (m *Metrics) RecordModelCall(phase string, tokensIn, tokensOut int) {
	m.ModelCallsTotal.WithLabelValues(phase).Inc()
	m.ModelTokens.WithLabelValues("input").Add(float64(tokensIn))
	m.ModelTokens.WithLabelValues("output").Add(float64(tokensOut))
}

// RecordBudgetStop records a termination caused by a budget limit
// (step_limit, token_limit, cost_limit).
func (m *Metrics) RecordBudgetStop(limit string) {
	m.BudgetStopsTotal.WithLabelValues(limit).Inc()
}

// WSConnectionOpened records a new WebSocket client.
func (m *Metrics) WSConnectionOpened() { m.WSConnectionsActive.Inc() }

// WSConnectionClosed records a disconnected WebSocket client.
func (m *Metrics) WSConnectionClosed() { m.WSConnectionsActive.Dec() }

// RecordWSMessage records one message sent or received over a
// WebSocket connection.
func (m *Metrics) RecordWSMessage(direction string) {
	m.WSMessagesTotal.WithLabelValues(direction).Inc()
}
