// Package logging provides structured logging for the run orchestrator.
package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"io"
	"os"
	"runtime"
	"strconv"
	"time"
)

// ContextKey is the type used for context-carried log fields.
type ContextKey string

const (
	TraceIDKey  ContextKey = "trace_id"
	SpanIDKey   ContextKey = "span_id"
	RunIDKey    ContextKey = "run_id"
	TaskIDKey   ContextKey = "task_id"
	WorkerIDKey ContextKey = "worker_id"
)

// Logger is a component-scoped structured logger.
type Logger struct {
	*slog.Logger
	component string
}

// Config configures a Logger.
type Config struct {
	Level     string `json:"level"`
	Format    string `json:"format"` // json or text
	Output    string `json:"output"` // stdout, stderr, or file path
	Component string `json:"component"`
}

// New constructs a Logger from Config.
func New(cfg Config) *Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var output io.Writer
	switch cfg.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			output = os.Stdout
		} else {
			output = f
		}
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{
		Logger:    slog.New(handler),
		component: cfg.Component,
	}
}

// Default constructs a Logger from LOG_LEVEL/LOG_FORMAT env vars.
func Default(component string) *Logger {
	return New(Config{
		Level:     os.Getenv("LOG_LEVEL"),
		Format:    os.Getenv("LOG_FORMAT"),
		Output:    "stdout",
		Component: component,
	})
}

// WithContext attaches trace/run/task/worker fields found on ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	attrs := []any{slog.String("component", l.component)}

	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	if spanID, ok := ctx.Value(SpanIDKey).(string); ok && spanID != "" {
		attrs = append(attrs, slog.String("span_id", spanID))
	}
	if runID, ok := ctx.Value(RunIDKey).(string); ok && runID != "" {
		attrs = append(attrs, slog.String("run_id", runID))
	}
	if taskID, ok := ctx.Value(TaskIDKey).(string); ok && taskID != "" {
		attrs = append(attrs, slog.String("task_id", taskID))
	}
	if workerID, ok := ctx.Value(WorkerIDKey).(string); ok && workerID != "" {
		attrs = append(attrs, slog.String("worker_id", workerID))
	}

	return &Logger{
		Logger:    l.Logger.With(attrs...),
		component: l.component,
	}
}

// WithRunID scopes every subsequent log line to one run.
func (l *Logger) WithRunID(runID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("run_id", runID)), component: l.component}
}

// WithTaskID scopes every subsequent log line to one task.
func (l *Logger) WithTaskID(taskID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("task_id", taskID)), component: l.component}
}

// WithWorkerID scopes every subsequent log line to one worker.
func (l *Logger) WithWorkerID(workerID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("worker_id", workerID)), component: l.component}
}

// WithError attaches an error field, or returns l unchanged if err is nil.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{Logger: l.Logger.With(slog.String("error", err.Error())), component: l.component}
}

// WithDuration attaches a duration_ms field.
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return &Logger{Logger: l.Logger.With(slog.Float64("duration_ms", float64(d.Milliseconds()))), component: l.component}
}

// LogEntry is a Loki-compatible flattened log record, used by callers
// that need to ship a structured entry somewhere other than the
// configured slog output (e.g. a run-error payload).
type LogEntry struct {
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Component string                 `json:"component"`
	TraceID   string                 `json:"trace_id,omitempty"`
	RunID     string                 `json:"run_id,omitempty"`
	TaskID    string                 `json:"task_id,omitempty"`
	WorkerID  string                 `json:"worker_id,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Duration  float64                `json:"duration_ms,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// ToJSON serializes the entry.
func (e *LogEntry) ToJSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// HTTPRequestLog logs one served HTTP request.
func (l *Logger) HTTPRequestLog(method, path string, status int, duration time.Duration, clientIP string) {
	l.Logger.Info("HTTP request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
		slog.String("client_ip", clientIP),
	)
}

// DBQueryLog logs one store round-trip.
func (l *Logger) DBQueryLog(operation, table string, duration time.Duration, err error) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("table", table),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		l.Logger.Error("DB query failed", attrs...)
	} else {
		l.Logger.Debug("DB query", attrs...)
	}
}

// RunLog logs one run lifecycle transition (queued, ingesting,
// generating_tasks, running, evaluating, completed, failed, canceled).
func (l *Logger) RunLog(action, runID string, extra ...any) {
	attrs := []any{
		slog.String("action", action),
		slog.String("run_id", runID),
	}
	attrs = append(attrs, extra...)
	l.Logger.Info("Run event", attrs...)
}

// StepLog logs one agent-loop step (retrieve/plan/act/reflect).
func (l *Logger) StepLog(phase, runID, taskID, execID string, stepIndex int, extra ...any) {
	attrs := []any{
		slog.String("phase", phase),
		slog.String("run_id", runID),
		slog.String("task_id", taskID),
		slog.String("execution_id", execID),
		slog.Int("step", stepIndex),
	}
	attrs = append(attrs, extra...)
	l.Logger.Debug("Step event", attrs...)
}

// BudgetLog logs a budget check outcome (step/token/cost limit hit, or
// a routine top-of-iteration check that passed).
func (l *Logger) BudgetLog(runID, execID, limit string, used, cap float64) {
	attrs := []any{
		slog.String("run_id", runID),
		slog.String("execution_id", execID),
		slog.String("limit", limit),
		slog.Float64("used", used),
		slog.Float64("cap", cap),
	}
	if cap > 0 && used >= cap {
		l.Logger.Warn("Budget limit reached", attrs...)
	} else {
		l.Logger.Debug("Budget check", attrs...)
	}
}

// GetCaller returns "file:line" for the caller skip frames up the stack.
func GetCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	short := file
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			short = file[i+1:]
			break
		}
	}
	return short + ":" + strconv.Itoa(line)
}
