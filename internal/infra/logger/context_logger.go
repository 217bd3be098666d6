package logger

import (
	"context"
	"log/slog"
	"os"
)

type ContextKey string

const (
	// Business context keys for benchmark observability.
	JobIDKey         ContextKey = "bench.job.id"
	TaskNameKey      ContextKey = "bench.task.name"
	QueryIDKey       ContextKey = "bench.query.id"
	PipelineStageKey ContextKey = "bench.pipeline.stage"
)

// ContextLogger provides context-aware logging with pipeline business context.
type ContextLogger struct {
	logger      *slog.Logger
	serviceName string
}

// NewContextLogger creates a new context-aware logger.
func NewContextLogger(serviceName string) *ContextLogger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LOG_LEVEL")),
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)

	return &ContextLogger{
		logger:      slog.New(handler),
		serviceName: serviceName,
	}
}

// WithContext returns a logger with context values extracted and added as fields.
func (cl *ContextLogger) WithContext(ctx context.Context) *slog.Logger {
	logger := cl.logger.With("service", cl.serviceName)

	var fields []any

	if jobID := ctx.Value(JobIDKey); jobID != nil {
		fields = append(fields, string(JobIDKey), jobID)
	}
	if taskName := ctx.Value(TaskNameKey); taskName != nil {
		fields = append(fields, string(TaskNameKey), taskName)
	}
	if queryID := ctx.Value(QueryIDKey); queryID != nil {
		fields = append(fields, string(QueryIDKey), queryID)
	}
	if stage := ctx.Value(PipelineStageKey); stage != nil {
		fields = append(fields, string(PipelineStageKey), stage)
	}

	if len(fields) > 0 {
		logger = logger.With(fields...)
	}

	return logger
}

// WithJobID adds the benchmark job ID to context for observability.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// WithTaskName adds the task name to context for observability.
func WithTaskName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, TaskNameKey, name)
}

// WithQueryID adds the query ID to context for observability.
func WithQueryID(ctx context.Context, queryID string) context.Context {
	return context.WithValue(ctx, QueryIDKey, queryID)
}

// WithPipelineStage adds the pipeline stage to context for observability.
func WithPipelineStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, PipelineStageKey, stage)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "warn", "WARN", "warning", "WARNING":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
