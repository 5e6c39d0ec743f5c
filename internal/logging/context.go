// internal/logging/context.go
package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type taskCtxKey struct{}
type phaseCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

type taskScope struct {
	taskID     string
	workflowID string
}

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if scope, ok := ctx.Value(taskCtxKey{}).(taskScope); ok {
		fields = append(fields, zap.String("task.id", scope.taskID))
		if scope.workflowID != "" {
			fields = append(fields, zap.String("workflow.id", scope.workflowID))
		}
	}
	if phaseID := PhaseFromContext(ctx); phaseID != "" {
		fields = append(fields, zap.String("phase.id", phaseID))
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

// WithTask scopes ctx to a task and its workflow.
func WithTask(ctx context.Context, taskID, workflowID string) context.Context {
	return context.WithValue(ctx, taskCtxKey{}, taskScope{taskID: taskID, workflowID: workflowID})
}

// TaskFromContext returns the task and workflow ids set by WithTask.
func TaskFromContext(ctx context.Context) (taskID, workflowID string) {
	scope, _ := ctx.Value(taskCtxKey{}).(taskScope)
	return scope.taskID, scope.workflowID
}

// WithPhase scopes ctx to the phase currently being walked.
func WithPhase(ctx context.Context, phaseID string) context.Context {
	return context.WithValue(ctx, phaseCtxKey{}, phaseID)
}

// PhaseFromContext returns the phase id set by WithPhase.
func PhaseFromContext(ctx context.Context) string {
	p, _ := ctx.Value(phaseCtxKey{}).(string)
	return p
}

// WithRequestID adds an inbound request id (HTTP, MCP) to ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext returns the request id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	r, _ := ctx.Value(requestCtxKey{}).(string)
	return r
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger stored by WithLogger, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
