// Package audit registra as ações executadas sobre contas e transações.
package audit

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// LogRecorder implementa ledger.Auditor escrevendo entradas estruturadas no zap
type LogRecorder struct {
	logger *zap.Logger
}

// NewLogRecorder cria uma nova instância de LogRecorder
func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	return &LogRecorder{logger: logger.Named("audit")}
}

func (r *LogRecorder) RecordAction(ctx context.Context, action, resourceType string, details map[string]any) error {
	fields := []zap.Field{
		zap.String("action", action),
		zap.String("resource", resourceType),
		zap.Any("details", details),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}

	if _, failed := details["error"]; failed {
		r.logger.Warn("📝 audit", fields...)
		return nil
	}
	r.logger.Info("📝 audit", fields...)
	return nil
}
