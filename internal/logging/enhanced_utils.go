package logging

import (
	"context"
	"time"

	"memoryvault/internal/memerr"
)

// EnhancedLogger wraps the base Logger with component-scoped error and
// timing helpers.
type EnhancedLogger struct {
	Logger
	component string
}

// NewEnhancedLogger creates an enhanced logger for a component.
func NewEnhancedLogger(component string) *EnhancedLogger {
	baseLogger := NewLogger(INFO)
	return &EnhancedLogger{
		Logger:    baseLogger.WithComponent(component),
		component: component,
	}
}

// WithContext creates a logger carrying the trace ID found in ctx.
func (l *EnhancedLogger) WithContext(ctx context.Context) *EnhancedLogger {
	traceID := GetTraceID(ctx)
	return &EnhancedLogger{
		Logger:    l.Logger.WithTraceID(traceID),
		component: l.component,
	}
}

// WithError logs err, annotating it with its memerr.Kind when available.
func (l *EnhancedLogger) WithError(err error) *EnhancedLogger {
	if err == nil {
		return l
	}
	l.Error("operation failed", "error", err.Error(), "kind", string(memerr.KindOf(err)))
	return l
}

// LogOperation logs the start and completion of fn, including duration.
func (l *EnhancedLogger) LogOperation(operation string, fn func() error) error {
	start := time.Now()
	l.Info("starting operation", "operation", operation)

	err := fn()
	duration := time.Since(start)

	if err != nil {
		l.Error("operation failed", "operation", operation, "duration_ms", duration.Milliseconds(), "error", err.Error())
		return err
	}

	l.Info("operation completed", "operation", operation, "duration_ms", duration.Milliseconds())
	return nil
}

// LogSlowOperation logs an operation whose duration exceeded expected.
func (l *EnhancedLogger) LogSlowOperation(operation string, duration, expected time.Duration) {
	l.Warn("slow operation",
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
		"expected_ms", expected.Milliseconds(),
	)
}

// Component loggers used across the engine's major subsystems.
var (
	ServerLogger        = NewEnhancedLogger("server")
	SearchLogger        = NewEnhancedLogger("search")
	RerankLogger        = NewEnhancedLogger("rerank")
	IngestLogger        = NewEnhancedLogger("ingest")
	ConsolidationLogger = NewEnhancedLogger("consolidation")
	VectorStoreLogger   = NewEnhancedLogger("vectorstore")
	LexicalLogger       = NewEnhancedLogger("lexical")
	GatewayLogger       = NewEnhancedLogger("gateway")
)

// GetComponentLogger returns an enhanced logger for the named component.
func GetComponentLogger(component string) *EnhancedLogger {
	return NewEnhancedLogger(component)
}
