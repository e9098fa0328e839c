package logger

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

var log *logrus.Logger

func Init(level, format string) {
	log = logrus.New()

	// Set log level
	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	// Set log format
	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	log.SetOutput(os.Stdout)
}

func GetLogger() *logrus.Logger {
	if log == nil {
		Init("info", "json")
	}
	return log
}

// WithContext creates a logger entry carrying the active trace ID, so
// every line emitted for a request can be correlated with its trace.
func WithContext(ctx context.Context) *logrus.Entry {
	entry := logrus.NewEntry(GetLogger())

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		entry = entry.WithField("trace_id", sc.TraceID().String())
	}

	return entry
}

// WithComponent creates a logger entry tagged with the emitting component
// and operation. Handled-error log lines go through this.
func WithComponent(ctx context.Context, component, operation string) *logrus.Entry {
	return WithContext(ctx).WithFields(logrus.Fields{
		"component": component,
		"operation": operation,
	})
}

// HandledError emits the single structured line required for every
// handled error: component, operation, category, recoverability.
func HandledError(ctx context.Context, component, operation, category string, recoverable bool, err error) {
	WithComponent(ctx, component, operation).WithFields(logrus.Fields{
		"category":       category,
		"is_recoverable": recoverable,
	}).WithError(err).Warn("Handled error")
}
