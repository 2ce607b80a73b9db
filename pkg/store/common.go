package store

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/go-imagepipeline/pkg/telemetry"
)

// DefaultTable is the table (or collection) trackers are written to when none is configured.
const DefaultTable = "product_creation_logs"

func tracer() trace.Tracer {
	return otel.Tracer(telemetry.TracerName)
}

func addDBStatsToSpan(span trace.Span, system, statement string, rowsCount int, duration time.Duration) {
	span.SetAttributes(
		attribute.Int("rowsCount", rowsCount),
		attribute.String("db.system", system),
		attribute.String("db.statement", statement),
		attribute.Float64("db.execution_time_ms", float64(duration.Milliseconds())),
	)
}

func tableOrDefault(name string) string {
	if name == "" {
		return DefaultTable
	}
	return name
}
