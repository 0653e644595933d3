package heat

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("heatbot/internal/heat")

var meter = otel.Meter("heatbot/internal/heat")
var outcomeCounter, _ = meter.Int64Counter("heatbot.fetch.outcomes",
	metric.WithDescription("case fetches by result"))
var fetchDuration, _ = meter.Float64Histogram("heatbot.fetch.duration",
	metric.WithDescription("wall time of a case fetch including retries"), metric.WithUnit("s"))

func recordOutcome(ctx context.Context, o Outcome, took time.Duration) {
	result := "ok"
	switch {
	case o.Failure != nil:
		result = string(o.Failure.Category)
	case o.Record != nil && o.Record.Synthetic:
		result = "synthetic"
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	outcomeCounter.Add(ctx, 1, attrs)
	fetchDuration.Record(ctx, took.Seconds(), attrs)
}
