package middleware

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/morezero/capability-sdk/pkg/capsdk"
)

// telemetryState lazily initializes the tracer/meter and counter the way
// the teacher's internal/storage/logging.backend and internal/core
// *_metrics.go files do: otel.Tracer/otel.Meter resolved once, instrument
// creation errors logged rather than failing startup. The SDK only calls
// the OTel API; wiring an SDK/exporter is the host application's job.
type telemetryState struct {
	tracer           trace.Tracer
	invocationCount  metric.Int64Counter
	invocationErrors metric.Int64Counter
}

func newTelemetryState() *telemetryState {
	meter := otel.Meter("github.com/morezero/capability-sdk")
	s := &telemetryState{tracer: otel.Tracer("github.com/morezero/capability-sdk")}

	var err error
	s.invocationCount, err = meter.Int64Counter(
		"capsdk.invocation.count",
		metric.WithDescription("Capability invocations processed by the pipeline"),
	)
	logInstrumentError(err)

	s.invocationErrors, err = meter.Int64Counter(
		"capsdk.invocation.errors",
		metric.WithDescription("Capability invocations that returned an error"),
	)
	logInstrumentError(err)

	return s
}

func logInstrumentError(err error) {
	if err != nil {
		// instrument registration failures are non-fatal; metrics are
		// simply dropped for that instrument.
		slog.Warn(fmt.Sprintf("middleware:telemetry - failed to create instrument: %v", err))
	}
}

// Telemetry wraps the invocation in a named span with
// {capability, version, method, tenant_id, request_id} attributes and
// increments an invocation counter (spec §4.7, "Telemetry").
func Telemetry() Middleware {
	state := newTelemetryState()
	return func(next Handler) Handler {
		return func(ctx context.Context, envelope *capsdk.Envelope) (*capsdk.Result, error) {
			attrs := []attribute.KeyValue{
				attribute.String("capability", envelope.Capability),
				attribute.String("version", envelope.Version),
				attribute.String("method", envelope.Method),
			}
			if envelope.Ctx != nil {
				attrs = append(attrs,
					attribute.String("tenant_id", envelope.Ctx.TenantID),
					attribute.String("request_id", envelope.Ctx.RequestID),
				)
			}

			ctx, span := state.tracer.Start(ctx, "capsdk.invoke", trace.WithAttributes(attrs...))
			defer span.End()

			if state.invocationCount != nil {
				state.invocationCount.Add(ctx, 1, metric.WithAttributes(attrs...))
			}

			result, err := next(ctx, envelope)
			if err != nil || (result != nil && !result.Ok) {
				span.SetStatus(codes.Error, errDescription(err, result))
				if state.invocationErrors != nil {
					state.invocationErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
				}
			}
			return result, err
		}
	}
}

func errDescription(err error, result *capsdk.Result) string {
	if err != nil {
		return err.Error()
	}
	if result != nil && result.Error != nil {
		return result.Error.Message
	}
	return "invocation failed"
}
