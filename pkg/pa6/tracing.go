package pa6

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/megaputer/pa6-go/pkg/pa6"

func newTracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}

	return tp.Tracer(tracerName)
}

// startSpan opens a client span for one API call.
func (c *Client) startSpan(ctx context.Context, method, endpoint string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, method+" "+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("pa6.endpoint", endpoint),
		),
	)
}

func endSpan(span trace.Span, code int, err error) {
	if code > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", code))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}

// injectTraceContext propagates the span context into outgoing headers.
func injectTraceContext(ctx context.Context, h http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}
