// Package telemetry attributes invocation failures on trace spans.
//
// Exporter configuration is left to the embedding process; this package only
// uses the globally registered tracer provider.
package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wippyai/wasm-http-trigger/errors"
)

// TracerName is the instrumentation scope used for trigger spans.
const TracerName = "wasm-http-trigger"

// BlameKey is the span attribute holding the blamed party.
const BlameKey = attribute.Key("error.blame")

// Tracer returns the trigger's tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// MarkAsError sets the span status to error with the rendered message and,
// when blame is non-empty, records it under error.blame.
func MarkAsError(span trace.Span, err error, blame errors.Blame) {
	span.SetStatus(codes.Error, err.Error())
	if blame != "" {
		span.SetAttributes(BlameKey.String(string(blame)))
	}
}

// MarkError marks span with err, deriving the blame from the error kind.
func MarkError(span trace.Span, err error) {
	blame, _ := errors.BlameOf(err)
	MarkAsError(span, err, blame)
}
