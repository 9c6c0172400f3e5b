package otlp

import (
	"crypto/rand"

	"go.opentelemetry.io/otel/trace"
)

// newTraceID mints a random 128-bit trace id from a CSPRNG, retrying the
// vanishingly unlikely all-zero draw the W3C trace-context spec forbids.
func newTraceID() trace.TraceID {
	var id trace.TraceID
	for {
		if _, err := rand.Read(id[:]); err != nil {
			panic("otlp: crypto/rand unavailable: " + err.Error())
		}
		if id.IsValid() {
			return id
		}
	}
}

// newSpanID mints a random 64-bit span id, same non-zero guarantee as
// newTraceID.
func newSpanID() trace.SpanID {
	var id trace.SpanID
	for {
		if _, err := rand.Read(id[:]); err != nil {
			panic("otlp: crypto/rand unavailable: " + err.Error())
		}
		if id.IsValid() {
			return id
		}
	}
}
