// Package correlation resolves a request's correlation id from an inbound
// Context per the fallback chain in spec §4.5: a strictly-valid W3C
// traceparent header wins outright; failing that, x-request-id; failing
// that, x-correlation-id; failing all three, a freshly minted 128-bit
// random hex id.
package correlation

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/oriys/zerver/internal/reqcontext"
)

// Source names which header (if any) supplied the resolved id, for
// telemetry attribution.
type Source string

const (
	SourceTraceparent    Source = "traceparent"
	SourceRequestID      Source = "x-request-id"
	SourceCorrelationID  Source = "x-correlation-id"
	SourceGenerated      Source = "generated"
)

// Traceparent is a parsed, strictly-valid W3C traceparent header:
// version(2 hex)-traceid(32 hex)-spanid(16 hex)-flags(2 hex), all
// lowercase hex, with a non-zero trace id and a non-zero span id.
type Traceparent struct {
	Version string
	TraceID string
	SpanID  string
	Flags   string
}

// Resolve determines the correlation id and, when the winning source is a
// traceparent header, the parsed trace/span ids for the OTLP Recorder's
// root span. It never returns an empty id.
func Resolve(ctx *reqcontext.Context) (id string, source Source, tp *Traceparent) {
	if raw, ok := ctx.Header("traceparent"); ok {
		if parsed, ok := ParseTraceparent(raw); ok {
			return parsed.TraceID, SourceTraceparent, &parsed
		}
	}
	if v, ok := ctx.Header("x-request-id"); ok && v != "" {
		return v, SourceRequestID, nil
	}
	if v, ok := ctx.Header("x-correlation-id"); ok && v != "" {
		return v, SourceCorrelationID, nil
	}
	return generate(), SourceGenerated, nil
}

// ParseTraceparent strictly parses a traceparent header value. Any
// deviation from the exact grammar — wrong field count, wrong field
// length, non-hex characters, uppercase hex, an all-zero trace id, or an
// all-zero span id — rejects the whole header rather than attempting a
// partial/lenient recovery.
func ParseTraceparent(raw string) (Traceparent, bool) {
	// version(2)-traceid(32)-spanid(16)-flags(2) + 3 hyphens = 55 runes.
	if len(raw) != 55 {
		return Traceparent{}, false
	}
	if raw[2] != '-' || raw[35] != '-' || raw[52] != '-' {
		return Traceparent{}, false
	}

	version := raw[0:2]
	traceID := raw[3:35]
	spanID := raw[36:52]
	flags := raw[53:55]

	if !isLowerHex(version) || !isLowerHex(traceID) || !isLowerHex(spanID) || !isLowerHex(flags) {
		return Traceparent{}, false
	}
	if isAllZero(traceID) || isAllZero(spanID) {
		return Traceparent{}, false
	}
	// The 0xff version is reserved and must never be accepted.
	if version == "ff" {
		return Traceparent{}, false
	}

	return Traceparent{Version: version, TraceID: traceID, SpanID: spanID, Flags: flags}, true
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') {
			continue
		}
		return false
	}
	return true
}

func isAllZero(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != '0' {
			return false
		}
	}
	return true
}

// generate mints a 128-bit random hex id from a CSPRNG. A read failure
// from crypto/rand indicates a broken entropy source the process cannot
// recover from, so it panics rather than returning a degraded id.
func generate() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("correlation: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}
