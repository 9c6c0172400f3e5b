package otlp

import (
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"
)

// The following types mirror the OTLP/HTTP JSON wire shape closely enough
// to round-trip through a collector's JSON endpoint. They are hand-built
// rather than sourced from the otel/sdk/trace export path because the
// job-promotion algorithm needs to retroactively decide span shape after
// a job completes — something the auto-instrumentation span pipeline
// cannot express.
type payloadValue struct {
	StringValue *string `json:"stringValue,omitempty"`
	IntValue    *string `json:"intValue,omitempty"`
	BoolValue   *bool   `json:"boolValue,omitempty"`
}

type payloadAttr struct {
	Key   string       `json:"key"`
	Value payloadValue `json:"value"`
}

type payloadEvent struct {
	TimeUnixNano string        `json:"timeUnixNano"`
	Name         string        `json:"name"`
	Attributes   []payloadAttr `json:"attributes,omitempty"`
}

type payloadStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

type payloadSpan struct {
	TraceID           string         `json:"traceId"`
	SpanID            string         `json:"spanId"`
	ParentSpanID      string         `json:"parentSpanId,omitempty"`
	Name              string         `json:"name"`
	Kind              int            `json:"kind"`
	StartTimeUnixNano string         `json:"startTimeUnixNano"`
	EndTimeUnixNano   string         `json:"endTimeUnixNano"`
	Attributes        []payloadAttr  `json:"attributes,omitempty"`
	Events            []payloadEvent `json:"events,omitempty"`
	Status            payloadStatus  `json:"status"`
}

type payloadScopeSpans struct {
	Scope payloadScope  `json:"scope"`
	Spans []payloadSpan `json:"spans"`
}

type payloadScope struct {
	Name string `json:"name"`
}

type payloadResourceSpans struct {
	Resource   payloadResource     `json:"resource"`
	ScopeSpans []payloadScopeSpans `json:"scopeSpans"`
}

type payloadResource struct {
	Attributes []payloadAttr `json:"attributes"`
}

type exportPayload struct {
	ResourceSpans []payloadResourceSpans `json:"resourceSpans"`
}

func toAttrs(kvs []attribute.KeyValue) []payloadAttr {
	out := make([]payloadAttr, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, toAttr(kv))
	}
	return out
}

func toAttr(kv attribute.KeyValue) payloadAttr {
	v := payloadValue{}
	switch kv.Value.Type() {
	case attribute.STRING:
		s := kv.Value.AsString()
		v.StringValue = &s
	case attribute.INT64:
		s := formatInt(kv.Value.AsInt64())
		v.IntValue = &s
	case attribute.BOOL:
		b := kv.Value.AsBool()
		v.BoolValue = &b
	default:
		s := kv.Value.Emit()
		v.StringValue = &s
	}
	return payloadAttr{Key: string(kv.Key), Value: v}
}

func toStatusCode(c codes.Code) int {
	switch c {
	case codes.Ok:
		return 1
	case codes.Error:
		return 2
	default:
		return 0
	}
}

func toSpanKind(k trace.SpanKind) int {
	switch k {
	case trace.SpanKindServer:
		return 2
	case trace.SpanKindClient:
		return 3
	case trace.SpanKindProducer:
		return 4
	case trace.SpanKindConsumer:
		return 5
	default:
		return 1 // INTERNAL
	}
}

func toPayloadSpan(traceID trace.TraceID, s *Span) payloadSpan {
	ps := payloadSpan{
		TraceID:           traceID.String(),
		SpanID:            s.SpanID.String(),
		Name:              s.Name,
		Kind:              toSpanKind(s.Kind),
		StartTimeUnixNano: formatInt(s.Start.UnixNano()),
		EndTimeUnixNano:   formatInt(s.End.UnixNano()),
		Attributes:        toAttrs(s.Attrs),
		Status:            payloadStatus{Code: toStatusCode(s.StatusCode), Message: s.StatusMsg},
	}
	if s.ParentSpanID.IsValid() {
		ps.ParentSpanID = s.ParentSpanID.String()
	}
	for _, ev := range s.Events {
		ps.Events = append(ps.Events, payloadEvent{
			TimeUnixNano: formatInt(ev.At.UnixNano()),
			Name:         ev.Name,
			Attributes:   toAttrs(ev.Attrs),
		})
	}
	return ps
}

// buildPayload assembles the full OTLP JSON export payload for one
// request's span tree.
func buildPayload(res *resource.Resource, traceID trace.TraceID, root *Span, children []*Span) exportPayload {
	spans := make([]payloadSpan, 0, len(children)+1)
	if root != nil {
		spans = append(spans, toPayloadSpan(traceID, root))
	}
	for _, c := range children {
		spans = append(spans, toPayloadSpan(traceID, c))
	}

	var resAttrs []payloadAttr
	if res != nil {
		for _, kv := range res.Attributes() {
			resAttrs = append(resAttrs, toAttr(kv))
		}
	}

	return exportPayload{
		ResourceSpans: []payloadResourceSpans{{
			Resource: payloadResource{Attributes: resAttrs},
			ScopeSpans: []payloadScopeSpans{{
				Scope: payloadScope{Name: "zerver"},
				Spans: spans,
			}},
		}},
	}
}

// formatInt renders a 64-bit integer as a decimal string — OTLP/JSON
// encodes int64 fields this way to survive JSON's float64 number type.
func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
