package otlp

import (
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/oriys/zerver/internal/telemetry"
)

func TestRecordBuildsStepAndEffectHierarchy(t *testing.T) {
	r := newRequestRecord("req-1", DefaultPromotionConfig())

	r.handle(telemetry.Event{Kind: telemetry.KindRequestStart, RequestID: "req-1", Layer: "GET", Step: "/todos/42"})
	r.handle(telemetry.Event{Kind: telemetry.KindStepStart, RequestID: "req-1", Step: "fetch", StepSeq: 1})
	r.handle(telemetry.Event{Kind: telemetry.KindEffectStart, RequestID: "req-1", EffectKind: "db_get", EffectSeq: 2, Target: "todo:42"})
	r.handle(telemetry.Event{Kind: telemetry.KindEffectEnd, RequestID: "req-1", EffectSeq: 2, Success: true, Bytes: 10})
	r.handle(telemetry.Event{Kind: telemetry.KindStepEnd, RequestID: "req-1", Step: "fetch", StepSeq: 1, Outcome: "continue"})
	r.handle(telemetry.Event{Kind: telemetry.KindRequestEnd, RequestID: "req-1", Status: 200, Outcome: "Done"})

	root, children := r.snapshot()
	if root == nil {
		t.Fatal("expected a root span")
	}
	if root.Kind != trace.SpanKindServer {
		t.Fatalf("root should be SERVER, got %v", root.Kind)
	}
	if !root.Ended {
		t.Fatal("root should be ended after request_end")
	}

	var stepSpan, effectSpan *Span
	for _, c := range children {
		switch c.Name {
		case "zerver.step.fetch":
			stepSpan = c
		case "zerver.effect.db_get":
			effectSpan = c
		}
	}
	if stepSpan == nil || effectSpan == nil {
		t.Fatalf("expected both step and effect spans among children, got %d children", len(children))
	}
	if effectSpan.ParentSpanID != stepSpan.SpanID {
		t.Fatal("effect span should be parented by the enclosing step span")
	}
	if effectSpan.StatusCode == codes.Error {
		t.Fatal("a successful effect must not carry an error status")
	}
}

func TestRecordForceClosesUnfinishedSpansAtRequestEnd(t *testing.T) {
	r := newRequestRecord("req-2", DefaultPromotionConfig())
	r.handle(telemetry.Event{Kind: telemetry.KindRequestStart, RequestID: "req-2", Layer: "POST", Step: "/orders"})
	r.handle(telemetry.Event{Kind: telemetry.KindStepStart, RequestID: "req-2", Step: "charge", StepSeq: 1})
	r.handle(telemetry.Event{Kind: telemetry.KindEffectStart, RequestID: "req-2", EffectKind: "http_post", EffectSeq: 2, Target: "pay"})
	// Neither the step nor the effect ever reports *_end before request_end.
	r.handle(telemetry.Event{Kind: telemetry.KindRequestEnd, RequestID: "req-2", Status: 502, Outcome: "Fail"})

	_, children := r.snapshot()
	for _, c := range children {
		if !c.Ended {
			t.Fatalf("span %s should have been force-closed", c.Name)
		}
		if c.StatusCode != codes.Error || c.StatusMsg != "incomplete" {
			t.Fatalf("force-closed span %s should carry an 'incomplete' error status, got %v/%s", c.Name, c.StatusCode, c.StatusMsg)
		}
	}
}
