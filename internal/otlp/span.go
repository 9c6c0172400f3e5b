package otlp

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanEvent is a timestamped annotation on a Span — used both for a
// non-promoted job's backfilled lifecycle events and for ordinary
// point-in-time notes.
type SpanEvent struct {
	Name  string
	At    time.Time
	Attrs []attribute.KeyValue
}

// Span is a hand-built OTLP span. The core constructs these directly
// rather than going through an sdktrace.Span, since the job-promotion
// algorithm needs to retroactively decide whether a job gets its own span
// only after it completes.
type Span struct {
	SpanID       trace.SpanID
	ParentSpanID trace.SpanID // zero value means "no parent" (the root)
	Name         string
	Kind         trace.SpanKind
	Start        time.Time
	End          time.Time
	Ended        bool
	Attrs        []attribute.KeyValue
	StatusCode   codes.Code
	StatusMsg    string
	Events       []SpanEvent
}

func newSpan(name string, kind trace.SpanKind, parent trace.SpanID, start time.Time) *Span {
	return &Span{
		SpanID:       newSpanID(),
		ParentSpanID: parent,
		Name:         name,
		Kind:         kind,
		Start:        start,
		StatusCode:   codes.Unset,
	}
}

func (s *Span) end(at time.Time) {
	if s.Ended {
		return
	}
	s.End = at
	s.Ended = true
}

// forceClose ends a span that was still open at request finalization,
// per spec §4.7 ("force-close any unfinished step/effect spans, set
// status error 'incomplete'").
func (s *Span) forceClose(at time.Time) {
	if s.Ended {
		return
	}
	s.end(at)
	s.StatusCode = codes.Error
	s.StatusMsg = "incomplete"
}

func (s *Span) addEvent(name string, at time.Time, attrs ...attribute.KeyValue) {
	s.Events = append(s.Events, SpanEvent{Name: name, At: at, Attrs: attrs})
}
