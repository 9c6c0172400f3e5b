package otlp

import (
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/oriys/zerver/internal/telemetry"
)

// RequestRecord is the in-flight span tree for a single request: a root
// SERVER span, nested step/effect spans, and the job states backing the
// promotion decision (spec §4.7). It is looked up once from the
// Recorder's in-flight map and, from that point on, mutated only under
// its own mutex — no contention with other requests.
type RequestRecord struct {
	mu sync.Mutex

	requestID string
	cfg       PromotionConfig

	TraceID trace.TraceID
	Root    *Span
	Children []*Span

	stepStack   []*Span
	stepSpans   map[uint64]*Span
	effectSpans map[uint64]*Span
	jobs        map[uint64]*JobState

	finished bool
}

func newRequestRecord(requestID string, cfg PromotionConfig) *RequestRecord {
	return &RequestRecord{
		requestID:   requestID,
		cfg:         cfg,
		TraceID:     newTraceID(),
		stepSpans:   make(map[uint64]*Span),
		effectSpans: make(map[uint64]*Span),
		jobs:        make(map[uint64]*JobState),
	}
}

// handle dispatches one telemetry event into the record's span tree. The
// caller (Recorder.OnEvent) has already released the Recorder's own
// in-flight-map mutex by the time this runs.
func (r *RequestRecord) handle(e telemetry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return
	}

	switch e.Kind {
	case telemetry.KindRequestStart:
		r.onRequestStart(e)
	case telemetry.KindStepStart:
		r.onStepStart(e)
	case telemetry.KindStepEnd:
		r.onStepEnd(e)
	case telemetry.KindEffectStart:
		r.onEffectStart(e)
	case telemetry.KindEffectEnd:
		r.onEffectEnd(e)
	case telemetry.KindJobEnqueued:
		r.onJobEnqueued(e)
	case telemetry.KindJobTaken:
		r.onJobTaken(e)
	case telemetry.KindJobStarted:
		r.onJobStarted(e)
	case telemetry.KindJobParked:
		r.onJobParked(e)
	case telemetry.KindJobResumed:
		r.onJobResumed(e)
	case telemetry.KindJobCompleted:
		r.onJobCompleted(e)
	case telemetry.KindExecutorCrash:
		r.onExecutorCrash(e)
	case telemetry.KindRequestEnd:
		r.onRequestEnd(e)
	}
}

func (r *RequestRecord) onRequestStart(e telemetry.Event) {
	r.Root = newSpan("zerver.request", trace.SpanKindServer, trace.SpanID{}, e.At)
	r.Root.Attrs = append(r.Root.Attrs,
		attribute.String("zerver.request_id", r.requestID),
		attribute.String("http.method", e.Layer),
		attribute.String("http.target", e.Step),
	)
}

// currentParent returns the span new effect/step spans should nest under:
// the innermost open step, or the root if none is open.
func (r *RequestRecord) currentParent() trace.SpanID {
	if len(r.stepStack) > 0 {
		return r.stepStack[len(r.stepStack)-1].SpanID
	}
	if r.Root != nil {
		return r.Root.SpanID
	}
	return trace.SpanID{}
}

func (r *RequestRecord) onStepStart(e telemetry.Event) {
	span := newSpan("zerver.step."+e.Step, trace.SpanKindInternal, r.currentParent(), e.At)
	r.stepSpans[e.StepSeq] = span
	r.stepStack = append(r.stepStack, span)
	r.Children = append(r.Children, span)
}

func (r *RequestRecord) onStepEnd(e telemetry.Event) {
	span, ok := r.stepSpans[e.StepSeq]
	if !ok {
		return
	}
	span.end(e.At)
	if e.Outcome == "fail" || e.Outcome == "error" {
		span.StatusCode = codes.Error
		span.StatusMsg = e.Outcome
	}
	for i := len(r.stepStack) - 1; i >= 0; i-- {
		if r.stepStack[i] == span {
			r.stepStack = append(r.stepStack[:i], r.stepStack[i+1:]...)
			break
		}
	}
}

func (r *RequestRecord) onEffectStart(e telemetry.Event) {
	span := newSpan("zerver.effect."+e.EffectKind, trace.SpanKindClient, r.currentParent(), e.At)
	span.Attrs = effectAttributes(e.EffectKind, e.Target)
	r.effectSpans[e.EffectSeq] = span
	r.Children = append(r.Children, span)
}

func (r *RequestRecord) onEffectEnd(e telemetry.Event) {
	span, ok := r.effectSpans[e.EffectSeq]
	if !ok {
		return
	}
	span.end(e.At)
	if !e.Success {
		span.StatusCode = codes.Error
		span.StatusMsg = e.ErrWhat
	}
}

func (r *RequestRecord) ownerSpan(class telemetry.JobClass, ownerSeq uint64) *Span {
	if class == telemetry.JobClassStep {
		if s, ok := r.stepSpans[ownerSeq]; ok {
			return s
		}
	} else if s, ok := r.effectSpans[ownerSeq]; ok {
		return s
	}
	if r.Root != nil {
		return r.Root
	}
	return nil
}

func (r *RequestRecord) onJobEnqueued(e telemetry.Event) {
	owner := r.ownerSpan(e.JobClass, e.OwnerSeq)
	var ownerID trace.SpanID
	if owner != nil {
		ownerID = owner.SpanID
	}
	r.jobs[e.JobSeq] = &JobState{
		Class:       e.JobClass,
		JobSeq:      e.JobSeq,
		QueueName:   e.QueueName,
		NeedSeq:     e.NeedSeq,
		OwnerSeq:    e.OwnerSeq,
		Enqueue:     e.At,
		OwnerSpanID: ownerID,
	}
}

func (r *RequestRecord) onJobTaken(e telemetry.Event) {
	if j, ok := r.jobs[e.JobSeq]; ok {
		j.Take = e.At
		j.HasTake = true
	}
}

func (r *RequestRecord) onJobStarted(e telemetry.Event) {
	if j, ok := r.jobs[e.JobSeq]; ok {
		j.Start = e.At
		j.HasStart = true
	}
}

func (r *RequestRecord) onJobParked(e telemetry.Event) {
	if j, ok := r.jobs[e.JobSeq]; ok {
		j.Parks = append(j.Parks, ParkEpisode{
			Cause:       e.ParkCause,
			Token:       e.ParkToken,
			ParkAt:      e.At,
			ConcCurrent: e.ConcCurrent,
			ConcMax:     e.ConcMax,
			HasConc:     e.HasConc,
		})
	}
}

func (r *RequestRecord) onJobResumed(e telemetry.Event) {
	if j, ok := r.jobs[e.JobSeq]; ok {
		for i := len(j.Parks) - 1; i >= 0; i-- {
			if !j.Parks[i].Resumed {
				j.Parks[i].Resumed = true
				j.Parks[i].ResumeAt = e.At
				break
			}
		}
	}
}

func (r *RequestRecord) onJobCompleted(e telemetry.Event) {
	j, ok := r.jobs[e.JobSeq]
	if !ok {
		return
	}
	j.End = e.At
	j.HasEnd = true

	owner := r.ownerSpan(j.Class, j.OwnerSeq)
	if owner == nil {
		return
	}
	if span := j.resolve(owner, r.cfg); span != nil {
		r.Children = append(r.Children, span)
	}
}

func (r *RequestRecord) onExecutorCrash(e telemetry.Event) {
	if r.Root == nil {
		return
	}
	r.Root.addEvent("zerver.executor_crash", e.At,
		attribute.String("phase", e.Phase),
		attribute.String("error_name", e.ErrorName),
	)
}

func (r *RequestRecord) onRequestEnd(e telemetry.Event) {
	if r.Root == nil {
		return
	}
	for _, span := range r.stepStack {
		span.forceClose(e.At)
	}
	for _, span := range r.effectSpans {
		span.forceClose(e.At)
	}
	r.Root.Attrs = append(r.Root.Attrs,
		attribute.Int("http.status_code", e.Status),
		attribute.String("zerver.outcome", e.Outcome),
	)
	if e.Status >= 500 {
		r.Root.StatusCode = codes.Error
	}
	r.Root.end(e.At)
	r.finished = true
}

// snapshot returns the root and children for export, after request_end
// has run.
func (r *RequestRecord) snapshot() (*Span, []*Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	children := make([]*Span, len(r.Children))
	copy(children, r.Children)
	return r.Root, children
}
