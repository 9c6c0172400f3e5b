package telemetry

import (
	"encoding/json"
	"sync"
	"time"
)

// frame is an open step or effect span pushed by *Start and popped by the
// matching *End, so Finish can detect and force-close anything left open.
type frame struct {
	isEffect bool
	name     string
	seq      uint64
}

// Telemetry buffers one request's event log, assigns strictly increasing
// sequence numbers, and fans every event out to a fixed subscriber list.
// A Telemetry is owned by exactly one request's Executor and is not safe
// for concurrent use across requests, but IS safe for the concurrent
// effect dispatch within a single Parallel Need — every method takes mu.
type Telemetry struct {
	mu          sync.Mutex
	requestID   string
	subscribers []Subscriber

	seq    uint64
	jobSeq uint64
	events []Event
	open   []frame
}

// New constructs a Telemetry for one request. subscribers is fixed for
// the lifetime of the Telemetry (no dynamic registration mid-request, per
// spec §5).
func New(requestID string, subscribers []Subscriber) *Telemetry {
	return &Telemetry{requestID: requestID, subscribers: subscribers}
}

func (t *Telemetry) nextSeq() uint64 {
	t.seq++
	return t.seq
}

// emit must be called under t.mu. It stamps RequestID/Seq/At, appends to
// the log, and fans out synchronously, returning the assigned Seq.
func (t *Telemetry) emit(ev Event) uint64 {
	seq := t.nextSeq()
	ev.RequestID = t.requestID
	ev.Seq = seq
	ev.At = time.Now()
	t.events = append(t.events, ev)
	for _, s := range t.subscribers {
		s.OnEvent(ev)
	}
	return seq
}

// emitFrame is emit plus stamping the log's own sequence number into the
// event's step/need/effect-specific id field, since step_start,
// need_scheduled and effect_start mint their frame's identifying number
// from the same counter as the log position.
func (t *Telemetry) emitFrame(ev Event, setID func(*Event, uint64)) uint64 {
	seq := t.nextSeq()
	setID(&ev, seq)
	ev.RequestID = t.requestID
	ev.Seq = seq
	ev.At = time.Now()
	t.events = append(t.events, ev)
	for _, s := range t.subscribers {
		s.OnEvent(ev)
	}
	return seq
}

// RequestStart emits request_start.
func (t *Telemetry) RequestStart(method, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emit(Event{Kind: KindRequestStart, Layer: method, Step: path})
}

// RequestEnd emits request_end with outcome/status/duration metrics. It
// does not itself drain the open-frame stack — call Finish for that.
func (t *Telemetry) RequestEnd(status int, outcome string, duration time.Duration, contentType string, bodySize int, streaming bool, reqBytes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emit(Event{
		Kind:        KindRequestEnd,
		Outcome:     outcome,
		Status:      status,
		Duration:    duration,
		ContentType: contentType,
		BodySize:    bodySize,
		Streaming:   streaming,
		ReqBytes:    reqBytes,
	})
}

// StepStart emits step_start and returns the step's sequence number.
func (t *Telemetry) StepStart(layer, name string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	seq := t.emitFrame(Event{Kind: KindStepStart, Layer: layer, Step: name}, func(e *Event, id uint64) { e.StepSeq = id })
	t.open = append(t.open, frame{isEffect: false, name: name, seq: seq})
	return seq
}

// StepEnd emits step_end for the given step sequence number and pops its
// frame from the open stack (LIFO — it must be the top frame under
// correct nesting; Finish handles any mismatch).
func (t *Telemetry) StepEnd(stepSeq uint64, name string, outcome string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emit(Event{Kind: KindStepEnd, Step: name, StepSeq: stepSeq, Outcome: outcome})
	t.popFrame(false, stepSeq)
}

// NeedScheduled emits need_scheduled and returns the Need's sequence
// number.
func (t *Telemetry) NeedScheduled(count int, mode, join string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.emitFrame(Event{Kind: KindNeedScheduled, NeedCount: count, Mode: mode, Join: join}, func(e *Event, id uint64) { e.NeedSeq = id })
}

// EffectStart emits effect_start and returns the effect's sequence
// number.
func (t *Telemetry) EffectStart(needSeq uint64, effectKind, target string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	seq := t.emitFrame(Event{Kind: KindEffectStart, NeedSeq: needSeq, EffectKind: effectKind, Target: target}, func(e *Event, id uint64) { e.EffectSeq = id })
	t.open = append(t.open, frame{isEffect: true, name: effectKind, seq: seq})
	return seq
}

// EffectEnd emits effect_end and pops the effect's open frame.
func (t *Telemetry) EffectEnd(effectSeq uint64, effectKind string, success bool, bytes int, errWhat, errKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emit(Event{
		Kind:       KindEffectEnd,
		EffectKind: effectKind,
		EffectSeq:  effectSeq,
		Success:    success,
		Bytes:      bytes,
		ErrWhat:    errWhat,
		ErrKey:     errKey,
	})
	t.popFrame(true, effectSeq)
}

// StepResume emits step_resume, run just before a paused step's
// continuation (or the step itself) re-enters.
func (t *Telemetry) StepResume(needSeq uint64, mode, join string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emit(Event{Kind: KindStepResume, NeedSeq: needSeq, Mode: mode, Join: join})
}

// ExecutorCrash emits executor_crash for an unexpected panic/error caught
// at the Executor boundary.
func (t *Telemetry) ExecutorCrash(phase, errorName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emit(Event{Kind: KindExecutorCrash, Phase: phase, ErrorName: errorName})
}

// StepWait emits step_wait, e.g. while a step is blocked waiting on a
// request-level deadline.
func (t *Telemetry) StepWait(stepSeq uint64, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emit(Event{Kind: KindStepWait, StepSeq: stepSeq, Reason: reason})
}

// JobEnqueued emits a job_enqueued event for the given class/queue and
// returns a job sequence number used to correlate the rest of that job's
// lifecycle events. ownerSeq is the EffectSeq (JobClassEffect) or StepSeq
// (JobClassStep) the job's span events attach to.
func (t *Telemetry) JobEnqueued(class JobClass, queueName string, needSeq, ownerSeq uint64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobSeq++
	jobSeq := t.jobSeq
	t.emit(Event{Kind: KindJobEnqueued, JobClass: class, JobSeq: jobSeq, QueueName: queueName, NeedSeq: needSeq, OwnerSeq: ownerSeq})
	return jobSeq
}

func (t *Telemetry) JobTaken(class JobClass, jobSeq uint64, workerIndex int, hasWorker bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emit(Event{Kind: KindJobTaken, JobClass: class, JobSeq: jobSeq, WorkerIndex: workerIndex, HasWorker: hasWorker})
}

func (t *Telemetry) JobStarted(class JobClass, jobSeq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emit(Event{Kind: KindJobStarted, JobClass: class, JobSeq: jobSeq})
}

func (t *Telemetry) JobParked(class JobClass, jobSeq uint64, cause ParkCause, token uint32, concCurrent, concMax int, hasConc bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emit(Event{
		Kind: KindJobParked, JobClass: class, JobSeq: jobSeq,
		ParkCause: cause, ParkToken: token,
		ConcCurrent: concCurrent, ConcMax: concMax, HasConc: hasConc,
	})
}

func (t *Telemetry) JobResumed(class JobClass, jobSeq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emit(Event{Kind: KindJobResumed, JobClass: class, JobSeq: jobSeq})
}

func (t *Telemetry) JobCompleted(class JobClass, jobSeq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emit(Event{Kind: KindJobCompleted, JobClass: class, JobSeq: jobSeq})
}

// popFrame removes the open frame with the given seq, preferring the top
// of the stack (the common case under correct nesting) but scanning
// inward if another effect's frame sits above it in a Parallel Need.
func (t *Telemetry) popFrame(isEffect bool, seq uint64) {
	for i := len(t.open) - 1; i >= 0; i-- {
		if t.open[i].isEffect == isEffect && t.open[i].seq == seq {
			t.open = append(t.open[:i], t.open[i+1:]...)
			return
		}
	}
}

// Finish force-closes any frame left open (marking it an error outcome,
// per spec §4.6) in LIFO order and returns the full event log serialized
// to JSON. Call exactly once, at request end, after RequestEnd.
func (t *Telemetry) Finish() ([]byte, error) {
	t.mu.Lock()
	for i := len(t.open) - 1; i >= 0; i-- {
		f := t.open[i]
		if f.isEffect {
			t.emit(Event{Kind: KindEffectEnd, EffectKind: f.name, EffectSeq: f.seq, Success: false, ErrWhat: "incomplete"})
		} else {
			t.emit(Event{Kind: KindStepEnd, Step: f.name, StepSeq: f.seq, Outcome: "error"})
		}
	}
	t.open = nil
	events := t.events
	t.mu.Unlock()

	return json.Marshal(events)
}

// Events returns the accumulated event log without draining open frames;
// used by tests that want to assert mid-request state.
func (t *Telemetry) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}
