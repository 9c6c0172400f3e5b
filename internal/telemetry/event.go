// Package telemetry implements the per-request event taxonomy and
// subscriber fan-out (spec §4.6): request/step/effect lifecycle events,
// need scheduling, and per-queue job lifecycle events, all carrying a
// strictly increasing sequence number within the request.
package telemetry

import "time"

// Kind tags which event this is. The job lifecycle events are split by
// JobClass rather than by Kind — see Event.JobClass.
type Kind string

const (
	KindRequestStart   Kind = "request_start"
	KindRequestEnd     Kind = "request_end"
	KindStepStart      Kind = "step_start"
	KindStepEnd        Kind = "step_end"
	KindNeedScheduled  Kind = "need_scheduled"
	KindEffectStart    Kind = "effect_start"
	KindEffectEnd      Kind = "effect_end"
	KindStepResume     Kind = "step_resume"
	KindExecutorCrash  Kind = "executor_crash"
	KindStepWait       Kind = "step_wait"
	KindJobEnqueued    Kind = "job_enqueued"
	KindJobTaken       Kind = "job_taken"
	KindJobStarted     Kind = "job_started"
	KindJobParked      Kind = "job_parked"
	KindJobResumed     Kind = "job_resumed"
	KindJobCompleted   Kind = "job_completed"
)

// JobClass distinguishes an effect-dispatch job from a continuation job,
// per the `{effect,step}_job_*` event families.
type JobClass string

const (
	JobClassEffect JobClass = "effect"
	JobClassStep   JobClass = "step"
)

// ParkCause names why a job was parked mid-flight.
type ParkCause string

const (
	ParkIOWait      ParkCause = "io_wait"
	ParkRateLimit   ParkCause = "rate_limit"
	ParkBackpressure ParkCause = "backpressure"
	ParkLock        ParkCause = "lock"
	ParkTimer       ParkCause = "timer"
	ParkOther       ParkCause = "other"
)

// Event is the single event type for every kind in the taxonomy; unused
// fields for a given Kind are left zero. Every event carries RequestID
// and a monotonically increasing Seq.
type Event struct {
	Kind      Kind      `json:"kind"`
	Seq       uint64    `json:"seq"`
	RequestID string    `json:"request_id"`
	At        time.Time `json:"at"`

	// step_start / step_end / step_resume / step_wait
	Layer   string `json:"layer,omitempty"`
	Step    string `json:"step,omitempty"`
	StepSeq uint64 `json:"step_seq,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Reason  string `json:"reason,omitempty"`

	// need_scheduled / step_resume
	NeedSeq   uint64 `json:"need_seq,omitempty"`
	NeedCount int    `json:"need_count,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Join      string `json:"join,omitempty"`

	// effect_start / effect_end
	EffectKind string `json:"effect_kind,omitempty"`
	EffectSeq  uint64 `json:"effect_seq,omitempty"`
	Target     string `json:"target,omitempty"`
	Success    bool   `json:"success,omitempty"`
	Bytes      int    `json:"bytes,omitempty"`
	ErrWhat    string `json:"err_what,omitempty"`
	ErrKey     string `json:"err_key,omitempty"`

	// request_end
	Status      int           `json:"status,omitempty"`
	Duration    time.Duration `json:"duration_ns,omitempty"`
	ContentType string        `json:"content_type,omitempty"`
	BodySize    int           `json:"body_size,omitempty"`
	Streaming   bool          `json:"streaming,omitempty"`
	ReqBytes    int           `json:"req_bytes,omitempty"`

	// executor_crash
	Phase     string `json:"phase,omitempty"`
	ErrorName string `json:"error_name,omitempty"`

	// job lifecycle
	JobClass    JobClass  `json:"job_class,omitempty"`
	JobSeq      uint64    `json:"job_seq,omitempty"`
	// OwnerSeq is the EffectSeq (JobClassEffect) or StepSeq (JobClassStep)
	// this job's dispatch belongs to — the span it attaches lifecycle
	// events to, or the parent of its promoted job span.
	OwnerSeq    uint64    `json:"owner_seq,omitempty"`
	QueueName   string    `json:"queue_name,omitempty"`
	HasWorker   bool      `json:"has_worker,omitempty"`
	WorkerIndex int       `json:"worker_index,omitempty"`
	ParkCause   ParkCause `json:"park_cause,omitempty"`
	ParkToken   uint32    `json:"park_token,omitempty"`
	HasConc     bool      `json:"has_concurrency,omitempty"`
	ConcCurrent int       `json:"concurrency_current,omitempty"`
	ConcMax     int       `json:"concurrency_max,omitempty"`
}

// Subscriber receives every event synchronously in the request's own
// goroutine; it must not block. Heavy work (an OTLP HTTP send) belongs off
// that goroutine, under the subscriber implementation's control, not here.
type Subscriber interface {
	OnEvent(Event)
}
