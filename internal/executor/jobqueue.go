package executor

import "github.com/oriys/zerver/internal/telemetry"

// jobQueue is a fixed-capacity worker pool. job_enqueued fires immediately
// on run; job_taken fires once a worker token is acquired (the gap between
// the two is queue_wait_ms, which the OTLP recorder's promotion algorithm
// measures); job_started fires just before the job body runs; job_completed
// fires after it returns.
type jobQueue struct {
	name   string
	tokens chan int
}

func newJobQueue(name string, capacity int) *jobQueue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &jobQueue{name: name, tokens: make(chan int, capacity)}
	for i := 0; i < capacity; i++ {
		q.tokens <- i
	}
	return q
}

// parkHandle adapts one job's lifecycle telemetry into the ParkSink an
// EffectRunner is handed, so a runner can report park/resume episodes
// without depending on the telemetry package directly.
type parkHandle struct {
	tel    *telemetry.Telemetry
	class  telemetry.JobClass
	jobSeq uint64
}

func (h parkHandle) Park(cause telemetry.ParkCause, token uint32) {
	h.tel.JobParked(h.class, h.jobSeq, cause, token, 0, 0, false)
}

func (h parkHandle) Resume() {
	h.tel.JobResumed(h.class, h.jobSeq)
}

// run executes fn under an acquired worker token, emitting the job's full
// lifecycle around it. needSeq is the owning Need's sequence number (0 for
// continuation jobs, which are not Need-scoped); ownerSeq is the EffectSeq
// or StepSeq the job's span events attach to in the OTLP recorder.
func (q *jobQueue) run(tel *telemetry.Telemetry, class telemetry.JobClass, needSeq, ownerSeq uint64, fn func(ParkSink)) {
	jobSeq := tel.JobEnqueued(class, q.name, needSeq, ownerSeq)
	idx := <-q.tokens
	defer func() { q.tokens <- idx }()

	tel.JobTaken(class, jobSeq, idx, true)
	tel.JobStarted(class, jobSeq)
	fn(parkHandle{tel: tel, class: class, jobSeq: jobSeq})
	tel.JobCompleted(class, jobSeq)
}
