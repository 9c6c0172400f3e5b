package otlp

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/oriys/zerver/internal/telemetry"
)

// ParkEpisode is one park/resume pair recorded against a JobState. An
// episode with a zero ResumeAt is still outstanding when the job
// completes, which can only happen if the job's final state transition
// raced the park — computeMetrics treats it as contributing zero wait.
type ParkEpisode struct {
	Cause       telemetry.ParkCause
	Token       uint32
	ParkAt      time.Time
	ResumeAt    time.Time
	Resumed     bool
	ConcCurrent int
	ConcMax     int
	HasConc     bool
}

// JobState tracks one queue→dispatch→run lifecycle for a single effect or
// continuation job, per spec §4.7.
type JobState struct {
	Class     telemetry.JobClass
	JobSeq    uint64
	QueueName string
	NeedSeq   uint64
	OwnerSeq  uint64

	Enqueue time.Time
	Take    time.Time
	Start   time.Time
	End     time.Time

	HasTake, HasStart, HasEnd bool

	Parks []ParkEpisode

	// OwnerSpanID is the effect or step span this job's lifecycle events
	// attach to (or, on promotion, the parent of the dedicated job span).
	OwnerSpanID trace.SpanID
}

// jobMetrics are the five durations §4.7 defines for a completed job.
type jobMetrics struct {
	QueueWait  time.Duration
	Dispatch   time.Duration
	ParkTotal  time.Duration
	RunActive  time.Duration
	Total      time.Duration
	ParkCount  int
}

// saturate clamps a duration to zero, modeling the clock-regression rule
// that every now-minus-past subtraction in this system saturates at zero
// rather than going negative (spec §9).
func saturate(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

func (j *JobState) computeMetrics() jobMetrics {
	var parkTotal time.Duration
	count := 0
	for _, p := range j.Parks {
		if !p.Resumed {
			continue
		}
		parkTotal += saturate(p.ResumeAt.Sub(p.ParkAt))
		count++
	}

	queueWait := saturate(j.Take.Sub(j.Enqueue))
	dispatch := saturate(j.Start.Sub(j.Take))
	runActive := saturate(saturate(j.End.Sub(j.Start)) - parkTotal)
	total := saturate(j.End.Sub(j.Enqueue))

	return jobMetrics{
		QueueWait: queueWait,
		Dispatch:  dispatch,
		ParkTotal: parkTotal,
		RunActive: runActive,
		Total:     total,
		ParkCount: count,
	}
}

// PromotionConfig holds the job-span promotion thresholds read at
// bootstrap (spec §6: ZER_VER_PROMOTE_QUEUE_MS, ZER_VER_PROMOTE_PARK_MS,
// ZER_VER_DEBUG_JOBS).
type PromotionConfig struct {
	QueueThresholdMS int64
	ParkThresholdMS  int64
	ForcePromote     bool
}

// DefaultPromotionConfig matches spec §6's stated defaults.
func DefaultPromotionConfig() PromotionConfig {
	return PromotionConfig{QueueThresholdMS: 5, ParkThresholdMS: 5}
}

func (c PromotionConfig) shouldPromote(m jobMetrics) bool {
	if c.ForcePromote {
		return true
	}
	if m.QueueWait >= time.Duration(c.QueueThresholdMS)*time.Millisecond {
		return true
	}
	if m.ParkTotal >= time.Duration(c.ParkThresholdMS)*time.Millisecond {
		return true
	}
	return false
}

// jobSpanName returns the dedicated promoted-job span name for a class.
func jobSpanName(class telemetry.JobClass) string {
	if class == telemetry.JobClassStep {
		return "zerver.job.step"
	}
	return "zerver.job.effect"
}

// resolve finalizes a completed job: either backfilling its six lifecycle
// event classes onto a dedicated promoted span, or (when not promoted)
// pushing those same six event classes directly onto the owner span.
// Returns the promoted span, if one was created, so the caller can append
// it to the record's child-span list.
func (j *JobState) resolve(owner *Span, cfg PromotionConfig) *Span {
	m := j.computeMetrics()

	if !cfg.shouldPromote(m) {
		j.backfillEvents(owner)
		return nil
	}

	span := newSpan(jobSpanName(j.Class), trace.SpanKindInternal, j.OwnerSpanID, j.Enqueue)
	span.Attrs = append(span.Attrs,
		attribute.String("zerver.queue.name", j.QueueName),
		attribute.Int64("zerver.need.seq", int64(j.NeedSeq)),
		attribute.Int64("zerver.job.seq", int64(j.JobSeq)),
		attribute.Int64("queue_wait_ms", m.QueueWait.Milliseconds()),
		attribute.Int64("dispatch_ms", m.Dispatch.Milliseconds()),
		attribute.Int64("park_wait_ms_total", m.ParkTotal.Milliseconds()),
		attribute.Int("park_count", m.ParkCount),
		attribute.Int64("run_active_ms", m.RunActive.Milliseconds()),
		attribute.Int64("total_ms", m.Total.Milliseconds()),
	)
	j.backfillEvents(span)
	span.end(j.End)
	return span
}

// backfillEvents appends the six lifecycle event classes, in chronological
// order, to the given span (the dedicated promoted span, or the owner
// span when the job wasn't promoted).
func (j *JobState) backfillEvents(span *Span) {
	span.addEvent("zerver.job.enqueued", j.Enqueue)
	if j.HasTake {
		span.addEvent("zerver.job.taken", j.Take)
	}
	if j.HasStart {
		span.addEvent("zerver.job.started", j.Start)
	}
	for _, p := range j.Parks {
		attrs := []attribute.KeyValue{attribute.String("cause", string(p.Cause)), attribute.Int64("token", int64(p.Token))}
		if p.HasConc {
			attrs = append(attrs, attribute.Int("concurrency.current", p.ConcCurrent), attribute.Int("concurrency.max", p.ConcMax))
		}
		span.addEvent("zerver.job.parked", p.ParkAt, attrs...)
		if p.Resumed {
			span.addEvent("zerver.job.resumed", p.ResumeAt)
		}
	}
	if j.HasEnd {
		span.addEvent("zerver.job.completed", j.End)
	}
}
