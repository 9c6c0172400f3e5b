package telemetry

import (
	"encoding/json"
	"testing"
)

type recordingSubscriber struct {
	events []Event
}

func (r *recordingSubscriber) OnEvent(e Event) {
	r.events = append(r.events, e)
}

func TestStepStartEndBalance(t *testing.T) {
	sub := &recordingSubscriber{}
	tl := New("req-1", []Subscriber{sub})

	seq := tl.StepStart("handler", "charge")
	tl.StepEnd(seq, "charge", "continue")

	starts, ends := 0, 0
	for _, e := range sub.events {
		switch e.Kind {
		case KindStepStart:
			starts++
		case KindStepEnd:
			ends++
		}
	}
	if starts != 1 || ends != 1 {
		t.Fatalf("expected 1 start and 1 end, got %d/%d", starts, ends)
	}
}

func TestSequenceNumbersStrictlyIncrease(t *testing.T) {
	tl := New("req-1", nil)
	tl.RequestStart("GET", "/x")
	s1 := tl.StepStart("handler", "a")
	tl.StepEnd(s1, "a", "continue")
	tl.RequestEnd(200, "Done", 0, "application/json", 2, false, 0)

	var last uint64
	for _, e := range tl.Events() {
		if e.Seq <= last {
			t.Fatalf("sequence did not strictly increase: %d after %d", e.Seq, last)
		}
		last = e.Seq
	}
}

func TestFinishForceClosesOpenFrames(t *testing.T) {
	tl := New("req-1", nil)
	tl.StepStart("handler", "a")
	needSeq := tl.NeedScheduled(1, "sequential", "all")
	tl.EffectStart(needSeq, "db_get", "todo:42")
	// Neither the step nor the effect is ever closed normally.

	raw, err := tl.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	var events []Event
	if err := json.Unmarshal(raw, &events); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	var forcedStep, forcedEffect bool
	for _, e := range events {
		if e.Kind == KindStepEnd && e.Outcome == "error" {
			forcedStep = true
		}
		if e.Kind == KindEffectEnd && e.ErrWhat == "incomplete" {
			forcedEffect = true
		}
	}
	if !forcedStep || !forcedEffect {
		t.Fatalf("expected force-closed step and effect frames, got step=%v effect=%v", forcedStep, forcedEffect)
	}
}

func TestJobLifecycleCarriesJobSeq(t *testing.T) {
	sub := &recordingSubscriber{}
	tl := New("req-1", []Subscriber{sub})

	needSeq := tl.NeedScheduled(1, "sequential", "all")
	effectSeq := tl.EffectStart(needSeq, "db_get", "todo:42")
	jobSeq := tl.JobEnqueued(JobClassEffect, "effects", needSeq, effectSeq)
	tl.JobTaken(JobClassEffect, jobSeq, 0, true)
	tl.JobStarted(JobClassEffect, jobSeq)
	tl.JobParked(JobClassEffect, jobSeq, ParkIOWait, 7, 1, 4, true)
	tl.JobResumed(JobClassEffect, jobSeq)
	tl.JobCompleted(JobClassEffect, jobSeq)

	count := 0
	for _, e := range sub.events {
		if e.JobClass == JobClassEffect && e.JobSeq == jobSeq {
			count++
		}
	}
	if count != 6 {
		t.Fatalf("expected 6 job-lifecycle events sharing job_seq, got %d", count)
	}
}
