// Package executor implements the request state machine (spec §4.8): the
// per-step loop that invokes user Steps, schedules a Need's Effects
// through a host-supplied EffectRunner under join and compensation
// semantics, and finalizes every request exactly once regardless of
// outcome.
package executor

import (
	"github.com/oriys/zerver/internal/circuitbreaker"
	"github.com/oriys/zerver/internal/reqcontext"
	"github.com/oriys/zerver/internal/telemetry"
	"github.com/oriys/zerver/internal/ztypes"
)

// StepFunc is a single pipeline step. It builds its own slotview.View over
// ctx (the executor never does this on a step's behalf — the view's
// read/write sets are fixed by the step author) and returns a Decision.
type StepFunc func(ctx *reqcontext.Context) ztypes.Decision

// Step names a StepFunc for routing and telemetry. Layer is one of
// global_before, route_before, main, continuation, or system, per the
// glossary; it is carried straight through to step_start/step_end.
type Step struct {
	Layer string
	Name  string
	Fn    StepFunc
}

// Route is the ordered step list an Executor runs for one request: an
// optional "before" chain (auth, rate limiting, ...) followed by the
// route's own steps. Both share the same Need/compensation machinery.
type Route struct {
	Before []Step
	Steps  []Step
}

// ParkSink lets an EffectRunner report that a dispatched effect is blocked
// on something externally observable — a connection-pool wait, a rate
// limiter, backpressure — distinct from active run time, so the OTLP
// job-promotion algorithm can account for it. Runners that never park may
// ignore it entirely.
type ParkSink interface {
	Park(cause telemetry.ParkCause, token uint32)
	Resume()
}

// EffectRunner dispatches a single Effect to its concrete transport (spec
// §6). cancel is closed once the owning Need no longer needs the result
// (the join policy resolved without it); implementations must best-effort
// honour it but are not required to return immediately.
type EffectRunner interface {
	Run(effect ztypes.Effect, ctx *reqcontext.Context, cancel <-chan struct{}, park ParkSink) ztypes.EffectResult
}

// BreakerResolver looks up the circuit breaker guarding an effect's
// target, returning nil if the target is not breaker-guarded.
type BreakerResolver func(target string) *circuitbreaker.Breaker

// Outcome labels a finished request for request_end and the Result the
// Executor hands back to its caller.
type Outcome string

const (
	OutcomeDone      Outcome = "Done"
	OutcomeFail      Outcome = "Fail"
	OutcomeCancelled Outcome = "Cancelled"
	OutcomeCrashed   Outcome = "Crashed"
)

// Config tunes job-queue sizing. The queue names surface verbatim in
// job_enqueued telemetry and are independently configurable per spec §6's
// ZER_VER_QUEUE_NAME_EFFECTS / ZER_VER_QUEUE_NAME_CONT.
type Config struct {
	EffectQueueName       string
	ContinuationQueueName string
	EffectWorkers         int
	ContinuationWorkers   int
}

func (c Config) withDefaults() Config {
	if c.EffectQueueName == "" {
		c.EffectQueueName = "effects"
	}
	if c.ContinuationQueueName == "" {
		c.ContinuationQueueName = "continuations"
	}
	if c.EffectWorkers <= 0 {
		c.EffectWorkers = 32
	}
	if c.ContinuationWorkers <= 0 {
		c.ContinuationWorkers = 32
	}
	return c
}

// Result is what Run hands back to the transport.
type Result struct {
	Response ztypes.Response
	Outcome  Outcome
	// Events is the request's full telemetry event log, JSON-encoded by
	// Telemetry.Finish. Subscribers (OTLP, metrics) already saw every
	// event as it happened; this is for callers — chiefly tests — that
	// want the finished log synchronously.
	Events []byte
}
