package executor

import (
	"fmt"
	"time"

	"github.com/oriys/zerver/internal/errs"
	"github.com/oriys/zerver/internal/reqcontext"
	"github.com/oriys/zerver/internal/telemetry"
	"github.com/oriys/zerver/internal/ztypes"
)

// Executor drives one Route's Steps against one Context to completion. It
// owns the two job queues the glossary's Layer names imply: one for Effect
// dispatch, one for continuation re-entry after a Need resolves.
type Executor struct {
	cfg      Config
	runner   EffectRunner
	breakers BreakerResolver
	effectQ  *jobQueue
	contQ    *jobQueue
}

// New constructs an Executor. runner must not be nil; breakers may be nil,
// in which case no effect is circuit-breaker guarded.
func New(cfg Config, runner EffectRunner, breakers BreakerResolver) *Executor {
	cfg = cfg.withDefaults()
	return &Executor{
		cfg:      cfg,
		runner:   runner,
		breakers: breakers,
		effectQ:  newJobQueue(cfg.EffectQueueName, cfg.EffectWorkers),
		contQ:    newJobQueue(cfg.ContinuationQueueName, cfg.ContinuationWorkers),
	}
}

// Run executes route against ctx to completion, reporting every transition
// on tel, and always finalizes exactly once: exit callbacks drain in LIFO
// order, request_end is emitted, and the telemetry log is sealed via
// Finish — regardless of whether the route finished cleanly or a step
// panicked.
func (e *Executor) Run(ctx *reqcontext.Context, route Route, tel *telemetry.Telemetry) (result Result) {
	start := time.Now()
	tel.RequestStart(ctx.Method, ctx.Path)

	outcome := OutcomeDone
	var resp ztypes.Response
	phase := "steps"

	defer func() {
		if r := recover(); r != nil {
			tel.ExecutorCrash(phase, panicName(r))
			outcome = OutcomeCrashed
			resp = errs.Render(ztypes.NewError(ztypes.ErrInternal, "executor", ""))
		}
		ctx.RunExitCallbacks()
		tel.RequestEnd(resp.Status, string(outcome), time.Since(start), contentTypeOf(resp), len(resp.Body), resp.Kind == ztypes.BodyStreaming, len(ctx.Body))
		events, _ := tel.Finish()
		result = Result{Response: resp, Outcome: outcome, Events: events}
	}()

	steps := make([]Step, 0, len(route.Before)+len(route.Steps))
	steps = append(steps, route.Before...)
	steps = append(steps, route.Steps...)

	resp, outcome = e.runSteps(ctx, tel, steps, &phase)
	return
}

// runSteps is the per-step loop of spec §4.8: invoke, branch on the
// returned Decision's kind, and either advance, terminate, or schedule a
// Need and resume.
func (e *Executor) runSteps(ctx *reqcontext.Context, tel *telemetry.Telemetry, steps []Step, phase *string) (ztypes.Response, Outcome) {
	i := 0
	viaContinuation := false
	var enclosingNeed *ztypes.Need

	for i < len(steps) {
		step := steps[i]
		frameNeed := enclosingNeed
		enclosingNeed = nil
		*phase = "step:" + step.Name

		stepSeq := tel.StepStart(step.Layer, step.Name)

		var decision ztypes.Decision
		if viaContinuation {
			e.contQ.run(tel, telemetry.JobClassStep, 0, stepSeq, func(ParkSink) {
				decision = step.Fn(ctx)
			})
		} else {
			decision = step.Fn(ctx)
		}
		viaContinuation = false

		switch decision.Kind {
		case ztypes.DecisionContinue:
			tel.StepEnd(stepSeq, step.Name, decision.Kind.String())
			i++

		case ztypes.DecisionDone:
			tel.StepEnd(stepSeq, step.Name, decision.Kind.String())
			return decision.Response, OutcomeDone

		case ztypes.DecisionFail:
			tel.StepEnd(stepSeq, step.Name, decision.Kind.String())
			ctx.SetError(decision.Err)
			if frameNeed != nil {
				e.runStepFailureCompensations(ctx, tel, *frameNeed)
			}
			return errs.Render(decision.Err), OutcomeFail

		case ztypes.DecisionNeed:
			tel.StepEnd(stepSeq, step.Name, decision.Kind.String())
			*phase = "need:" + step.Name

			needSeq, needErr, failed := e.runNeed(ctx, tel, decision.Need)
			if failed {
				ctx.SetError(needErr)
				return errs.Render(needErr), OutcomeFail
			}

			need := decision.Need
			enclosingNeed = &need
			tel.StepResume(needSeq, need.Mode.String(), need.Join.String())
			viaContinuation = true

			if need.Continuation.Present {
				if idx, ok := findStepIndex(steps, need.Continuation.StepName); ok {
					i = idx
					continue
				}
			}
			// No named continuation, or the name doesn't resolve in this
			// route: re-enter the current step from the top.

		default:
			panic(fmt.Sprintf("executor: unknown decision kind %d", decision.Kind))
		}
	}

	// A route whose last step Continues has nothing left to say.
	return ztypes.Response{Status: 204, Kind: ztypes.BodyComplete}, OutcomeDone
}

// runStepFailureCompensations fires a Need's OnFailure compensations when
// the step that resumed from it subsequently fails — "the enclosing Need
// frame" in spec §4.8 step 5, as distinct from a Need's own terminal
// failure (handled per-effect in runCompensations).
func (e *Executor) runStepFailureCompensations(ctx *reqcontext.Context, tel *telemetry.Telemetry, need ztypes.Need) {
	for i := len(need.Compensations) - 1; i >= 0; i-- {
		comp := need.Compensations[i]
		if comp.Trigger != ztypes.OnFailure {
			continue
		}
		cancel := make(chan struct{})
		e.dispatchEffect(ctx, tel, 0, comp.Effect, cancel)
	}
}

func findStepIndex(steps []Step, name string) (int, bool) {
	for idx, s := range steps {
		if s.Name == name {
			return idx, true
		}
	}
	return 0, false
}

func contentTypeOf(resp ztypes.Response) string {
	for _, h := range resp.Headers {
		if equalFoldASCII(h.Name, "Content-Type") {
			return h.Value
		}
	}
	return ""
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func panicName(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", r)
}
