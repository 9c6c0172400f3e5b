package executor

import (
	"sync"
	"testing"
	"time"

	"github.com/oriys/zerver/internal/circuitbreaker"
	"github.com/oriys/zerver/internal/reqcontext"
	"github.com/oriys/zerver/internal/telemetry"
	"github.com/oriys/zerver/internal/ztypes"
)

// stubRunner answers every effect with a fixed result, optionally keyed
// by the effect's target, and counts how many times Run was actually
// invoked (as opposed to short-circuited by a breaker denial).
type stubRunner struct {
	mu       sync.Mutex
	calls    int
	byTarget map[string]ztypes.EffectResult
	result   ztypes.EffectResult
}

func (s *stubRunner) Run(eff ztypes.Effect, ctx *reqcontext.Context, cancel <-chan struct{}, park ParkSink) ztypes.EffectResult {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if r, ok := s.byTarget[eff.Target]; ok {
		return r
	}
	return s.result
}

func (s *stubRunner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newCtx() *reqcontext.Context {
	return reqcontext.New("GET", "/todos/1", "127.0.0.1", nil)
}

func TestRunContinueThenDone(t *testing.T) {
	route := Route{Steps: []Step{
		{Layer: "main", Name: "noop", Fn: func(ctx *reqcontext.Context) ztypes.Decision {
			return ztypes.Continue()
		}},
		{Layer: "main", Name: "respond", Fn: func(ctx *reqcontext.Context) ztypes.Decision {
			return ztypes.Done(ztypes.JSONResponse(200, []byte(`{"ok":true}`)))
		}},
	}}

	ex := New(Config{}, &stubRunner{}, nil)
	res := ex.Run(newCtx(), route, telemetry.New("r1", nil))

	if res.Outcome != OutcomeDone {
		t.Fatalf("expected Done outcome, got %v", res.Outcome)
	}
	if res.Response.Status != 200 {
		t.Fatalf("expected status 200, got %d", res.Response.Status)
	}
}

func TestRunFailRendersErrorResponse(t *testing.T) {
	route := Route{Steps: []Step{
		{Layer: "main", Name: "reject", Fn: func(ctx *reqcontext.Context) ztypes.Decision {
			return ztypes.Fail(ztypes.NewError(ztypes.ErrNotFound, "todo", "42"))
		}},
	}}

	ex := New(Config{}, &stubRunner{}, nil)
	res := ex.Run(newCtx(), route, telemetry.New("r2", nil))

	if res.Outcome != OutcomeFail {
		t.Fatalf("expected Fail outcome, got %v", res.Outcome)
	}
	if res.Response.Status != 404 {
		t.Fatalf("expected status 404, got %d", res.Response.Status)
	}
}

// TestNeedSequentialAllSucceedsAndResumes drives a step that issues a
// sequential, two-effect, join=All Need on its first entry, then returns
// Done on resumption, and asserts both effects' bytes landed in their
// slots before the step resumed.
func TestNeedSequentialAllSucceedsAndResumes(t *testing.T) {
	entries := 0
	fn := func(ctx *reqcontext.Context) ztypes.Decision {
		entries++
		if entries == 1 {
			return ztypes.NeedOf(ztypes.Need{
				Mode: ztypes.Sequential,
				Join: ztypes.JoinAll,
				Effects: []ztypes.Effect{
					{Kind: ztypes.EffectDBGet, Target: "primary", Token: 1, Required: true},
					{Kind: ztypes.EffectKVCacheGet, Target: "cache", Token: 2, Required: true},
				},
			})
		}
		if _, ok := ctx.GetSlotRaw(1); !ok {
			t.Fatal("slot 1 should be populated by the time the step resumes")
		}
		if _, ok := ctx.GetSlotRaw(2); !ok {
			t.Fatal("slot 2 should be populated by the time the step resumes")
		}
		return ztypes.Done(ztypes.JSONResponse(200, nil))
	}

	runner := &stubRunner{result: ztypes.Success([]byte("v"), ztypes.OwnerArena)}
	ex := New(Config{}, runner, nil)
	res := ex.Run(newCtx(), Route{Steps: []Step{{Layer: "main", Name: "fetch", Fn: fn}}}, telemetry.New("r3", nil))

	if res.Outcome != OutcomeDone {
		t.Fatalf("expected Done outcome, got %v", res.Outcome)
	}
	if entries != 2 {
		t.Fatalf("expected the step to run twice (initial + resume), got %d", entries)
	}
	if runner.callCount() != 2 {
		t.Fatalf("expected both effects dispatched once each, got %d calls", runner.callCount())
	}
}

// TestNeedFailureRunsOnFailureCompensation asserts that a required effect's
// failure fails the Need, renders its error, and still dispatches an
// OnFailure compensation before returning.
func TestNeedFailureRunsOnFailureCompensation(t *testing.T) {
	runner := &stubRunner{byTarget: map[string]ztypes.EffectResult{
		"primary":  ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "db", "primary")),
		"rollback": ztypes.Success(nil, ztypes.OwnerArena),
	}}

	fn := func(ctx *reqcontext.Context) ztypes.Decision {
		return ztypes.NeedOf(ztypes.Need{
			Mode: ztypes.Sequential,
			Join: ztypes.JoinAll,
			Effects: []ztypes.Effect{
				{Kind: ztypes.EffectDBPut, Target: "primary", Token: 1, Required: true},
			},
			Compensations: []ztypes.Compensation{
				{Label: "undo", Trigger: ztypes.OnFailure, Effect: ztypes.Effect{Kind: ztypes.EffectDBDel, Target: "rollback", Token: 2}},
			},
		})
	}

	ex := New(Config{}, runner, nil)
	res := ex.Run(newCtx(), Route{Steps: []Step{{Layer: "main", Name: "write", Fn: fn}}}, telemetry.New("r4", nil))

	if res.Outcome != OutcomeFail {
		t.Fatalf("expected Fail outcome, got %v", res.Outcome)
	}
	if res.Response.Status != 502 {
		t.Fatalf("expected status 502, got %d", res.Response.Status)
	}
	if runner.callCount() != 2 {
		t.Fatalf("expected primary + rollback dispatch, got %d calls", runner.callCount())
	}
}

// TestBreakerDenialSkipsTransport confirms an open breaker produces a
// synthetic UpstreamUnavailable failure without ever invoking the runner.
func TestBreakerDenialSkipsTransport(t *testing.T) {
	br := circuitbreaker.New("flaky", circuitbreaker.Config{FailureThreshold: 1, SuccessThreshold: 1, TimeoutMS: 60_000})
	br.RecordFailure() // trips on the first failure since threshold is 1

	resolver := func(target string) *circuitbreaker.Breaker {
		if target == "flaky" {
			return br
		}
		return nil
	}

	runner := &stubRunner{result: ztypes.Success([]byte("x"), ztypes.OwnerArena)}
	fn := func(ctx *reqcontext.Context) ztypes.Decision {
		return ztypes.NeedOf(ztypes.Need{
			Mode: ztypes.Sequential,
			Join: ztypes.JoinAll,
			Effects: []ztypes.Effect{
				{Kind: ztypes.EffectHTTPGet, Target: "flaky", Token: 1, Required: true},
			},
		})
	}

	ex := New(Config{}, runner, resolver)
	res := ex.Run(newCtx(), Route{Steps: []Step{{Layer: "main", Name: "call", Fn: fn}}}, telemetry.New("r5", nil))

	if runner.callCount() != 0 {
		t.Fatalf("expected the transport never to be touched, got %d calls", runner.callCount())
	}
	if res.Response.Status != 502 {
		t.Fatalf("expected status 502 from the synthetic denial, got %d", res.Response.Status)
	}
}

// TestParallelFirstSuccessResumesOnce asserts a FirstSuccess join resumes
// as soon as one effect succeeds, without waiting for the other.
func TestParallelFirstSuccessResumesOnce(t *testing.T) {
	runner := &stubRunner{byTarget: map[string]ztypes.EffectResult{
		"slow": ztypes.Success([]byte("slow"), ztypes.OwnerArena),
		"fast": ztypes.Success([]byte("fast"), ztypes.OwnerArena),
	}}

	entries := 0
	fn := func(ctx *reqcontext.Context) ztypes.Decision {
		entries++
		if entries == 1 {
			return ztypes.NeedOf(ztypes.Need{
				Mode: ztypes.Parallel,
				Join: ztypes.JoinFirstSuccess,
				Effects: []ztypes.Effect{
					{Kind: ztypes.EffectHTTPGet, Target: "slow", Token: 1, Required: false},
					{Kind: ztypes.EffectHTTPGet, Target: "fast", Token: 2, Required: false},
				},
			})
		}
		return ztypes.Done(ztypes.JSONResponse(200, nil))
	}

	ex := New(Config{}, runner, nil)
	res := ex.Run(newCtx(), Route{Steps: []Step{{Layer: "main", Name: "race", Fn: fn}}}, telemetry.New("r6", nil))

	if res.Outcome != OutcomeDone {
		t.Fatalf("expected Done outcome, got %v", res.Outcome)
	}
}

// cancelWatchRunner answers one target as soon as the watched target's
// call has started, and blocks the watched call until the Need's cancel
// channel closes, recording whether it actually observed the close. It
// exists because stubRunner answers synchronously and so can never prove a
// still-running sibling was cancelled.
type cancelWatchRunner struct {
	immediate      ztypes.EffectResult
	watchedTarget  string
	watchedStarted chan struct{}
	cancelObserved chan struct{}
}

func (r *cancelWatchRunner) Run(eff ztypes.Effect, ctx *reqcontext.Context, cancel <-chan struct{}, park ParkSink) ztypes.EffectResult {
	if eff.Target != r.watchedTarget {
		<-r.watchedStarted
		return r.immediate
	}
	close(r.watchedStarted)
	<-cancel
	close(r.cancelObserved)
	return ztypes.Failure(ztypes.NewError(ztypes.ErrAborted, "effect", eff.Target))
}

// TestParallelJoinAnyResumesOnFirstCompletionAndCancelsSibling asserts a
// JoinAny join resumes on the first effect to complete — success or
// failure — and cancels the effect still in flight rather than waiting
// for it.
func TestParallelJoinAnyResumesOnFirstCompletionAndCancelsSibling(t *testing.T) {
	runner := &cancelWatchRunner{
		immediate:      ztypes.Failure(ztypes.NewError(ztypes.ErrBadRequest, "effect", "fast")),
		watchedTarget:  "slow",
		watchedStarted: make(chan struct{}),
		cancelObserved: make(chan struct{}),
	}

	entries := 0
	fn := func(ctx *reqcontext.Context) ztypes.Decision {
		entries++
		if entries == 1 {
			return ztypes.NeedOf(ztypes.Need{
				Mode: ztypes.Parallel,
				Join: ztypes.JoinAny,
				Effects: []ztypes.Effect{
					{Kind: ztypes.EffectHTTPGet, Target: "slow", Token: 1, Required: false},
					{Kind: ztypes.EffectHTTPGet, Target: "fast", Token: 2, Required: false},
				},
			})
		}
		return ztypes.Done(ztypes.JSONResponse(200, nil))
	}

	ex := New(Config{}, runner, nil)
	res := ex.Run(newCtx(), Route{Steps: []Step{{Layer: "main", Name: "race", Fn: fn}}}, telemetry.New("r7", nil))

	if res.Outcome != OutcomeDone {
		t.Fatalf("expected Done outcome (JoinAny resumes on the first completion regardless of its own success), got %v", res.Outcome)
	}

	select {
	case <-runner.cancelObserved:
	case <-time.After(time.Second):
		t.Fatal("expected the still-running sibling effect to observe cancellation")
	}
}

// TestExecutorCrashIsRecovered confirms a panicking step is caught at the
// Executor boundary and rendered as a 500, rather than propagating.
func TestExecutorCrashIsRecovered(t *testing.T) {
	route := Route{Steps: []Step{
		{Layer: "main", Name: "boom", Fn: func(ctx *reqcontext.Context) ztypes.Decision {
			panic("unexpected nil pointer")
		}},
	}}

	ex := New(Config{}, &stubRunner{}, nil)
	res := ex.Run(newCtx(), route, telemetry.New("r7", nil))

	if res.Outcome != OutcomeCrashed {
		t.Fatalf("expected Crashed outcome, got %v", res.Outcome)
	}
	if res.Response.Status != 500 {
		t.Fatalf("expected status 500, got %d", res.Response.Status)
	}
}

// TestExitCallbacksRunInLIFOOrder asserts finalization drains exit
// callbacks in reverse registration order regardless of outcome.
func TestExitCallbacksRunInLIFOOrder(t *testing.T) {
	var order []int
	route := Route{Steps: []Step{
		{Layer: "main", Name: "register", Fn: func(ctx *reqcontext.Context) ztypes.Decision {
			ctx.OnExit(func(c *reqcontext.Context) { order = append(order, 1) })
			ctx.OnExit(func(c *reqcontext.Context) { order = append(order, 2) })
			return ztypes.Done(ztypes.JSONResponse(204, nil))
		}},
	}}

	ex := New(Config{}, &stubRunner{}, nil)
	ctx := newCtx()
	ex.Run(ctx, route, telemetry.New("r8", nil))

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("expected LIFO exit order [2 1], got %v", order)
	}
}
