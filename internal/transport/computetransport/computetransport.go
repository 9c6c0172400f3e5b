// Package computetransport dispatches the compute_task/accelerator_task
// Effect family (spec §6) to registered pure-Go functions, grounded on the
// errgroup fan-out the teacher's own Invoke pipeline uses to bound
// concurrent work against a shared pool.
//
// An accelerator_task Effect runs through the identical pool as a
// compute_task — Target is treated purely as a configuration label (e.g.
// "gpu:default") distinguishing which accelerator class a caller wanted,
// since zerver has no actual GPU/driver dependency to bind one to.
package computetransport

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oriys/zerver/internal/executor"
	"github.com/oriys/zerver/internal/reqcontext"
	"github.com/oriys/zerver/internal/ztypes"
)

// Func is a registered compute function: given the Effect's Payload, it
// returns the result bytes or an error.
type Func func(ctx context.Context, payload []byte) ([]byte, error)

// Transport implements executor.EffectRunner for the compute_task and
// accelerator_task Effect kinds. All registered functions share one
// concurrency-limited errgroup, so a burst of compute effects is bounded by
// maxConcurrency rather than spawning an unbounded goroutine per call.
type Transport struct {
	funcs map[string]Func
	pool  *errgroup.Group
}

// New builds a Transport whose worker pool admits at most maxConcurrency
// functions running at once; additional calls block until a slot frees up.
func New(maxConcurrency int) *Transport {
	pool := new(errgroup.Group)
	pool.SetLimit(maxConcurrency)
	return &Transport{funcs: make(map[string]Func), pool: pool}
}

// Register adds or replaces the function served under name. It is not
// safe to call concurrently with Run; functions are expected to be
// registered once at startup.
func (t *Transport) Register(name string, fn Func) {
	t.funcs[name] = fn
}

var _ executor.EffectRunner = (*Transport)(nil)

func (t *Transport) Run(effect ztypes.Effect, ctx *reqcontext.Context, cancel <-chan struct{}, park executor.ParkSink) ztypes.EffectResult {
	if effect.Kind != ztypes.EffectCompute && effect.Kind != ztypes.EffectAccelerator {
		return ztypes.Failure(ztypes.NewError(ztypes.ErrInternal, "compute", effect.Target))
	}

	fn, ok := t.funcs[effect.ComputeFunc]
	if !ok {
		return ztypes.Failure(ztypes.NewError(ztypes.ErrNotFound, "compute", effect.ComputeFunc))
	}

	timeout := effect.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, stop := context.WithTimeout(context.Background(), timeout)
	defer stop()

	type outcome struct {
		data []byte
		err  error
	}
	done := make(chan outcome, 1)

	t.pool.Go(func() error {
		data, err := fn(reqCtx, effect.Payload)
		done <- outcome{data: data, err: err}
		return nil
	})

	select {
	case out := <-done:
		if out.err != nil {
			return ztypes.Failure(ztypes.NewError(ztypes.ErrInternal, "compute", effect.ComputeFunc))
		}
		return ztypes.Success(out.data, ztypes.OwnerCaller)
	case <-reqCtx.Done():
		return ztypes.Failure(ztypes.NewError(ztypes.ErrTimeout, "compute", effect.ComputeFunc))
	case <-cancel:
		return ztypes.Failure(ztypes.NewError(ztypes.ErrAborted, "compute", effect.ComputeFunc))
	}
}
