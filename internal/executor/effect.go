package executor

import (
	"github.com/oriys/zerver/internal/circuitbreaker"
	"github.com/oriys/zerver/internal/reqcontext"
	"github.com/oriys/zerver/internal/telemetry"
	"github.com/oriys/zerver/internal/ztypes"
)

func errCtx(r ztypes.EffectResult) (what, key string) {
	if r.Success {
		return "", ""
	}
	return r.Err.Ctx.What, r.Err.Ctx.Key
}

// dispatchEffect runs one effect to completion, including retries, and
// returns its final EffectResult. It does not write into ctx's slot store
// itself — runNeed does that once it has also recorded completion order
// for compensation bookkeeping.
func (e *Executor) dispatchEffect(ctx *reqcontext.Context, tel *telemetry.Telemetry, needSeq uint64, eff ztypes.Effect, cancel <-chan struct{}) ztypes.EffectResult {
	var breaker *circuitbreaker.Breaker
	if e.breakers != nil {
		breaker = e.breakers(eff.Target)
	}

	attempts := eff.Retry.MaxAttempts + 1
	cursor := newBackoffCursor(eff.Retry)

	var result ztypes.EffectResult
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			cursor.sleep()
		}

		select {
		case <-cancel:
			return ztypes.Failure(ztypes.NewError(ztypes.ErrAborted, "effect", eff.Target))
		default:
		}

		if breaker != nil && !breaker.CanExecute() {
			// A denied breaker check never touches the transport — still
			// reported as a start/end pair so the event log accounts for
			// every attempt, synthetic or not.
			result = ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "effect", eff.Target))
			seq := tel.EffectStart(needSeq, string(eff.Kind), eff.Target)
			what, key := errCtx(result)
			tel.EffectEnd(seq, string(eff.Kind), false, 0, what, key)
		} else {
			seq := tel.EffectStart(needSeq, string(eff.Kind), eff.Target)
			result = e.runEffect(ctx, tel, needSeq, eff, cancel, seq)
			if breaker != nil {
				if result.Success {
					breaker.RecordSuccess()
				} else {
					breaker.RecordFailure()
				}
			}
			what, key := errCtx(result)
			tel.EffectEnd(seq, string(eff.Kind), result.Success, len(result.Bytes), what, key)
		}

		if result.Success {
			break
		}
	}
	return result
}

// runEffect dispatches one attempt through the effect job queue, wiring
// the effect's own effect_start sequence number in as the job's owner so
// a promoted OTLP span attaches to the right frame.
func (e *Executor) runEffect(ctx *reqcontext.Context, tel *telemetry.Telemetry, needSeq uint64, eff ztypes.Effect, cancel <-chan struct{}, effectSeq uint64) ztypes.EffectResult {
	var result ztypes.EffectResult
	e.effectQ.run(tel, telemetry.JobClassEffect, needSeq, effectSeq, func(park ParkSink) {
		result = e.runner.Run(eff, ctx, cancel, park)
	})
	return result
}
