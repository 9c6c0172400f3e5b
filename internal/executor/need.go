package executor

import (
	"sync"

	"github.com/oriys/zerver/internal/reqcontext"
	"github.com/oriys/zerver/internal/telemetry"
	"github.com/oriys/zerver/internal/ztypes"
)

// completion is one effect's finished (or never-dispatched) outcome,
// tagged with its index into Need.Effects for compensation ordering and
// slot bookkeeping.
type completion struct {
	idx       int
	effect    ztypes.Effect
	result    ztypes.EffectResult
	cancelled bool
}

// runNeed schedules and collects a Need's effects per its Mode and Join,
// storing each completed effect's success bytes into its slot, running
// compensations on terminal failure, and reporting whether the Need
// ultimately failed.
func (e *Executor) runNeed(ctx *reqcontext.Context, tel *telemetry.Telemetry, need ztypes.Need) (needSeq uint64, terminalErr ztypes.Error, failed bool) {
	n := len(need.Effects)
	needSeq = tel.NeedScheduled(n, need.Mode.String(), need.Join.String())
	if n == 0 {
		return needSeq, ztypes.Error{}, false
	}

	cancel := make(chan struct{})
	var closeOnce sync.Once
	cancelAll := func() { closeOnce.Do(func() { close(cancel) }) }

	store := func(c completion) {
		if c.result.Success {
			ctx.PutSlotRaw(c.effect.Token, c.result.Bytes)
		}
	}

	var order []completion

	if need.Mode == ztypes.Sequential {
		for i, eff := range need.Effects {
			select {
			case <-cancel:
				order = append(order, completion{idx: i, effect: eff, cancelled: true})
				continue
			default:
			}
			r := e.dispatchEffect(ctx, tel, needSeq, eff, cancel)
			c := completion{idx: i, effect: eff, result: r}
			store(c)
			order = append(order, c)
			if !r.Success && eff.Required {
				terminalErr = r.Err
				failed = true
				cancelAll()
			}
		}
	} else {
		results := make(chan completion, n)
		for i, eff := range need.Effects {
			go func(i int, eff ztypes.Effect) {
				r := e.dispatchEffect(ctx, tel, needSeq, eff, cancel)
				results <- completion{idx: i, effect: eff, result: r}
			}(i, eff)
		}

		seen := 0
		remaining := 0

	collect:
		for seen < n {
			c := <-results
			seen++
			store(c)
			order = append(order, c)

			switch need.Join {
			case ztypes.JoinAll:
				if !c.result.Success && c.effect.Required {
					terminalErr = c.result.Err
					failed = true
				}
			case ztypes.JoinAllRequired:
				if !c.result.Success && c.effect.Required {
					terminalErr = c.result.Err
					failed = true
				}
				if allRequiredSeen(need.Effects, order) {
					remaining = n - seen
					break collect
				}
			case ztypes.JoinAny:
				if !c.result.Success && c.effect.Required {
					terminalErr = c.result.Err
					failed = true
				}
				cancelAll()
				remaining = n - seen
				break collect
			case ztypes.JoinFirstSuccess:
				if c.result.Success {
					failed = false
					cancelAll()
					remaining = n - seen
					break collect
				}
				terminalErr = c.result.Err
				failed = true
			}
		}

		if remaining > 0 {
			// Optional effects under AllRequired, or effects Any/FirstSuccess
			// already resolved without, may still land after the Need has
			// moved on. Drain and store them without blocking the caller —
			// their results are kept if they arrive before finalization,
			// discarded otherwise (the arena frees with the Context).
			go func(remaining int) {
				for i := 0; i < remaining; i++ {
					store(<-results)
				}
			}(remaining)
		}
	}

	if failed {
		e.runCompensations(ctx, tel, need, order)
	}
	return needSeq, terminalErr, failed
}

// allRequiredSeen reports whether every required effect in effects has a
// matching entry among seen.
func allRequiredSeen(effects []ztypes.Effect, seen []completion) bool {
	seenIdx := make(map[int]bool, len(seen))
	for _, c := range seen {
		seenIdx[c.idx] = true
	}
	for i, eff := range effects {
		if eff.Required && !seenIdx[i] {
			return false
		}
	}
	return true
}

// runCompensations dispatches a Need's compensations in reverse order of
// their corresponding effect's completion, honouring each compensation's
// trigger: OnFailure for effects that reported failure, OnCancel for ones
// the join policy cancelled before they ran. Compensations share the
// effect dispatch pipeline but are themselves plain Effects — they cannot
// emit a further Need (spec §9, Open Question 2) because nothing in this
// pipeline gives an Effect the means to.
func (e *Executor) runCompensations(ctx *reqcontext.Context, tel *telemetry.Telemetry, need ztypes.Need, order []completion) {
	if len(need.Compensations) == 0 {
		return
	}

	for i := len(order) - 1; i >= 0; i-- {
		c := order[i]
		for _, comp := range need.Compensations {
			fires := (comp.Trigger == ztypes.OnFailure && !c.cancelled && !c.result.Success) ||
				(comp.Trigger == ztypes.OnCancel && c.cancelled)
			if !fires {
				continue
			}
			cancel := make(chan struct{})
			e.dispatchEffect(ctx, tel, 0, comp.Effect, cancel)
		}
	}
}
