package executor

import (
	"math/rand"
	"time"

	"github.com/oriys/zerver/internal/ztypes"
)

// backoffCursor tracks one effect's retry backoff across attempts: the
// next sleep starts at InitialBackoffMS and is multiplied by
// BackoffMultiplier after each attempt, capped at MaxBackoffMS, with
// optional full jitter applied only to the sleep itself (the cursor
// advances deterministically regardless of jitter).
type backoffCursor struct {
	nextMS float64
	policy ztypes.Retry
}

func newBackoffCursor(r ztypes.Retry) backoffCursor {
	next := float64(r.InitialBackoffMS)
	if next < 0 {
		next = 0
	}
	return backoffCursor{nextMS: next, policy: r}
}

// sleep blocks for the current backoff and advances the cursor for the
// next attempt. A zero-value cursor (no backoff configured) returns
// immediately.
func (b *backoffCursor) sleep() {
	ms := b.nextMS
	if b.policy.FullJitter && ms > 0 {
		ms = rand.Float64() * ms
	}
	if ms > 0 {
		time.Sleep(time.Duration(ms) * time.Millisecond)
	}

	next := b.nextMS
	if b.policy.BackoffMultiplier > 0 {
		next = b.nextMS * b.policy.BackoffMultiplier
	}
	if b.policy.MaxBackoffMS > 0 && next > float64(b.policy.MaxBackoffMS) {
		next = float64(b.policy.MaxBackoffMS)
	}
	b.nextMS = next
}
