// Package testharness is the executable equivalent of invoking a single
// Step in isolation: it builds a fabricated Context, lets a test seed
// params/query/headers/slots directly, calls the step function without
// ever constructing an Executor, and asserts against the returned
// Decision's shape.
package testharness

import (
	"fmt"

	"github.com/oriys/zerver/internal/reqcontext"
	"github.com/oriys/zerver/internal/ztypes"
)

// Harness owns one fabricated Context and runs steps directly against it.
type Harness struct {
	ctx *reqcontext.Context
}

// New constructs a Harness with a fresh Context for the given request
// shape. body may be nil for requests with no body.
func New(method, path string, body []byte) *Harness {
	return &Harness{ctx: reqcontext.New(method, path, "127.0.0.1", body)}
}

// Context returns the underlying Context, for steps that need direct
// access beyond the seeding helpers below.
func (h *Harness) Context() *reqcontext.Context { return h.ctx }

// Reset discards the current Context and starts a fresh one, so a single
// Harness can drive multiple cases without reconstructing test fixtures
// each time.
func (h *Harness) Reset(method, path string, body []byte) {
	h.ctx = reqcontext.New(method, path, "127.0.0.1", body)
}

// SetParam seeds a path parameter as the router would before the first
// step runs.
func (h *Harness) SetParam(name, value string) *Harness {
	h.ctx.SetParam(name, value)
	return h
}

// SetQuery seeds a query parameter; repeated calls with the same name
// append another value.
func (h *Harness) SetQuery(name, value string) *Harness {
	h.ctx.SetQuery(name, value)
	return h
}

// SetHeader seeds a request header.
func (h *Harness) SetHeader(name, value string) *Harness {
	h.ctx.SetHeader(name, value)
	return h
}

// SeedSlotString seeds a slot directly with a string value, bypassing any
// slotview permission check — the harness exists precisely to let a test
// set up a step's preconditions without running the effects that would
// normally populate them.
func (h *Harness) SeedSlotString(id uint32, value string) *Harness {
	h.ctx.PutSlotRaw(id, value)
	return h
}

// SeedSlotBytes seeds a slot with raw bytes.
func (h *Harness) SeedSlotBytes(id uint32, value []byte) *Harness {
	h.ctx.PutSlotRaw(id, value)
	return h
}

// SeedSlot seeds a slot with an arbitrary value, for steps that store a
// decoded struct rather than raw bytes or a string.
func (h *Harness) SeedSlot(id uint32, value any) *Harness {
	h.ctx.PutSlotRaw(id, value)
	return h
}

// StepFunc mirrors executor.StepFunc without importing the executor
// package, so the harness has no dependency on the request state machine
// it is meant to bypass.
type StepFunc func(ctx *reqcontext.Context) ztypes.Decision

// Invoke calls fn directly against the harness's Context and returns the
// Decision it produced. It never schedules a Need's effects — a step that
// returns Need is handed back to the test as-is for inspection.
func (h *Harness) Invoke(fn StepFunc) ztypes.Decision {
	return fn(h.ctx)
}

// AssertContinue returns an error unless d is Continue.
func AssertContinue(d ztypes.Decision) error {
	if d.Kind != ztypes.DecisionContinue {
		return fmt.Errorf("testharness: expected Continue, got %s", d.Kind)
	}
	return nil
}

// AssertDone fails unless d is Done with the given status.
func AssertDone(d ztypes.Decision, status int) error {
	if d.Kind != ztypes.DecisionDone {
		return fmt.Errorf("testharness: expected Done, got %s", d.Kind)
	}
	if d.Response.Status != status {
		return fmt.Errorf("testharness: expected status %d, got %d", status, d.Response.Status)
	}
	return nil
}

// AssertFail fails unless d is Fail with the given error kind.
func AssertFail(d ztypes.Decision, kind ztypes.ErrorKind) error {
	if d.Kind != ztypes.DecisionFail {
		return fmt.Errorf("testharness: expected Fail, got %s", d.Kind)
	}
	if d.Err.Kind != kind {
		return fmt.Errorf("testharness: expected error kind %d, got %d", kind, d.Err.Kind)
	}
	return nil
}

// AssertNeed fails unless d is Need with the given effect count.
func AssertNeed(d ztypes.Decision, effectCount int) error {
	if d.Kind != ztypes.DecisionNeed {
		return fmt.Errorf("testharness: expected Need, got %s", d.Kind)
	}
	if len(d.Need.Effects) != effectCount {
		return fmt.Errorf("testharness: expected %d effects, got %d", effectCount, len(d.Need.Effects))
	}
	return nil
}
