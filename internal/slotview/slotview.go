// Package slotview implements typed, permission-checked access to a
// Context's slot store (spec §4.2).
//
// Go has no dependent types, so the "compile-time read/write set" of the
// spec is split into two halves here:
//
//   - Value-type safety is a real compile error: Tag[T] carries its value
//     type as a generic parameter, and Require/Optional/Put are generic
//     over T, so passing a Tag[string] where a Tag[int] is expected fails
//     to compile.
//   - Set membership (is this tag in R∪W for this step?) is fixed once,
//     at View construction, from the Reads/Writes slices the step
//     declares, and enforced on every call. A violation panics immediately
//     rather than silently degrading, which the Test Harness (and the
//     Executor's crash recovery) turn into a visible failure — the
//     closest a dynamically-typed permission set gets to "compile error"
//     without a code generator.
package slotview

import (
	"fmt"

	"github.com/oriys/zerver/internal/reqcontext"
)

// Tag identifies a slot and the Go type stored there. Construct one with
// NewTag and share the resulting value across every step that touches the
// slot — two Tags with the same id but different T are a programmer error
// and will desynchronize reads from writes.
type Tag[T any] struct {
	id   uint32
	name string
}

// NewTag declares a slot tag. name is used only for panic messages.
func NewTag[T any](id uint32, name string) Tag[T] {
	return Tag[T]{id: id, name: name}
}

func (t Tag[T]) ID() uint32 { return t.id }

// rawTag erases the value type so a View can store untyped permission
// sets built from differently-typed Tag[T] values.
type rawTag struct {
	id   uint32
	name string
}

func erase[T any](t Tag[T]) rawTag { return rawTag{id: t.id, name: t.name} }

// View is a handle over a Context that permits reading only the slots
// named in its read set R and writing only the slots named in its write
// set W (reads are additionally permitted for W, since a step may read
// back what it just wrote).
type View struct {
	ctx    *reqcontext.Context
	reads  map[uint32]rawTag
	writes map[uint32]rawTag
}

// New constructs a View scoped to the given read and write tag sets. Pass
// the erased form of each Tag via Reads/Writes helpers built with R()/W().
func New(ctx *reqcontext.Context, reads, writes []rawTag) *View {
	v := &View{ctx: ctx, reads: make(map[uint32]rawTag, len(reads)), writes: make(map[uint32]rawTag, len(writes))}
	for _, t := range reads {
		v.reads[t.id] = t
	}
	for _, t := range writes {
		v.writes[t.id] = t
	}
	return v
}

// R erases a Tag[T] into the untyped form New's reads/writes parameters
// take. Call it once per tag when building a step's declared permission
// sets: slotview.New(ctx, []rawTag{slotview.R(TagFoo)}, nil).
func R[T any](t Tag[T]) rawTag { return erase(t) }

// W is the same as R, named for use in a View's write set for readability
// at call sites.
func W[T any](t Tag[T]) rawTag { return erase(t) }

func (v *View) permitted(id uint32, forWrite bool) bool {
	if forWrite {
		_, ok := v.writes[id]
		return ok
	}
	if _, ok := v.reads[id]; ok {
		return true
	}
	_, ok := v.writes[id]
	return ok
}

// Require reads a slot that must be in R∪W and must already hold a value.
// It panics if the tag is outside the view's declared permissions or the
// slot has never been written — both are programmer errors the Test
// Harness is expected to catch before this ships.
func Require[T any](v *View, t Tag[T]) T {
	if !v.permitted(t.id, false) {
		panic(fmt.Sprintf("slotview: tag %q not in read or write set", t.name))
	}
	raw, ok := v.ctx.GetSlotRaw(t.id)
	if !ok {
		panic(fmt.Sprintf("slotview: slot %q required but absent", t.name))
	}
	typed, ok := raw.(T)
	if !ok {
		panic(fmt.Sprintf("slotview: slot %q type mismatch", t.name))
	}
	return typed
}

// Optional reads a slot that must be in R∪W, returning the zero value and
// false if absent.
func Optional[T any](v *View, t Tag[T]) (T, bool) {
	var zero T
	if !v.permitted(t.id, false) {
		panic(fmt.Sprintf("slotview: tag %q not in read or write set", t.name))
	}
	raw, ok := v.ctx.GetSlotRaw(t.id)
	if !ok {
		return zero, false
	}
	typed, ok := raw.(T)
	if !ok {
		panic(fmt.Sprintf("slotview: slot %q type mismatch", t.name))
	}
	return typed, true
}

// Put writes a slot that must be in W. It panics on any tag outside the
// view's write set — the slotview equivalent of the spec's "compile error
// if tag ∉ W".
func Put[T any](v *View, t Tag[T], val T) {
	if !v.permitted(t.id, true) {
		panic(fmt.Sprintf("slotview: tag %q not in write set", t.name))
	}
	v.ctx.PutSlotRaw(t.id, val)
}
