// Package reqcontext implements the per-request Context: the arena-backed
// owner of everything a Step or Effect touches during a single request —
// the parsed method/path/client-ip/body, header/param/query lookups, typed
// slot storage, exit callbacks, the trace-event buffer, and the last
// observed Error.
package reqcontext

import (
	"strings"
	"sync"
	"time"

	"github.com/oriys/zerver/internal/ztypes"
)

// ExitCallback runs at request end in LIFO order regardless of outcome. It
// must not retain any arena-owned slice past its own return.
type ExitCallback func(c *Context)

// Context owns a per-request arena and every value borrowed or copied into
// it. The zero value is not usable; construct with New.
type Context struct {
	arena *arena

	Method   string
	Path     string
	ClientIP string
	Body     []byte

	headers map[string][]string // lowercased keys
	params  map[string]string
	query   map[string][]string

	slotMu sync.Mutex
	slots  map[uint32]any

	exitCallbacks []ExitCallback

	trace []TraceEvent

	Status int

	requestID string
	user      string
	hasUser   bool

	start time.Time

	lastErr    ztypes.Error
	hasLastErr bool
}

// TraceEvent is a single append-only entry in the Context's trace buffer.
// It is deliberately decoupled from the richer telemetry.Event the
// Telemetry component emits — this buffer is the lightweight per-request
// breadcrumb trail a Step or test can inspect directly off the Context,
// per spec §3.
type TraceEvent struct {
	At   time.Time
	Name string
	Data string
}

// New constructs an empty Context backed by a fresh arena.
func New(method, path, clientIP string, body []byte) *Context {
	a := newArena(len(body) + 256)
	return &Context{
		arena:    a,
		Method:   method,
		Path:     path,
		ClientIP: clientIP,
		Body:     a.dup(body),
		headers:  make(map[string][]string),
		params:   make(map[string]string),
		query:    make(map[string][]string),
		slots:    make(map[uint32]any),
		Status:   0,
		start:    time.Now(),
	}
}

// SetHeader stores a header value under its lowercased name, duplicating
// both into the arena so the Context never aliases the transport's own
// buffers.
func (c *Context) SetHeader(name, value string) {
	key := c.arena.dupString(strings.ToLower(name))
	val := c.arena.dupString(value)
	c.headers[key] = append(c.headers[key], val)
}

// Header performs a case-insensitive lookup, returning the first value and
// whether it was present. Per invariant 1 (spec §8): for all headers H and
// all casings C(H), ctx.Header(C(H)) == ctx.Header(lower(H)).
func (c *Context) Header(name string) (string, bool) {
	vals, ok := c.headers[strings.ToLower(name)]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// HeaderValues returns every value recorded under name (case-insensitive).
func (c *Context) HeaderValues(name string) []string {
	return c.headers[strings.ToLower(name)]
}

// SetParam stores a path parameter extracted by the router.
func (c *Context) SetParam(name, value string) {
	c.params[name] = c.arena.dupString(value)
}

// Param returns a path parameter and whether it was present.
func (c *Context) Param(name string) (string, bool) {
	v, ok := c.params[name]
	return v, ok
}

// SetQuery stores a query parameter value (a key may repeat).
func (c *Context) SetQuery(name, value string) {
	key := c.arena.dupString(name)
	c.query[key] = append(c.query[key], c.arena.dupString(value))
}

// Query returns the first value for a query key, if present.
func (c *Context) Query(name string) (string, bool) {
	vals, ok := c.query[name]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// QueryValues returns every value recorded under a query key.
func (c *Context) QueryValues(name string) []string {
	return c.query[name]
}

// RequestID returns the current request id, which is empty until
// EnsureRequestID or SetRequestID has run.
func (c *Context) RequestID() string { return c.requestID }

// SetRequestID installs an externally-determined request id (e.g. one
// extracted from a correlation header by the correlation package). It is
// idempotent-safe: once set, subsequent reads are stable for the rest of
// the request, per invariant.
func (c *Context) SetRequestID(id string) {
	c.requestID = c.arena.dupString(id)
}

// EnsureRequestID guarantees RequestID() is non-empty, minting one from the
// process-wide monotonic counter if nothing has set it yet.
func (c *Context) EnsureRequestID() string {
	if c.requestID == "" {
		c.requestID = nextRequestID()
	}
	return c.requestID
}

// SetUser records the authenticated subject, duplicating it into the
// arena.
func (c *Context) SetUser(sub string) {
	c.user = c.arena.dupString(sub)
	c.hasUser = true
}

// User returns the authenticated subject, if any was set.
func (c *Context) User() (string, bool) {
	return c.user, c.hasUser
}

// OnExit registers a callback run in LIFO order at request end.
func (c *Context) OnExit(cb ExitCallback) {
	c.exitCallbacks = append(c.exitCallbacks, cb)
}

// RunExitCallbacks drains registered callbacks in reverse insertion order.
// Called once by the executor during finalization, regardless of outcome.
func (c *Context) RunExitCallbacks() {
	for i := len(c.exitCallbacks) - 1; i >= 0; i-- {
		c.exitCallbacks[i](c)
	}
	c.exitCallbacks = nil
}

// Trace appends an event to the lightweight per-request trace buffer.
func (c *Context) Trace(name, data string) {
	c.trace = append(c.trace, TraceEvent{At: time.Now(), Name: name, Data: data})
}

// TraceEvents returns the accumulated trace buffer.
func (c *Context) TraceEvents() []TraceEvent { return c.trace }

// SetError records the last-observed Error for the request.
func (c *Context) SetError(err ztypes.Error) {
	c.lastErr = err
	c.hasLastErr = true
}

// LastError returns the last-recorded Error, if any.
func (c *Context) LastError() (ztypes.Error, bool) {
	return c.lastErr, c.hasLastErr
}

// Started returns when the Context was constructed.
func (c *Context) Started() time.Time { return c.start }

// --- Slot storage -----------------------------------------------------

// PutSlotRaw copies v into the arena (duplicating byte slices so writes do
// not alias caller memory) and stores it by slot id. Once a slot is
// written, reads see the same value for the rest of the request. This is
// the unrestricted raw-Context entry point; slotview.Put wraps it with
// compile-time value-type safety and a read/write permission check.
//
// Guarded by slotMu rather than left to the caller's own serialization: a
// Need with join AllRequired lets optional effects keep running after the
// step has already resumed, so a background goroutine can legitimately
// call this concurrently with the next step's own slot access.
func (c *Context) PutSlotRaw(id uint32, v any) {
	c.slotMu.Lock()
	defer c.slotMu.Unlock()
	if b, ok := v.([]byte); ok {
		c.slots[id] = c.arena.dup(b)
		return
	}
	c.slots[id] = v
}

// GetSlotRaw returns the stored value for id, or nil, false if absent.
func (c *Context) GetSlotRaw(id uint32) (any, bool) {
	c.slotMu.Lock()
	defer c.slotMu.Unlock()
	v, ok := c.slots[id]
	return v, ok
}
