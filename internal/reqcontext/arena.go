package reqcontext

// arena is a per-request bump allocator for byte buffers. Context never
// returns a slice borrowed directly from caller-owned memory for anything
// it retains past the call that produced it (header values, slot byte
// payloads, the user id) — everything is copied into the arena first, so a
// single arena.reset (implicit: the arena is simply dropped at request end)
// frees every value a slot, header, or param ever pointed to.
//
// Go's garbage collector means this is not a true bump allocator over raw
// memory; it is the idiomatic equivalent — one growable backing slice that
// batches allocation and keeps request-scoped byte data out of longer-lived
// buffers (e.g. the net/http request's own buffers), so exit callbacks and
// slot reads never alias memory whose lifetime they don't control.
type arena struct {
	buf []byte
}

func newArena(hint int) *arena {
	if hint <= 0 {
		hint = 4096
	}
	return &arena{buf: make([]byte, 0, hint)}
}

// dup copies b into the arena and returns the arena-owned slice.
func (a *arena) dup(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	start := len(a.buf)
	a.buf = append(a.buf, b...)
	return a.buf[start:len(a.buf):len(a.buf)]
}

// dupString copies s into the arena and returns it as a string view. The
// conversion still copies (Go strings are immutable so no alias risk), but
// keeping it on this type documents that the byte data backing it came
// from the per-request arena's bump region.
func (a *arena) dupString(s string) string {
	return string(a.dup([]byte(s)))
}
