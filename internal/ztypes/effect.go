// Package ztypes defines the wire-independent value types shared by every
// layer of the request execution core: the Effect union, the Decision a
// Step returns, the Response a request ends with, and the Error taxonomy
// rendered back to callers.
//
// Nothing in this package performs I/O. It is deliberately inert so that
// Context, Executor, and the telemetry layers can all depend on it without
// creating import cycles.
package ztypes

import "time"

// EffectKind identifies the transport family an Effect targets. The
// executor dispatches purely on this tag; it never inspects transport
// specific fields itself.
type EffectKind string

const (
	// HTTP verbs.
	EffectHTTPGet     EffectKind = "http_get"
	EffectHTTPHead    EffectKind = "http_head"
	EffectHTTPPost    EffectKind = "http_post"
	EffectHTTPPut     EffectKind = "http_put"
	EffectHTTPDelete  EffectKind = "http_delete"
	EffectHTTPPatch   EffectKind = "http_patch"
	EffectHTTPOptions EffectKind = "http_options"
	EffectHTTPTrace   EffectKind = "http_trace"
	EffectHTTPConnect EffectKind = "http_connect"

	// TCP.
	EffectTCPConnect     EffectKind = "tcp_connect"
	EffectTCPSend        EffectKind = "tcp_send"
	EffectTCPReceive     EffectKind = "tcp_receive"
	EffectTCPSendReceive EffectKind = "tcp_send_receive"
	EffectTCPClose       EffectKind = "tcp_close"

	// gRPC.
	EffectGRPCUnary        EffectKind = "grpc_unary"
	EffectGRPCServerStream EffectKind = "grpc_server_stream"

	// WebSocket.
	EffectWebSocketConnect EffectKind = "websocket_connect"
	EffectWebSocketSend    EffectKind = "websocket_send"
	EffectWebSocketReceive EffectKind = "websocket_receive"

	// DB.
	EffectDBGet   EffectKind = "db_get"
	EffectDBPut   EffectKind = "db_put"
	EffectDBDel   EffectKind = "db_del"
	EffectDBQuery EffectKind = "db_query"
	EffectDBScan  EffectKind = "db_scan"

	// File JSON.
	EffectFileRead  EffectKind = "file_read"
	EffectFileWrite EffectKind = "file_write"

	// Compute / accelerator.
	EffectCompute     EffectKind = "compute_task"
	EffectAccelerator EffectKind = "accelerator_task"

	// KV cache.
	EffectKVCacheGet    EffectKind = "kv_cache_get"
	EffectKVCacheSet    EffectKind = "kv_cache_set"
	EffectKVCacheDelete EffectKind = "kv_cache_delete"
)

// IsHTTP reports whether the kind belongs to the http_* family.
func (k EffectKind) IsHTTP() bool {
	switch k {
	case EffectHTTPGet, EffectHTTPHead, EffectHTTPPost, EffectHTTPPut, EffectHTTPDelete,
		EffectHTTPPatch, EffectHTTPOptions, EffectHTTPTrace, EffectHTTPConnect:
		return true
	}
	return false
}

// Retry configures per-effect retry behavior. MaxAttempts is the number of
// additional attempts after the first failure; zero disables retries.
type Retry struct {
	MaxAttempts       int
	InitialBackoffMS  int64
	MaxBackoffMS      int64
	BackoffMultiplier float64
	FullJitter        bool
}

// DBQuery carries the SQL text and positional parameters for an
// EffectDBQuery effect.
type DBQuery struct {
	SQL    string
	Params []any
}

// Effect is a declarative request for I/O. Every variant carries a target
// selector, the slot token its result bytes land in, a per-attempt timeout,
// whether it is required for its enclosing Need to succeed, and (where
// retry is meaningful) a Retry policy.
type Effect struct {
	Kind     EffectKind
	Target   string // host:port, url, table name, cache key prefix, etc. — transport-specific
	Token    uint32 // slot id the result is stored at
	Timeout  time.Duration
	Required bool
	Retry    Retry

	// Payload is the request body/value, when the kind sends one (POST,
	// db_put, kv_cache_set, tcp_send, file_write, grpc_unary, ...).
	Payload []byte

	// Query carries SQL text+params for EffectDBQuery; nil otherwise.
	Query *DBQuery

	// ComputeFunc names a registered function for EffectCompute/EffectAccelerator.
	ComputeFunc string
}

// BufferOwner identifies who owns the memory backing an EffectResult's
// success bytes, so callers know whether it is safe to retain past the
// call that produced it.
type BufferOwner uint8

const (
	OwnerArena  BufferOwner = iota // owned by the request arena; freed at request end
	OwnerCaller                    // caller-allocated; effect runner must not retain it
	OwnerStatic                    // static/global memory; always safe to retain
)

// EffectResult is either a success carrying result bytes, or a failure
// carrying an Error.
type EffectResult struct {
	Success bool
	Bytes   []byte
	Owner   BufferOwner
	Err     Error
}

func Success(bytes []byte, owner BufferOwner) EffectResult {
	return EffectResult{Success: true, Bytes: bytes, Owner: owner}
}

func Failure(err Error) EffectResult {
	return EffectResult{Success: false, Err: err}
}
