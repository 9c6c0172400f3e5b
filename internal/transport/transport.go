// Package transport composes the concrete effect transports — http, tcp,
// grpc, websocket, db, cache, file, compute — behind the single
// executor.EffectRunner the Executor is constructed with, the same way
// the teacher's cluster.Proxy picks a forwarding strategy per request
// kind instead of the caller juggling one client per protocol.
package transport

import (
	"github.com/oriys/zerver/internal/executor"
	"github.com/oriys/zerver/internal/reqcontext"
	"github.com/oriys/zerver/internal/ztypes"
)

// EffectRouter dispatches an Effect to whichever sub-transport handles its Kind.
// Each field is optional — a nil transport causes any Effect routed to it
// to fail with ErrInternal rather than panic, so a deployment that never
// touches gRPC or S3 need not construct those clients at all.
type EffectRouter struct {
	HTTP      executor.EffectRunner
	TCP       executor.EffectRunner
	GRPC      executor.EffectRunner
	WebSocket executor.EffectRunner
	DB        executor.EffectRunner
	Cache     executor.EffectRunner
	File      executor.EffectRunner
	Compute   executor.EffectRunner
}

var _ executor.EffectRunner = (*EffectRouter)(nil)

// Run dispatches effect to the sub-transport owning its Kind.
func (r *EffectRouter) Run(effect ztypes.Effect, ctx *reqcontext.Context, cancel <-chan struct{}, park executor.ParkSink) ztypes.EffectResult {
	runner := r.runnerFor(effect.Kind)
	if runner == nil {
		return ztypes.Failure(ztypes.NewError(ztypes.ErrInternal, "transport", string(effect.Kind)))
	}
	return runner.Run(effect, ctx, cancel, park)
}

func (r *EffectRouter) runnerFor(kind ztypes.EffectKind) executor.EffectRunner {
	if kind.IsHTTP() {
		return r.HTTP
	}
	switch kind {
	case ztypes.EffectTCPConnect, ztypes.EffectTCPSend, ztypes.EffectTCPReceive,
		ztypes.EffectTCPSendReceive, ztypes.EffectTCPClose:
		return r.TCP
	case ztypes.EffectGRPCUnary, ztypes.EffectGRPCServerStream:
		return r.GRPC
	case ztypes.EffectWebSocketConnect, ztypes.EffectWebSocketSend, ztypes.EffectWebSocketReceive:
		return r.WebSocket
	case ztypes.EffectDBGet, ztypes.EffectDBPut, ztypes.EffectDBDel, ztypes.EffectDBQuery, ztypes.EffectDBScan:
		return r.DB
	case ztypes.EffectKVCacheGet, ztypes.EffectKVCacheSet, ztypes.EffectKVCacheDelete:
		return r.Cache
	case ztypes.EffectFileRead, ztypes.EffectFileWrite:
		return r.File
	case ztypes.EffectCompute, ztypes.EffectAccelerator:
		return r.Compute
	}
	return nil
}
