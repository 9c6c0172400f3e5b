// Package wstransport dispatches the websocket_* Effect family (spec §6)
// over github.com/gorilla/websocket, grounded on the dialer/handshake shape
// the pack's own WebSocketClientTransport uses to open a client connection
// (DialContext against a ws(s):// URL, a context-scoped deadline, no extra
// subprotocol since zerver's Effect carries no handshake metadata of its
// own).
package wstransport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oriys/zerver/internal/executor"
	"github.com/oriys/zerver/internal/reqcontext"
	"github.com/oriys/zerver/internal/ztypes"
)

// Transport implements executor.EffectRunner for the websocket_* Effect
// family. One *websocket.Conn is kept per Target, opened lazily on first
// send/receive the same way tcptransport keeps one net.Conn per Target.
type Transport struct {
	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// New builds an empty Transport.
func New() *Transport {
	return &Transport{conns: make(map[string]*websocket.Conn)}
}

var _ executor.EffectRunner = (*Transport)(nil)

func (t *Transport) Run(effect ztypes.Effect, ctx *reqcontext.Context, cancel <-chan struct{}, park executor.ParkSink) ztypes.EffectResult {
	timeout := effect.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	switch effect.Kind {
	case ztypes.EffectWebSocketConnect:
		if _, err := t.getOrDial(effect.Target, timeout); err != nil {
			return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "websocket", effect.Target))
		}
		return ztypes.Success(nil, ztypes.OwnerArena)

	case ztypes.EffectWebSocketSend:
		conn, err := t.getOrDial(effect.Target, timeout)
		if err != nil {
			return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "websocket", effect.Target))
		}
		_ = conn.SetWriteDeadline(time.Now().Add(timeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, effect.Payload); err != nil {
			t.close(effect.Target)
			return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "websocket", effect.Target))
		}
		return ztypes.Success(nil, ztypes.OwnerArena)

	case ztypes.EffectWebSocketReceive:
		conn, err := t.getOrDial(effect.Target, timeout)
		if err != nil {
			return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "websocket", effect.Target))
		}
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.close(effect.Target)
			return ztypes.Failure(ztypes.NewError(ztypes.ErrTimeout, "websocket", effect.Target))
		}
		return ztypes.Success(data, ztypes.OwnerCaller)
	}

	return ztypes.Failure(ztypes.NewError(ztypes.ErrInternal, "websocket", effect.Target))
}

func (t *Transport) getOrDial(target string, timeout time.Duration) (*websocket.Conn, error) {
	t.mu.Lock()
	if conn, ok := t.conns[target]; ok {
		t.mu.Unlock()
		return conn, nil
	}
	t.mu.Unlock()

	dialer := &websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(target, nil)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if existing, ok := t.conns[target]; ok {
		t.mu.Unlock()
		_ = conn.Close()
		return existing, nil
	}
	t.conns[target] = conn
	t.mu.Unlock()
	return conn, nil
}

func (t *Transport) close(target string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[target]; ok {
		_ = conn.Close()
		delete(t.conns, target)
	}
}
