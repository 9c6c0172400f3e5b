// Package httptransport dispatches the http_* Effect family (spec §6) over
// a plain net/http.Client, the same outbound shape the teacher's own
// cluster.Proxy.forwardInvokeHTTP used to forward an invocation to a peer
// node: a context-scoped request, a handful of forwarding headers, a
// status-code-driven success/failure split.
package httptransport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/oriys/zerver/internal/executor"
	"github.com/oriys/zerver/internal/reqcontext"
	"github.com/oriys/zerver/internal/ztypes"
)

var methodByKind = map[ztypes.EffectKind]string{
	ztypes.EffectHTTPGet:     http.MethodGet,
	ztypes.EffectHTTPHead:    http.MethodHead,
	ztypes.EffectHTTPPost:    http.MethodPost,
	ztypes.EffectHTTPPut:     http.MethodPut,
	ztypes.EffectHTTPDelete:  http.MethodDelete,
	ztypes.EffectHTTPPatch:   http.MethodPatch,
	ztypes.EffectHTTPOptions: http.MethodOptions,
	ztypes.EffectHTTPTrace:   http.MethodTrace,
	ztypes.EffectHTTPConnect: http.MethodConnect,
}

// Transport implements executor.EffectRunner for the http_* Effect family.
type Transport struct {
	client *http.Client
}

// New builds a Transport with the given default per-request timeout,
// applied only when an Effect carries no timeout of its own.
func New(defaultTimeout time.Duration) *Transport {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Transport{client: &http.Client{Timeout: defaultTimeout}}
}

var _ executor.EffectRunner = (*Transport)(nil)

// Run implements executor.EffectRunner. cancel is watched via the request's
// context so an in-flight round trip is aborted as soon as its owning
// Need's join policy no longer needs the result.
func (t *Transport) Run(effect ztypes.Effect, ctx *reqcontext.Context, cancel <-chan struct{}, park executor.ParkSink) ztypes.EffectResult {
	method, ok := methodByKind[effect.Kind]
	if !ok {
		return ztypes.Failure(ztypes.NewError(ztypes.ErrInternal, "http", effect.Target))
	}

	reqCtx, stop := withEffectDeadline(effect.Timeout)
	defer stop()
	reqCtx, abort := watchCancel(reqCtx, cancel)
	defer abort()

	var body io.Reader
	if len(effect.Payload) > 0 {
		body = bytes.NewReader(effect.Payload)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, effect.Target, body)
	if err != nil {
		return ztypes.Failure(ztypes.NewError(ztypes.ErrBadRequest, "http", effect.Target))
	}
	req.Header.Set("X-Zerver-Forwarded", "true")
	if id := ctx.RequestID(); id != "" {
		req.Header.Set("X-Request-Id", id)
	}
	if len(effect.Payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return ztypes.Failure(ztypes.NewError(ztypes.ErrTimeout, "http", effect.Target))
		}
		return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "http", effect.Target))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "http", effect.Target))
	}

	if resp.StatusCode >= 500 {
		return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "http", effect.Target))
	}
	if resp.StatusCode >= 400 {
		return ztypes.Failure(ztypes.NewError(ztypes.ErrBadRequest, "http", effect.Target))
	}

	return ztypes.Success(respBody, ztypes.OwnerCaller)
}

func withEffectDeadline(d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.Background(), func() {}
	}
	return context.WithTimeout(context.Background(), d)
}

// watchCancel derives a context that is cancelled as soon as either the
// parent deadline fires or the Need-level cancel channel closes, whichever
// comes first.
func watchCancel(parent context.Context, cancel <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, stop := context.WithCancel(parent)
	done := make(chan struct{})
	go func() {
		select {
		case <-cancel:
			stop()
		case <-done:
		}
	}()
	return ctx, func() {
		close(done)
		stop()
	}
}
