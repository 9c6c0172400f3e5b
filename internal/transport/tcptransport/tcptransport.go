// Package tcptransport dispatches the tcp_* Effect family (spec §6) over
// plain net.Conn, grounded on the same raw-connection dial/deadline/
// write-then-read shape the teacher's firecracker.VsockClient used for its
// own connect/send/receive cycle, minus the vsock framing — a bare TCP
// effect has no message envelope of its own, so Target's whole address is
// dialed and Payload is written and read back verbatim.
//
// A Target of the form "vsock://cid:port" is dialed over real AF_VSOCK via
// github.com/mdlayher/vsock instead of net.Dialer — the teacher's own
// go.mod already carries this module, though firecracker.VsockClient talks
// to its microVMs over a Unix socket proxy rather than the kernel vsock
// address family directly; here the Effect Target gives us an actual CID,
// so the real AF_VSOCK path is the one worth exercising. Both connection
// kinds satisfy net.Conn, so the rest of Transport treats them identically.
package tcptransport

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/oriys/zerver/internal/executor"
	"github.com/oriys/zerver/internal/reqcontext"
	"github.com/oriys/zerver/internal/ztypes"
)

const (
	maxResponseBytes = 4 << 20
	vsockScheme      = "vsock://"
)

// Transport implements executor.EffectRunner for the tcp_* Effect family.
// One connection is kept per Target across calls (tcp_connect establishes
// it, tcp_send/tcp_receive/tcp_send_receive reuse it, tcp_close drops it),
// matching the single-session shape of a VsockClient.
type Transport struct {
	mu    sync.Mutex
	conns map[string]net.Conn
}

// New builds an empty Transport. Connections are dialed lazily on first use
// per Target.
func New() *Transport {
	return &Transport{conns: make(map[string]net.Conn)}
}

var _ executor.EffectRunner = (*Transport)(nil)

func (t *Transport) Run(effect ztypes.Effect, ctx *reqcontext.Context, cancel <-chan struct{}, park executor.ParkSink) ztypes.EffectResult {
	timeout := effect.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	switch effect.Kind {
	case ztypes.EffectTCPConnect:
		conn, err := t.dial(effect.Target, timeout)
		if err != nil {
			return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "tcp", effect.Target))
		}
		_ = conn
		return ztypes.Success(nil, ztypes.OwnerArena)

	case ztypes.EffectTCPClose:
		t.close(effect.Target)
		return ztypes.Success(nil, ztypes.OwnerArena)

	case ztypes.EffectTCPSend:
		conn, err := t.getOrDial(effect.Target, timeout)
		if err != nil {
			return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "tcp", effect.Target))
		}
		_ = conn.SetWriteDeadline(time.Now().Add(timeout))
		if err := writeFull(conn, effect.Payload); err != nil {
			t.close(effect.Target)
			return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "tcp", effect.Target))
		}
		return ztypes.Success(nil, ztypes.OwnerArena)

	case ztypes.EffectTCPReceive:
		conn, err := t.getOrDial(effect.Target, timeout)
		if err != nil {
			return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "tcp", effect.Target))
		}
		data, err := readSome(conn, timeout)
		if err != nil {
			t.close(effect.Target)
			return ztypes.Failure(ztypes.NewError(ztypes.ErrTimeout, "tcp", effect.Target))
		}
		return ztypes.Success(data, ztypes.OwnerCaller)

	case ztypes.EffectTCPSendReceive:
		conn, err := t.getOrDial(effect.Target, timeout)
		if err != nil {
			return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "tcp", effect.Target))
		}
		_ = conn.SetWriteDeadline(time.Now().Add(timeout))
		if err := writeFull(conn, effect.Payload); err != nil {
			t.close(effect.Target)
			return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "tcp", effect.Target))
		}
		data, err := readSome(conn, timeout)
		if err != nil {
			t.close(effect.Target)
			return ztypes.Failure(ztypes.NewError(ztypes.ErrTimeout, "tcp", effect.Target))
		}
		return ztypes.Success(data, ztypes.OwnerCaller)
	}

	return ztypes.Failure(ztypes.NewError(ztypes.ErrInternal, "tcp", effect.Target))
}

func (t *Transport) dial(target string, timeout time.Duration) (net.Conn, error) {
	conn, err := dialTarget(target, timeout)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	if existing, ok := t.conns[target]; ok {
		_ = existing.Close()
	}
	t.conns[target] = conn
	t.mu.Unlock()
	return conn, nil
}

// dialTarget dials "tcp://host:port" or bare "host:port" via net.Dialer,
// and "vsock://cid:port" via the kernel AF_VSOCK address family.
func dialTarget(target string, timeout time.Duration) (net.Conn, error) {
	if strings.HasPrefix(target, vsockScheme) {
		cid, port, err := splitVsock(target)
		if err != nil {
			return nil, err
		}
		return vsock.Dial(cid, port, &vsock.Config{})
	}
	addr := strings.TrimPrefix(target, "tcp://")
	dialer := net.Dialer{Timeout: timeout}
	return dialer.Dial("tcp", addr)
}

// splitVsock parses "vsock://cid:port" into its numeric context ID and port.
func splitVsock(target string) (cid, port uint32, err error) {
	rest := strings.TrimPrefix(target, vsockScheme)
	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed vsock target %q: %w", target, err)
	}
	cid64, err := strconv.ParseUint(host, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed vsock cid %q: %w", host, err)
	}
	port64, err := strconv.ParseUint(portStr, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed vsock port %q: %w", portStr, err)
	}
	return uint32(cid64), uint32(port64), nil
}

func (t *Transport) getOrDial(target string, timeout time.Duration) (net.Conn, error) {
	t.mu.Lock()
	conn, ok := t.conns[target]
	t.mu.Unlock()
	if ok {
		return conn, nil
	}
	return t.dial(target, timeout)
}

func (t *Transport) close(target string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[target]; ok {
		_ = conn.Close()
		delete(t.conns, target)
	}
}

func writeFull(conn net.Conn, b []byte) error {
	for len(b) > 0 {
		n, err := conn.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// readSome reads whatever the peer has sent within timeout, up to
// maxResponseBytes — a tcp_receive effect has no framing to tell it how
// much to expect, so it takes one read's worth rather than blocking for
// io.EOF on a connection the peer may keep open indefinitely.
func readSome(conn net.Conn, timeout time.Duration) ([]byte, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, maxResponseBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}
