package tcptransport

import (
	"net"
	"testing"
	"time"

	"github.com/oriys/zerver/internal/reqcontext"
	"github.com/oriys/zerver/internal/ztypes"
)

func echoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		conn.Write(buf[:n])
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func newCtx() *reqcontext.Context {
	return reqcontext.New("GET", "/x", "127.0.0.1", nil)
}

func TestSendReceiveRoundTrips(t *testing.T) {
	addr := echoServer(t)
	tr := New()

	result := tr.Run(ztypes.Effect{
		Kind:    ztypes.EffectTCPSendReceive,
		Target:  addr,
		Payload: []byte("hello"),
		Timeout: 2 * time.Second,
	}, newCtx(), nil, nil)

	if !result.Success || string(result.Bytes) != "hello" {
		t.Fatalf("expected echoed payload, got %+v", result)
	}
}

func TestConnectThenCloseReleasesConnection(t *testing.T) {
	addr := echoServer(t)
	tr := New()

	connectResult := tr.Run(ztypes.Effect{Kind: ztypes.EffectTCPConnect, Target: addr, Timeout: time.Second}, newCtx(), nil, nil)
	if !connectResult.Success {
		t.Fatalf("expected connect to succeed, got %+v", connectResult)
	}

	closeResult := tr.Run(ztypes.Effect{Kind: ztypes.EffectTCPClose, Target: addr}, newCtx(), nil, nil)
	if !closeResult.Success {
		t.Fatalf("expected close to succeed, got %+v", closeResult)
	}

	tr.mu.Lock()
	_, stillTracked := tr.conns[addr]
	tr.mu.Unlock()
	if stillTracked {
		t.Fatal("expected tcp_close to drop the tracked connection")
	}
}

func TestSplitVsockParsesCidAndPort(t *testing.T) {
	cid, port, err := splitVsock("vsock://3:5000")
	if err != nil || cid != 3 || port != 5000 {
		t.Fatalf("expected cid=3 port=5000, got cid=%d port=%d err=%v", cid, port, err)
	}
}

func TestSplitVsockRejectsMalformedTarget(t *testing.T) {
	if _, _, err := splitVsock("vsock://not-a-cid:5000"); err == nil {
		t.Fatal("expected a non-numeric cid to be rejected")
	}
}

func TestConnectToUnreachableTargetFails(t *testing.T) {
	tr := New()
	result := tr.Run(ztypes.Effect{
		Kind:    ztypes.EffectTCPConnect,
		Target:  "127.0.0.1:1", // reserved, nothing listens here
		Timeout: 200 * time.Millisecond,
	}, newCtx(), nil, nil)
	if result.Success {
		t.Fatal("expected connect to an unreachable target to fail")
	}
}
