package wstransport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oriys/zerver/internal/reqcontext"
	"github.com/oriys/zerver/internal/ztypes"
)

func echoServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.WriteMessage(mt, data)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newCtx() *reqcontext.Context {
	return reqcontext.New("GET", "/x", "127.0.0.1", nil)
}

func TestSendThenReceiveEchoesPayload(t *testing.T) {
	url := echoServer(t)
	tr := New()

	sendResult := tr.Run(ztypes.Effect{
		Kind:    ztypes.EffectWebSocketSend,
		Target:  url,
		Payload: []byte("hello"),
		Timeout: 2 * time.Second,
	}, newCtx(), nil, nil)
	if !sendResult.Success {
		t.Fatalf("expected send to succeed, got %+v", sendResult)
	}

	recvResult := tr.Run(ztypes.Effect{
		Kind:    ztypes.EffectWebSocketReceive,
		Target:  url,
		Timeout: 2 * time.Second,
	}, newCtx(), nil, nil)
	if !recvResult.Success || string(recvResult.Bytes) != "hello" {
		t.Fatalf("expected echoed payload, got %+v", recvResult)
	}
}

func TestConnectToUnreachableTargetFails(t *testing.T) {
	tr := New()
	result := tr.Run(ztypes.Effect{
		Kind:    ztypes.EffectWebSocketConnect,
		Target:  "ws://127.0.0.1:1/",
		Timeout: 300 * time.Millisecond,
	}, newCtx(), nil, nil)
	if result.Success {
		t.Fatal("expected connect to an unreachable target to fail")
	}
}
