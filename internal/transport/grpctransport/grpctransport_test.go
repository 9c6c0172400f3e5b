package grpctransport

import (
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/oriys/zerver/internal/reqcontext"
	"github.com/oriys/zerver/internal/ztypes"
)

// echoHandler is a raw StreamHandler that decodes the client's raw frame
// via the registered codec and sends it straight back.
func echoHandler(srv any, stream grpc.ServerStream) error {
	var in rawFrame
	if err := stream.RecvMsg(&in); err != nil {
		return err
	}
	return stream.SendMsg(&rawFrame{data: in.data})
}

func startEchoServer(t *testing.T) string {
	t.Helper()
	_ = encoding.GetCodec(rawCodecName) // ensure codec registration ran

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "zerver.test.Echo",
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "Call",
			Handler:       echoHandler,
			ServerStreams: false,
			ClientStreams: false,
		}},
		Methods: []grpc.MethodDesc{},
	})

	go srv.Serve(ln)
	t.Cleanup(srv.Stop)
	return ln.Addr().String()
}

func newCtx() *reqcontext.Context {
	return reqcontext.New("GET", "/x", "127.0.0.1", nil)
}

func TestRunUnaryEchoesPayload(t *testing.T) {
	addr := startEchoServer(t)
	tr := New()

	result := tr.Run(ztypes.Effect{
		Kind:    ztypes.EffectGRPCUnary,
		Target:  addr + "/zerver.test.Echo/Call",
		Payload: []byte("ping"),
		Timeout: 2 * time.Second,
	}, newCtx(), nil, nil)

	if !result.Success || string(result.Bytes) != "ping" {
		t.Fatalf("expected echoed payload, got %+v", result)
	}
}

func TestRunRejectsMalformedTarget(t *testing.T) {
	tr := New()
	result := tr.Run(ztypes.Effect{
		Kind:   ztypes.EffectGRPCUnary,
		Target: "no-slash-here",
	}, newCtx(), nil, nil)
	if result.Success || result.Err.Kind != ztypes.ErrBadRequest {
		t.Fatalf("expected ErrBadRequest for malformed target, got %+v", result)
	}
}

func TestRunUnreachableTargetMapsToUpstreamUnavailable(t *testing.T) {
	tr := New()

	result := tr.Run(ztypes.Effect{
		Kind:    ztypes.EffectGRPCUnary,
		Target:  "127.0.0.1:1/zerver.test.Echo/Call",
		Timeout: 300 * time.Millisecond,
	}, newCtx(), nil, nil)
	if result.Success {
		t.Fatal("expected an unreachable target to fail")
	}
}
