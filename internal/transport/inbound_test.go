package transport

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewInboundRequestReadsBodyAndMetadata(t *testing.T) {
	r := httptest.NewRequest("POST", "/widgets?color=red", strings.NewReader(`{"n":1}`))
	r.Header.Set("X-Test", "yes")

	req, err := NewInboundRequest(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Method != "POST" || req.Path != "/widgets" {
		t.Fatalf("unexpected method/path: %+v", req)
	}
	if string(req.Body) != `{"n":1}` {
		t.Fatalf("unexpected body: %s", req.Body)
	}
	if req.Header.Get("X-Test") != "yes" {
		t.Fatalf("expected header to survive, got %+v", req.Header)
	}
	if req.Query.Get("color") != "red" {
		t.Fatalf("expected query param color=red, got %+v", req.Query)
	}
}

func TestToContextCopiesHeadersAndQuery(t *testing.T) {
	r := httptest.NewRequest("GET", "/widgets?color=red&color=blue", nil)
	r.Header.Set("X-Test", "yes")

	req, err := NewInboundRequest(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := req.ToContext()

	if v, ok := ctx.Header("x-test"); !ok || v != "yes" {
		t.Fatalf("expected header to carry through, got %q ok=%v", v, ok)
	}
	values := ctx.QueryValues("color")
	if len(values) != 2 || values[0] != "red" || values[1] != "blue" {
		t.Fatalf("expected both color values, got %+v", values)
	}
	if ctx.Method != "GET" || ctx.Path != "/widgets" {
		t.Fatalf("unexpected method/path on context: %s %s", ctx.Method, ctx.Path)
	}
}
