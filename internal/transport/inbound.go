package transport

import (
	"io"
	"net/http"
	"net/url"

	"github.com/oriys/zerver/internal/reqcontext"
)

// InboundRequest is the transport-agnostic shape an inbound HTTP request
// is reduced to before it becomes a reqcontext.Context — the same
// method/path/header/body fields the teacher's own handlers pull straight
// off *http.Request, lifted into a standalone type so the adapter step is
// testable without a live net/http server.
type InboundRequest struct {
	Method     string
	Path       string
	Header     http.Header
	Query      url.Values
	Body       []byte
	RemoteAddr string
}

// NewInboundRequest reads r's body in full and reduces it to an
// InboundRequest. The caller remains responsible for closing r.Body.
func NewInboundRequest(r *http.Request) (InboundRequest, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return InboundRequest{}, err
	}
	return InboundRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		Header:     r.Header,
		Query:      r.URL.Query(),
		Body:       body,
		RemoteAddr: r.RemoteAddr,
	}, nil
}

// ToContext builds a reqcontext.Context from req, copying headers and
// query parameters in the same shape SetHeader/SetParam expect.
func (req InboundRequest) ToContext() *reqcontext.Context {
	ctx := reqcontext.New(req.Method, req.Path, req.RemoteAddr, req.Body)
	for name, values := range req.Header {
		for _, v := range values {
			ctx.SetHeader(name, v)
		}
	}
	for name, values := range req.Query {
		for _, v := range values {
			ctx.SetQuery(name, v)
		}
	}
	return ctx
}
