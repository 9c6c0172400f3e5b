// Package errs implements the Error Renderer: the single place an Error
// becomes an HTTP-shaped Response (spec §4.3).
package errs

import (
	"strconv"
	"strings"

	"github.com/oriys/zerver/internal/reqcontext"
	"github.com/oriys/zerver/internal/ztypes"
)

const fallbackBody = "Internal Server Error"

// Render maps err.Kind through the canonical code table to an HTTP status
// and builds a JSON body `{"error":{"code":K,"what":"…","key":"…"}}` with
// both strings escaped per spec §4.1. It never returns a Response without
// a Content-Type header; if body assembly somehow fails it falls back to a
// fixed 500 text/plain body rather than producing a bodyless response.
func Render(err ztypes.Error) ztypes.Response {
	status := ztypes.HTTPStatus(err.Kind)

	body, ok := buildBody(status, err.Ctx)
	if !ok {
		return ztypes.Response{
			Status: 500,
			Kind:   ztypes.BodyComplete,
			Body:   []byte(fallbackBody),
			Headers: []ztypes.Header{
				{Name: "Content-Type", Value: "text/plain"},
			},
		}
	}

	return ztypes.Response{
		Status: status,
		Kind:   ztypes.BodyComplete,
		Body:   body,
		Headers: []ztypes.Header{
			{Name: "Content-Type", Value: "application/json"},
		},
	}
}

func buildBody(status int, ctx ztypes.ErrorContext) (body []byte, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	var b strings.Builder
	b.WriteString(`{"error":{"code":`)
	b.WriteString(strconv.Itoa(status))
	b.WriteString(`,"what":"`)
	b.WriteString(reqcontext.EscapeJSONString(ctx.What))
	b.WriteString(`","key":"`)
	b.WriteString(reqcontext.EscapeJSONString(ctx.Key))
	b.WriteString(`"}}`)
	return []byte(b.String()), true
}
