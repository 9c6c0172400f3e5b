package otlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"
)

// Exporter sends a finished request's OTLP JSON span tree to a collector
// over HTTP, retrying transient failures with exponential backoff (spec
// §4.7: 3 attempts, 100ms × {1,2,4,8,16}, retryable = 5xx or 429).
type Exporter struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
	resource *resource.Resource
}

// NewExporter constructs an Exporter that POSTs to endpoint with the
// given extra headers (parsed from the `key=value,key=value` environment
// form at bootstrap) and the resource attributes attached once here.
func NewExporter(endpoint string, headers map[string]string, res *resource.Resource) *Exporter {
	return &Exporter{
		endpoint: endpoint,
		headers:  headers,
		client:   &http.Client{Timeout: 10 * time.Second},
		resource: res,
	}
}

// NewExporterFromConfig is the bootstrap entry point: it builds the
// resource attributes from rc and wraps them into an Exporter pointed at
// endpoint, so cmd/zerver doesn't need to touch otel/sdk/resource itself.
func NewExporterFromConfig(rc ResourceConfig, endpoint string, headers map[string]string) (*Exporter, error) {
	res, err := buildResource(rc)
	if err != nil {
		return nil, err
	}
	return NewExporter(endpoint, headers, res), nil
}

// retryableStatus reports whether a response status should be retried.
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}

// Export builds the OTLP payload for one request's span tree and sends
// it, retrying per the policy above. Errors are swallowed after the final
// attempt — a failed export must never propagate back into request
// handling, which has already completed by the time this runs.
func (e *Exporter) Export(traceID trace.TraceID, root *Span, children []*Span) {
	if e.endpoint == "" {
		return
	}

	payload := buildPayload(e.resource, traceID, root, children)
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	op := func() (struct{}, error) {
		status, err := e.send(body)
		if err != nil {
			return struct{}{}, err
		}
		if retryableStatus(status) {
			return struct{}{}, fmt.Errorf("otlp export: retryable status %d", status)
		}
		if status >= 300 {
			return struct{}{}, backoff.Permanent(fmt.Errorf("otlp export: status %d", status))
		}
		return struct{}{}, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	_, _ = backoff.Retry(context.Background(), op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(3),
	)
}

func (e *Exporter) send(body []byte) (int, error) {
	req, err := http.NewRequest(http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range e.headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
