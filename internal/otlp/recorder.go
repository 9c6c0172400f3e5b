package otlp

import (
	"sync"

	"github.com/oriys/zerver/internal/telemetry"
)

// Recorder fans telemetry events into per-request span trees and exports
// each finished tree once its request_end event arrives. It implements
// telemetry.Subscriber.
//
// The in-flight map is guarded by a single mutex (spec §5: "a single
// mutex around its in-flight map; event handlers must be lock-free after
// the map lookup") — OnEvent only holds that mutex long enough to look up
// (or, on request_start, create) the RequestRecord, then releases it
// before mutating the record under the record's own mutex.
type Recorder struct {
	mu       sync.Mutex
	inFlight map[string]*RequestRecord

	cfg      PromotionConfig
	exporter *Exporter
}

// NewRecorder constructs a Recorder that exports through exporter (may be
// nil, in which case finished records are simply dropped — useful for
// tests that only want to inspect the span tree).
func NewRecorder(cfg PromotionConfig, exporter *Exporter) *Recorder {
	return &Recorder{
		inFlight: make(map[string]*RequestRecord),
		cfg:      cfg,
		exporter: exporter,
	}
}

// OnEvent implements telemetry.Subscriber.
func (rc *Recorder) OnEvent(e telemetry.Event) {
	rc.mu.Lock()
	record, ok := rc.inFlight[e.RequestID]
	if !ok {
		if e.Kind != telemetry.KindRequestStart {
			rc.mu.Unlock()
			return
		}
		record = newRequestRecord(e.RequestID, rc.cfg)
		rc.inFlight[e.RequestID] = record
	}
	rc.mu.Unlock()

	record.handle(e)

	if e.Kind == telemetry.KindRequestEnd {
		rc.mu.Lock()
		delete(rc.inFlight, e.RequestID)
		rc.mu.Unlock()

		root, children := record.snapshot()
		if rc.exporter != nil && root != nil {
			// The HTTP send (with its retries) runs off the request's
			// goroutine so OnEvent never blocks on the collector.
			go rc.exporter.Export(record.TraceID, root, children)
		}
	}
}

// InFlightCount reports how many requests currently have an open
// RequestRecord — used by diagnostics and tests.
func (rc *Recorder) InFlightCount() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.inFlight)
}
