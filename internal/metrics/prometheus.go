package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oriys/zerver/internal/circuitbreaker"
	"github.com/oriys/zerver/internal/telemetry"
)

// Default histogram buckets for request/effect duration, in milliseconds.
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Subscriber is a telemetry.Subscriber that translates the event stream
// into Prometheus counters, histograms, and gauges (spec §4.11/SPEC_FULL
// §4.11), mirroring the teacher's own PrometheusMetrics: one registry,
// one set of collectors built once at construction, updated from
// OnEvent with no further allocation in the hot path.
type Subscriber struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	stepsTotal *prometheus.CounterVec

	effectsTotal    *prometheus.CounterVec
	effectDuration  *prometheus.HistogramVec
	needsScheduled  *prometheus.CounterVec
	executorCrashes prometheus.Counter

	jobsEnqueued  *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobQueueWait  *prometheus.HistogramVec
	jobsParked    *prometheus.CounterVec

	circuitBreakerState      *prometheus.GaugeVec
	circuitBreakerTripsTotal *prometheus.CounterVec

	lastStateMu sync.Mutex
	lastState   map[string]circuitbreaker.State

	// pendingMu guards pending, which tracks each in-flight job's queue
	// name and enqueue time from job_enqueued until job_completed —
	// job_taken and job_completed don't carry the queue name themselves, so
	// the wait duration and the per-queue completion count are assembled
	// from this entry, which job_completed removes.
	pendingMu sync.Mutex
	pending   map[uint64]pendingJob
}

type pendingJob struct {
	queue      string
	enqueuedAt time.Time
}

// New builds a Subscriber registered under namespace, with buckets for
// duration histograms (defaultBuckets if nil/empty).
func New(namespace string, buckets []float64) *Subscriber {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	s := &Subscriber{
		registry: registry,

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of requests by outcome",
			},
			[]string{"outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_milliseconds",
				Help:      "Request duration in milliseconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),

		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Total number of step invocations by layer and outcome",
			},
			[]string{"layer", "outcome"},
		),

		effectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "effects_total",
				Help:      "Total number of dispatched effects by kind and success",
			},
			[]string{"effect_kind", "success"},
		),
		effectDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "effect_duration_milliseconds",
				Help:      "Effect dispatch duration in milliseconds",
				Buckets:   buckets,
			},
			[]string{"effect_kind"},
		),
		needsScheduled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "needs_scheduled_total",
				Help:      "Total number of Needs scheduled by mode and join policy",
			},
			[]string{"mode", "join"},
		),
		executorCrashes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executor_crashes_total",
				Help:      "Total number of panics recovered by the executor",
			},
		),

		jobsEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_enqueued_total",
				Help:      "Total number of jobs enqueued by queue name",
			},
			[]string{"queue"},
		),
		jobsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_completed_total",
				Help:      "Total number of jobs completed by queue name",
			},
			[]string{"queue"},
		),
		jobQueueWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_queue_wait_milliseconds",
				Help:      "Time a job spent waiting for a worker slot",
				Buckets:   buckets,
			},
			[]string{"queue"},
		),
		jobsParked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_parked_total",
				Help:      "Total number of park episodes by cause",
			},
			[]string{"cause"},
		),

		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state: 0=closed, 1=open, 2=half_open",
			},
			[]string{"target"},
		),
		circuitBreakerTripsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total number of times a circuit breaker tripped open",
			},
			[]string{"target"},
		),

		lastState: make(map[string]circuitbreaker.State),
		pending:   make(map[uint64]pendingJob),
	}

	registry.MustRegister(
		s.requestsTotal, s.requestDuration,
		s.stepsTotal,
		s.effectsTotal, s.effectDuration, s.needsScheduled, s.executorCrashes,
		s.jobsEnqueued, s.jobsCompleted, s.jobQueueWait, s.jobsParked,
		s.circuitBreakerState, s.circuitBreakerTripsTotal,
	)

	return s
}

// Handler returns the HTTP handler exposing the registry's collectors.
func (s *Subscriber) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// OnEvent implements telemetry.Subscriber. It must not block.
func (s *Subscriber) OnEvent(e telemetry.Event) {
	switch e.Kind {
	case telemetry.KindRequestEnd:
		s.requestsTotal.WithLabelValues(e.Outcome).Inc()
		s.requestDuration.WithLabelValues(e.Outcome).Observe(float64(e.Duration.Milliseconds()))

	case telemetry.KindStepEnd:
		s.stepsTotal.WithLabelValues(e.Layer, e.Outcome).Inc()

	case telemetry.KindNeedScheduled:
		s.needsScheduled.WithLabelValues(e.Mode, e.Join).Inc()

	case telemetry.KindEffectEnd:
		s.effectsTotal.WithLabelValues(e.EffectKind, successLabel(e.Success)).Inc()

	case telemetry.KindExecutorCrash:
		s.executorCrashes.Inc()

	case telemetry.KindJobEnqueued:
		s.jobsEnqueued.WithLabelValues(e.QueueName).Inc()
		s.pendingMu.Lock()
		s.pending[e.JobSeq] = pendingJob{queue: e.QueueName, enqueuedAt: e.At}
		s.pendingMu.Unlock()

	case telemetry.KindJobTaken:
		s.pendingMu.Lock()
		p, ok := s.pending[e.JobSeq]
		s.pendingMu.Unlock()
		if ok {
			s.jobQueueWait.WithLabelValues(p.queue).Observe(float64(e.At.Sub(p.enqueuedAt).Milliseconds()))
		}

	case telemetry.KindJobCompleted:
		s.pendingMu.Lock()
		p, ok := s.pending[e.JobSeq]
		delete(s.pending, e.JobSeq)
		s.pendingMu.Unlock()
		if ok {
			s.jobsCompleted.WithLabelValues(p.queue).Inc()
		}

	case telemetry.KindJobParked:
		s.jobsParked.WithLabelValues(string(e.ParkCause)).Inc()
	}
}

// ObserveEffectDuration records an effect's wall-clock dispatch time. The
// executor does not carry per-effect durations on the event itself (only
// success/bytes), so OnEvent never feeds this histogram; nothing in this
// module calls ObserveEffectDuration, and the histogram only receives
// values from a caller that times effects itself.
func (s *Subscriber) ObserveEffectDuration(effectKind string, ms float64) {
	s.effectDuration.WithLabelValues(effectKind).Observe(ms)
}

// SyncBreakers refreshes the circuit breaker gauges from a live pool
// snapshot. Called periodically by the bootstrap, not driven by events —
// breaker state can change between effect dispatches with no event of
// its own. circuitBreakerTripsTotal increments only on the transition
// into Open, not on every sync a breaker happens to still be Open during.
func (s *Subscriber) SyncBreakers(pool *circuitbreaker.Pool) {
	s.lastStateMu.Lock()
	defer s.lastStateMu.Unlock()

	for _, snap := range pool.Snapshots() {
		s.circuitBreakerState.WithLabelValues(snap.Name).Set(float64(snap.State))
		if snap.State == circuitbreaker.StateOpen && s.lastState[snap.Name] != circuitbreaker.StateOpen {
			s.circuitBreakerTripsTotal.WithLabelValues(snap.Name).Inc()
		}
		s.lastState[snap.Name] = snap.State
	}
}

func successLabel(ok bool) string {
	if ok {
		return "true"
	}
	return "false"
}
