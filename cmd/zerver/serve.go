package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/zerver/internal/circuitbreaker"
	"github.com/oriys/zerver/internal/config"
	"github.com/oriys/zerver/internal/correlation"
	"github.com/oriys/zerver/internal/executor"
	"github.com/oriys/zerver/internal/logging"
	"github.com/oriys/zerver/internal/metrics"
	"github.com/oriys/zerver/internal/otlp"
	"github.com/oriys/zerver/internal/router"
	"github.com/oriys/zerver/internal/telemetry"
	"github.com/oriys/zerver/internal/transport"
	"github.com/oriys/zerver/internal/transport/cachetransport"
	"github.com/oriys/zerver/internal/transport/computetransport"
	"github.com/oriys/zerver/internal/transport/dbtransport"
	"github.com/oriys/zerver/internal/transport/filetransport"
	"github.com/oriys/zerver/internal/transport/grpctransport"
	"github.com/oriys/zerver/internal/transport/httptransport"
	"github.com/oriys/zerver/internal/transport/tcptransport"
	"github.com/oriys/zerver/internal/transport/wstransport"
	"github.com/oriys/zerver/internal/ztypes"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the zerver request execution core",
		Long:  "Load configuration, wire the effect transports and executor, and serve HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				os.Setenv("ZERVER_CONFIG", configPath)
			}
			return runServe()
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a JSON config file (overrides ZERVER_CONFIG)")
	return cmd
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)
	log := logging.Op()

	breakers := circuitbreaker.NewPool()
	breakerCfg := circuitbreaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		TimeoutMS:        cfg.Breaker.TimeoutMS,
	}
	resolveBreaker := func(target string) *circuitbreaker.Breaker {
		return breakers.Get(target, breakerCfg)
	}

	subscribers, promSub, err := buildSubscribers(cfg)
	if err != nil {
		return fmt.Errorf("build telemetry subscribers: %w", err)
	}
	if promSub != nil {
		breakerSync := time.NewTicker(5 * time.Second)
		defer breakerSync.Stop()
		go func() {
			for range breakerSync.C {
				promSub.SyncBreakers(breakers)
			}
		}()
	}

	effectRouter, closeTransports, err := buildTransports(cfg)
	if err != nil {
		return fmt.Errorf("build transports: %w", err)
	}
	defer closeTransports()

	exec := executor.New(executor.Config{
		EffectQueueName:       cfg.Executor.QueueNameEffects,
		ContinuationQueueName: cfg.Executor.QueueNameContinuation,
		EffectWorkers:         cfg.Executor.EffectWorkers,
		ContinuationWorkers:   cfg.Executor.ContinuationWorkers,
	}, effectRouter, resolveBreaker)

	// No application route is registered by the core itself — spec.md §6
	// treats the RouteTable as an external collaborator a deployment
	// populates, not something this binary decides on its own behalf.
	routes := router.New()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	if promSub != nil {
		mux.Handle("GET /metrics", promSub.Handler())
	}
	mux.HandleFunc("/", requestHandler(routes, exec, subscribers))

	httpServer := &http.Server{
		Addr:    cfg.Daemon.HTTPAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("zerver started", "addr", cfg.Daemon.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown zerver: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("zerver server error: %w", err)
	}
}

// buildSubscribers wires the OTLP recorder (always present — its exporter
// is a no-op send when cfg.OTLP.Endpoint is empty) and the Prometheus
// subscriber (only when cfg.Metrics.Enabled), mirroring the teacher's own
// practice of treating metrics as an optional Subscriber rather than a
// core dependency.
func buildSubscribers(cfg *config.Config) ([]telemetry.Subscriber, *metrics.Subscriber, error) {
	exporter, err := otlp.NewExporterFromConfig(otlp.ResourceConfig{
		ServiceName: cfg.OTLP.ServiceName,
	}, cfg.OTLP.Endpoint, parseHeaders(cfg.OTLP.Headers))
	if err != nil {
		return nil, nil, fmt.Errorf("build otlp exporter: %w", err)
	}

	recorder := otlp.NewRecorder(otlp.PromotionConfig{
		QueueThresholdMS: int64(cfg.OTLP.PromoteQueueMS),
		ParkThresholdMS:  int64(cfg.OTLP.PromoteParkMS),
		ForcePromote:     cfg.OTLP.DebugJobs,
	}, exporter)

	subscribers := []telemetry.Subscriber{recorder}

	var promSub *metrics.Subscriber
	if cfg.Metrics.Enabled {
		promSub = metrics.New(cfg.Metrics.Namespace, nil)
		subscribers = append(subscribers, promSub)
	}

	return subscribers, promSub, nil
}

// buildTransports constructs every effect transport cfg.Transport's
// fields permit and composes them into a transport.EffectRouter. A
// transport whose connection setting is unset (Postgres DSN, Redis addr)
// is simply left nil on the EffectRouter rather than constructed against
// an empty target — db_*/kv_cache_* effects then fail with ErrInternal
// instead of the process refusing to start.
func buildTransports(cfg *config.Config) (*transport.EffectRouter, func(), error) {
	computeWorkers := cfg.Transport.ComputeWorkers
	if computeWorkers <= 0 {
		computeWorkers = 16
	}

	fileTransport, err := filetransport.New(context.Background())
	if err != nil {
		return nil, nil, fmt.Errorf("build file transport: %w", err)
	}

	effectRouter := &transport.EffectRouter{
		HTTP:      httptransport.New(30 * time.Second),
		TCP:       tcptransport.New(),
		GRPC:      grpctransport.New(),
		WebSocket: wstransport.New(),
		File:      fileTransport,
		Compute:   computetransport.New(computeWorkers),
	}

	var closers []func() error

	if cfg.Transport.PostgresDSN != "" {
		db, err := dbtransport.New(context.Background(), cfg.Transport.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("build db transport: %w", err)
		}
		effectRouter.DB = db
		closers = append(closers, func() error { db.Close(); return nil })
	}

	if cfg.Transport.RedisAddr != "" {
		cache := cachetransport.New(cachetransport.Config{
			Addr:     cfg.Transport.RedisAddr,
			Password: cfg.Transport.RedisPassword,
			DB:       cfg.Transport.RedisDB,
		})
		effectRouter.Cache = cache
		closers = append(closers, cache.Close)
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logging.Op().Warn("error closing transport", "error", err)
			}
		}
	}

	return effectRouter, closeAll, nil
}

// requestHandler adapts an inbound *http.Request into a reqcontext.Context,
// matches it against routes, resolves the request's correlation id, and
// runs it through exec, writing the resulting Response back to w.
func requestHandler(routes *router.Table, exec *executor.Executor, subscribers []telemetry.Subscriber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inbound, err := transport.NewInboundRequest(r)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		spec, params, ok := routes.Match(inbound.Method, inbound.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}

		ctx := inbound.ToContext()
		for name, value := range params {
			ctx.SetParam(name, value)
		}

		requestID, _, _ := correlation.Resolve(ctx)
		ctx.SetRequestID(requestID)

		tel := telemetry.New(requestID, subscribers)
		result := exec.Run(ctx, spec.Route, tel)

		writeResponse(w, result.Response)
	}
}

func writeResponse(w http.ResponseWriter, resp ztypes.Response) {
	for _, h := range resp.Headers {
		w.Header().Set(h.Name, h.Value)
	}
	w.WriteHeader(resp.Status)

	switch resp.Kind {
	case ztypes.BodyStreaming:
		if resp.Stream != nil {
			resp.Stream.Close()
		}
	default:
		w.Write(resp.Body)
	}
}

// parseHeaders parses the "key1=value1,key2=value2" environment form spec
// §6 names for the OTLP export headers.
func parseHeaders(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return headers
}
