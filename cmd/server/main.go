// Alertenrich turns raw device alerts into enriched, routable notifications.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/alertenrich/internal/alertapi"
	"github.com/linnemanlabs/alertenrich/internal/authmw"
	ac "github.com/linnemanlabs/alertenrich/internal/cfg"
	"github.com/linnemanlabs/alertenrich/internal/directory/memdirectory"
	"github.com/linnemanlabs/alertenrich/internal/directory/pgdirectory"
	"github.com/linnemanlabs/alertenrich/internal/enrich"
	"github.com/linnemanlabs/alertenrich/internal/postgres"
	"github.com/linnemanlabs/alertenrich/internal/stream"
	"github.com/linnemanlabs/alertenrich/internal/transport/kafkabus"
	"github.com/linnemanlabs/alertenrich/internal/transport/redisbus"
	"github.com/linnemanlabs/alertenrich/internal/transport/webhook"
)

const appName = "alertenrich"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    ac.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	// register flags for each package, which will be parsed into the shared config struct
	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// parse flags to get config values from cmdline, we check env vars next which do not override cmdline flags
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// Fill in config values from environment variables with prefix ALERTENRICH_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "ALERTENRICH_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	// create a logger with component field pre-filled for structured logging in this package
	L := lg.With("component", vi.Component)

	// add logger to context
	ctx = log.WithContext(ctx, L)

	sourceKind := appCfg.SourceKind()
	sinkKind := appCfg.SinkKind()

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"api_auth", appCfg.APIToken != "",
		"source", sourceKind,
		"sink", sinkKind,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"pyro_server", profCfg.PyroServer,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

	// Setup pyroscope profiling early so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
		"source":    "lmlabs-go-agent",
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	// Setup otel for tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// Link spans to profiles so a slow enrichment can be opened as a flame graph
	if profErr == nil && profCfg.EnablePyroscope {
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	// Setup metrics, we use our own metrics package for internal instrumentation
	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	enrichMetrics := enrich.NewMetrics(m.Registry())
	streamMetrics := stream.NewMetrics(m.Registry())

	// Register per-query DB duration histogram and wire the observer.
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "alertenrich_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source", "caller", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, source, caller, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(source, caller, outcome).Observe(dur.Seconds())
		},
	))

	// Initialize the patient store behind the directory
	var patientStore enrich.PatientStore
	switch {
	case appCfg.DatabaseURL != "":
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL, postgres.PoolOptions{
			MaxConns:  int32(appCfg.DatabaseMaxConns), //nolint:gosec // bounded to 0..1000 by Validate
			SlowQuery: appCfg.SlowQuery(),
		})
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		pgStore := pgdirectory.New(pool, appCfg.DirectoryTimeout())
		if err := pgStore.Migrate(ctx); err != nil {
			return fmt.Errorf("pgdirectory migrate: %w", err)
		}
		patientStore = pgStore
		L.Info(ctx, "using postgres patient directory")
	case appCfg.DirectoryFile != "":
		memStore := memdirectory.New()
		if err := memStore.Load(appCfg.DirectoryFile); err != nil {
			return fmt.Errorf("load directory file: %w", err)
		}
		go func() {
			if err := memStore.Watch(ctx, appCfg.DirectoryFile, L); err != nil {
				L.Error(ctx, err, "directory file watch stopped", "path", appCfg.DirectoryFile)
			}
		}()
		patientStore = memStore
		L.Info(ctx, "using in-memory patient directory", "path", appCfg.DirectoryFile, "patients", memStore.Len())
	default:
		patientStore = memdirectory.New()
		L.Warn(ctx, "no patient directory configured, every alert will use fallback recipients")
	}

	// Build the enrichment pipeline
	directory := enrich.NewDirectory(patientStore, L, enrichMetrics.Hooks())
	resolver := enrich.NewResolver(appCfg.FallbackRecipients, appCfg.DefaultRecipient)
	pipeline := enrich.NewPipeline(directory, resolver, L, enrichMetrics.Hooks())
	L.Info(ctx, "enrichment pipeline ready", "fallback_recipients", len(resolver.Fallback()))

	// Shared redis client, used by either side of the stream
	var redisClient redisbus.Client
	if appCfg.RedisAddr != "" && (sourceKind == ac.TransportRedis || sinkKind == ac.TransportRedis) {
		rc, err := redisbus.NewClient(ctx, appCfg.RedisAddr, appCfg.RedisPassword, appCfg.RedisDB)
		if err != nil {
			return fmt.Errorf("redis client: %w", err)
		}
		redisClient = rc
	}

	// Initialize the sink for enriched alerts
	sink, err := newSink(sinkKind, appCfg, redisClient, L)
	if err != nil {
		return fmt.Errorf("%s sink: %w", sinkKind, err)
	}
	if sink != nil {
		L.Info(ctx, "sink enabled", "type", sinkKind)
	} else {
		L.Warn(ctx, "no sink configured, ingest endpoint and stream source disabled")
	}

	// Initialize the source of raw alerts, there is nothing to consume for without a sink
	var source stream.Source
	if sink != nil {
		source, err = newSource(ctx, sourceKind, appCfg, redisClient, L)
		if err != nil {
			return fmt.Errorf("%s source: %w", sourceKind, err)
		}
	}

	// Run the stream processor until the signal context is cancelled
	processorDone := make(chan struct{})
	if source != nil {
		proc := stream.NewProcessor(sourceKind, source, sink, pipeline, L, streamMetrics)
		go func() {
			defer close(processorDone)
			if err := proc.Run(ctx); err != nil {
				L.Error(ctx, err, "stream processor exited")
			}
		}()
	} else {
		close(processorDone)
	}

	// setup toggle for server shutdown. this is used to fail readiness checks
	// during shutdown to drain connections from load balancer before killing the process.
	var shutdownGate health.ShutdownGate

	readiness := health.All(
		shutdownGate.Probe(),
	)
	// liveness is always true if the app is able to respond
	liveness := health.Fixed(true, "")

	// Configure ops http server for metrics, health checks, pprof, etc
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	// setup main api chi router and middleware stack
	r := chi.NewRouter()

	// Compress text responses (we are JSON only for now)
	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Access log middleware
	r.Use(httpmw.AccessLog())

	// Limit request body size, this is a wrapper around http.MaxBytesHandler which returns 413 if limit is exceeded
	r.Use(httpmw.MaxBody(1024 * 64))

	// add health check endpoints to main listener
	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	// register api routes behind bearer auth; health stays open
	alertapiHTTP := alertapi.New(L, pipeline, sink)
	r.Group(func(r chi.Router) {
		r.Use(authmw.BearerTokens(authmw.ParseTokens(appCfg.APIToken)))
		alertapiHTTP.RegisterRoutes(r)
	})

	// middleware stack for main listener, order matters these are wrappers, outermost sees raw request
	// first and is last to see response
	var h http.Handler = r

	// Request-scoped logging (inner so it sees trace_id, chi route, etc)
	h = httpmw.WithLogger(L)(h)

	// add trace-id and span-id headers to any requests with a recording trace
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	// otel instrumentation for automatic spans and trace context propagation
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// dont trace health/readiness checks
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute will rename the span later to the final route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	// Metrics middleware for prometheus instrumentation
	h = m.Middleware(h)

	// Client IP resolution and spoofing protection middleware
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	// Request ID (outer so everything downstream sees it)
	h = httpmw.RequestID("X-Request-Id")(h)

	// Recovery middleware to recover and log panics and serve 500 response.
	h = httpmw.Recover(L, nil)(h)

	// Security headers outermost to ensure they are served on every response
	h = httpmw.SecurityHeaders(h)

	alertapiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	alertapiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, alertapiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start alertapi http listener")
		return err
	}
	defer func() {
		err := alertapiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop alertapi http listener")
		}
	}()

	// Notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// Wait for ctrl+c / sigterm
	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	// fail health checks to drain connections
	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Shutdown components with per-component budget sliced from total.
	// stopProf is synchronous and needs no context, so it's excluded.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"alertapi http server", alertapiHTTPStop},
		{"stream processor", func(ctx context.Context) error {
			select {
			case <-processorDone:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}},
		{"stream source", closer(source)},
		{"stream sink", closer(sink)},
		{"redis client", closer(redisClient)},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		if s.fn == nil {
			continue
		}
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	if stopProf != nil {
		stopProf()
	}

	L.Info(context.Background(), "shutdown complete")
	return nil
}

func newSink(kind string, c ac.Config, rc redisbus.Client, L log.Logger) (stream.Sink, error) {
	switch kind {
	case ac.TransportWebhook:
		return webhook.New(c.SinkWebhookURL, webhook.Format(c.SinkWebhookFormat)), nil
	case ac.TransportKafka:
		return kafkabus.NewProducer(kafkabus.ParseBrokers(c.KafkaBrokers), c.KafkaOutputTopic, L)
	case ac.TransportRedis:
		return redisbus.NewProducer(rc, c.RedisOutputStream, c.RedisMaxLen, L)
	}
	return nil, nil
}

func newSource(ctx context.Context, kind string, c ac.Config, rc redisbus.Client, L log.Logger) (stream.Source, error) {
	switch kind {
	case ac.TransportKafka:
		return kafkabus.NewConsumer(kafkabus.ParseBrokers(c.KafkaBrokers), c.KafkaInputTopic, c.KafkaGroupID, L)
	case ac.TransportRedis:
		consumer := c.RedisConsumer
		if consumer == "" {
			consumer, _ = os.Hostname()
		}
		return redisbus.NewConsumer(ctx, rc, c.RedisInputStream, c.RedisGroup, consumer, L)
	}
	return nil, nil
}

// closer adapts an optional io.Closer-shaped component to the shutdown list.
// It returns nil for a nil component so the entry is skipped.
func closer[T interface{ Close() error }](c T) func(context.Context) error {
	if any(c) == nil {
		return nil
	}
	return func(context.Context) error { return c.Close() }
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
