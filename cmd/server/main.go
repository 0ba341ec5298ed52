package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/sonolive/internal/api"
	"github.com/ahrav/sonolive/internal/api/debug"
	"github.com/ahrav/sonolive/internal/api/mux"
	"github.com/ahrav/sonolive/internal/api/routes"
	"github.com/ahrav/sonolive/internal/app/commands/session"
	"github.com/ahrav/sonolive/internal/app/orchestration"
	"github.com/ahrav/sonolive/internal/config"
	"github.com/ahrav/sonolive/internal/config/credentials/memory"
	"github.com/ahrav/sonolive/internal/config/loaders"
	"github.com/ahrav/sonolive/internal/gateway/hub"
	eventbus "github.com/ahrav/sonolive/internal/infra/eventbus/memory"
	"github.com/ahrav/sonolive/internal/infra/messaging/connections"
	"github.com/ahrav/sonolive/internal/infra/upstream"
	"github.com/ahrav/sonolive/internal/infra/upstream/deezer"
	"github.com/ahrav/sonolive/internal/infra/upstream/itunes"
	"github.com/ahrav/sonolive/internal/infra/upstream/lastfm"
	"github.com/ahrav/sonolive/internal/infra/upstream/lidarr"
	"github.com/ahrav/sonolive/internal/infra/upstream/listenbrainz"
	"github.com/ahrav/sonolive/internal/infra/upstream/musicbrainz"
	"github.com/ahrav/sonolive/internal/infra/upstream/openai"
	"github.com/ahrav/sonolive/internal/infra/upstream/requests"
	"github.com/ahrav/sonolive/internal/infra/upstream/youtube"
	"github.com/ahrav/sonolive/pkg/common/logger"
	"github.com/ahrav/sonolive/pkg/common/otel"
	"github.com/ahrav/sonolive/pkg/common/timeutil"
)

var build = "develop"

const serviceType = "sonolive"

func main() {
	// Set the correct number of threads for the service
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	ctx := context.Background()

	// The loader that watches the file is rebuilt in run with the real logger.
	cfgPath := os.Getenv("SONOLIVE_CONFIG")
	cfg, err := loaders.NewEnvLoader(cfgPath, loaders.DefaultEnvPrefix, logger.Noop()).Load(ctx)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}

			// Add any error-specific attributes.
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("SONOLIVE-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	logr := logger.NewWithMetadata(os.Stdout, logger.ParseLevel(cfg.Log.Level), svcName, traceIDFn, logEvents, metadata)

	if err := run(ctx, logr, cfg, cfgPath, hostname); err != nil {
		logr.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, cfg *config.Config, cfgPath, hostname string) error {
	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0), "build", build)

	// -------------------------------------------------------------------------
	// Start Tracing Support
	log.Info(ctx, "startup", "status", "initializing tracing support")

	excluded := map[string]struct{}{
		"/v1/health":    {},
		"/v1/readiness": {},
		"/debug":        {},
	}

	traceProvider, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Telemetry.ServiceName,
		ExporterEndpoint: cfg.Telemetry.ExporterEndpoint,
		ExcludedRoutes:   excluded,
		Probability:      cfg.Telemetry.Probability,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
		},
		InsecureExporter: cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer teardown(context.WithoutCancel(ctx))

	log = log.Tee(otelslog.NewHandler(cfg.Telemetry.ServiceName))
	tracer := traceProvider.Tracer(cfg.Telemetry.ServiceName)
	mp := otel.GetMeterProvider()

	// -------------------------------------------------------------------------
	// Start Debug Service

	if cfg.Server.DebugHost != "" {
		debugMux, err := debug.Mux()
		if err != nil {
			return fmt.Errorf("creating debug mux: %w", err)
		}
		go func() {
			log.Info(ctx, "startup", "status", "debug router started", "host", cfg.Server.DebugHost)

			if err := http.ListenAndServe(cfg.Server.DebugHost, debugMux); err != nil {
				log.Error(ctx, "shutdown", "status", "debug router closed", "host", cfg.Server.DebugHost, "msg", err)
			}
		}()
	}

	// -------------------------------------------------------------------------
	// Upstream Adapters
	log.Info(ctx, "startup", "status", "initializing upstream adapters")

	clients := newUpstreams(cfg, tracer)
	clock := timeutil.Default()

	lastfmClient := lastfm.New(clients.lastfm, cfg.LastFM.APIKey)
	mbClient := musicbrainz.New(clients.musicbrainz, cfg.MusicBrainz.FallbackToTopResult, log)
	lidarrClient := lidarr.New(clients.lidarr, lidarr.Config{
		APIKey:                 cfg.Lidarr.APIKey,
		RootFolderPath:         cfg.Lidarr.RootFolderPath,
		QualityProfileID:       cfg.Lidarr.QualityProfileID,
		MetadataProfileID:      cfg.Lidarr.MetadataProfileID,
		Monitored:              cfg.Lidarr.Monitored,
		MonitorOption:          cfg.Lidarr.MonitorOption,
		AlbumsToMonitor:        cfg.Lidarr.AlbumsToMonitor,
		MonitorNewItems:        cfg.Lidarr.MonitorNewItems,
		SearchForMissingAlbums: cfg.Lidarr.SearchForMissingAlbums,
		DryRun:                 cfg.Lidarr.DryRun,
		CacheTTL:               cfg.Lidarr.CacheTTL,
	}, mbClient, log)
	requestStore := requests.NewStore(clock, log)

	expander := upstream.NewExpander(upstream.ExpanderConfig{
		SimilarPerSeed: cfg.Session.SimilarPerSeed,
		PageSize:       cfg.Session.PageSize,
		Concurrency:    cfg.Session.MaxParallelBatches,
		CacheTTL:       cfg.Session.ExpansionCacheTTL,
	}, lastfmClient, deezer.New(clients.deezer), clock, log, tracer)

	personal := upstream.NewPersonal(upstream.PersonalConfig{
		LastFMUsername:       cfg.LastFM.Username,
		ListenBrainzUsername: cfg.ListenBrainz.Username,
		ListenBrainzEnabled:  cfg.ListenBrainz.Enabled,
		VerifyUsers:          cfg.ListenBrainz.VerifyUsers,
	}, lastfmClient, listenbrainz.New(clients.listenbrainz))

	preview := upstream.NewPreview(
		lastfmClient,
		youtube.New(clients.youtube, cfg.YouTube.APIKey),
		itunes.New(clients.itunes),
		log,
	)

	orchOpts := []orchestration.Option{orchestration.WithArtistSearcher(mbClient)}
	if cfg.OpenAI.Enabled() {
		orchOpts = append(orchOpts, orchestration.WithPromptSeeder(openai.New(clients.openai, openai.Config{
			APIKey:       cfg.OpenAI.APIKey,
			Model:        cfg.OpenAI.Model,
			ExtraHeaders: cfg.OpenAI.ExtraHeaders,
			MaxSeeds:     cfg.OpenAI.MaxSeeds,
			Temperature:  cfg.OpenAI.Temperature,
		})))
	}

	// -------------------------------------------------------------------------
	// Session Orchestrator and Broadcast Hub
	log.Info(ctx, "startup", "status", "initializing session")

	bus := eventbus.NewBus()
	defer bus.Close()

	orchMetrics, err := orchestration.NewOrchestrationMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating orchestration metrics: %w", err)
	}

	orch := orchestration.NewOrchestrator(
		orchestration.Config{
			BatchSize:                    cfg.Session.BatchSize,
			MaxCandidates:                cfg.Session.MaxCandidates,
			MaxParallelBatches:           cfg.Session.MaxParallelBatches,
			ConnectivityFailureThreshold: cfg.Session.ConnectivityFailureThreshold,
			ActionTimeout:                cfg.Session.ActionTimeout,
		},
		expander,
		upstream.NewActions(lidarrClient, requestStore),
		personal,
		preview,
		lidarrClient,
		bus,
		log,
		orchMetrics,
		tracer,
		orchOpts...,
	)

	cmdHandler := session.NewCommandHandler(orch, log, tracer)

	hubMetrics, err := hub.NewHubMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating hub metrics: %w", err)
	}

	observers := hub.NewService(hub.Config{
		QueueSize:      cfg.Hub.QueueSize,
		OverflowPolicy: connections.OverflowPolicy(cfg.Hub.OverflowPolicy),
		WriteWait:      cfg.Hub.WriteWait,
		PongWait:       cfg.Hub.PongWait,
	}, orch, cmdHandler, log, hubMetrics, tracer)

	runCtx, stopSession := context.WithCancel(ctx)
	defer stopSession()

	if err := bus.SubscribeHandler(runCtx, observers); err != nil {
		return fmt.Errorf("subscribing hub: %w", err)
	}

	orchDone, err := orch.Run(runCtx)
	if err != nil {
		return fmt.Errorf("starting orchestrator: %w", err)
	}

	// -------------------------------------------------------------------------
	// Configuration Reloads

	creds, err := memory.NewCredentialStore(cfg.Auth.Tokens)
	if err != nil {
		return fmt.Errorf("loading api tokens: %w", err)
	}
	if len(cfg.Auth.Tokens) == 0 {
		log.Warn(ctx, "startup", "status", "no api tokens configured, every observer will be rejected")
	}

	watcher := loaders.NewEnvLoader(cfgPath, loaders.DefaultEnvPrefix, log)
	go func() {
		err := watcher.Watch(runCtx, func(next *config.Config) {
			clients.updateLimits(next)
			if err := creds.Replace(next.Auth.Tokens); err != nil {
				log.Warn(runCtx, "api tokens not reloaded", "error", err)
			}
		})
		if err != nil {
			log.Error(runCtx, "config watcher stopped", "error", err)
		}
	}()

	// -------------------------------------------------------------------------
	// Start API Service

	log.Info(ctx, "startup", "status", "initializing API support")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	apiMetrics, err := api.NewAPIMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating metrics collector: %w", err)
	}

	webAPI := mux.WebAPI(mux.Config{
		Build:       build,
		ServiceName: cfg.Telemetry.ServiceName,
		Log:         log,
		Tracer:      tracer,
		Metrics:     apiMetrics,
		Credentials: creds,
		Observers:   observers,
		Sessions:    orch,
		Requests:    requestStore,

		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
	}, routes.Routes(),
		mux.WithCORS(cfg.Server.CORSAllowedOrigins),
		mux.WithUntracedRoutes(excluded),
	)

	apiServer := http.Server{
		Addr:         cfg.Server.APIHost,
		Handler:      webAPI,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     logger.NewStdLogger(log, logger.LevelError),
	}

	serverErrors := make(chan error, 1)

	go func() {
		log.Info(ctx, "startup", "status", "api router started", "host", apiServer.Addr)
		serverErrors <- apiServer.ListenAndServe()
	}()

	// -------------------------------------------------------------------------
	// Shutdown

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		log.Info(ctx, "shutdown", "status", "shutdown started", "signal", sig)
		defer log.Info(ctx, "shutdown", "status", "shutdown complete", "signal", sig)

		ctx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
		defer cancel()

		// Hijacked websockets are not tracked by Shutdown; detach them first.
		observers.Close(ctx)

		if err := apiServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}

		stopSession()
		select {
		case <-orchDone:
		case <-ctx.Done():
			return fmt.Errorf("orchestrator did not stop: %w", ctx.Err())
		}
		cmdHandler.Wait()
	}

	return nil
}
