package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatekeeper/internal/api"
	"gatekeeper/internal/auth"
	"gatekeeper/internal/config"
	"gatekeeper/internal/gate"
	"gatekeeper/internal/logger"
	"gatekeeper/internal/models"
	"gatekeeper/internal/observability"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/storage"
	"gatekeeper/internal/usage"
	"gatekeeper/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetInfo().String())
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, version.GetInfo())
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, version.GetInfo())
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize storage
	storageInstance, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer storageInstance.Close()

	// Wrap storage with instrumentation if metrics are enabled
	var activeStorage storage.Storage = storageInstance
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStorage(storageInstance)
		if err != nil {
			slog.Error("Failed to create instrumented storage", "error", err)
			os.Exit(1)
		}
		activeStorage = instrumented
	}

	if err := seedBootstrapKey(context.Background(), activeStorage, cfg); err != nil {
		slog.Error("Failed to seed bootstrap key", "error", err)
		os.Exit(1)
	}

	quotas := cfg.Security.Tiers
	if len(quotas) == 0 {
		quotas = models.DefaultQuotaTable()
	}

	// Initialize the rate-limit counter backend
	counters, err := initializeCounters(cfg)
	if err != nil {
		slog.Error("Failed to initialize counter store", "error", err)
		os.Exit(1)
	}

	limiter := ratelimit.NewQuotaLimiter(counters, quotas, log)
	defer limiter.Close()

	recorder := usage.NewRecorder(activeStorage, log, usage.DefaultBufferSize)
	defer recorder.Close()

	resolver := auth.NewResolver(activeStorage, quotas, log)

	gateOpts := []gate.Option{}
	if cfg.Metrics.Enabled {
		admissionMetrics, err := observability.NewAdmissionMetrics()
		if err != nil {
			slog.Error("Failed to create admission metrics", "error", err)
			os.Exit(1)
		}
		gateOpts = append(gateOpts, gate.WithObserver(admissionMetrics))
	}
	admissionGate := gate.New(resolver, limiter, recorder, log, gateOpts...)

	handlers := api.NewHandlers(activeStorage, quotas)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	if cfg.Security.Ingress.Enabled {
		ing := cfg.Security.Ingress
		ingressLimiter := ratelimit.NewIngressLimiter(ing.RequestsPerMinute, ing.BurstSize, ing.CleanupInterval)
		defer ingressLimiter.Close()
		routeOpts = append(routeOpts, api.WithIngressLimiter(ingressLimiter))
	}

	router := api.SetupRoutes(handlers, admissionGate, cfg, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server", "addr", server.Addr)

		var err error
		if cfg.Server.TLSEnabled {
			if cfg.Server.TLSCertFile == "" || cfg.Server.TLSKeyFile == "" {
				slog.Error("TLS is enabled but cert file or key file is not specified")
				os.Exit(1)
			}
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Attempt graceful shutdown; deferred closes drain the usage recorder
	// and stop the limiter after in-flight requests finish.
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// initializeCounters creates the rate-limit counter backend from configuration.
func initializeCounters(cfg *models.Config) (ratelimit.CounterStore, error) {
	switch cfg.Counters.Type {
	case models.CounterTypeMemory:
		return ratelimit.NewMemoryCounterStore(cfg.Counters.SweepInterval), nil
	case models.CounterTypeRedis:
		return ratelimit.NewRedisCounterStore(cfg.Counters.Redis)
	default:
		return nil, fmt.Errorf("unsupported counter type: %s", cfg.Counters.Type)
	}
}

// seedBootstrapKey inserts the configured bootstrap key into storage if it
// does not already exist. It is a no-op when BootstrapKey is empty.
func seedBootstrapKey(ctx context.Context, store storage.Storage, cfg *models.Config) error {
	raw := cfg.Security.BootstrapKey
	if raw == "" {
		return nil
	}
	if !models.ValidKeyFormat(raw) {
		return fmt.Errorf("bootstrap key does not match the required key format")
	}
	hash := models.HashCredentialKey(raw)
	if _, err := store.GetCredentialByHash(ctx, hash); err == nil {
		// Already seeded - idempotent.
		return nil
	}
	cred := models.NewCredential(models.NewCredentialID(), "operator", "bootstrap", raw, nil)
	if err := store.CreateCredential(ctx, cred); err != nil {
		return fmt.Errorf("seed bootstrap key: %w", err)
	}
	if err := store.SetOwnerTier(ctx, cred.OwnerID, models.TierEnterprise); err != nil {
		return fmt.Errorf("seed bootstrap tier: %w", err)
	}
	slog.Info("bootstrap key seeded", "id", cred.ID, "prefix", cred.Prefix)
	return nil
}
