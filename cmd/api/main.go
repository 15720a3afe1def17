package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/cleanline/api/internal/di"
	"github.com/cleanline/api/internal/handlers"
	"github.com/cleanline/api/internal/platform/config"
	pfirestore "github.com/cleanline/api/internal/platform/firestore"
	"github.com/cleanline/api/internal/platform/metrics"
	"github.com/cleanline/api/internal/platform/observability"
	"github.com/cleanline/api/internal/platform/secrets"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLoggerWithLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	registry := metrics.New()

	fetcher, err := newSecretFetcher(ctx, logger, registry)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	var providerOpts []pfirestore.ProviderOption
	if path := strings.TrimSpace(os.Getenv("API_FIRESTORE_CREDENTIALS_FILE")); path != "" {
		providerOpts = append(providerOpts, pfirestore.WithClientOptions(option.WithCredentialsFile(path)))
	}

	container, err := di.NewContainer(ctx, cfg,
		di.WithLogger(baseLogger),
		di.WithMetrics(registry),
		di.WithBuildInfo(buildInfoFromEnv(cfg, startedAt)),
		di.WithFirestoreOptions(providerOpts...),
	)
	if err != nil {
		logger.Fatal("failed to initialise container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	var sweepWG sync.WaitGroup
	sweepWG.Add(1)
	go func() {
		defer sweepWG.Done()
		container.RunSweeper(sweepCtx)
	}()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      container.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(
		zap.String("addr", server.Addr),
		zap.String("catalog_source", cfg.Catalog.Source),
		zap.String("session_backend", cfg.Sessions.Backend),
	)
	go func() {
		serverLogger.Info("receiving counter api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	sweepCancel()
	sweepWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

// newSecretFetcher runs before config.Load, so it reads its own settings straight from the environment.
func newSecretFetcher(ctx context.Context, logger *zap.Logger, registry *metrics.Registry) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(os.Getenv(key))
	}

	project := lookup("API_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithObserver(registry.SecretResolved),
		secrets.WithCacheTTL(10 * time.Minute),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if pins := secretVersionPins(lookup("API_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if path := lookup("API_SECRET_CREDENTIALS_FILE"); path != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(path)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// secretVersionPins parses "name=version,other=version" into canonical secret:// keys.
func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		ref, version, ok := strings.Cut(strings.TrimSpace(entry), "=")
		ref = strings.TrimSpace(ref)
		version = strings.TrimSpace(version)
		if !ok || ref == "" || version == "" {
			continue
		}
		switch {
		case strings.HasPrefix(ref, "sm://"):
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		case !strings.HasPrefix(ref, "secret://"):
			ref = "secret://" + ref
		}
		pins[ref] = version
	}
	return pins
}
