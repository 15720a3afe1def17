package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cleanline/api/internal/handlers"
	"github.com/cleanline/api/internal/platform/config"
	pfirestore "github.com/cleanline/api/internal/platform/firestore"
	"github.com/cleanline/api/internal/platform/idempotency"
	"github.com/cleanline/api/internal/platform/jobs"
	"github.com/cleanline/api/internal/platform/metrics"
	"github.com/cleanline/api/internal/platform/money"
	"github.com/cleanline/api/internal/platform/observability"
	"github.com/cleanline/api/internal/platform/storage"
	"github.com/cleanline/api/internal/platform/textutil"
	"github.com/cleanline/api/internal/repositories"
	"github.com/cleanline/api/internal/services"
)

const (
	healthTimeout    = 2 * time.Second
	sweepLoggerEvent = "sessions.sweep"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Catalog  services.CatalogService
	Counters services.CounterService
	Wizard   services.WizardService
	Pricing  *services.OrderPricingEngine
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Metrics      *metrics.Registry
	Idempotency  idempotency.Store

	registry *registry
	logger   *zap.Logger
	clock    func() time.Time
	build    handlers.BuildInfo
	pubsub   *pubsub.Client
	topic    *pubsub.Topic

	closeOnce sync.Once
	closeErr  error
}

// Option customises container construction.
type Option func(*options)

type options struct {
	logger          *zap.Logger
	metrics         *metrics.Registry
	clock           func() time.Time
	build           handlers.BuildInfo
	providerOptions []pfirestore.ProviderOption
}

// WithLogger sets the base logger; components derive named children from it.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics shares a metrics registry created before the container, e.g. one already observing secrets.
func WithMetrics(registry *metrics.Registry) Option {
	return func(o *options) {
		if registry != nil {
			o.metrics = registry
		}
	}
}

// WithClock injects a custom clock.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithBuildInfo sets the metadata reported by the health probes.
func WithBuildInfo(info handlers.BuildInfo) Option {
	return func(o *options) {
		o.build = info
	}
}

// WithFirestoreOptions forwards options to the Firestore provider.
func WithFirestoreOptions(opts ...pfirestore.ProviderOption) Option {
	return func(o *options) {
		o.providerOptions = append(o.providerOptions, opts...)
	}
}

// NewContainer constructs the runtime dependencies for cfg.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}
	if o.build.StartedAt.IsZero() {
		o.build.StartedAt = o.clock().UTC()
	}
	if o.build.Environment == "" {
		o.build.Environment = cfg.Environment
	}

	var provider *pfirestore.Provider
	if cfg.NeedsFirestore() {
		provider = pfirestore.NewProvider(cfg.Firestore, o.providerOptions...)
	}

	reg, err := newRegistry(cfg, provider, o.clock)
	if err != nil {
		return nil, err
	}

	c := &Container{
		Config:       cfg,
		Repositories: reg,
		Metrics:      o.metrics,
		registry:     reg,
		logger:       o.logger,
		clock:        o.clock,
		build:        o.build,
	}

	if err := c.buildServices(ctx); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	if err := reg.attachHealth(c.healthChecks(), o.clock); err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("build health repository: %w", err)
	}
	if err := c.buildIdempotency(provider); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	return c, nil
}

func (c *Container) buildServices(ctx context.Context) error {
	cfg := c.Config
	reg := c.registry

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Repository: reg.Catalog(),
		TTL:        cfg.Catalog.CacheTTL,
		Clock:      c.clock,
		Logger:     observability.NewEventLogger(c.logger, "catalog"),
	})
	if err != nil {
		return fmt.Errorf("build catalog service: %w", err)
	}
	c.Services.Catalog = catalogSvc

	currency, err := money.ParseCurrency(cfg.Pricing.Currency)
	if err != nil {
		return fmt.Errorf("parse pricing currency: %w", err)
	}
	pricing, err := services.NewOrderPricingEngine(services.OrderPricingEngineConfig{
		Currency:   currency.Code(),
		MinorUnits: currency.MinorUnits(),
	})
	if err != nil {
		return fmt.Errorf("build pricing engine: %w", err)
	}
	c.Services.Pricing = pricing

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository:    reg.Counters(),
		Clock:         c.clock,
		ReceiptPrefix: cfg.Receipts.Prefix,
	})
	if err != nil {
		return fmt.Errorf("build counter service: %w", err)
	}
	c.Services.Counters = counterSvc

	events, err := c.buildPublisher(ctx)
	if err != nil {
		return err
	}
	photos, err := buildPhotoStorage(cfg.Storage)
	if err != nil {
		return err
	}

	deps := services.WizardServiceDeps{
		Sessions:   reg.Sessions(),
		Catalog:    catalogSvc,
		Pricing:    pricing,
		Counters:   counterSvc,
		Metrics:    c.Metrics,
		Sanitize:   textutil.NewSanitizer().Sanitize,
		SessionTTL: cfg.Sessions.TTL,
		Clock:      c.clock,
		Logger:     observability.NewEventLogger(c.logger, "wizard"),
	}
	// Typed nils must not leak into the interface fields.
	if events != nil {
		deps.Events = events
	}
	if photos != nil {
		deps.Photos = photos
	}
	wizard, err := services.NewWizardService(deps)
	if err != nil {
		return fmt.Errorf("build wizard service: %w", err)
	}
	c.Services.Wizard = wizard
	return nil
}

func (c *Container) buildPublisher(ctx context.Context) (*jobs.PubSubOrderEventPublisher, error) {
	cfg := c.Config.PubSub
	topicID := strings.TrimSpace(cfg.OrderEventsTopic)
	if cfg.DisablePublishing || topicID == "" {
		c.logger.Info("order event publishing disabled")
		return nil, nil
	}
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		projectID = strings.TrimSpace(c.Config.Firestore.ProjectID)
	}
	if projectID == "" {
		c.logger.Warn("order event publishing disabled: no pubsub project configured")
		return nil, nil
	}

	var clientOpts []option.ClientOption
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		clientOpts = append(clientOpts,
			option.WithoutAuthentication(),
			option.WithEndpoint(host),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := pubsub.NewClient(ctx, projectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	topic.EnableMessageOrdering = true

	publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
	if err != nil {
		topic.Stop()
		_ = client.Close()
		return nil, fmt.Errorf("build order publisher: %w", err)
	}
	c.pubsub = client
	c.topic = topic
	return publisher, nil
}

func buildPhotoStorage(cfg config.StorageConfig) (*storage.PhotoUploader, error) {
	if strings.TrimSpace(cfg.PhotosBucket) == "" {
		return nil, nil
	}
	signer, err := storage.NewServiceAccountSigner(cfg.SignerEmail, cfg.SignerKey)
	if err != nil {
		return nil, fmt.Errorf("build storage signer: %w", err)
	}
	client, err := storage.NewClient(signer)
	if err != nil {
		return nil, fmt.Errorf("build storage client: %w", err)
	}
	uploader, err := storage.NewPhotoUploader(client, storage.PhotoUploaderConfig{
		Bucket:   cfg.PhotosBucket,
		URLTTL:   cfg.URLTTL,
		MaxBytes: cfg.MaxPhotoBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("build photo uploader: %w", err)
	}
	return uploader, nil
}

func (c *Container) healthChecks() []repositories.DependencyCheck {
	checks := []repositories.DependencyCheck{{
		Name:     healthCatalog,
		Critical: true,
		Timeout:  healthTimeout,
		Check: func(ctx context.Context) error {
			_, err := c.Services.Catalog.Current(ctx)
			return err
		},
	}}
	if provider := c.registry.provider; provider != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     healthFirestore,
			Critical: true,
			Timeout:  healthTimeout,
			Check:    provider.Ping,
		})
	}
	if topic := c.topic; topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    healthPubSub,
			Timeout: healthTimeout,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", topic.ID())
				}
				return nil
			},
		})
	}
	return checks
}

func (c *Container) buildIdempotency(provider *pfirestore.Provider) error {
	if c.Config.Sessions.Backend == config.SessionBackendFirestore && provider != nil {
		store, err := idempotency.NewFirestoreStore(provider)
		if err != nil {
			return fmt.Errorf("build idempotency store: %w", err)
		}
		c.Idempotency = store
		return nil
	}
	c.Idempotency = idempotency.NewMemoryStore()
	return nil
}

// Handler assembles the HTTP router with observability middleware and every route group.
func (c *Container) Handler() http.Handler {
	httpLogger := c.logger.Named("http")
	projectID := strings.TrimSpace(c.Config.Firestore.ProjectID)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(httpLogger),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(httpLogger),
		observability.RequestLoggerMiddleware(projectID, c.Metrics),
	}
	if limit := c.Config.Server.MaxBodyBytes; limit > 0 {
		middlewares = append(middlewares, middleware.RequestSize(limit))
	}

	health := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(c.build),
		handlers.WithHealthRepository(c.Repositories.Health()),
		handlers.WithHealthClock(c.clock),
	)
	wizard := handlers.NewWizardHandlers(c.Services.Wizard,
		handlers.WithMoneyFormatter(money.NewFormatter(c.Config.Pricing.Locale)),
		handlers.WithIdempotency(c.Idempotency,
			idempotency.WithTTL(c.Config.Sessions.IdempotencyTTL),
			idempotency.WithClock(c.clock),
			idempotency.WithLogger(observability.NewEventLogger(c.logger, "idempotency")),
		),
	)
	catalog := handlers.NewCatalogHandlers(c.Services.Catalog)

	return handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(health),
		handlers.WithMetricsHandler(c.Metrics.Handler()),
		handlers.WithSessionRoutes(wizard.Routes),
		handlers.WithCatalogRoutes(catalog.Routes),
	)
}

// SweepResult reports one sweeper pass.
type SweepResult struct {
	Evicted          int
	ExpiredSnapshots int
	ExpiredKeys      int
}

// Sweep evicts idle live sessions and purges expired snapshots and idempotency keys.
func (c *Container) Sweep(ctx context.Context) (SweepResult, error) {
	now := c.clock()
	var result SweepResult

	result.Evicted = c.Services.Wizard.Sweep(ctx, now.Add(-c.Config.Sessions.IdleTimeout))
	c.Metrics.SessionsSwept(result.Evicted)
	result.ExpiredSnapshots = c.registry.purgeSessions(now)

	purged, err := idempotency.Purger(c.Idempotency, c.clock)(ctx)
	result.ExpiredKeys = purged
	if err != nil {
		return result, fmt.Errorf("purge idempotency keys: %w", err)
	}
	return result, nil
}

// RunSweeper calls Sweep every SweepInterval until ctx is cancelled.
func (c *Container) RunSweeper(ctx context.Context) {
	interval := c.Config.Sessions.SweepInterval
	if interval <= 0 {
		return
	}
	logger := c.logger.Named("sweeper")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := c.Sweep(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn(sweepLoggerEvent, zap.Error(err))
				continue
			}
			if result.Evicted > 0 || result.ExpiredSnapshots > 0 || result.ExpiredKeys > 0 {
				logger.Info(sweepLoggerEvent,
					zap.Int("evicted", result.Evicted),
					zap.Int("expired_snapshots", result.ExpiredSnapshots),
					zap.Int("expired_keys", result.ExpiredKeys),
				)
			}
		}
	}
}

// Close flushes pending publishes and releases backend clients. Safe to call more than once.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		var errs []error
		if c.topic != nil {
			c.topic.Stop()
		}
		if c.pubsub != nil {
			if err := c.pubsub.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close pubsub: %w", err))
			}
		}
		if c.Repositories != nil {
			if err := c.Repositories.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close repositories: %w", err))
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
