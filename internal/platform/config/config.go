package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultShutdownTimeout  = 20 * time.Second
	defaultMaxBodyBytes     = 64 << 10
	defaultEnvironment      = "local"
	defaultCatalogSource    = CatalogSourceFirestore
	defaultCatalogDocument  = "current"
	defaultCatalogTTL       = 5 * time.Minute
	defaultCurrency         = "EUR"
	defaultLocale           = "en"
	defaultSessionBackend   = SessionBackendFirestore
	defaultSessionTTL       = 12 * time.Hour
	defaultSweepInterval    = 5 * time.Minute
	defaultSessionIdle      = 30 * time.Minute
	defaultIdempotencyTTL   = time.Hour
	defaultPhotoURLTTL      = 15 * time.Minute
	defaultPhotoMaxBytes    = 10 << 20
	defaultReceiptPrefix    = "RC"
	defaultOrderEventsTopic = "order-confirmed"
)

const (
	// CatalogSourceFirestore loads the catalog document from Firestore.
	CatalogSourceFirestore = "firestore"
	// CatalogSourceFile loads the catalog from a YAML file.
	CatalogSourceFile = "file"

	// SessionBackendFirestore persists session snapshots in Firestore.
	SessionBackendFirestore = "firestore"
	// SessionBackendMemory keeps session snapshots in process memory.
	SessionBackendMemory = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Storage     StorageConfig
	Catalog     CatalogConfig
	Pricing     PricingConfig
	Sessions    SessionConfig
	Receipts    ReceiptConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the topic order events are published to. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID         string
	OrderEventsTopic  string
	EmulatorHost      string
	DisablePublishing bool
}

// StorageConfig controls photo uploads.
type StorageConfig struct {
	PhotosBucket string
	SignerEmail  string
	// SignerKey holds the PEM private key, usually a secret reference.
	SignerKey     string
	URLTTL        time.Duration
	MaxPhotoBytes int64
}

// CatalogConfig selects where the catalog is read from.
type CatalogConfig struct {
	Source   string
	FilePath string
	Document string
	CacheTTL time.Duration
}

// PricingConfig sets the currency every amount is expressed in.
type PricingConfig struct {
	Currency string
	Locale   string
}

// SessionConfig controls snapshot persistence and in-memory eviction.
type SessionConfig struct {
	Backend       string
	TTL           time.Duration
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	// IdempotencyTTL bounds how long a replayable intent response is kept.
	IdempotencyTTL time.Duration
}

// ReceiptConfig controls receipt numbering.
type ReceiptConfig struct {
	Prefix string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Values in the map take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the configuration from defaults, the .env file, the environment and secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnvValues[key]
		return value, ok
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "API_ENVIRONMENT", defaultEnvironment)),
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", stringWithDefault(lookup, "PORT", defaultPort)),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
			MaxBodyBytes:    int64WithDefault(lookup, "API_SERVER_MAX_BODY_BYTES", defaultMaxBodyBytes),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", stringWithDefault(lookup, "GOOGLE_CLOUD_PROJECT", "")),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:         stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic:  stringWithDefault(lookup, "API_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
			EmulatorHost:      stringWithDefault(lookup, "API_PUBSUB_EMULATOR_HOST", ""),
			DisablePublishing: boolWithDefault(lookup, "API_PUBSUB_DISABLED", false),
		},
		Storage: StorageConfig{
			PhotosBucket:  stringWithDefault(lookup, "API_STORAGE_PHOTOS_BUCKET", ""),
			SignerEmail:   stringWithDefault(lookup, "API_STORAGE_SIGNER_EMAIL", ""),
			SignerKey:     stringWithDefault(lookup, "API_STORAGE_SIGNER_KEY", ""),
			URLTTL:        durationWithDefault(lookup, "API_STORAGE_URL_TTL", defaultPhotoURLTTL),
			MaxPhotoBytes: int64WithDefault(lookup, "API_STORAGE_MAX_PHOTO_BYTES", defaultPhotoMaxBytes),
		},
		Catalog: CatalogConfig{
			Source:   strings.ToLower(stringWithDefault(lookup, "API_CATALOG_SOURCE", defaultCatalogSource)),
			FilePath: stringWithDefault(lookup, "API_CATALOG_FILE", ""),
			Document: stringWithDefault(lookup, "API_CATALOG_DOCUMENT", defaultCatalogDocument),
			CacheTTL: durationWithDefault(lookup, "API_CATALOG_CACHE_TTL", defaultCatalogTTL),
		},
		Pricing: PricingConfig{
			Currency: strings.ToUpper(stringWithDefault(lookup, "API_PRICING_CURRENCY", defaultCurrency)),
			Locale:   stringWithDefault(lookup, "API_PRICING_LOCALE", defaultLocale),
		},
		Sessions: SessionConfig{
			Backend:        strings.ToLower(stringWithDefault(lookup, "API_SESSIONS_BACKEND", defaultSessionBackend)),
			TTL:            durationWithDefault(lookup, "API_SESSIONS_TTL", defaultSessionTTL),
			IdleTimeout:    durationWithDefault(lookup, "API_SESSIONS_IDLE_TIMEOUT", defaultSessionIdle),
			SweepInterval:  durationWithDefault(lookup, "API_SESSIONS_SWEEP_INTERVAL", defaultSweepInterval),
			IdempotencyTTL: durationWithDefault(lookup, "API_SESSIONS_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
		Receipts: ReceiptConfig{
			Prefix: stringWithDefault(lookup, "API_RECEIPTS_PREFIX", defaultReceiptPrefix),
		},
	}

	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	resolved, err := resolveSecret(ctx, cfg.Storage.SignerKey, options.secret)
	if err != nil {
		return Config{}, err
	}
	cfg.Storage.SignerKey = resolved

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NeedsFirestore reports whether any configured backend reads or writes Firestore.
func (c Config) NeedsFirestore() bool {
	return c.Catalog.Source == CatalogSourceFirestore || c.Sessions.Backend == SessionBackendFirestore
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		missing = append(missing, "Server.MaxBodyBytes")
	}
	switch cfg.Catalog.Source {
	case CatalogSourceFirestore:
		if strings.TrimSpace(cfg.Catalog.Document) == "" {
			missing = append(missing, "Catalog.Document")
		}
	case CatalogSourceFile:
		if strings.TrimSpace(cfg.Catalog.FilePath) == "" {
			missing = append(missing, "Catalog.FilePath")
		}
	default:
		missing = append(missing, "Catalog.Source")
	}
	if cfg.Catalog.CacheTTL <= 0 {
		missing = append(missing, "Catalog.CacheTTL")
	}
	switch cfg.Sessions.Backend {
	case SessionBackendFirestore, SessionBackendMemory:
	default:
		missing = append(missing, "Sessions.Backend")
	}
	if cfg.Sessions.TTL <= 0 {
		missing = append(missing, "Sessions.TTL")
	}
	if cfg.Sessions.IdleTimeout <= 0 {
		missing = append(missing, "Sessions.IdleTimeout")
	}
	if cfg.Sessions.SweepInterval <= 0 {
		missing = append(missing, "Sessions.SweepInterval")
	}
	if cfg.Sessions.IdempotencyTTL <= 0 {
		missing = append(missing, "Sessions.IdempotencyTTL")
	}
	if cfg.NeedsFirestore() && cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if len(cfg.Pricing.Currency) != 3 {
		missing = append(missing, "Pricing.Currency")
	}
	if strings.TrimSpace(cfg.Receipts.Prefix) == "" {
		missing = append(missing, "Receipts.Prefix")
	}
	if cfg.Storage.PhotosBucket != "" {
		if cfg.Storage.URLTTL <= 0 {
			missing = append(missing, "Storage.URLTTL")
		}
		if cfg.Storage.MaxPhotoBytes <= 0 {
			missing = append(missing, "Storage.MaxPhotoBytes")
		}
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func int64WithDefault(lookup func(string) (string, bool), key string, fallback int64) int64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
