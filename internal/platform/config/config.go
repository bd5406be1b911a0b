package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultPersistenceDriver   = "firestore"
	defaultRedisAddr           = "localhost:6379"
	defaultBankTransferFeeRate = "0.03"
	defaultExchangeRate        = "1000"
	defaultRateCacheTTL        = 15 * time.Minute
	defaultRefreshLockTTL      = 2 * time.Minute
	defaultRendererTimeout     = 90 * time.Second
	defaultCatalogJobTimeout   = 5 * time.Minute
	defaultRoomCapacity        = 5
	defaultRoomTTL             = 30 * time.Minute
	defaultRoomJoinsPerMinute  = 10
	defaultRoomSweepInterval   = 5 * time.Minute
)

// Persistence drivers understood by the container.
const (
	DriverFirestore = "firestore"
	DriverMemory    = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Persistence PersistenceConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	PubSub      PubSubConfig
	Redis       RedisConfig
	Pricing     PricingConfig
	Catalog     CatalogConfig
	Rooms       RoomConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// IdempotencyTTL is how long a keyed mutating response stays replayable.
	IdempotencyTTL time.Duration
}

// PersistenceConfig selects the repository implementation.
type PersistenceConfig struct {
	Driver string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig lists bucket names used by the application.
type StorageConfig struct {
	ArtifactsBucket string
	AssetsBucket    string
}

// PubSubConfig names the topics domain events are published to. Empty topics disable publishing.
type PubSubConfig struct {
	ProjectID      string
	InventoryTopic string
	OrderTopic     string
}

// RedisConfig configures the cache and lock client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PricingConfig holds the monetary rules applied to orders.
type PricingConfig struct {
	BankTransferFeeRate decimal.Decimal
	DefaultExchangeRate decimal.Decimal
	RateCacheTTL        time.Duration
	RefreshLockTTL      time.Duration
}

// CatalogConfig configures catalog generation.
type CatalogConfig struct {
	RendererEndpoint string
	RendererToken    string
	RendererTimeout  time.Duration
	JobTimeout       time.Duration
	LogoObject       string
}

// RoomConfig tunes the progress room manager.
type RoomConfig struct {
	Capacity       int
	TTL            time.Duration
	JoinsPerMinute int
	SweepInterval  time.Duration
	AllowedOrigins []string
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
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
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

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
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
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	var invalid []string
	decimalField := func(name, key, fallback string) decimal.Decimal {
		value, err := decimal.NewFromString(stringWithDefault(lookup, key, fallback))
		if err != nil || value.IsNegative() {
			invalid = append(invalid, name)
			return decimal.Zero
		}
		return value
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "API_ENVIRONMENT", "local")),
		LogLevel:    strings.ToLower(stringWithDefault(lookup, "API_LOG_LEVEL", "info")),
		Server: ServerConfig{
			Port:           stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:    durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			IdempotencyTTL: durationWithDefault(lookup, "API_SERVER_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
		Persistence: PersistenceConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "API_PERSISTENCE_DRIVER", defaultPersistenceDriver)),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			ArtifactsBucket: stringWithDefault(lookup, "API_STORAGE_ARTIFACTS_BUCKET", ""),
			AssetsBucket:    stringWithDefault(lookup, "API_STORAGE_ASSETS_BUCKET", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:      stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			InventoryTopic: stringWithDefault(lookup, "API_PUBSUB_INVENTORY_TOPIC", ""),
			OrderTopic:     stringWithDefault(lookup, "API_PUBSUB_ORDER_TOPIC", ""),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", defaultRedisAddr),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
		},
		Pricing: PricingConfig{
			BankTransferFeeRate: decimalField("Pricing.BankTransferFeeRate", "API_PRICING_BANK_TRANSFER_FEE_RATE", defaultBankTransferFeeRate),
			DefaultExchangeRate: decimalField("Pricing.DefaultExchangeRate", "API_PRICING_DEFAULT_EXCHANGE_RATE", defaultExchangeRate),
			RateCacheTTL:        durationWithDefault(lookup, "API_PRICING_RATE_CACHE_TTL", defaultRateCacheTTL),
			RefreshLockTTL:      durationWithDefault(lookup, "API_PRICING_REFRESH_LOCK_TTL", defaultRefreshLockTTL),
		},
		Catalog: CatalogConfig{
			RendererEndpoint: stringWithDefault(lookup, "API_CATALOG_RENDERER_ENDPOINT", ""),
			RendererToken:    stringWithDefault(lookup, "API_CATALOG_RENDERER_TOKEN", ""),
			RendererTimeout:  durationWithDefault(lookup, "API_CATALOG_RENDERER_TIMEOUT", defaultRendererTimeout),
			JobTimeout:       durationWithDefault(lookup, "API_CATALOG_JOB_TIMEOUT", defaultCatalogJobTimeout),
			LogoObject:       stringWithDefault(lookup, "API_CATALOG_LOGO_OBJECT", ""),
		},
		Rooms: RoomConfig{
			Capacity:       intWithDefault(lookup, "API_ROOMS_CAPACITY", defaultRoomCapacity),
			TTL:            durationWithDefault(lookup, "API_ROOMS_TTL", defaultRoomTTL),
			JoinsPerMinute: intWithDefault(lookup, "API_ROOMS_JOINS_PER_MINUTE", defaultRoomJoinsPerMinute),
			SweepInterval:  durationWithDefault(lookup, "API_ROOMS_SWEEP_INTERVAL", defaultRoomSweepInterval),
			AllowedOrigins: listWithDefault(lookup, "API_ROOMS_ALLOWED_ORIGINS"),
		},
	}

	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	// Resolve secrets when values reference Secret Manager.
	secretFields := []*string{&cfg.Redis.Password, &cfg.Catalog.RendererToken}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
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

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	switch cfg.Persistence.Driver {
	case DriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
		if cfg.Storage.ArtifactsBucket == "" {
			missing = append(missing, "Storage.ArtifactsBucket")
		}
	case DriverMemory:
	default:
		missing = append(missing, "Persistence.Driver")
	}
	if cfg.Pricing.DefaultExchangeRate.Sign() <= 0 {
		missing = append(missing, "Pricing.DefaultExchangeRate")
	}
	if cfg.Rooms.Capacity <= 0 {
		missing = append(missing, "Rooms.Capacity")
	}
	if cfg.Rooms.TTL <= 0 {
		missing = append(missing, "Rooms.TTL")
	}
	if cfg.Rooms.JoinsPerMinute <= 0 {
		missing = append(missing, "Rooms.JoinsPerMinute")
	}
	if cfg.Catalog.JobTimeout <= 0 {
		missing = append(missing, "Catalog.JobTimeout")
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
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func listWithDefault(lookup func(string) (string, bool), key string) []string {
	value, ok := lookup(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
