package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultDBMaxConns           = 10
	defaultDBMinConns           = 1
	defaultRedisAddr            = "localhost:6379"
	defaultEventsDriver         = EventsDriverLog
	defaultEventsTopic          = "marketplace-events"
	defaultMPBaseURL            = "https://api.mercadopago.com"
	defaultMPAuthURL            = "https://auth.mercadopago.com.br/authorization"
	defaultMPInstallments       = 12
	defaultCloudinaryBaseURL    = "https://api.cloudinary.com/v1_1"
	defaultCloudinaryRoot       = "marketplace"
	defaultTaxIDBaseURL         = "https://brasilapi.com.br/api"
	defaultTaxIDTimeout         = 10 * time.Second
	defaultTaxIDCacheTTL        = 24 * time.Hour
	defaultStockFloorPolicy     = "block"
	defaultReconcileInterval    = 15 * time.Minute
	defaultStaleAfter           = 30 * time.Minute
	defaultExpireAfter          = 72 * time.Hour
	defaultTokenRefreshWithin   = 7 * 24 * time.Hour
	defaultRateLimitDefault     = 120
	defaultRateLimitAuth        = 240
	defaultRateLimitWebhook     = 600
	defaultSecurityEnvironment  = "local"
	defaultWebhookClockSkew     = 5 * time.Minute
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Supported event publisher drivers.
const (
	EventsDriverPubSub = "pubsub"
	EventsDriverKafka  = "kafka"
	EventsDriverLog    = "log"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	ProjectID   string
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Events      EventsConfig
	Auth        AuthConfig
	MercadoPago MercadoPagoConfig
	Stripe      StripeConfig
	Cloudinary  CloudinaryConfig
	TaxID       TaxIDConfig
	Stock       StockConfig
	Jobs        JobsConfig
	RateLimits  RateLimitConfig
	URLs        URLConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig points at the PostgreSQL instance.
type DatabaseConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	ApplySchema bool
}

// RedisConfig addresses the cache used for idempotency, OAuth state and lookups.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EventsConfig selects the domain event publisher.
type EventsConfig struct {
	Driver       string
	Topic        string
	KafkaBrokers []string
	KafkaTopic   string
}

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	JWTSecret string
	JWKSURL   string
	Issuer    string
	Audience  string
}

// MercadoPagoConfig holds the platform application credentials.
type MercadoPagoConfig struct {
	ClientID            string
	ClientSecret        string
	PlatformAccessToken string
	WebhookSecret       string
	BaseURL             string
	AuthURL             string
	RedirectURL         string
	SettingsURL         string
	Installments        int
}

// StripeConfig collects secrets for the secondary payment route.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
}

// CloudinaryConfig configures signed image uploads.
type CloudinaryConfig struct {
	CloudName  string
	APIKey     string
	APISecret  string
	RootFolder string
	BaseURL    string
}

// TaxIDConfig configures the CNPJ registry client.
type TaxIDConfig struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// StockConfig selects how sales behave when stock would go negative.
type StockConfig struct {
	FloorPolicy string
}

// JobsConfig drives the scheduled reconciliation jobs.
type JobsConfig struct {
	Enabled            bool
	ReconcileInterval  time.Duration
	StaleAfter         time.Duration
	ExpireAfter        time.Duration
	TokenRefreshWithin time.Duration
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute       int
	AuthenticatedPerMinute int
	WebhookPerMinute       int
}

// URLConfig lists externally visible base URLs.
type URLConfig struct {
	PublicBaseURL string
	StorefrontURL string
}

// SecurityConfig groups environment and webhook verification settings.
type SecurityConfig struct {
	Environment      string
	WebhookClockSkew time.Duration
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithEnvFile points the loader at another dotenv file; empty disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects values that win over both dotenv and the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment. Tests use it.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver for secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets names secret fields, e.g. "MercadoPago.WebhookSecret",
// that must resolve to a non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissingSecrets = true }
}

// EnvironmentValues returns the merged environment Load would read. main
// needs it to build the secret fetcher before Load can run.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	values, err := mergeEnvironment(newLoaderOptions(opts))
	if err != nil {
		return nil, err
	}
	return values, nil
}

// Load builds the Config from defaults, dotenv, the environment and explicit
// overrides, then resolves secret references and validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	e, err := mergeEnvironment(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ProjectID: e.str("API_PROJECT_ID", ""),
		Server: ServerConfig{
			Port:         e.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  e.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: e.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  e.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Database: DatabaseConfig{
			URL:         e.str("API_DATABASE_URL", ""),
			MaxConns:    e.integer("API_DATABASE_MAX_CONNS", defaultDBMaxConns),
			MinConns:    e.integer("API_DATABASE_MIN_CONNS", defaultDBMinConns),
			ApplySchema: e.flag("API_DATABASE_APPLY_SCHEMA", false),
		},
		Redis: RedisConfig{
			Addr:     e.str("API_REDIS_ADDR", defaultRedisAddr),
			Password: e.str("API_REDIS_PASSWORD", ""),
			DB:       e.integer("API_REDIS_DB", 0),
		},
		Events: EventsConfig{
			Driver:       e.lower("API_EVENTS_DRIVER", defaultEventsDriver),
			Topic:        e.str("API_EVENTS_TOPIC", defaultEventsTopic),
			KafkaBrokers: e.list("API_EVENTS_KAFKA_BROKERS"),
			KafkaTopic:   e.str("API_EVENTS_KAFKA_TOPIC", defaultEventsTopic),
		},
		Auth: AuthConfig{
			JWTSecret: e.str("API_AUTH_JWT_SECRET", ""),
			JWKSURL:   e.str("API_AUTH_JWKS_URL", ""),
			Issuer:    e.str("API_AUTH_ISSUER", ""),
			Audience:  e.str("API_AUTH_AUDIENCE", ""),
		},
		MercadoPago: MercadoPagoConfig{
			ClientID:            e.str("API_MP_CLIENT_ID", ""),
			ClientSecret:        e.str("API_MP_CLIENT_SECRET", ""),
			PlatformAccessToken: e.str("API_MP_ACCESS_TOKEN", ""),
			WebhookSecret:       e.str("API_MP_WEBHOOK_SECRET", ""),
			BaseURL:             e.url("API_MP_BASE_URL", defaultMPBaseURL),
			AuthURL:             e.str("API_MP_AUTH_URL", defaultMPAuthURL),
			RedirectURL:         e.str("API_MP_REDIRECT_URL", ""),
			SettingsURL:         e.str("API_MP_SETTINGS_URL", ""),
			Installments:        e.integer("API_MP_INSTALLMENTS", defaultMPInstallments),
		},
		Stripe: StripeConfig{
			APIKey:        e.str("API_STRIPE_API_KEY", ""),
			WebhookSecret: e.str("API_STRIPE_WEBHOOK_SECRET", ""),
		},
		Cloudinary: CloudinaryConfig{
			CloudName:  e.str("API_CLOUDINARY_CLOUD_NAME", ""),
			APIKey:     e.str("API_CLOUDINARY_API_KEY", ""),
			APISecret:  e.str("API_CLOUDINARY_API_SECRET", ""),
			RootFolder: e.str("API_CLOUDINARY_ROOT_FOLDER", defaultCloudinaryRoot),
			BaseURL:    e.url("API_CLOUDINARY_BASE_URL", defaultCloudinaryBaseURL),
		},
		TaxID: TaxIDConfig{
			BaseURL:  e.url("API_TAXID_BASE_URL", defaultTaxIDBaseURL),
			Timeout:  e.duration("API_TAXID_TIMEOUT", defaultTaxIDTimeout),
			CacheTTL: e.duration("API_TAXID_CACHE_TTL", defaultTaxIDCacheTTL),
		},
		Stock: StockConfig{
			FloorPolicy: e.lower("API_STOCK_FLOOR_POLICY", defaultStockFloorPolicy),
		},
		Jobs: JobsConfig{
			Enabled:            e.flag("API_JOBS_ENABLED", true),
			ReconcileInterval:  e.duration("API_JOBS_RECONCILE_INTERVAL", defaultReconcileInterval),
			StaleAfter:         e.duration("API_JOBS_STALE_AFTER", defaultStaleAfter),
			ExpireAfter:        e.duration("API_JOBS_EXPIRE_AFTER", defaultExpireAfter),
			TokenRefreshWithin: e.duration("API_JOBS_TOKEN_REFRESH_WITHIN", defaultTokenRefreshWithin),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:       e.integer("API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			AuthenticatedPerMinute: e.integer("API_RATELIMIT_AUTH_PER_MIN", defaultRateLimitAuth),
			WebhookPerMinute:       e.integer("API_RATELIMIT_WEBHOOK_PER_MIN", defaultRateLimitWebhook),
		},
		URLs: URLConfig{
			PublicBaseURL: e.url("API_PUBLIC_BASE_URL", ""),
			StorefrontURL: e.url("API_STOREFRONT_URL", ""),
		},
		Security: SecurityConfig{
			Environment:      e.lower("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment),
			WebhookClockSkew: e.duration("API_SECURITY_WEBHOOK_CLOCK_SKEW", defaultWebhookClockSkew),
		},
		Idempotency: IdempotencyConfig{
			Header:           e.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              e.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  e.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: e.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	if cfg.MercadoPago.RedirectURL == "" && cfg.URLs.PublicBaseURL != "" {
		cfg.MercadoPago.RedirectURL = cfg.URLs.PublicBaseURL + "/api/v1/payments/mercadopago/callback"
	}
	if cfg.MercadoPago.SettingsURL == "" && cfg.URLs.StorefrontURL != "" {
		cfg.MercadoPago.SettingsURL = cfg.URLs.StorefrontURL + "/parceiro/configuracoes/pagamentos"
	}

	resolved, err := resolveSecretFields(ctx, &cfg, options.secret)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if missing := missingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	var bad []string
	check := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}

	check(cfg.Server.Port != "", "Server.Port")
	check(cfg.Database.URL != "", "Database.URL")
	check(cfg.Database.MaxConns > 0 && cfg.Database.MinConns >= 0 && cfg.Database.MinConns <= cfg.Database.MaxConns, "Database.MaxConns")
	check(cfg.Auth.JWTSecret != "" || cfg.Auth.JWKSURL != "", "Auth.JWTSecret")

	switch cfg.Events.Driver {
	case EventsDriverLog:
	case EventsDriverPubSub:
		check(cfg.ProjectID != "", "ProjectID")
	case EventsDriverKafka:
		check(len(cfg.Events.KafkaBrokers) > 0, "Events.KafkaBrokers")
	default:
		bad = append(bad, "Events.Driver")
	}

	switch cfg.Stock.FloorPolicy {
	case "block", "backorder", "clamp":
	default:
		bad = append(bad, "Stock.FloorPolicy")
	}
	check(cfg.MercadoPago.Installments >= 1 && cfg.MercadoPago.Installments <= 12, "MercadoPago.Installments")

	if cfg.Jobs.Enabled {
		check(cfg.Jobs.ReconcileInterval > 0, "Jobs.ReconcileInterval")
		check(cfg.Jobs.StaleAfter > 0 && cfg.Jobs.ExpireAfter > cfg.Jobs.StaleAfter, "Jobs.ExpireAfter")
	}
	check(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	check(cfg.Idempotency.TTL > 0, "Idempotency.TTL")

	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}
