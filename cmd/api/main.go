package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mercadoparceiro/api/internal/di"
	"github.com/mercadoparceiro/api/internal/handlers"
	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/platform/config"
	"github.com/mercadoparceiro/api/internal/platform/events"
	"github.com/mercadoparceiro/api/internal/platform/idempotency"
	"github.com/mercadoparceiro/api/internal/platform/observability"
	"github.com/mercadoparceiro/api/internal/platform/postgres"
	"github.com/mercadoparceiro/api/internal/platform/redisx"
	"github.com/mercadoparceiro/api/internal/platform/secrets"
	"github.com/mercadoparceiro/api/internal/repositories"
	pgrepo "github.com/mercadoparceiro/api/internal/repositories/postgres"
	"github.com/mercadoparceiro/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["API_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	pool, err := postgres.Connect(ctx, cfg.Database.URL, postgres.Options{
		MaxConns: int32(cfg.Database.MaxConns),
		MinConns: int32(cfg.Database.MinConns),
	})
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	if cfg.Database.ApplySchema {
		if err := postgres.ApplySchema(ctx, pool); err != nil {
			logger.Fatal("failed to apply database schema", zap.Error(err))
		}
		logger.Info("database schema applied")
	}

	var (
		kv                redisx.KV
		memoryIdempotency bool
		redisClose        = func() error { return nil }
	)
	redisClient, err := redisx.New(ctx, redisx.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Warn("redis unavailable; falling back to in-process state", zap.Error(err))
		kv = redisx.NewMemoryKV(time.Now)
		memoryIdempotency = true
	} else {
		kv = redisClient
		redisClose = redisClient.Close
	}
	defer func() {
		if err := redisClose(); err != nil {
			logger.Warn("redis close error", zap.Error(err))
		}
	}()

	health, err := newHealthRepository(pool, kv, fetcher, memoryIdempotency)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}
	registry, err := pgrepo.NewRegistry(pool, health)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	publisher, closePublisherClient, err := newPublisher(ctx, cfg, logger.Named("events"))
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err))
	}
	defer func() {
		if err := closePublisherClient(); err != nil {
			logger.Warn("event client close error", zap.Error(err))
		}
	}()

	metrics := observability.NewMetrics()

	container, err := di.NewContainer(ctx, cfg, di.Infrastructure{
		Registry:          registry,
		KV:                kv,
		Publisher:         publisher,
		Metrics:           metrics,
		Logger:            logger,
		Build:             buildInfo,
		MemoryIdempotency: memoryIdempotency,
	})
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}
	if err := container.RegisterJobs(); err != nil {
		logger.Fatal("failed to register scheduled jobs", zap.Error(err))
	}
	container.Scheduler.Start()

	authenticator, err := buildAuthenticator(logger.Named("auth"), cfg)
	if err != nil {
		logger.Fatal("failed to initialise authenticator", zap.Error(err))
	}

	idempotencyMiddleware := idempotency.Middleware(
		container.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	svc := container.Services
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders,
		handlers.WithPreferenceService(svc.Preferences),
		handlers.WithPreferenceIdempotency(idempotencyMiddleware),
	)
	addressHandlers := handlers.NewAddressHandlers(authenticator, svc.Addresses)
	companyHandlers := handlers.NewCompanyHandlers(authenticator, svc.Companies,
		redisx.NewRateLimiter(kv, "cnpj", cfg.RateLimits.DefaultPerMinute, time.Minute, time.Now))
	catalogHandlers := handlers.NewServiceCatalogHandlers(authenticator, svc.ServiceCatalog)
	productHandlers := handlers.NewProductHandlers(authenticator, svc.Products)
	contactHandlers := handlers.NewContactHandlers(authenticator, svc.Contacts)
	uploadHandlers := handlers.NewUploadHandlers(authenticator, svc.Gate, svc.Media)
	partnerPaymentHandlers := handlers.NewPartnerPaymentHandlers(authenticator, svc.PartnerPayments, cfg.MercadoPago.SettingsURL)

	var stripeParser handlers.StripeWebhookParser
	if container.Stripe != nil {
		stripeParser = container.Stripe
	}
	webhookHandlers := handlers.NewWebhookHandlers(svc.Reconciler, container.Signatures, stripeParser)

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if svc.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(svc.System))
	}
	healthHandlers := handlers.NewHealthHandlers(healthOpts...)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		metrics.Middleware,
	}

	apiLimiter := redisx.NewRateLimiter(kv, "api", cfg.RateLimits.AuthenticatedPerMinute, time.Minute, time.Now)
	webhookLimiter := redisx.NewRateLimiter(kv, "webhooks", cfg.RateLimits.WebhookPerMinute, time.Minute, time.Now)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(metrics.Handler()),
		handlers.WithAPIMiddlewares(
			authenticator.OptionalAuth(),
			handlers.RateLimitMiddleware(apiLimiter),
		),
		handlers.WithRoutes(
			orderHandlers.Routes,
			addressHandlers.Routes,
			companyHandlers.Routes,
			catalogHandlers.Routes,
			productHandlers.Routes,
			contactHandlers.Routes,
			uploadHandlers.Routes,
			partnerPaymentHandlers.Routes,
		),
		handlers.WithWebhookMiddlewares(handlers.RateLimitMiddleware(webhookLimiter)),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("marketplace api listening",
			zap.String("version", buildInfo.Version),
			zap.String("environment", buildInfo.Environment),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// newHealthRepository registers readiness probes. Postgres is critical; a
// missing Redis only degrades the report.
func newHealthRepository(pool *pgxpool.Pool, kv redisx.KV, fetcher *secrets.Fetcher, memoryKV bool) (repositories.HealthRepository, error) {
	checks := []repositories.DependencyCheck{
		{
			Name:     "postgres",
			Critical: true,
			Timeout:  1500 * time.Millisecond,
			Check:    pool.Ping,
		},
	}
	if memoryKV {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: time.Second,
			Check: func(context.Context) error {
				return errors.New("redis not connected; using in-process store")
			},
		})
	} else {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				return kv.Ping(ctx).Err()
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks, time.Now)
}

// newPublisher selects the event transport. The returned close func releases
// the underlying client; the publisher itself is closed by the container.
func newPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (events.Publisher, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Events.Driver {
	case config.EventsDriverPubSub:
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, noop, fmt.Errorf("pubsub client: %w", err)
		}
		publisher, err := events.NewPubSubPublisher(client.Topic(cfg.Events.Topic))
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		logger.Info("publishing events to pubsub", zap.String("topic", cfg.Events.Topic))
		return publisher, client.Close, nil
	case config.EventsDriverKafka:
		publisher, err := events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("publishing events to kafka",
			zap.Strings("brokers", cfg.Events.KafkaBrokers),
			zap.String("topic", cfg.Events.KafkaTopic),
		)
		return publisher, noop, nil
	default:
		return events.NewLogPublisher(logger), noop, nil
	}
}

func buildAuthenticator(logger *zap.Logger, cfg config.Config) (*auth.Authenticator, error) {
	verifierCfg := auth.VerifierConfig{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	}
	if url := strings.TrimSpace(cfg.Auth.JWKSURL); url != "" {
		verifierCfg.JWKS = auth.NewJWKSCache(url, auth.WithJWKSLogger(observability.NewPrintfAdapter(logger)))
	}
	if verifierCfg.Audience == "" {
		logger.Warn("auth: audience not configured; tokens are accepted for any audience")
	}
	verifier, err := auth.NewJWTVerifier(verifierCfg)
	if err != nil {
		return nil, err
	}
	return auth.NewAuthenticator(verifier, auth.WithVerificationTimeout(3*time.Second)), nil
}

func traceProjectID(cfg config.Config) string {
	return strings.TrimSpace(cfg.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if project == "" {
		project = lookup("API_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if credentialsFile := lookup("API_GOOGLE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets that must resolve before serving.
// Stripe is optional and only required once its key is configured.
func requiredSecretNames(env map[string]string) []string {
	required := []string{
		"Database.URL",
		"MercadoPago.ClientSecret",
		"MercadoPago.WebhookSecret",
	}
	if strings.TrimSpace(env["API_AUTH_JWKS_URL"]) == "" {
		required = append(required, "Auth.JWTSecret")
	}
	if strings.TrimSpace(env["API_STRIPE_API_KEY"]) != "" {
		required = append(required, "Stripe.WebhookSecret")
	}
	if strings.TrimSpace(env["API_CLOUDINARY_CLOUD_NAME"]) != "" {
		required = append(required, "Cloudinary.APISecret")
	}
	return required
}
