package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/payments"
	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/platform/config"
	"github.com/mercadoparceiro/api/internal/platform/events"
	"github.com/mercadoparceiro/api/internal/platform/idempotency"
	"github.com/mercadoparceiro/api/internal/platform/jobs"
	"github.com/mercadoparceiro/api/internal/platform/observability"
	"github.com/mercadoparceiro/api/internal/platform/redisx"
	"github.com/mercadoparceiro/api/internal/platform/storage"
	"github.com/mercadoparceiro/api/internal/platform/taxid"
	"github.com/mercadoparceiro/api/internal/repositories"
	"github.com/mercadoparceiro/api/internal/services"
)

const (
	oauthStateTTL      = 15 * time.Minute
	staleBatchSize     = 50
	eventsProducer     = "marketplace-api"
	companyCacheFormat = "cnpj:%s"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled in NewContainer.
type Services struct {
	Gate            services.AccessGate
	Ledger          services.StockLedger
	Orders          services.OrderService
	Preferences     services.PreferenceService
	Reconciler      services.PaymentReconciler
	Addresses       services.AddressService
	Companies       services.CompanyLookupService
	ServiceCatalog  services.ServiceCatalog
	Media           services.MediaService
	PartnerPayments services.PartnerPaymentService
	Products        services.ProductService
	Contacts        services.ContactService
	System          services.SystemService
}

// Infrastructure carries the clients main opens before the container is built.
type Infrastructure struct {
	Registry  repositories.Registry
	KV        redisx.KV
	Publisher events.Publisher
	Metrics   *observability.Metrics
	Logger    *zap.Logger
	Build     services.BuildInfo
	// MemoryIdempotency selects the in-process idempotency store; used when Redis is unavailable.
	MemoryIdempotency bool
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	Payments    *payments.Manager
	Stripe      *payments.StripeProvider
	Signatures  *auth.MercadoPagoSignatureValidator
	Idempotency idempotency.Store
	Scheduler   *jobs.Scheduler

	publisher events.Publisher
	logger    *zap.Logger
}

// NewContainer constructs the runtime dependencies.
func NewContainer(ctx context.Context, cfg config.Config, infra Infrastructure) (*Container, error) {
	if infra.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.KV == nil {
		return nil, errors.New("key-value store is required")
	}
	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := infra.Publisher
	if publisher == nil {
		publisher = events.NewLogPublisher(logger.Named("events"))
	}

	c := &Container{
		Config:       cfg,
		Repositories: infra.Registry,
		Signatures:   auth.NewMercadoPagoSignatureValidator(cfg.MercadoPago.WebhookSecret, cfg.Security.WebhookClockSkew, time.Now),
		publisher:    publisher,
		logger:       logger,
	}
	if infra.MemoryIdempotency {
		c.Idempotency = idempotency.NewMemoryStore()
	} else {
		c.Idempotency = idempotency.NewRedisStore(infra.KV)
	}

	mp, err := c.buildPayments(cfg, logger)
	if err != nil {
		return nil, err
	}

	svc, err := c.buildServices(ctx, cfg, infra, mp)
	if err != nil {
		return nil, err
	}
	c.Services = svc

	var recorder jobs.RunRecorder
	if infra.Metrics != nil {
		recorder = infra.Metrics
	}
	c.Scheduler = jobs.NewScheduler(logger.Named("jobs"), recorder)
	return c, nil
}

func (c *Container) buildPayments(cfg config.Config, logger *zap.Logger) (*payments.MercadoPagoClient, error) {
	paymentsLog := payments.Logger(observability.NewEventLogger(logger.Named("payments")))
	mp := payments.NewMercadoPagoClient(payments.MercadoPagoConfig{
		BaseURL:             cfg.MercadoPago.BaseURL,
		AuthURL:             cfg.MercadoPago.AuthURL,
		ClientID:            cfg.MercadoPago.ClientID,
		ClientSecret:        cfg.MercadoPago.ClientSecret,
		RedirectURL:         cfg.MercadoPago.RedirectURL,
		PlatformAccessToken: cfg.MercadoPago.PlatformAccessToken,
		Logger:              paymentsLog,
		Clock:               time.Now,
	})
	providers := map[string]payments.Provider{payments.ProviderMercadoPago: mp}

	if strings.TrimSpace(cfg.Stripe.APIKey) != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:        cfg.Stripe.APIKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Logger:        paymentsLog,
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe provider: %w", err)
		}
		providers[payments.ProviderStripe] = stripeProvider
		c.Stripe = stripeProvider
	}

	manager, err := payments.NewManager(providers)
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}
	c.Payments = manager
	return mp, nil
}

func (c *Container) buildServices(_ context.Context, cfg config.Config, infra Infrastructure, mp *payments.MercadoPagoClient) (Services, error) {
	var svc Services
	reg := infra.Registry
	logFor := func(name string) func(context.Context, string, map[string]any) {
		return observability.NewEventLogger(c.logger.Named(name))
	}
	newID := func() string { return uuid.NewString() }
	emitter := events.NewEmitter(c.publisher, eventsProducer, time.Now)

	var orderMetrics services.OrderMetrics
	var reconcileMetrics services.ReconcileMetrics
	if infra.Metrics != nil {
		orderMetrics = infra.Metrics
		reconcileMetrics = infra.Metrics
	}

	policy, err := services.ParseFloorPolicy(cfg.Stock.FloorPolicy)
	if err != nil {
		return Services{}, fmt.Errorf("stock floor policy: %w", err)
	}

	svc.Gate = services.NewAccessGate(services.AccessGateDeps{
		Orders:    reg.Orders(),
		Partners:  reg.Partners(),
		Addresses: reg.Addresses(),
		Products:  reg.Products(),
		Services:  reg.Services(),
		Contacts:  reg.Contacts(),
		Logger:    logFor("access"),
	})

	svc.Ledger, err = services.NewStockLedger(services.StockLedgerDeps{
		Stock:       reg.Stock(),
		Orders:      reg.Orders(),
		Products:    reg.Products(),
		UnitOfWork:  reg,
		Policy:      policy,
		Clock:       time.Now,
		IDGenerator: newID,
		Logger:      logFor("stock"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock ledger: %w", err)
	}

	svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Orders:      reg.Orders(),
		Catalog:     reg.Catalog(),
		Addresses:   reg.Addresses(),
		Stock:       reg.Stock(),
		Gate:        svc.Gate,
		Ledger:      svc.Ledger,
		UnitOfWork:  reg,
		Events:      emitter,
		Metrics:     orderMetrics,
		FloorPolicy: policy,
		Clock:       time.Now,
		IDGenerator: newID,
		Logger:      logFor("orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	notificationURL := ""
	if base := cfg.URLs.PublicBaseURL; base != "" {
		notificationURL = base + "/api/v1/webhooks/mercadopago"
	}
	returnURL := ""
	if base := cfg.URLs.StorefrontURL; base != "" {
		returnURL = base + "/pedidos"
	}
	svc.Preferences, err = services.NewPreferenceService(services.PreferenceServiceDeps{
		Orders:          reg.Orders(),
		PaymentConfigs:  reg.PaymentConfigs(),
		Users:           reg.Users(),
		Gate:            svc.Gate,
		Payments:        c.Payments,
		NotificationURL: notificationURL,
		ReturnURL:       returnURL,
		MaxInstallments: cfg.MercadoPago.Installments,
		Clock:           time.Now,
		Logger:          logFor("preferences"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build preference service: %w", err)
	}

	svc.Reconciler, err = services.NewPaymentReconciler(services.PaymentReconcilerDeps{
		Orders:         reg.Orders(),
		PaymentConfigs: reg.PaymentConfigs(),
		Ledger:         svc.Ledger,
		Payments:       c.Payments,
		UnitOfWork:     reg,
		Events:         emitter,
		Metrics:        reconcileMetrics,
		StaleAfter:     cfg.Jobs.StaleAfter,
		ExpireAfter:    cfg.Jobs.ExpireAfter,
		BatchSize:      staleBatchSize,
		Clock:          time.Now,
		Logger:         logFor("reconciler"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment reconciler: %w", err)
	}

	svc.Addresses, err = services.NewAddressService(services.AddressServiceDeps{
		Addresses:   reg.Addresses(),
		Gate:        svc.Gate,
		UnitOfWork:  reg,
		Clock:       time.Now,
		IDGenerator: newID,
		Logger:      logFor("addresses"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build address service: %w", err)
	}

	svc.Companies, err = services.NewCompanyLookupService(services.CompanyLookupServiceDeps{
		Registry: taxid.NewClient(cfg.TaxID.BaseURL, cfg.TaxID.Timeout),
		Cache:    redisx.NewJSONCache[domain.CompanyInfo](infra.KV, companyCacheFormat, cfg.TaxID.CacheTTL),
		Logger:   logFor("cnpj"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build company lookup service: %w", err)
	}

	svc.ServiceCatalog, err = services.NewServiceCatalog(services.ServiceCatalogDeps{
		Services:    reg.Services(),
		Gate:        svc.Gate,
		Clock:       time.Now,
		IDGenerator: newID,
		Logger:      logFor("services"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build service catalog: %w", err)
	}

	// Uploads stay disabled (503) until Cloudinary credentials are present.
	if cfg.Cloudinary.CloudName != "" && cfg.Cloudinary.APIKey != "" && cfg.Cloudinary.APISecret != "" {
		signer, err := storage.NewSigner(cfg.Cloudinary.APIKey, cfg.Cloudinary.APISecret)
		if err != nil {
			return Services{}, fmt.Errorf("build cloudinary signer: %w", err)
		}
		host, err := storage.NewClient(signer, cfg.Cloudinary.CloudName, storage.WithBaseURL(cfg.Cloudinary.BaseURL))
		if err != nil {
			return Services{}, fmt.Errorf("build cloudinary client: %w", err)
		}
		svc.Media, err = services.NewMediaService(services.MediaServiceDeps{
			Host:       host,
			RootFolder: cfg.Cloudinary.RootFolder,
			Logger:     logFor("media"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build media service: %w", err)
		}
	} else {
		c.logger.Warn("cloudinary not configured; image uploads disabled")
	}

	svc.PartnerPayments, err = services.NewPartnerPaymentService(services.PartnerPaymentServiceDeps{
		PaymentConfigs: reg.PaymentConfigs(),
		Gate:           svc.Gate,
		OAuth:          mp,
		States:         redisx.NewStateStore(infra.KV, oauthStateTTL),
		Clock:          time.Now,
		Logger:         logFor("oauth"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build partner payment service: %w", err)
	}

	svc.Products, err = services.NewProductService(services.ProductServiceDeps{
		Products:    reg.Products(),
		Gate:        svc.Gate,
		Ledger:      svc.Ledger,
		Media:       svc.Media,
		UnitOfWork:  reg,
		Clock:       time.Now,
		IDGenerator: newID,
		Logger:      logFor("products"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build product service: %w", err)
	}

	svc.Contacts, err = services.NewContactService(services.ContactServiceDeps{
		Contacts:    reg.Contacts(),
		Gate:        svc.Gate,
		Companies:   svc.Companies,
		Clock:       time.Now,
		IDGenerator: newID,
		Logger:      logFor("contacts"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build contact service: %w", err)
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		svc.System, err = services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
			Build:            infra.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
	}

	return svc, nil
}

// RegisterJobs schedules the stale-order reconciliation, the OAuth token
// refresh and, for the in-memory store, idempotency cleanup.
func (c *Container) RegisterJobs() error {
	cfg := c.Config
	if !cfg.Jobs.Enabled {
		c.logger.Info("scheduled jobs disabled")
		return nil
	}
	jobLogger := c.logger.Named("jobs")

	err := c.Scheduler.Register(jobs.Job{
		Name:     "reconcile-stale-orders",
		Interval: cfg.Jobs.ReconcileInterval,
		Timeout:  5 * time.Minute,
		Run: func(ctx context.Context) error {
			summary, err := c.Services.Reconciler.ReconcileStale(ctx)
			if err != nil {
				return err
			}
			jobLogger.Info("stale orders reconciled",
				zap.Int("checked", summary.Checked),
				zap.Int("resolved", summary.Resolved),
				zap.Int("expired", summary.Expired),
				zap.Int("failed", summary.Failed),
				zap.Int("untouched", summary.Untouched),
			)
			return nil
		},
	})
	if err != nil {
		return err
	}

	err = c.Scheduler.Register(jobs.Job{
		Name:     "refresh-payment-tokens",
		Interval: 24 * time.Hour,
		Timeout:  10 * time.Minute,
		Run: func(ctx context.Context) error {
			summary, err := c.Services.PartnerPayments.RefreshExpiring(ctx, cfg.Jobs.TokenRefreshWithin)
			if err != nil {
				return err
			}
			jobLogger.Info("payment tokens refreshed",
				zap.Int("checked", summary.Checked),
				zap.Int("refreshed", summary.Refreshed),
				zap.Int("failed", summary.Failed),
			)
			if summary.Failed > 0 {
				return fmt.Errorf("token refresh: %d of %d failed", summary.Failed, summary.Checked)
			}
			return nil
		},
	})
	if err != nil {
		return err
	}

	if _, ok := c.Idempotency.(*idempotency.MemoryStore); ok && cfg.Idempotency.CleanupInterval > 0 {
		err = c.Scheduler.Register(jobs.Job{
			Name:     "idempotency-cleanup",
			Interval: cfg.Idempotency.CleanupInterval,
			Timeout:  time.Minute,
			Run: func(ctx context.Context) error {
				removed, err := c.Idempotency.CleanupExpired(ctx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
				if err != nil {
					return err
				}
				if removed > 0 {
					jobLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
				return nil
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Close stops background work and releases repository clients and publishers.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	var errs []error
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}
