package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mercadoparceiro/api/internal/platform/httpx"
)

// RouteRegistrar mounts a handler set on a router group.
type RouteRegistrar func(r chi.Router)

type middlewareChain []func(http.Handler) http.Handler

func (c middlewareChain) apply(r chi.Router) {
	for _, mw := range c {
		if mw != nil {
			r.Use(mw)
		}
	}
}

type routerConfig struct {
	global   middlewareChain
	api      middlewareChain
	webhook  middlewareChain
	health   *HealthHandlers
	metrics  http.Handler
	routes   []RouteRegistrar
	webhooks RouteRegistrar
}

type Option func(*routerConfig)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// NewRouter builds the HTTP surface: probes and /metrics at the root, and under
// /api/v1 the webhook group and the partner/buyer API group, each with its own
// middleware chain. Webhooks never see API middleware such as OptionalAuth.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		global: middlewareChain{middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout)},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	cfg.global.apply(r)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found",
			fmt.Sprintf("Rota não encontrada: %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed",
			fmt.Sprintf("Método %s não permitido em %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)
	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics)
	}

	r.Route(apiPrefix, func(v1 chi.Router) {
		v1.Route("/webhooks", func(wh chi.Router) {
			cfg.webhook.apply(wh)
			if cfg.webhooks == nil {
				wh.HandleFunc("/*", webhooksNotConfigured)
				return
			}
			cfg.webhooks(wh)
		})
		v1.Group(func(api chi.Router) {
			cfg.api.apply(api)
			for _, mount := range cfg.routes {
				if mount != nil {
					mount(api)
				}
			}
		})
	})
	return r
}

func webhooksNotConfigured(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("not_implemented", "Recebimento de notificações indisponível", http.StatusNotImplemented))
}

// WithMiddlewares appends middleware applied to every route, probes included.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.global = append(cfg.global, mw...) }
}

// WithAPIMiddlewares appends middleware for the API group only.
func WithAPIMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.api = append(cfg.api, mw...) }
}

// WithWebhookMiddlewares appends middleware for /api/v1/webhooks only.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.webhook = append(cfg.webhook, mw...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

func WithMetricsHandler(h http.Handler) Option {
	return func(cfg *routerConfig) { cfg.metrics = h }
}

func WithRoutes(reg ...RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.routes = append(cfg.routes, reg...) }
}

func WithWebhookRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.webhooks = reg }
}
