package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vendora/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

const (
	defaultAPIPrefix  = "/v1"
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

// routeGroup describes one mount point under the API prefix. Groups without a
// registrar answer 501 so unfinished surfaces still return JSON errors.
type routeGroup struct {
	path      string
	name      string
	registrar RouteRegistrar
}

type routerConfig struct {
	basePath    string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      []*routeGroup
}

func (cfg *routerConfig) group(path string) *routeGroup {
	for _, g := range cfg.groups {
		if g.path == path {
			return g
		}
	}
	return nil
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter constructs the chi router with shared middleware, the health
// probes, and every API route group mounted under the /v1 prefix.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(defaultTimeout),
		},
		groups: []*routeGroup{
			{path: "/products", name: "products"},
			{path: "/categories", name: "categories"},
			{path: "/orders", name: "orders"},
			{path: "/vendor/orders", name: "vendorOrders"},
			{path: "/vendors", name: "vendors"},
			{path: "/admin", name: "admin"},
			{path: "/me", name: "me"},
			{path: "/uploads", name: "uploads"},
		},
	}

	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", "method "+req.Method+" not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, g := range cfg.groups {
			mountGroup(api, g)
		}
	})

	return r
}

func mountGroup(api chi.Router, g *routeGroup) {
	api.Route(g.path, func(group chi.Router) {
		if g.registrar != nil {
			g.registrar(group)
			return
		}
		handler := notImplementedHandler(g.name)
		group.HandleFunc("/", handler)
		group.HandleFunc("/*", handler)
		group.NotFound(handler)
		group.MethodNotAllowed(handler)
	})
}

func notImplementedHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", name+" routes not implemented", http.StatusNotImplemented))
	}
}

func groupRegistrar(path string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		if g := cfg.group(path); g != nil {
			g.registrar = reg
		}
	}
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers behind /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithProductRoutes configures the registrar responsible for catalog endpoints.
func WithProductRoutes(reg RouteRegistrar) Option { return groupRegistrar("/products", reg) }

// WithCategoryRoutes configures the registrar responsible for category endpoints.
func WithCategoryRoutes(reg RouteRegistrar) Option { return groupRegistrar("/categories", reg) }

// WithOrderRoutes configures the registrar responsible for customer order endpoints.
func WithOrderRoutes(reg RouteRegistrar) Option { return groupRegistrar("/orders", reg) }

// WithVendorOrderRoutes configures the registrar responsible for the vendor order feed.
func WithVendorOrderRoutes(reg RouteRegistrar) Option { return groupRegistrar("/vendor/orders", reg) }

// WithVendorRoutes configures the registrar responsible for vendor application endpoints.
func WithVendorRoutes(reg RouteRegistrar) Option { return groupRegistrar("/vendors", reg) }

// WithAdminRoutes configures the registrar responsible for admin endpoints.
func WithAdminRoutes(reg RouteRegistrar) Option { return groupRegistrar("/admin", reg) }

// WithMeRoutes configures the registrar responsible for user profile endpoints.
func WithMeRoutes(reg RouteRegistrar) Option { return groupRegistrar("/me", reg) }

// WithUploadRoutes configures the registrar responsible for upload endpoints.
func WithUploadRoutes(reg RouteRegistrar) Option { return groupRegistrar("/uploads", reg) }
