package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marketlane/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

const (
	defaultAPIPrefix  = "/api/v1"
	defaultTimeout    = 30 * time.Second
	maxRequestBytes   = 1 << 20
	errorNotFoundCode = "route_not_found"
)

// mounted groups, in registration order
const (
	groupOrders   = "orders"
	groupSeller   = "seller"
	groupAdmin    = "admin"
	groupInternal = "internal"
)

var mountedGroups = []string{groupOrders, groupSeller, groupAdmin, groupInternal}

// catalog routes are public and live at two roots rather than under one prefix
var catalogPlaceholders = []string{
	"/products/{productID}/visibility",
	"/sellers/{sellerID}/products",
}

type routeGroup struct {
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	basePath    string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	catalog     RouteRegistrar
	groups      map[string]*routeGroup
}

func (c *routerConfig) group(name string) *routeGroup {
	g, ok := c.groups[name]
	if !ok {
		g = &routeGroup{}
		c.groups[name] = g
	}
	return g
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter constructs the chi router. Unconfigured groups answer 501 so that partially wired
// deployments fail loudly instead of returning 404.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.RequestSize(maxRequestBytes),
			middleware.Timeout(defaultTimeout),
		},
		groups: make(map[string]*routeGroup, len(mountedGroups)),
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
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		if cfg.catalog != nil {
			api.Group(func(group chi.Router) { cfg.catalog(group) })
		} else {
			for _, path := range catalogPlaceholders {
				api.HandleFunc(path, notImplemented("catalog"))
			}
		}

		for _, name := range mountedGroups {
			g := cfg.group(name)
			api.Route("/"+name, func(sub chi.Router) {
				for _, mw := range g.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if g.registrar != nil {
					g.registrar(sub)
					return
				}
				handler := notImplemented(name)
				sub.HandleFunc("/*", handler)
				sub.HandleFunc("/", handler)
				sub.NotFound(handler)
				sub.MethodNotAllowed(handler)
			})
		}
	})

	return r
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithCatalogRoutes configures the registrar for the public storefront endpoints.
func WithCatalogRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.catalog = reg
	}
}

func WithOrderRoutes(reg RouteRegistrar) Option {
	return withGroupRoutes(groupOrders, reg)
}

// WithSellerRoutes configures the registrar for the authenticated seller's own resources.
func WithSellerRoutes(reg RouteRegistrar) Option {
	return withGroupRoutes(groupSeller, reg)
}

func WithAdminRoutes(reg RouteRegistrar) Option {
	return withGroupRoutes(groupAdmin, reg)
}

// WithInternalRoutes configures the scheduler facing maintenance endpoints.
func WithInternalRoutes(reg RouteRegistrar) Option {
	return withGroupRoutes(groupInternal, reg)
}

// WithInternalMiddlewares configures middlewares applied to the /internal group.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(groupInternal)
		g.middlewares = append(g.middlewares, mw...)
	}
}

func withGroupRoutes(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.group(name).registrar = reg
	}
}

func notImplemented(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
}
