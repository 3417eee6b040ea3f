package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marketlane/api/internal/platform/cache"
	"github.com/marketlane/api/internal/platform/config"
	"github.com/marketlane/api/internal/platform/keylock"
	"github.com/marketlane/api/internal/platform/observability"
	"github.com/marketlane/api/internal/repositories"
	"github.com/marketlane/api/internal/services"
)

// readiness probes arrive from every instance of the load balancer
const readinessReportTTL = 2 * time.Second

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Checkout     services.CheckoutService
	Orders       services.OrderService
	Catalog      services.CatalogService
	Availability services.AvailabilityService
	Dashboards   services.DashboardService
	System       services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	notifier *services.QueueNotifier
	closers  []func(context.Context) error
}

// Option customises container construction.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	cache     cache.Cache
	publisher services.OrderEventPublisher
	metrics   services.Metrics
	clock     func() time.Time
	build     services.BuildInfo
	closers   []func(context.Context) error
}

// WithLogger sets the base logger; each service gets a named child.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCache sets the dashboard snapshot cache. Without one an in-process cache is used.
func WithCache(c cache.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithPublisher enables order notifications through the given publisher.
func WithPublisher(publisher services.OrderEventPublisher) Option {
	return func(o *options) { o.publisher = publisher }
}

// WithMetrics sets the service instrumentation sink.
func WithMetrics(metrics services.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithClock overrides the wall clock, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithBuildInfo sets the metadata reported by the readiness probe.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) { o.build = build }
}

// WithCloser registers a hook run by Close after the notifier has drained.
func WithCloser(fn func(context.Context) error) Option {
	return func(o *options) {
		if fn != nil {
			o.closers = append(o.closers, fn)
		}
	}
}

// NewContainer constructs the runtime dependencies. Production wiring passes the Firestore
// registry, while tests and local runs can supply the in-memory one.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.cache == nil {
		o.cache = cache.NewMemoryCache(o.clock)
	}

	c := &Container{
		Config:       cfg,
		Repositories: reg,
		closers:      o.closers,
	}

	var notifier services.Notifier
	if o.publisher != nil {
		queue, err := services.NewQueueNotifier(services.QueueNotifierDeps{
			Publisher: o.publisher,
			QueueSize: cfg.PubSub.QueueSize,
			Locale:    cfg.Checkout.Locale,
			Logger:    observability.ServiceLogger(o.logger, "notifier"),
		})
		if err != nil {
			return nil, fmt.Errorf("build notifier: %w", err)
		}
		c.notifier = queue
		notifier = queue
	}

	svc, err := buildServices(ctx, reg, cfg, o, notifier)
	if err != nil {
		if c.notifier != nil {
			_ = c.notifier.Close(ctx)
		}
		return nil, err
	}
	c.Services = svc
	return c, nil
}

// Close drains pending notifications, then releases registered resources and repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.notifier != nil {
		if err := c.notifier.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close notifier: %w", err))
		}
	}
	for _, closer := range c.closers {
		if err := closer(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, o options, notifier services.Notifier) (Services, error) {
	var svc Services
	location := cfg.Checkout.Location()

	dashboards, err := services.NewDashboardService(services.DashboardServiceDeps{
		Orders:   reg.Orders(),
		Cache:    o.cache,
		CacheTTL: cfg.Dashboard.CacheTTL,
		TopN:     cfg.Dashboard.TopN,
		Location: location,
		Metrics:  o.metrics,
		Clock:    o.clock,
		Logger:   observability.ServiceLogger(o.logger, "dashboard"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build dashboard service: %w", err)
	}
	svc.Dashboards = dashboards

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products:     reg.Products(),
		Availability: reg.Availability(),
		Location:     location,
		Logger:       observability.ServiceLogger(o.logger, "catalog"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	availabilitySvc, err := services.NewAvailabilityService(services.AvailabilityServiceDeps{
		Availability: reg.Availability(),
		Dashboards:   dashboards,
		Clock:        o.clock,
		Logger:       observability.ServiceLogger(o.logger, "availability"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build availability service: %w", err)
	}
	svc.Availability = availabilitySvc

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Products:     reg.Products(),
		Inventory:    reg.Inventory(),
		Orders:       reg.Orders(),
		Availability: reg.Availability(),
		Shipping: services.FlatShippingPolicy{
			Rate:     cfg.Checkout.BaseShipping,
			FreeOver: cfg.Checkout.FreeShippingOver,
		},
		Tax:              services.FlatRateTax{Rate: cfg.Checkout.TaxRate},
		Notifier:         notifier,
		Dashboards:       dashboards,
		Metrics:          o.metrics,
		Currency:         cfg.Checkout.Currency,
		TotalTolerance:   cfg.Checkout.TotalTolerance,
		BaseDeliveryDays: cfg.Checkout.BaseDeliveryDays,
		Location:         location,
		Clock:            o.clock,
		Logger:           observability.ServiceLogger(o.logger, "checkout"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Locks:      keylock.New(),
		Notifier:   notifier,
		Dashboards: dashboards,
		Metrics:    o.metrics,
		Clock:      o.clock,
		Logger:     observability.ServiceLogger(o.logger, "orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		build := o.build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = o.clock().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            o.clock,
			Build:            build,
			ReportTTL:        readinessReportTTL,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
