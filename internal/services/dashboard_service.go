package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	domain "github.com/marketlane/api/internal/domain"
	"github.com/marketlane/api/internal/platform/cache"
	"github.com/marketlane/api/internal/repositories"
)

const (
	dashboardCacheNamespace = "dashboard"
	defaultDashboardTopN    = 5
	defaultDashboardTTL     = 5 * time.Minute
)

// DashboardWindows lists the accepted lookback windows in days.
var DashboardWindows = []int{7, 30, 90, 365}

// DashboardServiceDeps bundles collaborators for the dashboard service. Cache is optional.
type DashboardServiceDeps struct {
	Orders   repositories.OrderRepository
	Cache    cache.Cache
	CacheTTL time.Duration
	TopN     int
	Location *time.Location
	Metrics  Metrics
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type dashboardService struct {
	orders   repositories.OrderRepository
	cache    cache.Cache
	ttl      time.Duration
	topN     int
	location *time.Location
	metrics  Metrics
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

var (
	_ DashboardService     = (*dashboardService)(nil)
	_ DashboardInvalidator = (*dashboardService)(nil)
)

func NewDashboardService(deps DashboardServiceDeps) (DashboardService, error) {
	if deps.Orders == nil {
		return nil, errors.New("dashboard service: order repository is required")
	}
	svc := &dashboardService{
		orders:   deps.Orders,
		cache:    deps.Cache,
		ttl:      deps.CacheTTL,
		topN:     deps.TopN,
		location: deps.Location,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		logger:   deps.Logger,
	}
	if svc.ttl <= 0 {
		svc.ttl = defaultDashboardTTL
	}
	if svc.topN <= 0 {
		svc.topN = defaultDashboardTopN
	}
	if svc.location == nil {
		svc.location = time.UTC
	}
	if svc.metrics == nil {
		svc.metrics = noopMetrics{}
	}
	if svc.clock == nil {
		svc.clock = time.Now
	}
	if svc.logger == nil {
		svc.logger = func(context.Context, string, map[string]any) {}
	}
	return svc, nil
}

// GetSellerDashboard serves a snapshot no older than the cache TTL. Snapshots are keyed by store
// date so a new day always recomputes.
func (s *dashboardService) GetSellerDashboard(ctx context.Context, query DashboardQuery) (SellerDashboard, error) {
	sellerID := strings.TrimSpace(query.SellerID)
	if sellerID == "" {
		sellerID = query.Actor.ID
	}
	if sellerID == "" {
		return SellerDashboard{}, fmt.Errorf("%w: seller id is required", ErrValidation)
	}
	if !slices.Contains(DashboardWindows, query.WindowDays) {
		return SellerDashboard{}, fmt.Errorf("%w: window must be one of 7, 30, 90 or 365 days", ErrValidation)
	}
	if !query.Actor.IsAdmin && !(query.Actor.IsSeller && query.Actor.ID == sellerID) {
		return SellerDashboard{}, fmt.Errorf("%w: dashboard of %s is not visible to %s", ErrForbidden, sellerID, query.Actor.ID)
	}

	now := s.clock()
	today := civil.DateOf(now.In(s.location))
	key := s.cacheKey(sellerID, query.WindowDays, today)

	if s.cache != nil && !query.Refresh {
		if cached, ok := s.readSnapshot(ctx, key); ok {
			return cached, nil
		}
	}

	dashboard, err := s.compute(ctx, sellerID, query.WindowDays, today, now)
	if err != nil {
		return SellerDashboard{}, err
	}

	if s.cache != nil {
		if query.Refresh {
			s.metrics.DashboardCache(ctx, "refresh")
		}
		s.writeSnapshot(ctx, key, dashboard)
	}
	return dashboard, nil
}

// Invalidate drops today's snapshots for every window.
func (s *dashboardService) Invalidate(ctx context.Context, sellerID string) {
	if s.cache == nil || strings.TrimSpace(sellerID) == "" {
		return
	}
	today := civil.DateOf(s.clock().In(s.location))
	keys := make([]string, 0, len(DashboardWindows))
	for _, window := range DashboardWindows {
		keys = append(keys, s.cacheKey(sellerID, window, today))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger(ctx, "dashboard_invalidate_failed", map[string]any{"sellerId": sellerID, "error": err.Error()})
	}
}

func (s *dashboardService) compute(ctx context.Context, sellerID string, window int, today civil.Date, now time.Time) (SellerDashboard, error) {
	from := today.AddDays(-(window - 1))
	orders, err := s.orders.ListBySellerPlacedBetween(ctx, sellerID, from.In(s.location), today.AddDays(1).In(s.location))
	if err != nil {
		return SellerDashboard{}, mapRepositoryError(err)
	}

	daily := make(map[civil.Date]*domain.DailySales, window)
	series := make([]domain.DailySales, 0, window)
	for day := from; !day.After(today); day = day.AddDays(1) {
		series = append(series, domain.DailySales{Date: day, Revenue: decimal.Zero})
	}
	for i := range series {
		daily[series[i].Date] = &series[i]
	}

	dashboard := SellerDashboard{
		SellerID:    sellerID,
		WindowDays:  window,
		From:        from,
		To:          today,
		Revenue:     decimal.Zero,
		GeneratedAt: now.UTC(),
	}
	products := make(map[string]*domain.ProductSales)
	customers := make(map[string]struct{})

	for _, order := range orders {
		if order.Status == domain.OrderStatusCancelled {
			continue
		}
		bucket := daily[civil.DateOf(order.PlacedAt.In(s.location))]
		counted := false
		for _, item := range order.Items {
			if item.SellerID != sellerID {
				continue
			}
			counted = true
			line := item.LineTotal()
			dashboard.Revenue = dashboard.Revenue.Add(line)
			dashboard.ItemsSold += item.Quantity
			if bucket != nil {
				bucket.Revenue = bucket.Revenue.Add(line)
				bucket.ItemsSold += item.Quantity
			}
			entry, ok := products[item.ProductID]
			if !ok {
				entry = &domain.ProductSales{ProductID: item.ProductID, Revenue: decimal.Zero}
				products[item.ProductID] = entry
			}
			entry.Name = item.Name
			entry.Revenue = entry.Revenue.Add(line)
			entry.ItemsSold += item.Quantity
		}
		if counted {
			customers[order.BuyerID] = struct{}{}
		}
	}

	ranked := make([]domain.ProductSales, 0, len(products))
	for _, entry := range products {
		ranked = append(ranked, *entry)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if cmp := ranked[i].Revenue.Cmp(ranked[j].Revenue); cmp != 0 {
			return cmp > 0
		}
		return ranked[i].ProductID < ranked[j].ProductID
	})
	if len(ranked) > s.topN {
		ranked = ranked[:s.topN]
	}

	dashboard.Daily = series
	dashboard.TopProducts = ranked
	dashboard.DistinctCustomers = len(customers)
	return dashboard, nil
}

func (s *dashboardService) readSnapshot(ctx context.Context, key string) (SellerDashboard, bool) {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.metrics.DashboardCache(ctx, "error")
		s.logger(ctx, "dashboard_cache_read_failed", map[string]any{"key": key, "error": err.Error()})
		return SellerDashboard{}, false
	}
	if !ok {
		s.metrics.DashboardCache(ctx, "miss")
		return SellerDashboard{}, false
	}
	var snapshot SellerDashboard
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.metrics.DashboardCache(ctx, "error")
		s.logger(ctx, "dashboard_cache_decode_failed", map[string]any{"key": key, "error": err.Error()})
		return SellerDashboard{}, false
	}
	s.metrics.DashboardCache(ctx, "hit")
	snapshot.Cached = true
	return snapshot, true
}

func (s *dashboardService) writeSnapshot(ctx context.Context, key string, dashboard SellerDashboard) {
	data, err := json.Marshal(dashboard)
	if err != nil {
		s.logger(ctx, "dashboard_cache_encode_failed", map[string]any{"key": key, "error": err.Error()})
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		s.logger(ctx, "dashboard_cache_write_failed", map[string]any{"key": key, "error": err.Error()})
	}
}

func (s *dashboardService) cacheKey(sellerID string, window int, day civil.Date) string {
	return cache.Key(dashboardCacheNamespace, sellerID, strconv.Itoa(window), day.String())
}
