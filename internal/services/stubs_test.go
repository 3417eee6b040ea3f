package services

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/marketlane/api/internal/domain"
	"github.com/marketlane/api/internal/repositories"
	"github.com/marketlane/api/internal/repositories/memory"
)

var testNow = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type stubOrderRepo struct {
	insertFn     func(context.Context, domain.Order) error
	findFn       func(context.Context, string) (domain.Order, error)
	listFn       func(context.Context, string, domain.Pagination) (domain.CursorPage[domain.Order], error)
	listSellerFn func(context.Context, string, time.Time, time.Time) ([]domain.Order, error)
	transitionFn func(context.Context, repositories.OrderTransition) (domain.Order, error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) ListByBuyer(ctx context.Context, buyerID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, buyerID, pager)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderRepo) ListBySellerPlacedBetween(ctx context.Context, sellerID string, from, to time.Time) ([]domain.Order, error) {
	if s.listSellerFn != nil {
		return s.listSellerFn(ctx, sellerID, from, to)
	}
	return nil, nil
}

func (s *stubOrderRepo) Transition(ctx context.Context, t repositories.OrderTransition) (domain.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, t)
	}
	return domain.Order{}, errors.New("not implemented")
}

type stubInventoryRepo struct {
	mu        sync.Mutex
	reserveFn func(context.Context, string, int) (domain.Product, error)
	releases  []string
}

func (s *stubInventoryRepo) Reserve(ctx context.Context, productID string, qty int) (domain.Product, error) {
	if s.reserveFn != nil {
		return s.reserveFn(ctx, productID, qty)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubInventoryRepo) Release(_ context.Context, productID string, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases = append(s.releases, productID)
	return nil
}

type stubAvailabilityRepo struct {
	getFn  func(context.Context, string) (domain.SellerAvailability, error)
	saveFn   func(context.Context, domain.SellerAvailability) error
	createFn func(context.Context, domain.SellerAvailability) (domain.SellerAvailability, bool, error)
}

func (s *stubAvailabilityRepo) Get(ctx context.Context, sellerID string) (domain.SellerAvailability, error) {
	if s.getFn != nil {
		return s.getFn(ctx, sellerID)
	}
	return domain.SellerAvailability{}, repositories.NewNotFoundError("availability.get", "missing %s", sellerID)
}

func (s *stubAvailabilityRepo) GetMany(ctx context.Context, sellerIDs []string) (map[string]domain.SellerAvailability, error) {
	out := map[string]domain.SellerAvailability{}
	for _, id := range sellerIDs {
		if record, err := s.Get(ctx, id); err == nil {
			out[id] = record
		}
	}
	return out, nil
}

func (s *stubAvailabilityRepo) Save(ctx context.Context, availability domain.SellerAvailability) error {
	if s.saveFn != nil {
		return s.saveFn(ctx, availability)
	}
	return nil
}

func (s *stubAvailabilityRepo) CreateIfAbsent(ctx context.Context, availability domain.SellerAvailability) (domain.SellerAvailability, bool, error) {
	if s.createFn != nil {
		return s.createFn(ctx, availability)
	}
	return availability, true, nil
}

type captureNotifier struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (c *captureNotifier) Notify(_ context.Context, event OrderEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureNotifier) snapshot() []OrderEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]OrderEvent(nil), c.events...)
}

type captureInvalidator struct {
	mu      sync.Mutex
	sellers []string
}

func (c *captureInvalidator) Invalidate(_ context.Context, sellerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sellers = append(c.sellers, sellerID)
}

type captureMetrics struct {
	mu          sync.Mutex
	placed      int
	rejected    []string
	transitions []string
	cache       []string
}

func (m *captureMetrics) OrderPlaced(context.Context, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placed++
}

func (m *captureMetrics) OrderRejected(_ context.Context, reason string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected = append(m.rejected, reason)
}

func (m *captureMetrics) StatusTransition(_ context.Context, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, to)
}

func (m *captureMetrics) DashboardCache(_ context.Context, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = append(m.cache, result)
}

func newMemoryRegistry(products ...domain.Product) *memory.Registry {
	reg, err := memory.NewRegistry(memory.WithClock(fixedClock), memory.WithProducts(products...))
	if err != nil {
		panic(err)
	}
	return reg
}
