// Package memory implements the repository registry in process memory. It backs local runs and
// service tests and honours the same atomicity contracts as the Firestore registry.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/marketlane/api/internal/domain"
	"github.com/marketlane/api/internal/platform/pagination"
	"github.com/marketlane/api/internal/repositories"
)

// Registry keeps every collection behind one lock. Each operation is a single critical section,
// which makes Reserve and Transition linearizable.
type Registry struct {
	mu           sync.RWMutex
	now          func() time.Time
	products     map[string]domain.Product
	orders       map[string]domain.Order
	availability map[string]domain.SellerAvailability
	health       repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// Option customises the registry.
type Option func(*Registry)

// WithClock injects the clock used for createdAt and updatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithProducts seeds listings as-is, keeping their timestamps.
func WithProducts(products ...domain.Product) Option {
	return func(r *Registry) {
		for _, product := range products {
			r.products[product.ID] = product
		}
	}
}

// WithHealth replaces the default always-healthy probe.
func WithHealth(health repositories.HealthRepository) Option {
	return func(r *Registry) { r.health = health }
}

func NewRegistry(opts ...Option) (*Registry, error) {
	r := &Registry{
		now:          time.Now,
		products:     make(map[string]domain.Product),
		orders:       make(map[string]domain.Order),
		availability: make(map[string]domain.SellerAvailability),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.health == nil {
		health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
			{Name: "memory", Critical: true, Check: func(context.Context) error { return nil }},
		}, repositories.WithDependencyClock(r.now))
		if err != nil {
			return nil, err
		}
		r.health = health
	}
	return r, nil
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Products() repositories.ProductRepository { return productStore{r} }

func (r *Registry) Inventory() repositories.InventoryRepository { return inventoryStore{r} }

func (r *Registry) Orders() repositories.OrderRepository { return orderStore{r} }

func (r *Registry) Availability() repositories.AvailabilityRepository { return availabilityStore{r} }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

type productStore struct{ r *Registry }

func (s productStore) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, repositories.NewUnavailableError("products.get", err)
	}
	s.r.mu.RLock()
	defer s.r.mu.RUnlock()
	product, ok := s.r.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewNotFoundError("products.get", "product %s not found", productID)
	}
	return product, nil
}

func (s productStore) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, repositories.NewUnavailableError("products.get_all", err)
	}
	s.r.mu.RLock()
	defer s.r.mu.RUnlock()
	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := s.r.products[strings.TrimSpace(id)]; ok {
			out[product.ID] = product
		}
	}
	return out, nil
}

func (s productStore) ListBySeller(ctx context.Context, sellerID string) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, repositories.NewUnavailableError("products.list", err)
	}
	s.r.mu.RLock()
	defer s.r.mu.RUnlock()
	out := make([]domain.Product, 0)
	for _, product := range s.r.products {
		if product.SellerID == sellerID {
			out = append(out, product)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s productStore) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, repositories.NewUnavailableError("products.upsert", err)
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	now := s.r.now().UTC()
	if existing, ok := s.r.products[product.ID]; ok {
		product.CreatedAt = existing.CreatedAt
	} else {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	s.r.products[product.ID] = product
	return product, nil
}

func (s productStore) UpdateApproval(ctx context.Context, productID string, approval domain.ApprovalStatus) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, repositories.NewUnavailableError("products.update_approval", err)
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	product, ok := s.r.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewNotFoundError("products.update_approval", "product %s not found", productID)
	}
	product.Approval = approval
	product.UpdatedAt = s.r.now().UTC()
	s.r.products[productID] = product
	return product, nil
}

type inventoryStore struct{ r *Registry }

func (s inventoryStore) Reserve(ctx context.Context, productID string, qty int) (domain.Product, error) {
	if qty <= 0 {
		return domain.Product{}, inventoryError("inventory.reserve", repositories.InventoryErrorInvalidQuantity, productID, qty, 0)
	}
	if err := ctx.Err(); err != nil {
		return domain.Product{}, repositories.NewUnavailableError("inventory.reserve", err)
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	product, ok := s.r.products[productID]
	if !ok {
		return domain.Product{}, inventoryError("inventory.reserve", repositories.InventoryErrorProductNotFound, productID, qty, 0)
	}
	if product.Stock < qty {
		return domain.Product{}, inventoryError("inventory.reserve", repositories.InventoryErrorInsufficientStock, productID, qty, product.Stock)
	}
	product.Stock -= qty
	product.UpdatedAt = s.r.now().UTC()
	s.r.products[productID] = product
	return product, nil
}

// Release ignores cancellation; a compensating increment must land once started.
func (s inventoryStore) Release(_ context.Context, productID string, qty int) error {
	if qty <= 0 {
		return inventoryError("inventory.release", repositories.InventoryErrorInvalidQuantity, productID, qty, 0)
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	product, ok := s.r.products[productID]
	if !ok {
		return inventoryError("inventory.release", repositories.InventoryErrorProductNotFound, productID, qty, 0)
	}
	product.Stock += qty
	product.UpdatedAt = s.r.now().UTC()
	s.r.products[productID] = product
	return nil
}

func inventoryError(op string, code repositories.InventoryErrorCode, productID string, requested, available int) error {
	err := repositories.NewInventoryError(code, productID, requested, available)
	err.Op = op
	return err
}

type orderStore struct{ r *Registry }

func (s orderStore) Insert(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return repositories.NewUnavailableError("orders.insert", err)
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if _, exists := s.r.orders[order.ID]; exists {
		return repositories.NewConflictError("orders.insert", "order %s already exists", order.ID)
	}
	s.r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s orderStore) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, repositories.NewUnavailableError("orders.get", err)
	}
	s.r.mu.RLock()
	defer s.r.mu.RUnlock()
	order, ok := s.r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.get", "order %s not found", orderID)
	}
	return cloneOrder(order), nil
}

func (s orderStore) ListByBuyer(ctx context.Context, buyerID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.CursorPage[domain.Order]{}, repositories.NewUnavailableError("orders.list", err)
	}
	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	s.r.mu.RLock()
	matches := make([]domain.Order, 0)
	for _, order := range s.r.orders {
		if order.BuyerID == buyerID && cursor.Before(order.PlacedAt, order.ID) {
			matches = append(matches, cloneOrder(order))
		}
	}
	s.r.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].PlacedAt.Equal(matches[j].PlacedAt) {
			return matches[i].PlacedAt.After(matches[j].PlacedAt)
		}
		return matches[i].ID > matches[j].ID
	})

	page := domain.CursorPage[domain.Order]{Items: matches}
	if len(matches) <= pageSize {
		return page, nil
	}
	page.Items = matches[:pageSize]
	last := page.Items[pageSize-1]
	token, err := pagination.EncodeToken(pagination.Cursor{At: last.PlacedAt, ID: last.ID})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	page.NextPageToken = token
	return page, nil
}

func (s orderStore) ListBySellerPlacedBetween(ctx context.Context, sellerID string, from, to time.Time) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, repositories.NewUnavailableError("orders.list_by_seller", err)
	}
	s.r.mu.RLock()
	defer s.r.mu.RUnlock()
	out := make([]domain.Order, 0)
	for _, order := range s.r.orders {
		if order.PlacedAt.Before(from) || !order.PlacedAt.Before(to) {
			continue
		}
		if order.HasSeller(sellerID) {
			out = append(out, cloneOrder(order))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.Before(out[j].PlacedAt) })
	return out, nil
}

// Transition checks the expected status and applies the change, including stock restoration,
// under the registry lock.
func (s orderStore) Transition(ctx context.Context, t repositories.OrderTransition) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, repositories.NewUnavailableError("orders.transition", err)
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()

	order, ok := s.r.orders[t.OrderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.transition", "order %s not found", t.OrderID)
	}
	if order.Status != t.Expected {
		return domain.Order{}, repositories.NewConflictError("orders.transition",
			"order %s is %s, expected %s", t.OrderID, order.Status, t.Expected)
	}

	order = cloneOrder(order)
	restore := t.RestoreInventory && !order.InventoryRestored
	if restore {
		now := s.r.now().UTC()
		for _, item := range order.Items {
			product, ok := s.r.products[item.ProductID]
			if !ok {
				continue
			}
			product.Stock += item.Quantity
			product.UpdatedAt = now
			s.r.products[item.ProductID] = product
		}
	}
	repositories.ApplyTransition(&order, t)
	s.r.orders[order.ID] = order
	return cloneOrder(order), nil
}

type availabilityStore struct{ r *Registry }

func (s availabilityStore) Get(ctx context.Context, sellerID string) (domain.SellerAvailability, error) {
	if err := ctx.Err(); err != nil {
		return domain.SellerAvailability{}, repositories.NewUnavailableError("availability.get", err)
	}
	s.r.mu.RLock()
	defer s.r.mu.RUnlock()
	record, ok := s.r.availability[sellerID]
	if !ok {
		return domain.SellerAvailability{}, repositories.NewNotFoundError("availability.get", "availability for %s not found", sellerID)
	}
	return record, nil
}

func (s availabilityStore) GetMany(ctx context.Context, sellerIDs []string) (map[string]domain.SellerAvailability, error) {
	if err := ctx.Err(); err != nil {
		return nil, repositories.NewUnavailableError("availability.get_many", err)
	}
	s.r.mu.RLock()
	defer s.r.mu.RUnlock()
	out := make(map[string]domain.SellerAvailability, len(sellerIDs))
	for _, id := range sellerIDs {
		if record, ok := s.r.availability[id]; ok {
			out[id] = record
		}
	}
	return out, nil
}

func (s availabilityStore) Save(ctx context.Context, availability domain.SellerAvailability) error {
	if err := ctx.Err(); err != nil {
		return repositories.NewUnavailableError("availability.save", err)
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.availability[availability.SellerID] = availability
	return nil
}

func (s availabilityStore) CreateIfAbsent(ctx context.Context, availability domain.SellerAvailability) (domain.SellerAvailability, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.SellerAvailability{}, false, repositories.NewUnavailableError("availability.create", err)
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if existing, ok := s.r.availability[availability.SellerID]; ok {
		return existing, false, nil
	}
	s.r.availability[availability.SellerID] = availability
	return availability, true, nil
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	order.SellerIDs = append([]string(nil), order.SellerIDs...)
	order.StatusHistory = append([]domain.StatusChange(nil), order.StatusHistory...)
	if order.DeliveredAt != nil {
		at := *order.DeliveredAt
		order.DeliveredAt = &at
	}
	if order.CancelledAt != nil {
		at := *order.CancelledAt
		order.CancelledAt = &at
	}
	return order
}
