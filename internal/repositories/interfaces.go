package repositories

import (
	"context"
	"time"

	domain "github.com/marketlane/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Inventory() InventoryRepository
	Orders() OrderRepository
	Availability() AvailabilityRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository stores seller listings. Stock is only changed through InventoryRepository.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// FindByIDs returns the products that exist, keyed by id. Missing ids are omitted.
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	ListBySeller(ctx context.Context, sellerID string) ([]domain.Product, error)
	Upsert(ctx context.Context, product domain.Product) (domain.Product, error)
	// UpdateApproval changes only the moderation status so a concurrent stock decrement is kept.
	UpdateApproval(ctx context.Context, productID string, approval domain.ApprovalStatus) (domain.Product, error)
}

// InventoryRepository is the stock ledger. Reserve is linearizable per product.
type InventoryRepository interface {
	// Reserve decrements stock by qty when at least qty units remain and returns the product as
	// read inside the same atomic unit.
	Reserve(ctx context.Context, productID string, qty int) (domain.Product, error)
	// Release is the compensating increment for a prior Reserve.
	Release(ctx context.Context, productID string, qty int) error
}

// OrderRepository persists orders and applies status transitions atomically.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByBuyer(ctx context.Context, buyerID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	// ListBySellerPlacedBetween returns orders with at least one item of the seller placed in [from, to).
	ListBySellerPlacedBetween(ctx context.Context, sellerID string, from, to time.Time) ([]domain.Order, error)
	Transition(ctx context.Context, transition OrderTransition) (domain.Order, error)
}

// OrderTransition is applied only when the stored status still equals Expected. A mismatch fails
// with a conflict so that racing actors re-read before retrying.
type OrderTransition struct {
	OrderID  string
	Expected domain.OrderStatus
	Next     domain.OrderStatus
	Change   domain.StatusChange
	At       time.Time
	// RestoreInventory returns every item's quantity to stock in the same atomic unit, unless the
	// order already records the restoration.
	RestoreInventory bool
}

// AvailabilityRepository stores one availability record per seller.
type AvailabilityRepository interface {
	Get(ctx context.Context, sellerID string) (domain.SellerAvailability, error)
	// GetMany returns the stored records keyed by seller. Sellers without a record are omitted.
	GetMany(ctx context.Context, sellerIDs []string) (map[string]domain.SellerAvailability, error)
	Save(ctx context.Context, availability domain.SellerAvailability) error
	// CreateIfAbsent stores availability only when the seller has no record yet. It returns the
	// record that is stored afterwards and whether this call created it.
	CreateIfAbsent(ctx context.Context, availability domain.SellerAvailability) (domain.SellerAvailability, bool, error)
}

// HealthRepository probes backing services for readiness.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
