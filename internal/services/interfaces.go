package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/marketlane/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Actor              = domain.Actor
	Pagination         = domain.Pagination
	Product            = domain.Product
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderTotals        = domain.OrderTotals
	OrderStatus        = domain.OrderStatus
	ShippingAddress    = domain.ShippingAddress
	SellerAvailability = domain.SellerAvailability
	Visibility         = domain.Visibility
	SellerDashboard    = domain.SellerDashboard
	SystemHealthReport = domain.SystemHealthReport
)

// CheckoutService turns a buyer's item list into a persisted order.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
}

// OrderService exposes order reads and the status state machine.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error)
	ListBuyerOrders(ctx context.Context, buyerID string, pager Pagination) (domain.CursorPage[Order], error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
}

// CatalogService resolves storefront visibility and maintains listings.
type CatalogService interface {
	ResolveVisibility(ctx context.Context, productID string, now time.Time) (Visibility, error)
	ListSellerProducts(ctx context.Context, sellerID string, now time.Time) ([]VisibleProduct, error)
	UpsertProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	SetApproval(ctx context.Context, cmd SetApprovalCommand) (Product, error)
}

// AvailabilityService manages the one availability record each seller owns.
type AvailabilityService interface {
	GetAvailability(ctx context.Context, sellerID string) (SellerAvailability, error)
	UpdateAvailability(ctx context.Context, cmd UpdateAvailabilityCommand) (SellerAvailability, error)
}

// DashboardService computes seller rollups over historical orders.
type DashboardService interface {
	GetSellerDashboard(ctx context.Context, query DashboardQuery) (SellerDashboard, error)
	// Invalidate drops cached snapshots for sellerID so the next read recomputes.
	Invalidate(ctx context.Context, sellerID string)
}

// SystemService exposes health information for probes.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// PlaceOrderItem is one requested line.
type PlaceOrderItem struct {
	ProductID    string
	Quantity     int
	VariantLabel string
}

// PlaceOrderCommand carries checkout input. ClientTotal is only a hint compared against the
// server-computed total.
type PlaceOrderCommand struct {
	BuyerID         string
	Items           []PlaceOrderItem
	ShippingAddress ShippingAddress
	ClientTotal     *decimal.Decimal
}

// UpdateOrderStatusCommand requests a state machine transition.
type UpdateOrderStatusCommand struct {
	OrderID string
	Actor   Actor
	Status  string
}

// VisibleProduct pairs a storefront listing with its quoted extra delivery time.
type VisibleProduct struct {
	Product           Product
	DeliveryDelayDays int
}

// UpsertProductCommand creates or edits a listing.
type UpsertProductCommand struct {
	Actor     Actor
	ProductID string
	SellerID  string
	Name      string
	Price     decimal.Decimal
	Stock     int
	Active    bool
	ImageURL  string
}

// SetApprovalCommand records a moderation decision.
type SetApprovalCommand struct {
	Actor     Actor
	ProductID string
	Approval  domain.ApprovalStatus
}

// UpdateAvailabilityCommand carries the wire form of an availability record.
type UpdateAvailabilityCommand struct {
	Actor         Actor
	SellerID      string
	Paused        bool
	Mode          string
	HolidayDate   string
	VacationStart string
	VacationEnd   string
	Handling      string
	ExtendDays    int
}

// DashboardQuery selects a seller and lookback window. Refresh bypasses the snapshot cache.
type DashboardQuery struct {
	Actor      Actor
	SellerID   string
	WindowDays int
	Refresh    bool
}
