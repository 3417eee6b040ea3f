package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Actor is the caller identity resolved by the authentication layer.
type Actor struct {
	ID       string
	IsAdmin  bool
	IsSeller bool
}

// Role returns the most privileged role held by the actor.
func (a Actor) Role() string {
	switch {
	case a.IsAdmin:
		return "admin"
	case a.IsSeller:
		return "seller"
	default:
		return "buyer"
	}
}

// ApprovalStatus tracks moderation of seller listings.
type ApprovalStatus string

const (
	// ApprovalPending marks listings awaiting review.
	ApprovalPending ApprovalStatus = "pending"
	// ApprovalApproved marks listings cleared for sale.
	ApprovalApproved ApprovalStatus = "approved"
	// ApprovalRejected marks listings refused by moderation.
	ApprovalRejected ApprovalStatus = "rejected"
)

// IsValid reports whether the status is a known approval value.
func (s ApprovalStatus) IsValid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

// Product is a seller listing with its authoritative price and stock counter.
type Product struct {
	ID        string
	SellerID  string
	Name      string
	Price     decimal.Decimal
	Stock     int
	Active    bool
	Approval  ApprovalStatus
	ImageURL  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is the initial state after checkout.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates a seller has started fulfilment.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the parcel left the seller.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered is terminal and stamps the delivery time.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is terminal and returns stock to the ledger.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsValid reports whether the status is one of the known lifecycle states.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// PaymentStatus records the payment state; gateway integration lives elsewhere.
type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// ShippingAddress is the address snapshot captured at checkout.
type ShippingAddress struct {
	FullName string
	Address  string
	Phone    string
}

// OrderItem mirrors the product at the time of purchase.
type OrderItem struct {
	ProductID         string
	SellerID          string
	Name              string
	Quantity          int
	UnitPrice         decimal.Decimal
	VariantLabel      string
	ImageURL          string
	DeliveryDelayDays int
}

// LineTotal returns unit price multiplied by quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderTotals holds rolled-up monetary fields. Total always equals Subtotal + Shipping + Tax.
type OrderTotals struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// StatusChange is an audit entry appended on every transition.
type StatusChange struct {
	From      OrderStatus
	To        OrderStatus
	ActorID   string
	ActorRole string
	At        time.Time
}

// Order captures order headers and embedded line items.
type Order struct {
	ID                  string
	BuyerID             string
	Items               []OrderItem
	SellerIDs           []string
	Currency            string
	Totals              OrderTotals
	Status              OrderStatus
	PaymentStatus       PaymentStatus
	ShippingAddress     ShippingAddress
	PlacedAt            time.Time
	EstimatedDeliveryAt time.Time
	DeliveredAt         *time.Time
	CancelledAt         *time.Time
	InventoryRestored   bool
	StatusHistory       []StatusChange
	UpdatedAt           time.Time
}

// HasSeller reports whether any line item belongs to the seller.
func (o Order) HasSeller(sellerID string) bool {
	if sellerID == "" {
		return false
	}
	for _, item := range o.Items {
		if item.SellerID == sellerID {
			return true
		}
	}
	return false
}

// DailySales is one bucket of the dashboard series.
type DailySales struct {
	Date      civil.Date
	Revenue   decimal.Decimal
	ItemsSold int
}

// ProductSales ranks a product in the dashboard top list.
type ProductSales struct {
	ProductID string
	Name      string
	Revenue   decimal.Decimal
	ItemsSold int
}

// SellerDashboard is a derived, possibly cached, rollup of a seller's sales.
type SellerDashboard struct {
	SellerID          string
	WindowDays        int
	From              civil.Date
	To                civil.Date
	Revenue           decimal.Decimal
	ItemsSold         int
	Daily             []DailySales
	TopProducts       []ProductSales
	DistinctCustomers int
	GeneratedAt       time.Time
	Cached            bool
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
