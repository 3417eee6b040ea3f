package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/marketlane/api/internal/domain"
	"github.com/marketlane/api/internal/platform/textutil"
	"github.com/marketlane/api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	maxQuantityPerLine = 999
	maxOrderLines      = 100
	addressFieldLimit  = 200
	variantLabelLimit  = 80
)

var defaultTotalTolerance = decimal.New(1, -2)

// DashboardInvalidator drops cached seller rollups after their inputs change.
type DashboardInvalidator interface {
	Invalidate(ctx context.Context, sellerID string)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Products     repositories.ProductRepository
	Inventory    repositories.InventoryRepository
	Orders       repositories.OrderRepository
	Availability repositories.AvailabilityRepository
	Shipping     ShippingPolicy
	Tax          TaxCalculator
	Notifier     Notifier
	Dashboards   DashboardInvalidator
	Metrics      Metrics

	Currency         string
	TotalTolerance   decimal.Decimal
	BaseDeliveryDays int
	Location         *time.Location

	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	products     repositories.ProductRepository
	inventory    repositories.InventoryRepository
	orders       repositories.OrderRepository
	availability repositories.AvailabilityRepository
	shipping     ShippingPolicy
	tax          TaxCalculator
	notifier     Notifier
	dashboards   DashboardInvalidator
	metrics      Metrics

	currency     string
	tolerance    decimal.Decimal
	baseDelivery int
	location     *time.Location

	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService validates collaborators and applies defaults.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Products == nil {
		return nil, errors.New("checkout service: product repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("checkout service: inventory repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Availability == nil {
		return nil, errors.New("checkout service: availability repository is required")
	}

	svc := &checkoutService{
		products:     deps.Products,
		inventory:    deps.Inventory,
		orders:       deps.Orders,
		availability: deps.Availability,
		shipping:     deps.Shipping,
		tax:          deps.Tax,
		notifier:     deps.Notifier,
		dashboards:   deps.Dashboards,
		metrics:      deps.Metrics,
		currency:     strings.ToUpper(strings.TrimSpace(deps.Currency)),
		tolerance:    deps.TotalTolerance,
		baseDelivery: deps.BaseDeliveryDays,
		location:     deps.Location,
		clock:        deps.Clock,
		newID:        deps.IDGenerator,
		logger:       deps.Logger,
	}
	if svc.shipping == nil {
		svc.shipping = FlatShippingPolicy{}
	}
	if svc.tax == nil {
		svc.tax = FlatRateTax{}
	}
	if svc.notifier == nil {
		svc.notifier = noopNotifier{}
	}
	if svc.metrics == nil {
		svc.metrics = noopMetrics{}
	}
	if svc.currency == "" {
		svc.currency = "USD"
	}
	if !svc.tolerance.IsPositive() {
		svc.tolerance = defaultTotalTolerance
	}
	if svc.baseDelivery < 0 {
		svc.baseDelivery = 0
	}
	if svc.location == nil {
		svc.location = time.UTC
	}
	if svc.clock == nil {
		svc.clock = time.Now
	}
	if svc.newID == nil {
		svc.newID = func() string { return orderIDPrefix + ulid.Make().String() }
	}
	if svc.logger == nil {
		svc.logger = func(context.Context, string, map[string]any) {}
	}
	return svc, nil
}

// reservation is one successful ledger decrement awaiting commit or compensation.
type reservation struct {
	productID string
	quantity  int
}

// PlaceOrder validates visibility for every line, reserves stock in declaration order and
// persists the order. Any failure after the first reservation releases the earlier ones in reverse
// order before the error is returned.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	started := time.Now()
	order, err := s.placeOrder(ctx, cmd)
	if err != nil {
		reason := RejectionReason(err)
		s.metrics.OrderRejected(ctx, reason, time.Since(started))
		s.logger(ctx, "checkout_rejected", map[string]any{
			"buyerId": cmd.BuyerID,
			"reason":  reason,
			"error":   err.Error(),
		})
		return Order{}, err
	}
	s.metrics.OrderPlaced(ctx, time.Since(started))
	return order, nil
}

func (s *checkoutService) placeOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return Order{}, fmt.Errorf("%w: buyer id is required", ErrValidation)
	}
	address, err := normaliseAddress(cmd.ShippingAddress)
	if err != nil {
		return Order{}, err
	}
	if err := validateLines(cmd.Items); err != nil {
		return Order{}, err
	}

	placedAt := s.clock().UTC()
	storeNow := placedAt.In(s.location)

	products, delays, err := s.checkVisibility(ctx, cmd.Items, storeNow)
	if err != nil {
		return Order{}, err
	}

	var reserved []reservation
	items := make([]OrderItem, 0, len(cmd.Items))
	for _, line := range cmd.Items {
		productID := strings.TrimSpace(line.ProductID)
		snapshot, err := s.inventory.Reserve(ctx, productID, line.Quantity)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// the decrement may have committed; it is left alone rather than released blind
				s.logger(ctx, "checkout_reservation_ambiguous", map[string]any{
					"productId": productID,
					"quantity":  line.Quantity,
					"error":     err.Error(),
				})
			}
			s.rollback(ctx, reserved)
			return Order{}, mapRepositoryError(err)
		}
		reserved = append(reserved, reservation{productID: productID, quantity: line.Quantity})

		// the listing may have changed between the preload and the decrement
		if snapshot.SellerID != products[productID].SellerID {
			s.rollback(ctx, reserved)
			return Order{}, &UnavailableError{ProductID: productID, Reason: domain.VisibilityReasonSellerChanged}
		}
		if !snapshot.Active || snapshot.Approval != domain.ApprovalApproved {
			s.rollback(ctx, reserved)
			return Order{}, &UnavailableError{ProductID: productID, Reason: domain.ResolveVisibility(snapshot, nil, storeNow).Reason}
		}

		items = append(items, OrderItem{
			ProductID:         snapshot.ID,
			SellerID:          snapshot.SellerID,
			Name:              snapshot.Name,
			Quantity:          line.Quantity,
			UnitPrice:         snapshot.Price.Round(moneyScale),
			VariantLabel:      textutil.SanitizeText(line.VariantLabel, variantLabelLimit),
			ImageURL:          snapshot.ImageURL,
			DeliveryDelayDays: delays[productID],
		})
	}

	totals, err := computeTotals(ctx, items, s.shipping, s.tax, address)
	if err != nil {
		s.rollback(ctx, reserved)
		return Order{}, fmt.Errorf("%w: compute totals: %v", ErrStoreUnavailable, err)
	}
	if cmd.ClientTotal != nil && cmd.ClientTotal.Sub(totals.Total).Abs().GreaterThan(s.tolerance) {
		s.rollback(ctx, reserved)
		return Order{}, fmt.Errorf("%w: client total %s does not match server total %s",
			ErrValidation, cmd.ClientTotal.StringFixed(moneyScale), totals.Total.StringFixed(moneyScale))
	}

	maxDelay := 0
	for _, item := range items {
		maxDelay = max(maxDelay, item.DeliveryDelayDays)
	}

	order := Order{
		ID:                  s.newID(),
		BuyerID:             buyerID,
		Items:               items,
		SellerIDs:           sellerIDs(items),
		Currency:            s.currency,
		Totals:              totals,
		Status:              domain.OrderStatusPending,
		PaymentStatus:       domain.PaymentStatusUnpaid,
		ShippingAddress:     address,
		PlacedAt:            placedAt,
		EstimatedDeliveryAt: placedAt.AddDate(0, 0, s.baseDelivery+maxDelay),
		UpdatedAt:           placedAt,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		s.rollback(ctx, reserved)
		return Order{}, mapRepositoryError(err)
	}

	s.logger(ctx, "order_placed", map[string]any{
		"orderId": order.ID,
		"buyerId": order.BuyerID,
		"items":   len(order.Items),
		"total":   order.Totals.Total.StringFixed(moneyScale),
	})
	for _, sellerID := range order.SellerIDs {
		if s.dashboards != nil {
			s.dashboards.Invalidate(ctx, sellerID)
		}
	}
	s.notifier.Notify(ctx, OrderEvent{
		Type:       OrderEventPlaced,
		OrderID:    order.ID,
		BuyerID:    order.BuyerID,
		SellerIDs:  order.SellerIDs,
		Status:     string(order.Status),
		Total:      order.Totals.Total.StringFixed(moneyScale),
		Currency:   order.Currency,
		OccurredAt: placedAt,
	})
	return order, nil
}

// checkVisibility loads every referenced product and its seller's availability and runs the
// resolver before any stock is touched.
func (s *checkoutService) checkVisibility(ctx context.Context, lines []PlaceOrderItem, storeNow time.Time) (map[string]Product, map[string]int, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, strings.TrimSpace(line.ProductID))
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, nil, mapRepositoryError(err)
	}

	sellers := make([]string, 0, len(products))
	for _, product := range products {
		if !slices.Contains(sellers, product.SellerID) {
			sellers = append(sellers, product.SellerID)
		}
	}
	availability, err := s.availability.GetMany(ctx, sellers)
	if err != nil {
		return nil, nil, mapRepositoryError(err)
	}

	delays := make(map[string]int, len(products))
	for _, id := range ids {
		product, ok := products[id]
		if !ok {
			return nil, nil, &UnavailableError{ProductID: id, Reason: domain.VisibilityReasonNotFound}
		}
		var state *SellerAvailability
		if record, ok := availability[product.SellerID]; ok {
			state = &record
		}
		visibility := domain.ResolveVisibility(product, state, storeNow)
		if !visibility.Visible {
			return nil, nil, &UnavailableError{ProductID: id, Reason: visibility.Reason}
		}
		delays[id] = visibility.DeliveryDelayDays
	}
	return products, delays, nil
}

// rollback releases reservations newest first. It detaches from ctx so that a cancelled request
// still returns its stock.
func (s *checkoutService) rollback(ctx context.Context, reserved []reservation) {
	releaseCtx := context.WithoutCancel(ctx)
	for i := len(reserved) - 1; i >= 0; i-- {
		r := reserved[i]
		if err := s.inventory.Release(releaseCtx, r.productID, r.quantity); err != nil {
			s.logger(ctx, "checkout_release_failed", map[string]any{
				"productId": r.productID,
				"quantity":  r.quantity,
				"error":     err.Error(),
			})
		}
	}
}

func validateLines(lines []PlaceOrderItem) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	}
	if len(lines) > maxOrderLines {
		return fmt.Errorf("%w: order may contain at most %d items", ErrValidation, maxOrderLines)
	}
	for i, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return fmt.Errorf("%w: items[%d].productId is required", ErrValidation, i)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: items[%d].quantity must be positive", ErrValidation, i)
		}
		if line.Quantity > maxQuantityPerLine {
			return fmt.Errorf("%w: items[%d].quantity must be at most %d", ErrValidation, i, maxQuantityPerLine)
		}
	}
	return nil
}

func normaliseAddress(address ShippingAddress) (ShippingAddress, error) {
	out := ShippingAddress{
		FullName: textutil.SanitizeText(address.FullName, addressFieldLimit),
		Address:  textutil.SanitizeText(address.Address, addressFieldLimit),
		Phone:    textutil.SanitizeText(address.Phone, addressFieldLimit),
	}
	var missing []string
	if out.FullName == "" {
		missing = append(missing, "fullName")
	}
	if out.Address == "" {
		missing = append(missing, "address")
	}
	if out.Phone == "" {
		missing = append(missing, "phone")
	}
	if len(missing) > 0 {
		return ShippingAddress{}, fmt.Errorf("%w: shipping address requires %s", ErrValidation, strings.Join(missing, ", "))
	}
	return out, nil
}

func sellerIDs(items []OrderItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if !slices.Contains(ids, item.SellerID) {
			ids = append(ids, item.SellerID)
		}
	}
	slices.Sort(ids)
	return ids
}
