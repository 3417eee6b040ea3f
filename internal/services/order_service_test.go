package services

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/marketlane/api/internal/domain"
	"github.com/marketlane/api/internal/repositories"
	"github.com/marketlane/api/internal/repositories/memory"
)

var (
	adminActor  = Actor{ID: "admin_1", IsAdmin: true}
	sellerOne   = Actor{ID: "seller_1", IsSeller: true}
	sellerOther = Actor{ID: "seller_9", IsSeller: true}
	buyerActor  = Actor{ID: "buyer_1"}
)

func seedOrder(t *testing.T, reg *memory.Registry, status domain.OrderStatus) domain.Order {
	t.Helper()
	order := domain.Order{
		ID:      "ord_1",
		BuyerID: "buyer_1",
		Items: []domain.OrderItem{
			{ProductID: "prd_a", SellerID: "seller_1", Name: "A", Quantity: 2, UnitPrice: decimal.RequireFromString("10")},
			{ProductID: "prd_b", SellerID: "seller_2", Name: "B", Quantity: 1, UnitPrice: decimal.RequireFromString("5")},
		},
		SellerIDs: []string{"seller_1", "seller_2"},
		Currency:  "USD",
		Totals:    domain.OrderTotals{Subtotal: decimal.RequireFromString("25"), Total: decimal.RequireFromString("25")},
		Status:    status,
		PlacedAt:  testNow.Add(-time.Hour),
		UpdatedAt: testNow.Add(-time.Hour),
	}
	if err := reg.Orders().Insert(context.Background(), order); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return order
}

type orderFixture struct {
	reg      *memory.Registry
	svc      OrderService
	notifier *captureNotifier
	metrics  *captureMetrics
	dash     *captureInvalidator
}

func newOrderFixture(t *testing.T, status domain.OrderStatus) orderFixture {
	t.Helper()
	reg := newMemoryRegistry(listing("prd_a", "seller_1", "10", 3), listing("prd_b", "seller_2", "5", 1))
	seedOrder(t, reg, status)
	fx := orderFixture{reg: reg, notifier: &captureNotifier{}, metrics: &captureMetrics{}, dash: &captureInvalidator{}}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:     reg.Orders(),
		Notifier:   fx.notifier,
		Dashboards: fx.dash,
		Metrics:    fx.metrics,
		Clock:      fixedClock,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	fx.svc = svc
	return fx
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to domain.OrderStatus
		want     bool
	}{
		{domain.OrderStatusPending, domain.OrderStatusProcessing, true},
		{domain.OrderStatusPending, domain.OrderStatusShipped, true},
		{domain.OrderStatusPending, domain.OrderStatusDelivered, true},
		{domain.OrderStatusProcessing, domain.OrderStatusShipped, true},
		{domain.OrderStatusShipped, domain.OrderStatusDelivered, true},
		{domain.OrderStatusShipped, domain.OrderStatusCancelled, true},
		{domain.OrderStatusPending, domain.OrderStatusCancelled, true},
		{domain.OrderStatusShipped, domain.OrderStatusProcessing, false},
		{domain.OrderStatusProcessing, domain.OrderStatusPending, false},
		{domain.OrderStatusPending, domain.OrderStatusPending, false},
		{domain.OrderStatusDelivered, domain.OrderStatusCancelled, false},
		{domain.OrderStatusCancelled, domain.OrderStatusPending, false},
		{domain.OrderStatusCancelled, domain.OrderStatusCancelled, false},
		{domain.OrderStatusPending, domain.OrderStatus("refunded"), false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestUpdateStatusDeliveredStampsTimestamp(t *testing.T) {
	fx := newOrderFixture(t, domain.OrderStatusShipped)

	updated, err := fx.svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{OrderID: "ord_1", Actor: sellerOne, Status: "Delivered"})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.Status != domain.OrderStatusDelivered || updated.DeliveredAt == nil || !updated.DeliveredAt.Equal(testNow) {
		t.Fatalf("unexpected order %+v", updated)
	}
	if len(updated.StatusHistory) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(updated.StatusHistory))
	}
	entry := updated.StatusHistory[0]
	if entry.From != domain.OrderStatusShipped || entry.To != domain.OrderStatusDelivered || entry.ActorID != "seller_1" || entry.ActorRole != "seller" {
		t.Fatalf("unexpected audit entry %+v", entry)
	}
	events := fx.notifier.snapshot()
	if len(events) != 1 || events[0].Type != OrderEventStatusChanged || events[0].PreviousStatus != "shipped" {
		t.Fatalf("unexpected events %+v", events)
	}
	if len(fx.metrics.transitions) != 1 || fx.metrics.transitions[0] != "delivered" {
		t.Fatalf("unexpected transition metrics %v", fx.metrics.transitions)
	}
}

func TestUpdateStatusCancelRestoresInventoryOnce(t *testing.T) {
	fx := newOrderFixture(t, domain.OrderStatusProcessing)
	ctx := context.Background()

	updated, err := fx.svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: "ord_1", Actor: adminActor, Status: "cancelled"})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if !updated.InventoryRestored || updated.CancelledAt == nil {
		t.Fatalf("expected restoration flag and timestamp, got %+v", updated)
	}

	_, err = fx.svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: "ord_1", Actor: adminActor, Status: "cancelled"})
	if !errors.Is(err, ErrInvalidTransition) || !errors.Is(err, ErrConflict) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	a, _ := fx.reg.Products().FindByID(ctx, "prd_a")
	b, _ := fx.reg.Products().FindByID(ctx, "prd_b")
	if a.Stock != 5 || b.Stock != 2 {
		t.Fatalf("expected stock restored exactly once, got a=%d b=%d", a.Stock, b.Stock)
	}
	if len(fx.dash.sellers) != 2 {
		t.Fatalf("expected dashboards invalidated, got %v", fx.dash.sellers)
	}
}

func TestUpdateStatusTerminalStatesAreFinal(t *testing.T) {
	for _, terminal := range []domain.OrderStatus{domain.OrderStatusDelivered, domain.OrderStatusCancelled} {
		for _, target := range []string{"pending", "processing", "shipped", "delivered", "cancelled"} {
			fx := newOrderFixture(t, terminal)
			_, err := fx.svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{OrderID: "ord_1", Actor: adminActor, Status: target})
			if !errors.Is(err, ErrConflict) {
				t.Fatalf("%s -> %s: expected conflict, got %v", terminal, target, err)
			}
		}
	}
}

func TestUpdateStatusAuthorization(t *testing.T) {
	cases := []struct {
		name    string
		actor   Actor
		wantErr error
	}{
		{name: "admin", actor: adminActor},
		{name: "owning seller", actor: sellerOne},
		{name: "seller without items", actor: sellerOther, wantErr: ErrForbidden},
		{name: "buyer", actor: buyerActor, wantErr: ErrForbidden},
		{name: "anonymous", actor: Actor{}, wantErr: ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newOrderFixture(t, domain.OrderStatusPending)
			_, err := fx.svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{OrderID: "ord_1", Actor: tc.actor, Status: "processing"})
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			order, _ := fx.reg.Orders().FindByID(context.Background(), "ord_1")
			if order.Status != domain.OrderStatusPending {
				t.Fatalf("rejected actor must not change status")
			}
		})
	}
}

func TestUpdateStatusInputErrors(t *testing.T) {
	fx := newOrderFixture(t, domain.OrderStatusPending)
	ctx := context.Background()

	if _, err := fx.svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: "ord_1", Actor: adminActor, Status: "lost"}); !errors.Is(err, ErrInvalidStatus) || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected invalid status, got %v", err)
	}
	if _, err := fx.svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: "ord_missing", Actor: adminActor, Status: "shipped"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateStatusLostRaceIsConflict(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", Status: domain.OrderStatusPending}, nil
		},
		transitionFn: func(context.Context, repositories.OrderTransition) (domain.Order, error) {
			return domain.Order{}, repositories.NewConflictError("orders.transition", "order ord_1 is shipped, expected pending")
		},
	}
	svc, _ := NewOrderService(OrderServiceDeps{Orders: repo, Clock: fixedClock})
	_, err := svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{OrderID: "ord_1", Actor: adminActor, Status: "processing"})
	if !errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected plain conflict, got %v", err)
	}
}

func TestUpdateStatusSerialisesPerOrder(t *testing.T) {
	fx := newOrderFixture(t, domain.OrderStatusPending)

	var wg sync.WaitGroup
	results := make([]error, 2)
	actors := []Actor{adminActor, sellerOne}
	for i := range actors {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = fx.svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{OrderID: "ord_1", Actor: actors[i], Status: "cancelled"})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrConflict) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one cancellation, got %d", succeeded)
	}
	a, _ := fx.reg.Products().FindByID(context.Background(), "prd_a")
	if a.Stock != 5 {
		t.Fatalf("expected a single restoration, got stock %d", a.Stock)
	}
}

func TestGetOrderAccess(t *testing.T) {
	fx := newOrderFixture(t, domain.OrderStatusPending)
	cases := []struct {
		name    string
		actor   Actor
		wantErr error
	}{
		{name: "buyer", actor: buyerActor},
		{name: "seller with item", actor: sellerOne},
		{name: "admin", actor: adminActor},
		{name: "other buyer", actor: Actor{ID: "buyer_2"}, wantErr: ErrForbidden},
		{name: "other seller", actor: sellerOther, wantErr: ErrForbidden},
	}
	for _, tc := range cases {
		_, err := fx.svc.GetOrder(context.Background(), "ord_1", tc.actor)
		if tc.wantErr == nil && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.wantErr, err)
		}
	}
	if _, err := fx.svc.GetOrder(context.Background(), "ord_missing", adminActor); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListBuyerOrdersMapsBadToken(t *testing.T) {
	fx := newOrderFixture(t, domain.OrderStatusPending)

	page, err := fx.svc.ListBuyerOrders(context.Background(), "buyer_1", Pagination{PageSize: 10})
	if err != nil || len(page.Items) != 1 {
		t.Fatalf("ListBuyerOrders: %v (%d)", err, len(page.Items))
	}
	if _, err := fx.svc.ListBuyerOrders(context.Background(), "buyer_1", Pagination{PageToken: "%%"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := fx.svc.ListBuyerOrders(context.Background(), " ", Pagination{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for blank buyer, got %v", err)
	}
}

func TestOrderTotalsSurviveStatusChanges(t *testing.T) {
	next := 0
	fx := newCheckoutFixture(t, func(deps *CheckoutServiceDeps) {
		deps.IDGenerator = func() string {
			next++
			return "ord_" + strconv.Itoa(next)
		}
	}, listing("prd_a", "seller_1", "12.50", 10))
	orders, err := NewOrderService(OrderServiceDeps{Orders: fx.reg.Orders(), Clock: fixedClock})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	ctx := context.Background()

	place := func() Order {
		t.Helper()
		order, err := fx.svc.PlaceOrder(ctx, PlaceOrderCommand{
			BuyerID:         "buyer_1",
			Items:           []PlaceOrderItem{{ProductID: "prd_a", Quantity: 2}},
			ShippingAddress: validAddress(),
		})
		if err != nil {
			t.Fatalf("PlaceOrder: %v", err)
		}
		return order
	}
	sameTotals := func(want, got domain.OrderTotals) {
		t.Helper()
		if !want.Subtotal.Equal(got.Subtotal) || !want.Shipping.Equal(got.Shipping) ||
			!want.Tax.Equal(got.Tax) || !want.Total.Equal(got.Total) {
			t.Fatalf("totals changed: want %+v, got %+v", want, got)
		}
		if !got.Total.Equal(got.Subtotal.Add(got.Shipping).Add(got.Tax)) {
			t.Fatalf("total must equal subtotal + shipping + tax, got %+v", got)
		}
	}

	fulfilled := place()
	for _, status := range []string{"processing", "shipped", "delivered"} {
		updated, err := orders.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: fulfilled.ID, Actor: sellerOne, Status: status})
		if err != nil {
			t.Fatalf("UpdateStatus %s: %v", status, err)
		}
		sameTotals(fulfilled.Totals, updated.Totals)
	}

	cancelled := place()
	updated, err := orders.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: cancelled.ID, Actor: adminActor, Status: "cancelled"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	sameTotals(cancelled.Totals, updated.Totals)

	for _, placed := range []Order{fulfilled, cancelled} {
		stored, err := orders.GetOrder(ctx, placed.ID, adminActor)
		if err != nil {
			t.Fatalf("GetOrder %s: %v", placed.ID, err)
		}
		sameTotals(placed.Totals, stored.Totals)
	}
}
