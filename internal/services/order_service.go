package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/marketlane/api/internal/domain"
	"github.com/marketlane/api/internal/platform/keylock"
	"github.com/marketlane/api/internal/repositories"
)

// fulfilmentRank orders the forward path. A transition must strictly increase the rank; skipping
// steps is allowed.
var fulfilmentRank = map[domain.OrderStatus]int{
	domain.OrderStatusPending:    0,
	domain.OrderStatusProcessing: 1,
	domain.OrderStatusShipped:    2,
	domain.OrderStatusDelivered:  3,
}

// CanTransition reports whether next is reachable from current.
func CanTransition(current, next domain.OrderStatus) bool {
	if current.IsTerminal() || current == next || !next.IsValid() {
		return false
	}
	if next == domain.OrderStatusCancelled {
		return true
	}
	from, ok := fulfilmentRank[current]
	if !ok {
		return false
	}
	return fulfilmentRank[next] > from
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	Locks      *keylock.Locker
	Notifier   Notifier
	Dashboards DashboardInvalidator
	Metrics    Metrics
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	locks      *keylock.Locker
	notifier   Notifier
	dashboards DashboardInvalidator
	metrics    Metrics
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	locks := deps.Locks
	if locks == nil {
		locks = keylock.New()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		locks:      locks,
		notifier:   notifier,
		dashboards: deps.Dashboards,
		metrics:    metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	if strings.TrimSpace(actor.ID) == "" {
		return Order{}, fmt.Errorf("%w: authentication required", ErrForbidden)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if !canRead(order, actor) {
		return Order{}, fmt.Errorf("%w: order %s is not visible to %s", ErrForbidden, orderID, actor.ID)
	}
	return order, nil
}

func (s *orderService) ListBuyerOrders(ctx context.Context, buyerID string, pager Pagination) (domain.CursorPage[Order], error) {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: buyer id is required", ErrValidation)
	}
	page, err := s.orders.ListByBuyer(ctx, buyerID, pager)
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err)
	}
	return page, nil
}

// UpdateStatus serialises transitions per order in process and relies on the store to re-check
// the expected status at write time, which covers racing instances.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	next := domain.OrderStatus(strings.ToLower(strings.TrimSpace(cmd.Status)))
	if !next.IsValid() {
		return Order{}, fmt.Errorf("%w: %q", ErrInvalidStatus, cmd.Status)
	}
	actor := cmd.Actor
	if strings.TrimSpace(actor.ID) == "" {
		return Order{}, fmt.Errorf("%w: authentication required", ErrForbidden)
	}
	if !actor.IsAdmin && !actor.IsSeller {
		return Order{}, fmt.Errorf("%w: buyers cannot change order status", ErrForbidden)
	}

	unlock, err := s.locks.Lock(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	defer unlock()

	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if !actor.IsAdmin && !current.HasSeller(actor.ID) {
		return Order{}, fmt.Errorf("%w: seller %s has no items in order %s", ErrForbidden, actor.ID, orderID)
	}
	if !CanTransition(current.Status, next) {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, next)
	}

	now := s.clock()
	updated, err := s.orders.Transition(ctx, repositories.OrderTransition{
		OrderID:  orderID,
		Expected: current.Status,
		Next:     next,
		Change: domain.StatusChange{
			ActorID:   actor.ID,
			ActorRole: actor.Role(),
			At:        now,
		},
		At:               now,
		RestoreInventory: next == domain.OrderStatusCancelled,
	})
	if err != nil {
		err = mapRepositoryError(err)
		s.logger(ctx, "order_transition_failed", map[string]any{
			"orderId": orderID,
			"from":    string(current.Status),
			"to":      string(next),
			"error":   err.Error(),
		})
		return Order{}, err
	}

	s.metrics.StatusTransition(ctx, string(next))
	s.logger(ctx, "order_status_changed", map[string]any{
		"orderId":   orderID,
		"from":      string(current.Status),
		"to":        string(next),
		"actorId":   actor.ID,
		"actorRole": actor.Role(),
		"restored":  next == domain.OrderStatusCancelled && updated.InventoryRestored,
	})
	if next == domain.OrderStatusCancelled && s.dashboards != nil {
		for _, sellerID := range updated.SellerIDs {
			s.dashboards.Invalidate(ctx, sellerID)
		}
	}
	s.notifier.Notify(ctx, OrderEvent{
		Type:           OrderEventStatusChanged,
		OrderID:        updated.ID,
		BuyerID:        updated.BuyerID,
		SellerIDs:      updated.SellerIDs,
		Status:         string(updated.Status),
		PreviousStatus: string(current.Status),
		ActorID:        actor.ID,
		Total:          updated.Totals.Total.StringFixed(moneyScale),
		Currency:       updated.Currency,
		OccurredAt:     now,
	})
	return updated, nil
}

func canRead(order Order, actor Actor) bool {
	switch {
	case actor.IsAdmin:
		return true
	case order.BuyerID == actor.ID:
		return true
	case actor.IsSeller && order.HasSeller(actor.ID):
		return true
	}
	return false
}
