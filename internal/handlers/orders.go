package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/marketlane/api/internal/platform/auth"
	"github.com/marketlane/api/internal/platform/httpx"
	"github.com/marketlane/api/internal/platform/pagination"
	"github.com/marketlane/api/internal/platform/validation"
	"github.com/marketlane/api/internal/services"
)

const (
	maxPlaceOrderBodySize   = 64 * 1024
	maxStatusUpdateBodySize = 1024
	maxOrderPageSize        = 100
	defaultOrderPageSize    = 20
)

type placeOrderRequest struct {
	Items           []placeOrderItemRequest `json:"items" validate:"min=1,max=100,dive"`
	ShippingAddress shippingAddressRequest  `json:"shippingAddress"`
	ClientTotal     string                  `json:"clientTotal" validate:"decimal"`
}

type placeOrderItemRequest struct {
	ProductID    string `json:"productId" validate:"notblank,max=128"`
	Quantity     int    `json:"quantity" validate:"gt=0,lte=999"`
	VariantLabel string `json:"variantLabel" validate:"max=120"`
}

type shippingAddressRequest struct {
	FullName string `json:"fullName" validate:"notblank,max=200"`
	Address  string `json:"address" validate:"notblank,max=500"`
	Phone    string `json:"phone" validate:"notblank,max=40"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"notblank"`
}

// OrderHandlers exposes checkout and the order endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	checkout    services.CheckoutService
	orders      services.OrderService
	validator   *validation.Validator
	idempotency func(http.Handler) http.Handler
	limiter     rateLimiter
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithIdempotency guards order placement with the given middleware.
func WithIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) { h.idempotency = mw }
}

// WithCheckoutRateLimit caps order placement per buyer. A non-positive limit disables it.
func WithCheckoutRateLimit(perMinute int, clock func() time.Time) OrderHandlersOption {
	return func(h *OrderHandlers) { h.limiter = newFixedWindowLimiter(perMinute, time.Minute, clock) }
}

// NewOrderHandlers constructs order handlers guarded by Firebase authentication.
func NewOrderHandlers(authn *auth.Authenticator, checkout services.CheckoutService, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:     authn,
		checkout:  checkout,
		orders:    orders,
		validator: validation.New(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	place := http.Handler(http.HandlerFunc(h.placeOrder))
	if h.idempotency != nil {
		place = h.idempotency(place)
	}
	r.Method(http.MethodPost, "/", place)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Put("/{orderID}/status", h.updateStatus)
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeUnavailable(ctx, w, "checkout")
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	if h.limiter != nil {
		if allowed, wait := h.limiter.Allow(actor.ID); !allowed {
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts", http.StatusTooManyRequests).WithRetryAfter(wait))
			return
		}
	}

	var req placeOrderRequest
	if !decodeRequest(ctx, w, r, h.validator, maxPlaceOrderBodySize, &req) {
		return
	}

	cmd := services.PlaceOrderCommand{
		BuyerID: actor.ID,
		Items:   make([]services.PlaceOrderItem, 0, len(req.Items)),
		ShippingAddress: services.ShippingAddress{
			FullName: req.ShippingAddress.FullName,
			Address:  req.ShippingAddress.Address,
			Phone:    req.ShippingAddress.Phone,
		},
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.PlaceOrderItem{
			ProductID:    strings.TrimSpace(item.ProductID),
			Quantity:     item.Quantity,
			VariantLabel: item.VariantLabel,
		})
	}
	if raw := strings.TrimSpace(req.ClientTotal); raw != "" {
		total, err := decimal.NewFromString(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("validation_failed", "clientTotal must be a decimal number", http.StatusBadRequest))
			return
		}
		cmd.ClientTotal = &total
	}

	order, err := h.checkout.PlaceOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{DefaultPageSize: defaultOrderPageSize, MaxPageSize: maxOrderPageSize})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListBuyerOrders(ctx, actor.ID, services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := orderListResponse{
		Items:         make([]orderSummaryPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		resp.Items = append(resp.Items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, actor)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateStatusRequest
	if !decodeRequest(ctx, w, r, h.validator, maxStatusUpdateBodySize, &req) {
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID: orderID,
		Actor:   actor,
		Status:  req.Status,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
