package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketlane/api/internal/domain"
	"github.com/marketlane/api/internal/platform/idempotency"
	"github.com/marketlane/api/internal/platform/pagination"
	"github.com/marketlane/api/internal/services"
)

const validOrderBody = `{
	"items": [{"productId": "prd_a", "quantity": 2}, {"productId": "prd_b", "quantity": 1, "variantLabel": "Large"}],
	"shippingAddress": {"fullName": "Ada Buyer", "address": "1 Main St", "phone": "555-0100"},
	"clientTotal": "55.00"
}`

func sampleOrder(id string) services.Order {
	return services.Order{
		ID:       id,
		BuyerID:  "buyer_1",
		Currency: "USD",
		Items: []services.OrderItem{
			{ProductID: "prd_a", SellerID: "seller_1", Name: "Mug", Quantity: 2, UnitPrice: decimal.RequireFromString("10")},
			{ProductID: "prd_b", SellerID: "seller_2", Name: "Tote", Quantity: 1, UnitPrice: decimal.RequireFromString("25"), VariantLabel: "Large"},
		},
		SellerIDs: []string{"seller_1", "seller_2"},
		Totals: services.OrderTotals{
			Subtotal: decimal.RequireFromString("45"),
			Shipping: decimal.RequireFromString("5"),
			Tax:      decimal.RequireFromString("5"),
			Total:    decimal.RequireFromString("55"),
		},
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusUnpaid,
		ShippingAddress: services.ShippingAddress{FullName: "Ada Buyer", Address: "1 Main St", Phone: "555-0100"},
		PlacedAt:        testNow,
	}
}

func TestOrderHandlers_PlaceOrder(t *testing.T) {
	var got services.PlaceOrderCommand
	checkout := &stubCheckoutService{placeFn: func(_ context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
		got = cmd
		return sampleOrder("ord_1"), nil
	}}
	h := NewOrderHandlers(testAuthenticator(), checkout, &stubOrderService{})
	router := mountRoutes(h.Routes)

	rr := doRequest(t, router, http.MethodPost, "/", "buyer_1:buyer", validOrderBody)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/api/v1/orders/ord_1" {
		t.Fatalf("unexpected location %q", loc)
	}
	if got.BuyerID != "buyer_1" || len(got.Items) != 2 || got.Items[1].VariantLabel != "Large" {
		t.Fatalf("unexpected command %+v", got)
	}
	if got.ClientTotal == nil || !got.ClientTotal.Equal(decimal.RequireFromString("55")) {
		t.Fatalf("expected client total hint, got %v", got.ClientTotal)
	}

	body := decodeBody(t, rr)
	order := body["order"].(map[string]any)
	totals := order["totals"].(map[string]any)
	if totals["total"] != "55.00" || totals["subtotal"] != "45.00" {
		t.Fatalf("expected fixed-point totals, got %v", totals)
	}
	if sellers := order["sellerIds"].([]any); len(sellers) != 2 {
		t.Fatalf("expected two sellers, got %v", sellers)
	}
}

func TestOrderHandlers_PlaceOrderRejections(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		body   string
		err    error
		status int
		code   string
	}{
		{name: "missing token", body: validOrderBody, status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "empty body", token: "buyer_1:buyer", status: http.StatusBadRequest, code: "invalid_request"},
		{name: "malformed json", token: "buyer_1:buyer", body: `{"items":`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "no items", token: "buyer_1:buyer", body: `{"items":[],"shippingAddress":{"fullName":"a","address":"b","phone":"c"}}`, status: http.StatusBadRequest, code: "validation_failed"},
		{
			name:   "insufficient stock",
			token:  "buyer_1:buyer",
			body:   validOrderBody,
			err:    &services.StockError{ProductID: "prd_a", Requested: 2, Available: 1},
			status: http.StatusConflict,
			code:   "insufficient_stock",
		},
		{
			name:   "unavailable product",
			token:  "buyer_1:buyer",
			body:   validOrderBody,
			err:    &services.UnavailableError{ProductID: "prd_b", Reason: domain.VisibilityReasonVacation},
			status: http.StatusConflict,
			code:   "product_unavailable",
		},
		{name: "store outage", token: "buyer_1:buyer", body: validOrderBody, err: services.ErrStoreUnavailable, status: http.StatusServiceUnavailable, code: "store_unavailable"},
		{name: "unexpected", token: "buyer_1:buyer", body: validOrderBody, err: errors.New("boom"), status: http.StatusInternalServerError, code: "internal_error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			checkout := &stubCheckoutService{placeFn: func(context.Context, services.PlaceOrderCommand) (services.Order, error) {
				if tc.err != nil {
					return services.Order{}, tc.err
				}
				return sampleOrder("ord_1"), nil
			}}
			router := mountRoutes(NewOrderHandlers(testAuthenticator(), checkout, &stubOrderService{}).Routes)
			rr := doRequest(t, router, http.MethodPost, "/", tc.token, tc.body)
			assertError(t, rr, tc.status, tc.code)
		})
	}
}

func TestOrderHandlers_PlaceOrderFieldErrors(t *testing.T) {
	router := mountRoutes(NewOrderHandlers(testAuthenticator(), &stubCheckoutService{}, &stubOrderService{}).Routes)

	body := `{"items":[{"productId":"prd_a","quantity":0}],"shippingAddress":{"fullName":"Ada","address":" ","phone":"1"},"clientTotal":"ten"}`
	rr := doRequest(t, router, http.MethodPost, "/", "buyer_1:buyer", body)
	payload := assertError(t, rr, http.StatusBadRequest, "validation_failed")

	fields, ok := payload["fields"].(map[string]any)
	if !ok {
		t.Fatalf("expected field details, got %v", payload)
	}
	for _, key := range []string{"items[0].quantity", "shippingAddress.address", "clientTotal"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("expected field error for %s, got %v", key, fields)
		}
	}
}

func TestOrderHandlers_StockErrorDetails(t *testing.T) {
	checkout := &stubCheckoutService{placeFn: func(context.Context, services.PlaceOrderCommand) (services.Order, error) {
		return services.Order{}, fmt.Errorf("place order: %w", &services.StockError{ProductID: "prd_a", Requested: 2, Available: 1})
	}}
	router := mountRoutes(NewOrderHandlers(testAuthenticator(), checkout, &stubOrderService{}).Routes)

	rr := doRequest(t, router, http.MethodPost, "/", "buyer_1:buyer", validOrderBody)
	payload := assertError(t, rr, http.StatusConflict, "insufficient_stock")
	if payload["productId"] != "prd_a" || payload["requested"] != float64(2) || payload["available"] != float64(1) {
		t.Fatalf("expected stock details, got %v", payload)
	}
}

func TestOrderHandlers_IdempotentReplay(t *testing.T) {
	calls := 0
	checkout := &stubCheckoutService{placeFn: func(context.Context, services.PlaceOrderCommand) (services.Order, error) {
		calls++
		return sampleOrder(fmt.Sprintf("ord_%d", calls)), nil
	}}
	mw := idempotency.Middleware(idempotency.NewMemoryStore(), idempotency.WithClock(func() time.Time { return testNow }))
	router := mountRoutes(NewOrderHandlers(testAuthenticator(), checkout, &stubOrderService{}, WithIdempotency(mw)).Routes)

	send := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(validOrderBody))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer buyer_1:buyer")
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := send("checkout-1")
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", first.Code, first.Body.String())
	}
	replay := send("checkout-1")
	if replay.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", replay.Code)
	}
	if replay.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatalf("expected replay header")
	}
	if replay.Body.String() != first.Body.String() {
		t.Fatalf("expected identical replay body")
	}
	if calls != 1 {
		t.Fatalf("expected checkout to run once, ran %d times", calls)
	}

	assertError(t, send(""), http.StatusBadRequest, "idempotency_key_required")
}

func TestOrderHandlers_CheckoutRateLimit(t *testing.T) {
	now := testNow
	clock := func() time.Time { return now }
	checkout := &stubCheckoutService{placeFn: func(context.Context, services.PlaceOrderCommand) (services.Order, error) {
		return sampleOrder("ord_1"), nil
	}}
	router := mountRoutes(NewOrderHandlers(testAuthenticator(), checkout, &stubOrderService{}, WithCheckoutRateLimit(1, clock)).Routes)

	if rr := doRequest(t, router, http.MethodPost, "/", "buyer_1:buyer", validOrderBody); rr.Code != http.StatusCreated {
		t.Fatalf("expected first checkout to pass, got %d", rr.Code)
	}

	now = now.Add(20 * time.Second)
	rr := doRequest(t, router, http.MethodPost, "/", "buyer_1:buyer", validOrderBody)
	assertError(t, rr, http.StatusTooManyRequests, "rate_limited")
	if rr.Header().Get("Retry-After") != "40" {
		t.Fatalf("expected Retry-After 40, got %q", rr.Header().Get("Retry-After"))
	}

	if rr := doRequest(t, router, http.MethodPost, "/", "buyer_2:buyer", validOrderBody); rr.Code != http.StatusCreated {
		t.Fatalf("expected other buyer to pass, got %d", rr.Code)
	}
}

func TestOrderHandlers_ListOrders(t *testing.T) {
	var gotBuyer string
	var gotPager services.Pagination
	orders := &stubOrderService{listFn: func(_ context.Context, buyerID string, pager services.Pagination) (domain.CursorPage[services.Order], error) {
		gotBuyer = buyerID
		gotPager = pager
		return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder("ord_2"), sampleOrder("ord_1")}, NextPageToken: "next"}, nil
	}}
	router := mountRoutes(NewOrderHandlers(testAuthenticator(), &stubCheckoutService{}, orders).Routes)
	token, err := pagination.EncodeToken(pagination.Cursor{At: testNow, ID: "ord_3"})
	if err != nil {
		t.Fatalf("encode token: %v", err)
	}

	rr := doRequest(t, router, http.MethodGet, "/?pageSize=2&pageToken="+token, "buyer_1:buyer", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	if gotBuyer != "buyer_1" || gotPager.PageSize != 2 || gotPager.PageToken != token {
		t.Fatalf("unexpected list args %s %+v", gotBuyer, gotPager)
	}
	body := decodeBody(t, rr)
	items := body["items"].([]any)
	if len(items) != 2 || body["nextPageToken"] != "next" {
		t.Fatalf("unexpected list payload %v", body)
	}
	first := items[0].(map[string]any)
	if first["id"] != "ord_2" || first["itemCount"] != float64(3) || first["total"] != "55.00" {
		t.Fatalf("unexpected summary %v", first)
	}

	assertError(t, doRequest(t, router, http.MethodGet, "/?pageSize=abc", "buyer_1:buyer", ""), http.StatusBadRequest, "invalid_request")
	assertError(t, doRequest(t, router, http.MethodGet, "/?pageToken=%25%25", "buyer_1:buyer", ""), http.StatusBadRequest, "invalid_request")
}

func TestOrderHandlers_GetOrder(t *testing.T) {
	orders := &stubOrderService{getFn: func(_ context.Context, orderID string, actor services.Actor) (services.Order, error) {
		if actor.ID != "buyer_1" {
			return services.Order{}, services.ErrForbidden
		}
		if orderID != "ord_1" {
			return services.Order{}, services.ErrNotFound
		}
		return sampleOrder(orderID), nil
	}}
	router := mountRoutes(NewOrderHandlers(testAuthenticator(), &stubCheckoutService{}, orders).Routes)

	rr := doRequest(t, router, http.MethodGet, "/ord_1", "buyer_1:buyer", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	order := decodeBody(t, rr)["order"].(map[string]any)
	if order["id"] != "ord_1" || order["placedAt"] != "2026-05-04T10:30:00Z" {
		t.Fatalf("unexpected order payload %v", order)
	}

	assertError(t, doRequest(t, router, http.MethodGet, "/ord_1", "buyer_9:buyer", ""), http.StatusForbidden, "forbidden")
	assertError(t, doRequest(t, router, http.MethodGet, "/ord_404", "buyer_1:buyer", ""), http.StatusNotFound, "not_found")
}

func TestOrderHandlers_UpdateStatus(t *testing.T) {
	var got services.UpdateOrderStatusCommand
	orders := &stubOrderService{updateFn: func(_ context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
		got = cmd
		switch cmd.Status {
		case "shipped":
			order := sampleOrder(cmd.OrderID)
			order.Status = domain.OrderStatusShipped
			return order, nil
		case "pending":
			return services.Order{}, fmt.Errorf("%w: shipped -> pending", services.ErrInvalidTransition)
		default:
			return services.Order{}, fmt.Errorf("%w: %s", services.ErrInvalidStatus, cmd.Status)
		}
	}}
	router := mountRoutes(NewOrderHandlers(testAuthenticator(), &stubCheckoutService{}, orders).Routes)

	rr := doRequest(t, router, http.MethodPut, "/ord_1/status", "seller_1:seller", `{"status":"shipped"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	if got.OrderID != "ord_1" || got.Actor.ID != "seller_1" || !got.Actor.IsSeller {
		t.Fatalf("unexpected command %+v", got)
	}
	if status := decodeBody(t, rr)["order"].(map[string]any)["status"]; status != "shipped" {
		t.Fatalf("expected shipped, got %v", status)
	}

	assertError(t, doRequest(t, router, http.MethodPut, "/ord_1/status", "seller_1:seller", `{"status":"pending"}`), http.StatusConflict, "invalid_transition")
	assertError(t, doRequest(t, router, http.MethodPut, "/ord_1/status", "seller_1:seller", `{"status":"lost"}`), http.StatusBadRequest, "validation_failed")
	assertError(t, doRequest(t, router, http.MethodPut, "/ord_1/status", "seller_1:seller", `{"status":""}`), http.StatusBadRequest, "validation_failed")
}
