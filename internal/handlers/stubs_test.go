package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/go-chi/chi/v5"

	"github.com/marketlane/api/internal/domain"
	"github.com/marketlane/api/internal/platform/auth"
	"github.com/marketlane/api/internal/services"
)

var testNow = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

// tokenVerifier accepts tokens of the form "<uid>:<role>".
type tokenVerifier struct{}

func (tokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	uid, role, ok := strings.Cut(idToken, ":")
	if !ok || uid == "" {
		return nil, errors.New("bad token")
	}
	return &firebaseauth.Token{UID: uid, Claims: map[string]any{"role": role}}, nil
}

func testAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(tokenVerifier{})
}

func mountRoutes(register RouteRegistrar) http.Handler {
	r := chi.NewRouter()
	register(r)
	return r
}

func doRequest(t *testing.T, handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func assertError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) map[string]any {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d (%s)", status, rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["error"] != code {
		t.Fatalf("expected error code %s, got %v", code, body["error"])
	}
	return body
}

type stubCheckoutService struct {
	placeFn func(context.Context, services.PlaceOrderCommand) (services.Order, error)
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
	if s.placeFn != nil {
		return s.placeFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

type stubOrderService struct {
	getFn    func(context.Context, string, services.Actor) (services.Order, error)
	listFn   func(context.Context, string, services.Pagination) (domain.CursorPage[services.Order], error)
	updateFn func(context.Context, services.UpdateOrderStatusCommand) (services.Order, error)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, actor services.Actor) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID, actor)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListBuyerOrders(ctx context.Context, buyerID string, pager services.Pagination) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, buyerID, pager)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

type stubCatalogService struct {
	visibilityFn func(context.Context, string, time.Time) (services.Visibility, error)
	listFn       func(context.Context, string, time.Time) ([]services.VisibleProduct, error)
	upsertFn     func(context.Context, services.UpsertProductCommand) (services.Product, error)
	approvalFn   func(context.Context, services.SetApprovalCommand) (services.Product, error)
}

func (s *stubCatalogService) ResolveVisibility(ctx context.Context, productID string, now time.Time) (services.Visibility, error) {
	if s.visibilityFn != nil {
		return s.visibilityFn(ctx, productID, now)
	}
	return services.Visibility{}, errors.New("not implemented")
}

func (s *stubCatalogService) ListSellerProducts(ctx context.Context, sellerID string, now time.Time) ([]services.VisibleProduct, error) {
	if s.listFn != nil {
		return s.listFn(ctx, sellerID, now)
	}
	return nil, nil
}

func (s *stubCatalogService) UpsertProduct(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, cmd)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubCatalogService) SetApproval(ctx context.Context, cmd services.SetApprovalCommand) (services.Product, error) {
	if s.approvalFn != nil {
		return s.approvalFn(ctx, cmd)
	}
	return services.Product{}, errors.New("not implemented")
}

type stubAvailabilityService struct {
	getFn    func(context.Context, string) (services.SellerAvailability, error)
	updateFn func(context.Context, services.UpdateAvailabilityCommand) (services.SellerAvailability, error)
}

func (s *stubAvailabilityService) GetAvailability(ctx context.Context, sellerID string) (services.SellerAvailability, error) {
	if s.getFn != nil {
		return s.getFn(ctx, sellerID)
	}
	return domain.DefaultAvailability(sellerID), nil
}

func (s *stubAvailabilityService) UpdateAvailability(ctx context.Context, cmd services.UpdateAvailabilityCommand) (services.SellerAvailability, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.SellerAvailability{}, errors.New("not implemented")
}

type stubDashboardService struct {
	queries []services.DashboardQuery
	err     error
}

func (s *stubDashboardService) GetSellerDashboard(_ context.Context, query services.DashboardQuery) (services.SellerDashboard, error) {
	s.queries = append(s.queries, query)
	if s.err != nil {
		return services.SellerDashboard{}, s.err
	}
	return services.SellerDashboard{SellerID: query.SellerID, WindowDays: query.WindowDays, GeneratedAt: testNow}, nil
}

func (s *stubDashboardService) Invalidate(context.Context, string) {}

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}
