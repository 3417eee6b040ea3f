package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marketlane/api/internal/domain"
	"github.com/marketlane/api/internal/services"
)

func TestNewRouter_DefaultMounts(t *testing.T) {
	healthHandlers := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{
			report: services.SystemHealthReport{
				Status:      domain.HealthStatusOK,
				Uptime:      5 * time.Second,
				GeneratedAt: testNow,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK},
				},
			},
		}),
		WithHealthClock(func() time.Time { return testNow }),
	)

	router := NewRouter(WithHealthHandlers(healthHandlers))

	t.Run("healthz", func(t *testing.T) {
		rr := doRequest(t, router, http.MethodGet, "/healthz", "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		rr := doRequest(t, router, http.MethodGet, "/readyz", "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		body := decodeBody(t, rr)
		if body["status"] != domain.HealthStatusOK {
			t.Fatalf("expected ok status, got %v", body["status"])
		}
	})

	paths := []string{
		"/api/v1/orders",
		"/api/v1/orders/ord_1",
		"/api/v1/seller/availability",
		"/api/v1/admin/products/prd_1/approval",
		"/api/v1/internal/maintenance/idempotency-cleanup",
		"/api/v1/products/prd_1/visibility",
		"/api/v1/sellers/seller_1/products",
	}
	for _, path := range paths {
		t.Run("not implemented "+path, func(t *testing.T) {
			rr := doRequest(t, router, http.MethodGet, path, "", "")
			assertError(t, rr, http.StatusNotImplemented, "not_implemented")
		})
	}
}

func TestNewRouter_UnknownRoute(t *testing.T) {
	router := NewRouter()

	rr := doRequest(t, router, http.MethodGet, "/nope", "", "")
	body := assertError(t, rr, http.StatusNotFound, errorNotFoundCode)
	if body["request_id"] == nil || body["request_id"] == "" {
		t.Fatalf("expected request id in envelope, got %v", body)
	}
}

func TestNewRouter_CustomRegistrars(t *testing.T) {
	var calls []string
	record := func(name string) RouteRegistrar {
		return func(r chi.Router) {
			r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
				calls = append(calls, name)
				w.WriteHeader(http.StatusNoContent)
			})
		}
	}

	var internalHits int
	guard := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			internalHits++
			next.ServeHTTP(w, r)
		})
	}

	router := NewRouter(
		WithOrderRoutes(record("orders")),
		WithSellerRoutes(record("seller")),
		WithAdminRoutes(record("admin")),
		WithInternalRoutes(record("internal")),
		WithInternalMiddlewares(guard),
	)

	for _, path := range []string{"/api/v1/orders/ping", "/api/v1/seller/ping", "/api/v1/admin/ping", "/api/v1/internal/ping"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("%s: expected 204, got %d", path, rr.Code)
		}
	}
	if len(calls) != 4 {
		t.Fatalf("expected 4 registrar hits, got %v", calls)
	}
	if internalHits != 1 {
		t.Fatalf("expected internal middleware to run once, got %d", internalHits)
	}
}
