package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/marketlane/api/internal/domain"
	"github.com/marketlane/api/internal/services"
)

func newSellerRouter(availability *stubAvailabilityService, catalog *stubCatalogService, dashboards *stubDashboardService) http.Handler {
	return mountRoutes(NewSellerHandlers(testAuthenticator(), availability, catalog, dashboards).Routes)
}

func TestSellerHandlers_RequiresSellerRole(t *testing.T) {
	router := newSellerRouter(&stubAvailabilityService{}, &stubCatalogService{}, &stubDashboardService{})

	assertError(t, doRequest(t, router, http.MethodGet, "/availability", "", ""), http.StatusUnauthorized, "unauthenticated")
	assertError(t, doRequest(t, router, http.MethodGet, "/availability", "buyer_1:buyer", ""), http.StatusForbidden, "insufficient_role")
}

func TestSellerHandlers_GetAvailability(t *testing.T) {
	availability := &stubAvailabilityService{getFn: func(_ context.Context, sellerID string) (services.SellerAvailability, error) {
		return services.SellerAvailability{
			SellerID: sellerID,
			Mode:     domain.VacationMode{Start: civil.Date{Year: 2026, Month: 7, Day: 1}, End: civil.Date{Year: 2026, Month: 7, Day: 10}},
			Handling: domain.HandlingPolicy{Kind: domain.HandlingPause},
		}, nil
	}}
	router := newSellerRouter(availability, &stubCatalogService{}, &stubDashboardService{})

	rr := doRequest(t, router, http.MethodGet, "/availability", "seller_1:seller", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["sellerId"] != "seller_1" || body["mode"] != "vacation" || body["handling"] != "pause" {
		t.Fatalf("unexpected payload %v", body)
	}
	if body["vacationStart"] != "2026-07-01" || body["vacationEnd"] != "2026-07-10" {
		t.Fatalf("unexpected vacation range %v", body)
	}
}

func TestSellerHandlers_UpdateAvailability(t *testing.T) {
	var got services.UpdateAvailabilityCommand
	availability := &stubAvailabilityService{updateFn: func(_ context.Context, cmd services.UpdateAvailabilityCommand) (services.SellerAvailability, error) {
		got = cmd
		if cmd.VacationEnd < cmd.VacationStart {
			return services.SellerAvailability{}, fmt.Errorf("%w: vacation end before start", services.ErrValidation)
		}
		return services.SellerAvailability{
			SellerID: cmd.SellerID,
			Mode:     domain.HolidayMode{Date: civil.Date{Year: 2026, Month: 1, Day: 1}},
			Handling: domain.HandlingPolicy{Kind: domain.HandlingExtend, ExtendDays: cmd.ExtendDays},
		}, nil
	}}
	router := newSellerRouter(availability, &stubCatalogService{}, &stubDashboardService{})

	rr := doRequest(t, router, http.MethodPut, "/availability", "seller_1:seller", `{"mode":"holiday","holidayDate":"2026-01-01","handling":"extend","extendDays":2}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	if got.SellerID != "seller_1" || got.Actor.ID != "seller_1" || got.Mode != "holiday" || got.ExtendDays != 2 {
		t.Fatalf("unexpected command %+v", got)
	}
	body := decodeBody(t, rr)
	if body["holidayDate"] != "2026-01-01" || body["extendDays"] != float64(2) {
		t.Fatalf("unexpected payload %v", body)
	}

	tests := []struct {
		name string
		body string
	}{
		{name: "unknown mode", body: `{"mode":"sabbatical"}`},
		{name: "bad date", body: `{"mode":"holiday","holidayDate":"01/01/2026"}`},
		{name: "unknown handling", body: `{"handling":"skip"}`},
		{name: "extend too long", body: `{"handling":"extend","extendDays":61}`},
		{name: "inverted vacation", body: `{"mode":"vacation","vacationStart":"2026-07-10","vacationEnd":"2026-07-01"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(t, router, http.MethodPut, "/availability", "seller_1:seller", tc.body)
			assertError(t, rr, http.StatusBadRequest, "validation_failed")
		})
	}
}

func TestSellerHandlers_UpsertProduct(t *testing.T) {
	var got services.UpsertProductCommand
	catalog := &stubCatalogService{upsertFn: func(_ context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
		got = cmd
		if cmd.ProductID == "prd_other" {
			return services.Product{}, services.ErrForbidden
		}
		id := cmd.ProductID
		if id == "" {
			id = "prd_new"
		}
		return services.Product{ID: id, SellerID: cmd.SellerID, Name: cmd.Name, Price: cmd.Price, Stock: cmd.Stock, Active: cmd.Active, Approval: domain.ApprovalPending}, nil
	}}
	router := newSellerRouter(&stubAvailabilityService{}, catalog, &stubDashboardService{})

	rr := doRequest(t, router, http.MethodPost, "/products", "seller_1:seller", `{"name":"Oak Lamp","price":"19.999","stock":4}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rr.Code, rr.Body.String())
	}
	if got.ProductID != "" || got.SellerID != "seller_1" || !got.Active || !got.Price.Equal(decimal.RequireFromString("19.999")) {
		t.Fatalf("unexpected command %+v", got)
	}
	product := decodeBody(t, rr)["product"].(map[string]any)
	if product["id"] != "prd_new" || product["approval"] != "pending" || product["price"] != "20.00" {
		t.Fatalf("unexpected product %v", product)
	}

	rr = doRequest(t, router, http.MethodPut, "/products/prd_a", "seller_1:seller", `{"name":"Oak Lamp","price":"18","stock":0,"active":false}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	if got.ProductID != "prd_a" || got.Active {
		t.Fatalf("unexpected update command %+v", got)
	}

	assertError(t, doRequest(t, router, http.MethodPut, "/products/prd_other", "seller_1:seller", `{"name":"x","price":"1","stock":1}`), http.StatusForbidden, "forbidden")
	assertError(t, doRequest(t, router, http.MethodPost, "/products", "seller_1:seller", `{"name":"x","price":"cheap","stock":1}`), http.StatusBadRequest, "validation_failed")
	assertError(t, doRequest(t, router, http.MethodPost, "/products", "seller_1:seller", `{"name":" ","price":"1","stock":-1}`), http.StatusBadRequest, "validation_failed")
}

func TestSellerHandlers_Dashboard(t *testing.T) {
	dashboards := &stubDashboardService{}
	router := newSellerRouter(&stubAvailabilityService{}, &stubCatalogService{}, dashboards)

	rr := doRequest(t, router, http.MethodGet, "/dashboard", "seller_1:seller", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	rr = doRequest(t, router, http.MethodGet, "/dashboard?window=7&refresh=true", "seller_1:seller", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	if len(dashboards.queries) != 2 {
		t.Fatalf("expected two dashboard queries, got %d", len(dashboards.queries))
	}
	first, second := dashboards.queries[0], dashboards.queries[1]
	if first.WindowDays != defaultDashboardWindow || first.Refresh || first.SellerID != "seller_1" {
		t.Fatalf("unexpected default query %+v", first)
	}
	if second.WindowDays != 7 || !second.Refresh {
		t.Fatalf("unexpected explicit query %+v", second)
	}

	assertError(t, doRequest(t, router, http.MethodGet, "/dashboard?window=week", "seller_1:seller", ""), http.StatusBadRequest, "invalid_request")
	assertError(t, doRequest(t, router, http.MethodGet, "/dashboard?refresh=maybe", "seller_1:seller", ""), http.StatusBadRequest, "invalid_request")

	dashboards.err = fmt.Errorf("%w: window 14", services.ErrValidation)
	assertError(t, doRequest(t, router, http.MethodGet, "/dashboard?window=14", "seller_1:seller", ""), http.StatusBadRequest, "validation_failed")
}
