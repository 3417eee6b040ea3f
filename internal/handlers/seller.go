package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/marketlane/api/internal/platform/auth"
	"github.com/marketlane/api/internal/platform/httpx"
	"github.com/marketlane/api/internal/platform/validation"
	"github.com/marketlane/api/internal/services"
)

const (
	maxSellerBodySize      = 8 * 1024
	defaultDashboardWindow = 30
	dashboardWindowParam   = "window"
	dashboardRefreshParam  = "refresh"
)

type availabilityRequest struct {
	Paused        bool   `json:"paused"`
	Mode          string `json:"mode" validate:"omitempty,oneof=normal holiday vacation"`
	HolidayDate   string `json:"holidayDate" validate:"civildate"`
	VacationStart string `json:"vacationStart" validate:"civildate"`
	VacationEnd   string `json:"vacationEnd" validate:"civildate"`
	Handling      string `json:"handling" validate:"omitempty,oneof=extend pause"`
	ExtendDays    int    `json:"extendDays" validate:"gte=0,lte=60"`
}

type productRequest struct {
	Name     string `json:"name" validate:"notblank,max=200"`
	Price    string `json:"price" validate:"notblank,decimal"`
	Stock    int    `json:"stock" validate:"gte=0"`
	Active   *bool  `json:"active"`
	ImageURL string `json:"imageUrl" validate:"omitempty,url,max=2048"`
}

// SellerHandlers serves the authenticated seller's own availability, listings and dashboard.
type SellerHandlers struct {
	authn        *auth.Authenticator
	availability services.AvailabilityService
	catalog      services.CatalogService
	dashboards   services.DashboardService
	validator    *validation.Validator
}

// NewSellerHandlers constructs seller handlers guarded by the seller role.
func NewSellerHandlers(authn *auth.Authenticator, availability services.AvailabilityService, catalog services.CatalogService, dashboards services.DashboardService) *SellerHandlers {
	return &SellerHandlers{
		authn:        authn,
		availability: availability,
		catalog:      catalog,
		dashboards:   dashboards,
		validator:    validation.New(),
	}
}

// Routes registers the /seller endpoints.
func (h *SellerHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleSeller))
	}
	r.Get("/availability", h.getAvailability)
	r.Put("/availability", h.updateAvailability)
	r.Post("/products", h.createProduct)
	r.Put("/products/{productID}", h.updateProduct)
	r.Get("/dashboard", h.dashboard)
}

func (h *SellerHandlers) getAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.availability == nil {
		writeUnavailable(ctx, w, "availability")
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	record, err := h.availability.GetAvailability(ctx, actor.ID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildAvailabilityPayload(record))
}

func (h *SellerHandlers) updateAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.availability == nil {
		writeUnavailable(ctx, w, "availability")
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req availabilityRequest
	if !decodeRequest(ctx, w, r, h.validator, maxSellerBodySize, &req) {
		return
	}

	record, err := h.availability.UpdateAvailability(ctx, services.UpdateAvailabilityCommand{
		Actor:         actor,
		SellerID:      actor.ID,
		Paused:        req.Paused,
		Mode:          req.Mode,
		HolidayDate:   req.HolidayDate,
		VacationStart: req.VacationStart,
		VacationEnd:   req.VacationEnd,
		Handling:      req.Handling,
		ExtendDays:    req.ExtendDays,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildAvailabilityPayload(record))
}

func (h *SellerHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	h.upsertProduct(w, r, "", http.StatusCreated)
}

func (h *SellerHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}
	h.upsertProduct(w, r, productID, http.StatusOK)
}

func (h *SellerHandlers) upsertProduct(w http.ResponseWriter, r *http.Request, productID string, status int) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "catalog")
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req productRequest
	if !decodeRequest(ctx, w, r, h.validator, maxSellerBodySize, &req) {
		return
	}
	price, err := decimal.NewFromString(strings.TrimSpace(req.Price))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", "price must be a decimal number", http.StatusBadRequest))
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	product, err := h.catalog.UpsertProduct(ctx, services.UpsertProductCommand{
		Actor:     actor,
		ProductID: productID,
		SellerID:  actor.ID,
		Name:      req.Name,
		Price:     price,
		Stock:     req.Stock,
		Active:    active,
		ImageURL:  req.ImageURL,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, status, map[string]any{"product": buildProductPayload(product)})
}

func (h *SellerHandlers) dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	serveDashboard(ctx, w, r, h.dashboards, actor, actor.ID)
}

// serveDashboard parses the window and refresh query parameters shared by the seller and admin
// dashboard routes.
func serveDashboard(ctx context.Context, w http.ResponseWriter, r *http.Request, dashboards services.DashboardService, actor services.Actor, sellerID string) {
	if dashboards == nil {
		writeUnavailable(ctx, w, "dashboard")
		return
	}
	query := r.URL.Query()
	window := defaultDashboardWindow
	if raw := strings.TrimSpace(query.Get(dashboardWindowParam)); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "window must be an integer number of days", http.StatusBadRequest))
			return
		}
		window = parsed
	}
	refresh := false
	if raw := strings.TrimSpace(query.Get(dashboardRefreshParam)); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "refresh must be a boolean", http.StatusBadRequest))
			return
		}
		refresh = parsed
	}

	dashboard, err := dashboards.GetSellerDashboard(ctx, services.DashboardQuery{
		Actor:      actor,
		SellerID:   sellerID,
		WindowDays: window,
		Refresh:    refresh,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildDashboardPayload(dashboard))
}
