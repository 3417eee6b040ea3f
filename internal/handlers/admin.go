package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/marketlane/api/internal/domain"
	"github.com/marketlane/api/internal/platform/auth"
	"github.com/marketlane/api/internal/platform/httpx"
	"github.com/marketlane/api/internal/platform/validation"
	"github.com/marketlane/api/internal/services"
)

const maxAdminBodySize = 1024

type approvalRequest struct {
	Approval string `json:"approval" validate:"oneof=pending approved rejected"`
}

// AdminHandlers exposes moderation and cross-seller reporting to operators.
type AdminHandlers struct {
	authn      *auth.Authenticator
	catalog    services.CatalogService
	dashboards services.DashboardService
	validator  *validation.Validator
}

// NewAdminHandlers constructs admin handlers guarded by the admin role.
func NewAdminHandlers(authn *auth.Authenticator, catalog services.CatalogService, dashboards services.DashboardService) *AdminHandlers {
	return &AdminHandlers{
		authn:      authn,
		catalog:    catalog,
		dashboards: dashboards,
		validator:  validation.New(),
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Get("/sellers/{sellerID}/dashboard", h.sellerDashboard)
	r.Put("/products/{productID}/approval", h.setApproval)
}

func (h *AdminHandlers) sellerDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	sellerID := strings.TrimSpace(chi.URLParam(r, "sellerID"))
	if sellerID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "seller id is required", http.StatusBadRequest))
		return
	}
	serveDashboard(ctx, w, r, h.dashboards, actor, sellerID)
}

func (h *AdminHandlers) setApproval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "catalog")
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	var req approvalRequest
	if !decodeRequest(ctx, w, r, h.validator, maxAdminBodySize, &req) {
		return
	}

	product, err := h.catalog.SetApproval(ctx, services.SetApprovalCommand{
		Actor:     actor,
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		Approval:  domain.ApprovalStatus(req.Approval),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"product": buildProductPayload(product)})
}
