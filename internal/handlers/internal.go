package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marketlane/api/internal/platform/auth"
	"github.com/marketlane/api/internal/platform/httpx"
	"github.com/marketlane/api/internal/platform/idempotency"
	"github.com/marketlane/api/internal/services"
)

const (
	defaultCleanupBatchSize = 200
	maxCleanupBatches       = 50
	schedulerActorPrefix    = "svc:"
)

// InternalHandlers serves maintenance endpoints triggered by Cloud Scheduler.
type InternalHandlers struct {
	idempotency idempotency.Store
	dashboards  services.DashboardService
	clock       func() time.Time
	batchSize   int
	logger      func(ctx context.Context, event string, fields map[string]any)
}

// InternalHandlersDeps bundles collaborators for the internal endpoints.
type InternalHandlersDeps struct {
	Idempotency idempotency.Store
	Dashboards  services.DashboardService
	Clock       func() time.Time
	BatchSize   int
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// NewInternalHandlers constructs the maintenance handlers. Authentication is applied by the router.
func NewInternalHandlers(deps InternalHandlersDeps) *InternalHandlers {
	h := &InternalHandlers{
		idempotency: deps.Idempotency,
		dashboards:  deps.Dashboards,
		clock:       deps.Clock,
		batchSize:   deps.BatchSize,
		logger:      deps.Logger,
	}
	if h.clock == nil {
		h.clock = time.Now
	}
	if h.batchSize <= 0 {
		h.batchSize = defaultCleanupBatchSize
	}
	if h.logger == nil {
		h.logger = func(context.Context, string, map[string]any) {}
	}
	return h
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/maintenance/idempotency-cleanup", h.cleanupIdempotency)
	r.Post("/dashboards/{sellerID}/refresh", h.refreshDashboard)
}

func (h *InternalHandlers) cleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.idempotency == nil {
		writeUnavailable(ctx, w, "idempotency")
		return
	}

	now := h.clock().UTC()
	deleted := 0
	for batch := 0; batch < maxCleanupBatches; batch++ {
		n, err := h.idempotency.CleanupExpired(ctx, now, h.batchSize)
		deleted += n
		if err != nil {
			h.logger(ctx, "idempotency_cleanup_failed", map[string]any{"deleted": deleted, "error": err.Error()})
			httpx.WriteError(ctx, w, httpx.NewError("cleanup_failed", "idempotency cleanup failed", http.StatusServiceUnavailable).WithDetails(map[string]any{"deleted": deleted}))
			return
		}
		if n < h.batchSize {
			break
		}
	}
	h.logger(ctx, "idempotency_cleanup_completed", map[string]any{"deleted": deleted})
	writeJSONResponse(w, http.StatusOK, map[string]any{"deleted": deleted})
}

// refreshDashboard recomputes every window for the seller, bypassing the cache.
func (h *InternalHandlers) refreshDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.dashboards == nil {
		writeUnavailable(ctx, w, "dashboard")
		return
	}
	sellerID := strings.TrimSpace(chi.URLParam(r, "sellerID"))
	if sellerID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "seller id is required", http.StatusBadRequest))
		return
	}

	caller := "scheduler"
	if identity, ok := auth.ServiceIdentityFromContext(ctx); ok {
		caller = firstNonEmpty(identity.Email, identity.Subject, caller)
	}
	actor := services.Actor{ID: schedulerActorPrefix + caller, IsAdmin: true}

	refreshed := make([]int, 0, len(services.DashboardWindows))
	for _, window := range services.DashboardWindows {
		if _, err := h.dashboards.GetSellerDashboard(ctx, services.DashboardQuery{
			Actor:      actor,
			SellerID:   sellerID,
			WindowDays: window,
			Refresh:    true,
		}); err != nil {
			h.logger(ctx, "dashboard_refresh_failed", map[string]any{"sellerId": sellerID, "window": window, "error": err.Error()})
			writeServiceError(ctx, w, err)
			return
		}
		refreshed = append(refreshed, window)
	}
	h.logger(ctx, "dashboard_refreshed", map[string]any{"sellerId": sellerID, "caller": caller})
	writeJSONResponse(w, http.StatusOK, map[string]any{"sellerId": sellerID, "windows": refreshed})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
