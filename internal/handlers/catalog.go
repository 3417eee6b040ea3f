package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marketlane/api/internal/platform/httpx"
	"github.com/marketlane/api/internal/services"
)

// CatalogHandlers serves the public storefront reads.
type CatalogHandlers struct {
	catalog services.CatalogService
	clock   func() time.Time
}

// NewCatalogHandlers constructs storefront handlers. clock may be nil.
func NewCatalogHandlers(catalog services.CatalogService, clock func() time.Time) *CatalogHandlers {
	if clock == nil {
		clock = time.Now
	}
	return &CatalogHandlers{catalog: catalog, clock: clock}
}

// Routes registers /products/{productID}/visibility and /sellers/{sellerID}/products.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products/{productID}/visibility", h.visibility)
	r.Get("/sellers/{sellerID}/products", h.sellerProducts)
}

func (h *CatalogHandlers) visibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "catalog")
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))

	at := h.clock()
	if raw := strings.TrimSpace(r.URL.Query().Get("at")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "at must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		at = parsed
	}

	result, err := h.catalog.ResolveVisibility(ctx, productID, at)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, visibilityPayload{
		ProductID:         productID,
		Visible:           result.Visible,
		Reason:            string(result.Reason),
		DeliveryDelayDays: result.DeliveryDelayDays,
		At:                formatTime(at),
	})
}

func (h *CatalogHandlers) sellerProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "catalog")
		return
	}
	sellerID := strings.TrimSpace(chi.URLParam(r, "sellerID"))

	listing, err := h.catalog.ListSellerProducts(ctx, sellerID, h.clock())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]storefrontProductPayload, 0, len(listing))
	for _, entry := range listing {
		items = append(items, storefrontProductPayload{
			ID:                entry.Product.ID,
			Name:              entry.Product.Name,
			Price:             entry.Product.Price.StringFixed(2),
			InStock:           entry.Product.Stock > 0,
			ImageURL:          entry.Product.ImageURL,
			DeliveryDelayDays: entry.DeliveryDelayDays,
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"sellerId": sellerID, "items": items})
}
