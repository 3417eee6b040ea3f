package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/marketlane/api/internal/domain"
	"github.com/marketlane/api/internal/platform/auth"
	"github.com/marketlane/api/internal/platform/httpx"
	"github.com/marketlane/api/internal/platform/validation"
	"github.com/marketlane/api/internal/services"
)

const defaultMaxBodySize = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body exceeds allowed size")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeRequest reads, unmarshals and validates a JSON body into dst. It writes the error response
// itself and reports whether the handler may continue.
func decodeRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, v *validation.Validator, limit int64, dst any) bool {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", err.Error(), http.StatusRequestEntityTooLarge))
			return false
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	if v == nil {
		return true
	}
	if err := v.Struct(dst); err != nil {
		apiErr := httpx.NewError("validation_failed", err.Error(), http.StatusBadRequest)
		var fieldErrs *validation.FieldErrors
		if errors.As(err, &fieldErrs) {
			apiErr = apiErr.WithDetails(map[string]any{"fields": fieldErrs.Fields})
		}
		httpx.WriteError(ctx, w, apiErr)
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// requireActor resolves the authenticated caller, writing 401 when there is none.
func requireActor(ctx context.Context, w http.ResponseWriter) (domain.Actor, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return domain.Actor{}, false
	}
	return identity.Actor(), true
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

// writeServiceError maps the service error taxonomy onto HTTP responses.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var stockErr *services.StockError
	var unavailableErr *services.UnavailableError
	switch {
	case errors.As(err, &stockErr):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", stockErr.Error(), http.StatusConflict).WithDetails(map[string]any{
			"productId": stockErr.ProductID,
			"requested": stockErr.Requested,
			"available": stockErr.Available,
		}))
	case errors.As(err, &unavailableErr):
		apiErr := httpx.NewError("product_unavailable", unavailableErr.Error(), http.StatusConflict)
		details := map[string]any{"productId": unavailableErr.ProductID}
		if unavailableErr.Reason != "" {
			details["reason"] = string(unavailableErr.Reason)
		}
		httpx.WriteError(ctx, w, apiErr.WithDetails(details))
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "operation not permitted for this caller", http.StatusForbidden))
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "resource changed concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrStoreUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("store_unavailable", "storage temporarily unavailable", http.StatusServiceUnavailable).WithRetryAfter(time.Second))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
