package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/marketlane/api/internal/platform/pagination"
	"github.com/marketlane/api/internal/repositories"
)

func TestMapRepositoryError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		want   error
		reason string
	}{
		{name: "not found", err: repositories.NewNotFoundError("orders.get", "missing"), want: ErrNotFound, reason: "not_found"},
		{name: "conflict", err: repositories.NewConflictError("orders.transition", "stale"), want: ErrConflict, reason: "conflict"},
		{name: "unavailable", err: repositories.NewUnavailableError("orders.get", errors.New("dial")), want: ErrStoreUnavailable, reason: "store_unavailable"},
		{name: "unknown", err: errors.New("boom"), want: ErrStoreUnavailable, reason: "store_unavailable"},
		{name: "deadline", err: fmt.Errorf("read: %w", context.DeadlineExceeded), want: ErrStoreUnavailable, reason: "store_unavailable"},
		{name: "page token", err: fmt.Errorf("%w: bad", pagination.ErrInvalidPageToken), want: ErrValidation, reason: "validation"},
		{name: "stock", err: repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, "prd_a", 3, 1), want: ErrInsufficientStock, reason: "insufficient_stock"},
		{name: "missing product", err: repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, "prd_a", 1, 0), want: ErrProductUnavailable, reason: "product_unavailable"},
		{name: "bad quantity", err: repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, "prd_a", 0, 0), want: ErrValidation, reason: "validation"},
		{name: "taxonomy passes through", err: fmt.Errorf("%w: nope", ErrForbidden), want: ErrForbidden, reason: "forbidden"},
	}
	for _, tc := range cases {
		got := mapRepositoryError(tc.err)
		if !errors.Is(got, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
		if reason := RejectionReason(got); reason != tc.reason {
			t.Fatalf("%s: expected reason %s, got %s", tc.name, tc.reason, reason)
		}
	}
	if mapRepositoryError(nil) != nil {
		t.Fatal("nil must stay nil")
	}
}

func TestStockErrorCarriesCounts(t *testing.T) {
	err := mapRepositoryError(repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, "prd_a", 3, 1))
	var stockErr *StockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected StockError, got %T", err)
	}
	if stockErr.Requested != 3 || stockErr.Available != 1 {
		t.Fatalf("unexpected counts %+v", stockErr)
	}
	if err.Error() != "InsufficientStock: prd_a (requested 3, available 1)" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestInvalidTransitionIsConflict(t *testing.T) {
	if !errors.Is(ErrInvalidTransition, ErrConflict) || !errors.Is(ErrInvalidStatus, ErrValidation) {
		t.Fatal("sentinel hierarchy broken")
	}
}
