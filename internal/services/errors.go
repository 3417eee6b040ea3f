package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/marketlane/api/internal/domain"
	"github.com/marketlane/api/internal/platform/pagination"
	"github.com/marketlane/api/internal/repositories"
)

var (
	// ErrValidation signals malformed or missing input. Callers should not retry unchanged.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock signals a ledger rejection; callers may retry with a smaller quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrProductUnavailable signals a missing or hidden product at checkout.
	ErrProductUnavailable = errors.New("product currently unavailable")
	// ErrForbidden signals the actor may not perform the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound signals a missing entity.
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a lost race; safe to retry once after re-reading.
	ErrConflict = errors.New("conflict")
	// ErrStoreUnavailable signals an infrastructure failure that survived store-level retries.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidStatus is an unknown target status.
	ErrInvalidStatus = fmt.Errorf("%w: invalid status", ErrValidation)
	// ErrInvalidTransition is a known status that cannot be reached from the current one.
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", ErrConflict)
)

// StockError reports the product and counts behind an insufficient stock rejection.
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("InsufficientStock: %s (requested %d, available %d)", e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// UnavailableError reports a product that cannot be ordered right now and why.
type UnavailableError struct {
	ProductID string
	Reason    domain.VisibilityReason
}

func (e *UnavailableError) Error() string {
	return "Product currently unavailable: " + e.ProductID
}

func (e *UnavailableError) Unwrap() error { return ErrProductUnavailable }

// mapRepositoryError folds store failures onto the service error taxonomy. Errors that already
// belong to the taxonomy pass through.
func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if isTaxonomyError(err) {
		return err
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return &StockError{ProductID: invErr.ProductID, Requested: invErr.Requested, Available: invErr.Available}
		case repositories.InventoryErrorProductNotFound:
			return &UnavailableError{ProductID: invErr.ProductID, Reason: domain.VisibilityReasonNotFound}
		case repositories.InventoryErrorInvalidQuantity:
			return fmt.Errorf("%w: %s", ErrValidation, invErr.Error())
		}
	}

	if errors.Is(err, pagination.ErrInvalidPageToken) || errors.Is(err, pagination.ErrInvalidPageSize) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if repoErr, ok := repositories.AsRepositoryError(err); ok {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func isTaxonomyError(err error) bool {
	for _, target := range []error{
		ErrValidation, ErrInsufficientStock, ErrProductUnavailable, ErrForbidden,
		ErrNotFound, ErrConflict, ErrStoreUnavailable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// RejectionReason names the taxonomy bucket of err for metrics and logs.
func RejectionReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrProductUnavailable):
		return "product_unavailable"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "store_unavailable"
	}
}
