package repositories

import "fmt"

// InventoryErrorCode enumerates ledger failure causes.
type InventoryErrorCode string

const (
	// InventoryErrorInsufficientStock indicates the requested quantity exceeds stock.
	InventoryErrorInsufficientStock InventoryErrorCode = "insufficient_stock"
	// InventoryErrorProductNotFound indicates the product document does not exist.
	InventoryErrorProductNotFound InventoryErrorCode = "product_not_found"
	// InventoryErrorInvalidQuantity indicates a non-positive quantity.
	InventoryErrorInvalidQuantity InventoryErrorCode = "invalid_quantity"
)

// InventoryError carries the product and counts involved in a rejected ledger operation.
type InventoryError struct {
	Op        string
	Code      InventoryErrorCode
	ProductID string
	Requested int
	Available int
}

var _ RepositoryError = (*InventoryError)(nil)

// NewInventoryError constructs a typed inventory error.
func NewInventoryError(code InventoryErrorCode, productID string, requested, available int) *InventoryError {
	return &InventoryError{Code: code, ProductID: productID, Requested: requested, Available: available}
}

func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	var msg string
	switch e.Code {
	case InventoryErrorInsufficientStock:
		msg = fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
	case InventoryErrorProductNotFound:
		msg = fmt.Sprintf("product %s not found", e.ProductID)
	default:
		msg = fmt.Sprintf("%s for %s (%d)", e.Code, e.ProductID, e.Requested)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *InventoryError) IsNotFound() bool    { return e != nil && e.Code == InventoryErrorProductNotFound }
func (e *InventoryError) IsConflict() bool    { return false }
func (e *InventoryError) IsUnavailable() bool { return false }
