package repositories

import domain "github.com/marketlane/api/internal/domain"

// ApplyTransition writes the status change, its timestamps and the audit entry onto order. Every
// store calls it inside its own atomic unit after the expected-status check.
func ApplyTransition(order *domain.Order, t OrderTransition) {
	at := t.At.UTC()
	order.Status = t.Next
	order.UpdatedAt = at

	switch t.Next {
	case domain.OrderStatusDelivered:
		if order.DeliveredAt == nil {
			order.DeliveredAt = &at
		}
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &at
		}
	}
	if t.RestoreInventory {
		order.InventoryRestored = true
	}

	change := t.Change
	change.From = t.Expected
	change.To = t.Next
	if change.At.IsZero() {
		change.At = at
	}
	order.StatusHistory = append(order.StatusHistory, change)
}
