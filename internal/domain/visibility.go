package domain

import (
	"time"

	"cloud.google.com/go/civil"
)

// VisibilityReason explains why a product is hidden or delayed.
type VisibilityReason string

const (
	VisibilityReasonNone          VisibilityReason = ""
	VisibilityReasonInactive      VisibilityReason = "inactive"
	VisibilityReasonNotApproved   VisibilityReason = "not_approved"
	VisibilityReasonSellerPaused  VisibilityReason = "seller_paused"
	VisibilityReasonHoliday       VisibilityReason = "holiday"
	VisibilityReasonVacation      VisibilityReason = "vacation"
	VisibilityReasonNotFound      VisibilityReason = "not_found"
	VisibilityReasonSellerChanged VisibilityReason = "seller_changed"
)

// Visibility is the resolver outcome for one product at one instant.
type Visibility struct {
	Visible           bool
	Reason            VisibilityReason
	DeliveryDelayDays int
}

// ResolveVisibility decides whether a product is orderable at now and how much extra delivery
// time must be quoted. A nil availability is treated as DefaultAvailability. The calendar date is
// taken in now's location, so callers pass now already converted to the store timezone.
func ResolveVisibility(product Product, availability *SellerAvailability, now time.Time) Visibility {
	if !product.Active {
		return Visibility{Reason: VisibilityReasonInactive}
	}
	if product.Approval != ApprovalApproved {
		return Visibility{Reason: VisibilityReasonNotApproved}
	}

	state := DefaultAvailability(product.SellerID)
	if availability != nil {
		state = *availability
	}
	if state.Paused {
		return Visibility{Reason: VisibilityReasonSellerPaused}
	}

	mode := state.ModeOrNormal()
	if !mode.Covers(civil.DateOf(now)) {
		return Visibility{Visible: true}
	}

	reason := VisibilityReasonHoliday
	if mode.Kind() == ModeVacation {
		reason = VisibilityReasonVacation
	}
	if state.Handling.Kind == HandlingPause {
		return Visibility{Reason: reason}
	}

	delay := state.Handling.ExtendDays
	if delay < 0 {
		delay = 0
	}
	return Visibility{Visible: true, Reason: reason, DeliveryDelayDays: delay}
}
