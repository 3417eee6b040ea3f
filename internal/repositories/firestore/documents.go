package firestore

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/marketlane/api/internal/domain"
)

// Money is stored as decimal strings so totals survive the round trip exactly.

type productDocument struct {
	SellerID  string    `firestore:"sellerId"`
	Name      string    `firestore:"name"`
	Price     string    `firestore:"price"`
	Stock     int       `firestore:"stock"`
	Active    bool      `firestore:"active"`
	Approval  string    `firestore:"approval"`
	ImageURL  string    `firestore:"imageUrl,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func newProductDocument(p domain.Product) productDocument {
	return productDocument{
		SellerID:  strings.TrimSpace(p.SellerID),
		Name:      p.Name,
		Price:     p.Price.String(),
		Stock:     p.Stock,
		Active:    p.Active,
		Approval:  string(p.Approval),
		ImageURL:  strings.TrimSpace(p.ImageURL),
		CreatedAt: p.CreatedAt.UTC(),
		UpdatedAt: p.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) (domain.Product, error) {
	price, err := parseMoney(d.Price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s price: %w", id, err)
	}
	return domain.Product{
		ID:        id,
		SellerID:  d.SellerID,
		Name:      d.Name,
		Price:     price,
		Stock:     d.Stock,
		Active:    d.Active,
		Approval:  domain.ApprovalStatus(d.Approval),
		ImageURL:  d.ImageURL,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

type orderItemDocument struct {
	ProductID         string `firestore:"productId"`
	SellerID          string `firestore:"sellerId"`
	Name              string `firestore:"name"`
	Quantity          int    `firestore:"qty"`
	UnitPrice         string `firestore:"unitPrice"`
	VariantLabel      string `firestore:"variantLabel,omitempty"`
	ImageURL          string `firestore:"imageUrl,omitempty"`
	DeliveryDelayDays int    `firestore:"deliveryDelayDays"`
}

type addressDocument struct {
	FullName string `firestore:"fullName"`
	Address  string `firestore:"address"`
	Phone    string `firestore:"phone"`
}

type statusChangeDocument struct {
	From      string    `firestore:"from"`
	To        string    `firestore:"to"`
	ActorID   string    `firestore:"actorId"`
	ActorRole string    `firestore:"actorRole"`
	At        time.Time `firestore:"at"`
}

type orderDocument struct {
	BuyerID             string                 `firestore:"buyerId"`
	SellerIDs           []string               `firestore:"sellerIds"`
	Items               []orderItemDocument    `firestore:"items"`
	Currency            string                 `firestore:"currency"`
	Subtotal            string                 `firestore:"subtotal"`
	Shipping            string                 `firestore:"shipping"`
	Tax                 string                 `firestore:"tax"`
	Total               string                 `firestore:"total"`
	Status              string                 `firestore:"status"`
	PaymentStatus       string                 `firestore:"paymentStatus"`
	ShippingAddress     addressDocument        `firestore:"shippingAddress"`
	PlacedAt            time.Time              `firestore:"placedAt"`
	EstimatedDeliveryAt time.Time              `firestore:"estimatedDeliveryAt"`
	DeliveredAt         *time.Time             `firestore:"deliveredAt,omitempty"`
	CancelledAt         *time.Time             `firestore:"cancelledAt,omitempty"`
	InventoryRestored   bool                   `firestore:"inventoryRestored"`
	StatusHistory       []statusChangeDocument `firestore:"statusHistory"`
	UpdatedAt           time.Time              `firestore:"updatedAt"`
}

func newOrderDocument(o domain.Order) orderDocument {
	items := make([]orderItemDocument, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemDocument{
			ProductID:         item.ProductID,
			SellerID:          item.SellerID,
			Name:              item.Name,
			Quantity:          item.Quantity,
			UnitPrice:         item.UnitPrice.String(),
			VariantLabel:      item.VariantLabel,
			ImageURL:          item.ImageURL,
			DeliveryDelayDays: item.DeliveryDelayDays,
		}
	}
	history := make([]statusChangeDocument, len(o.StatusHistory))
	for i, change := range o.StatusHistory {
		history[i] = statusChangeDocument{
			From:      string(change.From),
			To:        string(change.To),
			ActorID:   change.ActorID,
			ActorRole: change.ActorRole,
			At:        change.At.UTC(),
		}
	}
	return orderDocument{
		BuyerID:       o.BuyerID,
		SellerIDs:     append([]string(nil), o.SellerIDs...),
		Items:         items,
		Currency:      o.Currency,
		Subtotal:      o.Totals.Subtotal.String(),
		Shipping:      o.Totals.Shipping.String(),
		Tax:           o.Totals.Tax.String(),
		Total:         o.Totals.Total.String(),
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		ShippingAddress: addressDocument{
			FullName: o.ShippingAddress.FullName,
			Address:  o.ShippingAddress.Address,
			Phone:    o.ShippingAddress.Phone,
		},
		PlacedAt:            o.PlacedAt.UTC(),
		EstimatedDeliveryAt: o.EstimatedDeliveryAt.UTC(),
		DeliveredAt:         utcPtr(o.DeliveredAt),
		CancelledAt:         utcPtr(o.CancelledAt),
		InventoryRestored:   o.InventoryRestored,
		StatusHistory:       history,
		UpdatedAt:           o.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		price, err := parseMoney(item.UnitPrice)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s item %d price: %w", id, i, err)
		}
		items[i] = domain.OrderItem{
			ProductID:         item.ProductID,
			SellerID:          item.SellerID,
			Name:              item.Name,
			Quantity:          item.Quantity,
			UnitPrice:         price,
			VariantLabel:      item.VariantLabel,
			ImageURL:          item.ImageURL,
			DeliveryDelayDays: item.DeliveryDelayDays,
		}
	}

	var totals domain.OrderTotals
	for _, field := range []struct {
		name  string
		raw   string
		value *decimal.Decimal
	}{
		{"subtotal", d.Subtotal, &totals.Subtotal},
		{"shipping", d.Shipping, &totals.Shipping},
		{"tax", d.Tax, &totals.Tax},
		{"total", d.Total, &totals.Total},
	} {
		parsed, err := parseMoney(field.raw)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s %s: %w", id, field.name, err)
		}
		*field.value = parsed
	}

	history := make([]domain.StatusChange, len(d.StatusHistory))
	for i, change := range d.StatusHistory {
		history[i] = domain.StatusChange{
			From:      domain.OrderStatus(change.From),
			To:        domain.OrderStatus(change.To),
			ActorID:   change.ActorID,
			ActorRole: change.ActorRole,
			At:        change.At,
		}
	}

	return domain.Order{
		ID:            id,
		BuyerID:       d.BuyerID,
		Items:         items,
		SellerIDs:     d.SellerIDs,
		Currency:      d.Currency,
		Totals:        totals,
		Status:        domain.OrderStatus(d.Status),
		PaymentStatus: domain.PaymentStatus(d.PaymentStatus),
		ShippingAddress: domain.ShippingAddress{
			FullName: d.ShippingAddress.FullName,
			Address:  d.ShippingAddress.Address,
			Phone:    d.ShippingAddress.Phone,
		},
		PlacedAt:            d.PlacedAt,
		EstimatedDeliveryAt: d.EstimatedDeliveryAt,
		DeliveredAt:         d.DeliveredAt,
		CancelledAt:         d.CancelledAt,
		InventoryRestored:   d.InventoryRestored,
		StatusHistory:       history,
		UpdatedAt:           d.UpdatedAt,
	}, nil
}

type availabilityDocument struct {
	Paused        bool      `firestore:"paused"`
	Mode          string    `firestore:"mode"`
	HolidayDate   string    `firestore:"holidayDate,omitempty"`
	VacationStart string    `firestore:"vacationStart,omitempty"`
	VacationEnd   string    `firestore:"vacationEnd,omitempty"`
	Handling      string    `firestore:"handling"`
	ExtendDays    int       `firestore:"extendDays"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func newAvailabilityDocument(a domain.SellerAvailability) availabilityDocument {
	kind, holiday, start, end := domain.FormatMode(a.ModeOrNormal())
	return availabilityDocument{
		Paused:        a.Paused,
		Mode:          string(kind),
		HolidayDate:   holiday,
		VacationStart: start,
		VacationEnd:   end,
		Handling:      string(a.Handling.Kind),
		ExtendDays:    a.Handling.ExtendDays,
		UpdatedAt:     a.UpdatedAt.UTC(),
	}
}

func (d availabilityDocument) toDomain(sellerID string) (domain.SellerAvailability, error) {
	mode, err := domain.ParseMode(d.Mode, d.HolidayDate, d.VacationStart, d.VacationEnd)
	if err != nil {
		return domain.SellerAvailability{}, fmt.Errorf("availability %s: %w", sellerID, err)
	}
	handling, err := domain.ParseHandling(d.Handling)
	if err != nil {
		return domain.SellerAvailability{}, fmt.Errorf("availability %s: %w", sellerID, err)
	}
	return domain.SellerAvailability{
		SellerID:  sellerID,
		Paused:    d.Paused,
		Mode:      mode,
		Handling:  domain.HandlingPolicy{Kind: handling, ExtendDays: d.ExtendDays},
		UpdatedAt: d.UpdatedAt,
	}, nil
}

func parseMoney(raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(strings.TrimSpace(raw))
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
