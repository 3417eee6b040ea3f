package handlers

import (
	"strings"

	"github.com/marketlane/api/internal/domain"
	"github.com/marketlane/api/internal/services"
)

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"nextPageToken,omitempty"`
}

type orderSummaryPayload struct {
	ID        string   `json:"id"`
	Status    string   `json:"status"`
	Currency  string   `json:"currency"`
	Total     string   `json:"total"`
	ItemCount int      `json:"itemCount"`
	SellerIDs []string `json:"sellerIds"`
	PlacedAt  string   `json:"placedAt"`
}

type orderPayload struct {
	ID                  string                `json:"id"`
	BuyerID             string                `json:"buyerId"`
	Status              string                `json:"status"`
	PaymentStatus       string                `json:"paymentStatus"`
	Currency            string                `json:"currency"`
	Totals              orderTotalsPayload    `json:"totals"`
	Items               []orderItemPayload    `json:"items"`
	SellerIDs           []string              `json:"sellerIds"`
	ShippingAddress     addressPayload        `json:"shippingAddress"`
	PlacedAt            string                `json:"placedAt"`
	EstimatedDeliveryAt string                `json:"estimatedDeliveryAt,omitempty"`
	DeliveredAt         string                `json:"deliveredAt,omitempty"`
	CancelledAt         string                `json:"cancelledAt,omitempty"`
	UpdatedAt           string                `json:"updatedAt,omitempty"`
	StatusHistory       []statusChangePayload `json:"statusHistory,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal string `json:"subtotal"`
	Shipping string `json:"shipping"`
	Tax      string `json:"tax"`
	Total    string `json:"total"`
}

type orderItemPayload struct {
	ProductID         string `json:"productId"`
	SellerID          string `json:"sellerId"`
	Name              string `json:"name"`
	Quantity          int    `json:"quantity"`
	UnitPrice         string `json:"unitPrice"`
	LineTotal         string `json:"lineTotal"`
	VariantLabel      string `json:"variantLabel,omitempty"`
	ImageURL          string `json:"imageUrl,omitempty"`
	DeliveryDelayDays int    `json:"deliveryDelayDays,omitempty"`
}

type addressPayload struct {
	FullName string `json:"fullName"`
	Address  string `json:"address"`
	Phone    string `json:"phone"`
}

type statusChangePayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	ActorID   string `json:"actorId"`
	ActorRole string `json:"actorRole"`
	At        string `json:"at"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	count := 0
	for _, item := range order.Items {
		count += item.Quantity
	}
	return orderSummaryPayload{
		ID:        order.ID,
		Status:    string(order.Status),
		Currency:  strings.ToUpper(order.Currency),
		Total:     order.Totals.Total.StringFixed(2),
		ItemCount: count,
		SellerIDs: append([]string{}, order.SellerIDs...),
		PlacedAt:  formatTime(order.PlacedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:            order.ID,
		BuyerID:       order.BuyerID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Currency:      strings.ToUpper(order.Currency),
		Totals: orderTotalsPayload{
			Subtotal: order.Totals.Subtotal.StringFixed(2),
			Shipping: order.Totals.Shipping.StringFixed(2),
			Tax:      order.Totals.Tax.StringFixed(2),
			Total:    order.Totals.Total.StringFixed(2),
		},
		Items:     make([]orderItemPayload, 0, len(order.Items)),
		SellerIDs: append([]string{}, order.SellerIDs...),
		ShippingAddress: addressPayload{
			FullName: order.ShippingAddress.FullName,
			Address:  order.ShippingAddress.Address,
			Phone:    order.ShippingAddress.Phone,
		},
		PlacedAt:            formatTime(order.PlacedAt),
		EstimatedDeliveryAt: formatTime(order.EstimatedDeliveryAt),
		DeliveredAt:         formatTimePtr(order.DeliveredAt),
		CancelledAt:         formatTimePtr(order.CancelledAt),
		UpdatedAt:           formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:         item.ProductID,
			SellerID:          item.SellerID,
			Name:              item.Name,
			Quantity:          item.Quantity,
			UnitPrice:         item.UnitPrice.StringFixed(2),
			LineTotal:         item.LineTotal().StringFixed(2),
			VariantLabel:      item.VariantLabel,
			ImageURL:          item.ImageURL,
			DeliveryDelayDays: item.DeliveryDelayDays,
		})
	}
	for _, change := range order.StatusHistory {
		payload.StatusHistory = append(payload.StatusHistory, statusChangePayload{
			From:      string(change.From),
			To:        string(change.To),
			ActorID:   change.ActorID,
			ActorRole: change.ActorRole,
			At:        formatTime(change.At),
		})
	}
	return payload
}

type productPayload struct {
	ID        string `json:"id"`
	SellerID  string `json:"sellerId"`
	Name      string `json:"name"`
	Price     string `json:"price"`
	Stock     int    `json:"stock"`
	Active    bool   `json:"active"`
	Approval  string `json:"approval"`
	ImageURL  string `json:"imageUrl,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

func buildProductPayload(product services.Product) productPayload {
	return productPayload{
		ID:        product.ID,
		SellerID:  product.SellerID,
		Name:      product.Name,
		Price:     product.Price.StringFixed(2),
		Stock:     product.Stock,
		Active:    product.Active,
		Approval:  string(product.Approval),
		ImageURL:  product.ImageURL,
		CreatedAt: formatTime(product.CreatedAt),
		UpdatedAt: formatTime(product.UpdatedAt),
	}
}

type storefrontProductPayload struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Price             string `json:"price"`
	InStock           bool   `json:"inStock"`
	ImageURL          string `json:"imageUrl,omitempty"`
	DeliveryDelayDays int    `json:"deliveryDelayDays"`
}

type visibilityPayload struct {
	ProductID         string `json:"productId"`
	Visible           bool   `json:"visible"`
	Reason            string `json:"reason,omitempty"`
	DeliveryDelayDays int    `json:"deliveryDelayDays"`
	At                string `json:"at"`
}

type availabilityPayload struct {
	SellerID      string `json:"sellerId"`
	Paused        bool   `json:"paused"`
	Mode          string `json:"mode"`
	HolidayDate   string `json:"holidayDate,omitempty"`
	VacationStart string `json:"vacationStart,omitempty"`
	VacationEnd   string `json:"vacationEnd,omitempty"`
	Handling      string `json:"handling"`
	ExtendDays    int    `json:"extendDays"`
	UpdatedAt     string `json:"updatedAt,omitempty"`
}

func buildAvailabilityPayload(record services.SellerAvailability) availabilityPayload {
	kind, holiday, start, end := domain.FormatMode(record.ModeOrNormal())
	handling := record.Handling.Kind
	if handling == "" {
		handling = domain.HandlingExtend
	}
	return availabilityPayload{
		SellerID:      record.SellerID,
		Paused:        record.Paused,
		Mode:          string(kind),
		HolidayDate:   holiday,
		VacationStart: start,
		VacationEnd:   end,
		Handling:      string(handling),
		ExtendDays:    record.Handling.ExtendDays,
		UpdatedAt:     formatTime(record.UpdatedAt),
	}
}

type dashboardPayload struct {
	SellerID          string                `json:"sellerId"`
	WindowDays        int                   `json:"windowDays"`
	From              string                `json:"from"`
	To                string                `json:"to"`
	Revenue           string                `json:"revenue"`
	ItemsSold         int                   `json:"itemsSold"`
	DistinctCustomers int                   `json:"distinctCustomers"`
	Daily             []dailySalesPayload   `json:"daily"`
	TopProducts       []productSalesPayload `json:"topProducts"`
	GeneratedAt       string                `json:"generatedAt"`
	Cached            bool                  `json:"cached"`
}

type dailySalesPayload struct {
	Date      string `json:"date"`
	Revenue   string `json:"revenue"`
	ItemsSold int    `json:"itemsSold"`
}

type productSalesPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Revenue   string `json:"revenue"`
	ItemsSold int    `json:"itemsSold"`
}

func buildDashboardPayload(dashboard services.SellerDashboard) dashboardPayload {
	payload := dashboardPayload{
		SellerID:          dashboard.SellerID,
		WindowDays:        dashboard.WindowDays,
		From:              dashboard.From.String(),
		To:                dashboard.To.String(),
		Revenue:           dashboard.Revenue.StringFixed(2),
		ItemsSold:         dashboard.ItemsSold,
		DistinctCustomers: dashboard.DistinctCustomers,
		Daily:             make([]dailySalesPayload, 0, len(dashboard.Daily)),
		TopProducts:       make([]productSalesPayload, 0, len(dashboard.TopProducts)),
		GeneratedAt:       formatTime(dashboard.GeneratedAt),
		Cached:            dashboard.Cached,
	}
	for _, day := range dashboard.Daily {
		payload.Daily = append(payload.Daily, dailySalesPayload{
			Date:      day.Date.String(),
			Revenue:   day.Revenue.StringFixed(2),
			ItemsSold: day.ItemsSold,
		})
	}
	for _, product := range dashboard.TopProducts {
		payload.TopProducts = append(payload.TopProducts, productSalesPayload{
			ProductID: product.ProductID,
			Name:      product.Name,
			Revenue:   product.Revenue.StringFixed(2),
			ItemsSold: product.ItemsSold,
		})
	}
	return payload
}
