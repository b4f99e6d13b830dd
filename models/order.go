package models

import (
	"time"

	"bitbucket.org/mmdatafocus/dairy_backend/ledger"
	"bitbucket.org/mmdatafocus/dairy_backend/utils"
	"github.com/shopspring/decimal"
)

const (
	defaultItemCategory = "Milk & Dairy Products"
	defaultItemName     = "Milk Order"
)

type OrderItem struct {
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	BasePrice decimal.Decimal `json:"basePrice"`
}

// CanonicalOrder is the single normalized order shape used by all downstream
// logic. It is a projection derived fresh on every read of a raw document,
// not a separately stored entity, except where our own write path produces
// already-canonical documents.
type CanonicalOrder struct {
	ID              string          `json:"id,omitempty"`
	CustomerName    string          `json:"customerName"`
	CustomerPhone   string          `json:"customerPhone"`
	CustomerAddress string          `json:"customerAddress"`
	LocationLink    string          `json:"locationLink,omitempty"`
	OrderItems      []OrderItem     `json:"orderItems"`
	Quantity        decimal.Decimal `json:"quantity"`
	PricePerLiter   decimal.Decimal `json:"pricePerLiter"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Status          OrderStatus     `json:"status"`
	OrderDate       string          `json:"orderDate"`
	OrderTime       string          `json:"orderTime,omitempty"`
	DeliveryDate    string          `json:"deliveryDate,omitempty"`
	DeliveryTime    string          `json:"deliveryTime,omitempty"`
	PaymentMethod   string          `json:"paymentMethod,omitempty"`
	PaymentType     PaymentType     `json:"paymentType"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	CompletedTime   *time.Time      `json:"completedTime,omitempty"`
	CancelledTime   *time.Time      `json:"cancelledTime,omitempty"`
}

func (o CanonicalOrder) ToDocument() ledger.Document {
	return structToDocument(o)
}

// DayKey returns the calendar-day key of the order's stated date, falling
// back to its creation timestamp.
func (o CanonicalOrder) DayKey() string {
	if o.OrderDate != "" {
		if t, err := utils.ParseDayKey(o.OrderDate); err == nil {
			return utils.DayKey(t)
		}
	}
	if !o.CreatedAt.IsZero() {
		return utils.DayKey(o.CreatedAt)
	}
	return ""
}

// NewOrder is the consumer-facing create input. Field names match the
// canonical JSON keys so the same normalization path that cleans upstream
// documents also finalizes consumer input.
type NewOrder struct {
	CustomerName    string          `json:"customerName"`
	CustomerPhone   string          `json:"customerPhone"`
	CustomerAddress string          `json:"customerAddress"`
	LocationLink    string          `json:"locationLink"`
	OrderItems      []NewOrderItem  `json:"orderItems" validate:"dive"`
	Quantity        decimal.Decimal `json:"quantity"`
	PricePerLiter   decimal.Decimal `json:"pricePerLiter"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Status          OrderStatus     `json:"status" validate:"omitempty,oneof=pending completed cancelled"`
	OrderDate       string          `json:"orderDate"`
	DeliveryDate    string          `json:"deliveryDate"`
	DeliveryTime    string          `json:"deliveryTime"`
	PaymentMethod   string          `json:"paymentMethod"`
	PaymentType     PaymentType     `json:"paymentType" validate:"omitempty,oneof=online offline"`
	Notes           string          `json:"notes"`
}

type NewOrderItem struct {
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	BasePrice decimal.Decimal `json:"basePrice"`
}

func (input NewOrder) ToDocument() ledger.Document {
	return structToDocument(input)
}

// UpdateOrder carries the consumer-facing partial update; nil fields are left
// untouched.
type UpdateOrder struct {
	CustomerName    *string          `json:"customerName"`
	CustomerPhone   *string          `json:"customerPhone"`
	CustomerAddress *string          `json:"customerAddress"`
	OrderItems      *[]NewOrderItem  `json:"orderItems"`
	Quantity        *decimal.Decimal `json:"quantity"`
	PricePerLiter   *decimal.Decimal `json:"pricePerLiter"`
	TotalAmount     *decimal.Decimal `json:"totalAmount"`
	Status          *OrderStatus     `json:"status" validate:"omitempty,oneof=pending completed cancelled"`
	DeliveryDate    *string          `json:"deliveryDate"`
	DeliveryTime    *string          `json:"deliveryTime"`
	PaymentMethod   *string          `json:"paymentMethod"`
	PaymentType     *PaymentType     `json:"paymentType" validate:"omitempty,oneof=online offline"`
	Notes           *string          `json:"notes"`
}
