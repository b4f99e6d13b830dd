package models

import (
	"time"

	"bitbucket.org/mmdatafocus/dairy_backend/ledger"
	"bitbucket.org/mmdatafocus/dairy_backend/utils"
	"github.com/shopspring/decimal"
)

// PaymentRecord is a derived side-effect entity. OrderId is a weak
// back-reference, never an ownership relation: deleting an order does not
// cascade here. At most one record should exist per non-empty OrderId,
// enforced by check-then-insert rather than a uniqueness constraint.
type PaymentRecord struct {
	ID           string          `json:"id,omitempty"`
	OrderId      string          `json:"orderId"`
	CustomerName string          `json:"customerName"`
	Amount       decimal.Decimal `json:"amount"`
	Type         PaymentType     `json:"type"`
	Status       PaymentStatus   `json:"status"`
	Date         string          `json:"date"`
	CreatedAt    time.Time       `json:"createdAt,omitempty"`
}

func (p PaymentRecord) ToDocument() ledger.Document {
	return structToDocument(p)
}

func PaymentFromDocument(doc ledger.Document) PaymentRecord {
	raw := RawOrderDocument(doc)
	rec := PaymentRecord{
		ID:           doc.ID(),
		OrderId:      raw.FirstString("orderId", "order_id"),
		CustomerName: raw.FirstString("customerName", "customer_name"),
		Amount:       utils.ParseNumeric(raw.FirstValue("amount")),
		Date:         raw.FirstString("date"),
	}
	if typ := PaymentType(raw.FirstString("type")); typ.Valid() {
		rec.Type = typ
	} else {
		rec.Type = PaymentTypeOffline
	}
	if st := PaymentStatus(raw.FirstString("status")); st.Valid() {
		rec.Status = st
	} else {
		rec.Status = PaymentStatusPending
	}
	if t, ok := raw.FirstTime("createdAt"); ok {
		rec.CreatedAt = t
	}
	return rec
}

// NewPayment is the manual-correction create input.
type NewPayment struct {
	OrderId      string          `json:"orderId"`
	CustomerName string          `json:"customerName"`
	Amount       decimal.Decimal `json:"amount"`
	Type         PaymentType     `json:"type" validate:"omitempty,oneof=online offline"`
	Status       PaymentStatus   `json:"status" validate:"omitempty,oneof=completed pending"`
	Date         string          `json:"date"`
}
