package models

import (
	"time"

	"bitbucket.org/mmdatafocus/dairy_backend/ledger"
	"bitbucket.org/mmdatafocus/dairy_backend/utils"
	"github.com/shopspring/decimal"
)

// InventoryRecord is one calendar day of stock movement, keyed by Date.
// StockRemaining may go negative: that is an unfulfilled backlog (oversold
// stock pending replenishment), not an error. The stockRemaining ==
// stockReceived - stockSold invariant is best effort only; nothing enforces
// it atomically across concurrent writers.
type InventoryRecord struct {
	ID             string          `json:"id,omitempty"`
	Date           string          `json:"date"`
	StockReceived  decimal.Decimal `json:"stockReceived"`
	StockSold      decimal.Decimal `json:"stockSold"`
	StockRemaining decimal.Decimal `json:"stockRemaining"`
	BuyingPrice    decimal.Decimal `json:"buyingPrice"`
	SellingPrice   decimal.Decimal `json:"sellingPrice"`
	CreatedAt      time.Time       `json:"createdAt,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt,omitempty"`
}

func (r InventoryRecord) ToDocument() ledger.Document {
	return structToDocument(r)
}

// InventoryFromDocument tolerantly parses a stored inventory document.
// Numeric fields degrade to zero rather than failing.
func InventoryFromDocument(doc ledger.Document) InventoryRecord {
	raw := RawOrderDocument(doc)
	rec := InventoryRecord{
		ID:             doc.ID(),
		Date:           raw.FirstString("date"),
		StockReceived:  utils.ParseNumeric(raw.FirstValue("stockReceived")),
		StockSold:      utils.ParseNumeric(raw.FirstValue("stockSold")),
		StockRemaining: utils.ParseNumeric(raw.FirstValue("stockRemaining")),
		BuyingPrice:    utils.ParseNumeric(raw.FirstValue("buyingPrice")),
		SellingPrice:   utils.ParseNumeric(raw.FirstValue("sellingPrice")),
	}
	if t, ok := raw.FirstTime("createdAt"); ok {
		rec.CreatedAt = t
	}
	if t, ok := raw.FirstTime("updatedAt"); ok {
		rec.UpdatedAt = t
	}
	return rec
}

// NewInventoryRecord is the manual-correction create input. StockRemaining
// left nil is derived from received - sold.
type NewInventoryRecord struct {
	Date           string           `json:"date" validate:"required"`
	StockReceived  decimal.Decimal  `json:"stockReceived"`
	StockSold      decimal.Decimal  `json:"stockSold"`
	StockRemaining *decimal.Decimal `json:"stockRemaining"`
	BuyingPrice    decimal.Decimal  `json:"buyingPrice"`
	SellingPrice   decimal.Decimal  `json:"sellingPrice"`
}

type UpdateInventoryRecord struct {
	StockReceived  *decimal.Decimal `json:"stockReceived"`
	StockSold      *decimal.Decimal `json:"stockSold"`
	StockRemaining *decimal.Decimal `json:"stockRemaining"`
	BuyingPrice    *decimal.Decimal `json:"buyingPrice"`
	SellingPrice   *decimal.Decimal `json:"sellingPrice"`
}
