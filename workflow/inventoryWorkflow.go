package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/dairy_backend/ledger"
	"bitbucket.org/mmdatafocus/dairy_backend/models"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
)

// AddInventoryRecord inserts a manual stock entry. A nil stockRemaining is
// derived from received - sold; an explicit value wins even when it breaks
// that arithmetic, since corrections exist to override bad history.
func (p *Propagator) AddInventoryRecord(ctx context.Context, input *models.NewInventoryRecord) (*models.InventoryRecord, error) {
	ctx, span := tracer.Start(ctx, "Propagator.AddInventoryRecord", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	if err := validate.Struct(input); err != nil {
		return nil, err
	}

	now := p.now()
	rec := models.InventoryRecord{
		Date:          input.Date,
		StockReceived: input.StockReceived,
		StockSold:     input.StockSold,
		BuyingPrice:   input.BuyingPrice,
		SellingPrice:  input.SellingPrice,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if input.StockRemaining != nil {
		rec.StockRemaining = *input.StockRemaining
	} else {
		rec.StockRemaining = input.StockReceived.Sub(input.StockSold)
	}

	id, err := p.Store.Insert(ctx, ledger.CollectionInventory, rec.ToDocument())
	if err != nil {
		return nil, err
	}
	rec.ID = id
	return &rec, nil
}

// UpdateInventoryRecord patches a stock entry. When the caller changes
// received or sold without pinning stockRemaining, the remainder is
// re-derived from the merged values.
func (p *Propagator) UpdateInventoryRecord(ctx context.Context, id string, input *models.UpdateInventoryRecord) (*models.InventoryRecord, error) {
	ctx, span := tracer.Start(ctx, "Propagator.UpdateInventoryRecord", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	doc, err := p.Store.Get(ctx, ledger.CollectionInventory, id)
	if err != nil {
		return nil, err
	}
	current := models.InventoryFromDocument(doc)

	release, err := p.obtainLock(ctx, "inventory:day:"+current.Date)
	if err != nil {
		return nil, err
	}
	defer release()

	partial := ledger.Document{"updatedAt": p.now()}
	received := current.StockReceived
	sold := current.StockSold
	if input.StockReceived != nil {
		received = *input.StockReceived
		partial["stockReceived"] = received
	}
	if input.StockSold != nil {
		sold = *input.StockSold
		partial["stockSold"] = sold
	}
	switch {
	case input.StockRemaining != nil:
		partial["stockRemaining"] = *input.StockRemaining
	case input.StockReceived != nil || input.StockSold != nil:
		partial["stockRemaining"] = received.Sub(sold)
	}
	if input.BuyingPrice != nil {
		partial["buyingPrice"] = *input.BuyingPrice
	}
	if input.SellingPrice != nil {
		partial["sellingPrice"] = *input.SellingPrice
	}

	if err := p.Store.Update(ctx, ledger.CollectionInventory, id, partial); err != nil {
		return nil, err
	}
	updated, err := p.Store.Get(ctx, ledger.CollectionInventory, id)
	if err != nil {
		return nil, err
	}
	rec := models.InventoryFromDocument(updated)
	return &rec, nil
}

// DeleteInventoryRecord removes a stock entry. No propagation: orders that
// depleted the day keep their history.
func (p *Propagator) DeleteInventoryRecord(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Propagator.DeleteInventoryRecord", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	return p.Store.Delete(ctx, ledger.CollectionInventory, id)
}

// SoldByDay aggregates order quantities per day key. Cancelled orders still
// count; depletion happened when the order was created.
func SoldByDay(orders []models.CanonicalOrder) map[string]decimal.Decimal {
	sold := make(map[string]decimal.Decimal)
	for _, o := range orders {
		key := o.DayKey()
		if key == "" {
			continue
		}
		sold[key] = sold[key].Add(o.Quantity)
	}
	return sold
}
