// Package workflow holds the consistency engine that keeps inventory and
// payment records approximately in step with order lifecycle events. The
// three collections have no shared transaction, so everything here is
// write-order discipline: the order document is the one write whose failure
// the caller sees; the dependent writes run after it, best effort.
package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/dairy_backend/config"
	"bitbucket.org/mmdatafocus/dairy_backend/ledger"
	"bitbucket.org/mmdatafocus/dairy_backend/models"
	"bitbucket.org/mmdatafocus/dairy_backend/utils"
	"github.com/bsm/redislock"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("dairy-backoffice/workflow")

var validate = validator.New()

const sideEffectLockTTL = 30 * time.Second

// Propagator applies order mutations to the ledger store and propagates
// their side effects across collections.
//
// Locker is optional: when wired, the inventory read-modify-write is
// serialized per day key and the payment check-then-insert per order id.
// Without it the legacy racy behavior applies (two concurrent creations on
// one day can lose an update; two concurrent completions can double-pay).
//
// DB is optional and only feeds the ledger-event outbox.
type Propagator struct {
	Store  ledger.Store
	Logger *logrus.Logger
	Locker *redislock.Client
	DB     *gorm.DB

	// Now is injectable because order creation adjusts *today's* inventory
	// record by wall clock, not the order's stated date. See DESIGN.md.
	Now func() time.Time

	// Strict surfaces side-effect failures to the caller instead of
	// suppressing them (config.StrictSideEffects upgrade path).
	Strict bool
}

func NewPropagator(store ledger.Store, logger *logrus.Logger) *Propagator {
	return &Propagator{
		Store:  store,
		Logger: logger,
		Now:    func() time.Time { return time.Now().UTC() },
		Strict: config.StrictSideEffects(),
	}
}

func (p *Propagator) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

// AddOrder writes the order document and then, best effort, depletes today's
// inventory and (for orders born completed) creates the payment. Only the
// order write's failure reaches the caller.
func (p *Propagator) AddOrder(ctx context.Context, input *models.NewOrder) (*models.CanonicalOrder, error) {
	ctx, span := tracer.Start(ctx, "Propagator.AddOrder", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	if err := validate.Struct(input); err != nil {
		return nil, err
	}

	now := p.now()
	order := models.NormalizeOrderAt(models.RawOrderDocument(input.ToDocument()), nil, now)
	order.CreatedAt = now
	order.UpdatedAt = now
	if order.Status == models.OrderStatusCompleted {
		order.CompletedTime = &now
	}

	id, err := p.Store.Insert(ctx, ledger.CollectionOrders, order.ToDocument())
	if err != nil {
		return nil, err
	}
	order.ID = id

	// Side effects below never roll the order back.
	// Depletion targets the wall-clock day, not order.OrderDate.
	if sideErr := p.sideEffect(ctx, "AddOrder", models.LedgerEventActionCreate, models.SideEffectInventoryAdjust, order.ID, nil, order,
		func() error {
			return p.applyInventoryDelta(ctx, utils.DayKey(now), order.Quantity)
		}); sideErr != nil {
		return &order, sideErr
	}

	if order.Status == models.OrderStatusCompleted {
		if sideErr := p.sideEffect(ctx, "AddOrder", models.LedgerEventActionCreate, models.SideEffectPaymentCreate, order.ID, nil, order,
			func() error {
				return p.ensurePaymentForOrder(ctx, order)
			}); sideErr != nil {
			return &order, sideErr
		}
	}

	return &order, nil
}

// UpdateOrder applies a partial update to the order document, then
// propagates: a transition into completed creates the payment exactly once,
// and a quantity change adjusts the inventory record of the order's
// *original* date by the delta.
func (p *Propagator) UpdateOrder(ctx context.Context, id string, input *models.UpdateOrder) (*models.CanonicalOrder, error) {
	ctx, span := tracer.Start(ctx, "Propagator.UpdateOrder", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	if err := validate.Struct(input); err != nil {
		return nil, err
	}

	oldDoc, err := p.Store.Get(ctx, ledger.CollectionOrders, id)
	if err != nil {
		return nil, err
	}
	now := p.now()
	oldOrder := models.NormalizeOrderAt(models.RawFromDocument(oldDoc), nil, now)
	oldOrder.ID = id

	partial := buildOrderPartial(input, oldOrder, now)
	if err := p.Store.Update(ctx, ledger.CollectionOrders, id, partial); err != nil {
		return nil, err
	}

	newDoc, err := p.Store.Get(ctx, ledger.CollectionOrders, id)
	if err != nil {
		// The update itself succeeded; reading it back is best effort.
		newDoc = oldDoc
	}
	newOrder := models.NormalizeOrderAt(models.RawFromDocument(newDoc), nil, now)
	newOrder.ID = id

	if newOrder.Status == models.OrderStatusCompleted && oldOrder.Status != models.OrderStatusCompleted {
		if sideErr := p.sideEffect(ctx, "UpdateOrder", models.LedgerEventActionUpdate, models.SideEffectPaymentCreate, id, oldOrder, newOrder,
			func() error {
				return p.ensurePaymentForOrder(ctx, newOrder)
			}); sideErr != nil {
			return &newOrder, sideErr
		}
	}

	if delta := newOrder.Quantity.Sub(oldOrder.Quantity); !delta.IsZero() {
		if sideErr := p.sideEffect(ctx, "UpdateOrder", models.LedgerEventActionUpdate, models.SideEffectInventoryAdjust, id, oldOrder, newOrder,
			func() error {
				return p.applyInventoryDelta(ctx, oldOrder.DayKey(), delta)
			}); sideErr != nil {
			return &newOrder, sideErr
		}
	}

	return &newOrder, nil
}

// DeleteOrder removes the order document and restocks the inventory record
// of the order's original date.
func (p *Propagator) DeleteOrder(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Propagator.DeleteOrder", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	oldDoc, err := p.Store.Get(ctx, ledger.CollectionOrders, id)
	if err != nil {
		return err
	}
	now := p.now()
	order := models.NormalizeOrderAt(models.RawFromDocument(oldDoc), nil, now)
	order.ID = id

	if err := p.Store.Delete(ctx, ledger.CollectionOrders, id); err != nil {
		return err
	}

	if order.Quantity.IsZero() {
		// No inventory to restore, but downstream consumers still see the delete.
		return p.sideEffect(ctx, "DeleteOrder", models.LedgerEventActionDelete, models.SideEffectNone, id, order, nil,
			func() error { return nil })
	}
	return p.sideEffect(ctx, "DeleteOrder", models.LedgerEventActionDelete, models.SideEffectInventoryAdjust, id, order, nil,
		func() error {
			return p.applyInventoryDelta(ctx, order.DayKey(), order.Quantity.Neg())
		})
}

// sideEffect runs one dependent write after a successful primary write,
// records it to the outbox, and suppresses its failure unless Strict.
func (p *Propagator) sideEffect(ctx context.Context, funcName string, action models.LedgerEventAction,
	effect models.LedgerEventSideEffect, orderId string, oldObj, newObj interface{}, fn func() error) error {

	err := fn()

	if recErr := models.RecordLedgerEvent(ctx, p.DB, string(ledger.CollectionOrders), orderId, action, effect, oldObj, newObj, err); recErr != nil {
		config.LogError(p.Logger, "workflow", funcName, "outbox record failed", orderId, recErr)
	}

	if err == nil {
		return nil
	}
	config.LogError(p.Logger, "workflow", funcName,
		string(effect)+" side effect failed; primary write already committed", orderId, err)
	if p.Strict {
		return err
	}
	return nil
}

// obtainLock serializes one side-effect key when a lock client is wired.
// The returned release is a no-op when locking is disabled.
func (p *Propagator) obtainLock(ctx context.Context, key string) (release func(), err error) {
	if p.Locker == nil {
		return func() {}, nil
	}
	lock, err := p.Locker.Obtain(ctx, key, sideEffectLockTTL, nil)
	if err != nil {
		return nil, err
	}
	return func() { _ = lock.Release(ctx) }, nil
}

// applyInventoryDelta is the shared read-modify-write on one day's inventory
// record. A missing record is created with the delta booked as sold and a
// matching negative remainder (explicit backlog).
func (p *Propagator) applyInventoryDelta(ctx context.Context, dayKey string, delta decimal.Decimal) error {
	if dayKey == "" || delta.IsZero() {
		return nil
	}

	release, err := p.obtainLock(ctx, "inventory:day:"+dayKey)
	if err != nil {
		return err
	}
	defer release()

	docs, err := p.Store.ListAll(ctx, ledger.CollectionInventory)
	if err != nil {
		return err
	}
	now := p.now()
	for _, doc := range docs {
		rec := models.InventoryFromDocument(doc)
		if rec.Date != dayKey {
			continue
		}
		return p.Store.Update(ctx, ledger.CollectionInventory, rec.ID, ledger.Document{
			"stockSold":      rec.StockSold.Add(delta),
			"stockRemaining": rec.StockRemaining.Sub(delta),
			"updatedAt":      now,
		})
	}

	rec := models.InventoryRecord{
		Date:           dayKey,
		StockReceived:  decimal.Zero,
		StockSold:      delta,
		StockRemaining: delta.Neg(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err = p.Store.Insert(ctx, ledger.CollectionInventory, rec.ToDocument())
	return err
}

// ensurePaymentForOrder creates the order's payment record at most once.
// Idempotency is check-then-insert on orderId; the optional lock closes the
// window between the check and the insert.
func (p *Propagator) ensurePaymentForOrder(ctx context.Context, order models.CanonicalOrder) error {
	if order.ID == "" {
		return nil
	}

	release, err := p.obtainLock(ctx, "payment:order:"+order.ID)
	if err != nil {
		return err
	}
	defer release()

	existing, err := p.findPaymentByOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	paymentType := order.PaymentType
	if !paymentType.Valid() {
		paymentType = models.PaymentTypeOffline
	}
	payment := models.PaymentRecord{
		OrderId:      order.ID,
		CustomerName: order.CustomerName,
		Amount:       order.TotalAmount,
		Type:         paymentType,
		Status:       models.PaymentStatusCompleted,
		Date:         order.DeliveryDate,
		CreatedAt:    p.now(),
	}
	_, err = p.Store.Insert(ctx, ledger.CollectionPayments, payment.ToDocument())
	return err
}

func buildOrderPartial(input *models.UpdateOrder, oldOrder models.CanonicalOrder, now time.Time) ledger.Document {
	partial := ledger.Document{"updatedAt": now}

	if input.CustomerName != nil {
		partial["customerName"] = *input.CustomerName
	}
	if input.CustomerPhone != nil {
		partial["customerPhone"] = utils.FormatPhone(*input.CustomerPhone)
	}
	if input.CustomerAddress != nil {
		partial["customerAddress"] = *input.CustomerAddress
	}
	if input.OrderItems != nil {
		items := make([]interface{}, 0, len(*input.OrderItems))
		for _, it := range *input.OrderItems {
			items = append(items, map[string]interface{}{
				"name":      it.Name,
				"category":  it.Category,
				"quantity":  it.Quantity,
				"price":     it.Price,
				"basePrice": it.BasePrice,
			})
		}
		partial["orderItems"] = items
	}
	if input.Quantity != nil {
		partial["quantity"] = *input.Quantity
	}
	if input.PricePerLiter != nil {
		partial["pricePerLiter"] = *input.PricePerLiter
	}
	if input.TotalAmount != nil {
		partial["totalAmount"] = *input.TotalAmount
	}
	if input.Status != nil {
		partial["status"] = string(*input.Status)
		if *input.Status == models.OrderStatusCompleted && oldOrder.Status != models.OrderStatusCompleted {
			partial["completedTime"] = now
		}
		if *input.Status == models.OrderStatusCancelled && oldOrder.Status != models.OrderStatusCancelled {
			partial["cancelledTime"] = now
		}
	}
	if input.DeliveryDate != nil {
		partial["deliveryDate"] = *input.DeliveryDate
	}
	if input.DeliveryTime != nil {
		partial["deliveryTime"] = *input.DeliveryTime
	}
	if input.PaymentMethod != nil {
		partial["paymentMethod"] = *input.PaymentMethod
	}
	if input.PaymentType != nil {
		partial["paymentType"] = string(*input.PaymentType)
	}
	if input.Notes != nil {
		partial["notes"] = *input.Notes
	}

	// Aggregates are derived from the item lines whenever a list exists, so a
	// quantity or amount patch without items must rewrite the lines too or the
	// patch is inert after re-normalization.
	if input.OrderItems == nil && (input.Quantity != nil || input.TotalAmount != nil) && len(oldOrder.OrderItems) > 0 {
		partial["orderItems"] = rescaleOrderItems(oldOrder.OrderItems, input.Quantity, input.TotalAmount)
	}
	return partial
}

// rescaleOrderItems adjusts stored item lines so their sums match a patched
// aggregate quantity and/or amount. A single line is set directly; multiple
// lines are scaled proportionally.
func rescaleOrderItems(oldItems []models.OrderItem, newQty, newTotal *decimal.Decimal) []interface{} {
	items := make([]models.OrderItem, len(oldItems))
	copy(items, oldItems)

	if newQty != nil {
		oldQty := decimal.Zero
		for _, it := range items {
			oldQty = oldQty.Add(it.Quantity)
		}
		switch {
		case len(items) == 1:
			items[0].Quantity = *newQty
		case oldQty.IsPositive():
			factor := newQty.Div(oldQty)
			for i := range items {
				items[i].Quantity = items[i].Quantity.Mul(factor)
			}
		default:
			// Degenerate list with no quantity anywhere: collapse to one line.
			first := items[0]
			first.Quantity = *newQty
			items = []models.OrderItem{first}
		}
	}

	if newTotal != nil {
		implied := decimal.Zero
		qty := decimal.Zero
		for _, it := range items {
			implied = implied.Add(it.Quantity.Mul(it.Price))
			qty = qty.Add(it.Quantity)
		}
		switch {
		case len(items) == 1 && qty.IsPositive():
			items[0].Price = newTotal.Div(qty)
		case implied.IsPositive():
			factor := newTotal.Div(implied)
			for i := range items {
				items[i].Price = items[i].Price.Mul(factor)
			}
		case qty.IsPositive():
			price := newTotal.Div(qty)
			for i := range items {
				items[i].Price = price
			}
		}
	}

	out := make([]interface{}, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]interface{}{
			"name":      it.Name,
			"category":  it.Category,
			"quantity":  it.Quantity,
			"price":     it.Price,
			"basePrice": it.BasePrice,
		})
	}
	return out
}
