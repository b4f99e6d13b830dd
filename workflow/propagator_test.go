package workflow

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/dairy_backend/ledger"
	"bitbucket.org/mmdatafocus/dairy_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var fixedNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

const fixedDay = "2025-03-14"

func newTestPropagator(store ledger.Store) *Propagator {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	p := NewPropagator(store, logger)
	p.Now = func() time.Time { return fixedNow }
	p.Strict = false
	return p
}

func seedInventory(t *testing.T, store ledger.Store, date string, received, sold int64) string {
	t.Helper()
	rec := models.InventoryRecord{
		Date:           date,
		StockReceived:  decimal.NewFromInt(received),
		StockSold:      decimal.NewFromInt(sold),
		StockRemaining: decimal.NewFromInt(received - sold),
	}
	id, err := store.Insert(context.Background(), ledger.CollectionInventory, rec.ToDocument())
	if err != nil {
		t.Fatalf("seed inventory: %v", err)
	}
	return id
}

func inventoryByDay(t *testing.T, store ledger.Store, date string) *models.InventoryRecord {
	t.Helper()
	docs, err := store.ListAll(context.Background(), ledger.CollectionInventory)
	if err != nil {
		t.Fatalf("list inventory: %v", err)
	}
	for _, doc := range docs {
		rec := models.InventoryFromDocument(doc)
		if rec.Date == date {
			return &rec
		}
	}
	return nil
}

func paymentsFor(t *testing.T, store ledger.Store, orderId string) []models.PaymentRecord {
	t.Helper()
	docs, err := store.ListAll(context.Background(), ledger.CollectionPayments)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	var out []models.PaymentRecord
	for _, doc := range docs {
		rec := models.PaymentFromDocument(doc)
		if rec.OrderId == orderId {
			out = append(out, rec)
		}
	}
	return out
}

func TestAddOrder_DepletesTodaysInventory(t *testing.T) {
	store := ledger.NewMemory()
	seedInventory(t, store, fixedDay, 50, 10)
	p := newTestPropagator(store)

	order, err := p.AddOrder(context.Background(), &models.NewOrder{
		CustomerName: "Daw Mya",
		Quantity:     decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("AddOrder: %v", err)
	}
	if order.ID == "" {
		t.Fatalf("expected assigned order id")
	}

	rec := inventoryByDay(t, store, fixedDay)
	if rec == nil {
		t.Fatalf("inventory record disappeared")
	}
	if rec.StockSold.String() != "15" || rec.StockRemaining.String() != "35" {
		t.Fatalf("expected sold=15 remaining=35, got sold=%s remaining=%s",
			rec.StockSold, rec.StockRemaining)
	}
}

func TestAddOrder_MissingDayRecordCreatesBacklog(t *testing.T) {
	store := ledger.NewMemory()
	p := newTestPropagator(store)

	if _, err := p.AddOrder(context.Background(), &models.NewOrder{
		Quantity: decimal.NewFromInt(7),
	}); err != nil {
		t.Fatalf("AddOrder: %v", err)
	}

	rec := inventoryByDay(t, store, fixedDay)
	if rec == nil {
		t.Fatalf("expected backlog record for %s", fixedDay)
	}
	if rec.StockReceived.String() != "0" || rec.StockSold.String() != "7" || rec.StockRemaining.String() != "-7" {
		t.Fatalf("expected 0/7/-7, got %s/%s/%s",
			rec.StockReceived, rec.StockSold, rec.StockRemaining)
	}
}

// Creation depletes the wall-clock day even when the order itself is dated
// elsewhere. Update and delete use the order's own date.
func TestAddOrder_DepletionIgnoresOrderDate(t *testing.T) {
	store := ledger.NewMemory()
	p := newTestPropagator(store)

	if _, err := p.AddOrder(context.Background(), &models.NewOrder{
		Quantity:  decimal.NewFromInt(3),
		OrderDate: "2025-01-01",
	}); err != nil {
		t.Fatalf("AddOrder: %v", err)
	}

	if rec := inventoryByDay(t, store, "2025-01-01"); rec != nil {
		t.Fatalf("order-date day must not be touched on create, got %+v", rec)
	}
	rec := inventoryByDay(t, store, fixedDay)
	if rec == nil || rec.StockSold.String() != "3" {
		t.Fatalf("expected wall-clock day depleted by 3, got %+v", rec)
	}
}

func TestUpdateOrder_QuantityDeltaTargetsOriginalDate(t *testing.T) {
	store := ledger.NewMemory()
	p := newTestPropagator(store)

	order, err := p.AddOrder(context.Background(), &models.NewOrder{
		Quantity:  decimal.NewFromInt(3),
		OrderDate: "2025-01-01",
	})
	if err != nil {
		t.Fatalf("AddOrder: %v", err)
	}

	q := decimal.NewFromInt(5)
	if _, err := p.UpdateOrder(context.Background(), order.ID, &models.UpdateOrder{Quantity: &q}); err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}

	rec := inventoryByDay(t, store, "2025-01-01")
	if rec == nil {
		t.Fatalf("expected delta applied to the order's own date")
	}
	if rec.StockSold.String() != "2" || rec.StockRemaining.String() != "-2" {
		t.Fatalf("expected delta 2 on 2025-01-01, got sold=%s remaining=%s",
			rec.StockSold, rec.StockRemaining)
	}
}

// Aggregates are recomputed from item lines on every read, so a quantity
// patch without an item list must rewrite the stored lines too.
func TestUpdateOrder_QuantityPatchRescalesItemLines(t *testing.T) {
	store := ledger.NewMemory()
	p := newTestPropagator(store)

	order, err := p.AddOrder(context.Background(), &models.NewOrder{
		Quantity: decimal.NewFromInt(4),
	})
	if err != nil {
		t.Fatalf("AddOrder: %v", err)
	}

	q := decimal.NewFromInt(9)
	updated, err := p.UpdateOrder(context.Background(), order.ID, &models.UpdateOrder{Quantity: &q})
	if err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
	if updated.Quantity.String() != "9" {
		t.Fatalf("expected canonical quantity 9 after patch, got %s", updated.Quantity)
	}

	rec := inventoryByDay(t, store, fixedDay)
	if rec == nil {
		t.Fatalf("expected inventory record for %s", fixedDay)
	}
	if rec.StockSold.String() != "9" {
		t.Fatalf("expected sold 9 after patch, got %s", rec.StockSold)
	}
}

func TestUpdateOrder_TotalAmountPatchRescalesItemPrices(t *testing.T) {
	store := ledger.NewMemory()
	p := newTestPropagator(store)

	order, err := p.AddOrder(context.Background(), &models.NewOrder{
		OrderItems: []models.NewOrderItem{
			{Name: "Fresh Milk", Quantity: decimal.NewFromInt(2), Price: decimal.NewFromInt(1500)},
		},
	})
	if err != nil {
		t.Fatalf("AddOrder: %v", err)
	}
	if order.TotalAmount.String() != "3000" {
		t.Fatalf("expected total 3000 from items, got %s", order.TotalAmount)
	}

	amt := decimal.NewFromInt(4500)
	updated, err := p.UpdateOrder(context.Background(), order.ID, &models.UpdateOrder{TotalAmount: &amt})
	if err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
	if updated.TotalAmount.String() != "4500" {
		t.Fatalf("expected canonical total 4500 after patch, got %s", updated.TotalAmount)
	}
	if updated.Quantity.String() != "2" {
		t.Fatalf("quantity must be untouched by an amount patch, got %s", updated.Quantity)
	}
	if len(updated.OrderItems) != 1 || updated.OrderItems[0].Price.String() != "2250" {
		t.Fatalf("expected item price rescaled to 2250, got %+v", updated.OrderItems)
	}
}

func TestDeleteOrder_RestoresInventory(t *testing.T) {
	store := ledger.NewMemory()
	p := newTestPropagator(store)

	order, err := p.AddOrder(context.Background(), &models.NewOrder{
		Quantity: decimal.NewFromInt(12),
	})
	if err != nil {
		t.Fatalf("AddOrder: %v", err)
	}

	if err := p.DeleteOrder(context.Background(), order.ID); err != nil {
		t.Fatalf("DeleteOrder: %v", err)
	}

	if _, err := store.Get(context.Background(), ledger.CollectionOrders, order.ID); err == nil {
		t.Fatalf("order document must be gone")
	}
	rec := inventoryByDay(t, store, fixedDay)
	if rec == nil {
		t.Fatalf("inventory record disappeared")
	}
	if rec.StockSold.String() != "0" || rec.StockRemaining.String() != "0" {
		t.Fatalf("expected restock to 0/0, got sold=%s remaining=%s",
			rec.StockSold, rec.StockRemaining)
	}
}

func TestDeleteOrder_ZeroQuantityStillSucceeds(t *testing.T) {
	store := ledger.NewMemory()
	p := newTestPropagator(store)

	order, err := p.AddOrder(context.Background(), &models.NewOrder{
		CustomerName: "Daw Mya",
	})
	if err != nil {
		t.Fatalf("AddOrder: %v", err)
	}

	if err := p.DeleteOrder(context.Background(), order.ID); err != nil {
		t.Fatalf("DeleteOrder: %v", err)
	}
	if _, err := store.Get(context.Background(), ledger.CollectionOrders, order.ID); err == nil {
		t.Fatalf("order document must be gone")
	}
	if rec := inventoryByDay(t, store, fixedDay); rec != nil {
		t.Fatalf("zero-quantity delete must not touch inventory, got %+v", rec)
	}
}

func TestUpdateOrder_CompletionCreatesExactlyOnePayment(t *testing.T) {
	store := ledger.NewMemory()
	p := newTestPropagator(store)

	order, err := p.AddOrder(context.Background(), &models.NewOrder{
		CustomerName: "U Kyaw",
		Quantity:     decimal.NewFromInt(2),
		TotalAmount:  decimal.NewFromInt(3000),
	})
	if err != nil {
		t.Fatalf("AddOrder: %v", err)
	}

	completed := models.OrderStatusCompleted
	for i := 0; i < 2; i++ {
		if _, err := p.UpdateOrder(context.Background(), order.ID, &models.UpdateOrder{Status: &completed}); err != nil {
			t.Fatalf("UpdateOrder #%d: %v", i+1, err)
		}
	}

	payments := paymentsFor(t, store, order.ID)
	if len(payments) != 1 {
		t.Fatalf("expected exactly one payment, got %d", len(payments))
	}
	pay := payments[0]
	if pay.Amount.String() != "3000" || pay.Status != models.PaymentStatusCompleted {
		t.Fatalf("unexpected payment: %+v", pay)
	}
}

func TestAddOrder_BornCompletedCreatesPayment(t *testing.T) {
	store := ledger.NewMemory()
	p := newTestPropagator(store)

	order, err := p.AddOrder(context.Background(), &models.NewOrder{
		Quantity:    decimal.NewFromInt(1),
		TotalAmount: decimal.NewFromInt(1500),
		Status:      models.OrderStatusCompleted,
	})
	if err != nil {
		t.Fatalf("AddOrder: %v", err)
	}
	if order.CompletedTime == nil {
		t.Fatalf("expected completedTime to be stamped")
	}
	if got := len(paymentsFor(t, store, order.ID)); got != 1 {
		t.Fatalf("expected one payment, got %d", got)
	}
}

func TestAddPayment_IdempotentPerOrder(t *testing.T) {
	store := ledger.NewMemory()
	p := newTestPropagator(store)

	order, err := p.AddOrder(context.Background(), &models.NewOrder{
		Quantity:    decimal.NewFromInt(1),
		TotalAmount: decimal.NewFromInt(1500),
		Status:      models.OrderStatusCompleted,
	})
	if err != nil {
		t.Fatalf("AddOrder: %v", err)
	}

	manual, err := p.AddPayment(context.Background(), &models.NewPayment{
		OrderId: order.ID,
		Amount:  decimal.NewFromInt(9999),
	})
	if err != nil {
		t.Fatalf("AddPayment: %v", err)
	}
	if manual.Amount.String() != "1500" {
		t.Fatalf("expected the existing payment back, got amount %s", manual.Amount)
	}
	if got := len(paymentsFor(t, store, order.ID)); got != 1 {
		t.Fatalf("expected one payment, got %d", got)
	}
}

// failingInventoryStore breaks the inventory side of the store while the
// orders collection keeps working.
type failingInventoryStore struct {
	ledger.Store
}

var errInventoryDown = errors.New("inventory backend down")

func (f *failingInventoryStore) ListAll(ctx context.Context, c ledger.Collection) ([]ledger.Document, error) {
	if c == ledger.CollectionInventory {
		return nil, errInventoryDown
	}
	return f.Store.ListAll(ctx, c)
}

func TestAddOrder_SideEffectFailureIsSwallowed(t *testing.T) {
	inner := ledger.NewMemory()
	store := &failingInventoryStore{Store: inner}
	p := newTestPropagator(store)

	order, err := p.AddOrder(context.Background(), &models.NewOrder{
		Quantity: decimal.NewFromInt(4),
	})
	if err != nil {
		t.Fatalf("side-effect failure must not surface, got %v", err)
	}
	if _, err := inner.Get(context.Background(), ledger.CollectionOrders, order.ID); err != nil {
		t.Fatalf("order write must survive the side-effect failure: %v", err)
	}
}

func TestAddOrder_StrictModeSurfacesSideEffectFailure(t *testing.T) {
	store := &failingInventoryStore{Store: ledger.NewMemory()}
	p := newTestPropagator(store)
	p.Strict = true

	_, err := p.AddOrder(context.Background(), &models.NewOrder{
		Quantity: decimal.NewFromInt(4),
	})
	if !errors.Is(err, errInventoryDown) {
		t.Fatalf("expected the side-effect error in strict mode, got %v", err)
	}
}

// barrierStore holds every inventory read until two readers have arrived, and
// holds inventory writes until both reads have returned, so both
// read-modify-write cycles are guaranteed to observe the same base state.
type barrierStore struct {
	ledger.Store
	arrived   chan struct{}
	proceed   chan struct{}
	readsDone sync.WaitGroup
}

func (b *barrierStore) ListAll(ctx context.Context, c ledger.Collection) ([]ledger.Document, error) {
	if c == ledger.CollectionInventory {
		b.arrived <- struct{}{}
		<-b.proceed
		defer b.readsDone.Done()
	}
	return b.Store.ListAll(ctx, c)
}

func (b *barrierStore) Update(ctx context.Context, c ledger.Collection, id string, partial ledger.Document) error {
	if c == ledger.CollectionInventory {
		b.readsDone.Wait()
	}
	return b.Store.Update(ctx, c, id, partial)
}

// Without a lock around the inventory read-modify-write, concurrent orders on
// the same day lose updates. This pins the documented legacy behavior of the
// lock-free configuration; wiring a Locker is what fixes it.
func TestAddOrder_ConcurrentDepletionLosesUpdateWithoutLock(t *testing.T) {
	inner := ledger.NewMemory()
	seedInventory(t, inner, fixedDay, 50, 0)
	store := &barrierStore{
		Store:   inner,
		arrived: make(chan struct{}, 2),
		proceed: make(chan struct{}),
	}
	store.readsDone.Add(2)
	p := newTestPropagator(store)

	var wg sync.WaitGroup
	for _, qty := range []int64{5, 3} {
		wg.Add(1)
		go func(q int64) {
			defer wg.Done()
			if _, err := p.AddOrder(context.Background(), &models.NewOrder{
				Quantity: decimal.NewFromInt(q),
			}); err != nil {
				t.Errorf("AddOrder(%d): %v", q, err)
			}
		}(qty)
	}

	// Release both readers only after both have read.
	<-store.arrived
	<-store.arrived
	close(store.proceed)
	wg.Wait()

	rec := inventoryByDay(t, inner, fixedDay)
	if rec == nil {
		t.Fatalf("inventory record disappeared")
	}
	if got := rec.StockSold.String(); got != "5" && got != "3" {
		t.Fatalf("expected one of the two deltas to win alone, got sold=%s", got)
	}
}

func TestAddInventoryRecord_DerivesRemaining(t *testing.T) {
	store := ledger.NewMemory()
	p := newTestPropagator(store)

	rec, err := p.AddInventoryRecord(context.Background(), &models.NewInventoryRecord{
		Date:          "2025-03-10",
		StockReceived: decimal.NewFromInt(40),
		StockSold:     decimal.NewFromInt(15),
	})
	if err != nil {
		t.Fatalf("AddInventoryRecord: %v", err)
	}
	if rec.StockRemaining.String() != "25" {
		t.Fatalf("expected derived remaining 25, got %s", rec.StockRemaining)
	}

	pinned := decimal.NewFromInt(99)
	rec2, err := p.AddInventoryRecord(context.Background(), &models.NewInventoryRecord{
		Date:           "2025-03-11",
		StockReceived:  decimal.NewFromInt(40),
		StockSold:      decimal.NewFromInt(15),
		StockRemaining: &pinned,
	})
	if err != nil {
		t.Fatalf("AddInventoryRecord: %v", err)
	}
	if rec2.StockRemaining.String() != "99" {
		t.Fatalf("explicit remaining must win, got %s", rec2.StockRemaining)
	}
}

func TestUpdateInventoryRecord_RederivesRemaining(t *testing.T) {
	store := ledger.NewMemory()
	id := seedInventory(t, store, "2025-03-10", 40, 15)
	p := newTestPropagator(store)

	received := decimal.NewFromInt(60)
	rec, err := p.UpdateInventoryRecord(context.Background(), id, &models.UpdateInventoryRecord{
		StockReceived: &received,
	})
	if err != nil {
		t.Fatalf("UpdateInventoryRecord: %v", err)
	}
	if rec.StockRemaining.String() != "45" {
		t.Fatalf("expected re-derived remaining 45, got %s", rec.StockRemaining)
	}
}

func TestAddInventoryRecord_RequiresDate(t *testing.T) {
	p := newTestPropagator(ledger.NewMemory())
	if _, err := p.AddInventoryRecord(context.Background(), &models.NewInventoryRecord{}); err == nil {
		t.Fatalf("expected validation error for missing date")
	}
}
