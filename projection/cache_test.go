package projection

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

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func startedCache(t *testing.T, store ledger.Store) *Cache {
	t.Helper()
	c := NewCache(store, testLogger())
	c.Start(context.Background())
	t.Cleanup(c.Stop)
	return c
}

func TestCache_BecomesReadyAndServesSnapshots(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemory()

	order := models.CanonicalOrder{
		CustomerName: "Daw Mya",
		Quantity:     decimal.NewFromInt(2),
		Status:       models.OrderStatusPending,
	}
	if _, err := store.Insert(ctx, ledger.CollectionOrders, order.ToDocument()); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	inv := models.InventoryRecord{Date: "2025-03-14", StockReceived: decimal.NewFromInt(50)}
	if _, err := store.Insert(ctx, ledger.CollectionInventory, inv.ToDocument()); err != nil {
		t.Fatalf("seed inventory: %v", err)
	}

	c := startedCache(t, store)

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.WaitReady(waitCtx); err != nil {
		t.Fatalf("cache never became ready: %v", err)
	}
	if !c.Ready() {
		t.Fatalf("Ready() must report true after WaitReady")
	}

	orders := c.Orders()
	if len(orders) != 1 || orders[0].CustomerName != "Daw Mya" {
		t.Fatalf("unexpected orders snapshot: %+v", orders)
	}
	if orders[0].Quantity.String() != "2" {
		t.Fatalf("expected normalized quantity 2, got %s", orders[0].Quantity)
	}

	inventory := c.Inventory()
	if len(inventory) != 1 || inventory[0].Date != "2025-03-14" {
		t.Fatalf("unexpected inventory snapshot: %+v", inventory)
	}
	if len(c.Payments()) != 0 {
		t.Fatalf("expected empty payments snapshot")
	}
}

func TestCache_NotReadyBeforeAllCollectionsArrive(t *testing.T) {
	c := NewCache(ledger.NewMemory(), testLogger())
	if c.Ready() {
		t.Fatalf("a cache that was never started must not be ready")
	}
	if len(c.Orders()) != 0 {
		t.Fatalf("expected empty snapshot before start")
	}
}

func TestCache_PicksUpLaterWrites(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemory()
	c := startedCache(t, store)

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.WaitReady(waitCtx); err != nil {
		t.Fatalf("cache never became ready: %v", err)
	}

	pay := models.PaymentRecord{OrderId: "o1", Amount: decimal.NewFromInt(1500)}
	if _, err := store.Insert(ctx, ledger.CollectionPayments, pay.ToDocument()); err != nil {
		t.Fatalf("insert payment: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		payments := c.Payments()
		if len(payments) == 1 {
			if payments[0].OrderId != "o1" {
				t.Fatalf("unexpected payment snapshot: %+v", payments)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("payment write never reached the cache")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCache_SnapshotsAreIsolatedFromCallers(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemory()
	order := models.CanonicalOrder{CustomerName: "Daw Mya"}
	if _, err := store.Insert(ctx, ledger.CollectionOrders, order.ToDocument()); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	c := startedCache(t, store)

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.WaitReady(waitCtx); err != nil {
		t.Fatalf("cache never became ready: %v", err)
	}

	got := c.Orders()
	got[0].CustomerName = "mutated"
	if again := c.Orders(); again[0].CustomerName != "Daw Mya" {
		t.Fatalf("cache state leaked through a returned snapshot: %+v", again)
	}
}

// flakyStore fails the first orders subscription so the cache has to tear it
// down and resubscribe.
type flakyStore struct {
	*ledger.Memory
	mu       sync.Mutex
	attempts map[ledger.Collection]int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{
		Memory:   ledger.NewMemory(),
		attempts: make(map[ledger.Collection]int),
	}
}

func (f *flakyStore) Subscribe(c ledger.Collection, onSnapshot func([]ledger.Document), onError func(error)) func() {
	f.mu.Lock()
	f.attempts[c]++
	attempt := f.attempts[c]
	f.mu.Unlock()

	if c == ledger.CollectionOrders && attempt == 1 {
		go onError(errors.New("snapshot stream broken"))
		return func() {}
	}
	return f.Memory.Subscribe(c, onSnapshot, onError)
}

func (f *flakyStore) subscribeAttempts(c ledger.Collection) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[c]
}

func TestCache_ResubscribesAfterSubscriptionError(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	order := models.CanonicalOrder{CustomerName: "U Kyaw"}
	if _, err := store.Insert(ctx, ledger.CollectionOrders, order.ToDocument()); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	c := startedCache(t, store)

	// Readiness requires the orders snapshot, which only the second
	// subscription attempt can deliver.
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.WaitReady(waitCtx); err != nil {
		t.Fatalf("cache never recovered from the broken subscription: %v", err)
	}
	if got := store.subscribeAttempts(ledger.CollectionOrders); got < 2 {
		t.Fatalf("expected a resubscribe, saw %d attempts", got)
	}
	orders := c.Orders()
	if len(orders) != 1 || orders[0].CustomerName != "U Kyaw" {
		t.Fatalf("unexpected orders snapshot after recovery: %+v", orders)
	}
}
