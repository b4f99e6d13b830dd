// Package projection keeps a live in-process view of the three ledger
// collections. All mutation of the cached state happens on a single run
// loop fed by subscription callbacks; readers only ever see immutable
// snapshots swapped in atomically.
package projection

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"bitbucket.org/mmdatafocus/dairy_backend/config"
	"bitbucket.org/mmdatafocus/dairy_backend/ledger"
	"bitbucket.org/mmdatafocus/dairy_backend/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

const (
	resubscribeInitialBackoff = 500 * time.Millisecond
	resubscribeMaxBackoff     = 30 * time.Second
)

var (
	snapshotsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projection_snapshots_applied_total",
		Help: "Collection snapshots applied to the projection cache.",
	}, []string{"collection"})
	resubscribes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projection_resubscribes_total",
		Help: "Subscription teardowns followed by a resubscribe.",
	}, []string{"collection"})
	collectionSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "projection_collection_size",
		Help: "Documents currently held per collection.",
	}, []string{"collection"})
)

type snapshotEvent struct {
	collection ledger.Collection
	docs       []ledger.Document
}

// view is one immutable generation of the cache. A new view replaces the
// old wholesale; nothing mutates a view after publication.
type view struct {
	orders    []models.CanonicalOrder
	inventory []models.InventoryRecord
	payments  []models.PaymentRecord
}

type Cache struct {
	Store  ledger.Store
	Logger *logrus.Logger

	events  chan snapshotEvent
	current atomic.Pointer[view]

	readyOnce sync.Once
	ready     chan struct{}

	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewCache(store ledger.Store, logger *logrus.Logger) *Cache {
	c := &Cache{
		Store:   store,
		Logger:  logger,
		events:  make(chan snapshotEvent, len(ledger.Collections())),
		ready:   make(chan struct{}),
		stopped: make(chan struct{}),
	}
	c.current.Store(&view{})
	return c
}

// Start launches the run loop and one subscription manager per collection.
func (c *Cache) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	var managers sync.WaitGroup
	for _, col := range ledger.Collections() {
		managers.Add(1)
		go func(col ledger.Collection) {
			defer managers.Done()
			c.manageSubscription(ctx, col)
		}(col)
	}

	go func() {
		defer close(c.stopped)
		defer managers.Wait()
		c.run(ctx)
	}()
}

// Stop tears down the subscriptions and the run loop and waits for them.
func (c *Cache) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.stopped
}

// Ready reports whether every collection has delivered at least one snapshot.
func (c *Cache) Ready() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

func (c *Cache) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Orders returns the normalized orders of the latest snapshot.
func (c *Cache) Orders() []models.CanonicalOrder {
	v := c.current.Load()
	out := make([]models.CanonicalOrder, len(v.orders))
	copy(out, v.orders)
	return out
}

func (c *Cache) Inventory() []models.InventoryRecord {
	v := c.current.Load()
	out := make([]models.InventoryRecord, len(v.inventory))
	copy(out, v.inventory)
	return out
}

func (c *Cache) Payments() []models.PaymentRecord {
	v := c.current.Load()
	out := make([]models.PaymentRecord, len(v.payments))
	copy(out, v.payments)
	return out
}

// run is the only goroutine that touches the working state.
func (c *Cache) run(ctx context.Context) {
	seen := make(map[ledger.Collection]bool, len(ledger.Collections()))
	working := view{}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			switch ev.collection {
			case ledger.CollectionOrders:
				orders := make([]models.CanonicalOrder, 0, len(ev.docs))
				for _, doc := range ev.docs {
					o := models.NormalizeOrder(models.RawFromDocument(doc), nil)
					o.ID = doc.ID()
					orders = append(orders, o)
				}
				working.orders = orders
			case ledger.CollectionInventory:
				inventory := make([]models.InventoryRecord, 0, len(ev.docs))
				for _, doc := range ev.docs {
					inventory = append(inventory, models.InventoryFromDocument(doc))
				}
				working.inventory = inventory
			case ledger.CollectionPayments:
				payments := make([]models.PaymentRecord, 0, len(ev.docs))
				for _, doc := range ev.docs {
					payments = append(payments, models.PaymentFromDocument(doc))
				}
				working.payments = payments
			default:
				continue
			}

			published := working
			c.current.Store(&published)

			snapshotsApplied.WithLabelValues(string(ev.collection)).Inc()
			collectionSize.WithLabelValues(string(ev.collection)).Set(float64(len(ev.docs)))

			if !seen[ev.collection] {
				seen[ev.collection] = true
				if len(seen) == len(ledger.Collections()) {
					c.readyOnce.Do(func() { close(c.ready) })
				}
			}
		}
	}
}

// manageSubscription keeps one collection subscribed. On a subscription
// error it tears the subscription down and resubscribes with exponential
// backoff; a delivered snapshot resets the backoff.
func (c *Cache) manageSubscription(ctx context.Context, col ledger.Collection) {
	backoff := resubscribeInitialBackoff

	for ctx.Err() == nil {
		errCh := make(chan error, 1)
		snapCh := make(chan struct{}, 1)

		unsubscribe := c.Store.Subscribe(col,
			func(docs []ledger.Document) {
				select {
				case snapCh <- struct{}{}:
				default:
				}
				select {
				case c.events <- snapshotEvent{collection: col, docs: docs}:
				case <-ctx.Done():
				}
			},
			func(err error) {
				select {
				case errCh <- err:
				default:
				}
			})

	watch:
		for {
			select {
			case <-ctx.Done():
				unsubscribe()
				return
			case <-snapCh:
				backoff = resubscribeInitialBackoff
			case err := <-errCh:
				unsubscribe()
				config.LogError(c.Logger, "projection", "manageSubscription",
					"subscription failed, resubscribing", string(col), err)
				resubscribes.WithLabelValues(string(col)).Inc()
				break watch
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > resubscribeMaxBackoff {
			backoff = resubscribeMaxBackoff
		}
	}
}
