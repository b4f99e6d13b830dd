// inventory-rebuild recomputes per-day stockSold and stockRemaining from the
// orders collection and rewrites the inventory records. Use after a bug or a
// manual edit left the derived columns out of step with order history.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/dairy_backend/config"
	"bitbucket.org/mmdatafocus/dairy_backend/ledger"
	"bitbucket.org/mmdatafocus/dairy_backend/models"
	"bitbucket.org/mmdatafocus/dairy_backend/utils"
	"bitbucket.org/mmdatafocus/dairy_backend/workflow"
	"github.com/shopspring/decimal"
)

func main() {
	day := flag.String("day", "", "Optional: rebuild only one day (YYYY-MM-DD). If empty, rebuilds every day seen in orders or inventory.")
	dryRun := flag.Bool("dry-run", false, "Print the planned changes without writing them.")
	flag.Parse()

	if *day != "" {
		if _, err := utils.ParseDayKey(*day); err != nil {
			fmt.Fprintf(os.Stderr, "invalid -day %q: %v\n", *day, err)
			os.Exit(1)
		}
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	if err := ledger.Migrate(db); err != nil {
		fmt.Fprintf(os.Stderr, "migrate failed: %v\n", err)
		os.Exit(1)
	}
	store := ledger.NewMySQL(db)

	orderDocs, err := store.ListAll(ctx, ledger.CollectionOrders)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list orders: %v\n", err)
		os.Exit(1)
	}
	orders := make([]models.CanonicalOrder, 0, len(orderDocs))
	for _, doc := range orderDocs {
		o := models.NormalizeOrder(models.RawFromDocument(doc), nil)
		o.ID = doc.ID()
		orders = append(orders, o)
	}
	sold := workflow.SoldByDay(orders)

	inventoryDocs, err := store.ListAll(ctx, ledger.CollectionInventory)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list inventory: %v\n", err)
		os.Exit(1)
	}
	byDay := make(map[string]models.InventoryRecord, len(inventoryDocs))
	for _, doc := range inventoryDocs {
		rec := models.InventoryFromDocument(doc)
		if rec.Date == "" {
			fmt.Fprintf(os.Stderr, "skipping inventory record %s: no date\n", rec.ID)
			continue
		}
		byDay[rec.Date] = rec
	}

	days := make(map[string]bool, len(sold)+len(byDay))
	for k := range sold {
		days[k] = true
	}
	for k := range byDay {
		days[k] = true
	}

	now := time.Now().UTC()
	var updated, created, unchanged int
	for key := range days {
		if *day != "" && key != *day {
			continue
		}
		want := sold[key]

		rec, exists := byDay[key]
		if !exists {
			if want.IsZero() {
				continue
			}
			fmt.Printf("%s: create sold=%s remaining=%s\n", key, want.String(), want.Neg().String())
			created++
			if *dryRun {
				continue
			}
			newRec := models.InventoryRecord{
				Date:           key,
				StockReceived:  decimal.Zero,
				StockSold:      want,
				StockRemaining: want.Neg(),
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if _, err := store.Insert(ctx, ledger.CollectionInventory, newRec.ToDocument()); err != nil {
				fmt.Fprintf(os.Stderr, "%s: insert failed: %v\n", key, err)
				os.Exit(1)
			}
			continue
		}

		remaining := rec.StockReceived.Sub(want)
		if rec.StockSold.Equal(want) && rec.StockRemaining.Equal(remaining) {
			unchanged++
			continue
		}
		fmt.Printf("%s: sold %s -> %s, remaining %s -> %s\n",
			key, rec.StockSold.String(), want.String(), rec.StockRemaining.String(), remaining.String())
		updated++
		if *dryRun {
			continue
		}
		err := store.Update(ctx, ledger.CollectionInventory, rec.ID, ledger.Document{
			"stockSold":      want,
			"stockRemaining": remaining,
			"updatedAt":      now,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: update failed: %v\n", key, err)
			os.Exit(1)
		}
	}

	action := "rebuilt"
	if *dryRun {
		action = "planned"
	}
	fmt.Printf("%s: %d updated, %d created, %d unchanged\n", strings.TrimSpace(action), updated, created, unchanged)
}
