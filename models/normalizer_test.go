package models

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/dairy_backend/utils"
	"github.com/shopspring/decimal"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func TestMapUpstreamStatus_TotalTable(t *testing.T) {
	cases := []struct {
		in       string
		expected OrderStatus
	}{
		{"confirmed", OrderStatusPending},
		{"active", OrderStatusPending},
		{"paused", OrderStatusPending},
		{"delivered", OrderStatusCompleted},
		{"cancelled", OrderStatusCancelled},
		{"pending", OrderStatusPending},
		{"completed", OrderStatusCompleted},
		{"  Delivered ", OrderStatusCompleted},
		{"", OrderStatusPending},
		{"some-future-state", OrderStatusPending},
	}
	for _, tc := range cases {
		if got := MapUpstreamStatus(tc.in); got != tc.expected {
			t.Fatalf("MapUpstreamStatus(%q) expected %s, got %s", tc.in, tc.expected, got)
		}
	}
}

func TestNormalizeOrder_EmptyDocumentGetsDefaults(t *testing.T) {
	o := NormalizeOrderAt(RawOrderDocument{}, nil, testNow)

	if o.CustomerName != "Customer" {
		t.Fatalf("expected default customer name, got %q", o.CustomerName)
	}
	if o.CustomerPhone != "N/A" {
		t.Fatalf("expected N/A phone, got %q", o.CustomerPhone)
	}
	if o.CustomerAddress != "Address not provided" {
		t.Fatalf("expected default address, got %q", o.CustomerAddress)
	}
	if !o.Quantity.IsZero() || !o.TotalAmount.IsZero() || !o.PricePerLiter.IsZero() {
		t.Fatalf("expected zero numerics, got qty=%s amount=%s ppl=%s",
			o.Quantity, o.TotalAmount, o.PricePerLiter)
	}
	if len(o.OrderItems) != 0 {
		t.Fatalf("expected no synthesized item for an all-zero order")
	}
	if o.Status != OrderStatusPending {
		t.Fatalf("expected pending, got %s", o.Status)
	}
	if o.OrderDate != utils.DayKey(testNow) {
		t.Fatalf("expected orderDate %s, got %s", utils.DayKey(testNow), o.OrderDate)
	}
	if o.PaymentType != PaymentTypeOffline {
		t.Fatalf("expected offline payment type, got %s", o.PaymentType)
	}
}

func TestNormalizeOrder_ItemListAggregation(t *testing.T) {
	raw := RawOrderDocument{
		"items": []interface{}{
			map[string]interface{}{"name": "Fresh Milk", "qty": "2 liters", "price": "MMK 1,500"},
			map[string]interface{}{"price": 1500},
		},
	}
	o := NormalizeOrderAt(raw, nil, testNow)

	if len(o.OrderItems) != 2 {
		t.Fatalf("expected 2 items, got %d", len(o.OrderItems))
	}
	// A priced line with no quantity counts as one unit.
	if o.OrderItems[1].Quantity.String() != "1" {
		t.Fatalf("expected implied quantity 1, got %s", o.OrderItems[1].Quantity)
	}
	if o.OrderItems[1].Name != "Milk Order" {
		t.Fatalf("expected default item name, got %q", o.OrderItems[1].Name)
	}
	if o.Quantity.String() != "3" {
		t.Fatalf("expected total quantity 3, got %s", o.Quantity)
	}
	if o.TotalAmount.String() != "4500" {
		t.Fatalf("expected total amount 4500, got %s", o.TotalAmount)
	}
	if o.PricePerLiter.String() != "1500" {
		t.Fatalf("expected derived price per liter 1500, got %s", o.PricePerLiter)
	}
}

func TestNormalizeOrder_SynthesizesItemFromAggregates(t *testing.T) {
	raw := RawOrderDocument{
		"quantity":    "2",
		"totalAmount": "MMK 3,000",
		"frequency":   "daily",
	}
	o := NormalizeOrderAt(raw, nil, testNow)

	if len(o.OrderItems) != 1 {
		t.Fatalf("expected one synthesized item, got %d", len(o.OrderItems))
	}
	item := o.OrderItems[0]
	if item.Name != "Daily Plan" {
		t.Fatalf("expected Daily Plan, got %q", item.Name)
	}
	if item.Quantity.String() != "2" || item.Price.String() != "1500" {
		t.Fatalf("expected qty=2 price=1500, got qty=%s price=%s", item.Quantity, item.Price)
	}
}

func TestNormalizeOrder_AmountWithoutQuantityImpliesOneUnit(t *testing.T) {
	o := NormalizeOrderAt(RawOrderDocument{"amount": 2000}, nil, testNow)
	if o.Quantity.String() != "1" {
		t.Fatalf("expected implied quantity 1, got %s", o.Quantity)
	}
	if o.TotalAmount.String() != "2000" {
		t.Fatalf("expected amount 2000, got %s", o.TotalAmount)
	}
}

func TestNormalizeOrder_EmptyItemListDoesNotSynthesize(t *testing.T) {
	raw := RawOrderDocument{
		"items":       []interface{}{},
		"quantity":    "2",
		"totalAmount": "3000",
	}
	o := NormalizeOrderAt(raw, nil, testNow)
	if len(o.OrderItems) != 0 {
		t.Fatalf("an explicitly empty item list must stay empty, got %d items", len(o.OrderItems))
	}
	if o.Quantity.String() != "2" {
		t.Fatalf("aggregate quantity still applies, got %s", o.Quantity)
	}
}

func TestNormalizeOrder_TransactionCompletionOverridesStatus(t *testing.T) {
	raw := RawOrderDocument{
		"status": "cancelled",
		"transaction": map[string]interface{}{
			"status": "PAID",
			"amount": 5000,
		},
	}
	o := NormalizeOrderAt(raw, nil, testNow)
	if o.Status != OrderStatusCompleted {
		t.Fatalf("paid transaction must win over delivery status, got %s", o.Status)
	}
	// A transaction status also marks the payment as online.
	if o.PaymentType != PaymentTypeOnline {
		t.Fatalf("expected online payment type, got %s", o.PaymentType)
	}
}

func TestNormalizeOrder_ProfileWinsOverRawFields(t *testing.T) {
	raw := RawOrderDocument{
		"customerName": "Stale Name",
		"address":      map[string]interface{}{"street": "Old Street"},
	}
	profile := &CustomerProfile{
		Name:           "Daw Mya",
		DefaultAddress: "12 Kabar Aye Pagoda Rd, Yangon",
	}
	o := NormalizeOrderAt(raw, profile, testNow)
	if o.CustomerName != "Daw Mya" {
		t.Fatalf("profile name must win, got %q", o.CustomerName)
	}
	if o.CustomerAddress != "12 Kabar Aye Pagoda Rd, Yangon" {
		t.Fatalf("profile address must win, got %q", o.CustomerAddress)
	}
}

func TestNormalizeOrder_NestedAddressFlattened(t *testing.T) {
	raw := RawOrderDocument{
		"address": map[string]interface{}{
			"street": "Street 5",
			"city":   "Yangon",
		},
	}
	o := NormalizeOrderAt(raw, nil, testNow)
	if o.CustomerAddress != "Street 5, Yangon" {
		t.Fatalf("expected flattened address, got %q", o.CustomerAddress)
	}
}

func TestNormalizeOrder_TimestampFallbackChain(t *testing.T) {
	raw := RawOrderDocument{
		"transaction": map[string]interface{}{
			"timestamp": "2025-01-02T10:00:00Z",
			"status":    "paid",
		},
	}
	o := NormalizeOrderAt(raw, nil, testNow)
	want := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	if !o.CreatedAt.Equal(want) {
		t.Fatalf("expected createdAt from transaction timestamp, got %s", o.CreatedAt)
	}
	if o.OrderDate != "2025-01-02" {
		t.Fatalf("expected orderDate derived from createdAt, got %s", o.OrderDate)
	}
}

// Normalizing an already-canonical document must be a no-op on every field a
// consumer can observe.
func TestNormalizeOrder_IdempotentOnCanonicalDocuments(t *testing.T) {
	raw := RawOrderDocument{
		"id":           "order-1",
		"customerName": "U Kyaw",
		"status":       "delivered",
		"items": []interface{}{
			map[string]interface{}{"name": "Fresh Milk", "quantity": 2, "price": 1500},
		},
		"pricePerLiter": 1500,
		"notes":         "leave at the gate",
	}
	first := NormalizeOrderAt(raw, nil, testNow)
	second := NormalizeOrderAt(RawFromDocument(first.ToDocument()), nil, testNow.Add(48*time.Hour))

	if second.ID != first.ID {
		t.Fatalf("id changed: %q -> %q", first.ID, second.ID)
	}
	if second.CustomerName != first.CustomerName || second.CustomerPhone != first.CustomerPhone {
		t.Fatalf("customer fields changed: %+v -> %+v", first, second)
	}
	if !second.Quantity.Equal(first.Quantity) || !second.TotalAmount.Equal(first.TotalAmount) {
		t.Fatalf("aggregates changed: qty %s->%s amount %s->%s",
			first.Quantity, second.Quantity, first.TotalAmount, second.TotalAmount)
	}
	if !second.PricePerLiter.Equal(first.PricePerLiter) {
		t.Fatalf("pricePerLiter changed: %s -> %s", first.PricePerLiter, second.PricePerLiter)
	}
	if second.Status != first.Status {
		t.Fatalf("status changed: %s -> %s", first.Status, second.Status)
	}
	if second.OrderDate != first.OrderDate || !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("timestamps changed: %s/%s -> %s/%s",
			first.OrderDate, first.CreatedAt, second.OrderDate, second.CreatedAt)
	}
	if len(second.OrderItems) != len(first.OrderItems) {
		t.Fatalf("item count changed: %d -> %d", len(first.OrderItems), len(second.OrderItems))
	}
	if second.Notes != first.Notes {
		t.Fatalf("notes changed: %q -> %q", first.Notes, second.Notes)
	}
}

func TestNormalizeOrder_NeverNaN(t *testing.T) {
	raw := RawOrderDocument{
		"quantity":    "not a number",
		"totalAmount": map[string]interface{}{"weird": true},
		"items": []interface{}{
			map[string]interface{}{"quantity": "??", "price": []interface{}{1}},
		},
	}
	o := NormalizeOrderAt(raw, nil, testNow)
	for _, d := range []decimal.Decimal{o.Quantity, o.TotalAmount, o.PricePerLiter} {
		// decimal cannot represent NaN; the degenerate value is zero.
		if !d.IsZero() {
			t.Fatalf("expected zero for garbage numerics, got %s", d)
		}
	}
}
