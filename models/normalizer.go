package models

import (
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/dairy_backend/utils"
	"github.com/shopspring/decimal"
)

// numberExtractor pulls one candidate numeric value out of a raw document.
// Chains of extractors are evaluated left-to-right, short-circuiting on the
// first strictly positive result; chain order is the de facto
// schema-resolution policy and must not be reordered casually.
type numberExtractor func(raw RawOrderDocument) (decimal.Decimal, bool)

func fieldNumber(keys ...string) numberExtractor {
	return func(raw RawOrderDocument) (decimal.Decimal, bool) {
		for _, key := range keys {
			if v, ok := raw[key]; ok && v != nil {
				return utils.ParseNumeric(v), true
			}
		}
		return decimal.Zero, false
	}
}

func resolveNumber(raw RawOrderDocument, chain []numberExtractor) decimal.Decimal {
	for _, extract := range chain {
		if d, ok := extract(raw); ok && d.IsPositive() {
			return d
		}
	}
	return decimal.Zero
}

// Item-level fallback chains. Explicit quantity fields first; label/text
// fields are a last resort parsed numerically ("2 Liters" -> 2).
var itemQuantityChain = []numberExtractor{
	fieldNumber("quantity"),
	fieldNumber("qty"),
	fieldNumber("liters"),
	fieldNumber("litres"),
	fieldNumber("units"),
	fieldNumber("packets"),
	fieldNumber("quantityLabel"),
	fieldNumber("label"),
}

var itemPriceChain = []numberExtractor{
	fieldNumber("price"),
	fieldNumber("unitPrice"),
	fieldNumber("pricePerLiter"),
	fieldNumber("pricePerUnit"),
	fieldNumber("sellingPrice"),
	fieldNumber("rate"),
	fieldNumber("amount"),
}

var itemBasePriceChain = []numberExtractor{
	fieldNumber("basePrice"),
	fieldNumber("base_price"),
	fieldNumber("mrp"),
	fieldNumber("originalPrice"),
}

var (
	itemListKeys    = []string{"orderItems", "items", "cartItems", "cart", "products"}
	transactionKeys = []string{"transaction", "transactionDetails", "paymentDetails"}
)

// NormalizeOrder projects one raw order document (plus an optional linked
// customer profile) into the canonical order shape. Pure function, no I/O;
// it must not fail for any input shape, including an empty document: every
// derived numeric degrades to zero and every text field to a generic default.
func NormalizeOrder(raw RawOrderDocument, profile *CustomerProfile) CanonicalOrder {
	return NormalizeOrderAt(raw, profile, time.Now().UTC())
}

// NormalizeOrderAt is NormalizeOrder with an explicit "now" for the
// timestamp-defaulting rules.
func NormalizeOrderAt(raw RawOrderDocument, profile *CustomerProfile, now time.Time) CanonicalOrder {
	if raw == nil {
		raw = RawOrderDocument{}
	}

	o := CanonicalOrder{
		ID: raw.FirstString("id", "_id", "orderId"),
	}

	resolveCustomer(&o, raw, profile)

	txn := raw.Sub(transactionKeys...)

	// Order-level default price per unit, used when item lines carry no price
	// of their own.
	defaultUnitPrice := utils.FirstPositive(
		raw.FirstValue("pricePerLiter"),
		raw.FirstValue("pricePerUnit"),
		raw.FirstValue("unitPrice"),
		raw.FirstValue("price"),
	)

	items := raw.List(itemListKeys...)
	hadItemList := raw.HasList(itemListKeys...)

	totalQuantity := decimal.Zero
	totalAmount := decimal.Zero
	normItems := make([]OrderItem, 0, len(items))
	for _, it := range items {
		item := normalizeItem(it, defaultUnitPrice)
		totalQuantity = totalQuantity.Add(item.Quantity)
		totalAmount = totalAmount.Add(item.Quantity.Mul(item.Price))
		normItems = append(normItems, item)
	}

	if len(items) == 0 {
		totalQuantity = utils.FirstPositive(
			raw.FirstValue("quantity"),
			raw.FirstValue("qty"),
			raw.FirstValue("liters"),
			raw.FirstValue("totalQuantity"),
		)
		totalAmount = utils.FirstPositive(
			raw.FirstValue("totalAmount"),
			raw.FirstValue("amount"),
			raw.FirstValue("total"),
			txn.FirstValue("amount"),
			txn.FirstValue("totalAmount"),
		)
		// An amount with no quantity still means something was sold.
		if totalQuantity.IsZero() && totalAmount.IsPositive() {
			totalQuantity = decimal.NewFromInt(1)
		}
	}

	if !hadItemList && (totalQuantity.IsPositive() || totalAmount.IsPositive()) {
		// Keep the item list non-empty for consumers without fabricating
		// precision beyond the aggregate numbers.
		normItems = append(normItems, synthesizeItem(raw, totalQuantity, totalAmount, defaultUnitPrice))
	}

	o.OrderItems = normItems
	o.Quantity = totalQuantity
	o.TotalAmount = totalAmount
	o.PricePerLiter = derivePricePerLiter(raw, totalQuantity, totalAmount, defaultUnitPrice)

	o.Status = MapUpstreamStatus(raw.FirstString("status", "orderStatus", "subscriptionStatus"))
	if transactionStatusCompleted(txn.FirstString("status", "paymentStatus")) {
		o.Status = OrderStatusCompleted
	}

	resolveTimestamps(&o, raw, txn, now)
	resolvePayment(&o, raw, txn)

	o.Notes = raw.FirstString("notes", "note", "remarks")
	return o
}

func resolveCustomer(o *CanonicalOrder, raw RawOrderDocument, profile *CustomerProfile) {
	name := ""
	phone := ""
	address := ""
	locationLink := ""
	if profile != nil {
		name = strings.TrimSpace(profile.Name)
		phone = strings.TrimSpace(profile.Phone)
		address = strings.TrimSpace(profile.DefaultAddress)
		locationLink = strings.TrimSpace(profile.LocationLink)
	}

	if name == "" {
		name = raw.FirstString("customerName", "customer_name", "name", "fullName")
	}
	if name == "" {
		name = "Customer"
	}

	if phone == "" {
		phone = raw.FirstString("customerPhone", "customer_phone", "phone", "phoneNumber", "mobile", "contact")
	}
	if phone == "" {
		phone = "N/A"
	} else {
		phone = utils.FormatPhone(phone)
	}

	if address == "" {
		if sub := raw.Sub("address", "deliveryAddress"); sub != nil {
			address = flattenAddress(sub)
		}
	}
	if address == "" {
		address = raw.FirstString("customerAddress", "customer_address", "deliveryAddress", "address")
	}
	if address == "" {
		address = "Address not provided"
	}

	if locationLink == "" {
		locationLink = raw.FirstString("locationLink", "mapLink", "locationUrl", "location_url")
	}

	o.CustomerName = name
	o.CustomerPhone = phone
	o.CustomerAddress = address
	o.LocationLink = locationLink
}

func flattenAddress(sub RawOrderDocument) string {
	parts := make([]string, 0, 4)
	for _, key := range []string{"line1", "street", "line2", "area", "landmark", "city"} {
		if v := sub.FirstString(key); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}

func normalizeItem(it RawOrderDocument, defaultUnitPrice decimal.Decimal) OrderItem {
	quantity := resolveNumber(it, itemQuantityChain)

	price := resolveNumber(it, itemPriceChain)
	if price.IsZero() {
		price = defaultUnitPrice
	}
	basePrice := resolveNumber(it, itemBasePriceChain)
	if basePrice.IsZero() {
		basePrice = price
	}

	// One priced line item is a sane minimum: revenue implies at least one unit.
	if quantity.IsZero() && price.IsPositive() {
		quantity = decimal.NewFromInt(1)
	}

	name := it.FirstString("name", "itemName", "title", "product")
	if name == "" {
		name = defaultItemName
	}
	category := it.FirstString("category", "categoryName")
	if category == "" {
		category = defaultItemCategory
	}

	return OrderItem{
		Name:      name,
		Category:  category,
		Quantity:  quantity,
		Price:     price,
		BasePrice: basePrice,
	}
}

func synthesizeItem(raw RawOrderDocument, quantity, amount, defaultUnitPrice decimal.Decimal) OrderItem {
	name := defaultItemName
	if freq := raw.FirstString("frequency", "plan"); freq != "" {
		name = titleCase(freq) + " Plan"
	}
	price := defaultUnitPrice
	if quantity.IsPositive() && amount.IsPositive() {
		price = amount.Div(quantity)
	}
	return OrderItem{
		Name:      name,
		Category:  defaultItemCategory,
		Quantity:  quantity,
		Price:     price,
		BasePrice: price,
	}
}

func derivePricePerLiter(raw RawOrderDocument, quantity, amount, defaultUnitPrice decimal.Decimal) decimal.Decimal {
	if explicit := utils.ParseNumeric(raw.FirstValue("pricePerLiter")); explicit.IsPositive() {
		return explicit
	}
	if quantity.IsPositive() && amount.IsPositive() {
		return amount.Div(quantity)
	}
	return defaultUnitPrice
}

func resolveTimestamps(o *CanonicalOrder, raw RawOrderDocument, txn RawOrderDocument, now time.Time) {
	created, ok := raw.FirstTime("createdAt", "created_at", "creationTime", "timestamp")
	if !ok {
		created, ok = txn.FirstTime("timestamp", "time", "paidAt")
	}
	if !ok {
		created = now
	}
	o.CreatedAt = created

	if updated, ok := raw.FirstTime("updatedAt", "updated_at"); ok {
		o.UpdatedAt = updated
	} else {
		o.UpdatedAt = created
	}

	o.OrderDate = raw.FirstString("orderDate", "order_date")
	if o.OrderDate == "" {
		o.OrderDate = utils.DayKey(created)
	}
	o.OrderTime = raw.FirstString("orderTime", "order_time")
	if o.OrderTime == "" {
		o.OrderTime = created.Format("15:04")
	}

	o.DeliveryDate = raw.FirstString("deliveryDate", "delivery_date")
	o.DeliveryTime = raw.FirstString("deliveryTime", "delivery_time", "deliverySlot")

	if t, ok := raw.FirstTime("completedTime", "completedAt"); ok {
		o.CompletedTime = &t
	}
	if t, ok := raw.FirstTime("cancelledTime", "cancelledAt"); ok {
		o.CancelledTime = &t
	}
}

func resolvePayment(o *CanonicalOrder, raw RawOrderDocument, txn RawOrderDocument) {
	o.PaymentMethod = txn.FirstString("method", "paymentMethod")
	if o.PaymentMethod == "" {
		o.PaymentMethod = raw.FirstString("paymentMethod", "payment_method")
	}

	if typ := PaymentType(strings.ToLower(raw.FirstString("paymentType", "payment_type"))); typ.Valid() {
		o.PaymentType = typ
		return
	}
	// A transaction sub-object reporting a status means the order went
	// through an online payment flow.
	if txn.FirstString("status", "paymentStatus") != "" {
		o.PaymentType = PaymentTypeOnline
		return
	}
	o.PaymentType = PaymentTypeOffline
}

func titleCase(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
