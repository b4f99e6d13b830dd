// Package ledger is the thin contract over the three logical collections the
// back office keeps (inventory, orders, payments). It intentionally exposes no
// transaction primitive: the consistency engine above it is written for a
// store that cannot atomically span documents, and callers must not start
// assuming otherwise.
package ledger

import "context"

type Collection string

const (
	CollectionInventory Collection = "inventory"
	CollectionOrders    Collection = "orders"
	CollectionPayments  Collection = "payments"
)

// Collections lists every logical collection, in cache-subscription order.
func Collections() []Collection {
	return []Collection{CollectionInventory, CollectionOrders, CollectionPayments}
}

// Document is one loosely-typed record. The "id" field is assigned on insert.
type Document map[string]interface{}

func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// Clone deep-copies the document so snapshots handed to subscribers never
// alias store-owned state.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case Document:
		return map[string]interface{}(val.Clone())
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

// Store is the read/write/subscribe contract consumed by the rest of the core.
//
// Subscribe delivers full-collection snapshots (not diffs), ordered by server
// write time within that collection only; there is no cross-collection
// ordering guarantee. The returned function tears the subscription down and
// does not return until no further callbacks will be started.
type Store interface {
	ListAll(ctx context.Context, c Collection) ([]Document, error)
	Get(ctx context.Context, c Collection, id string) (Document, error)
	Insert(ctx context.Context, c Collection, doc Document) (string, error)
	Update(ctx context.Context, c Collection, id string, partial Document) error
	Delete(ctx context.Context, c Collection, id string) error
	Subscribe(c Collection, onSnapshot func(docs []Document), onError func(err error)) (unsubscribe func())
}
