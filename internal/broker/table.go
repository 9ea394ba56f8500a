package broker

import (
	"sort"
)

// orderTable maps exchange order ids to live orders. It is not safe for
// concurrent use; the broker guards it with the order-state lock.
type orderTable struct {
	orders map[string]*Order
}

func newOrderTable() *orderTable {
	return &orderTable{orders: make(map[string]*Order)}
}

func (t *orderTable) get(id string) (*Order, bool) {
	o, ok := t.orders[id]
	return o, ok
}

func (t *orderTable) put(o *Order) {
	t.orders[o.ID] = o
}

func (t *orderTable) remove(id string) {
	delete(t.orders, id)
}

func (t *orderTable) len() int {
	return len(t.orders)
}

// snapshot returns clones ordered by creation time, then id.
func (t *orderTable) snapshot() []*Order {
	out := make([]*Order, 0, len(t.orders))
	for _, o := range t.orders {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
