package domain

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// OrderStatus is one row of the order book as the backend reports it.
type OrderStatus struct {
	OrderID        string          `json:"OrderID"`
	Symbol         string          `json:"Symbol"`
	Status         string          `json:"Status"`
	Action         string          `json:"Action"`
	OrderType      string          `json:"OrderType"`
	Quantity       decimal.Decimal `json:"Quantity"`
	FilledQuantity decimal.Decimal `json:"FilledQuantity"`
	Price          decimal.Decimal `json:"Price"`
	Expire         string          `json:"Expire"`
	Routing        string          `json:"Routing"`
}

// RemainingQuantity is the unfilled part of the order.
func (o OrderStatus) RemainingQuantity() decimal.Decimal {
	rem := o.Quantity.Sub(o.FilledQuantity)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// OrderBook is a complete snapshot, ordered by order id.
// It is only ever replaced as a whole, never patched.
type OrderBook struct {
	entries []OrderStatus
	index   map[string]int
}

// NewOrderBook validates and orders a snapshot. Order ids must be non-empty and unique.
func NewOrderBook(entries []OrderStatus) (OrderBook, error) {
	sorted := make([]OrderStatus, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OrderID < sorted[j].OrderID })

	index := make(map[string]int, len(sorted))
	for i, e := range sorted {
		if e.OrderID == "" {
			return OrderBook{}, fmt.Errorf("%w: order id", ErrEmptyParam)
		}
		if _, dup := index[e.OrderID]; dup {
			return OrderBook{}, fmt.Errorf("%w: %s", ErrDuplicateOrder, e.OrderID)
		}
		index[e.OrderID] = i
	}
	return OrderBook{entries: sorted, index: index}, nil
}

// Len returns the number of orders
func (b OrderBook) Len() int {
	return len(b.entries)
}

// Entries returns a copy of the ordered rows.
func (b OrderBook) Entries() []OrderStatus {
	out := make([]OrderStatus, len(b.entries))
	copy(out, b.entries)
	return out
}

// Get returns the order with the given id.
func (b OrderBook) Get(orderID string) (OrderStatus, bool) {
	i, ok := b.index[orderID]
	if !ok {
		return OrderStatus{}, false
	}
	return b.entries[i], true
}

// IDs lists order ids in book order.
func (b OrderBook) IDs() []string {
	ids := make([]string, len(b.entries))
	for i, e := range b.entries {
		ids[i] = e.OrderID
	}
	return ids
}
