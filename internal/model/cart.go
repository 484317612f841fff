// Package model defines the cart domain types shared by every layer of the
// engine: lines, snapshots, stock ceilings and the error taxonomy.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductRef identifies the product a cart line holds.
type ProductRef struct {
	ID       int64  `json:"id"`
	Name     string `json:"name,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Stock is a product's total purchasable units.
// Known is false when the backend did not report a stock figure; callers must
// then treat availability as unconstrained (see ledger.Ledger.Fallback).
type Stock struct {
	Units int  `json:"units"`
	Known bool `json:"known"`
}

// UnknownStock is the zero Stock: no ceiling reported.
var UnknownStock = Stock{}

// KnownStock returns a Stock with a reported ceiling of n units.
func KnownStock(n int) Stock {
	return Stock{Units: n, Known: true}
}

// StockFromPtr converts an optional wire value into a Stock.
func StockFromPtr(n *int) Stock {
	if n == nil {
		return UnknownStock
	}
	return KnownStock(*n)
}

// CartLine is one product-quantity-price record in the cart.
// Quantity is always >= 1 while the line exists.
type CartLine struct {
	ID        int64           `json:"id"`
	Product   ProductRef      `json:"product"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	MaxStock  Stock           `json:"max_stock"`
}

// Subtotal returns unit price × quantity.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// WithQuantity returns a copy of the line holding q units.
func (l CartLine) WithQuantity(q int) CartLine {
	l.Quantity = q
	return l
}

// CartSnapshot is the aggregate view of the cart.
// Lines keep the order the backend returned them in; optimistic inserts append.
type CartSnapshot struct {
	ID        int64      `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	Status    string     `json:"status"`
	Lines     []CartLine `json:"lines"`
}

// Total sums every line's subtotal.
func (s CartSnapshot) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// LineCount is the number of distinct lines, used by cart badges.
func (s CartSnapshot) LineCount() int {
	return len(s.Lines)
}

// Empty reports whether the snapshot holds no lines.
func (s CartSnapshot) Empty() bool {
	return len(s.Lines) == 0
}

// Line returns the line with the given id.
func (s CartSnapshot) Line(id int64) (CartLine, bool) {
	for _, l := range s.Lines {
		if l.ID == id {
			return l, true
		}
	}
	return CartLine{}, false
}

// Clone returns a deep copy so the receiver can be mutated independently.
func (s CartSnapshot) Clone() CartSnapshot {
	out := s
	if s.Lines != nil {
		out.Lines = make([]CartLine, len(s.Lines))
		copy(out.Lines, s.Lines)
	}
	return out
}
