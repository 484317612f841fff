// Package ledger answers "how many more units of a product can be added"
// without any I/O. It reads the cart's per-product quantity index and never
// mutates it.
package ledger

import "cartsync/internal/model"

// DefaultFallback is the ceiling assumed when the backend reports no stock.
// Unknown stock must never block the shopper.
const DefaultFallback = 999

// Index is the per-product quantity lookup the ledger reads.
type Index interface {
	QuantityOf(productID int64) int
}

// Ledger computes remaining purchasable units.
type Ledger struct {
	// Fallback replaces an unknown total stock.
	Fallback int
}

// New returns a Ledger; a non-positive fallback selects DefaultFallback.
func New(fallback int) Ledger {
	if fallback <= 0 {
		fallback = DefaultFallback
	}
	return Ledger{Fallback: fallback}
}

// QuantityInCart returns the units of productID currently held, 0 if absent.
func (l Ledger) QuantityInCart(idx Index, productID int64) int {
	if idx == nil {
		return 0
	}
	return idx.QuantityOf(productID)
}

// AvailableStock returns max(total - inCart, 0).
func (l Ledger) AvailableStock(idx Index, productID int64, total model.Stock) int {
	units := l.Ceiling(total)
	remaining := units - l.QuantityInCart(idx, productID)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Ceiling resolves a Stock to a concrete unit count.
func (l Ledger) Ceiling(total model.Stock) int {
	if !total.Known {
		if l.Fallback <= 0 {
			return DefaultFallback
		}
		return l.Fallback
	}
	return total.Units
}

// Admits reports whether adding delta units of productID stays within total.
// The second result is the ceiling to report when it does not.
func (l Ledger) Admits(idx Index, productID int64, total model.Stock, delta int) (bool, int) {
	available := l.AvailableStock(idx, productID, total)
	return delta <= available, available
}

// Map is an Index backed by a plain map, handy for callers holding a detached copy.
type Map map[int64]int

// QuantityOf implements Index.
func (m Map) QuantityOf(productID int64) int {
	return m[productID]
}
