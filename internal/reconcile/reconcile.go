// Package reconcile compares the locally held cart with a freshly fetched one.
// The engine uses it when a refetch replaces local state, so that silent
// corrections (lines the service dropped, quantities it capped, prices it
// changed) are visible in logs instead of simply overwritten.
package reconcile

import (
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"cartsync/internal/model"
)

// Drift describes how the fetched cart differs from the local one.
// Lines are matched by line ID.
type Drift struct {
	Added    []LineChange // Lines the service has that the local cart lacks
	Removed  []LineChange // Local lines the service no longer has
	Quantity []LineChange // Lines whose quantity differs
	Price    []LineChange // Lines whose unit price differs
	Stock    []LineChange // Lines whose stock ceiling differs
}

// LineChange is one line's before/after pair. Zero values stand in for the
// side that does not exist.
type LineChange struct {
	LineID      int64
	ProductID   int64
	OldQuantity int
	NewQuantity int
	OldPrice    decimal.Decimal
	NewPrice    decimal.Decimal
	OldStock    model.Stock
	NewStock    model.Stock
}

// IsEmpty returns true if the two carts hold the same lines.
func (d *Drift) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 &&
		len(d.Quantity) == 0 && len(d.Price) == 0 && len(d.Stock) == 0
}

// LogValue groups the change counts for structured logging.
func (d *Drift) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("added", len(d.Added)),
		slog.Int("removed", len(d.Removed)),
		slog.Int("quantity", len(d.Quantity)),
		slog.Int("price", len(d.Price)),
		slog.Int("stock", len(d.Stock)),
	)
}

// Diff computes the drift from local to fetched. Each slice is ordered by
// line ID.
func Diff(local, fetched []model.CartLine) *Drift {
	drift := &Drift{}

	localByID := make(map[int64]model.CartLine, len(local))
	for _, l := range local {
		localByID[l.ID] = l
	}
	fetchedByID := make(map[int64]model.CartLine, len(fetched))
	for _, l := range fetched {
		fetchedByID[l.ID] = l
	}

	for id, now := range fetchedByID {
		before, exists := localByID[id]
		if !exists {
			drift.Added = append(drift.Added, change(model.CartLine{}, now))
			continue
		}
		c := change(before, now)
		if before.Quantity != now.Quantity {
			drift.Quantity = append(drift.Quantity, c)
		}
		if !before.UnitPrice.Equal(now.UnitPrice) {
			drift.Price = append(drift.Price, c)
		}
		if before.MaxStock != now.MaxStock {
			drift.Stock = append(drift.Stock, c)
		}
	}

	for id, before := range localByID {
		if _, exists := fetchedByID[id]; !exists {
			drift.Removed = append(drift.Removed, change(before, model.CartLine{}))
		}
	}

	for _, s := range [][]LineChange{drift.Added, drift.Removed, drift.Quantity, drift.Price, drift.Stock} {
		sortByLine(s)
	}
	return drift
}

func change(before, now model.CartLine) LineChange {
	productID := now.Product.ID
	if productID == 0 {
		productID = before.Product.ID
	}
	return LineChange{
		LineID:      max(before.ID, now.ID),
		ProductID:   productID,
		OldQuantity: before.Quantity,
		NewQuantity: now.Quantity,
		OldPrice:    before.UnitPrice,
		NewPrice:    now.UnitPrice,
		OldStock:    before.MaxStock,
		NewStock:    now.MaxStock,
	}
}

func sortByLine(changes []LineChange) {
	sort.Slice(changes, func(i, j int) bool { return changes[i].LineID < changes[j].LineID })
}
