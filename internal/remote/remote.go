// Package remote talks to the cart service that owns the cart's source of truth.
package remote

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cartsync/internal/model"
)

// Cart is the remote cart service as the engine sees it.
// Every method is one round-trip; none retries.
type Cart interface {
	FetchCart(ctx context.Context) (model.CartSnapshot, error)
	// AddItem returns the line the service created or grew, or nil when the
	// response did not identify it.
	AddItem(ctx context.Context, productID int64, quantity int) (*model.CartLine, error)
	SetQuantity(ctx context.Context, lineID int64, quantity int) error
	Increment(ctx context.Context, lineID int64) error
	Decrement(ctx context.Context, lineID int64) error
	RemoveLine(ctx context.Context, lineID int64) error
	Clear(ctx context.Context) error
}

// TokenSource supplies the bearer token for each call. An empty token means
// no session; the call is rejected before any network attempt.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

// Token implements TokenSource.
func (f TokenFunc) Token() string { return f() }

// === Wire types ===

// Detail is one cart line as the service serialises it.
type Detail struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"productId"`
	ProductName string          `json:"productName"`
	ImageURL    string          `json:"imageUrl"`
	Stock       *int            `json:"stock,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// CartResponse is the body of GET cart.
type CartResponse struct {
	ID           int64           `json:"id"`
	CreationDate string          `json:"creationDate"`
	Status       string          `json:"status"`
	Details      []Detail        `json:"details"`
	Total        decimal.Decimal `json:"total"`
}

// addResponse covers both shapes seen from POST cart: the whole cart or the
// touched line.
type addResponse struct {
	Detail
	Details []Detail `json:"details"`
}

type addRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type setQuantityRequest struct {
	CartDetailID int64 `json:"cartDetailId"`
	Quantity     int   `json:"quantity"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// === Conversions ===

// ToLine converts a wire detail to a cart line. The subtotal is recomputed.
func (d Detail) ToLine() model.CartLine {
	return model.CartLine{
		ID: d.ID,
		Product: model.ProductRef{
			ID:       d.ProductID,
			Name:     d.ProductName,
			ImageURL: d.ImageURL,
		},
		UnitPrice: d.UnitPrice,
		Quantity:  d.Quantity,
		MaxStock:  model.StockFromPtr(d.Stock),
	}
}

// ToSnapshot converts a GET cart body. Lines with a non-positive quantity are dropped.
func (r CartResponse) ToSnapshot() model.CartSnapshot {
	snap := model.CartSnapshot{
		ID:        r.ID,
		CreatedAt: parseCreationDate(r.CreationDate),
		Status:    r.Status,
		Lines:     make([]model.CartLine, 0, len(r.Details)),
	}
	for _, d := range r.Details {
		if d.Quantity <= 0 {
			continue
		}
		snap.Lines = append(snap.Lines, d.ToLine())
	}
	return snap
}

// line picks the line for productID out of an add response.
func (r addResponse) line(productID int64) *model.CartLine {
	for _, d := range r.Details {
		if d.ProductID == productID && d.ID != 0 && d.Quantity > 0 {
			l := d.ToLine()
			return &l
		}
	}
	if r.Detail.ID != 0 && r.Detail.ProductID == productID && r.Detail.Quantity > 0 {
		l := r.Detail.ToLine()
		return &l
	}
	return nil
}

// creationLayouts are the timestamp shapes the service has been seen to emit.
var creationLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseCreationDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range creationLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
