package handler

import (
	"time"

	"cartsync/internal/cartstate"
	"cartsync/internal/model"
)

// CartView is the cart as rendered to local UIs. Amounts are strings at the
// currency's standard scale.
type CartView struct {
	ID            int64      `json:"id"`
	Status        string     `json:"status,omitempty"`
	CreatedAt     string     `json:"created_at,omitempty"`
	Currency      string     `json:"currency"`
	Lines         []LineView `json:"lines"`
	LineCount     int        `json:"line_count"`
	Total         string     `json:"total"`
	TotalMinor    int64      `json:"total_minor"`
	Clearing      bool       `json:"clearing"`
	SessionActive bool       `json:"session_active"`
	Loaded        bool       `json:"loaded"`
}

// LineView is one cart line.
type LineView struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Name      string `json:"name,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Subtotal  string `json:"subtotal"`
	MaxStock  *int   `json:"max_stock,omitempty"`
	Pending   bool   `json:"pending"`
}

// AvailabilityView answers how many more units of a product fit in the cart.
type AvailabilityView struct {
	ProductID  int64 `json:"product_id"`
	InCart     int   `json:"in_cart"`
	Available  int   `json:"available"`
	StockKnown bool  `json:"stock_known"`
}

// currentView renders the cart as it stands now.
func (h *Handler) currentView() CartView {
	return h.cartView(h.cart.View())
}

// cartView renders one coherent read of the state, so pending marks always
// belong to the lines they are shown on.
func (h *Handler) cartView(v cartstate.View) CartView {
	cur := h.opts.Currency
	snap := v.Snapshot
	total := snap.Total()

	view := CartView{
		ID:            snap.ID,
		Status:        snap.Status,
		Currency:      cur.String(),
		Lines:         make([]LineView, 0, len(snap.Lines)),
		LineCount:     snap.LineCount(),
		Total:         model.FormatAmount(total, cur),
		TotalMinor:    model.MinorUnits(total, cur),
		Clearing:      v.Clearing,
		SessionActive: h.sessions.IsActive(),
		Loaded:        v.Loaded,
	}
	if !snap.CreatedAt.IsZero() {
		view.CreatedAt = snap.CreatedAt.Format(time.RFC3339)
	}

	for _, l := range snap.Lines {
		lv := LineView{
			ID:        l.ID,
			ProductID: l.Product.ID,
			Name:      l.Product.Name,
			ImageURL:  l.Product.ImageURL,
			UnitPrice: model.FormatAmount(l.UnitPrice, cur),
			Quantity:  l.Quantity,
			Subtotal:  model.FormatAmount(l.Subtotal(), cur),
			Pending:   v.IsPending(l.ID),
		}
		if l.MaxStock.Known {
			units := l.MaxStock.Units
			lv.MaxStock = &units
		}
		view.Lines = append(view.Lines, lv)
	}
	return view
}

func (h *Handler) availabilityView(productID int64, total model.Stock) AvailabilityView {
	return AvailabilityView{
		ProductID:  productID,
		InCart:     h.cart.QuantityInCart(productID),
		Available:  h.cart.AvailableStock(productID, total),
		StockKnown: total.Known,
	}
}
