package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"cartsync/internal/model"
)

// addProductRequest is the body of POST /cart/items.
// Quantity defaults to 1; Stock is the product's total stock when the caller knows it.
type addProductRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  *int  `json:"quantity,omitempty"`
	Stock     *int  `json:"stock,omitempty"`
}

// lineRequest is the optional body of the line endpoints. ProductID, when
// set, must match the line.
type lineRequest struct {
	ProductID int64 `json:"product_id,omitempty"`
	Quantity  *int  `json:"quantity,omitempty"`
	Stock     *int  `json:"stock,omitempty"`
}

// handleGetCart returns the cart, loading it on first use in a session.
// GET /cart
func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	if h.sessions.IsActive() {
		if err := h.cart.EnsureLoaded(r.Context()); err != nil {
			h.writeCartError(w, err)
			return
		}
	}
	h.writeJSON(w, http.StatusOK, h.currentView())
}

// handleRefresh replaces the local cart with the service's view.
// POST /cart/refresh
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.cart.Refresh(r.Context()); err != nil {
		h.writeCartError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.currentView())
}

// handleAddProduct adds units of a product.
// POST /cart/items
func (h *Handler) handleAddProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req addProductRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	h.logger.DebugContext(ctx, "adding product",
		slog.Int64("product_id", req.ProductID),
		slog.Int("quantity", quantity),
	)

	_, err := h.cart.AddProduct(ctx, req.ProductID, quantity, model.StockFromPtr(req.Stock))
	h.respond(w, err)
}

// handleIncrement adds one unit to a line.
// POST /cart/lines/{id}/increment
func (h *Handler) handleIncrement(w http.ResponseWriter, r *http.Request) {
	lineID, req, ok := h.lineInput(w, r)
	if !ok {
		return
	}
	_, err := h.cart.Increment(r.Context(), lineID, req.ProductID, model.StockFromPtr(req.Stock))
	h.respond(w, err)
}

// handleDecrement removes one unit from a line.
// POST /cart/lines/{id}/decrement
func (h *Handler) handleDecrement(w http.ResponseWriter, r *http.Request) {
	lineID, req, ok := h.lineInput(w, r)
	if !ok {
		return
	}
	_, err := h.cart.Decrement(r.Context(), lineID, req.ProductID)
	h.respond(w, err)
}

// handleSetQuantity sets a line's quantity.
// PUT /cart/lines/{id}
func (h *Handler) handleSetQuantity(w http.ResponseWriter, r *http.Request) {
	lineID, req, ok := h.lineInput(w, r)
	if !ok {
		return
	}
	if req.Quantity == nil {
		h.writeError(w, model.NewBadRequestError("quantity", "required"))
		return
	}
	_, err := h.cart.SetQuantity(r.Context(), lineID, req.ProductID, *req.Quantity, model.StockFromPtr(req.Stock))
	h.respond(w, err)
}

// handleRemoveLine deletes a line. An optional product_id query parameter
// must match the line.
// DELETE /cart/lines/{id}
func (h *Handler) handleRemoveLine(w http.ResponseWriter, r *http.Request) {
	lineID, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var productID int64
	if raw := r.URL.Query().Get("product_id"); raw != "" {
		productID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, model.NewBadRequestError("product_id", "must be an integer"))
			return
		}
	}
	_, err = h.cart.RemoveLine(r.Context(), lineID, productID)
	h.respond(w, err)
}

// handleClearCart empties the cart.
// DELETE /cart
func (h *Handler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	_, err := h.cart.ClearCart(r.Context())
	h.respond(w, err)
}

// handleAvailability reports how many more units of a product fit.
// The optional stock query parameter is the product's total stock.
// GET /products/{id}/availability
func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	total := model.UnknownStock
	if raw := r.URL.Query().Get("stock"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, model.NewBadRequestError("stock", "must be a non-negative integer"))
			return
		}
		total = model.KnownStock(n)
	}

	h.writeJSON(w, http.StatusOK, h.availabilityView(productID, total))
}

// lineInput parses the line id and the optional body of a line endpoint,
// writing the error response itself when either is invalid.
func (h *Handler) lineInput(w http.ResponseWriter, r *http.Request) (int64, lineRequest, bool) {
	var req lineRequest
	lineID, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return 0, req, false
	}
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return 0, req, false
	}
	return lineID, req, true
}

// respond writes the outcome of an intent with the cart as it now stands.
func (h *Handler) respond(w http.ResponseWriter, err error) {
	if err != nil {
		h.writeCartError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.currentView())
}
