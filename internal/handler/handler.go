// Package handler exposes the cart engine to local UIs over REST, Server-Sent
// Events and MCP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/text/currency"

	"cartsync/internal/cartstate"
	"cartsync/internal/model"
	"cartsync/internal/notify"
)

// Cart is the engine surface the handlers drive.
type Cart interface {
	View() cartstate.View
	Loaded() bool
	AvailableStock(productID int64, total model.Stock) int
	QuantityInCart(productID int64) int
	Notifier() *notify.Notifier

	EnsureLoaded(ctx context.Context) error
	Refresh(ctx context.Context) error

	AddProduct(ctx context.Context, productID int64, quantity int, maxStock model.Stock) (model.CartSnapshot, error)
	Increment(ctx context.Context, lineID, productID int64, maxStock model.Stock) (model.CartSnapshot, error)
	Decrement(ctx context.Context, lineID, productID int64) (model.CartSnapshot, error)
	SetQuantity(ctx context.Context, lineID, productID int64, quantity int, maxStock model.Stock) (model.CartSnapshot, error)
	RemoveLine(ctx context.Context, lineID, productID int64) (model.CartSnapshot, error)
	ClearCart(ctx context.Context) (model.CartSnapshot, error)
}

// Sessions controls the shopper session the cart is bound to.
type Sessions interface {
	SetToken(raw string) error
	Clear()
	IsActive() bool
	ExpiresAt() time.Time
}

// Options carries presentation settings.
type Options struct {
	Currency currency.Unit
	Version  string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	cart     Cart
	sessions Sessions
	opts     Options
	logger   *slog.Logger
}

// New creates a new Handler over the engine and session gate.
func New(cart Cart, sessions Sessions, opts Options, logger *slog.Logger) *Handler {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Handler{
		cart:     cart,
		sessions: sessions,
		opts:     opts,
		logger:   logger,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Cart
	mux.HandleFunc("GET /cart", h.handleGetCart)
	mux.HandleFunc("DELETE /cart", h.handleClearCart)
	mux.HandleFunc("POST /cart/refresh", h.handleRefresh)
	mux.HandleFunc("POST /cart/items", h.handleAddProduct)
	mux.HandleFunc("POST /cart/lines/{id}/increment", h.handleIncrement)
	mux.HandleFunc("POST /cart/lines/{id}/decrement", h.handleDecrement)
	mux.HandleFunc("PUT /cart/lines/{id}", h.handleSetQuantity)
	mux.HandleFunc("DELETE /cart/lines/{id}", h.handleRemoveLine)
	mux.HandleFunc("GET /cart/events", h.handleEvents)
	mux.HandleFunc("GET /products/{id}/availability", h.handleAvailability)

	// Session
	mux.HandleFunc("PUT /session", h.handleStartSession)
	mux.HandleFunc("DELETE /session", h.handleEndSession)

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// asCartError extracts the CartError from err's chain, wrapping anything
// unexpected as an internal error.
func (h *Handler) asCartError(err error) *model.CartError {
	var cartErr *model.CartError
	if errors.As(err, &cartErr) {
		return cartErr
	}
	h.logger.Error("internal error", slog.String("error", err.Error()))
	return &model.CartError{
		Code:       "INTERNAL_ERROR",
		Message:    "an internal error occurred",
		StatusCode: http.StatusInternalServerError,
	}
}

// writeError sends an error response without a cart body.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	cartErr := h.asCartError(err)
	h.writeJSON(w, cartErr.StatusCode, errorResponse{Error: toErrorBody(cartErr)})
}

// writeCartError sends an error together with the cart as it stands after
// the failed intent (rolled back, or untouched when rejected up front), so the
// UI can re-render without a second request.
func (h *Handler) writeCartError(w http.ResponseWriter, err error) {
	cartErr := h.asCartError(err)
	view := h.currentView()
	h.writeJSON(w, cartErr.StatusCode, errorResponse{
		Error: toErrorBody(cartErr),
		Cart:  &view,
	})
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
	Cart  *CartView `json:"cart,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Ceiling *int   `json:"ceiling,omitempty"`
}

func toErrorBody(e *model.CartError) errorBody {
	body := errorBody{Code: e.Code, Message: e.Message}
	if ceiling, ok := model.CeilingOf(e); ok {
		body.Ceiling = &ceiling
	}
	return body
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		// Don't expose internal error details to client
		return model.NewBadRequestError("body", "invalid JSON")
	}
	return nil
}

// pathID parses the {id} path segment.
func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, model.NewBadRequestError("id", "must be a positive integer")
	}
	return id, nil
}
