// MCP transport handler using the official MCP Go SDK.
// Exposes the cart intents as MCP tools for assistant-driven shopping.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"cartsync/internal/model"
)

// === MCP Tool Input Types ===
// Optional fields carry omitempty so they are not required by the inferred schema.

// GetCartInput is the input schema for get_cart tool.
type GetCartInput struct {
	Refresh bool `json:"refresh,omitempty" jsonschema:"refetch the cart from the service first"`
}

// AddProductInput is the input schema for add_product tool.
type AddProductInput struct {
	ProductID int64 `json:"product_id" jsonschema:"product to add"`
	Quantity  int   `json:"quantity,omitempty" jsonschema:"units to add, defaults to 1"`
	Stock     *int  `json:"stock,omitempty" jsonschema:"product's total stock when known"`
}

// LineInput is the input schema for increment_line, decrement_line and remove_line.
type LineInput struct {
	LineID    int64 `json:"line_id" jsonschema:"cart line to change"`
	ProductID int64 `json:"product_id,omitempty" jsonschema:"product expected on the line"`
	Stock     *int  `json:"stock,omitempty" jsonschema:"product's total stock when known"`
}

// SetQuantityInput is the input schema for set_quantity tool.
type SetQuantityInput struct {
	LineID    int64 `json:"line_id" jsonschema:"cart line to change"`
	Quantity  int   `json:"quantity" jsonschema:"new quantity, at least 1"`
	ProductID int64 `json:"product_id,omitempty" jsonschema:"product expected on the line"`
	Stock     *int  `json:"stock,omitempty" jsonschema:"product's total stock when known"`
}

// ClearCartInput is the input schema for clear_cart tool.
type ClearCartInput struct{}

// AvailableStockInput is the input schema for available_stock tool.
type AvailableStockInput struct {
	ProductID int64 `json:"product_id" jsonschema:"product to check"`
	Stock     *int  `json:"stock,omitempty" jsonschema:"product's total stock when known"`
}

// NewMCPServer creates an MCP server with cart tools registered.
// The server exposes the same operations as the REST API but via MCP protocol.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "cartsync",
			Version: h.opts.Version,
		},
		&mcp.ServerOptions{
			Instructions: "Shopping cart for the signed-in shopper. " +
				"Changes apply immediately and are rolled back if the store rejects them.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_cart",
		Description: "Get the cart with its lines, line count and total.",
	}, h.mcpGetCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_product",
		Description: "Add units of a product to the cart. Fails if the stock is exhausted.",
	}, h.mcpAddProduct)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "increment_line",
		Description: "Add one unit to a cart line.",
	}, h.mcpIncrementLine)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "decrement_line",
		Description: "Remove one unit from a cart line. A line at quantity 1 must be removed instead.",
	}, h.mcpDecrementLine)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_quantity",
		Description: "Set the quantity of a cart line.",
	}, h.mcpSetQuantity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_line",
		Description: "Remove a line from the cart.",
	}, h.mcpRemoveLine)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "clear_cart",
		Description: "Remove every line from the cart.",
	}, h.mcpClearCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "available_stock",
		Description: "How many more units of a product can be added to the cart.",
	}, h.mcpAvailableStock)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpGetCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetCartInput,
) (*mcp.CallToolResult, *CartView, error) {
	var err error
	switch {
	case input.Refresh:
		err = h.cart.Refresh(ctx)
	case h.sessions.IsActive():
		err = h.cart.EnsureLoaded(ctx)
	}
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	view := h.currentView()
	return nil, &view, nil
}

func (h *Handler) mcpAddProduct(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddProductInput,
) (*mcp.CallToolResult, *CartView, error) {
	quantity := input.Quantity
	if quantity == 0 {
		quantity = 1
	}
	_, err := h.cart.AddProduct(ctx, input.ProductID, quantity, model.StockFromPtr(input.Stock))
	return h.mcpResult(err)
}

func (h *Handler) mcpIncrementLine(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input LineInput,
) (*mcp.CallToolResult, *CartView, error) {
	_, err := h.cart.Increment(ctx, input.LineID, input.ProductID, model.StockFromPtr(input.Stock))
	return h.mcpResult(err)
}

func (h *Handler) mcpDecrementLine(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input LineInput,
) (*mcp.CallToolResult, *CartView, error) {
	_, err := h.cart.Decrement(ctx, input.LineID, input.ProductID)
	return h.mcpResult(err)
}

func (h *Handler) mcpSetQuantity(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SetQuantityInput,
) (*mcp.CallToolResult, *CartView, error) {
	_, err := h.cart.SetQuantity(ctx, input.LineID, input.ProductID, input.Quantity, model.StockFromPtr(input.Stock))
	return h.mcpResult(err)
}

func (h *Handler) mcpRemoveLine(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input LineInput,
) (*mcp.CallToolResult, *CartView, error) {
	_, err := h.cart.RemoveLine(ctx, input.LineID, input.ProductID)
	return h.mcpResult(err)
}

func (h *Handler) mcpClearCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ClearCartInput,
) (*mcp.CallToolResult, *CartView, error) {
	_, err := h.cart.ClearCart(ctx)
	return h.mcpResult(err)
}

func (h *Handler) mcpAvailableStock(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AvailableStockInput,
) (*mcp.CallToolResult, *AvailabilityView, error) {
	if input.ProductID <= 0 {
		return nil, nil, h.mcpError(model.NewBadRequestError("product_id", "must be a positive integer"))
	}
	view := h.availabilityView(input.ProductID, model.StockFromPtr(input.Stock))
	return nil, &view, nil
}

// mcpResult renders an intent outcome with the cart as it now stands.
func (h *Handler) mcpResult(err error) (*mcp.CallToolResult, *CartView, error) {
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	view := h.currentView()
	return nil, &view, nil
}

// mcpError converts engine errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	var cartErr *model.CartError
	if errors.As(err, &cartErr) {
		return fmt.Errorf("%s: %s", cartErr.Code, cartErr.Message)
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}
