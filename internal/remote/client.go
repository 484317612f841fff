package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunglas/httpsfv"
	"github.com/google/uuid"

	"cartsync/internal/model"
)

// =============================================================================
// CART SERVICE CLIENT
// =============================================================================
//
// Every call carries the session's bearer token. Mutations also carry an
// Idempotency-Key (RFC 8941 sf-string holding a UUID) so a service that
// dedupes retries can recognise a replay.
//
// Failure mapping:
//   - no token                      → Unauthenticated, no request sent
//   - transport error / bad body    → RemoteUnreachable (outcome unknown)
//   - status >= 400                 → RemoteRejected with the body's message
// =============================================================================

const (
	pathCart      = "/cart"
	pathIncrement = "/cart/increment/"
	pathDecrement = "/cart/decrement/"
	pathClear     = "/cart/clear"

	userAgent = "cartsync/1.0"

	// HeaderIdempotencyKey is set on every mutating request.
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Fallback messages per operation, used when the service gives no reason.
const (
	msgLoad   = "Could not load the cart"
	msgAdd    = "Could not add the product to the cart"
	msgUpdate = "Could not update the cart"
	msgRemove = "Could not remove the product from the cart"
	msgClear  = "Could not empty the cart"
)

// Client is the HTTP implementation of Cart.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	newKey     func() string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTransport sets the round-tripper and timeout of the default HTTP client.
func WithTransport(rt http.RoundTripper, timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Transport: rt, Timeout: timeout}
	}
}

// WithKeyFunc overrides the idempotency key generator.
func WithKeyFunc(fn func() string) Option {
	return func(c *Client) { c.newKey = fn }
}

// NewClient creates a client for the cart service rooted at baseURL.
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		newKey:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// === Cart Operations ===

// FetchCart retrieves the full cart.
func (c *Client) FetchCart(ctx context.Context) (model.CartSnapshot, error) {
	req, err := c.newRequest(ctx, http.MethodGet, pathCart, nil, "load the cart")
	if err != nil {
		return model.CartSnapshot{}, err
	}

	var resp CartResponse
	if err := c.do(req, &resp, msgLoad); err != nil {
		return model.CartSnapshot{}, err
	}

	return resp.ToSnapshot(), nil
}

// AddItem adds quantity units of productID, creating the line if needed.
func (c *Client) AddItem(ctx context.Context, productID int64, quantity int) (*model.CartLine, error) {
	body := &addRequest{ProductID: productID, Quantity: quantity}

	req, err := c.newRequest(ctx, http.MethodPost, pathCart, body, "add products to the cart")
	if err != nil {
		return nil, err
	}

	var resp addResponse
	if err := c.do(req, &resp, msgAdd); err != nil {
		return nil, err
	}

	return resp.line(productID), nil
}

// SetQuantity sets a line's absolute quantity.
func (c *Client) SetQuantity(ctx context.Context, lineID int64, quantity int) error {
	body := &setQuantityRequest{CartDetailID: lineID, Quantity: quantity}

	req, err := c.newRequest(ctx, http.MethodPut, pathCart, body, "update the cart")
	if err != nil {
		return err
	}
	return c.do(req, nil, msgUpdate)
}

// Increment adds exactly one unit to a line.
func (c *Client) Increment(ctx context.Context, lineID int64) error {
	req, err := c.newRequest(ctx, http.MethodPost, pathIncrement+strconv.FormatInt(lineID, 10), struct{}{}, "update the cart")
	if err != nil {
		return err
	}
	return c.do(req, nil, msgUpdate)
}

// Decrement removes exactly one unit from a line.
func (c *Client) Decrement(ctx context.Context, lineID int64) error {
	req, err := c.newRequest(ctx, http.MethodPost, pathDecrement+strconv.FormatInt(lineID, 10), struct{}{}, "update the cart")
	if err != nil {
		return err
	}
	return c.do(req, nil, msgUpdate)
}

// RemoveLine deletes a line.
func (c *Client) RemoveLine(ctx context.Context, lineID int64) error {
	req, err := c.newRequest(ctx, http.MethodDelete, pathCart+"/"+strconv.FormatInt(lineID, 10), nil, "remove products from the cart")
	if err != nil {
		return err
	}
	return c.do(req, nil, msgRemove)
}

// Clear empties the cart.
func (c *Client) Clear(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodDelete, pathClear, nil, "empty the cart")
	if err != nil {
		return err
	}
	return c.do(req, nil, msgClear)
}

// === HTTP Helpers ===

// newRequest builds an authenticated request. action names the operation in
// the Unauthenticated message when there is no token.
func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}, action string) (*http.Request, error) {
	token := ""
	if c.tokens != nil {
		token = c.tokens.Token()
	}
	if token == "" {
		return nil, model.NewUnauthenticatedError(action)
	}

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if method != http.MethodGet {
		key, err := httpsfv.Marshal(httpsfv.NewItem(c.newKey()))
		if err != nil {
			return nil, fmt.Errorf("encoding idempotency key: %w", err)
		}
		req.Header.Set(HeaderIdempotencyKey, key)
	}

	return req, nil
}

// do executes the request and decodes a success body into result.
func (c *Client) do(req *http.Request, result interface{}, fallback string) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewRemoteUnreachableError(fallback, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NewRemoteUnreachableError(fallback, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return parseError(resp.StatusCode, body, fallback)
	}

	if result != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			// the mutation went through but we cannot tell what it produced
			return model.NewRemoteUnreachableError(fallback, fmt.Errorf("parsing response: %w", err))
		}
	}

	return nil
}

// parseError extracts a human-readable message from an error body.
func parseError(statusCode int, body []byte, fallback string) error {
	var errResp errorResponse
	json.Unmarshal(body, &errResp) // best effort

	return model.NewRemoteRejectedError(statusCode, strings.TrimSpace(errResp.Message), fallback)
}

var _ Cart = (*Client)(nil)
