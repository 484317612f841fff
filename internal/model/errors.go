package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for each failure kind.
// Use errors.Is() to check against these.
var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrInvalidTarget     = errors.New("invalid target")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrStockExceeded     = errors.New("stock exceeded")
	ErrAlreadyPending    = errors.New("already pending")
	ErrRemoteRejected    = errors.New("remote rejected")
	ErrRemoteUnreachable = errors.New("remote unreachable")
	ErrBadRequest        = errors.New("bad request")
)

// CartError is the structured failure surfaced to callers of the engine.
// Message is human readable and safe to show to the shopper.
type CartError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`                 // HTTP status for the local API
	Ceiling    int    `json:"ceiling,omitempty"` // remaining units, StockExceeded only
	Upstream   int    `json:"-"`                 // cart service status, RemoteRejected only
	Err        error  `json:"-"`
}

func (e *CartError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CartError) Unwrap() error {
	return e.Err
}

// NewUnauthenticatedError rejects an intent issued without an active session.
func NewUnauthenticatedError(action string) *CartError {
	return &CartError{
		Code:       "UNAUTHENTICATED",
		Message:    fmt.Sprintf("you must sign in to %s", action),
		StatusCode: 401,
		Err:        ErrUnauthenticated,
	}
}

// NewInvalidTargetError reports a line or product id unknown to the local cart.
func NewInvalidTargetError(kind string, id int64) *CartError {
	return &CartError{
		Code:       "INVALID_TARGET",
		Message:    fmt.Sprintf("%s %d is not in the cart", kind, id),
		StatusCode: 404,
		Err:        ErrInvalidTarget,
	}
}

// NewInvalidQuantityError reports a quantity the intent cannot produce.
func NewInvalidQuantityError(reason string) *CartError {
	return &CartError{
		Code:       "INVALID_QUANTITY",
		Message:    reason,
		StatusCode: 422,
		Err:        ErrInvalidQuantity,
	}
}

// NewStockExceededError carries the number of units that can still be added.
func NewStockExceededError(ceiling int) *CartError {
	return &CartError{
		Code:       "STOCK_EXCEEDED",
		Message:    fmt.Sprintf("not enough stock: %d more unit(s) available", ceiling),
		StatusCode: 409,
		Ceiling:    ceiling,
		Err:        ErrStockExceeded,
	}
}

// NewAlreadyPendingError rejects an intent on a line whose previous change has not settled.
func NewAlreadyPendingError(target string) *CartError {
	return &CartError{
		Code:       "ALREADY_PENDING",
		Message:    fmt.Sprintf("%s is still being updated, try again", target),
		StatusCode: 409,
		Err:        ErrAlreadyPending,
	}
}

// NewRemoteRejectedError wraps a non-success response from the cart service.
// message is the best-effort text extracted from the response body; fallback is
// used when the body carried none.
func NewRemoteRejectedError(status int, message, fallback string) *CartError {
	if message == "" {
		message = fallback
	}
	return &CartError{
		Code:       "REMOTE_REJECTED",
		Message:    message,
		StatusCode: 502,
		Upstream:   status,
		Err:        fmt.Errorf("%w: status %d", ErrRemoteRejected, status),
	}
}

// NewRemoteUnreachableError wraps a transport-level failure (timeout, connectivity).
func NewRemoteUnreachableError(fallback string, err error) *CartError {
	return &CartError{
		Code:       "REMOTE_UNREACHABLE",
		Message:    fallback,
		StatusCode: 503,
		Err:        fmt.Errorf("%w: %v", ErrRemoteUnreachable, err),
	}
}

// NewBadRequestError reports a malformed request to the local API.
func NewBadRequestError(field, reason string) *CartError {
	return &CartError{
		Code:       "BAD_REQUEST",
		Message:    fmt.Sprintf("%s: %s", field, reason),
		StatusCode: 400,
		Err:        ErrBadRequest,
	}
}

// CeilingOf extracts the remaining-units ceiling from a StockExceeded error.
func CeilingOf(err error) (int, bool) {
	var cartErr *CartError
	if errors.As(err, &cartErr) && errors.Is(cartErr, ErrStockExceeded) {
		return cartErr.Ceiling, true
	}
	return 0, false
}

// UpstreamStatus returns the cart service status behind a RemoteRejected
// error, 0 for any other error.
func UpstreamStatus(err error) int {
	var cartErr *CartError
	if errors.As(err, &cartErr) {
		return cartErr.Upstream
	}
	return 0
}

// IsAmbiguous reports whether the remote outcome of a failed call is unknown,
// i.e. the mutation may have been applied server-side.
func IsAmbiguous(err error) bool {
	return errors.Is(err, ErrRemoteUnreachable)
}
