package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestCartError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *CartError
		want string
	}{
		{
			name: "without wrapped error",
			err: &CartError{
				Code:    "TEST_ERROR",
				Message: "something went wrong",
			},
			want: "TEST_ERROR: something went wrong",
		},
		{
			name: "with wrapped error",
			err: &CartError{
				Code:    "TEST_ERROR",
				Message: "something went wrong",
				Err:     errors.New("underlying cause"),
			},
			want: "TEST_ERROR: something went wrong (underlying cause)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCartError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &CartError{Code: "TEST", Message: "test", Err: underlying}

	if err.Unwrap() != underlying {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), underlying)
	}

	errNoWrap := &CartError{Code: "TEST", Message: "test"}
	if errNoWrap.Unwrap() != nil {
		t.Error("Unwrap() should return nil when no wrapped error")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *CartError
		code       string
		statusCode int
		sentinel   error
	}{
		{"unauthenticated", NewUnauthenticatedError("add products"), "UNAUTHENTICATED", 401, ErrUnauthenticated},
		{"invalid target", NewInvalidTargetError("line", 7), "INVALID_TARGET", 404, ErrInvalidTarget},
		{"invalid quantity", NewInvalidQuantityError("quantity must be positive"), "INVALID_QUANTITY", 422, ErrInvalidQuantity},
		{"stock exceeded", NewStockExceededError(3), "STOCK_EXCEEDED", 409, ErrStockExceeded},
		{"already pending", NewAlreadyPendingError("line 7"), "ALREADY_PENDING", 409, ErrAlreadyPending},
		{"remote rejected", NewRemoteRejectedError(400, "", "Could not update the cart"), "REMOTE_REJECTED", 502, ErrRemoteRejected},
		{"remote unreachable", NewRemoteUnreachableError("Could not update the cart", errors.New("dial tcp")), "REMOTE_UNREACHABLE", 503, ErrRemoteUnreachable},
		{"bad request", NewBadRequestError("quantity", "must be a number"), "BAD_REQUEST", 400, ErrBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.StatusCode != tt.statusCode {
				t.Errorf("StatusCode = %d, want %d", tt.err.StatusCode, tt.statusCode)
			}
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("error should wrap %v sentinel", tt.sentinel)
			}
			if tt.err.Message == "" {
				t.Error("Message should not be empty")
			}
		})
	}
}

func TestNewRemoteRejectedError_Message(t *testing.T) {
	err := NewRemoteRejectedError(400, "Product out of stock", "Could not update the cart")
	if err.Message != "Product out of stock" {
		t.Errorf("Message = %q, want extracted message", err.Message)
	}

	err = NewRemoteRejectedError(500, "", "Could not update the cart")
	if err.Message != "Could not update the cart" {
		t.Errorf("Message = %q, want fallback", err.Message)
	}
}

func TestCeilingOf(t *testing.T) {
	wrapped := fmt.Errorf("incrementing line 7: %w", NewStockExceededError(0))
	ceiling, ok := CeilingOf(wrapped)
	if !ok {
		t.Fatal("CeilingOf() should find StockExceeded through wrapping")
	}
	if ceiling != 0 {
		t.Errorf("ceiling = %d, want 0", ceiling)
	}

	if _, ok := CeilingOf(NewAlreadyPendingError("line 7")); ok {
		t.Error("CeilingOf() should ignore other kinds")
	}
}

func TestIsAmbiguous(t *testing.T) {
	if !IsAmbiguous(NewRemoteUnreachableError("x", errors.New("timeout"))) {
		t.Error("RemoteUnreachable should be ambiguous")
	}
	if IsAmbiguous(NewRemoteRejectedError(400, "", "x")) {
		t.Error("RemoteRejected should not be ambiguous")
	}
}

func TestUpstreamStatus(t *testing.T) {
	wrapped := fmt.Errorf("fetching cart: %w", NewRemoteRejectedError(401, "", "x"))
	if got := UpstreamStatus(wrapped); got != 401 {
		t.Errorf("UpstreamStatus() = %d, want 401", got)
	}
	if got := UpstreamStatus(errors.New("plain")); got != 0 {
		t.Errorf("UpstreamStatus(plain) = %d, want 0", got)
	}
}
