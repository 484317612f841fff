package remote

import (
	"context"

	"cartsync/internal/model"
)

// Mock implements Cart for testing.
// Each method can be configured via function fields; unset mutations succeed.
type Mock struct {
	FetchCartFunc   func(ctx context.Context) (model.CartSnapshot, error)
	AddItemFunc     func(ctx context.Context, productID int64, quantity int) (*model.CartLine, error)
	SetQuantityFunc func(ctx context.Context, lineID int64, quantity int) error
	IncrementFunc   func(ctx context.Context, lineID int64) error
	DecrementFunc   func(ctx context.Context, lineID int64) error
	RemoveLineFunc  func(ctx context.Context, lineID int64) error
	ClearFunc       func(ctx context.Context) error
}

// FetchCart calls the configured FetchCartFunc or returns an empty cart.
func (m *Mock) FetchCart(ctx context.Context) (model.CartSnapshot, error) {
	if m.FetchCartFunc != nil {
		return m.FetchCartFunc(ctx)
	}
	return model.CartSnapshot{}, nil
}

// AddItem calls the configured AddItemFunc or returns no line.
func (m *Mock) AddItem(ctx context.Context, productID int64, quantity int) (*model.CartLine, error) {
	if m.AddItemFunc != nil {
		return m.AddItemFunc(ctx, productID, quantity)
	}
	return nil, nil
}

// SetQuantity calls the configured SetQuantityFunc.
func (m *Mock) SetQuantity(ctx context.Context, lineID int64, quantity int) error {
	if m.SetQuantityFunc != nil {
		return m.SetQuantityFunc(ctx, lineID, quantity)
	}
	return nil
}

// Increment calls the configured IncrementFunc.
func (m *Mock) Increment(ctx context.Context, lineID int64) error {
	if m.IncrementFunc != nil {
		return m.IncrementFunc(ctx, lineID)
	}
	return nil
}

// Decrement calls the configured DecrementFunc.
func (m *Mock) Decrement(ctx context.Context, lineID int64) error {
	if m.DecrementFunc != nil {
		return m.DecrementFunc(ctx, lineID)
	}
	return nil
}

// RemoveLine calls the configured RemoveLineFunc.
func (m *Mock) RemoveLine(ctx context.Context, lineID int64) error {
	if m.RemoveLineFunc != nil {
		return m.RemoveLineFunc(ctx, lineID)
	}
	return nil
}

// Clear calls the configured ClearFunc.
func (m *Mock) Clear(ctx context.Context) error {
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx)
	}
	return nil
}

var _ Cart = (*Mock)(nil)
