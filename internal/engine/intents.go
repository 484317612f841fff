package engine

import (
	"context"
	"fmt"
	"log/slog"

	"cartsync/internal/cartstate"
	"cartsync/internal/model"
)

// lineIntent is one line-level mutation. validate checks it against the
// current line, apply mutates under the state lock, and call performs the
// matching remote mutation.
type lineIntent struct {
	op        string // log name
	action    string // completes "you must sign in to ..."
	lineID    int64
	productID int64
	validate  func(tx *cartstate.Tx, line model.CartLine) error
	apply     func(tx *cartstate.Tx, line model.CartLine) (cartstate.Prior, error)
	call      func(ctx context.Context) error
}

// Increment adds one unit to a line. productID, when non-zero, must match the
// line; maxStock, when unknown, falls back to the ceiling carried by the line.
func (e *Engine) Increment(ctx context.Context, lineID, productID int64, maxStock model.Stock) (model.CartSnapshot, error) {
	return e.runLine(ctx, lineIntent{
		op:        "increment",
		action:    "update the cart",
		lineID:    lineID,
		productID: productID,
		validate: func(tx *cartstate.Tx, line model.CartLine) error {
			return e.admit(tx, line, maxStock, 1)
		},
		apply: func(tx *cartstate.Tx, line model.CartLine) (cartstate.Prior, error) {
			return tx.ApplyDelta(line.ID, line.Product.ID, 1)
		},
		call: func(ctx context.Context) error {
			return e.remote.Increment(ctx, lineID)
		},
	})
}

// Decrement removes one unit from a line. A line at quantity 1 is never
// decremented; RemoveLine deletes it.
func (e *Engine) Decrement(ctx context.Context, lineID, productID int64) (model.CartSnapshot, error) {
	return e.runLine(ctx, lineIntent{
		op:        "decrement",
		action:    "update the cart",
		lineID:    lineID,
		productID: productID,
		validate: func(tx *cartstate.Tx, line model.CartLine) error {
			if line.Quantity <= 1 {
				return model.NewInvalidQuantityError("quantity cannot go below 1, remove the line instead")
			}
			return nil
		},
		apply: func(tx *cartstate.Tx, line model.CartLine) (cartstate.Prior, error) {
			return tx.ApplyDelta(line.ID, line.Product.ID, -1)
		},
		call: func(ctx context.Context) error {
			return e.remote.Decrement(ctx, lineID)
		},
	})
}

// SetQuantity sets a line's quantity. Raising it is checked against maxStock.
func (e *Engine) SetQuantity(ctx context.Context, lineID, productID int64, quantity int, maxStock model.Stock) (model.CartSnapshot, error) {
	if quantity < 1 {
		return e.state.Snapshot(), model.NewInvalidQuantityError("quantity must be at least 1, remove the line instead")
	}
	return e.runLine(ctx, lineIntent{
		op:        "set_quantity",
		action:    "update the cart",
		lineID:    lineID,
		productID: productID,
		validate: func(tx *cartstate.Tx, line model.CartLine) error {
			if delta := quantity - line.Quantity; delta > 0 {
				return e.admit(tx, line, maxStock, delta)
			}
			return nil
		},
		apply: func(tx *cartstate.Tx, line model.CartLine) (cartstate.Prior, error) {
			return tx.ApplyAbsolute(line.ID, line.Product.ID, quantity)
		},
		call: func(ctx context.Context) error {
			return e.remote.SetQuantity(ctx, lineID, quantity)
		},
	})
}

// RemoveLine deletes a line.
func (e *Engine) RemoveLine(ctx context.Context, lineID, productID int64) (model.CartSnapshot, error) {
	return e.runLine(ctx, lineIntent{
		op:        "remove",
		action:    "remove products from the cart",
		lineID:    lineID,
		productID: productID,
		apply: func(tx *cartstate.Tx, line model.CartLine) (cartstate.Prior, error) {
			return tx.RemoveLine(line.ID, line.Product.ID)
		},
		call: func(ctx context.Context) error {
			return e.remote.RemoveLine(ctx, lineID)
		},
	})
}

// runLine drives a line intent through preflight, validation, the pending
// guard, optimistic apply, the remote call and settle. Validation runs before
// the pending guard, as it does for AddProduct, so a request that could never
// succeed reports its own error rather than ALREADY_PENDING.
func (e *Engine) runLine(ctx context.Context, in lineIntent) (model.CartSnapshot, error) {
	log := e.logger.With("op", in.op, "line_id", in.lineID)

	if !e.gate.IsActive() {
		return e.state.Snapshot(), model.NewUnauthenticatedError(in.action)
	}

	var (
		prior cartstate.Prior
		epoch uint64
	)
	err := e.state.Update(func(tx *cartstate.Tx) error {
		if tx.Clearing() {
			return model.NewAlreadyPendingError("the cart")
		}
		line, ok := tx.Line(in.lineID)
		if !ok {
			return model.NewInvalidTargetError("line", in.lineID)
		}
		if in.productID != 0 && line.Product.ID != in.productID {
			return model.NewInvalidTargetError("product", in.productID)
		}
		if in.validate != nil {
			if err := in.validate(tx, line); err != nil {
				return err
			}
		}
		if tx.IsPending(in.lineID) {
			return model.NewAlreadyPendingError(fmt.Sprintf("line %d", in.lineID))
		}

		p, err := in.apply(tx, line)
		if err != nil {
			return err
		}
		tx.MarkPending(in.lineID)
		prior = p
		epoch = tx.Epoch()
		return nil
	})
	if err != nil {
		log.Debug("intent rejected", "error", err)
		return e.state.Snapshot(), err
	}
	log.Debug("intent applied")

	callErr := in.call(context.WithoutCancel(ctx))

	e.settle(epoch, func(tx *cartstate.Tx) {
		tx.ReleasePending(in.lineID)
		if callErr != nil {
			tx.Revert(prior)
		} else {
			tx.Touch()
		}
	})

	snap := e.state.Snapshot()
	if callErr != nil {
		e.rolledBack(log, prior.ProductID, callErr)
		return snap, callErr
	}
	return snap, nil
}

// AddProduct adds quantity units of productID. An existing line for the
// product is grown in place. Otherwise the units are held as a provisional
// count until the service returns the new line; a failed add rolls the count
// back, and a success that does not identify the line triggers a refetch.
func (e *Engine) AddProduct(ctx context.Context, productID int64, quantity int, maxStock model.Stock) (model.CartSnapshot, error) {
	log := e.logger.With("op", "add", "product_id", productID)

	if !e.gate.IsActive() {
		return e.state.Snapshot(), model.NewUnauthenticatedError("add products to the cart")
	}
	if productID <= 0 {
		return e.state.Snapshot(), model.NewInvalidTargetError("product", productID)
	}
	if quantity < 1 {
		return e.state.Snapshot(), model.NewInvalidQuantityError("quantity must be at least 1")
	}
	// the stock check reads the quantity index, which is empty until the cart loads
	if err := e.EnsureLoaded(ctx); err != nil {
		return e.state.Snapshot(), err
	}

	var (
		prior       cartstate.Prior
		existing    bool
		lineID      int64
		epoch       uint64
		stockCeil   = maxStock
		lineForProd model.CartLine
	)
	err := e.state.Update(func(tx *cartstate.Tx) error {
		if tx.Clearing() || !tx.Loaded() {
			return model.NewAlreadyPendingError("the cart")
		}

		lineForProd, existing = tx.LineForProduct(productID)
		if !stockCeil.Known && existing {
			stockCeil = lineForProd.MaxStock
		}
		if ok, available := e.ledger.Admits(tx, productID, stockCeil, quantity); !ok {
			return model.NewStockExceededError(available)
		}

		if existing {
			lineID = lineForProd.ID
			if tx.IsPending(lineID) {
				return model.NewAlreadyPendingError(fmt.Sprintf("line %d", lineID))
			}
			p, err := tx.ApplyDelta(lineID, productID, quantity)
			if err != nil {
				return err
			}
			prior = p
			tx.MarkPending(lineID)
		} else {
			if !tx.MarkProductPending(productID) {
				return model.NewAlreadyPendingError(fmt.Sprintf("product %d", productID))
			}
			tx.AdjustProvisional(productID, quantity)
		}
		epoch = tx.Epoch()
		return nil
	})
	if err != nil {
		log.Debug("intent rejected", "error", err)
		return e.state.Snapshot(), err
	}
	log.Debug("intent applied", "quantity", quantity, "existing_line", existing)

	line, callErr := e.remote.AddItem(context.WithoutCancel(ctx), productID, quantity)

	needResync := false
	e.settle(epoch, func(tx *cartstate.Tx) {
		if existing {
			tx.ReleasePending(lineID)
			switch {
			case callErr != nil:
				tx.Revert(prior)
			case line != nil:
				tx.Upsert(*line)
			default:
				tx.Touch()
			}
			return
		}

		tx.ReleaseProductPending(productID)
		tx.AdjustProvisional(productID, -quantity)
		if callErr == nil {
			if line != nil {
				tx.Upsert(*line)
			} else {
				needResync = true
			}
		}
	})

	snap := e.state.Snapshot()
	if callErr != nil {
		e.rolledBack(log, productID, callErr)
		return snap, callErr
	}
	if needResync {
		e.scheduleResync("add response carried no line")
	}
	return snap, nil
}

// ClearCart empties the cart. The pre-clear snapshot is kept as a shadow and
// restored exactly if the service call fails. Clearing a loaded, empty cart
// succeeds without a remote call; before the first load the local cart says
// nothing about the service's, so the clear is always sent.
func (e *Engine) ClearCart(ctx context.Context) (model.CartSnapshot, error) {
	log := e.logger.With("op", "clear")

	if !e.gate.IsActive() {
		return e.state.Snapshot(), model.NewUnauthenticatedError("empty the cart")
	}

	var (
		epoch uint64
		noop  bool
	)
	err := e.state.Update(func(tx *cartstate.Tx) error {
		if tx.Clearing() || tx.AnyPending() {
			return model.NewAlreadyPendingError("the cart")
		}
		if tx.Loaded() && tx.Empty() {
			noop = true
			return nil
		}
		tx.BeginClear()
		epoch = tx.Epoch()
		return nil
	})
	if err != nil {
		log.Debug("intent rejected", "error", err)
		return e.state.Snapshot(), err
	}
	if noop {
		return e.state.Snapshot(), nil
	}
	log.Debug("intent applied")

	callErr := e.remote.Clear(context.WithoutCancel(ctx))

	e.settle(epoch, func(tx *cartstate.Tx) {
		if callErr != nil {
			tx.RestoreClear()
		} else {
			tx.CommitClear()
			// the service cart is now known to be empty
			tx.MarkLoaded()
		}
	})

	snap := e.state.Snapshot()
	if callErr != nil {
		e.rolledBack(log, 0, callErr)
		return snap, callErr
	}
	return snap, nil
}

// === Helpers ===

// admit checks that adding delta units of line's product stays within stock.
func (e *Engine) admit(tx *cartstate.Tx, line model.CartLine, maxStock model.Stock, delta int) error {
	if !maxStock.Known {
		maxStock = line.MaxStock
	}
	if ok, available := e.ledger.Admits(tx, line.Product.ID, maxStock, delta); !ok {
		return model.NewStockExceededError(available)
	}
	return nil
}

// settle applies fn unless the session changed since the intent was applied,
// in which case the outcome belongs to a cart that no longer exists. The last
// settle redoes any fetch that was withheld while mutations were in flight.
func (e *Engine) settle(epoch uint64, fn func(tx *cartstate.Tx)) {
	// may flip an expired session to inactive, resetting the state
	e.gate.IsActive()

	refetch := false
	_ = e.state.Update(func(tx *cartstate.Tx) error {
		if tx.Epoch() != epoch {
			return nil
		}
		fn(tx)
		refetch = tx.TakeDeferredRefresh()
		return nil
	})
	if refetch {
		e.scheduleResync("fetch withheld during mutations")
	}
}

// rolledBack logs a reverted intent and schedules a refetch when the remote
// outcome is unknown.
func (e *Engine) rolledBack(log *slog.Logger, productID int64, err error) {
	log.Warn("intent rolled back", "product_id", productID, "error", err)
	if model.IsAmbiguous(err) {
		e.scheduleResync("remote outcome unknown")
	}
}
