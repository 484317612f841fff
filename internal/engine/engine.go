// Package engine sequences every cart intent as optimistic local mutation,
// remote call, then commit or rollback. Ambiguous outcomes additionally
// trigger a full refetch from the cart service.
//
// The engine is the only writer of cartstate.State. Readers observe it
// through Subscribe and Snapshot.
package engine

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"cartsync/internal/cartstate"
	"cartsync/internal/ledger"
	"cartsync/internal/model"
	"cartsync/internal/notify"
	"cartsync/internal/reconcile"
	"cartsync/internal/remote"
	"cartsync/internal/session"
)

const defaultResyncTimeout = 30 * time.Second

// Engine is the reconciliation engine.
type Engine struct {
	state  *cartstate.State
	remote remote.Cart
	gate   session.Gate
	ledger ledger.Ledger
	logger *slog.Logger

	resyncTimeout time.Duration
	unsubscribe   func()

	// background work (initial load, resyncs) runs under ctx and is tracked by wg
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	closed        bool
	resyncRunning bool
	resyncAgain   bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLedger sets the stock ledger (and so the unknown-stock fallback).
func WithLedger(l ledger.Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

// WithResyncTimeout bounds each background refetch.
func WithResyncTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.resyncTimeout = d
		}
	}
}

// New creates an Engine over state and subscribes to gate. Call Close on teardown.
func New(state *cartstate.State, rc remote.Cart, gate session.Gate, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		state:         state,
		remote:        rc,
		gate:          gate,
		ledger:        ledger.New(ledger.DefaultFallback),
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		resyncTimeout: defaultResyncTimeout,
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.unsubscribe = gate.Subscribe(e.onTransition)
	return e
}

// Close stops reacting to session changes and waits for background work.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.unsubscribe()
	e.cancel()
	e.wg.Wait()
}

// Wait blocks until background loads and resyncs scheduled so far have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// === Session ===

func (e *Engine) onTransition(t session.Transition) {
	switch t {
	case session.BecameActive:
		e.logger.Info("session started")
		if !e.Loaded() {
			e.scheduleResync("initial load")
		}
	case session.BecameInactive:
		e.logger.Info("session ended, clearing cart")
		e.state.Reset()
	}
}

// === Reads ===

// Snapshot returns the current cart.
func (e *Engine) Snapshot() model.CartSnapshot {
	return e.state.Snapshot()
}

// IsPending reports whether lineID has a remote round-trip in flight.
func (e *Engine) IsPending(lineID int64) bool {
	return e.state.IsPending(lineID)
}

// Clearing reports whether a whole-cart clear is in flight.
func (e *Engine) Clearing() bool {
	return e.state.Clearing()
}

// AvailableStock returns how many more units of productID can be added given
// total. When total is unknown the ceiling reported on the product's line is
// used, then the ledger fallback.
func (e *Engine) AvailableStock(productID int64, total model.Stock) int {
	if !total.Known {
		for _, l := range e.state.Snapshot().Lines {
			if l.Product.ID == productID && l.MaxStock.Known {
				total = l.MaxStock
				break
			}
		}
	}
	return e.ledger.AvailableStock(e.state, productID, total)
}

// QuantityInCart returns the units of productID held locally.
func (e *Engine) QuantityInCart(productID int64) int {
	return e.ledger.QuantityInCart(e.state, productID)
}

// Subscribe registers fn for change notifications.
func (e *Engine) Subscribe(fn func()) *notify.Subscription {
	return e.state.Subscribe(fn)
}

// Notifier exposes the change broadcast, e.g. for streaming consumers.
func (e *Engine) Notifier() *notify.Notifier {
	return e.state.Notifier()
}

// Loaded reports whether a full fetch has completed in the current session.
func (e *Engine) Loaded() bool {
	return e.state.Loaded()
}

// View returns the snapshot with its pending and clearing marks, read together.
func (e *Engine) View() cartstate.View {
	return e.state.View()
}

// === Loading ===

// EnsureLoaded fetches the cart unless a fetch already completed this session.
func (e *Engine) EnsureLoaded(ctx context.Context) error {
	if e.Loaded() {
		return nil
	}
	return e.Refresh(ctx)
}

// Refresh replaces the local cart with the service's view.
// A fetch that settles after the session changed is discarded. One that lands
// while mutations or a clear are in flight would overwrite their optimistic
// values with older data, so it is withheld and redone once the last of them
// settles.
func (e *Engine) Refresh(ctx context.Context) error {
	if !e.gate.IsActive() {
		return model.NewUnauthenticatedError("view the cart")
	}
	epoch := e.state.Epoch()
	version := e.state.Version()

	snap, err := e.remote.FetchCart(ctx)
	if err != nil {
		if model.UpstreamStatus(err) == http.StatusUnauthorized {
			e.logger.Debug("cart fetch unauthorized", "error", err)
		} else {
			e.logger.Error("cart fetch failed", "error", err)
		}
		return err
	}

	if !e.gate.IsActive() {
		return model.NewUnauthenticatedError("view the cart")
	}

	var (
		drift     *reconcile.Drift
		applied   bool
		deferred  bool
		raced     bool
		wasLoaded bool
	)
	_ = e.state.Update(func(tx *cartstate.Tx) error {
		if tx.Epoch() != epoch {
			return nil
		}
		if tx.Clearing() || tx.AnyPending() {
			tx.DeferRefresh()
			deferred = true
			return nil
		}
		if tx.Version() != version {
			// a mutation settled while the fetch was in flight; the fetch may predate it
			raced = true
			return nil
		}
		wasLoaded = tx.Loaded()
		drift = reconcile.Diff(tx.Snapshot().Lines, snap.Lines)
		tx.Replace(snap)
		tx.MarkLoaded()
		applied = true
		return nil
	})
	switch {
	case deferred:
		e.logger.Debug("cart fetch withheld until in-flight mutations settle")
		return nil
	case raced:
		e.logger.Debug("cart changed during fetch, fetching again")
		e.scheduleResync("cart changed during fetch")
		return nil
	case !applied:
		e.logger.Debug("discarding stale cart fetch")
		return nil
	}

	// the first fetch of a session fills an empty cart; only later ones correct drift
	if wasLoaded && !drift.IsEmpty() {
		e.logger.Info("cart corrected from service", "drift", drift)
	}

	e.logger.Debug("cart loaded", "lines", snap.LineCount(), "total", snap.Total().StringFixed(2))
	return nil
}

// scheduleResync refetches the cart in the background. Requests made while a
// refetch runs are coalesced into one more pass.
func (e *Engine) scheduleResync(reason string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.resyncRunning {
		e.resyncAgain = true
		e.mu.Unlock()
		return
	}
	e.resyncRunning = true
	e.wg.Add(1)
	e.mu.Unlock()

	e.logger.Info("resyncing cart", "reason", reason)

	go func() {
		defer e.wg.Done()
		for {
			ctx, cancel := context.WithTimeout(e.ctx, e.resyncTimeout)
			_ = e.Refresh(ctx)
			cancel()

			e.mu.Lock()
			if !e.resyncAgain || e.closed {
				e.resyncRunning = false
				e.resyncAgain = false
				e.mu.Unlock()
				return
			}
			e.resyncAgain = false
			e.mu.Unlock()
		}
	}()
}
