// Package cartstate holds the canonical local view of the cart: the snapshot,
// the per-product quantity index derived from it, and the set of lines whose
// remote round-trip has not settled yet.
//
// Every change goes through State.Update, which applies a batch of primitives
// atomically and then notifies observers exactly once, after the lock is
// released. Observers may therefore read the state from inside their callback.
package cartstate

import (
	"sync"

	"cartsync/internal/model"
	"cartsync/internal/notify"
)

// State is the in-memory cart. It performs no I/O.
type State struct {
	mu sync.RWMutex

	snap        model.CartSnapshot
	index       map[int64]int // productID -> units held (lines + provisional)
	provisional map[int64]int // productID -> units added before a line id exists

	pendingLines    map[int64]struct{}
	pendingProducts map[int64]struct{}

	clearing bool
	shadow   *model.CartSnapshot

	// epoch increments on Reset so settles from a previous session can be discarded.
	epoch uint64

	// version counts changes; a fetch compares it to spot mutations that
	// happened while it was in flight.
	version uint64

	// loaded is set once a full fetch replaced the snapshot in this epoch.
	loaded bool
	// refreshDeferred records a fetch that arrived while mutations were in flight.
	refreshDeferred bool

	notifier *notify.Notifier
}

// New creates an empty State broadcasting on n. A nil n gets a private Notifier.
func New(n *notify.Notifier) *State {
	if n == nil {
		n = &notify.Notifier{}
	}
	return &State{
		index:           make(map[int64]int),
		provisional:     make(map[int64]int),
		pendingLines:    make(map[int64]struct{}),
		pendingProducts: make(map[int64]struct{}),
		notifier:        n,
	}
}

// Notifier returns the broadcast channel fired after every change.
func (s *State) Notifier() *notify.Notifier {
	return s.notifier
}

// Subscribe is shorthand for Notifier().Subscribe.
func (s *State) Subscribe(fn func()) *notify.Subscription {
	return s.notifier.Subscribe(fn)
}

// Update runs fn with exclusive access to the state. If fn changed anything,
// observers are notified once after the lock is released, whatever fn returns.
func (s *State) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	tx := &Tx{s: s}
	err := fn(tx)
	changed := tx.changed
	if changed {
		s.version++
	}
	tx.s = nil
	s.mu.Unlock()

	if changed {
		s.notifier.Notify()
	}
	return err
}

// Replace swaps in a freshly fetched snapshot and rebuilds the index.
func (s *State) Replace(snap model.CartSnapshot) {
	_ = s.Update(func(tx *Tx) error {
		tx.Replace(snap)
		return nil
	})
}

// Clear empties the snapshot and index.
func (s *State) Clear() {
	_ = s.Update(func(tx *Tx) error {
		tx.Clear()
		return nil
	})
}

// Reset drops everything, including pending marks, and starts a new epoch.
// Used when the session ends.
func (s *State) Reset() {
	_ = s.Update(func(tx *Tx) error {
		tx.Reset()
		return nil
	})
}

// === Reads ===

// Snapshot returns a copy of the current snapshot.
func (s *State) Snapshot() model.CartSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// Line returns the line with the given id.
func (s *State) Line(lineID int64) (model.CartLine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Line(lineID)
}

// QuantityOf returns the units of productID held locally, 0 if absent.
// Satisfies ledger.Index.
func (s *State) QuantityOf(productID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index[productID]
}

// Index returns a copy of the per-product quantity index.
func (s *State) Index() map[int64]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]int, len(s.index))
	for k, v := range s.index {
		out[k] = v
	}
	return out
}

// IsPending reports whether lineID has a remote round-trip in flight.
// While a clear is in flight every line reports pending.
func (s *State) IsPending(lineID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.clearing {
		return true
	}
	_, ok := s.pendingLines[lineID]
	return ok
}

// PendingLines returns the ids of lines currently in flight.
func (s *State) PendingLines() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.pendingLines))
	for id := range s.pendingLines {
		ids = append(ids, id)
	}
	return ids
}

// Clearing reports whether a whole-cart clear is in flight.
func (s *State) Clearing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clearing
}

// Version returns the change counter.
func (s *State) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Loaded reports whether a full fetch has replaced the snapshot in the
// current session.
func (s *State) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// View returns the snapshot together with the pending and clearing marks, all
// read under one lock.
func (s *State) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make(map[int64]bool, len(s.pendingLines))
	for id := range s.pendingLines {
		pending[id] = true
	}
	return View{
		Snapshot: s.snap.Clone(),
		Pending:  pending,
		Clearing: s.clearing,
		Loaded:   s.loaded,
	}
}

// View is a coherent read of the state for rendering.
type View struct {
	Snapshot model.CartSnapshot
	Pending  map[int64]bool
	Clearing bool
	Loaded   bool
}

// IsPending reports whether lineID was in flight when the view was taken.
// While a clear is in flight every line reports pending.
func (v View) IsPending(lineID int64) bool {
	return v.Clearing || v.Pending[lineID]
}

// Epoch identifies the current session generation.
func (s *State) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}
