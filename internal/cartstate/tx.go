package cartstate

import (
	"cartsync/internal/model"
)

// Prior is the value a line had before a mutation, or its absence.
// Revert restores it.
type Prior struct {
	LineID    int64
	ProductID int64
	Present   bool
	Line      model.CartLine
	Position  int // index in the snapshot's line order, -1 when absent
}

// Tx is the mutable view handed to Update callbacks. It is only valid inside
// the callback.
type Tx struct {
	s       *State
	changed bool
}

// === Reads ===

// Snapshot returns a copy of the current snapshot.
func (tx *Tx) Snapshot() model.CartSnapshot {
	return tx.s.snap.Clone()
}

// Line returns the line with the given id.
func (tx *Tx) Line(lineID int64) (model.CartLine, bool) {
	return tx.s.snap.Line(lineID)
}

// LineForProduct returns the first line holding productID.
func (tx *Tx) LineForProduct(productID int64) (model.CartLine, bool) {
	for _, l := range tx.s.snap.Lines {
		if l.Product.ID == productID {
			return l, true
		}
	}
	return model.CartLine{}, false
}

// QuantityOf satisfies ledger.Index inside a transaction.
func (tx *Tx) QuantityOf(productID int64) int {
	return tx.s.index[productID]
}

// IsPending reports whether lineID is in flight.
func (tx *Tx) IsPending(lineID int64) bool {
	_, ok := tx.s.pendingLines[lineID]
	return ok
}

// IsProductPending reports whether a line-less add for productID is in flight.
func (tx *Tx) IsProductPending(productID int64) bool {
	_, ok := tx.s.pendingProducts[productID]
	return ok
}

// AnyPending reports whether any line or product round-trip is in flight.
func (tx *Tx) AnyPending() bool {
	return len(tx.s.pendingLines) > 0 || len(tx.s.pendingProducts) > 0
}

// Clearing reports whether a whole-cart clear is in flight.
func (tx *Tx) Clearing() bool {
	return tx.s.clearing
}

// Epoch identifies the current session generation.
func (tx *Tx) Epoch() uint64 {
	return tx.s.epoch
}

// Version returns the change counter as of the start of this transaction.
func (tx *Tx) Version() uint64 {
	return tx.s.version
}

// Loaded reports whether a full fetch has replaced the snapshot this epoch.
func (tx *Tx) Loaded() bool {
	return tx.s.loaded
}

// Empty reports whether the cart holds nothing, provisional units included.
func (tx *Tx) Empty() bool {
	return len(tx.s.snap.Lines) == 0 && len(tx.s.provisional) == 0
}

// === Mutations ===

// Replace swaps in a full snapshot and rebuilds the index from scratch.
// Provisional units of adds still in flight are kept.
func (tx *Tx) Replace(snap model.CartSnapshot) {
	s := tx.s
	s.snap = snap.Clone()
	s.rebuildIndex()
	tx.changed = true
}

// ApplyDelta adjusts a line's quantity by delta. A resulting quantity <= 0
// removes the line. Returns the prior value for Revert.
func (tx *Tx) ApplyDelta(lineID, productID int64, delta int) (Prior, error) {
	pos, line, err := tx.locate(lineID, productID)
	if err != nil {
		return Prior{}, err
	}
	prior := priorOf(pos, line)
	tx.setQuantity(pos, line.Quantity+delta)
	return prior, nil
}

// ApplyAbsolute sets a line's quantity. A quantity <= 0 removes the line.
func (tx *Tx) ApplyAbsolute(lineID, productID int64, quantity int) (Prior, error) {
	pos, line, err := tx.locate(lineID, productID)
	if err != nil {
		return Prior{}, err
	}
	prior := priorOf(pos, line)
	tx.setQuantity(pos, quantity)
	return prior, nil
}

// RemoveLine deletes a line.
func (tx *Tx) RemoveLine(lineID, productID int64) (Prior, error) {
	pos, line, err := tx.locate(lineID, productID)
	if err != nil {
		return Prior{}, err
	}
	prior := priorOf(pos, line)
	tx.setQuantity(pos, 0)
	return prior, nil
}

// Upsert installs a line as reported by the backend, replacing any line with
// the same id and keeping its position; new lines are appended.
func (tx *Tx) Upsert(line model.CartLine) {
	s := tx.s
	for i, l := range s.snap.Lines {
		if l.ID == line.ID {
			s.snap.Lines[i] = line
			s.reindex(l.Product.ID)
			s.reindex(line.Product.ID)
			tx.changed = true
			return
		}
	}
	s.snap.Lines = append(s.snap.Lines, line)
	s.reindex(line.Product.ID)
	tx.changed = true
}

// Revert restores a line (or its absence) to prior.
func (tx *Tx) Revert(prior Prior) {
	s := tx.s

	current := -1
	for i, l := range s.snap.Lines {
		if l.ID == prior.LineID {
			current = i
			break
		}
	}

	switch {
	case prior.Present && current >= 0:
		old := s.snap.Lines[current].Product.ID
		s.snap.Lines[current] = prior.Line
		s.reindex(old)
	case prior.Present:
		pos := prior.Position
		if pos < 0 || pos > len(s.snap.Lines) {
			pos = len(s.snap.Lines)
		}
		s.snap.Lines = append(s.snap.Lines, model.CartLine{})
		copy(s.snap.Lines[pos+1:], s.snap.Lines[pos:])
		s.snap.Lines[pos] = prior.Line
	case current >= 0:
		s.snap.Lines = append(s.snap.Lines[:current], s.snap.Lines[current+1:]...)
	}

	s.reindex(prior.ProductID)
	tx.changed = true
}

// Clear empties the snapshot and the index.
func (tx *Tx) Clear() {
	s := tx.s
	s.snap.Lines = nil
	s.index = make(map[int64]int)
	s.provisional = make(map[int64]int)
	tx.changed = true
}

// AdjustProvisional moves the provisional count of productID by delta.
// Used for adds whose line id is not known yet.
func (tx *Tx) AdjustProvisional(productID int64, delta int) {
	s := tx.s
	n := s.provisional[productID] + delta
	if n <= 0 {
		delete(s.provisional, productID)
	} else {
		s.provisional[productID] = n
	}
	s.reindex(productID)
	tx.changed = true
}

// MarkPending adds lineID to the pending set. Returns false if already present.
// Pending marks alone do not count as a change.
func (tx *Tx) MarkPending(lineID int64) bool {
	if tx.IsPending(lineID) {
		return false
	}
	tx.s.pendingLines[lineID] = struct{}{}
	return true
}

// ReleasePending removes lineID from the pending set.
func (tx *Tx) ReleasePending(lineID int64) {
	delete(tx.s.pendingLines, lineID)
}

// MarkProductPending guards a line-less add of productID.
func (tx *Tx) MarkProductPending(productID int64) bool {
	if tx.IsProductPending(productID) {
		return false
	}
	tx.s.pendingProducts[productID] = struct{}{}
	return true
}

// ReleaseProductPending removes the line-less add guard for productID.
func (tx *Tx) ReleaseProductPending(productID int64) {
	delete(tx.s.pendingProducts, productID)
}

// BeginClear keeps a shadow copy of the snapshot, raises the whole-cart
// pending flag and empties the cart.
func (tx *Tx) BeginClear() {
	s := tx.s
	shadow := s.snap.Clone()
	s.shadow = &shadow
	s.clearing = true
	tx.Clear()
}

// CommitClear drops the shadow copy and lowers the whole-cart flag.
func (tx *Tx) CommitClear() {
	tx.s.shadow = nil
	tx.s.clearing = false
	tx.changed = true
}

// RestoreClear puts the shadow copy back exactly as it was.
func (tx *Tx) RestoreClear() {
	s := tx.s
	if s.shadow != nil {
		s.snap = *s.shadow
	}
	s.shadow = nil
	s.clearing = false
	s.rebuildIndex()
	tx.changed = true
}

// MarkLoaded records that the snapshot now mirrors the service.
func (tx *Tx) MarkLoaded() {
	tx.s.loaded = true
}

// DeferRefresh records that a fetched snapshot was withheld because
// mutations were in flight.
func (tx *Tx) DeferRefresh() {
	tx.s.refreshDeferred = true
}

// TakeDeferredRefresh reports, once, that a withheld fetch should be redone
// now that nothing is in flight.
func (tx *Tx) TakeDeferredRefresh() bool {
	if !tx.s.refreshDeferred || tx.AnyPending() || tx.s.clearing {
		return false
	}
	tx.s.refreshDeferred = false
	return true
}

// Touch records a change with no data delta, e.g. a settle that confirms
// the optimistic value.
func (tx *Tx) Touch() {
	tx.changed = true
}

// Reset drops all data and pending marks and starts a new epoch.
func (tx *Tx) Reset() {
	s := tx.s
	s.snap = model.CartSnapshot{}
	s.index = make(map[int64]int)
	s.provisional = make(map[int64]int)
	s.pendingLines = make(map[int64]struct{})
	s.pendingProducts = make(map[int64]struct{})
	s.clearing = false
	s.shadow = nil
	s.loaded = false
	s.refreshDeferred = false
	s.epoch++
	tx.changed = true
}

// === Helpers ===

// locate finds lineID and checks it belongs to productID (0 skips the check).
func (tx *Tx) locate(lineID, productID int64) (int, model.CartLine, error) {
	for i, l := range tx.s.snap.Lines {
		if l.ID != lineID {
			continue
		}
		if productID != 0 && l.Product.ID != productID {
			return 0, model.CartLine{}, model.NewInvalidTargetError("product", productID)
		}
		return i, l, nil
	}
	return 0, model.CartLine{}, model.NewInvalidTargetError("line", lineID)
}

func (tx *Tx) setQuantity(pos, quantity int) {
	s := tx.s
	productID := s.snap.Lines[pos].Product.ID
	if quantity <= 0 {
		s.snap.Lines = append(s.snap.Lines[:pos], s.snap.Lines[pos+1:]...)
	} else {
		s.snap.Lines[pos].Quantity = quantity
	}
	s.reindex(productID)
	tx.changed = true
}

func priorOf(pos int, line model.CartLine) Prior {
	return Prior{
		LineID:    line.ID,
		ProductID: line.Product.ID,
		Present:   true,
		Line:      line,
		Position:  pos,
	}
}

// reindex recomputes one product's entry from the lines and provisional units.
func (s *State) reindex(productID int64) {
	n := s.provisional[productID]
	for _, l := range s.snap.Lines {
		if l.Product.ID == productID {
			n += l.Quantity
		}
	}
	if n <= 0 {
		delete(s.index, productID)
		return
	}
	s.index[productID] = n
}

func (s *State) rebuildIndex() {
	s.index = make(map[int64]int, len(s.snap.Lines)+len(s.provisional))
	for _, l := range s.snap.Lines {
		s.index[l.Product.ID] += l.Quantity
	}
	for p, n := range s.provisional {
		s.index[p] += n
	}
}
