package cartstate_test

import (
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartsync/internal/cartstate"
	"cartsync/internal/model"
)

func line(id, productID int64, qty int, price string) model.CartLine {
	return model.CartLine{
		ID:        id,
		Product:   model.ProductRef{ID: productID, Name: gofakeit.ProductName()},
		UnitPrice: decimal.RequireFromString(price),
		Quantity:  qty,
	}
}

func randomLine(id int64) model.CartLine {
	return model.CartLine{
		ID:        id,
		Product:   model.ProductRef{ID: int64(gofakeit.Number(1, 1_000_000)), Name: gofakeit.ProductName(), ImageURL: gofakeit.URL()},
		UnitPrice: decimal.NewFromFloat(gofakeit.Price(1, 100)).Round(2),
		Quantity:  gofakeit.Number(1, 9),
	}
}

// newState returns a state holding lines and a counter of notifications.
func newState(t *testing.T, lines ...model.CartLine) (*cartstate.State, *int) {
	t.Helper()
	s := cartstate.New(nil)
	s.Replace(model.CartSnapshot{ID: 1, Status: "ACTIVE", Lines: lines})

	notified := 0
	sub := s.Subscribe(func() { notified++ })
	t.Cleanup(sub.Unsubscribe)
	return s, &notified
}

func assertSnapshot(t *testing.T, want, got model.CartSnapshot) {
	t.Helper()

	opts := cmp.Options{
		cmp.Comparer(func(x, y decimal.Decimal) bool { return x.Equal(y) }),
		cmpopts.EquateEmpty(),
	}
	if diff := cmp.Diff(want, got, opts); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestReplace_RebuildsIndex(t *testing.T) {
	s, notified := newState(t)

	s.Replace(model.CartSnapshot{Lines: []model.CartLine{
		line(1, 10, 2, "5.00"),
		line(2, 11, 3, "1.00"),
	}})

	assert.Equal(t, 1, *notified)
	assert.Equal(t, 2, s.QuantityOf(10))
	assert.Equal(t, 3, s.QuantityOf(11))
	assert.Equal(t, 0, s.QuantityOf(12))
}

func TestApplyDelta(t *testing.T) {
	s, notified := newState(t, line(7, 42, 2, "10.00"))

	var prior cartstate.Prior
	err := s.Update(func(tx *cartstate.Tx) error {
		var err error
		prior, err = tx.ApplyDelta(7, 42, 1)
		return err
	})
	require.NoError(t, err)

	got, ok := s.Line(7)
	require.True(t, ok)
	assert.Equal(t, 3, got.Quantity)
	assert.True(t, got.Subtotal().Equal(decimal.RequireFromString("30.00")))
	assert.Equal(t, 3, s.QuantityOf(42))
	assert.Equal(t, 2, prior.Line.Quantity)
	assert.Equal(t, 1, *notified)
}

func TestApplyDelta_ToZeroRemovesLine(t *testing.T) {
	s, _ := newState(t, line(7, 42, 1, "10.00"), line(8, 43, 1, "1.00"))

	err := s.Update(func(tx *cartstate.Tx) error {
		_, err := tx.ApplyDelta(7, 42, -1)
		return err
	})
	require.NoError(t, err)

	_, ok := s.Line(7)
	assert.False(t, ok, "line at quantity 0 must be removed")
	assert.Equal(t, 0, s.QuantityOf(42))
	assert.Len(t, s.Snapshot().Lines, 1)
}

func TestApplyAbsolute(t *testing.T) {
	s, _ := newState(t, line(7, 42, 2, "10.00"))

	err := s.Update(func(tx *cartstate.Tx) error {
		_, err := tx.ApplyAbsolute(7, 42, 5)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 5, s.QuantityOf(42))
}

func TestUnknownTarget(t *testing.T) {
	s, notified := newState(t, line(7, 42, 2, "10.00"))

	err := s.Update(func(tx *cartstate.Tx) error {
		_, err := tx.ApplyDelta(99, 42, 1)
		return err
	})
	assert.ErrorIs(t, err, model.ErrInvalidTarget)

	err = s.Update(func(tx *cartstate.Tx) error {
		_, err := tx.RemoveLine(7, 43)
		return err
	})
	assert.ErrorIs(t, err, model.ErrInvalidTarget, "product mismatch must be rejected")
	assert.Equal(t, 0, *notified, "failed lookups are not changes")
}

func TestRevert_RestoresRemovedLineInPlace(t *testing.T) {
	before := []model.CartLine{randomLine(1), randomLine(2), randomLine(3)}
	s, notified := newState(t, before...)
	want := s.Snapshot()

	var prior cartstate.Prior
	require.NoError(t, s.Update(func(tx *cartstate.Tx) error {
		var err error
		prior, err = tx.RemoveLine(2, 0)
		return err
	}))
	require.NoError(t, s.Update(func(tx *cartstate.Tx) error {
		tx.Revert(prior)
		return nil
	}))

	assertSnapshot(t, want, s.Snapshot())
	assert.Equal(t, 2, *notified)
}

func TestRevert_AbsentPriorRemovesLine(t *testing.T) {
	s, _ := newState(t, line(1, 10, 1, "1.00"))

	require.NoError(t, s.Update(func(tx *cartstate.Tx) error {
		tx.Upsert(line(99, 5, 1, "3.00"))
		tx.Revert(cartstate.Prior{LineID: 99, ProductID: 5, Position: -1})
		return nil
	}))

	_, ok := s.Line(99)
	assert.False(t, ok)
	assert.Equal(t, 0, s.QuantityOf(5))
}

func TestProvisional(t *testing.T) {
	s, notified := newState(t)

	require.NoError(t, s.Update(func(tx *cartstate.Tx) error {
		tx.AdjustProvisional(5, 1)
		return nil
	}))
	assert.Equal(t, 1, s.QuantityOf(5))
	assert.True(t, s.Snapshot().Empty(), "provisional units have no line")

	// a reload while the add is in flight keeps the provisional units
	s.Replace(model.CartSnapshot{Lines: []model.CartLine{line(3, 6, 1, "1.00")}})
	assert.Equal(t, 1, s.QuantityOf(5))

	require.NoError(t, s.Update(func(tx *cartstate.Tx) error {
		tx.AdjustProvisional(5, -1)
		tx.Upsert(line(99, 5, 1, "2.00"))
		return nil
	}))
	assert.Equal(t, 1, s.QuantityOf(5))
	assert.Equal(t, 3, *notified, "one notification per Update")
}

func TestPendingMarks(t *testing.T) {
	s, notified := newState(t, line(7, 42, 2, "10.00"))

	var first, second bool
	require.NoError(t, s.Update(func(tx *cartstate.Tx) error {
		first = tx.MarkPending(7)
		second = tx.MarkPending(7)
		return nil
	}))

	assert.True(t, first)
	assert.False(t, second)
	assert.True(t, s.IsPending(7))
	assert.Equal(t, []int64{7}, s.PendingLines())
	assert.Equal(t, 0, *notified, "pending marks alone do not notify")

	require.NoError(t, s.Update(func(tx *cartstate.Tx) error {
		tx.ReleasePending(7)
		tx.Touch()
		return nil
	}))
	assert.False(t, s.IsPending(7))
	assert.Equal(t, 1, *notified)
}

func TestClearWithShadow(t *testing.T) {
	lines := make([]model.CartLine, 0, 4)
	for i := int64(1); i <= 4; i++ {
		lines = append(lines, randomLine(i))
	}
	s, _ := newState(t, lines...)
	want := s.Snapshot()

	require.NoError(t, s.Update(func(tx *cartstate.Tx) error {
		tx.BeginClear()
		return nil
	}))
	assert.True(t, s.Snapshot().Empty())
	assert.Empty(t, s.Index())
	assert.True(t, s.Clearing())
	assert.True(t, s.IsPending(1), "every line is pending during a clear")

	require.NoError(t, s.Update(func(tx *cartstate.Tx) error {
		tx.RestoreClear()
		return nil
	}))
	assert.False(t, s.Clearing())
	assertSnapshot(t, want, s.Snapshot())
	for _, l := range want.Lines {
		assert.Equal(t, l.Quantity, s.QuantityOf(l.Product.ID)-otherUnits(want, l))
	}
}

// otherUnits counts units of l's product held by other lines (random products may collide).
func otherUnits(snap model.CartSnapshot, l model.CartLine) int {
	n := 0
	for _, o := range snap.Lines {
		if o.ID != l.ID && o.Product.ID == l.Product.ID {
			n += o.Quantity
		}
	}
	return n
}

func TestReset(t *testing.T) {
	s, notified := newState(t, line(7, 42, 2, "10.00"))
	epoch := s.Epoch()

	require.NoError(t, s.Update(func(tx *cartstate.Tx) error {
		tx.MarkPending(7)
		return nil
	}))
	s.Reset()

	assert.True(t, s.Snapshot().Empty())
	assert.False(t, s.IsPending(7))
	assert.Equal(t, epoch+1, s.Epoch())
	assert.Equal(t, 1, *notified)
}

func TestLoaded_ClearedByReset(t *testing.T) {
	s, notified := newState(t, line(7, 42, 2, "10.00"))
	assert.False(t, s.Loaded(), "seeding the snapshot is not a load")

	require.NoError(t, s.Update(func(tx *cartstate.Tx) error {
		tx.MarkLoaded()
		return nil
	}))
	assert.True(t, s.Loaded())
	assert.Equal(t, 0, *notified, "marking loaded alone does not notify")

	s.Reset()
	assert.False(t, s.Loaded())
}

func TestDeferredRefresh(t *testing.T) {
	s, _ := newState(t, line(7, 42, 2, "10.00"), line(8, 43, 1, "10.00"))

	take := func() bool {
		var got bool
		require.NoError(t, s.Update(func(tx *cartstate.Tx) error {
			got = tx.TakeDeferredRefresh()
			return nil
		}))
		return got
	}

	assert.False(t, take(), "nothing deferred")

	require.NoError(t, s.Update(func(tx *cartstate.Tx) error {
		tx.MarkPending(7)
		tx.MarkPending(8)
		tx.DeferRefresh()
		return nil
	}))
	assert.False(t, take(), "both lines still in flight")

	require.NoError(t, s.Update(func(tx *cartstate.Tx) error {
		tx.ReleasePending(7)
		return nil
	}))
	assert.False(t, take(), "line 8 still in flight")

	require.NoError(t, s.Update(func(tx *cartstate.Tx) error {
		tx.ReleasePending(8)
		return nil
	}))
	assert.True(t, take(), "last settle hands the refresh back")
	assert.False(t, take(), "handed back once")

	require.NoError(t, s.Update(func(tx *cartstate.Tx) error {
		tx.DeferRefresh()
		return nil
	}))
	s.Reset()
	assert.False(t, take(), "a new session drops the deferred refresh")
}

func TestView_Coherent(t *testing.T) {
	s, _ := newState(t, line(7, 42, 2, "10.00"), line(8, 43, 1, "10.00"))
	require.NoError(t, s.Update(func(tx *cartstate.Tx) error {
		tx.MarkPending(7)
		return nil
	}))

	v := s.View()
	assert.Len(t, v.Snapshot.Lines, 2)
	assert.True(t, v.IsPending(7))
	assert.False(t, v.IsPending(8))
	assert.False(t, v.Clearing)

	// later changes do not leak into a view already taken
	require.NoError(t, s.Update(func(tx *cartstate.Tx) error {
		tx.ReleasePending(7)
		tx.BeginClear()
		return nil
	}))
	assert.True(t, v.IsPending(7))
	assert.Len(t, v.Snapshot.Lines, 2)

	v = s.View()
	assert.Empty(t, v.Snapshot.Lines)
	assert.True(t, v.IsPending(8), "every line is pending during a clear")
}

func TestObserverSeesMutatedState(t *testing.T) {
	s, _ := newState(t, line(7, 42, 2, "10.00"))

	var seen int
	sub := s.Subscribe(func() { seen = s.QuantityOf(42) })
	defer sub.Unsubscribe()

	require.NoError(t, s.Update(func(tx *cartstate.Tx) error {
		_, err := tx.ApplyDelta(7, 42, 1)
		return err
	}))
	assert.Equal(t, 3, seen)
}
