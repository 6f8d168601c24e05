package inventory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/clock"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, *MemoryRecordStore) {
	t.Helper()
	store := NewMemoryRecordStore()
	return NewLedger(store, clock.NewFixed(testNow)), store
}

func states(t *testing.T, l *Ledger, unit uuid.UUID, r DateRange) []AvailabilityState {
	t.Helper()
	snap, err := l.Query(context.Background(), unit, r)
	require.NoError(t, err)
	out := make([]AvailabilityState, len(snap.Nights))
	for i, n := range snap.Nights {
		out[i] = n.State
	}
	return out
}

func TestMarkHeldIsAllOrNothing(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	unit := uuid.New()

	require.NoError(t, l.MarkHeld(ctx, unit, MustDateRange("2026-03-10", "2026-03-12"), "booking-a"))

	// overlaps on the 11th only; nothing of the new range may be taken
	err := l.MarkHeld(ctx, unit, MustDateRange("2026-03-11", "2026-03-14"), "booking-b")
	require.ErrorIs(t, err, apperrors.ErrConflict)

	assert.Equal(t,
		[]AvailabilityState{StateHeld, StateHeld, StateFree, StateFree},
		states(t, l, unit, MustDateRange("2026-03-10", "2026-03-14")))
}

func TestConcurrentOverlappingHoldsExactlyOneWins(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	unit := uuid.New()

	ranges := []DateRange{
		MustDateRange("2026-04-01", "2026-04-03"),
		MustDateRange("2026-04-02", "2026-04-04"),
	}

	for round := 0; round < 50; round++ {
		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		owners := []string{uuid.NewString(), uuid.NewString()}

		for i := range ranges {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				if err := l.MarkHeld(ctx, unit, ranges[i], owners[i]); err == nil {
					wins.Add(1)
				} else {
					assert.ErrorIs(t, err, apperrors.ErrConflict)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), wins.Load(), "round %d", round)
		for _, o := range owners {
			_, err := l.Release(ctx, unit, MustDateRange("2026-04-01", "2026-04-04"), o)
			require.NoError(t, err)
		}
	}
}

func TestMarkBooked(t *testing.T) {
	ctx := context.Background()
	unit := uuid.New()
	r := MustDateRange("2026-05-01", "2026-05-04")

	t.Run("requires every night held by the same owner", func(t *testing.T) {
		l, _ := newTestLedger(t)
		require.NoError(t, l.MarkHeld(ctx, unit, MustDateRange("2026-05-01", "2026-05-03"), "a"))

		err := l.MarkBooked(ctx, unit, r, "a")
		require.ErrorIs(t, err, apperrors.ErrInvalidTransition)
		assert.Equal(t, []AvailabilityState{StateHeld, StateHeld, StateFree}, states(t, l, unit, r))
	})

	t.Run("other owner cannot commit", func(t *testing.T) {
		l, _ := newTestLedger(t)
		require.NoError(t, l.MarkHeld(ctx, unit, r, "a"))
		require.ErrorIs(t, l.MarkBooked(ctx, unit, r, "b"), apperrors.ErrInvalidTransition)
	})

	t.Run("commit is repeatable", func(t *testing.T) {
		l, _ := newTestLedger(t)
		require.NoError(t, l.MarkHeld(ctx, unit, r, "a"))
		require.NoError(t, l.MarkBooked(ctx, unit, r, "a"))
		require.NoError(t, l.MarkBooked(ctx, unit, r, "a"))
		assert.Equal(t, []AvailabilityState{StateBooked, StateBooked, StateBooked}, states(t, l, unit, r))
	})
}

func TestReleaseIsIdempotentAndOwnerScoped(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	unit := uuid.New()

	require.NoError(t, l.MarkHeld(ctx, unit, MustDateRange("2026-06-01", "2026-06-03"), "a"))
	require.NoError(t, l.MarkHeld(ctx, unit, MustDateRange("2026-06-03", "2026-06-05"), "b"))

	n, err := l.Release(ctx, unit, MustDateRange("2026-06-01", "2026-06-05"), "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = l.Release(ctx, unit, MustDateRange("2026-06-01", "2026-06-05"), "a")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.Equal(t,
		[]AvailabilityState{StateFree, StateFree, StateHeld, StateHeld},
		states(t, l, unit, MustDateRange("2026-06-01", "2026-06-05")))
}

func TestReleaseHeldLeavesBookedNights(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	unit := uuid.New()
	r := MustDateRange("2026-07-01", "2026-07-03")

	require.NoError(t, l.MarkHeld(ctx, unit, r, "a"))
	require.NoError(t, l.MarkBooked(ctx, unit, r, "a"))

	n, err := l.ReleaseHeld(ctx, unit, r, "a")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, []AvailabilityState{StateBooked, StateBooked}, states(t, l, unit, r))
}

func TestMarkBlocked(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	unit := uuid.New()
	r := MustDateRange("2026-08-01", "2026-08-03")

	require.NoError(t, l.MarkBlocked(ctx, unit, r, "block:1", "maintenance"))
	require.NoError(t, l.MarkBlocked(ctx, unit, r, "block:1", "maintenance"))
	require.ErrorIs(t, l.MarkHeld(ctx, unit, r, "a"), apperrors.ErrConflict)
	require.ErrorIs(t, l.MarkBlocked(ctx, unit, r, "block:2", "again"), apperrors.ErrConflict)

	_, err := l.Release(ctx, unit, r, "block:1")
	require.NoError(t, err)
	require.NoError(t, l.MarkHeld(ctx, unit, r, "a"))
}

func TestStoreFailureLeavesLedgerUntouched(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	unit := uuid.New()
	r := MustDateRange("2026-09-01", "2026-09-04")

	store.FailNextApply(errors.New("connection reset"))
	err := l.MarkHeld(ctx, unit, r, "a")
	require.Error(t, err)

	assert.Equal(t, []AvailabilityState{StateFree, StateFree, StateFree}, states(t, l, unit, r))
	require.NoError(t, l.MarkHeld(ctx, unit, r, "a"))
}

func TestLoadRestoresState(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	unit := uuid.New()
	r := MustDateRange("2026-10-01", "2026-10-03")
	require.NoError(t, l.MarkHeld(ctx, unit, r, "a"))

	restarted := NewLedger(store, clock.NewFixed(testNow))
	n, err := restarted.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.ErrorIs(t, restarted.MarkHeld(ctx, unit, r, "b"), apperrors.ErrConflict)
}

func TestCompactDropsPastNights(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	unit := uuid.New()
	require.NoError(t, l.MarkHeld(ctx, unit, MustDateRange("2026-03-01", "2026-03-04"), "a"))

	removed := l.Compact(time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 2, removed)
}

func TestInvalidInputs(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	r := MustDateRange("2026-03-01", "2026-03-02")

	require.ErrorIs(t, l.MarkHeld(ctx, uuid.Nil, r, "a"), apperrors.ErrInvalidInput)
	require.ErrorIs(t, l.MarkHeld(ctx, uuid.New(), r, ""), apperrors.ErrInvalidInput)
	require.ErrorIs(t, l.MarkHeld(ctx, uuid.New(), DateRange{}, "a"), apperrors.ErrInvalidInput)
}

func TestChangeListenerFires(t *testing.T) {
	l, _ := newTestLedger(t)
	unit := uuid.New()
	var seen []uuid.UUID
	l.OnChange(func(_ context.Context, id uuid.UUID) { seen = append(seen, id) })

	r := MustDateRange("2026-03-05", "2026-03-06")
	require.NoError(t, l.MarkHeld(context.Background(), unit, r, "a"))
	_, err := l.Release(context.Background(), unit, r, "zzz")
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{unit}, seen)
}
