package holds

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zomestaydeveloper/Zomestay/internal/inventory"
	"github.com/zomestaydeveloper/Zomestay/internal/notifications"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/clock"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	manager  *Manager
	ledger   *inventory.Ledger
	clock    *clock.Manual
	repo     Repository
	recorder *notifications.Recorder
	unit     uuid.UUID
	stay     inventory.DateRange
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clk := clock.NewManual(testNow)
	ledger := inventory.NewLedger(inventory.NewMemoryRecordStore(), clk)
	repo := NewMemoryRepository()
	rec := notifications.NewRecorder()
	opts = append([]Option{WithTTL(10 * time.Minute), WithPublisher(rec)}, opts...)
	return &fixture{
		manager:  NewManager(repo, ledger, clk, opts...),
		ledger:   ledger,
		clock:    clk,
		repo:     repo,
		recorder: rec,
		unit:     uuid.New(),
		stay:     inventory.MustDateRange("2026-05-10", "2026-05-13"),
	}
}

func (f *fixture) nightStates(t *testing.T) []inventory.AvailabilityState {
	t.Helper()
	snap, err := f.ledger.Query(context.Background(), f.unit, f.stay)
	require.NoError(t, err)
	out := make([]inventory.AvailabilityState, len(snap.Nights))
	for i, n := range snap.Nights {
		out[i] = n.State
	}
	return out
}

func repeat(s inventory.AvailabilityState, n int) []inventory.AvailabilityState {
	out := make([]inventory.AvailabilityState, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func TestAcquireConflictsOnOverlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hold, err := f.manager.Acquire(ctx, uuid.New(), f.unit, f.stay, 0)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(10*time.Minute), hold.ExpiresAt)
	assert.Equal(t, HoldStatusActive, hold.Status)

	_, err = f.manager.Acquire(ctx, uuid.New(), f.unit, inventory.MustDateRange("2026-05-12", "2026-05-15"), 0)
	require.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, repeat(inventory.StateHeld, 3), f.nightStates(t))
}

func TestConcurrentAcquireOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const contenders = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Acquire(ctx, uuid.New(), f.unit, f.stay, 0)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, apperrors.ErrConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, contenders-1, conflicts)
}

func TestCommitBooksNightsAndReleasesHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hold, err := f.manager.Acquire(ctx, uuid.New(), f.unit, f.stay, 0)
	require.NoError(t, err)

	require.NoError(t, f.manager.Commit(ctx, hold.ID))
	assert.Equal(t, repeat(inventory.StateBooked, 3), f.nightStates(t))

	got, err := f.manager.Get(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, HoldStatusReleased, got.Status)
	assert.Equal(t, ReasonConfirmed, got.ReleaseReason)

	// a late sweep must not touch booked nights
	f.clock.Advance(time.Hour)
	n, err := f.manager.ExpireDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, repeat(inventory.StateBooked, 3), f.nightStates(t))
}

func TestExpireDueFreesNightsAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var expired []Hold
	f.manager.OnExpired(func(_ context.Context, h Hold) { expired = append(expired, h) })

	bookingID := uuid.New()
	hold, err := f.manager.Acquire(ctx, bookingID, f.unit, f.stay, 0)
	require.NoError(t, err)

	f.clock.Advance(9 * time.Minute)
	n, err := f.manager.ExpireDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n, "not due yet")

	f.clock.Advance(time.Minute)
	n, err = f.manager.ExpireDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, repeat(inventory.StateFree, 3), f.nightStates(t))
	require.Len(t, expired, 1)
	assert.Equal(t, hold.ID, expired[0].ID)
	assert.Equal(t, HoldStatusExpired, expired[0].Status)

	events := f.recorder.OfType(notifications.EventHoldExpired)
	require.Len(t, events, 1)
	assert.Equal(t, bookingID.String(), events[0].AggregateID)
}

func TestCommitAfterExpiryTimesOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	notified := 0
	f.manager.OnExpired(func(context.Context, Hold) { notified++ })

	hold, err := f.manager.Acquire(ctx, uuid.New(), f.unit, f.stay, 0)
	require.NoError(t, err)

	// expired by the clock but not yet swept
	f.clock.Advance(11 * time.Minute)
	err = f.manager.Commit(ctx, hold.ID)
	require.ErrorIs(t, err, apperrors.ErrExternalTimeout)

	assert.Equal(t, repeat(inventory.StateFree, 3), f.nightStates(t))
	// the committer handles the timeout, listeners stay quiet
	assert.Equal(t, 0, notified)
	assert.Len(t, f.recorder.OfType(notifications.EventHoldExpired), 1)

	got, err := f.manager.Get(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, HoldStatusExpired, got.Status)
}

func TestExtend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hold, err := f.manager.Acquire(ctx, uuid.New(), f.unit, f.stay, 0)
	require.NoError(t, err)

	f.clock.Advance(8 * time.Minute)
	extended, err := f.manager.Extend(ctx, hold.ID, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), extended.ExpiresAt)

	f.clock.Advance(10 * time.Minute)
	n, err := f.manager.ExpireDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(10 * time.Minute)
	_, err = f.manager.Extend(ctx, hold.ID, time.Minute)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.manager.Extend(ctx, uuid.New(), time.Minute)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestReleaseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hold, err := f.manager.Acquire(ctx, uuid.New(), f.unit, f.stay, 0)
	require.NoError(t, err)

	require.NoError(t, f.manager.Release(ctx, hold.ID, ReasonCancelled))
	require.NoError(t, f.manager.Release(ctx, hold.ID, ReasonCancelled))
	assert.Equal(t, repeat(inventory.StateFree, 3), f.nightStates(t))

	got, err := f.manager.Get(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, ReasonCancelled, got.ReleaseReason)
}

func TestForceReleaseNotifiesListeners(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var reasons []string
	f.manager.OnExpired(func(_ context.Context, h Hold) { reasons = append(reasons, h.ReleaseReason) })

	hold, err := f.manager.Acquire(ctx, uuid.New(), f.unit, f.stay, 0)
	require.NoError(t, err)

	_, err = f.manager.ForceRelease(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{ReasonAdminRelease}, reasons)
	assert.Equal(t, repeat(inventory.StateFree, 3), f.nightStates(t))

	_, err = f.manager.ForceRelease(ctx, hold.ID)
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

type conflictGuard struct{ released int }

func (g *conflictGuard) Claim(context.Context, *Hold, time.Duration) error {
	return apperrors.ErrConflict
}
func (g *conflictGuard) Extend(context.Context, *Hold, time.Duration) error { return nil }
func (g *conflictGuard) Release(context.Context, *Hold) error {
	g.released++
	return nil
}

func TestGuardRejectionLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t, WithGuard(&conflictGuard{}))

	_, err := f.manager.Acquire(context.Background(), uuid.New(), f.unit, f.stay, 0)
	require.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, repeat(inventory.StateFree, 3), f.nightStates(t))
}

type failingRepo struct {
	Repository
}

func (failingRepo) Create(context.Context, *Hold) error {
	return errors.New("db down")
}

func TestAcquireCompensatesWhenHoldCannotBeRecorded(t *testing.T) {
	clk := clock.NewManual(testNow)
	ledger := inventory.NewLedger(inventory.NewMemoryRecordStore(), clk)
	guard := &countingGuard{}
	m := NewManager(failingRepo{NewMemoryRepository()}, ledger, clk, WithGuard(guard))
	unit := uuid.New()
	stay := inventory.MustDateRange("2026-05-10", "2026-05-13")

	_, err := m.Acquire(context.Background(), uuid.New(), unit, stay, 0)
	require.Error(t, err)

	snap, err := ledger.Query(context.Background(), unit, stay)
	require.NoError(t, err)
	assert.True(t, snap.Available)
	assert.Equal(t, 1, guard.claimed)
	assert.Equal(t, 1, guard.released)
}

type countingGuard struct{ claimed, released int }

func (g *countingGuard) Claim(context.Context, *Hold, time.Duration) error {
	g.claimed++
	return nil
}
func (g *countingGuard) Extend(context.Context, *Hold, time.Duration) error { return nil }
func (g *countingGuard) Release(context.Context, *Hold) error {
	g.released++
	return nil
}

func TestSweeperDrainsInBatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		day := testNow.AddDate(0, 0, 10+2*i)
		r, err := inventory.NewDateRange(day, day.AddDate(0, 0, 1))
		require.NoError(t, err)
		_, err = f.manager.Acquire(ctx, uuid.New(), f.unit, r, 0)
		require.NoError(t, err)
	}
	f.clock.Advance(time.Hour)

	s := NewSweeper(f.manager, &SweeperConfig{Interval: time.Minute, BatchSize: 2})
	assert.Equal(t, 5, s.SweepOnce(ctx))
	assert.Zero(t, s.SweepOnce(ctx))
}

func TestPurgeResolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hold, err := f.manager.Acquire(ctx, uuid.New(), f.unit, f.stay, 0)
	require.NoError(t, err)
	require.NoError(t, f.manager.Release(ctx, hold.ID, ReasonCancelled))

	n, err := f.manager.PurgeResolved(ctx, testNow)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.manager.PurgeResolved(ctx, testNow.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.manager.Get(ctx, hold.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

type updateFailingRepo struct {
	Repository
	fail bool
}

func (r *updateFailingRepo) Update(ctx context.Context, h *Hold) error {
	if r.fail {
		return errors.New("db down")
	}
	return r.Repository.Update(ctx, h)
}

type extendGuard struct {
	countingGuard
	extended []time.Duration
	err      error
}

func (g *extendGuard) Extend(_ context.Context, _ *Hold, ttl time.Duration) error {
	if g.err != nil {
		return g.err
	}
	g.extended = append(g.extended, ttl)
	return nil
}

func TestExtendLeavesGuardAloneWhenUpdateFails(t *testing.T) {
	repo := &updateFailingRepo{Repository: NewMemoryRepository()}
	guard := &extendGuard{}
	clk := clock.NewManual(testNow)
	m := NewManager(repo, inventory.NewLedger(inventory.NewMemoryRecordStore(), clk), clk, WithGuard(guard))
	ctx := context.Background()

	hold, err := m.Acquire(ctx, uuid.New(), uuid.New(), inventory.MustDateRange("2026-05-10", "2026-05-13"), 0)
	require.NoError(t, err)

	repo.fail = true
	_, err = m.Extend(ctx, hold.ID, 30*time.Minute)
	require.Error(t, err)
	assert.Empty(t, guard.extended)

	got, err := m.Get(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, hold.ExpiresAt, got.ExpiresAt)
}

func TestExtendRollsBackWhenGuardFails(t *testing.T) {
	guard := &extendGuard{err: errors.New("redis down")}
	f := newFixture(t, WithGuard(guard))
	ctx := context.Background()

	hold, err := f.manager.Acquire(ctx, uuid.New(), f.unit, f.stay, 0)
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	_, err = f.manager.Extend(ctx, hold.ID, 30*time.Minute)
	require.Error(t, err)

	got, err := f.manager.Get(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, hold.ExpiresAt, got.ExpiresAt)

	// the stored expiry still drives the sweep
	f.clock.Advance(6 * time.Minute)
	n, err := f.manager.ExpireDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCommitTwiceIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hold, err := f.manager.Acquire(ctx, uuid.New(), f.unit, f.stay, 0)
	require.NoError(t, err)
	require.NoError(t, f.manager.Commit(ctx, hold.ID))

	// a retried confirmation after the hold was consumed
	f.clock.Advance(time.Hour)
	require.NoError(t, f.manager.Commit(ctx, hold.ID))
	assert.Equal(t, repeat(inventory.StateBooked, 3), f.nightStates(t))
}

func TestCommitFailureKeepsHoldActive(t *testing.T) {
	clk := clock.NewManual(testNow)
	store := inventory.NewMemoryRecordStore()
	m := NewManager(NewMemoryRepository(), inventory.NewLedger(store, clk), clk)
	ctx := context.Background()

	hold, err := m.Acquire(ctx, uuid.New(), uuid.New(), inventory.MustDateRange("2026-05-10", "2026-05-13"), 0)
	require.NoError(t, err)

	store.FailNextApply(errors.New("db blip"))
	require.Error(t, m.Commit(ctx, hold.ID))

	got, err := m.Get(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, HoldStatusActive, got.Status)

	require.NoError(t, m.Commit(ctx, hold.ID))
}
