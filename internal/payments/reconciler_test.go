package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zomestaydeveloper/Zomestay/internal/notifications"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/clock"
)

var testNow = time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

// fakeMachine resolves the attempt the way the booking service does.
type fakeMachine struct {
	mu    sync.Mutex
	repo  Repository
	calls []Callback
	err   error
}

func (m *fakeMachine) ApplyPaymentResult(ctx context.Context, attempt Attempt, cb Callback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, cb)
	if m.err != nil {
		return m.err
	}
	attempt.Resolve(cb.Status, cb.Metadata, testNow)
	return m.repo.Resolve(ctx, &attempt)
}

func newReconciler(t *testing.T) (*Reconciler, Repository, *fakeMachine, *notifications.Recorder) {
	t.Helper()
	repo := NewMemoryRepository()
	machine := &fakeMachine{repo: repo}
	rec := notifications.NewRecorder()
	return NewReconciler(repo, machine, rec, clock.NewFixed(testNow)), repo, machine, rec
}

func seedAttempt(t *testing.T, repo Repository, status AttemptStatus) *Attempt {
	t.Helper()
	a := &Attempt{
		ID:        uuid.New(),
		BookingID: uuid.New(),
		Reference: "order_" + uuid.NewString()[:8],
		Sequence:  1,
		Provider:  ProviderRazorpay,
		Amount:    12000,
		Currency:  "INR",
		Status:    status,
		CreatedAt: testNow,
	}
	require.NoError(t, repo.Create(context.Background(), a))
	return a
}

func TestOnCallbackAppliesOnce(t *testing.T) {
	r, repo, machine, _ := newReconciler(t)
	ctx := context.Background()
	a := seedAttempt(t, repo, AttemptPending)

	cb := Callback{Reference: a.Reference, Status: AttemptSucceeded, Provider: ProviderRazorpay}
	outcome, err := r.OnCallback(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	// gateway redelivery
	outcome, err = r.OnCallback(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Len(t, machine.calls, 1)
}

func TestOnCallbackFirstTerminalResultWins(t *testing.T) {
	r, repo, machine, rec := newReconciler(t)
	ctx := context.Background()
	a := seedAttempt(t, repo, AttemptPending)

	outcome, err := r.OnCallback(ctx, Callback{Reference: a.Reference, Status: AttemptFailed})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	outcome, err = r.OnCallback(ctx, Callback{Reference: a.Reference, Status: AttemptSucceeded})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome)
	assert.Len(t, machine.calls, 1)

	got, err := repo.GetByReference(ctx, a.Reference)
	require.NoError(t, err)
	assert.Equal(t, AttemptFailed, got.Status)

	assert.Len(t, rec.OfType(notifications.EventStaleCallback), 1)
	refunds := rec.OfType(notifications.EventRefundRequired)
	require.Len(t, refunds, 1)
	assert.Equal(t, a.BookingID.String(), refunds[0].AggregateID)
}

func TestOnCallbackUnmatchedIsDropped(t *testing.T) {
	r, _, machine, _ := newReconciler(t)
	outcome, err := r.OnCallback(context.Background(), Callback{Reference: "order_unknown", Status: AttemptSucceeded})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, outcome)
	assert.Empty(t, machine.calls)
}

func TestOnCallbackIgnoresMalformed(t *testing.T) {
	r, _, _, _ := newReconciler(t)
	outcome, err := r.OnCallback(context.Background(), Callback{Reference: "x", Status: AttemptPending})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	outcome, err = r.OnCallback(context.Background(), Callback{Status: AttemptFailed})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestOnCallbackLostRaceIsStale(t *testing.T) {
	r, repo, machine, _ := newReconciler(t)
	ctx := context.Background()
	a := seedAttempt(t, repo, AttemptPending)

	// the booking was cancelled between the lookup and the lock
	expired := *a
	expired.Resolve(AttemptExpired, nil, testNow)
	require.NoError(t, repo.Resolve(ctx, &expired))
	machine.err = apperrors.ErrStaleCallback

	// the pre-check sees EXPIRED already, so the machine is not consulted
	outcome, err := r.OnCallback(ctx, Callback{Reference: a.Reference, Status: AttemptSucceeded})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome)
	assert.Empty(t, machine.calls)
}

func TestOnCallbackStaleFromMachineIsReclassified(t *testing.T) {
	r, repo, machine, _ := newReconciler(t)
	ctx := context.Background()
	a := seedAttempt(t, repo, AttemptPending)

	machine.err = errors.Join(apperrors.ErrStaleCallback)
	outcome, err := r.OnCallback(ctx, Callback{Reference: a.Reference, Status: AttemptFailed})
	require.NoError(t, err)
	// still pending in the store: reported as stale, nothing changed
	assert.Equal(t, OutcomeStale, outcome)
}

func TestOnCallbackPropagatesInfrastructureErrors(t *testing.T) {
	r, repo, machine, _ := newReconciler(t)
	a := seedAttempt(t, repo, AttemptPending)
	machine.err = errors.New("db down")

	ctx := context.Background()
	cb := Callback{Reference: a.Reference, Status: AttemptSucceeded, Amount: a.Amount, Currency: a.Currency}
	_, err := r.OnCallback(ctx, cb)
	require.Error(t, err)

	got, err := repo.GetByReference(ctx, a.Reference)
	require.NoError(t, err)
	assert.Equal(t, AttemptPending, got.Status)

	// the intake retries once the database is back
	machine.err = nil
	outcome, err := r.OnCallback(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Len(t, machine.calls, 2)

	got, err = repo.GetByReference(ctx, a.Reference)
	require.NoError(t, err)
	assert.Equal(t, AttemptSucceeded, got.Status)
}

func TestOnCallbackDoesNotRefundTwice(t *testing.T) {
	r, repo, _, rec := newReconciler(t)
	ctx := context.Background()
	a := seedAttempt(t, repo, AttemptPending)

	// rejected for a short capture, refund already raised
	a.Resolve(AttemptFailed, map[string]string{MetaRefundRequested: RefundAmountMismatch}, testNow)
	require.NoError(t, repo.Resolve(ctx, a))

	outcome, err := r.OnCallback(ctx, Callback{Reference: a.Reference, Status: AttemptSucceeded, Amount: 100, Currency: "INR"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome)
	assert.Len(t, rec.OfType(notifications.EventStaleCallback), 1)
	assert.Empty(t, rec.OfType(notifications.EventRefundRequired))
}

func TestMemoryRepositoryEnforcesSinglePending(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	a := seedAttempt(t, repo, AttemptPending)

	err := repo.Create(ctx, &Attempt{ID: uuid.New(), BookingID: a.BookingID, Reference: "order_2", Sequence: 2, Status: AttemptPending})
	require.ErrorIs(t, err, apperrors.ErrConflict)

	a.Resolve(AttemptFailed, map[string]string{"error": "declined"}, testNow)
	require.NoError(t, repo.Resolve(ctx, a))
	require.ErrorIs(t, repo.Resolve(ctx, a), apperrors.ErrStaleCallback)

	require.NoError(t, repo.Create(ctx, &Attempt{ID: uuid.New(), BookingID: a.BookingID, Reference: "order_2", Sequence: 2, Status: AttemptPending}))
	list, err := repo.ListByBooking(ctx, a.BookingID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "declined", list[0].Metadata["error"])
}
