package bookings

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zomestaydeveloper/Zomestay/internal/inventory"
	"github.com/zomestaydeveloper/Zomestay/internal/notifications"
	"github.com/zomestaydeveloper/Zomestay/internal/payments"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
)

// flakyRepository fails the next failSaves booking updates.
type flakyRepository struct {
	Repository
	failSaves int
}

func (r *flakyRepository) Save(ctx context.Context, b *Booking, history ...Transition) error {
	if r.failSaves > 0 {
		r.failSaves--
		return errors.New("connection reset by peer")
	}
	return r.Repository.Save(ctx, b, history...)
}

// flakyAttempts fails the next failSuccesses writes of a SUCCEEDED result.
type flakyAttempts struct {
	payments.Repository
	failSuccesses int
}

func (r *flakyAttempts) Resolve(ctx context.Context, a *payments.Attempt) error {
	if a.Status == payments.AttemptSucceeded && r.failSuccesses > 0 {
		r.failSuccesses--
		return errors.New("connection reset by peer")
	}
	return r.Repository.Resolve(ctx, a)
}

func (f *fixture) startPayment(b *Booking, provider string) error {
	_, err := f.svc.StartPayment(context.Background(), f.guest, b.ID, StartPaymentRequest{Provider: provider})
	return err
}

func TestConfirmRetriedAfterLedgerWriteFails(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	b := f.book(t)
	a := f.pay(t, b)

	f.store.FailNextApply(errors.New("db blip"))
	_, err := f.reconciler.OnCallback(ctx, gatewayResult(a, payments.AttemptSucceeded))
	require.Error(t, err)

	d := f.booking(t, b.ID)
	assert.Equal(t, StateAwaitingPayment, d.Booking.State)
	require.Len(t, d.Attempts, 1)
	assert.Equal(t, payments.AttemptPending, d.Attempts[0].Status)
	assertNights(t, f.nights(t, f.stay), inventory.StateHeld, b.ID.String())

	// the paid attempt is still open, so no second one can start
	require.ErrorIs(t, f.startPayment(b, payments.ProviderStripe), apperrors.ErrInvalidTransition)

	assert.Equal(t, payments.OutcomeApplied, f.callback(t, a, payments.AttemptSucceeded))
	d = f.booking(t, b.ID)
	assert.Equal(t, StateConfirmed, d.Booking.State)
	require.Len(t, d.Attempts, 1)
	assert.Equal(t, payments.AttemptSucceeded, d.Attempts[0].Status)
	assertNights(t, f.nights(t, f.stay), inventory.StateBooked, b.ID.String())
	assert.Len(t, f.events.OfType(notifications.EventBookingConfirmed), 1)
	assert.Empty(t, f.events.OfType(notifications.EventRefundRequired))
}

func TestConfirmRetriedAfterBookingWriteFails(t *testing.T) {
	flaky := &flakyRepository{}
	f := newWiredFixture(t, defaultConfig(), wiring{repo: func(r Repository) Repository {
		flaky.Repository = r
		return flaky
	}})
	ctx := context.Background()
	b := f.book(t)
	a := f.pay(t, b)

	flaky.failSaves = 1
	_, err := f.reconciler.OnCallback(ctx, gatewayResult(a, payments.AttemptSucceeded))
	require.Error(t, err)

	d := f.booking(t, b.ID)
	assert.Equal(t, StateAwaitingPayment, d.Booking.State)
	assert.Equal(t, payments.AttemptPending, d.Attempts[0].Status)
	require.ErrorIs(t, f.startPayment(b, payments.ProviderRazorpay), apperrors.ErrInvalidTransition)

	// the committed hold is no longer swept
	f.clock.Advance(11 * time.Minute)
	n, err := f.holds.ExpireDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, payments.OutcomeApplied, f.callback(t, a, payments.AttemptSucceeded))
	d = f.booking(t, b.ID)
	assert.Equal(t, StateConfirmed, d.Booking.State)
	assert.Equal(t, payments.AttemptSucceeded, d.Attempts[0].Status)
	assertNights(t, f.nights(t, f.stay), inventory.StateBooked, b.ID.String())
	assert.Empty(t, f.events.OfType(notifications.EventRefundRequired))
}

func TestAttemptResolvedOnRedeliveryAfterConfirm(t *testing.T) {
	flaky := &flakyAttempts{}
	f := newWiredFixture(t, defaultConfig(), wiring{attempts: func(r payments.Repository) payments.Repository {
		flaky.Repository = r
		return flaky
	}})
	ctx := context.Background()
	b := f.book(t)
	a := f.pay(t, b)

	flaky.failSuccesses = 1
	_, err := f.reconciler.OnCallback(ctx, gatewayResult(a, payments.AttemptSucceeded))
	require.Error(t, err)

	d := f.booking(t, b.ID)
	assert.Equal(t, StateConfirmed, d.Booking.State)
	assert.Equal(t, payments.AttemptPending, d.Attempts[0].Status)

	assert.Equal(t, payments.OutcomeApplied, f.callback(t, a, payments.AttemptSucceeded))
	assert.Equal(t, payments.OutcomeDuplicate, f.callback(t, a, payments.AttemptSucceeded))
	d = f.booking(t, b.ID)
	assert.Equal(t, StateConfirmed, d.Booking.State)
	assert.Equal(t, payments.AttemptSucceeded, d.Attempts[0].Status)
	assert.Len(t, f.events.OfType(notifications.EventBookingConfirmed), 1)
	assert.Empty(t, f.events.OfType(notifications.EventStaleCallback))
}

func TestLateSuccessRefundedOnceWhenCancelIsRetried(t *testing.T) {
	flaky := &flakyRepository{}
	f := newWiredFixture(t, defaultConfig(), wiring{repo: func(r Repository) Repository {
		flaky.Repository = r
		return flaky
	}})
	ctx := context.Background()
	b := f.book(t)
	a := f.pay(t, b)

	// ran out by the clock, sweep has not run
	f.clock.Advance(11 * time.Minute)
	flaky.failSaves = 1
	_, err := f.reconciler.OnCallback(ctx, gatewayResult(a, payments.AttemptSucceeded))
	require.Error(t, err)
	assert.Equal(t, payments.AttemptPending, f.booking(t, b.ID).Attempts[0].Status)
	assert.Empty(t, f.events.OfType(notifications.EventRefundRequired))

	assert.Equal(t, payments.OutcomeApplied, f.callback(t, a, payments.AttemptSucceeded))
	assert.Equal(t, payments.OutcomeDuplicate, f.callback(t, a, payments.AttemptSucceeded))

	d := f.booking(t, b.ID)
	assert.Equal(t, StateCancelled, d.Booking.State)
	assert.Equal(t, ReasonHoldExpired, d.Booking.CancelReason)
	assert.Equal(t, a.Amount, d.Booking.RefundAmount)
	assert.Equal(t, payments.AttemptSucceeded, d.Attempts[0].Status)
	assert.Equal(t, ReasonHoldExpired, d.Attempts[0].Metadata[payments.MetaRefundRequested])
	assertNights(t, f.nights(t, f.stay), inventory.StateFree, "")

	refunds := f.events.OfType(notifications.EventRefundRequired)
	require.Len(t, refunds, 1)
	assert.Equal(t, a.Reference, refunds[0].Payload["attempt_reference"])
	assert.Equal(t, a.Amount, refunds[0].Payload["amount"])
}

func TestSucceededAttemptBlocksRetryAndIsRefundedOnExpiry(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	b := f.book(t)
	a := f.pay(t, b)

	// money recorded against a booking that never got confirmed
	a.Resolve(payments.AttemptSucceeded, nil, f.clock.Now())
	require.NoError(t, f.attempts.Resolve(ctx, a))

	require.ErrorIs(t, f.startPayment(b, payments.ProviderStripe), apperrors.ErrInvalidTransition)

	f.clock.Advance(11 * time.Minute)
	n, err := f.holds.ExpireDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d := f.booking(t, b.ID)
	assert.Equal(t, StateCancelled, d.Booking.State)
	assert.Equal(t, ReasonHoldExpired, d.Booking.CancelReason)
	assert.Equal(t, b.Price, d.Booking.RefundAmount)

	refunds := f.events.OfType(notifications.EventRefundRequired)
	require.Len(t, refunds, 1)
	assert.Equal(t, a.Reference, refunds[0].Payload["attempt_reference"])
	assert.Equal(t, a.Amount, refunds[0].Payload["amount"])
	assert.Equal(t, ReasonHoldExpired, refunds[0].Payload["reason"])

	// the gateway repeating itself is not refunded again
	assert.Equal(t, payments.OutcomeDuplicate, f.callback(t, a, payments.AttemptSucceeded))
	assert.Len(t, f.events.OfType(notifications.EventRefundRequired), 1)
}

func TestCaptureThatDiffersFromAttemptFails(t *testing.T) {
	cases := []struct {
		name       string
		adjust     func(cb *payments.Callback)
		wantRefund bool
	}{
		{"short capture", func(cb *payments.Callback) { cb.Amount -= 100 }, true},
		{"over capture", func(cb *payments.Callback) { cb.Amount += 100 }, true},
		{"other currency", func(cb *payments.Callback) { cb.Currency = "USD" }, true},
		{"amount missing", func(cb *payments.Callback) { cb.Amount = 0 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, defaultConfig())
			ctx := context.Background()
			b := f.book(t)
			a := f.pay(t, b)

			cb := gatewayResult(a, payments.AttemptSucceeded)
			tc.adjust(&cb)
			out, err := f.reconciler.OnCallback(ctx, cb)
			require.NoError(t, err)
			assert.Equal(t, payments.OutcomeApplied, out)

			d := f.booking(t, b.ID)
			assert.Equal(t, StateAwaitingPayment, d.Booking.State)
			assert.Equal(t, payments.AttemptFailed, d.Attempts[0].Status)
			assert.Equal(t, strconv.FormatInt(cb.Amount, 10), d.Attempts[0].Metadata[payments.MetaCapturedAmount])
			assertNights(t, f.nights(t, f.stay), inventory.StateHeld, b.ID.String())
			assert.Empty(t, f.events.OfType(notifications.EventBookingConfirmed))

			refunds := f.events.OfType(notifications.EventRefundRequired)
			if !tc.wantRefund {
				assert.Empty(t, refunds)
				return
			}
			require.Len(t, refunds, 1)
			assert.Equal(t, cb.Amount, refunds[0].Payload["amount"])
			assert.Equal(t, payments.RefundAmountMismatch, refunds[0].Payload["reason"])

			// a redelivery is stale and not refunded twice
			out, err = f.reconciler.OnCallback(ctx, cb)
			require.NoError(t, err)
			assert.Equal(t, payments.OutcomeStale, out)
			assert.Len(t, f.events.OfType(notifications.EventRefundRequired), 1)

			// the guest can still pay the right amount
			a2 := f.pay(t, b)
			assert.Equal(t, payments.OutcomeApplied, f.callback(t, a2, payments.AttemptSucceeded))
			assert.Equal(t, StateConfirmed, f.booking(t, b.ID).Booking.State)
		})
	}
}
