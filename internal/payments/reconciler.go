package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zomestaydeveloper/Zomestay/internal/notifications"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/clock"
	"github.com/zomestaydeveloper/Zomestay/pkg/logger"
)

// Refund reasons raised by payment handling.
const (
	RefundLatePayment    = "LATE_PAYMENT"
	RefundAmountMismatch = "AMOUNT_MISMATCH"
)

// BookingMachine applies a matched payment result to the owning booking.
// It returns ErrStaleCallback when the attempt is no longer pending by the
// time the booking is locked. Any other error leaves the attempt pending so
// a redelivery applies it again.
type BookingMachine interface {
	ApplyPaymentResult(ctx context.Context, attempt Attempt, cb Callback) error
}

// Reconciler turns gateway callbacks into booking transitions. Replays,
// late results and unknown references are absorbed here and never reach
// the caller as errors.
type Reconciler struct {
	repo      Repository
	machine   BookingMachine
	publisher notifications.Publisher
	clock     clock.Clock
	log       *logger.Logger
}

func NewReconciler(repo Repository, machine BookingMachine, publisher notifications.Publisher, clk clock.Clock) *Reconciler {
	return &Reconciler{
		repo:      repo,
		machine:   machine,
		publisher: publisher,
		clock:     clk,
		log:       logger.GetDefault().WithComponent("payments"),
	}
}

// OnCallback reconciles one gateway result. The only errors returned are
// infrastructure failures the intake should retry.
func (r *Reconciler) OnCallback(ctx context.Context, cb Callback) (Outcome, error) {
	cb.Reference = strings.TrimSpace(cb.Reference)
	if cb.ReceivedAt.IsZero() {
		cb.ReceivedAt = r.clock.Now()
	}
	if cb.Reference == "" || !cb.Status.IsResult() {
		r.log.WarnContext(ctx, "malformed payment callback ignored",
			"reference", cb.Reference, "status", string(cb.Status), "provider", cb.Provider)
		return OutcomeIgnored, nil
	}

	attempt, err := r.repo.GetByReference(ctx, cb.Reference)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			r.log.LogUnmatchedCallback(ctx, cb.Reference, string(cb.Status))
			return OutcomeUnmatched, nil
		}
		return "", fmt.Errorf("failed to match payment callback: %w", err)
	}

	if attempt.Status.IsTerminal() {
		return r.absorb(ctx, attempt, cb), nil
	}

	if err := r.machine.ApplyPaymentResult(ctx, *attempt, cb); err != nil {
		if errors.Is(err, apperrors.ErrStaleCallback) {
			// Lost a race with another result or a cancellation.
			latest, getErr := r.repo.GetByReference(ctx, cb.Reference)
			if getErr != nil {
				return "", fmt.Errorf("failed to reload payment attempt: %w", getErr)
			}
			return r.absorb(ctx, latest, cb), nil
		}
		return "", err
	}

	r.log.LogPaymentCallback(ctx, cb.Reference, string(cb.Status), string(OutcomeApplied))
	return OutcomeApplied, nil
}

// absorb handles a callback for an attempt that already has a result.
func (r *Reconciler) absorb(ctx context.Context, attempt *Attempt, cb Callback) Outcome {
	if attempt.Status == cb.Status {
		r.log.LogPaymentCallback(ctx, cb.Reference, string(cb.Status), string(OutcomeDuplicate))
		return OutcomeDuplicate
	}

	r.log.LogStaleCallback(ctx, cb.Reference, attempt.BookingID.String(), string(cb.Status),
		fmt.Sprintf("attempt already %s", attempt.Status))
	now := r.clock.Now()
	notifications.PublishOrLog(ctx, r.publisher,
		notifications.NewEvent(notifications.EventStaleCallback, attempt.BookingID.String(), now).
			With("reference", cb.Reference).
			With("reported_status", string(cb.Status)).
			With("attempt_status", string(attempt.Status)).
			With("provider", cb.Provider))

	// Money arrived after we gave up on the attempt. A refund already
	// raised when the attempt was resolved is not raised twice.
	if cb.Status == AttemptSucceeded && attempt.Status != AttemptSucceeded && attempt.Metadata[MetaRefundRequested] == "" {
		amount, currency := cb.Amount, cb.Currency
		if amount == 0 {
			amount = attempt.Amount
		}
		if currency == "" {
			currency = attempt.Currency
		}
		notifications.PublishOrLog(ctx, r.publisher,
			notifications.NewEvent(notifications.EventRefundRequired, attempt.BookingID.String(), now).
				With("reference", cb.Reference).
				With("amount", amount).
				With("currency", currency).
				With("reason", RefundLatePayment))
	}
	return OutcomeStale
}
