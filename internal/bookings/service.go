package bookings

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zomestaydeveloper/Zomestay/internal/cancellation"
	"github.com/zomestaydeveloper/Zomestay/internal/holds"
	"github.com/zomestaydeveloper/Zomestay/internal/inventory"
	"github.com/zomestaydeveloper/Zomestay/internal/notifications"
	"github.com/zomestaydeveloper/Zomestay/internal/payments"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/clock"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/identity"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/locks"
	"github.com/zomestaydeveloper/Zomestay/pkg/logger"
)

// UnitChecker is the slice of the inventory service bookings need (kept
// narrow to avoid a dependency on the whole unit API).
type UnitChecker interface {
	CheckBookable(ctx context.Context, id uuid.UUID, r inventory.DateRange, maxNights int) (*inventory.Unit, error)
}

// RefundEvaluator computes the refund owed when a confirmed booking is
// cancelled.
type RefundEvaluator interface {
	EvaluateRefund(ctx context.Context, unitID uuid.UUID, checkIn time.Time, amount int64) (cancellation.Refund, error)
}

type Config struct {
	MaxNights int
	// MaxPaymentAttempts bounds failed attempts before the booking is
	// cancelled. Zero means only the hold TTL bounds retries.
	MaxPaymentAttempts int
	ReferencePrefix    string
	// PaymentLinkMinTTL is the least hold time left when a payment link is
	// sent. Shorter holds are extended to it.
	PaymentLinkMinTTL time.Duration
}

const defaultPaymentLinkMinTTL = 16 * time.Minute

type Option func(*service)

// WithLinkIssuer enables payment links for the front desk.
func WithLinkIssuer(issuer payments.LinkIssuer) Option {
	return func(s *service) {
		s.links = issuer
	}
}

// Service is the booking state machine. Every transition of one booking
// runs under that booking's lock.
type Service interface {
	RequestBooking(ctx context.Context, actor identity.Identity, req CreateBookingRequest) (*Booking, error)
	StartPayment(ctx context.Context, actor identity.Identity, bookingID uuid.UUID, req StartPaymentRequest) (*payments.Attempt, error)
	RecordCashPayment(ctx context.Context, actor identity.Identity, bookingID uuid.UUID, req CashPaymentRequest) (*Booking, error)
	CreatePaymentLink(ctx context.Context, actor identity.Identity, bookingID uuid.UUID, req PaymentLinkRequest) (*PaymentLinkResponse, error)
	ApplyPaymentResult(ctx context.Context, attempt payments.Attempt, cb payments.Callback) error
	Cancel(ctx context.Context, actor identity.Identity, bookingID uuid.UUID, note string) (*Booking, error)
	ForceCancel(ctx context.Context, actor identity.Identity, bookingID uuid.UUID, note string) (*Booking, error)
	RequestCancellation(ctx context.Context, actor identity.Identity, bookingID uuid.UUID, req CancellationRequestInput) (*CancellationRequest, error)
	ReviewCancellation(ctx context.Context, actor identity.Identity, requestID uuid.UUID, req ReviewCancellationInput) (*CancellationRequest, error)
	ListCancellationRequests(ctx context.Context, actor identity.Identity, query CancellationRequestQuery) ([]CancellationRequest, int64, error)
	ExtendHold(ctx context.Context, actor identity.Identity, bookingID uuid.UUID, ttl time.Duration) (*Booking, error)
	OnHoldExpired(ctx context.Context, hold holds.Hold)
	Get(ctx context.Context, actor identity.Identity, bookingID uuid.UUID) (*Details, error)
	ListMine(ctx context.Context, actor identity.Identity, query BookingListQuery) ([]Booking, int64, error)
}

type service struct {
	repo      Repository
	units     UnitChecker
	ledger    *inventory.Ledger
	holds     *holds.Manager
	attempts  payments.Repository
	refunds   RefundEvaluator
	publisher notifications.Publisher
	links     payments.LinkIssuer
	clock     clock.Clock
	cfg       Config
	locks     *locks.Keyed
	log       *logger.Logger
}

// NewService builds the state machine and subscribes it to hold expiry.
func NewService(
	repo Repository,
	units UnitChecker,
	ledger *inventory.Ledger,
	holdManager *holds.Manager,
	attempts payments.Repository,
	refunds RefundEvaluator,
	publisher notifications.Publisher,
	clk clock.Clock,
	cfg Config,
	opts ...Option,
) Service {
	if cfg.ReferencePrefix == "" {
		cfg.ReferencePrefix = "ZS"
	}
	if cfg.PaymentLinkMinTTL <= 0 {
		cfg.PaymentLinkMinTTL = defaultPaymentLinkMinTTL
	}
	s := &service{
		repo:      repo,
		units:     units,
		ledger:    ledger,
		holds:     holdManager,
		attempts:  attempts,
		refunds:   refunds,
		publisher: publisher,
		clock:     clk,
		cfg:       cfg,
		locks:     locks.NewKeyed(),
		log:       logger.GetDefault().WithComponent("bookings"),
	}
	for _, opt := range opts {
		opt(s)
	}
	holdManager.OnExpired(s.OnHoldExpired)
	return s
}

// RequestBooking places a hold for the guest and returns the pending
// booking. If the nights are taken it fails with ErrConflict and nothing is
// stored. Front desk staff book for a walk-in guest by naming req.GuestID.
func (s *service) RequestBooking(ctx context.Context, actor identity.Identity, req CreateBookingRequest) (*Booking, error) {
	guestID, bookedBy := actor.ID, ""
	if req.GuestID != "" && req.GuestID != actor.ID {
		if !actor.Can(identity.CapBookOnBehalf) {
			return nil, fmt.Errorf("%w: %s cannot book for another guest", apperrors.ErrForbidden, actor.ID)
		}
		guestID, bookedBy = req.GuestID, actor.ID
	} else if !actor.Can(identity.CapBook) {
		return nil, fmt.Errorf("%w: role %q cannot create bookings", apperrors.ErrForbidden, actor.Role)
	}
	unitID, err := uuid.Parse(req.UnitID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad unit id %q", apperrors.ErrInvalidInput, req.UnitID)
	}
	r, err := inventory.ParseDateRange(req.CheckIn, req.CheckOut)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.repo.GetByIdempotencyKey(ctx, guestID, req.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}

	unit, err := s.units.CheckBookable(ctx, unitID, r, s.cfg.MaxNights)
	if err != nil {
		return nil, err
	}
	quote := unit.Quote(r)
	if req.Price != quote {
		return nil, fmt.Errorf("%w: price %d does not match current quote %d", apperrors.ErrInvalidInput, req.Price, quote)
	}
	if req.Currency != "" && !strings.EqualFold(req.Currency, unit.Currency) {
		return nil, fmt.Errorf("%w: unit is priced in %s", apperrors.ErrInvalidInput, unit.Currency)
	}

	now := s.clock.Now()
	reference, err := generateReference(s.cfg.ReferencePrefix, now)
	if err != nil {
		return nil, fmt.Errorf("failed to generate booking reference: %w", err)
	}
	b := &Booking{
		ID:        uuid.New(),
		Reference: reference,
		GuestID:   guestID,
		BookedBy:  bookedBy,
		UnitID:    unitID,
		Range:     r,
		Price:     quote,
		Currency:  unit.Currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		b.IdempotencyKey = &key
	}

	// The lock makes an expiry listener wait until the row exists.
	unlock := s.locks.Lock(b.ID.String())
	defer unlock()

	hold, err := s.holds.Acquire(ctx, b.ID, unitID, r, 0)
	if err != nil {
		return nil, err
	}
	holdID, expiresAt := hold.ID, hold.ExpiresAt
	b.HoldID = &holdID
	b.HoldExpiresAt = &expiresAt

	created := s.apply(b, StateCreated, ReasonRequested, actor.ID, "", "")
	placed, err := s.move(b, StateHoldPlaced, ReasonHoldAcquired, actor.ID, "", "")
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, b, created, placed); err != nil {
		if relErr := s.holds.Release(ctx, holdID, holds.ReasonCompensation); relErr != nil {
			s.log.ErrorContext(ctx, "failed to release hold of unsaved booking",
				"hold_id", holdID.String(), "error", relErr.Error())
		}
		// Lost a race on the same idempotency key.
		if req.IdempotencyKey != "" && errors.Is(err, apperrors.ErrConflict) {
			if existing, getErr := s.repo.GetByIdempotencyKey(ctx, guestID, req.IdempotencyKey); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	s.logTransitions(ctx, b, created, placed)
	notifications.PublishOrLog(ctx, s.publisher, s.event(notifications.EventHoldPlaced, b).
		WithActor(actor.ID).
		With("range", r.String()).
		With("price", b.Price).
		With("currency", b.Currency).
		With("hold_expires_at", expiresAt))
	return b, nil
}

// StartPayment opens a new payment attempt and moves the booking to
// AWAITING_PAYMENT. A retry is allowed only once the previous attempt has a
// result, and never after one succeeded. The attempt reference is generated
// here and is what the gateway must echo back.
func (s *service) StartPayment(ctx context.Context, actor identity.Identity, bookingID uuid.UUID, req StartPaymentRequest) (*payments.Attempt, error) {
	unlock := s.locks.Lock(bookingID.String())
	defer unlock()

	b, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := authorizeGuest(actor, b); err != nil {
		return nil, err
	}
	return s.openAttemptLocked(ctx, actor, b, req.Provider, "")
}

// RecordCashPayment confirms a booking paid in cash at the front desk. The
// amount must be the full booking price.
func (s *service) RecordCashPayment(ctx context.Context, actor identity.Identity, bookingID uuid.UUID, req CashPaymentRequest) (*Booking, error) {
	if !actor.Can(identity.CapCollectPayment) {
		return nil, fmt.Errorf("%w: %s lacks %s", apperrors.ErrForbidden, actor.ID, identity.CapCollectPayment)
	}
	unlock := s.locks.Lock(bookingID.String())
	defer unlock()

	b, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if req.Amount != b.Price {
		return nil, fmt.Errorf("%w: cash amount %d does not match booking price %d", apperrors.ErrInvalidInput, req.Amount, b.Price)
	}
	if req.Currency != "" && !strings.EqualFold(req.Currency, b.Currency) {
		return nil, fmt.Errorf("%w: booking is priced in %s", apperrors.ErrInvalidInput, b.Currency)
	}

	attempt, err := s.pendingAttempt(ctx, b.ID, payments.ProviderCash)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		attempt, err = s.openAttemptLocked(ctx, actor, b, payments.ProviderCash, "front_desk")
		if err != nil {
			return nil, err
		}
	}

	meta := map[string]string{payments.MetaCollectedBy: actor.ID}
	if req.ReceiptNumber != "" {
		meta["receipt_number"] = req.ReceiptNumber
	}
	if req.Note != "" {
		meta["note"] = req.Note
	}
	cb := payments.Callback{
		Reference:  attempt.Reference,
		Status:     payments.AttemptSucceeded,
		Provider:   payments.ProviderCash,
		Amount:     req.Amount,
		Currency:   strings.ToUpper(b.Currency),
		Metadata:   meta,
		ReceivedAt: s.clock.Now(),
	}
	if err := s.applyLocked(ctx, *attempt, cb); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, b.ID)
}

// CreatePaymentLink opens an attempt and has the gateway send the guest a
// hosted payment page for it. The hold is extended so the guest has time to
// pay; the gateway reports the result through the usual webhook.
func (s *service) CreatePaymentLink(ctx context.Context, actor identity.Identity, bookingID uuid.UUID, req PaymentLinkRequest) (*PaymentLinkResponse, error) {
	if !actor.Can(identity.CapCollectPayment) {
		return nil, fmt.Errorf("%w: %s lacks %s", apperrors.ErrForbidden, actor.ID, identity.CapCollectPayment)
	}
	if s.links == nil {
		return nil, fmt.Errorf("%w: payment links are not configured", apperrors.ErrInvalidInput)
	}
	if req.Email == "" && req.Phone == "" {
		return nil, fmt.Errorf("%w: an email or phone number is required", apperrors.ErrInvalidInput)
	}
	unlock := s.locks.Lock(bookingID.String())
	defer unlock()

	b, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.State.IsTerminal() || b.HoldID == nil {
		return nil, fmt.Errorf("%w: booking %s is %s", apperrors.ErrInvalidTransition, b.ID, b.State)
	}

	now := s.clock.Now()
	hold, err := s.holds.Get(ctx, *b.HoldID)
	if err != nil {
		return nil, err
	}
	if hold.IsActiveAt(now) && hold.ExpiresAt.Sub(now) < s.cfg.PaymentLinkMinTTL {
		hold, err = s.holds.Extend(ctx, hold.ID, s.cfg.PaymentLinkMinTTL)
		if err != nil {
			return nil, err
		}
		expiresAt := hold.ExpiresAt
		b.HoldExpiresAt = &expiresAt
		t := s.apply(b, b.State, ReasonHoldExtended, actor.ID, "payment link until "+expiresAt.Format(time.RFC3339), "")
		if err := s.persist(ctx, b, t); err != nil {
			return nil, err
		}
	}

	attempt, err := s.openAttemptLocked(ctx, actor, b, payments.ProviderRazorpay, "payment_link")
	if err != nil {
		return nil, err
	}
	link, err := s.links.IssueLink(ctx, payments.LinkRequest{
		Reference:   attempt.Reference,
		Amount:      attempt.Amount,
		Currency:    attempt.Currency,
		Description: "Booking " + b.Reference,
		Customer:    payments.LinkCustomer{Name: req.Name, Email: req.Email, Phone: req.Phone},
		ExpiresAt:   *b.HoldExpiresAt,
	})
	if err != nil {
		attempt.Resolve(payments.AttemptExpired, map[string]string{payments.MetaError: "payment link not issued"}, s.clock.Now())
		if rErr := s.attempts.Resolve(ctx, attempt); rErr != nil {
			s.log.ErrorContext(ctx, "failed to expire payment attempt without link",
				"reference", attempt.Reference, "error", rErr.Error())
		}
		return nil, fmt.Errorf("failed to issue payment link: %w", err)
	}

	notifications.PublishOrLog(ctx, s.publisher, s.event(notifications.EventPaymentLinkIssued, b).
		WithActor(actor.ID).
		With("attempt_reference", attempt.Reference).
		With("link_id", link.ID).
		With("url", link.URL).
		With("expires_at", link.ExpiresAt))
	return &PaymentLinkResponse{BookingID: b.ID, Attempt: attempt, Link: link, HoldExpiresAt: b.HoldExpiresAt}, nil
}

// openAttemptLocked creates the next attempt for b and moves it to
// AWAITING_PAYMENT. The caller holds the booking lock.
func (s *service) openAttemptLocked(ctx context.Context, actor identity.Identity, b *Booking, provider, channel string) (*payments.Attempt, error) {
	if !b.State.CanTransitionTo(StateAwaitingPayment) {
		return nil, fmt.Errorf("%w: booking %s is %s", apperrors.ErrInvalidTransition, b.ID, b.State)
	}

	attempts, err := s.attempts.ListByBooking(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment attempts: %w", err)
	}
	failed := 0
	for _, a := range attempts {
		switch a.Status {
		case payments.AttemptPending:
			return nil, fmt.Errorf("%w: payment attempt %s is still pending", apperrors.ErrInvalidTransition, a.Reference)
		case payments.AttemptSucceeded:
			return nil, fmt.Errorf("%w: booking %s is already paid by %s", apperrors.ErrInvalidTransition, b.ID, a.Reference)
		case payments.AttemptFailed:
			failed++
		}
	}
	if s.cfg.MaxPaymentAttempts > 0 && failed >= s.cfg.MaxPaymentAttempts {
		return nil, fmt.Errorf("%w: %d payment attempts already failed", apperrors.ErrInvalidTransition, failed)
	}

	now := s.clock.Now()
	if b.HoldID == nil {
		return nil, s.invariant(ctx, b, "non-terminal booking without a hold")
	}
	hold, err := s.holds.Get(ctx, *b.HoldID)
	if err != nil {
		return nil, err
	}
	if !hold.IsActiveAt(now) {
		// Ran out before the sweep got to it.
		if err := s.cancelLocked(ctx, b, cancelRequest{
			reason:  ReasonHoldExpired,
			actorID: systemActor,
			note:    "hold expired before payment started",
		}); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: hold for booking %s expired at %s",
			apperrors.ErrExternalTimeout, b.ID, hold.ExpiresAt.Format(time.RFC3339))
	}

	seq := len(attempts) + 1
	reference := fmt.Sprintf("%s-P%d", b.Reference, seq)
	attempt := &payments.Attempt{
		ID:        uuid.New(),
		BookingID: b.ID,
		Reference: reference,
		Sequence:  seq,
		Provider:  provider,
		Amount:    b.Price,
		Currency:  b.Currency,
		Status:    payments.AttemptPending,
		CreatedAt: now,
	}
	if channel != "" {
		attempt.Metadata = map[string]string{payments.MetaChannel: channel}
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		return nil, err
	}

	reason := ReasonPaymentStarted
	if b.State == StateAwaitingPayment {
		reason = ReasonPaymentRetry
	}
	t, err := s.move(b, StateAwaitingPayment, reason, actor.ID, "", reference)
	if err != nil {
		return nil, err
	}
	b.PaymentReference = &reference
	if err := s.persist(ctx, b, t); err != nil {
		attempt.Resolve(payments.AttemptExpired, map[string]string{payments.MetaError: "booking update failed"}, now)
		if rErr := s.attempts.Resolve(ctx, attempt); rErr != nil {
			s.log.ErrorContext(ctx, "failed to expire orphaned payment attempt",
				"reference", reference, "error", rErr.Error())
		}
		return nil, err
	}

	notifications.PublishOrLog(ctx, s.publisher, s.event(notifications.EventAwaitingPayment, b).
		WithActor(actor.ID).
		With("attempt_reference", reference).
		With("sequence", seq).
		With("provider", provider).
		With("amount", attempt.Amount))
	return attempt, nil
}

// pendingAttempt returns the booking's pending attempt with the given
// provider, or nil.
func (s *service) pendingAttempt(ctx context.Context, bookingID uuid.UUID, provider string) (*payments.Attempt, error) {
	attempts, err := s.attempts.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment attempts: %w", err)
	}
	for i := range attempts {
		if attempts[i].Status == payments.AttemptPending && attempts[i].Provider == provider {
			return &attempts[i], nil
		}
	}
	return nil, nil
}

// ApplyPaymentResult is called by the reconciler for a callback matching a
// pending attempt. A success is written to the attempt only after the
// booking is confirmed, so a failure part way leaves the attempt pending
// and a redelivery finishes the job.
func (s *service) ApplyPaymentResult(ctx context.Context, attempt payments.Attempt, cb payments.Callback) error {
	unlock := s.locks.Lock(attempt.BookingID.String())
	defer unlock()
	return s.applyLocked(ctx, attempt, cb)
}

func (s *service) applyLocked(ctx context.Context, matched payments.Attempt, cb payments.Callback) error {
	b, err := s.repo.Get(ctx, matched.BookingID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.log.LogInvariantViolation(ctx, "payment attempt without booking", map[string]interface{}{
				"reference":  matched.Reference,
				"booking_id": matched.BookingID.String(),
			})
			return fmt.Errorf("%w: %v", apperrors.ErrInvariantViolation, err)
		}
		return err
	}

	// Reload under the lock; the caller's copy may predate a cancellation.
	attempt, err := s.attempts.GetByReference(ctx, matched.Reference)
	if err != nil {
		return err
	}
	if attempt.Status.IsTerminal() {
		return fmt.Errorf("%w: attempt %s is already %s", apperrors.ErrStaleCallback, attempt.Reference, attempt.Status)
	}

	// Confirmed on an earlier delivery that failed before the attempt was
	// resolved.
	if b.State == StateConfirmed && cb.Status == payments.AttemptSucceeded &&
		b.PaymentReference != nil && *b.PaymentReference == attempt.Reference {
		return s.resolveAttempt(ctx, attempt, cb.Status, cb.Metadata)
	}

	if b.State.IsTerminal() {
		return fmt.Errorf("%w: booking %s is already %s", apperrors.ErrStaleCallback, b.ID, b.State)
	}
	if b.State != StateAwaitingPayment {
		return s.invariant(ctx, b, "payment attempt for a booking that is not awaiting payment")
	}

	switch cb.Status {
	case payments.AttemptSucceeded:
		if err := attempt.VerifyCapture(cb); err != nil {
			return s.rejectCaptureLocked(ctx, b, attempt, cb, err)
		}
		return s.confirmLocked(ctx, b, attempt, cb)
	case payments.AttemptFailed:
		if err := s.resolveAttempt(ctx, attempt, cb.Status, cb.Metadata); err != nil {
			return err
		}
		return s.paymentFailedLocked(ctx, b, attempt)
	default:
		if err := s.resolveAttempt(ctx, attempt, cb.Status, cb.Metadata); err != nil {
			return err
		}
		return s.cancelLocked(ctx, b, cancelRequest{
			reason:     ReasonPaymentExpired,
			actorID:    systemActor,
			attemptRef: attempt.Reference,
		})
	}
}

func (s *service) resolveAttempt(ctx context.Context, attempt *payments.Attempt, status payments.AttemptStatus, meta map[string]string) error {
	attempt.Resolve(status, meta, s.clock.Now())
	return s.attempts.Resolve(ctx, attempt)
}

// rejectCaptureLocked fails an attempt whose captured amount or currency
// differs from what was asked. The money that did arrive is refunded.
func (s *service) rejectCaptureLocked(ctx context.Context, b *Booking, attempt *payments.Attempt, cb payments.Callback, cause error) error {
	s.log.LogInvariantViolation(ctx, "gateway captured a different amount", map[string]interface{}{
		"booking_id":        b.ID.String(),
		"reference":         attempt.Reference,
		"expected_amount":   attempt.Amount,
		"captured_amount":   cb.Amount,
		"captured_currency": cb.Currency,
	})

	meta := map[string]string{
		payments.MetaError:          cause.Error(),
		payments.MetaCapturedAmount: strconv.FormatInt(cb.Amount, 10),
	}
	for k, v := range cb.Metadata {
		if _, ok := meta[k]; !ok {
			meta[k] = v
		}
	}
	if cb.Amount > 0 {
		meta[payments.MetaRefundRequested] = payments.RefundAmountMismatch
	}
	if err := s.resolveAttempt(ctx, attempt, payments.AttemptFailed, meta); err != nil {
		return err
	}

	if cb.Amount > 0 {
		currency := cb.Currency
		if currency == "" {
			currency = attempt.Currency
		}
		notifications.PublishOrLog(ctx, s.publisher, s.event(notifications.EventRefundRequired, b).
			With("attempt_reference", attempt.Reference).
			With("amount", cb.Amount).
			With("currency", currency).
			With("reason", payments.RefundAmountMismatch))
	}
	return s.paymentFailedLocked(ctx, b, attempt)
}

// confirmLocked books the nights, confirms the booking and only then marks
// the attempt SUCCEEDED. Each step is safe to repeat on redelivery.
func (s *service) confirmLocked(ctx context.Context, b *Booking, attempt *payments.Attempt, cb payments.Callback) error {
	err := s.holds.Commit(ctx, *b.HoldID)
	if errors.Is(err, apperrors.ErrExternalTimeout) {
		// The money is ours to return. The attempt stays pending until the
		// booking is cancelled so a redelivery takes this path again.
		return s.cancelLocked(ctx, b, cancelRequest{
			reason:       ReasonHoldExpired,
			actorID:      systemActor,
			note:         "payment succeeded after hold expiry",
			attemptRef:   attempt.Reference,
			captured:     attempt,
			capturedMeta: cb.Metadata,
		})
	}
	if err != nil {
		return err
	}

	t, err := s.move(b, StateConfirmed, ReasonPaymentSucceeded, systemActor, "", attempt.Reference)
	if err != nil {
		return err
	}
	b.PaymentReference = &attempt.Reference
	if err := s.persist(ctx, b, t); err != nil {
		// Nights are BOOKED for this booking but the row still says
		// AWAITING_PAYMENT until the callback is redelivered.
		s.log.LogInvariantViolation(ctx, "booked nights without a confirmed booking", map[string]interface{}{
			"booking_id": b.ID.String(),
			"reference":  attempt.Reference,
			"error":      err.Error(),
		})
		return err
	}
	notifications.PublishOrLog(ctx, s.publisher, s.event(notifications.EventBookingConfirmed, b).
		WithActor(b.GuestID).
		With("attempt_reference", attempt.Reference).
		With("amount", attempt.Amount).
		With("provider", attempt.Provider).
		With("range", b.Range.String()))

	if err := s.resolveAttempt(ctx, attempt, payments.AttemptSucceeded, cb.Metadata); err != nil {
		return fmt.Errorf("booking %s confirmed but attempt %s not resolved: %w", b.ID, attempt.Reference, err)
	}
	return nil
}

func (s *service) paymentFailedLocked(ctx context.Context, b *Booking, attempt *payments.Attempt) error {
	attempts, err := s.attempts.ListByBooking(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("failed to load payment attempts: %w", err)
	}
	failed := 0
	for _, a := range attempts {
		if a.Status == payments.AttemptFailed {
			failed++
		}
	}
	if s.cfg.MaxPaymentAttempts > 0 && failed >= s.cfg.MaxPaymentAttempts {
		return s.cancelLocked(ctx, b, cancelRequest{
			reason:     ReasonPaymentFailed,
			actorID:    systemActor,
			note:       fmt.Sprintf("%d failed payment attempts", failed),
			attemptRef: attempt.Reference,
		})
	}

	// Retry-before-cancel: the guest may try again until the hold runs out.
	t, err := s.move(b, StateAwaitingPayment, ReasonPaymentFailed, systemActor, attempt.Metadata["error"], attempt.Reference)
	if err != nil {
		return err
	}
	if err := s.persist(ctx, b, t); err != nil {
		return err
	}
	ev := s.event(notifications.EventPaymentFailed, b).
		WithActor(b.GuestID).
		With("attempt_reference", attempt.Reference).
		With("failed_attempts", failed)
	if s.cfg.MaxPaymentAttempts > 0 {
		ev.With("attempts_left", s.cfg.MaxPaymentAttempts-failed)
	}
	notifications.PublishOrLog(ctx, s.publisher, ev)
	return nil
}

// Cancel is the guest's own cancellation of a booking that has not reached
// a terminal state.
func (s *service) Cancel(ctx context.Context, actor identity.Identity, bookingID uuid.UUID, note string) (*Booking, error) {
	unlock := s.locks.Lock(bookingID.String())
	defer unlock()

	b, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := authorizeGuest(actor, b); err != nil {
		return nil, err
	}
	if b.State.IsTerminal() {
		return nil, fmt.Errorf("%w: booking %s is already %s", apperrors.ErrInvalidTransition, b.ID, b.State)
	}
	if err := s.cancelLocked(ctx, b, cancelRequest{
		reason:  ReasonGuestCancelled,
		actorID: actor.ID,
		note:    note,
	}); err != nil {
		return nil, err
	}
	return b, nil
}

// ForceCancel cancels a booking in any state but CANCELLED, including a
// confirmed one, whose nights go back to FREE with a refund computed from
// the unit's cancellation policy.
func (s *service) ForceCancel(ctx context.Context, actor identity.Identity, bookingID uuid.UUID, note string) (*Booking, error) {
	if !actor.Can(identity.CapForceCancel) {
		return nil, fmt.Errorf("%w: %s lacks %s", apperrors.ErrForbidden, actor.ID, identity.CapForceCancel)
	}
	unlock := s.locks.Lock(bookingID.String())
	defer unlock()

	b, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.forceCancelLocked(ctx, actor, b, ReasonAdminCancelled, note); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *service) forceCancelLocked(ctx context.Context, actor identity.Identity, b *Booking, reason, note string) error {
	if b.State == StateCancelled {
		return fmt.Errorf("%w: booking %s is already cancelled", apperrors.ErrInvalidTransition, b.ID)
	}

	var refund cancellation.Refund
	if b.State == StateConfirmed && s.refunds != nil {
		var err error
		refund, err = s.refunds.EvaluateRefund(ctx, b.UnitID, b.Range.Start, b.Price)
		if err != nil {
			return fmt.Errorf("failed to evaluate refund: %w", err)
		}
	}

	if err := s.cancelLocked(ctx, b, cancelRequest{
		reason:   reason,
		actorID:  actor.ID,
		note:     note,
		refund:   refund.Amount,
		override: true,
	}); err != nil {
		return err
	}

	if refund.Amount > 0 {
		notifications.PublishOrLog(ctx, s.publisher, s.event(notifications.EventRefundRequired, b).
			WithActor(actor.ID).
			With("amount", refund.Amount).
			With("currency", b.Currency).
			With("percent", refund.Percent).
			With("days_notice", refund.DaysNotice).
			With("reason", reason))
	}
	return nil
}

// RequestCancellation records a guest's wish to cancel a confirmed stay.
// Staff approve or reject it with ReviewCancellation.
func (s *service) RequestCancellation(ctx context.Context, actor identity.Identity, bookingID uuid.UUID, req CancellationRequestInput) (*CancellationRequest, error) {
	b, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if actor.ID != b.GuestID && !actor.Can(identity.CapBookOnBehalf) {
		return nil, fmt.Errorf("%w: booking %s belongs to another guest", apperrors.ErrForbidden, b.ID)
	}
	if b.State != StateConfirmed {
		return nil, fmt.Errorf("%w: only confirmed bookings take cancellation requests, booking %s is %s",
			apperrors.ErrInvalidTransition, b.ID, b.State)
	}

	cr := &CancellationRequest{
		ID:        uuid.New(),
		BookingID: b.ID,
		GuestID:   b.GuestID,
		Reason:    req.Reason,
		Status:    CancellationPending,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.CreateCancellationRequest(ctx, cr); err != nil {
		return nil, err
	}

	notifications.PublishOrLog(ctx, s.publisher, s.event(notifications.EventCancellationRequested, b).
		WithActor(actor.ID).
		With("request_id", cr.ID.String()).
		With("reason", req.Reason))
	return cr, nil
}

// ReviewCancellation approves or rejects a pending request. Approval
// cancels the booking the way ForceCancel does.
func (s *service) ReviewCancellation(ctx context.Context, actor identity.Identity, requestID uuid.UUID, req ReviewCancellationInput) (*CancellationRequest, error) {
	if !actor.Can(identity.CapForceCancel) {
		return nil, fmt.Errorf("%w: %s lacks %s", apperrors.ErrForbidden, actor.ID, identity.CapForceCancel)
	}
	cr, err := s.repo.GetCancellationRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if cr.Status != CancellationPending {
		return nil, fmt.Errorf("%w: cancellation request %s is already %s", apperrors.ErrInvalidTransition, cr.ID, cr.Status)
	}

	unlock := s.locks.Lock(cr.BookingID.String())
	defer unlock()

	b, err := s.repo.Get(ctx, cr.BookingID)
	if err != nil {
		return nil, err
	}

	status := CancellationRejected
	if req.Approve {
		status = CancellationApproved
		// A booking cancelled some other way still answers the request.
		if b.State != StateCancelled {
			note := req.Note
			if note == "" {
				note = cr.Reason
			}
			if err := s.forceCancelLocked(ctx, actor, b, ReasonCancellationApproved, note); err != nil {
				return nil, err
			}
		}
		cr.RefundAmount = b.RefundAmount
	}

	now := s.clock.Now()
	cr.Status = status
	cr.ReviewedBy = actor.ID
	cr.ReviewNote = req.Note
	cr.ReviewedAt = &now
	if err := s.repo.ResolveCancellationRequest(ctx, cr); err != nil {
		return nil, err
	}

	notifications.PublishOrLog(ctx, s.publisher, s.event(notifications.EventCancellationReviewed, b).
		WithActor(actor.ID).
		With("request_id", cr.ID.String()).
		With("status", string(cr.Status)).
		With("refund_amount", cr.RefundAmount))
	return cr, nil
}

func (s *service) ListCancellationRequests(ctx context.Context, actor identity.Identity, query CancellationRequestQuery) ([]CancellationRequest, int64, error) {
	query.GuestID = ""
	if !actor.Can(identity.CapViewAnyBooking) {
		query.GuestID = actor.ID
	}
	return s.repo.ListCancellationRequests(ctx, query)
}

// ExtendHold pushes out the expiry of a pending booking's hold.
func (s *service) ExtendHold(ctx context.Context, actor identity.Identity, bookingID uuid.UUID, ttl time.Duration) (*Booking, error) {
	if !actor.Can(identity.CapForceReleaseHold) {
		return nil, fmt.Errorf("%w: %s lacks %s", apperrors.ErrForbidden, actor.ID, identity.CapForceReleaseHold)
	}
	unlock := s.locks.Lock(bookingID.String())
	defer unlock()

	b, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.State.IsTerminal() || b.HoldID == nil {
		return nil, fmt.Errorf("%w: booking %s is %s", apperrors.ErrInvalidTransition, b.ID, b.State)
	}

	hold, err := s.holds.Extend(ctx, *b.HoldID, ttl)
	if err != nil {
		return nil, err
	}
	expiresAt := hold.ExpiresAt
	b.HoldExpiresAt = &expiresAt
	t := s.apply(b, b.State, ReasonHoldExtended, actor.ID, "until "+expiresAt.Format(time.RFC3339), "")
	if err := s.persist(ctx, b, t); err != nil {
		return nil, err
	}
	notifications.PublishOrLog(ctx, s.publisher, s.event(notifications.EventHoldExtended, b).
		WithActor(actor.ID).
		With("hold_id", hold.ID.String()).
		With("expires_at", expiresAt))
	return b, nil
}

// OnHoldExpired cancels the booking whose hold ran out or was force
// released. Registered with the hold manager.
func (s *service) OnHoldExpired(ctx context.Context, hold holds.Hold) {
	unlock := s.locks.Lock(hold.BookingID.String())
	defer unlock()

	b, err := s.repo.Get(ctx, hold.BookingID)
	if err != nil {
		s.log.WarnContext(ctx, "expired hold has no booking",
			"hold_id", hold.ID.String(), "booking_id", hold.BookingID.String(), "error", err.Error())
		return
	}
	if b.State.IsTerminal() || b.HoldID == nil || *b.HoldID != hold.ID {
		return
	}

	reason := hold.ReleaseReason
	if reason == "" {
		reason = ReasonHoldExpired
	}
	if err := s.cancelLocked(ctx, b, cancelRequest{
		reason:  reason,
		actorID: "system:hold-sweeper",
		note:    "hold expired at " + hold.ExpiresAt.Format(time.RFC3339),
	}); err != nil {
		s.log.ErrorContext(ctx, "failed to cancel booking after hold expiry",
			"booking_id", b.ID.String(), "hold_id", hold.ID.String(), "error", err.Error())
	}
}

func (s *service) Get(ctx context.Context, actor identity.Identity, bookingID uuid.UUID) (*Details, error) {
	b, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if actor.ID != b.GuestID && !actor.Can(identity.CapViewAnyBooking) {
		return nil, fmt.Errorf("%w: booking %s belongs to another guest", apperrors.ErrForbidden, b.ID)
	}

	history, err := s.repo.ListTransitions(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking history: %w", err)
	}
	attempts, err := s.attempts.ListByBooking(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment attempts: %w", err)
	}
	return &Details{Booking: b, Transitions: history, Attempts: attempts}, nil
}

func (s *service) ListMine(ctx context.Context, actor identity.Identity, query BookingListQuery) ([]Booking, int64, error) {
	return s.repo.ListByGuest(ctx, actor.ID, query)
}

type cancelRequest struct {
	reason     string
	actorID    string
	note       string
	attemptRef string
	refund     int64
	// override allows cancelling a CONFIRMED booking.
	override bool
	// captured is a pending attempt the gateway reports paid. It is
	// resolved SUCCEEDED once the booking is cancelled, and refunded.
	captured     *payments.Attempt
	capturedMeta map[string]string
}

// cancelLocked releases everything the booking holds, in ledger then hold
// order, and records the CANCELLED transition. Pending attempts are expired
// first so a late result for them is stale. Money already captured for a
// booking that never confirmed is flagged for refund.
func (s *service) cancelLocked(ctx context.Context, b *Booking, req cancelRequest) error {
	wasConfirmed := b.State == StateConfirmed
	if !b.State.CanTransitionTo(StateCancelled) && !(req.override && wasConfirmed) {
		return fmt.Errorf("%w: booking %s is %s", apperrors.ErrInvalidTransition, b.ID, b.State)
	}

	keep := ""
	if req.captured != nil {
		keep = req.captured.Reference
	}
	captured, err := s.settleAttempts(ctx, b.ID, req.reason, keep)
	if err != nil {
		return err
	}
	if req.captured != nil {
		captured = req.captured
	}
	if wasConfirmed {
		captured = nil
	}
	// Unconfirmed bookings can own BOOKED nights too, when a confirmation
	// failed after the hold was committed.
	if _, err := s.ledger.Release(ctx, b.UnitID, b.Range, b.Owner()); err != nil {
		return fmt.Errorf("failed to release booked nights: %w", err)
	}
	if b.HoldID != nil {
		if err := s.holds.Release(ctx, *b.HoldID, holds.ReasonCancelled); err != nil {
			return fmt.Errorf("failed to release hold: %w", err)
		}
	}

	from := b.State
	t := s.apply(b, StateCancelled, req.reason, req.actorID, req.note, req.attemptRef)
	b.CancelReason = req.reason
	b.RefundAmount = req.refund
	if captured != nil {
		b.RefundAmount = captured.Amount
	}
	if err := s.persist(ctx, b, t); err != nil {
		s.log.LogInvariantViolation(ctx, "inventory released but booking not cancelled", map[string]interface{}{
			"booking_id": b.ID.String(),
			"reason":     req.reason,
			"error":      err.Error(),
		})
		return err
	}

	notifications.PublishOrLog(ctx, s.publisher, s.event(notifications.EventBookingCancelled, b).
		WithActor(req.actorID).
		With("from", string(from)).
		With("reason", req.reason).
		With("refund_amount", b.RefundAmount).
		With("range", b.Range.String()))

	if captured == nil {
		return nil
	}
	if req.captured != nil {
		meta := map[string]string{payments.MetaRefundRequested: req.reason}
		for k, v := range req.capturedMeta {
			meta[k] = v
		}
		// On failure a redelivery finds the booking cancelled and the
		// reconciler raises the refund as a late payment.
		if err := s.resolveAttempt(ctx, req.captured, payments.AttemptSucceeded, meta); err != nil {
			return fmt.Errorf("booking %s cancelled but captured attempt %s not resolved: %w", b.ID, req.captured.Reference, err)
		}
	}
	notifications.PublishOrLog(ctx, s.publisher, s.event(notifications.EventRefundRequired, b).
		WithActor(req.actorID).
		With("attempt_reference", captured.Reference).
		With("amount", captured.Amount).
		With("currency", captured.Currency).
		With("reason", req.reason))
	return nil
}

// settleAttempts expires the booking's pending attempts, except keep, and
// returns the succeeded one if any.
func (s *service) settleAttempts(ctx context.Context, bookingID uuid.UUID, reason, keep string) (*payments.Attempt, error) {
	attempts, err := s.attempts.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment attempts: %w", err)
	}
	now := s.clock.Now()
	var captured *payments.Attempt
	for i := range attempts {
		switch attempts[i].Status {
		case payments.AttemptSucceeded:
			captured = &attempts[i]
		case payments.AttemptPending:
			if attempts[i].Reference == keep {
				continue
			}
			a := attempts[i]
			a.Resolve(payments.AttemptExpired, map[string]string{"reason": reason}, now)
			if err := s.attempts.Resolve(ctx, &a); err != nil && !errors.Is(err, apperrors.ErrStaleCallback) {
				return nil, err
			}
		}
	}
	return captured, nil
}

// move checks the transition table before applying.
func (s *service) move(b *Booking, to State, reason, actorID, note, attemptRef string) (Transition, error) {
	if !b.State.CanTransitionTo(to) {
		return Transition{}, fmt.Errorf("%w: booking %s cannot go from %s to %s",
			apperrors.ErrInvalidTransition, b.ID, b.State, to)
	}
	return s.apply(b, to, reason, actorID, note, attemptRef), nil
}

func (s *service) apply(b *Booking, to State, reason, actorID, note, attemptRef string) Transition {
	now := s.clock.Now()
	t := Transition{
		ID:         uuid.New(),
		BookingID:  b.ID,
		From:       b.State,
		To:         to,
		Reason:     reason,
		Note:       note,
		ActorID:    actorID,
		AttemptRef: attemptRef,
		At:         now,
	}
	b.State = to
	b.UpdatedAt = now
	if to.IsTerminal() {
		b.TerminalAt = &now
	}
	return t
}

func (s *service) persist(ctx context.Context, b *Booking, history ...Transition) error {
	if err := s.repo.Save(ctx, b, history...); err != nil {
		return err
	}
	s.logTransitions(ctx, b, history...)
	return nil
}

func (s *service) logTransitions(ctx context.Context, b *Booking, history ...Transition) {
	for _, t := range history {
		s.log.LogBookingTransition(ctx, b.ID.String(), string(t.From), string(t.To), t.Reason, t.ActorID)
	}
}

func (s *service) invariant(ctx context.Context, b *Booking, msg string) error {
	s.log.LogInvariantViolation(ctx, msg, map[string]interface{}{
		"booking_id": b.ID.String(),
		"state":      string(b.State),
	})
	return fmt.Errorf("%w: %s (booking %s)", apperrors.ErrInvariantViolation, msg, b.ID)
}

func (s *service) event(t notifications.EventType, b *Booking) *notifications.Event {
	return notifications.NewEvent(t, b.ID.String(), s.clock.Now()).
		WithUnit(b.UnitID.String()).
		With("reference", b.Reference).
		With("state", string(b.State))
}

// authorizeGuest lets the booking's guest act on it, plus anyone allowed to
// force-cancel.
func authorizeGuest(actor identity.Identity, b *Booking) error {
	if actor.ID == b.GuestID || actor.Can(identity.CapForceCancel) {
		return nil
	}
	return fmt.Errorf("%w: booking %s belongs to another guest", apperrors.ErrForbidden, b.ID)
}

// generateReference returns PREFIX-YYYYMMDD-XXXXXX with six random
// uppercase letters.
func generateReference(prefix string, now time.Time) (string, error) {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	randomPart := make([]byte, 6)
	for i := range randomPart {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			return "", err
		}
		randomPart[i] = letters[num.Int64()]
	}
	return fmt.Sprintf("%s-%s-%s", prefix, now.UTC().Format("20060102"), string(randomPart)), nil
}
