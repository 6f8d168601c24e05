package admin

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zomestaydeveloper/Zomestay/internal/bookings"
	"github.com/zomestaydeveloper/Zomestay/internal/cancellation"
	"github.com/zomestaydeveloper/Zomestay/internal/holds"
	"github.com/zomestaydeveloper/Zomestay/internal/inventory"
	"github.com/zomestaydeveloper/Zomestay/internal/notifications"
	"github.com/zomestaydeveloper/Zomestay/internal/payments"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/clock"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/identity"
	"github.com/zomestaydeveloper/Zomestay/pkg/cache"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc        Service
	repo       Repository
	bookings   bookings.Service
	reconciler *payments.Reconciler
	ledger     *inventory.Ledger
	units      inventory.Service
	clock      *clock.Manual
	events     *notifications.Recorder
	unit       *inventory.Unit
	admin      identity.Identity
	desk       identity.Identity
	guest      identity.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clk := clock.NewManual(testNow)
	ledger := inventory.NewLedger(inventory.NewMemoryRecordStore(), clk)
	units := inventory.NewService(inventory.NewMemoryRepository(), ledger, cache.NewNoop(), clk)
	unit, err := units.CreateUnit(ctx, inventory.CreateUnitRequest{HostID: "host-1", Name: "Hill View Room", NightlyRate: 3000})
	require.NoError(t, err)

	rec := notifications.NewRecorder()
	hm := holds.NewManager(holds.NewMemoryRepository(), ledger, clk, holds.WithTTL(10*time.Minute), holds.WithPublisher(rec))
	attempts := payments.NewMemoryRepository()
	policies := cancellation.NewService(cancellation.NewMemoryRepository(), func(ctx context.Context, id uuid.UUID) error {
		_, err := units.GetUnit(ctx, id)
		return err
	}, clk)
	bookingService := bookings.NewService(bookings.NewMemoryRepository(), units, ledger, hm, attempts, policies, rec, clk,
		bookings.Config{MaxNights: 30, MaxPaymentAttempts: 3})

	repo := NewMemoryRepository()
	return &fixture{
		svc:        NewService(repo, bookingService, hm, ledger, units, rec, clk),
		repo:       repo,
		bookings:   bookingService,
		reconciler: payments.NewReconciler(attempts, bookingService, rec, clk),
		ledger:     ledger,
		units:      units,
		clock:      clk,
		events:     rec,
		unit:       unit,
		admin:      identity.New("admin-1", identity.RoleAdmin),
		desk:       identity.New("desk-1", identity.RoleFrontDesk),
		guest:      identity.New("guest-1", identity.RoleUser),
	}
}

func (f *fixture) book(t *testing.T, from, to string) *bookings.Booking {
	t.Helper()
	r := inventory.MustDateRange(from, to)
	b, err := f.bookings.RequestBooking(context.Background(), f.guest, bookings.CreateBookingRequest{
		UnitID:   f.unit.ID.String(),
		CheckIn:  from,
		CheckOut: to,
		Price:    f.unit.Quote(r),
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) confirm(t *testing.T, b *bookings.Booking) {
	t.Helper()
	ctx := context.Background()
	a, err := f.bookings.StartPayment(ctx, f.guest, b.ID, bookings.StartPaymentRequest{Provider: payments.ProviderRazorpay})
	require.NoError(t, err)
	out, err := f.reconciler.OnCallback(ctx, payments.Callback{
		Reference: a.Reference,
		Status:    payments.AttemptSucceeded,
		Amount:    a.Amount,
		Currency:  a.Currency,
	})
	require.NoError(t, err)
	require.Equal(t, payments.OutcomeApplied, out)
}

func (f *fixture) nightStates(t *testing.T, from, to string) []inventory.AvailabilityState {
	t.Helper()
	snap, err := f.ledger.Query(context.Background(), f.unit.ID, inventory.MustDateRange(from, to))
	require.NoError(t, err)
	out := make([]inventory.AvailabilityState, len(snap.Nights))
	for i, n := range snap.Nights {
		out[i] = n.State
	}
	return out
}

func (f *fixture) auditFor(t *testing.T, targetID string) []AuditEntry {
	t.Helper()
	entries, _, err := f.repo.List(context.Background(), AuditQuery{TargetID: targetID})
	require.NoError(t, err)
	return entries
}

func TestForceCancelConfirmedBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.book(t, "2026-06-01", "2026-06-03")
	f.confirm(t, b)

	out, err := f.svc.Override(ctx, f.admin, OverrideRequest{
		Action:    ActionForceCancel,
		BookingID: b.ID.String(),
		Reason:    "double listed on another channel",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out.Outcome)
	assert.Equal(t, TargetBooking, out.TargetType)

	cancelled := out.Result.(*bookings.Booking)
	assert.Equal(t, bookings.StateCancelled, cancelled.State)
	assert.Equal(t, bookings.ReasonAdminCancelled, cancelled.CancelReason)
	// no policy, no refund
	assert.Zero(t, cancelled.RefundAmount)
	assert.Equal(t, []inventory.AvailabilityState{inventory.StateFree, inventory.StateFree},
		f.nightStates(t, "2026-06-01", "2026-06-03"))

	entries := f.auditFor(t, b.ID.String())
	require.Len(t, entries, 1)
	assert.Equal(t, "admin-1", entries[0].ActorID)
	assert.Equal(t, "ADMIN", entries[0].ActorRole)
	assert.Equal(t, "CANCELLED", entries[0].Snapshot["state"])

	events := f.events.OfType(notifications.EventAdminOverride)
	require.Len(t, events, 1)
	assert.Equal(t, out.AuditID.String(), events[0].Payload["audit_id"])
}

func TestOverrideDeniedIsAudited(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, "2026-06-01", "2026-06-03")

	_, err := f.svc.Override(context.Background(), f.desk, OverrideRequest{
		Action:    ActionForceCancel,
		BookingID: b.ID.String(),
		Reason:    "guest called the front desk",
	})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	entries := f.auditFor(t, b.ID.String())
	require.Len(t, entries, 1)
	assert.Equal(t, OutcomeDenied, entries[0].Outcome)
	assert.NotEmpty(t, entries[0].Detail)
	assert.Empty(t, f.events.OfType(notifications.EventAdminOverride))
}

func TestForceBlockAndUnblock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.Override(ctx, f.desk, OverrideRequest{
		Action: ActionForceBlock,
		UnitID: f.unit.ID.String(),
		From:   "2026-07-01",
		To:     "2026-07-04",
		Reason: "plumbing repairs",
	})
	require.NoError(t, err)
	ref := out.Result.(map[string]interface{})["block_ref"].(string)
	assert.Contains(t, ref, blockRefPrefix)
	assert.Equal(t, []inventory.AvailabilityState{inventory.StateBlocked, inventory.StateBlocked, inventory.StateBlocked},
		f.nightStates(t, "2026-07-01", "2026-07-04"))

	// blocked nights cannot be booked
	_, err = f.bookings.RequestBooking(ctx, f.guest, bookings.CreateBookingRequest{
		UnitID:   f.unit.ID.String(),
		CheckIn:  "2026-07-03",
		CheckOut: "2026-07-05",
		Price:    6000,
	})
	require.ErrorIs(t, err, apperrors.ErrConflict)

	// a block never lands on held nights
	f.book(t, "2026-07-10", "2026-07-12")
	_, err = f.svc.Override(ctx, f.desk, OverrideRequest{
		Action: ActionForceBlock,
		UnitID: f.unit.ID.String(),
		From:   "2026-07-11",
		To:     "2026-07-13",
		Reason: "deep cleaning",
	})
	require.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = f.svc.Override(ctx, f.desk, OverrideRequest{
		Action:   ActionForceUnblock,
		UnitID:   f.unit.ID.String(),
		From:     "2026-07-01",
		To:       "2026-07-04",
		BlockRef: ref,
		Reason:   "repairs finished early",
	})
	require.NoError(t, err)
	assert.Equal(t, []inventory.AvailabilityState{inventory.StateFree, inventory.StateFree, inventory.StateFree},
		f.nightStates(t, "2026-07-01", "2026-07-04"))

	// booking owners are not valid block references
	_, err = f.svc.Override(ctx, f.desk, OverrideRequest{
		Action:   ActionForceUnblock,
		UnitID:   f.unit.ID.String(),
		From:     "2026-07-10",
		To:       "2026-07-12",
		BlockRef: uuid.NewString(),
		Reason:   "free it up",
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)

	entries := f.auditFor(t, f.unit.ID.String())
	require.Len(t, entries, 4)
	outcomes := map[Outcome]int{}
	for _, e := range entries {
		outcomes[e.Outcome]++
	}
	assert.Equal(t, 2, outcomes[OutcomeApplied])
	assert.Equal(t, 2, outcomes[OutcomeFailed])
}

func TestForceReleaseHoldCancelsBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.book(t, "2026-06-01", "2026-06-03")

	out, err := f.svc.Override(ctx, f.desk, OverrideRequest{
		Action:    ActionForceReleaseHold,
		BookingID: b.ID.String(),
		Reason:    "guest walked away from the counter",
	})
	require.NoError(t, err)
	assert.Equal(t, TargetHold, out.TargetType)
	assert.Equal(t, b.HoldID.String(), out.TargetID)

	d, err := f.bookings.Get(ctx, f.admin, b.ID)
	require.NoError(t, err)
	assert.Equal(t, bookings.StateCancelled, d.Booking.State)
	assert.Equal(t, holds.ReasonAdminRelease, d.Booking.CancelReason)
	assert.Equal(t, []inventory.AvailabilityState{inventory.StateFree, inventory.StateFree},
		f.nightStates(t, "2026-06-01", "2026-06-03"))

	// second release finds nothing active
	_, err = f.svc.Override(ctx, f.desk, OverrideRequest{
		Action: ActionForceReleaseHold,
		HoldID: b.HoldID.String(),
		Reason: "again",
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestExtendHoldOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.book(t, "2026-06-01", "2026-06-03")

	_, err := f.svc.Override(ctx, f.desk, OverrideRequest{
		Action:    ActionExtendHold,
		BookingID: b.ID.String(),
		Reason:    "card issuer is slow",
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)

	out, err := f.svc.Override(ctx, f.desk, OverrideRequest{
		Action:        ActionExtendHold,
		BookingID:     b.ID.String(),
		ExtendMinutes: 30,
		Reason:        "card issuer is slow",
	})
	require.NoError(t, err)
	extended := out.Result.(*bookings.Booking)
	assert.Equal(t, testNow.Add(30*time.Minute), *extended.HoldExpiresAt)
}

func TestSetUnitStatusOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Override(ctx, f.desk, OverrideRequest{
		Action: ActionSetUnitStatus,
		UnitID: f.unit.ID.String(),
		Status: "MAINTENANCE",
		Reason: "roof leak",
	})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.svc.Override(ctx, f.admin, OverrideRequest{
		Action: ActionSetUnitStatus,
		UnitID: f.unit.ID.String(),
		Status: "MAINTENANCE",
		Reason: "roof leak",
	})
	require.NoError(t, err)

	unit, err := f.units.GetUnit(ctx, f.unit.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.UnitStatusMaintenance, unit.Status)

	_, err = f.bookings.RequestBooking(ctx, f.guest, bookings.CreateBookingRequest{
		UnitID:   f.unit.ID.String(),
		CheckIn:  "2026-06-01",
		CheckOut: "2026-06-02",
		Price:    3000,
	})
	require.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestListAuditRequiresCapability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ListAudit(ctx, f.desk, AuditQuery{})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.svc.Override(ctx, f.admin, OverrideRequest{
		Action: ActionForceBlock,
		UnitID: f.unit.ID.String(),
		From:   "2026-08-01",
		To:     "2026-08-02",
		Reason: "owner stay",
	})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.Override(ctx, f.admin, OverrideRequest{
		Action: ActionForceBlock,
		UnitID: f.unit.ID.String(),
		From:   "2026-08-05",
		To:     "2026-08-06",
		Reason: "owner stay",
	})
	require.NoError(t, err)

	list, err := f.svc.ListAudit(ctx, f.admin, AuditQuery{Action: string(ActionForceBlock), Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), list.TotalCount)
	require.Len(t, list.Entries, 1)
	assert.Equal(t, testNow.Add(time.Minute), list.Entries[0].At)
}

func TestReviewCancellationRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	kept := f.book(t, "2026-06-01", "2026-06-03")
	f.confirm(t, kept)
	dropped := f.book(t, "2026-06-10", "2026-06-12")
	f.confirm(t, dropped)

	keep, err := f.bookings.RequestCancellation(ctx, f.guest, kept.ID, bookings.CancellationRequestInput{Reason: "flight moved"})
	require.NoError(t, err)
	drop, err := f.bookings.RequestCancellation(ctx, f.guest, dropped.ID, bookings.CancellationRequestInput{Reason: "family emergency"})
	require.NoError(t, err)

	// the front desk cannot decide refunds
	_, err = f.svc.Override(ctx, f.desk, OverrideRequest{
		Action:    ActionApproveCancellation,
		RequestID: drop.ID.String(),
		Reason:    "approved at the counter",
	})
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	denied := f.auditFor(t, drop.ID.String())
	require.Len(t, denied, 1)
	assert.Equal(t, TargetCancellationRequest, denied[0].TargetType)

	out, err := f.svc.Override(ctx, f.admin, OverrideRequest{
		Action:    ActionRejectCancellation,
		RequestID: keep.ID.String(),
		Reason:    "outside the free cancellation window",
	})
	require.NoError(t, err)
	assert.Equal(t, bookings.CancellationRejected, out.Result.(*bookings.CancellationRequest).Status)
	d, err := f.bookings.Get(ctx, f.admin, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, bookings.StateConfirmed, d.Booking.State)

	out, err = f.svc.Override(ctx, f.admin, OverrideRequest{
		Action:    ActionApproveCancellation,
		RequestID: drop.ID.String(),
		Reason:    "documented emergency",
	})
	require.NoError(t, err)
	assert.Equal(t, TargetCancellationRequest, out.TargetType)
	approved := out.Result.(*bookings.CancellationRequest)
	assert.Equal(t, bookings.CancellationApproved, approved.Status)
	assert.Equal(t, "admin-1", approved.ReviewedBy)

	d, err = f.bookings.Get(ctx, f.admin, dropped.ID)
	require.NoError(t, err)
	assert.Equal(t, bookings.StateCancelled, d.Booking.State)
	assert.Equal(t, bookings.ReasonCancellationApproved, d.Booking.CancelReason)
	assert.Equal(t, []inventory.AvailabilityState{inventory.StateFree, inventory.StateFree},
		f.nightStates(t, "2026-06-10", "2026-06-12"))

	// a reviewed request cannot be reviewed again
	_, err = f.svc.Override(ctx, f.admin, OverrideRequest{
		Action:    ActionRejectCancellation,
		RequestID: drop.ID.String(),
		Reason:    "changed my mind",
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}
