package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zomestaydeveloper/Zomestay/internal/bookings"
	"github.com/zomestaydeveloper/Zomestay/internal/holds"
	"github.com/zomestaydeveloper/Zomestay/internal/inventory"
	"github.com/zomestaydeveloper/Zomestay/internal/notifications"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/clock"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/identity"
	"github.com/zomestaydeveloper/Zomestay/pkg/logger"
)

const blockRefPrefix = "block:"

// UnitAdmin is the part of the unit service overrides act on.
type UnitAdmin interface {
	GetUnit(ctx context.Context, id uuid.UUID) (*inventory.Unit, error)
	SetUnitStatus(ctx context.Context, id uuid.UUID, status inventory.UnitStatus) (*inventory.Unit, error)
}

// Service runs privileged overrides. Every call, including a denied one,
// leaves an audit entry.
type Service interface {
	Override(ctx context.Context, actor identity.Identity, req OverrideRequest) (*OverrideResponse, error)
	ListAudit(ctx context.Context, actor identity.Identity, query AuditQuery) (*AuditListResponse, error)
}

type service struct {
	repo      Repository
	bookings  bookings.Service
	holds     *holds.Manager
	ledger    *inventory.Ledger
	units     UnitAdmin
	publisher notifications.Publisher
	clock     clock.Clock
	log       *logger.Logger
}

func NewService(
	repo Repository,
	bookingService bookings.Service,
	holdManager *holds.Manager,
	ledger *inventory.Ledger,
	units UnitAdmin,
	publisher notifications.Publisher,
	clk clock.Clock,
) Service {
	return &service{
		repo:      repo,
		bookings:  bookingService,
		holds:     holdManager,
		ledger:    ledger,
		units:     units,
		publisher: publisher,
		clock:     clk,
		log:       logger.GetDefault().WithComponent("admin"),
	}
}

// result is what an action handler reports back for the audit trail.
type result struct {
	targetType TargetType
	targetID   string
	value      interface{}
	snapshot   map[string]interface{}
}

func (s *service) Override(ctx context.Context, actor identity.Identity, req OverrideRequest) (*OverrideResponse, error) {
	if !req.Action.IsValid() {
		return nil, fmt.Errorf("%w: unknown override action %q", apperrors.ErrInvalidInput, req.Action)
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		return nil, fmt.Errorf("%w: overrides need a reason", apperrors.ErrInvalidInput)
	}

	targetType, targetID := requestTarget(req)
	if capability := actionCapabilities[req.Action]; !actor.Can(capability) {
		denied := fmt.Errorf("%w: %s lacks %s", apperrors.ErrForbidden, actor.ID, capability)
		s.audit(ctx, actor, req, result{targetType: targetType, targetID: targetID}, OutcomeDenied, denied)
		return nil, denied
	}

	var res result
	var err error
	switch req.Action {
	case ActionForceCancel:
		res, err = s.forceCancel(ctx, actor, req)
	case ActionForceBlock:
		res, err = s.forceBlock(ctx, req)
	case ActionForceUnblock:
		res, err = s.forceUnblock(ctx, req)
	case ActionForceReleaseHold:
		res, err = s.forceReleaseHold(ctx, actor, req)
	case ActionExtendHold:
		res, err = s.extendHold(ctx, actor, req)
	case ActionSetUnitStatus:
		res, err = s.setUnitStatus(ctx, req)
	case ActionApproveCancellation, ActionRejectCancellation:
		res, err = s.reviewCancellation(ctx, actor, req)
	}
	if res.targetType == "" {
		res.targetType, res.targetID = targetType, targetID
	}
	if err != nil {
		s.audit(ctx, actor, req, res, OutcomeFailed, err)
		return nil, err
	}

	entry := s.audit(ctx, actor, req, res, OutcomeApplied, nil)
	notifications.PublishOrLog(ctx, s.publisher,
		notifications.NewEvent(notifications.EventAdminOverride, res.targetID, entry.At).
			WithActor(actor.ID).
			With("audit_id", entry.ID.String()).
			With("action", string(req.Action)).
			With("target_type", string(res.targetType)).
			With("reason", req.Reason))

	return &OverrideResponse{
		AuditID:    entry.ID,
		Action:     req.Action,
		TargetType: res.targetType,
		TargetID:   res.targetID,
		Outcome:    OutcomeApplied,
		Result:     res.value,
	}, nil
}

func (s *service) forceCancel(ctx context.Context, actor identity.Identity, req OverrideRequest) (result, error) {
	bookingID, err := parseID("booking_id", req.BookingID)
	if err != nil {
		return result{}, err
	}
	b, err := s.bookings.ForceCancel(ctx, actor, bookingID, req.Reason)
	if err != nil {
		return result{}, err
	}
	return result{
		targetType: TargetBooking,
		targetID:   b.ID.String(),
		value:      b,
		snapshot:   bookingSnapshot(b),
	}, nil
}

func (s *service) forceBlock(ctx context.Context, req OverrideRequest) (result, error) {
	unitID, r, err := s.unitRange(ctx, req)
	if err != nil {
		return result{}, err
	}
	ref := blockRefPrefix + uuid.NewString()
	if err := s.ledger.MarkBlocked(ctx, unitID, r, ref, req.Reason); err != nil {
		return result{}, err
	}
	return result{
		targetType: TargetUnit,
		targetID:   unitID.String(),
		value:      map[string]interface{}{"block_ref": ref, "unit_id": unitID, "range": r},
		snapshot:   map[string]interface{}{"block_ref": ref, "range": r.String(), "nights": r.NightCount()},
	}, nil
}

func (s *service) forceUnblock(ctx context.Context, req OverrideRequest) (result, error) {
	if !strings.HasPrefix(req.BlockRef, blockRefPrefix) {
		return result{}, fmt.Errorf("%w: block_ref must be a reference returned by FORCE_BLOCK", apperrors.ErrInvalidInput)
	}
	unitID, r, err := s.unitRange(ctx, req)
	if err != nil {
		return result{}, err
	}
	freed, err := s.ledger.Release(ctx, unitID, r, req.BlockRef)
	if err != nil {
		return result{}, err
	}
	if freed == 0 {
		return result{}, fmt.Errorf("%w: no nights of %s blocked under %s", apperrors.ErrNotFound, r, req.BlockRef)
	}
	return result{
		targetType: TargetUnit,
		targetID:   unitID.String(),
		value:      map[string]interface{}{"block_ref": req.BlockRef, "nights_freed": freed},
		snapshot:   map[string]interface{}{"block_ref": req.BlockRef, "range": r.String(), "nights_freed": freed},
	}, nil
}

// forceReleaseHold ends a hold early. The hold manager's expiry listener
// cancels the owning booking with reason ADMIN_RELEASE.
func (s *service) forceReleaseHold(ctx context.Context, actor identity.Identity, req OverrideRequest) (result, error) {
	var holdID uuid.UUID
	switch {
	case req.HoldID != "":
		id, err := parseID("hold_id", req.HoldID)
		if err != nil {
			return result{}, err
		}
		holdID = id
	case req.BookingID != "":
		bookingID, err := parseID("booking_id", req.BookingID)
		if err != nil {
			return result{}, err
		}
		details, err := s.bookings.Get(ctx, actor, bookingID)
		if err != nil {
			return result{}, err
		}
		if details.Booking.HoldID == nil {
			return result{}, fmt.Errorf("%w: booking %s has no hold", apperrors.ErrNotFound, bookingID)
		}
		holdID = *details.Booking.HoldID
	default:
		return result{}, fmt.Errorf("%w: hold_id or booking_id is required", apperrors.ErrInvalidInput)
	}

	hold, err := s.holds.ForceRelease(ctx, holdID)
	if err != nil {
		return result{}, err
	}
	return result{
		targetType: TargetHold,
		targetID:   hold.ID.String(),
		value:      hold,
		snapshot: map[string]interface{}{
			"booking_id":     hold.BookingID.String(),
			"status":         string(hold.Status),
			"release_reason": hold.ReleaseReason,
			"range":          hold.Range.String(),
		},
	}, nil
}

func (s *service) extendHold(ctx context.Context, actor identity.Identity, req OverrideRequest) (result, error) {
	bookingID, err := parseID("booking_id", req.BookingID)
	if err != nil {
		return result{}, err
	}
	if req.ExtendMinutes <= 0 {
		return result{}, fmt.Errorf("%w: extend_minutes is required", apperrors.ErrInvalidInput)
	}
	b, err := s.bookings.ExtendHold(ctx, actor, bookingID, time.Duration(req.ExtendMinutes)*time.Minute)
	if err != nil {
		return result{}, err
	}
	return result{
		targetType: TargetBooking,
		targetID:   b.ID.String(),
		value:      b,
		snapshot:   bookingSnapshot(b),
	}, nil
}

func (s *service) setUnitStatus(ctx context.Context, req OverrideRequest) (result, error) {
	unitID, err := parseID("unit_id", req.UnitID)
	if err != nil {
		return result{}, err
	}
	unit, err := s.units.SetUnitStatus(ctx, unitID, inventory.UnitStatus(req.Status))
	if err != nil {
		return result{}, err
	}
	return result{
		targetType: TargetUnit,
		targetID:   unit.ID.String(),
		value:      unit,
		snapshot:   map[string]interface{}{"status": string(unit.Status)},
	}, nil
}

// reviewCancellation answers a guest's cancellation request. The override
// reason doubles as the note the guest sees.
func (s *service) reviewCancellation(ctx context.Context, actor identity.Identity, req OverrideRequest) (result, error) {
	requestID, err := parseID("request_id", req.RequestID)
	if err != nil {
		return result{}, err
	}
	cr, err := s.bookings.ReviewCancellation(ctx, actor, requestID, bookings.ReviewCancellationInput{
		Approve: req.Action == ActionApproveCancellation,
		Note:    req.Reason,
	})
	if err != nil {
		return result{}, err
	}
	return result{
		targetType: TargetCancellationRequest,
		targetID:   cr.ID.String(),
		value:      cr,
		snapshot: map[string]interface{}{
			"booking_id":    cr.BookingID.String(),
			"status":        string(cr.Status),
			"refund_amount": cr.RefundAmount,
		},
	}, nil
}

func (s *service) ListAudit(ctx context.Context, actor identity.Identity, query AuditQuery) (*AuditListResponse, error) {
	if !actor.Can(identity.CapViewAudit) {
		return nil, fmt.Errorf("%w: %s lacks %s", apperrors.ErrForbidden, actor.ID, identity.CapViewAudit)
	}
	entries, total, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, err
	}
	page, limit := query.normalized()
	return &AuditListResponse{Entries: entries, TotalCount: total, Page: page, Limit: limit}, nil
}

// audit writes the entry and logs it. A failed write is logged, the
// override itself already happened.
func (s *service) audit(ctx context.Context, actor identity.Identity, req OverrideRequest, res result, outcome Outcome, cause error) *AuditEntry {
	entry := &AuditEntry{
		ID:         uuid.New(),
		ActorID:    actor.ID,
		ActorRole:  string(actor.Role),
		Action:     req.Action,
		TargetType: res.targetType,
		TargetID:   res.targetID,
		Reason:     req.Reason,
		Outcome:    outcome,
		Snapshot:   res.snapshot,
		At:         s.clock.Now(),
	}
	if cause != nil {
		entry.Detail = cause.Error()
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		s.log.ErrorContext(ctx, "failed to write audit entry",
			"action", string(req.Action), "target_id", res.targetID, "error", err.Error())
	}
	s.log.LogAdminOverride(ctx, actor.ID, string(req.Action), string(res.targetType)+":"+res.targetID, req.Reason, string(outcome))
	return entry
}

func (s *service) unitRange(ctx context.Context, req OverrideRequest) (uuid.UUID, inventory.DateRange, error) {
	unitID, err := parseID("unit_id", req.UnitID)
	if err != nil {
		return uuid.Nil, inventory.DateRange{}, err
	}
	if req.From == "" || req.To == "" {
		return uuid.Nil, inventory.DateRange{}, fmt.Errorf("%w: from and to are required", apperrors.ErrInvalidInput)
	}
	r, err := inventory.ParseDateRange(req.From, req.To)
	if err != nil {
		return uuid.Nil, inventory.DateRange{}, err
	}
	if _, err := s.units.GetUnit(ctx, unitID); err != nil {
		return uuid.Nil, inventory.DateRange{}, err
	}
	return unitID, r, nil
}

// requestTarget names the target of a request before it is executed, for
// denied and failed entries.
func requestTarget(req OverrideRequest) (TargetType, string) {
	switch req.Action {
	case ActionForceBlock, ActionForceUnblock, ActionSetUnitStatus:
		return TargetUnit, req.UnitID
	case ActionForceReleaseHold:
		if req.HoldID != "" {
			return TargetHold, req.HoldID
		}
	case ActionApproveCancellation, ActionRejectCancellation:
		return TargetCancellationRequest, req.RequestID
	}
	return TargetBooking, req.BookingID
}

func parseID(field, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", apperrors.ErrInvalidInput, field)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad %s %q", apperrors.ErrInvalidInput, field, raw)
	}
	return id, nil
}

func bookingSnapshot(b *bookings.Booking) map[string]interface{} {
	snap := map[string]interface{}{
		"reference":     b.Reference,
		"state":         string(b.State),
		"cancel_reason": b.CancelReason,
		"refund_amount": b.RefundAmount,
	}
	if b.HoldExpiresAt != nil {
		snap["hold_expires_at"] = b.HoldExpiresAt.Format(time.RFC3339)
	}
	return snap
}
