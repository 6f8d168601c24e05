package holds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zomestaydeveloper/Zomestay/internal/inventory"
	"github.com/zomestaydeveloper/Zomestay/internal/notifications"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/clock"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/locks"
	"github.com/zomestaydeveloper/Zomestay/pkg/logger"
)

const DefaultTTL = 10 * time.Minute

// ExpiryListener is told about every hold that ended without being
// committed: clock expiry or an admin release.
type ExpiryListener func(ctx context.Context, hold Hold)

// Manager owns holds. It is the only caller of Ledger.MarkHeld, and every
// hold operation runs under that hold's lock so commit and expiry of the
// same hold never interleave.
type Manager struct {
	repo      Repository
	ledger    *inventory.Ledger
	guard     Guard
	clock     clock.Clock
	publisher notifications.Publisher
	ttl       time.Duration
	locks     *locks.Keyed
	log       *logger.Logger

	listenersMu sync.RWMutex
	listeners   []ExpiryListener
}

type Option func(*Manager)

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithGuard(g Guard) Option {
	return func(m *Manager) {
		if g != nil {
			m.guard = g
		}
	}
}

func WithPublisher(p notifications.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

func NewManager(repo Repository, ledger *inventory.Ledger, clk clock.Clock, opts ...Option) *Manager {
	m := &Manager{
		repo:   repo,
		ledger: ledger,
		guard:  NewNoopGuard(),
		clock:  clk,
		ttl:    DefaultTTL,
		locks:  locks.NewKeyed(),
		log:    logger.GetDefault().WithComponent("holds"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) TTL() time.Duration { return m.ttl }

func (m *Manager) OnExpired(fn ExpiryListener) {
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenersMu.Unlock()
}

// Acquire places a hold on every night of r for bookingID. A zero ttl uses
// the manager default. On any failure nothing stays claimed.
func (m *Manager) Acquire(ctx context.Context, bookingID, unitID uuid.UUID, r inventory.DateRange, ttl time.Duration) (*Hold, error) {
	if ttl <= 0 {
		ttl = m.ttl
	}
	now := m.clock.Now()
	hold := &Hold{
		ID:        uuid.New(),
		BookingID: bookingID,
		UnitID:    unitID,
		Range:     r,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		Status:    HoldStatusActive,
		UpdatedAt: now,
	}

	if err := m.guard.Claim(ctx, hold, ttl); err != nil {
		return nil, err
	}
	if err := m.ledger.MarkHeld(ctx, unitID, r, hold.Owner()); err != nil {
		m.releaseGuard(ctx, hold)
		return nil, err
	}
	if err := m.repo.Create(ctx, hold); err != nil {
		if _, relErr := m.ledger.ReleaseHeld(ctx, unitID, r, hold.Owner()); relErr != nil {
			m.log.LogInvariantViolation(ctx, "hold compensation failed, nights stay held", map[string]interface{}{
				"booking_id": bookingID.String(),
				"unit_id":    unitID.String(),
				"range":      r.String(),
				"error":      relErr.Error(),
			})
		}
		m.releaseGuard(ctx, hold)
		return nil, fmt.Errorf("failed to record hold: %w", err)
	}

	m.log.LogHoldAcquired(ctx, hold.ID.String(), bookingID.String(), unitID.String(), hold.ExpiresAt)
	return hold, nil
}

func (m *Manager) Get(ctx context.Context, holdID uuid.UUID) (*Hold, error) {
	return m.repo.Get(ctx, holdID)
}

// Extend pushes an active hold's expiry to now+ttl.
func (m *Manager) Extend(ctx context.Context, holdID uuid.UUID, ttl time.Duration) (*Hold, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", apperrors.ErrInvalidInput)
	}
	unlock := m.locks.Lock(holdID.String())
	defer unlock()

	hold, err := m.repo.Get(ctx, holdID)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	if !hold.IsActiveAt(now) {
		return nil, fmt.Errorf("%w: hold %s is no longer active", apperrors.ErrNotFound, holdID)
	}

	prev, prevUpdated := hold.ExpiresAt, hold.UpdatedAt
	hold.ExpiresAt = now.Add(ttl)
	hold.UpdatedAt = now
	if err := m.repo.Update(ctx, hold); err != nil {
		return nil, fmt.Errorf("failed to extend hold: %w", err)
	}
	if err := m.guard.Extend(ctx, hold, ttl); err != nil {
		// Put the stored expiry back so it matches the guard again.
		hold.ExpiresAt, hold.UpdatedAt = prev, prevUpdated
		if rbErr := m.repo.Update(ctx, hold); rbErr != nil {
			m.log.ErrorContext(ctx, "failed to roll back hold extension",
				slog.String("hold_id", holdID.String()),
				slog.String("error", rbErr.Error()),
			)
		}
		return nil, err
	}

	m.log.InfoContext(ctx, "Hold extended",
		slog.String("hold_id", holdID.String()),
		slog.Time("previous_expiry", prev),
		slog.Time("expires_at", hold.ExpiresAt),
	)
	return hold, nil
}

// Commit turns the hold's nights into BOOKED and then releases the hold.
// Committing a hold that was already committed is a no-op. A hold that is
// no longer active, or has run out by the clock, fails with
// ErrExternalTimeout and is expired on the spot. Expiry listeners are not
// called on that path: the committing caller already owns the booking and
// acts on the error itself.
func (m *Manager) Commit(ctx context.Context, holdID uuid.UUID) error {
	unlock := m.locks.Lock(holdID.String())
	defer unlock()

	hold, err := m.repo.Get(ctx, holdID)
	if err != nil {
		return err
	}
	if hold.Status == HoldStatusReleased && hold.ReleaseReason == ReasonConfirmed {
		return nil
	}
	now := m.clock.Now()
	if !hold.IsActiveAt(now) {
		if hold.Status == HoldStatusActive {
			if _, err := m.expireLocked(ctx, hold, ReasonExpired, now); err != nil {
				return err
			}
		}
		return fmt.Errorf("%w: hold %s expired at %s", apperrors.ErrExternalTimeout, holdID, hold.ExpiresAt.Format(time.RFC3339))
	}

	if err := m.ledger.MarkBooked(ctx, hold.UnitID, hold.Range, hold.Owner()); err != nil {
		if errors.Is(err, apperrors.ErrInvalidTransition) {
			m.log.LogInvariantViolation(ctx, "active hold does not own its nights", map[string]interface{}{
				"hold_id":    hold.ID.String(),
				"booking_id": hold.BookingID.String(),
				"unit_id":    hold.UnitID.String(),
				"range":      hold.Range.String(),
				"error":      err.Error(),
			})
			return fmt.Errorf("%w: %v", apperrors.ErrInvariantViolation, err)
		}
		return err
	}

	return m.releaseLocked(ctx, hold, HoldStatusReleased, ReasonConfirmed, now)
}

// Release ends an active hold and frees the nights it still holds. Nights
// already BOOKED are left alone. Releasing a resolved hold is a no-op.
func (m *Manager) Release(ctx context.Context, holdID uuid.UUID, reason string) error {
	unlock := m.locks.Lock(holdID.String())
	defer unlock()

	hold, err := m.repo.Get(ctx, holdID)
	if err != nil {
		return err
	}
	if hold.Status != HoldStatusActive {
		return nil
	}
	return m.releaseLocked(ctx, hold, HoldStatusReleased, reason, m.clock.Now())
}

// ForceRelease ends a hold regardless of its expiry and tells the expiry
// listeners, so the owning booking is cancelled.
func (m *Manager) ForceRelease(ctx context.Context, holdID uuid.UUID) (*Hold, error) {
	unlock := m.locks.Lock(holdID.String())
	hold, err := m.repo.Get(ctx, holdID)
	if err != nil {
		unlock()
		return nil, err
	}
	if hold.Status != HoldStatusActive {
		unlock()
		return nil, fmt.Errorf("%w: hold %s is %s", apperrors.ErrInvalidTransition, holdID, hold.Status)
	}
	expired, err := m.expireLocked(ctx, hold, ReasonAdminRelease, m.clock.Now())
	unlock()
	if err != nil {
		return nil, err
	}
	if expired {
		m.notifyExpired(ctx, *hold)
	}
	return hold, nil
}

// ExpireDue expires up to limit holds whose TTL has run out and returns how
// many it expired.
func (m *Manager) ExpireDue(ctx context.Context, limit int) (int, error) {
	due, err := m.repo.ListExpired(ctx, m.clock.Now(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired holds: %w", err)
	}

	expired := 0
	var errs []error
	for i := range due {
		ok, err := m.expireIfDue(ctx, due[i].ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

// PurgeResolved deletes hold rows that ended before cutoff.
func (m *Manager) PurgeResolved(ctx context.Context, cutoff time.Time) (int64, error) {
	return m.repo.PurgeResolvedBefore(ctx, cutoff)
}

func (m *Manager) expireIfDue(ctx context.Context, holdID uuid.UUID) (bool, error) {
	unlock := m.locks.Lock(holdID.String())
	hold, err := m.repo.Get(ctx, holdID)
	if err != nil {
		unlock()
		return false, err
	}
	now := m.clock.Now()
	// Re-check under the lock: the hold may have been committed or
	// extended since it was listed.
	if hold.Status != HoldStatusActive || now.Before(hold.ExpiresAt) {
		unlock()
		return false, nil
	}
	expired, err := m.expireLocked(ctx, hold, ReasonExpired, now)
	unlock()
	if err != nil {
		return false, err
	}
	if expired {
		m.notifyExpired(ctx, *hold)
	}
	return expired, nil
}

func (m *Manager) expireLocked(ctx context.Context, hold *Hold, reason string, now time.Time) (bool, error) {
	if err := m.releaseLocked(ctx, hold, HoldStatusExpired, reason, now); err != nil {
		return false, err
	}
	m.log.LogHoldExpired(ctx, hold.ID.String(), hold.BookingID.String(), hold.UnitID.String())
	notifications.PublishOrLog(ctx, m.publisher,
		notifications.NewEvent(notifications.EventHoldExpired, hold.BookingID.String(), now).
			WithUnit(hold.UnitID.String()).
			With("hold_id", hold.ID.String()).
			With("reason", reason).
			With("range", hold.Range.String()))
	return true, nil
}

func (m *Manager) releaseLocked(ctx context.Context, hold *Hold, status HoldStatus, reason string, now time.Time) error {
	if _, err := m.ledger.ReleaseHeld(ctx, hold.UnitID, hold.Range, hold.Owner()); err != nil {
		return fmt.Errorf("failed to release held nights: %w", err)
	}
	m.releaseGuard(ctx, hold)

	hold.resolve(status, reason, now)
	if err := m.repo.Update(ctx, hold); err != nil {
		return fmt.Errorf("failed to update hold: %w", err)
	}
	return nil
}

func (m *Manager) releaseGuard(ctx context.Context, hold *Hold) {
	if err := m.guard.Release(ctx, hold); err != nil {
		m.log.WarnContext(ctx, "hold guard release failed",
			slog.String("hold_id", hold.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) notifyExpired(ctx context.Context, hold Hold) {
	m.listenersMu.RLock()
	listeners := m.listeners
	m.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, hold)
	}
}
