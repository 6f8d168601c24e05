package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/database"
)

type Repository interface {
	// Create fails with ErrConflict when the reference is taken or the
	// booking already has a pending attempt.
	Create(ctx context.Context, attempt *Attempt) error
	GetByReference(ctx context.Context, reference string) (*Attempt, error)
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]Attempt, error)
	// Resolve persists a terminal status only if the stored attempt is still
	// PENDING, and fails with ErrStaleCallback otherwise.
	Resolve(ctx context.Context, attempt *Attempt) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, attempt *Attempt) error {
	if err := r.db.WithContext(ctx).Create(attempt).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: payment attempt for booking %s", apperrors.ErrConflict, attempt.BookingID)
		}
		return fmt.Errorf("failed to create payment attempt: %w", err)
	}
	return nil
}

func (r *repository) GetByReference(ctx context.Context, reference string) (*Attempt, error) {
	var attempt Attempt
	if err := r.db.WithContext(ctx).First(&attempt, "reference = ?", reference).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: payment reference %s", apperrors.ErrNotFound, reference)
		}
		return nil, fmt.Errorf("failed to get payment attempt: %w", err)
	}
	return &attempt, nil
}

func (r *repository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]Attempt, error) {
	var attempts []Attempt
	err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("sequence ASC").
		Find(&attempts).Error
	return attempts, err
}

func (r *repository) Resolve(ctx context.Context, attempt *Attempt) error {
	res := r.db.WithContext(ctx).Model(attempt).
		Where("status = ?", AttemptPending).
		Select("status", "resolved_at", "metadata").
		Updates(attempt)
	if res.Error != nil {
		if database.IsUniqueViolation(res.Error) {
			return fmt.Errorf("%w: booking %s already has a succeeded attempt", apperrors.ErrInvariantViolation, attempt.BookingID)
		}
		return fmt.Errorf("failed to resolve payment attempt: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: attempt %s is no longer pending", apperrors.ErrStaleCallback, attempt.Reference)
	}
	return nil
}

type memoryRepository struct {
	mu       sync.RWMutex
	attempts map[string]Attempt // by reference
}

func NewMemoryRepository() Repository {
	return &memoryRepository{attempts: make(map[string]Attempt)}
}

func (r *memoryRepository) Create(_ context.Context, attempt *Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.attempts[attempt.Reference]; ok {
		return fmt.Errorf("%w: payment reference %s exists", apperrors.ErrConflict, attempt.Reference)
	}
	for _, a := range r.attempts {
		if a.BookingID == attempt.BookingID && a.Status == AttemptPending {
			return fmt.Errorf("%w: booking %s has a pending attempt", apperrors.ErrConflict, attempt.BookingID)
		}
	}
	r.attempts[attempt.Reference] = cloneAttempt(*attempt)
	return nil
}

func (r *memoryRepository) GetByReference(_ context.Context, reference string) (*Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.attempts[reference]
	if !ok {
		return nil, fmt.Errorf("%w: payment reference %s", apperrors.ErrNotFound, reference)
	}
	a = cloneAttempt(a)
	return &a, nil
}

func (r *memoryRepository) ListByBooking(_ context.Context, bookingID uuid.UUID) ([]Attempt, error) {
	r.mu.RLock()
	var out []Attempt
	for _, a := range r.attempts {
		if a.BookingID == bookingID {
			out = append(out, cloneAttempt(a))
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (r *memoryRepository) Resolve(_ context.Context, attempt *Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.attempts[attempt.Reference]
	if !ok {
		return fmt.Errorf("%w: payment reference %s", apperrors.ErrNotFound, attempt.Reference)
	}
	if cur.Status != AttemptPending {
		return fmt.Errorf("%w: attempt %s is no longer pending", apperrors.ErrStaleCallback, attempt.Reference)
	}
	if attempt.Status == AttemptSucceeded {
		for _, a := range r.attempts {
			if a.BookingID == attempt.BookingID && a.Status == AttemptSucceeded {
				return fmt.Errorf("%w: booking %s already has a succeeded attempt", apperrors.ErrInvariantViolation, attempt.BookingID)
			}
		}
	}
	r.attempts[attempt.Reference] = cloneAttempt(*attempt)
	return nil
}

func cloneAttempt(a Attempt) Attempt {
	if a.Metadata != nil {
		m := make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			m[k] = v
		}
		a.Metadata = m
	}
	return a
}
