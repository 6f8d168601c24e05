package holds

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/database"
)

type Repository interface {
	Create(ctx context.Context, hold *Hold) error
	Get(ctx context.Context, id uuid.UUID) (*Hold, error)
	Update(ctx context.Context, hold *Hold) error
	// ListExpired returns ACTIVE holds whose expiry is not after now, oldest
	// first.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Hold, error)
	// PurgeResolvedBefore deletes released and expired holds resolved before
	// cutoff.
	PurgeResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, hold *Hold) error {
	if err := r.db.WithContext(ctx).Create(hold).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: booking %s already has an active hold", apperrors.ErrConflict, hold.BookingID)
		}
		return err
	}
	return nil
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Hold, error) {
	var hold Hold
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&hold).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: hold %s", apperrors.ErrNotFound, id)
		}
		return nil, err
	}
	return &hold, nil
}

func (r *repository) Update(ctx context.Context, hold *Hold) error {
	return r.db.WithContext(ctx).Save(hold).Error
}

func (r *repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]Hold, error) {
	var holds []Hold
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", HoldStatusActive, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&holds).Error
	return holds, err
}

func (r *repository) PurgeResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status <> ? AND released_at < ?", HoldStatusActive, cutoff).
		Delete(&Hold{})
	return res.RowsAffected, res.Error
}

type memoryRepository struct {
	mu    sync.RWMutex
	holds map[uuid.UUID]Hold
}

func NewMemoryRepository() Repository {
	return &memoryRepository{holds: make(map[uuid.UUID]Hold)}
}

func (r *memoryRepository) Create(_ context.Context, hold *Hold) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.holds {
		if h.BookingID == hold.BookingID && h.Status == HoldStatusActive {
			return fmt.Errorf("%w: booking %s already has an active hold", apperrors.ErrConflict, hold.BookingID)
		}
	}
	r.holds[hold.ID] = *hold
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id uuid.UUID) (*Hold, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.holds[id]
	if !ok {
		return nil, fmt.Errorf("%w: hold %s", apperrors.ErrNotFound, id)
	}
	return &h, nil
}

func (r *memoryRepository) Update(_ context.Context, hold *Hold) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.holds[hold.ID]; !ok {
		return fmt.Errorf("%w: hold %s", apperrors.ErrNotFound, hold.ID)
	}
	r.holds[hold.ID] = *hold
	return nil
}

func (r *memoryRepository) ListExpired(_ context.Context, now time.Time, limit int) ([]Hold, error) {
	r.mu.RLock()
	var out []Hold
	for _, h := range r.holds {
		if h.Status == HoldStatusActive && !h.ExpiresAt.After(now) {
			out = append(out, h)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepository) PurgeResolvedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, h := range r.holds {
		if h.Status != HoldStatusActive && h.ReleasedAt != nil && h.ReleasedAt.Before(cutoff) {
			delete(r.holds, id)
			n++
		}
	}
	return n, nil
}
