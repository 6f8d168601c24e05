package cancellation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
)

type Repository interface {
	GetPolicyByUnitID(ctx context.Context, unitID uuid.UUID) (*Policy, error)
	// SavePolicy replaces the unit's policy and all of its rules.
	SavePolicy(ctx context.Context, policy *Policy) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetPolicyByUnitID(ctx context.Context, unitID uuid.UUID) (*Policy, error) {
	var policy Policy
	err := r.db.WithContext(ctx).
		Preload("Rules", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		First(&policy, "unit_id = ?", unitID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: cancellation policy for unit %s", apperrors.ErrNotFound, unitID)
		}
		return nil, fmt.Errorf("failed to get cancellation policy: %w", err)
	}
	return &policy, nil
}

func (r *repository) SavePolicy(ctx context.Context, policy *Policy) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("policy_id = ?", policy.ID).Delete(&Rule{}).Error; err != nil {
			return fmt.Errorf("failed to clear cancellation rules: %w", err)
		}
		if err := tx.Omit("Rules").Save(policy).Error; err != nil {
			return fmt.Errorf("failed to save cancellation policy: %w", err)
		}
		if len(policy.Rules) > 0 {
			if err := tx.Create(&policy.Rules).Error; err != nil {
				return fmt.Errorf("failed to save cancellation rules: %w", err)
			}
		}
		return nil
	})
}

type memoryRepository struct {
	mu       sync.RWMutex
	policies map[uuid.UUID]Policy
}

func NewMemoryRepository() Repository {
	return &memoryRepository{policies: make(map[uuid.UUID]Policy)}
}

func (r *memoryRepository) GetPolicyByUnitID(_ context.Context, unitID uuid.UUID) (*Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[unitID]
	if !ok {
		return nil, fmt.Errorf("%w: cancellation policy for unit %s", apperrors.ErrNotFound, unitID)
	}
	p.Rules = append([]Rule(nil), p.Rules...)
	return &p, nil
}

func (r *memoryRepository) SavePolicy(_ context.Context, policy *Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := *policy
	p.Rules = append([]Rule(nil), policy.Rules...)
	r.policies[policy.UnitID] = p
	return nil
}
