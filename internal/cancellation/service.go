package cancellation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/clock"
)

type Service interface {
	PutPolicy(ctx context.Context, unitID uuid.UUID, req PolicyRequest) (*Policy, error)
	GetPolicy(ctx context.Context, unitID uuid.UUID) (*Policy, error)
	// EvaluateRefund prices a cancellation of a paid stay. A unit without a
	// policy refunds nothing.
	EvaluateRefund(ctx context.Context, unitID uuid.UUID, checkIn time.Time, amount int64) (Refund, error)
}

// UnitLookup confirms a unit exists before a policy is attached to it.
type UnitLookup func(ctx context.Context, unitID uuid.UUID) error

type service struct {
	repo       Repository
	unitExists UnitLookup
	clock      clock.Clock
}

func NewService(repo Repository, unitExists UnitLookup, clk clock.Clock) Service {
	return &service{repo: repo, unitExists: unitExists, clock: clk}
}

func (s *service) PutPolicy(ctx context.Context, unitID uuid.UUID, req PolicyRequest) (*Policy, error) {
	if err := validateRules(req.Rules); err != nil {
		return nil, err
	}
	if s.unitExists != nil {
		if err := s.unitExists(ctx, unitID); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	policy, err := s.repo.GetPolicyByUnitID(ctx, unitID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		policy = &Policy{ID: uuid.New(), UnitID: unitID, CreatedAt: now}
	case err != nil:
		return nil, err
	}

	policy.Name = req.Name
	policy.Description = req.Description
	policy.UpdatedAt = now
	policy.Rules = buildRules(policy.ID, req.Rules)

	if err := s.repo.SavePolicy(ctx, policy); err != nil {
		return nil, err
	}
	return policy, nil
}

func (s *service) GetPolicy(ctx context.Context, unitID uuid.UUID) (*Policy, error) {
	return s.repo.GetPolicyByUnitID(ctx, unitID)
}

func (s *service) EvaluateRefund(ctx context.Context, unitID uuid.UUID, checkIn time.Time, amount int64) (Refund, error) {
	now := s.clock.Now()
	policy, err := s.repo.GetPolicyByUnitID(ctx, unitID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return Evaluate(nil, checkIn, now, amount), nil
		}
		return Refund{}, err
	}
	return Evaluate(policy.Rules, checkIn, now, amount), nil
}

func validateRules(rules []RuleRequest) error {
	seen := make(map[int]bool, len(rules))
	for i, r := range rules {
		if r.DaysBefore < 0 {
			return fmt.Errorf("%w: rule %d: days_before must be non-negative", apperrors.ErrInvalidInput, i+1)
		}
		if r.RefundPercent < 0 || r.RefundPercent > 100 {
			return fmt.Errorf("%w: rule %d: refund_percent must be between 0 and 100", apperrors.ErrInvalidInput, i+1)
		}
		if seen[r.DaysBefore] {
			return fmt.Errorf("%w: rule %d: duplicate days_before %d", apperrors.ErrInvalidInput, i+1, r.DaysBefore)
		}
		seen[r.DaysBefore] = true
	}
	return nil
}

// buildRules stores rules longest notice first.
func buildRules(policyID uuid.UUID, reqs []RuleRequest) []Rule {
	sorted := make([]RuleRequest, len(reqs))
	copy(sorted, reqs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DaysBefore > sorted[j].DaysBefore })

	rules := make([]Rule, len(sorted))
	for i, r := range sorted {
		rules[i] = Rule{
			ID:            uuid.New(),
			PolicyID:      policyID,
			DaysBefore:    r.DaysBefore,
			RefundPercent: r.RefundPercent,
			SortOrder:     i,
		}
	}
	return rules
}
