package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/clock"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/constants"
	"github.com/zomestaydeveloper/Zomestay/pkg/cache"
	"github.com/zomestaydeveloper/Zomestay/pkg/logger"
)

// maxQueryNights caps availability lookups.
const maxQueryNights = 366

type Service interface {
	CreateUnit(ctx context.Context, req CreateUnitRequest) (*Unit, error)
	GetUnit(ctx context.Context, id uuid.UUID) (*Unit, error)
	ListUnits(ctx context.Context, query UnitListQuery) (*UnitListResponse, error)
	SetUnitStatus(ctx context.Context, id uuid.UUID, status UnitStatus) (*Unit, error)

	// CheckBookable returns the unit if a new hold over r may be placed on it.
	CheckBookable(ctx context.Context, id uuid.UUID, r DateRange, maxNights int) (*Unit, error)

	// Availability is the public, cacheable view of the ledger.
	Availability(ctx context.Context, id uuid.UUID, r DateRange) (Snapshot, error)
}

type service struct {
	repo     Repository
	ledger   *Ledger
	cache    cache.Service
	clock    clock.Clock
	currency string
	cacheTTL time.Duration
	log      *logger.Logger
}

type ServiceOption func(*service)

func WithCacheTTL(d time.Duration) ServiceOption {
	return func(s *service) {
		if d > 0 {
			s.cacheTTL = d
		}
	}
}

func WithDefaultCurrency(c string) ServiceOption {
	return func(s *service) {
		if c != "" {
			s.currency = strings.ToUpper(c)
		}
	}
}

func NewService(repo Repository, ledger *Ledger, cacheService cache.Service, clk clock.Clock, opts ...ServiceOption) Service {
	s := &service{
		repo:     repo,
		ledger:   ledger,
		cache:    cacheService,
		clock:    clk,
		currency: "INR",
		cacheTTL: constants.TTL_UNIT_AVAILABILITY,
		log:      logger.GetDefault().WithComponent("inventory"),
	}
	for _, opt := range opts {
		opt(s)
	}

	ledger.OnChange(s.invalidateAvailability)
	return s
}

func (s *service) CreateUnit(ctx context.Context, req CreateUnitRequest) (*Unit, error) {
	ranges := make([]DateRange, 0, len(req.BookableRanges))
	for _, br := range req.BookableRanges {
		r, err := br.Parse()
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = s.currency
	}

	now := s.clock.Now()
	unit := &Unit{
		ID:             uuid.New(),
		HostID:         req.HostID,
		Name:           req.Name,
		NightlyRate:    req.NightlyRate,
		Currency:       currency,
		Status:         UnitStatusActive,
		BookableRanges: ranges,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateUnit(ctx, unit); err != nil {
		return nil, fmt.Errorf("create unit: %w", err)
	}
	return unit, nil
}

func (s *service) GetUnit(ctx context.Context, id uuid.UUID) (*Unit, error) {
	return s.repo.GetUnit(ctx, id)
}

func (s *service) ListUnits(ctx context.Context, query UnitListQuery) (*UnitListResponse, error) {
	units, total, err := s.repo.ListUnits(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	page, limit := query.normalized()
	return &UnitListResponse{Units: units, TotalCount: total, Page: page, Limit: limit}, nil
}

func (s *service) SetUnitStatus(ctx context.Context, id uuid.UUID, status UnitStatus) (*Unit, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown unit status %q", apperrors.ErrInvalidInput, status)
	}
	unit, err := s.repo.GetUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	unit.Status = status
	unit.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateUnit(ctx, unit); err != nil {
		return nil, fmt.Errorf("update unit status: %w", err)
	}
	return unit, nil
}

func (s *service) CheckBookable(ctx context.Context, id uuid.UUID, r DateRange, maxNights int) (*Unit, error) {
	if r.NightCount() <= 0 {
		return nil, fmt.Errorf("%w: empty range", apperrors.ErrInvalidInput)
	}
	if maxNights > 0 && r.NightCount() > maxNights {
		return nil, fmt.Errorf("%w: stay of %d nights exceeds limit of %d", apperrors.ErrInvalidInput, r.NightCount(), maxNights)
	}
	if r.Start.Before(Day(s.clock.Now())) {
		return nil, fmt.Errorf("%w: check-in %s is in the past", apperrors.ErrInvalidInput, r.Start.Format(DateLayout))
	}

	unit, err := s.repo.GetUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	if unit.Status != UnitStatusActive {
		return nil, fmt.Errorf("%w: unit %s is %s", apperrors.ErrConflict, id, unit.Status)
	}
	if !unit.IsBookable(r) {
		return nil, fmt.Errorf("%w: %s is outside the unit's bookable dates", apperrors.ErrInvalidInput, r)
	}
	return unit, nil
}

func (s *service) Availability(ctx context.Context, id uuid.UUID, r DateRange) (Snapshot, error) {
	if r.NightCount() > maxQueryNights {
		return Snapshot{}, fmt.Errorf("%w: at most %d nights per query", apperrors.ErrInvalidInput, maxQueryNights)
	}
	if _, err := s.repo.GetUnit(ctx, id); err != nil {
		return Snapshot{}, err
	}

	key := constants.BuildUnitAvailabilityKey(id.String(), r.Start.Format(DateLayout), r.End.Format(DateLayout))
	var snap Snapshot
	err := s.cache.GetOrSet(ctx, key, s.cacheTTL, func() (interface{}, error) {
		fresh, err := s.ledger.Query(ctx, id, r)
		if err != nil {
			return nil, err
		}
		return fresh.WithoutOwners(), nil
	}, &snap)
	if err != nil {
		return Snapshot{}, fmt.Errorf("availability for unit %s: %w", id, err)
	}
	return snap, nil
}

func (s *service) invalidateAvailability(ctx context.Context, unitID uuid.UUID) {
	if err := s.cache.DeletePattern(ctx, constants.BuildUnitAvailabilityPattern(unitID.String())); err != nil {
		s.log.WarnContext(ctx, "availability cache invalidation failed",
			slog.String("unit_id", unitID.String()), slog.String("error", err.Error()))
	}
}
