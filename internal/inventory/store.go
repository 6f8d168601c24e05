package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
)

type ChangeKind int

const (
	// ChangeInsert claims a FREE night.
	ChangeInsert ChangeKind = iota
	// ChangeUpdate moves a night between non-free states.
	ChangeUpdate
	// ChangeDelete returns a night to FREE.
	ChangeDelete
)

// Change is one night's mutation. Prev is the value the ledger observed
// before the change; stores use it as an optimistic precondition.
type Change struct {
	Kind ChangeKind
	Prev AvailabilityRecord
	Next AvailabilityRecord
}

// RecordStore persists non-free availability records.
type RecordStore interface {
	LoadActive(ctx context.Context, from time.Time) ([]AvailabilityRecord, error)
	// Apply persists every change or none of them. It returns ErrConflict
	// when a precondition no longer holds.
	Apply(ctx context.Context, changes []Change) error
}

// Repository persists units.
type Repository interface {
	CreateUnit(ctx context.Context, unit *Unit) error
	GetUnit(ctx context.Context, id uuid.UUID) (*Unit, error)
	ListUnits(ctx context.Context, query UnitListQuery) ([]Unit, int64, error)
	UpdateUnit(ctx context.Context, unit *Unit) error
}

type MemoryRecordStore struct {
	mu      sync.Mutex
	records map[string]AvailabilityRecord
	// failNext makes the next Apply fail.
	failNext error
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]AvailabilityRecord)}
}

func (s *MemoryRecordStore) LoadActive(_ context.Context, from time.Time) ([]AvailabilityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AvailabilityRecord, 0, len(s.records))
	for _, rec := range s.records {
		if !rec.Date.Before(from) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryRecordStore) Apply(_ context.Context, changes []Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failNext; err != nil {
		s.failNext = nil
		return err
	}

	for _, ch := range changes {
		key := recordKey(ch.Next.UnitID, ch.Next.Date)
		if ch.Kind == ChangeDelete {
			key = recordKey(ch.Prev.UnitID, ch.Prev.Date)
		}
		cur, exists := s.records[key]
		switch ch.Kind {
		case ChangeInsert:
			if exists {
				return fmt.Errorf("%w: night %s already %s", apperrors.ErrConflict, DayKey(cur.Date), cur.State)
			}
		case ChangeUpdate, ChangeDelete:
			if !exists || cur.State != ch.Prev.State || cur.Owner != ch.Prev.Owner {
				return fmt.Errorf("%w: night %s changed underneath", apperrors.ErrConflict, DayKey(ch.Prev.Date))
			}
		}
	}

	for _, ch := range changes {
		switch ch.Kind {
		case ChangeDelete:
			delete(s.records, recordKey(ch.Prev.UnitID, ch.Prev.Date))
		default:
			s.records[recordKey(ch.Next.UnitID, ch.Next.Date)] = ch.Next
		}
	}
	return nil
}

// FailNextApply arms a one-shot failure.
func (s *MemoryRecordStore) FailNextApply(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

type memoryRepository struct {
	mu    sync.RWMutex
	units map[uuid.UUID]Unit
}

func NewMemoryRepository() Repository {
	return &memoryRepository{units: make(map[uuid.UUID]Unit)}
}

func (r *memoryRepository) CreateUnit(_ context.Context, unit *Unit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.units[unit.ID]; ok {
		return fmt.Errorf("%w: unit %s exists", apperrors.ErrConflict, unit.ID)
	}
	r.units[unit.ID] = *unit
	return nil
}

func (r *memoryRepository) GetUnit(_ context.Context, id uuid.UUID) (*Unit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[id]
	if !ok {
		return nil, fmt.Errorf("%w: unit %s", apperrors.ErrNotFound, id)
	}
	return &u, nil
}

func (r *memoryRepository) ListUnits(_ context.Context, query UnitListQuery) ([]Unit, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]Unit, 0, len(r.units))
	for _, u := range r.units {
		if query.Status != "" && u.Status != query.Status {
			continue
		}
		if query.HostID != "" && u.HostID != query.HostID {
			continue
		}
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	total := int64(len(all))
	page, limit := query.normalized()
	start := (page - 1) * limit
	if start >= len(all) {
		return []Unit{}, total, nil
	}
	end := min(start+limit, len(all))
	return all[start:end], total, nil
}

func (r *memoryRepository) UpdateUnit(_ context.Context, unit *Unit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.units[unit.ID]; !ok {
		return fmt.Errorf("%w: unit %s", apperrors.ErrNotFound, unit.ID)
	}
	r.units[unit.ID] = *unit
	return nil
}

func recordKey(unitID uuid.UUID, day time.Time) string {
	return unitID.String() + "|" + DayKey(day)
}
