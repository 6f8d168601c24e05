package inventory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/clock"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/locks"
)

// ChangeListener is notified after a unit's availability changed.
type ChangeListener func(ctx context.Context, unitID uuid.UUID)

// Ledger is the authoritative per-night availability of every unit.
//
// Each (unit, night) key has its own mutex. A mutation locks every night of
// its range in sorted order, validates all of them, persists the whole
// change set through the RecordStore and only then updates memory, so a
// range is either fully applied or not at all.
type Ledger struct {
	store   RecordStore
	clock   clock.Clock
	locks   *locks.Keyed
	records sync.Map // recordKey -> AvailabilityRecord

	listenersMu sync.RWMutex
	listeners   []ChangeListener
}

func NewLedger(store RecordStore, clk clock.Clock) *Ledger {
	return &Ledger{
		store: store,
		clock: clk,
		locks: locks.NewKeyed(),
	}
}

// Load primes memory with every stored record from yesterday onward.
func (l *Ledger) Load(ctx context.Context) (int, error) {
	from := Day(l.clock.Now()).AddDate(0, 0, -1)
	records, err := l.store.LoadActive(ctx, from)
	if err != nil {
		return 0, fmt.Errorf("load ledger: %w", err)
	}
	for _, rec := range records {
		rec.Date = Day(rec.Date)
		l.records.Store(recordKey(rec.UnitID, rec.Date), rec)
	}
	return len(records), nil
}

func (l *Ledger) OnChange(fn ChangeListener) {
	l.listenersMu.Lock()
	l.listeners = append(l.listeners, fn)
	l.listenersMu.Unlock()
}

// MarkHeld moves every night of r from FREE to HELD by owner. Any night not
// FREE fails the whole call with ErrConflict.
func (l *Ledger) MarkHeld(ctx context.Context, unitID uuid.UUID, r DateRange, owner string) error {
	now := l.clock.Now()
	_, err := l.mutate(ctx, unitID, r, owner, func(day time.Time, cur AvailabilityRecord, exists bool) (*Change, error) {
		if exists {
			return nil, fmt.Errorf("%w: unit %s night %s is %s", apperrors.ErrConflict, unitID, DayKey(day), cur.State)
		}
		return &Change{
			Kind: ChangeInsert,
			Next: AvailabilityRecord{UnitID: unitID, Date: day, State: StateHeld, Owner: owner, UpdatedAt: now},
		}, nil
	})
	return err
}

// MarkBooked commits nights HELD by owner. Nights already BOOKED by the same
// owner are accepted so a retried commit is harmless.
func (l *Ledger) MarkBooked(ctx context.Context, unitID uuid.UUID, r DateRange, owner string) error {
	now := l.clock.Now()
	_, err := l.mutate(ctx, unitID, r, owner, func(day time.Time, cur AvailabilityRecord, exists bool) (*Change, error) {
		switch {
		case exists && cur.Owner == owner && cur.State == StateBooked:
			return nil, nil
		case exists && cur.Owner == owner && cur.State == StateHeld:
			next := cur
			next.State = StateBooked
			next.UpdatedAt = now
			return &Change{Kind: ChangeUpdate, Prev: cur, Next: next}, nil
		case !exists:
			return nil, fmt.Errorf("%w: unit %s night %s is not held by %s", apperrors.ErrInvalidTransition, unitID, DayKey(day), owner)
		default:
			return nil, fmt.Errorf("%w: unit %s night %s is %s by another owner", apperrors.ErrInvalidTransition, unitID, DayKey(day), cur.State)
		}
	})
	return err
}

// MarkBlocked takes FREE nights out of sale. Nights already blocked under
// the same reference are left as they are.
func (l *Ledger) MarkBlocked(ctx context.Context, unitID uuid.UUID, r DateRange, owner, reason string) error {
	now := l.clock.Now()
	_, err := l.mutate(ctx, unitID, r, owner, func(day time.Time, cur AvailabilityRecord, exists bool) (*Change, error) {
		if exists {
			if cur.State == StateBlocked && cur.Owner == owner {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: unit %s night %s is %s", apperrors.ErrConflict, unitID, DayKey(day), cur.State)
		}
		return &Change{
			Kind: ChangeInsert,
			Next: AvailabilityRecord{UnitID: unitID, Date: day, State: StateBlocked, Owner: owner, Reason: reason, UpdatedAt: now},
		}, nil
	})
	return err
}

// Release frees every night in r that owner holds, has booked or blocked.
// FREE nights and nights of other owners are skipped, so calling it twice
// is a no-op. It returns the number of nights freed.
func (l *Ledger) Release(ctx context.Context, unitID uuid.UUID, r DateRange, owner string) (int, error) {
	return l.mutate(ctx, unitID, r, owner, func(_ time.Time, cur AvailabilityRecord, exists bool) (*Change, error) {
		if !exists || cur.Owner != owner {
			return nil, nil
		}
		return &Change{Kind: ChangeDelete, Prev: cur}, nil
	})
}

// ReleaseHeld frees only nights still HELD by owner. Hold cleanup uses it so
// a night that was already committed to BOOKED is never freed by a late
// expiry.
func (l *Ledger) ReleaseHeld(ctx context.Context, unitID uuid.UUID, r DateRange, owner string) (int, error) {
	return l.mutate(ctx, unitID, r, owner, func(_ time.Time, cur AvailabilityRecord, exists bool) (*Change, error) {
		if !exists || cur.Owner != owner || cur.State != StateHeld {
			return nil, nil
		}
		return &Change{Kind: ChangeDelete, Prev: cur}, nil
	})
}

// Query returns a consistent snapshot of r.
func (l *Ledger) Query(_ context.Context, unitID uuid.UUID, r DateRange) (Snapshot, error) {
	if r.NightCount() <= 0 {
		return Snapshot{}, fmt.Errorf("%w: empty range", apperrors.ErrInvalidInput)
	}
	nights := r.Nights()
	keys := nightKeys(unitID, nights)

	unlock := l.locks.Lock(keys...)
	defer unlock()

	snap := Snapshot{UnitID: unitID, Range: r, Nights: make([]NightStatus, 0, len(nights)), Available: true}
	for i, day := range nights {
		ns := NightStatus{Date: DayKey(day), State: StateFree}
		if cur, ok := l.load(keys[i]); ok {
			ns.State = cur.State
			ns.Owner = cur.Owner
			snap.Available = false
		}
		snap.Nights = append(snap.Nights, ns)
	}
	return snap, nil
}

// Compact drops in-memory records for nights before cutoff. Stored rows are
// kept as history.
func (l *Ledger) Compact(cutoff time.Time) int {
	cutoff = Day(cutoff)
	removed := 0
	l.records.Range(func(key, value any) bool {
		rec := value.(AvailabilityRecord)
		if rec.Date.Before(cutoff) {
			l.records.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

type nightFunc func(day time.Time, cur AvailabilityRecord, exists bool) (*Change, error)

func (l *Ledger) mutate(ctx context.Context, unitID uuid.UUID, r DateRange, owner string, fn nightFunc) (int, error) {
	if unitID == uuid.Nil {
		return 0, fmt.Errorf("%w: unit id required", apperrors.ErrInvalidInput)
	}
	if owner == "" {
		return 0, fmt.Errorf("%w: owner required", apperrors.ErrInvalidInput)
	}
	if r.NightCount() <= 0 {
		return 0, fmt.Errorf("%w: empty range", apperrors.ErrInvalidInput)
	}

	nights := r.Nights()
	keys := nightKeys(unitID, nights)

	unlock := l.locks.Lock(keys...)
	changes := make([]Change, 0, len(nights))
	for i, day := range nights {
		cur, exists := l.load(keys[i])
		ch, err := fn(day, cur, exists)
		if err != nil {
			unlock()
			return 0, err
		}
		if ch != nil {
			changes = append(changes, *ch)
		}
	}

	if len(changes) == 0 {
		unlock()
		return 0, nil
	}

	if err := l.store.Apply(ctx, changes); err != nil {
		unlock()
		return 0, fmt.Errorf("persist ledger change for unit %s %s: %w", unitID, r, err)
	}
	for _, ch := range changes {
		if ch.Kind == ChangeDelete {
			l.records.Delete(recordKey(ch.Prev.UnitID, ch.Prev.Date))
		} else {
			l.records.Store(recordKey(ch.Next.UnitID, ch.Next.Date), ch.Next)
		}
	}
	unlock()

	l.notify(ctx, unitID)
	return len(changes), nil
}

func (l *Ledger) load(key string) (AvailabilityRecord, bool) {
	v, ok := l.records.Load(key)
	if !ok {
		return AvailabilityRecord{}, false
	}
	return v.(AvailabilityRecord), true
}

func (l *Ledger) notify(ctx context.Context, unitID uuid.UUID) {
	l.listenersMu.RLock()
	listeners := l.listeners
	l.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, unitID)
	}
}

func nightKeys(unitID uuid.UUID, nights []time.Time) []string {
	keys := make([]string, len(nights))
	for i, day := range nights {
		keys[i] = recordKey(unitID, day)
	}
	return keys
}
