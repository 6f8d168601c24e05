package inventory

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/clock"
	"github.com/zomestaydeveloper/Zomestay/pkg/cache"
)

// mapCache is a process-local cache.Service for tests.
type mapCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{items: map[string][]byte{}} }

func (m *mapCache) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.items[key]
	if !ok {
		return cache.ErrCacheMiss
	}
	return json.Unmarshal(b, dest)
}

func (m *mapCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.items[key] = b
	m.mu.Unlock()
	return nil
}

func (m *mapCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

func (m *mapCache) DeletePattern(_ context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			delete(m.items, k)
		}
	}
	return nil
}

func (m *mapCache) GetOrSet(ctx context.Context, key string, ttl time.Duration, fetcher func() (interface{}, error), dest interface{}) error {
	if err := m.Get(ctx, key, dest); err == nil {
		return nil
	}
	v, err := fetcher()
	if err != nil {
		return err
	}
	if err := m.Set(ctx, key, v, ttl); err != nil {
		return err
	}
	return m.Get(ctx, key, dest)
}

func (m *mapCache) Ping(context.Context) error { return nil }

func newTestService(t *testing.T) (Service, *Ledger, *mapCache) {
	t.Helper()
	clk := clock.NewFixed(testNow)
	ledger := NewLedger(NewMemoryRecordStore(), clk)
	c := newMapCache()
	return NewService(NewMemoryRepository(), ledger, c, clk), ledger, c
}

func TestCheckBookable(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	unit, err := svc.CreateUnit(ctx, CreateUnitRequest{
		HostID: "host-1", Name: "Lake Cottage", NightlyRate: 4500,
		BookableRanges: []DateRangeRequest{{From: "2026-03-01", To: "2026-06-30"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "INR", unit.Currency)

	cases := []struct {
		name    string
		unitID  uuid.UUID
		r       DateRange
		wantErr error
	}{
		{"ok", unit.ID, MustDateRange("2026-03-10", "2026-03-12"), nil},
		{"past check-in", unit.ID, MustDateRange("2026-02-27", "2026-03-02"), apperrors.ErrInvalidInput},
		{"outside season", unit.ID, MustDateRange("2026-06-29", "2026-07-02"), apperrors.ErrInvalidInput},
		{"too long", unit.ID, MustDateRange("2026-03-02", "2026-04-15"), apperrors.ErrInvalidInput},
		{"unknown unit", uuid.New(), MustDateRange("2026-03-10", "2026-03-12"), apperrors.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CheckBookable(ctx, tc.unitID, tc.r, 30)
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
		})
	}

	_, err = svc.SetUnitStatus(ctx, unit.ID, UnitStatusMaintenance)
	require.NoError(t, err)
	_, err = svc.CheckBookable(ctx, unit.ID, MustDateRange("2026-03-10", "2026-03-12"), 30)
	require.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestAvailabilityCacheIsInvalidatedOnChange(t *testing.T) {
	svc, ledger, _ := newTestService(t)
	ctx := context.Background()

	unit, err := svc.CreateUnit(ctx, CreateUnitRequest{HostID: "h", Name: "Loft", NightlyRate: 100})
	require.NoError(t, err)
	r := MustDateRange("2026-03-10", "2026-03-12")

	snap, err := svc.Availability(ctx, unit.ID, r)
	require.NoError(t, err)
	assert.True(t, snap.Available)

	require.NoError(t, ledger.MarkHeld(ctx, unit.ID, r, "booking-1"))

	snap, err = svc.Availability(ctx, unit.ID, r)
	require.NoError(t, err)
	assert.False(t, snap.Available)
	for _, n := range snap.Nights {
		assert.Equal(t, StateHeld, n.State)
		assert.Empty(t, n.Owner)
	}
}

func TestListUnitsFilters(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.CreateUnit(ctx, CreateUnitRequest{HostID: "h1", Name: "Room", NightlyRate: 10})
		require.NoError(t, err)
	}
	_, err := svc.CreateUnit(ctx, CreateUnitRequest{HostID: "h2", Name: "Room", NightlyRate: 10})
	require.NoError(t, err)

	resp, err := svc.ListUnits(ctx, UnitListQuery{HostID: "h1", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.TotalCount)
	assert.Len(t, resp.Units, 2)
}
