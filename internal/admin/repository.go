package admin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, entry *AuditEntry) error
	List(ctx context.Context, query AuditQuery) ([]AuditEntry, int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, entry *AuditEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

func (r *repository) List(ctx context.Context, query AuditQuery) ([]AuditEntry, int64, error) {
	var entries []AuditEntry
	var total int64

	page, limit := query.normalized()
	db := r.db.WithContext(ctx).Model(&AuditEntry{})
	if query.ActorID != "" {
		db = db.Where("actor_id = ?", query.ActorID)
	}
	if query.TargetID != "" {
		db = db.Where("target_id = ?", query.TargetID)
	}
	if query.Action != "" {
		db = db.Where("action = ?", query.Action)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	err := db.Order("at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, total, nil
}

type memoryRepository struct {
	mu      sync.RWMutex
	entries []AuditEntry
}

func NewMemoryRepository() Repository {
	return &memoryRepository{}
}

func (r *memoryRepository) Create(_ context.Context, entry *AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *memoryRepository) List(_ context.Context, query AuditQuery) ([]AuditEntry, int64, error) {
	r.mu.RLock()
	var matched []AuditEntry
	for _, e := range r.entries {
		if query.ActorID != "" && e.ActorID != query.ActorID {
			continue
		}
		if query.TargetID != "" && e.TargetID != query.TargetID {
			continue
		}
		if query.Action != "" && string(e.Action) != query.Action {
			continue
		}
		matched = append(matched, e)
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].At.After(matched[j].At) })

	page, limit := query.normalized()
	total := int64(len(matched))
	start := (page - 1) * limit
	if start >= len(matched) {
		return []AuditEntry{}, total, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}
