package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/database"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateUnit(ctx context.Context, unit *Unit) error {
	if err := r.db.WithContext(ctx).Create(unit).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: unit %s exists", apperrors.ErrConflict, unit.ID)
		}
		return err
	}
	return nil
}

func (r *repository) GetUnit(ctx context.Context, id uuid.UUID) (*Unit, error) {
	var unit Unit
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&unit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: unit %s", apperrors.ErrNotFound, id)
		}
		return nil, err
	}
	return &unit, nil
}

func (r *repository) ListUnits(ctx context.Context, query UnitListQuery) ([]Unit, int64, error) {
	var units []Unit
	var total int64

	page, limit := query.normalized()
	db := r.db.WithContext(ctx).Model(&Unit{})
	if query.Status != "" {
		db = db.Where("status = ?", query.Status)
	}
	if query.HostID != "" {
		db = db.Where("host_id = ?", query.HostID)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("created_at ASC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&units).Error
	if err != nil {
		return nil, 0, err
	}
	return units, total, nil
}

func (r *repository) UpdateUnit(ctx context.Context, unit *Unit) error {
	res := r.db.WithContext(ctx).Save(unit)
	if res.Error != nil {
		return res.Error
	}
	return nil
}

type recordStore struct {
	db *gorm.DB
}

// NewRecordStore returns a Postgres backed RecordStore. The (unit_id, date)
// primary key is the cross-process guard against double claims.
func NewRecordStore(db *gorm.DB) RecordStore {
	return &recordStore{db: db}
}

func (s *recordStore) LoadActive(ctx context.Context, from time.Time) ([]AvailabilityRecord, error) {
	var records []AvailabilityRecord
	err := s.db.WithContext(ctx).
		Where("date >= ?", Day(from)).
		Find(&records).Error
	return records, err
}

func (s *recordStore) Apply(ctx context.Context, changes []Change) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ch := range changes {
			switch ch.Kind {
			case ChangeInsert:
				if err := tx.Create(&ch.Next).Error; err != nil {
					if database.IsUniqueViolation(err) {
						return fmt.Errorf("%w: night %s already claimed", apperrors.ErrConflict, DayKey(ch.Next.Date))
					}
					return err
				}
			case ChangeUpdate:
				res := tx.Model(&AvailabilityRecord{}).
					Where("unit_id = ? AND date = ? AND state = ? AND owner = ?",
						ch.Prev.UnitID, ch.Prev.Date, ch.Prev.State, ch.Prev.Owner).
					Updates(map[string]interface{}{
						"state":      ch.Next.State,
						"owner":      ch.Next.Owner,
						"reason":     ch.Next.Reason,
						"updated_at": ch.Next.UpdatedAt,
					})
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected != 1 {
					return fmt.Errorf("%w: night %s changed underneath", apperrors.ErrConflict, DayKey(ch.Prev.Date))
				}
			case ChangeDelete:
				res := tx.Where("unit_id = ? AND date = ? AND state = ? AND owner = ?",
					ch.Prev.UnitID, ch.Prev.Date, ch.Prev.State, ch.Prev.Owner).
					Delete(&AvailabilityRecord{})
				if res.Error != nil {
					return res.Error
				}
				// Already gone is fine: release is idempotent.
			}
		}
		return nil
	})
}
