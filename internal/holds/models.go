package holds

import (
	"time"

	"github.com/google/uuid"

	"github.com/zomestaydeveloper/Zomestay/internal/inventory"
)

type HoldStatus string

const (
	HoldStatusActive   HoldStatus = "ACTIVE"
	HoldStatusReleased HoldStatus = "RELEASED"
	HoldStatusExpired  HoldStatus = "EXPIRED"
)

// Release reasons recorded on a hold.
const (
	ReasonConfirmed    = "CONFIRMED"
	ReasonCancelled    = "CANCELLED"
	ReasonExpired      = "HOLD_EXPIRED"
	ReasonAdminRelease = "ADMIN_RELEASE"
	ReasonCompensation = "COMPENSATION"
)

// Hold is a TTL-bound reservation of a unit's nights for one booking.
type Hold struct {
	ID            uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	BookingID     uuid.UUID           `gorm:"type:uuid;not null;index" json:"booking_id"`
	UnitID        uuid.UUID           `gorm:"type:uuid;not null;index" json:"unit_id"`
	Range         inventory.DateRange `gorm:"embedded;embeddedPrefix:stay_" json:"range"`
	IssuedAt      time.Time           `gorm:"not null" json:"issued_at"`
	ExpiresAt     time.Time           `gorm:"not null;index" json:"expires_at"`
	Status        HoldStatus          `gorm:"type:varchar(16);not null;index" json:"status"`
	ReleasedAt    *time.Time          `json:"released_at,omitempty"`
	ReleaseReason string              `gorm:"type:varchar(32)" json:"release_reason,omitempty"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

func (Hold) TableName() string {
	return "holds"
}

// Owner is the ledger owner string of the nights this hold covers.
func (h *Hold) Owner() string {
	return h.BookingID.String()
}

// IsActiveAt reports whether the hold still reserves its nights at now.
func (h *Hold) IsActiveAt(now time.Time) bool {
	return h.Status == HoldStatusActive && now.Before(h.ExpiresAt)
}

func (h *Hold) resolve(status HoldStatus, reason string, at time.Time) {
	h.Status = status
	h.ReleaseReason = reason
	h.ReleasedAt = &at
	h.UpdatedAt = at
}
