package inventory

import (
	"time"

	"github.com/google/uuid"
)

type UnitStatus string

const (
	UnitStatusActive      UnitStatus = "ACTIVE"
	UnitStatusSuspended   UnitStatus = "SUSPENDED"
	UnitStatusMaintenance UnitStatus = "MAINTENANCE"
)

func (s UnitStatus) IsValid() bool {
	switch s {
	case UnitStatusActive, UnitStatusSuspended, UnitStatusMaintenance:
		return true
	}
	return false
}

// Unit is a bookable property or room.
type Unit struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	HostID      string     `gorm:"type:varchar(64);index" json:"host_id"`
	Name        string     `gorm:"type:varchar(200);not null" json:"name"`
	NightlyRate int64      `gorm:"not null" json:"nightly_rate"`
	Currency    string     `gorm:"type:varchar(3);not null" json:"currency"`
	Status      UnitStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	// BookableRanges limits when the unit can be booked. Empty means any date.
	BookableRanges []DateRange `gorm:"serializer:json;type:jsonb" json:"bookable_ranges"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func (Unit) TableName() string {
	return "units"
}

// IsBookable reports whether r lies inside one of the unit's bookable ranges.
func (u *Unit) IsBookable(r DateRange) bool {
	if len(u.BookableRanges) == 0 {
		return true
	}
	for _, br := range u.BookableRanges {
		if r.Within(br) {
			return true
		}
	}
	return false
}

// Quote is the price of r at the unit's nightly rate.
func (u *Unit) Quote(r DateRange) int64 {
	return u.NightlyRate * int64(r.NightCount())
}

type AvailabilityState string

const (
	StateFree    AvailabilityState = "FREE"
	StateHeld    AvailabilityState = "HELD"
	StateBooked  AvailabilityState = "BOOKED"
	StateBlocked AvailabilityState = "BLOCKED"
)

// AvailabilityRecord is the state of one unit for one night. Only non-free
// nights are stored; a missing row means FREE.
type AvailabilityRecord struct {
	UnitID uuid.UUID         `gorm:"type:uuid;primaryKey" json:"unit_id"`
	Date   time.Time         `gorm:"type:date;primaryKey" json:"date"`
	State  AvailabilityState `gorm:"type:varchar(16);not null;index" json:"state"`
	// Owner is the booking ID for HELD/BOOKED and the block reference for
	// BLOCKED nights.
	Owner     string    `gorm:"type:varchar(64);not null;index" json:"owner"`
	Reason    string    `gorm:"type:varchar(255)" json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AvailabilityRecord) TableName() string {
	return "availability_records"
}

// NightStatus is one entry of an availability snapshot.
type NightStatus struct {
	Date  string            `json:"date"`
	State AvailabilityState `json:"state"`
	Owner string            `json:"owner,omitempty"`
}

// Snapshot is a read-only view of a unit over a date range.
type Snapshot struct {
	UnitID    uuid.UUID     `json:"unit_id"`
	Range     DateRange     `json:"range"`
	Nights    []NightStatus `json:"nights"`
	Available bool          `json:"available"`
}

// WithoutOwners strips owner references for callers outside the booking
// engine.
func (s Snapshot) WithoutOwners() Snapshot {
	nights := make([]NightStatus, len(s.Nights))
	for i, n := range s.Nights {
		nights[i] = NightStatus{Date: n.Date, State: n.State}
	}
	s.Nights = nights
	return s
}
