package bookings

import (
	"time"

	"github.com/google/uuid"

	"github.com/zomestaydeveloper/Zomestay/internal/inventory"
	"github.com/zomestaydeveloper/Zomestay/internal/payments"
)

// Booking is one guest's reservation of a unit for a date range.
type Booking struct {
	ID        uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	Reference string              `gorm:"type:varchar(32);uniqueIndex;not null" json:"reference"`
	GuestID   string              `gorm:"type:varchar(64);not null;index;uniqueIndex:idx_bookings_guest_idem" json:"guest_id"`
	UnitID    uuid.UUID           `gorm:"type:uuid;not null;index" json:"unit_id"`
	Range     inventory.DateRange `gorm:"embedded;embeddedPrefix:stay_" json:"range"`
	Price     int64               `gorm:"not null" json:"price"`
	Currency  string              `gorm:"type:varchar(3);not null" json:"currency"`
	State     State               `gorm:"type:varchar(20);not null;index" json:"state"`

	// BookedBy is the staff member who booked on the guest's behalf.
	BookedBy string `gorm:"type:varchar(64)" json:"booked_by,omitempty"`

	HoldID           *uuid.UUID `gorm:"type:uuid" json:"hold_id,omitempty"`
	HoldExpiresAt    *time.Time `json:"hold_expires_at,omitempty"`
	PaymentReference *string    `gorm:"type:varchar(128)" json:"payment_reference,omitempty"`

	CancelReason string `gorm:"type:varchar(32)" json:"cancel_reason,omitempty"`
	RefundAmount int64  `json:"refund_amount"`

	IdempotencyKey *string `gorm:"type:varchar(64);uniqueIndex:idx_bookings_guest_idem" json:"-"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	TerminalAt *time.Time `json:"terminal_at,omitempty"`
}

func (Booking) TableName() string {
	return "bookings"
}

func (b *Booking) Owner() string {
	return b.ID.String()
}

// Transition is one entry of a booking's append-only state history.
type Transition struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	BookingID  uuid.UUID `gorm:"type:uuid;not null" json:"booking_id"`
	From       State     `gorm:"column:from_state;type:varchar(20)" json:"from"`
	To         State     `gorm:"column:to_state;type:varchar(20);not null" json:"to"`
	Reason     string    `gorm:"type:varchar(32);not null" json:"reason"`
	Note       string    `gorm:"type:text" json:"note,omitempty"`
	ActorID    string    `gorm:"type:varchar(64)" json:"actor_id,omitempty"`
	AttemptRef string    `gorm:"type:varchar(128)" json:"attempt_ref,omitempty"`
	At         time.Time `gorm:"not null" json:"at"`
}

func (Transition) TableName() string {
	return "booking_transitions"
}

// Details is a booking with its history, as returned by the status lookup.
type Details struct {
	Booking     *Booking           `json:"booking"`
	Transitions []Transition       `json:"transitions"`
	Attempts    []payments.Attempt `json:"payment_attempts"`
}

type CancellationRequestStatus string

const (
	CancellationPending  CancellationRequestStatus = "PENDING"
	CancellationApproved CancellationRequestStatus = "APPROVED"
	CancellationRejected CancellationRequestStatus = "REJECTED"
)

// CancellationRequest is a guest's ask to cancel a confirmed booking. Only
// staff holding the force-cancel capability can settle it. A booking has at
// most one pending request.
type CancellationRequest struct {
	ID           uuid.UUID                 `gorm:"type:uuid;primaryKey" json:"id"`
	BookingID    uuid.UUID                 `gorm:"type:uuid;not null;index;uniqueIndex:idx_cancellation_requests_pending,where:status = 'PENDING'" json:"booking_id"`
	GuestID      string                    `gorm:"type:varchar(64);not null;index" json:"guest_id"`
	Reason       string                    `gorm:"type:text;not null" json:"reason"`
	Status       CancellationRequestStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	ReviewedBy   string                    `gorm:"type:varchar(64)" json:"reviewed_by,omitempty"`
	ReviewNote   string                    `gorm:"type:text" json:"review_note,omitempty"`
	RefundAmount int64                     `json:"refund_amount"`
	CreatedAt    time.Time                 `json:"created_at"`
	ReviewedAt   *time.Time                `json:"reviewed_at,omitempty"`
}

func (CancellationRequest) TableName() string {
	return "cancellation_requests"
}
