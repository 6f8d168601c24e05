package bookings

import (
	"time"

	"github.com/google/uuid"

	"github.com/zomestaydeveloper/Zomestay/internal/inventory"
	"github.com/zomestaydeveloper/Zomestay/internal/payments"
)

// BookingResponse is the pending handle returned by booking intake. The
// caller polls StatusURL for the outcome.
type BookingResponse struct {
	BookingID     uuid.UUID  `json:"booking_id"`
	Reference     string     `json:"reference"`
	State         State      `json:"state"`
	CheckIn       string     `json:"check_in"`
	CheckOut      string     `json:"check_out"`
	Price         int64      `json:"price"`
	Currency      string     `json:"currency"`
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
	CancelReason  string     `json:"cancel_reason,omitempty"`
	RefundAmount  int64      `json:"refund_amount,omitempty"`
	StatusURL     string     `json:"status_url"`
}

// PaymentLinkResponse is what the front desk shares with the guest.
type PaymentLinkResponse struct {
	BookingID     uuid.UUID         `json:"booking_id"`
	Attempt       *payments.Attempt `json:"attempt"`
	Link          *payments.Link    `json:"link"`
	HoldExpiresAt *time.Time        `json:"hold_expires_at,omitempty"`
}

type CancellationRequestListResponse struct {
	Requests   []CancellationRequest `json:"requests"`
	TotalCount int64                 `json:"total_count"`
	Page       int                   `json:"page"`
	Limit      int                   `json:"limit"`
}

type BookingListResponse struct {
	Bookings   []BookingResponse `json:"bookings"`
	TotalCount int64             `json:"total_count"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
}

func toResponse(b *Booking, apiPrefix string) BookingResponse {
	return BookingResponse{
		BookingID:     b.ID,
		Reference:     b.Reference,
		State:         b.State,
		CheckIn:       b.Range.Start.Format(inventory.DateLayout),
		CheckOut:      b.Range.End.Format(inventory.DateLayout),
		Price:         b.Price,
		Currency:      b.Currency,
		HoldExpiresAt: b.HoldExpiresAt,
		CancelReason:  b.CancelReason,
		RefundAmount:  b.RefundAmount,
		StatusURL:     apiPrefix + "/bookings/" + b.ID.String(),
	}
}
