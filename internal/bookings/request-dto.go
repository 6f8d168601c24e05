package bookings

type CreateBookingRequest struct {
	UnitID   string `json:"unit_id" validate:"required,uuid"`
	CheckIn  string `json:"check_in" validate:"required,datetime=2006-01-02"`
	CheckOut string `json:"check_out" validate:"required,datetime=2006-01-02"`
	// Price is the total the guest was quoted, in minor units.
	Price          int64  `json:"price" validate:"required,gt=0"`
	Currency       string `json:"currency" validate:"omitempty,len=3"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=64"`
	// GuestID books for someone else. Front desk only.
	GuestID string `json:"guest_id" validate:"omitempty,max=64"`
}

// StartPaymentRequest opens an online attempt. The attempt reference is
// always generated here; the client passes it to the gateway in the order
// or intent metadata.
type StartPaymentRequest struct {
	Provider string `json:"provider" validate:"required,oneof=razorpay stripe"`
}

// CashPaymentRequest records money taken at the front desk.
type CashPaymentRequest struct {
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	Currency      string `json:"currency" validate:"omitempty,len=3"`
	ReceiptNumber string `json:"receipt_number" validate:"omitempty,max=64"`
	Note          string `json:"note" validate:"omitempty,max=500"`
}

// PaymentLinkRequest names who the link is sent to. At least one of email
// or phone is needed.
type PaymentLinkRequest struct {
	Name  string `json:"name" validate:"omitempty,max=100"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"omitempty,numeric,min=10,max=15"`
}

type CancellationRequestInput struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

type ReviewCancellationInput struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note" validate:"omitempty,max=500"`
}

type CancellationRequestQuery struct {
	Status string `form:"status" validate:"omitempty,oneof=PENDING APPROVED REJECTED"`
	Page   int    `form:"page" validate:"omitempty,min=1"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=100"`
	// GuestID narrows the list; set by the service, never bound.
	GuestID string `form:"-"`
}

func (q CancellationRequestQuery) normalized() (page, limit int) {
	return BookingListQuery{Page: q.Page, Limit: q.Limit}.normalized()
}

type CancelBookingRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

type BookingListQuery struct {
	State string `form:"state" validate:"omitempty,oneof=CREATED HOLD_PLACED AWAITING_PAYMENT CONFIRMED CANCELLED"`
	Page  int    `form:"page" validate:"omitempty,min=1"`
	Limit int    `form:"limit" validate:"omitempty,min=1,max=100"`
}

func (q BookingListQuery) normalized() (page, limit int) {
	page, limit = q.Page, q.Limit
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
