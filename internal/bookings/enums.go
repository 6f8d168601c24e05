package bookings

import "github.com/zomestaydeveloper/Zomestay/internal/holds"

// Transition and cancellation reasons. Cancel reasons end up on
// Booking.CancelReason and are what a guest sees when polling status.
const (
	ReasonRequested        = "REQUESTED"
	ReasonHoldAcquired     = "HOLD_ACQUIRED"
	ReasonPaymentStarted   = "PAYMENT_STARTED"
	ReasonPaymentRetry     = "PAYMENT_RETRY"
	ReasonPaymentSucceeded = "PAYMENT_SUCCEEDED"
	ReasonPaymentFailed    = "PAYMENT_FAILED"
	ReasonPaymentExpired   = "PAYMENT_EXPIRED"
	ReasonHoldExpired      = holds.ReasonExpired
	ReasonHoldReleased     = holds.ReasonAdminRelease
	ReasonGuestCancelled   = "GUEST_CANCELLED"
	ReasonAdminCancelled   = "ADMIN_FORCE_CANCEL"
	ReasonHoldExtended     = "HOLD_EXTENDED"

	ReasonCancellationApproved = "CANCELLATION_APPROVED"
)

const systemActor = "system:booking-engine"
