package bookings

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures the booking intake and status routes.
func SetupRoutes(rg *gin.RouterGroup, controller *Controller, auth gin.HandlerFunc) {
	bookings := rg.Group("/bookings")
	bookings.Use(auth)
	{
		// guests book for themselves, the front desk for a named guest
		bookings.POST("", controller.CreateBooking) // POST /api/v1/bookings

		bookings.GET("", controller.ListBookings)                                   // GET  /api/v1/bookings?state=&page=&limit=
		bookings.GET("/:id", controller.GetBooking)                                 // GET  /api/v1/bookings/:id
		bookings.POST("/:id/payments", controller.StartPayment)                     // POST /api/v1/bookings/:id/payments
		bookings.POST("/:id/payments/cash", controller.RecordCashPayment)           // POST /api/v1/bookings/:id/payments/cash
		bookings.POST("/:id/payment-links", controller.CreatePaymentLink)           // POST /api/v1/bookings/:id/payment-links
		bookings.POST("/:id/cancel", controller.CancelBooking)                      // POST /api/v1/bookings/:id/cancel
		bookings.POST("/:id/cancellation-requests", controller.RequestCancellation) // POST /api/v1/bookings/:id/cancellation-requests
	}

	requests := rg.Group("/cancellation-requests")
	requests.Use(auth)
	{
		requests.GET("", controller.ListCancellationRequests) // GET /api/v1/cancellation-requests?status=&page=&limit=
	}
}

// Flow:
// 1. POST /bookings places a hold and answers 202 with a status URL
// 2. POST /bookings/:id/payments opens a payment attempt; its reference goes to the gateway
// 3. The gateway calls POST /payments/webhook/:provider (or publishes to Kafka)
// 4. GET /bookings/:id shows CONFIRMED, or CANCELLED with a reason code
//
// At the front desk, step 2 is POST /payments/cash or POST /payment-links.
// A guest with a confirmed stay asks to cancel through
// POST /cancellation-requests; staff answer it with an admin override.
