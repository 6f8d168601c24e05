package bookings

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/identity"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/middleware"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/utils/response"
)

type Controller struct {
	service   Service
	validator *validator.Validate
	// apiPrefix is used to build status URLs, e.g. "/api/v1".
	apiPrefix string
}

func NewController(service Service, apiPrefix string) *Controller {
	return &Controller{
		service:   service,
		validator: validator.New(),
		apiPrefix: apiPrefix,
	}
}

// CreateBooking handles POST /api/v1/bookings
//
// Answers 202 with a pending handle once the hold is placed. The outcome of
// payment is observed by polling the status URL.
func (c *Controller) CreateBooking(ctx *gin.Context) {
	caller, ok := c.caller(ctx)
	if !ok {
		return
	}

	var req CreateBookingRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}
	if err := c.validator.Struct(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Validation failed", nil, err.Error())
		return
	}

	booking, err := c.service.RequestBooking(ctx.Request.Context(), caller, req)
	if err != nil {
		response.RespondError(ctx, "Failed to create booking", err)
		return
	}
	ctx.Header("Location", c.apiPrefix+"/bookings/"+booking.ID.String())
	response.RespondJSON(ctx, "success", http.StatusAccepted, "Booking is on hold pending payment", toResponse(booking, c.apiPrefix), nil)
}

// GetBooking handles GET /api/v1/bookings/:id
func (c *Controller) GetBooking(ctx *gin.Context) {
	caller, ok := c.caller(ctx)
	if !ok {
		return
	}
	bookingID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid booking ID", nil, nil)
		return
	}

	details, err := c.service.Get(ctx.Request.Context(), caller, bookingID)
	if err != nil {
		response.RespondError(ctx, "Failed to fetch booking", err)
		return
	}
	response.RespondJSON(ctx, "success", http.StatusOK, "Booking retrieved successfully", details, nil)
}

// ListBookings handles GET /api/v1/bookings?state=&page=&limit=
func (c *Controller) ListBookings(ctx *gin.Context) {
	caller, ok := c.caller(ctx)
	if !ok {
		return
	}

	var q BookingListQuery
	if err := ctx.ShouldBindQuery(&q); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid query parameters", nil, err.Error())
		return
	}
	if err := c.validator.Struct(&q); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Validation failed", nil, err.Error())
		return
	}

	bookings, total, err := c.service.ListMine(ctx.Request.Context(), caller, q)
	if err != nil {
		response.RespondError(ctx, "Failed to list bookings", err)
		return
	}
	page, limit := q.normalized()
	out := BookingListResponse{
		Bookings:   make([]BookingResponse, 0, len(bookings)),
		TotalCount: total,
		Page:       page,
		Limit:      limit,
	}
	for i := range bookings {
		out.Bookings = append(out.Bookings, toResponse(&bookings[i], c.apiPrefix))
	}
	response.RespondJSON(ctx, "success", http.StatusOK, "Bookings retrieved successfully", out, nil)
}

// StartPayment handles POST /api/v1/bookings/:id/payments
func (c *Controller) StartPayment(ctx *gin.Context) {
	caller, ok := c.caller(ctx)
	if !ok {
		return
	}
	bookingID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid booking ID", nil, nil)
		return
	}

	var req StartPaymentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}
	if err := c.validator.Struct(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Validation failed", nil, err.Error())
		return
	}

	attempt, err := c.service.StartPayment(ctx.Request.Context(), caller, bookingID, req)
	if err != nil {
		response.RespondError(ctx, "Failed to start payment", err)
		return
	}
	response.RespondJSON(ctx, "success", http.StatusCreated, "Payment attempt created", attempt, nil)
}

// CancelBooking handles POST /api/v1/bookings/:id/cancel
func (c *Controller) CancelBooking(ctx *gin.Context) {
	caller, ok := c.caller(ctx)
	if !ok {
		return
	}
	bookingID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid booking ID", nil, nil)
		return
	}

	var req CancelBookingRequest
	// body is optional
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
			return
		}
		if err := c.validator.Struct(&req); err != nil {
			response.RespondJSON(ctx, "error", http.StatusBadRequest, "Validation failed", nil, err.Error())
			return
		}
	}

	booking, err := c.service.Cancel(ctx.Request.Context(), caller, bookingID, req.Reason)
	if err != nil {
		response.RespondError(ctx, "Failed to cancel booking", err)
		return
	}
	response.RespondJSON(ctx, "success", http.StatusOK, "Booking cancelled successfully", toResponse(booking, c.apiPrefix), nil)
}

// RecordCashPayment handles POST /api/v1/bookings/:id/payments/cash
func (c *Controller) RecordCashPayment(ctx *gin.Context) {
	caller, ok := c.caller(ctx)
	if !ok {
		return
	}
	bookingID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid booking ID", nil, nil)
		return
	}

	var req CashPaymentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}
	if err := c.validator.Struct(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Validation failed", nil, err.Error())
		return
	}

	booking, err := c.service.RecordCashPayment(ctx.Request.Context(), caller, bookingID, req)
	if err != nil {
		response.RespondError(ctx, "Failed to record cash payment", err)
		return
	}
	response.RespondJSON(ctx, "success", http.StatusOK, "Cash payment recorded", toResponse(booking, c.apiPrefix), nil)
}

// CreatePaymentLink handles POST /api/v1/bookings/:id/payment-links
func (c *Controller) CreatePaymentLink(ctx *gin.Context) {
	caller, ok := c.caller(ctx)
	if !ok {
		return
	}
	bookingID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid booking ID", nil, nil)
		return
	}

	var req PaymentLinkRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}
	if err := c.validator.Struct(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Validation failed", nil, err.Error())
		return
	}

	link, err := c.service.CreatePaymentLink(ctx.Request.Context(), caller, bookingID, req)
	if err != nil {
		response.RespondError(ctx, "Failed to create payment link", err)
		return
	}
	response.RespondJSON(ctx, "success", http.StatusCreated, "Payment link sent", link, nil)
}

// RequestCancellation handles POST /api/v1/bookings/:id/cancellation-requests
func (c *Controller) RequestCancellation(ctx *gin.Context) {
	caller, ok := c.caller(ctx)
	if !ok {
		return
	}
	bookingID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid booking ID", nil, nil)
		return
	}

	var req CancellationRequestInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}
	if err := c.validator.Struct(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Validation failed", nil, err.Error())
		return
	}

	cr, err := c.service.RequestCancellation(ctx.Request.Context(), caller, bookingID, req)
	if err != nil {
		response.RespondError(ctx, "Failed to request cancellation", err)
		return
	}
	response.RespondJSON(ctx, "success", http.StatusCreated, "Cancellation request submitted", cr, nil)
}

// ListCancellationRequests handles GET /api/v1/cancellation-requests?status=&page=&limit=
func (c *Controller) ListCancellationRequests(ctx *gin.Context) {
	caller, ok := c.caller(ctx)
	if !ok {
		return
	}

	var q CancellationRequestQuery
	if err := ctx.ShouldBindQuery(&q); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid query parameters", nil, err.Error())
		return
	}
	if err := c.validator.Struct(&q); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Validation failed", nil, err.Error())
		return
	}

	requests, total, err := c.service.ListCancellationRequests(ctx.Request.Context(), caller, q)
	if err != nil {
		response.RespondError(ctx, "Failed to list cancellation requests", err)
		return
	}
	page, limit := q.normalized()
	if requests == nil {
		requests = []CancellationRequest{}
	}
	response.RespondJSON(ctx, "success", http.StatusOK, "Cancellation requests retrieved successfully", CancellationRequestListResponse{
		Requests:   requests,
		TotalCount: total,
		Page:       page,
		Limit:      limit,
	}, nil)
}

func (c *Controller) caller(ctx *gin.Context) (identity.Identity, bool) {
	id, ok := middleware.CurrentIdentity(ctx)
	if !ok {
		response.RespondJSON(ctx, "error", http.StatusUnauthorized, "User not authenticated", nil, nil)
		return identity.Identity{}, false
	}
	return id, true
}
