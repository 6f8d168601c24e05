package inventory

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/utils/response"
)

type Controller struct {
	service   Service
	validator *validator.Validate
}

func NewController(service Service) *Controller {
	return &Controller{
		service:   service,
		validator: validator.New(),
	}
}

// GetAvailability handles GET /api/v1/units/:id/availability?from=&to=
func (c *Controller) GetAvailability(ctx *gin.Context) {
	unitID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid unit ID", nil, nil)
		return
	}

	var q AvailabilityQuery
	if err := ctx.ShouldBindQuery(&q); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid query parameters", nil, err.Error())
		return
	}
	if err := c.validator.Struct(&q); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Validation failed", nil, err.Error())
		return
	}

	r, err := ParseDateRange(q.From, q.To)
	if err != nil {
		response.RespondError(ctx, "Invalid date range", err)
		return
	}

	snap, err := c.service.Availability(ctx.Request.Context(), unitID, r)
	if err != nil {
		response.RespondError(ctx, "Failed to fetch availability", err)
		return
	}
	response.RespondJSON(ctx, "success", http.StatusOK, "Availability retrieved successfully", snap, nil)
}

// CreateUnit handles POST /api/v1/admin/units
func (c *Controller) CreateUnit(ctx *gin.Context) {
	var req CreateUnitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}
	if err := c.validator.Struct(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Validation failed", nil, err.Error())
		return
	}

	unit, err := c.service.CreateUnit(ctx.Request.Context(), req)
	if err != nil {
		response.RespondError(ctx, "Failed to create unit", err)
		return
	}
	response.RespondJSON(ctx, "success", http.StatusCreated, "Unit created successfully", unit, nil)
}

// GetUnit handles GET /api/v1/admin/units/:id
func (c *Controller) GetUnit(ctx *gin.Context) {
	unitID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid unit ID", nil, nil)
		return
	}

	unit, err := c.service.GetUnit(ctx.Request.Context(), unitID)
	if err != nil {
		response.RespondError(ctx, "Unit not found", err)
		return
	}
	response.RespondJSON(ctx, "success", http.StatusOK, "Unit retrieved successfully", unit, nil)
}

// ListUnits handles GET /api/v1/admin/units
func (c *Controller) ListUnits(ctx *gin.Context) {
	var q UnitListQuery
	if err := ctx.ShouldBindQuery(&q); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid query parameters", nil, err.Error())
		return
	}

	resp, err := c.service.ListUnits(ctx.Request.Context(), q)
	if err != nil {
		response.RespondError(ctx, "Failed to list units", err)
		return
	}
	response.RespondJSON(ctx, "success", http.StatusOK, "Units retrieved successfully", resp, nil)
}
