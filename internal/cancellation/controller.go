package cancellation

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

// PutPolicy handles PUT /api/v1/admin/units/:id/cancellation-policy
func (c *Controller) PutPolicy(ctx *gin.Context) {
	unitID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid unit ID", nil, nil)
		return
	}

	var req PolicyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}
	if err := c.validator.Struct(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Validation failed", nil, err.Error())
		return
	}

	policy, err := c.service.PutPolicy(ctx.Request.Context(), unitID, req)
	if err != nil {
		response.RespondError(ctx, "Failed to save cancellation policy", err)
		return
	}
	response.RespondJSON(ctx, "success", http.StatusOK, "Cancellation policy saved successfully", policy, nil)
}

// GetPolicy handles GET /api/v1/admin/units/:id/cancellation-policy
func (c *Controller) GetPolicy(ctx *gin.Context) {
	unitID, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid unit ID", nil, nil)
		return
	}

	policy, err := c.service.GetPolicy(ctx.Request.Context(), unitID)
	if err != nil {
		response.RespondError(ctx, "Cancellation policy not found", err)
		return
	}
	response.RespondJSON(ctx, "success", http.StatusOK, "Cancellation policy retrieved successfully", policy, nil)
}
