package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/identity"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/middleware"
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

// Override handles POST /api/v1/admin/overrides
func (c *Controller) Override(ctx *gin.Context) {
	actor, ok := c.caller(ctx)
	if !ok {
		return
	}

	var req OverrideRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}
	if err := c.validator.Struct(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Validation failed", nil, err.Error())
		return
	}

	out, err := c.service.Override(ctx.Request.Context(), actor, req)
	if err != nil {
		response.RespondError(ctx, "Override failed", err)
		return
	}
	response.RespondJSON(ctx, "success", http.StatusOK, "Override applied", out, nil)
}

// SetUnitStatus handles PATCH /api/v1/admin/units/:id/status
//
// Shorthand for a SET_UNIT_STATUS override.
func (c *Controller) SetUnitStatus(ctx *gin.Context) {
	actor, ok := c.caller(ctx)
	if !ok {
		return
	}

	var req UnitStatusRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid request body", nil, err.Error())
		return
	}
	if err := c.validator.Struct(&req); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Validation failed", nil, err.Error())
		return
	}

	out, err := c.service.Override(ctx.Request.Context(), actor, OverrideRequest{
		Action: ActionSetUnitStatus,
		UnitID: ctx.Param("id"),
		Status: req.Status,
		Reason: req.Reason,
	})
	if err != nil {
		response.RespondError(ctx, "Failed to update unit status", err)
		return
	}
	response.RespondJSON(ctx, "success", http.StatusOK, "Unit status updated", out, nil)
}

// ListAudit handles GET /api/v1/admin/audit?actor_id=&target_id=&action=&page=&limit=
func (c *Controller) ListAudit(ctx *gin.Context) {
	actor, ok := c.caller(ctx)
	if !ok {
		return
	}

	var q AuditQuery
	if err := ctx.ShouldBindQuery(&q); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid query parameters", nil, err.Error())
		return
	}
	if err := c.validator.Struct(&q); err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Validation failed", nil, err.Error())
		return
	}

	out, err := c.service.ListAudit(ctx.Request.Context(), actor, q)
	if err != nil {
		response.RespondError(ctx, "Failed to list audit entries", err)
		return
	}
	response.RespondJSON(ctx, "success", http.StatusOK, "Audit entries retrieved successfully", out, nil)
}

func (c *Controller) caller(ctx *gin.Context) (identity.Identity, bool) {
	id, ok := middleware.CurrentIdentity(ctx)
	if !ok {
		response.RespondJSON(ctx, "error", http.StatusUnauthorized, "User not authenticated", nil, nil)
		return identity.Identity{}, false
	}
	return id, true
}
