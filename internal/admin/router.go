package admin

import (
	"github.com/gin-gonic/gin"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/identity"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/middleware"
)

// SetupRoutes wires the override intake. Per-action capabilities are
// checked by the service so denied attempts are audited too.
func SetupRoutes(rg *gin.RouterGroup, controller *Controller, auth gin.HandlerFunc) {
	admin := rg.Group("/admin")
	admin.Use(auth)
	{
		admin.POST("/overrides", controller.Override)              // POST  /api/v1/admin/overrides
		admin.PATCH("/units/:id/status", controller.SetUnitStatus) // PATCH /api/v1/admin/units/:id/status
	}

	audit := rg.Group("/admin/audit")
	audit.Use(auth, middleware.RequireCapability(identity.CapViewAudit))
	{
		audit.GET("", controller.ListAudit) // GET /api/v1/admin/audit?actor_id=&target_id=&action=
	}
}
