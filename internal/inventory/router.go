package inventory

import (
	"github.com/gin-gonic/gin"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/identity"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/middleware"
)

// SetupRoutes wires the public availability lookup and the unit management
// endpoints.
func SetupRoutes(rg *gin.RouterGroup, controller *Controller, auth gin.HandlerFunc) {
	units := rg.Group("/units")
	{
		units.GET("/:id/availability", controller.GetAvailability) // GET /api/v1/units/:id/availability?from=&to=
	}

	admin := rg.Group("/admin/units")
	admin.Use(auth, middleware.RequireCapability(identity.CapManageUnits))
	{
		admin.POST("", controller.CreateUnit) // POST /api/v1/admin/units
		admin.GET("", controller.ListUnits)   // GET  /api/v1/admin/units?status=&host_id=
		admin.GET("/:id", controller.GetUnit) // GET  /api/v1/admin/units/:id
	}
}
