package cancellation

import (
	"github.com/gin-gonic/gin"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/identity"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/middleware"
)

func SetupRoutes(rg *gin.RouterGroup, controller *Controller, auth gin.HandlerFunc) {
	units := rg.Group("/admin/units")
	units.Use(auth, middleware.RequireCapability(identity.CapManagePolicies))
	{
		units.PUT("/:id/cancellation-policy", controller.PutPolicy) // PUT /api/v1/admin/units/:id/cancellation-policy
		units.GET("/:id/cancellation-policy", controller.GetPolicy) // GET /api/v1/admin/units/:id/cancellation-policy
	}
}
