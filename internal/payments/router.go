package payments

import "github.com/gin-gonic/gin"

// SetupRoutes registers the gateway webhook. It is authenticated by the
// provider signature, not by JWT.
func SetupRoutes(rg *gin.RouterGroup, controller *Controller) {
	payments := rg.Group("/payments")
	{
		payments.POST("/webhook/:provider", controller.Webhook) // POST /api/v1/payments/webhook/:provider
	}
}
