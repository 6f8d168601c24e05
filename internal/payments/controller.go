package payments

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/utils/response"
	"github.com/zomestaydeveloper/Zomestay/pkg/logger"
)

const maxWebhookBytes = 1 << 20

type Controller struct {
	reconciler *Reconciler
	gateways   map[string]Gateway
	log        *logger.Logger
}

func NewController(reconciler *Reconciler, gateways ...Gateway) *Controller {
	byName := make(map[string]Gateway, len(gateways))
	for _, g := range gateways {
		byName[g.Name()] = g
	}
	return &Controller{
		reconciler: reconciler,
		gateways:   byName,
		log:        logger.GetDefault().WithComponent("payment-webhook"),
	}
}

// Webhook handles POST /api/v1/payments/webhook/:provider
//
// Once a delivery is authenticated it is acknowledged with 200 whatever the
// reconciliation outcome, so the gateway stops redelivering. Only storage
// failures answer 500 to ask for a retry.
func (c *Controller) Webhook(ctx *gin.Context) {
	gateway, ok := c.gateways[ctx.Param("provider")]
	if !ok {
		response.RespondJSON(ctx, "error", http.StatusNotFound, "Unknown payment provider", nil, nil)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBytes))
	if err != nil {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Failed to read webhook body", nil, err.Error())
		return
	}

	cb, err := gateway.Parse(ctx.Request.Header, payload)
	switch {
	case errors.Is(err, ErrInvalidSignature):
		c.log.LogSignatureRejected(ctx.Request.Context(), gateway.Name(), ctx.ClientIP())
		response.RespondJSON(ctx, "error", http.StatusUnauthorized, "Invalid webhook signature", nil, nil)
		return
	case errors.Is(err, ErrUnsupportedEvent):
		response.RespondJSON(ctx, "success", http.StatusOK, "Event ignored", gin.H{"outcome": OutcomeIgnored}, nil)
		return
	case err != nil:
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Invalid webhook payload", nil, err.Error())
		return
	}

	outcome, err := c.reconciler.OnCallback(ctx.Request.Context(), cb)
	if err != nil {
		c.log.ErrorContext(ctx.Request.Context(), "payment callback failed",
			"provider", gateway.Name(), "reference", cb.Reference, "error", err.Error())
		response.RespondJSON(ctx, "error", http.StatusInternalServerError, "Failed to process callback", nil, nil)
		return
	}
	response.RespondJSON(ctx, "success", http.StatusOK, "Callback processed", gin.H{
		"reference": cb.Reference,
		"outcome":   outcome,
	}, nil)
}
