package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/saasbill/internal/app/service/reconciler"
	"github.com/fatflowers/saasbill/internal/platform/stripe/stripe_client"
	"github.com/fatflowers/saasbill/pkg/logctx"
	"github.com/fatflowers/saasbill/pkg/response"
)

// MaxWebhookBodyBytes bounds webhook payloads. Gateway events are far smaller.
const MaxWebhookBodyBytes = 1 << 20

type WebhookReconciler interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (reconciler.Outcome, error)
}

// @Summary      Stripe Webhook
// @Description  Receives payment gateway events. The raw body is verified against the Stripe-Signature header.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        Stripe-Signature header string true "Webhook signature"
// @Param        payload body object true "Raw gateway event"
// @Success      200  {object}  response.Received
// @Failure      400  {object}  response.ErrorBody
// @Failure      500  {object}  response.ErrorBody
// @Router       /api/webhooks/stripe [post]
func ApiStripeWebhook(rec WebhookReconciler, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if p := recover(); p != nil {
				logctx.FromGin(c, log).Errorw("webhook_panic", "panic", p)
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.Error("Webhook handler failed"))
			}
		}()

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxWebhookBodyBytes)
		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			logctx.FromGin(c, log).Warnw("webhook_body_unreadable", "err", err)
			c.JSON(http.StatusBadRequest, response.Error("Invalid webhook payload"))
			return
		}

		_, err = rec.HandleWebhook(c.Request.Context(), payload, c.GetHeader(stripe_client.SignatureHeader))
		switch {
		case err == nil:
			c.JSON(http.StatusOK, response.Ack())
		case errors.Is(err, reconciler.ErrMalformedEvent):
			c.JSON(http.StatusBadRequest, response.Error("Invalid webhook payload"))
		case reconciler.IsRejected(err):
			c.JSON(http.StatusBadRequest, response.Error("Webhook signature verification failed"))
		default:
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, response.Error("Webhook handler failed"))
		}
	}
}

func RegisterWebhookRoutes(r gin.IRouter, rec WebhookReconciler, log *zap.SugaredLogger) {
	r.POST("/stripe", ApiStripeWebhook(rec, log))
}
