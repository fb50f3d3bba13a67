package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/saasbill/internal/models"
	"github.com/fatflowers/saasbill/pkg/logctx"
	"github.com/fatflowers/saasbill/pkg/response"
	"github.com/fatflowers/saasbill/pkg/types"
)

type SubscriptionReader interface {
	GetActiveByReference(ctx context.Context, referenceID string) (*models.Subscription, error)
}

// SubscriptionView is the public shape of a subscription record.
type SubscriptionView struct {
	ID                    string                   `json:"id"`
	Plan                  string                   `json:"plan"`
	ReferenceID           *string                  `json:"referenceId"`
	GatewayCustomerID     string                   `json:"gatewayCustomerId"`
	GatewaySubscriptionID string                   `json:"gatewaySubscriptionId"`
	Status                types.SubscriptionStatus `json:"status"`
	PeriodStart           *time.Time               `json:"periodStart"`
	PeriodEnd             *time.Time               `json:"periodEnd"`
	CancelAtPeriodEnd     bool                     `json:"cancelAtPeriodEnd"`
}

type SubscriptionResponse struct {
	Subscription *SubscriptionView `json:"subscription"`
}

func toSubscriptionView(m *models.Subscription) *SubscriptionView {
	if m == nil {
		return nil
	}
	return &SubscriptionView{
		ID:                    m.ID,
		Plan:                  m.Plan,
		ReferenceID:           m.ReferenceID,
		GatewayCustomerID:     m.GatewayCustomerID,
		GatewaySubscriptionID: m.GatewaySubscriptionID,
		Status:                m.Status,
		PeriodStart:           m.PeriodStart,
		PeriodEnd:             m.PeriodEnd,
		CancelAtPeriodEnd:     m.CancelAtPeriodEnd,
	}
}

// @Summary      Current Subscription
// @Description  Returns the caller's most recent active, trialing or past_due subscription, or null.
// @Tags         Subscription
// @Produce      json
// @Security     SessionAuth
// @Success      200  {object}  handlers.SubscriptionResponse
// @Failure      401  {object}  response.ErrorBody
// @Failure      500  {object}  response.ErrorBody
// @Router       /api/subscription [get]
func ApiGetSubscription(store SubscriptionReader, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(logctx.KeyUserID)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, response.Error("Unauthorized"))
			return
		}
		sub, err := store.GetActiveByReference(c.Request.Context(), userID)
		if err != nil {
			logctx.FromGin(c, log).Errorw("subscription_lookup_failed", "err", err)
			c.JSON(http.StatusInternalServerError, response.Error("Failed to load subscription"))
			return
		}
		c.JSON(http.StatusOK, SubscriptionResponse{Subscription: toSubscriptionView(sub)})
	}
}

func RegisterSubscriptionRoutes(r gin.IRouter, store SubscriptionReader, auth gin.HandlerFunc, log *zap.SugaredLogger) {
	r.GET("/subscription", auth, ApiGetSubscription(store, log))
}
