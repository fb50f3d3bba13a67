package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/saasbill/internal/app/api/middleware"
	"github.com/fatflowers/saasbill/internal/app/service/checkout"
	"github.com/fatflowers/saasbill/pkg/logctx"
	"github.com/fatflowers/saasbill/pkg/response"
)

type CheckoutService interface {
	CreateForUser(ctx context.Context, req checkout.Request, buyer checkout.Buyer) (*checkout.Session, error)
	CreateForGuest(ctx context.Context, req checkout.Request) (*checkout.Session, error)
}

var checkoutMessages = map[error]string{
	checkout.ErrInvalidPriceID:     "Invalid price ID",
	checkout.ErrPriceNotConfigured: "Stripe price is not configured. Please set real Stripe price IDs in the plan configuration.",
	checkout.ErrPlanNotFound:       "Plan not found. Please choose another plan.",
	checkout.ErrPlanInactive:       "This plan is no longer available",
}

func writeCheckoutResult(c *gin.Context, log *zap.SugaredLogger, sess *checkout.Session, err error) {
	if err == nil {
		c.JSON(http.StatusOK, sess)
		return
	}
	for target, msg := range checkoutMessages {
		if errors.Is(err, target) {
			c.JSON(http.StatusBadRequest, response.Error(msg))
			return
		}
	}
	logctx.FromGin(c, log).Errorw("checkout_failed", "err", err)
	c.JSON(http.StatusInternalServerError, response.Error("Failed to create checkout session"))
}

// @Summary      Create Checkout Session
// @Description  Starts a hosted subscription checkout for the signed-in user.
// @Tags         Checkout
// @Accept       json
// @Produce      json
// @Security     SessionAuth
// @Param        request body checkout.Request true "Plan and price"
// @Success      200  {object}  checkout.Session
// @Failure      400  {object}  response.ErrorBody
// @Failure      401  {object}  response.ErrorBody
// @Failure      500  {object}  response.ErrorBody
// @Router       /api/checkout [post]
func ApiCreateCheckout(svc CheckoutService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req checkout.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.Error("Invalid price ID"))
			return
		}
		buyer := checkout.Buyer{
			UserID: c.GetString(logctx.KeyUserID),
			Email:  c.GetString(middleware.KeyUserEmail),
		}
		if buyer.UserID == "" {
			c.JSON(http.StatusUnauthorized, response.Error("Unauthorized"))
			return
		}
		sess, err := svc.CreateForUser(c.Request.Context(), req, buyer)
		writeCheckoutResult(c, log, sess, err)
	}
}

// @Summary      Create Guest Checkout Session
// @Description  Starts a hosted subscription checkout without an account. The account is created after payment.
// @Tags         Checkout
// @Accept       json
// @Produce      json
// @Param        request body checkout.Request true "Plan and price"
// @Success      200  {object}  checkout.Session
// @Failure      400  {object}  response.ErrorBody
// @Failure      500  {object}  response.ErrorBody
// @Router       /api/checkout/guest [post]
func ApiCreateGuestCheckout(svc CheckoutService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req checkout.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.Error("Invalid price ID"))
			return
		}
		sess, err := svc.CreateForGuest(c.Request.Context(), req)
		writeCheckoutResult(c, log, sess, err)
	}
}

// RegisterCheckoutRoutes mounts both initiators on r; auth guards the
// authenticated variant only.
func RegisterCheckoutRoutes(r gin.IRouter, svc CheckoutService, auth gin.HandlerFunc, log *zap.SugaredLogger) {
	r.POST("/checkout", auth, ApiCreateCheckout(svc, log))
	r.POST("/checkout/guest", ApiCreateGuestCheckout(svc, log))
}
