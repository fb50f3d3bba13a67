package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/fatflowers/saasbill/internal/app/service/statistics"
	subsvc "github.com/fatflowers/saasbill/internal/app/service/subscription"
	models "github.com/fatflowers/saasbill/internal/models"
	"github.com/fatflowers/saasbill/pkg/response"
	"github.com/fatflowers/saasbill/pkg/types"
)

type SubscriptionScanner interface {
	Scan(ctx context.Context, req *subsvc.ScanRequest) (*subsvc.ScanResponse, error)
}

type StatisticsService interface {
	GetSubscriptionStatistic(ctx context.Context, req *statistics.SubscriptionStatisticRequest) (*statistics.SubscriptionStatisticResponse, error)
}

type ListSubscriptionRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

// AdminSubscriptionItem is the admin view of a row, including the fields
// the public API hides.
type AdminSubscriptionItem struct {
	SubscriptionView
	CustomerEmail string `json:"customerEmail"`
	CreatedAt     string `json:"createdAt"`
	UpdatedAt     string `json:"updatedAt"`
}

type ListSubscriptionsResponse struct {
	Items []*AdminSubscriptionItem `json:"items"`
	Total int64                    `json:"total"`
}

func toAdminSubscriptionItem(m *models.Subscription, _ int) *AdminSubscriptionItem {
	return &AdminSubscriptionItem{
		SubscriptionView: *toSubscriptionView(m),
		CustomerEmail:    m.CustomerEmail,
		CreatedAt:        m.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        m.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// @Summary      List Subscriptions (Admin)
// @Description  Retrieves a paginated and filterable list of subscriptions.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     AdminToken
// @Param        request body ListSubscriptionRequest true "List request with filters, pagination, and sorting"
// @Success      200  {object}  handlers.RespListSubscriptions
// @Router       /api/v1/admin/list_subscriptions [post]
func ApiListSubscriptions(store SubscriptionScanner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ListSubscriptionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		scanReq := &subsvc.ScanRequest{Filters: req.Filters, From: req.From, Size: req.Size, SortBy: req.SortBy, SortOrder: req.SortOrder}
		if err := scanReq.Normalize(); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := store.Scan(c.Request.Context(), scanReq)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		items := lo.Map(res.Items, toAdminSubscriptionItem)
		c.JSON(http.StatusOK, response.OKT(&ListSubscriptionsResponse{Items: items, Total: res.Total}))
	}
}

// @Summary      Get Subscription Statistics (Admin)
// @Description  Counts by status and plan, and daily new and canceled subscriptions for the last N days.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     AdminToken
// @Param        request body statistics.SubscriptionStatisticRequest true "Statistic request parameters"
// @Success      200  {object}  handlers.RespSubscriptionStatistic
// @Router       /api/v1/admin/get_subscription_statistic [post]
func ApiGetSubscriptionStatistic(svc StatisticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.SubscriptionStatisticRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if err := req.Normalize(); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := svc.GetSubscriptionStatistic(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterAdminRoutes(r gin.IRouter, store SubscriptionScanner, stats StatisticsService) {
	r.POST("/list_subscriptions", ApiListSubscriptions(store))
	r.POST("/get_subscription_statistic", ApiGetSubscriptionStatistic(stats))
}
