package statistics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fatflowers/saasbill/internal/models"
	"github.com/fatflowers/saasbill/internal/platform/db/dbtest"
	"github.com/fatflowers/saasbill/pkg/tool"
	"github.com/fatflowers/saasbill/pkg/types"
)

func TestSubscriptionStatisticRequest_Normalize(t *testing.T) {
	r := &SubscriptionStatisticRequest{}
	require.NoError(t, r.Normalize())
	require.Equal(t, DefaultDays, r.Days)
	require.Len(t, r.DataItems, len(allStatisticTypes))

	r = &SubscriptionStatisticRequest{Days: 10000}
	require.NoError(t, r.Normalize())
	require.Equal(t, MaxDays, r.Days)

	r = &SubscriptionStatisticRequest{DataItems: []*SubscriptionStatisticDataItem{{ID: "daily_gmv"}}}
	require.ErrorContains(t, r.Normalize(), "invalid data item id")

	r = &SubscriptionStatisticRequest{Filters: []*types.CommonFilter{{Field: "customer_email", Operator: types.CommonFilterOperatorEq, Values: []any{"x"}}}}
	require.ErrorContains(t, r.Normalize(), "not allowed")
}

func TestFillDays(t *testing.T) {
	since := time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC)
	got := fillDays([]SubscriptionStatisticResponseDataItem{
		{Date: "2026-10-14", Value: 3},
		{Date: "2026-09-01", Value: 99},
	}, since, 3)

	require.Equal(t, []SubscriptionStatisticResponseDataItem{
		{Date: "2026-10-15", Value: 0},
		{Date: "2026-10-14", Value: 3},
		{Date: "2026-10-13", Value: 0},
	}, got)
}

func TestRequestSince(t *testing.T) {
	r := &SubscriptionStatisticRequest{Days: 30}
	now := time.Date(2026, 10, 15, 18, 30, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 9, 16, 0, 0, 0, 0, time.UTC), r.since(now))
}

func TestService_GetSubscriptionStatistic(t *testing.T) {
	db := dbtest.Open(t)

	plan := "stat-" + tool.GenerateUUIDV7()
	for _, status := range []types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusTrialing, types.SubscriptionStatusCanceled} {
		require.NoError(t, db.Create(&models.Subscription{
			ID:                    tool.GenerateUUIDV7(),
			Plan:                  plan,
			GatewaySubscriptionID: "sub_" + tool.GenerateUUIDV7(),
			Status:                status,
		}).Error)
	}

	svc := New(db)
	res, err := svc.GetSubscriptionStatistic(context.Background(), &SubscriptionStatisticRequest{
		Filters: []*types.CommonFilter{{Field: "plan", Operator: types.CommonFilterOperatorEq, Values: []any{plan}}},
		Days:    7,
	})
	require.NoError(t, err)

	require.Equal(t, int64(2), res.DataItems[StatisticTypeTotalSubscriptionCount][0].Value)
	require.Equal(t, []SubscriptionStatisticResponseDataItem{{Label: plan, Value: 2}}, res.DataItems[StatisticTypeSubscriptionCountByPlan])
	require.Len(t, res.DataItems[StatisticTypeSubscriptionCountByStatus], 3)

	daily := res.DataItems[StatisticTypeDailyNewSubscriptionCount]
	require.Len(t, daily, 7)
	require.Equal(t, time.Now().UTC().Format(time.DateOnly), daily[0].Date)
	require.Equal(t, int64(3), daily[0].Value)
	require.Len(t, res.DataItems[StatisticTypeDailyCanceledSubscriptionCount], 7)
}
