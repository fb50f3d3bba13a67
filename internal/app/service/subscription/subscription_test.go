package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	models "github.com/fatflowers/saasbill/internal/models"
	"github.com/fatflowers/saasbill/internal/platform/db/dbtest"
	"github.com/fatflowers/saasbill/pkg/tool"
	types "github.com/fatflowers/saasbill/pkg/types"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)
	return NewService(db, zap.NewNop().Sugar()), db
}

func newRow(ref *string) *models.Subscription {
	start := time.Now().Truncate(time.Second)
	end := start.AddDate(0, 1, 0)
	return &models.Subscription{
		Plan:                  "pro",
		ReferenceID:           ref,
		CustomerEmail:         "buyer-" + tool.GenerateUUIDV7() + "@example.com",
		GatewayCustomerID:     "cus_" + tool.GenerateUUIDV7(),
		GatewaySubscriptionID: "sub_" + tool.GenerateUUIDV7(),
		Status:                types.SubscriptionStatusActive,
		PeriodStart:           &start,
		PeriodEnd:             &end,
	}
}

func TestService_CreateIsIdempotentOnGatewayID(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	row := newRow(lo.ToPtr(tool.GenerateUUIDV7()))
	created, err := svc.Create(ctx, row)
	require.NoError(t, err)
	require.True(t, created)

	dup := *row
	dup.ID = ""
	dup.Plan = "basic"
	created, err = svc.Create(ctx, &dup)
	require.NoError(t, err)
	require.False(t, created)

	var count int64
	require.NoError(t, db.Model(&models.Subscription{}).Where("gateway_subscription_id = ?", row.GatewaySubscriptionID).Count(&count).Error)
	require.EqualValues(t, 1, count)

	var got models.Subscription
	require.NoError(t, db.Where("gateway_subscription_id = ?", row.GatewaySubscriptionID).First(&got).Error)
	require.Equal(t, row.ID, got.ID)
	require.Equal(t, "pro", got.Plan)
}

func auditReasons(t *testing.T, db *gorm.DB, gatewaySubscriptionID string) []types.SubscriptionChangeReason {
	t.Helper()
	var reasons []types.SubscriptionChangeReason
	require.NoError(t, db.Model(&models.SubscriptionLog{}).
		Where("gateway_subscription_id = ?", gatewaySubscriptionID).
		Order("created_at").
		Pluck("reason", &reasons).Error)
	return reasons
}

func TestService_UpdateAndCancel(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	row := newRow(lo.ToPtr(tool.GenerateUUIDV7()))
	_, err := svc.Create(ctx, row)
	require.NoError(t, err)

	newEnd := row.PeriodEnd.AddDate(0, 1, 0)
	found, err := svc.UpdateByGatewaySubscriptionID(ctx, row.GatewaySubscriptionID, SubscriptionUpdate{
		Status:            types.SubscriptionStatusPastDue,
		CancelAtPeriodEnd: true,
		PeriodStart:       row.PeriodEnd,
		PeriodEnd:         &newEnd,
	})
	require.NoError(t, err)
	require.True(t, found)

	var got models.Subscription
	require.NoError(t, db.Where("id = ?", row.ID).First(&got).Error)
	require.Equal(t, types.SubscriptionStatusPastDue, got.Status)
	require.True(t, got.CancelAtPeriodEnd)
	require.True(t, got.PeriodEnd.Equal(newEnd))

	before := got
	found, err = svc.CancelByGatewaySubscriptionID(ctx, row.GatewaySubscriptionID)
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, db.Where("id = ?", row.ID).First(&got).Error)
	require.Equal(t, types.SubscriptionStatusCanceled, got.Status)
	require.Equal(t, before.Plan, got.Plan)
	require.Equal(t, before.ReferenceID, got.ReferenceID)
	require.Equal(t, before.CustomerEmail, got.CustomerEmail)
	require.Equal(t, before.GatewayCustomerID, got.GatewayCustomerID)
	require.True(t, got.PeriodStart.Equal(*before.PeriodStart))
	require.True(t, got.PeriodEnd.Equal(*before.PeriodEnd))
	require.True(t, got.CancelAtPeriodEnd)

	require.Eventually(t, func() bool {
		var n int64
		err := db.Model(&models.SubscriptionLog{}).Where("gateway_subscription_id = ?", row.GatewaySubscriptionID).Count(&n).Error
		return err == nil && n == 3
	}, 5*time.Second, 50*time.Millisecond)
	require.ElementsMatch(t, []types.SubscriptionChangeReason{
		types.SubscriptionChangeReasonCreated,
		types.SubscriptionChangeReasonUpdated,
		types.SubscriptionChangeReasonCanceled,
	}, auditReasons(t, db, row.GatewaySubscriptionID))
}

func TestService_MissingTargetIsInert(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	missing := "sub_missing_" + tool.GenerateUUIDV7()

	found, err := svc.UpdateByGatewaySubscriptionID(ctx, missing, SubscriptionUpdate{Status: types.SubscriptionStatusActive})
	require.NoError(t, err)
	require.False(t, found)

	found, err = svc.CancelByGatewaySubscriptionID(ctx, missing)
	require.NoError(t, err)
	require.False(t, found)

	var count int64
	require.NoError(t, db.Model(&models.Subscription{}).Where("gateway_subscription_id = ?", missing).Count(&count).Error)
	require.Zero(t, count)
	require.Empty(t, auditReasons(t, db, missing))
}

func TestService_GetActiveByReference(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	ref := tool.GenerateUUIDV7()

	got, err := svc.GetActiveByReference(ctx, ref)
	require.NoError(t, err)
	require.Nil(t, got)

	old := newRow(&ref)
	_, err = svc.Create(ctx, old)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	latest := newRow(&ref)
	latest.Status = types.SubscriptionStatusTrialing
	_, err = svc.Create(ctx, latest)
	require.NoError(t, err)

	got, err = svc.GetActiveByReference(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, latest.ID, got.ID)

	_, err = svc.CancelByGatewaySubscriptionID(ctx, latest.GatewaySubscriptionID)
	require.NoError(t, err)
	got, err = svc.GetActiveByReference(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, old.ID, got.ID)
}

func TestService_GetActiveByReferenceStatusFilter(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		status  types.SubscriptionStatus
		current bool
	}{
		{status: types.SubscriptionStatusActive, current: true},
		{status: types.SubscriptionStatusTrialing, current: true},
		{status: types.SubscriptionStatusPastDue, current: true},
		{status: types.SubscriptionStatusCanceled},
		{status: types.SubscriptionStatusIncomplete},
		{status: types.SubscriptionStatusUnpaid},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			ref := tool.GenerateUUIDV7()
			row := newRow(&ref)
			row.Status = tt.status
			_, err := svc.Create(ctx, row)
			require.NoError(t, err)

			got, err := svc.GetActiveByReference(ctx, ref)
			require.NoError(t, err)
			if !tt.current {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.Equal(t, row.ID, got.ID)
		})
	}
}

func TestService_AttachUnclaimed(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	row := newRow(nil)
	_, err := svc.Create(ctx, row)
	require.NoError(t, err)

	userID := tool.GenerateUUIDV7()
	n, err := svc.AttachUnclaimed(ctx, row.CustomerEmail, userID)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	var got models.Subscription
	require.NoError(t, db.Where("id = ?", row.ID).First(&got).Error)
	require.Equal(t, userID, lo.FromPtr(got.ReferenceID))

	n, err = svc.AttachUnclaimed(ctx, row.CustomerEmail, tool.GenerateUUIDV7())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestScanRequest_Normalize(t *testing.T) {
	req := &ScanRequest{Size: 1000, From: -3}
	require.NoError(t, req.Normalize())
	require.Equal(t, 200, req.Size)
	require.Equal(t, 0, req.From)

	req = &ScanRequest{}
	require.NoError(t, req.Normalize())
	require.Equal(t, 10, req.Size)

	req = &ScanRequest{SortBy: "password"}
	require.ErrorContains(t, req.Normalize(), "sort field not allowed")

	req = &ScanRequest{Filters: []*types.CommonFilter{{Field: "secret", Operator: types.CommonFilterOperatorEq, Values: []any{1}}}}
	require.ErrorContains(t, req.Normalize(), "not allowed")

	var nilReq *ScanRequest
	require.Error(t, nilReq.Normalize())
}
