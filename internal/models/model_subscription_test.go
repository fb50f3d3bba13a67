package models

import (
	"testing"

	"github.com/fatflowers/saasbill/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestSubscription_Current(t *testing.T) {
	require.False(t, (*Subscription)(nil).Current())
	for _, st := range []types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusTrialing, types.SubscriptionStatusPastDue} {
		require.True(t, (&Subscription{Status: st}).Current(), st)
	}
	for _, st := range []types.SubscriptionStatus{types.SubscriptionStatusCanceled, types.SubscriptionStatusIncomplete, types.SubscriptionStatusUnpaid} {
		require.False(t, (&Subscription{Status: st}).Current(), st)
	}
}
