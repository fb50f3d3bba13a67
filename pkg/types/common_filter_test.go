package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommonFilter_Validate(t *testing.T) {
	allowed := []string{"status", "plan"}

	tests := []struct {
		name    string
		filter  *CommonFilter
		wantErr string
	}{
		{name: "ok", filter: &CommonFilter{Field: "status", Operator: CommonFilterOperatorEq, Values: []any{"active"}}},
		{name: "is null without values", filter: &CommonFilter{Field: "plan", Operator: CommonFilterOperatorNull}},
		{name: "field not allowed", filter: &CommonFilter{Field: "status; drop table x", Operator: CommonFilterOperatorEq, Values: []any{1}}, wantErr: "not allowed"},
		{name: "unknown operator", filter: &CommonFilter{Field: "status", Operator: "like", Values: []any{"a"}}, wantErr: "unknown filter operator"},
		{name: "range needs two values", filter: &CommonFilter{Field: "plan", Operator: CommonFilterOperatorRange, Values: []any{1}}, wantErr: "two values"},
		{name: "no values", filter: &CommonFilter{Field: "plan", Operator: CommonFilterOperatorIn}, wantErr: "no values"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate(allowed)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPlan_DisplayName(t *testing.T) {
	require.Equal(t, FallbackPlanName, (*Plan)(nil).DisplayName())
	require.Equal(t, "pro", (&Plan{Key: PlanKeyPro}).DisplayName())
	require.Equal(t, "Pro Plan", (&Plan{Key: PlanKeyPro, Name: "Pro Plan"}).DisplayName())
}
