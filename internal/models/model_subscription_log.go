package models

import (
	"time"

	"github.com/fatflowers/saasbill/pkg/types"

	"gorm.io/datatypes"
)

// SubscriptionLog records changes to subscriptions.
// Use case: troubleshooting.
type SubscriptionLog struct {
	ID                    string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	GatewaySubscriptionID string `gorm:"column:gateway_subscription_id;type:varchar(128);index;not null" json:"gateway_subscription_id"`
	// Reason is the change reason.
	Reason types.SubscriptionChangeReason `gorm:"column:reason;type:varchar(64);not null" json:"reason"`
	// After stores the row as it was right after the change.
	After datatypes.JSONType[*Subscription] `gorm:"column:after;type:jsonb;default:'null'" json:"after"`
	// Extra stores additional context such as the trace id and event id.
	Extra     datatypes.JSONMap `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt time.Time         `json:"created_at"`
}

func (SubscriptionLog) TableName() string {
	return "subscription_log"
}
