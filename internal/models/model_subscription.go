package models

import (
	"slices"
	"time"

	"github.com/fatflowers/saasbill/pkg/types"
)

// Subscription mirrors one gateway subscription.
// Rows are never deleted; a terminated subscription moves to canceled.
type Subscription struct {
	ID   string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Plan string `gorm:"column:plan;type:varchar(64);not null" json:"plan"`
	// ReferenceID is the owning user id. Nil until a guest checkout is linked to an account.
	ReferenceID *string `gorm:"column:reference_id;type:varchar(64);index:idx_reference_id_created_at,priority:1" json:"reference_id"`
	// CustomerEmail is recorded so unreferenced rows can be attached on sign-up.
	CustomerEmail         string                   `gorm:"column:customer_email;type:varchar(255);index" json:"customer_email"`
	GatewayCustomerID     string                   `gorm:"column:gateway_customer_id;type:varchar(128);not null" json:"gateway_customer_id"`
	GatewaySubscriptionID string                   `gorm:"column:gateway_subscription_id;type:varchar(128);not null;uniqueIndex" json:"gateway_subscription_id"`
	Status                types.SubscriptionStatus `gorm:"column:status;type:varchar(64);not null" json:"status"`
	PeriodStart           *time.Time               `gorm:"column:period_start;default:null" json:"period_start"`
	PeriodEnd             *time.Time               `gorm:"column:period_end;default:null" json:"period_end"`
	CancelAtPeriodEnd     bool                     `gorm:"column:cancel_at_period_end;not null;default:false" json:"cancel_at_period_end"`
	CreatedAt             time.Time                `gorm:"index:idx_reference_id_created_at,priority:2,sort:desc" json:"created_at"`
	UpdatedAt             time.Time                `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscription"
}

// Current reports whether the status counts as a live subscription for display.
func (s *Subscription) Current() bool {
	return s != nil && slices.Contains(types.CurrentSubscriptionStatuses, s.Status)
}
