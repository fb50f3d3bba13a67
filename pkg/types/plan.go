package types

// FallbackPlanName is stored for prices missing from the plan table.
const FallbackPlanName = "Subscription Plan"

type PlanKey string

const (
	PlanKeyBasic      PlanKey = "basic"
	PlanKeyPro        PlanKey = "pro"
	PlanKeyEnterprise PlanKey = "enterprise"
)

// Plan maps a gateway price to a local plan.
type Plan struct {
	Key     PlanKey `json:"key" mapstructure:"key"`
	Name    string  `json:"name" mapstructure:"name"`
	PriceID string  `json:"price_id" mapstructure:"price_id"`
}

// DisplayName returns the human label used in emails.
func (p *Plan) DisplayName() string {
	if p == nil {
		return FallbackPlanName
	}
	if p.Name != "" {
		return p.Name
	}
	return string(p.Key)
}

// Checkout metadata keys. Written on the hosted session and its
// subscription, read back by the webhook reconciler.
const (
	CheckoutMetaUserID        = "userId"
	CheckoutMetaPlanID        = "planId"
	CheckoutMetaGuestCheckout = "guestCheckout"
)
