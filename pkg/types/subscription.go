package types

// SubscriptionStatus mirrors the gateway's lifecycle state verbatim.
// Values outside the constants below are stored as received.
type SubscriptionStatus string

const (
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

// CurrentSubscriptionStatuses are the statuses the read API treats as current.
var CurrentSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusActive,
	SubscriptionStatusTrialing,
	SubscriptionStatusPastDue,
}

type SubscriptionChangeReason string

const (
	SubscriptionChangeReasonCreated  SubscriptionChangeReason = "created"
	SubscriptionChangeReasonUpdated  SubscriptionChangeReason = "updated"
	SubscriptionChangeReasonCanceled SubscriptionChangeReason = "canceled"
	SubscriptionChangeReasonAttached SubscriptionChangeReason = "attached"
)

type PaymentProvider string

const (
	PaymentProviderStripe PaymentProvider = "stripe"
)
