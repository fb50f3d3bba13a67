package reconciler

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
)

var ErrMalformedEvent = errors.New("malformed event payload")

// Kind is the closed set of event kinds the reconciler acts on.
type Kind int

const (
	KindUnhandled Kind = iota
	KindCheckoutCompleted
	KindSubscriptionUpdated
	KindSubscriptionDeleted
)

func (k Kind) String() string {
	switch k {
	case KindCheckoutCompleted:
		return "checkout_completed"
	case KindSubscriptionUpdated:
		return "subscription_updated"
	case KindSubscriptionDeleted:
		return "subscription_deleted"
	default:
		return "unhandled"
	}
}

// Event is a verified gateway event decoded once at the boundary.
// Checkout is set for KindCheckoutCompleted, Subscription for the two
// subscription kinds.
type Event struct {
	ID      string
	Type    string
	Created time.Time
	Kind    Kind
	// IgnoreReason explains why a known type was decoded as unhandled.
	IgnoreReason string

	Checkout     *stripe.CheckoutSession
	Subscription *stripe.Subscription
	Raw          json.RawMessage
}

// Decode classifies a verified event. Handled kinds whose data object cannot
// be decoded yield ErrMalformedEvent.
func Decode(e stripe.Event) (*Event, error) {
	ev := &Event{
		ID:      e.ID,
		Type:    string(e.Type),
		Created: time.Unix(e.Created, 0),
		Kind:    KindUnhandled,
	}
	if e.Data != nil {
		ev.Raw = e.Data.Raw
	}

	switch e.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var cs stripe.CheckoutSession
		if err := decodeObject(ev.Raw, &cs); err != nil {
			return nil, err
		}
		if cs.Mode != stripe.CheckoutSessionModeSubscription {
			ev.IgnoreReason = fmt.Sprintf("checkout mode %q", cs.Mode)
			return ev, nil
		}
		ev.Kind = KindCheckoutCompleted
		ev.Checkout = &cs
	case stripe.EventTypeCustomerSubscriptionUpdated, stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := decodeObject(ev.Raw, &sub); err != nil {
			return nil, err
		}
		if sub.ID == "" {
			return nil, fmt.Errorf("%w: subscription without id", ErrMalformedEvent)
		}
		ev.Kind = KindSubscriptionUpdated
		if e.Type == stripe.EventTypeCustomerSubscriptionDeleted {
			ev.Kind = KindSubscriptionDeleted
		}
		ev.Subscription = &sub
	}
	return ev, nil
}

func decodeObject(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty data object", ErrMalformedEvent)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// firstItem returns the first subscription line item, if any.
func firstItem(sub *stripe.Subscription) *stripe.SubscriptionItem {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	return sub.Items.Data[0]
}

func priceID(sub *stripe.Subscription) string {
	if it := firstItem(sub); it != nil && it.Price != nil {
		return it.Price.ID
	}
	return ""
}

// period reads the billing period from the first line item.
func period(sub *stripe.Subscription) (*time.Time, *time.Time) {
	it := firstItem(sub)
	if it == nil {
		return nil, nil
	}
	return unixPtr(it.CurrentPeriodStart), unixPtr(it.CurrentPeriodEnd)
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
