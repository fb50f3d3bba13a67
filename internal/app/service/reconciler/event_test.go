package reconciler

import (
	"encoding/json"
	"testing"

	"github.com/stripe/stripe-go/v82"
	"github.com/stretchr/testify/require"
)

func rawEvent(t *testing.T, typ stripe.EventType, object any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return stripe.Event{ID: "evt_1", Type: typ, Created: 1760000000, Data: &stripe.EventData{Raw: raw}}
}

func TestDecode(t *testing.T) {
	t.Run("checkout subscription mode", func(t *testing.T) {
		ev, err := Decode(rawEvent(t, stripe.EventTypeCheckoutSessionCompleted, checkoutObject("sub_1", "cus_1", map[string]string{"userId": "u1"})))
		require.NoError(t, err)
		require.Equal(t, KindCheckoutCompleted, ev.Kind)
		require.Equal(t, "sub_1", ev.Checkout.Subscription.ID)
		require.Equal(t, "u1", ev.Checkout.Metadata["userId"])
		require.Equal(t, int64(1760000000), ev.Created.Unix())
	})

	t.Run("checkout payment mode is unhandled", func(t *testing.T) {
		obj := checkoutObject("sub_1", "cus_1", nil)
		obj["mode"] = "payment"
		ev, err := Decode(rawEvent(t, stripe.EventTypeCheckoutSessionCompleted, obj))
		require.NoError(t, err)
		require.Equal(t, KindUnhandled, ev.Kind)
		require.Contains(t, ev.IgnoreReason, "payment")
		require.Nil(t, ev.Checkout)
	})

	t.Run("subscription updated and deleted", func(t *testing.T) {
		ev, err := Decode(rawEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, subscriptionObject("sub_9", "active", true)))
		require.NoError(t, err)
		require.Equal(t, KindSubscriptionUpdated, ev.Kind)
		require.True(t, ev.Subscription.CancelAtPeriodEnd)
		require.Equal(t, "price_1Pro", priceID(ev.Subscription))
		start, end := period(ev.Subscription)
		require.True(t, start.Equal(periodEnd))
		require.True(t, end.After(*start))

		ev, err = Decode(rawEvent(t, stripe.EventTypeCustomerSubscriptionDeleted, subscriptionObject("sub_9", "canceled", false)))
		require.NoError(t, err)
		require.Equal(t, KindSubscriptionDeleted, ev.Kind)
	})

	t.Run("unknown type keeps raw payload", func(t *testing.T) {
		ev, err := Decode(rawEvent(t, "invoice.paid", map[string]any{"id": "in_1"}))
		require.NoError(t, err)
		require.Equal(t, KindUnhandled, ev.Kind)
		require.JSONEq(t, `{"id":"in_1"}`, string(ev.Raw))
	})

	t.Run("malformed handled object", func(t *testing.T) {
		_, err := Decode(stripe.Event{Type: stripe.EventTypeCustomerSubscriptionUpdated, Data: &stripe.EventData{Raw: json.RawMessage(`[1,2]`)}})
		require.ErrorIs(t, err, ErrMalformedEvent)

		_, err = Decode(stripe.Event{Type: stripe.EventTypeCheckoutSessionCompleted})
		require.ErrorIs(t, err, ErrMalformedEvent)
	})
}

func TestPeriod_NoItems(t *testing.T) {
	start, end := period(&stripe.Subscription{ID: "sub_1"})
	require.Nil(t, start)
	require.Nil(t, end)
	require.Empty(t, priceID(nil))
}

func TestKindString(t *testing.T) {
	require.Equal(t, "checkout_completed", KindCheckoutCompleted.String())
	require.Equal(t, "unhandled", Kind(42).String())
}
