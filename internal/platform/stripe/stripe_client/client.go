package stripe_client

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/fatflowers/saasbill/pkg/config"
)

// SignatureHeader is the request header carrying the webhook signature.
const SignatureHeader = "Stripe-Signature"

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("webhook signature verification failed")
)

// Client is the gateway surface used by checkout and the webhook reconciler.
type Client interface {
	GetPrice(ctx context.Context, priceID string) (*stripe.Price, error)
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error)
	// ConstructEvent verifies the signature header against the raw payload.
	ConstructEvent(payload []byte, signatureHeader string) (stripe.Event, error)
}

type apiClient struct {
	api           *client.API
	webhookSecret string
}

// New builds a client bound to one secret key. The global stripe.Key is never touched.
func New(secretKey, webhookSecret string) Client {
	return &apiClient{
		api:           client.New(secretKey, nil),
		webhookSecret: webhookSecret,
	}
}

func (c *apiClient) GetPrice(ctx context.Context, priceID string) (*stripe.Price, error) {
	params := &stripe.PriceParams{}
	params.Context = ctx
	p, err := c.api.Prices.Get(priceID, params)
	if err != nil {
		return nil, fmt.Errorf("get price %s: %w", priceID, err)
	}
	return p, nil
}

func (c *apiClient) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	params.Context = ctx
	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return s, nil
}

func (c *apiClient) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	s, err := c.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", subscriptionID, err)
	}
	return s, nil
}

func (c *apiClient) GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cu, err := c.api.Customers.Get(customerID, params)
	if err != nil {
		return nil, fmt.Errorf("get customer %s: %w", customerID, err)
	}
	return cu, nil
}

func (c *apiClient) ConstructEvent(payload []byte, signatureHeader string) (stripe.Event, error) {
	return ConstructEvent(payload, signatureHeader, c.webhookSecret)
}

// ConstructEvent verifies and decodes a webhook payload. API version
// mismatches between the account and the library are tolerated.
func ConstructEvent(payload []byte, signatureHeader, secret string) (stripe.Event, error) {
	if signatureHeader == "" {
		return stripe.Event{}, ErrMissingSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

// IsResourceMissing reports whether the gateway answered resource_missing.
func IsResourceMissing(err error) bool {
	var se *stripe.Error
	return errors.As(err, &se) && se.Code == stripe.ErrorCodeResourceMissing
}

func provideClient(l *zap.SugaredLogger, cfg *cfgpkg.Config) Client {
	if cfg.Stripe.SecretKey == "" {
		l.Warnw("stripe secret key is empty, gateway calls will fail")
	}
	if cfg.Stripe.WebhookSecret == "" {
		l.Warnw("stripe webhook secret is empty, every webhook will be rejected")
	}
	return New(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)
}

var Module = fx.Options(
	fx.Provide(provideClient),
)
