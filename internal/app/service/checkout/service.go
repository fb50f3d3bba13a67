package checkout

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"

	"github.com/fatflowers/saasbill/internal/platform/stripe/stripe_client"
	cfgpkg "github.com/fatflowers/saasbill/pkg/config"
	"github.com/fatflowers/saasbill/pkg/logctx"
	"github.com/fatflowers/saasbill/pkg/metrics"
	"github.com/fatflowers/saasbill/pkg/types"
)

// Validation errors. Handlers map them to buyer facing messages.
var (
	ErrInvalidPriceID     = errors.New("invalid price id")
	ErrPriceNotConfigured = errors.New("price id is a placeholder")
	ErrPlanNotFound       = errors.New("plan not found")
	ErrPlanInactive       = errors.New("plan is inactive")
)

var priceIDPattern = regexp.MustCompile(`^price_[A-Za-z0-9_]{3,}$`)

// placeholderPriceIDs ship in sample configs and never exist on the gateway.
var placeholderPriceIDs = []string{
	"price_basic",
	"price_pro",
	"price_enterprise",
	"price_placeholder",
	"price_test",
	"price_xxx",
	"price_your_price_id",
	"price_123",
}

// IsValidation reports errors that are the buyer's fault.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidPriceID) ||
		errors.Is(err, ErrPriceNotConfigured) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrPlanInactive)
}

// Gateway is the part of the payment gateway checkout needs.
type Gateway interface {
	GetPrice(ctx context.Context, priceID string) (*stripe.Price, error)
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type Request struct {
	PlanID  string `json:"planId"`
	PriceID string `json:"priceId" binding:"required"`
}

// Buyer identifies an authenticated caller.
type Buyer struct {
	UserID string
	Email  string
}

type Session struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

type Service struct {
	gateway Gateway
	cfg     *cfgpkg.Config
	log     *zap.SugaredLogger
}

func NewService(gateway stripe_client.Client, cfg *cfgpkg.Config, log *zap.SugaredLogger) *Service {
	return &Service{gateway: gateway, cfg: cfg, log: log}
}

// ValidatePriceID checks the format and rejects known placeholders.
func ValidatePriceID(priceID string) error {
	if slices.Contains(placeholderPriceIDs, priceID) {
		return ErrPriceNotConfigured
	}
	if !priceIDPattern.MatchString(priceID) {
		return ErrInvalidPriceID
	}
	return nil
}

// CreateForUser starts a hosted checkout attributed to an authenticated user.
func (s *Service) CreateForUser(ctx context.Context, req Request, buyer Buyer) (*Session, error) {
	if buyer.UserID == "" {
		return nil, fmt.Errorf("buyer without user id")
	}
	return s.create(ctx, req, &buyer)
}

// CreateForGuest starts a hosted checkout without an account. The account is
// provisioned when the checkout completes.
func (s *Service) CreateForGuest(ctx context.Context, req Request) (*Session, error) {
	return s.create(ctx, req, nil)
}

func (s *Service) create(ctx context.Context, req Request, buyer *Buyer) (*Session, error) {
	log := logctx.FromCtx(ctx, s.log)
	priceID := strings.TrimSpace(req.PriceID)

	if err := ValidatePriceID(priceID); err != nil {
		log.Warnw("checkout_rejected", "price_id", priceID, "err", err)
		return nil, err
	}

	price, err := s.gateway.GetPrice(ctx, priceID)
	if err != nil {
		if stripe_client.IsResourceMissing(err) {
			log.Warnw("checkout_rejected", "price_id", priceID, "err", err)
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("confirm price %s: %w", priceID, err)
	}
	if !price.Active {
		log.Warnw("checkout_rejected", "price_id", priceID, "reason", "price inactive")
		return nil, ErrPlanInactive
	}

	planID := strings.TrimSpace(req.PlanID)
	if planID == "" {
		if p := s.cfg.GetPlanByPriceID(priceID); p != nil {
			planID = string(p.Key)
		}
	}

	params := s.sessionParams(priceID, planID, buyer)
	cs, err := s.gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, err
	}

	kind := "guest"
	if buyer != nil {
		kind = "user"
	}
	metrics.ObserveCheckout(kind)
	log.Infow("checkout_session_created",
		"session_id", cs.ID,
		"price_id", priceID,
		"plan_id", planID,
		"kind", kind,
	)
	return &Session{SessionID: cs.ID, URL: cs.URL}, nil
}

func (s *Service) sessionParams(priceID, planID string, buyer *Buyer) *stripe.CheckoutSessionParams {
	base := strings.TrimRight(s.cfg.App.BaseURL, "/")
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:       stripe.String(base + "/dashboard?checkout=success&session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:        stripe.String(base + "/pricing?checkout=canceled"),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{},
	}

	meta := map[string]string{}
	if planID != "" {
		meta[types.CheckoutMetaPlanID] = planID
	}
	if buyer != nil {
		meta[types.CheckoutMetaUserID] = buyer.UserID
		params.ClientReferenceID = stripe.String(buyer.UserID)
		if buyer.Email != "" {
			params.CustomerEmail = stripe.String(buyer.Email)
		}
	} else {
		meta[types.CheckoutMetaGuestCheckout] = "true"
	}
	for k, v := range meta {
		params.AddMetadata(k, v)
		params.SubscriptionData.AddMetadata(k, v)
	}
	return params
}
