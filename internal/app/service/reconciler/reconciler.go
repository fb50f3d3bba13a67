package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/saasbill/internal/app/service/identity"
	"github.com/fatflowers/saasbill/internal/app/service/notification"
	"github.com/fatflowers/saasbill/internal/app/service/subscription"
	"github.com/fatflowers/saasbill/internal/models"
	"github.com/fatflowers/saasbill/internal/platform/cache"
	"github.com/fatflowers/saasbill/internal/platform/stripe/stripe_client"
	"github.com/fatflowers/saasbill/pkg/logctx"
	"github.com/fatflowers/saasbill/pkg/metrics"
	"github.com/fatflowers/saasbill/pkg/tool"
	"github.com/fatflowers/saasbill/pkg/types"
)

// Metadata keys written by checkout.
const (
	MetaUserID        = types.CheckoutMetaUserID
	MetaPlanID        = types.CheckoutMetaPlanID
	MetaGuestCheckout = types.CheckoutMetaGuestCheckout
)

const provisionedPasswordLen = 12

// Outcome is the result of reconciling one delivery.
type Outcome string

const (
	OutcomeHandled   Outcome = "handled"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeAbandoned Outcome = "abandoned"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
	OutcomeRejected  Outcome = "rejected"
)

func (o Outcome) logStatus() models.WebhookEventLogStatus {
	switch o {
	case OutcomeHandled:
		return models.WebhookEventLogStatusHandled
	case OutcomeDuplicate:
		return models.WebhookEventLogStatusDuplicate
	case OutcomeFailed:
		return models.WebhookEventLogStatusHandleFailed
	default:
		return models.WebhookEventLogStatusIgnored
	}
}

// SubscriptionStore is the write side of the subscription table.
type SubscriptionStore interface {
	Create(ctx context.Context, m *models.Subscription) (bool, error)
	UpdateByGatewaySubscriptionID(ctx context.Context, gatewaySubscriptionID string, u subscription.SubscriptionUpdate) (bool, error)
	CancelByGatewaySubscriptionID(ctx context.Context, gatewaySubscriptionID string) (bool, error)
}

// IdentityProvider is the user surface needed for guest checkouts.
type IdentityProvider interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	SignUp(ctx context.Context, p identity.SignUpParams) (*models.User, error)
	SendVerificationEmail(ctx context.Context, u *models.User) notification.Result
}

type ReceiptMailer interface {
	SendReceipt(ctx context.Context, d notification.ReceiptData) notification.Result
}

type EventLogger interface {
	Save(ctx context.Context, log *models.WebhookEventLog)
}

// PlanResolver maps a gateway price id to the stored plan value and to the
// label shown to customers. Neither fails.
type PlanResolver interface {
	PlanForPrice(priceID string) string
	PlanDisplayName(priceID string) string
}

type Reconciler struct {
	gateway  stripe_client.Client
	store    SubscriptionStore
	identity IdentityProvider
	mailer   ReceiptMailer
	events   EventLogger
	dedupe   cache.EventDeduper
	plans    PlanResolver
	log      *zap.SugaredLogger
}

func New(gateway stripe_client.Client, store SubscriptionStore, idp IdentityProvider, mailer ReceiptMailer, events EventLogger, dedupe cache.EventDeduper, plans PlanResolver, log *zap.SugaredLogger) *Reconciler {
	if dedupe == nil {
		dedupe = cache.NopDeduper{}
	}
	return &Reconciler{
		gateway:  gateway,
		store:    store,
		identity: idp,
		mailer:   mailer,
		events:   events,
		dedupe:   dedupe,
		plans:    plans,
		log:      log,
	}
}

// IsRejected reports errors that must answer 400: the event was not
// authenticated or could not be decoded.
func IsRejected(err error) bool {
	return errors.Is(err, stripe_client.ErrMissingSignature) ||
		errors.Is(err, stripe_client.ErrInvalidSignature) ||
		errors.Is(err, ErrMalformedEvent)
}

// HandleWebhook verifies, classifies and applies one delivery. A nil error
// means the delivery must be acknowledged. Errors matching IsRejected are
// client errors; any other error is a processing failure the gateway should retry.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (outcome Outcome, err error) {
	start := time.Now()
	log := logctx.FromCtx(ctx, r.log)

	se, err := r.gateway.ConstructEvent(payload, signature)
	if err != nil {
		log.Warnw("webhook_rejected", "err", err)
		metrics.IncWebhookEvent("unknown", string(OutcomeRejected))
		return OutcomeRejected, err
	}
	ev, err := Decode(se)
	if err != nil {
		log.Warnw("webhook_rejected", "event_id", se.ID, "event_type", se.Type, "err", err)
		metrics.IncWebhookEvent(string(se.Type), string(OutcomeRejected))
		return OutcomeRejected, err
	}

	log = log.With("event_id", ev.ID, "event_type", ev.Type)
	ctx = context.WithValue(ctx, logctx.KeyLogger, log)
	log.Infow("webhook_received", "kind", ev.Kind.String())
	r.saveEventLog(ctx, ev, models.WebhookEventLogStatusReceived, nil)

	if ev.ID != "" {
		claimed, cerr := r.dedupe.Claim(ctx, ev.ID)
		if cerr != nil {
			// dedupe is advisory; the unique gateway id still guards inserts
			log.Warnw("webhook_dedupe_unavailable", "err", cerr)
		} else if !claimed {
			log.Infow("webhook_duplicate")
			r.finish(ctx, ev, OutcomeDuplicate, nil, start)
			return OutcomeDuplicate, nil
		}
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic while handling %s: %v", ev.Type, p)
			outcome = OutcomeFailed
		}
		if err != nil && ev.ID != "" {
			if rerr := r.dedupe.Release(context.WithoutCancel(ctx), ev.ID); rerr != nil {
				log.Warnw("webhook_dedupe_release_failed", "err", rerr)
			}
		}
		r.finish(ctx, ev, outcome, err, start)
	}()

	switch ev.Kind {
	case KindCheckoutCompleted:
		return r.handleCheckoutCompleted(ctx, ev.Checkout)
	case KindSubscriptionUpdated:
		return r.handleSubscriptionUpdated(ctx, ev.Subscription)
	case KindSubscriptionDeleted:
		return r.handleSubscriptionDeleted(ctx, ev.Subscription)
	default:
		log.Infow("webhook_ignored", "reason", lo.Ternary(ev.IgnoreReason != "", ev.IgnoreReason, "unhandled type"))
		return OutcomeIgnored, nil
	}
}

func (r *Reconciler) finish(ctx context.Context, ev *Event, outcome Outcome, err error, start time.Time) {
	metrics.IncWebhookEvent(ev.Type, string(outcome))
	metrics.ObserveProcess("webhook", ev.Type, start)

	result := map[string]any{"outcome": outcome}
	if err != nil {
		result["error"] = err.Error()
		logctx.FromCtx(ctx, r.log).Errorw("webhook_failed", "err", err)
	} else {
		logctx.FromCtx(ctx, r.log).Infow("webhook_done", "outcome", outcome, "elapsed_ms", metrics.MillisecondsSince(start))
	}
	r.saveEventLog(ctx, ev, outcome.logStatus(), result)
}

func (r *Reconciler) saveEventLog(ctx context.Context, ev *Event, status models.WebhookEventLogStatus, result map[string]any) {
	if r.events == nil {
		return
	}
	row := &models.WebhookEventLog{
		ProviderID: string(types.PaymentProviderStripe),
		EventID:    ev.ID,
		EventType:  ev.Type,
		TraceID:    logctx.TraceID(ctx),
		EventTime:  ev.Created,
		Data:       datatypes.JSON(ev.Raw),
		Status:     status,
	}
	if result != nil {
		b, _ := json.Marshal(result)
		j := datatypes.JSON(b)
		row.Result = &j
	}
	r.events.Save(ctx, row)
}

// resolution is the owner of a checkout. An empty userID with abandon false
// means the row is stored without a reference.
type resolution struct {
	userID  string
	newUser *models.User
	abandon bool
	reason  string
}

func (r *Reconciler) resolveReference(ctx context.Context, meta map[string]string, email, name string) resolution {
	log := logctx.FromCtx(ctx, r.log)

	if uid := strings.TrimSpace(meta[MetaUserID]); uid != "" {
		return resolution{userID: uid}
	}
	if meta[MetaGuestCheckout] != "true" {
		return resolution{abandon: true, reason: "no user reference in metadata"}
	}
	if email == "" {
		return resolution{abandon: true, reason: "guest checkout without customer email"}
	}

	existing, err := r.identity.FindByEmail(ctx, email)
	if err != nil {
		log.Warnw("guest_lookup_failed", "err", err)
	}
	if existing != nil {
		log.Infow("guest_matched_existing_user", "user_id", existing.ID)
		return resolution{userID: existing.ID}
	}

	u, err := r.identity.SignUp(ctx, identity.SignUpParams{
		Email:       email,
		Password:    tool.GeneratePassword(provisionedPasswordLen),
		Name:        lo.Ternary(strings.TrimSpace(name) != "", strings.TrimSpace(name), localPart(email)),
		Provisioned: true,
	})
	if err == nil && u != nil {
		log.Infow("guest_account_provisioned", "user_id", u.ID)
		return resolution{userID: u.ID, newUser: u}
	}
	log.Warnw("guest_account_provisioning_failed", "err", err)

	// a concurrent sign-up may have won the race
	if again, lerr := r.identity.FindByEmail(ctx, email); lerr == nil && again != nil {
		return resolution{userID: again.ID}
	}
	return resolution{}
}

func (r *Reconciler) handleCheckoutCompleted(ctx context.Context, cs *stripe.CheckoutSession) (Outcome, error) {
	log := logctx.FromCtx(ctx, r.log).With("checkout_session_id", cs.ID)

	if cs.Subscription == nil || cs.Subscription.ID == "" {
		log.Warnw("checkout_abandoned", "reason", "session has no subscription")
		return OutcomeAbandoned, nil
	}
	sub, err := r.gateway.GetSubscription(ctx, cs.Subscription.ID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("retrieve subscription: %w", err)
	}

	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	if customerID == "" && cs.Customer != nil {
		customerID = cs.Customer.ID
	}
	var email, name string
	if customerID != "" {
		cust, err := r.gateway.GetCustomer(ctx, customerID)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("retrieve customer: %w", err)
		}
		email, name = cust.Email, cust.Name
	}
	if cs.CustomerDetails != nil {
		email = lo.CoalesceOrEmpty(email, cs.CustomerDetails.Email)
		name = lo.CoalesceOrEmpty(name, cs.CustomerDetails.Name)
	}
	email = identity.NormalizeEmail(lo.CoalesceOrEmpty(email, cs.CustomerEmail))

	meta := lo.Assign(sub.Metadata, cs.Metadata)
	res := r.resolveReference(ctx, meta, email, name)
	if res.abandon {
		log.Warnw("checkout_abandoned", "reason", res.reason)
		return OutcomeAbandoned, nil
	}

	start, end := period(sub)
	row := &models.Subscription{
		Plan:                  r.plans.PlanForPrice(priceID(sub)),
		ReferenceID:           lo.EmptyableToPtr(res.userID),
		CustomerEmail:         email,
		GatewayCustomerID:     customerID,
		GatewaySubscriptionID: sub.ID,
		Status:                types.SubscriptionStatus(sub.Status),
		PeriodStart:           start,
		PeriodEnd:             end,
		CancelAtPeriodEnd:     sub.CancelAtPeriodEnd,
	}
	created, err := r.store.Create(ctx, row)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("store subscription: %w", err)
	}
	if !created {
		log.Infow("checkout_already_recorded", "gateway_subscription_id", sub.ID)
		return OutcomeDuplicate, nil
	}
	log.Infow("subscription_created",
		"subscription_id", row.ID,
		"gateway_subscription_id", sub.ID,
		"plan", row.Plan,
		"reference_id", res.userID,
	)

	if res.newUser != nil {
		r.identity.SendVerificationEmail(ctx, res.newUser).Log(ctx, r.log, "welcome_email", "user_id", res.newUser.ID)
	}
	if email != "" {
		r.mailer.SendReceipt(ctx, notification.ReceiptData{
			To:        email,
			Name:      name,
			Plan:      r.plans.PlanDisplayName(priceID(sub)),
			PeriodEnd: end,
		}).Log(ctx, r.log, "receipt_email", "subscription_id", row.ID)
	} else {
		log.Warnw("receipt_email_skipped", "reason", "no customer email")
	}
	return OutcomeHandled, nil
}

func (r *Reconciler) handleSubscriptionUpdated(ctx context.Context, sub *stripe.Subscription) (Outcome, error) {
	start, end := period(sub)
	found, err := r.store.UpdateByGatewaySubscriptionID(ctx, sub.ID, subscription.SubscriptionUpdate{
		Status:            types.SubscriptionStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		PeriodStart:       start,
		PeriodEnd:         end,
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("update subscription: %w", err)
	}
	if !found {
		logctx.FromCtx(ctx, r.log).Infow("subscription_update_target_missing", "gateway_subscription_id", sub.ID)
		return OutcomeIgnored, nil
	}
	logctx.FromCtx(ctx, r.log).Infow("subscription_updated", "gateway_subscription_id", sub.ID, "status", sub.Status)
	return OutcomeHandled, nil
}

func (r *Reconciler) handleSubscriptionDeleted(ctx context.Context, sub *stripe.Subscription) (Outcome, error) {
	found, err := r.store.CancelByGatewaySubscriptionID(ctx, sub.ID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("cancel subscription: %w", err)
	}
	if !found {
		logctx.FromCtx(ctx, r.log).Infow("subscription_delete_target_missing", "gateway_subscription_id", sub.ID)
		return OutcomeIgnored, nil
	}
	logctx.FromCtx(ctx, r.log).Infow("subscription_canceled", "gateway_subscription_id", sub.ID)
	return OutcomeHandled, nil
}

func localPart(email string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}
