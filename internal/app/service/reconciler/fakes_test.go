package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"github.com/fatflowers/saasbill/internal/app/service/identity"
	"github.com/fatflowers/saasbill/internal/app/service/notification"
	"github.com/fatflowers/saasbill/internal/app/service/subscription"
	"github.com/fatflowers/saasbill/internal/models"
	"github.com/fatflowers/saasbill/internal/platform/stripe/stripe_client"
	"github.com/fatflowers/saasbill/pkg/config"
	"github.com/fatflowers/saasbill/pkg/tool"
	"github.com/fatflowers/saasbill/pkg/types"
)

const testSecret = "whsec_test_secret"

var (
	periodStart = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
)

// fakeGateway verifies signatures for real and serves canned objects.
type fakeGateway struct {
	subs      map[string]*stripe.Subscription
	customers map[string]*stripe.Customer
	subErr    error
}

func (g *fakeGateway) GetPrice(context.Context, string) (*stripe.Price, error) {
	return nil, errors.New("not used")
}

func (g *fakeGateway) CreateCheckoutSession(context.Context, *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return nil, errors.New("not used")
}

func (g *fakeGateway) GetSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	if g.subErr != nil {
		return nil, g.subErr
	}
	s, ok := g.subs[id]
	if !ok {
		return nil, &stripe.Error{Code: stripe.ErrorCodeResourceMissing}
	}
	return s, nil
}

func (g *fakeGateway) GetCustomer(_ context.Context, id string) (*stripe.Customer, error) {
	c, ok := g.customers[id]
	if !ok {
		return nil, &stripe.Error{Code: stripe.ErrorCodeResourceMissing}
	}
	return c, nil
}

func (g *fakeGateway) ConstructEvent(payload []byte, sig string) (stripe.Event, error) {
	return stripe_client.ConstructEvent(payload, sig, testSecret)
}

func (g *fakeGateway) addSubscription(id, customerID, email, name, price string) {
	if g.subs == nil {
		g.subs = map[string]*stripe.Subscription{}
		g.customers = map[string]*stripe.Customer{}
	}
	g.subs[id] = &stripe.Subscription{
		ID:       id,
		Status:   stripe.SubscriptionStatusActive,
		Customer: &stripe.Customer{ID: customerID},
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{
			ID:                 "si_" + id,
			Price:              &stripe.Price{ID: price},
			CurrentPeriodStart: periodStart.Unix(),
			CurrentPeriodEnd:   periodEnd.Unix(),
		}}},
	}
	g.customers[customerID] = &stripe.Customer{ID: customerID, Email: email, Name: name}
}

// memStore is an in-memory subscription store keyed by gateway subscription id.
type memStore struct {
	mu        sync.Mutex
	rows      map[string]*models.Subscription
	createErr error
	mutations int
}

func newMemStore() *memStore { return &memStore{rows: map[string]*models.Subscription{}} }

func (s *memStore) Create(_ context.Context, m *models.Subscription) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return false, s.createErr
	}
	if _, ok := s.rows[m.GatewaySubscriptionID]; ok {
		return false, nil
	}
	if m.ID == "" {
		m.ID = tool.GenerateUUIDV7()
	}
	cp := *m
	s.rows[m.GatewaySubscriptionID] = &cp
	s.mutations++
	return true, nil
}

func (s *memStore) UpdateByGatewaySubscriptionID(_ context.Context, id string, u subscription.SubscriptionUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return false, nil
	}
	row.Status = u.Status
	row.CancelAtPeriodEnd = u.CancelAtPeriodEnd
	row.PeriodStart = u.PeriodStart
	row.PeriodEnd = u.PeriodEnd
	s.mutations++
	return true, nil
}

func (s *memStore) CancelByGatewaySubscriptionID(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return false, nil
	}
	row.Status = types.SubscriptionStatusCanceled
	s.mutations++
	return true, nil
}

func (s *memStore) get(id string) *models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		cp := *row
		return &cp
	}
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// fakeIdentity keeps users by email.
type fakeIdentity struct {
	mu            sync.Mutex
	users         map[string]*models.User
	signUps       []identity.SignUpParams
	signUpErr     error
	findErr       error
	verifications []string
	verifyResult  notification.Result
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{users: map[string]*models.User{}, verifyResult: notification.Delivered()}
}

func (f *fakeIdentity) FindByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.users[identity.NormalizeEmail(email)], nil
}

func (f *fakeIdentity) SignUp(_ context.Context, p identity.SignUpParams) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signUps = append(f.signUps, p)
	if f.signUpErr != nil {
		return nil, f.signUpErr
	}
	email := identity.NormalizeEmail(p.Email)
	if _, ok := f.users[email]; ok {
		return nil, identity.ErrUserExists
	}
	u := &models.User{ID: tool.GenerateUUIDV7(), Email: email, Name: p.Name, Provisioned: p.Provisioned}
	f.users[email] = u
	return u, nil
}

func (f *fakeIdentity) SendVerificationEmail(_ context.Context, u *models.User) notification.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifications = append(f.verifications, u.Email)
	return f.verifyResult
}

func (f *fakeIdentity) addUser(email string) *models.User {
	u := &models.User{ID: tool.GenerateUUIDV7(), Email: identity.NormalizeEmail(email)}
	f.users[u.Email] = u
	return u
}

type fakeMailer struct {
	mu       sync.Mutex
	receipts []notification.ReceiptData
	result   notification.Result
}

func (m *fakeMailer) SendReceipt(_ context.Context, d notification.ReceiptData) notification.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts = append(m.receipts, d)
	return m.result
}

type fakeEventLog struct {
	mu   sync.Mutex
	rows []*models.WebhookEventLog
}

func (f *fakeEventLog) Save(_ context.Context, row *models.WebhookEventLog) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, row)
}

func (f *fakeEventLog) statuses() []models.WebhookEventLogStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.WebhookEventLogStatus, 0, len(f.rows))
	for _, r := range f.rows {
		out = append(out, r.Status)
	}
	return out
}

// memDeduper mimics redis SET NX.
type memDeduper struct {
	mu      sync.Mutex
	claimed map[string]bool
	err     error
}

func (d *memDeduper) Claim(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	if d.claimed == nil {
		d.claimed = map[string]bool{}
	}
	if d.claimed[id] {
		return false, nil
	}
	d.claimed[id] = true
	return true, nil
}

func (d *memDeduper) Release(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claimed, id)
	return nil
}

type harness struct {
	r        *Reconciler
	gateway  *fakeGateway
	store    *memStore
	identity *fakeIdentity
	mailer   *fakeMailer
	events   *fakeEventLog
	dedupe   *memDeduper
}

func newHarness() *harness {
	cfg := &config.Config{Plans: []*types.Plan{
		{Key: types.PlanKeyBasic, Name: "Basic", PriceID: "price_1Basic"},
		{Key: types.PlanKeyPro, Name: "Pro", PriceID: "price_1Pro"},
		{Key: types.PlanKeyEnterprise, Name: "Enterprise", PriceID: "price_1Ent"},
	}}
	h := &harness{
		gateway:  &fakeGateway{},
		store:    newMemStore(),
		identity: newFakeIdentity(),
		mailer:   &fakeMailer{result: notification.Delivered()},
		events:   &fakeEventLog{},
		dedupe:   &memDeduper{},
	}
	h.r = New(h.gateway, h.store, h.identity, h.mailer, h.events, h.dedupe, cfg, zap.NewNop().Sugar())
	return h
}

var eventSeq int

// signedEvent builds a gateway event around object and signs it.
func signedEvent(t *testing.T, typ stripe.EventType, object any) ([]byte, string) {
	t.Helper()
	eventSeq++
	return signedEventWithID(t, fmt.Sprintf("evt_test_%d", eventSeq), typ, object)
}

func signedEventWithID(t *testing.T, id string, typ stripe.EventType, object any) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        typ,
		"created":     time.Now().Unix(),
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": object},
	})
	if err != nil {
		t.Fatal(err)
	}
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: testSecret})
	return payload, sp.Header
}

func checkoutObject(subID, customerID string, meta map[string]string) map[string]any {
	return map[string]any{
		"id":           "cs_" + subID,
		"object":       "checkout.session",
		"mode":         "subscription",
		"subscription": subID,
		"customer":     customerID,
		"metadata":     meta,
	}
}

func subscriptionObject(id, status string, cancelAtPeriodEnd bool) map[string]any {
	return map[string]any{
		"id":                   id,
		"object":               "subscription",
		"status":               status,
		"cancel_at_period_end": cancelAtPeriodEnd,
		"items": map[string]any{
			"object": "list",
			"data": []any{map[string]any{
				"id":                   "si_" + id,
				"object":               "subscription_item",
				"price":                map[string]any{"id": "price_1Pro", "object": "price"},
				"current_period_start": periodEnd.Unix(),
				"current_period_end":   periodEnd.AddDate(0, 1, 0).Unix(),
			}},
		},
	}
}
