package notification

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"
)

const (
	TagReceipt      = "receipt"
	TagVerification = "verification"
)

var receiptTmpl = template.Must(template.New("receipt").Parse(`<p>Hi {{.Name}},</p>
<p>Thanks for subscribing. Your plan: {{.Plan}}.</p>
{{if .PeriodEnd}}<p>Your current billing period ends on {{.PeriodEnd}}.</p>{{end}}
<p>Manage your subscription at <a href="{{.DashboardURL}}">{{.DashboardURL}}</a>.</p>`))

var verificationTmpl = template.Must(template.New("verification").Parse(`<p>Hi {{.Name}},</p>
{{if .Welcome}}<p>Welcome aboard. We created an account for you with this email address.</p>{{end}}
<p>Please confirm your email address: <a href="{{.VerifyURL}}">{{.VerifyURL}}</a></p>`))

// ReceiptData fills the payment receipt.
type ReceiptData struct {
	To        string
	Name      string
	Plan      string
	PeriodEnd *time.Time
}

// VerificationData fills the verification email. Welcome is set for
// accounts provisioned after a guest checkout.
type VerificationData struct {
	To      string
	Name    string
	Token   string
	Welcome bool
}

// Mailer renders transactional templates and hands them to a Sender.
type Mailer struct {
	sender  Sender
	baseURL string
}

func NewMailer(sender Sender, baseURL string) *Mailer {
	return &Mailer{sender: sender, baseURL: strings.TrimRight(baseURL, "/")}
}

func (m *Mailer) SendReceipt(ctx context.Context, d ReceiptData) Result {
	var periodEnd string
	if d.PeriodEnd != nil {
		periodEnd = d.PeriodEnd.UTC().Format("January 2, 2006")
	}
	dashboard := m.baseURL + "/dashboard"
	html, err := render(receiptTmpl, map[string]any{
		"Name":         displayName(d.Name, d.To),
		"Plan":         d.Plan,
		"PeriodEnd":    periodEnd,
		"DashboardURL": dashboard,
	})
	if err != nil {
		return Failed(err)
	}
	return m.sender.Send(ctx, Message{
		To:       d.To,
		Subject:  "Your payment receipt",
		HTMLBody: html,
		TextBody: fmt.Sprintf("Thanks for subscribing. Your plan: %s. Manage it at %s", d.Plan, dashboard),
		Tag:      TagReceipt,
	})
}

func (m *Mailer) SendVerification(ctx context.Context, d VerificationData) Result {
	verifyURL := m.baseURL + "/api/auth/verify-email?token=" + d.Token
	html, err := render(verificationTmpl, map[string]any{
		"Name":      displayName(d.Name, d.To),
		"Welcome":   d.Welcome,
		"VerifyURL": verifyURL,
	})
	if err != nil {
		return Failed(err)
	}
	subject := "Verify your email address"
	if d.Welcome {
		subject = "Welcome! Verify your email address"
	}
	return m.sender.Send(ctx, Message{
		To:       d.To,
		Subject:  subject,
		HTMLBody: html,
		TextBody: "Confirm your email address: " + verifyURL,
		Tag:      TagVerification,
	})
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func displayName(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return "there"
}
