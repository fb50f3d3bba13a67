package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mrz1836/postmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type captureSender struct {
	mu   sync.Mutex
	msgs []Message
	res  Result
}

func (c *captureSender) Send(_ context.Context, msg Message) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return c.res
}

func newPostmarkServer(t *testing.T, errorCode int, got *postmark.Email) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/email"))
		assert.Equal(t, "server-token", r.Header.Get("X-Postmark-Server-Token"))
		if got != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.Header().Set("Content-Type", "application/json")
		msg := "OK"
		if errorCode > 0 {
			msg = "Inactive recipient"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ErrorCode": errorCode, "Message": msg, "MessageID": "m-1"})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPostmarkSender_Send(t *testing.T) {
	var got postmark.Email
	srv := newPostmarkServer(t, 0, &got)
	client := postmark.NewClient("server-token", "account-token")
	client.BaseURL = srv.URL

	s := NewPostmarkSender(client, "billing@example.com", "support@example.com")
	res := s.Send(context.Background(), Message{To: "a@example.com", Subject: "hi", HTMLBody: "<p>hi</p>", Tag: TagReceipt})
	require.True(t, res.Delivered)
	require.NoError(t, res.Err)
	require.Equal(t, "a@example.com", got.To)
	require.Equal(t, "billing@example.com", got.From)
	require.Equal(t, TagReceipt, got.Tag)
}

func TestPostmarkSender_ErrorCode(t *testing.T) {
	srv := newPostmarkServer(t, 406, nil)
	client := postmark.NewClient("server-token", "account-token")
	client.BaseURL = srv.URL

	res := NewPostmarkSender(client, "billing@example.com", "").Send(context.Background(), Message{To: "a@example.com", Subject: "hi", TextBody: "hi"})
	require.False(t, res.Delivered)
	require.ErrorContains(t, res.Err, "406")
}

func TestPostmarkSender_InvalidMessage(t *testing.T) {
	client := postmark.NewClient("server-token", "account-token")
	client.BaseURL = "http://127.0.0.1:0"

	res := NewPostmarkSender(client, "billing@example.com", "").Send(context.Background(), Message{Subject: "hi", TextBody: "x"})
	require.False(t, res.Delivered)
	require.ErrorIs(t, res.Err, ErrInvalidMessage)
}

func TestLogSender(t *testing.T) {
	msg := Message{To: "a@example.com", Subject: "s", Tag: TagVerification, TextBody: "Confirm your email address: https://app.example.com/verify?token=tok123"}

	core, logs := observer.New(zapcore.InfoLevel)
	res := NewLogSender(zap.New(core).Sugar(), false).Send(context.Background(), msg)
	require.True(t, res.Delivered)
	entries := logs.FilterMessage("email_logged").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "a@example.com", fields["to"])
	require.Equal(t, TagVerification, fields["tag"])
	require.NotContains(t, fields, "body")
	for _, v := range fields {
		require.NotContains(t, fmt.Sprint(v), "tok123")
	}

	core, logs = observer.New(zapcore.InfoLevel)
	res = NewLogSender(zap.New(core).Sugar(), true).Send(context.Background(), msg)
	require.True(t, res.Delivered)
	require.Equal(t, msg.TextBody, logs.FilterMessage("email_logged").All()[0].ContextMap()["body"])
}

func TestMailer_SendReceipt(t *testing.T) {
	cs := &captureSender{res: Delivered()}
	end := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	res := NewMailer(cs, "https://app.example.com/").SendReceipt(context.Background(), ReceiptData{
		To:        "jane@example.com",
		Plan:      "Pro",
		PeriodEnd: &end,
	})
	require.True(t, res.Delivered)
	require.Len(t, cs.msgs, 1)
	msg := cs.msgs[0]
	require.Equal(t, "jane@example.com", msg.To)
	require.Equal(t, TagReceipt, msg.Tag)
	require.Contains(t, msg.HTMLBody, "Hi jane,")
	require.Contains(t, msg.HTMLBody, "Your plan: Pro.")
	require.Contains(t, msg.HTMLBody, "November 1, 2026")
	require.Contains(t, msg.HTMLBody, "https://app.example.com/dashboard")
}

func TestMailer_SendVerification(t *testing.T) {
	cs := &captureSender{res: Failed(errors.New("smtp down"))}
	res := NewMailer(cs, "https://app.example.com").SendVerification(context.Background(), VerificationData{
		To:      "jane@example.com",
		Name:    "Jane <b>",
		Token:   "tok123",
		Welcome: true,
	})
	require.False(t, res.Delivered)
	require.EqualError(t, res.Err, "smtp down")
	require.Len(t, cs.msgs, 1)
	msg := cs.msgs[0]
	require.Equal(t, TagVerification, msg.Tag)
	require.Contains(t, msg.Subject, "Welcome")
	require.Contains(t, msg.HTMLBody, "Jane &lt;b&gt;")
	require.Contains(t, msg.TextBody, "https://app.example.com/api/auth/verify-email?token=tok123")
}

func TestResult_Log(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := zap.New(core).Sugar()

	Delivered().Log(context.Background(), l, "receipt_email", "to", "a@example.com")
	Failed(errors.New("boom")).Log(context.Background(), l, "receipt_email", "to", "a@example.com")

	require.Equal(t, 1, logs.FilterMessage("receipt_email_sent").Len())
	failed := logs.FilterMessage("receipt_email_failed").All()
	require.Len(t, failed, 1)
	require.Equal(t, zapcore.WarnLevel, failed[0].Level)
}
