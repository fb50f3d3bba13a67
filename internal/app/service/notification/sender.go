package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mrz1836/postmark"
	"go.uber.org/zap"

	"github.com/fatflowers/saasbill/pkg/logctx"
)

var ErrInvalidMessage = errors.New("invalid email message")

// Message is one transactional email.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
	// Tag groups messages in the provider dashboard.
	Tag string
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: recipient is empty", ErrInvalidMessage)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: subject is empty", ErrInvalidMessage)
	}
	if m.HTMLBody == "" && m.TextBody == "" {
		return fmt.Errorf("%w: body is empty", ErrInvalidMessage)
	}
	return nil
}

// Result is the outcome of a best-effort send. A failed send carries Err.
type Result struct {
	Delivered bool
	Err       error
}

func Delivered() Result { return Result{Delivered: true} }

func Failed(err error) Result { return Result{Err: err} }

// Log records the outcome under name. Failures are warnings, never errors.
func (r Result) Log(ctx context.Context, base *zap.SugaredLogger, name string, kv ...any) {
	l := logctx.FromCtx(ctx, base)
	if r.Delivered {
		l.Infow(name+"_sent", kv...)
		return
	}
	l.Warnw(name+"_failed", append(kv, "err", r.Err)...)
}

// Sender delivers a message. It never panics and reports failures in Result.
type Sender interface {
	Send(ctx context.Context, msg Message) Result
}

// PostmarkSender sends through the Postmark transactional API.
type PostmarkSender struct {
	client  *postmark.Client
	from    string
	replyTo string
}

func NewPostmarkSender(client *postmark.Client, from, replyTo string) *PostmarkSender {
	return &PostmarkSender{client: client, from: from, replyTo: replyTo}
}

func (s *PostmarkSender) Send(ctx context.Context, msg Message) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failed(fmt.Errorf("postmark send panic: %v", r))
		}
	}()
	if err := msg.Validate(); err != nil {
		return Failed(err)
	}
	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:       s.from,
		ReplyTo:    s.replyTo,
		To:         msg.To,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTMLBody,
		TextBody:   msg.TextBody,
		TrackOpens: true,
	})
	if err != nil {
		return Failed(fmt.Errorf("postmark send: %w", err))
	}
	if resp.ErrorCode > 0 {
		return Failed(fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return Delivered()
}

// LogSender writes messages to the log instead of sending them. Used when no
// Postmark token is configured. Bodies carry verification tokens and are only
// logged when withBody is set.
type LogSender struct {
	log      *zap.SugaredLogger
	withBody bool
}

func NewLogSender(log *zap.SugaredLogger, withBody bool) *LogSender {
	return &LogSender{log: log, withBody: withBody}
}

func (s *LogSender) Send(ctx context.Context, msg Message) Result {
	if err := msg.Validate(); err != nil {
		return Failed(err)
	}
	fields := []any{"to", msg.To, "subject", msg.Subject, "tag", msg.Tag}
	if s.withBody {
		fields = append(fields, "body", msg.TextBody)
	}
	logctx.FromCtx(ctx, s.log).Infow("email_logged", fields...)
	return Delivered()
}
