package notification

import (
	"github.com/mrz1836/postmark"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/fatflowers/saasbill/pkg/config"
)

func provideSender(l *zap.SugaredLogger, cfg *cfgpkg.Config) Sender {
	if cfg.Email.PostmarkServerToken == "" {
		l.Warnw("postmark server token is empty, emails are logged instead of sent")
		return NewLogSender(l, cfg.IsDev())
	}
	client := postmark.NewClient(cfg.Email.PostmarkServerToken, cfg.Email.PostmarkAccountToken)
	return NewPostmarkSender(client, cfg.Email.From, cfg.Email.ReplyTo)
}

func provideMailer(s Sender, cfg *cfgpkg.Config) *Mailer {
	return NewMailer(s, cfg.App.BaseURL)
}

// Module exposes the sender and mailer via Fx.
var Module = fx.Options(
	fx.Provide(provideSender),
	fx.Provide(provideMailer),
)
