package identity

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	subsvc "github.com/fatflowers/saasbill/internal/app/service/subscription"
	cfgpkg "github.com/fatflowers/saasbill/pkg/config"
	"github.com/fatflowers/saasbill/pkg/tool"
)

func provideSessionIssuer(l *zap.SugaredLogger, cfg *cfgpkg.Config) (*SessionIssuer, error) {
	secret := cfg.Auth.SessionSecret
	if secret == "" {
		random, err := tool.GenerateToken(32)
		if err != nil {
			return nil, err
		}
		l.Warnw("session secret is empty, using a random one; sessions will not survive a restart")
		secret = random
	}
	return NewSessionIssuer([]byte(secret), cfg.Auth.SessionTTL), nil
}

// Module exposes the identity provider via Fx.
var Module = fx.Options(
	fx.Provide(provideSessionIssuer),
	fx.Provide(func(s *subsvc.Service) SubscriptionAttacher { return s }),
	fx.Provide(NewService),
)
