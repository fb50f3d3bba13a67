package reconciler

import (
	"go.uber.org/fx"

	"github.com/fatflowers/saasbill/internal/app/service/identity"
	"github.com/fatflowers/saasbill/internal/app/service/notification"
	notificationlog "github.com/fatflowers/saasbill/internal/app/service/notification_log"
	"github.com/fatflowers/saasbill/internal/app/service/subscription"
	cfgpkg "github.com/fatflowers/saasbill/pkg/config"
)

// Module exposes the webhook reconciler via Fx.
var Module = fx.Options(
	fx.Provide(
		func(s *subscription.Service) SubscriptionStore { return s },
		func(s *identity.Service) IdentityProvider { return s },
		func(m *notification.Mailer) ReceiptMailer { return m },
		func(s *notificationlog.Service) EventLogger { return s },
		func(c *cfgpkg.Config) PlanResolver { return c },
	),
	fx.Provide(New),
)
