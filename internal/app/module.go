package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/saasbill/internal/app/api/server"
	"github.com/fatflowers/saasbill/internal/app/service/checkout"
	"github.com/fatflowers/saasbill/internal/app/service/identity"
	"github.com/fatflowers/saasbill/internal/app/service/notification"
	notificationlog "github.com/fatflowers/saasbill/internal/app/service/notification_log"
	"github.com/fatflowers/saasbill/internal/app/service/reconciler"
	"github.com/fatflowers/saasbill/internal/app/service/statistics"
	"github.com/fatflowers/saasbill/internal/app/service/subscription"
	"github.com/fatflowers/saasbill/internal/platform/cache"
	"github.com/fatflowers/saasbill/internal/platform/db"
	"github.com/fatflowers/saasbill/internal/platform/stripe/stripe_client"
	"github.com/fatflowers/saasbill/pkg/config"
	"github.com/fatflowers/saasbill/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	cache.Module,
	stripe_client.Module,
	server.Module,
	subscription.Module,
	statistics.Module,
	notification.Module,
	notificationlog.Module,
	identity.Module,
	checkout.Module,
	reconciler.Module,
)
