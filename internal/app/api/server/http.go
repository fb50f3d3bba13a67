package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/saasbill/docs"
	"github.com/fatflowers/saasbill/internal/app/api/handlers"
	mw "github.com/fatflowers/saasbill/internal/app/api/middleware"
	"github.com/fatflowers/saasbill/internal/app/service/checkout"
	"github.com/fatflowers/saasbill/internal/app/service/identity"
	"github.com/fatflowers/saasbill/internal/app/service/reconciler"
	"github.com/fatflowers/saasbill/internal/app/service/statistics"
	subsvc "github.com/fatflowers/saasbill/internal/app/service/subscription"
	cfgpkg "github.com/fatflowers/saasbill/pkg/config"
	metrics "github.com/fatflowers/saasbill/pkg/metrics"
)

func newEngine(cfg *cfgpkg.Config) *gin.Engine {
	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	// request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

type routeDeps struct {
	fx.In

	Log        *zap.SugaredLogger
	Cfg        *cfgpkg.Config
	DB         *gorm.DB
	Reconciler *reconciler.Reconciler
	Checkout   *checkout.Service
	Identity   *identity.Service
	Sub        *subsvc.Service
	Stats      *statistics.Service
}

func registerRoutes(r *gin.Engine, d routeDeps) {
	log, cfg := d.Log, d.Cfg

	// Prometheus metrics
	if cfg.MetricsAddr != "" {
		p := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			MetricsList: metrics.BusinessMetrics,
			ReqCntURLLabelMappingFn: func(c *gin.Context) string {
				if fp := c.FullPath(); fp != "" {
					return fp
				}
				return "unmatched"
			},
			Logger: log,
		})
		p.SetListenAddress(cfg.MetricsAddr)
		p.Use(r)

		log.Infow("metrics started", "addr", cfg.MetricsAddr)
	}

	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterHealthRoutes(pub, sqlPinger(d.DB))
	// Swagger UI
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api")
	api.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	auth := mw.SessionAuthMiddleware(d.Identity, log)

	handlers.RegisterWebhookRoutes(api.Group("/webhooks"), d.Reconciler, log)
	handlers.RegisterCheckoutRoutes(api, d.Checkout, auth, log)
	handlers.RegisterSubscriptionRoutes(api, d.Sub, auth, log)
	handlers.RegisterAuthRoutes(api.Group("/auth"), d.Identity, cfg.Auth.SessionTTL, !cfg.IsDev(), log)

	// Admin APIs
	admin := r.Group("/api/v1/admin")
	admin.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(), mw.AdminTokenMiddleware(cfg.Admin.Token))
	handlers.RegisterAdminRoutes(admin, d.Sub, d.Stats)
	if cfg.Admin.Token == "" {
		log.Warnw("admin token is empty, admin APIs are disabled")
	}
}

// sqlPinger returns nil when the pool is unavailable so health checks skip the ping.
func sqlPinger(db *gorm.DB) handlers.Pinger {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil
	}
	return sqlDB
}

var _ handlers.Pinger = (*sql.DB)(nil)

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
