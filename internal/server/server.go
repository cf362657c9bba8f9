package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	checkoutdomain "github.com/vidaalinhada/alinhada/internal/checkout/domain"
	"github.com/vidaalinhada/alinhada/internal/config"
	entitlementdomain "github.com/vidaalinhada/alinhada/internal/entitlement/domain"
	"github.com/vidaalinhada/alinhada/internal/observability"
	obsmiddleware "github.com/vidaalinhada/alinhada/internal/observability/logger"
	obsmetrics "github.com/vidaalinhada/alinhada/internal/observability/metrics"
	obstracing "github.com/vidaalinhada/alinhada/internal/observability/tracing"
	"github.com/vidaalinhada/alinhada/internal/ratelimit"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	checkoutSvc     checkoutdomain.Service
	entitlementSvc  entitlementdomain.Service
	limiter         ratelimit.Limiter
	checkoutLimiter *endpointLimit
	webhookLimiter  *endpointLimit
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	DB             *gorm.DB
	CheckoutSvc    checkoutdomain.Service
	EntitlementSvc entitlementdomain.Service
	Limiter        ratelimit.Limiter
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		checkoutSvc:     p.CheckoutSvc,
		entitlementSvc:  p.EntitlementSvc,
		limiter:         p.Limiter,
		checkoutLimiter: &endpointLimit{name: "checkout", rate: 0.5, burst: 5},
		webhookLimiter:  &endpointLimit{name: "webhook", rate: 10, burst: 30},
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Checkout --------
	api.POST("/checkout", s.RateLimit(s.checkoutLimiter), s.StartCheckout)
	api.GET("/checkout/return", s.CheckoutReturn)
	api.GET("/checkout/:reference", s.GetCheckoutAttempt)
	api.POST("/checkout/:reference/recheck", s.RecheckCheckout)
	api.POST("/checkout/:reference/cancel", s.CancelCheckout)

	// -------- Subscription --------
	api.GET("/subscription", s.ResolveSubscription)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/mercadopago", s.RateLimit(s.webhookLimiter), s.HandleGatewayWebhook)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")

	admin.GET("/subscriptions", s.ListSubscriptions)
	admin.GET("/subscriptions/stats", s.SubscriptionStats)
	admin.POST("/subscriptions/cancel", s.CancelSubscription)
	admin.POST("/subscriptions/extend", s.ExtendSubscription)
	admin.POST("/subscriptions/expire", s.ExpireSubscriptions)
}
