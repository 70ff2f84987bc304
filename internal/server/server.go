package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/clubhouse/internal/billing"
	"github.com/smallbiznis/clubhouse/internal/config"
	"github.com/smallbiznis/clubhouse/internal/invitation"
	"github.com/smallbiznis/clubhouse/internal/observability"
	obslogger "github.com/smallbiznis/clubhouse/internal/observability/logger"
	obstracing "github.com/smallbiznis/clubhouse/internal/observability/tracing"
	"github.com/smallbiznis/clubhouse/internal/onboarding"
	onboardingdomain "github.com/smallbiznis/clubhouse/internal/onboarding/domain"
	"github.com/smallbiznis/clubhouse/internal/organization"
	"github.com/smallbiznis/clubhouse/internal/providers"
	"github.com/smallbiznis/clubhouse/internal/reconcile"
	"github.com/smallbiznis/clubhouse/internal/webhook"
	webhookdomain "github.com/smallbiznis/clubhouse/internal/webhook/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	billing.Module,
	organization.Module,
	providers.Module,
	invitation.Module,
	onboarding.Module,
	webhook.Module,
	reconcile.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// maxWebhookBody caps the payload read from the payment gateway.
const maxWebhookBody = 1 << 20

func NewEngine(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// Reconciler runs one reconciliation sweep on demand.
type Reconciler interface {
	RunOnce(ctx context.Context) (*reconcile.Report, error)
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	onboarding onboardingdomain.Service
	webhooks   webhookdomain.Service
	reconciler Reconciler
	log        *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Onboarding onboardingdomain.Service
	Webhooks   webhookdomain.Service
	Sweeper    *reconcile.Sweeper `optional:"true"`
	Log        *zap.Logger
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		onboarding: p.Onboarding,
		webhooks:   p.Webhooks,
		log:        p.Log.Named("http"),
	}
	if p.Sweeper != nil {
		svc.reconciler = p.Sweeper
	}
	if p.Cfg.IsProduction() && p.Cfg.OperatorAPIToken == "" {
		svc.log.Warn("OPERATOR_API_TOKEN is not set; operator routes will reject every request")
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.OperatorAuthRequired())

	// -------- Organizations --------
	api.POST("/organizations", s.CreateOrganization)
	api.GET("/organizations/:id", s.GetOrganization)
	api.POST("/organizations/:id/checkout", s.ResumeCheckout)
	api.POST("/organizations/:id/abandon", s.AbandonOrganization)

	// -------- Operations --------
	api.POST("/admin/reconcile", s.RunReconcile)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/stripe", s.HandleStripeWebhook)
}
