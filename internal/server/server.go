package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/storefront/internal/audit"
	auditdomain "github.com/smallbiznis/storefront/internal/audit/domain"
	"github.com/smallbiznis/storefront/internal/authorization"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/lock"
	"github.com/smallbiznis/storefront/internal/notification"
	"github.com/smallbiznis/storefront/internal/observability"
	obsmiddleware "github.com/smallbiznis/storefront/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	obstracing "github.com/smallbiznis/storefront/internal/observability/tracing"
	"github.com/smallbiznis/storefront/internal/order"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/internal/payment"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/providers"
	"github.com/smallbiznis/storefront/internal/ratelimit"
	"github.com/smallbiznis/storefront/internal/reconcile"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	lock.Module,
	ratelimit.Module,
	authorization.Module,
	audit.Module,
	providers.Module,
	notification.Module,
	reconcile.Module,
	order.Module,
	payment.Module,
	fx.Provide(NewServer),
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
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if obsCfg.Debug() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	authzSvc   authorization.Service
	auditSvc   auditdomain.Service
	orderSvc   orderdomain.Service
	paymentSvc paymentdomain.Service
	refundSvc  paymentdomain.RefundService
	webhookSvc paymentdomain.WebhookService
	liveEvents *notification.Hub
	limiter    *ratelimit.Limiter
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	AuthzSvc   authorization.Service
	AuditSvc   auditdomain.Service
	OrderSvc   orderdomain.Service
	PaymentSvc paymentdomain.Service
	RefundSvc  paymentdomain.RefundService
	WebhookSvc paymentdomain.WebhookService
	LiveEvents *notification.Hub  `optional:"true"`
	Limiter    *ratelimit.Limiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		authzSvc:   p.AuthzSvc,
		auditSvc:   p.AuditSvc,
		orderSvc:   p.OrderSvc,
		paymentSvc: p.PaymentSvc,
		refundSvc:  p.RefundSvc,
		webhookSvc: p.WebhookSvc,
		liveEvents: p.LiveEvents,
		limiter:    p.Limiter,
	}

	svc.RegisterWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.IdentityRequired())

	// -------- Payments --------
	api.POST("/payments/intents", s.CreatePaymentIntent)
	api.GET("/payments", s.ListPayments)
	api.GET("/payments/:id", s.GetPayment)
	api.GET("/payments/:id/receipt", s.DownloadPaymentReceipt)
	api.POST("/payments/:id/confirm", s.ConfirmPayment)
	api.POST("/payments/:id/refunds", s.CreateRefund)

	// -------- Orders --------
	api.POST("/orders", s.CreateOrder)
	api.GET("/orders", s.ListOrders)
	api.GET("/orders/:id", s.GetOrder)
	api.POST("/orders/:id/cancel", s.CancelOrder)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/api/admin", s.IdentityRequired())

	admin.GET("/payments/analytics", s.PaymentAnalytics)
	admin.POST("/payments/:id/refunds/:refund_id/resolve", s.ResolveRefund)

	admin.GET("/orders", s.ListAllOrders)
	admin.GET("/orders/stream", s.authorize(authorization.ObjectOrder, authorization.ActionOrderStream), s.StreamOrderEvents)
	admin.PUT("/orders/:id/status", s.UpdateOrderStatus)
	admin.PUT("/orders/:id/tracking", s.UpdateOrderTracking)

	admin.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}
