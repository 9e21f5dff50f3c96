package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/casebill/internal/audit"
	auditdomain "github.com/smallbiznis/casebill/internal/audit/domain"
	"github.com/smallbiznis/casebill/internal/billingitem"
	billingitemdomain "github.com/smallbiznis/casebill/internal/billingitem/domain"
	"github.com/smallbiznis/casebill/internal/casefile"
	casefiledomain "github.com/smallbiznis/casebill/internal/casefile/domain"
	"github.com/smallbiznis/casebill/internal/catalog"
	"github.com/smallbiznis/casebill/internal/config"
	"github.com/smallbiznis/casebill/internal/eligibility"
	eligibilitydomain "github.com/smallbiznis/casebill/internal/eligibility/domain"
	"github.com/smallbiznis/casebill/internal/invoice"
	invoicedomain "github.com/smallbiznis/casebill/internal/invoice/domain"
	"github.com/smallbiznis/casebill/internal/locking"
	"github.com/smallbiznis/casebill/internal/observability"
	obsmiddleware "github.com/smallbiznis/casebill/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/casebill/internal/observability/metrics"
	obstracing "github.com/smallbiznis/casebill/internal/observability/tracing"
	"github.com/smallbiznis/casebill/internal/pricing"
	pricingdomain "github.com/smallbiznis/casebill/internal/pricing/domain"
	"github.com/smallbiznis/casebill/internal/retainer"
	retainerdomain "github.com/smallbiznis/casebill/internal/retainer/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	config.Module,
	locking.Module,
	audit.Module,
	catalog.Module,
	casefile.Module,
	pricing.Module,
	eligibility.Module,
	billingitem.Module,
	retainer.Module,
	invoice.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(log, obsmiddleware.MiddlewareConfig{
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

func registerGin(obsCfg observability.Config, log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, log, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
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
	engine         *gin.Engine
	auditSvc       auditdomain.Service
	caseSvc        casefiledomain.Service
	pricingSvc     pricingdomain.Service
	eligibilitySvc eligibilitydomain.Service
	billingItemSvc billingitemdomain.Service
	retainerSvc    retainerdomain.Service
	invoiceSvc     invoicedomain.Service
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	AuditSvc       auditdomain.Service
	CaseSvc        casefiledomain.Service
	PricingSvc     pricingdomain.Service
	EligibilitySvc eligibilitydomain.Service
	BillingItemSvc billingitemdomain.Service
	RetainerSvc    retainerdomain.Service
	InvoiceSvc     invoicedomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		auditSvc:       p.AuditSvc,
		caseSvc:        p.CaseSvc,
		pricingSvc:     p.PricingSvc,
		eligibilitySvc: p.EligibilitySvc,
		billingItemSvc: p.BillingItemSvc,
		retainerSvc:    p.RetainerSvc,
		invoiceSvc:     p.InvoiceSvc,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")
	api.Use(TenantContext())

	// -------- Pricing --------
	api.GET("/cases/:case_id/services/:service_id/rate", s.ResolveRate)

	// -------- Activities --------
	api.GET("/activities/:id/eligibility", s.EvaluateActivity)
	api.POST("/activities/:id/eligibility/preview", s.PreviewTaskBilling)
	api.POST("/activities/:id/eligibility/skip", s.SkipActivityBilling)
	api.POST("/activities/:id/bill", s.BillActivity)

	// -------- Time & expenses --------
	api.GET("/cases/:case_id/time-entries", s.ListTimeEntries)
	api.POST("/cases/:case_id/time-entries/record", s.RecordTimeEntries)
	api.GET("/cases/:case_id/expenses", s.ListExpenses)
	api.POST("/cases/:case_id/expenses", s.RecordExpense)

	// -------- Billing items --------
	api.GET("/billing-items/:id", s.GetBillingItem)
	api.PATCH("/billing-items/:id", s.EditBillingItem)
	api.POST("/billing-items/:id/submit", s.SubmitBillingItem)
	api.POST("/billing-items/:id/approve", s.ApproveBillingItem)
	api.POST("/billing-items/:id/decline", s.DeclineBillingItem)
	api.POST("/billing-items/:id/resubmit", s.ResubmitBillingItem)

	// -------- Service instances --------
	api.PATCH("/service-instances/:id", s.UpdateServiceInstance)

	// -------- Retainer --------
	api.GET("/cases/:case_id/retainer", s.GetRetainerSummary)

	// -------- Invoices --------
	api.POST("/cases/:case_id/invoices/preview", s.PreviewInvoice)
	api.POST("/cases/:case_id/invoices", s.GenerateInvoice)
	api.GET("/invoices", s.ListInvoices)
	api.GET("/invoices/:id", s.GetInvoiceByID)

	// -------- Audit --------
	api.GET("/audit-logs", s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
