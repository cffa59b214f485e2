package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"freelancehub/internal/config"
	"freelancehub/internal/database"
	"freelancehub/internal/handlers"
	"freelancehub/internal/observability"
	"freelancehub/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"
)

// App 持有进程内的全部依赖
type App struct {
	Config *config.Config
	Logger *logrus.Logger
	DB     *gorm.DB
	Redis  redis.UniversalClient

	Engine    *services.AutomationEngine
	Contracts *services.ContractService
	Invoices  *services.InvoiceService
	Campaigns *services.CampaignService
	Proposals *services.ProposalService
	Scheduler *services.Scheduler

	shutdownTracing func(context.Context) error
}

// New 按配置装配数据库、邮件通道、服务与自动化引擎
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := config.InitLogger(cfg); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger := logrus.StandardLogger()

	shutdown, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		logger.Warnf("tracing disabled: %v", err)
		shutdown = func(context.Context) error { return nil }
	}

	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, DB: db, shutdownTracing: shutdown}

	if cfg.Redis.Enabled {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr(),
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			logger.Warnf("redis unavailable at %s: %v", cfg.Redis.Addr(), err)
		}
	}

	mailer, err := services.NewMailer(ctx, cfg.Mail, logger)
	if err != nil {
		return nil, fmt.Errorf("init mailer: %w", err)
	}

	ac := cfg.Automation
	retry := services.NewRetryPolicy(ac.RetryAttempts, ac.RetryBaseDelay)
	bus := services.NewEventBus(logger)
	renderer := services.NewTemplateRenderer()

	var sequencer services.InvoiceSequencer = services.CountSequencer{}
	if ac.InvoiceSequencer == "redis" {
		if a.Redis == nil {
			logger.Warn("invoice_sequencer=redis but redis is disabled, falling back to count")
		} else {
			sequencer = services.NewRedisInvoiceSequencer(a.Redis)
		}
	}

	a.Invoices = services.NewInvoiceService(db, logger, retry, bus, sequencer, services.InvoiceConfig{
		DueDays:      ac.InvoiceDueDays,
		DepositRatio: ac.DepositRatio,
	})
	a.Contracts = services.NewContractService(db, logger, retry, bus, renderer, a.Invoices, services.ContractConfig{
		ExpiryDays:   ac.ContractExpiryDays,
		DepositRatio: ac.DepositRatio,
	})
	a.Campaigns = services.NewCampaignService(db, logger, retry, mailer, renderer, cfg.Mail.Timeout)
	a.Proposals = services.NewProposalService(db, logger, retry, bus, a.Contracts)

	automation := services.NewAutomationService(db, logger, retry, services.AutomationDeps{
		Contracts:   a.Contracts,
		Invoices:    a.Invoices,
		Mailer:      mailer,
		Renderer:    renderer,
		MailTimeout: cfg.Mail.Timeout,
	}, ac.DefaultIntervalMinutes)
	a.Scheduler = services.NewScheduler(automation, a.Campaigns, a.Contracts, services.SchedulerConfig{
		Interval:           ac.SweepInterval,
		ExpirySweepEnabled: ac.ExpirySweepEnabled,
	}, logger)
	a.Engine = services.NewAutomationEngine(bus, automation, a.Scheduler, logger)

	return a, nil
}

// Router 构建 HTTP 路由
func (a *App) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(a.Logger))
	if a.Config.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(a.Config.Monitoring.Tracing.ServiceName))
	}
	r.Use(corsMiddleware())

	metricsPath := ""
	if a.Config.Monitoring.Enabled {
		metricsPath = a.Config.Monitoring.MetricsPath
	}
	health := handlers.NewHealthHandler(a.Config, a.DB, a.Redis, a.Scheduler)
	if metricsPath != "" {
		handlers.RegisterHealthRoutes(r, health, metricsPath)
	} else {
		r.GET("/health", health.Health)
		r.GET("/ready", health.Ready)
	}

	api := r.Group("/api")
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(a.Engine, a.Logger))
	handlers.RegisterMarketplaceRoutes(api, handlers.NewMarketplaceHandler(a.Proposals, a.Contracts, a.Logger))
	handlers.RegisterCampaignRoutes(api, handlers.NewCampaignHandler(a.Campaigns))
	return r
}

// Serve 启动引擎与 HTTP 服务，ctx 取消后优雅退出
func (a *App) Serve(ctx context.Context) error {
	if a.Config.Automation.Enabled {
		if err := a.Engine.Start(ctx); err != nil {
			return fmt.Errorf("start automation engine: %w", err)
		}
	}

	if a.Config.Server.Mode != "" {
		gin.SetMode(a.Config.Server.Mode)
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port),
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	a.Logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Errorf("Server forced to shutdown: %v", err)
	}
	a.Logger.Info("Server exited")
	return nil
}

// Close 停止引擎并释放连接
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Engine != nil {
		if err := a.Engine.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		}).Info("http request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
