package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jamesl1500/taskispace.com-sub003/internal/config"
	"github.com/jamesl1500/taskispace.com-sub003/internal/handler"
	"github.com/jamesl1500/taskispace.com-sub003/internal/metrics"
	appMiddleware "github.com/jamesl1500/taskispace.com-sub003/internal/middleware"
	"github.com/jamesl1500/taskispace.com-sub003/internal/repository"
	"github.com/jamesl1500/taskispace.com-sub003/internal/service"
	"github.com/jamesl1500/taskispace.com-sub003/pkg/payment"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var skipMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), skipMigrate)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply pending migrations on startup")
	return cmd
}

func serve(ctx context.Context, skipMigrate bool) error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	catalog, err := cfg.Catalog()
	if err != nil {
		return fmt.Errorf("plan catalog error: %w", err)
	}

	// Initialize storage
	var (
		subStore   repository.SubscriptionStore
		usageStore repository.UsageStore
		storage    string
	)
	if cfg.DatabaseURL != "" {
		db, err := repository.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database error: %w", err)
		}
		defer db.Close()

		if !skipMigrate {
			if err := repository.RunMigrations(ctx, db); err != nil {
				return fmt.Errorf("migration error: %w", err)
			}
		}
		subStore = repository.NewSubscriptionRepository(db)
		usageStore = repository.NewUsageRepository(db)
		storage = "postgres"
		logrus.Info("database connected")
	} else {
		// Allow running without Postgres for development
		logrus.Warn("DATABASE_URL not set, using in-memory storage (state is lost on restart)")
		mem := repository.NewMemoryStore()
		subStore, usageStore = mem, mem
		storage = "memory"
	}

	// Payment gateway
	var gateway payment.Gateway
	switch cfg.PaymentProvider {
	case config.ProviderStripe:
		gateway = payment.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, catalog)
	default:
		logrus.Warn("using mock payment provider")
		gateway = payment.NewMockGateway(cfg.WebhookSecret, cfg.AppURL)
	}

	// Initialize services
	m := metrics.New()
	authSvc := service.NewAuthService(cfg.JWTSecret)
	subSvc := service.NewSubscriptionService(subStore, catalog, gateway, cfg.AppURL)
	ledger := service.NewUsageLedger(subStore, usageStore, catalog)
	enforcer := service.NewLimitEnforcer(ledger, usageStore, m)
	reconciler := service.NewReconciler(subStore, catalog, m)

	service.NewMonitorService(subStore, m, cfg.EventRetention, cfg.MonitorInterval).Start(ctx)

	router := newRouter(routerDeps{
		corsOrigins: cfg.CORSOrigins,
		auth:        authSvc,
		rateLimiter: appMiddleware.NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst),
		metrics:     m.Handler(),
		health:      handler.NewHealthHandler(subStore, storage),
		me:          handler.NewAuthHandler(),
		plans:       handler.NewPlansHandler(subSvc),
		payment:     handler.NewPaymentHandler(subSvc),
		usage:       handler.NewUsageHandler(ledger, enforcer),
		webhook:     handler.NewWebhookHandler(gateway, reconciler),
		admin:       handler.NewAdminHandler(subSvc),
	})

	// Start server
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		logrus.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("graceful shutdown failed")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"addr":     addr,
		"storage":  storage,
		"provider": cfg.PaymentProvider,
		"plans":    len(catalog.ListPlans()),
	}).Info("billing service listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	<-stopped
	return nil
}
