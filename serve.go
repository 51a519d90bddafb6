package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Reyuuh/eshop-soulcaller-backend/common/auth"
	"github.com/Reyuuh/eshop-soulcaller-backend/controllers"
	"github.com/Reyuuh/eshop-soulcaller-backend/database"
	"github.com/Reyuuh/eshop-soulcaller-backend/routes"
	"github.com/Reyuuh/eshop-soulcaller-backend/services"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	var skipMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), skipMigrate)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not migrate the schema on start")
	return cmd
}

func runServe(ctx context.Context, skipMigrate bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.cfg.Validate(); err != nil {
		return err
	}
	if !skipMigrate {
		if err := database.Migrate(a.db); err != nil {
			return err
		}
	}
	if a.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	d := a.buildDomain(ctx)
	tokens := auth.NewTokenService(a.cfg.JWTSecret, a.cfg.JWTLifetime)

	handlers := routes.Handlers{
		Auth:     controllers.NewAuthController(services.NewAuthService(d.users, tokens)),
		Users:    controllers.NewUserController(services.NewUserService(d.users)),
		Catalog:  controllers.NewCatalogController(d.catalog),
		Orders:   controllers.NewOrderController(d.orders),
		Payments: controllers.NewPaymentController(d.checkout),
	}
	router := routes.NewRouter(routes.Options{
		AllowedOrigins:     a.cfg.AllowedOrigins,
		RateLimitPerMinute: a.cfg.RateLimitPerMinute,
		Metrics:            a.metrics,
		Logger:             a.logger,
	}, handlers, tokens)

	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      a.cfg.StripeTimeout + a.cfg.PersistTimeout + 15*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Storefront API started", zap.String("port", a.cfg.Port), zap.String("env", a.cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	a.logger.Info("Initiating graceful shutdown...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Server shutdown error", zap.Error(err))
	}
	a.logger.Info("Storefront API stopped gracefully")
	return nil
}
