package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/signalix/phoneauth/internal/app"
	"github.com/signalix/phoneauth/internal/auth"
	"github.com/signalix/phoneauth/internal/config"
	"github.com/signalix/phoneauth/internal/db"
	"github.com/signalix/phoneauth/internal/delivery"
	httphandler "github.com/signalix/phoneauth/internal/http"
	"github.com/signalix/phoneauth/internal/http/handlers"
	"github.com/signalix/phoneauth/internal/logging"
	"github.com/signalix/phoneauth/internal/middleware"
	"github.com/signalix/phoneauth/internal/otp"
	"github.com/signalix/phoneauth/internal/repo"
)

// ipLimitWindow is the window IP_RATE_LIMIT is counted over.
const ipLimitWindow = 10 * time.Minute

func main() {
	// Env vars override .env
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
	logger.Info("server exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("connecting to database", zap.String("target", cfg.DatabaseTarget()))
	database, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	store, closeStore, err := app.OpenCodeStore(ctx, cfg, database, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	publisher := app.NewPublisher(cfg, logger)
	defer func() { _ = publisher.Close() }()

	provider := delivery.New(cfg.Delivery, logger)

	userRepo := repo.NewUserRepo(database)
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.AccessTokenTTL)
	authService := auth.NewService(jwtService, userRepo, repo.NewRefreshRepo(database), cfg.RefreshTokenTTL, logger)

	otpService := otp.NewService(otp.Config{
		AppName:     cfg.AppName,
		Salt:        cfg.OTPSalt,
		TTL:         cfg.OTPTTL,
		MaxAttempts: cfg.OTPMaxAttempts,
		DevMode:     cfg.DevMode,
	}, store, provider, authService, logger, otp.WithPublisher(publisher))
	sweeper := otp.NewSweeper(store, publisher, logger)

	requestTimeout, writeTimeout := serverTimeouts(cfg.Delivery.Timeout)
	deps := httphandler.RouterDeps{
		Logger: logger,
		OTP:    handlers.NewOtpHandler(otpService, !cfg.IsProduction(), logger),
		Auth:   handlers.NewAuthHandler(authService, logger),
		Health: handlers.NewHealthHandler(map[string]handlers.Check{
			"postgres": database.PingContext,
			"code_store": func(ctx context.Context) error {
				_, err := store.HasLiveActive(ctx, "+10000000000")
				return err
			},
		}, logger),
		Admin:              handlers.NewAdminHandler(sweeper, logger),
		AdminToken:         cfg.AdminToken,
		JWT:                jwtService,
		Users:              userRepo,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RequestTimeout:     requestTimeout,
	}
	if cfg.IPRateLimit > 0 {
		deps.IPLimiter = middleware.NewRateLimiter(ctx, ipLimitWindow, cfg.IPRateLimit)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httphandler.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.String("code_store", cfg.CodeStore),
			zap.String("delivery", provider.Name()),
			zap.Bool("delivery_configured", cfg.DeliveryConfigured()),
			zap.Bool("admin_routes", cfg.AdminToken != ""),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx, cfg.SweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// serverTimeouts sizes the handler deadline to fit one delivery call and keeps
// the write deadline past it, so a timed-out request still gets its 504.
func serverTimeouts(deliveryTimeout time.Duration) (request, write time.Duration) {
	request = deliveryTimeout + 5*time.Second
	return request, request + 5*time.Second
}
