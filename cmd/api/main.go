package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/GiraffeSchool/student-signin-system/internal/attendance"
	"github.com/GiraffeSchool/student-signin-system/internal/auth"
	"github.com/GiraffeSchool/student-signin-system/internal/config"
	"github.com/GiraffeSchool/student-signin-system/internal/credentials"
	"github.com/GiraffeSchool/student-signin-system/internal/handler"
	"github.com/GiraffeSchool/student-signin-system/internal/health"
	"github.com/GiraffeSchool/student-signin-system/internal/httpmiddleware"
	"github.com/GiraffeSchool/student-signin-system/internal/ledger"
	"github.com/GiraffeSchool/student-signin-system/internal/lineclient"
	"github.com/GiraffeSchool/student-signin-system/internal/logging"
	"github.com/GiraffeSchool/student-signin-system/internal/notify"
	"github.com/GiraffeSchool/student-signin-system/internal/store"
	"github.com/GiraffeSchool/student-signin-system/internal/webhook"
)

func main() {
	started := time.Now()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger, flush := logging.New(logging.Options{
		Level:        cfg.LogLevel,
		Env:          cfg.Env,
		RollbarToken: cfg.RollbarToken,
	})
	slog.SetDefault(logger)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	err = runHTTP(cfg, logger, started)
	if err != nil {
		logger.Error("http server failed", slog.String("error", err.Error()))
	}
	flush()
	if err != nil {
		os.Exit(1)
	}
}

func runHTTP(cfg config.App, logger *slog.Logger, started time.Time) error {
	ctx := context.Background()

	svc, err := sheetsService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	tables := ledger.SheetsTables(cfg.Tables, svc, cfg.LedgerTimeout)

	ledgerOpts := []ledger.Option{
		ledger.WithStrictUnique(cfg.LedgerStrictUnique),
		ledger.WithLockWait(cfg.LedgerTimeout),
		ledger.WithLogger(logger),
	}
	var redisClient *store.Redis
	if cfg.LockBackend == config.LockRedis {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		ledgerOpts = append(ledgerOpts, ledger.WithLocker(redisClient.NewLocker("signin:lock:", cfg.LockTTL, cfg.LedgerTimeout)))
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis not reachable", slog.String("addr", cfg.RedisAddr), slog.String("error", err.Error()))
		}
	}
	lg := ledger.New(tables, cfg.Layout, ledgerOpts...)

	line := lineclient.New(cfg.LineAPIBaseURL, cfg.LineAccessToken)
	if !line.Configured() {
		logger.Warn("LINE_CHANNEL_ACCESS_TOKEN not set; guardian notifications disabled")
	}
	dispatcher := notify.New(line,
		notify.WithTimeout(cfg.NotifyTimeout),
		notify.WithRecipientPrefix(cfg.GuardianIDPrefix),
		notify.WithLogger(logger))

	signIn := attendance.NewService(lg, cfg.Fence(), dispatcher,
		attendance.WithLocation(cfg.Location),
		attendance.WithLogger(logger))

	checker := health.NewChecker(tables, line, started)
	checker.Missing = cfg.Missing()
	checker.MessageTimeout = cfg.MessagingHealthTimeout
	checker.Location = cfg.Location
	if redisClient != nil {
		checker.Lock = redisClient
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.Logger(logger, "/healthz", "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", auth.SignatureHeader},
		ExposeHeaders:   []string{httpmiddleware.RequestIDHeader},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())

	handler.New(handler.Options{
		SignIn:        signIn,
		Health:        checker,
		Webhook:       webhook.NewProcessor(line, logger),
		ChannelSecret: cfg.LineChannelSecret,
		QRDir:         cfg.QROutputDir,
		SignInLimit:   httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware(),
		Logger:        logger,
	}).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			slog.String("addr", srv.Addr),
			slog.Int("rosters", len(tables)),
			slog.String("lock_backend", cfg.LockBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", slog.String("error", err.Error()))
	}
	logger.Info("server exited")
	return nil
}

// sheetsService resolves the service-account key. Without one the server
// still starts so /health can report what is missing; roster calls then fail.
func sheetsService(ctx context.Context, cfg config.App, logger *slog.Logger) (*sheets.Service, error) {
	chain, err := credentials.NewChain(ctx, credentials.Sources{
		EnvJSON:  cfg.GoogleServiceAccount,
		SecretID: cfg.GoogleCredentialsSecretID,
		File:     cfg.GoogleCredentialsFile,
	})
	if err != nil {
		return nil, err
	}
	key, err := chain.Credentials(ctx)
	switch {
	case errors.Is(err, credentials.ErrNotConfigured):
		logger.Error("google credentials not configured; roster access will fail", slog.String("sources", chain.Name()))
		return sheets.NewService(ctx, option.WithoutAuthentication())
	case err != nil:
		return nil, err
	}
	return ledger.NewSheetsService(ctx, key)
}
