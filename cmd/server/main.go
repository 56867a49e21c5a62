// Command wc-server serves the calculator API and premium activation.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/weightcalc/internal/config"
	"github.com/and161185/weightcalc/internal/entitlement"
	"github.com/and161185/weightcalc/internal/limiter"
	"github.com/and161185/weightcalc/internal/migrate"
	"github.com/and161185/weightcalc/internal/repository"
	"github.com/and161185/weightcalc/internal/repository/postgres"
	grpcserver "github.com/and161185/weightcalc/internal/server/grpc"
	httpserver "github.com/and161185/weightcalc/internal/server/http"
	"github.com/and161185/weightcalc/internal/service"
	"github.com/and161185/weightcalc/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// backend is the storage selected by configuration.
type backend struct {
	lim    limiter.Limiter
	grants repository.GrantRepository
	ready  func(context.Context) error
	close  func()
}

// main loads configuration, wires the services, and serves HTTP plus the ops gRPC listener.
func main() {
	configPath := flag.String("config", "", "YAML config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	opsAddr := flag.String("ops-addr", "", "ops gRPC listen address (overrides config)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config)")
	dev := flag.Bool("dev", false, "development logging and gRPC reflection")
	flag.Parse()

	newLogger := zap.NewProduction
	if *dev {
		newLogger = zap.NewDevelopment
	}
	logger, _ := newLogger()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *opsAddr != "" {
		cfg.OpsAddr = *opsAddr
	}
	if *dsn != "" {
		cfg.DatabaseURL = *dsn
	}

	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.HTTPAddr),
		zap.String("limiter", cfg.LimiterBackend()),
	)

	if cfg.TokenSecret == "" {
		logger.Fatal("missing token secret (TOKEN_SECRET)")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}
	opKey, _ := cfg.OperatorKey()
	if opKey == nil {
		logger.Info("operator key not configured; POST /api/grants disabled")
	}

	codec, err := token.NewCodec(token.StaticSecret([]byte(cfg.TokenSecret)))
	if err != nil {
		logger.Fatal("token codec", zap.Error(err))
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("storage", zap.String("backend", cfg.LimiterBackend()), zap.Error(err))
	}
	defer be.close()

	access := service.NewAccessService(codec, be.lim, be.grants, service.NewLogMailer(logger),
		service.AccessConfig{
			BaseURL:        cfg.BaseURL,
			AppName:        cfg.AppName,
			TTL:            cfg.TokenTTL,
			ForceRecipient: cfg.MailForceRecipient,
		}, logger)

	handler := httpserver.NewHandler(entitlement.NewResolver(codec), access, httpserver.Options{
		BaseURL:         cfg.BaseURL,
		CookieSecure:    cfg.CookieSecure,
		TrustProxy:      cfg.TrustProxy,
		OperatorKey:     opKey,
		OperatorLimiter: be.lim,
		Ready:           be.ready,
	}, logger)

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	ops := grpcserver.NewOps(logger, *dev)

	// Listen
	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		logger.Fatal("listen http", zap.Error(err))
	}
	opsLis, err := net.Listen("tcp", cfg.OpsAddr)
	if err != nil {
		logger.Fatal("listen ops", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("listening", zap.String("addr", httpLis.Addr().String()))
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() { errCh <- ops.Serve(opsLis) }()

	ops.SetServing(true)
	if be.ready != nil {
		go ops.Watch(ctx, be.ready, 10*time.Second)
	}

	// Wait for stop
	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		exitCode = 1
	}

	ops.SetServing(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	ops.Stop(cfg.ShutdownTimeout)

	logger.Info("shutdown complete")
	if exitCode != 0 {
		be.close()
		_ = logger.Sync()
		os.Exit(exitCode)
	}
}

// openBackend selects Postgres, Redis, or in-memory storage for the limiter and grant log.
func openBackend(ctx context.Context, cfg config.Config, log *zap.Logger) (*backend, error) {
	l := cfg.Limiter
	switch cfg.LimiterBackend() {
	case "postgres":
		if cfg.Migrate {
			if err := migrate.Up(ctx, cfg.DatabaseURL, log); err != nil {
				return nil, err
			}
		}
		db, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &backend{
			lim:    limiter.NewPG(db.Pool, l.Window, l.MaxFails, l.BlockFor),
			grants: postgres.NewGrantRepo(db),
			ready:  db.Ping,
			close:  db.Close,
		}, nil
	case "redis":
		client, err := limiter.Connect(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return &backend{
			lim:   limiter.NewRedis(client, l.Window, l.MaxFails, l.BlockFor),
			ready: func(ctx context.Context) error { return client.Ping(ctx).Err() },
			close: func() { _ = client.Close() },
		}, nil
	default:
		return &backend{
			lim:   limiter.NewMemory(l.Window, l.MaxFails, l.BlockFor),
			close: func() {},
		}, nil
	}
}
