// Package server wires configuration, storage, services and transports into
// the running ModernAPI process.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/modernapi/internal/logging"
	"github.com/dmitrijs2005/modernapi/internal/server/auth"
	"github.com/dmitrijs2005/modernapi/internal/server/config"
	"github.com/dmitrijs2005/modernapi/internal/server/events"
	"github.com/dmitrijs2005/modernapi/internal/server/httpapi"
	"github.com/dmitrijs2005/modernapi/internal/server/metrics"
	"github.com/dmitrijs2005/modernapi/internal/server/models"
	"github.com/dmitrijs2005/modernapi/internal/server/notify"
	"github.com/dmitrijs2005/modernapi/internal/server/password"
	"github.com/dmitrijs2005/modernapi/internal/server/ratelimit"
	"github.com/dmitrijs2005/modernapi/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/modernapi/internal/server/services"
	"github.com/dmitrijs2005/modernapi/internal/timex"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/modernapi/internal/server/grpc"
)

// NewLogger builds the process logger from cfg.
func NewLogger(cfg *config.Config) (logging.Logger, error) {
	return logging.New(logging.Options{
		Backend: cfg.LogBackend,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})
}

// Core is everything below the transports. The admin CLI uses it directly.
type Core struct {
	Config   *config.Config
	Logger   logging.Logger
	Store    *repomanager.Store
	Metrics  *metrics.Metrics
	Events   *events.Dispatcher
	Verifier *services.PasswordVerifier
	Auth     *services.AuthService
	Users    *services.UserService
	Sweeper  *services.TokenSweeper
}

// NewCore opens the store and builds the services. It does not migrate.
func NewCore(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Core, error) {
	hasher, err := password.NewMultiHasher(cfg.PasswordHasher)
	if err != nil {
		return nil, err
	}

	issuer, err := auth.NewIssuer([]byte(cfg.SecretKey), cfg.Issuer, cfg.Audience, cfg.AccessTokenValidityDuration, timex.NowUTC)
	if err != nil {
		return nil, err
	}

	m, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("metrics init error: %w", err)
	}

	store, err := repomanager.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	dispatcher := events.NewDispatcher(logger,
		events.NewAuditHandler(logger),
		events.NewMetricsHandler(m),
	)
	if cfg.SMTPEnabled() {
		sender := notify.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.MailFrom)
		dispatcher.Register(notify.NewHandler(sender, logger))
	}

	lockout := models.LockoutPolicy{
		MaxFailedAccessAttempts: cfg.MaxFailedAccessAttempts,
		LockoutDuration:         cfg.LockoutDuration,
	}
	verifier := services.NewPasswordVerifier(store, hasher, lockout, dispatcher, logger, timex.NowUTC)

	c := &Core{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Metrics:  m,
		Events:   dispatcher,
		Verifier: verifier,
	}
	c.Auth = services.NewAuthService(services.AuthDeps{
		Store:    store,
		Verifier: verifier,
		Hasher:   hasher,
		Issuer:   issuer,
		Events:   dispatcher,
		Metrics:  m,
		Logger:   logger,
		Clock:    timex.NowUTC,
	}, services.AuthOptionsFromConfig(cfg))
	c.Users = services.NewUserService(store, dispatcher, m, logger, timex.NowUTC)
	c.Sweeper = services.NewTokenSweeper(store, cfg.CleanupInterval, m, logger, timex.NowUTC)
	return c, nil
}

func (c *Core) Close() error {
	return c.Store.Close()
}

type App struct {
	core         *Core
	logger       logging.Logger
	httpServer   *httpapi.Server
	grpcServer   *gs.GRPCServer
	closeLimiter func() error
}

// NewApp builds the core, applies migrations and prepares the HTTP and gRPC
// servers.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	core, err := NewCore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := core.Store.Migrate(ctx); err != nil {
		_ = core.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	limiter, closeLimiter, err := ratelimit.New(ctx, ratelimit.Options{
		RedisAddr: cfg.RedisAddr,
		Requests:  cfg.RateLimitRequests,
		Window:    cfg.RateLimitWindow,
	})
	if err != nil {
		_ = core.Close()
		return nil, err
	}

	hs := httpapi.NewServer(cfg.EndpointAddrHTTP, httpapi.Deps{
		Auth:    core.Auth,
		Users:   core.Users,
		Pinger:  core.Store.Pinger,
		Metrics: core.Metrics,
		Limiter: limiter,
		Logger:  logger,
	})
	grpcServer := gs.NewGRPCServer(cfg.EndpointAddrGRPC, logger, core.Store.Pinger, 0)

	return &App{
		core:         core,
		logger:       logger,
		httpServer:   hs,
		grpcServer:   grpcServer,
		closeLimiter: closeLimiter,
	}, nil
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives. The first
// component to fail stops the others.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.logger.Info(ctx, "Starting app...")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.httpServer.Run(gctx) })
	g.Go(func() error { return app.grpcServer.Run(gctx) })
	g.Go(func() error { return app.core.Sweeper.Run(gctx) })

	err := g.Wait()
	app.logger.Info(context.Background(), "App stopped")

	return errors.Join(err, app.closeLimiter(), app.core.Close())
}
