// Package httpapi is the JSON-over-HTTP adapter in front of the auth and user
// services.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/logging"
	"github.com/dmitrijs2005/modernapi/internal/server/metrics"
	"github.com/dmitrijs2005/modernapi/internal/server/ratelimit"
	"github.com/dmitrijs2005/modernapi/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/modernapi/internal/server/services"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

// Deps are the collaborators of the HTTP adapter. Metrics and Limiter may be
// nil.
type Deps struct {
	Auth    *services.AuthService
	Users   *services.UserService
	Pinger  repomanager.Pinger
	Metrics *metrics.Metrics
	Limiter ratelimit.Limiter
	Logger  logging.Logger
}

type Server struct {
	address string
	auth    *services.AuthService
	users   *services.UserService
	pinger  repomanager.Pinger
	metrics *metrics.Metrics
	limiter ratelimit.Limiter
	logger  logging.Logger
	engine  *gin.Engine
}

func NewServer(address string, d Deps) *Server {
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	s := &Server{
		address: address,
		auth:    d.Auth,
		users:   d.Users,
		pinger:  d.Pinger,
		metrics: d.Metrics,
		limiter: d.Limiter,
		logger:  d.Logger.With("module", "http_server"),
	}
	s.engine = s.routes()
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(s.recovery(), s.observe())
	r.HandleMethodNotAllowed = true
	r.NoRoute(func(c *gin.Context) {
		writeProblem(c, Problem{Type: "about:blank", Title: "Not found", Status: http.StatusNotFound, Code: "not_found"})
	})

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	v1 := r.Group("/api/v1")

	a := v1.Group("/auth")
	a.POST("/register", s.rateLimit("register"), s.register)
	a.POST("/login", s.rateLimit("login"), s.login)
	a.POST("/refresh", s.rateLimit("refresh"), s.refresh)
	a.POST("/logout", s.logout)
	a.POST("/validate", s.validateRefreshToken)

	authed := a.Group("", s.requireAuth())
	authed.POST("/logout-all", s.logoutAll)
	authed.POST("/change-password", s.changePassword)
	authed.GET("/sessions", s.sessions)

	me := v1.Group("/users/me", s.requireAuth())
	me.GET("", s.getProfile)
	me.PUT("", s.updateProfile)
	me.PUT("/email", s.changeEmail)
	me.POST("/verify-email", s.verifyEmail)
	me.POST("/deactivate", s.deactivate)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "http shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.PingContext(ctx); err != nil {
			s.logger.Warn(ctx, "health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
