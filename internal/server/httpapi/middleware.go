package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/common"
	"github.com/dmitrijs2005/modernapi/internal/server/auth"
	"github.com/gin-gonic/gin"
)

const claimsKey = "auth_claims"

// observe logs every request and records HTTP metrics.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		done := s.metrics.TrackInflight()
		defer done()

		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		s.metrics.ObserveHTTP(c.Request.Method, route, status, elapsed)
		s.logger.Info(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
			"client_ip", c.ClientIP())
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error(c.Request.Context(), "http handler panic", "path", c.Request.URL.Path, "panic", p)
				writeProblem(c, problemFor(common.ErrorInternal))
			}
		}()
		c.Next()
	}
}

// requireAuth accepts "Authorization: Bearer <access token>" and stores the
// claims on the context.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(common.AuthorizationHeaderName)
		if !strings.HasPrefix(header, common.BearerPrefix) {
			writeProblem(c, problemFor(common.ErrorUnauthorized))
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, common.BearerPrefix))
		if token == "" {
			writeProblem(c, problemFor(common.ErrorUnauthorized))
			return
		}

		claims, err := s.auth.Authenticate(token)
		if err != nil {
			writeProblem(c, problemFor(err))
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func currentClaims(c *gin.Context) *auth.Claims {
	if v, ok := c.Get(claimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}

// rateLimit applies the fixed-window limiter per route and client IP. A
// limiter failure lets the request through.
func (s *Server) rateLimit(route string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		res, err := s.limiter.Allow(c.Request.Context(), route+":"+c.ClientIP())
		if err != nil {
			s.logger.Warn(c.Request.Context(), "rate limiter unavailable", "route", route, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		if !res.Allowed {
			secs := int64(res.RetryAfter.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.FormatInt(secs, 10))
			s.metrics.ObserveRateLimited(route)
			writeProblem(c, Problem{
				Type:   "about:blank",
				Title:  "Too many requests",
				Status: http.StatusTooManyRequests,
				Detail: "rate limit exceeded, retry later",
				Code:   codeRateLimited,
			})
			return
		}
		c.Next()
	}
}
