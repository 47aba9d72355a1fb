package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/xling-dev/xling/internal/ui"
)

// accessCookie is the cookie name carrying the access key for browser
// clients.
const accessCookie = "xling_access"

// authMiddleware enforces the configured access key. The key is accepted
// as a bearer token, an X-API-Key header, or the xling_access cookie.
// With no key configured every request passes.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		accessKey := s.live.Current().Proxy.AccessKey
		if accessKey == "" {
			return
		}
		if clientToken(c) == accessKey {
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{"type": "auth_error", "message": "invalid or missing access key"},
		})
	}
}

// clientToken extracts the presented credential, trying the Authorization
// header, then X-API-Key, then the access cookie.
func clientToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
		return auth
	}
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	if cookie, err := c.Cookie(accessCookie); err == nil {
		return cookie
	}
	return ""
}

// corsMiddleware allows browser clients from any origin. Authorization
// and X-API-Key must be listed or preflights for authenticated calls fail.
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			"X-API-Key", "X-Request-Id", "Anthropic-Version",
		},
		ExposeHeaders: []string{"Content-Type"},
		MaxAge:        12 * time.Hour,
	})
}

// loggingMiddleware emits one console line and one structured log entry
// per request.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		provider := c.GetString(ctxProvider)

		ui.PrintRequest(c.Request.Method, c.Request.URL.Path, status, latency, provider)
		s.logger.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Duration("latency", latency),
			slog.String("provider", provider),
		)
	}
}

// recoveryMiddleware converts panics into logged 500 envelopes so internal
// failures never leak stack traces to clients.
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic recovered",
					slog.Any("panic", r),
					slog.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{"type": "internal_error", "message": "internal server error"},
				})
			}
		}()
		c.Next()
	}
}
