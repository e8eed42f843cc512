package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hcpe-setisd/leitos-backend/internal/model"
	"github.com/hcpe-setisd/leitos-backend/internal/service"
)

const (
	authClaimsKey   = "auth_claims"
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
)

// AuthMiddleware resolves the bearer token into claims. When authentication is
// disabled the service returns a fixed identity and the header is ignored.
// Preflight requests never reach it; CORSMiddleware answers them.
func AuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := authService.CurrentIdentity(bearerToken(c.GetHeader("Authorization")))
		if err != nil {
			writeAuthError(c, err)
			c.Abort()
			return
		}

		c.Set(authClaimsKey, claims)
		c.Next()
	}
}

// AdminMiddleware must run after AuthMiddleware.
func AdminMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := authService.RequireAdmin(GetClaims(c)); err != nil {
			writeAuthError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

func GetClaims(c *gin.Context) *model.Claims {
	if value, ok := c.Get(authClaimsKey); ok {
		if claims, ok := value.(*model.Claims); ok {
			return claims
		}
	}
	return nil
}

func bearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// RequestLogger tags each request with an ID and logs it once it completes.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)
		if hub := sentrygin.GetHubFromContext(c); hub != nil {
			hub.Scope().SetTag("request_id", requestID)
		}

		start := time.Now()
		c.Next()

		slog.Info("request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

func CORSMiddleware(allowedOrigins []string, allowCredentials bool) gin.HandlerFunc {
	originMap := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		originMap[trimmed] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if _, ok := originMap[origin]; ok {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				if allowCredentials {
					c.Header("Access-Control-Allow-Credentials", "true")
				}
				c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}

		c.Next()
	}
}
