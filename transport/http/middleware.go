package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bip47-showcase/auth47/core"
	"github.com/bip47-showcase/auth47/service"
)

const (
	sessionKey   = "session"
	requestIDKey = "request_id"
)

// AuthMiddleware creates middleware that validates session tokens
func AuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": core.KindCredentialInvalid})
			return
		}

		session, err := authService.ValidateSession(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": core.Kind(err)})
			return
		}

		c.Set(sessionKey, session)

		c.Next()
	}
}

// RequestID tags every request with an X-Request-ID, reusing the caller's when present
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

// RequestLogger logs one line per request
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case c.Writer.Status() >= 500:
			logger.Error("HTTP request", fields...)
		case c.Writer.Status() >= 400:
			logger.Warn("HTTP request", fields...)
		default:
			logger.Info("HTTP request", fields...)
		}
	}
}

// CORS allows the browser frontend, served from another origin, to call the API
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// statusFor maps a service error to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrSignatureMismatch),
		errors.Is(err, core.ErrCredentialInvalid),
		errors.Is(err, core.ErrCredentialExpired):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrMissingFields),
		errors.Is(err, core.ErrMalformedChallenge),
		errors.Is(err, core.ErrInvalidSignatureEncoding),
		errors.Is(err, core.ErrUnknownChallenge),
		errors.Is(err, core.ErrChallengeExpired),
		errors.Is(err, core.ErrReplayedChallenge):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func sessionFrom(c *gin.Context) (*core.Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	session, ok := v.(*core.Session)
	return session, ok
}
