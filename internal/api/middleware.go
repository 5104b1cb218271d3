package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wedding-invitations/internal/metrics"
)

const (
	correlationHeader = "X-Correlation-ID"
	webhookHeader     = "X-Webhook-Token"
	correlationKey    = "correlationID"
	subjectKey        = "subject"
	tokenIssuer       = "wedding-invitations"
)

func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(correlationHeader)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		c.Set(correlationKey, correlationID)
		c.Header(correlationHeader, correlationID)
		c.Next()
	}
}

// RequestLogger logs every request with its correlation id and records HTTP metrics.
func RequestLogger(log zerolog.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		m.ObserveHTTP(c.Request.Method, path, strconv.Itoa(status), time.Since(start))

		evt := log.Info()
		if status >= http.StatusInternalServerError {
			evt = log.Error()
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("correlation_id", c.GetString(correlationKey)).
			Msg("request")
	}
}

// Authentication accepts HS256 bearer tokens signed with secret.
func Authentication(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			fail(c, http.StatusUnauthorized, "Unauthorized", errors.New("admin authentication is not configured"))
			return
		}
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			fail(c, http.StatusUnauthorized, "Unauthorized", errors.New("authorization header required"))
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			fail(c, http.StatusUnauthorized, "Unauthorized", errors.New("invalid authorization header"))
			return
		}

		token, err := jwt.ParseWithClaims(parts[1], &jwt.RegisteredClaims{}, func(token *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
		if err != nil || !token.Valid {
			fail(c, http.StatusUnauthorized, "Unauthorized", errors.New("invalid token"))
			return
		}
		if claims, ok := token.Claims.(*jwt.RegisteredClaims); ok {
			c.Set(subjectKey, claims.Subject)
		}
		c.Next()
	}
}

// WebhookToken rejects requests that do not present secret in the token query
// parameter or the X-Webhook-Token header. An empty secret disables the check.
func WebhookToken(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		token := c.GetHeader(webhookHeader)
		if token == "" {
			token = c.Query("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			fail(c, http.StatusForbidden, "Forbidden", errors.New("invalid webhook token"))
			return
		}
		c.Next()
	}
}

// IssueToken mints an admin token for subject.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
