/**
 * @description
 * This file contains custom middleware for the HTTP router: API-key auth for
 * the direct token endpoints, HMAC signature verification for partner
 * webhooks, JWT auth for the admin surface, distributed rate limiting and
 * structured request logging.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256: Webhook signature verification.
 * - github.com/golang-jwt/jwt/v5: Admin token validation.
 * - github.com/rs/zerolog: Request logging.
 */

package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const (
	signatureHeader = "X-Webhook-Signature"
	timestampHeader = "X-Webhook-Timestamp"

	// Webhook timestamps older than this are replays; small future skew is
	// tolerated for clock drift.
	maxWebhookAge  = 5 * time.Minute
	maxWebhookSkew = time.Minute
	maxWebhookBody = 1 << 20
	apiKeyHeader   = "X-API-Key"
)

type adminSubjectKey struct{}

// RequestLogger emits one structured line per request.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("remote", clientIP(r)).
				Msg("request")
		})
	}
}

// APIKeyAuth guards the direct token endpoints with a shared key.
func APIKeyAuth(expectedKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expectedKey == "" {
				http.Error(w, "API key authentication is not configured", http.StatusServiceUnavailable)
				return
			}
			provided := r.Header.Get(apiKeyHeader)
			if provided == "" || !hmac.Equal([]byte(provided), []byte(expectedKey)) {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WebhookHMACAuth verifies the partner signature over "<timestamp>.<body>"
// and rejects stale or future-dated deliveries. The body is restored for the
// downstream handler.
func WebhookHMACAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "Webhook authentication is not configured", http.StatusServiceUnavailable)
				return
			}

			tsRaw := r.Header.Get(timestampHeader)
			sigRaw := r.Header.Get(signatureHeader)
			if tsRaw == "" || sigRaw == "" {
				http.Error(w, "Missing webhook signature headers", http.StatusUnauthorized)
				return
			}

			ts, err := strconv.ParseInt(tsRaw, 10, 64)
			if err != nil {
				http.Error(w, "Invalid webhook timestamp", http.StatusUnauthorized)
				return
			}
			age := time.Since(time.Unix(ts, 0))
			if age > maxWebhookAge || age < -maxWebhookSkew {
				http.Error(w, "Webhook timestamp out of range", http.StatusUnauthorized)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
			if err != nil {
				http.Error(w, "Unable to read request body", http.StatusBadRequest)
				return
			}
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			mac := hmac.New(sha256.New, []byte(secret))
			fmt.Fprintf(mac, "%s.", tsRaw)
			mac.Write(body)
			expected := hex.EncodeToString(mac.Sum(nil))
			if !hmac.Equal([]byte(strings.ToLower(sigRaw)), []byte(expected)) {
				http.Error(w, "Invalid webhook signature", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AdminJWTAuth validates the HS256 bearer token for the admin surface and
// requires an admin role claim.
func AdminJWTAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "Admin authentication is not configured", http.StatusServiceUnavailable)
				return
			}

			authHeader := r.Header.Get("Authorization")
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if authHeader == "" || tokenString == authHeader {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}
			if role, _ := claims["role"].(string); role != "admin" {
				http.Error(w, "Admin role required", http.StatusForbidden)
				return
			}

			sub, _ := claims["sub"].(string)
			ctx := context.WithValue(r.Context(), adminSubjectKey{}, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminSubject retrieves the authenticated admin subject from the context.
func AdminSubject(ctx context.Context) (string, bool) {
	sub, ok := ctx.Value(adminSubjectKey{}).(string)
	return sub, ok
}

// Limiter is the slice of the Redis rate limiter the middleware needs.
type Limiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error)
}

// RateLimit enforces a per-IP fixed window on a route group. Limiter errors
// fail open: a Redis outage must not take the webhook surface down with it.
func RateLimit(limiter Limiter, scope string, limit int, window time.Duration, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			count, retryAfter, err := limiter.ConsumeRateLimit(r.Context(), scope, clientIP(r), limit, window)
			if err != nil {
				log.Warn().Err(err).Str("scope", scope).Msg("rate limiter unavailable; allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if count > limit {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
