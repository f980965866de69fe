/**
 * @description
 * This file sets up the HTTP router for the token-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies the
 * authentication and rate-limit middleware per route group.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/prometheus/client_golang: The /metrics endpoint.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterConfig carries the secrets and limits the route groups need.
type RouterConfig struct {
	APIKey              string
	AuroraWebhookSecret string
	TribeWebhookSecret  string
	AdminJWTSecret      string
	Limiter             Limiter
	WebhookRatePerMin   int
}

// TokenRoutes creates and returns the router for the token service.
func TokenRoutes(h *TokenHandlers, cfg RouterConfig, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Get("/health", h.HealthHandler)
	r.Handle("/metrics", promhttp.Handler())

	// Direct token endpoints, shared-key authenticated.
	r.Group(func(r chi.Router) {
		r.Use(APIKeyAuth(cfg.APIKey))
		r.Post("/token/mint", h.MintHandler)
		r.Post("/token/redeem", h.RedeemHandler)
		r.Get("/token/balance/{ref}", h.BalanceHandler)
		r.Get("/token/stats", h.StatsHandler)
	})

	// Partner webhooks, HMAC signed and rate limited per source IP.
	r.Group(func(r chi.Router) {
		r.Use(RateLimit(cfg.Limiter, "webhooks", cfg.WebhookRatePerMin, time.Minute, log))
		r.Use(WebhookHMACAuth(cfg.AuroraWebhookSecret))
		r.Post("/webhooks/aurora/booking", h.AuroraBookingHandler)
		r.Post("/webhooks/aurora/review", h.AuroraReviewHandler)
		r.Post("/webhooks/aurora/cancellation", h.AuroraCancellationHandler)
	})
	r.Group(func(r chi.Router) {
		r.Use(RateLimit(cfg.Limiter, "webhooks", cfg.WebhookRatePerMin, time.Minute, log))
		r.Use(WebhookHMACAuth(cfg.TribeWebhookSecret))
		r.Post("/webhooks/tribe/attendance", h.TribeAttendanceHandler)
		r.Post("/webhooks/tribe/contribution", h.TribeContributionHandler)
		r.Post("/webhooks/tribe/coaching", h.TribeCoachingHandler)
		r.Post("/webhooks/tribe/referral", h.TribeReferralHandler)
		r.Post("/webhooks/tribe/staking", h.TribeStakingHandler)
	})

	// Admin surface, JWT authenticated.
	r.Group(func(r chi.Router) {
		r.Use(AdminJWTAuth(cfg.AdminJWTSecret))
		r.Get("/admin/ledger", h.LedgerHandler)
		r.Post("/admin/nonce/resync", h.NonceResyncHandler)
	})

	return r
}
