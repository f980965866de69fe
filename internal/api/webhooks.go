/**
 * @description
 * HTTP handlers for the Aurora PMS and Tribe app webhooks. Each handler only
 * decodes the partner payload and delegates to the matching translator; HMAC
 * verification happens in middleware before the body reaches these handlers.
 */

package api

import (
	"encoding/json"
	"net/http"

	"github.com/havenlabs/token-service/internal/app"
	"github.com/havenlabs/token-service/internal/domain"
)

// AuroraBookingHandler handles Aurora's booking.confirmed webhook.
func (h *TokenHandlers) AuroraBookingHandler(w http.ResponseWriter, r *http.Request) {
	var payload app.AuroraBookingPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.respondOutcome(w, func() (domain.Outcome, error) {
		return h.service.HandleAuroraBooking(r.Context(), payload)
	})
}

// AuroraReviewHandler handles Aurora's review.submitted webhook.
func (h *TokenHandlers) AuroraReviewHandler(w http.ResponseWriter, r *http.Request) {
	var payload app.AuroraReviewPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.respondOutcome(w, func() (domain.Outcome, error) {
		return h.service.HandleAuroraReview(r.Context(), payload)
	})
}

// AuroraCancellationHandler handles Aurora's booking.cancelled webhook.
func (h *TokenHandlers) AuroraCancellationHandler(w http.ResponseWriter, r *http.Request) {
	var payload app.AuroraCancellationPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.respondOutcome(w, func() (domain.Outcome, error) {
		return h.service.HandleAuroraCancellation(r.Context(), payload)
	})
}

// TribeAttendanceHandler handles Tribe's event.attended webhook.
func (h *TokenHandlers) TribeAttendanceHandler(w http.ResponseWriter, r *http.Request) {
	var payload app.TribeAttendancePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.respondOutcome(w, func() (domain.Outcome, error) {
		return h.service.HandleTribeAttendance(r.Context(), payload)
	})
}

// TribeContributionHandler handles Tribe's contribution.created webhook.
func (h *TokenHandlers) TribeContributionHandler(w http.ResponseWriter, r *http.Request) {
	var payload app.TribeContributionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.respondOutcome(w, func() (domain.Outcome, error) {
		return h.service.HandleTribeContribution(r.Context(), payload)
	})
}

// TribeCoachingHandler handles Tribe's coaching.completed webhook.
func (h *TokenHandlers) TribeCoachingHandler(w http.ResponseWriter, r *http.Request) {
	var payload app.TribeCoachingPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.respondOutcome(w, func() (domain.Outcome, error) {
		return h.service.HandleTribeCoaching(r.Context(), payload)
	})
}

// TribeReferralHandler handles Tribe's referral.completed webhook.
func (h *TokenHandlers) TribeReferralHandler(w http.ResponseWriter, r *http.Request) {
	var payload app.TribeReferralPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.respondOutcome(w, func() (domain.Outcome, error) {
		return h.service.HandleTribeReferral(r.Context(), payload)
	})
}

// TribeStakingHandler handles Tribe's staking.started webhook.
func (h *TokenHandlers) TribeStakingHandler(w http.ResponseWriter, r *http.Request) {
	var payload app.TribeStakingPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.service.HandleTribeStakingStarted(r.Context(), payload); err != nil {
		h.writeProcessError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "registered", "stake_id": payload.StakeID})
}

func (h *TokenHandlers) respondOutcome(w http.ResponseWriter, run func() (domain.Outcome, error)) {
	outcome, err := run()
	if err != nil {
		h.writeProcessError(w, err)
		return
	}
	h.writeOutcome(w, outcome)
}
