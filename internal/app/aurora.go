/**
 * @description
 * Translators for Aurora PMS webhooks. Each handler turns a partner payload
 * into one normalized RewardEvent and hands it to the processor; reward math
 * lives in the rewards package, never in the webhook layer.
 */

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/havenlabs/token-service/internal/domain"
	"github.com/havenlabs/token-service/internal/rewards"
	"github.com/havenlabs/token-service/internal/store"
)

// AuroraBookingPayload is the body of Aurora's booking.confirmed webhook.
type AuroraBookingPayload struct {
	BookingID   string  `json:"booking_id"`
	MemberRef   string  `json:"member_ref"`
	TotalAmount float64 `json:"total_amount"`
	Currency    string  `json:"currency"`
	Nights      int     `json:"nights"`
}

// AuroraReviewPayload is the body of Aurora's review.submitted webhook.
type AuroraReviewPayload struct {
	ReviewID  string `json:"review_id"`
	BookingID string `json:"booking_id"`
	MemberRef string `json:"member_ref"`
	Rating    int    `json:"rating"`
}

// AuroraCancellationPayload is the body of Aurora's booking.cancelled webhook.
type AuroraCancellationPayload struct {
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason"`
}

// HandleAuroraBooking mints the booking reward for a confirmed stay.
func (s *Service) HandleAuroraBooking(ctx context.Context, payload AuroraBookingPayload) (domain.Outcome, error) {
	if payload.BookingID == "" {
		return domain.Outcome{}, &domain.ValidationError{Field: "booking_id", Msg: "booking id is required"}
	}
	if payload.TotalAmount <= 0 {
		return domain.Outcome{}, &domain.ValidationError{Field: "total_amount", Msg: "booking total must be positive"}
	}

	tokens := rewards.BookingReward(payload.TotalAmount, payload.Nights)
	amount := domain.TokensToWei(tokens)
	return s.Process(ctx, domain.RewardEvent{
		Kind:           domain.OperationMint,
		Source:         domain.SourceAurora,
		SourceID:       payload.BookingID,
		AccountRef:     payload.MemberRef,
		Amount:         amount,
		Reason:         fmt.Sprintf("Booking reward for %s", payload.BookingID),
		IdempotencyKey: fmt.Sprintf("aurora_booking_%s", payload.BookingID),
	})
}

// HandleAuroraReview mints the review bonus. Ratings below the positive
// threshold are acknowledged without minting.
func (s *Service) HandleAuroraReview(ctx context.Context, payload AuroraReviewPayload) (domain.Outcome, error) {
	if payload.ReviewID == "" {
		return domain.Outcome{}, &domain.ValidationError{Field: "review_id", Msg: "review id is required"}
	}

	tokens := rewards.ReviewBonus(payload.Rating)
	if tokens == 0 {
		return domain.Outcome{Status: domain.OutcomeSkipped}, nil
	}
	amount := domain.TokensToWei(tokens)
	return s.Process(ctx, domain.RewardEvent{
		Kind:           domain.OperationMint,
		Source:         domain.SourceAurora,
		SourceID:       payload.ReviewID,
		AccountRef:     payload.MemberRef,
		Amount:         amount,
		Reason:         fmt.Sprintf("Review bonus for booking %s", payload.BookingID),
		IdempotencyKey: fmt.Sprintf("aurora_review_%s", payload.ReviewID),
	})
}

// HandleAuroraCancellation reverses a previously confirmed booking reward by
// burning the minted amount from the member's wallet.
func (s *Service) HandleAuroraCancellation(ctx context.Context, payload AuroraCancellationPayload) (domain.Outcome, error) {
	if payload.BookingID == "" {
		return domain.Outcome{}, &domain.ValidationError{Field: "booking_id", Msg: "booking id is required"}
	}

	entry, err := s.repo.FindLedgerEntryByKey(ctx, fmt.Sprintf("aurora_booking_%s", payload.BookingID))
	if err != nil {
		if errors.Is(err, store.ErrEntryNotFound) {
			// Nothing was minted for this booking, nothing to reverse.
			return domain.Outcome{Status: domain.OutcomeSkipped}, nil
		}
		return domain.Outcome{}, fmt.Errorf("lookup booking reward: %w", err)
	}
	if entry.Status != domain.SubmissionConfirmed {
		return domain.Outcome{Status: domain.OutcomeSkipped}, nil
	}

	return s.Process(ctx, domain.RewardEvent{
		Kind:           domain.OperationBurn,
		Source:         domain.SourceAurora,
		SourceID:       payload.BookingID,
		AccountRef:     entry.Account,
		Amount:         entry.Amount,
		Reason:         fmt.Sprintf("Reversal of booking reward for %s", payload.BookingID),
		IdempotencyKey: fmt.Sprintf("aurora_cancel_%s", payload.BookingID),
	})
}
