/**
 * @description
 * Translators for Tribe community-app webhooks: event attendance, content
 * contributions, coaching milestones, referrals and governance staking.
 */

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/havenlabs/token-service/internal/domain"
	"github.com/havenlabs/token-service/internal/rewards"
)

// TribeAttendancePayload is the body of Tribe's event.attended webhook.
type TribeAttendancePayload struct {
	AttendanceID string `json:"attendance_id"`
	MemberRef    string `json:"member_ref"`
	EventType    string `json:"event_type"`
	EventName    string `json:"event_name"`
}

// TribeContributionPayload is the body of Tribe's contribution.created webhook.
type TribeContributionPayload struct {
	ContributionID   string  `json:"contribution_id"`
	MemberRef        string  `json:"member_ref"`
	ContributionType string  `json:"contribution_type"`
	QualityScore     float64 `json:"quality_score"`
}

// TribeCoachingPayload is the body of Tribe's coaching.completed webhook.
type TribeCoachingPayload struct {
	SessionID string `json:"session_id"`
	MemberRef string `json:"member_ref"`
	Tier      string `json:"tier"`
}

// TribeReferralPayload is the body of Tribe's referral.completed webhook.
type TribeReferralPayload struct {
	ReferralID string `json:"referral_id"`
	MemberRef  string `json:"member_ref"`
	Tier       string `json:"tier"`
}

// TribeStakingPayload is the body of Tribe's staking.started webhook. Amount
// is a decimal token string.
type TribeStakingPayload struct {
	StakeID   string `json:"stake_id"`
	MemberRef string `json:"member_ref"`
	Amount    string `json:"amount"`
}

// HandleTribeAttendance mints the attendance reward for a Tribe event.
func (s *Service) HandleTribeAttendance(ctx context.Context, payload TribeAttendancePayload) (domain.Outcome, error) {
	if payload.AttendanceID == "" {
		return domain.Outcome{}, &domain.ValidationError{Field: "attendance_id", Msg: "attendance id is required"}
	}

	amount := domain.TokensToWei(rewards.AttendanceReward(payload.EventType))
	reason := fmt.Sprintf("Attendance reward (%s)", payload.EventType)
	if payload.EventName != "" {
		reason = fmt.Sprintf("Attendance reward for %s", payload.EventName)
	}
	return s.Process(ctx, domain.RewardEvent{
		Kind:           domain.OperationMint,
		Source:         domain.SourceTribe,
		SourceID:       payload.AttendanceID,
		AccountRef:     payload.MemberRef,
		Amount:         amount,
		Reason:         reason,
		IdempotencyKey: fmt.Sprintf("tribe_event_%s", payload.AttendanceID),
	})
}

// HandleTribeContribution mints the quality-scaled contribution reward.
func (s *Service) HandleTribeContribution(ctx context.Context, payload TribeContributionPayload) (domain.Outcome, error) {
	if payload.ContributionID == "" {
		return domain.Outcome{}, &domain.ValidationError{Field: "contribution_id", Msg: "contribution id is required"}
	}

	amount := domain.TokensToWei(rewards.ContributionReward(payload.ContributionType, payload.QualityScore))
	return s.Process(ctx, domain.RewardEvent{
		Kind:           domain.OperationMint,
		Source:         domain.SourceTribe,
		SourceID:       payload.ContributionID,
		AccountRef:     payload.MemberRef,
		Amount:         amount,
		Reason:         fmt.Sprintf("Contribution reward (%s)", payload.ContributionType),
		IdempotencyKey: fmt.Sprintf("tribe_contribution_%s", payload.ContributionID),
	})
}

// HandleTribeCoaching mints the coaching milestone reward.
func (s *Service) HandleTribeCoaching(ctx context.Context, payload TribeCoachingPayload) (domain.Outcome, error) {
	if payload.SessionID == "" {
		return domain.Outcome{}, &domain.ValidationError{Field: "session_id", Msg: "session id is required"}
	}

	amount := domain.TokensToWei(rewards.CoachingReward(payload.Tier))
	return s.Process(ctx, domain.RewardEvent{
		Kind:           domain.OperationMint,
		Source:         domain.SourceTribe,
		SourceID:       payload.SessionID,
		AccountRef:     payload.MemberRef,
		Amount:         amount,
		Reason:         fmt.Sprintf("Coaching milestone (%s)", payload.Tier),
		IdempotencyKey: fmt.Sprintf("tribe_coaching_%s", payload.SessionID),
	})
}

// HandleTribeReferral mints the referral reward.
func (s *Service) HandleTribeReferral(ctx context.Context, payload TribeReferralPayload) (domain.Outcome, error) {
	if payload.ReferralID == "" {
		return domain.Outcome{}, &domain.ValidationError{Field: "referral_id", Msg: "referral id is required"}
	}

	amount := domain.TokensToWei(rewards.ReferralReward(payload.Tier))
	return s.Process(ctx, domain.RewardEvent{
		Kind:           domain.OperationMint,
		Source:         domain.SourceTribe,
		SourceID:       payload.ReferralID,
		AccountRef:     payload.MemberRef,
		Amount:         amount,
		Reason:         fmt.Sprintf("Referral reward (%s tier)", payload.Tier),
		IdempotencyKey: fmt.Sprintf("tribe_referral_%s", payload.ReferralID),
	})
}

// HandleTribeStakingStarted registers a stake for the weekly yield job. The
// stake itself moves no tokens; replayed webhooks are absorbed by the stake id.
func (s *Service) HandleTribeStakingStarted(ctx context.Context, payload TribeStakingPayload) error {
	if payload.StakeID == "" {
		return &domain.ValidationError{Field: "stake_id", Msg: "stake id is required"}
	}
	if payload.MemberRef == "" {
		return &domain.ValidationError{Field: "member_ref", Msg: "member reference is required"}
	}
	amount, err := domain.ParseAmount(payload.Amount)
	if err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return &domain.ValidationError{Field: "amount", Msg: "staked amount must be positive"}
	}
	return s.repo.CreateStake(ctx, &domain.Stake{
		StakeID:   payload.StakeID,
		MemberRef: payload.MemberRef,
		Amount:    amount,
		Status:    "active",
		StartedAt: time.Now().UTC(),
	})
}
