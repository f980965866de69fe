/**
 * @description
 * Pure reward-rule functions mapping partner domain events to HNV token
 * amounts. These implement the published tokenomics and have no side effects;
 * the reward processor treats their output as an opaque amount to mint or burn.
 */

package rewards

import "math/big"

// Booking rewards: 2 HNV per CAD spent, +20% for multi-night stays.
const (
	TokensPerCAD        = 2.0
	MultiNightBonus     = 0.20
	ReviewBonusTokens   = 50.0
	MinPositiveRating   = 4
	RedemptionBurnShare = 0.02 // 2% of a redemption is burned, the rest pays out
)

// BookingReward returns the mint amount for a confirmed booking.
func BookingReward(bookingTotalCAD float64, nights int) float64 {
	base := bookingTotalCAD * TokensPerCAD
	if nights > 1 {
		base *= 1.0 + MultiNightBonus
	}
	return base
}

// ReviewBonus returns the bonus for a submitted review. Ratings below four
// stars earn nothing.
func ReviewBonus(rating int) float64 {
	if rating >= MinPositiveRating {
		return ReviewBonusTokens
	}
	return 0
}

var attendanceRewards = map[string]float64{
	"wisdom_circle": 100.0,
	"workshop":      75.0,
	"networking":    50.0,
	"general":       25.0,
}

// AttendanceReward returns the mint amount for attending a Tribe event.
// Unknown event types fall back to the general rate.
func AttendanceReward(eventType string) float64 {
	if r, ok := attendanceRewards[eventType]; ok {
		return r
	}
	return attendanceRewards["general"]
}

var contributionBase = map[string]float64{
	"post":     10.0,
	"comment":  5.0,
	"resource": 15.0,
	"guide":    25.0,
}

// ContributionReward scales a base amount per contribution type by the
// community quality score, clamped to [0.5, 2.0].
func ContributionReward(contributionType string, qualityScore float64) float64 {
	base, ok := contributionBase[contributionType]
	if !ok {
		base = 5.0
	}
	if qualityScore < 0.5 {
		qualityScore = 0.5
	}
	if qualityScore > 2.0 {
		qualityScore = 2.0
	}
	return base * qualityScore
}

var coachingTiers = map[string]float64{
	"basic":        100.0,
	"intermediate": 175.0,
	"advanced":     250.0,
}

// CoachingReward returns the mint amount for a completed coaching milestone.
func CoachingReward(tier string) float64 {
	if r, ok := coachingTiers[tier]; ok {
		return r
	}
	return coachingTiers["basic"]
}

var referralTiers = map[string]float64{
	"bronze": 100.0,
	"silver": 250.0,
	"gold":   500.0,
}

// ReferralReward returns the mint amount for a successful referral.
func ReferralReward(tier string) float64 {
	if r, ok := referralTiers[tier]; ok {
		return r
	}
	return referralTiers["bronze"]
}

// StakingWeeklyRate is the weekly slice of the 10% annual staking yield.
const StakingWeeklyRate = 0.10 / 52

// StakingYield returns one week of yield on a staked amount (in whole tokens).
func StakingYield(stakedTokens float64) float64 {
	return stakedTokens * StakingWeeklyRate
}

// StakingYieldWei returns one week of yield on a staked amount held in the
// token's smallest unit. 10% APY over 52 weeks is exactly amount/520, computed
// in integer space so large stakes lose no precision.
func StakingYieldWei(stakedWei *big.Int) *big.Int {
	if stakedWei == nil || stakedWei.Sign() <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Div(stakedWei, big.NewInt(520))
}

// RedemptionPayout returns the fiat-payout share of a redeemed amount held in
// the token's smallest unit, after the burn fee.
func RedemptionPayout(redeemedWei *big.Int) *big.Int {
	if redeemedWei == nil || redeemedWei.Sign() <= 0 {
		return new(big.Int)
	}
	payout := new(big.Int).Mul(redeemedWei, big.NewInt(100-int64(RedemptionBurnShare*100)))
	return payout.Div(payout, big.NewInt(100))
}
