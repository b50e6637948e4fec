package rewards

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/snips/portfolio-engine/internal/model"
)

var (
	ErrUnknownTier = fmt.Errorf("%w: unknown reward tier", model.ErrConfiguration)
	ErrUnknownPlan = fmt.Errorf("%w: unknown plan", model.ErrConfiguration)
	// ErrNotEligible is returned when a tier was claimed too recently.
	ErrNotEligible = errors.New("rewards: not eligible yet")
)

// Schedule is the static reward table: amount per tier and plan.
type Schedule map[model.RewardTier]map[model.Plan]decimal.Decimal

// DefaultSchedule returns the built-in reward table.
func DefaultSchedule() Schedule {
	return Schedule{
		model.TierWeekly: {
			model.PlanFree:    decimal.NewFromInt(1000),
			model.PlanPremium: decimal.NewFromInt(1000),
		},
		model.TierDaily: {
			model.PlanFree:    decimal.NewFromInt(100),
			model.PlanPremium: decimal.NewFromInt(100),
		},
		model.TierIntraday: {
			model.PlanFree:    decimal.NewFromInt(50),
			model.PlanPremium: decimal.NewFromInt(50),
		},
	}
}

// ParseSchedule decodes a JSON document of the form
//
//	{"REWARD_DAILY": {"FREE_PLAN": "100", "PREMIUM_PLAN": "150"}, ...}
//
// Every tier and plan must be present and every amount positive.
func ParseSchedule(doc []byte) (Schedule, error) {
	var raw map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("%w: reward schedule: %v", model.ErrConfiguration, err)
	}

	s := make(Schedule, len(raw))
	for tierName, plans := range raw {
		tier, err := model.ParseRewardTier(tierName)
		if err != nil {
			return nil, err
		}
		s[tier] = make(map[model.Plan]decimal.Decimal, len(plans))
		for planName, amount := range plans {
			plan, err := model.ParsePlan(planName)
			if err != nil {
				return nil, err
			}
			if !amount.IsPositive() {
				return nil, fmt.Errorf("%w: reward %s/%s amount %s", model.ErrConfiguration, tier, plan, amount)
			}
			s[tier][plan] = amount
		}
	}
	return s, s.validate()
}

func (s Schedule) validate() error {
	for _, tier := range model.RewardTiers {
		for _, plan := range []model.Plan{model.PlanFree, model.PlanPremium} {
			if _, err := s.Amount(tier, plan); err != nil {
				return err
			}
		}
	}
	return nil
}

// Amount looks up the reward for a tier on a plan.
func (s Schedule) Amount(tier model.RewardTier, plan model.Plan) (decimal.Decimal, error) {
	plans, ok := s[tier]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w %q", ErrUnknownTier, tier)
	}
	amount, ok := plans[plan]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w %q for %s", ErrUnknownPlan, plan, tier)
	}
	return amount, nil
}

// Eligible reports whether a tier last claimed at last may be claimed at now.
func Eligible(last *time.Time, interval time.Duration, now time.Time) bool {
	return last == nil || !last.After(now.Add(-interval))
}
