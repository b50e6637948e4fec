package rewards_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snips/portfolio-engine/internal/model"
	"github.com/snips/portfolio-engine/internal/rewards"
	"github.com/snips/portfolio-engine/internal/store/storetest"
)

func TestParseSchedule(t *testing.T) {
	s, err := rewards.ParseSchedule([]byte(`{
		"REWARD_WEEKLY":   {"FREE_PLAN": "1000", "PREMIUM_PLAN": "2500"},
		"REWARD_DAILY":    {"FREE_PLAN": "100",  "PREMIUM_PLAN": "150"},
		"REWARD_INTRADAY": {"FREE_PLAN": "50",   "PREMIUM_PLAN": "75.5"}
	}`))
	require.NoError(t, err)

	amount, err := s.Amount(model.TierIntraday, model.PlanPremium)
	require.NoError(t, err)
	storetest.RequireDecimal(t, "75.5", amount)
}

func TestParseSchedule_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{`},
		{"unknown tier", `{"REWARD_HOURLY": {"FREE_PLAN": "1"}}`},
		{"unknown plan", `{"REWARD_DAILY": {"GOLD_PLAN": "1"}}`},
		{"zero amount", `{"REWARD_DAILY": {"FREE_PLAN": "0"}}`},
		{"missing tiers", `{"REWARD_DAILY": {"FREE_PLAN": "1", "PREMIUM_PLAN": "1"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rewards.ParseSchedule([]byte(tt.doc))
			require.ErrorIs(t, err, model.ErrConfiguration)
		})
	}
}

func TestDefaultSchedule_IsComplete(t *testing.T) {
	s := rewards.DefaultSchedule()
	want := map[model.RewardTier]string{
		model.TierWeekly:   "1000",
		model.TierDaily:    "100",
		model.TierIntraday: "50",
	}
	for tier, amount := range want {
		for _, plan := range []model.Plan{model.PlanFree, model.PlanPremium} {
			got, err := s.Amount(tier, plan)
			require.NoError(t, err)
			storetest.RequireDecimal(t, amount, got, "%s/%s", tier, plan)
		}
	}
}

func TestEligible(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		ts := now.Add(d)
		return &ts
	}

	assert.True(t, rewards.Eligible(nil, 18*time.Hour, now))
	assert.False(t, rewards.Eligible(at(-17*time.Hour), 18*time.Hour, now))
	assert.True(t, rewards.Eligible(at(-18*time.Hour), 18*time.Hour, now))
	assert.False(t, rewards.Eligible(at(time.Hour), 18*time.Hour, now), "future stamps from clock skew")
}
