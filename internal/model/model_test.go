package model_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snips/portfolio-engine/internal/model"
)

func TestParsers(t *testing.T) {
	typ, err := model.ParseTradeType("BUY")
	require.NoError(t, err)
	assert.Equal(t, model.TxBuy, typ)
	_, err = model.ParseTradeType("dividend")
	assert.Error(t, err)

	plan, err := model.ParsePlan("premium_plan")
	require.NoError(t, err)
	assert.Equal(t, model.PlanPremium, plan)
	_, err = model.ParsePlan("gold")
	assert.ErrorIs(t, err, model.ErrConfiguration)

	tier, err := model.ParseRewardTier("reward_weekly")
	require.NoError(t, err)
	assert.Equal(t, model.TierWeekly, tier)
	assert.Equal(t, model.TxRewardWeekly, tier.TransactionType())
	_, err = model.ParseRewardTier("REWARD_HOURLY")
	assert.ErrorIs(t, err, model.ErrConfiguration)

	tf, err := model.ParseTimeframe("1week")
	require.NoError(t, err)
	assert.Equal(t, model.Timeframe1Week, tf)
	_, err = model.ParseTimeframe("1MIN")
	assert.ErrorIs(t, err, model.ErrConfiguration)

	fp, err := model.ParseFiscalPeriod("Quarter")
	require.NoError(t, err)
	assert.Equal(t, model.FiscalQuarter, fp)
	_, err = model.ParseFiscalPeriod("semester")
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestTransactionType_IsTrade(t *testing.T) {
	assert.True(t, model.TxBuy.IsTrade())
	assert.True(t, model.TxSell.IsTrade())
	for _, typ := range []model.TransactionType{model.TxDividend, model.TxBonus, model.TxRewardDaily, model.TxRewardPromo} {
		assert.False(t, typ.IsTrade(), typ)
	}
}

func TestPortfolio_LastClaimed(t *testing.T) {
	var p model.Portfolio
	at := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	for _, tier := range model.RewardTiers {
		assert.Nil(t, p.LastClaimed(tier))
	}
	p.SetLastClaimed(model.TierDaily, at)
	require.NotNil(t, p.LastClaimed(model.TierDaily))
	assert.True(t, p.LastClaimed(model.TierDaily).Equal(at))
	assert.Nil(t, p.LastClaimed(model.TierWeekly))
	assert.Nil(t, p.LastClaimed(model.RewardTier("bogus")))
}

func TestPortfolioTransaction_Helpers(t *testing.T) {
	empty := ""
	tx := model.PortfolioTransaction{
		Quantity: decimal.NewFromInt(4),
		Value:    decimal.NewNullDecimal(decimal.NewFromInt(240)),
		Status:   model.StatusPending,
		Message:  &empty,
	}
	assert.True(t, tx.IsPending())
	assert.False(t, tx.HasMessage())
	assert.True(t, tx.UnitPrice().Equal(decimal.NewFromInt(60)))

	tx.Value = decimal.NullDecimal{}
	assert.True(t, tx.UnitPrice().IsZero())
}

func TestHolding_BookCost(t *testing.T) {
	h := model.Holding{Quantity: decimal.NewFromInt(8), AveragePrice: decimal.RequireFromString("52.5")}
	assert.True(t, h.BookCost().Equal(decimal.NewFromInt(420)))
}

func TestUser_Plan(t *testing.T) {
	assert.Equal(t, model.PlanFree, (&model.User{}).Plan())
	assert.Equal(t, model.PlanPremium, (&model.User{IsPremium: true}).Plan())
}
