package rewards_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snips/portfolio-engine/internal/events"
	"github.com/snips/portfolio-engine/internal/ledger"
	"github.com/snips/portfolio-engine/internal/model"
	"github.com/snips/portfolio-engine/internal/rewards"
	"github.com/snips/portfolio-engine/internal/stats"
	"github.com/snips/portfolio-engine/internal/store"
	"github.com/snips/portfolio-engine/internal/store/storetest"
	"github.com/snips/portfolio-engine/internal/xp"
)

type fixture struct {
	st  store.Store
	eng *rewards.Engine
	now time.Time
	pid string
}

func (f *fixture) clock() time.Time { return f.now }

func newFixture(t *testing.T, premium bool) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	f := &fixture{st: st, now: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)}

	storetest.SeedUser(t, st, "u1", premium)
	led := ledger.New(st, ledger.DefaultConfig(), ledger.WithClock(f.clock))
	p, err := led.CreatePortfolio(context.Background(), "u1", "char", "main")
	require.NoError(t, err)
	f.pid = p.ID

	f.eng, err = rewards.New(st, rewards.DefaultConfig(),
		rewards.WithClock(f.clock),
		rewards.WithXP(xp.New(st, xp.DefaultConfig(), nil, f.clock)),
		rewards.WithStats(stats.New(st, stats.DefaultConfig(), f.clock)),
	)
	require.NoError(t, err)
	return f
}

func TestClaimAll_FirstSweepClaimsEveryTier(t *testing.T) {
	f := newFixture(t, false)

	res, err := f.eng.ClaimAll(context.Background(), f.pid, "u1")
	require.NoError(t, err)
	storetest.RequireDecimal(t, "1150", res.TotalClaimed)
	assert.EqualValues(t, 300, res.XPEarned)
	require.Len(t, res.Claims, 3)

	p := storetest.Portfolio(t, f.st, f.pid)
	storetest.RequireDecimal(t, "2150", p.CashBalance)
	for _, tier := range model.RewardTiers {
		require.NotNil(t, p.LastClaimed(tier), tier)
		assert.True(t, p.LastClaimed(tier).Equal(f.now))
	}
	assert.EqualValues(t, 300, storetest.User(t, f.st, "u1").XPTotal)

	again, err := f.eng.ClaimAll(context.Background(), f.pid, "u1")
	require.NoError(t, err)
	assert.True(t, again.TotalClaimed.IsZero())
	assert.Empty(t, again.Claims)
}

func TestClaim_DailyInterval(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	start := f.now

	_, err := f.eng.Claim(ctx, f.pid, "u1", model.TierDaily)
	require.NoError(t, err)

	f.now = start.Add(17 * time.Hour)
	_, err = f.eng.Claim(ctx, f.pid, "u1", model.TierDaily)
	require.ErrorIs(t, err, rewards.ErrNotEligible)

	f.now = start.Add(18 * time.Hour)
	c, err := f.eng.Claim(ctx, f.pid, "u1", model.TierDaily)
	require.NoError(t, err)
	storetest.RequireDecimal(t, "100", c.Amount)
	assert.Equal(t, model.TransactionType(model.TierDaily), c.Transaction.Type)
	assert.Equal(t, model.StatusExecuted, c.Transaction.Status)

	storetest.RequireDecimal(t, "1200", storetest.Portfolio(t, f.st, f.pid).CashBalance)
}

func TestClaim_RejectsForeignAndDeletedPortfolios(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	storetest.SeedUser(t, f.st, "u2", false)

	_, err := f.eng.Claim(ctx, f.pid, "u2", model.TierDaily)
	require.ErrorIs(t, err, ledger.ErrNotOwner)

	_, err = f.eng.Claim(ctx, f.pid, "u1", model.RewardTier("REWARD_HOURLY"))
	require.ErrorIs(t, err, model.ErrConfiguration)

	led := ledger.New(f.st, ledger.DefaultConfig())
	require.NoError(t, led.DeletePortfolio(ctx, f.pid, "u1"))
	_, err = f.eng.Claim(ctx, f.pid, "u1", model.TierDaily)
	require.ErrorIs(t, err, ledger.ErrPortfolioInactive)
}

func TestClaim_XPFailureDoesNotFailClaim(t *testing.T) {
	ms := store.NewMemoryStore()
	faulty := storetest.NewFaulty(ms)
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	storetest.SeedUser(t, ms, "u1", false)
	p, err := ledger.New(ms, ledger.DefaultConfig(), ledger.WithClock(clock)).
		CreatePortfolio(context.Background(), "u1", "char", "main")
	require.NoError(t, err)

	eng, err := rewards.New(ms, rewards.DefaultConfig(),
		rewards.WithClock(clock),
		rewards.WithXP(xp.New(faulty, xp.DefaultConfig(), nil, clock)),
	)
	require.NoError(t, err)

	faulty.FailOn("InsertXPTransaction")
	c, err := eng.Claim(context.Background(), p.ID, "u1", model.TierWeekly)
	require.NoError(t, err)
	assert.Zero(t, c.XP)
	storetest.RequireDecimal(t, "2000", storetest.Portfolio(t, ms, p.ID).CashBalance)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.eng.Claim(ctx, f.pid, "u1", model.TierIntraday)
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	status, err := f.eng.Status(ctx, f.pid, "u1")
	require.NoError(t, err)
	require.Len(t, status, 3)

	byTier := map[model.RewardTier]rewards.TierStatus{}
	for _, s := range status {
		byTier[s.Tier] = s
	}
	assert.True(t, byTier[model.TierWeekly].Eligible)
	assert.Nil(t, byTier[model.TierWeekly].NextEligibleAt)
	storetest.RequireDecimal(t, "1000", byTier[model.TierWeekly].Amount)

	intraday := byTier[model.TierIntraday]
	assert.False(t, intraday.Eligible)
	require.NotNil(t, intraday.NextEligibleAt)
	assert.True(t, intraday.NextEligibleAt.Equal(intraday.LastClaimed.Add(115*time.Minute)))
}

type recorder []events.Event

func (r *recorder) Publish(_ context.Context, ev events.Event) { *r = append(*r, ev) }

func TestClaim_PublishesRewardClaimed(t *testing.T) {
	f := newFixture(t, false)
	var rec recorder
	eng, err := rewards.New(f.st, rewards.DefaultConfig(), rewards.WithClock(f.clock), rewards.WithPublisher(&rec))
	require.NoError(t, err)

	_, err = eng.Claim(context.Background(), f.pid, "u1", model.TierDaily)
	require.NoError(t, err)

	require.Len(t, rec, 1)
	assert.Equal(t, events.RewardClaimed, rec[0].Type)
	assert.Equal(t, "u1", rec[0].UserID)
	assert.Equal(t, f.pid, rec[0].PortfolioID)
	assert.Equal(t, f.now, rec[0].At)
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	cfg := rewards.DefaultConfig()
	cfg.Schedule = `{"REWARD_DAILY": {"FREE_PLAN": "100"}}`
	_, err := rewards.New(store.NewMemoryStore(), cfg)
	require.ErrorIs(t, err, model.ErrConfiguration)
}
