package account_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snips/portfolio-engine/internal/account"
	"github.com/snips/portfolio-engine/internal/ledger"
	"github.com/snips/portfolio-engine/internal/model"
	"github.com/snips/portfolio-engine/internal/stats"
	"github.com/snips/portfolio-engine/internal/store"
	"github.com/snips/portfolio-engine/internal/store/storetest"
	"github.com/snips/portfolio-engine/internal/xp"
)

type fixture struct {
	ms  *store.MemoryStore
	svc *account.Service
	xp  *xp.Engine
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{ms: store.NewMemoryStore(), now: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	f.xp = xp.New(f.ms, xp.DefaultConfig(), nil, clock)
	f.svc = account.New(f.ms, account.DefaultConfig(), f.xp, clock)
	return f
}

func (f *fixture) signup(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := f.svc.Signup(context.Background(), id, "Player "+id)
		require.NoError(t, err)
	}
}

func TestSignup(t *testing.T) {
	f := newFixture(t)

	u, err := f.svc.Signup(context.Background(), "u1", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.DisplayName)
	assert.Equal(t, model.UserActive, u.Status)
	assert.EqualValues(t, 1000, u.CreditBalance)
	assert.EqualValues(t, 500, u.XPTotal)
	assert.False(t, u.IsPremium)

	_, err = f.svc.Signup(context.Background(), "u1", "Again")
	require.ErrorIs(t, err, store.ErrStorage)
}

func TestSignup_WithoutXPEngine(t *testing.T) {
	svc := account.New(store.NewMemoryStore(), account.DefaultConfig(), nil, nil)
	u, err := svc.Signup(context.Background(), "u1", "Alice")
	require.NoError(t, err)
	assert.Zero(t, u.XPTotal)
}

func TestSetReferrer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "referrer", "newbie")

	require.NoError(t, f.svc.SetReferrer(ctx, "newbie", "referrer"))

	newbie := storetest.User(t, f.ms, "newbie")
	require.NotNil(t, newbie.ReferrerID)
	assert.Equal(t, "referrer", *newbie.ReferrerID)
	assert.EqualValues(t, 500+10000, newbie.XPTotal)
	assert.EqualValues(t, 500+1000, storetest.User(t, f.ms, "referrer").XPTotal)

	err := f.svc.SetReferrer(ctx, "newbie", "referrer")
	require.ErrorIs(t, err, account.ErrReferrerAlreadySet)
}

func TestSetReferrer_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "a", "b", "c")
	require.NoError(t, f.svc.SetReferrer(ctx, "b", "a"))
	require.NoError(t, f.svc.SetReferrer(ctx, "c", "b"))

	require.ErrorIs(t, f.svc.SetReferrer(ctx, "a", "a"), account.ErrSelfReferral)
	require.ErrorIs(t, f.svc.SetReferrer(ctx, "a", "c"), account.ErrReferralCycle)
	require.ErrorIs(t, f.svc.SetReferrer(ctx, "a", "ghost"), store.ErrNotFound)

	assert.Nil(t, storetest.User(t, f.ms, "a").ReferrerID)
}

func TestChargeAIMessage_ClampsAtZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "u1")

	balance, err := f.svc.ChargeAIMessage(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 900, balance)

	for range 9 {
		_, err = f.svc.ChargeAIMessage(ctx, "u1")
		require.NoError(t, err)
	}
	balance, err = f.svc.ChargeAIMessage(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, balance)

	assert.EqualValues(t, 500+11*200, storetest.User(t, f.ms, "u1").XPTotal)

	_, err = f.svc.ChargeAIMessage(ctx, "ghost")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSetPremium_CreditsOncePerActivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "u1")

	u, err := f.svc.SetPremium(ctx, "u1", true)
	require.NoError(t, err)
	assert.True(t, u.IsPremium)
	assert.Equal(t, model.PlanPremium, u.Plan())
	assert.EqualValues(t, 16000, u.CreditBalance)

	u, err = f.svc.SetPremium(ctx, "u1", true)
	require.NoError(t, err)
	assert.EqualValues(t, 16000, u.CreditBalance)

	u, err = f.svc.SetPremium(ctx, "u1", false)
	require.NoError(t, err)
	assert.False(t, u.IsPremium)
	assert.EqualValues(t, 16000, u.CreditBalance)
}

func TestRefillCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "low", "full")
	for range 3 {
		_, err := f.svc.ChargeAIMessage(ctx, "low")
		require.NoError(t, err)
	}

	n, err := f.svc.RefillCredits(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.EqualValues(t, 1000, storetest.User(t, f.ms, "low").CreditBalance)
}

func TestDeleteAccount_Cascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "gone", "referee")
	require.NoError(t, f.svc.SetReferrer(ctx, "referee", "gone"))

	clock := func() time.Time { return f.now }
	agg := stats.New(f.ms, stats.DefaultConfig(), clock)
	led := ledger.New(f.ms, ledger.DefaultConfig(), ledger.WithClock(clock), ledger.WithStats(agg))
	p, err := led.CreatePortfolio(ctx, "gone", "char", "main")
	require.NoError(t, err)
	storetest.SeedPrice(t, f.ms, "AAPL", "10")
	_, err = led.PlaceTrade(ctx, p.ID, "AAPL", model.TxBuy, decimal.NewFromInt(3), nil)
	require.NoError(t, err)
	_, err = f.xp.CompleteLesson(ctx, "gone", "intro")
	require.NoError(t, err)
	_, err = f.xp.SnapshotSeason(ctx, "season-2026-02", 10)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteAccount(ctx, "gone"))

	_, err = f.svc.GetUser(ctx, "gone")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = led.GetPortfolio(ctx, p.ID, "gone")
	require.ErrorIs(t, err, store.ErrNotFound)
	for _, s := range f.ms.Snapshots() {
		assert.NotEqual(t, "gone", s.UserID)
	}

	referee := storetest.User(t, f.ms, "referee")
	assert.Nil(t, referee.ReferrerID)

	require.ErrorIs(t, f.svc.DeleteAccount(ctx, "gone"), store.ErrNotFound)
}
