package stats_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snips/portfolio-engine/internal/ledger"
	"github.com/snips/portfolio-engine/internal/model"
	"github.com/snips/portfolio-engine/internal/stats"
	"github.com/snips/portfolio-engine/internal/store"
	"github.com/snips/portfolio-engine/internal/store/storetest"
)

type fixture struct {
	st  store.Store
	agg *stats.Aggregator
	led *ledger.Engine
	now time.Time
}

func (f *fixture) clock() time.Time { return f.now }

func newFixture(t *testing.T, st store.Store) *fixture {
	t.Helper()
	f := &fixture{st: st, now: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)}
	f.agg = stats.New(st, stats.DefaultConfig(), f.clock)
	f.led = ledger.New(st, ledger.DefaultConfig(), ledger.WithClock(f.clock))
	return f
}

func (f *fixture) portfolio(t *testing.T, userID string) string {
	t.Helper()
	storetest.SeedUser(t, f.st, userID, false)
	p, err := f.led.CreatePortfolio(context.Background(), userID, "char", "main")
	require.NoError(t, err)
	return p.ID
}

func (f *fixture) trade(t *testing.T, pid string, typ model.TransactionType, qty, price string) {
	t.Helper()
	storetest.SeedPrice(t, f.st, "AAPL", price)
	_, err := f.led.PlaceTrade(context.Background(), pid, "AAPL", typ, decimal.RequireFromString(qty), nil)
	require.NoError(t, err)
}

func TestRefresh_ComputesFromLedger(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	pid := f.portfolio(t, "u1")
	f.trade(t, pid, model.TxBuy, "10", "50")
	f.trade(t, pid, model.TxSell, "4", "60")
	storetest.SeedPrice(t, f.st, "AAPL", "45")

	s, err := f.agg.Refresh(context.Background(), pid, 0)
	require.NoError(t, err)
	// cash 740 + 6*45; gain = 240 + 270 - 500
	storetest.RequireDecimal(t, "1010", s.NetWorth)
	storetest.RequireDecimal(t, "500", s.BookValue)
	storetest.RequireDecimal(t, "10", s.Gain)
	assert.True(t, s.UpdatedAt.Equal(f.now))
}

func TestRefresh_Staleness(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	ctx := context.Background()
	pid := f.portfolio(t, "u1")
	timeout := time.Minute

	first, err := f.agg.Refresh(ctx, pid, timeout)
	require.NoError(t, err)
	storetest.RequireDecimal(t, "1000", first.NetWorth)

	f.trade(t, pid, model.TxBuy, "10", "50")
	storetest.SeedPrice(t, f.st, "AAPL", "60")

	f.now = f.now.Add(timeout)
	s, err := f.agg.Refresh(ctx, pid, timeout)
	require.NoError(t, err)
	storetest.RequireDecimal(t, "1000", s.NetWorth, "still fresh at exactly the timeout")

	f.now = f.now.Add(time.Second)
	s, err = f.agg.Refresh(ctx, pid, timeout)
	require.NoError(t, err)
	storetest.RequireDecimal(t, "1100", s.NetWorth)

	storetest.SeedPrice(t, f.st, "AAPL", "70")
	s, err = f.agg.Refresh(ctx, pid, 0)
	require.NoError(t, err)
	storetest.RequireDecimal(t, "1200", s.NetWorth, "zero timeout forces a recompute")
}

func TestRefresh_SkipsUnpricedHoldings(t *testing.T) {
	ms := store.NewMemoryStore()
	f := newFixture(t, ms)
	pid := f.portfolio(t, "u1")
	f.trade(t, pid, model.TxBuy, "10", "50")

	require.NoError(t, ms.RunInTx(context.Background(), func(q store.Queries) error {
		h, err := q.GetHolding(context.Background(), pid, "AAPL")
		if err != nil {
			return err
		}
		h.InstrumentID = "DELISTED"
		return q.InsertHolding(context.Background(), h)
	}))

	s, err := f.agg.Refresh(context.Background(), pid, 0)
	require.NoError(t, err)
	storetest.RequireDecimal(t, "1000", s.NetWorth)
}

func TestRefresh_FailureLeavesStatsUntouched(t *testing.T) {
	faulty := storetest.NewFaulty(store.NewMemoryStore())
	f := newFixture(t, faulty)
	pid := f.portfolio(t, "u1")

	faulty.FailOn("InsertStats")
	_, err := f.agg.Refresh(context.Background(), pid, 0)
	require.ErrorIs(t, err, store.ErrStorage)

	faulty.Reset()
	err = faulty.View(context.Background(), func(q store.Queries) error {
		_, err := q.GetStats(context.Background(), pid)
		return err
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestGet_ComputesMissingThenServesStored(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	ctx := context.Background()
	pid := f.portfolio(t, "u1")

	s, err := f.agg.Get(ctx, pid)
	require.NoError(t, err)
	storetest.RequireDecimal(t, "1000", s.NetWorth)

	f.trade(t, pid, model.TxBuy, "10", "50")
	storetest.SeedPrice(t, f.st, "AAPL", "60")
	f.now = f.now.Add(time.Hour)

	s, err = f.agg.Get(ctx, pid)
	require.NoError(t, err)
	storetest.RequireDecimal(t, "1000", s.NetWorth, "stored row served first")

	f.agg.Wait()
	s, err = f.agg.Get(ctx, pid)
	require.NoError(t, err)
	storetest.RequireDecimal(t, "1100", s.NetWorth)
	f.agg.Wait()
}

func TestRefreshAllAndLeaderboard(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	ctx := context.Background()
	winner := f.portfolio(t, "u1")
	loser := f.portfolio(t, "u2")
	f.trade(t, winner, model.TxBuy, "10", "50")
	f.trade(t, loser, model.TxBuy, "10", "50")
	f.trade(t, loser, model.TxSell, "10", "40")
	storetest.SeedPrice(t, f.st, "AAPL", "80")

	n, err := f.agg.RefreshAll(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	top, err := f.agg.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, winner, top[0].PortfolioID)
	storetest.RequireDecimal(t, "300", top[0].Gain)
	storetest.RequireDecimal(t, "-100", top[1].Gain)
	assert.Equal(t, loser, top[1].PortfolioID)
}
