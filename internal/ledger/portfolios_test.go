package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snips/portfolio-engine/internal/ledger"
	"github.com/snips/portfolio-engine/internal/model"
	"github.com/snips/portfolio-engine/internal/store"
	"github.com/snips/portfolio-engine/internal/store/storetest"
)

func TestCreatePortfolio_Defaults(t *testing.T) {
	f := newFixture(t)
	p := storetest.Portfolio(t, f.st, f.pid)

	assert.Equal(t, f.user, p.UserID)
	assert.Equal(t, model.PortfolioActive, p.Status)
	assert.True(t, p.IsPublic)
	storetest.RequireDecimal(t, "1000", p.CashBalance)
	assert.Nil(t, p.LastClaimedDaily)
}

func TestCreatePortfolio_PlanCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.eng.CreatePortfolio(ctx, f.user, "char-2", "second")
	require.ErrorIs(t, err, ledger.ErrPortfolioLimit)

	storetest.SeedUser(t, f.st, "vip", true)
	for i := range 5 {
		_, err := f.eng.CreatePortfolio(ctx, "vip", "char", "p")
		require.NoError(t, err, "portfolio %d", i)
	}
	_, err = f.eng.CreatePortfolio(ctx, "vip", "char", "p")
	require.ErrorIs(t, err, ledger.ErrPortfolioLimit)
}

func TestCreatePortfolio_DeletedDoNotCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.eng.DeletePortfolio(ctx, f.pid, f.user))
	_, err := f.eng.CreatePortfolio(ctx, f.user, "char-2", "second")
	require.NoError(t, err)
}

func TestGetPortfolio_Visibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	private := false
	_, err := f.eng.UpdatePortfolio(ctx, f.pid, f.user, ledger.PortfolioUpdate{IsPublic: &private})
	require.NoError(t, err)

	_, err = f.eng.GetPortfolio(ctx, f.pid, "someone-else")
	require.ErrorIs(t, err, store.ErrNotFound)

	p, err := f.eng.GetPortfolio(ctx, f.pid, f.user)
	require.NoError(t, err)
	assert.False(t, p.IsPublic)

	list, err := f.eng.ListPortfolios(ctx, f.user, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = f.eng.ListPortfolios(ctx, f.user, f.user)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUpdatePortfolio(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	name, char := "renamed", "char-9"
	p, err := f.eng.UpdatePortfolio(ctx, f.pid, f.user, ledger.PortfolioUpdate{Name: &name, CharacterID: &char})
	require.NoError(t, err)
	assert.Equal(t, "renamed", p.Name)
	assert.Equal(t, "char-9", p.CharacterID)
	assert.True(t, p.IsPublic)

	_, err = f.eng.UpdatePortfolio(ctx, f.pid, "intruder", ledger.PortfolioUpdate{Name: &name})
	require.ErrorIs(t, err, ledger.ErrNotOwner)
}

func TestDeletePortfolio_SoftDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustTrade(t, model.TxBuy, "1", "10")

	require.ErrorIs(t, f.eng.DeletePortfolio(ctx, f.pid, "intruder"), ledger.ErrNotOwner)
	require.NoError(t, f.eng.DeletePortfolio(ctx, f.pid, f.user))

	p := storetest.Portfolio(t, f.st, f.pid)
	assert.Equal(t, model.PortfolioDeleted, p.Status)
	assert.NotNil(t, f.holding(t), "rows are kept")

	_, err := f.trade(t, model.TxBuy, "1", "10")
	require.ErrorIs(t, err, ledger.ErrPortfolioInactive)
	require.ErrorIs(t, f.eng.DeletePortfolio(ctx, f.pid, f.user), ledger.ErrPortfolioInactive)
}

func TestListHoldings_HidesClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustTrade(t, model.TxBuy, "2", "10")
	f.mustTrade(t, model.TxSell, "2", "10")

	open, err := f.eng.ListHoldings(ctx, f.pid, false)
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := f.eng.ListHoldings(ctx, f.pid, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestListTransactions_NewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.mustTrade(t, model.TxBuy, "1", "10")
	second := f.mustTrade(t, model.TxBuy, "1", "10")

	txs, err := f.eng.ListTransactions(ctx, f.pid, 10, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, second.Transaction.ID, txs[0].ID)
	assert.Equal(t, first.Transaction.ID, txs[1].ID)

	txs, err = f.eng.ListTransactions(ctx, f.pid, 10, 1)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, first.Transaction.ID, txs[0].ID)
}

func TestPublicFeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustTrade(t, model.TxBuy, "1", "10")
	_, err := f.eng.CreditCash(ctx, f.pid, decimal.NewFromInt(5), model.TxRewardPromo)
	require.NoError(t, err)

	feed, err := f.eng.PublicFeed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, feed, 1, "cash credits are not trades")

	private := false
	_, err = f.eng.UpdatePortfolio(ctx, f.pid, f.user, ledger.PortfolioUpdate{IsPublic: &private})
	require.NoError(t, err)
	feed, err = f.eng.PublicFeed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, feed)
}

func TestPriceSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, f.eng.SetPrice(ctx, "BTC", decimal.NewFromInt(60000), day))
	p, err := f.eng.LatestPrice(ctx, "BTC")
	require.NoError(t, err)
	storetest.RequireDecimal(t, "60000", p.Price)

	for i := range 3 {
		require.NoError(t, f.eng.RecordBar(ctx, model.PriceBar{
			InstrumentID: "BTC",
			Timeframe:    model.Timeframe1Day,
			AsOf:         day.AddDate(0, 0, i),
			Close:        decimal.NewFromInt(int64(60000 + i)),
		}))
	}

	bars, err := f.eng.PriceHistory(ctx, "BTC", "1day", day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[0].AsOf.Before(bars[1].AsOf))

	_, err = f.eng.PriceHistory(ctx, "BTC", "5MIN", day)
	require.ErrorIs(t, err, model.ErrConfiguration)

	require.ErrorIs(t, f.eng.SetPrice(ctx, "BTC", decimal.NewFromInt(-1), day), ledger.ErrInvalidAmount)
}
