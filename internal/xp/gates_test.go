package xp_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snips/portfolio-engine/internal/model"
	"github.com/snips/portfolio-engine/internal/store/storetest"
	"github.com/snips/portfolio-engine/internal/xp"
)

func TestOnBuy_FirstBuyOfInstrumentOnly(t *testing.T) {
	f := newFixture(t, xp.DefaultConfig())
	ctx := context.Background()

	first := f.trade(t, "AAPL", model.TxBuy, "1", "10", nil)
	n, err := f.xp.OnBuy(ctx, first.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 500, n)

	second := f.trade(t, "AAPL", model.TxBuy, "1", "10", nil)
	n, err = f.xp.OnBuy(ctx, second.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOnBuy_DistinctInstrumentCap(t *testing.T) {
	cfg := xp.DefaultConfig()
	cfg.BuyUniqueInstruments = 2
	f := newFixture(t, cfg)
	ctx := context.Background()

	var got []int64
	for _, id := range []string{"AAPL", "MSFT", "TSLA"} {
		tx := f.trade(t, id, model.TxBuy, "1", "10", nil)
		n, err := f.xp.OnBuy(ctx, tx.ID)
		require.NoError(t, err)
		got = append(got, n)
	}
	assert.Equal(t, []int64{500, 500, 0}, got)
}

func TestOnBuy_OutsideWindowCountsAgain(t *testing.T) {
	f := newFixture(t, xp.DefaultConfig())
	ctx := context.Background()

	f.trade(t, "AAPL", model.TxBuy, "1", "10", nil)
	f.now = f.now.Add(25 * time.Hour)
	tx := f.trade(t, "AAPL", model.TxBuy, "1", "10", nil)

	n, err := f.xp.OnBuy(ctx, tx.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 500, n)
}

func TestOnSell_ProfitXPAndDailyCap(t *testing.T) {
	f := newFixture(t, xp.DefaultConfig())
	ctx := context.Background()
	f.trade(t, "AAPL", model.TxBuy, "20", "50", nil)

	// gain = (54 - 50) * 10 = 40
	sell := f.trade(t, "AAPL", model.TxSell, "10", "54", nil)
	n, err := f.xp.OnSell(ctx, sell.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 4000, n)

	sell = f.trade(t, "AAPL", model.TxSell, "5", "54", nil)
	n, err = f.xp.OnSell(ctx, sell.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, n, "clipped to the daily cap")

	sell = f.trade(t, "AAPL", model.TxSell, "5", "54", nil)
	n, err = f.xp.OnSell(ctx, sell.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.EqualValues(t, 5000, storetest.User(t, f.st, "trader").XPTotal)
}

func TestOnSell_NoXPWithoutGain(t *testing.T) {
	f := newFixture(t, xp.DefaultConfig())
	ctx := context.Background()
	f.trade(t, "AAPL", model.TxBuy, "10", "50", nil)

	for _, price := range []string{"50", "40"} {
		sell := f.trade(t, "AAPL", model.TxSell, "1", price, nil)
		n, err := f.xp.OnSell(ctx, sell.ID)
		require.NoError(t, err)
		assert.Zero(t, n, "sold at %s", price)
	}
}

func TestOnSell_ZeroCoinsPerXPIsConfigurationError(t *testing.T) {
	cfg := xp.DefaultConfig()
	cfg.SellProfitCoinsPerXP = 0
	f := newFixture(t, cfg)
	ctx := context.Background()
	f.trade(t, "AAPL", model.TxBuy, "10", "50", nil)
	sell := f.trade(t, "AAPL", model.TxSell, "4", "60", nil)

	n, err := f.xp.OnSell(ctx, sell.ID)
	require.ErrorIs(t, err, model.ErrConfiguration)
	assert.Zero(t, n)

	assert.Zero(t, f.xp.AwardForExecution(ctx, sell))
}

func TestSaleGain_Floors(t *testing.T) {
	f := newFixture(t, xp.DefaultConfig())
	f.trade(t, "AAPL", model.TxBuy, "3", "10", nil)
	sell := f.trade(t, "AAPL", model.TxSell, "3", "10.5", nil)

	storetest.RequireDecimal(t, "1", xp.SaleGain(sell))
}

func TestOnMessage_Cap(t *testing.T) {
	cfg := xp.DefaultConfig()
	cfg.FeedMessageTransactions = 2
	f := newFixture(t, cfg)
	ctx := context.Background()
	msg := "buying the dip"

	var got []int64
	for range 3 {
		tx := f.trade(t, "AAPL", model.TxBuy, "1", "10", &msg)
		n, err := f.xp.OnMessage(ctx, tx.ID)
		require.NoError(t, err)
		got = append(got, n)
	}
	assert.Equal(t, []int64{200, 200, 0}, got)

	quiet := f.trade(t, "AAPL", model.TxBuy, "1", "10", nil)
	n, err := f.xp.OnMessage(ctx, quiet.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAwardForExecution(t *testing.T) {
	f := newFixture(t, xp.DefaultConfig())
	msg := "first!"

	tx := f.trade(t, "AAPL", model.TxBuy, "1", "10", &msg)
	assert.EqualValues(t, 700, f.xp.AwardForExecution(context.Background(), tx))
}

func TestGates_IgnorePendingTransactions(t *testing.T) {
	f := newFixture(t, xp.DefaultConfig())
	storetest.SeedPrice(t, f.st, "AAPL", "10")
	aapl := "AAPL"
	tx, err := f.led.CreateTransaction(context.Background(), f.pid, &aapl, model.TxBuy, decimal.NewFromInt(1), nil)
	require.NoError(t, err)

	n, err := f.xp.OnBuy(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFixedCredits(t *testing.T) {
	f := newFixture(t, xp.DefaultConfig())
	ctx := context.Background()

	n, err := f.xp.OnSignup(ctx, "trader")
	require.NoError(t, err)
	assert.EqualValues(t, 500, n)

	n, err = f.xp.OnRewardClaimed(ctx, "trader", model.TierDaily)
	require.NoError(t, err)
	assert.EqualValues(t, 100, n)

	hist, err := f.xp.History(ctx, "trader", 1)
	require.NoError(t, err)
	require.NotNil(t, hist[0].Detail)
	assert.Equal(t, "REWARD_DAILY", *hist[0].Detail)

	cfg := xp.DefaultConfig()
	cfg.AIMessage = 0
	off := xp.New(f.st, cfg, nil, f.clock)
	n, err = off.OnAIMessage(ctx, "trader")
	require.NoError(t, err)
	assert.Zero(t, n)
}
