package xp

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/snips/portfolio-engine/internal/model"
	"github.com/snips/portfolio-engine/internal/store"
)

// The gates below are invoked by the caller after a transaction has been
// executed, never from inside the execution itself. Each returns the XP
// credited to the portfolio owner, zero when the action is not eligible.

// OnBuy credits BUY_ASSET XP when this is the only executed buy of the
// instrument in the trailing window and the portfolio has bought no more
// than BuyUniqueInstruments distinct instruments in that window.
func (e *Engine) OnBuy(ctx context.Context, txID string) (int64, error) {
	t, p, err := e.loadExecuted(ctx, txID)
	if err != nil || t == nil || t.Type != model.TxBuy || t.InstrumentID == nil {
		return 0, err
	}

	since := e.now().UTC().Add(-e.cfg.Window)
	var sameInstrument, distinct int
	err = e.store.View(ctx, func(q store.Queries) error {
		var err error
		if sameInstrument, err = q.CountBuysSince(ctx, p.ID, *t.InstrumentID, since); err != nil {
			return err
		}
		distinct, err = q.CountBuyInstrumentsSince(ctx, p.ID, since)
		return err
	})
	if err != nil {
		return 0, err
	}
	if sameInstrument != 1 || distinct > e.cfg.BuyUniqueInstruments {
		return 0, nil
	}

	x, err := e.Credit(ctx, p.UserID, e.cfg.BuyTransaction, model.XPBuyTransaction, txDetail(t.ID))
	if err != nil {
		return 0, err
	}
	return x.Amount, nil
}

// OnSell credits SELL_ASSET_AT_PROFIT XP for a sell above the pre-sell
// average price:
//
//	gain = floor((sale_price - ex_avg_price) * quantity)
//	xp   = floor(CollectProfit * gain / SellProfitCoinsPerXP)
//
// clipped so the user's profit XP over the trailing window never exceeds
// SellProfitMaxDailyXP.
func (e *Engine) OnSell(ctx context.Context, txID string) (int64, error) {
	t, p, err := e.loadExecuted(ctx, txID)
	if err != nil || t == nil || t.Type != model.TxSell || !t.ExAvgPrice.Valid {
		return 0, err
	}

	gain := SaleGain(t)
	if !gain.IsPositive() {
		return 0, nil
	}
	if e.cfg.SellProfitCoinsPerXP <= 0 {
		return 0, fmt.Errorf("%w: sell profit coins per xp must be positive", model.ErrConfiguration)
	}

	since := e.now().UTC().Add(-e.cfg.Window)
	var credited int64
	err = e.store.View(ctx, func(q store.Queries) error {
		var err error
		credited, err = q.SumXPSince(ctx, p.UserID, model.XPSellAtProfit, since)
		return err
	})
	if err != nil {
		return 0, err
	}
	if credited >= e.cfg.SellProfitMaxDailyXP {
		return 0, nil
	}

	amount := gain.Mul(decimal.NewFromInt(e.cfg.CollectProfit)).
		Div(decimal.NewFromInt(e.cfg.SellProfitCoinsPerXP)).
		Floor().IntPart()
	if credited+amount > e.cfg.SellProfitMaxDailyXP {
		amount = e.cfg.SellProfitMaxDailyXP - credited
	}
	if amount <= 0 {
		return 0, nil
	}

	x, err := e.Credit(ctx, p.UserID, amount, model.XPSellAtProfit, txDetail(t.ID))
	if err != nil {
		return 0, err
	}
	return x.Amount, nil
}

// SaleGain is floor((value/quantity - ex_avg_price) * quantity) of an
// executed sell.
func SaleGain(t *model.PortfolioTransaction) decimal.Decimal {
	if !t.ExAvgPrice.Valid || !t.Value.Valid {
		return decimal.Zero
	}
	return t.UnitPrice().Sub(t.ExAvgPrice.Decimal).Mul(t.Quantity).Floor()
}

// OnMessage credits FEED_MESSAGE XP for a trade carrying a user message
// while the portfolio has no more than FeedMessageTransactions such trades in
// the trailing window, this one included.
func (e *Engine) OnMessage(ctx context.Context, txID string) (int64, error) {
	t, p, err := e.loadExecuted(ctx, txID)
	if err != nil || t == nil || t.InstrumentID == nil || !t.HasMessage() {
		return 0, err
	}

	since := e.now().UTC().Add(-e.cfg.Window)
	var n int
	err = e.store.View(ctx, func(q store.Queries) error {
		var err error
		n, err = q.CountMessagesSince(ctx, p.ID, since)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > e.cfg.FeedMessageTransactions {
		return 0, nil
	}

	x, err := e.Credit(ctx, p.UserID, e.cfg.FeedMessage, model.XPFeedMessage, txDetail(t.ID))
	if err != nil {
		return 0, err
	}
	return x.Amount, nil
}

// AwardForExecution runs every gate that applies to an executed transaction
// and returns the XP credited to the owner. Failures are logged and
// swallowed so they never affect the trade.
func (e *Engine) AwardForExecution(ctx context.Context, t *model.PortfolioTransaction) int64 {
	var total int64

	switch t.Type {
	case model.TxBuy:
		n, err := e.OnBuy(ctx, t.ID)
		if err != nil {
			swallow(model.XPBuyTransaction, t.ID, err)
		}
		total += n
	case model.TxSell:
		n, err := e.OnSell(ctx, t.ID)
		if err != nil {
			swallow(model.XPSellAtProfit, t.ID, err)
		}
		total += n
	}

	n, err := e.OnMessage(ctx, t.ID)
	if err != nil {
		swallow(model.XPFeedMessage, t.ID, err)
	}
	return total + n
}

// OnRewardClaimed credits COLLECT_REWARD XP for a reward claim.
func (e *Engine) OnRewardClaimed(ctx context.Context, userID string, tier model.RewardTier) (int64, error) {
	detail := string(tier)
	x, err := e.Credit(ctx, userID, e.cfg.CollectReward, model.XPCollectReward, &detail)
	if err != nil {
		return 0, err
	}
	return x.Amount, nil
}

// loadExecuted returns the transaction and its portfolio, or a nil
// transaction when it has not been executed.
func (e *Engine) loadExecuted(ctx context.Context, txID string) (*model.PortfolioTransaction, *model.Portfolio, error) {
	var t *model.PortfolioTransaction
	var p *model.Portfolio
	err := e.store.View(ctx, func(q store.Queries) error {
		var err error
		if t, err = q.GetTransaction(ctx, txID); err != nil {
			return err
		}
		p, err = q.GetPortfolio(ctx, t.PortfolioID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	if t.Status != model.StatusExecuted {
		return nil, nil, nil
	}
	return t, p, nil
}

// OnSignup credits SIGNUP XP to a new user.
func (e *Engine) OnSignup(ctx context.Context, userID string) (int64, error) {
	return e.creditFixed(ctx, userID, e.cfg.Signup, model.XPSignup)
}

// OnReferee credits REFEREE XP to a user who was just assigned a referrer.
// The referrer earns its yield through the usual chain.
func (e *Engine) OnReferee(ctx context.Context, userID string) (int64, error) {
	return e.creditFixed(ctx, userID, e.cfg.Referee, model.XPReferee)
}

// OnAIMessage credits AI_MESSAGE XP for a charged assistant message.
func (e *Engine) OnAIMessage(ctx context.Context, userID string) (int64, error) {
	return e.creditFixed(ctx, userID, e.cfg.AIMessage, model.XPAIMessage)
}

func (e *Engine) creditFixed(ctx context.Context, userID string, amount int64, reason model.XPReason) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}
	x, err := e.Credit(ctx, userID, amount, reason, nil)
	if err != nil {
		return 0, err
	}
	return x.Amount, nil
}
