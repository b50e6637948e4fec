// Package xp credits experience points. Every credit is an XPTransaction
// insert plus a relative increment of the user's counters, committed
// together; referrers earn a yield up to a fixed depth.
package xp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/snips/portfolio-engine/internal/events"
	"github.com/snips/portfolio-engine/internal/metrics"
	"github.com/snips/portfolio-engine/internal/model"
	"github.com/snips/portfolio-engine/internal/store"
)

// Config holds the XP credit amounts and limits. Values are read once.
type Config struct {
	Signup          int64 `env:"XP_SIGNUP" envDefault:"500"`
	BuyTransaction  int64 `env:"XP_BUY_ASSET" envDefault:"500"`
	CollectReward   int64 `env:"XP_COLLECT_REWARD" envDefault:"100"`
	CollectProfit   int64 `env:"XP_COLLECT_PROFIT_FACTOR" envDefault:"100"`
	LessonFirstTime int64 `env:"XP_COMPLETE_LESSON_FIRST_TIME" envDefault:"300"`
	FeedMessage     int64 `env:"XP_FEED_MESSAGE" envDefault:"200"`
	Referee         int64 `env:"XP_REFEREE" envDefault:"10000"`
	AIMessage       int64 `env:"XP_AI_MESSAGE" envDefault:"200"`

	ReferrerYieldFactor decimal.Decimal `env:"REFERRER_YIELD_FACTOR" envDefault:"0.1"`
	MaxReferrerLevel    int             `env:"MAX_REFERRER_LEVEL" envDefault:"1"`

	BuyUniqueInstruments    int   `env:"BUY_UNIQUE_INSTRUMENTS" envDefault:"10"`
	SellProfitMaxDailyXP    int64 `env:"SELL_PROFIT_MAX_DAILY_XP" envDefault:"5000"`
	SellProfitCoinsPerXP    int64 `env:"SELL_PROFIT_COINS_PER_XP" envDefault:"1"`
	FeedMessageTransactions int   `env:"FEED_MESSAGE_TRANSACTIONS" envDefault:"10"`

	// Window is the trailing period the daily limits are evaluated over.
	Window time.Duration `env:"XP_LIMIT_WINDOW" envDefault:"24h"`
}

// Validate reports values the gates cannot work with.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, name string, v any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s out of range: %v", model.ErrConfiguration, name, v))
		}
	}
	check(c.SellProfitCoinsPerXP > 0, "SELL_PROFIT_COINS_PER_XP", c.SellProfitCoinsPerXP)
	check(c.MaxReferrerLevel >= 0, "MAX_REFERRER_LEVEL", c.MaxReferrerLevel)
	check(c.Window > 0, "XP_LIMIT_WINDOW", c.Window)
	check(c.BuyUniqueInstruments >= 0, "BUY_UNIQUE_INSTRUMENTS", c.BuyUniqueInstruments)
	check(c.SellProfitMaxDailyXP >= 0, "SELL_PROFIT_MAX_DAILY_XP", c.SellProfitMaxDailyXP)
	check(c.FeedMessageTransactions >= 0, "FEED_MESSAGE_TRANSACTIONS", c.FeedMessageTransactions)
	check(!c.ReferrerYieldFactor.IsNegative(), "REFERRER_YIELD_FACTOR", c.ReferrerYieldFactor)
	return errors.Join(errs...)
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(err)
	}
	return cfg
}

// Engine is the XP Engine.
type Engine struct {
	store  store.Store
	cfg    Config
	events events.Publisher
	now    func() time.Time
}

// New creates an XP engine. A nil publisher discards events and a nil clock
// uses time.Now.
func New(st store.Store, cfg Config, pub events.Publisher, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{store: st, cfg: cfg, events: events.OrNop(pub), now: clock}
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Credit credits amount XP to a user and pays the referrer yield up the
// referral chain, at most MaxReferrerLevel levels. The user's own credit
// is committed before any referrer is touched; a failed referrer credit is
// logged and does not undo it. Credit does not deduplicate: callers must
// not credit the same action twice.
func (e *Engine) Credit(ctx context.Context, userID string, amount int64, reason model.XPReason, detail *string) (*model.XPTransaction, error) {
	first, referrerID, err := e.creditOne(ctx, userID, amount, reason, detail)
	if err != nil {
		return nil, err
	}

	x := first
	for level := 1; level <= e.cfg.MaxReferrerLevel && referrerID != ""; level++ {
		yield := e.referrerYield(amount)
		if yield <= 0 {
			break
		}
		d := fmt.Sprintf("%s,XPT=%s", reason, x.ID)
		userID, amount, reason = referrerID, yield, model.XPReferrerYield

		x, referrerID, err = e.creditOne(ctx, userID, amount, reason, &d)
		if err != nil {
			metrics.XPCreditFailures.WithLabelValues(string(reason)).Inc()
			slog.Warn("referrer xp credit failed", "user", userID, "level", level, "err", err)
			break
		}
	}
	return first, nil
}

// referrerYield truncates amount * factor toward zero.
func (e *Engine) referrerYield(amount int64) int64 {
	return decimal.NewFromInt(amount).Mul(e.cfg.ReferrerYieldFactor).IntPart()
}

// creditOne commits a single XP transaction and returns the user's referrer.
func (e *Engine) creditOne(ctx context.Context, userID string, amount int64, reason model.XPReason, detail *string) (*model.XPTransaction, string, error) {
	x := &model.XPTransaction{
		ID:         uuid.New().String(),
		UserID:     userID,
		Amount:     amount,
		Reason:     reason,
		Detail:     detail,
		CreditedAt: e.now().UTC(),
	}
	var referrerID string

	err := e.store.RunInTx(ctx, func(q store.Queries) error {
		u, err := q.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if u.ReferrerID != nil {
			referrerID = *u.ReferrerID
		}
		if err := q.InsertXPTransaction(ctx, x); err != nil {
			return err
		}
		return q.AddUserXP(ctx, userID, amount)
	})
	if err != nil {
		return nil, "", fmt.Errorf("credit %d xp to %s: %w", amount, userID, err)
	}

	metrics.XPCredited.WithLabelValues(string(reason)).Add(float64(amount))
	slog.Debug("xp credited", "user", userID, "amount", amount, "reason", reason)
	e.events.Publish(ctx, events.Event{
		Type:   events.XPCredited,
		UserID: userID,
		Data:   x,
		At:     x.CreditedAt,
	})
	return x, referrerID, nil
}

// History returns a user's most recent XP transactions.
func (e *Engine) History(ctx context.Context, userID string, limit int) ([]model.XPTransaction, error) {
	var out []model.XPTransaction
	err := e.store.View(ctx, func(q store.Queries) error {
		var err error
		out, err = q.ListXPTransactions(ctx, userID, limit)
		return err
	})
	return out, err
}

// Leaderboard returns active users ordered by the selected XP counter.
func (e *Engine) Leaderboard(ctx context.Context, board store.XPBoard, limit int) ([]model.User, error) {
	var out []model.User
	err := e.store.View(ctx, func(q store.Queries) error {
		var err error
		out, err = q.TopUsersByXP(ctx, board, limit)
		return err
	})
	return out, err
}

// swallow logs a best-effort XP failure.
func swallow(reason model.XPReason, subject string, err error) {
	metrics.XPCreditFailures.WithLabelValues(string(reason)).Inc()
	slog.Warn("xp credit skipped", "reason", reason, "subject", subject, "err", err)
}

func txDetail(id string) *string {
	d := "TX=" + id
	return &d
}
