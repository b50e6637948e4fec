// Package model defines the core domain types shared across the portfolio engine.
// Money and quantities are shopspring/decimal values, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User holds the denormalized XP counters and AI credit balance of a player.
// The XP counters move in lock-step with inserts into the XP log.
type User struct {
	ID              string    `json:"id" db:"id"`
	DisplayName     string    `json:"display_name" db:"display_name"`
	Status          string    `json:"status" db:"status"`
	ReferrerID      *string   `json:"referrer_id,omitempty" db:"referrer_id"` // set at most once
	IsPremium       bool      `json:"is_premium" db:"is_premium"`
	CreditBalance   int64     `json:"credit_balance" db:"credit_balance"`
	XPTotal         int64     `json:"xp_total" db:"xp_total"`
	XPCurrentWeek   int64     `json:"xp_current_week" db:"xp_current_week"`
	XPCurrentSeason int64     `json:"xp_current_season" db:"xp_current_season"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
	LastActiveAt    time.Time `json:"last_active_at" db:"last_active_at"`
}

// Plan returns the reward plan tier the user is on.
func (u *User) Plan() Plan {
	return PlanFor(u.IsPremium)
}

// Portfolio is a virtual brokerage account, one per (user, character) pair.
// CashBalance is only mutated by the ledger and reward engines.
type Portfolio struct {
	ID                  string          `json:"id" db:"id"`
	UserID              string          `json:"user_id" db:"user_id"`
	CharacterID         string          `json:"character_id" db:"character_id"`
	Name                string          `json:"name" db:"name"`
	CashBalance         decimal.Decimal `json:"cash_balance" db:"cash_balance"`
	Status              PortfolioStatus `json:"status" db:"status"`
	IsPublic            bool            `json:"is_public" db:"is_public"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
	LastClaimedIntraday *time.Time      `json:"last_claimed_intraday_reward,omitempty" db:"last_claimed_intraday_reward"`
	LastClaimedDaily    *time.Time      `json:"last_claimed_daily_reward,omitempty" db:"last_claimed_daily_reward"`
	LastClaimedWeekly   *time.Time      `json:"last_claimed_weekly_reward,omitempty" db:"last_claimed_weekly_reward"`
}

// LastClaimed returns the last-claimed timestamp for a reward tier.
func (p *Portfolio) LastClaimed(tier RewardTier) *time.Time {
	switch tier {
	case TierIntraday:
		return p.LastClaimedIntraday
	case TierDaily:
		return p.LastClaimedDaily
	case TierWeekly:
		return p.LastClaimedWeekly
	}
	return nil
}

// SetLastClaimed stamps the last-claimed timestamp for a reward tier.
func (p *Portfolio) SetLastClaimed(tier RewardTier, at time.Time) {
	switch tier {
	case TierIntraday:
		p.LastClaimedIntraday = &at
	case TierDaily:
		p.LastClaimedDaily = &at
	case TierWeekly:
		p.LastClaimedWeekly = &at
	}
}

// IsActive reports whether the portfolio has not been soft-deleted.
func (p *Portfolio) IsActive() bool {
	return p.Status == PortfolioActive
}

// Holding is a portfolio's position in one instrument. A zero quantity means the
// position is closed; the row is kept with quantity = average price = 0.
type Holding struct {
	PortfolioID  string          `json:"portfolio_id" db:"portfolio_id"`
	InstrumentID string          `json:"instrument_id" db:"instrument_id"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price" db:"average_price"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// BookCost is quantity * average price.
func (h *Holding) BookCost() decimal.Decimal {
	return h.Quantity.Mul(h.AveragePrice)
}

// PortfolioTransaction is an append-mostly ledger entry. Value and ExAvgPrice
// are null until the transaction is executed.
type PortfolioTransaction struct {
	ID           string              `json:"id" db:"id"`
	PortfolioID  string              `json:"portfolio_id" db:"portfolio_id"`
	InstrumentID *string             `json:"instrument_id,omitempty" db:"instrument_id"` // nil for cash-only events
	Type         TransactionType     `json:"transaction_type" db:"transaction_type"`
	Quantity     decimal.Decimal     `json:"quantity" db:"quantity"`
	Value        decimal.NullDecimal `json:"value" db:"value"`
	ExAvgPrice   decimal.NullDecimal `json:"ex_avg_price" db:"ex_avg_price"` // holding average price before a sell
	Status       TransactionStatus   `json:"status" db:"status"`
	Message      *string             `json:"message,omitempty" db:"message"`
	CreatedAt    time.Time           `json:"created_at" db:"created_at"`
	ExecutedAt   *time.Time          `json:"executed_at,omitempty" db:"executed_at"`
}

// HasMessage reports whether the user left a non-empty comment on the transaction.
func (t *PortfolioTransaction) HasMessage() bool {
	return t.Message != nil && *t.Message != ""
}

// IsPending reports whether the transaction can still be executed.
func (t *PortfolioTransaction) IsPending() bool {
	return t.Status == StatusPending
}

// UnitPrice is value / quantity of an executed transaction.
func (t *PortfolioTransaction) UnitPrice() decimal.Decimal {
	if !t.Value.Valid || t.Quantity.IsZero() {
		return decimal.Zero
	}
	return t.Value.Decimal.Div(t.Quantity)
}

// PortfolioStats is the cached read model of a portfolio's derived metrics.
// It is always reconstructable from transactions, holdings and live prices.
type PortfolioStats struct {
	PortfolioID string          `json:"portfolio_id" db:"portfolio_id"`
	NetWorth    decimal.Decimal `json:"total_net_worth" db:"total_net_worth"`
	BookValue   decimal.Decimal `json:"total_book_value" db:"total_book_value"`
	Gain        decimal.Decimal `json:"total_gain" db:"total_gain"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// XPTransaction is an immutable record of an XP credit or debit.
type XPTransaction struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	Amount     int64     `json:"amount" db:"amount"`
	Reason     XPReason  `json:"reason" db:"reason"`
	Detail     *string   `json:"detail,omitempty" db:"detail"`
	CreditedAt time.Time `json:"credited_at" db:"credited_at"`
}

// XPSnapshot captures a user's XP score for a closed leaderboard period.
type XPSnapshot struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Timeframe string    `json:"timeframe" db:"timeframe"`
	AsOf      time.Time `json:"as_of" db:"as_of"`
	XP        int64     `json:"xp" db:"xp"`
}

// UserLesson records the last completion of a lesson by a user.
type UserLesson struct {
	UserID      string    `json:"user_id" db:"user_id"`
	LessonID    string    `json:"lesson_id" db:"lesson_id"`
	CompletedAt time.Time `json:"completed_at" db:"completed_at"`
}

// LatestPrice is the most recent price snapshot of an instrument. Prices are
// trusted inputs written by the ingestion tooling.
type LatestPrice struct {
	InstrumentID string          `json:"instrument_id" db:"instrument_id"`
	Price        decimal.Decimal `json:"price" db:"price"`
	AsOf         time.Time       `json:"as_of" db:"as_of"`
}

// PriceBar is one historical OHLCV bar.
type PriceBar struct {
	InstrumentID string          `json:"instrument_id" db:"instrument_id"`
	Timeframe    Timeframe       `json:"timeframe" db:"timeframe"`
	AsOf         time.Time       `json:"as_of" db:"as_of"`
	Open         decimal.Decimal `json:"open" db:"price_open"`
	High         decimal.Decimal `json:"high" db:"price_high"`
	Low          decimal.Decimal `json:"low" db:"price_low"`
	Close        decimal.Decimal `json:"close" db:"price_close"`
	Volume       decimal.Decimal `json:"volume" db:"volume"`
}
