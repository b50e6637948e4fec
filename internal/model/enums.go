package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfiguration marks an invalid static configuration value such as an
// unknown reward tier or an unsupported period tag. It is fatal for the call.
var ErrConfiguration = errors.New("configuration error")

// TransactionType is the kind of a portfolio transaction.
type TransactionType string

const (
	TxBuy            TransactionType = "buy"
	TxSell           TransactionType = "sell"
	TxDividend       TransactionType = "dividend"
	TxBonus          TransactionType = "bonus"
	TxOther          TransactionType = "other"
	TxRewardWeekly   TransactionType = "REWARD_WEEKLY"
	TxRewardDaily    TransactionType = "REWARD_DAILY"
	TxRewardIntraday TransactionType = "REWARD_INTRADAY"
	TxRewardPromo    TransactionType = "REWARD_PROMO"
)

// IsTrade reports whether the type is a user-scope trade (buy or sell).
func (t TransactionType) IsTrade() bool {
	return t == TxBuy || t == TxSell
}

// ParseTradeType parses a user-scope transaction type.
func ParseTradeType(s string) (TransactionType, error) {
	switch t := TransactionType(strings.ToLower(s)); t {
	case TxBuy, TxSell:
		return t, nil
	}
	return "", fmt.Errorf("unsupported transaction type %q", s)
}

// TransactionStatus is the lifecycle state of a portfolio transaction.
type TransactionStatus string

const (
	StatusPending  TransactionStatus = "pending"
	StatusExecuted TransactionStatus = "executed"
)

// PortfolioStatus is the lifecycle state of a portfolio.
type PortfolioStatus string

const (
	PortfolioActive  PortfolioStatus = "active"
	PortfolioDeleted PortfolioStatus = "deleted"
)

const UserActive = "active"

// Plan is the subscription tier used to look up reward amounts and limits.
type Plan string

const (
	PlanFree    Plan = "FREE_PLAN"
	PlanPremium Plan = "PREMIUM_PLAN"
)

// PlanFor maps the premium flag to a plan.
func PlanFor(premium bool) Plan {
	if premium {
		return PlanPremium
	}
	return PlanFree
}

// ParsePlan validates a plan name.
func ParsePlan(s string) (Plan, error) {
	switch p := Plan(strings.ToUpper(s)); p {
	case PlanFree, PlanPremium:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown plan %q", ErrConfiguration, s)
}

// RewardTier is one of the independently claimable cash bonuses. Tier names
// double as the transaction type recorded for a claim.
type RewardTier string

const (
	TierIntraday RewardTier = "REWARD_INTRADAY"
	TierDaily    RewardTier = "REWARD_DAILY"
	TierWeekly   RewardTier = "REWARD_WEEKLY"
)

// RewardTiers lists the tiers in claim order.
var RewardTiers = []RewardTier{TierWeekly, TierDaily, TierIntraday}

// ParseRewardTier validates a tier name.
func ParseRewardTier(s string) (RewardTier, error) {
	switch t := RewardTier(strings.ToUpper(s)); t {
	case TierIntraday, TierDaily, TierWeekly:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown reward tier %q", ErrConfiguration, s)
}

// TransactionType returns the ledger transaction type recorded for a claim.
func (t RewardTier) TransactionType() TransactionType {
	return TransactionType(t)
}

// XPReason is the reason code stored with every XP transaction.
type XPReason string

const (
	XPSignup                  XPReason = "SIGNUP"
	XPBuyTransaction          XPReason = "BUY_ASSET"
	XPSellAtProfit            XPReason = "SELL_ASSET_AT_PROFIT"
	XPCollectReward           XPReason = "COLLECT_REWARD"
	XPUnlockSkill             XPReason = "UNLOCK_SKILL"
	XPCompleteLessonFirstTime XPReason = "COMPLETE_LESSON_FIRST_TIME"
	XPFeedMessage             XPReason = "FEED_MESSAGE"
	XPReferee                 XPReason = "REFEREE"
	XPReferrerYield           XPReason = "REFERRER_YIELD"
	XPAIMessage               XPReason = "AI_MESSAGE"
)

// Timeframe is the bar interval of a price history series.
type Timeframe string

const (
	Timeframe1Hour  Timeframe = "1HOUR"
	Timeframe1Day   Timeframe = "1DAY"
	Timeframe1Week  Timeframe = "1WEEK"
	Timeframe1Month Timeframe = "1MONTH"
	Timeframe1Year  Timeframe = "1YEAR"
)

// ParseTimeframe validates a bar interval tag.
func ParseTimeframe(s string) (Timeframe, error) {
	switch tf := Timeframe(strings.ToUpper(s)); tf {
	case Timeframe1Hour, Timeframe1Day, Timeframe1Week, Timeframe1Month, Timeframe1Year:
		return tf, nil
	}
	return "", fmt.Errorf("%w: unknown timeframe %q", ErrConfiguration, s)
}

// FiscalPeriod tags a fundamentals figure as quarterly or yearly.
type FiscalPeriod string

const (
	FiscalQuarter FiscalPeriod = "quarter"
	FiscalYear    FiscalPeriod = "year"
)

// ParseFiscalPeriod validates a fiscal period tag.
func ParseFiscalPeriod(s string) (FiscalPeriod, error) {
	switch p := FiscalPeriod(strings.ToLower(s)); p {
	case FiscalQuarter, FiscalYear:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown fiscal period %q", ErrConfiguration, s)
}
