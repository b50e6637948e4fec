// Package rewards gates the intraday, daily and weekly cash bonuses of a
// portfolio and credits them through the ledger.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/snips/portfolio-engine/internal/events"
	"github.com/snips/portfolio-engine/internal/ledger"
	"github.com/snips/portfolio-engine/internal/metrics"
	"github.com/snips/portfolio-engine/internal/model"
	"github.com/snips/portfolio-engine/internal/store"
)

// Config holds the reward table and the minimum re-claim intervals. The
// intervals are shorter than the literal periods to tolerate clock skew.
type Config struct {
	// Schedule is an optional JSON reward table; empty uses DefaultSchedule.
	Schedule string `env:"REWARD_SCHEDULE"`

	IntradayInterval time.Duration `env:"REWARD_INTRADAY_INTERVAL" envDefault:"1h55m"`
	DailyInterval    time.Duration `env:"REWARD_DAILY_INTERVAL" envDefault:"18h"`
	WeeklyInterval   time.Duration `env:"REWARD_WEEKLY_INTERVAL" envDefault:"160h"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(err)
	}
	return cfg
}

// Interval returns the minimum re-claim interval of a tier.
func (c Config) Interval(tier model.RewardTier) (time.Duration, error) {
	switch tier {
	case model.TierIntraday:
		return c.IntradayInterval, nil
	case model.TierDaily:
		return c.DailyInterval, nil
	case model.TierWeekly:
		return c.WeeklyInterval, nil
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownTier, tier)
}

// XPCrediter credits the XP that accompanies a claim.
type XPCrediter interface {
	OnRewardClaimed(ctx context.Context, userID string, tier model.RewardTier) (int64, error)
}

// Engine is the Reward/Claim Engine.
type Engine struct {
	store    store.Store
	cfg      Config
	schedule Schedule
	xp       XPCrediter
	stats    ledger.StatsRefresher
	events   events.Publisher
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPublisher sets the sink for reward.claimed events.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.events = events.OrNop(p) }
}

// WithStats sets the stats refresher forced after every claim.
func WithStats(r ledger.StatsRefresher) Option {
	return func(e *Engine) { e.stats = r }
}

// WithXP sets the XP engine that credits COLLECT_REWARD per claim.
func WithXP(x XPCrediter) Option {
	return func(e *Engine) { e.xp = x }
}

// New creates a reward engine. It fails with a configuration error when
// the reward schedule document is invalid.
func New(st store.Store, cfg Config, opts ...Option) (*Engine, error) {
	schedule := DefaultSchedule()
	if cfg.Schedule != "" {
		var err error
		if schedule, err = ParseSchedule([]byte(cfg.Schedule)); err != nil {
			return nil, err
		}
	}
	e := &Engine{
		store:    st,
		cfg:      cfg,
		schedule: schedule,
		events:   events.Nop{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// TierStatus describes one reward tier of a portfolio.
type TierStatus struct {
	Tier           model.RewardTier `json:"tier"`
	Amount         decimal.Decimal  `json:"amount"`
	Eligible       bool             `json:"eligible"`
	LastClaimed    *time.Time       `json:"last_claimed,omitempty"`
	NextEligibleAt *time.Time       `json:"next_eligible_at,omitempty"`
}

// Claim is the result of one successful reward claim.
type Claim struct {
	Tier        model.RewardTier           `json:"tier"`
	Amount      decimal.Decimal            `json:"amount"`
	XP          int64                      `json:"xp"`
	Transaction model.PortfolioTransaction `json:"transaction"`
}

// ClaimAllResult sums the claims of ClaimAll.
type ClaimAllResult struct {
	TotalClaimed decimal.Decimal `json:"total_claimed"`
	XPEarned     int64           `json:"xp_earned"`
	Claims       []Claim         `json:"claims"`
}

// Status reports eligibility and amount of every tier for an owned portfolio.
func (e *Engine) Status(ctx context.Context, portfolioID, userID string) ([]TierStatus, error) {
	var p *model.Portfolio
	var u *model.User
	err := e.store.View(ctx, func(q store.Queries) error {
		var err error
		if p, err = ledger.OwnedActive(ctx, q, portfolioID, userID); err != nil {
			return err
		}
		u, err = q.GetUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	out := make([]TierStatus, 0, len(model.RewardTiers))
	for _, tier := range model.RewardTiers {
		interval, err := e.cfg.Interval(tier)
		if err != nil {
			return nil, err
		}
		amount, err := e.schedule.Amount(tier, u.Plan())
		if err != nil {
			return nil, err
		}
		st := TierStatus{Tier: tier, Amount: amount, LastClaimed: p.LastClaimed(tier)}
		st.Eligible = Eligible(st.LastClaimed, interval, now)
		if !st.Eligible {
			next := st.LastClaimed.Add(interval)
			st.NextEligibleAt = &next
		}
		out = append(out, st)
	}
	return out, nil
}

// Claim credits one reward tier to an owned portfolio. The cash credit, the
// executed transaction and the last-claimed stamp commit together; the XP
// credit and stats refresh follow and never fail the claim.
func (e *Engine) Claim(ctx context.Context, portfolioID, userID string, tier model.RewardTier) (*Claim, error) {
	interval, err := e.cfg.Interval(tier)
	if err != nil {
		return nil, err
	}

	var c Claim
	var plan model.Plan
	err = e.store.RunInTx(ctx, func(q store.Queries) error {
		p, err := ledger.OwnedActive(ctx, q, portfolioID, userID)
		if err != nil {
			return err
		}
		u, err := q.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		plan = u.Plan()

		now := e.now().UTC()
		if !Eligible(p.LastClaimed(tier), interval, now) {
			return fmt.Errorf("%s last claimed %s: %w", tier, p.LastClaimed(tier).Format(time.RFC3339), ErrNotEligible)
		}
		amount, err := e.schedule.Amount(tier, plan)
		if err != nil {
			return err
		}

		t, err := ledger.CreditCashTx(ctx, q, p, amount, tier.TransactionType(), now)
		if err != nil {
			return err
		}
		p.SetLastClaimed(tier, now)
		if err := q.UpdatePortfolio(ctx, p); err != nil {
			return err
		}
		c = Claim{Tier: tier, Amount: amount, Transaction: *t}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", tier, err)
	}

	metrics.RewardsClaimed.WithLabelValues(string(tier), string(plan)).Inc()
	slog.Info("reward claimed", "portfolio", portfolioID, "tier", tier, "amount", c.Amount.String())

	if e.xp != nil {
		xp, err := e.xp.OnRewardClaimed(ctx, userID, tier)
		if err != nil {
			metrics.XPCreditFailures.WithLabelValues(string(model.XPCollectReward)).Inc()
			slog.Warn("reward xp credit failed", "portfolio", portfolioID, "tier", tier, "err", err)
		}
		c.XP = xp
	}
	if e.stats != nil {
		if _, err := e.stats.Refresh(ctx, portfolioID, 0); err != nil {
			slog.Warn("stats refresh after claim failed", "portfolio", portfolioID, "err", err)
		}
	}

	e.events.Publish(ctx, events.Event{
		Type:        events.RewardClaimed,
		UserID:      userID,
		PortfolioID: portfolioID,
		Data:        c,
		At:          *c.Transaction.ExecutedAt,
	})
	return &c, nil
}

// ClaimAll claims every eligible tier independently. Ineligible tiers are
// skipped; any other failure stops the sweep and is returned together with
// the claims already committed.
func (e *Engine) ClaimAll(ctx context.Context, portfolioID, userID string) (*ClaimAllResult, error) {
	res := &ClaimAllResult{TotalClaimed: decimal.Zero, Claims: []Claim{}}
	for _, tier := range model.RewardTiers {
		c, err := e.Claim(ctx, portfolioID, userID, tier)
		if errors.Is(err, ErrNotEligible) {
			continue
		}
		if err != nil {
			return res, err
		}
		res.TotalClaimed = res.TotalClaimed.Add(c.Amount)
		res.XPEarned += c.XP
		res.Claims = append(res.Claims, *c)
	}
	return res, nil
}
