package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/snips/portfolio-engine/internal/jobs"
	"github.com/snips/portfolio-engine/internal/model"
	"github.com/snips/portfolio-engine/internal/xp"
)

var commands = []subcommands.Command{
	&refreshStatsCmd{},
	&weeklyResetCmd{},
	&seasonSnapshotCmd{},
	&recalcWeeklyCmd{},
	&creditPortfolioCmd{},
	&splitAdjustCmd{},
	&refillCreditsCmd{},
	&setPriceCmd{},
	&deleteUserCmd{},
}

// --- refresh-stats ---

type refreshStatsCmd struct {
	timeout time.Duration
}

func (*refreshStatsCmd) Name() string     { return "refresh-stats" }
func (*refreshStatsCmd) Synopsis() string { return "recompute stats of every active portfolio" }
func (*refreshStatsCmd) Usage() string {
	return `ledgerctl refresh-stats [-timeout 0]

  Recomputes the stats of every active portfolio older than timeout.
  A zero timeout recomputes all of them.
`
}

func (c *refreshStatsCmd) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&c.timeout, "timeout", 0, "only refresh stats older than this")
}

func (c *refreshStatsCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return run(ctx, args, func(a *app) error {
		n, err := a.stats.RefreshAll(ctx, c.timeout)
		fmt.Printf("refreshed %d portfolios\n", n)
		return err
	})
}

// --- xp-weekly-reset ---

type weeklyResetCmd struct{}

func (*weeklyResetCmd) Name() string           { return "xp-weekly-reset" }
func (*weeklyResetCmd) Synopsis() string       { return "zero every user's weekly XP" }
func (*weeklyResetCmd) Usage() string          { return "ledgerctl xp-weekly-reset\n" }
func (*weeklyResetCmd) SetFlags(*flag.FlagSet) {}
func (*weeklyResetCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return run(ctx, args, func(a *app) error { return a.xp.ResetWeekly(ctx) })
}

// --- xp-season-snapshot ---

type seasonSnapshotCmd struct {
	timeframe string
	limit     int
}

func (*seasonSnapshotCmd) Name() string     { return "xp-season-snapshot" }
func (*seasonSnapshotCmd) Synopsis() string { return "archive the season leaderboard and reset season XP" }
func (*seasonSnapshotCmd) Usage() string {
	return `ledgerctl xp-season-snapshot [-timeframe season-2006-01] [-limit 100]

  Stores the season XP of the top users under the timeframe label, then
  zeroes every season counter.
`
}

func (c *seasonSnapshotCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.timeframe, "timeframe", "", "snapshot label (defaults to the season that just ended)")
	f.IntVar(&c.limit, "limit", xp.SeasonSnapshotSize, "number of users archived")
}

func (c *seasonSnapshotCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if c.timeframe == "" {
		c.timeframe = jobs.SeasonLabel(time.Now())
	}
	return run(ctx, args, func(a *app) error {
		n, err := a.xp.SnapshotSeason(ctx, c.timeframe, c.limit)
		if err == nil {
			fmt.Printf("archived %d users as %s\n", n, c.timeframe)
		}
		return err
	})
}

// --- xp-recalc-weekly ---

type recalcWeeklyCmd struct{}

func (*recalcWeeklyCmd) Name() string           { return "xp-recalc-weekly" }
func (*recalcWeeklyCmd) Synopsis() string       { return "rebuild weekly XP from the XP log" }
func (*recalcWeeklyCmd) Usage() string          { return "ledgerctl xp-recalc-weekly\n" }
func (*recalcWeeklyCmd) SetFlags(*flag.FlagSet) {}
func (*recalcWeeklyCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return run(ctx, args, func(a *app) error {
		n, err := a.xp.RecalcWeekly(ctx)
		if err == nil {
			fmt.Printf("recalculated %d users\n", n)
		}
		return err
	})
}

// --- credit-portfolio ---

type creditPortfolioCmd struct {
	portfolio string
	amount    string
}

func (*creditPortfolioCmd) Name() string     { return "credit-portfolio" }
func (*creditPortfolioCmd) Synopsis() string { return "grant promotional cash to a portfolio" }
func (*creditPortfolioCmd) Usage() string {
	return `ledgerctl credit-portfolio -p <portfolio id> -amount <amount>

  Adds cash to the portfolio as an executed REWARD_PROMO transaction.
`
}

func (c *creditPortfolioCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.portfolio, "p", "", "portfolio id")
	f.StringVar(&c.amount, "amount", "", "cash amount")
}

func (c *creditPortfolioCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	amount, err := decimal.NewFromString(c.amount)
	if err != nil || c.portfolio == "" {
		fmt.Fprintln(os.Stderr, "Error: -p and a decimal -amount are required")
		return subcommands.ExitUsageError
	}
	return run(ctx, args, func(a *app) error {
		t, err := a.ledger.CreditCash(ctx, c.portfolio, amount, model.TxRewardPromo)
		if err == nil {
			fmt.Printf("transaction %s\n", t.ID)
		}
		return err
	})
}

// --- split-adjust ---

type splitAdjustCmd struct {
	instrument string
	multiplier string
}

func (*splitAdjustCmd) Name() string     { return "split-adjust" }
func (*splitAdjustCmd) Synopsis() string { return "apply a stock split to every holding of an instrument" }
func (*splitAdjustCmd) Usage() string {
	return `ledgerctl split-adjust -i <instrument id> -m <multiplier>

  Multiplies quantities and divides average prices by the multiplier.
  A 2-for-1 split uses -m 2, a 1-for-10 reverse split -m 0.1.
`
}

func (c *splitAdjustCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.instrument, "i", "", "instrument id")
	f.StringVar(&c.multiplier, "m", "", "split multiplier")
}

func (c *splitAdjustCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	m, err := decimal.NewFromString(c.multiplier)
	if err != nil || c.instrument == "" {
		fmt.Fprintln(os.Stderr, "Error: -i and a decimal -m are required")
		return subcommands.ExitUsageError
	}
	return run(ctx, args, func(a *app) error {
		n, err := a.ledger.AdjustSplit(ctx, c.instrument, m)
		if err == nil {
			fmt.Printf("adjusted %d holdings\n", n)
		}
		return err
	})
}

// --- credits-refill ---

type refillCreditsCmd struct{}

func (*refillCreditsCmd) Name() string           { return "credits-refill" }
func (*refillCreditsCmd) Synopsis() string       { return "lift AI credit balances to the refill floor" }
func (*refillCreditsCmd) Usage() string          { return "ledgerctl credits-refill\n" }
func (*refillCreditsCmd) SetFlags(*flag.FlagSet) {}
func (*refillCreditsCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return run(ctx, args, func(a *app) error {
		n, err := a.accounts.RefillCredits(ctx)
		if err == nil {
			fmt.Printf("refilled %d users\n", n)
		}
		return err
	})
}

// --- set-price ---

type setPriceCmd struct {
	instrument string
	price      string
	asOf       string
	timeframe  string
	open       string
	high       string
	low        string
	volume     string
}

func (*setPriceCmd) Name() string     { return "set-price" }
func (*setPriceCmd) Synopsis() string { return "store a price snapshot or bar for an instrument" }
func (*setPriceCmd) Usage() string {
	return `ledgerctl set-price -i <instrument id> -price <close> [-at RFC3339]
          [-tf 1DAY -open <o> -high <h> -low <l> -volume <v>]

  Without -tf, sets the latest price. With -tf, also records an OHLCV bar.
`
}

func (c *setPriceCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.instrument, "i", "", "instrument id")
	f.StringVar(&c.price, "price", "", "latest (close) price")
	f.StringVar(&c.asOf, "at", "", "snapshot time, RFC3339 (defaults to now)")
	f.StringVar(&c.timeframe, "tf", "", "bar timeframe (1HOUR, 1DAY, 1WEEK, 1MONTH, 1YEAR)")
	f.StringVar(&c.open, "open", "", "bar open")
	f.StringVar(&c.high, "high", "", "bar high")
	f.StringVar(&c.low, "low", "", "bar low")
	f.StringVar(&c.volume, "volume", "0", "bar volume")
}

func (c *setPriceCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	price, err := decimal.NewFromString(c.price)
	if err != nil || c.instrument == "" {
		fmt.Fprintln(os.Stderr, "Error: -i and a decimal -price are required")
		return subcommands.ExitUsageError
	}
	at := time.Now().UTC()
	if c.asOf != "" {
		if at, err = time.Parse(time.RFC3339, c.asOf); err != nil {
			fmt.Fprintf(os.Stderr, "Error: -at: %v\n", err)
			return subcommands.ExitUsageError
		}
	}

	var bar *model.PriceBar
	if c.timeframe != "" {
		tf, err := model.ParseTimeframe(c.timeframe)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return subcommands.ExitUsageError
		}
		bar = &model.PriceBar{InstrumentID: c.instrument, Timeframe: tf, AsOf: at, Close: price}
		fields := []struct {
			dst *decimal.Decimal
			raw string
			def decimal.Decimal
		}{
			{&bar.Open, c.open, price},
			{&bar.High, c.high, price},
			{&bar.Low, c.low, price},
			{&bar.Volume, c.volume, decimal.Zero},
		}
		for _, f := range fields {
			if *f.dst, err = orDefault(f.raw, f.def); err != nil {
				break
			}
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return subcommands.ExitUsageError
		}
	}

	return run(ctx, args, func(a *app) error {
		if err := a.ledger.SetPrice(ctx, c.instrument, price, at); err != nil {
			return err
		}
		if bar != nil {
			return a.ledger.RecordBar(ctx, *bar)
		}
		return nil
	})
}

func orDefault(s string, def decimal.Decimal) (decimal.Decimal, error) {
	if s == "" {
		return def, nil
	}
	return decimal.NewFromString(s)
}

// --- delete-user ---

type deleteUserCmd struct {
	user string
}

func (*deleteUserCmd) Name() string     { return "delete-user" }
func (*deleteUserCmd) Synopsis() string { return "delete a user account and everything it owns" }
func (*deleteUserCmd) Usage() string    { return "ledgerctl delete-user -u <user id>\n" }

func (c *deleteUserCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "u", "", "user id")
}

func (c *deleteUserCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if c.user == "" {
		fmt.Fprintln(os.Stderr, "Error: -u is required")
		return subcommands.ExitUsageError
	}
	return run(ctx, args, func(a *app) error { return a.accounts.DeleteAccount(ctx, c.user) })
}
