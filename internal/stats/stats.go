// Package stats maintains the cached PortfolioStats read model. Stats are
// derived from executed transactions, holdings and latest prices and are
// recomputed when older than a refresh timeout.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/snips/portfolio-engine/internal/metrics"
	"github.com/snips/portfolio-engine/internal/model"
	"github.com/snips/portfolio-engine/internal/store"
)

// Config holds the staleness policy.
type Config struct {
	RefreshTimeout time.Duration `env:"STATS_REFRESH_TIMEOUT" envDefault:"60s"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(err)
	}
	return cfg
}

// Aggregator recomputes portfolio stats.
type Aggregator struct {
	store store.Store
	cfg   Config
	now   func() time.Time
	wg    sync.WaitGroup
}

// New creates an Aggregator. A nil clock uses time.Now.
func New(st store.Store, cfg Config, clock func() time.Time) *Aggregator {
	if clock == nil {
		clock = time.Now
	}
	return &Aggregator{store: st, cfg: cfg, now: clock}
}

// Refresh recomputes the stats of a portfolio when no row exists or the
// stored row is older than timeout. A timeout of zero forces recomputation.
func (a *Aggregator) Refresh(ctx context.Context, portfolioID string, timeout time.Duration) (*model.PortfolioStats, error) {
	var result *model.PortfolioStats
	recomputed := false

	err := a.store.RunInTx(ctx, func(q store.Queries) error {
		existing, err := q.GetStats(ctx, portfolioID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		now := a.now().UTC()
		if existing != nil && timeout > 0 && now.Sub(existing.UpdatedAt) <= timeout {
			result = existing
			return nil
		}

		start := time.Now()
		computed, err := compute(ctx, q, portfolioID, now)
		if err != nil {
			return err
		}
		if existing == nil {
			err = q.InsertStats(ctx, computed)
		} else {
			err = q.UpdateStats(ctx, computed)
		}
		if err != nil {
			return err
		}
		metrics.StatsRefreshLatency.Observe(time.Since(start).Seconds())
		result = computed
		recomputed = true
		return nil
	})
	if err != nil {
		metrics.StatsRefreshes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("refresh stats %s: %w", portfolioID, err)
	}

	if recomputed {
		metrics.StatsRefreshes.WithLabelValues("recomputed").Inc()
	} else {
		metrics.StatsRefreshes.WithLabelValues("fresh").Inc()
	}
	return result, nil
}

// compute derives stats from the ledger:
//
//	net_worth = current_value + cash
//	gain      = sales_value + current_value - book_cost
func compute(ctx context.Context, q store.Queries, portfolioID string, now time.Time) (*model.PortfolioStats, error) {
	p, err := q.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	bookCost, err := q.SumTransactionValues(ctx, portfolioID, model.TxBuy)
	if err != nil {
		return nil, err
	}
	salesValue, err := q.SumTransactionValues(ctx, portfolioID, model.TxSell)
	if err != nil {
		return nil, err
	}
	holdings, err := q.ListHoldings(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	currentValue := decimal.Zero
	for _, h := range holdings {
		if h.Quantity.IsZero() {
			continue
		}
		price, err := q.GetLatestPrice(ctx, h.InstrumentID)
		if errors.Is(err, store.ErrNotFound) {
			slog.Warn("stats: no price for held instrument", "portfolio", portfolioID, "instrument", h.InstrumentID)
			continue
		}
		if err != nil {
			return nil, err
		}
		currentValue = currentValue.Add(h.Quantity.Mul(price.Price))
	}

	return &model.PortfolioStats{
		PortfolioID: portfolioID,
		NetWorth:    currentValue.Add(p.CashBalance),
		BookValue:   bookCost,
		Gain:        salesValue.Add(currentValue).Sub(bookCost),
		UpdatedAt:   now,
	}, nil
}

// RefreshAsync refreshes in the background. Failures are logged.
func (a *Aggregator) RefreshAsync(portfolioID string, timeout time.Duration) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := a.Refresh(ctx, portfolioID, timeout); err != nil {
			slog.Error("background stats refresh failed", "portfolio", portfolioID, "err", err)
		}
	}()
}

// Wait blocks until every background refresh has finished.
func (a *Aggregator) Wait() {
	a.wg.Wait()
}

// Get returns the stored stats of a portfolio and schedules a background
// refresh under the configured timeout. A portfolio without stats is
// computed synchronously.
func (a *Aggregator) Get(ctx context.Context, portfolioID string) (*model.PortfolioStats, error) {
	var s *model.PortfolioStats
	err := a.store.View(ctx, func(q store.Queries) error {
		var err error
		s, err = q.GetStats(ctx, portfolioID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return a.Refresh(ctx, portfolioID, 0)
	}
	if err != nil {
		return nil, err
	}
	a.RefreshAsync(portfolioID, a.cfg.RefreshTimeout)
	return s, nil
}

// RefreshAll refreshes every active portfolio under timeout, continuing past
// failures. It returns the number refreshed and the joined errors.
func (a *Aggregator) RefreshAll(ctx context.Context, timeout time.Duration) (int, error) {
	var ids []string
	err := a.store.View(ctx, func(q store.Queries) error {
		var err error
		ids, err = q.ListActivePortfolioIDs(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}

	var errs []error
	n := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := a.Refresh(ctx, id, timeout); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Leaderboard returns public portfolios ordered by total gain.
func (a *Aggregator) Leaderboard(ctx context.Context, limit int) ([]model.PortfolioStats, error) {
	var out []model.PortfolioStats
	err := a.store.View(ctx, func(q store.Queries) error {
		var err error
		out, err = q.TopPortfoliosByGain(ctx, limit)
		return err
	})
	return out, err
}
