// Package ledger owns portfolios, holdings and portfolio transactions and
// executes the buy/sell state transitions under one unit of work.
package ledger

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

// Config holds the ledger limits.
type Config struct {
	StartingCash         decimal.Decimal `env:"STARTING_CASH" envDefault:"1000"`
	MaxPortfoliosFree    int             `env:"MAX_PORTFOLIOS_FREE" envDefault:"1"`
	MaxPortfoliosPremium int             `env:"MAX_PORTFOLIOS_PREMIUM" envDefault:"5"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(err)
	}
	return cfg
}

// MaxPortfolios returns the active portfolio cap for a plan.
func (c Config) MaxPortfolios(plan model.Plan) int {
	if plan == model.PlanPremium {
		return c.MaxPortfoliosPremium
	}
	return c.MaxPortfoliosFree
}

// StatsRefresher recomputes portfolio stats after balance-affecting writes.
type StatsRefresher interface {
	Refresh(ctx context.Context, portfolioID string, timeout time.Duration) (*model.PortfolioStats, error)
}

// Engine is the Ledger Engine.
type Engine struct {
	store  store.Store
	cfg    Config
	stats  StatsRefresher
	events events.Publisher
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPublisher sets the post-commit event sink.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.events = events.OrNop(p) }
}

// WithStats sets the stats refresher invoked after balance-affecting writes.
func WithStats(r StatsRefresher) Option {
	return func(e *Engine) { e.stats = r }
}

// New creates a ledger engine.
func New(st store.Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:  st,
		cfg:    cfg,
		events: events.Nop{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execution is the committed result of ExecuteTransaction.
type Execution struct {
	Transaction model.PortfolioTransaction `json:"transaction"`
	Portfolio   model.Portfolio            `json:"portfolio"`
	Holding     model.Holding              `json:"holding"`
}

// CreateTransaction records a pending transaction. No balance or holding is
// touched until it is executed.
func (e *Engine) CreateTransaction(ctx context.Context, portfolioID string, instrumentID *string, typ model.TransactionType, qty decimal.Decimal, message *string) (*model.PortfolioTransaction, error) {
	if !qty.IsPositive() {
		return nil, fmt.Errorf("quantity %s: %w", qty, ErrInvalidQuantity)
	}
	if typ.IsTrade() && (instrumentID == nil || *instrumentID == "") {
		return nil, fmt.Errorf("%s requires an instrument: %w", typ, ErrUnsupportedType)
	}

	t := &model.PortfolioTransaction{
		ID:           uuid.New().String(),
		PortfolioID:  portfolioID,
		InstrumentID: instrumentID,
		Type:         typ,
		Quantity:     qty,
		Status:       model.StatusPending,
		Message:      message,
		CreatedAt:    e.now().UTC(),
	}
	err := e.store.RunInTx(ctx, func(q store.Queries) error {
		p, err := q.GetPortfolio(ctx, portfolioID)
		if err != nil {
			return err
		}
		if !p.IsActive() {
			return fmt.Errorf("portfolio %s: %w", portfolioID, ErrPortfolioInactive)
		}
		return q.InsertTransaction(ctx, t)
	})
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	return t, nil
}

// ExecuteTransaction applies a pending buy or sell at the instrument's latest
// price. Portfolio, holding and transaction are persisted together; on any
// failure nothing changes and the transaction stays pending.
func (e *Engine) ExecuteTransaction(ctx context.Context, txID string) (*Execution, error) {
	start := time.Now()
	var exec Execution

	err := e.store.RunInTx(ctx, func(q store.Queries) error {
		t, err := q.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if !t.IsPending() {
			return fmt.Errorf("transaction %s is %s: %w", t.ID, t.Status, ErrNotPending)
		}
		if !t.Type.IsTrade() || t.InstrumentID == nil {
			return fmt.Errorf("execute %s: %w", t.Type, ErrUnsupportedType)
		}
		instrumentID := *t.InstrumentID

		p, err := q.GetPortfolio(ctx, t.PortfolioID)
		if err != nil {
			return err
		}
		if !p.IsActive() {
			return fmt.Errorf("portfolio %s: %w", p.ID, ErrPortfolioInactive)
		}

		price, err := q.GetLatestPrice(ctx, instrumentID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("instrument %s: %w", instrumentID, ErrPriceUnavailable)
		}
		if err != nil {
			return err
		}
		if !price.Price.IsPositive() {
			return fmt.Errorf("instrument %s price %s: %w", instrumentID, price.Price, ErrPriceUnavailable)
		}

		h, err := q.GetHolding(ctx, p.ID, instrumentID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		isNew := h == nil

		now := e.now().UTC()
		value := price.Price.Mul(t.Quantity)

		switch t.Type {
		case model.TxBuy:
			h, err = applyBuy(p, h, instrumentID, t.Quantity, price.Price, value, now)
			if err != nil {
				return err
			}
		case model.TxSell:
			exAvg, err := applySell(p, h, t.Quantity, value, now)
			if err != nil {
				return err
			}
			t.ExAvgPrice = decimal.NewNullDecimal(exAvg)
		}

		t.Value = decimal.NewNullDecimal(value)
		t.Status = model.StatusExecuted
		t.ExecutedAt = &now

		if err := q.UpdatePortfolio(ctx, p); err != nil {
			return err
		}
		if isNew {
			err = q.InsertHolding(ctx, h)
		} else {
			err = q.UpdateHolding(ctx, h)
		}
		if err != nil {
			return err
		}
		if err := q.UpdateTransaction(ctx, t); err != nil {
			return err
		}

		exec = Execution{Transaction: *t, Portfolio: *p, Holding: *h}
		return nil
	})
	if err != nil {
		metrics.ExecuteRejections.WithLabelValues(rejectionReason(err)).Inc()
		return nil, fmt.Errorf("execute transaction %s: %w", txID, err)
	}

	typ := string(exec.Transaction.Type)
	metrics.TransactionsExecuted.WithLabelValues(typ).Inc()
	metrics.ExecuteLatency.WithLabelValues(typ).Observe(time.Since(start).Seconds())

	slog.Info("transaction executed",
		"transaction", exec.Transaction.ID,
		"portfolio", exec.Portfolio.ID,
		"type", typ,
		"instrument", exec.Holding.InstrumentID,
		"quantity", exec.Transaction.Quantity.String(),
		"value", exec.Transaction.Value.Decimal.String(),
		"cash", exec.Portfolio.CashBalance.String(),
	)

	e.events.Publish(ctx, events.Event{
		Type:        events.TransactionExecuted,
		UserID:      exec.Portfolio.UserID,
		PortfolioID: exec.Portfolio.ID,
		Data:        exec.Transaction,
		At:          *exec.Transaction.ExecutedAt,
	})
	e.refreshStats(ctx, exec.Portfolio.ID)
	return &exec, nil
}

// PlaceTrade creates and immediately executes a user trade. If execution
// fails the pending transaction is left in place and the error returned.
func (e *Engine) PlaceTrade(ctx context.Context, portfolioID, instrumentID string, typ model.TransactionType, qty decimal.Decimal, message *string) (*Execution, error) {
	if !typ.IsTrade() {
		return nil, fmt.Errorf("place %s: %w", typ, ErrUnsupportedType)
	}
	t, err := e.CreateTransaction(ctx, portfolioID, &instrumentID, typ, qty, message)
	if err != nil {
		return nil, err
	}
	return e.ExecuteTransaction(ctx, t.ID)
}

// CreditCash adds amount to the portfolio cash as an executed cash-only
// transaction of type typ, then forces a stats refresh.
func (e *Engine) CreditCash(ctx context.Context, portfolioID string, amount decimal.Decimal, typ model.TransactionType) (*model.PortfolioTransaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("credit %s: %w", amount, ErrInvalidAmount)
	}

	var t *model.PortfolioTransaction
	err := e.store.RunInTx(ctx, func(q store.Queries) error {
		p, err := q.GetPortfolio(ctx, portfolioID)
		if err != nil {
			return err
		}
		if !p.IsActive() {
			return fmt.Errorf("portfolio %s: %w", portfolioID, ErrPortfolioInactive)
		}
		t, err = CreditCashTx(ctx, q, p, amount, typ, e.now().UTC())
		if err != nil {
			return err
		}
		return q.UpdatePortfolio(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("credit cash: %w", err)
	}

	slog.Info("cash credited", "portfolio", portfolioID, "type", typ, "amount", amount.String())
	e.refreshStats(ctx, portfolioID)
	return t, nil
}

// CreditCashTx applies a cash credit to p inside an open unit of work and
// inserts the executed transaction recording it. The caller persists p.
func CreditCashTx(ctx context.Context, q store.Queries, p *model.Portfolio, amount decimal.Decimal, typ model.TransactionType, now time.Time) (*model.PortfolioTransaction, error) {
	t := applyCashCredit(p, amount, typ, uuid.New().String(), now)
	if err := q.InsertTransaction(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// AdjustSplit applies a stock split to every holding of an instrument:
// quantity is multiplied and average price divided by multiplier.
func (e *Engine) AdjustSplit(ctx context.Context, instrumentID string, multiplier decimal.Decimal) (int, error) {
	if !multiplier.IsPositive() {
		return 0, fmt.Errorf("split multiplier %s: %w", multiplier, ErrInvalidQuantity)
	}

	var touched []string
	err := e.store.RunInTx(ctx, func(q store.Queries) error {
		holdings, err := q.ListHoldingsByInstrument(ctx, instrumentID)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		for i := range holdings {
			h := &holdings[i]
			if h.Quantity.IsZero() {
				continue
			}
			h.Quantity = h.Quantity.Mul(multiplier)
			h.AveragePrice = h.AveragePrice.Div(multiplier)
			h.UpdatedAt = now
			if err := q.UpdateHolding(ctx, h); err != nil {
				return err
			}
			touched = append(touched, h.PortfolioID)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("adjust split %s: %w", instrumentID, err)
	}

	slog.Info("split adjusted", "instrument", instrumentID, "multiplier", multiplier.String(), "holdings", len(touched))
	for _, id := range touched {
		e.refreshStats(ctx, id)
	}
	return len(touched), nil
}

// refreshStats forces a stats recompute. Failures are logged, never surfaced.
func (e *Engine) refreshStats(ctx context.Context, portfolioID string) {
	if e.stats == nil {
		return
	}
	if _, err := e.stats.Refresh(ctx, portfolioID, 0); err != nil {
		slog.Warn("stats refresh after write failed", "portfolio", portfolioID, "err", err)
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientQuantity):
		return "insufficient_quantity"
	case errors.Is(err, ErrNotPending):
		return "not_pending"
	case errors.Is(err, ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, ErrPortfolioInactive):
		return "portfolio_inactive"
	case errors.Is(err, ErrUnsupportedType):
		return "unsupported_type"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return "storage"
	}
}
