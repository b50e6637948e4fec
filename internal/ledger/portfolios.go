package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/snips/portfolio-engine/internal/model"
	"github.com/snips/portfolio-engine/internal/store"
)

// CreatePortfolio opens a portfolio with the configured starting cash,
// subject to the per-plan cap on active portfolios.
func (e *Engine) CreatePortfolio(ctx context.Context, userID, characterID, name string) (*model.Portfolio, error) {
	var p *model.Portfolio
	err := e.store.RunInTx(ctx, func(q store.Queries) error {
		// Loading the user locks it and serializes concurrent creates.
		u, err := q.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		n, err := q.CountActivePortfolios(ctx, userID)
		if err != nil {
			return err
		}
		if limit := e.cfg.MaxPortfolios(u.Plan()); n >= limit {
			return fmt.Errorf("%d of %d on %s: %w", n, limit, u.Plan(), ErrPortfolioLimit)
		}

		now := e.now().UTC()
		p = &model.Portfolio{
			ID:          uuid.New().String(),
			UserID:      userID,
			CharacterID: characterID,
			Name:        name,
			CashBalance: e.cfg.StartingCash,
			Status:      model.PortfolioActive,
			IsPublic:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return q.CreatePortfolio(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("create portfolio: %w", err)
	}

	slog.Info("portfolio created", "portfolio", p.ID, "user", userID, "cash", p.CashBalance.String())
	e.refreshStats(ctx, p.ID)
	return p, nil
}

// GetPortfolio returns a portfolio. Private portfolios are only visible to
// their owner; other viewers get store.ErrNotFound.
func (e *Engine) GetPortfolio(ctx context.Context, id, viewerID string) (*model.Portfolio, error) {
	var p *model.Portfolio
	err := e.store.View(ctx, func(q store.Queries) error {
		var err error
		p, err = q.GetPortfolio(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !p.IsPublic && p.UserID != viewerID {
		return nil, fmt.Errorf("portfolio %s: %w", id, store.ErrNotFound)
	}
	return p, nil
}

// ListPortfolios returns a user's active portfolios, hiding private ones
// from other viewers.
func (e *Engine) ListPortfolios(ctx context.Context, ownerID, viewerID string) ([]model.Portfolio, error) {
	var all []model.Portfolio
	err := e.store.View(ctx, func(q store.Queries) error {
		var err error
		all, err = q.ListPortfolios(ctx, ownerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if ownerID == viewerID {
		return all, nil
	}
	visible := all[:0]
	for _, p := range all {
		if p.IsPublic {
			visible = append(visible, p)
		}
	}
	return visible, nil
}

// PortfolioUpdate lists the user-editable fields; nil fields are unchanged.
type PortfolioUpdate struct {
	Name        *string `json:"name,omitempty"`
	CharacterID *string `json:"character_id,omitempty"`
	IsPublic    *bool   `json:"is_public,omitempty"`
}

// UpdatePortfolio applies a user edit to an owned active portfolio.
func (e *Engine) UpdatePortfolio(ctx context.Context, id, userID string, upd PortfolioUpdate) (*model.Portfolio, error) {
	var p *model.Portfolio
	err := e.store.RunInTx(ctx, func(q store.Queries) error {
		var err error
		p, err = OwnedActive(ctx, q, id, userID)
		if err != nil {
			return err
		}
		if upd.Name != nil {
			p.Name = *upd.Name
		}
		if upd.CharacterID != nil {
			p.CharacterID = *upd.CharacterID
		}
		if upd.IsPublic != nil {
			p.IsPublic = *upd.IsPublic
		}
		p.UpdatedAt = e.now().UTC()
		return q.UpdatePortfolio(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("update portfolio: %w", err)
	}
	return p, nil
}

// DeletePortfolio soft-deletes an owned portfolio. Its rows are kept until
// the owning account is deleted.
func (e *Engine) DeletePortfolio(ctx context.Context, id, userID string) error {
	err := e.store.RunInTx(ctx, func(q store.Queries) error {
		p, err := OwnedActive(ctx, q, id, userID)
		if err != nil {
			return err
		}
		p.Status = model.PortfolioDeleted
		p.UpdatedAt = e.now().UTC()
		return q.UpdatePortfolio(ctx, p)
	})
	if err != nil {
		return fmt.Errorf("delete portfolio: %w", err)
	}
	slog.Info("portfolio deleted", "portfolio", id, "user", userID)
	return nil
}

// OwnedActive loads and locks a portfolio inside a unit of work, checking
// that userID owns it and that it is active.
func OwnedActive(ctx context.Context, q store.Queries, id, userID string) (*model.Portfolio, error) {
	p, err := q.GetPortfolio(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, fmt.Errorf("portfolio %s: %w", id, ErrNotOwner)
	}
	if !p.IsActive() {
		return nil, fmt.Errorf("portfolio %s: %w", id, ErrPortfolioInactive)
	}
	return p, nil
}

// ListHoldings returns the holdings of a portfolio. Closed positions are
// skipped unless includeClosed is set.
func (e *Engine) ListHoldings(ctx context.Context, portfolioID string, includeClosed bool) ([]model.Holding, error) {
	var holdings []model.Holding
	err := e.store.View(ctx, func(q store.Queries) error {
		var err error
		holdings, err = q.ListHoldings(ctx, portfolioID)
		return err
	})
	if err != nil || includeClosed {
		return holdings, err
	}
	open := holdings[:0]
	for _, h := range holdings {
		if h.Quantity.IsPositive() {
			open = append(open, h)
		}
	}
	return open, nil
}

// ListTransactions pages through a portfolio's transactions, newest first.
func (e *Engine) ListTransactions(ctx context.Context, portfolioID string, limit, offset int) ([]model.PortfolioTransaction, error) {
	var txs []model.PortfolioTransaction
	err := e.store.View(ctx, func(q store.Queries) error {
		var err error
		txs, err = q.ListTransactions(ctx, portfolioID, limit, offset)
		return err
	})
	return txs, err
}

// GetTransaction returns one portfolio transaction.
func (e *Engine) GetTransaction(ctx context.Context, id string) (*model.PortfolioTransaction, error) {
	var t *model.PortfolioTransaction
	err := e.store.View(ctx, func(q store.Queries) error {
		var err error
		t, err = q.GetTransaction(ctx, id)
		return err
	})
	return t, err
}

// PublicFeed returns recent executed trades of public portfolios.
func (e *Engine) PublicFeed(ctx context.Context, limit int) ([]model.PortfolioTransaction, error) {
	var txs []model.PortfolioTransaction
	err := e.store.View(ctx, func(q store.Queries) error {
		var err error
		txs, err = q.ListPublicTrades(ctx, limit)
		return err
	})
	return txs, err
}

// --- Pricing snapshots ---

// LatestPrice returns the current price snapshot of an instrument.
func (e *Engine) LatestPrice(ctx context.Context, instrumentID string) (*model.LatestPrice, error) {
	var p *model.LatestPrice
	err := e.store.View(ctx, func(q store.Queries) error {
		var err error
		p, err = q.GetLatestPrice(ctx, instrumentID)
		return err
	})
	return p, err
}

// PriceHistory returns bars of one timeframe at or after since.
func (e *Engine) PriceHistory(ctx context.Context, instrumentID, timeframe string, since time.Time) ([]model.PriceBar, error) {
	tf, err := model.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	var bars []model.PriceBar
	err = e.store.View(ctx, func(q store.Queries) error {
		var err error
		bars, err = q.ListPriceBars(ctx, instrumentID, tf, since)
		return err
	})
	return bars, err
}

// SetPrice stores a latest-price snapshot. Used by ingestion tooling only.
func (e *Engine) SetPrice(ctx context.Context, instrumentID string, price decimal.Decimal, asOf time.Time) error {
	if price.IsNegative() {
		return fmt.Errorf("price %s: %w", price, ErrInvalidAmount)
	}
	return e.store.RunInTx(ctx, func(q store.Queries) error {
		return q.PutLatestPrice(ctx, &model.LatestPrice{InstrumentID: instrumentID, Price: price, AsOf: asOf.UTC()})
	})
}

// RecordBar stores a historical price bar. Used by ingestion tooling only.
func (e *Engine) RecordBar(ctx context.Context, bar model.PriceBar) error {
	if _, err := model.ParseTimeframe(string(bar.Timeframe)); err != nil {
		return err
	}
	return e.store.RunInTx(ctx, func(q store.Queries) error {
		return q.InsertPriceBar(ctx, &bar)
	})
}
