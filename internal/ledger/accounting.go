package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/snips/portfolio-engine/internal/model"
)

// applyBuy debits the portfolio and adds quantity to the holding, creating
// it when h is nil. Nothing is mutated when cash is insufficient.
func applyBuy(p *model.Portfolio, h *model.Holding, instrumentID string, qty, price, value decimal.Decimal, now time.Time) (*model.Holding, error) {
	cash := p.CashBalance.Sub(value)
	if cash.IsNegative() {
		return nil, fmt.Errorf("cash %s, cost %s: %w", p.CashBalance, value, ErrInsufficientFunds)
	}

	if h == nil {
		h = &model.Holding{
			PortfolioID:  p.ID,
			InstrumentID: instrumentID,
			Quantity:     qty,
			AveragePrice: price,
			CreatedAt:    now,
		}
	} else {
		newQty := h.Quantity.Add(qty)
		h.AveragePrice = h.BookCost().Add(value).Div(newQty)
		h.Quantity = newQty
	}
	h.UpdatedAt = now
	p.CashBalance = cash
	p.UpdatedAt = now
	return h, nil
}

// applySell removes quantity from the holding at its average cost and
// credits the sale value. It returns the average price before the sell.
// Over-sells are rejected outright.
func applySell(p *model.Portfolio, h *model.Holding, qty, value decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if h == nil || h.Quantity.LessThan(qty) {
		held := decimal.Zero
		if h != nil {
			held = h.Quantity
		}
		return decimal.Zero, fmt.Errorf("held %s, selling %s: %w", held, qty, ErrInsufficientQuantity)
	}

	exAvg := h.AveragePrice
	newQty := h.Quantity.Sub(qty)
	if newQty.IsZero() {
		h.Quantity = decimal.Zero
		h.AveragePrice = decimal.Zero
	} else {
		// Removing qty*exAvg of book cost leaves the average unchanged.
		h.Quantity = newQty
	}
	h.UpdatedAt = now
	p.CashBalance = p.CashBalance.Add(value)
	p.UpdatedAt = now
	return exAvg, nil
}

// applyCashCredit adds amount to the portfolio cash and returns the executed
// cash-only transaction recording it. The caller persists both.
func applyCashCredit(p *model.Portfolio, amount decimal.Decimal, typ model.TransactionType, id string, now time.Time) *model.PortfolioTransaction {
	p.CashBalance = p.CashBalance.Add(amount)
	p.UpdatedAt = now
	return &model.PortfolioTransaction{
		ID:          id,
		PortfolioID: p.ID,
		Type:        typ,
		Quantity:    amount,
		Value:       decimal.NewNullDecimal(amount),
		Status:      model.StatusExecuted,
		CreatedAt:   now,
		ExecutedAt:  &now,
	}
}
