package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/snips/portfolio-engine/internal/model"
	"github.com/snips/portfolio-engine/internal/store"
)

// SeedUser inserts an active user directly in the store.
func SeedUser(t testing.TB, st store.Store, id string, premium bool) *model.User {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	u := &model.User{
		ID:           id,
		DisplayName:  id,
		Status:       model.UserActive,
		IsPremium:    premium,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActiveAt: now,
	}
	require.NoError(t, st.RunInTx(context.Background(), func(q store.Queries) error {
		return q.CreateUser(context.Background(), u)
	}))
	return u
}

// SeedPrice stores the latest price of an instrument.
func SeedPrice(t testing.TB, st store.Store, instrumentID, price string) {
	t.Helper()
	p := &model.LatestPrice{
		InstrumentID: instrumentID,
		Price:        decimal.RequireFromString(price),
		AsOf:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, st.RunInTx(context.Background(), func(q store.Queries) error {
		return q.PutLatestPrice(context.Background(), p)
	}))
}

// Portfolio reads a portfolio outside any unit of work.
func Portfolio(t testing.TB, st store.Store, id string) *model.Portfolio {
	t.Helper()
	var p *model.Portfolio
	require.NoError(t, st.View(context.Background(), func(q store.Queries) error {
		var err error
		p, err = q.GetPortfolio(context.Background(), id)
		return err
	}))
	return p
}

// User reads a user outside any unit of work.
func User(t testing.TB, st store.Store, id string) *model.User {
	t.Helper()
	var u *model.User
	require.NoError(t, st.View(context.Background(), func(q store.Queries) error {
		var err error
		u, err = q.GetUser(context.Background(), id)
		return err
	}))
	return u
}

// Transaction reads a portfolio transaction outside any unit of work.
func Transaction(t testing.TB, st store.Store, id string) *model.PortfolioTransaction {
	t.Helper()
	var tx *model.PortfolioTransaction
	require.NoError(t, st.View(context.Background(), func(q store.Queries) error {
		var err error
		tx, err = q.GetTransaction(context.Background(), id)
		return err
	}))
	return tx
}

// RequireDecimal fails unless got equals want numerically.
func RequireDecimal(t testing.TB, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	w := decimal.RequireFromString(want)
	require.Truef(t, w.Equal(got), "want %s, got %s %v", w, got, msgAndArgs)
}
