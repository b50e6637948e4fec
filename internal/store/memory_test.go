package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snips/portfolio-engine/internal/model"
	"github.com/snips/portfolio-engine/internal/store"
	"github.com/snips/portfolio-engine/internal/store/storetest"
)

var epoch = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func seedPortfolio(t *testing.T, st store.Store, id, userID string) {
	t.Helper()
	require.NoError(t, st.RunInTx(context.Background(), func(q store.Queries) error {
		return q.CreatePortfolio(context.Background(), &model.Portfolio{
			ID: id, UserID: userID, CashBalance: decimal.NewFromInt(1000),
			Status: model.PortfolioActive, IsPublic: true, CreatedAt: epoch, UpdatedAt: epoch,
		})
	}))
}

func TestMemoryStore_RunInTxRollsBack(t *testing.T) {
	ms := store.NewMemoryStore()
	storetest.SeedUser(t, ms, "u1", false)
	seedPortfolio(t, ms, "p1", "u1")
	boom := errors.New("boom")

	err := ms.RunInTx(context.Background(), func(q store.Queries) error {
		p, err := q.GetPortfolio(context.Background(), "p1")
		if err != nil {
			return err
		}
		p.CashBalance = decimal.Zero
		if err := q.UpdatePortfolio(context.Background(), p); err != nil {
			return err
		}
		if err := q.AddUserXP(context.Background(), "u1", 50); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	storetest.RequireDecimal(t, "1000", storetest.Portfolio(t, ms, "p1").CashBalance)
	assert.Zero(t, storetest.User(t, ms, "u1").XPTotal)
}

func TestMemoryStore_ViewDiscardsWrites(t *testing.T) {
	ms := store.NewMemoryStore()
	storetest.SeedUser(t, ms, "u1", false)

	require.NoError(t, ms.View(context.Background(), func(q store.Queries) error {
		return q.AddUserXP(context.Background(), "u1", 50)
	}))
	assert.Zero(t, storetest.User(t, ms, "u1").XPTotal)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ms := store.NewMemoryStore()
	storetest.SeedUser(t, ms, "u1", false)
	seedPortfolio(t, ms, "p1", "u1")

	p := storetest.Portfolio(t, ms, "p1")
	p.CashBalance = decimal.Zero
	storetest.RequireDecimal(t, "1000", storetest.Portfolio(t, ms, "p1").CashBalance)
}

func TestMemoryStore_Constraints(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	storetest.SeedUser(t, ms, "u1", false)
	seedPortfolio(t, ms, "p1", "u1")

	err := ms.RunInTx(ctx, func(q store.Queries) error {
		return q.CreatePortfolio(ctx, &model.Portfolio{ID: "p2", UserID: "ghost", Status: model.PortfolioActive})
	})
	require.ErrorIs(t, err, store.ErrStorage)

	err = ms.RunInTx(ctx, func(q store.Queries) error { return q.DeleteUser(ctx, "u1") })
	require.ErrorIs(t, err, store.ErrStorage, "user still owns a portfolio")

	err = ms.RunInTx(ctx, func(q store.Queries) error {
		return q.InsertHolding(ctx, &model.Holding{PortfolioID: "p1", InstrumentID: "AAPL", Quantity: decimal.NewFromInt(1)})
	})
	require.NoError(t, err)
	err = ms.RunInTx(ctx, func(q store.Queries) error { return q.DeletePortfolio(ctx, "p1") })
	require.ErrorIs(t, err, store.ErrStorage, "portfolio still has holdings")

	err = ms.RunInTx(ctx, func(q store.Queries) error { return q.SetReferrer(ctx, "u1", "ghost") })
	require.ErrorIs(t, err, store.ErrStorage)

	err = ms.View(ctx, func(q store.Queries) error {
		_, err := q.GetTransaction(ctx, "missing")
		return err
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStore_TopUsersByXP(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		storetest.SeedUser(t, ms, id, false)
	}
	require.NoError(t, ms.RunInTx(ctx, func(q store.Queries) error {
		if err := q.AddUserXP(ctx, "b", 30); err != nil {
			return err
		}
		if err := q.AddUserXP(ctx, "c", 10); err != nil {
			return err
		}
		return q.SetWeeklyXP(ctx, "a", 99)
	}))

	var weekly, total []model.User
	require.NoError(t, ms.View(ctx, func(q store.Queries) error {
		var err error
		if weekly, err = q.TopUsersByXP(ctx, store.BoardWeekly, 2); err != nil {
			return err
		}
		total, err = q.TopUsersByXP(ctx, store.BoardTotal, 10)
		return err
	}))
	require.Len(t, weekly, 2)
	assert.Equal(t, "a", weekly[0].ID)
	assert.Equal(t, "b", weekly[1].ID)
	assert.Equal(t, []string{"b", "c", "a"}, []string{total[0].ID, total[1].ID, total[2].ID})

	err := ms.View(ctx, func(q store.Queries) error {
		_, err := q.TopUsersByXP(ctx, store.XPBoard("monthly"), 10)
		return err
	})
	require.ErrorIs(t, err, model.ErrConfiguration)
}

func TestMemoryStore_RefillAndClampCredits(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	storetest.SeedUser(t, ms, "u1", false)

	var n int64
	require.NoError(t, ms.RunInTx(ctx, func(q store.Queries) error {
		if err := q.AdjustCredits(ctx, "u1", -50); err != nil {
			return err
		}
		var err error
		n, err = q.RefillCredits(ctx, 200)
		return err
	}))
	assert.EqualValues(t, 1, n)
	assert.EqualValues(t, 200, storetest.User(t, ms, "u1").CreditBalance)
}
