// Package storetest provides store wrappers for tests.
package storetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/snips/portfolio-engine/internal/model"
	"github.com/snips/portfolio-engine/internal/store"
)

// Faulty wraps a Store and fails selected Queries methods with
// store.ErrStorage, so callers can check that a unit of work rolls back.
type Faulty struct {
	store.Store

	mu     sync.Mutex
	faults map[string]string // method -> key filter, "" matches every call
}

// NewFaulty wraps inner.
func NewFaulty(inner store.Store) *Faulty {
	return &Faulty{Store: inner, faults: make(map[string]string)}
}

// FailOn makes method fail. With a key, only calls whose id argument equals
// key fail.
func (f *Faulty) FailOn(method string, key ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := ""
	if len(key) > 0 {
		k = key[0]
	}
	f.faults[method] = k
}

// Reset clears every fault.
func (f *Faulty) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.faults)
}

func (f *Faulty) check(method, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.faults[method]
	if !ok || (k != "" && k != id) {
		return nil
	}
	return fmt.Errorf("injected %s(%s): %w", method, id, store.ErrStorage)
}

func (f *Faulty) RunInTx(ctx context.Context, fn func(q store.Queries) error) error {
	return f.Store.RunInTx(ctx, func(q store.Queries) error {
		return fn(&faultyQueries{Queries: q, f: f})
	})
}

func (f *Faulty) View(ctx context.Context, fn func(q store.Queries) error) error {
	return f.Store.View(ctx, func(q store.Queries) error {
		return fn(&faultyQueries{Queries: q, f: f})
	})
}

type faultyQueries struct {
	store.Queries
	f *Faulty
}

func (q *faultyQueries) GetUser(ctx context.Context, id string) (*model.User, error) {
	if err := q.f.check("GetUser", id); err != nil {
		return nil, err
	}
	return q.Queries.GetUser(ctx, id)
}

func (q *faultyQueries) AddUserXP(ctx context.Context, userID string, delta int64) error {
	if err := q.f.check("AddUserXP", userID); err != nil {
		return err
	}
	return q.Queries.AddUserXP(ctx, userID, delta)
}

func (q *faultyQueries) InsertXPTransaction(ctx context.Context, x *model.XPTransaction) error {
	if err := q.f.check("InsertXPTransaction", x.UserID); err != nil {
		return err
	}
	return q.Queries.InsertXPTransaction(ctx, x)
}

func (q *faultyQueries) UpdatePortfolio(ctx context.Context, p *model.Portfolio) error {
	if err := q.f.check("UpdatePortfolio", p.ID); err != nil {
		return err
	}
	return q.Queries.UpdatePortfolio(ctx, p)
}

func (q *faultyQueries) InsertHolding(ctx context.Context, h *model.Holding) error {
	if err := q.f.check("InsertHolding", h.PortfolioID); err != nil {
		return err
	}
	return q.Queries.InsertHolding(ctx, h)
}

func (q *faultyQueries) UpdateHolding(ctx context.Context, h *model.Holding) error {
	if err := q.f.check("UpdateHolding", h.PortfolioID); err != nil {
		return err
	}
	return q.Queries.UpdateHolding(ctx, h)
}

func (q *faultyQueries) InsertTransaction(ctx context.Context, t *model.PortfolioTransaction) error {
	if err := q.f.check("InsertTransaction", t.PortfolioID); err != nil {
		return err
	}
	return q.Queries.InsertTransaction(ctx, t)
}

func (q *faultyQueries) UpdateTransaction(ctx context.Context, t *model.PortfolioTransaction) error {
	if err := q.f.check("UpdateTransaction", t.ID); err != nil {
		return err
	}
	return q.Queries.UpdateTransaction(ctx, t)
}

func (q *faultyQueries) GetLatestPrice(ctx context.Context, instrumentID string) (*model.LatestPrice, error) {
	if err := q.f.check("GetLatestPrice", instrumentID); err != nil {
		return nil, err
	}
	return q.Queries.GetLatestPrice(ctx, instrumentID)
}

func (q *faultyQueries) InsertStats(ctx context.Context, s *model.PortfolioStats) error {
	if err := q.f.check("InsertStats", s.PortfolioID); err != nil {
		return err
	}
	return q.Queries.InsertStats(ctx, s)
}

func (q *faultyQueries) UpdateStats(ctx context.Context, s *model.PortfolioStats) error {
	if err := q.f.check("UpdateStats", s.PortfolioID); err != nil {
		return err
	}
	return q.Queries.UpdateStats(ctx, s)
}

func (q *faultyQueries) DeleteUser(ctx context.Context, id string) error {
	if err := q.f.check("DeleteUser", id); err != nil {
		return err
	}
	return q.Queries.DeleteUser(ctx, id)
}

func (q *faultyQueries) ResetSeasonXP(ctx context.Context) error {
	if err := q.f.check("ResetSeasonXP", ""); err != nil {
		return err
	}
	return q.Queries.ResetSeasonXP(ctx)
}
