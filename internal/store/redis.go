package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/snips/portfolio-engine/internal/metrics"
	"github.com/snips/portfolio-engine/internal/model"
)

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
	_ Store = (*CachedStore)(nil)
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for price snapshots and portfolio stats. Writes go to the primary
// store and invalidate the cache once the unit of work commits; reads check
// Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) RunInTx(ctx context.Context, fn func(q Queries) error) error {
	var dirty []string
	err := s.primary.RunInTx(ctx, func(q Queries) error {
		return fn(&cachedQueries{Queries: q, store: s, dirty: &dirty})
	})
	if err != nil {
		return err
	}
	// Invalidate after commit; next read will re-populate.
	if len(dirty) > 0 {
		s.rdb.Del(ctx, dirty...)
	}
	return nil
}

func (s *CachedStore) View(ctx context.Context, fn func(q Queries) error) error {
	return s.primary.View(ctx, func(q Queries) error {
		return fn(&cachedQueries{Queries: q, store: s})
	})
}

// cachedQueries overrides the cached reads and the writes that invalidate
// them. Everything else passes through to the primary. dirty is nil outside
// a transaction.
type cachedQueries struct {
	Queries
	store *CachedStore
	dirty *[]string
}

// --- Read-through (check cache first) ---

func (q *cachedQueries) GetLatestPrice(ctx context.Context, instrumentID string) (*model.LatestPrice, error) {
	var p model.LatestPrice
	if q.store.get(ctx, "price", priceKey(instrumentID), &p) {
		return &p, nil
	}

	// Cache miss: read from primary.
	price, err := q.Queries.GetLatestPrice(ctx, instrumentID)
	if err != nil {
		return nil, err
	}
	q.store.set(ctx, priceKey(instrumentID), price)
	return price, nil
}

// GetStats is cached only outside a transaction; inside one the row lock
// taken by the primary is needed.
func (q *cachedQueries) GetStats(ctx context.Context, portfolioID string) (*model.PortfolioStats, error) {
	if q.dirty != nil {
		return q.Queries.GetStats(ctx, portfolioID)
	}

	var st model.PortfolioStats
	if q.store.get(ctx, "stats", statsKey(portfolioID), &st) {
		return &st, nil
	}

	stats, err := q.Queries.GetStats(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	q.store.set(ctx, statsKey(portfolioID), stats)
	return stats, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (q *cachedQueries) PutLatestPrice(ctx context.Context, p *model.LatestPrice) error {
	if err := q.Queries.PutLatestPrice(ctx, p); err != nil {
		return err
	}
	q.invalidate(ctx, priceKey(p.InstrumentID))
	return nil
}

func (q *cachedQueries) InsertStats(ctx context.Context, st *model.PortfolioStats) error {
	if err := q.Queries.InsertStats(ctx, st); err != nil {
		return err
	}
	q.invalidate(ctx, statsKey(st.PortfolioID))
	return nil
}

func (q *cachedQueries) UpdateStats(ctx context.Context, st *model.PortfolioStats) error {
	if err := q.Queries.UpdateStats(ctx, st); err != nil {
		return err
	}
	q.invalidate(ctx, statsKey(st.PortfolioID))
	return nil
}

func (q *cachedQueries) DeleteStats(ctx context.Context, portfolioID string) error {
	if err := q.Queries.DeleteStats(ctx, portfolioID); err != nil {
		return err
	}
	q.invalidate(ctx, statsKey(portfolioID))
	return nil
}

func (q *cachedQueries) invalidate(ctx context.Context, key string) {
	if q.dirty != nil {
		*q.dirty = append(*q.dirty, key)
		return
	}
	q.store.rdb.Del(ctx, key)
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, cache, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil && msgpack.Unmarshal(data, v) == nil {
		metrics.CacheLookups.WithLabelValues(cache, "hit").Inc()
		return true
	}
	metrics.CacheLookups.WithLabelValues(cache, "miss").Inc()
	return false
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := msgpack.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func priceKey(instrumentID string) string { return fmt.Sprintf("price:%s", instrumentID) }
func statsKey(portfolioID string) string  { return fmt.Sprintf("stats:%s", portfolioID) }
