package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snips/portfolio-engine/internal/model"
	"github.com/snips/portfolio-engine/internal/store"
	"github.com/snips/portfolio-engine/internal/store/storetest"
)

func latestPrice(t *testing.T, st store.Store, instrumentID string) *model.LatestPrice {
	t.Helper()
	var p *model.LatestPrice
	require.NoError(t, st.View(context.Background(), func(q store.Queries) error {
		var err error
		p, err = q.GetLatestPrice(context.Background(), instrumentID)
		return err
	}))
	return p
}

func TestCachedStore_FallsBackWhenRedisIsDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { rdb.Close() })
	cs := store.NewCachedStore(store.NewMemoryStore(), rdb, time.Minute)

	storetest.SeedPrice(t, cs, "AAPL", "50")
	storetest.RequireDecimal(t, "50", latestPrice(t, cs, "AAPL").Price)
}

// TestCachedStore_ReadThrough needs a disposable Redis in REDIS_TEST_URL.
func TestCachedStore_ReadThrough(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { rdb.Close() })
	ctx := context.Background()
	require.NoError(t, rdb.FlushDB(ctx).Err())

	primary := store.NewMemoryStore()
	cs := store.NewCachedStore(primary, rdb, time.Minute)

	storetest.SeedPrice(t, cs, "AAPL", "50")
	storetest.RequireDecimal(t, "50", latestPrice(t, cs, "AAPL").Price)
	n, err := rdb.Exists(ctx, "price:AAPL").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "populated on miss")

	// A write behind the cache's back is not seen until invalidation.
	storetest.SeedPrice(t, primary, "AAPL", "60")
	storetest.RequireDecimal(t, "50", latestPrice(t, cs, "AAPL").Price)

	storetest.SeedPrice(t, cs, "AAPL", "70")
	storetest.RequireDecimal(t, "70", latestPrice(t, cs, "AAPL").Price)
}
