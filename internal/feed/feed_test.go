package feed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/config"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/types"
)

func newRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func event(id string, ts time.Time) types.TradeEvent {
	return types.TradeEvent{
		ID: id, WalletID: 7, Wallet: "0xabc", Side: types.Buy, Market: types.MarketInternal,
		Token: "0xdef", Amount: "100", MinOut: "98", TxHashes: []string{"0x01"}, Nonce: 3, Ts: ts,
	}
}

func TestNewClient(t *testing.T) {
	assert.Nil(t, NewClient(&config.Config{}))
	var cfg config.Config
	cfg.Redis.Addr = "127.0.0.1:6379"
	c := NewClient(&cfg)
	require.NotNil(t, c)
	_ = c.Close()
}

func TestPublishConsume(t *testing.T) {
	rdb := newRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := NewConsumer(rdb, "relay:trades", zap.NewNop())
	c.block = 50 * time.Millisecond
	require.NoError(t, c.EnsureGroup(ctx, "watch"))
	// second create is a no-op
	require.NoError(t, c.EnsureGroup(ctx, "watch"))

	p := NewPublisher(rdb, "relay:trades")
	ts := time.UnixMilli(1_700_000_000_000).UTC()
	require.NoError(t, p.Publish(ctx, event("a", ts)))

	// malformed entry is acked and skipped
	require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{Stream: "relay:trades", Values: map[string]interface{}{"data": "{"}}).Err())
	require.NoError(t, p.Publish(ctx, event("b", ts.Add(time.Second))))

	out := make(chan types.TradeEvent, 4)
	done := make(chan error, 1)
	go func() { done <- c.Consume(ctx, "watch", "w1", out) }()

	got := []types.TradeEvent{<-out, <-out}
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, []string{"0x01"}, got[0].TxHashes)
	assert.True(t, ts.Equal(got[0].Ts))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRecentTrades(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()
	p := NewPublisher(rdb, "s")
	c := NewConsumer(rdb, "s", zap.NewNop())

	base := time.UnixMilli(1_000_000)
	require.NoError(t, p.Publish(ctx, event("old", base)))
	require.NoError(t, p.Publish(ctx, event("new", base.Add(time.Minute))))

	ids, err := c.RecentTrades(ctx, 7, base.Add(time.Second).UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, ids)

	ids, err = c.RecentTrades(ctx, 8, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
