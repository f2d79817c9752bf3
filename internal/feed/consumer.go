package feed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/types"
)

type Consumer struct {
	rdb    *redis.Client
	stream string
	block  time.Duration
	log    *zap.Logger
}

func NewConsumer(rdb *redis.Client, stream string, log *zap.Logger) *Consumer {
	return &Consumer{rdb: rdb, stream: stream, block: time.Second, log: log.Named("feed")}
}

// EnsureGroup creates the consumer group (and stream) if missing.
func (c *Consumer) EnsureGroup(ctx context.Context, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s: %w", group, err)
	}
	return nil
}

// Consume reads the stream as group/consumer and delivers events until ctx ends.
// Every message is acked once handled, including malformed ones.
func (c *Consumer) Consume(ctx context.Context, group, consumer string, out chan<- types.TradeEvent) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{c.stream, ">"},
			Count:    200,
			Block:    c.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("xreadgroup failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				ev, err := decode(m)
				if err != nil {
					c.log.Warn("skip malformed trade event", zap.String("msg", m.ID), zap.Error(err))
				} else {
					select {
					case out <- ev:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				_ = c.rdb.XAck(ctx, c.stream, group, m.ID).Err()
			}
		}
	}
}

func decode(m redis.XMessage) (types.TradeEvent, error) {
	var ev types.TradeEvent
	raw, ok := m.Values["data"].(string)
	if !ok || raw == "" {
		return ev, errors.New("missing data field")
	}
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return ev, err
	}
	if ev.ID == "" || len(ev.TxHashes) == 0 {
		return ev, errors.New("event without id or tx hashes")
	}
	return ev, nil
}

// RecentTrades lists event ids for a wallet newer than sinceMs.
func (c *Consumer) RecentTrades(ctx context.Context, walletID int64, sinceMs int64) ([]string, error) {
	return c.rdb.ZRangeByScore(ctx, walletIndexNS+strconv.FormatInt(walletID, 10), &redis.ZRangeBy{
		Min: strconv.FormatInt(sinceMs, 10),
		Max: "+inf",
	}).Result()
}
