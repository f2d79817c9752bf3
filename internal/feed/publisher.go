package feed

import (
	"context"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/config"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/types"
)

const (
	walletIndexNS = "trades:wallet:"
	streamMaxLen  = 100_000
)

// NewClient builds the redis client from config; nil when no address is configured.
func NewClient(cfg *config.Config) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	})
}

type Publisher struct {
	rdb    *redis.Client
	stream string
}

func NewPublisher(rdb *redis.Client, stream string) *Publisher {
	return &Publisher{rdb: rdb, stream: stream}
}

// Publish appends the event to the stream and indexes it under its wallet.
func (p *Publisher) Publish(ctx context.Context, ev types.TradeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal trade event: %w", err)
	}
	tsMs := ev.Ts.UnixMilli()
	pipe := p.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":     ev.ID,
			"side":   string(ev.Side),
			"market": string(ev.Market),
			"token":  ev.Token,
			"wallet": ev.Wallet,
			"ts_ms":  tsMs,
			"data":   payload,
		},
	})
	pipe.ZAdd(ctx, walletIndexNS+strconv.FormatInt(ev.WalletID, 10), redis.Z{
		Score: float64(tsMs), Member: ev.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish trade event %s: %w", ev.ID, err)
	}
	return nil
}
