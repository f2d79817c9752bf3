package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/config"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/conn"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/feed"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/logging"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/metrics"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/txstatus"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/types"
)

type waiter interface {
	Wait(ctx context.Context, hash common.Hash, interval, timeout time.Duration) (txstatus.Status, error)
}

// watcher settles every transaction of a published trade and logs the outcome.
type watcher struct {
	txs      waiter
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
}

type outcome struct {
	Event    types.TradeEvent
	Statuses []txstatus.Status
}

func (w *watcher) settle(ctx context.Context, ev types.TradeEvent) outcome {
	out := outcome{Event: ev, Statuses: make([]txstatus.Status, len(ev.TxHashes))}
	var wg sync.WaitGroup
	for i, h := range ev.TxHashes {
		wg.Add(1)
		go func(i int, hash common.Hash) {
			defer wg.Done()
			st, err := w.txs.Wait(ctx, hash, w.interval, w.timeout)
			if err != nil {
				w.log.Warn("tx status", zap.String("trade", ev.ID), zap.String("tx", hash.Hex()), zap.Error(err))
				st = txstatus.Status{Hash: hash, State: txstatus.Unknown}
			}
			out.Statuses[i] = st
		}(i, common.HexToHash(h))
	}
	wg.Wait()

	for _, st := range out.Statuses {
		metrics.TradeOutcomes.WithLabelValues(string(ev.Side), string(st.State)).Inc()
		fields := []zap.Field{
			zap.String("trade", ev.ID),
			zap.Int64("wallet_id", ev.WalletID),
			zap.String("side", string(ev.Side)),
			zap.String("market", string(ev.Market)),
			zap.String("token", ev.Token),
			zap.String("tx", st.Hash.Hex()),
			zap.String("status", string(st.State)),
			zap.Duration("age", time.Since(ev.Ts)),
		}
		if st.BlockNumber != nil {
			fields = append(fields, zap.Uint64("block", *st.BlockNumber))
		}
		if st.GasUsed != nil {
			fields = append(fields, zap.Uint64("gas_used", *st.GasUsed))
		}
		switch st.State {
		case txstatus.Success:
			w.log.Info("trade settled", fields...)
		case txstatus.Failed:
			w.log.Warn("trade reverted", fields...)
		default:
			w.log.Warn("trade unsettled", fields...)
		}
	}
	return out
}

// run drains events with n concurrent settlers until in is closed or ctx ends.
func (w *watcher) run(ctx context.Context, in <-chan types.TradeEvent, n int, done func(outcome)) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-in:
					if !ok {
						return
					}
					o := w.settle(ctx, ev)
					if done != nil {
						done(o)
					}
				}
			}
		}()
	}
	wg.Wait()
}

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to the YAML config")
	envPath := flag.String("env", ".env", "dotenv file")
	group := flag.String("group", "tradewatch", "redis consumer group")
	consumer := flag.String("consumer", "", "consumer name (default: hostname)")
	workers := flag.Int("workers", 8, "concurrent trades being settled")
	interval := flag.Duration("interval", time.Second, "receipt poll interval")
	timeout := flag.Duration("timeout", 3*time.Minute, "give up on a tx after this long")
	flag.Parse()

	if err := config.LoadDotenv(*envPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Named("tradewatch")

	rdb := feed.NewClient(cfg)
	if rdb == nil {
		log.Fatal("redis.addr is required")
	}
	defer rdb.Close()

	if *consumer == "" {
		*consumer, _ = os.Hostname()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ep, err := cfg.PickRPC()
	if err != nil {
		log.Fatal("rpc", zap.Error(err))
	}
	sup := conn.New(ep, nil, conn.OptionsFromConfig(cfg), logger)
	if err := sup.Start(ctx); err != nil {
		log.Fatal("rpc connect", zap.Error(err))
	}
	defer sup.Stop()

	metrics.Serve(ctx, cfg.Metrics.Listen, nil, sup.Health, logger)

	c := feed.NewConsumer(rdb, cfg.Redis.Stream, logger)
	if err := c.EnsureGroup(ctx, *group); err != nil {
		log.Fatal("consumer group", zap.Error(err))
	}

	w := &watcher{txs: txstatus.New(sup.Backend(), 0, 0), interval: *interval, timeout: *timeout, log: log}
	events := make(chan types.TradeEvent, 256)
	go func() {
		defer close(events)
		if err := c.Consume(ctx, *group, *consumer, events); err != nil && ctx.Err() == nil {
			log.Error("consume", zap.Error(err))
			cancel()
		}
	}()

	log.Info("watching trades", zap.String("stream", cfg.Redis.Stream), zap.String("group", *group), zap.String("consumer", *consumer))
	w.run(ctx, events, *workers, nil)
	log.Info("tradewatch stopped")
}
