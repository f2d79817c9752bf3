package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/api"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/config"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/conn"
	v2 "github.com/0x941689/showdog-fourmeme-local-api/internal/dex/v2"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/execution"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/feed"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/logging"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/metrics"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/multicall"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/quote"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/txstatus"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/wallet"
)

// Relay owns the connection supervisor and everything built on its handle.
type Relay struct {
	cfg     *config.Config
	log     *zap.Logger
	sup     *conn.Supervisor
	rdb     *redis.Client
	api     *api.Server
	reqSink io.Closer
}

type Option func(*options)

type options struct {
	dial       conn.Dialer
	requestLog io.Writer
}

// WithDialer replaces the RPC dialer.
func WithDialer(d conn.Dialer) Option { return func(o *options) { o.dial = d } }

// WithRequestLog sends request lines to w instead of the configured file.
func WithRequestLog(w io.Writer) Option { return func(o *options) { o.requestLog = w } }

// New assembles the relay. Nothing is dialed until Run.
func New(cfg *config.Config, log *zap.Logger, opts ...Option) (*Relay, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	ws, err := wallet.NewStore(cfg.Wallets)
	if err != nil {
		return nil, err
	}
	ep, err := cfg.PickRPC()
	if err != nil {
		return nil, err
	}
	addrs := cfg.Addresses()

	sup := conn.New(ep, o.dial, conn.OptionsFromConfig(cfg), log)
	chain := sup.Backend()

	mc, err := multicall.New(chain, addrs.Multicall3)
	if err != nil {
		return nil, fmt.Errorf("multicall: %w", err)
	}
	quotes := quote.New(mc, chain, addrs, log)

	r := &Relay{cfg: cfg, log: log, sup: sup}

	var pub execution.Publisher
	if r.rdb = feed.NewClient(cfg); r.rdb != nil {
		pub = feed.NewPublisher(r.rdb, cfg.Redis.Stream)
	} else {
		log.Info("trade feed disabled: redis.addr is empty")
	}

	gas := execution.Options{
		GasPrice:        new(big.Int).SetUint64(cfg.DefaultGasPriceWei()),
		GasLimit:        cfg.Trade.DefaultGasLimit,
		ApproveGasLimit: cfg.Trade.ApproveGasLimit,
	}
	builder := execution.NewBuilder(cfg.ChainID, addrs, v2.New(addrs.Router, cfg.Trade.Deadline))
	exec := execution.NewExecutor(builder, chain, quotes, ws, pub, gas, log)

	reqW := o.requestLog
	if reqW == nil {
		if err := os.MkdirAll(filepath.Dir(cfg.API.RequestLog), 0o755); err != nil {
			return nil, fmt.Errorf("request log dir: %w", err)
		}
		sink := logging.RotatingFile(cfg.API.RequestLog)
		reqW, r.reqSink = sink, sink
	}

	r.api, err = api.New(api.Deps{
		Quotes:  quotes,
		Trades:  exec,
		Txs:     txstatus.New(chain, 0, 0),
		Wallets: ws,
		Addrs:   addrs,
		Health:  sup.Health,
	}, api.Options{
		AllowIPs:       cfg.API.AllowIPs,
		TrustedProxies: cfg.API.TrustedProxies,
		RatePerSec:     cfg.API.RatePerSec,
		Burst:          cfg.API.Burst,
		DefaultGas:     execution.Gas{Price: gas.GasPrice, Limit: gas.GasLimit},
		RequestLog:     logging.NewRequestLogger(reqW),
	}, log)
	if err != nil {
		return nil, err
	}

	log.Info("relay assembled",
		zap.String("rpc", ep.URL),
		zap.Bool("streaming", ep.Streaming),
		zap.Int("wallets", len(ws.List())),
		zap.Strings("allow_ips", cfg.API.AllowIPs),
	)
	return r, nil
}

// Handler is the API surface without a listener.
func (r *Relay) Handler() http.Handler { return r.api.Handler() }

// Supervisor exposes connection state for health and tests.
func (r *Relay) Supervisor() *conn.Supervisor { return r.sup }

// Run dials the chain, then serves the API and metrics until ctx ends.
// A failed first dial is fatal; later drops are handled by the supervisor.
func (r *Relay) Run(ctx context.Context) error {
	defer r.close()

	if r.rdb != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := r.rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			r.log.Warn("redis unreachable, trades will not be published until it recovers", zap.Error(err))
		}
	}

	if err := r.sup.Start(ctx); err != nil {
		return err
	}
	defer r.sup.Stop()

	metrics.Serve(ctx, r.cfg.Metrics.Listen, nil, r.sup.Health, r.log)

	err := r.api.Serve(ctx, r.cfg.API.Listen)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	r.log.Info("relay stopped")
	return err
}

func (r *Relay) close() {
	if r.rdb != nil {
		_ = r.rdb.Close()
	}
	if r.reqSink != nil {
		_ = r.reqSink.Close()
	}
}
