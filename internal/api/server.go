package api

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/contracts"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/execution"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/market"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/quote"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/txstatus"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/wallet"
)

type Quoter interface {
	QuoteBuy(ctx context.Context, req quote.BuyRequest) (*quote.Quote, error)
	QuoteSell(ctx context.Context, req quote.SellRequest) (*quote.Quote, error)
	PrepareBuy(ctx context.Context, req quote.BuyRequest) (*quote.Prepared, error)
	PrepareSell(ctx context.Context, req quote.SellRequest) (*quote.Prepared, error)
	Info(ctx context.Context, token common.Address) (*market.Info, error)
	TradingStatus(ctx context.Context, token common.Address) (market.TradingStatus, error)
	Balances(ctx context.Context, owner common.Address, token *common.Address) (*quote.Balances, error)
}

type Trader interface {
	Buy(ctx context.Context, o execution.TradeOrder) (*execution.Result, error)
	Sell(ctx context.Context, o execution.TradeOrder) (*execution.Result, error)
	SwapBuy(ctx context.Context, o execution.SwapOrder) (*execution.Result, error)
	SwapSell(ctx context.Context, o execution.SwapOrder) (*execution.Result, error)
}

type TxStatus interface {
	Status(ctx context.Context, hash common.Hash) (txstatus.Status, error)
}

type Deps struct {
	Quotes  Quoter
	Trades  Trader
	Txs     TxStatus
	Wallets *wallet.Store
	Addrs   contracts.Addresses
	// Health backs /healthz; nil means always healthy.
	Health func() error
}

type Options struct {
	AllowIPs       []string
	// TrustedProxies may set X-Forwarded-For; empty means the header is ignored.
	TrustedProxies []string
	RatePerSec     float64
	Burst          int
	// DefaultGas applies to swap endpoints when gasprice/gaslimit are omitted.
	DefaultGas     execution.Gas
	// RequestLog receives one line per request; nil disables it.
	RequestLog     *zap.Logger
}

type Server struct {
	d       Deps
	opts    Options
	allow   allowList
	trusted allowList
	limiter *ipLimiter
	reqLog  *zap.Logger
	log     *zap.Logger
}

func New(d Deps, opts Options, log *zap.Logger) (*Server, error) {
	allow, err := parseAllowList(opts.AllowIPs)
	if err != nil {
		return nil, err
	}
	trusted, err := parsePrefixes("trusted proxies", opts.TrustedProxies)
	if err != nil {
		return nil, err
	}
	if opts.DefaultGas.Price == nil {
		opts.DefaultGas.Price = big.NewInt(80_000_000)
	}
	if opts.DefaultGas.Limit == 0 {
		opts.DefaultGas.Limit = 500_000
	}
	reqLog := opts.RequestLog
	if reqLog == nil {
		reqLog = zap.NewNop()
	}
	return &Server{
		d:       d,
		opts:    opts,
		allow:   allow,
		trusted: trusted,
		limiter: newIPLimiter(opts.RatePerSec, opts.Burst),
		reqLog:  reqLog,
		log:     log.Named("api"),
	}, nil
}

type handlerFunc func(r *http.Request, p params) (any, error)

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(path string, fn handlerFunc) {
		mux.Handle(path, s.endpoint(endpointName(path), fn))
	}
	route("/api/bsc/quote/buy", s.quoteBuy)
	route("/api/bsc/quote/sell", s.quoteSell)
	route("/api/bsc/buy", s.buy)
	route("/api/bsc/sell", s.sell)
	route("/api/bsc/swap/buy", s.swapBuy)
	route("/api/bsc/swap/sell", s.swapSell)
	route("/api/bsc/tx/status", s.txStatus)
	route("/api/bsc/trading-status", s.tradingStatus)
	route("/api/bsc/balances", s.balances)
	route("/api/wallets", s.wallets)
	route("/healthz", s.healthz)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, "not_found", (&apiError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "no such endpoint"}).
			with("path", r.URL.Path).with("method", r.Method))
	})
	return s.middleware(mux)
}

func (s *Server) endpoint(name string, fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			s.writeError(w, name, &apiError{Status: http.StatusMethodNotAllowed, Code: "METHOD_NOT_ALLOWED", Message: r.Method})
			return
		}
		p, err := readParams(r)
		if err != nil {
			s.writeError(w, name, badRequest("INVALID_JSON", err.Error()))
			return
		}
		body, err := fn(r, p)
		if err != nil {
			ae := classify(err)
			if ae.Status >= http.StatusInternalServerError {
				s.log.Error("request failed", zap.String("endpoint", name), zap.String("id", requestID(r.Context())), zap.Error(err))
			}
			s.writeError(w, name, ae)
			return
		}
		s.writeJSON(w, http.StatusOK, body)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, endpoint string, e *apiError) {
	if rec, ok := w.(*statusRecorder); ok {
		rec.code = e.Code
	}
	s.writeJSON(w, e.Status, e.body(endpoint))
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("api listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("api stopped")
	return nil
}
