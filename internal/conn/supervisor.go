package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/config"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/metrics"
)

// Reconnect reasons, also used as metric labels.
const (
	ReasonWSClose          = "ws-close"
	ReasonWSError          = "ws-error"
	ReasonHeartbeatTimeout = "heartbeat-timeout"
	ReasonRPCPingFailed    = "rpc-ping-failed"
	ReasonPingException    = "ping-exception"
	ReasonBlockStall       = "block-stall"
)

var (
	ErrRestartInFlight = errors.New("conn: restart already in flight")
	errProbePanic      = errors.New("liveness probe panicked")
)

type Options struct {
	Keepalive           time.Duration
	PongTimeout         time.Duration
	StallCheck          time.Duration
	StallThreshold      time.Duration
	ReconnectBase       time.Duration
	ReconnectMax        time.Duration
	ReconnectMultiplier float64
}

func OptionsFromConfig(cfg *config.Config) Options {
	c := cfg.Conn
	return Options{
		Keepalive:           c.Keepalive,
		PongTimeout:         c.PongTimeout,
		StallCheck:          c.StallCheck,
		StallThreshold:      c.StallThreshold,
		ReconnectBase:       c.ReconnectBase,
		ReconnectMax:        c.ReconnectMax,
		ReconnectMultiplier: c.ReconnectMultiplier,
	}
}

func (o Options) withDefaults() Options {
	if o.Keepalive <= 0 {
		o.Keepalive = 30 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 15 * time.Second
	}
	if o.StallCheck <= 0 {
		o.StallCheck = max(o.Keepalive, 20*time.Second)
	}
	if o.StallThreshold <= 0 {
		o.StallThreshold = 60 * time.Second
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = 2 * time.Second
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = 30 * time.Second
	}
	if o.ReconnectMultiplier < 1 {
		o.ReconnectMultiplier = 1.5
	}
	return o
}

// ReconnectState is a point-in-time copy of the supervisor's bookkeeping.
type ReconnectState struct {
	Attempts        int
	CurrentDelay    time.Duration
	LastBlockSeenAt time.Time
	LastPongAt      time.Time
	RestartInFlight bool
	Connected       bool
}

// Supervisor owns the single logical RPC connection: it dials, watches for
// silent death and replaces the transport with backoff.
type Supervisor struct {
	ep   config.Endpoint
	dial Dialer
	opts Options
	log  *zap.Logger
	now  func() time.Time

	mu         sync.Mutex
	cur        Transport
	bo         *backoff.ExponentialBackOff
	attempts   int
	delay      time.Duration
	lastBlock  time.Time
	lastPong   time.Time
	scheduled  bool
	restarting bool
	pending    *time.Timer
	genCancel  context.CancelFunc
	ctx        context.Context
	cancel     context.CancelFunc
	stopped    bool

	wg sync.WaitGroup
}

func New(ep config.Endpoint, dial Dialer, opts Options, log *zap.Logger) *Supervisor {
	if dial == nil {
		dial = Dial
	}
	opts = opts.withDefaults()
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     opts.ReconnectBase,
		RandomizationFactor: 0,
		Multiplier:          opts.ReconnectMultiplier,
		MaxInterval:         opts.ReconnectMax,
	}
	bo.Reset()
	return &Supervisor{
		ep:    ep,
		dial:  dial,
		opts:  opts,
		log:   log.Named("conn"),
		now:   time.Now,
		bo:    bo,
		delay: opts.ReconnectBase,
	}
}

// Backend returns the handle downstream components should hold.
func (s *Supervisor) Backend() Backend { return Handle{s: s} }

func (s *Supervisor) current() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Health reports ErrNotConnected while no transport is up.
func (s *Supervisor) Health() error {
	if s.current() == nil {
		return ErrNotConnected
	}
	return nil
}

func (s *Supervisor) State() ReconnectState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ReconnectState{
		Attempts:        s.attempts,
		CurrentDelay:    s.delay,
		LastBlockSeenAt: s.lastBlock,
		LastPongAt:      s.lastPong,
		RestartInFlight: s.scheduled || s.restarting,
		Connected:       s.cur != nil,
	}
}

// Start dials the endpoint and starts the health loops. It fails only if the
// first dial fails; later failures are handled by reconnecting.
func (s *Supervisor) Start(ctx context.Context) error {
	t, err := s.dial(ctx, s.ep)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	now := s.now()
	s.lastBlock, s.lastPong = now, now
	s.install(Instrument(t, s.log))
	s.mu.Unlock()

	s.wg.Add(1)
	go s.heartbeatLoop()
	if s.ep.Streaming {
		s.wg.Add(1)
		go s.stallLoop()
	}
	s.log.Info("rpc connected", zap.String("url", s.ep.URL), zap.Bool("streaming", s.ep.Streaming))
	return nil
}

// Stop cancels pending restarts and closes the current transport.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.pending != nil {
		s.pending.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	t := s.cur
	s.cur = nil
	s.mu.Unlock()

	s.wg.Wait()
	if t != nil {
		t.Close()
	}
	metrics.ConnectionUp.Set(0)
}

// install makes t current and starts its block watch. Caller holds mu.
func (s *Supervisor) install(t Transport) {
	s.cur = t
	gctx, cancel := context.WithCancel(s.ctx)
	s.genCancel = cancel
	metrics.ConnectionUp.Set(1)
	if t.Streaming() {
		s.wg.Add(1)
		go s.watchBlocks(gctx, t)
	}
}

// Trigger schedules a reconnect. Triggers arriving while one is already
// scheduled or running are dropped.
func (s *Supervisor) Trigger(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.scheduled || s.restarting || s.ctx == nil {
		return
	}
	s.scheduled = true
	s.delay = s.bo.NextBackOff()
	s.attempts++
	metrics.Reconnects.WithLabelValues(reason).Inc()
	s.log.Warn("scheduling reconnect",
		zap.String("reason", reason),
		zap.Int("attempt", s.attempts),
		zap.Duration("delay", s.delay))

	s.pending = time.AfterFunc(s.delay, func() {
		if err := s.Restart(reason); err != nil {
			s.log.Error("reconnect failed", zap.String("reason", reason), zap.Error(err))
		}
	})
}

// Restart replaces the transport now. A failed dial leaves the supervisor
// disconnected until the next trigger.
func (s *Supervisor) Restart(reason string) error {
	s.mu.Lock()
	if s.stopped || s.ctx == nil {
		s.mu.Unlock()
		return errors.New("supervisor not running")
	}
	if s.restarting {
		s.mu.Unlock()
		return ErrRestartInFlight
	}
	s.restarting, s.scheduled = true, false
	if s.pending != nil {
		s.pending.Stop()
	}
	if s.genCancel != nil {
		s.genCancel()
	}
	old := s.cur
	s.cur = nil
	ctx := s.ctx
	s.mu.Unlock()

	metrics.ConnectionUp.Set(0)
	defer func() {
		s.mu.Lock()
		s.restarting = false
		s.mu.Unlock()
	}()

	if old != nil {
		old.Close()
	}

	t, err := s.dial(ctx, s.ep)
	if err != nil {
		return fmt.Errorf("restart after %s: %w", reason, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		t.Close()
		return errors.New("supervisor stopped during restart")
	}
	s.install(Instrument(t, s.log))
	s.bo.Reset()
	s.attempts = 0
	s.delay = s.opts.ReconnectBase
	s.lastPong = s.now()
	s.log.Info("rpc reconnected", zap.String("reason", reason))
	return nil
}

func (s *Supervisor) markBlock() {
	s.mu.Lock()
	s.lastBlock = s.now()
	s.mu.Unlock()
}

func (s *Supervisor) markPong() {
	s.mu.Lock()
	s.lastPong = s.now()
	s.mu.Unlock()
}

func (s *Supervisor) watchBlocks(ctx context.Context, t Transport) {
	defer s.wg.Done()

	heads := make(chan *gethtypes.Header, 16)
	sub, err := t.SubscribeNewHead(ctx, heads)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("newHeads subscribe failed", zap.Error(err))
			s.Trigger(ReasonWSError)
		}
		return
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heads:
			s.markBlock()
		case err, ok := <-sub.Err():
			if ctx.Err() != nil {
				return
			}
			if !ok || err == nil {
				s.Trigger(ReasonWSClose)
			} else {
				s.log.Warn("newHeads subscription error", zap.Error(err))
				s.Trigger(ReasonWSError)
			}
			return
		}
	}
}

func (s *Supervisor) heartbeatLoop() {
	defer s.wg.Done()
	t := time.NewTicker(s.opts.Keepalive)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.ping()
		}
	}
}

// ping runs one liveness probe; a successful probe counts as a pong.
func (s *Supervisor) ping() {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.PongTimeout)
	defer cancel()

	err := s.probe(ctx)
	if s.ctx.Err() != nil {
		return
	}
	switch {
	case err == nil:
		s.markPong()
	case errors.Is(err, errProbePanic):
		s.Trigger(ReasonPingException)
	case s.ep.Streaming && errors.Is(err, context.DeadlineExceeded):
		s.mu.Lock()
		silent := s.now().Sub(s.lastPong) > 2*s.opts.PongTimeout
		t := s.cur
		s.mu.Unlock()
		if !silent {
			return
		}
		s.Trigger(ReasonHeartbeatTimeout)
		if t != nil {
			t.Terminate()
		}
	default:
		s.log.Warn("liveness probe failed", zap.Error(err))
		s.Trigger(ReasonRPCPingFailed)
	}
}

func (s *Supervisor) probe(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", errProbePanic, r)
			}
		}()
		_, err := s.Backend().BlockNumber(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) stallLoop() {
	defer s.wg.Done()
	t := time.NewTicker(s.opts.StallCheck)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.mu.Lock()
			age := s.now().Sub(s.lastBlock)
			s.mu.Unlock()
			metrics.LastBlockAge.Set(age.Seconds())
			if age > s.opts.StallThreshold {
				s.log.Warn("no new block", zap.Duration("age", age))
				s.Trigger(ReasonBlockStall)
			}
		}
	}
}
