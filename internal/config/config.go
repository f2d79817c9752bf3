package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/contracts"
)

type Config struct {
	RPC struct {
		HTTPS string `yaml:"https"`
		WSS   string `yaml:"wss"`
	} `yaml:"rpc"`

	ChainID int64 `yaml:"chain_id"`

	Contracts struct {
		TokenManager string `yaml:"token_manager"`
		WBNB         string `yaml:"wbnb"`
		Multicall3   string `yaml:"multicall3"`
		Aggregator   string `yaml:"aggregator"`
		Router       string `yaml:"router"`
		PriceOracle  string `yaml:"price_oracle"`
		BuyHelper    string `yaml:"buy_helper"`
	} `yaml:"contracts"`

	Conn struct {
		Keepalive           time.Duration `yaml:"keepalive"`
		PongTimeout         time.Duration `yaml:"pong_timeout"`
		StallCheck          time.Duration `yaml:"stall_check"`
		StallThreshold      time.Duration `yaml:"stall_threshold"`
		ReconnectBase       time.Duration `yaml:"reconnect_base"`
		ReconnectMax        time.Duration `yaml:"reconnect_max"`
		ReconnectMultiplier float64       `yaml:"reconnect_multiplier"`
	} `yaml:"conn"`

	API struct {
		Listen         string   `yaml:"listen"`
		AllowIPs       []string `yaml:"allow_ips"`
		TrustedProxies []string `yaml:"trusted_proxies"`
		RatePerSec     float64  `yaml:"rate_per_sec"`
		Burst          int      `yaml:"burst"`
		RequestLog     string   `yaml:"request_log"`
	} `yaml:"api"`

	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`

	Redis struct {
		Addr     string `yaml:"addr"`
		DB       int    `yaml:"db"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Stream   string `yaml:"stream"`
	} `yaml:"redis"`

	Trade struct {
		DefaultGasPriceGwei float64       `yaml:"default_gas_price_gwei"`
		DefaultGasLimit     uint64        `yaml:"default_gas_limit"`
		ApproveGasLimit     uint64        `yaml:"approve_gas_limit"`
		Deadline            time.Duration `yaml:"deadline"`
	} `yaml:"trade"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Wallets []WalletRecord `yaml:"-"`
}

// Endpoint is the resolved upstream RPC.
type Endpoint struct {
	URL       string
	Streaming bool
}

// Load reads the YAML file (a missing file is fine), fills defaults and applies env overrides.
// Wallets are loaded separately with LoadWallets.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}
	c.applyEnv()
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.RPC.HTTPS == "" && c.RPC.WSS == "" {
		c.RPC.HTTPS = "https://bsc-rpc.publicnode.com"
		c.RPC.WSS = "wss://bsc-rpc.publicnode.com"
	}
	if c.ChainID == 0 {
		c.ChainID = contracts.ChainID
	}

	d := contracts.Defaults()
	fill := func(dst *string, def common.Address) {
		if strings.TrimSpace(*dst) == "" {
			*dst = def.Hex()
		}
	}
	fill(&c.Contracts.TokenManager, d.TokenManager)
	fill(&c.Contracts.WBNB, d.WBNB)
	fill(&c.Contracts.Multicall3, d.Multicall3)
	fill(&c.Contracts.Aggregator, d.Aggregator)
	fill(&c.Contracts.Router, d.Router)
	fill(&c.Contracts.PriceOracle, d.PriceOracle)
	fill(&c.Contracts.BuyHelper, d.BuyHelper)

	if c.Conn.Keepalive == 0 {
		c.Conn.Keepalive = 30 * time.Second
	}
	if c.Conn.PongTimeout == 0 {
		c.Conn.PongTimeout = 15 * time.Second
	}
	if c.Conn.StallCheck == 0 {
		c.Conn.StallCheck = max(c.Conn.Keepalive, 20*time.Second)
	}
	if c.Conn.StallThreshold == 0 {
		c.Conn.StallThreshold = 60 * time.Second
	}
	if c.Conn.ReconnectBase == 0 {
		c.Conn.ReconnectBase = 2 * time.Second
	}
	if c.Conn.ReconnectMax == 0 {
		c.Conn.ReconnectMax = 30 * time.Second
	}
	if c.Conn.ReconnectMultiplier == 0 {
		c.Conn.ReconnectMultiplier = 1.5
	}

	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:8080"
	}
	if c.API.RatePerSec == 0 {
		c.API.RatePerSec = 20
	}
	if c.API.Burst == 0 {
		c.API.Burst = 40
	}
	if c.API.RequestLog == "" {
		c.API.RequestLog = "logs/api/requests.log"
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = "relay:trades"
	}

	if c.Trade.DefaultGasPriceGwei == 0 {
		c.Trade.DefaultGasPriceGwei = 0.08
	}
	if c.Trade.DefaultGasLimit == 0 {
		c.Trade.DefaultGasLimit = 500_000
	}
	if c.Trade.ApproveGasLimit == 0 {
		c.Trade.ApproveGasLimit = 120_000
	}
	if c.Trade.Deadline == 0 {
		c.Trade.Deadline = 600 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// env wins over the file
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("RPC_HTTPS")); v != "" {
		c.RPC.HTTPS = v
	}
	if v, ok := os.LookupEnv("RPC_WSS"); ok {
		c.RPC.WSS = strings.TrimSpace(v)
	}
	host := strings.TrimSpace(os.Getenv("HOST"))
	port := strings.TrimSpace(os.Getenv("PORT"))
	if host != "" && port != "" {
		c.API.Listen = net.JoinHostPort(host, port)
	}
	if v := strings.TrimSpace(os.Getenv("API_WHITELIST")); v != "" {
		c.API.AllowIPs = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("API_TRUSTED_PROXIES")); v != "" {
		c.API.TrustedProxies = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		c.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("METRICS_LISTEN")); v != "" {
		c.Metrics.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) validate() error {
	addrs := map[string]string{
		"token_manager": c.Contracts.TokenManager,
		"wbnb":          c.Contracts.WBNB,
		"multicall3":    c.Contracts.Multicall3,
		"aggregator":    c.Contracts.Aggregator,
		"router":        c.Contracts.Router,
		"price_oracle":  c.Contracts.PriceOracle,
		"buy_helper":    c.Contracts.BuyHelper,
	}
	for name, a := range addrs {
		if !common.IsHexAddress(a) {
			return fmt.Errorf("contracts.%s: bad address %q", name, a)
		}
	}
	if _, _, err := net.SplitHostPort(c.API.Listen); err != nil {
		return fmt.Errorf("api.listen: %w", err)
	}
	if c.Conn.ReconnectMultiplier < 1 {
		return fmt.Errorf("conn.reconnect_multiplier must be >= 1, got %v", c.Conn.ReconnectMultiplier)
	}
	return nil
}

// PickRPC prefers the streaming endpoint.
func (c *Config) PickRPC() (Endpoint, error) {
	if v := strings.TrimSpace(c.RPC.WSS); v != "" {
		return Endpoint{URL: v, Streaming: true}, nil
	}
	if v := strings.TrimSpace(c.RPC.HTTPS); v != "" {
		return Endpoint{URL: v}, nil
	}
	return Endpoint{}, errors.New("rpc: either wss or https must be set")
}

func (c *Config) Addresses() contracts.Addresses {
	return contracts.Addresses{
		TokenManager: common.HexToAddress(c.Contracts.TokenManager),
		WBNB:         common.HexToAddress(c.Contracts.WBNB),
		Multicall3:   common.HexToAddress(c.Contracts.Multicall3),
		Aggregator:   common.HexToAddress(c.Contracts.Aggregator),
		Router:       common.HexToAddress(c.Contracts.Router),
		PriceOracle:  common.HexToAddress(c.Contracts.PriceOracle),
		BuyHelper:    common.HexToAddress(c.Contracts.BuyHelper),
	}
}

func (c *Config) DefaultGasPriceWei() uint64 {
	return uint64(math.Round(c.Trade.DefaultGasPriceGwei * 1e9))
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseID(raw string) (int64, error) {
	raw = strings.Trim(strings.TrimSpace(raw), `"`)
	if raw == "" || raw == "null" {
		return 0, errors.New("missing")
	}
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("not an integer: %s", raw)
	}
	return int64(f), nil
}
