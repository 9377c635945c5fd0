// Package config loads the marginbook configuration from a TOML file, an
// optional .env file and MARGINBOOK_* environment variables, in that order
// of increasing precedence.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"marginbook/internal/exchange"
	"marginbook/internal/fee"
	"marginbook/internal/history"
	"marginbook/internal/liquidation"
	"marginbook/internal/logging"
	"marginbook/internal/markprice"
	"marginbook/internal/num"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MARGINBOOK_"

type Config struct {
	Env     string        `toml:"env"`
	Logging LoggingConfig `toml:"logging"`
	API     APIConfig     `toml:"api"`
	Store   StoreConfig   `toml:"store"`
	Metrics MetricsConfig `toml:"metrics"`
	Markets []Market      `toml:"markets"`
}

type LoggingConfig struct {
	Level LogLevel `toml:"level"`
}

type APIConfig struct {
	Addr        string   `toml:"addr"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is the number of requests a client IP may send per
	// RateWindow; zero disables limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow Duration `toml:"rate_window"`
}

type StoreConfig struct {
	// Path of the SQLite database; empty disables the journal.
	Path string `toml:"path"`
}

type MetricsConfig struct {
	// Addr of the Prometheus endpoint; empty disables it.
	Addr string `toml:"addr"`
}

type Market struct {
	ID              string   `toml:"id"`
	MarginOnly      bool     `toml:"margin_only"`
	TickSize        Price    `toml:"tick_size"`
	MinSize         Size     `toml:"min_size"`
	HistoryCapacity int      `toml:"history_capacity"`
	UseVWAP         bool     `toml:"use_vwap"`
	VWAPWindow      Duration `toml:"vwap_window"`
	MinVWAPVolume   Size     `toml:"min_vwap_volume"`
	DefaultPrice    Price    `toml:"default_price"`

	Liquidation liquidation.Config `toml:"liquidation"`
	Fees        fee.Schedule       `toml:"fees"`
}

func NewDefaultConfig() Config {
	return Config{
		Env:     "prod",
		Logging: LoggingConfig{Level: LogLevel{Level: logging.InfoLevel}},
		API: APIConfig{
			Addr:       ":8088",
			RateLimit:  600,
			RateWindow: Duration{Duration: time.Minute},
		},
		Store:   StoreConfig{Path: "marginbook.db"},
		Metrics: MetricsConfig{Addr: ":9108"},
		Markets: []Market{NewDefaultMarket("BTC-USD")},
	}
}

// NewDefaultMarket mirrors exchange.DefaultMarketConfig.
func NewDefaultMarket(id string) Market {
	d := exchange.DefaultMarketConfig(id)
	return Market{
		ID:              id,
		MarginOnly:      d.MarginOnly,
		TickSize:        Price{Ticks: d.TickSize},
		HistoryCapacity: d.HistoryCapacity,
		UseVWAP:         d.MarkPrice.UseVWAP,
		VWAPWindow:      Duration{Duration: d.MarkPrice.VWAPWindow},
		MinVWAPVolume:   Size{Uint: d.MarkPrice.MinVolumeForVWAP},
		DefaultPrice:    Price{Ticks: d.MarkPrice.DefaultPrice},
		Liquidation:     d.Liquidation,
		Fees:            d.Fees,
	}
}

// Load reads path (skipped when empty), then .env files, then environment
// overrides. Markets declared in the file replace the default market; each
// one starts from the market defaults.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := NewDefaultConfig()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "reading config %s", path)
		}
		if err := Decode(string(buf), &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parsing config %s", path)
		}
	}

	// a missing .env is not an error
	if err := godotenv.Load(envFiles...); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return cfg, errors.Wrap(err, "loading .env")
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Decode parses TOML into cfg, filling unset market fields with defaults.
func Decode(data string, cfg *Config) error {
	var raw struct {
		Markets []toml.Primitive `toml:"markets"`
	}
	md, err := toml.Decode(data, &raw)
	if err != nil {
		return err
	}
	markets := cfg.Markets
	cfg.Markets = nil
	if _, err := toml.Decode(data, cfg); err != nil {
		return err
	}
	if len(raw.Markets) == 0 {
		cfg.Markets = markets
		return nil
	}

	cfg.Markets = make([]Market, 0, len(raw.Markets))
	for i, prim := range raw.Markets {
		m := NewDefaultMarket("")
		if err := md.PrimitiveDecode(prim, &m); err != nil {
			return errors.Wrapf(err, "market %d", i)
		}
		cfg.Markets = append(cfg.Markets, m)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	if v, ok := lookup(EnvPrefix + "ENV"); ok {
		c.Env = v
	}
	if v, ok := lookup(EnvPrefix + "LOG_LEVEL"); ok {
		if err := c.Logging.Level.UnmarshalText([]byte(v)); err != nil {
			return errors.Wrap(err, EnvPrefix+"LOG_LEVEL")
		}
	}
	if v, ok := lookup(EnvPrefix + "API_ADDR"); ok {
		c.API.Addr = v
	}
	if v, ok := lookup(EnvPrefix + "CORS_ORIGINS"); ok {
		c.API.CORSOrigins = splitList(v)
	}
	if v, ok := lookup(EnvPrefix + "RATE_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, EnvPrefix+"RATE_LIMIT")
		}
		c.API.RateLimit = n
	}
	if v, ok := lookup(EnvPrefix + "STORE_PATH"); ok {
		c.Store.Path = v
	}
	if v, ok := lookup(EnvPrefix + "METRICS_ADDR"); ok {
		c.Metrics.Addr = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the market rules.
func (c Config) Validate() error {
	seen := map[string]bool{}
	for _, m := range c.Markets {
		if m.ID == "" {
			return errors.New("market without id")
		}
		if seen[m.ID] {
			return errors.Errorf("market %s declared twice", m.ID)
		}
		seen[m.ID] = true
		if m.Liquidation.MaintenanceMarginBps == 0 || m.Liquidation.MaintenanceMarginBps >= num.BpsDenominator {
			return errors.Errorf("market %s: maintenance_margin_bps must be in (0, %d)", m.ID, num.BpsDenominator)
		}
		if m.Liquidation.PenaltyBps >= num.BpsDenominator {
			return errors.Errorf("market %s: penalty_bps must be below %d", m.ID, num.BpsDenominator)
		}
		if m.UseVWAP && m.VWAPWindow.Duration <= 0 {
			return errors.Errorf("market %s: vwap_window must be positive", m.ID)
		}
	}
	return nil
}

// MarketConfigs converts the declared markets for the exchange.
func (c Config) MarketConfigs() []exchange.MarketConfig {
	out := make([]exchange.MarketConfig, 0, len(c.Markets))
	for _, m := range c.Markets {
		out = append(out, m.ExchangeConfig())
	}
	return out
}

func (m Market) ExchangeConfig() exchange.MarketConfig {
	capacity := m.HistoryCapacity
	if capacity <= 0 {
		capacity = history.DefaultCapacity
	}
	minVolume := num.UintZero()
	if m.MinVWAPVolume.Uint != nil {
		minVolume = m.MinVWAPVolume.Clone()
	}
	window := m.VWAPWindow.Duration
	if window <= 0 {
		window = 5 * time.Minute
	}
	return exchange.MarketConfig{
		ID:              m.ID,
		MarginOnly:      m.MarginOnly,
		TickSize:        m.TickSize.Ticks,
		MinSize:         m.MinSize.Uint,
		HistoryCapacity: capacity,
		MarkPrice: markprice.Config{
			UseVWAP:          m.UseVWAP,
			VWAPWindow:       window,
			MinVolumeForVWAP: minVolume,
			DefaultPrice:     m.DefaultPrice.Ticks,
		},
		Liquidation: m.Liquidation,
		Fees:        m.Fees,
	}
}
