// Package config defines all configuration for the box-spread market maker.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via POLY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	API       APIConfig       `mapstructure:"api"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds Polymarket API endpoints and optional pre-derived L2 credentials.
// If ApiKey/Secret/Passphrase are empty, the bot derives them via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	WSMarketURL  string `mapstructure:"ws_market_url"`
	WSUserURL    string `mapstructure:"ws_user_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// StrategyConfig parameterises the box-spread trap/hedge strategy.
//
//   - ProfitMargin (ξ): fraction of the box reserved as profit margin.
//     CTarget = 1 - ProfitMargin is the maximum combined VWAP at which a
//     completed box is still profitable.
//   - MaxExposure: if |ΔQ| exceeds this, the engine hedges regardless of
//     the dust threshold and stops placing new traps.
//   - TrapOrderSize: size of each passive trap order.
//   - MinOrderSize: the exchange's minimum order size; also defines the
//     dust threshold θ = MinOrderSize / 2 below which an imbalance is
//     accepted rather than hedged.
//   - RangeMin/RangeMax: the active quoting band. Outside it the engine
//     stays silent on both sides.
//   - ExpiryBufferSeconds: stop placing new traps this far from expiry;
//     existing exposure may still be hedged.
//   - FinalExitSeconds: cancel everything and stop this far from expiry.
//   - EmergencyCooldown: how long to stay out of the market after an
//     emergency flatten before resuming normal quoting.
//   - WSReconnectDelay: loaded from config but not read by the WebSocket
//     feeds; their reconnect backoff always starts at 1s and doubles up to
//     a 30s cap.
//   - MarketDurationMinutes: expected session length; loaded from config
//     but not read by market discovery.
type StrategyConfig struct {
	ProfitMargin          float64       `mapstructure:"profit_margin"`
	MaxExposure           float64       `mapstructure:"max_exposure"`
	TrapOrderSize         float64       `mapstructure:"trap_order_size"`
	MinOrderSize          float64       `mapstructure:"min_order_size"`
	RangeMin              float64       `mapstructure:"range_min"`
	RangeMax              float64       `mapstructure:"range_max"`
	ExpiryBufferSeconds   int           `mapstructure:"expiry_buffer_seconds"`
	FinalExitSeconds      int           `mapstructure:"final_exit_seconds"`
	EmergencyCooldown     time.Duration `mapstructure:"emergency_cooldown"`
	WSReconnectDelay      time.Duration `mapstructure:"ws_reconnect_delay"`
	MarketDurationMinutes int           `mapstructure:"market_duration_minutes"`
}

// CTarget returns 1 - ProfitMargin.
func (s StrategyConfig) CTarget() float64 {
	return 1.0 - s.ProfitMargin
}

// DustThreshold returns θ, half the exchange minimum order size. Below this
// an inventory imbalance is accepted rather than hedged.
func (s StrategyConfig) DustThreshold() float64 {
	return s.MinOrderSize / 2
}

// ScannerConfig controls how the bot discovers the next box-spread market.
// The scanner polls the Gamma API and picks the nearest-expiring market
// that is accepting orders with at least MinSecondsLeft left to trade.
type ScannerConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MinLiquidity   float64       `mapstructure:"min_liquidity"`
	MinVolume24h   float64       `mapstructure:"min_volume_24h"`
	MinSecondsLeft int           `mapstructure:"min_seconds_left"`
	ExcludeSlugs   []string      `mapstructure:"exclude_slugs"`
}

// StoreConfig sets where ledger state is persisted (a single JSON file).
type StoreConfig struct {
	StateFile            string        `mapstructure:"state_file"`
	StatePersistInterval time.Duration `mapstructure:"state_persist_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the optional read-only status server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: POLY_PRIVATE_KEY, POLY_API_KEY, POLY_API_SECRET, POLY_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("POLY_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("POLY_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if os.Getenv("POLY_DRY_RUN") == "true" || os.Getenv("POLY_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// setDefaults mirrors the reference configuration surface: profit_margin
// 0.02, max_exposure 100, trap_order_size 10, min_order_size 1, range
// 0.40-0.60, expiry_buffer_seconds 60, final_exit_seconds 10,
// ws_reconnect_delay 5s, state_file mm_state.json.
func setDefaults(v *viper.Viper) {
	v.SetDefault("strategy.profit_margin", 0.02)
	v.SetDefault("strategy.max_exposure", 100.0)
	v.SetDefault("strategy.trap_order_size", 10.0)
	v.SetDefault("strategy.min_order_size", 1.0)
	v.SetDefault("strategy.range_min", 0.40)
	v.SetDefault("strategy.range_max", 0.60)
	v.SetDefault("strategy.expiry_buffer_seconds", 60)
	v.SetDefault("strategy.final_exit_seconds", 10)
	v.SetDefault("strategy.emergency_cooldown", "30s")
	v.SetDefault("strategy.ws_reconnect_delay", "5s")
	v.SetDefault("strategy.market_duration_minutes", 15)

	v.SetDefault("scanner.poll_interval", "10s")
	v.SetDefault("scanner.min_seconds_left", 120)

	v.SetDefault("store.state_file", "mm_state.json")
	v.SetDefault("store.state_persist_interval", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set POLY_PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.Strategy.ProfitMargin <= 0 || c.Strategy.ProfitMargin >= 1 {
		return fmt.Errorf("strategy.profit_margin must be in (0,1), got %v", c.Strategy.ProfitMargin)
	}
	if c.Strategy.MaxExposure <= 0 {
		return fmt.Errorf("strategy.max_exposure must be > 0")
	}
	if c.Strategy.TrapOrderSize <= 0 {
		return fmt.Errorf("strategy.trap_order_size must be > 0")
	}
	if c.Strategy.MinOrderSize <= 0 {
		return fmt.Errorf("strategy.min_order_size must be > 0")
	}
	if c.Strategy.RangeMin <= 0 || c.Strategy.RangeMax >= 1 || c.Strategy.RangeMin >= c.Strategy.RangeMax {
		return fmt.Errorf("strategy.range_min/range_max must satisfy 0 < range_min < range_max < 1")
	}
	return nil
}
