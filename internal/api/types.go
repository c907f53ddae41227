package api

import (
	"time"

	"polymarket-mm/internal/config"
)

// DashboardSnapshot represents the complete dashboard state for the
// box-spread session: at most one active market (nil between sessions,
// while the scanner is still looking for the next one), the safety guard
// status, configuration, and scanner info.
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	// Market is nil when no session is currently active.
	Market *MarketStatus `json:"market"`

	Risk    RiskSnapshot  `json:"risk"`
	Config  ConfigSummary `json:"config"`
	Scanner ScannerInfo   `json:"scanner"`
}

// MarketStatus represents the active session's market and strategy state.
type MarketStatus struct {
	ConditionID string `json:"condition_id"`
	Slug        string `json:"slug"`
	Question    string `json:"question"`

	// Book state, per outcome.
	YesBestBid float64 `json:"yes_best_bid"`
	YesBestAsk float64 `json:"yes_best_ask"`
	NoBestBid  float64 `json:"no_best_bid"`
	NoBestAsk  float64 `json:"no_best_ask"`

	LastUpdated time.Time `json:"last_updated"`
	IsStale     bool      `json:"is_stale"`

	// Strategy state
	Mode         string `json:"mode"`
	HasTrapYes   bool   `json:"has_trap_yes"`
	HasTrapNo    bool   `json:"has_trap_no"`
	HasHedge     bool   `json:"has_hedge"`
	HedgeOutcome string `json:"hedge_outcome,omitempty"`

	// Inventory / P&L
	QYes            float64 `json:"q_yes"`
	CYes            float64 `json:"c_yes"`
	QNo             float64 `json:"q_no"`
	CNo             float64 `json:"c_no"`
	DeltaQ          float64 `json:"delta_q"`
	CombinedVWAP    float64 `json:"combined_vwap"`
	PotentialProfit float64 `json:"potential_profit"`
	LockedProfit    float64 `json:"locked_profit"`
	LockedQuantity  float64 `json:"locked_quantity"`
	CompletedRounds int     `json:"completed_rounds"`

	// Market metadata
	TickSize  string    `json:"tick_size"`
	EndDate   time.Time `json:"end_date"`
	Liquidity float64   `json:"liquidity"`
	Volume24h float64   `json:"volume_24h"`
}

// RiskSnapshot represents the session's safety guard status.
type RiskSnapshot struct {
	MaxExposure        float64 `json:"max_exposure"`
	ExposureExceeded   bool    `json:"exposure_exceeded"`
	SecondsUntilExpiry float64 `json:"seconds_until_expiry"`
	InExpiryBuffer     bool    `json:"in_expiry_buffer"`
	InFinalExit        bool    `json:"in_final_exit"`
	ShouldCooldown     bool    `json:"should_cooldown"`
}

// ConfigSummary represents strategy and scanner configuration.
type ConfigSummary struct {
	// Strategy parameters
	ProfitMargin        float64 `json:"profit_margin"`
	CTarget             float64 `json:"c_target"`
	MaxExposure         float64 `json:"max_exposure"`
	TrapOrderSize       float64 `json:"trap_order_size"`
	MinOrderSize        float64 `json:"min_order_size"`
	RangeMin            float64 `json:"range_min"`
	RangeMax            float64 `json:"range_max"`
	ExpiryBufferSeconds int     `json:"expiry_buffer_seconds"`
	FinalExitSeconds    int     `json:"final_exit_seconds"`
	EmergencyCooldown   string  `json:"emergency_cooldown"`

	// Scanner parameters
	ScannerPollInterval string   `json:"scanner_poll_interval"`
	MinLiquidity        float64  `json:"min_liquidity"`
	MinVolume24h        float64  `json:"min_volume_24h"`
	MinSecondsLeft      int      `json:"min_seconds_left"`
	ExcludeSlugs        []string `json:"exclude_slugs"`

	// Operational
	DryRun bool `json:"dry_run"`
}

// ScannerInfo represents scanner state.
type ScannerInfo struct {
	LastScanTime time.Time `json:"last_scan_time"`
	HasCandidate bool      `json:"has_candidate"`
}

// NewConfigSummary creates a config summary from config.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		ProfitMargin:        cfg.Strategy.ProfitMargin,
		CTarget:             cfg.Strategy.CTarget(),
		MaxExposure:         cfg.Strategy.MaxExposure,
		TrapOrderSize:       cfg.Strategy.TrapOrderSize,
		MinOrderSize:        cfg.Strategy.MinOrderSize,
		RangeMin:            cfg.Strategy.RangeMin,
		RangeMax:            cfg.Strategy.RangeMax,
		ExpiryBufferSeconds: cfg.Strategy.ExpiryBufferSeconds,
		FinalExitSeconds:    cfg.Strategy.FinalExitSeconds,
		EmergencyCooldown:   cfg.Strategy.EmergencyCooldown.String(),

		ScannerPollInterval: cfg.Scanner.PollInterval.String(),
		MinLiquidity:        cfg.Scanner.MinLiquidity,
		MinVolume24h:        cfg.Scanner.MinVolume24h,
		MinSecondsLeft:      cfg.Scanner.MinSecondsLeft,
		ExcludeSlugs:        cfg.Scanner.ExcludeSlugs,

		DryRun: cfg.DryRun,
	}
}
