package api

import (
	"time"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/market"
	"polymarket-mm/internal/risk"
)

// MarketSnapshotProvider provides snapshot access to the running session's
// state. Implemented by engine.Session in internal/engine.
type MarketSnapshotProvider interface {
	// GetMarketStatus returns the active market's status, or nil if no
	// session is currently running (the scanner hasn't picked one yet).
	GetMarketStatus() *MarketStatus
	GetSafety() *risk.Safety
	GetScanner() *market.Scanner
}

// BuildSnapshot aggregates state from all components into a dashboard snapshot.
func BuildSnapshot(provider MarketSnapshotProvider, cfg config.Config) DashboardSnapshot {
	status := provider.GetMarketStatus()

	var riskSnap RiskSnapshot
	if safety := provider.GetSafety(); safety != nil {
		var deltaQ float64
		if status != nil {
			deltaQ = status.DeltaQ
		}
		riskSnap = convertSafety(safety, cfg, deltaQ)
	}

	scanner := provider.GetScanner()
	var scannerInfo ScannerInfo
	if scanner != nil {
		lastScan, _ := scanner.Stats()
		scannerInfo = ScannerInfo{
			LastScanTime: lastScan,
			HasCandidate: scanner.HasPendingCandidate(),
		}
	}

	return DashboardSnapshot{
		Timestamp: time.Now(),
		Market:    status,
		Risk:      riskSnap,
		Config:    NewConfigSummary(cfg),
		Scanner:   scannerInfo,
	}
}

// convertSafety reads the session's safety guard checks into the dashboard's
// risk snapshot shape.
func convertSafety(s *risk.Safety, cfg config.Config, deltaQ float64) RiskSnapshot {
	return RiskSnapshot{
		MaxExposure:        cfg.Strategy.MaxExposure,
		ExposureExceeded:   s.ExposureExceeded(deltaQ),
		SecondsUntilExpiry: s.SecondsUntilExpiry(),
		InExpiryBuffer:     s.IsInExpiryBuffer(),
		InFinalExit:        s.IsInFinalExit(),
		ShouldCooldown:     s.ShouldCooldown(),
	}
}
