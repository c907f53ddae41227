// Package risk implements the box-spread session's safety checks: exposure
// limits, the expiry-buffer and final-exit windows, and the post-emergency
// cooldown. One Safety instance guards exactly one market session, matching
// the single-session scope of the strategy engine it serves.
package risk

import (
	"sync"
	"time"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/metrics"
)

// Safety holds the time- and exposure-based guards for one market session.
// It has no goroutine of its own. The session runner uses it for the
// post-emergency cooldown and the dashboard reads its checks; the strategy
// engine does not call it. TriggerCooldown and ShouldCooldown update the
// cooldown state and the CooldownActive gauge; the other methods are
// read-only checks.
type Safety struct {
	cfg    config.StrategyConfig
	expiry time.Time

	mu            sync.Mutex
	cooldownUntil time.Time
}

// NewSafety builds a Safety guard for one market session, given its
// scheduled expiry time.
func NewSafety(cfg config.StrategyConfig, expiry time.Time) *Safety {
	return &Safety{cfg: cfg, expiry: expiry}
}

// ExposureExceeded reports whether |ΔQ| exceeds the configured max exposure.
func (s *Safety) ExposureExceeded(deltaQ float64) bool {
	abs := deltaQ
	if abs < 0 {
		abs = -abs
	}
	return abs > s.cfg.MaxExposure
}

// SecondsUntilExpiry returns the time remaining until the market's scheduled
// resolution, as a float for direct comparison against config windows.
func (s *Safety) SecondsUntilExpiry() float64 {
	return time.Until(s.expiry).Seconds()
}

// IsInExpiryBuffer reports whether the session is within expiry_buffer_seconds
// of expiry — new traps should stop, existing exposure may still be hedged.
func (s *Safety) IsInExpiryBuffer() bool {
	return s.SecondsUntilExpiry() <= float64(s.cfg.ExpiryBufferSeconds)
}

// IsInFinalExit reports whether the session is within final_exit_seconds of
// expiry — cancel everything and stop trading.
func (s *Safety) IsInFinalExit() bool {
	return s.SecondsUntilExpiry() <= float64(s.cfg.FinalExitSeconds)
}

// TriggerCooldown starts (or extends) the post-emergency cooldown window
// from now, using the configured emergency_cooldown duration.
func (s *Safety) TriggerCooldown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldownUntil = time.Now().Add(s.cfg.EmergencyCooldown)
	metrics.CooldownActive.Set(1)
}

// ShouldCooldown reports whether the session is still inside a previously
// triggered cooldown window. A zero cooldownUntil (never triggered) is never
// in cooldown.
func (s *Safety) ShouldCooldown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cooldownUntil.IsZero() {
		return false
	}
	active := time.Now().Before(s.cooldownUntil)
	if active {
		metrics.CooldownActive.Set(1)
	} else {
		metrics.CooldownActive.Set(0)
	}
	return active
}
