package risk

import (
	"testing"
	"time"

	"polymarket-mm/internal/config"
)

func testStrategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		ProfitMargin:        0.02,
		MaxExposure:         100,
		TrapOrderSize:       10,
		MinOrderSize:        1,
		RangeMin:            0.40,
		RangeMax:            0.60,
		ExpiryBufferSeconds: 60,
		FinalExitSeconds:    10,
		EmergencyCooldown:   30 * time.Second,
	}
}

func TestExposureExceeded(t *testing.T) {
	t.Parallel()
	s := NewSafety(testStrategyConfig(), time.Now().Add(time.Hour))

	if s.ExposureExceeded(50) {
		t.Error("50 should not exceed max_exposure=100")
	}
	if !s.ExposureExceeded(150) {
		t.Error("150 should exceed max_exposure=100")
	}
	if !s.ExposureExceeded(-150) {
		t.Error("ExposureExceeded should use the absolute value")
	}
}

func TestIsInExpiryBuffer(t *testing.T) {
	t.Parallel()

	s := NewSafety(testStrategyConfig(), time.Now().Add(30*time.Second))
	if !s.IsInExpiryBuffer() {
		t.Error("30s remaining should be inside a 60s expiry buffer")
	}

	s = NewSafety(testStrategyConfig(), time.Now().Add(5*time.Minute))
	if s.IsInExpiryBuffer() {
		t.Error("5m remaining should be outside a 60s expiry buffer")
	}
}

func TestIsInFinalExit(t *testing.T) {
	t.Parallel()

	s := NewSafety(testStrategyConfig(), time.Now().Add(5*time.Second))
	if !s.IsInFinalExit() {
		t.Error("5s remaining should be inside a 10s final exit window")
	}

	s = NewSafety(testStrategyConfig(), time.Now().Add(time.Minute))
	if s.IsInFinalExit() {
		t.Error("1m remaining should be outside a 10s final exit window")
	}
}

func TestShouldCooldownBeforeTrigger(t *testing.T) {
	t.Parallel()
	s := NewSafety(testStrategyConfig(), time.Now().Add(time.Hour))

	if s.ShouldCooldown() {
		t.Error("a session that never triggered an emergency should never cooldown")
	}
}

func TestShouldCooldownAfterTrigger(t *testing.T) {
	t.Parallel()
	cfg := testStrategyConfig()
	cfg.EmergencyCooldown = 50 * time.Millisecond
	s := NewSafety(cfg, time.Now().Add(time.Hour))

	s.TriggerCooldown()
	if !s.ShouldCooldown() {
		t.Error("should be in cooldown immediately after TriggerCooldown")
	}

	time.Sleep(100 * time.Millisecond)
	if s.ShouldCooldown() {
		t.Error("cooldown should have expired")
	}
}
