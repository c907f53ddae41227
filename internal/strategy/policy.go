package strategy

import (
	"math"

	"polymarket-mm/internal/config"
)

// Policy holds the pure pricing functions for the box-spread strategy.
// All methods are deterministic and side-effect free: given the same
// inputs and configuration they always produce the same quote (or the
// same refusal to quote).
type Policy struct {
	cfg config.StrategyConfig
}

// NewPolicy builds a Policy from the strategy configuration section.
func NewPolicy(cfg config.StrategyConfig) *Policy {
	return &Policy{cfg: cfg}
}

// CTarget returns 1 - profit_margin, the maximum combined VWAP at which the
// box is still profitable.
func (p *Policy) CTarget() float64 {
	return 1.0 - p.cfg.ProfitMargin
}

// inRange reports whether a probability lies within [range_min, range_max].
func (p *Policy) inRange(v float64) bool {
	return v >= p.cfg.RangeMin && v <= p.cfg.RangeMax
}

// TrapPrice computes the passive BUY limit price for one outcome's trap
// order, given the opposing outcome's best ask and this outcome's own best
// ask. Returns (price, true) on a valid quote, or (0, false) to decline —
// either because one of the two asks is outside the active trading band, or
// because the resulting price would be at or below 0.01 or above 0.99.
func (p *Policy) TrapPrice(opposingAsk, ownAsk float64) (float64, bool) {
	if !p.inRange(ownAsk) || !p.inRange(opposingAsk) {
		return 0, false
	}

	price := p.CTarget() - opposingAsk
	price = roundToTick(price)

	if price <= 0.01 || price > 0.99 {
		return 0, false
	}
	return price, true
}

// HedgePrice computes the maximum price we are willing to pay for the
// complementary leg once one side is already long at VWAP ownVWAP.
// Eq 8: π_hedge = c_target - μ_own, clamped to [0.01, 0.99].
func (p *Policy) HedgePrice(ownVWAP float64) float64 {
	price := p.CTarget() - ownVWAP
	if price < 0.01 {
		price = 0.01
	}
	if price > 0.99 {
		price = 0.99
	}
	return roundToTick(price)
}

// roundToTick rounds a price to the nearest cent (tick size 0.01).
func roundToTick(v float64) float64 {
	return math.Round(v*100) / 100
}
