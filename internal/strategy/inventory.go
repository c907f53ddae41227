package strategy

import (
	"sync"
	"time"

	"polymarket-mm/pkg/types"
)

// Ledger is the box-spread inventory ledger. It tracks quantity and cost
// basis for each outcome independently, plus locked (realized) profit from
// completed box rounds. Thread-safe via RWMutex.
//
// S_t = {q_yes, c_yes, q_no, c_no}
type Ledger struct {
	mu sync.RWMutex

	QYes float64 `json:"q_yes"`
	CYes float64 `json:"c_yes"`
	QNo  float64 `json:"q_no"`
	CNo  float64 `json:"c_no"`

	LockedProfit   float64 `json:"locked_profit"`
	LockedQuantity float64 `json:"locked_quantity"`
	CompletedRounds int    `json:"completed_rounds"`

	TotalTrades int     `json:"total_trades"`
	TotalVolume float64 `json:"total_volume"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewLedger creates an empty ledger timestamped at session start.
func NewLedger() *Ledger {
	now := time.Now()
	return &Ledger{CreatedAt: now, UpdatedAt: now}
}

// LedgerSnapshot is the JSON-serializable view of a Ledger, used both for
// the dashboard and for persistence round-trips. Unexported fields (the
// mutex) never leak into it.
type LedgerSnapshot struct {
	QYes            float64   `json:"q_yes"`
	CYes            float64   `json:"c_yes"`
	QNo             float64   `json:"q_no"`
	CNo             float64   `json:"c_no"`
	LockedProfit    float64   `json:"locked_profit"`
	LockedQuantity  float64   `json:"locked_quantity"`
	CompletedRounds int       `json:"completed_rounds"`
	TotalTrades     int       `json:"total_trades"`
	TotalVolume     float64   `json:"total_volume"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Snapshot returns a point-in-time copy safe to read without the lock.
func (l *Ledger) Snapshot() LedgerSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LedgerSnapshot{
		QYes: l.QYes, CYes: l.CYes, QNo: l.QNo, CNo: l.CNo,
		LockedProfit: l.LockedProfit, LockedQuantity: l.LockedQuantity,
		CompletedRounds: l.CompletedRounds,
		TotalTrades:     l.TotalTrades, TotalVolume: l.TotalVolume,
		CreatedAt: l.CreatedAt, UpdatedAt: l.UpdatedAt,
	}
}

// Restore overwrites the ledger with a previously persisted snapshot.
func (l *Ledger) Restore(s LedgerSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.QYes, l.CYes, l.QNo, l.CNo = s.QYes, s.CYes, s.QNo, s.CNo
	l.LockedProfit, l.LockedQuantity, l.CompletedRounds = s.LockedProfit, s.LockedQuantity, s.CompletedRounds
	l.TotalTrades, l.TotalVolume = s.TotalTrades, s.TotalVolume
	l.CreatedAt, l.UpdatedAt = s.CreatedAt, s.UpdatedAt
}

// MuYes returns the VWAP of the YES position, 0 if no YES shares are held.
func (l *Ledger) MuYes() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.muYesLocked()
}

func (l *Ledger) muYesLocked() float64 {
	if l.QYes == 0 {
		return 0
	}
	return l.CYes / l.QYes
}

// MuNo returns the VWAP of the NO position, 0 if no NO shares are held.
func (l *Ledger) MuNo() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.muNoLocked()
}

func (l *Ledger) muNoLocked() float64 {
	if l.QNo == 0 {
		return 0
	}
	return l.CNo / l.QNo
}

// DeltaQ returns the inventory imbalance ΔQ = q_yes - q_no.
func (l *Ledger) DeltaQ() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.QYes - l.QNo
}

// CombinedVWAP returns μ_yes + μ_no.
func (l *Ledger) CombinedVWAP() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.muYesLocked() + l.muNoLocked()
}

// PotentialProfit returns the profit realizable if the box were closed at
// current VWAPs: min(q_yes, q_no) * (1 - combined_vwap), floored at 0.
func (l *Ledger) PotentialProfit() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lockable := minF(l.QYes, l.QNo)
	combined := l.muYesLocked() + l.muNoLocked()
	if lockable == 0 || combined >= 1.0 {
		return 0
	}
	return lockable * (1.0 - combined)
}

// RecordFill applies a fill to the ledger.
//
// BUY increases quantity and cost basis. SELL reduces quantity by size and
// cost basis proportionally by the current VWAP, flooring quantity at 0.
// The engine records only BUY fills; flatten-on-shutdown uses ReduceDirect.
func (l *Ledger) RecordFill(outcome types.Outcome, side types.Side, price, size float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.TotalTrades++
	l.TotalVolume += price * size
	l.UpdatedAt = time.Now()

	switch outcome {
	case types.OutcomeYes:
		if side == types.BUY {
			l.CYes += price * size
			l.QYes += size
		} else {
			if l.QYes > 0 {
				avg := l.CYes / l.QYes
				l.CYes -= avg * minF(size, l.QYes)
				l.QYes = maxF(0, l.QYes-size)
			}
		}
	case types.OutcomeNo:
		if side == types.BUY {
			l.CNo += price * size
			l.QNo += size
		} else {
			if l.QNo > 0 {
				avg := l.CNo / l.QNo
				l.CNo -= avg * minF(size, l.QNo)
				l.QNo = maxF(0, l.QNo-size)
			}
		}
	}
}

// LockProfit locks in profit from completed box rounds. Idempotent and
// monotonic: locked_profit and completed_rounds never decrease, and calling
// this twice without an intervening fill is a no-op.
func (l *Ledger) LockProfit(cTarget float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lockable := minF(l.QYes, l.QNo)
	if lockable <= l.LockedQuantity {
		return
	}

	newLocked := lockable - l.LockedQuantity
	combined := l.muYesLocked() + l.muNoLocked()
	profitPerShare := 1.0 - combined

	if profitPerShare > 0 {
		l.LockedProfit += newLocked * profitPerShare
		l.LockedQuantity = lockable
		l.CompletedRounds++
	}
	_ = cTarget // retained for call-site symmetry with the pricing policy
}

// ReduceDirect reduces an outcome's quantity by size without touching cost
// basis, floored at 0. Used only by flatten-on-shutdown, which settles the
// residual at whatever the market will bear rather than at the tracked VWAP
// (matches `original_source/src/strategy_engine.py`'s `flatten_position`,
// which does not route through record_fill).
func (l *Ledger) ReduceDirect(outcome types.Outcome, size float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.UpdatedAt = time.Now()
	switch outcome {
	case types.OutcomeYes:
		l.QYes = maxF(0, l.QYes-size)
	case types.OutcomeNo:
		l.QNo = maxF(0, l.QNo-size)
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
