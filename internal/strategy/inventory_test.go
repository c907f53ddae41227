package strategy

import (
	"math"
	"testing"

	"polymarket-mm/pkg/types"
)

func TestRecordFillBuyYes(t *testing.T) {
	t.Parallel()
	l := NewLedger()

	l.RecordFill(types.OutcomeYes, types.BUY, 0.50, 10)

	if l.QYes != 10 {
		t.Errorf("QYes = %v, want 10", l.QYes)
	}
	if math.Abs(l.MuYes()-0.50) > 1e-10 {
		t.Errorf("MuYes() = %v, want 0.50", l.MuYes())
	}
}

func TestRecordFillBuyYesMultiple(t *testing.T) {
	t.Parallel()
	l := NewLedger()

	l.RecordFill(types.OutcomeYes, types.BUY, 0.50, 10)
	l.RecordFill(types.OutcomeYes, types.BUY, 0.60, 10)

	if l.QYes != 20 {
		t.Errorf("QYes = %v, want 20", l.QYes)
	}
	// avg = (0.50*10 + 0.60*10) / 20 = 0.55
	if math.Abs(l.MuYes()-0.55) > 1e-10 {
		t.Errorf("MuYes() = %v, want 0.55", l.MuYes())
	}
}

func TestRecordFillSellReducesCostProportionally(t *testing.T) {
	t.Parallel()
	l := NewLedger()

	l.RecordFill(types.OutcomeYes, types.BUY, 0.40, 10)
	l.RecordFill(types.OutcomeYes, types.SELL, 0.60, 5)

	if math.Abs(l.QYes-5) > 1e-10 {
		t.Errorf("QYes = %v, want 5", l.QYes)
	}
	// avg cost was 0.40; selling 5 removes 0.40*5 = 2.0 of cost basis
	if math.Abs(l.CYes-2.0) > 1e-10 {
		t.Errorf("CYes = %v, want 2.0", l.CYes)
	}
}

func TestRecordFillSellFloorsAtZero(t *testing.T) {
	t.Parallel()
	l := NewLedger()

	l.RecordFill(types.OutcomeYes, types.BUY, 0.40, 10)
	l.RecordFill(types.OutcomeYes, types.SELL, 0.50, 15) // oversell

	if l.QYes != 0 {
		t.Errorf("QYes = %v, want 0 (floored)", l.QYes)
	}
	if l.CYes != 0 {
		t.Errorf("CYes = %v, want 0", l.CYes)
	}
}

func TestDeltaQAndCombinedVWAP(t *testing.T) {
	t.Parallel()
	l := NewLedger()

	l.RecordFill(types.OutcomeYes, types.BUY, 0.48, 10)
	l.RecordFill(types.OutcomeNo, types.BUY, 0.50, 4)

	if math.Abs(l.DeltaQ()-6) > 1e-10 {
		t.Errorf("DeltaQ() = %v, want 6", l.DeltaQ())
	}
	want := 0.48 + 0.50
	if math.Abs(l.CombinedVWAP()-want) > 1e-10 {
		t.Errorf("CombinedVWAP() = %v, want %v", l.CombinedVWAP(), want)
	}
}

// Scenario 1 from the testable-properties table: a full box round.
func TestFullBoxRoundLocksExpectedProfit(t *testing.T) {
	t.Parallel()
	l := NewLedger()
	cTarget := 0.98

	l.RecordFill(types.OutcomeYes, types.BUY, 0.48, 10)
	l.RecordFill(types.OutcomeNo, types.BUY, 0.50, 10)
	l.LockProfit(cTarget)

	if l.CompletedRounds != 1 {
		t.Errorf("CompletedRounds = %d, want 1", l.CompletedRounds)
	}
	if math.Abs(l.LockedProfit-0.20) > 1e-9 {
		t.Errorf("LockedProfit = %v, want 0.20", l.LockedProfit)
	}
	if l.LockedQuantity != 10 {
		t.Errorf("LockedQuantity = %v, want 10", l.LockedQuantity)
	}
}

func TestLockProfitIsIdempotent(t *testing.T) {
	t.Parallel()
	l := NewLedger()

	l.RecordFill(types.OutcomeYes, types.BUY, 0.48, 10)
	l.RecordFill(types.OutcomeNo, types.BUY, 0.50, 10)
	l.LockProfit(0.98)

	before := l.Snapshot()
	l.LockProfit(0.98)
	after := l.Snapshot()

	if before.LockedProfit != after.LockedProfit {
		t.Errorf("LockedProfit changed on repeat lock: %v -> %v", before.LockedProfit, after.LockedProfit)
	}
	if before.CompletedRounds != after.CompletedRounds {
		t.Errorf("CompletedRounds changed on repeat lock: %v -> %v", before.CompletedRounds, after.CompletedRounds)
	}
}

func TestLockProfitNeverExceedsMinQuantity(t *testing.T) {
	t.Parallel()
	l := NewLedger()

	l.RecordFill(types.OutcomeYes, types.BUY, 0.40, 10)
	l.RecordFill(types.OutcomeNo, types.BUY, 0.40, 4)
	l.LockProfit(0.98)

	if l.LockedQuantity > math.Min(l.QYes, l.QNo) {
		t.Errorf("LockedQuantity %v exceeds min(QYes,QNo) %v", l.LockedQuantity, math.Min(l.QYes, l.QNo))
	}
}

func TestSnapshotRoundTripIsIdentity(t *testing.T) {
	t.Parallel()
	l := NewLedger()
	l.RecordFill(types.OutcomeYes, types.BUY, 0.48, 10)
	l.RecordFill(types.OutcomeNo, types.BUY, 0.50, 10)
	l.LockProfit(0.98)

	snap := l.Snapshot()

	restored := NewLedger()
	restored.Restore(snap)
	roundTripped := restored.Snapshot()

	if roundTripped != snap {
		t.Errorf("round-tripped snapshot differs: got %+v, want %+v", roundTripped, snap)
	}
}

func TestReduceDirectLeavesCostBasisUntouched(t *testing.T) {
	t.Parallel()
	l := NewLedger()
	l.RecordFill(types.OutcomeYes, types.BUY, 0.40, 10)

	l.ReduceDirect(types.OutcomeYes, 4)

	if math.Abs(l.QYes-6) > 1e-10 {
		t.Errorf("QYes = %v, want 6", l.QYes)
	}
	// Cost basis is untouched by ReduceDirect, unlike RecordFill(SELL, ...).
	if math.Abs(l.CYes-4.0) > 1e-10 {
		t.Errorf("CYes = %v, want 4.0 (unchanged)", l.CYes)
	}
}

func TestReduceDirectFloorsAtZero(t *testing.T) {
	t.Parallel()
	l := NewLedger()
	l.RecordFill(types.OutcomeNo, types.BUY, 0.40, 5)

	l.ReduceDirect(types.OutcomeNo, 100)

	if l.QNo != 0 {
		t.Errorf("QNo = %v, want 0 (floored)", l.QNo)
	}
}

func TestNonNegativeInvariantHolds(t *testing.T) {
	t.Parallel()
	l := NewLedger()

	fills := []struct {
		outcome types.Outcome
		side    types.Side
		price   float64
		size    float64
	}{
		{types.OutcomeYes, types.BUY, 0.5, 10},
		{types.OutcomeYes, types.SELL, 0.6, 3},
		{types.OutcomeYes, types.SELL, 0.6, 100}, // oversell past zero
		{types.OutcomeNo, types.BUY, 0.4, 5},
	}
	for _, f := range fills {
		l.RecordFill(f.outcome, f.side, f.price, f.size)
	}

	if l.QYes < 0 || l.CYes < 0 || l.QNo < 0 || l.CNo < 0 {
		t.Fatalf("negative quantity/cost after fills: %+v", l.Snapshot())
	}
	if l.QYes == 0 && l.CYes != 0 {
		t.Errorf("QYes=0 but CYes=%v, want 0", l.CYes)
	}
}
