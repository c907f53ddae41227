package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/market"
	"polymarket-mm/internal/risk"
	"polymarket-mm/internal/strategy"
	"polymarket-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// noopClient is a strategy.ExchangeClient test double that never errors.
type noopClient struct{}

func (noopClient) PlaceLimit(ctx context.Context, asset string, side types.Side, price, size float64, tif types.TimeInForce) (string, error) {
	return "order-1", nil
}
func (noopClient) Cancel(ctx context.Context, orderID string) (bool, error)        { return true, nil }
func (noopClient) CancelAll(ctx context.Context) (int, error)                      { return 0, nil }
func (noopClient) CancelMarket(ctx context.Context, asset string) (int, error)     { return 0, nil }
func (noopClient) PlaceMarket(ctx context.Context, asset string, side types.Side, size, priceCap float64) (string, error) {
	return "order-2", nil
}

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

func testMarketInfo() types.MarketInfo {
	return types.MarketInfo{
		ConditionID: "cond-1",
		Slug:        "test-market",
		Question:    "Will it resolve YES?",
		YesTokenID:  "yes-token",
		NoTokenID:   "no-token",
		TickSize:    types.Tick001,
	}
}

func newTestSession(t *testing.T) (*Session, *market.Book, *strategy.Engine) {
	t.Helper()

	cfg := testStrategyConfig()
	info := testMarketInfo()
	expiry := time.Now().Add(time.Hour)

	book := market.NewBook(info.ConditionID, info.YesTokenID, info.NoTokenID)
	ledger := strategy.NewLedger()
	safety := risk.NewSafety(cfg, expiry)
	eng := strategy.NewEngine(cfg, info, expiry, book, noopClient{}, ledger, testLogger())

	s := &Session{
		logger: testLogger(),
		active: true,
		info:   info,
		book:   book,
		safety: safety,
		eng:    eng,
		cfg:    config.Config{Strategy: cfg},
	}
	return s, book, eng
}

func TestGetMarketStatusNilWhenInactive(t *testing.T) {
	s := &Session{}
	if got := s.GetMarketStatus(); got != nil {
		t.Errorf("GetMarketStatus() on inactive session = %+v, want nil", got)
	}
	if got := s.GetSafety(); got != nil {
		t.Errorf("GetSafety() on inactive session = %+v, want nil", got)
	}
}

func TestGetMarketStatusReportsLedgerAndBook(t *testing.T) {
	s, book, _ := newTestSession(t)

	book.ApplyBookEvent(types.WSBookEvent{
		AssetID: "yes-token",
		Buys:    []types.PriceLevel{{Price: "0.40", Size: "100"}},
		Sells:   []types.PriceLevel{{Price: "0.45", Size: "100"}},
	})
	book.ApplyBookEvent(types.WSBookEvent{
		AssetID: "no-token",
		Buys:    []types.PriceLevel{{Price: "0.50", Size: "100"}},
		Sells:   []types.PriceLevel{{Price: "0.55", Size: "100"}},
	})

	status := s.GetMarketStatus()
	if status == nil {
		t.Fatal("GetMarketStatus() = nil, want non-nil for active session")
	}
	if status.ConditionID != "cond-1" || status.Slug != "test-market" {
		t.Errorf("status identity mismatch: %+v", status)
	}
	if status.YesBestAsk != 0.45 || status.NoBestAsk != 0.55 {
		t.Errorf("status book prices mismatch: %+v", status)
	}
	if status.Mode != string(strategy.ModeOpen) {
		t.Errorf("status.Mode = %q, want %q", status.Mode, strategy.ModeOpen)
	}
}

func TestActiveBookAndEngineRejectsUnknownAsset(t *testing.T) {
	s, _, _ := newTestSession(t)

	if _, _, ok := s.activeBookAndEngine("other-token"); ok {
		t.Error("activeBookAndEngine should reject an asset ID outside the active market")
	}
	if _, _, ok := s.activeBookAndEngine("yes-token"); !ok {
		t.Error("activeBookAndEngine should accept the active market's own token")
	}
}

func TestActiveBookAndEngineNilWhenInactive(t *testing.T) {
	s := &Session{}
	if _, _, ok := s.activeBookAndEngine("yes-token"); ok {
		t.Error("activeBookAndEngine should report false when no session is active")
	}
}

func TestAbs(t *testing.T) {
	if abs(-3.5) != 3.5 {
		t.Error("abs(-3.5) should be 3.5")
	}
	if abs(2.0) != 2.0 {
		t.Error("abs(2.0) should be 2.0")
	}
}

func TestParseFloatSafe(t *testing.T) {
	f, err := parseFloatSafe("0.42")
	if err != nil || f != 0.42 {
		t.Errorf("parseFloatSafe(0.42) = %v, %v", f, err)
	}
}
