// Package strategy implements the box-spread trap/hedge state machine for a
// single binary prediction market.
//
// The engine posts passive "trap" BUY limits on both outcomes whenever the
// ledger is balanced; each trap is priced so that, should it fill, the
// combined cost of a matching pair never exceeds c_target = 1 - profit_margin.
// When only one side fills the engine switches into a hedge mode and posts a
// passive BUY on the other outcome at c_target - own_vwap (which may or may
// not be marketable); once that hedge fills it locks the realised profit and
// returns to posting traps.
//
// Per-tick flow (driven by book updates, fills, and a periodic ticker):
//  1. Return if the book lacks a snapshot for either outcome, or the engine
//     has already stopped.
//  2. If inside the final-exit window: cancel everything and stop.
//  3. Recompute mode from the current inventory imbalance ΔQ.
//  4. Dispatch to mode_open (post missing traps) or mode_hedge (complete the
//     box), skipping trap placement inside the expiry buffer.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/metrics"
	"polymarket-mm/pkg/types"
)

// Mode is the engine's current operating state.
type Mode string

const (
	ModeOpen     Mode = "OPEN"
	ModeHedgeYes Mode = "HEDGE_YES"
	ModeHedgeNo  Mode = "HEDGE_NO"
	ModeStopped  Mode = "STOPPED"
)

// slotKind identifies which order slot a fill or cancel belongs to.
type slotKind int

const (
	slotUnknown slotKind = iota
	slotTrapYes
	slotTrapNo
	slotHedge
)

func (k slotKind) String() string {
	switch k {
	case slotTrapYes:
		return "trap_yes"
	case slotTrapNo:
		return "trap_no"
	case slotHedge:
		return "hedge"
	default:
		return "unknown"
	}
}

// ExchangeClient is everything the engine needs to move orders. Satisfied by
// exchange.MarketClient.
type ExchangeClient interface {
	PlaceLimit(ctx context.Context, asset string, side types.Side, price, size float64, tif types.TimeInForce) (string, error)
	Cancel(ctx context.Context, orderID string) (bool, error)
	CancelAll(ctx context.Context) (int, error)
	CancelMarket(ctx context.Context, asset string) (int, error)
	PlaceMarket(ctx context.Context, asset string, side types.Side, size, priceCap float64) (string, error)
}

// BookView is the subset of market.Book the engine depends on. Declaring it
// here (rather than importing *market.Book directly) keeps the engine
// testable against a fake order book.
type BookView interface {
	BestBidAsk(outcome types.Outcome) (bid, ask float64, ok bool)
	HasBoth() bool
}

// StateSnapshot is a point-in-time read of the engine's state, used by the
// dashboard and by tests.
type StateSnapshot struct {
	Mode      Mode
	HasTrapYes bool
	HasTrapNo  bool
	HasHedge   bool
	HedgeOutcome types.Outcome
	Ledger    LedgerSnapshot
}

// Engine is the box-spread strategy state machine for one market session.
// Single-writer: every exported method that touches state takes the engine
// mutex, matching the single critical-section model described for the
// order-book and fill callbacks.
type Engine struct {
	mu sync.Mutex

	cfg    config.StrategyConfig
	policy *Policy
	ledger *Ledger
	book   BookView
	client ExchangeClient
	info   types.MarketInfo
	expiry time.Time

	mode Mode

	trapYes *types.LiveOrder
	trapNo  *types.LiveOrder
	hedge   *types.LiveOrder
	hedgeOutcome types.Outcome

	// intent maps an order id the engine placed to the outcome it was
	// placed for. Consulted ahead of any stream-reported outcome field,
	// since a trade event's top-level asset/outcome fields can describe
	// the taker leg rather than our own maker fill.
	intent map[string]types.Outcome

	placingTraps bool
	placingHedge bool

	logger *slog.Logger
}

// NewEngine constructs an engine for one market session. expiry is the
// market's scheduled resolution time; ledger may be freshly created or
// restored from the state store.
func NewEngine(cfg config.StrategyConfig, info types.MarketInfo, expiry time.Time, book BookView, client ExchangeClient, ledger *Ledger, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		policy: NewPolicy(cfg),
		ledger: ledger,
		book:   book,
		client: client,
		info:   info,
		expiry: expiry,
		mode:   ModeOpen,
		intent: make(map[string]types.Outcome),
		logger: logger.With("component", "engine", "market", info.Slug),
	}
}

// Mode returns the engine's current mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Snapshot returns a point-in-time view of engine + ledger state.
func (e *Engine) Snapshot() StateSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return StateSnapshot{
		Mode:         e.mode,
		HasTrapYes:   e.trapYes != nil,
		HasTrapNo:    e.trapNo != nil,
		HasHedge:     e.hedge != nil,
		HedgeOutcome: e.hedgeOutcome,
		Ledger:       e.ledger.Snapshot(),
	}
}

// Step is the tick entry point, invoked on every order-book update and
// after every processed fill.
func (e *Engine) Step(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stepLocked(ctx)
}

func (e *Engine) stepLocked(ctx context.Context) {
	if e.mode == ModeStopped {
		return
	}
	if !e.book.HasBoth() {
		return
	}

	remaining := time.Until(e.expiry)
	if remaining <= time.Duration(e.cfg.FinalExitSeconds)*time.Second {
		e.cancelAllLocked(ctx)
		e.mode = ModeStopped
		e.logger.Info("final exit window reached, strategy stopped")
		return
	}
	inBuffer := remaining <= time.Duration(e.cfg.ExpiryBufferSeconds)*time.Second

	delta := e.ledger.DeltaQ()
	theta := e.cfg.DustThreshold()

	switch {
	case delta >= theta:
		e.mode = ModeHedgeYes
	case delta <= -theta:
		e.mode = ModeHedgeNo
	default:
		e.mode = ModeOpen
	}

	switch e.mode {
	case ModeOpen:
		if inBuffer {
			return
		}
		e.modeOpenLocked(ctx)
	case ModeHedgeYes:
		e.modeHedgeLocked(ctx, types.OutcomeYes)
	case ModeHedgeNo:
		e.modeHedgeLocked(ctx, types.OutcomeNo)
	}
}

// modeOpenLocked posts any trap that isn't currently live. Precondition:
// the ledger is balanced (caller only reaches here from mode OPEN).
func (e *Engine) modeOpenLocked(ctx context.Context) {
	if e.trapYes != nil && e.trapNo != nil {
		return
	}
	if e.placingTraps {
		return
	}
	e.placingTraps = true
	defer func() { e.placingTraps = false }()

	_, askYes, okYes := e.book.BestBidAsk(types.OutcomeYes)
	_, askNo, okNo := e.book.BestBidAsk(types.OutcomeNo)
	if !okYes || !okNo {
		return
	}

	if e.trapYes == nil {
		if price, ok := e.policy.TrapPrice(askNo, askYes); ok {
			e.placeTrapLocked(ctx, types.OutcomeYes, price)
		}
	}
	if e.trapNo == nil {
		if price, ok := e.policy.TrapPrice(askYes, askNo); ok {
			e.placeTrapLocked(ctx, types.OutcomeNo, price)
		}
	}
}

func (e *Engine) placeTrapLocked(ctx context.Context, outcome types.Outcome, price float64) {
	asset := e.assetFor(outcome)
	id, err := e.client.PlaceLimit(ctx, asset, types.BUY, price, e.cfg.TrapOrderSize, types.TIFGTC)
	if err != nil {
		metrics.PlaceErrors.WithLabelValues("trap", string(outcome)).Inc()
		e.logger.Error("place trap failed", "outcome", outcome, "error", err)
		return
	}
	if id == "" {
		return
	}

	order := &types.LiveOrder{
		OrderID:      id,
		AssetID:      asset,
		Outcome:      outcome,
		Side:         types.BUY,
		Price:        price,
		OriginalSize: e.cfg.TrapOrderSize,
		Status:       types.OrderLive,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if outcome == types.OutcomeYes {
		e.trapYes = order
	} else {
		e.trapNo = order
	}
	e.intent[id] = outcome
	e.logger.Info("trap placed", "outcome", outcome, "price", price, "size", e.cfg.TrapOrderSize)
}

// modeHedgeLocked completes the box on the short side. Precondition:
// |ΔQ| ≥ θ on longSide.
func (e *Engine) modeHedgeLocked(ctx context.Context, longSide types.Outcome) {
	delta := e.ledger.DeltaQ()
	if math.Abs(delta) < e.cfg.DustThreshold() {
		e.mode = ModeOpen
		return
	}
	if e.placingHedge {
		return
	}
	e.placingHedge = true
	defer func() { e.placingHedge = false }()

	// Free collateral and avoid self-competition; clear the slot before
	// issuing the cancel so a fill landing mid-cancel is never mistaken
	// for a live order.
	e.cancelTrapLocked(ctx, types.OutcomeYes)
	e.cancelTrapLocked(ctx, types.OutcomeNo)

	hedgeOutcome := longSide.Other()
	qty := math.Max(math.Abs(delta), e.cfg.MinOrderSize)

	var ownVWAP float64
	if longSide == types.OutcomeYes {
		ownVWAP = e.ledger.MuYes()
	} else {
		ownVWAP = e.ledger.MuNo()
	}
	price := e.policy.HedgePrice(ownVWAP)

	if e.hedge != nil {
		if e.hedgeOutcome == hedgeOutcome && math.Abs(e.hedge.Price-price) <= 0.005 {
			return
		}
		e.cancelHedgeLocked(ctx)
	}

	asset := e.assetFor(hedgeOutcome)
	id, err := e.client.PlaceLimit(ctx, asset, types.BUY, price, qty, types.TIFGTC)
	if err != nil {
		metrics.PlaceErrors.WithLabelValues("hedge", string(hedgeOutcome)).Inc()
		e.logger.Error("place hedge failed", "outcome", hedgeOutcome, "error", err)
		return
	}
	if id == "" {
		return
	}

	e.hedge = &types.LiveOrder{
		OrderID:      id,
		AssetID:      asset,
		Outcome:      hedgeOutcome,
		Side:         types.BUY,
		Price:        price,
		OriginalSize: qty,
		Status:       types.OrderLive,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	e.hedgeOutcome = hedgeOutcome
	e.intent[id] = hedgeOutcome
	e.logger.Info("hedge placed", "outcome", hedgeOutcome, "price", price, "size", qty)
}

func (e *Engine) cancelTrapLocked(ctx context.Context, outcome types.Outcome) {
	var slot **types.LiveOrder
	if outcome == types.OutcomeYes {
		slot = &e.trapYes
	} else {
		slot = &e.trapNo
	}
	order := *slot
	if order == nil {
		return
	}
	*slot = nil
	delete(e.intent, order.OrderID)
	if _, err := e.client.Cancel(ctx, order.OrderID); err != nil {
		metrics.CancelErrors.WithLabelValues("trap").Inc()
		e.logger.Warn("cancel trap failed", "outcome", outcome, "order_id", order.OrderID, "error", err)
	}
}

func (e *Engine) cancelHedgeLocked(ctx context.Context) {
	order := e.hedge
	if order == nil {
		return
	}
	e.hedge = nil
	delete(e.intent, order.OrderID)
	if _, err := e.client.Cancel(ctx, order.OrderID); err != nil {
		metrics.CancelErrors.WithLabelValues("hedge").Inc()
		e.logger.Warn("cancel hedge failed", "order_id", order.OrderID, "error", err)
	}
}

func (e *Engine) cancelAllLocked(ctx context.Context) {
	e.cancelTrapLocked(ctx, types.OutcomeYes)
	e.cancelTrapLocked(ctx, types.OutcomeNo)
	e.cancelHedgeLocked(ctx)
	if _, err := e.client.CancelMarket(ctx, e.info.ConditionID); err != nil {
		metrics.CancelErrors.WithLabelValues("market").Inc()
		e.logger.Warn("cancel market orders failed", "error", err)
	}
}

func (e *Engine) assetFor(outcome types.Outcome) string {
	if outcome == types.OutcomeYes {
		return e.info.YesTokenID
	}
	return e.info.NoTokenID
}

// HandleFill applies a trade event's maker-side fills to the ledger and
// re-steps the engine so quoting resumes without waiting for the next book
// update. Entries whose order id is not tracked are ignored.
func (e *Engine) HandleFill(ctx context.Context, trade types.WSTradeEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode == ModeStopped {
		return
	}

	for _, mo := range trade.MakerOrders {
		e.applyMakerFillLocked(ctx, mo)
	}
}

func (e *Engine) applyMakerFillLocked(ctx context.Context, mo types.WSMakerOrder) {
	kind, outcome, tracked := e.classifyLocked(mo.OrderID)
	if !tracked || kind == slotUnknown {
		e.logger.Warn("unknown fill ignored", "order_id", mo.OrderID)
		return
	}

	price, _ := strconv.ParseFloat(mo.Price, 64)
	size, _ := strconv.ParseFloat(mo.MatchedAmount, 64)
	if size <= 0 {
		return
	}

	// outcome comes from our own intent map, not mo.Outcome, per the
	// maker-vs-taker disambiguation rule.
	e.ledger.RecordFill(outcome, types.BUY, price, size)
	e.clearSlotLocked(kind)
	metrics.FillsTotal.WithLabelValues(kind.String(), string(outcome)).Inc()

	if kind == slotHedge && math.Abs(e.ledger.DeltaQ()) < 0.5 {
		e.ledger.LockProfit(e.policy.CTarget())
		e.mode = ModeOpen
	}

	snap := e.ledger.Snapshot()
	metrics.CompletedRounds.Set(float64(snap.CompletedRounds))
	metrics.LockedProfit.Set(snap.LockedProfit)
	metrics.DeltaQ.Set(snap.QYes - snap.QNo)

	e.logger.Info("fill applied", "slot", kind, "outcome", outcome, "price", price, "size", size)
	e.stepLocked(ctx)
}

func (e *Engine) classifyLocked(orderID string) (slotKind, types.Outcome, bool) {
	outcome, tracked := e.intent[orderID]
	if !tracked {
		return slotUnknown, "", false
	}
	switch {
	case e.trapYes != nil && e.trapYes.OrderID == orderID:
		return slotTrapYes, outcome, true
	case e.trapNo != nil && e.trapNo.OrderID == orderID:
		return slotTrapNo, outcome, true
	case e.hedge != nil && e.hedge.OrderID == orderID:
		return slotHedge, outcome, true
	default:
		// Tracked but the slot was already cleared (duplicate/stale report).
		return slotUnknown, outcome, true
	}
}

func (e *Engine) clearSlotLocked(kind slotKind) {
	switch kind {
	case slotTrapYes:
		if e.trapYes != nil {
			delete(e.intent, e.trapYes.OrderID)
		}
		e.trapYes = nil
	case slotTrapNo:
		if e.trapNo != nil {
			delete(e.intent, e.trapNo.OrderID)
		}
		e.trapNo = nil
	case slotHedge:
		if e.hedge != nil {
			delete(e.intent, e.hedge.OrderID)
		}
		e.hedge = nil
	}
}

// Flatten attempts a single aggressive sell of any residual imbalance on
// shutdown. Success updates the ledger directly (not via RecordFill,
// matching the reference flatten_position); failure is logged only —
// the residual may still settle at expiry.
func (e *Engine) Flatten(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delta := e.ledger.DeltaQ()
	if math.Abs(delta) < 0.01 {
		return
	}

	longSide := types.OutcomeYes
	size := delta
	if delta < 0 {
		longSide = types.OutcomeNo
		size = -delta
	}

	bid, _, ok := e.book.BestBidAsk(longSide)
	if !ok {
		e.logger.Warn("flatten skipped: no book for long side", "outcome", longSide)
		return
	}
	price := bid - 0.02
	if price < 0.01 {
		price = 0.01
	}

	asset := e.assetFor(longSide)
	if _, err := e.client.PlaceMarket(ctx, asset, types.SELL, size, price); err != nil {
		metrics.PlaceErrors.WithLabelValues("flatten", string(longSide)).Inc()
		e.logger.Warn("flatten failed, position may settle at expiry", "error", err)
		return
	}

	e.ledger.ReduceDirect(longSide, size)
	e.logger.Info("flattened residual position", "outcome", longSide, "size", size, "price", price)
}

// LogStatus emits a lightweight periodic status line, independent of
// book/fill-driven steps.
func (e *Engine) LogStatus() {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.ledger.Snapshot()
	e.logger.Info("status",
		"mode", e.mode,
		"delta_q", snap.QYes-snap.QNo,
		"q_yes", snap.QYes,
		"q_no", snap.QNo,
		"locked_profit", snap.LockedProfit,
		"completed_rounds", snap.CompletedRounds,
	)
}

// ErrUnknownOutcome is returned by helpers that require a recognised outcome.
var ErrUnknownOutcome = fmt.Errorf("unknown outcome")
