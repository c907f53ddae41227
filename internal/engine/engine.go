// Package engine is the orchestrator of the box-spread bot.
//
// It wires together all subsystems:
//
//  1. Scanner discovers the next short-duration binary market to trade.
//  2. Session fetches an initial book snapshot and starts a strategy.Engine
//     for that market alone — one market at a time, matching the scanner's
//     single-candidate selection.
//  3. Two WebSocket feeds (market data + user fills) dispatch events to the
//     active session's Book and strategy.Engine.
//  4. A risk.Safety guard tracks exposure/expiry for the active market and
//     gates whether the next candidate may start right away or must wait
//     out a post-emergency cooldown.
//
// Lifecycle: New() → Run(ctx) blocks until ctx is cancelled (SIGINT/SIGTERM
// in cmd/boxspread), flattening any residual position before returning.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"polymarket-mm/internal/api"
	"polymarket-mm/internal/config"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/market"
	"polymarket-mm/internal/risk"
	"polymarket-mm/internal/store"
	"polymarket-mm/internal/strategy"
	"polymarket-mm/pkg/types"
)

// statusTickInterval drives the periodic re-evaluation (final-exit/expiry-
// buffer transitions) that isn't triggered by a book update or fill.
const statusTickInterval = 2 * time.Second

// staleBookThreshold flags a market's book as stale for the dashboard after
// this long without an update from either outcome's feed.
const staleBookThreshold = 30 * time.Second

// Session orchestrates one box-spread market at a time.
type Session struct {
	cfg     config.Config
	client  *exchange.Client
	auth    *exchange.Auth
	mktFeed *exchange.WSFeed
	usrFeed *exchange.WSFeed
	scanner *market.Scanner
	store   *store.Store
	logger  *slog.Logger

	dashboardEvents chan api.DashboardEvent

	// Active-session state, nil/zero while waiting for the scanner's next
	// candidate. Protected by mu since the dashboard and dispatch
	// goroutines read it concurrently with runMarket's writes.
	mu     sync.RWMutex
	active bool
	info   types.MarketInfo
	book   *market.Book
	safety *risk.Safety
	eng    *strategy.Engine
}

// New wires config into auth, the REST client, both WS feeds, the scanner,
// and the ledger store. If L2 API credentials aren't configured, it derives
// them via L1 (EIP-712) auth.
func New(cfg config.Config, logger *slog.Logger) (*Session, error) {
	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		return nil, err
	}

	client := exchange.NewClient(cfg, auth, logger)

	if !auth.HasL2Credentials() {
		logger.Info("no L2 credentials, deriving API key via L1...")
		creds, err := client.DeriveAPIKey(context.Background())
		if err != nil {
			return nil, err
		}
		auth.SetCredentials(*creds)
	}

	mktFeed := exchange.NewMarketFeed(cfg.API.WSMarketURL, logger)
	usrFeed := exchange.NewUserFeed(cfg.API.WSUserURL, auth, logger)
	scanner := market.NewScanner(cfg, logger)

	st, err := store.Open(cfg.Store.StateFile)
	if err != nil {
		return nil, err
	}

	var dashEvents chan api.DashboardEvent
	if cfg.Dashboard.Enabled {
		dashEvents = make(chan api.DashboardEvent, 100)
	}

	return &Session{
		cfg:             cfg,
		client:          client,
		auth:            auth,
		mktFeed:         mktFeed,
		usrFeed:         usrFeed,
		scanner:         scanner,
		store:           st,
		logger:          logger.With("component", "session"),
		dashboardEvents: dashEvents,
	}, nil
}

// Run starts both WS feeds, the scanner, the event dispatchers, and the
// market-session loop, via an errgroup so any goroutine's unexpected error
// tears down the rest. Blocks until ctx is cancelled or a component fails;
// always attempts a final order cancel and flatten before returning.
func (s *Session) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.mktFeed.Run(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("market feed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.usrFeed.Run(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("user feed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.scanner.Run(gctx)
		return nil
	})
	g.Go(func() error {
		s.dispatchMarketEvents(gctx)
		return nil
	})
	g.Go(func() error {
		s.dispatchUserEvents(gctx)
		return nil
	})
	g.Go(func() error {
		return s.runSessions(gctx)
	})

	err := g.Wait()

	s.shutdown()
	return err
}

// shutdown cancels everything outstanding and then flattens any residual
// position in the active market, as a safety net independent of the strategy
// engine's own final-exit handling.
func (s *Session) shutdown() {
	s.logger.Info("shutting down...")

	cancelCtx, cancelCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if _, err := s.client.CancelAll(cancelCtx); err != nil {
		s.logger.Error("failed to cancel all orders on shutdown", "error", err)
	}
	cancelCancel()

	s.mu.RLock()
	eng := s.eng
	s.mu.RUnlock()

	if eng != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		eng.Flatten(ctx)
		cancel()
	}

	s.mktFeed.Close()
	s.usrFeed.Close()
	s.store.Close()

	s.logger.Info("shutdown complete")
}

// runSessions waits for the scanner's next candidate and trades it to
// completion before considering another: a box-spread session is one
// market at a time, never an allocator across several.
func (s *Session) runSessions(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case info := <-s.scanner.Results():
			s.mu.RLock()
			prev := s.safety
			s.mu.RUnlock()
			if prev != nil && prev.ShouldCooldown() {
				s.logger.Warn("skipping candidate, session in post-emergency cooldown", "slug", info.Slug)
				continue
			}
			if err := s.runMarket(ctx, info); err != nil {
				s.logger.Error("market session ended with error", "slug", info.Slug, "error", err)
			}
		}
	}
}

// runMarket builds a strategy.Engine for one market, subscribes both WS
// feeds, seeds the book from a REST snapshot, then ticks the engine until
// it reaches ModeStopped or ctx is cancelled.
func (s *Session) runMarket(ctx context.Context, info types.MarketInfo) error {
	if info.YesTokenID == "" || info.NoTokenID == "" {
		s.logger.Warn("skipping market with missing token IDs", "slug", info.Slug)
		return nil
	}

	mktCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	book := market.NewBook(info.ConditionID, info.YesTokenID, info.NoTokenID)

	ledger := strategy.NewLedger()
	if snap, err := s.store.Load(); err != nil {
		s.logger.Error("failed to load ledger state", "error", err)
	} else if snap != nil {
		ledger.Restore(*snap)
	}

	safety := risk.NewSafety(s.cfg.Strategy, info.EndDate)
	marketClient := exchange.NewMarketClient(s.client, info)
	eng := strategy.NewEngine(s.cfg.Strategy, info, info.EndDate, book, marketClient, ledger, s.logger)

	s.mu.Lock()
	s.active = true
	s.info = info
	s.book = book
	s.safety = safety
	s.eng = eng
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		s.mktFeed.Unsubscribe(ctx, []string{info.YesTokenID, info.NoTokenID})
		s.usrFeed.Unsubscribe(ctx, []string{info.ConditionID})
	}()

	s.mktFeed.Subscribe(mktCtx, []string{info.YesTokenID, info.NoTokenID})
	s.usrFeed.Subscribe(mktCtx, []string{info.ConditionID})

	for _, tokenID := range []string{info.YesTokenID, info.NoTokenID} {
		resp, err := s.client.GetOrderBook(mktCtx, tokenID)
		if err != nil {
			s.logger.Error("failed to get initial book", "token", tokenID, "error", err)
			continue
		}
		book.ApplyBookResponse(resp)
	}

	s.logger.Info("market session started", "slug", info.Slug, "condition_id", info.ConditionID)

	ticker := time.NewTicker(statusTickInterval)
	defer ticker.Stop()

	persistTicker := time.NewTicker(s.cfg.Store.StatePersistInterval)
	defer persistTicker.Stop()

	for {
		if eng.Mode() == strategy.ModeStopped {
			break
		}
		select {
		case <-ctx.Done():
			s.persist(eng)
			return ctx.Err()
		case <-ticker.C:
			eng.Step(ctx)
			eng.LogStatus()
		case <-persistTicker.C:
			s.persist(eng)
		}
	}

	s.persist(eng)

	if delta := eng.Snapshot().Ledger; abs(delta.QYes-delta.QNo) >= 0.01 {
		flattenCtx, flattenCancel := context.WithTimeout(ctx, 10*time.Second)
		eng.Flatten(flattenCtx)
		flattenCancel()
		if abs(eng.Snapshot().Ledger.QYes-eng.Snapshot().Ledger.QNo) >= 0.01 {
			safety.TriggerCooldown()
			s.logger.Warn("flatten left residual exposure, entering cooldown")
		}
		s.persist(eng)
	}

	s.logger.Info("market session stopped", "slug", info.Slug)
	return nil
}

func (s *Session) persist(eng *strategy.Engine) {
	if err := s.store.Save(eng.Snapshot().Ledger); err != nil {
		s.logger.Error("failed to persist ledger", "error", err)
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// dispatchMarketEvents routes WS market events to the active session's Book.
// The book only applies full snapshots ("book" events); price_change deltas
// are drained and discarded here so the feed's channel never backs up, since
// Book's full-replacement model has no incremental-update path.
func (s *Session) dispatchMarketEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-s.mktFeed.BookEvents():
			s.routeBookEvent(ctx, evt)
		case <-s.mktFeed.PriceChangeEvents():
		}
	}
}

func (s *Session) routeBookEvent(ctx context.Context, evt types.WSBookEvent) {
	book, eng, ok := s.activeBookAndEngine(evt.AssetID)
	if !ok {
		return
	}
	book.ApplyBookEvent(evt)
	eng.Step(ctx)
}

// activeBookAndEngine returns the active session's book/engine if assetID
// belongs to the currently-traded market.
func (s *Session) activeBookAndEngine(assetID string) (*market.Book, *strategy.Engine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.active {
		return nil, nil, false
	}
	if assetID != s.info.YesTokenID && assetID != s.info.NoTokenID {
		return nil, nil, false
	}
	return s.book, s.eng, true
}

// dispatchUserEvents routes WS user events (fills, order lifecycle) to the
// active session's strategy.Engine.
func (s *Session) dispatchUserEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case trade := <-s.usrFeed.TradeEvents():
			s.routeTrade(ctx, trade)
		case order := <-s.usrFeed.OrderEvents():
			s.routeOrder(order)
		}
	}
}

func (s *Session) routeTrade(ctx context.Context, trade types.WSTradeEvent) {
	s.mu.RLock()
	active, info, eng := s.active, s.info, s.eng
	s.mu.RUnlock()
	if !active || trade.Market != info.ConditionID {
		return
	}
	eng.HandleFill(ctx, trade)
	s.emitFillEvents(trade, info, eng)
}

func (s *Session) emitFillEvents(trade types.WSTradeEvent, info types.MarketInfo, eng *strategy.Engine) {
	if s.dashboardEvents == nil {
		return
	}
	snap := eng.Snapshot()
	for _, mo := range trade.MakerOrders {
		price, _ := parseFloatSafe(mo.Price)
		size, _ := parseFloatSafe(mo.MatchedAmount)
		s.emitDashboardEvent(api.DashboardEvent{
			Type:      "fill",
			Timestamp: time.Now(),
			MarketID:  info.ConditionID,
			Data:      api.NewFillEvent(mo.OrderID, "", mo.Outcome, price, size, info.Slug, snap.Ledger),
		})
	}
}

func parseFloatSafe(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%f", &f)
	return f, err
}

func (s *Session) routeOrder(order types.WSOrderEvent) {
	s.mu.RLock()
	active, info := s.active, s.info
	s.mu.RUnlock()
	if !active || order.Market != info.ConditionID {
		return
	}
	if s.dashboardEvents == nil {
		return
	}
	price, _ := parseFloatSafe(order.Price)
	size, _ := parseFloatSafe(order.OriginalSize)
	s.emitDashboardEvent(api.DashboardEvent{
		Type:      "order",
		Timestamp: time.Now(),
		MarketID:  info.ConditionID,
		Data:      api.NewOrderEvent(order.ID, order.Type, "", order.Outcome, price, size),
	})
}

func (s *Session) emitDashboardEvent(evt api.DashboardEvent) {
	if s.dashboardEvents == nil {
		return
	}
	select {
	case s.dashboardEvents <- evt:
	default:
		// Dashboard can't keep up, drop event.
	}
}

// DashboardEvents returns the dashboard event channel (nil if disabled).
func (s *Session) DashboardEvents() <-chan api.DashboardEvent {
	return s.dashboardEvents
}

// GetScanner returns the scanner for dashboard access.
func (s *Session) GetScanner() *market.Scanner {
	return s.scanner
}

// GetSafety returns the active market's safety guard, or nil if no session
// is currently running.
func (s *Session) GetSafety() *risk.Safety {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.active {
		return nil
	}
	return s.safety
}

// GetMarketStatus returns the active market's dashboard status, or nil if
// the scanner hasn't handed the session a market yet.
func (s *Session) GetMarketStatus() *api.MarketStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.active {
		return nil
	}

	info, book, eng := s.info, s.book, s.eng
	snap := eng.Snapshot()
	l := snap.Ledger

	yesBid, yesAsk, _ := book.BestBidAsk(types.OutcomeYes)
	noBid, noAsk, _ := book.BestBidAsk(types.OutcomeNo)

	deltaQ := l.QYes - l.QNo
	var combinedVWAP, potentialProfit float64
	if l.QYes > 0 && l.QNo > 0 {
		combinedVWAP = l.CYes/l.QYes + l.CNo/l.QNo
		lockable := l.QYes
		if l.QNo < lockable {
			lockable = l.QNo
		}
		if lockable > 0 && combinedVWAP < 1.0 {
			potentialProfit = lockable * (1.0 - combinedVWAP)
		}
	}

	var hedgeOutcome string
	if snap.HasHedge {
		hedgeOutcome = string(snap.HedgeOutcome)
	}

	return &api.MarketStatus{
		ConditionID: info.ConditionID,
		Slug:        info.Slug,
		Question:    info.Question,

		YesBestBid: yesBid,
		YesBestAsk: yesAsk,
		NoBestBid:  noBid,
		NoBestAsk:  noAsk,

		LastUpdated: book.LastUpdated(),
		IsStale:     book.IsStale(staleBookThreshold),

		Mode:         string(snap.Mode),
		HasTrapYes:   snap.HasTrapYes,
		HasTrapNo:    snap.HasTrapNo,
		HasHedge:     snap.HasHedge,
		HedgeOutcome: hedgeOutcome,

		QYes:            l.QYes,
		CYes:            l.CYes,
		QNo:             l.QNo,
		CNo:             l.CNo,
		DeltaQ:          deltaQ,
		CombinedVWAP:    combinedVWAP,
		PotentialProfit: potentialProfit,
		LockedProfit:    l.LockedProfit,
		LockedQuantity:  l.LockedQuantity,
		CompletedRounds: l.CompletedRounds,

		TickSize:  string(info.TickSize),
		EndDate:   info.EndDate,
		Liquidity: info.Liquidity,
		Volume24h: info.Volume24h,
	}
}
