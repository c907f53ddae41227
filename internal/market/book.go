// Package market provides local order book management and market discovery.
//
// Book mirrors the CLOB order book for a single binary market (YES + NO
// tokens). Each outcome's book is updated independently from the public
// market WebSocket channel, which delivers full-snapshot replacements (never
// diffs) keyed by asset ID. The Book is concurrency-safe (RWMutex protected)
// and exposes best-bid/ask and mid price per outcome for the strategy layer.
package market

import (
	"strconv"
	"sync"
	"time"

	"polymarket-mm/pkg/types"
)

// Book maintains a local mirror of the order book for one market, tracked
// independently per outcome.
type Book struct {
	mu       sync.RWMutex
	marketID string
	yesToken string
	noToken  string

	snapshots map[types.Outcome]types.OrderBookSnapshot
	updated   map[types.Outcome]time.Time
}

// NewBook creates a new local order book for a market.
func NewBook(marketID, yesToken, noToken string) *Book {
	return &Book{
		marketID:  marketID,
		yesToken:  yesToken,
		noToken:   noToken,
		snapshots: make(map[types.Outcome]types.OrderBookSnapshot),
		updated:   make(map[types.Outcome]time.Time),
	}
}

// outcomeForAsset maps a raw asset ID to the outcome it belongs to. Returns
// ("", false) if the asset ID matches neither configured token.
func (b *Book) outcomeForAsset(assetID string) (types.Outcome, bool) {
	switch assetID {
	case b.yesToken:
		return types.OutcomeYes, true
	case b.noToken:
		return types.OutcomeNo, true
	default:
		return "", false
	}
}

// ApplyBookEvent replaces the book for one outcome with a full snapshot, per
// the market stream's full-replacement contract (never a diff).
func (b *Book) ApplyBookEvent(event types.WSBookEvent) {
	b.applySnapshot(event.AssetID, event.Buys, event.Sells, event.Hash)
}

// ApplyBookResponse applies a REST API book response (initial load).
func (b *Book) ApplyBookResponse(resp *types.BookResponse) {
	b.applySnapshot(resp.AssetID, resp.Bids, resp.Asks, resp.Hash)
}

func (b *Book) applySnapshot(assetID string, bids, asks []types.PriceLevel, hash string) {
	outcome, ok := b.outcomeForAsset(assetID)
	if !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.snapshots[outcome] = types.OrderBookSnapshot{
		AssetID:   assetID,
		Bids:      bids,
		Asks:      asks,
		Hash:      hash,
		Timestamp: time.Now(),
	}
	b.updated[outcome] = time.Now()
}

// BestBidAsk returns the best bid and ask for the given outcome. ok is false
// if that outcome has no snapshot yet or either side of its book is empty.
func (b *Book) BestBidAsk(outcome types.Outcome) (bid, ask float64, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap, have := b.snapshots[outcome]
	if !have || len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return 0, 0, false
	}
	return parsePrice(snap.Bids[0].Price), parsePrice(snap.Asks[0].Price), true
}

// MidPrice returns (bestBid+bestAsk)/2 for the given outcome.
func (b *Book) MidPrice(outcome types.Outcome) (float64, bool) {
	bid, ask, ok := b.BestBidAsk(outcome)
	if !ok {
		return 0, false
	}
	if bid == 0 && ask == 0 {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// HasBoth reports whether both YES and NO have received at least one
// snapshot, the precondition for the strategy engine to evaluate trap/hedge
// pricing (step 2 of the tick sequence: "return if either outcome lacks a
// snapshot").
func (b *Book) HasBoth() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, yes := b.snapshots[types.OutcomeYes]
	_, no := b.snapshots[types.OutcomeNo]
	return yes && no
}

// IsStale returns true if either outcome has not been updated within maxAge,
// or has never received a snapshot.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, o := range [...]types.Outcome{types.OutcomeYes, types.OutcomeNo} {
		t, ok := b.updated[o]
		if !ok || time.Since(t) > maxAge {
			return true
		}
	}
	return false
}

// LastUpdated returns the timestamp of the last update to either outcome.
func (b *Book) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var latest time.Time
	for _, t := range b.updated {
		if t.After(latest) {
			latest = t
		}
	}
	return latest
}

func parsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
