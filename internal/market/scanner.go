package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-mm/internal/config"
	"polymarket-mm/pkg/types"
)

// Scanner is the box-spread bot's market source. It polls the Gamma API and
// selects a single next market for the strategy session to trade: the
// nearest-expiring binary market that is accepting orders with at least
// MinSecondsLeft remaining.
//
// This replaces a wider multi-market ranking scanner: a box-spread session
// trades one short-duration market at a time, so there is no allocator to
// feed — only a "what's next" selection.

// GammaMarket is the JSON shape returned by the Gamma API.
type GammaMarket struct {
	ID                    string  `json:"id"`
	Question              string  `json:"question"`
	ConditionID           string  `json:"conditionId"`
	Slug                  string  `json:"slug"`
	Active                bool    `json:"active"`
	Closed                bool    `json:"closed"`
	AcceptingOrders       bool    `json:"acceptingOrders"`
	EnableOrderBook       bool    `json:"enableOrderBook"`
	EndDate               string  `json:"endDate"`
	Liquidity             string  `json:"liquidity"`
	Volume24hr            float64 `json:"volume24hr"`
	Outcomes              string  `json:"outcomes"`
	OutcomePrices         string  `json:"outcomePrices"`
	ClobTokenIds          string  `json:"clobTokenIds"`
	NegRisk               bool    `json:"negRisk"`
	Spread                float64 `json:"spread"`
	BestBid               float64 `json:"bestBid"`
	BestAsk               float64 `json:"bestAsk"`
	LastTradePrice        float64 `json:"lastTradePrice"`
	OrderPriceMinTickSize float64 `json:"orderPriceMinTickSize"`
	OrderMinSize          float64 `json:"orderMinSize"`
	RewardsMinSize        float64 `json:"rewardsMinSize"`
	RewardsMaxSpread      float64 `json:"rewardsMaxSpread"`
}

// Scanner polls the Gamma API for the next box-spread market to trade.
type Scanner struct {
	httpClient *resty.Client
	cfg        config.ScannerConfig
	logger     *slog.Logger
	resultCh   chan types.MarketInfo

	statsMu        sync.Mutex
	lastScanAt     time.Time
	lastCandidates int
}

// NewScanner creates a market source.
func NewScanner(cfg config.Config, logger *slog.Logger) *Scanner {
	client := resty.New().
		SetBaseURL(cfg.API.GammaBaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Scanner{
		httpClient: client,
		cfg:        cfg.Scanner,
		logger:     logger.With("component", "scanner"),
		resultCh:   make(chan types.MarketInfo, 1),
	}
}

// Results returns the channel the session reads the next selected market
// from. A later selection replaces a pending, unread one.
func (s *Scanner) Results() <-chan types.MarketInfo {
	return s.resultCh
}

// Run starts the polling loop. Blocks until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	s.scan(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

func (s *Scanner) scan(ctx context.Context) {
	markets, err := s.fetchMarkets(ctx)
	if err != nil {
		s.logger.Error("scan failed", "error", err)
		return
	}

	candidates := s.filterMarkets(markets)
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].endDate.Before(candidates[j].endDate)
	})

	s.logger.Info("scan complete", "total", len(markets), "candidates", len(candidates))

	s.statsMu.Lock()
	s.lastScanAt = time.Now()
	s.lastCandidates = len(candidates)
	s.statsMu.Unlock()

	if len(candidates) == 0 {
		return
	}
	next := convertToMarketInfo(candidates[0].market)

	select {
	case s.resultCh <- next:
	default:
		select {
		case <-s.resultCh:
		default:
		}
		s.resultCh <- next
	}
}

// Stats returns the time of the last completed scan and how many candidates
// it found, for the dashboard's scanner panel.
func (s *Scanner) Stats() (lastScanAt time.Time, candidates int) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.lastScanAt, s.lastCandidates
}

// HasPendingCandidate reports whether a selected market is waiting, unread,
// on Results(). Does not consume it.
func (s *Scanner) HasPendingCandidate() bool {
	return len(s.resultCh) > 0
}

type candidate struct {
	market  GammaMarket
	endDate time.Time
}

// filterMarkets narrows the Gamma catalog to markets eligible for a
// box-spread session: active, accepting orders, with a readable order book,
// sufficient liquidity/volume, not on the exclude list, and with at least
// MinSecondsLeft remaining before expiry.
func (s *Scanner) filterMarkets(markets []GammaMarket) []candidate {
	excluded := make(map[string]bool)
	for _, slug := range s.cfg.ExcludeSlugs {
		slug = strings.ToLower(strings.TrimSpace(slug))
		if slug != "" {
			excluded[slug] = true
		}
	}

	now := time.Now()
	minRemaining := time.Duration(s.cfg.MinSecondsLeft) * time.Second

	var result []candidate
	for _, m := range markets {
		if !m.Active || m.Closed || !m.AcceptingOrders || !m.EnableOrderBook {
			continue
		}
		if excluded[strings.ToLower(m.Slug)] {
			continue
		}
		if m.ClobTokenIds == "" {
			continue
		}

		liquidity, _ := strconv.ParseFloat(m.Liquidity, 64)
		if liquidity < s.cfg.MinLiquidity {
			continue
		}
		if m.Volume24hr < s.cfg.MinVolume24h {
			continue
		}

		if m.EndDate == "" {
			continue
		}
		endDate, err := time.Parse(time.RFC3339, m.EndDate)
		if err != nil {
			continue
		}
		if endDate.Sub(now) < minRemaining {
			continue
		}

		result = append(result, candidate{market: m, endDate: endDate})
	}

	return result
}

// convertToMarketInfo transforms a Gamma API response into the internal
// MarketInfo type used throughout the bot. It parses JSON-encoded token IDs,
// maps the numeric tick size to the TickSize enum, and converts string
// fields to their typed equivalents.
func convertToMarketInfo(gm GammaMarket) types.MarketInfo {
	liquidity, _ := strconv.ParseFloat(gm.Liquidity, 64)

	var tokenIDs []string
	if gm.ClobTokenIds != "" {
		var ids []string
		if err := parseJSONArray(gm.ClobTokenIds, &ids); err == nil {
			tokenIDs = ids
		}
	}

	var yesToken, noToken string
	if len(tokenIDs) >= 2 {
		yesToken = tokenIDs[0]
		noToken = tokenIDs[1]
	}

	var tickSize types.TickSize
	switch {
	case gm.OrderPriceMinTickSize == 0.1:
		tickSize = types.Tick01
	case gm.OrderPriceMinTickSize == 0.001:
		tickSize = types.Tick0001
	case gm.OrderPriceMinTickSize == 0.0001:
		tickSize = types.Tick00001
	default:
		tickSize = types.Tick001
	}

	endDate, _ := time.Parse(time.RFC3339, gm.EndDate)

	return types.MarketInfo{
		ID:               gm.ID,
		ConditionID:      gm.ConditionID,
		Slug:             gm.Slug,
		Question:         gm.Question,
		YesTokenID:       yesToken,
		NoTokenID:        noToken,
		TickSize:         tickSize,
		MinOrderSize:     gm.OrderMinSize,
		NegRisk:          gm.NegRisk,
		Active:           gm.Active,
		Closed:           gm.Closed,
		AcceptingOrders:  gm.AcceptingOrders,
		EndDate:          endDate,
		Liquidity:        liquidity,
		Volume24h:        gm.Volume24hr,
		BestBid:          gm.BestBid,
		BestAsk:          gm.BestAsk,
		Spread:           gm.Spread,
		LastTradePrice:   gm.LastTradePrice,
		RewardsMinSize:   gm.RewardsMinSize,
		RewardsMaxSpread: gm.RewardsMaxSpread,
	}
}

func (s *Scanner) fetchMarkets(ctx context.Context) ([]GammaMarket, error) {
	var allMarkets []GammaMarket
	offset := 0
	limit := 100

	for {
		var page []GammaMarket
		resp, err := s.httpClient.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"limit":  strconv.Itoa(limit),
				"offset": strconv.Itoa(offset),
				"active": "true",
				"closed": "false",
			}).
			SetResult(&page).
			Get("/markets")
		if err != nil {
			return nil, fmt.Errorf("fetch markets page %d: %w", offset, err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("fetch markets: status %d", resp.StatusCode())
		}

		allMarkets = append(allMarkets, page...)

		if len(page) < limit {
			break
		}
		offset += limit
	}

	return allMarkets, nil
}

// parseJSONArray parses a JSON array string into a string slice.
func parseJSONArray(s string, out *[]string) error {
	return json.Unmarshal([]byte(s), out)
}
