package fairvalue

import (
	"testing"
	"time"

	"github.com/betbot/strikebot/internal/domain"
	"github.com/betbot/strikebot/internal/engine"
	"github.com/betbot/strikebot/internal/pricing"
	"github.com/betbot/strikebot/pkg/config"
)

func tickCtx(now time.Time, spot float64, contracts []domain.ContractMeta, books map[string]domain.BookState) *engine.TickContext {
	return &engine.TickContext{
		Spot:       spot,
		SpotTs:     now,
		Volatility: 0.3,
		Contracts:  contracts,
		Now:        now,
		BookState: func(tokenID string) (domain.BookState, bool) {
			b, ok := books[tokenID]
			return b, ok
		},
		Velocity: func(string, float64) (pricing.Velocity, bool) {
			return pricing.Velocity{}, false
		},
	}
}

func freshBook(tokenID string, mid float64, now time.Time) domain.BookState {
	return domain.BookState{
		TokenID:      tokenID,
		BestBid:      mid - 0.01,
		BestAsk:      mid + 0.01,
		MidPrice:     mid,
		BidSizeUSD:   500,
		AskSizeUSD:   500,
		LastUpdateTs: now.UnixMilli(),
	}
}

// 现货 111000 行权 110000 七天到期 30% 波动率下模型概率约 0.57，
// 市场中间价 0.40 明显偏低，应给出 YES 信号。
func TestTick_UnderpricedYes(t *testing.T) {
	now := time.Now()
	c := domain.ContractMeta{
		ConditionID: "cond-1",
		YesTokenID:  "yes-1",
		NoTokenID:   "no-1",
		StrikeUSD:   110000,
		ExpiryTs:    now.Add(7 * 24 * time.Hour),
	}
	books := map[string]domain.BookState{
		"yes-1": freshBook("yes-1", 0.40, now),
	}
	s := New(config.FairValueConfig{TickIntervalMs: 500, MinEdgePct: 5}, 5000)

	sig := s.Tick(tickCtx(now, 111000, []domain.ContractMeta{c}, books))
	if sig == nil {
		t.Fatalf("expected a signal")
	}
	if sig.Side != domain.SideYes {
		t.Fatalf("expected YES, got %s", sig.Side)
	}
	if sig.ForecastProb <= 0.5 {
		t.Fatalf("model probability should exceed 0.5, got %.4f", sig.ForecastProb)
	}
	if sig.EdgePct() < 5 {
		t.Fatalf("edge below threshold should not fire: %.2f", sig.EdgePct())
	}
	if sig.MarketPrice != 0.40 {
		t.Fatalf("market price = %.2f", sig.MarketPrice)
	}
}

func TestTick_OverpricedGivesNo(t *testing.T) {
	now := time.Now()
	c := domain.ContractMeta{
		ConditionID: "cond-1",
		YesTokenID:  "yes-1",
		NoTokenID:   "no-1",
		StrikeUSD:   110000,
		ExpiryTs:    now.Add(7 * 24 * time.Hour),
	}
	// 模型约 0.57，市场 0.85，NO 侧有边际
	books := map[string]domain.BookState{
		"yes-1": freshBook("yes-1", 0.85, now),
	}
	s := New(config.FairValueConfig{TickIntervalMs: 500, MinEdgePct: 5}, 5000)

	sig := s.Tick(tickCtx(now, 111000, []domain.ContractMeta{c}, books))
	if sig == nil {
		t.Fatalf("expected a NO signal")
	}
	if sig.Side != domain.SideNo {
		t.Fatalf("expected NO, got %s", sig.Side)
	}
	if sig.TokenID != "no-1" {
		t.Fatalf("signal must target NO token")
	}
	// 无独立 NO 盘口时用镜像价
	if sig.MarketPrice != 1-0.85 {
		t.Fatalf("mirrored NO price expected, got %.2f", sig.MarketPrice)
	}
}

func TestTick_SmallEdgeIgnored(t *testing.T) {
	now := time.Now()
	c := domain.ContractMeta{
		ConditionID: "cond-1",
		YesTokenID:  "yes-1",
		NoTokenID:   "no-1",
		StrikeUSD:   110000,
		ExpiryTs:    now.Add(7 * 24 * time.Hour),
	}
	prob := pricing.ImpliedProbabilityAbove(111000, 110000, c.ExpiryTs, 0.3, now)
	books := map[string]domain.BookState{
		"yes-1": freshBook("yes-1", prob-0.01, now), // 1 个百分点的偏离
	}
	s := New(config.FairValueConfig{TickIntervalMs: 500, MinEdgePct: 5}, 5000)

	if sig := s.Tick(tickCtx(now, 111000, []domain.ContractMeta{c}, books)); sig != nil {
		t.Fatalf("1pp edge below 5pp threshold must not fire")
	}
}

func TestTick_SkipsStaleAndUnpriced(t *testing.T) {
	now := time.Now()
	stale := domain.ContractMeta{
		ConditionID: "stale", YesTokenID: "yes-s", NoTokenID: "no-s",
		StrikeUSD: 110000, ExpiryTs: now.Add(24 * time.Hour),
	}
	unpriced := domain.ContractMeta{
		ConditionID: "generic", YesTokenID: "yes-g", NoTokenID: "no-g",
		StrikeUSD: 0, ExpiryTs: now.Add(24 * time.Hour),
	}
	staleBook := freshBook("yes-s", 0.40, now)
	staleBook.LastUpdateTs = now.Add(-time.Minute).UnixMilli()
	books := map[string]domain.BookState{
		"yes-s": staleBook,
		"yes-g": freshBook("yes-g", 0.40, now),
	}
	s := New(config.FairValueConfig{TickIntervalMs: 500, MinEdgePct: 5}, 5000)

	if sig := s.Tick(tickCtx(now, 111000, []domain.ContractMeta{stale, unpriced}, books)); sig != nil {
		t.Fatalf("stale book and unpriced contract must both be skipped")
	}
}

func TestTick_PicksLargestEdge(t *testing.T) {
	now := time.Now()
	small := domain.ContractMeta{
		ConditionID: "small", YesTokenID: "yes-a", NoTokenID: "no-a",
		StrikeUSD: 110000, ExpiryTs: now.Add(7 * 24 * time.Hour),
	}
	big := domain.ContractMeta{
		ConditionID: "big", YesTokenID: "yes-b", NoTokenID: "no-b",
		StrikeUSD: 110000, ExpiryTs: now.Add(7 * 24 * time.Hour),
	}
	books := map[string]domain.BookState{
		"yes-a": freshBook("yes-a", 0.45, now),
		"yes-b": freshBook("yes-b", 0.30, now),
	}
	s := New(config.FairValueConfig{TickIntervalMs: 500, MinEdgePct: 5}, 5000)

	sig := s.Tick(tickCtx(now, 111000, []domain.ContractMeta{small, big}, books))
	if sig == nil || sig.ConditionID != "big" {
		t.Fatalf("must pick the contract with the largest edge, got %+v", sig)
	}
}

func TestTick_NoSpotNoSignal(t *testing.T) {
	now := time.Now()
	s := New(config.FairValueConfig{TickIntervalMs: 500, MinEdgePct: 5}, 5000)
	if sig := s.Tick(tickCtx(now, 0, []domain.ContractMeta{{ConditionID: "c"}}, nil)); sig != nil {
		t.Fatalf("no reference price yet, no signal")
	}
}
