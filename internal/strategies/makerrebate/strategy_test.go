package makerrebate

import (
	"testing"
	"time"

	"github.com/betbot/strikebot/internal/domain"
	"github.com/betbot/strikebot/internal/engine"
	"github.com/betbot/strikebot/internal/pricing"
	"github.com/betbot/strikebot/pkg/config"
)

func testConfig() config.MakerRebateConfig {
	return config.MakerRebateConfig{
		TickIntervalMs:     1000,
		MaxSecondsToExpiry: 3600,
		MinConfidence:      0.80,
		FillProbability:    0.50,
		TakerFeeBps:        100,
	}
}

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

// 到期前 10 分钟、现货远高于行权价，模型赢面接近 1，挂 YES maker 单。
func TestTick_NearExpiryHighConfidence(t *testing.T) {
	now := time.Now()
	c := domain.ContractMeta{
		ConditionID: "cond-1", YesTokenID: "yes-1", NoTokenID: "no-1",
		StrikeUSD: 110000, ExpiryTs: now.Add(10 * time.Minute),
	}
	books := map[string]domain.BookState{
		"yes-1": {TokenID: "yes-1", MidPrice: 0.90, BestBid: 0.89, BestAsk: 0.91, LastUpdateTs: now.UnixMilli()},
	}
	s := New(testConfig(), 5000)

	sig := s.Tick(tickCtx(now, 115000, []domain.ContractMeta{c}, books))
	if sig == nil {
		t.Fatalf("expected maker signal")
	}
	if !sig.Maker {
		t.Fatalf("signal must be flagged maker")
	}
	if sig.Side != domain.SideYes {
		t.Fatalf("spot well above strike, expected YES, got %s", sig.Side)
	}
	if sig.ForecastProb < 0.80 {
		t.Fatalf("confidence floor violated: %.4f", sig.ForecastProb)
	}
	if sig.Metadata["fill_probability"] == "" || sig.Metadata["avoided_fee_bps"] == "" {
		t.Fatalf("maker economics must ride along in metadata: %+v", sig.Metadata)
	}
}

// 成交概率与省费估计只随 metadata 输出，不得抬高用于 sizing 的边际
func TestTick_EdgeExcludesMakerEconomics(t *testing.T) {
	now := time.Now()
	c := domain.ContractMeta{
		ConditionID: "cond-1", YesTokenID: "yes-1", NoTokenID: "no-1",
		StrikeUSD: 110000, ExpiryTs: now.Add(10 * time.Minute),
	}
	books := map[string]domain.BookState{
		"yes-1": {TokenID: "yes-1", MidPrice: 0.90, BestBid: 0.89, BestAsk: 0.91, LastUpdateTs: now.UnixMilli()},
	}
	s := New(testConfig(), 5000)

	sig := s.Tick(tickCtx(now, 115000, []domain.ContractMeta{c}, books))
	if sig == nil {
		t.Fatalf("expected maker signal")
	}
	want := int((sig.ForecastProb - sig.MarketPrice) * 100 * 100)
	if sig.EdgeBps != want {
		t.Fatalf("edge must be winProb-mid only: got %d bps, want %d", sig.EdgeBps, want)
	}
	if sig.Metadata["fill_probability"] != "0.50" || sig.Metadata["avoided_fee_bps"] != "100" {
		t.Fatalf("estimates belong in metadata: %+v", sig.Metadata)
	}
}

func TestTick_FarFromExpirySkipped(t *testing.T) {
	now := time.Now()
	c := domain.ContractMeta{
		ConditionID: "cond-1", YesTokenID: "yes-1", NoTokenID: "no-1",
		StrikeUSD: 110000, ExpiryTs: now.Add(48 * time.Hour),
	}
	books := map[string]domain.BookState{
		"yes-1": {TokenID: "yes-1", MidPrice: 0.90, LastUpdateTs: now.UnixMilli()},
	}
	s := New(testConfig(), 5000)

	if sig := s.Tick(tickCtx(now, 115000, []domain.ContractMeta{c}, books)); sig != nil {
		t.Fatalf("outside the near-expiry window must not fire")
	}
}

func TestTick_LowConfidenceSkipped(t *testing.T) {
	now := time.Now()
	c := domain.ContractMeta{
		ConditionID: "cond-1", YesTokenID: "yes-1", NoTokenID: "no-1",
		StrikeUSD: 110000, ExpiryTs: now.Add(30 * time.Minute),
	}
	books := map[string]domain.BookState{
		"yes-1": {TokenID: "yes-1", MidPrice: 0.50, LastUpdateTs: now.UnixMilli()},
	}
	s := New(testConfig(), 5000)

	// 现货贴着行权价，赢面约 0.5，远低于 0.80 的下限
	if sig := s.Tick(tickCtx(now, 110000, []domain.ContractMeta{c}, books)); sig != nil {
		t.Fatalf("coin-flip probability must not fire, got %+v", sig)
	}
}

// 现货远低于行权价时选 NO 侧，NO 盘口缺失时用 YES 盘口镜像。
func TestTick_NoSideWithMirroredBook(t *testing.T) {
	now := time.Now()
	c := domain.ContractMeta{
		ConditionID: "cond-1", YesTokenID: "yes-1", NoTokenID: "no-1",
		StrikeUSD: 110000, ExpiryTs: now.Add(10 * time.Minute),
	}
	books := map[string]domain.BookState{
		"yes-1": {TokenID: "yes-1", MidPrice: 0.10, BestBid: 0.09, BestAsk: 0.11, LastUpdateTs: now.UnixMilli()},
	}
	s := New(testConfig(), 5000)

	sig := s.Tick(tickCtx(now, 105000, []domain.ContractMeta{c}, books))
	if sig == nil {
		t.Fatalf("expected NO maker signal")
	}
	if sig.Side != domain.SideNo || sig.TokenID != "no-1" {
		t.Fatalf("expected NO side, got side=%s token=%s", sig.Side, sig.TokenID)
	}
	if sig.MarketPrice != 0.90 {
		t.Fatalf("mirrored NO mid expected 0.90, got %.2f", sig.MarketPrice)
	}
}

func TestTick_ExpiredSkipped(t *testing.T) {
	now := time.Now()
	c := domain.ContractMeta{
		ConditionID: "cond-1", YesTokenID: "yes-1", NoTokenID: "no-1",
		StrikeUSD: 110000, ExpiryTs: now.Add(-time.Minute),
	}
	s := New(testConfig(), 5000)
	if sig := s.Tick(tickCtx(now, 115000, []domain.ContractMeta{c}, nil)); sig != nil {
		t.Fatalf("expired contract must not fire")
	}
}
