package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/betbot/strikebot/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTrade(id string) *domain.Trade {
	return &domain.Trade{
		ID:            id,
		CreatedAt:     time.Now().Truncate(time.Millisecond),
		StrategyName:  "fairvalue",
		ConditionID:   "cond-1",
		TokenID:       "yes-1",
		Side:          domain.SideYes,
		RefSpot:       111000,
		ContractPrice: 0.40,
		ImpliedProb:   0.57,
		EdgePct:       17,
		SizeUSD:       50,
		Status:        domain.TradeStatusPaper,
		FillPrice:     0.40,
		LatencyMs:     12,
	}
}

func TestSaveTrade_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	want := sampleTrade("a")

	if err := s.SaveTrade(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	trades, err := s.ListTrades(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("got %d trades", len(trades))
	}
	got := trades[0]
	if got.ID != want.ID || got.Side != want.Side || got.Status != want.Status {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.SizeUSD != want.SizeUSD || got.EdgePct != want.EdgePct {
		t.Fatalf("numeric fields mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("created_at mismatch: %v != %v", got.CreatedAt, want.CreatedAt)
	}
}

// 同 id 重复写入是覆盖而不是重复行（平仓更新走这条路径）
func TestSaveTrade_IdempotentUpsert(t *testing.T) {
	s := openTestStore(t)
	tr := sampleTrade("a")
	if err := s.SaveTrade(tr); err != nil {
		t.Fatalf("save: %v", err)
	}

	tr.Status = domain.TradeStatusClosed
	tr.ExitPrice = 0.60
	tr.PnlUSD = 25
	if err := s.SaveTrade(tr); err != nil {
		t.Fatalf("resave: %v", err)
	}

	trades, _ := s.ListTrades(10)
	if len(trades) != 1 {
		t.Fatalf("upsert must not duplicate, got %d rows", len(trades))
	}
	if trades[0].Status != domain.TradeStatusClosed || trades[0].PnlUSD != 25 {
		t.Fatalf("updated fields lost: %+v", trades[0])
	}
}

func TestUpsertSession_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	agg := &domain.SessionAggregate{
		Date: "2026-03-01", TradesCount: 3, WinCount: 2,
		TotalPnlUSD: 42.5, AvgEdgePct: 12, AvgLatencyMs: 15,
		BankrollStart: 1000, BankrollEnd: 1042.5,
	}
	if err := s.UpsertSession(agg); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetSession("2026-03-01")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || *got != *agg {
		t.Fatalf("session mismatch: %+v", got)
	}

	agg.TradesCount = 4
	if err := s.UpsertSession(agg); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, _ = s.GetSession("2026-03-01")
	if got.TradesCount != 4 {
		t.Fatalf("upsert must overwrite: %+v", got)
	}
}

func TestGetSession_Missing(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetSession("1999-01-01")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("missing session must be nil, got %+v", got)
	}
}
