// Package ledger 会话台账：当日成交明细与聚合，UTC 日界重置。
// 持久化失败只记日志，台账本身永远可用。
package ledger

import (
	"sync"
	"time"

	"github.com/betbot/strikebot/internal/domain"
	"github.com/betbot/strikebot/pkg/logger"
)

// TradeStore 持久化后端（sqlite 实现，可为 nil 表示纯内存）
type TradeStore interface {
	SaveTrade(trade *domain.Trade) error
	UpsertSession(agg *domain.SessionAggregate) error
}

// Ledger 当日会话状态。RecordTrade 满足 risk.Recorder。
type Ledger struct {
	store       TradeStore
	bankrollUSD float64
	now         func() time.Time

	mu     sync.Mutex
	date   string // UTC YYYY-MM-DD
	trades map[string]*domain.Trade
	agg    domain.SessionAggregate

	sumEdgePct   float64
	sumLatencyMs int64
}

func New(store TradeStore, bankrollUSD float64) *Ledger {
	return &Ledger{
		store:       store,
		bankrollUSD: bankrollUSD,
		now:         time.Now,
		trades:      make(map[string]*domain.Trade),
	}
}

// RecordTrade 记录一笔已执行的交易
func (l *Ledger) RecordTrade(trade *domain.Trade) {
	l.mu.Lock()
	l.rolloverLocked(l.now())

	cp := *trade
	l.trades[cp.ID] = &cp

	l.agg.TradesCount++
	l.sumEdgePct += cp.EdgePct
	l.sumLatencyMs += cp.LatencyMs
	l.agg.AvgEdgePct = l.sumEdgePct / float64(l.agg.TradesCount)
	l.agg.AvgLatencyMs = float64(l.sumLatencyMs) / float64(l.agg.TradesCount)
	agg := l.agg
	l.mu.Unlock()

	l.persistTrade(&cp)
	l.persistSession(&agg)
}

// CloseTrade 结算一笔交易，返回盈亏（找不到时 ok=false）
func (l *Ledger) CloseTrade(tradeID string, exitPrice float64, reason string) (pnlUSD float64, ok bool) {
	l.mu.Lock()
	trade, found := l.trades[tradeID]
	if !found || trade.Status == domain.TradeStatusClosed {
		l.mu.Unlock()
		return 0, false
	}

	entry := trade.FillPrice
	if entry <= 0 {
		entry = trade.ContractPrice
	}
	if entry > 0 {
		pnlUSD = trade.SizeUSD * (exitPrice - entry) / entry
	}

	trade.Status = domain.TradeStatusClosed
	trade.ExitPrice = exitPrice
	trade.ExitReason = reason
	trade.PnlUSD = pnlUSD

	l.agg.TotalPnlUSD += pnlUSD
	if pnlUSD > 0 {
		l.agg.WinCount++
	}
	l.agg.BankrollEnd = l.agg.BankrollStart + l.agg.TotalPnlUSD

	cp := *trade
	agg := l.agg
	l.mu.Unlock()

	l.persistTrade(&cp)
	l.persistSession(&agg)
	logger.Infof("[ledger] 平仓 id=%s exit=%.4f pnl=%.2f reason=%s", tradeID, exitPrice, pnlUSD, reason)
	return pnlUSD, true
}

// Snapshot 当日聚合快照
func (l *Ledger) Snapshot() domain.SessionAggregate {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked(l.now())
	return l.agg
}

// OpenTrades 当日未平仓交易的副本
func (l *Ledger) OpenTrades() []domain.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Trade, 0, len(l.trades))
	for _, t := range l.trades {
		if t.Status != domain.TradeStatusClosed && t.Status != domain.TradeStatusRejected {
			out = append(out, *t)
		}
	}
	return out
}

// rolloverLocked UTC 日切换时开新会话，调用方持锁
func (l *Ledger) rolloverLocked(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if day == l.date {
		return
	}
	if l.date != "" {
		logger.Infof("[ledger] 会话日切换 %s -> %s", l.date, day)
		// 旧日聚合最后落一次库
		agg := l.agg
		go l.persistSession(&agg)
	}
	bankroll := l.bankrollUSD
	if l.agg.BankrollEnd > 0 {
		bankroll = l.agg.BankrollEnd
	}
	l.date = day
	l.trades = make(map[string]*domain.Trade)
	l.sumEdgePct = 0
	l.sumLatencyMs = 0
	l.agg = domain.SessionAggregate{
		Date:          day,
		BankrollStart: bankroll,
		BankrollEnd:   bankroll,
	}
}

func (l *Ledger) persistTrade(trade *domain.Trade) {
	if l.store == nil {
		return
	}
	if err := l.store.SaveTrade(trade); err != nil {
		logger.Errorf("[ledger] 落库失败 trade=%s: %v", trade.ID, err)
	}
}

func (l *Ledger) persistSession(agg *domain.SessionAggregate) {
	if l.store == nil {
		return
	}
	if err := l.store.UpsertSession(agg); err != nil {
		logger.Errorf("[ledger] 会话落库失败 date=%s: %v", agg.Date, err)
	}
}
