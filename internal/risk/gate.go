// Package risk 把策略信号过一遍风控闸门：冷却、日内限额、熔断、
// 盘口质量，全部通过后按分数 Kelly 定出仓位再交给执行层。
package risk

import (
	"math"
	"sync"
	"time"

	"github.com/betbot/strikebot/internal/domain"
	"github.com/betbot/strikebot/pkg/config"
	"github.com/betbot/strikebot/pkg/logger"
)

// Executor 执行层抽象（paper / live）
type Executor interface {
	Execute(signal *domain.Signal, sizeUSD float64) (*domain.Trade, error)
}

// Recorder 记录通过闸门并执行成功的交易（ledger 实现）
type Recorder interface {
	RecordTrade(trade *domain.Trade)
}

// BookLookup 盘口质量检查用
type BookLookup func(tokenID string) (domain.BookState, bool)

// Gate 风控闸门。所有计数按 UTC 自然日维护，跨日自动归零。
type Gate struct {
	cfg      config.EngineConfig
	executor Executor
	recorder Recorder
	books    BookLookup
	now      func() time.Time // 测试替换

	mu                sync.Mutex
	paused            bool
	day               string // UTC 日期 YYYY-MM-DD
	tradesToday       int
	consecutiveLosses int
	dailyPnlUSD       float64
	lastTrade         map[string]time.Time // conditionId|side -> 上次成交时间
}

func NewGate(cfg config.EngineConfig, executor Executor, recorder Recorder, books BookLookup) *Gate {
	return &Gate{
		cfg:       cfg,
		executor:  executor,
		recorder:  recorder,
		books:     books,
		now:       time.Now,
		lastTrade: make(map[string]time.Time),
	}
}

// Pause 暂停接收新信号（在途不受影响）
func (g *Gate) Pause() {
	g.mu.Lock()
	g.paused = true
	g.mu.Unlock()
	logger.Warn("[risk] 已暂停，新信号将被丢弃")
}

// Resume 恢复
func (g *Gate) Resume() {
	g.mu.Lock()
	g.paused = false
	g.mu.Unlock()
	logger.Info("[risk] 已恢复")
}

// Status 当日计数快照
type Status struct {
	Paused            bool
	TradesToday       int
	ConsecutiveLosses int
	DailyPnlUSD       float64
}

func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked(g.now())
	return Status{
		Paused:            g.paused,
		TradesToday:       g.tradesToday,
		ConsecutiveLosses: g.consecutiveLosses,
		DailyPnlUSD:       g.dailyPnlUSD,
	}
}

// Process 实现 engine.SignalSink。拒绝只记日志，永不报错给引擎。
func (g *Gate) Process(signal *domain.Signal) {
	now := g.now()
	key := signal.ConditionID + "|" + string(signal.Side)

	g.mu.Lock()
	if g.paused {
		g.mu.Unlock()
		logger.Debugf("[risk] 已暂停，丢弃 %s 信号", signal.StrategyName)
		return
	}

	// 冷却：同合约同方向在窗口内只进一次
	cooldown := time.Duration(g.cfg.CooldownSeconds) * time.Second
	if last, ok := g.lastTrade[key]; ok && now.Sub(last) < cooldown {
		g.mu.Unlock()
		logger.Debugf("[risk] 冷却中 %s 剩余=%s", key, cooldown-now.Sub(last))
		return
	}

	// UTC 日切换先归零，再做当日限额判断
	g.rolloverLocked(now)

	if g.tradesToday >= g.cfg.MaxDailyTrades {
		g.mu.Unlock()
		logger.Warnf("[risk] 当日交易数已达上限 %d，拒绝 %s", g.cfg.MaxDailyTrades, signal.StrategyName)
		return
	}

	// 熔断：连亏 / 当日回撤，任一触发则到日切前不再开仓
	if g.consecutiveLosses >= g.cfg.MaxConsecutiveLosses {
		g.mu.Unlock()
		logger.Warnf("[risk] 连亏 %d 笔触发熔断", g.consecutiveLosses)
		return
	}
	maxDrawdown := g.cfg.BankrollUSD * g.cfg.MaxDailyDrawdownPct / 100
	if g.dailyPnlUSD <= -maxDrawdown {
		g.mu.Unlock()
		logger.Warnf("[risk] 当日回撤 %.2f 触发熔断（上限 %.2f）", -g.dailyPnlUSD, maxDrawdown)
		return
	}

	// 占位：计数与冷却在锁内先行推进，并发信号不会一起越过上限。
	// 后面任何一步失败都回滚，保持"失败不推进计数"。
	g.tradesToday++
	g.lastTrade[key] = now
	g.mu.Unlock()

	release := func() {
		g.mu.Lock()
		if g.tradesToday > 0 {
			g.tradesToday--
		}
		delete(g.lastTrade, key)
		g.mu.Unlock()
	}

	// 盘口质量：新鲜度、价差、流动性
	if !g.marketQualityOK(signal, now) {
		release()
		return
	}

	sizeUSD := g.positionSize(signal)
	if sizeUSD < g.cfg.MinNotionalUSD {
		logger.Debugf("[risk] 仓位 %.2f 低于最小名义 %.2f，放弃", sizeUSD, g.cfg.MinNotionalUSD)
		release()
		return
	}

	trade, err := g.executor.Execute(signal, sizeUSD)
	if err != nil {
		// 执行失败不推进计数，同一信号源下轮还能再试
		logger.Errorf("[risk] 执行失败: %v", err)
		release()
		return
	}

	if g.recorder != nil {
		g.recorder.RecordTrade(trade)
	}
	logger.Infof("[risk] 成交 strategy=%s cond=%s side=%s size=%.2f edge=%.2f%%",
		signal.StrategyName, signal.ConditionID, signal.Side, sizeUSD, signal.EdgePct())
}

// OnTradeClosed 交易结算后回报盈亏，驱动熔断计数
func (g *Gate) OnTradeClosed(pnlUSD float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked(g.now())
	g.dailyPnlUSD += pnlUSD
	if pnlUSD < 0 {
		g.consecutiveLosses++
	} else if pnlUSD > 0 {
		g.consecutiveLosses = 0
	}
}

func (g *Gate) marketQualityOK(signal *domain.Signal, now time.Time) bool {
	book, ok := g.books(signal.TokenID)
	if !ok || book.LastUpdateTs == 0 {
		logger.Debugf("[risk] 无盘口 token=%s", signal.TokenID)
		return false
	}
	if now.UnixMilli()-book.LastUpdateTs > g.cfg.StaleDataThresholdMs {
		logger.Debugf("[risk] 盘口过期 token=%s age=%dms", signal.TokenID, now.UnixMilli()-book.LastUpdateTs)
		return false
	}
	if book.SpreadPct() > g.cfg.MaxSpreadPct {
		logger.Debugf("[risk] 价差过宽 %.2f%% > %.2f%%", book.SpreadPct(), g.cfg.MaxSpreadPct)
		return false
	}
	if book.BidSizeUSD+book.AskSizeUSD < g.cfg.MinLiquidityUSD {
		logger.Debugf("[risk] 流动性不足 %.2f < %.2f", book.BidSizeUSD+book.AskSizeUSD, g.cfg.MinLiquidityUSD)
		return false
	}
	return true
}

// positionSize 分数 Kelly：f* = edge / price，乘系数后双重封顶。
// price 即买入成本（0-1 概率价），价格越低同样的边际下注越大。
func (g *Gate) positionSize(signal *domain.Signal) float64 {
	price := math.Max(signal.MarketPrice, 1e-6)
	if price >= 1 {
		return 0
	}
	edge := signal.EdgePct() / 100
	if edge <= 0 {
		return 0
	}
	fStar := edge / price

	fClamped := math.Min(g.cfg.KellyCapFraction, g.cfg.KellyMultiplier*fStar)
	return math.Min(g.cfg.MaxPositionUSD, g.cfg.BankrollUSD*fClamped)
}

// rolloverLocked UTC 日切换时清空当日计数与熔断状态，调用方持锁
func (g *Gate) rolloverLocked(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if day == g.day {
		return
	}
	if g.day != "" {
		logger.Infof("[risk] UTC 日切换 %s -> %s，计数归零", g.day, day)
	}
	g.day = day
	g.tradesToday = 0
	g.consecutiveLosses = 0
	g.dailyPnlUSD = 0
}
