// Package engine 驱动一组独立调度的检测策略。
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/betbot/strikebot/internal/domain"
	"github.com/betbot/strikebot/internal/pricing"
	"github.com/betbot/strikebot/pkg/logger"
)

// SnapshotProvider 为每次 tick 提供数据快照的依赖集合
type SnapshotProvider struct {
	Spot       func() (price float64, ts time.Time)
	Volatility func() float64 // 返回已钳制的值
	Contracts  func() []domain.ContractMeta
	BookState  func(tokenID string) (domain.BookState, bool)
	Velocity   func(tokenID string, currentPrice float64) (pricing.Velocity, bool)
}

// SignalSink 消费策略信号（风控 gate 实现它）
type SignalSink interface {
	Process(signal *domain.Signal)
}

// Engine 每个启用的策略一个独立定时器，各自按自己的周期 tick。
// 策略异常只记录，不会传播到其他策略。
type Engine struct {
	strategies []Strategy
	provider   SnapshotProvider
	sink       SignalSink

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建引擎。策略列表在启动时装配完成，运行期不变。
func New(strategies []Strategy, provider SnapshotProvider, sink SignalSink) *Engine {
	return &Engine{
		strategies: strategies,
		provider:   provider,
		sink:       sink,
	}
}

// Start 为每个策略启动定时循环
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	for _, s := range e.strategies {
		e.wg.Add(1)
		go e.runStrategy(ctx, s)
		logger.Infof("[engine] 策略已启动: %s 周期=%s", s.Name(), s.TickInterval())
	}
}

// Stop 停止所有定时器并等待在途 tick 结束
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Engine) runStrategy(ctx context.Context, s Strategy) {
	defer e.wg.Done()

	ticker := time.NewTicker(s.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tickOne(s)
		}
	}
}

// tickOne 执行单个策略的一次 tick，异常兜底
func (e *Engine) tickOne(s Strategy) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[engine] 策略 %s panic 已捕获: %v", s.Name(), r)
		}
	}()

	tc := e.buildContext()
	if tc == nil {
		// 没有已发现的合约，本次 tick 整体跳过
		return
	}

	signal := s.Tick(tc)
	if signal == nil {
		return
	}
	signal.StrategyName = s.Name()
	e.sink.Process(signal)
}

func (e *Engine) buildContext() *TickContext {
	contracts := e.provider.Contracts()
	if len(contracts) == 0 {
		return nil
	}
	spot, spotTs := e.provider.Spot()
	return &TickContext{
		Spot:       spot,
		SpotTs:     spotTs,
		Volatility: e.provider.Volatility(),
		Contracts:  contracts,
		Now:        time.Now(),
		BookState:  e.provider.BookState,
		Velocity:   e.provider.Velocity,
	}
}
