package engine

import (
	"time"

	"github.com/betbot/strikebot/internal/domain"
	"github.com/betbot/strikebot/internal/pricing"
)

// TickContext 每次策略 tick 时新建的只读快照。
// 策略不持有任何共享组件的引用，只读取这里的值。
// 注意：参考价与订单簿是各自 last-write-wins 的，两者之间没有时序保证，
// 策略必须独立做各自的过期检查。
type TickContext struct {
	Spot       float64 // 参考价（mid）
	SpotTs     time.Time
	Volatility float64 // 已钳制的年化波动率
	Contracts  []domain.ContractMeta
	Now        time.Time

	// BookState 按 tokenId 查询订单簿一档；从未观测过的 token 返回 false
	BookState func(tokenID string) (domain.BookState, bool)

	// Velocity 按 tokenId 查询窗口动量；样本不足返回 false
	Velocity func(tokenID string, currentPrice float64) (pricing.Velocity, bool)
}

// Strategy 策略契约。
// 每个策略有自己的 tick 周期；一次 tick 最多产生一个 Signal。
// Tick 必须是同步短路径（目标 <100ms），不做网络调用。
type Strategy interface {
	Name() string
	TickInterval() time.Duration
	Tick(ctx *TickContext) *domain.Signal
}
