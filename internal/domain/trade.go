package domain

import "time"

// TradeStatus 交易生命周期
// paper 为终态；pending -> filled/rejected -> closed
type TradeStatus string

const (
	TradeStatusPaper    TradeStatus = "paper"
	TradeStatusPending  TradeStatus = "pending"
	TradeStatusFilled   TradeStatus = "filled"
	TradeStatusRejected TradeStatus = "rejected"
	TradeStatusClosed   TradeStatus = "closed"
)

// Trade 一笔已接受并记录的交易
type Trade struct {
	ID            string // 本地生成的 uuid，幂等插入的主键
	CreatedAt     time.Time
	StrategyName  string
	ConditionID   string
	TokenID       string
	Side          Side
	RefSpot       float64
	ContractPrice float64
	ImpliedProb   float64
	EdgePct       float64
	SizeUSD       float64
	Status        TradeStatus

	// 可空字段
	FillPrice  float64
	PnlUSD     float64
	OrderID    string
	ExitPrice  float64
	ExitReason string
	LatencyMs  int64
}

// SessionAggregate 单个交易日的聚合（UTC 日界，跨日重置而非累加）
type SessionAggregate struct {
	Date          string // YYYY-MM-DD (UTC)
	TradesCount   int
	WinCount      int
	TotalPnlUSD   float64
	AvgEdgePct    float64
	AvgLatencyMs  float64
	BankrollStart float64
	BankrollEnd   float64
}
