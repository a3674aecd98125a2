package domain

// BookState 单个 token 的订单簿一档状态，last-write-wins。
// LastUpdateTs == 0 表示从未收到该 token 的任何消息，应视为「不存在」而非「过期」。
type BookState struct {
	TokenID      string
	BestBid      float64
	BestAsk      float64
	MidPrice     float64
	BidSizeUSD   float64
	AskSizeUSD   float64
	LastUpdateTs int64 // 毫秒
}

// Spread 买卖价差（两侧都有报价时才有意义）
func (b BookState) Spread() float64 {
	if b.BestBid <= 0 || b.BestAsk <= 0 {
		return 0
	}
	return b.BestAsk - b.BestBid
}

// SpreadPct 价差相对中间价的百分比
func (b BookState) SpreadPct() float64 {
	if b.MidPrice <= 0 {
		return 0
	}
	return b.Spread() / b.MidPrice * 100
}
