package domain

// Side 买入方向（YES / NO token）
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Signal 策略在一次 tick 中产出的交易信号（不可变，由 gate 消费一次）
type Signal struct {
	StrategyName string
	ConditionID  string
	TokenID      string
	Side         Side
	Confidence   float64 // [0,1]
	EdgeBps      int     // 模型价与市场价的差距（基点）
	ForecastProb float64 // [0,1] 模型/外部预测的 YES 概率
	MarketPrice  float64 // 观测到的市场价（0-1）
	RefSpot      float64 // 信号产生时的参考价
	Maker        bool    // 是否建议被动（maker）挂单
	Metadata     map[string]string
}

// EdgePct 边际（百分点）
func (s Signal) EdgePct() float64 {
	return float64(s.EdgeBps) / 100
}
