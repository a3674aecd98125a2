// Package execution 把通过风控的信号变成一笔交易：
// paper 模式本地模拟成交，live 模式走 CLOB 签名下单。
package execution

import (
	"time"

	"github.com/google/uuid"

	"github.com/betbot/strikebot/internal/domain"
	"github.com/betbot/strikebot/pkg/logger"
)

// PaperExecutor 模拟执行：以信号里的市场价立刻"成交"
type PaperExecutor struct {
	now func() time.Time
}

func NewPaperExecutor() *PaperExecutor {
	return &PaperExecutor{now: time.Now}
}

func (p *PaperExecutor) Execute(signal *domain.Signal, sizeUSD float64) (*domain.Trade, error) {
	now := p.now()
	trade := &domain.Trade{
		ID:            uuid.NewString(),
		CreatedAt:     now,
		StrategyName:  signal.StrategyName,
		ConditionID:   signal.ConditionID,
		TokenID:       signal.TokenID,
		Side:          signal.Side,
		RefSpot:       signal.RefSpot,
		ContractPrice: signal.MarketPrice,
		ImpliedProb:   signal.ForecastProb,
		EdgePct:       signal.EdgePct(),
		SizeUSD:       sizeUSD,
		Status:        domain.TradeStatusPaper,
		FillPrice:     signal.MarketPrice,
	}
	logger.Infof("[execution] paper 成交 id=%s cond=%s side=%s px=%.4f size=%.2f",
		trade.ID, trade.ConditionID, trade.Side, trade.FillPrice, trade.SizeUSD)
	return trade, nil
}
