// Package fairvalue 比较模型隐含概率与市场中间价，吃足够大的偏离。
package fairvalue

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/strikebot/internal/domain"
	"github.com/betbot/strikebot/internal/engine"
	"github.com/betbot/strikebot/internal/pricing"
	"github.com/betbot/strikebot/pkg/config"
)

const ID = "fairvalue"

var log = logrus.WithField("strategy", ID)

// Strategy 公允价值策略。
// 只处理带行权价的合约；每次 tick 在全部合约里挑边际最大的一个发信号。
type Strategy struct {
	cfg       config.FairValueConfig
	staleMs   int64
}

func New(cfg config.FairValueConfig, staleDataThresholdMs int64) *Strategy {
	return &Strategy{cfg: cfg, staleMs: staleDataThresholdMs}
}

func (s *Strategy) Name() string { return ID }

func (s *Strategy) TickInterval() time.Duration {
	return time.Duration(s.cfg.TickIntervalMs) * time.Millisecond
}

func (s *Strategy) Tick(ctx *engine.TickContext) *domain.Signal {
	if ctx.Spot <= 0 {
		return nil
	}

	var best *domain.Signal
	var bestEdge float64

	for _, c := range ctx.Contracts {
		// 无行权价的市场不可模型定价
		if !c.Priced() {
			continue
		}
		if !c.ExpiryTs.After(ctx.Now) {
			continue
		}

		book, ok := ctx.BookState(c.YesTokenID)
		if !ok || book.MidPrice <= 0 {
			continue
		}
		if ctx.Now.UnixMilli()-book.LastUpdateTs > s.staleMs {
			continue
		}

		prob := pricing.ImpliedProbabilityAbove(ctx.Spot, c.StrikeUSD, c.ExpiryTs, ctx.Volatility, ctx.Now)
		mid := book.MidPrice

		edgeYes := prob - mid
		edgeNo := mid - prob

		side := domain.SideYes
		tokenID := c.YesTokenID
		price := mid
		forecast := prob
		edge := edgeYes
		if edgeNo > edgeYes {
			side = domain.SideNo
			tokenID = c.NoTokenID
			edge = edgeNo
			forecast = 1 - prob
			// NO token 有自己的盘口时用它，否则用镜像价
			if nb, ok := ctx.BookState(c.NoTokenID); ok && nb.MidPrice > 0 {
				price = nb.MidPrice
			} else {
				price = 1 - mid
			}
		}

		edgePct := edge * 100
		if edgePct < s.cfg.MinEdgePct {
			continue
		}
		if edgePct <= bestEdge {
			continue
		}

		confidence := math.Min(1.0, edgePct/(2*s.cfg.MinEdgePct))
		bestEdge = edgePct
		best = &domain.Signal{
			ConditionID:  c.ConditionID,
			TokenID:      tokenID,
			Side:         side,
			Confidence:   confidence,
			EdgeBps:      int(edgePct * 100),
			ForecastProb: forecast,
			MarketPrice:  price,
			RefSpot:      ctx.Spot,
		}
	}

	if best != nil {
		log.Debugf("edge=%.2f%% cond=%s side=%s prob=%.4f px=%.4f",
			bestEdge, best.ConditionID, best.Side, best.ForecastProb, best.MarketPrice)
	}
	return best
}
