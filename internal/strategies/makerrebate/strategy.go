// Package makerrebate 临近到期时在大概率一侧挂 maker 单吃返佣：
// 模型概率足够确定时按 maker 模式报价，由执行层负责挂限价而不吃单。
package makerrebate

import (
	"math"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/strikebot/internal/domain"
	"github.com/betbot/strikebot/internal/engine"
	"github.com/betbot/strikebot/internal/pricing"
	"github.com/betbot/strikebot/pkg/config"
)

const ID = "makerrebate"

var log = logrus.WithField("strategy", ID)

type Strategy struct {
	cfg     config.MakerRebateConfig
	staleMs int64
}

func New(cfg config.MakerRebateConfig, staleDataThresholdMs int64) *Strategy {
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
	var bestConf float64

	for _, c := range ctx.Contracts {
		if !c.Priced() {
			continue
		}
		// 只做临近到期的窗口
		remain := c.SecondsToExpiry(ctx.Now)
		if remain <= 0 || remain > float64(s.cfg.MaxSecondsToExpiry) {
			continue
		}

		prob := pricing.ImpliedProbabilityAbove(ctx.Spot, c.StrikeUSD, c.ExpiryTs, ctx.Volatility, ctx.Now)

		// 选模型认为会赢的一侧
		side := domain.SideYes
		tokenID := c.YesTokenID
		winProb := prob
		if prob < 0.5 {
			side = domain.SideNo
			tokenID = c.NoTokenID
			winProb = 1 - prob
		}
		if winProb < s.cfg.MinConfidence {
			continue
		}

		book, ok := ctx.BookState(tokenID)
		if !ok || book.MidPrice <= 0 {
			// NO 侧盘口缺失时用 YES 盘口镜像
			if side == domain.SideNo {
				yb, okYes := ctx.BookState(c.YesTokenID)
				if !okYes || yb.MidPrice <= 0 {
					continue
				}
				book = domain.BookState{
					TokenID:      tokenID,
					MidPrice:     1 - yb.MidPrice,
					BestBid:      1 - yb.BestAsk,
					BestAsk:      1 - yb.BestBid,
					LastUpdateTs: yb.LastUpdateTs,
				}
			} else {
				continue
			}
		}
		if ctx.Now.UnixMilli()-book.LastUpdateTs > s.staleMs {
			continue
		}

		// 与盘口方向一致才挂：模型赢面 vs 市场价至少不倒挂
		if winProb <= book.MidPrice {
			continue
		}

		// 动量确认：选中一侧的价格不能正在反向走
		if v, okVel := ctx.Velocity(tokenID, book.MidPrice); okVel && v.VelocityPct < 0 {
			continue
		}

		if winProb <= bestConf {
			continue
		}
		bestConf = winProb

		// 边际只取模型赢面与市场价的差。成交概率和省下的 taker 费
		// 是经验估计，随 metadata 供复盘，不进 sizing
		edgePct := (winProb - book.MidPrice) * 100

		best = &domain.Signal{
			ConditionID:  c.ConditionID,
			TokenID:      tokenID,
			Side:         side,
			Confidence:   math.Min(1.0, winProb),
			EdgeBps:      int(edgePct * 100),
			ForecastProb: winProb,
			MarketPrice:  book.MidPrice,
			RefSpot:      ctx.Spot,
			Maker:        true,
			Metadata: map[string]string{
				"fill_probability": strconv.FormatFloat(s.cfg.FillProbability, 'f', 2, 64),
				"avoided_fee_bps":  strconv.Itoa(s.cfg.TakerFeeBps),
			},
		}
	}

	if best != nil {
		log.Debugf("maker cond=%s side=%s prob=%.4f px=%.4f",
			best.ConditionID, best.Side, best.ForecastProb, best.MarketPrice)
	}
	return best
}
