// Package overreaction 捕捉一侧被砸穿后盘口失衡的机会：
// 冷门价低于天花板、热门价高于地板、且任一侧动量越阈，买入冷门侧。
package overreaction

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/strikebot/internal/domain"
	"github.com/betbot/strikebot/internal/engine"
	"github.com/betbot/strikebot/pkg/config"
)

const ID = "overreaction"

var log = logrus.WithField("strategy", ID)

// Strategy 过度反应策略，带 per-contract 冷却
type Strategy struct {
	cfg     config.OverreactionConfig
	staleMs int64

	mu       sync.Mutex
	lastFire map[string]time.Time // conditionId -> 上次触发时间
}

func New(cfg config.OverreactionConfig, staleDataThresholdMs int64) *Strategy {
	return &Strategy{
		cfg:      cfg,
		staleMs:  staleDataThresholdMs,
		lastFire: make(map[string]time.Time),
	}
}

func (s *Strategy) Name() string { return ID }

func (s *Strategy) TickInterval() time.Duration {
	return time.Duration(s.cfg.TickIntervalMs) * time.Millisecond
}

func (s *Strategy) Tick(ctx *engine.TickContext) *domain.Signal {
	cooldown := time.Duration(s.cfg.CooldownSeconds) * time.Second

	for _, c := range ctx.Contracts {
		if !c.ExpiryTs.After(ctx.Now) {
			continue
		}

		s.mu.Lock()
		last, fired := s.lastFire[c.ConditionID]
		s.mu.Unlock()
		if fired && ctx.Now.Sub(last) < cooldown {
			continue
		}

		yesBook, okYes := ctx.BookState(c.YesTokenID)
		noBook, okNo := ctx.BookState(c.NoTokenID)
		if !okYes || !okNo || yesBook.MidPrice <= 0 || noBook.MidPrice <= 0 {
			continue
		}
		if ctx.Now.UnixMilli()-yesBook.LastUpdateTs > s.staleMs ||
			ctx.Now.UnixMilli()-noBook.LastUpdateTs > s.staleMs {
			continue
		}

		underdogSide := domain.SideYes
		underdogToken, favoriteToken := c.YesTokenID, c.NoTokenID
		underdogPx, favoritePx := yesBook.MidPrice, noBook.MidPrice
		if noBook.MidPrice < yesBook.MidPrice {
			underdogSide = domain.SideNo
			underdogToken, favoriteToken = c.NoTokenID, c.YesTokenID
			underdogPx, favoritePx = noBook.MidPrice, yesBook.MidPrice
		}

		if underdogPx > s.cfg.UnderdogCeiling || favoritePx < s.cfg.FavoriteFloor {
			continue
		}

		// 任一侧的动量尖峰都算触发
		spiked := false
		if v, ok := ctx.Velocity(underdogToken, underdogPx); ok && math.Abs(v.VelocityPct) >= s.cfg.VelocityThresholdPct {
			spiked = true
		}
		if !spiked {
			if v, ok := ctx.Velocity(favoriteToken, favoritePx); ok && math.Abs(v.VelocityPct) >= s.cfg.VelocityThresholdPct {
				spiked = true
			}
		}
		if !spiked {
			continue
		}

		// 锁定价差：两侧合买成本低于 1 的部分
		lockedSpread := 1 - underdogPx - favoritePx
		if lockedSpread <= 0 {
			continue
		}

		s.mu.Lock()
		s.lastFire[c.ConditionID] = ctx.Now
		s.mu.Unlock()

		edgePct := lockedSpread * 100
		log.Debugf("spike cond=%s underdog=%s px=%.3f favorite=%.3f spread=%.2f%%",
			c.ConditionID, underdogSide, underdogPx, favoritePx, edgePct)

		return &domain.Signal{
			ConditionID:  c.ConditionID,
			TokenID:      underdogToken,
			Side:         underdogSide,
			Confidence:   math.Min(1.0, lockedSpread*10),
			EdgeBps:      int(edgePct * 100),
			ForecastProb: 1 - favoritePx,
			MarketPrice:  underdogPx,
			RefSpot:      ctx.Spot,
		}
	}
	return nil
}
