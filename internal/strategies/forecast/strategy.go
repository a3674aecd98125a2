// Package forecast 消费外部价格预测服务：预测价对比市场中间价，
// 差距越阈才发信号。未配置 API key 时始终返回无信号（不是错误），
// 保持策略列表形状统一，引擎不对配置分支。
package forecast

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/strikebot/internal/domain"
	"github.com/betbot/strikebot/internal/engine"
	"github.com/betbot/strikebot/internal/pricing"
	"github.com/betbot/strikebot/pkg/config"
	sdkhttp "github.com/betbot/strikebot/pkg/sdk/http"
)

const ID = "forecast"

var log = logrus.WithField("strategy", ID)

// forecastResponse 外部预测服务响应
type forecastResponse struct {
	Symbol        string  `json:"symbol"`
	ForecastPrice float64 `json:"forecast_price"`
	HorizonHours  int     `json:"horizon_hours"`
}

// Strategy 外部预测策略。
// 为了不阻塞 tick（同步路径目标 <100ms），HTTP 拉取在后台刷新缓存，
// Tick 只读最近一次成功的预测值。
type Strategy struct {
	cfg     config.ForecastConfig
	staleMs int64
	client  *sdkhttp.Client

	mu          sync.Mutex
	cached      forecastResponse
	fetchedAt   time.Time
	refreshBusy bool
}

func New(cfg config.ForecastConfig, staleDataThresholdMs int64) *Strategy {
	s := &Strategy{cfg: cfg, staleMs: staleDataThresholdMs}
	if s.enabled() {
		s.client = sdkhttp.NewClient(cfg.APIURL, 10*time.Second)
	}
	return s
}

func (s *Strategy) Name() string { return ID }

func (s *Strategy) TickInterval() time.Duration {
	return time.Duration(s.cfg.TickIntervalMs) * time.Millisecond
}

func (s *Strategy) enabled() bool {
	return s.cfg.APIURL != "" && s.cfg.APIKey != ""
}

func (s *Strategy) Tick(ctx *engine.TickContext) *domain.Signal {
	if !s.enabled() {
		return nil
	}

	s.maybeRefresh()

	s.mu.Lock()
	forecast := s.cached
	fetchedAt := s.fetchedAt
	s.mu.Unlock()

	// 没有或过期的预测值就等下一轮
	if forecast.ForecastPrice <= 0 || time.Since(fetchedAt) > 2*s.TickInterval() {
		return nil
	}

	var best *domain.Signal
	var bestEdge float64

	for _, c := range ctx.Contracts {
		if !c.Priced() || !c.ExpiryTs.After(ctx.Now) {
			continue
		}
		book, ok := ctx.BookState(c.YesTokenID)
		if !ok || book.MidPrice <= 0 {
			continue
		}
		if ctx.Now.UnixMilli()-book.LastUpdateTs > s.staleMs {
			continue
		}

		// 用预测价作为 spot 输入模型，得到预测口径的 YES 概率
		prob := pricing.ImpliedProbabilityAbove(forecast.ForecastPrice, c.StrikeUSD, c.ExpiryTs, ctx.Volatility, ctx.Now)
		mid := book.MidPrice

		edgeYes := prob - mid
		edgeNo := mid - prob

		side := domain.SideYes
		tokenID := c.YesTokenID
		price := mid
		fprob := prob
		edge := edgeYes
		if edgeNo > edgeYes {
			side = domain.SideNo
			tokenID = c.NoTokenID
			price = 1 - mid
			fprob = 1 - prob
			edge = edgeNo
		}

		edgePct := edge * 100
		if edgePct < s.cfg.MinEdgePct || edgePct <= bestEdge {
			continue
		}

		bestEdge = edgePct
		best = &domain.Signal{
			ConditionID:  c.ConditionID,
			TokenID:      tokenID,
			Side:         side,
			Confidence:   math.Min(1.0, edgePct/(2*s.cfg.MinEdgePct)),
			EdgeBps:      int(edgePct * 100),
			ForecastProb: fprob,
			MarketPrice:  price,
			RefSpot:      ctx.Spot,
			Metadata: map[string]string{
				"forecast_price": formatFloat(forecast.ForecastPrice),
			},
		}
	}
	return best
}

// maybeRefresh 缓存过半周期就异步刷新一次，单飞
func (s *Strategy) maybeRefresh() {
	s.mu.Lock()
	stale := time.Since(s.fetchedAt) > s.TickInterval()/2
	if !stale || s.refreshBusy {
		s.mu.Unlock()
		return
	}
	s.refreshBusy = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.refreshBusy = false
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var resp forecastResponse
		err := s.client.Get(ctx, "/forecast", &sdkhttp.RequestOptions{
			Headers: map[string]string{"Authorization": "Bearer " + s.cfg.APIKey},
		}, &resp)
		if err != nil {
			log.Warnf("拉取预测失败: %v", err)
			return
		}
		if resp.ForecastPrice <= 0 {
			log.Warnf("预测响应非法: %+v", resp)
			return
		}

		s.mu.Lock()
		s.cached = resp
		s.fetchedAt = time.Now()
		s.mu.Unlock()
	}()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
