// Package discovery 周期性地从 Gamma API 拉取市场元数据，
// 解析成结构化合约并整体替换合约列表。
package discovery

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/betbot/strikebot/internal/domain"
	sdkhttp "github.com/betbot/strikebot/pkg/sdk/http"
	"github.com/betbot/strikebot/pkg/logger"
	"github.com/betbot/strikebot/pkg/ratelimit"
)

// Config 发现配置
type Config struct {
	Interval           time.Duration
	Limit              int
	Tags               []string
	AllowGenericBinary bool
}

// fetcher 抽象 Gamma 查询，测试时替换
type fetcher interface {
	FetchMarkets(ctx context.Context, tag string, limit int) ([]gammaMarket, error)
}

// Service 合约发现服务。
// 合约列表只在这里写入，且每轮整体替换（原子换入），并发读方永远看不到半成品。
type Service struct {
	fetcher fetcher
	config  Config

	mu        sync.RWMutex
	contracts []domain.ContractMeta

	// 每轮刷新后推送新 token 集合
	onRefresh func(tokenIDs []string)

	cancel context.CancelFunc
}

// NewService 创建发现服务
func NewService(gammaURL string, timeout time.Duration, limiter *ratelimit.Manager, config Config) *Service {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.Limit <= 0 {
		config.Limit = 100
	}
	return &Service{
		fetcher: &gammaFetcher{
			client:  sdkhttp.NewClient(gammaURL, timeout),
			limiter: limiter,
		},
		config: config,
	}
}

// OnRefresh 注册刷新回调（BookFeed.SetSubscribedTokenIds 挂这里）
func (s *Service) OnRefresh(fn func(tokenIDs []string)) {
	s.onRefresh = fn
}

// Start 立即执行一次 discover，然后按固定间隔重复
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.Discover(ctx)

	go func() {
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Discover(ctx)
			}
		}
	}()
}

// Stop 停止刷新定时器
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Discover 执行一轮发现。唯一触网的调用；从不抛错，失败只会返回更少的合约。
// 单个 tag 的失败不影响其他 tag。
func (s *Service) Discover(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[discovery] panic 已捕获: %v", r)
		}
	}()

	now := time.Now()
	seen := make(map[string]bool)
	var contracts []domain.ContractMeta

	collect := func(rows []gammaMarket) {
		for _, row := range rows {
			meta, ok := parseRow(row, now, s.config.AllowGenericBinary)
			if !ok {
				logger.Debugf("[discovery] 丢弃不可解析行: id=%s q=%q", row.ID, row.Question)
				continue
			}
			// 跨 tag 按 conditionId 去重
			if seen[meta.ConditionID] {
				continue
			}
			seen[meta.ConditionID] = true
			contracts = append(contracts, meta)
		}
	}

	for _, tag := range s.config.Tags {
		rows, err := s.fetcher.FetchMarkets(ctx, tag, s.config.Limit)
		if err != nil {
			logger.Warnf("[discovery] tag=%s 拉取失败: %v", tag, err)
			continue
		}
		collect(rows)
	}

	// tag 查询全部落空时退回一次 bulk 查询
	if len(contracts) == 0 {
		rows, err := s.fetcher.FetchMarkets(ctx, "", s.config.Limit)
		if err != nil {
			logger.Warnf("[discovery] bulk 拉取失败: %v", err)
		} else {
			collect(rows)
		}
	}

	s.mu.Lock()
	s.contracts = contracts
	s.mu.Unlock()

	logger.Infof("[discovery] 本轮发现 %d 个合约", len(contracts))

	if s.onRefresh != nil {
		tokenIDs := make([]string, 0, len(contracts)*2)
		for _, c := range contracts {
			tokenIDs = append(tokenIDs, c.YesTokenID, c.NoTokenID)
		}
		s.onRefresh(tokenIDs)
	}
}

// GetContracts 返回当前合约列表（整体换入的切片，调用方只读）
func (s *Service) GetContracts() []domain.ContractMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contracts
}

// gammaFetcher 实际的 Gamma HTTP 查询
type gammaFetcher struct {
	client  *sdkhttp.Client
	limiter *ratelimit.Manager
}

func (g *gammaFetcher) FetchMarkets(ctx context.Context, tag string, limit int) ([]gammaMarket, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx, "gamma:markets"); err != nil {
			return nil, err
		}
	}

	params := map[string]string{
		"active": "true",
		"closed": "false",
		"limit":  strconv.Itoa(limit),
	}
	if tag != "" {
		params["tag"] = tag
	}

	// 响应可能是裸数组，也可能是 {"data": [...]} 包装
	var raw json.RawMessage
	if err := g.client.Get(ctx, "/markets", &sdkhttp.RequestOptions{Params: params}, &raw); err != nil {
		return nil, err
	}
	return decodeMarkets(raw)
}

func decodeMarkets(raw json.RawMessage) ([]gammaMarket, error) {
	var rows []gammaMarket
	if err := json.Unmarshal(raw, &rows); err == nil {
		return rows, nil
	}
	var wrapped struct {
		Data []gammaMarket `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Data, nil
}
