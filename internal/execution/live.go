package execution

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/strikebot/internal/domain"
	"github.com/betbot/strikebot/pkg/config"
	"github.com/betbot/strikebot/pkg/logger"
	"github.com/betbot/strikebot/pkg/ratelimit"
	sdkhttp "github.com/betbot/strikebot/pkg/sdk/http"
)

const (
	endpointPostOrder = "/order"
	endpointPrice     = "/price"

	orderTypeFAK = "FAK" // 即时成交，剩余取消
	orderTypeGTC = "GTC" // maker 挂单

	// USDC / CTF token 链上精度
	collateralDecimals = 6

	// 下单前询价与信号价的最大容忍偏离（百分比）
	maxQuoteDeviationPct = 2.0
)

// newOrderRequest POST /order 的载荷
type newOrderRequest struct {
	Order     orderPayload `json:"order"`
	Owner     string       `json:"owner"`
	OrderType string       `json:"orderType"`
}

type quoteResponse struct {
	Price string `json:"price"`
}

type orderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
}

// LiveExecutor 实盘执行：构建订单、EIP712 签名、带 L2 认证头提交。
// taker 信号用 FAK，maker 信号用 GTC 限价留在盘口。
type LiveExecutor struct {
	cfg     config.ExecutionConfig
	signer  *signer
	client  *sdkhttp.Client
	limiter *ratelimit.Manager
	guard   *inFlightGuard
	now     func() time.Time
}

func NewLiveExecutor(cfg config.ExecutionConfig, limiter *ratelimit.Manager) (*LiveExecutor, error) {
	if cfg.PrivateKey == "" {
		return nil, errors.New("实盘模式需要私钥")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" || cfg.APIPassphrase == "" {
		return nil, errors.New("实盘模式需要完整的 CLOB API 凭证")
	}
	s, err := newSigner(cfg.PrivateKey, cfg.ChainID, cfg.ExchangeAddress)
	if err != nil {
		return nil, err
	}
	return &LiveExecutor{
		cfg:     cfg,
		signer:  s,
		client:  sdkhttp.NewClient(cfg.ClobURL, 10*time.Second),
		limiter: limiter,
		guard:   newInFlightGuard(2 * time.Second),
		now:     time.Now,
	}, nil
}

func (l *LiveExecutor) Execute(signal *domain.Signal, sizeUSD float64) (*domain.Trade, error) {
	start := l.now()

	guardKey := signal.ConditionID + "|" + string(signal.Side) + "|" + signal.TokenID
	if err := l.guard.tryAcquire(guardKey, start); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 询价：venue 实时报价偏离信号价过多就放弃本次信号
	if err := l.requestQuote(ctx, signal); err != nil {
		l.guard.release(guardKey)
		return nil, err
	}

	payload, err := l.buildOrder(signal, sizeUSD)
	if err != nil {
		l.guard.release(guardKey)
		return nil, err
	}

	orderType := orderTypeFAK
	if signal.Maker {
		orderType = orderTypeGTC
	}
	req := newOrderRequest{
		Order:     *payload,
		Owner:     l.cfg.APIKey,
		OrderType: orderType,
	}

	body, err := json.Marshal(req)
	if err != nil {
		l.guard.release(guardKey)
		return nil, errors.Wrap(err, "序列化订单失败")
	}
	headers, err := l.signer.l2Headers(
		l.cfg.APIKey, l.cfg.APISecret, l.cfg.APIPassphrase,
		"POST", endpointPostOrder, string(body),
	)
	if err != nil {
		l.guard.release(guardKey)
		return nil, err
	}

	if err := l.limiter.Wait(ctx, "clob:order"); err != nil {
		l.guard.release(guardKey)
		return nil, errors.Wrap(err, "速率限制等待失败")
	}

	var resp orderResponse
	if err := l.client.Post(ctx, endpointPostOrder, &sdkhttp.RequestOptions{
		Headers: headers,
		Body:    req,
	}, &resp); err != nil {
		l.guard.release(guardKey)
		return nil, errors.Wrap(err, "提交订单失败")
	}
	if !resp.Success {
		l.guard.release(guardKey)
		return nil, errors.Errorf("订单被拒: %s", resp.ErrorMsg)
	}

	latency := l.now().Sub(start)
	status := domain.TradeStatusPending
	if resp.Status == "matched" {
		status = domain.TradeStatusFilled
	}

	trade := &domain.Trade{
		ID:            uuid.NewString(),
		CreatedAt:     start,
		StrategyName:  signal.StrategyName,
		ConditionID:   signal.ConditionID,
		TokenID:       signal.TokenID,
		Side:          signal.Side,
		RefSpot:       signal.RefSpot,
		ContractPrice: signal.MarketPrice,
		ImpliedProb:   signal.ForecastProb,
		EdgePct:       signal.EdgePct(),
		SizeUSD:       sizeUSD,
		Status:        status,
		OrderID:       resp.OrderID,
		LatencyMs:     latency.Milliseconds(),
	}
	if status == domain.TradeStatusFilled {
		trade.FillPrice = signal.MarketPrice
	}

	logger.Infof("[execution] live 订单 id=%s order=%s type=%s status=%s latency=%dms",
		trade.ID, trade.OrderID, orderType, resp.Status, trade.LatencyMs)
	return trade, nil
}

// requestQuote 取 venue 当前买价。行情从信号产生到下单会继续走，
// 偏离超出容忍度说明盘口已变，订单大概率以差价成交，直接放弃。
func (l *LiveExecutor) requestQuote(ctx context.Context, signal *domain.Signal) error {
	if err := l.limiter.Wait(ctx, "clob:quote"); err != nil {
		return errors.Wrap(err, "询价速率限制等待失败")
	}

	var resp quoteResponse
	if err := l.client.Get(ctx, endpointPrice, &sdkhttp.RequestOptions{
		Params: map[string]string{
			"token_id": signal.TokenID,
			"side":     "BUY",
		},
	}, &resp); err != nil {
		return errors.Wrap(err, "询价失败")
	}

	quoted, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil || quoted <= 0 || quoted >= 1 {
		return errors.Errorf("非法报价: %q", resp.Price)
	}
	if signal.MarketPrice > 0 {
		deviation := (quoted - signal.MarketPrice) / signal.MarketPrice * 100
		if deviation > maxQuoteDeviationPct {
			return errors.Errorf("报价偏离过大 quoted=%.4f signal=%.4f (+%.2f%%)",
				quoted, signal.MarketPrice, deviation)
		}
	}
	return nil
}

// buildOrder 计算金额并签名。买入 YES/NO token：
// maker 付 USDC，taker 收 token。精度按 0.01 tick：
// 价格 2 位、数量 2 位、金额 4 位小数，再换算到 1e6 链上单位。
func (l *LiveExecutor) buildOrder(signal *domain.Signal, sizeUSD float64) (*orderPayload, error) {
	price := decimal.NewFromFloat(signal.MarketPrice).Round(2)
	if price.LessThanOrEqual(decimal.Zero) || price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, errors.Errorf("非法下单价格: %s", price)
	}

	tokens := decimal.NewFromFloat(sizeUSD).Div(price).RoundDown(2)
	if tokens.LessThanOrEqual(decimal.Zero) {
		return nil, errors.Errorf("下单数量为零 sizeUsd=%.2f price=%s", sizeUSD, price)
	}
	usdc := tokens.Mul(price).RoundDown(4)

	makerAmount := usdc.Shift(collateralDecimals).Truncate(0)
	takerAmount := tokens.Shift(collateralDecimals).Truncate(0)

	maker := l.signer.address.Hex()
	signatureType := 0
	if l.cfg.FunderAddress != "" {
		// 资金账户与签名账户分离（代理钱包）
		maker = l.cfg.FunderAddress
		signatureType = 2
	}

	p := &orderPayload{
		Salt:          time.Now().UnixNano(),
		Maker:         maker,
		Signer:        l.signer.address.Hex(),
		Taker:         zeroAddress,
		TokenID:       signal.TokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          "BUY",
		SignatureType: signatureType,
	}

	sig, err := l.signer.signOrder(p, 0) // 永远是买入（YES 或 NO token）
	if err != nil {
		return nil, err
	}
	p.Signature = sig
	return p, nil
}
