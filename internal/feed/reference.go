// Package feed 提供两条长连行情：Binance 参考价与 Polymarket 订单簿。
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/betbot/strikebot/pkg/logger"
)

const (
	refReconnectDelay  = 2 * time.Second
	refHandshakeTimeout = 15 * time.Second
	refReadTimeout     = 60 * time.Second
)

// ReferencePriceState 参考价当前状态（getPriceState 返回的是拷贝）
type ReferencePriceState struct {
	BestBid      float64
	BestAsk      float64
	LastPrice    float64 // mid
	LastUpdateTs time.Time
}

type refSample struct {
	at    time.Time
	price float64
}

// ReferenceFeed 订阅 Binance bookTicker，维护最新买卖价与
// 用于波动率估计的滚动价格历史。
type ReferenceFeed struct {
	wsURL  string
	symbol string
	window time.Duration

	mu      sync.RWMutex
	state   ReferencePriceState
	history []refSample

	conn   *websocket.Conn
	connMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewReferenceFeed 创建参考价订阅。window 是波动率回看窗口。
func NewReferenceFeed(wsURL, symbol string, window time.Duration) *ReferenceFeed {
	if window <= 0 {
		window = 60 * time.Second
	}
	return &ReferenceFeed{
		wsURL:  wsURL,
		symbol: strings.ToUpper(symbol),
		window: window,
		doneCh: make(chan struct{}),
	}
}

// Start 建立连接并启动读取循环。断线后固定退避重连，内存状态保留。
func (f *ReferenceFeed) Start(ctx context.Context) error {
	f.ctx, f.cancel = context.WithCancel(ctx)

	if err := f.connect(); err != nil {
		return fmt.Errorf("参考价初始连接失败: %w", err)
	}

	go f.readLoop()
	logger.Infof("[reference] 已连接 %s %s", f.wsURL, f.symbol)
	return nil
}

// Stop 关闭连接并停止重连调度
func (f *ReferenceFeed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.closeConn()
	select {
	case <-f.doneCh:
	case <-time.After(3 * time.Second):
	}
}

func (f *ReferenceFeed) connect() error {
	streamURL := fmt.Sprintf("%s/%s@bookTicker", strings.TrimSuffix(f.wsURL, "/"), strings.ToLower(f.symbol))

	dialer := websocket.Dialer{HandshakeTimeout: refHandshakeTimeout}
	conn, _, err := dialer.DialContext(f.ctx, streamURL, nil)
	if err != nil {
		return err
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	return nil
}

func (f *ReferenceFeed) closeConn() {
	f.connMu.Lock()
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
	f.connMu.Unlock()
}

func (f *ReferenceFeed) readLoop() {
	defer close(f.doneCh)

	for {
		select {
		case <-f.ctx.Done():
			return
		default:
		}

		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()
		if conn == nil {
			if !f.reconnect() {
				return
			}
			continue
		}

		_ = conn.SetReadDeadline(time.Now().Add(refReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if f.ctx.Err() != nil {
				return
			}
			logger.Warnf("[reference] 读取失败，准备重连: %v", err)
			f.closeConn()
			if !f.reconnect() {
				return
			}
			continue
		}

		f.handleMessage(data)
	}
}

// reconnect 固定退避重连，直到成功或 ctx 取消。返回 false 表示已取消。
func (f *ReferenceFeed) reconnect() bool {
	for {
		select {
		case <-f.ctx.Done():
			return false
		case <-time.After(refReconnectDelay):
		}
		if err := f.connect(); err != nil {
			logger.Warnf("[reference] 重连失败: %v", err)
			continue
		}
		logger.Infof("[reference] 重连成功")
		return true
	}
}

// bookTickerMsg Binance bookTicker 帧
type bookTickerMsg struct {
	Symbol  string `json:"s"`
	BidPrice string `json:"b"`
	AskPrice string `json:"a"`
}

func (f *ReferenceFeed) handleMessage(data []byte) {
	var msg bookTickerMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		// 坏帧只记录，不中断
		logger.Debugf("[reference] 丢弃坏帧: %v", err)
		return
	}
	if msg.Symbol != "" && !strings.EqualFold(msg.Symbol, f.symbol) {
		return
	}

	bid, err1 := strconv.ParseFloat(msg.BidPrice, 64)
	ask, err2 := strconv.ParseFloat(msg.AskPrice, 64)
	if err1 != nil || err2 != nil || bid <= 0 || ask <= 0 {
		logger.Debugf("[reference] 丢弃非法报价: b=%q a=%q", msg.BidPrice, msg.AskPrice)
		return
	}

	now := time.Now()
	mid := (bid + ask) / 2

	f.mu.Lock()
	f.state = ReferencePriceState{
		BestBid:      bid,
		BestAsk:      ask,
		LastPrice:    mid,
		LastUpdateTs: now,
	}
	f.history = append(f.history, refSample{at: now, price: mid})
	// 每次更新都裁剪窗口外样本，内存有界
	cutoff := now.Add(-f.window)
	i := 0
	for i < len(f.history) && f.history[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		copy(f.history, f.history[i:])
		f.history = f.history[:len(f.history)-i]
	}
	f.mu.Unlock()
}

// GetPriceState 返回当前状态的拷贝
func (f *ReferenceFeed) GetPriceState() ReferencePriceState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// GetVolatility 用窗口内样本的对数收益率估计年化波动率。
// 窗口内样本不足 2 个时返回 0（由调用方钳制，这里不钳制）。
func (f *ReferenceFeed) GetVolatility() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	cutoff := time.Now().Add(-f.window)
	var samples []refSample
	for _, s := range f.history {
		if !s.at.Before(cutoff) {
			samples = append(samples, s)
		}
	}
	if len(samples) < 2 {
		return 0
	}

	var returns []float64
	for i := 1; i < len(samples); i++ {
		if samples[i-1].price <= 0 || samples[i].price <= 0 {
			continue
		}
		returns = append(returns, math.Log(samples[i].price/samples[i-1].price))
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	// 样本间隔按窗口均匀折算到年
	span := samples[len(samples)-1].at.Sub(samples[0].at).Seconds()
	if span <= 0 {
		return 0
	}
	dt := span / float64(len(returns)) / (365 * 24 * 3600)
	if dt <= 0 {
		return 0
	}
	return math.Sqrt(variance / dt)
}

// pushSample 仅测试使用
func (f *ReferenceFeed) pushSample(at time.Time, bid, ask float64) {
	mid := (bid + ask) / 2
	f.mu.Lock()
	f.state = ReferencePriceState{BestBid: bid, BestAsk: ask, LastPrice: mid, LastUpdateTs: at}
	f.history = append(f.history, refSample{at: at, price: mid})
	f.mu.Unlock()
}
