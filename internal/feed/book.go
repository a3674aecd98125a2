package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/betbot/strikebot/internal/domain"
	"github.com/betbot/strikebot/pkg/logger"
)

const (
	bookReconnectDelay   = 2 * time.Second
	bookHandshakeTimeout = 15 * time.Second
	bookReadTimeout      = 300 * time.Second

	// 官方要求每 10 秒发送一次 PING，否则连接会被回收
	bookPingInterval = 10 * time.Second

	// 每条订阅消息最多 100 个资产
	subscribeBatchSize = 100
)

// BookFeed 维护 tokenId -> BookState 的订单簿一档快照，
// 订阅集合可整体替换（discovery 每轮刷新后调用）。
type BookFeed struct {
	wsURL string

	mu     sync.RWMutex
	books  map[string]*domain.BookState
	tokens []string

	conn      *websocket.Conn
	connMu    sync.Mutex
	connected bool

	// 价格样本回调（velocity tracker 挂在这里）
	onPrice func(tokenID string, price float64, at time.Time)

	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewBookFeed 创建订单簿订阅
func NewBookFeed(wsURL string) *BookFeed {
	return &BookFeed{
		wsURL:  wsURL,
		books:  make(map[string]*domain.BookState),
		doneCh: make(chan struct{}),
	}
}

// OnPrice 注册中间价样本回调（Start 之前调用）
func (f *BookFeed) OnPrice(fn func(tokenID string, price float64, at time.Time)) {
	f.onPrice = fn
}

// Start 建连并启动读取与心跳循环
func (f *BookFeed) Start(ctx context.Context) error {
	f.ctx, f.cancel = context.WithCancel(ctx)

	if err := f.connect(); err != nil {
		return fmt.Errorf("订单簿初始连接失败: %w", err)
	}

	go f.readLoop()
	go f.pingLoop()
	logger.Infof("[book] 已连接 %s", f.wsURL)
	return nil
}

// Stop 关闭连接并停止重连
func (f *BookFeed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.closeConn()
	select {
	case <-f.doneCh:
	case <-time.After(3 * time.Second):
	}
}

// SetSubscribedTokenIds 整体替换订阅集合（幂等）。
// 已连接时立即发送新的订阅消息；discovery 每轮刷新后调用是安全的。
func (f *BookFeed) SetSubscribedTokenIds(ids []string) {
	dedup := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		dedup = append(dedup, id)
	}

	f.mu.Lock()
	f.tokens = dedup
	f.mu.Unlock()

	f.connMu.Lock()
	conn, connected := f.conn, f.connected
	f.connMu.Unlock()
	if connected && conn != nil {
		if err := f.sendSubscribe(conn, dedup); err != nil {
			logger.Warnf("[book] 发送订阅失败: %v", err)
		}
	}
}

// GetBookState 读取单个 token 的订单簿状态
func (f *BookFeed) GetBookState(tokenID string) (domain.BookState, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b, ok := f.books[tokenID]
	if !ok {
		return domain.BookState{}, false
	}
	return *b, true
}

// GetAllBookStates 返回全部订单簿状态的拷贝
func (f *BookFeed) GetAllBookStates() map[string]domain.BookState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]domain.BookState, len(f.books))
	for id, b := range f.books {
		out[id] = *b
	}
	return out
}

func (f *BookFeed) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: bookHandshakeTimeout}
	conn, _, err := dialer.DialContext(f.ctx, f.wsURL, nil)
	if err != nil {
		return err
	}

	f.connMu.Lock()
	f.conn = conn
	f.connected = true
	f.connMu.Unlock()

	// 重连后恢复当前订阅集合
	f.mu.RLock()
	tokens := append([]string(nil), f.tokens...)
	f.mu.RUnlock()
	if len(tokens) > 0 {
		if err := f.sendSubscribe(conn, tokens); err != nil {
			logger.Warnf("[book] 重订阅失败: %v", err)
		}
	}
	return nil
}

func (f *BookFeed) closeConn() {
	f.connMu.Lock()
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
	f.connected = false
	f.connMu.Unlock()
}

type subscribeMsg struct {
	AssetsIDs []string `json:"assets_ids"`
	Type      string   `json:"type"`
}

func (f *BookFeed) sendSubscribe(conn *websocket.Conn, tokens []string) error {
	for start := 0; start < len(tokens); start += subscribeBatchSize {
		end := start + subscribeBatchSize
		if end > len(tokens) {
			end = len(tokens)
		}
		msg := subscribeMsg{AssetsIDs: tokens[start:end], Type: "market"}
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		f.connMu.Lock()
		err = conn.WriteMessage(websocket.TextMessage, data)
		f.connMu.Unlock()
		if err != nil {
			return err
		}
	}
	logger.Infof("[book] 已订阅 %d 个 token", len(tokens))
	return nil
}

func (f *BookFeed) pingLoop() {
	ticker := time.NewTicker(bookPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			f.connMu.Lock()
			conn, connected := f.conn, f.connected
			if connected && conn != nil {
				if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
					logger.Debugf("[book] PING 发送失败: %v", err)
				}
			}
			f.connMu.Unlock()
		}
	}
}

func (f *BookFeed) readLoop() {
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

		_ = conn.SetReadDeadline(time.Now().Add(bookReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if f.ctx.Err() != nil {
				return
			}
			logger.Warnf("[book] 读取失败，准备重连: %v", err)
			f.closeConn()
			if !f.reconnect() {
				return
			}
			continue
		}

		f.handleRaw(data)
	}
}

func (f *BookFeed) reconnect() bool {
	for {
		select {
		case <-f.ctx.Done():
			return false
		case <-time.After(bookReconnectDelay):
		}
		if err := f.connect(); err != nil {
			logger.Warnf("[book] 重连失败: %v", err)
			continue
		}
		logger.Infof("[book] 重连成功")
		return true
	}
}

// marketEvent 市场频道事件（book 快照 / price_change / tick_size_change 共用）
type marketEvent struct {
	EventType string       `json:"event_type"`
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"`
	Timestamp string       `json:"timestamp"`
	BestBid   string       `json:"best_bid"`
	BestAsk   string       `json:"best_ask"`
	Bids      []priceLevel `json:"bids"`
	Asks      []priceLevel `json:"asks"`
	Changes   []bookChange `json:"changes"`
	Price     string       `json:"price"`
}

type priceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookChange struct {
	Price string `json:"price"`
	Size  string `json:"size"`
	Side  string `json:"side"`
}

// handleRaw 处理一帧。服务端可能发送单个事件对象或事件数组；
// PONG 等非 JSON 帧直接忽略。坏帧只记录，从不致命。
func (f *BookFeed) handleRaw(data []byte) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "PONG" {
		return
	}

	if strings.HasPrefix(trimmed, "[") {
		var events []marketEvent
		if err := json.Unmarshal(data, &events); err != nil {
			logger.Debugf("[book] 丢弃坏帧(数组): %v", err)
			return
		}
		for i := range events {
			f.handleEvent(&events[i])
		}
		return
	}

	var event marketEvent
	if err := json.Unmarshal(data, &event); err != nil {
		logger.Debugf("[book] 丢弃坏帧: %v", err)
		return
	}
	f.handleEvent(&event)
}

func (f *BookFeed) handleEvent(ev *marketEvent) {
	if ev.AssetID == "" {
		return
	}
	switch ev.EventType {
	case "book":
		f.applySnapshot(ev)
	case "price_change":
		f.applyPriceChange(ev)
	case "last_trade_price", "tick_size_change":
		// 不影响一档状态
	default:
		logger.Debugf("[book] 未知事件类型: %s", ev.EventType)
	}
}

// applySnapshot 全量快照：推导最优买卖价与一档美元深度
func (f *BookFeed) applySnapshot(ev *marketEvent) {
	var bestBid, bidSize float64
	for _, lv := range ev.Bids {
		p, err1 := strconv.ParseFloat(lv.Price, 64)
		s, err2 := strconv.ParseFloat(lv.Size, 64)
		if err1 != nil || err2 != nil || p <= 0 {
			continue
		}
		if p > bestBid {
			bestBid, bidSize = p, s
		}
	}
	var bestAsk, askSize float64
	for _, lv := range ev.Asks {
		p, err1 := strconv.ParseFloat(lv.Price, 64)
		s, err2 := strconv.ParseFloat(lv.Size, 64)
		if err1 != nil || err2 != nil || p <= 0 {
			continue
		}
		if bestAsk == 0 || p < bestAsk {
			bestAsk, askSize = p, s
		}
	}

	now := time.Now()
	f.mu.Lock()
	b, ok := f.books[ev.AssetID]
	if !ok {
		b = &domain.BookState{TokenID: ev.AssetID}
		f.books[ev.AssetID] = b
	}
	b.BestBid = bestBid
	b.BestAsk = bestAsk
	b.BidSizeUSD = bidSize * bestBid
	b.AskSizeUSD = askSize * bestAsk
	if bestBid > 0 && bestAsk > 0 {
		b.MidPrice = (bestBid + bestAsk) / 2
	}
	b.LastUpdateTs = now.UnixMilli()
	mid := b.MidPrice
	f.mu.Unlock()

	if f.onPrice != nil && mid > 0 {
		f.onPrice(ev.AssetID, mid, now)
	}
}

// applyPriceChange 增量一档变更：只更新触及的一侧，保留已知深度
func (f *BookFeed) applyPriceChange(ev *marketEvent) {
	now := time.Now()

	f.mu.Lock()
	b, ok := f.books[ev.AssetID]
	if !ok {
		b = &domain.BookState{TokenID: ev.AssetID}
		f.books[ev.AssetID] = b
	}

	// best_bid/best_ask 直接给出时优先使用
	if ev.BestBid != "" {
		if p, err := strconv.ParseFloat(ev.BestBid, 64); err == nil && p > 0 {
			b.BestBid = p
		}
	}
	if ev.BestAsk != "" {
		if p, err := strconv.ParseFloat(ev.BestAsk, 64); err == nil && p > 0 {
			b.BestAsk = p
		}
	}

	for _, ch := range ev.Changes {
		p, err := strconv.ParseFloat(ch.Price, 64)
		if err != nil || p <= 0 {
			continue
		}
		switch strings.ToUpper(ch.Side) {
		case "BUY":
			if p > b.BestBid {
				b.BestBid = p
				if s, err := strconv.ParseFloat(ch.Size, 64); err == nil {
					b.BidSizeUSD = s * p
				}
			}
		case "SELL":
			if b.BestAsk == 0 || p < b.BestAsk {
				b.BestAsk = p
				if s, err := strconv.ParseFloat(ch.Size, 64); err == nil {
					b.AskSizeUSD = s * p
				}
			}
		}
	}

	if b.BestBid > 0 && b.BestAsk > 0 {
		b.MidPrice = (b.BestBid + b.BestAsk) / 2
	}
	b.LastUpdateTs = now.UnixMilli()
	mid := b.MidPrice
	f.mu.Unlock()

	if f.onPrice != nil && mid > 0 {
		f.onPrice(ev.AssetID, mid, now)
	}
}
