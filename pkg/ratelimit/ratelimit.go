package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter 速率限制器接口
type Limiter interface {
	Wait(ctx context.Context) error
	Allow() bool
}

// SlidingWindow 滑动窗口速率限制器
type SlidingWindow struct {
	limit      int           // 窗口内限制数量
	windowSize time.Duration // 窗口大小
	requests   []time.Time   // 请求时间戳
	mu         sync.Mutex
}

// NewSlidingWindow 创建新的滑动窗口速率限制器
func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:      limit,
		windowSize: windowSize,
		requests:   make([]time.Time, 0, limit),
	}
}

// Allow 检查是否允许请求
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-sw.windowSize)

	valid := sw.requests[:0]
	for _, req := range sw.requests {
		if req.After(cutoff) {
			valid = append(valid, req)
		}
	}
	sw.requests = valid

	if len(sw.requests) >= sw.limit {
		return false
	}
	sw.requests = append(sw.requests, now)
	return true
}

// Wait 等待直到允许请求
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if sw.Allow() {
			return nil
		}

		sw.mu.Lock()
		oldest := time.Now()
		if len(sw.requests) > 0 {
			oldest = sw.requests[0]
		}
		waitTime := sw.windowSize - time.Since(oldest)
		sw.mu.Unlock()

		if waitTime <= 0 {
			waitTime = 100 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

// Manager 按端点分类的限流管理器
type Manager struct {
	limiters map[string]Limiter
	mu       sync.RWMutex
}

// NewManager 创建限流管理器，预置 Gamma / CLOB 的默认限额
// （官方限额：CLOB 下单约 150 req/10s，Gamma 宽松一些）
func NewManager() *Manager {
	return &Manager{
		limiters: map[string]Limiter{
			"gamma:markets": NewSlidingWindow(50, 10*time.Second),
			"clob:order":    NewSlidingWindow(100, 10*time.Second),
			"clob:quote":    NewSlidingWindow(100, 10*time.Second),
		},
	}
}

// Wait 等待直到允许对指定端点发起请求。未注册的端点不限流。
func (m *Manager) Wait(ctx context.Context, key string) error {
	m.mu.RLock()
	limiter, ok := m.limiters[key]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}
