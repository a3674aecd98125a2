package pricing

import (
	"sync"
	"time"
)

type pricePoint struct {
	at    time.Time
	price float64
}

// Velocity 某个 token 在窗口内的价格动量
type Velocity struct {
	TokenID           string
	PriceAtWindowStart float64
	VelocityPct        float64
	LastUpdateTs       time.Time
}

// VelocityTracker 按 token 维护时间裁剪的 (timestamp, price) 滑动窗口。
// 动量 = (current - oldestInWindow) / oldestInWindow * 100。
// overreaction / makerrebate 策略的唯一动量输入。
type VelocityTracker struct {
	window  time.Duration
	mu      sync.Mutex
	series  map[string][]pricePoint
	counts  map[string]int // 每个 token 累计收到过的样本数（含已裁剪的）
}

// NewVelocityTracker 创建 tracker，window 为滑动窗口长度
func NewVelocityTracker(window time.Duration) *VelocityTracker {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &VelocityTracker{
		window: window,
		series: make(map[string][]pricePoint),
		counts: make(map[string]int),
	}
}

// PushPrice 追加一个样本并裁剪窗口外的旧样本
func (t *VelocityTracker) PushPrice(tokenID string, price float64, at time.Time) {
	if price <= 0 {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	points := append(t.series[tokenID], pricePoint{at: at, price: price})
	t.counts[tokenID]++

	cutoff := at.Add(-t.window)
	i := 0
	for i < len(points) && points[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		// 复用底层数组，热路径避免重复分配
		copy(points, points[i:])
		points = points[:len(points)-i]
	}
	t.series[tokenID] = points
}

// GetPriceVelocity 计算当前动量。
// 该 token 历史样本不足 2 个时返回 (zero, false)。
func (t *VelocityTracker) GetPriceVelocity(tokenID string, currentPrice float64, now time.Time) (Velocity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.counts[tokenID] < 2 {
		return Velocity{}, false
	}

	points := t.series[tokenID]
	cutoff := now.Add(-t.window)
	var oldest *pricePoint
	for i := range points {
		if !points[i].at.Before(cutoff) {
			oldest = &points[i]
			break
		}
	}
	if oldest == nil || oldest.price <= 0 {
		return Velocity{}, false
	}

	return Velocity{
		TokenID:            tokenID,
		PriceAtWindowStart: oldest.price,
		VelocityPct:        (currentPrice - oldest.price) / oldest.price * 100,
		LastUpdateTs:       now,
	}, true
}
