package execution

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrDuplicateInFlight 同一笔下单还在途（或在 TTL 窗口内）。
// 防止两个策略在冷却竞态下对同一 token 重复下单。
var ErrDuplicateInFlight = errors.New("duplicate order in flight")

// inFlightGuard 短窗口内的确定性去重。
// 交易里误判跳单的代价高，所以用精确 map 而不是概率结构。
type inFlightGuard struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]time.Time // key -> 过期时间
}

func newInFlightGuard(ttl time.Duration) *inFlightGuard {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &inFlightGuard{
		ttl:     ttl,
		entries: make(map[string]time.Time),
	}
}

// tryAcquire 占位成功返回 nil；窗口内重复返回 ErrDuplicateInFlight
func (g *inFlightGuard) tryAcquire(key string, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if expiry, ok := g.entries[key]; ok && now.Before(expiry) {
		return ErrDuplicateInFlight
	}
	// 惰性清理过期项
	for k, expiry := range g.entries {
		if !now.Before(expiry) {
			delete(g.entries, k)
		}
	}
	g.entries[key] = now.Add(g.ttl)
	return nil
}

// release 提前释放（下单失败时允许立刻重试）
func (g *inFlightGuard) release(key string) {
	g.mu.Lock()
	delete(g.entries, key)
	g.mu.Unlock()
}
