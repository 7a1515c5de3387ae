package mw

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/vivek5200/Temp-Chat/internal/clock"
)

type keyLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// RL 为每个 key 维护一个令牌桶，长时间未出现的 key 会被回收。
type RL struct {
	mu   sync.Mutex
	m    map[string]*keyLimiter
	r    rate.Limit
	b    int
	ttl  time.Duration
	clk  clock.Clock
	stop chan struct{}
	once sync.Once
}

func NewRateLimiter(clk clock.Clock, r rate.Limit, burst int, ttl time.Duration) *RL {
	return &RL{m: make(map[string]*keyLimiter), r: r, b: burst, ttl: ttl, clk: clk, stop: make(chan struct{})}
}

// Allow 在 key 的令牌桶中取一个令牌。
func (rl *RL) Allow(key string) bool {
	now := rl.clk.Now()
	rl.mu.Lock()
	kl, ok := rl.m[key]
	if !ok {
		kl = &keyLimiter{lim: rate.NewLimiter(rl.r, rl.b)}
		rl.m[key] = kl
	}
	kl.seen = now
	rl.mu.Unlock()
	return kl.lim.AllowN(now, 1)
}

// Len 返回当前跟踪的 key 数量。
func (rl *RL) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.m)
}

// Collect 删除超过 ttl 未出现的 key。
func (rl *RL) Collect() {
	now := rl.clk.Now()
	rl.mu.Lock()
	for k, v := range rl.m {
		if now.Sub(v.seen) > rl.ttl {
			delete(rl.m, k)
		}
	}
	rl.mu.Unlock()
}

// RunGC 每 interval 调用一次 Collect，直到 Stop。
func (rl *RL) RunGC(interval time.Duration) {
	ticker := rl.clk.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.Collect()
		}
	}
}

// Stop 停止 GC goroutine，用于优雅停服。可重复调用。
func (rl *RL) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// RateLimit 返回一个基于 IP+路由的令牌桶限速中间件。
func RateLimit(rl *RL) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if !rl.Allow(c.ClientIP() + "|" + route) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"kind": "transient", "error": "too many requests"})
			return
		}
		c.Next()
	}
}
