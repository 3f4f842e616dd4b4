package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zhouzirui/mindscreen/backend/pkg/utils"
)

// DefaultMaxClients 是限流器同时跟踪的客户端上限。
const DefaultMaxClients = 10000

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按客户端 IP 限制 REST 请求速率。
type RateLimiter struct {
	mu                sync.Mutex
	clients           map[string]*clientLimiter
	requestsPerSecond float64
	burst             int
	maxClients        int
	now               func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		clients:           make(map[string]*clientLimiter),
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		maxClients:        DefaultMaxClients,
		now:               time.Now,
	}
}

// Allow checks if a request should be allowed
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	client, exists := rl.clients[clientID]
	if !exists {
		if len(rl.clients) >= rl.maxClients {
			rl.dropOldestLocked()
		}
		client = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rl.requestsPerSecond), rl.burst)}
		rl.clients[clientID] = client
	}
	client.lastSeen = now
	return client.limiter.AllowN(now, 1)
}

// dropOldestLocked 在达到上限时移除最久未访问的客户端。
func (rl *RateLimiter) dropOldestLocked() {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, client := range rl.clients {
		if oldestID == "" || client.lastSeen.Before(oldest) {
			oldestID, oldest = id, client.lastSeen
		}
	}
	delete(rl.clients, oldestID)
}

// EvictIdle 删除超过 ttl 未访问的客户端，由会话清理任务定期调用。
func (rl *RateLimiter) EvictIdle(now time.Time, ttl time.Duration) []string {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-ttl)
	var evicted []string
	for id, client := range rl.clients {
		if client.lastSeen.Before(cutoff) {
			delete(rl.clients, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Clients 返回当前跟踪的客户端数量。
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Middleware 超出速率时返回 429。requestsPerSecond <= 0 时不限流。
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl == nil || rl.requestsPerSecond <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			utils.RespondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP 依赖 chi 的 RealIP 中间件已改写 RemoteAddr。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
