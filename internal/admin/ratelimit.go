package admin

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type limitRule struct {
	method string // empty matches any method
	prefix string
	limit  rate.Limit
	burst  int
}

func (r limitRule) matches(method, path string) bool {
	if r.method != "" && r.method != method {
		return false
	}
	return strings.HasPrefix(path, r.prefix)
}

func (r limitRule) key() string {
	return r.method + " " + r.prefix
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits admin requests per client IP and per rule. Payout
// submission and manual retries get tighter budgets than reads.
type RateLimiter struct {
	rules  []limitRule
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

func NewRateLimiter(logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		rules: []limitRule{
			{method: http.MethodPost, prefix: "/admin/v1/payouts", limit: rate.Limit(10.0 / 60), burst: 3},
			{method: http.MethodPost, prefix: "/admin/v1/rebalancings", limit: rate.Limit(6.0 / 60), burst: 2},
			{prefix: "/", limit: 5, burst: 10},
		},
		logger:  logger.With("component", "admin_ratelimit"),
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.allow(r.Method, r.URL.Path, ip) {
			rl.logger.Warn("admin rate limit exceeded", "method", r.Method, "path", r.URL.Path, "client_ip", ip)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(method, path, ip string) bool {
	rule := rl.rules[len(rl.rules)-1]
	for _, candidate := range rl.rules {
		if candidate.matches(method, path) {
			rule = candidate
			break
		}
	}
	key := rule.key() + "|" + ip
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.evictLocked(now)

	c, ok := rl.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rule.limit, rule.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// evictLocked drops limiters idle for longer than limiterIdleTTL.
func (rl *RateLimiter) evictLocked(now time.Time) {
	for key, c := range rl.clients {
		if now.Sub(c.lastSeen) > limiterIdleTTL {
			delete(rl.clients, key)
		}
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
