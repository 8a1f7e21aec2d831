package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/paiban/planrules/internal/config"
	"github.com/paiban/planrules/pkg/errors"
)

// RateLimiter 滑动窗口限流器
//
// 过期记录在调用 Allow 时按窗口周期清理，不启动后台协程。
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	requests  map[string][]time.Time
	lastSweep time.Time
}

// NewRateLimiter 创建限流器
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		requests: make(map[string][]time.Time),
	}
}

// Allow 判断 key 在当前窗口内是否还能请求
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	start := now.Add(-rl.window)
	if now.Sub(rl.lastSweep) >= rl.window {
		rl.sweep(start)
		rl.lastSweep = now
	}

	reqs := prune(rl.requests[key], start)
	if len(reqs) >= rl.limit {
		rl.requests[key] = reqs
		return false
	}
	rl.requests[key] = append(reqs, now)
	return true
}

// sweep 删除整个窗口内没有请求的 key
func (rl *RateLimiter) sweep(start time.Time) {
	for key, reqs := range rl.requests {
		if reqs = prune(reqs, start); len(reqs) == 0 {
			delete(rl.requests, key)
		} else {
			rl.requests[key] = reqs
		}
	}
}

// prune 时间戳按升序追加，丢弃窗口开始前的部分
func prune(reqs []time.Time, start time.Time) []time.Time {
	i := 0
	for i < len(reqs) && !reqs[i].After(start) {
		i++
	}
	return reqs[i:]
}

// RateLimit 按客户端IP限流，超限返回 429
func RateLimit(cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled {
			return next
		}
		limiter := NewRateLimiter(cfg.Requests, cfg.Window)
		retryAfter := strconv.Itoa(int(cfg.Window.Seconds() + 0.999))

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter.Allow(clientIP(r)) {
				next.ServeHTTP(w, r)
				return
			}
			appErr := errors.New(errors.CodeRateLimited, "请求过于频繁，请稍后重试")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(appErr.HTTPStatus)
			json.NewEncoder(w).Encode(map[string]any{
				"error":   true,
				"code":    appErr.Code,
				"message": appErr.Message,
			})
		})
	}
}

// clientIP RealIP 中间件之后 RemoteAddr 可能不带端口
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
