package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/HasheemYodhin/ys/internal/apperr"
	"github.com/HasheemYodhin/ys/internal/logger"
	"golang.org/x/time/rate"
)

const limiterExpiry = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter: token bucket на ключ (IP или user_id) с чисткой неактивных ключей.
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*limiterEntry
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*limiterEntry),
	}
}

func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	e, ok := l.clients[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()
	return e.limiter.Allow()
}

// Cleanup удаляет ключи, не встречавшиеся дольше limiterExpiry.
func (l *RateLimiter) Cleanup(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for k, e := range l.clients {
		if now.Sub(e.lastSeen) > limiterExpiry {
			delete(l.clients, k)
			removed++
		}
	}
	return removed
}

// RunCleanup чистит лимитер раз в минуту до закрытия stop.
func (l *RateLimiter) RunCleanup(stop <-chan struct{}) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-t.C:
			if n := l.Cleanup(now); n > 0 {
				logger.Debugf("ratelimit: dropped %d idle keys", n)
			}
		}
	}
}

func clientIP(r *http.Request) string {
	if x := r.Header.Get("X-Real-Ip"); x != "" {
		return x
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func tooManyRequests(w http.ResponseWriter, retry time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
	WriteError(w, &apperr.Error{Status: http.StatusTooManyRequests, Code: "RATE_LIMITED", Message: "too many requests"})
}

// RateLimitIP ограничивает запросы по IP. 429 при превышении.
func RateLimitIP(l *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow("ip:" + clientIP(r)) {
				tooManyRequests(w, time.Second)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitUser ограничивает запросы по user_id; ставится после BearerAuth.
func RateLimitUser(l *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID := GetUserID(r.Context()); userID != "" && !l.Allow("u:"+userID) {
				tooManyRequests(w, time.Second)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
